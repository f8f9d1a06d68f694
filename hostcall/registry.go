package hostcall

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-exec/errors"
)

// Handler is a host-side implementation of one imported function. It reads
// typed arguments through the Call, performs its effect, and writes results
// back. A returned error aborts guest execution; it must never be swallowed.
type Handler func(ctx context.Context, c *Call) error

// Def maps one (module, function) import name to its host implementation.
type Def struct {
	Module  string
	Name    string
	Params  []api.ValueType
	Results []api.ValueType
	Fn      Handler
}

// Registry is the host call dispatch table: the fixed, versioned set of
// imports every supported guest module may use. It is installed once per
// engine runtime; guests resolve their imports against it at instantiation.
type Registry struct {
	defs  []Def
	index map[string]struct{}
}

// NewRegistry creates a registry seeded with the given definitions.
// It panics on duplicate (module, function) pairs, which are programmer
// error at construction time.
func NewRegistry(defs ...Def) *Registry {
	r := &Registry{index: make(map[string]struct{})}
	for _, d := range defs {
		if err := r.Add(d); err != nil {
			panic(err)
		}
	}
	return r
}

// Add appends a definition, rejecting blanks and duplicates.
func (r *Registry) Add(d Def) error {
	if d.Module == "" {
		return errors.InvalidInput(errors.PhaseHost, "import module name cannot be empty")
	}
	if d.Name == "" {
		return errors.InvalidInput(errors.PhaseHost, "import function name cannot be empty")
	}
	if d.Fn == nil {
		return errors.InvalidInput(errors.PhaseHost, "handler cannot be nil")
	}
	key := d.Module + "::" + d.Name
	if _, dup := r.index[key]; dup {
		return errors.InvalidInput(errors.PhaseHost, "duplicate host function "+key)
	}
	r.index[key] = struct{}{}
	r.defs = append(r.defs, d)
	return nil
}

// Defs returns the registered definitions in registration order.
func (r *Registry) Defs() []Def {
	out := make([]Def, len(r.defs))
	copy(out, r.defs)
	return out
}

// Install instantiates one wazero host module per import module name inside
// rt. Must run before any guest module of that runtime is instantiated.
func (r *Registry) Install(ctx context.Context, rt wazero.Runtime) error {
	byModule := make(map[string][]Def)
	var order []string
	for _, d := range r.defs {
		if _, seen := byModule[d.Module]; !seen {
			order = append(order, d.Module)
		}
		byModule[d.Module] = append(byModule[d.Module], d)
	}

	for _, module := range order {
		b := rt.NewHostModuleBuilder(module)
		for _, d := range byModule[module] {
			b = b.NewFunctionBuilder().
				WithGoModuleFunction(d.wrap(), d.Params, d.Results).
				Export(d.Name)
		}
		if _, err := b.Instantiate(ctx); err != nil {
			return errors.New(errors.PhaseHost, errors.KindInvalidInput).
				Detail("install host module %q", module).
				Cause(err).
				Build()
		}
	}
	return nil
}

// wrap converts a Def into the raw wazero form. Handler failure is recorded
// in the per-call State and aborts guest execution via panic; the engine's
// invoke boundary recovers it as a structured error before any caller sees
// it.
func (d Def) wrap() api.GoModuleFunc {
	return api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
		c := &Call{mod: mod, stack: stack}
		if err := d.Fn(ctx, c); err != nil {
			abort := &AbortError{Module: d.Module, Name: d.Name, Cause: err}
			if st := StateFrom(ctx); st != nil {
				st.fail(abort)
			}
			panic(abort)
		}
	})
}
