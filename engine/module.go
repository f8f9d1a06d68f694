package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	wasmexec "github.com/wippyai/wasm-exec"
	"github.com/wippyai/wasm-exec/errors"
)

// Module is a compiled wasm module bound to its own runtime. Instantiate may
// be called concurrently; every instance shares the compiled code and the
// runtime's memory limit but nothing else.
type Module struct {
	runtime  wazero.Runtime
	compiled wazero.CompiledModule
	variant  Variant

	mu     sync.Mutex
	closed bool
}

// Instantiate creates a fresh, fully isolated instance. Start-function traps
// and memory allocation failures surface as instantiation_failed.
func (m *Module) Instantiate(ctx context.Context) (*Instance, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, errors.InstantiationFailed(fmt.Errorf("module is closed"))
	}
	m.mu.Unlock()

	// Anonymous instances so concurrent instantiation never collides on the
	// runtime's module namespace.
	mcfg := wazero.NewModuleConfig().WithName("")
	mod, err := m.runtime.InstantiateModule(ctx, m.compiled, mcfg)
	if err != nil {
		return nil, errors.InstantiationFailed(err)
	}

	mem := mod.Memory()
	if mem == nil {
		mod.Close(ctx)
		return nil, errors.InstantiationFailed(fmt.Errorf("instance has no linear memory"))
	}

	inst := &Instance{
		module: mod,
		memory: &Memory{mem: mem},
	}
	if fn := mod.ExportedFunction(wasmexec.ExportAllocate); fn != nil {
		inst.allocFn = fn
	}
	if fn := mod.ExportedFunction(wasmexec.ExportDeallocate); fn != nil {
		inst.freeFn = fn
	}
	return inst, nil
}

// ExportNames lists the module's exported functions in sorted order.
func (m *Module) ExportNames() []string {
	defs := m.compiled.ExportedFunctions()
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasExport reports whether the module exports a function under name.
func (m *Module) HasExport(name string) bool {
	_, ok := m.compiled.ExportedFunctions()[name]
	return ok
}

// Close releases the compiled code and the runtime behind it. Instances
// created from this module become unusable.
func (m *Module) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	if err := m.compiled.Close(ctx); err != nil {
		Logger().Warn("closing compiled module", zap.Error(err))
	}
	return m.runtime.Close(ctx)
}
