package engine

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/tetratelabs/wazero"

	wasmexec "github.com/wippyai/wasm-exec"
	"github.com/wippyai/wasm-exec/errors"
	"github.com/wippyai/wasm-exec/hostcall"
	"github.com/wippyai/wasm-exec/wasm"
)

// Variant selects the execution backend. The set is closed: both variants
// behave identically apart from compile cost and call latency, and callers
// never observe which one is running.
type Variant string

const (
	// VariantInterpreter executes bytecode directly. Cheap cold start,
	// slower calls.
	VariantInterpreter Variant = "interpreter"

	// VariantCompiler compiles modules to native code ahead of time.
	// Expensive cold start, fast calls.
	VariantCompiler Variant = "compiler"
)

// MemoryConfig bounds the linear memory of instances created for a module.
// It is part of the cache key: instances built for different limits are not
// interchangeable.
type MemoryConfig struct {
	// InitialPages is the minimum number of 64KiB pages the module must
	// declare. 0 accepts any declaration.
	InitialPages uint32

	// MaxPages caps the memory an instance may grow to. 0 means the wazero
	// default (4GiB).
	MaxPages uint32
}

// Validate rejects impossible configurations.
func (c MemoryConfig) Validate() error {
	if c.MaxPages > 65536 {
		return errors.InvalidInput(errors.PhaseCompile, "max pages exceeds the 4GiB wasm limit")
	}
	if c.MaxPages > 0 && c.InitialPages > c.MaxPages {
		return errors.InvalidInput(errors.PhaseCompile, "initial pages exceed max pages")
	}
	return nil
}

// Backend is the execution capability the cache drives: compile a blob once,
// instantiate it many times. Implementations must be safe for concurrent
// use.
type Backend interface {
	Variant() Variant
	Compile(ctx context.Context, code []byte, mem MemoryConfig) (CompiledModule, error)

	// Compilations reports how many modules this backend has compiled.
	Compilations() int64

	Close(ctx context.Context) error
}

// CompiledModule is a validated, backend-specific module representation.
// It is immutable and read-only shareable across threads; the instances it
// produces are not.
type CompiledModule interface {
	Instantiate(ctx context.Context) (*Instance, error)
	ExportNames() []string
	HasExport(name string) bool
	Close(ctx context.Context) error
}

// Config configures an Engine.
type Config struct {
	// Variant picks the backend. Defaults to VariantCompiler.
	Variant Variant

	// Hosts is the import surface installed into every compiled module's
	// runtime. Defaults to the v1 surface with in-memory capabilities.
	Hosts *hostcall.Registry
}

// Engine is the wazero-backed Backend. Each compiled module owns a dedicated
// wazero runtime so memory limits apply per (hash, memory config) key.
type Engine struct {
	variant      Variant
	hosts        *hostcall.Registry
	compilations atomic.Int64
}

// New creates an Engine for the configured variant.
func New(ctx context.Context, cfg Config) (*Engine, error) {
	variant := cfg.Variant
	if variant == "" {
		variant = VariantCompiler
	}
	switch variant {
	case VariantInterpreter, VariantCompiler:
	default:
		return nil, errors.InvalidInput(errors.PhaseCompile, fmt.Sprintf("unknown backend variant %q", variant))
	}

	hosts := cfg.Hosts
	if hosts == nil {
		hosts = hostcall.DefaultRegistry(hostcall.Options{})
	}

	return &Engine{variant: variant, hosts: hosts}, nil
}

func (e *Engine) Variant() Variant { return e.variant }

// Compilations returns the number of successful module compilations. The
// cache-hit guarantees of the instance cache are observable through this
// counter.
func (e *Engine) Compilations() int64 { return e.compilations.Load() }

// Close releases engine-level resources. Compiled modules own their runtimes
// and are closed individually by their owner.
func (e *Engine) Close(ctx context.Context) error { return nil }

// Compile validates and compiles a blob for the given memory configuration.
// Malformed bytecode fails with invalid_module; bytecode needing a disabled
// proposal fails with unsupported_feature. The result is immutable and safe
// to share.
func (e *Engine) Compile(ctx context.Context, code []byte, mem MemoryConfig) (CompiledModule, error) {
	if err := wasm.ValidateHeader(code); err != nil {
		return nil, err
	}
	if err := mem.Validate(); err != nil {
		return nil, err
	}

	var rcfg wazero.RuntimeConfig
	switch e.variant {
	case VariantInterpreter:
		rcfg = wazero.NewRuntimeConfigInterpreter()
	default:
		rcfg = wazero.NewRuntimeConfigCompiler()
	}
	if mem.MaxPages > 0 {
		rcfg = rcfg.WithMemoryLimitPages(mem.MaxPages)
	}

	rt := wazero.NewRuntimeWithConfig(ctx, rcfg)

	if err := e.hosts.Install(ctx, rt); err != nil {
		rt.Close(ctx)
		return nil, err
	}

	compiled, err := rt.CompileModule(ctx, code)
	if err != nil {
		rt.Close(ctx)
		return nil, classifyCompileError(err)
	}

	if err := checkMemoryDeclaration(compiled, mem); err != nil {
		compiled.Close(ctx)
		rt.Close(ctx)
		return nil, err
	}

	e.compilations.Add(1)
	return &Module{
		runtime:  rt,
		compiled: compiled,
		variant:  e.variant,
	}, nil
}

// checkMemoryDeclaration verifies the module's memory against the requested
// configuration before any instantiation is attempted.
func checkMemoryDeclaration(compiled wazero.CompiledModule, mem MemoryConfig) error {
	def, ok := compiled.ExportedMemories()[wasmexec.ExportMemory]
	if !ok {
		return errors.InvalidModule("module does not export its linear memory", nil)
	}
	if mem.MaxPages > 0 && uint64(def.Min()) > uint64(mem.MaxPages) {
		return errors.InstantiationFailed(fmt.Errorf(
			"module declares %d initial pages, configuration allows %d", def.Min(), mem.MaxPages))
	}
	if mem.InitialPages > 0 && uint64(def.Min()) < uint64(mem.InitialPages) {
		return errors.InstantiationFailed(fmt.Errorf(
			"module declares %d initial pages, configuration requires at least %d", def.Min(), mem.InitialPages))
	}
	return nil
}

// classifyCompileError separates "this blob is broken" from "this blob needs
// a proposal the backend has disabled". wazero reports the latter with
// feature-gate wording.
func classifyCompileError(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "feature") ||
		strings.Contains(msg, "disabled") ||
		strings.Contains(msg, "not enabled") {
		return errors.UnsupportedFeature("module requires a disabled capability", err)
	}
	return errors.InvalidModule("compile failed", err)
}
