package runtime

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-exec/blob"
	"github.com/wippyai/wasm-exec/cache"
	"github.com/wippyai/wasm-exec/engine"
	"github.com/wippyai/wasm-exec/errors"
	"github.com/wippyai/wasm-exec/hostcall"
	"github.com/wippyai/wasm-exec/version"
)

// Config configures a Runtime.
type Config struct {
	// Backend selects the execution variant. Defaults to the compiler.
	Backend engine.Variant

	// Memory is the default memory configuration applied by Call. Call
	// sites needing different limits use CallWithMemory.
	Memory engine.MemoryConfig

	// PoolCapacity and MaxEntries bound the instance cache; zero means the
	// cache defaults.
	PoolCapacity int
	MaxEntries   int

	// Storage backs the storage host calls. Defaults to an in-memory store.
	Storage hostcall.Storage

	// Clock supplies the time seen by guests. Defaults to time.Now.
	Clock func() time.Time

	// Hosts overrides the host import surface entirely. When set, Storage
	// and Clock are ignored.
	Hosts *hostcall.Registry

	// Logger receives runtime, engine and cache logs. Defaults to no-op.
	Logger *zap.Logger
}

// Runtime is the call dispatcher: the single entry point tying together
// compilation, instance pooling, the calling convention, and failure
// classification. Safe for concurrent use.
type Runtime struct {
	engine *engine.Engine
	cache  *cache.Cache
	defMem engine.MemoryConfig
	log    *zap.Logger
}

// New creates a Runtime.
func New(ctx context.Context, cfg Config) (*Runtime, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	} else {
		engine.SetLogger(log.Named("engine"))
		cache.SetLogger(log.Named("cache"))
	}

	hosts := cfg.Hosts
	if hosts == nil {
		hosts = hostcall.DefaultRegistry(hostcall.Options{
			Storage: cfg.Storage,
			Logger:  log.Named("host"),
			Now:     cfg.Clock,
		})
	}

	eng, err := engine.New(ctx, engine.Config{Variant: cfg.Backend, Hosts: hosts})
	if err != nil {
		return nil, err
	}
	c, err := cache.New(cache.Config{
		Backend:      eng,
		PoolCapacity: cfg.PoolCapacity,
		MaxEntries:   cfg.MaxEntries,
	})
	if err != nil {
		return nil, err
	}

	return &Runtime{
		engine: eng,
		cache:  c,
		defMem: cfg.Memory,
		log:    log.Named("runtime"),
	}, nil
}

// Call invokes export on b's module with the runtime's default memory
// configuration and returns the result bytes.
func (r *Runtime) Call(ctx context.Context, b *blob.Blob, export string, args []byte) ([]byte, error) {
	return r.CallWithMemory(ctx, b, r.defMem, export, args)
}

// CallWithMemory invokes export on b's module compiled for an explicit
// memory configuration. The instance used is exclusively owned for the
// duration of the call; a clean outcome recycles it, any trap, host-call
// failure or resource exhaustion discards it.
func (r *Runtime) CallWithMemory(ctx context.Context, b *blob.Blob, mem engine.MemoryConfig, export string, args []byte) ([]byte, error) {
	lease, err := r.cache.Acquire(ctx, b, mem)
	if err != nil {
		return nil, err
	}

	out, err := lease.Instance().Invoke(ctx, export, args)
	lease.Release(ctx, !taints(err))

	if err != nil {
		r.log.Debug("call failed",
			zap.String("hash", b.Hash.Short()),
			zap.String("export", export),
			zap.String("kind", string(errors.KindOf(err))),
			zap.Error(err))
		return nil, err
	}
	return out, nil
}

// taints reports whether a call outcome leaves guest state untrusted. A
// missing export never ran guest code, so the instance stays clean.
func taints(err error) bool {
	switch errors.KindOf(err) {
	case errors.KindTrap, errors.KindHostCallFailed, errors.KindResourceExhausted:
		return true
	}
	return false
}

// Version reports the module's self-described version, resolved at most
// once per cache entry.
func (r *Runtime) Version(ctx context.Context, b *blob.Blob) (*version.Info, error) {
	return r.cache.Version(ctx, b, r.defMem)
}

// Exports lists the exported function names of b's module.
func (r *Runtime) Exports(ctx context.Context, b *blob.Blob) ([]string, error) {
	return r.cache.Exports(ctx, b, r.defMem)
}

// Compilations reports how many modules have been compiled since New.
func (r *Runtime) Compilations() int64 {
	return r.engine.Compilations()
}

// Close tears down the cache and the engine. In-flight calls finish first.
func (r *Runtime) Close(ctx context.Context) error {
	if err := r.cache.Close(ctx); err != nil {
		return err
	}
	return r.engine.Close(ctx)
}
