package cache

import (
	"container/list"
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-exec/blob"
	"github.com/wippyai/wasm-exec/engine"
	"github.com/wippyai/wasm-exec/errors"
	"github.com/wippyai/wasm-exec/version"
)

const (
	// DefaultPoolCapacity bounds concurrent instances per cache key.
	DefaultPoolCapacity = 4

	// DefaultMaxEntries bounds distinct keys before LRU eviction starts.
	DefaultMaxEntries = 64
)

// Key identifies one compiled configuration of a blob. Two calls share
// compiled code and instances only when their keys are equal.
type Key struct {
	Hash    blob.ContentHash
	Variant engine.Variant
	Memory  engine.MemoryConfig
}

// Config configures a Cache.
type Config struct {
	// Backend compiles and instantiates modules. Required.
	Backend engine.Backend

	// PoolCapacity is the maximum number of live instances per key.
	// Defaults to DefaultPoolCapacity.
	PoolCapacity int

	// MaxEntries is the distinct-key ceiling before least-recently-used
	// entries are evicted. Defaults to DefaultMaxEntries.
	MaxEntries int

	// Resolver extracts module version documents. Defaults to a fresh
	// resolver.
	Resolver *version.Resolver
}

// Cache owns compiled modules and their instance pools. Compilation happens
// at most once per key; instances are checked out exclusively and recycled
// or discarded on release. All methods are safe for concurrent use.
type Cache struct {
	backend  engine.Backend
	poolCap  int
	maxKeys  int
	resolver *version.Resolver

	mu      sync.Mutex
	entries map[Key]*entry
	lru     *list.List // front is most recently used
	closed  bool
}

// entry is the per-key state. The ready channel serializes first-time
// compilation: the creator compiles, everyone else waits.
type entry struct {
	key  Key
	elem *list.Element

	ready  chan struct{}
	module engine.CompiledModule
	err    error // sticky permanent compile failure

	// tokens carries pool capacity. Holding a token is the right to own one
	// live instance of this key.
	tokens chan struct{}

	imu  sync.Mutex
	idle []*engine.Instance

	// leases and evictPending are guarded by the cache mutex.
	leases       int
	evictPending bool

	vmu   sync.Mutex
	vinfo *version.Info
	verr  error
	vdone bool
}

// New creates a Cache over the given backend.
func New(cfg Config) (*Cache, error) {
	if cfg.Backend == nil {
		return nil, errors.InvalidInput(errors.PhaseCache, "cache requires a backend")
	}
	if cfg.PoolCapacity < 0 || cfg.MaxEntries < 0 {
		return nil, errors.InvalidInput(errors.PhaseCache, "capacities cannot be negative")
	}
	poolCap := cfg.PoolCapacity
	if poolCap == 0 {
		poolCap = DefaultPoolCapacity
	}
	maxKeys := cfg.MaxEntries
	if maxKeys == 0 {
		maxKeys = DefaultMaxEntries
	}
	resolver := cfg.Resolver
	if resolver == nil {
		resolver = version.NewResolver()
	}
	return &Cache{
		backend:  cfg.Backend,
		poolCap:  poolCap,
		maxKeys:  maxKeys,
		resolver: resolver,
		entries:  make(map[Key]*entry),
		lru:      list.New(),
	}, nil
}

// Len reports the number of distinct keys currently cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// IdleCount reports the number of idle instances pooled for b's key, for
// observation in tests and diagnostics.
func (c *Cache) IdleCount(b *blob.Blob, mem engine.MemoryConfig) int {
	c.mu.Lock()
	e, ok := c.entries[c.keyFor(b, mem)]
	c.mu.Unlock()
	if !ok {
		return 0
	}
	e.imu.Lock()
	defer e.imu.Unlock()
	return len(e.idle)
}

func (c *Cache) keyFor(b *blob.Blob, mem engine.MemoryConfig) Key {
	return Key{Hash: b.Hash, Variant: c.backend.Variant(), Memory: mem}
}

// Acquire checks out an exclusively-owned instance for b under the given
// memory configuration, compiling the blob if this is the key's first use.
// It blocks while the key's pool is at capacity; ctx bounds both the compile
// wait and the pool wait, and expiry surfaces as resource_exhausted.
//
// The returned Lease must be released exactly once.
func (c *Cache) Acquire(ctx context.Context, b *blob.Blob, mem engine.MemoryConfig) (*Lease, error) {
	e, created, err := c.entryFor(b, mem)
	if err != nil {
		return nil, err
	}

	if created {
		c.compile(ctx, e, b.Bytes, mem)
	}

	select {
	case <-e.ready:
	case <-ctx.Done():
		c.unlease(ctx, e)
		return nil, errors.WaitBudgetExceeded(ctx.Err())
	}
	if e.err != nil {
		c.unlease(ctx, e)
		return nil, e.err
	}

	select {
	case <-e.tokens:
	case <-ctx.Done():
		c.unlease(ctx, e)
		return nil, errors.WaitBudgetExceeded(ctx.Err())
	}

	inst, err := c.takeInstance(ctx, e)
	if err != nil {
		c.releaseToken(e)
		c.unlease(ctx, e)
		return nil, err
	}

	return &Lease{cache: c, entry: e, inst: inst}, nil
}

// entryFor finds or creates the entry for the key, updating LRU order and
// counting the caller as a lease holder so the entry cannot be evicted out
// from under a checkout in progress. The creator is responsible for
// compiling.
func (c *Cache) entryFor(b *blob.Blob, mem engine.MemoryConfig) (*entry, bool, error) {
	key := c.keyFor(b, mem)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, false, errors.InvalidInput(errors.PhaseCache, "cache is closed")
	}

	if e, ok := c.entries[key]; ok {
		c.lru.MoveToFront(e.elem)
		e.leases++
		return e, false, nil
	}

	e := &entry{
		key:    key,
		ready:  make(chan struct{}),
		tokens: make(chan struct{}, c.poolCap),
	}
	for i := 0; i < c.poolCap; i++ {
		e.tokens <- struct{}{}
	}
	e.leases++
	c.entries[key] = e
	e.elem = c.lru.PushFront(e)
	c.evictLocked()
	return e, true, nil
}

// unlease drops one lease hold and finishes a deferred eviction when the
// holder was the last one out.
func (c *Cache) unlease(ctx context.Context, e *entry) {
	c.mu.Lock()
	e.leases--
	drained := e.leases == 0 && e.evictPending
	if drained {
		if cur, ok := c.entries[e.key]; ok && cur == e {
			delete(c.entries, e.key)
			c.lru.Remove(e.elem)
		}
	}
	c.mu.Unlock()

	if drained {
		c.destroy(ctx, e)
	}
}

// compile runs the one-time compilation for a fresh entry and publishes the
// result through the ready channel. Non-permanent failures drop the entry so
// a later acquire may retry.
func (c *Cache) compile(ctx context.Context, e *entry, code []byte, mem engine.MemoryConfig) {
	module, err := c.backend.Compile(ctx, code, mem)
	if err != nil {
		if errors.IsPermanent(err) {
			e.err = err
		} else {
			e.err = err
			c.mu.Lock()
			if cur, ok := c.entries[e.key]; ok && cur == e {
				delete(c.entries, e.key)
				c.lru.Remove(e.elem)
			}
			c.mu.Unlock()
		}
		close(e.ready)
		return
	}
	e.module = module
	close(e.ready)
	Logger().Debug("compiled module",
		zap.String("hash", e.key.Hash.Short()),
		zap.String("variant", string(e.key.Variant)))
}

// takeInstance pops an idle instance or creates a fresh one. The caller must
// already hold a token.
func (c *Cache) takeInstance(ctx context.Context, e *entry) (*engine.Instance, error) {
	e.imu.Lock()
	if n := len(e.idle); n > 0 {
		inst := e.idle[n-1]
		e.idle = e.idle[:n-1]
		e.imu.Unlock()
		return inst, nil
	}
	e.imu.Unlock()
	return e.module.Instantiate(ctx)
}

func (c *Cache) releaseToken(e *entry) {
	select {
	case e.tokens <- struct{}{}:
	default:
		// Token accounting is strict; overflow means a double release.
		Logger().Error("pool token overflow", zap.String("hash", e.key.Hash.Short()))
	}
}

// release finishes a lease. The used instance is always destroyed; a clean
// outcome replaces it with a pristine instance in the idle pool so the next
// caller for this key starts from baseline state.
func (c *Cache) release(ctx context.Context, e *entry, inst *engine.Instance, clean bool) {
	if err := inst.Close(ctx); err != nil {
		Logger().Warn("closing released instance", zap.Error(err))
	}

	if clean {
		fresh, err := e.module.Instantiate(ctx)
		if err != nil {
			Logger().Warn("recycling instance", zap.String("hash", e.key.Hash.Short()), zap.Error(err))
		} else {
			e.imu.Lock()
			e.idle = append(e.idle, fresh)
			e.imu.Unlock()
		}
	}

	c.releaseToken(e)
	c.unlease(ctx, e)
}

// evictLocked enforces the key ceiling. Called with c.mu held. Busy entries
// are only marked; their teardown happens when the last lease is released.
func (c *Cache) evictLocked() {
	for len(c.entries) > c.maxKeys {
		victim := c.oldestIdleLocked()
		if victim == nil {
			// Everything evictable is busy. Mark the LRU-most entry and let
			// release finish the job.
			if back := c.lru.Back(); back != nil {
				back.Value.(*entry).evictPending = true
			}
			return
		}
		delete(c.entries, victim.key)
		c.lru.Remove(victim.elem)
		go c.destroy(context.Background(), victim)
	}
}

func (c *Cache) oldestIdleLocked() *entry {
	for el := c.lru.Back(); el != nil; el = el.Prev() {
		if e := el.Value.(*entry); e.leases == 0 {
			return e
		}
	}
	return nil
}

// destroy tears down an entry that is no longer in the map.
func (c *Cache) destroy(ctx context.Context, e *entry) {
	<-e.ready
	e.imu.Lock()
	idle := e.idle
	e.idle = nil
	e.imu.Unlock()

	for _, inst := range idle {
		if err := inst.Close(ctx); err != nil {
			Logger().Warn("closing idle instance", zap.Error(err))
		}
	}
	if e.module != nil {
		if err := e.module.Close(ctx); err != nil {
			Logger().Warn("closing compiled module", zap.Error(err))
		}
	}
	Logger().Debug("evicted entry", zap.String("hash", e.key.Hash.Short()))
}

// Version reports the module's self-described version for b, resolving it at
// most once per cache entry.
func (c *Cache) Version(ctx context.Context, b *blob.Blob, mem engine.MemoryConfig) (*version.Info, error) {
	lease, err := c.Acquire(ctx, b, mem)
	if err != nil {
		return nil, err
	}

	e := lease.entry
	e.vmu.Lock()
	if e.vdone {
		info, verr := e.vinfo, e.verr
		e.vmu.Unlock()
		lease.Release(ctx, true)
		return info, verr
	}
	info, verr := c.resolver.Resolve(ctx, lease.inst)
	e.vinfo, e.verr, e.vdone = info, verr, true
	e.vmu.Unlock()

	// A version probe that merely failed to decode leaves guest state
	// intact; traps and host failures taint like any other call.
	clean := verr == nil ||
		errors.KindOf(verr) == errors.KindVersionDecode ||
		errors.KindOf(verr) == errors.KindMissingExport
	lease.Release(ctx, clean)
	return info, verr
}

// Exports lists the exported function names of b's module, compiling it if
// needed.
func (c *Cache) Exports(ctx context.Context, b *blob.Blob, mem engine.MemoryConfig) ([]string, error) {
	lease, err := c.Acquire(ctx, b, mem)
	if err != nil {
		return nil, err
	}
	names := lease.entry.module.ExportNames()
	lease.Release(ctx, true)
	return names, nil
}

// Close tears down every entry. Outstanding leases keep their instances
// alive until released; new acquires fail immediately.
func (c *Cache) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	var drained []*entry
	for key, e := range c.entries {
		delete(c.entries, key)
		if e.leases == 0 {
			drained = append(drained, e)
		} else {
			e.evictPending = true
		}
	}
	c.lru.Init()
	c.mu.Unlock()

	for _, e := range drained {
		c.destroy(ctx, e)
	}
	return nil
}

// Lease is an exclusively-owned instance checkout. Exactly one Release per
// lease; the instance must not be touched afterwards.
type Lease struct {
	cache    *Cache
	entry    *entry
	inst     *engine.Instance
	released bool
	mu       sync.Mutex
}

// Instance returns the checked-out instance.
func (l *Lease) Instance() *engine.Instance { return l.inst }

// Release returns the lease. A clean outcome restores pool capacity with a
// pristine instance; a tainted outcome discards the instance without
// replacement.
func (l *Lease) Release(ctx context.Context, clean bool) {
	l.mu.Lock()
	if l.released {
		l.mu.Unlock()
		Logger().Error("double lease release")
		return
	}
	l.released = true
	l.mu.Unlock()

	l.cache.release(ctx, l.entry, l.inst, clean)
	l.inst = nil
}
