package runtime

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/wippyai/wasm-exec/blob"
	"github.com/wippyai/wasm-exec/engine"
	"github.com/wippyai/wasm-exec/errors"
	"github.com/wippyai/wasm-exec/hostcall"
	"github.com/wippyai/wasm-exec/wasm"
)

// buildAppModule assembles a guest exercising the full surface: the calling
// convention, storage host calls, and trapping entry points.
func buildAppModule(t *testing.T) []byte {
	t.Helper()

	b := wasm.NewModuleBuilder()
	impSet := b.ImportFunc("host_v1", "storage_set",
		[]wasm.ValType{wasm.ValI32, wasm.ValI32, wasm.ValI32, wasm.ValI32}, nil)
	impGet := b.ImportFunc("host_v1", "storage_get",
		[]wasm.ValType{wasm.ValI32, wasm.ValI32}, []wasm.ValType{wasm.ValI64})

	b.Memory(1, 4, "memory")
	heap := b.GlobalI32(true, 8192)

	alloc := b.Func(
		[]wasm.ValType{wasm.ValI32}, []wasm.ValType{wasm.ValI32}, []wasm.ValType{wasm.ValI32},
		wasm.Body(
			wasm.GlobalGet(heap), wasm.LocalSet(1),
			wasm.GlobalGet(heap), wasm.LocalGet(0), wasm.Raw(wasm.OpI32Add), wasm.GlobalSet(heap),
			wasm.LocalGet(1),
		),
	)
	b.ExportFunc("allocate", alloc)

	echo := b.Func(
		[]wasm.ValType{wasm.ValI32, wasm.ValI32}, []wasm.ValType{wasm.ValI64}, nil,
		wasm.Body(
			wasm.LocalGet(0), wasm.Raw(wasm.OpI64ExtendU32),
			wasm.I64Const(32), wasm.Raw(wasm.OpI64Shl),
			wasm.LocalGet(1), wasm.Raw(wasm.OpI64ExtendU32),
			wasm.Raw(wasm.OpI64Or),
		),
	)
	b.ExportFunc("echo", echo)

	// remember stores its argument bytes under themselves as key.
	remember := b.Func(
		[]wasm.ValType{wasm.ValI32, wasm.ValI32}, []wasm.ValType{wasm.ValI64}, nil,
		wasm.Body(
			wasm.LocalGet(0), wasm.LocalGet(1), wasm.LocalGet(0), wasm.LocalGet(1),
			wasm.Call(impSet),
			wasm.I64Const(0),
		),
	)
	b.ExportFunc("remember", remember)

	// recall looks its argument up as a key and returns the stored value.
	recall := b.Func(
		[]wasm.ValType{wasm.ValI32, wasm.ValI32}, []wasm.ValType{wasm.ValI64}, nil,
		wasm.Body(wasm.LocalGet(0), wasm.LocalGet(1), wasm.Call(impGet)),
	)
	b.ExportFunc("recall", recall)

	boom := b.Func(
		[]wasm.ValType{wasm.ValI32, wasm.ValI32}, []wasm.ValType{wasm.ValI64}, nil,
		wasm.Body(wasm.Raw(wasm.OpUnreachable)),
	)
	b.ExportFunc("boom", boom)

	return b.Build()
}

func newTestRuntime(t *testing.T, cfg Config) *Runtime {
	t.Helper()
	if cfg.Backend == "" {
		cfg.Backend = engine.VariantInterpreter
	}
	rt, err := New(context.Background(), cfg)
	if err != nil {
		t.Fatalf("runtime.New: %v", err)
	}
	t.Cleanup(func() { rt.Close(context.Background()) })
	return rt
}

func TestCall_Echo(t *testing.T) {
	rt := newTestRuntime(t, Config{})
	b := blob.New(buildAppModule(t))

	payload := []byte("dispatch me")
	got, err := rt.Call(context.Background(), b, "echo", payload)
	if err != nil {
		t.Fatalf("Call(echo): %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("echo = %q, want %q", got, payload)
	}
}

func TestCall_StorageRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := hostcall.NewMemStore()
	rt := newTestRuntime(t, Config{Storage: store})
	b := blob.New(buildAppModule(t))

	key := []byte("order:42")
	if _, err := rt.Call(ctx, b, "remember", key); err != nil {
		t.Fatalf("Call(remember): %v", err)
	}
	if got, ok := store.Get(key); !ok || !bytes.Equal(got, key) {
		t.Fatalf("store.Get = %q, %v; want %q", got, ok, key)
	}

	got, err := rt.Call(ctx, b, "recall", key)
	if err != nil {
		t.Fatalf("Call(recall): %v", err)
	}
	if !bytes.Equal(got, key) {
		t.Fatalf("recall = %q, want %q", got, key)
	}
}

func TestCall_RecallAbsentKeyIsEmpty(t *testing.T) {
	rt := newTestRuntime(t, Config{})
	b := blob.New(buildAppModule(t))

	got, err := rt.Call(context.Background(), b, "recall", []byte("never stored"))
	if err != nil {
		t.Fatalf("Call(recall): %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("recall = %q, want empty", got)
	}
}

func TestCall_HostFailureIsClassified(t *testing.T) {
	// storage_set rejects empty keys; calling remember with no args drives
	// that failure through the abort path.
	rt := newTestRuntime(t, Config{})
	b := blob.New(buildAppModule(t))

	_, err := rt.Call(context.Background(), b, "remember", nil)
	if errors.KindOf(err) != errors.KindHostCallFailed {
		t.Fatalf("kind = %v, want host_call_failed", errors.KindOf(err))
	}
}

func TestCall_TrapDoesNotPoisonEntry(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t, Config{})
	b := blob.New(buildAppModule(t))

	_, err := rt.Call(ctx, b, "boom", []byte("x"))
	if errors.KindOf(err) != errors.KindTrap {
		t.Fatalf("kind = %v, want trap", errors.KindOf(err))
	}

	got, err := rt.Call(ctx, b, "echo", []byte("still alive"))
	if err != nil {
		t.Fatalf("Call after trap: %v", err)
	}
	if string(got) != "still alive" {
		t.Fatalf("echo after trap = %q", got)
	}
	if n := rt.Compilations(); n != 1 {
		t.Fatalf("Compilations = %d, want 1 (no recompilation after trap)", n)
	}
}

func TestCall_MissingExport(t *testing.T) {
	rt := newTestRuntime(t, Config{})
	b := blob.New(buildAppModule(t))

	_, err := rt.Call(context.Background(), b, "nonexistent", nil)
	if errors.KindOf(err) != errors.KindMissingExport {
		t.Fatalf("kind = %v, want missing_export", errors.KindOf(err))
	}
}

func TestCall_InvalidBlob(t *testing.T) {
	rt := newTestRuntime(t, Config{})
	b := blob.New([]byte("definitely not wasm"))

	_, err := rt.Call(context.Background(), b, "echo", nil)
	if errors.KindOf(err) != errors.KindInvalidModule {
		t.Fatalf("kind = %v, want invalid_module", errors.KindOf(err))
	}
}

func TestCall_CompileOncePerBlob(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t, Config{})
	b := blob.New(buildAppModule(t))

	for i := 0; i < 4; i++ {
		if _, err := rt.Call(ctx, b, "echo", []byte("again")); err != nil {
			t.Fatalf("Call #%d: %v", i, err)
		}
	}
	if n := rt.Compilations(); n != 1 {
		t.Fatalf("Compilations = %d, want 1", n)
	}
}

func TestCallWithMemory_SeparateConfig(t *testing.T) {
	ctx := context.Background()
	rt := newTestRuntime(t, Config{})
	b := blob.New(buildAppModule(t))

	if _, err := rt.Call(ctx, b, "echo", []byte("a")); err != nil {
		t.Fatalf("Call: %v", err)
	}
	if _, err := rt.CallWithMemory(ctx, b, engine.MemoryConfig{MaxPages: 8}, "echo", []byte("b")); err != nil {
		t.Fatalf("CallWithMemory: %v", err)
	}
	if n := rt.Compilations(); n != 2 {
		t.Fatalf("Compilations = %d, want 2 for two configs", n)
	}
}

func TestBackends_EquivalentOutcomes(t *testing.T) {
	ctx := context.Background()
	code := buildAppModule(t)
	payload := []byte("portable")

	for _, v := range []engine.Variant{engine.VariantInterpreter, engine.VariantCompiler} {
		rt := newTestRuntime(t, Config{Backend: v})
		b := blob.New(code)

		got, err := rt.Call(ctx, b, "echo", payload)
		if err != nil {
			t.Fatalf("%s echo: %v", v, err)
		}
		if !bytes.Equal(got, payload) {
			t.Fatalf("%s echo = %q, want %q", v, got, payload)
		}
		_, err = rt.Call(ctx, b, "boom", payload)
		if errors.KindOf(err) != errors.KindTrap {
			t.Fatalf("%s boom kind = %v, want trap", v, errors.KindOf(err))
		}
	}
}

func TestExports(t *testing.T) {
	rt := newTestRuntime(t, Config{})
	b := blob.New(buildAppModule(t))

	names, err := rt.Exports(context.Background(), b)
	if err != nil {
		t.Fatalf("Exports: %v", err)
	}
	found := map[string]bool{}
	for _, n := range names {
		found[n] = true
	}
	for _, want := range []string{"echo", "remember", "recall", "boom", "allocate"} {
		if !found[want] {
			t.Errorf("Exports missing %q in %v", want, names)
		}
	}
}

func TestVersion(t *testing.T) {
	doc := `{"name":"app.kv","version":"2.1.0","apis":["kv/v1"]}`

	b := wasm.NewModuleBuilder()
	b.Memory(1, 2, "memory")
	heap := b.GlobalI32(true, 4096)
	alloc := b.Func(
		[]wasm.ValType{wasm.ValI32}, []wasm.ValType{wasm.ValI32}, []wasm.ValType{wasm.ValI32},
		wasm.Body(
			wasm.GlobalGet(heap), wasm.LocalSet(1),
			wasm.GlobalGet(heap), wasm.LocalGet(0), wasm.Raw(wasm.OpI32Add), wasm.GlobalSet(heap),
			wasm.LocalGet(1),
		),
	)
	b.ExportFunc("allocate", alloc)
	b.Data(1024, []byte(doc))
	ver := b.Func(
		[]wasm.ValType{wasm.ValI32, wasm.ValI32}, []wasm.ValType{wasm.ValI64}, nil,
		wasm.Body(wasm.I64Const(wasm.PackPtrLen(1024, uint32(len(doc))))),
	)
	b.ExportFunc("module_version", ver)

	rt := newTestRuntime(t, Config{})
	info, err := rt.Version(context.Background(), blob.New(b.Build()))
	if err != nil {
		t.Fatalf("Version: %v", err)
	}
	if info.Name != "app.kv" || info.Version.String() != "2.1.0" || !info.Implements("kv/v1") {
		t.Fatalf("info = %+v, want app.kv@2.1.0 with kv/v1", info)
	}
}

func TestClock_FlowsToGuests(t *testing.T) {
	fixed := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	b := wasm.NewModuleBuilder()
	impClock := b.ImportFunc("host_v1", "clock_ms", nil, []wasm.ValType{wasm.ValI64})
	b.Memory(1, 2, "memory")
	heap := b.GlobalI32(true, 4096)
	alloc := b.Func(
		[]wasm.ValType{wasm.ValI32}, []wasm.ValType{wasm.ValI32}, []wasm.ValType{wasm.ValI32},
		wasm.Body(
			wasm.GlobalGet(heap), wasm.LocalSet(1),
			wasm.GlobalGet(heap), wasm.LocalGet(0), wasm.Raw(wasm.OpI32Add), wasm.GlobalSet(heap),
			wasm.LocalGet(1),
		),
	)
	b.ExportFunc("allocate", alloc)

	// now stores the clock value at offset 256 and returns that region.
	now := b.Func(
		[]wasm.ValType{wasm.ValI32, wasm.ValI32}, []wasm.ValType{wasm.ValI64}, nil,
		wasm.Body(
			wasm.I32Const(256), wasm.Call(impClock),
			wasm.Raw(wasm.OpI64Store, 0x00, 0x00),
			wasm.I64Const(wasm.PackPtrLen(256, 8)),
		),
	)
	b.ExportFunc("now", now)

	rt := newTestRuntime(t, Config{Clock: func() time.Time { return fixed }})
	got, err := rt.Call(context.Background(), blob.New(b.Build()), "now", nil)
	if err != nil {
		t.Fatalf("Call(now): %v", err)
	}
	if len(got) != 8 {
		t.Fatalf("now = %d bytes, want 8", len(got))
	}
	var ms int64
	for i := 7; i >= 0; i-- {
		ms = ms<<8 | int64(got[i])
	}
	if ms != fixed.UnixMilli() {
		t.Fatalf("clock = %d, want %d", ms, fixed.UnixMilli())
	}
}
