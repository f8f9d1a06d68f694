package version

import (
	"context"
	"testing"

	"github.com/wippyai/wasm-exec/engine"
	"github.com/wippyai/wasm-exec/errors"
	"github.com/wippyai/wasm-exec/wasm"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantErr  bool
		wantName string
		wantVer  string
	}{
		{
			name:     "full document",
			raw:      `{"name":"acme.pricing","version":"1.4.0","apis":["quote/v1","audit/v1"]}`,
			wantName: "acme.pricing",
			wantVer:  "1.4.0",
		},
		{
			name:     "no apis",
			raw:      `{"name":"m","version":"0.1.0-beta.2"}`,
			wantName: "m",
			wantVer:  "0.1.0-beta.2",
		},
		{name: "empty", raw: "", wantErr: true},
		{name: "not json", raw: "name=m version=1", wantErr: true},
		{name: "missing name", raw: `{"version":"1.0.0"}`, wantErr: true},
		{name: "missing version", raw: `{"name":"m"}`, wantErr: true},
		{name: "bad semver", raw: `{"name":"m","version":"one.two"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := Decode([]byte(tt.raw))
			if tt.wantErr {
				if errors.KindOf(err) != errors.KindVersionDecode {
					t.Fatalf("kind = %v, want version_decode", errors.KindOf(err))
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if info.Name != tt.wantName {
				t.Errorf("Name = %q, want %q", info.Name, tt.wantName)
			}
			if info.Version.String() != tt.wantVer {
				t.Errorf("Version = %s, want %s", info.Version, tt.wantVer)
			}
		})
	}
}

func TestInfo_Implements(t *testing.T) {
	info, err := Decode([]byte(`{"name":"m","version":"2.0.0","apis":["a/v1","b/v2"]}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !info.Implements("a/v1") || !info.Implements("b/v2") {
		t.Error("Implements misses declared APIs")
	}
	if info.Implements("c/v1") {
		t.Error("Implements reports an undeclared API")
	}
}

// buildVersionedModule embeds doc as a data segment and returns it from the
// module_version export.
func buildVersionedModule(t *testing.T, doc string) []byte {
	t.Helper()

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

	return b.Build()
}

func resolveFrom(t *testing.T, code []byte) (*Info, error) {
	t.Helper()
	ctx := context.Background()

	e, err := engine.New(ctx, engine.Config{Variant: engine.VariantInterpreter})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	mod, err := e.Compile(ctx, code, engine.MemoryConfig{})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	defer mod.Close(ctx)
	inst, err := mod.Instantiate(ctx)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	defer inst.Close(ctx)

	return NewResolver().Resolve(ctx, inst)
}

func TestResolve(t *testing.T) {
	info, err := resolveFrom(t,
		buildVersionedModule(t, `{"name":"demo.echo","version":"3.2.1","apis":["echo/v1"]}`))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if info.Name != "demo.echo" || info.Version.String() != "3.2.1" {
		t.Fatalf("info = %s, want demo.echo@3.2.1", info)
	}
	if !info.Implements("echo/v1") {
		t.Error("Implements(echo/v1) = false")
	}
}

func TestResolve_BadDocument(t *testing.T) {
	_, err := resolveFrom(t, buildVersionedModule(t, `{"name":"demo"`))
	if errors.KindOf(err) != errors.KindVersionDecode {
		t.Fatalf("kind = %v, want version_decode", errors.KindOf(err))
	}
}

func TestResolve_MissingExport(t *testing.T) {
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

	_, err := resolveFrom(t, b.Build())
	if errors.KindOf(err) != errors.KindMissingExport {
		t.Fatalf("kind = %v, want missing_export", errors.KindOf(err))
	}
}

func TestResolver_Invocations(t *testing.T) {
	ctx := context.Background()
	code := buildVersionedModule(t, `{"name":"m","version":"1.0.0"}`)

	e, err := engine.New(ctx, engine.Config{Variant: engine.VariantInterpreter})
	if err != nil {
		t.Fatalf("engine.New: %v", err)
	}
	mod, err := e.Compile(ctx, code, engine.MemoryConfig{})
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	defer mod.Close(ctx)
	inst, err := mod.Instantiate(ctx)
	if err != nil {
		t.Fatalf("Instantiate: %v", err)
	}
	defer inst.Close(ctx)

	r := NewResolver()
	for i := 0; i < 2; i++ {
		if _, err := r.Resolve(ctx, inst); err != nil {
			t.Fatalf("Resolve #%d: %v", i, err)
		}
	}
	if n := r.Invocations(); n != 2 {
		t.Fatalf("Invocations = %d, want 2", n)
	}
}
