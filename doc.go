// Package wasmexec executes versioned, untrusted WebAssembly modules on
// behalf of a host application.
//
// Callers hand the runtime a module blob, an exported function name and a
// flat byte payload; they get back a flat byte payload or a structured
// error. Modules are compiled once per distinct (content hash, memory
// configuration) and live instances are pooled between calls.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct
// responsibilities:
//
//	wasmexec/        Root package with core Memory and Allocator interfaces
//	├── runtime/     Call dispatcher facade, the only public entry point
//	├── cache/       Instance cache: pools, blocking checkout, LRU eviction
//	├── engine/      wazero-backed execution backends and the call protocol
//	├── hostcall/    Host import surface (storage, hashing, logging, clock)
//	├── version/     Version metadata resolution from guest modules
//	├── blob/        Module blobs and content hashing
//	├── errors/      Structured error types carrying the public taxonomy
//	└── wasm/        Core WASM binary helpers and a test module builder
//
// # Quick Start
//
//	rt, err := runtime.New(ctx, runtime.Config{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer rt.Close(ctx)
//
//	b := blob.New(wasmBytes)
//	result, err := rt.Call(ctx, b, "process", payload)
//
// # Thread Safety
//
// Runtime and the cache are safe for concurrent use. A checked-out instance
// is exclusively owned by one caller; the cache never hands the same
// instance to two callers at once.
//
// # Memory Model
//
// WASM linear memory can only grow, never shrink. Pooled instances are
// therefore recycled by re-instantiation from the shared compiled module, so
// every call starts from a pristine memory and global state.
package wasmexec
