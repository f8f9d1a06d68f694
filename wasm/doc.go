// Package wasm provides low-level helpers for the core WebAssembly binary
// format: header validation, LEB128 encoding, and a small ModuleBuilder for
// assembling minimal modules programmatically.
//
// The builder exists so tests and tooling can construct guest fixtures
// (allocator, echo, version exports) without checking binary artifacts into
// the repository. It is not a general-purpose encoder.
package wasm
