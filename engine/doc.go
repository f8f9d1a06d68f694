// Package engine compiles and executes wasm modules on wazero.
//
// An Engine is bound to one backend variant, interpreter or compiler, and
// turns raw bytecode into CompiledModule values. Each compiled module owns a
// dedicated wazero runtime so per-module memory limits hold, and produces
// isolated instances on demand.
//
// Instance.Invoke implements the calling convention shared by all entry
// points: arguments are copied into guest memory through the module's
// exported allocator, the entry point receives (ptr, len) and returns a
// packed (ptr << 32) | len, and the result bytes are copied back out. All
// abnormal guest termination is converted to a classified error at this
// boundary.
package engine
