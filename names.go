package wasmexec

// Well-known guest export names. These are part of the calling convention:
// every supported module exports its memory, a bump-or-better allocator, and
// entry points of shape (ptr i32, len i32) -> i64 where the result packs
// (resultPtr << 32) | resultLen. Changing any of these names is a
// compatibility-breaking event.
const (
	// ExportMemory is the guest linear memory export.
	ExportMemory = "memory"

	// ExportAllocate is the guest allocator: (size i32) -> i32, returning 0
	// when the allocation cannot be satisfied.
	ExportAllocate = "allocate"

	// ExportDeallocate is the advisory release function: (ptr i32, len i32).
	ExportDeallocate = "deallocate"

	// ExportVersion is the version-reporting entry point. It takes the empty
	// payload and returns a JSON-encoded version descriptor.
	ExportVersion = "module_version"
)

// HostModuleV1 is the import module name of the v1 host call surface.
// Changing the surface means introducing a new module name, never mutating
// this one.
const HostModuleV1 = "host_v1"
