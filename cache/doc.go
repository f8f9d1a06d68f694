// Package cache keeps compiled wasm modules and pools their instances.
//
// Entries are keyed by (content hash, backend variant, memory config).
// Compilation happens at most once per key: concurrent first-time requests
// serialize on the creator's compile instead of duplicating it, and the
// compiled module is shared read-only afterwards.
//
// Instances are exclusively owned between Acquire and Release. A clean
// release restores the pool with a pristine instance so callers never see
// residue from earlier calls; a tainted release discards the instance
// outright. When the key count exceeds the ceiling, the least-recently-used
// idle entry is evicted; busy entries are torn down after their last lease
// comes back.
package cache
