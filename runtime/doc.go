// Package runtime is the top-level call dispatcher for versioned wasm
// modules.
//
// A Runtime accepts raw module blobs and entry-point calls, and behind the
// scenes drives compilation, instance caching, host-call wiring, and the
// taint policy that keeps one caller's fault away from the next. Callers
// see exactly three things: result bytes, classified errors, and nothing
// else.
package runtime
