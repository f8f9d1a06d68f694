// Package hostcall implements the host call dispatch table: the fixed,
// versioned set of (module, function) imports a guest module may use, and
// the bridge that runs their host implementations against the calling
// instance's linear memory.
//
// Handlers receive a Call for typed argument access and memory I/O. A
// handler error never lets guest execution continue: it is recorded in the
// per-call State and aborts the call, surfacing as host_call_failed at the
// engine boundary.
//
// The v1 surface (DefaultRegistry) exposes storage, hashing, logging and a
// clock, each backed by a host capability interface.
package hostcall
