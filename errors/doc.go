// Package errors provides structured error types for the wasm-exec module.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error
// category). The Kind values form the public error taxonomy: everything the
// call dispatcher returns to callers carries exactly one Kind, and KindOf
// recovers it from a wrapped chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseCall, errors.KindTrap).
//		Export("process").
//		Detail("out of bounds memory access").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.InvalidModule("bad magic", nil)
//	err := errors.Trap("process", cause)
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
