package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseCompile     Phase = "compile"     // blob validation and compilation
	PhaseInstantiate Phase = "instantiate" // module instantiation
	PhaseCall        Phase = "call"        // guest export invocation
	PhaseHost        Phase = "host"        // host function execution
	PhaseVersion     Phase = "version"     // version metadata resolution
	PhaseCache       Phase = "cache"       // instance cache bookkeeping
)

// Kind categorizes the error. The set of kinds is the public error taxonomy:
// every failure surfaced by the call dispatcher carries exactly one of these.
type Kind string

const (
	// KindInvalidModule means the blob failed validation or decoding.
	// Permanent for that blob, never retried.
	KindInvalidModule Kind = "invalid_module"

	// KindUnsupportedFeature means the blob requires a capability the
	// selected backend does not provide. Permanent.
	KindUnsupportedFeature Kind = "unsupported_feature"

	// KindInstantiationFailed means the memory configuration cannot be
	// satisfied. Permanent for that configuration.
	KindInstantiationFailed Kind = "instantiation_failed"

	// KindTrap means guest code hit an illegal operation. The triggering
	// instance is discarded; the compiled module remains valid.
	KindTrap Kind = "trap"

	// KindHostCallFailed means a host-side implementation reported a
	// precondition violation. Same isolation treatment as a trap.
	KindHostCallFailed Kind = "host_call_failed"

	// KindMissingExport means the module does not expose a required export
	// with the required signature.
	KindMissingExport Kind = "missing_export"

	// KindVersionDecode means the version export returned bytes that do not
	// parse. The module remains usable for ordinary calls.
	KindVersionDecode Kind = "version_decode"

	// KindResourceExhausted means a pool wait exceeded the caller's budget
	// or an allocation inside guest memory failed.
	KindResourceExhausted Kind = "resource_exhausted"

	// KindInvalidInput is for malformed caller input outside the guest
	// boundary (empty names, bad configuration).
	KindInvalidInput Kind = "invalid_input"
)

// Error is the structured error type used throughout the module
type Error struct {
	Cause  error
	Phase  Phase
	Kind   Kind
	Export string
	Detail string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Export != "" {
		b.WriteString(" at export ")
		b.WriteString(e.Export)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// KindOf returns the taxonomy kind carried by err, or "" if err is not a
// structured error from this module.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsPermanent reports whether err will recur on every retry with the same
// blob and configuration.
func IsPermanent(err error) bool {
	switch KindOf(err) {
	case KindInvalidModule, KindUnsupportedFeature, KindInstantiationFailed:
		return true
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Export sets the guest export the error relates to
func (b *Builder) Export(name string) *Builder {
	b.err.Export = name
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// InvalidModule creates a validation/decoding failure for a blob
func InvalidModule(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseCompile,
		Kind:   KindInvalidModule,
		Detail: detail,
		Cause:  cause,
	}
}

// UnsupportedFeature creates an error for a blob needing a capability the
// backend lacks
func UnsupportedFeature(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseCompile,
		Kind:   KindUnsupportedFeature,
		Detail: detail,
		Cause:  cause,
	}
}

// InstantiationFailed creates an instantiation error
func InstantiationFailed(cause error) *Error {
	return &Error{
		Phase:  PhaseInstantiate,
		Kind:   KindInstantiationFailed,
		Detail: "instantiate module",
		Cause:  cause,
	}
}

// Trap creates an abnormal-guest-termination error for an export
func Trap(export string, cause error) *Error {
	return &Error{
		Phase:  PhaseCall,
		Kind:   KindTrap,
		Export: export,
		Cause:  cause,
	}
}

// HostCallFailed wraps a host implementation failure that aborted execution
func HostCallFailed(export string, cause error) *Error {
	return &Error{
		Phase:  PhaseHost,
		Kind:   KindHostCallFailed,
		Export: export,
		Cause:  cause,
	}
}

// MissingExport creates a missing export error
func MissingExport(phase Phase, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindMissingExport,
		Export: name,
		Detail: fmt.Sprintf("export %q not found", name),
	}
}

// SignatureMismatch reports an export that exists but does not have the
// (i32,i32)->i64 call shape
func SignatureMismatch(phase Phase, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindMissingExport,
		Export: name,
		Detail: fmt.Sprintf("export %q does not have the (ptr,len)->packed signature", name),
	}
}

// VersionDecode creates a version metadata parse error
func VersionDecode(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseVersion,
		Kind:   KindVersionDecode,
		Detail: detail,
		Cause:  cause,
	}
}

// AllocationFailed reports a failed allocation inside guest memory
func AllocationFailed(size uint32, cause error) *Error {
	return &Error{
		Phase:  PhaseCall,
		Kind:   KindResourceExhausted,
		Detail: fmt.Sprintf("guest allocation of %d bytes failed", size),
		Cause:  cause,
	}
}

// WaitBudgetExceeded reports that an instance checkout outlived its context
func WaitBudgetExceeded(cause error) *Error {
	return &Error{
		Phase:  PhaseCache,
		Kind:   KindResourceExhausted,
		Detail: "instance pool at capacity and wait budget exceeded",
		Cause:  cause,
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}
