package hostcall

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"

	wasmexec "github.com/wippyai/wasm-exec"
	"github.com/wippyai/wasm-exec/errors"
)

// Call gives a handler typed access to its raw stack slots and to the guest
// memory of the calling instance. Pointers are always offsets into that
// instance's own linear memory; host memory is never reachable from here.
type Call struct {
	mod   api.Module
	stack []uint64
}

// Arg returns raw stack slot i.
func (c *Call) Arg(i int) uint64 { return c.stack[i] }

// ArgU32 returns stack slot i as an i32 value.
func (c *Call) ArgU32(i int) uint32 { return uint32(c.stack[i]) }

// Ret writes result slot i.
func (c *Call) Ret(i int, v uint64) { c.stack[i] = v }

// Bytes copies length bytes at ptr out of guest memory.
func (c *Call) Bytes(ptr, length uint32) ([]byte, error) {
	mem := c.mod.Memory()
	if mem == nil {
		return nil, fmt.Errorf("guest has no memory export")
	}
	view, ok := mem.Read(ptr, length)
	if !ok {
		return nil, fmt.Errorf("guest memory read out of bounds: ptr=%d len=%d", ptr, length)
	}
	out := make([]byte, length)
	copy(out, view)
	return out, nil
}

// Write copies data into guest memory at ptr.
func (c *Call) Write(ptr uint32, data []byte) error {
	mem := c.mod.Memory()
	if mem == nil {
		return fmt.Errorf("guest has no memory export")
	}
	if !mem.Write(ptr, data) {
		return fmt.Errorf("guest memory write out of bounds: ptr=%d len=%d", ptr, len(data))
	}
	return nil
}

// AllocBytes places data into a fresh guest allocation by calling the guest
// allocator export, and returns the packed (ptr<<32)|len scalar the guest
// reads it back with. Empty data yields 0 without allocating.
func (c *Call) AllocBytes(ctx context.Context, data []byte) (uint64, error) {
	if len(data) == 0 {
		return 0, nil
	}

	alloc := c.mod.ExportedFunction(wasmexec.ExportAllocate)
	if alloc == nil {
		return 0, errors.MissingExport(errors.PhaseHost, wasmexec.ExportAllocate)
	}

	res, err := alloc.Call(ctx, uint64(len(data)))
	if err != nil {
		return 0, errors.AllocationFailed(uint32(len(data)), err)
	}
	ptr := uint32(res[0])
	if ptr == 0 {
		return 0, errors.AllocationFailed(uint32(len(data)), nil)
	}

	if err := c.Write(ptr, data); err != nil {
		return 0, err
	}
	return uint64(ptr)<<32 | uint64(uint32(len(data))), nil
}

// AbortError marks a host implementation failure that aborted guest
// execution. The invoke boundary converts it into the host_call_failed kind.
type AbortError struct {
	Module string
	Name   string
	Cause  error
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("host call %s::%s failed: %v", e.Module, e.Name, e.Cause)
}

func (e *AbortError) Unwrap() error { return e.Cause }

// State carries the per-invocation error side channel across the guest
// boundary. The engine installs a fresh State into the context before every
// export invocation; handlers record their failure here so the boundary can
// report why execution stopped even when the backend flattens the panic.
type State struct {
	err error
}

// NewState creates an empty per-call state.
func NewState() *State { return &State{} }

func (s *State) fail(err error) {
	if s.err == nil {
		s.err = err
	}
}

// Err returns the first host failure of this call, if any.
func (s *State) Err() error { return s.err }

type stateKey struct{}

// WithState attaches the per-call state to ctx.
func WithState(ctx context.Context, s *State) context.Context {
	return context.WithValue(ctx, stateKey{}, s)
}

// StateFrom extracts the per-call state, or nil if none is attached.
func StateFrom(ctx context.Context) *State {
	s, _ := ctx.Value(stateKey{}).(*State)
	return s
}
