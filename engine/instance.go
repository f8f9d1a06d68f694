package engine

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	wasmexec "github.com/wippyai/wasm-exec"
	"github.com/wippyai/wasm-exec/errors"
	"github.com/wippyai/wasm-exec/hostcall"
)

// Instance is a single instantiation of a compiled module: its own linear
// memory, its own globals. Not safe for concurrent use; the cache hands each
// instance to at most one caller at a time.
type Instance struct {
	module  api.Module
	memory  *Memory
	allocFn api.Function
	freeFn  api.Function
}

// Memory returns the instance's exported linear memory.
func (i *Instance) Memory() wasmexec.Memory { return i.memory }

// Allocator returns the guest allocator, or nil when the module exports
// none.
func (i *Instance) Allocator() wasmexec.Allocator {
	if i.allocFn == nil {
		return nil
	}
	return &guestAllocator{inst: i}
}

// Close destroys the instance. Its memory contents are gone afterwards.
func (i *Instance) Close(ctx context.Context) error {
	return i.module.Close(ctx)
}

// Invoke calls the exported entry point name with args marshaled through
// guest memory and returns a copy of the result bytes.
//
// The entry point must have shape (i32 ptr, i32 len) -> i64 and return its
// result as (ptr << 32) | len into memory it owns. Abnormal termination is
// classified here: guest faults become trap, failures raised by a host
// import become host_call_failed, and a guest-side allocation failure during
// a host call keeps its resource_exhausted identity.
func (i *Instance) Invoke(ctx context.Context, name string, args []byte) ([]byte, error) {
	fn := i.module.ExportedFunction(name)
	if fn == nil {
		return nil, errors.MissingExport(errors.PhaseCall, name)
	}
	if !entrySignatureOK(fn.Definition()) {
		return nil, errors.SignatureMismatch(errors.PhaseCall, name)
	}

	var ptr uint32
	if len(args) > 0 {
		var err error
		ptr, err = i.allocArgs(ctx, args)
		if err != nil {
			return nil, err
		}
	}

	st := hostcall.NewState()
	res, err := fn.Call(hostcall.WithState(ctx, st), uint64(ptr), uint64(len(args)))
	if err != nil {
		return nil, i.classifyCallError(name, st, err)
	}
	if len(res) != 1 {
		return nil, errors.Trap(name, fmt.Errorf("entry point returned %d values", len(res)))
	}

	rptr := uint32(res[0] >> 32)
	rlen := uint32(res[0])
	if rlen == 0 {
		return nil, nil
	}
	out, rerr := i.memory.Read(rptr, rlen)
	if rerr != nil {
		return nil, errors.Trap(name, fmt.Errorf("result region: %w", rerr))
	}

	// The guest owns the result region; returning it is advisory and must
	// not disturb the outcome.
	if i.freeFn != nil {
		if _, ferr := i.freeFn.Call(ctx, uint64(rptr), uint64(rlen)); ferr != nil {
			Logger().Debug("deallocate after call failed",
				zap.String("export", name), zap.Error(ferr))
		}
	}
	return out, nil
}

// allocArgs places args into guest memory through the exported allocator.
func (i *Instance) allocArgs(ctx context.Context, args []byte) (uint32, error) {
	if i.allocFn == nil {
		return 0, errors.MissingExport(errors.PhaseCall, wasmexec.ExportAllocate)
	}
	size := uint32(len(args))
	res, err := i.allocFn.Call(ctx, uint64(size))
	if err != nil {
		return 0, errors.AllocationFailed(size, err)
	}
	if len(res) != 1 || uint32(res[0]) == 0 {
		return 0, errors.AllocationFailed(size, nil)
	}
	ptr := uint32(res[0])
	if werr := i.memory.Write(ptr, args); werr != nil {
		return 0, errors.AllocationFailed(size, werr)
	}
	return ptr, nil
}

// classifyCallError turns a wazero call failure into the error the caller
// should see. A recorded host-call failure takes precedence over the trap it
// forced.
func (i *Instance) classifyCallError(name string, st *hostcall.State, err error) error {
	if herr := st.Err(); herr != nil {
		if errors.KindOf(herr) == errors.KindResourceExhausted {
			return herr
		}
		return errors.HostCallFailed(name, herr)
	}
	return errors.Trap(name, err)
}

func entrySignatureOK(def api.FunctionDefinition) bool {
	params := def.ParamTypes()
	results := def.ResultTypes()
	return len(params) == 2 && params[0] == api.ValueTypeI32 && params[1] == api.ValueTypeI32 &&
		len(results) == 1 && results[0] == api.ValueTypeI64
}

// guestAllocator drives the module's exported allocate/deallocate pair.
type guestAllocator struct {
	inst *Instance
}

func (a *guestAllocator) Alloc(size uint32) (uint32, error) {
	res, err := a.inst.allocFn.Call(context.Background(), uint64(size))
	if err != nil {
		return 0, errors.AllocationFailed(size, err)
	}
	if len(res) != 1 || uint32(res[0]) == 0 {
		return 0, errors.AllocationFailed(size, nil)
	}
	return uint32(res[0]), nil
}

func (a *guestAllocator) Free(ptr, size uint32) {
	if a.inst.freeFn == nil || ptr == 0 {
		return
	}
	if _, err := a.inst.freeFn.Call(context.Background(), uint64(ptr), uint64(size)); err != nil {
		Logger().Debug("guest free failed", zap.Error(err))
	}
}
