package hostcall

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"

	wasmexec "github.com/wippyai/wasm-exec"
)

// Options configures the default v1 host surface.
type Options struct {
	// Storage backs the storage_* imports. Defaults to a fresh MemStore.
	Storage Storage

	// Logger receives log_write messages. Defaults to a nop logger.
	Logger *zap.Logger

	// Now supplies clock_ms readings. Defaults to time.Now.
	Now func() time.Time
}

// Log levels accepted by log_write. Anything above LevelError clamps to
// error.
const (
	LevelDebug uint32 = 0
	LevelInfo  uint32 = 1
	LevelWarn  uint32 = 2
	LevelError uint32 = 3
)

// maxLogLen caps a single guest log message.
const maxLogLen = 4096

var (
	i32 = api.ValueTypeI32
	i64 = api.ValueTypeI64
)

// DefaultRegistry builds the fixed v1 import surface under the
// wasmexec.HostModuleV1 module name:
//
//	storage_get(keyPtr, keyLen) -> packed       value via guest alloc, 0 if absent
//	storage_set(keyPtr, keyLen, valPtr, valLen)
//	storage_remove(keyPtr, keyLen) -> existed
//	hash_sha2_256(ptr, len, outPtr)             writes 32 bytes
//	hash_keccak_256(ptr, len, outPtr)           writes 32 bytes
//	hash_blake2_256(ptr, len, outPtr)           writes 32 bytes
//	log_write(level, ptr, len)
//	clock_ms() -> i64
//
// The set and its signatures are versioned by the module name; extending it
// in place would break deployed modules.
func DefaultRegistry(opts Options) *Registry {
	store := opts.Storage
	if store == nil {
		store = NewMemStore()
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	mod := wasmexec.HostModuleV1

	return NewRegistry(
		Def{
			Module: mod, Name: "storage_get",
			Params: []api.ValueType{i32, i32}, Results: []api.ValueType{i64},
			Fn: func(ctx context.Context, c *Call) error {
				key, err := c.Bytes(c.ArgU32(0), c.ArgU32(1))
				if err != nil {
					return err
				}
				value, ok := store.Get(key)
				if !ok {
					c.Ret(0, 0)
					return nil
				}
				packed, err := c.AllocBytes(ctx, value)
				if err != nil {
					return err
				}
				c.Ret(0, packed)
				return nil
			},
		},
		Def{
			Module: mod, Name: "storage_set",
			Params: []api.ValueType{i32, i32, i32, i32},
			Fn: func(ctx context.Context, c *Call) error {
				key, err := c.Bytes(c.ArgU32(0), c.ArgU32(1))
				if err != nil {
					return err
				}
				if len(key) == 0 {
					return fmt.Errorf("storage key cannot be empty")
				}
				value, err := c.Bytes(c.ArgU32(2), c.ArgU32(3))
				if err != nil {
					return err
				}
				return store.Set(key, value)
			},
		},
		Def{
			Module: mod, Name: "storage_remove",
			Params: []api.ValueType{i32, i32}, Results: []api.ValueType{i32},
			Fn: func(ctx context.Context, c *Call) error {
				key, err := c.Bytes(c.ArgU32(0), c.ArgU32(1))
				if err != nil {
					return err
				}
				if store.Remove(key) {
					c.Ret(0, 1)
				} else {
					c.Ret(0, 0)
				}
				return nil
			},
		},
		hashDef(mod, "hash_sha2_256", func(data []byte) [32]byte {
			return sha256.Sum256(data)
		}),
		hashDef(mod, "hash_keccak_256", func(data []byte) [32]byte {
			var out [32]byte
			h := sha3.NewLegacyKeccak256()
			h.Write(data)
			copy(out[:], h.Sum(nil))
			return out
		}),
		hashDef(mod, "hash_blake2_256", func(data []byte) [32]byte {
			return blake2b.Sum256(data)
		}),
		Def{
			Module: mod, Name: "log_write",
			Params: []api.ValueType{i32, i32, i32},
			Fn: func(ctx context.Context, c *Call) error {
				level := c.ArgU32(0)
				length := c.ArgU32(2)
				if length > maxLogLen {
					length = maxLogLen
				}
				msg, err := c.Bytes(c.ArgU32(1), length)
				if err != nil {
					return err
				}
				switch level {
				case LevelDebug:
					logger.Debug(string(msg), zap.String("source", "guest"))
				case LevelInfo:
					logger.Info(string(msg), zap.String("source", "guest"))
				case LevelWarn:
					logger.Warn(string(msg), zap.String("source", "guest"))
				default:
					logger.Error(string(msg), zap.String("source", "guest"))
				}
				return nil
			},
		},
		Def{
			Module: mod, Name: "clock_ms",
			Results: []api.ValueType{i64},
			Fn: func(ctx context.Context, c *Call) error {
				c.Ret(0, uint64(now().UnixMilli()))
				return nil
			},
		},
	)
}

func hashDef(module, name string, sum func([]byte) [32]byte) Def {
	return Def{
		Module: module, Name: name,
		Params: []api.ValueType{i32, i32, i32},
		Fn: func(ctx context.Context, c *Call) error {
			data, err := c.Bytes(c.ArgU32(0), c.ArgU32(1))
			if err != nil {
				return err
			}
			digest := sum(data)
			return c.Write(c.ArgU32(2), digest[:])
		},
	}
}
