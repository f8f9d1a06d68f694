package wasm

import (
	"encoding/binary"

	"github.com/wippyai/wasm-exec/errors"
)

// ValidateHeader checks the magic number and binary version of a module blob.
// It is a cheap pre-check so obviously broken blobs fail before the backend
// sees them; full validation happens during compilation.
func ValidateHeader(data []byte) error {
	if len(data) < 8 {
		return errors.InvalidModule("blob shorter than wasm header", nil)
	}
	if binary.LittleEndian.Uint32(data[0:4]) != Magic {
		return errors.InvalidModule("bad magic number", nil)
	}
	if binary.LittleEndian.Uint32(data[4:8]) != Version {
		return errors.InvalidModule("unsupported binary version", nil)
	}
	return nil
}
