package blob

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"

	"github.com/wippyai/wasm-exec/errors"
)

// HashSize is the width of a ContentHash in bytes.
const HashSize = 32

// ContentHash is the blake2b-256 digest of a module blob. It is the identity
// key for compilation caching.
type ContentHash [HashSize]byte

// String returns the lowercase hex form of the hash.
func (h ContentHash) String() string {
	return hex.EncodeToString(h[:])
}

// Short returns the first 8 hex characters, for log lines.
func (h ContentHash) Short() string {
	return hex.EncodeToString(h[:4])
}

// ParseHash decodes a 64-character hex string into a ContentHash.
func ParseHash(s string) (ContentHash, error) {
	var h ContentHash
	b, err := hex.DecodeString(s)
	if err != nil {
		return h, errors.InvalidInput(errors.PhaseCache, "content hash is not hex: "+err.Error())
	}
	if len(b) != HashSize {
		return h, errors.InvalidInput(errors.PhaseCache, "content hash must be 32 bytes")
	}
	copy(h[:], b)
	return h, nil
}

// HashOf computes the content hash of raw module bytes.
func HashOf(data []byte) ContentHash {
	return blake2b.Sum256(data)
}

// Blob is a raw module: decompression and signature verification happen
// upstream, so Bytes is ready for the backend.
type Blob struct {
	Bytes []byte
	Hash  ContentHash
}

// New builds a Blob, computing its content hash.
func New(data []byte) *Blob {
	return &Blob{Bytes: data, Hash: HashOf(data)}
}

// NewWithHash builds a Blob with a digest already computed upstream.
// The hash is trusted; callers own the integrity of the pairing.
func NewWithHash(data []byte, hash ContentHash) *Blob {
	return &Blob{Bytes: data, Hash: hash}
}
