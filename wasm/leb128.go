package wasm

// LEB128 encoding utilities for the WebAssembly binary format.

// AppendUleb appends v as unsigned LEB128.
func AppendUleb(dst []byte, v uint32) []byte {
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if v == 0 {
			return append(dst, b)
		}
		dst = append(dst, b|0x80)
	}
}

// AppendSleb32 appends v as signed LEB128.
func AppendSleb32(dst []byte, v int32) []byte {
	return AppendSleb64(dst, int64(v))
}

// AppendSleb64 appends v as signed LEB128.
func AppendSleb64(dst []byte, v int64) []byte {
	for {
		b := byte(v & 0x7F)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(dst, b)
		}
		dst = append(dst, b|0x80)
	}
}
