package wasm

import (
	"bytes"
	"encoding/binary"
)

// ModuleBuilder assembles a minimal core WebAssembly module in binary form.
// It covers what hand-built guest modules need: imported and local functions,
// one memory, mutable globals, exports, and data segments.
//
// All imported functions must be declared before the first local function so
// the function index space stays contiguous.
type ModuleBuilder struct {
	types   []funcType
	imports []importEntry
	funcs   []funcEntry
	globals []globalEntry
	exports []exportEntry
	data    []dataEntry
	memMin  uint32
	memMax  uint32
	hasMem  bool
	memName string
}

type funcType struct {
	params  []ValType
	results []ValType
}

type importEntry struct {
	module  string
	name    string
	typeIdx uint32
}

type funcEntry struct {
	typeIdx uint32
	locals  []ValType
	body    []byte
}

type globalEntry struct {
	typ     ValType
	mutable bool
	init    int64
}

type exportEntry struct {
	name string
	kind byte
	idx  uint32
}

type dataEntry struct {
	offset uint32
	bytes  []byte
}

// NewModuleBuilder creates an empty module builder.
func NewModuleBuilder() *ModuleBuilder {
	return &ModuleBuilder{}
}

func (b *ModuleBuilder) typeIdx(params, results []ValType) uint32 {
	for i, t := range b.types {
		if typesEqual(t.params, params) && typesEqual(t.results, results) {
			return uint32(i)
		}
	}
	b.types = append(b.types, funcType{params: params, results: results})
	return uint32(len(b.types) - 1)
}

func typesEqual(a, b []ValType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ImportFunc declares an imported function and returns its function index.
func (b *ModuleBuilder) ImportFunc(module, name string, params, results []ValType) uint32 {
	b.imports = append(b.imports, importEntry{
		module:  module,
		name:    name,
		typeIdx: b.typeIdx(params, results),
	})
	return uint32(len(b.imports) - 1)
}

// Func declares a local function with the given signature, extra locals and
// body (the body must end with OpEnd; see Body). It returns the function
// index.
func (b *ModuleBuilder) Func(params, results, locals []ValType, body []byte) uint32 {
	b.funcs = append(b.funcs, funcEntry{
		typeIdx: b.typeIdx(params, results),
		locals:  locals,
		body:    body,
	})
	return uint32(len(b.imports) + len(b.funcs) - 1)
}

// Memory declares the module memory with min/max pages and optionally exports
// it under exportName.
func (b *ModuleBuilder) Memory(minPages, maxPages uint32, exportName string) {
	b.hasMem = true
	b.memMin = minPages
	b.memMax = maxPages
	b.memName = exportName
}

// GlobalI32 declares an i32 global and returns its index.
func (b *ModuleBuilder) GlobalI32(mutable bool, init int32) uint32 {
	b.globals = append(b.globals, globalEntry{typ: ValI32, mutable: mutable, init: int64(init)})
	return uint32(len(b.globals) - 1)
}

// ExportFunc exports the function at idx under name.
func (b *ModuleBuilder) ExportFunc(name string, idx uint32) {
	b.exports = append(b.exports, exportEntry{name: name, kind: KindFunc, idx: idx})
}

// Data places bytes at a fixed offset in memory at instantiation time.
func (b *ModuleBuilder) Data(offset uint32, data []byte) {
	b.data = append(b.data, dataEntry{offset: offset, bytes: data})
}

// Build emits the module binary.
func (b *ModuleBuilder) Build() []byte {
	var out bytes.Buffer
	header := make([]byte, 8)
	binary.LittleEndian.PutUint32(header[0:4], Magic)
	binary.LittleEndian.PutUint32(header[4:8], Version)
	out.Write(header)

	// Type section
	if len(b.types) > 0 {
		var sec []byte
		sec = AppendUleb(sec, uint32(len(b.types)))
		for _, t := range b.types {
			sec = append(sec, 0x60)
			sec = AppendUleb(sec, uint32(len(t.params)))
			for _, p := range t.params {
				sec = append(sec, byte(p))
			}
			sec = AppendUleb(sec, uint32(len(t.results)))
			for _, r := range t.results {
				sec = append(sec, byte(r))
			}
		}
		writeSection(&out, SectionType, sec)
	}

	// Import section
	if len(b.imports) > 0 {
		var sec []byte
		sec = AppendUleb(sec, uint32(len(b.imports)))
		for _, imp := range b.imports {
			sec = appendName(sec, imp.module)
			sec = appendName(sec, imp.name)
			sec = append(sec, KindFunc)
			sec = AppendUleb(sec, imp.typeIdx)
		}
		writeSection(&out, SectionImport, sec)
	}

	// Function section
	if len(b.funcs) > 0 {
		var sec []byte
		sec = AppendUleb(sec, uint32(len(b.funcs)))
		for _, f := range b.funcs {
			sec = AppendUleb(sec, f.typeIdx)
		}
		writeSection(&out, SectionFunction, sec)
	}

	// Memory section
	if b.hasMem {
		var sec []byte
		sec = AppendUleb(sec, 1)
		if b.memMax > 0 {
			sec = append(sec, 0x01)
			sec = AppendUleb(sec, b.memMin)
			sec = AppendUleb(sec, b.memMax)
		} else {
			sec = append(sec, 0x00)
			sec = AppendUleb(sec, b.memMin)
		}
		writeSection(&out, SectionMemory, sec)
	}

	// Global section
	if len(b.globals) > 0 {
		var sec []byte
		sec = AppendUleb(sec, uint32(len(b.globals)))
		for _, g := range b.globals {
			sec = append(sec, byte(g.typ))
			if g.mutable {
				sec = append(sec, 0x01)
			} else {
				sec = append(sec, 0x00)
			}
			sec = append(sec, OpI32Const)
			sec = AppendSleb64(sec, g.init)
			sec = append(sec, OpEnd)
		}
		writeSection(&out, SectionGlobal, sec)
	}

	// Export section
	exports := b.exports
	if b.hasMem && b.memName != "" {
		exports = append(exports, exportEntry{name: b.memName, kind: KindMemory, idx: 0})
	}
	if len(exports) > 0 {
		var sec []byte
		sec = AppendUleb(sec, uint32(len(exports)))
		for _, e := range exports {
			sec = appendName(sec, e.name)
			sec = append(sec, e.kind)
			sec = AppendUleb(sec, e.idx)
		}
		writeSection(&out, SectionExport, sec)
	}

	// Code section
	if len(b.funcs) > 0 {
		var sec []byte
		sec = AppendUleb(sec, uint32(len(b.funcs)))
		for _, f := range b.funcs {
			var body []byte
			body = AppendUleb(body, uint32(len(f.locals)))
			for _, l := range f.locals {
				body = AppendUleb(body, 1)
				body = append(body, byte(l))
			}
			body = append(body, f.body...)
			sec = AppendUleb(sec, uint32(len(body)))
			sec = append(sec, body...)
		}
		writeSection(&out, SectionCode, sec)
	}

	// Data section
	if len(b.data) > 0 {
		var sec []byte
		sec = AppendUleb(sec, uint32(len(b.data)))
		for _, d := range b.data {
			sec = append(sec, 0x00) // active segment, memory 0
			sec = append(sec, OpI32Const)
			sec = AppendSleb64(sec, int64(d.offset))
			sec = append(sec, OpEnd)
			sec = AppendUleb(sec, uint32(len(d.bytes)))
			sec = append(sec, d.bytes...)
		}
		writeSection(&out, SectionData, sec)
	}

	return out.Bytes()
}

func writeSection(out *bytes.Buffer, id byte, payload []byte) {
	out.WriteByte(id)
	out.Write(AppendUleb(nil, uint32(len(payload))))
	out.Write(payload)
}

func appendName(dst []byte, s string) []byte {
	dst = AppendUleb(dst, uint32(len(s)))
	return append(dst, s...)
}

// Instruction helpers keep hand-written function bodies readable.

// Body concatenates instruction fragments and terminates them with OpEnd.
func Body(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return append(out, OpEnd)
}

// Raw wraps loose opcodes as an instruction fragment.
func Raw(ops ...byte) []byte { return ops }

// I32Const pushes a 32-bit constant.
func I32Const(v int32) []byte {
	return AppendSleb32([]byte{OpI32Const}, v)
}

// I64Const pushes a 64-bit constant.
func I64Const(v int64) []byte {
	return AppendSleb64([]byte{OpI64Const}, v)
}

// LocalGet reads a local.
func LocalGet(i uint32) []byte { return AppendUleb([]byte{OpLocalGet}, i) }

// LocalSet writes a local.
func LocalSet(i uint32) []byte { return AppendUleb([]byte{OpLocalSet}, i) }

// GlobalGet reads a global.
func GlobalGet(i uint32) []byte { return AppendUleb([]byte{OpGlobalGet}, i) }

// GlobalSet writes a global.
func GlobalSet(i uint32) []byte { return AppendUleb([]byte{OpGlobalSet}, i) }

// Call invokes the function at idx.
func Call(idx uint32) []byte { return AppendUleb([]byte{OpCall}, idx) }

// MemorySize pushes the current memory size in pages.
func MemorySize() []byte { return []byte{OpMemorySize, 0x00} }

// I32Store8 stores the low byte of the top of stack (align 0, offset 0).
func I32Store8() []byte { return []byte{OpI32Store8, 0x00, 0x00} }

// I32Load8U loads one byte zero-extended (align 0, offset 0).
func I32Load8U() []byte { return []byte{OpI32Load8U, 0x00, 0x00} }

// PackPtrLen computes the packed (ptr<<32)|len scalar used by the call
// protocol, for building constant returns in test modules.
func PackPtrLen(ptr, length uint32) int64 {
	return int64(uint64(ptr)<<32 | uint64(length))
}
