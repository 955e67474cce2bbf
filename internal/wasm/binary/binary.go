// Package binary decodes and encodes the WebAssembly MVP binary format into
// and out of the high-level internal/wasm AST. It is the "thin collaborator"
// spec.md describes: round-trip byte-for-byte equality on an unmodified
// module, stable function/table/memory/global indices, and the ability to
// append new functions, imports, and globals without perturbing any existing
// index is the whole of its contract. Neither the type checker nor the
// instrumenter import this package directly; the api package is the only
// caller on the way in and out.
package binary

import "github.com/danleh/wasabi/internal/leb128"

// Magic and Version are the first eight bytes of every WebAssembly binary.
var Magic = [4]byte{0x00, 0x61, 0x73, 0x6d}

const Version uint32 = 1

// sectionID identifies one of the eleven standard top-level sections, in
// their required relative order (custom sections may appear anywhere).
type sectionID byte

const (
	sectionCustom sectionID = iota
	sectionType
	sectionImport
	sectionFunction
	sectionTable
	sectionMemory
	sectionGlobal
	sectionExport
	sectionStart
	sectionElement
	sectionCode
	sectionData
)

// externKind tags what an import or export refers to.
type externKind byte

const (
	externFunc externKind = iota
	externTable
	externMemory
	externGlobal
)

func putUint32(buf []byte, v uint32) []byte {
	return append(buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func putVarU32(buf []byte, v uint32) []byte {
	return append(buf, leb128.EncodeUint32(v)...)
}

func putVarU64(buf []byte, v uint64) []byte {
	return append(buf, leb128.EncodeUint64(v)...)
}

func putVarI32(buf []byte, v int32) []byte {
	return append(buf, leb128.EncodeInt32(v)...)
}

func putVarI64(buf []byte, v int64) []byte {
	return append(buf, leb128.EncodeInt64(v)...)
}

func putName(buf []byte, s string) []byte {
	buf = putVarU32(buf, uint32(len(s)))
	return append(buf, s...)
}
