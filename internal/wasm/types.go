// Package wasm is the high-level representation of a WebAssembly MVP module:
// a faithful, round-trippable AST where functions carry their inlined types,
// tables and memories carry their element/data initializers, and imports and
// exports are attached to the item they describe rather than listed
// separately. This is the in-memory form the instrumenter mutates; a decoder
// builds it from a binary and an encoder writes it back out (internal/wasm/binary).
package wasm

import "fmt"

// ValueType is one of the four WebAssembly MVP numeric types. It intentionally
// mirrors the encoding used on the wire (see the binary package), the same
// choice wazero's api.ValueType makes, so no translation table is needed
// between the AST and the encoder.
type ValueType byte

const (
	ValueTypeI32 ValueType = 0x7f
	ValueTypeI64 ValueType = 0x7e
	ValueTypeF32 ValueType = 0x7d
	ValueTypeF64 ValueType = 0x7c

	// ValueTypeFuncref is not a numeric type; it only occurs as the element
	// type of a table, which in MVP is always funcref.
	ValueTypeFuncref ValueType = 0x70
)

// String returns the WebAssembly text format name of t, e.g. "i32".
func (t ValueType) String() string {
	switch t {
	case ValueTypeI32:
		return "i32"
	case ValueTypeI64:
		return "i64"
	case ValueTypeF32:
		return "f32"
	case ValueTypeF64:
		return "f64"
	default:
		return fmt.Sprintf("unknown(%#x)", byte(t))
	}
}

// Char returns the single-character mangling of t used when monomorphizing
// hook names (§4.3): i, I, f, F.
func (t ValueType) Char() byte {
	switch t {
	case ValueTypeI32:
		return 'i'
	case ValueTypeI64:
		return 'I'
	case ValueTypeF32:
		return 'f'
	case ValueTypeF64:
		return 'F'
	default:
		return '?'
	}
}

// FunctionType is an ordered input sequence and an ordered result sequence of
// value types. In MVP, Results has length 0 or 1. Two FunctionTypes are equal
// (and hash identically, via TypeString) iff their Params and Results are
// element-wise equal.
type FunctionType struct {
	Params  []ValueType
	Results []ValueType
}

// Equals reports whether ft and other describe the same signature.
func (ft FunctionType) Equals(other FunctionType) bool {
	if len(ft.Params) != len(other.Params) || len(ft.Results) != len(other.Results) {
		return false
	}
	for i, p := range ft.Params {
		if p != other.Params[i] {
			return false
		}
	}
	for i, r := range ft.Results {
		if r != other.Results[i] {
			return false
		}
	}
	return true
}

// String renders ft as e.g. "(i32, i32) -> i32" for diagnostics.
func (ft FunctionType) String() string {
	s := "("
	for i, p := range ft.Params {
		if i > 0 {
			s += ", "
		}
		s += p.String()
	}
	s += ") -> ("
	for i, r := range ft.Results {
		if i > 0 {
			s += ", "
		}
		s += r.String()
	}
	return s + ")"
}

// TypeString is the compact type-char encoding used by the static-info
// serializer (§4.7): inputs, then '|', then results, e.g. "ii|i".
func (ft FunctionType) TypeString() string {
	buf := make([]byte, 0, len(ft.Params)+len(ft.Results)+1)
	for _, p := range ft.Params {
		buf = append(buf, p.Char())
	}
	buf = append(buf, '|')
	for _, r := range ft.Results {
		buf = append(buf, r.Char())
	}
	return string(buf)
}

// BlockType is the optional result type of a structured control instruction.
// A nil BlockType denotes the empty result (arity 0).
type BlockType struct {
	ValueType *ValueType
}

// FunctionType returns the block's type as a nullary-input function type,
// the form the type checker and block resolver operate on.
func (bt BlockType) FunctionType() FunctionType {
	if bt.ValueType == nil {
		return FunctionType{}
	}
	return FunctionType{Results: []ValueType{*bt.ValueType}}
}

// Mutability distinguishes constant globals from mutable ones.
type Mutability bool

const (
	Const   Mutability = false
	Var     Mutability = true
)

// Limits is the (min, optional max) pair shared by tables and memories.
type Limits struct {
	Min uint32
	Max *uint32
}
