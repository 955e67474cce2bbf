package wasm

// This file enumerates the MVP numeric operators: the comparisons,
// arithmetic, bitwise, and conversion instructions whose input and result
// types are a fixed function of the opcode, independent of where they
// appear. Grouping them here (rather than as more Opcode constants in
// instr.go) keeps instr.go to the instructions whose handling the
// instrumenter and type checker special-case, and lets NewNumeric build an
// Instruction and its name/signature from one opcode byte.
const (
	OpI32Eqz Opcode = 0x45
	OpI32Eq  Opcode = 0x46
	OpI32Ne  Opcode = 0x47
	OpI32LtS Opcode = 0x48
	OpI32LtU Opcode = 0x49
	OpI32GtS Opcode = 0x4a
	OpI32GtU Opcode = 0x4b
	OpI32LeS Opcode = 0x4c
	OpI32LeU Opcode = 0x4d
	OpI32GeS Opcode = 0x4e
	OpI32GeU Opcode = 0x4f

	OpI64Eqz Opcode = 0x50
	OpI64Eq  Opcode = 0x51
	OpI64Ne  Opcode = 0x52
	OpI64LtS Opcode = 0x53
	OpI64LtU Opcode = 0x54
	OpI64GtS Opcode = 0x55
	OpI64GtU Opcode = 0x56
	OpI64LeS Opcode = 0x57
	OpI64LeU Opcode = 0x58
	OpI64GeS Opcode = 0x59
	OpI64GeU Opcode = 0x5a

	OpF32Eq Opcode = 0x5b
	OpF32Ne Opcode = 0x5c
	OpF32Lt Opcode = 0x5d
	OpF32Gt Opcode = 0x5e
	OpF32Le Opcode = 0x5f
	OpF32Ge Opcode = 0x60

	OpF64Eq Opcode = 0x61
	OpF64Ne Opcode = 0x62
	OpF64Lt Opcode = 0x63
	OpF64Gt Opcode = 0x64
	OpF64Le Opcode = 0x65
	OpF64Ge Opcode = 0x66

	OpI32Clz    Opcode = 0x67
	OpI32Ctz    Opcode = 0x68
	OpI32Popcnt Opcode = 0x69
	OpI32Add    Opcode = 0x6a
	OpI32Sub    Opcode = 0x6b
	OpI32Mul    Opcode = 0x6c
	OpI32DivS   Opcode = 0x6d
	OpI32DivU   Opcode = 0x6e
	OpI32RemS   Opcode = 0x6f
	OpI32RemU   Opcode = 0x70
	OpI32And    Opcode = 0x71
	OpI32Or     Opcode = 0x72
	OpI32Xor    Opcode = 0x73
	OpI32Shl    Opcode = 0x74
	OpI32ShrS   Opcode = 0x75
	OpI32ShrU   Opcode = 0x76
	OpI32Rotl   Opcode = 0x77
	OpI32Rotr   Opcode = 0x78

	OpI64Clz    Opcode = 0x79
	OpI64Ctz    Opcode = 0x7a
	OpI64Popcnt Opcode = 0x7b
	OpI64Add    Opcode = 0x7c
	OpI64Sub    Opcode = 0x7d
	OpI64Mul    Opcode = 0x7e
	OpI64DivS   Opcode = 0x7f
	OpI64DivU   Opcode = 0x80
	OpI64RemS   Opcode = 0x81
	OpI64RemU   Opcode = 0x82
	OpI64And    Opcode = 0x83
	OpI64Or     Opcode = 0x84
	OpI64Xor    Opcode = 0x85
	OpI64Shl    Opcode = 0x86
	OpI64ShrS   Opcode = 0x87
	OpI64ShrU   Opcode = 0x88
	OpI64Rotl   Opcode = 0x89
	OpI64Rotr   Opcode = 0x8a

	OpF32Abs      Opcode = 0x8b
	OpF32Neg      Opcode = 0x8c
	OpF32Ceil     Opcode = 0x8d
	OpF32Floor    Opcode = 0x8e
	OpF32Trunc    Opcode = 0x8f
	OpF32Nearest  Opcode = 0x90
	OpF32Sqrt     Opcode = 0x91
	OpF32Add      Opcode = 0x92
	OpF32Sub      Opcode = 0x93
	OpF32Mul      Opcode = 0x94
	OpF32Div      Opcode = 0x95
	OpF32Min      Opcode = 0x96
	OpF32Max      Opcode = 0x97
	OpF32Copysign Opcode = 0x98

	OpF64Abs      Opcode = 0x99
	OpF64Neg      Opcode = 0x9a
	OpF64Ceil     Opcode = 0x9b
	OpF64Floor    Opcode = 0x9c
	OpF64Trunc    Opcode = 0x9d
	OpF64Nearest  Opcode = 0x9e
	OpF64Sqrt     Opcode = 0x9f
	OpF64Add      Opcode = 0xa0
	OpF64Sub      Opcode = 0xa1
	OpF64Mul      Opcode = 0xa2
	OpF64Div      Opcode = 0xa3
	OpF64Min      Opcode = 0xa4
	OpF64Max      Opcode = 0xa5
	OpF64Copysign Opcode = 0xa6

	OpI32WrapI64      Opcode = 0xa7
	OpI32TruncF32S    Opcode = 0xa8
	OpI32TruncF32U    Opcode = 0xa9
	OpI32TruncF64S    Opcode = 0xaa
	OpI32TruncF64U    Opcode = 0xab
	OpI64ExtendI32S   Opcode = 0xac
	OpI64ExtendI32U   Opcode = 0xad
	OpI64TruncF32S    Opcode = 0xae
	OpI64TruncF32U    Opcode = 0xaf
	OpI64TruncF64S    Opcode = 0xb0
	OpI64TruncF64U    Opcode = 0xb1
	OpF32ConvertI32S  Opcode = 0xb2
	OpF32ConvertI32U  Opcode = 0xb3
	OpF32ConvertI64S  Opcode = 0xb4
	OpF32ConvertI64U  Opcode = 0xb5
	OpF32DemoteF64    Opcode = 0xb6
	OpF64ConvertI32S  Opcode = 0xb7
	OpF64ConvertI32U  Opcode = 0xb8
	OpF64ConvertI64S  Opcode = 0xb9
	OpF64ConvertI64U  Opcode = 0xba
	OpF64PromoteF32   Opcode = 0xbb
	OpI32ReinterpretF32 Opcode = 0xbc
	OpI64ReinterpretF64 Opcode = 0xbd
	OpF32ReinterpretI32 Opcode = 0xbe
	OpF64ReinterpretI64 Opcode = 0xbf
)

func unop(t ValueType) FunctionType  { return FunctionType{Params: []ValueType{t}, Results: []ValueType{t}} }
func binop(t ValueType) FunctionType { return FunctionType{Params: []ValueType{t, t}, Results: []ValueType{t}} }
func testop(t ValueType) FunctionType {
	return FunctionType{Params: []ValueType{t}, Results: []ValueType{ValueTypeI32}}
}
func relop(t ValueType) FunctionType {
	return FunctionType{Params: []ValueType{t, t}, Results: []ValueType{ValueTypeI32}}
}
func cvtop(from, to ValueType) FunctionType {
	return FunctionType{Params: []ValueType{from}, Results: []ValueType{to}}
}

var numericTypes = map[Opcode]FunctionType{
	OpI32Eqz: testop(ValueTypeI32),
	OpI32Eq:  relop(ValueTypeI32), OpI32Ne: relop(ValueTypeI32),
	OpI32LtS: relop(ValueTypeI32), OpI32LtU: relop(ValueTypeI32),
	OpI32GtS: relop(ValueTypeI32), OpI32GtU: relop(ValueTypeI32),
	OpI32LeS: relop(ValueTypeI32), OpI32LeU: relop(ValueTypeI32),
	OpI32GeS: relop(ValueTypeI32), OpI32GeU: relop(ValueTypeI32),

	OpI64Eqz: testop(ValueTypeI64),
	OpI64Eq:  relop(ValueTypeI64), OpI64Ne: relop(ValueTypeI64),
	OpI64LtS: relop(ValueTypeI64), OpI64LtU: relop(ValueTypeI64),
	OpI64GtS: relop(ValueTypeI64), OpI64GtU: relop(ValueTypeI64),
	OpI64LeS: relop(ValueTypeI64), OpI64LeU: relop(ValueTypeI64),
	OpI64GeS: relop(ValueTypeI64), OpI64GeU: relop(ValueTypeI64),

	OpF32Eq: relop(ValueTypeF32), OpF32Ne: relop(ValueTypeF32),
	OpF32Lt: relop(ValueTypeF32), OpF32Gt: relop(ValueTypeF32),
	OpF32Le: relop(ValueTypeF32), OpF32Ge: relop(ValueTypeF32),

	OpF64Eq: relop(ValueTypeF64), OpF64Ne: relop(ValueTypeF64),
	OpF64Lt: relop(ValueTypeF64), OpF64Gt: relop(ValueTypeF64),
	OpF64Le: relop(ValueTypeF64), OpF64Ge: relop(ValueTypeF64),

	OpI32Clz: unop(ValueTypeI32), OpI32Ctz: unop(ValueTypeI32), OpI32Popcnt: unop(ValueTypeI32),
	OpI32Add: binop(ValueTypeI32), OpI32Sub: binop(ValueTypeI32), OpI32Mul: binop(ValueTypeI32),
	OpI32DivS: binop(ValueTypeI32), OpI32DivU: binop(ValueTypeI32),
	OpI32RemS: binop(ValueTypeI32), OpI32RemU: binop(ValueTypeI32),
	OpI32And: binop(ValueTypeI32), OpI32Or: binop(ValueTypeI32), OpI32Xor: binop(ValueTypeI32),
	OpI32Shl: binop(ValueTypeI32), OpI32ShrS: binop(ValueTypeI32), OpI32ShrU: binop(ValueTypeI32),
	OpI32Rotl: binop(ValueTypeI32), OpI32Rotr: binop(ValueTypeI32),

	OpI64Clz: unop(ValueTypeI64), OpI64Ctz: unop(ValueTypeI64), OpI64Popcnt: unop(ValueTypeI64),
	OpI64Add: binop(ValueTypeI64), OpI64Sub: binop(ValueTypeI64), OpI64Mul: binop(ValueTypeI64),
	OpI64DivS: binop(ValueTypeI64), OpI64DivU: binop(ValueTypeI64),
	OpI64RemS: binop(ValueTypeI64), OpI64RemU: binop(ValueTypeI64),
	OpI64And: binop(ValueTypeI64), OpI64Or: binop(ValueTypeI64), OpI64Xor: binop(ValueTypeI64),
	OpI64Shl: binop(ValueTypeI64), OpI64ShrS: binop(ValueTypeI64), OpI64ShrU: binop(ValueTypeI64),
	OpI64Rotl: binop(ValueTypeI64), OpI64Rotr: binop(ValueTypeI64),

	OpF32Abs: unop(ValueTypeF32), OpF32Neg: unop(ValueTypeF32), OpF32Ceil: unop(ValueTypeF32),
	OpF32Floor: unop(ValueTypeF32), OpF32Trunc: unop(ValueTypeF32), OpF32Nearest: unop(ValueTypeF32),
	OpF32Sqrt: unop(ValueTypeF32),
	OpF32Add: binop(ValueTypeF32), OpF32Sub: binop(ValueTypeF32), OpF32Mul: binop(ValueTypeF32),
	OpF32Div: binop(ValueTypeF32), OpF32Min: binop(ValueTypeF32), OpF32Max: binop(ValueTypeF32),
	OpF32Copysign: binop(ValueTypeF32),

	OpF64Abs: unop(ValueTypeF64), OpF64Neg: unop(ValueTypeF64), OpF64Ceil: unop(ValueTypeF64),
	OpF64Floor: unop(ValueTypeF64), OpF64Trunc: unop(ValueTypeF64), OpF64Nearest: unop(ValueTypeF64),
	OpF64Sqrt: unop(ValueTypeF64),
	OpF64Add: binop(ValueTypeF64), OpF64Sub: binop(ValueTypeF64), OpF64Mul: binop(ValueTypeF64),
	OpF64Div: binop(ValueTypeF64), OpF64Min: binop(ValueTypeF64), OpF64Max: binop(ValueTypeF64),
	OpF64Copysign: binop(ValueTypeF64),

	OpI32WrapI64:     cvtop(ValueTypeI64, ValueTypeI32),
	OpI32TruncF32S:   cvtop(ValueTypeF32, ValueTypeI32),
	OpI32TruncF32U:   cvtop(ValueTypeF32, ValueTypeI32),
	OpI32TruncF64S:   cvtop(ValueTypeF64, ValueTypeI32),
	OpI32TruncF64U:   cvtop(ValueTypeF64, ValueTypeI32),
	OpI64ExtendI32S:  cvtop(ValueTypeI32, ValueTypeI64),
	OpI64ExtendI32U:  cvtop(ValueTypeI32, ValueTypeI64),
	OpI64TruncF32S:   cvtop(ValueTypeF32, ValueTypeI64),
	OpI64TruncF32U:   cvtop(ValueTypeF32, ValueTypeI64),
	OpI64TruncF64S:   cvtop(ValueTypeF64, ValueTypeI64),
	OpI64TruncF64U:   cvtop(ValueTypeF64, ValueTypeI64),
	OpF32ConvertI32S: cvtop(ValueTypeI32, ValueTypeF32),
	OpF32ConvertI32U: cvtop(ValueTypeI32, ValueTypeF32),
	OpF32ConvertI64S: cvtop(ValueTypeI64, ValueTypeF32),
	OpF32ConvertI64U: cvtop(ValueTypeI64, ValueTypeF32),
	OpF32DemoteF64:   cvtop(ValueTypeF64, ValueTypeF32),
	OpF64ConvertI32S: cvtop(ValueTypeI32, ValueTypeF64),
	OpF64ConvertI32U: cvtop(ValueTypeI32, ValueTypeF64),
	OpF64ConvertI64S: cvtop(ValueTypeI64, ValueTypeF64),
	OpF64ConvertI64U: cvtop(ValueTypeI64, ValueTypeF64),
	OpF64PromoteF32:  cvtop(ValueTypeF32, ValueTypeF64),

	OpI32ReinterpretF32: cvtop(ValueTypeF32, ValueTypeI32),
	OpI64ReinterpretF64: cvtop(ValueTypeF64, ValueTypeI64),
	OpF32ReinterpretI32: cvtop(ValueTypeI32, ValueTypeF32),
	OpF64ReinterpretI64: cvtop(ValueTypeI64, ValueTypeF64),
}

// numericSignature looks up the fixed signature of a numeric opcode.
func numericSignature(op Opcode) (FunctionType, bool) {
	ft, ok := numericTypes[op]
	return ft, ok
}

// NewNumeric builds an Instruction for one of the operators in this file.
// It panics if op is not a recognized numeric opcode; callers only pass
// constants from this file, so this is a programmer error, not a data error.
func NewNumeric(op Opcode) Instruction {
	if _, ok := numericTypes[op]; !ok {
		panic("wasm: not a numeric opcode")
	}
	return Instruction{Opcode: op, Numeric: true}
}
