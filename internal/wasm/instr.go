package wasm

// Opcode is a single WebAssembly MVP instruction's leading byte. Constants
// below name the ones the AST and instrumenter treat specially (control
// flow, locals/globals, memory access, constants); the remaining numeric
// operators (unary and binary arithmetic, comparisons, conversions) are
// enumerated in ops.go since their stack effect is a pure function of the
// opcode alone.
type Opcode byte

const (
	OpUnreachable Opcode = 0x00
	OpNop         Opcode = 0x01
	OpBlock       Opcode = 0x02
	OpLoop        Opcode = 0x03
	OpIf          Opcode = 0x04
	OpElse        Opcode = 0x05
	OpEnd         Opcode = 0x0b
	OpBr          Opcode = 0x0c
	OpBrIf        Opcode = 0x0d
	OpBrTable     Opcode = 0x0e
	OpReturn      Opcode = 0x0f
	OpCall        Opcode = 0x10
	OpCallIndirect Opcode = 0x11

	OpDrop   Opcode = 0x1a
	OpSelect Opcode = 0x1b

	OpLocalGet  Opcode = 0x20
	OpLocalSet  Opcode = 0x21
	OpLocalTee  Opcode = 0x22
	OpGlobalGet Opcode = 0x23
	OpGlobalSet Opcode = 0x24

	OpI32Load    Opcode = 0x28
	OpI64Load    Opcode = 0x29
	OpF32Load    Opcode = 0x2a
	OpF64Load    Opcode = 0x2b
	OpI32Load8S  Opcode = 0x2c
	OpI32Load8U  Opcode = 0x2d
	OpI32Load16S Opcode = 0x2e
	OpI32Load16U Opcode = 0x2f
	OpI64Load8S  Opcode = 0x30
	OpI64Load8U  Opcode = 0x31
	OpI64Load16S Opcode = 0x32
	OpI64Load16U Opcode = 0x33
	OpI64Load32S Opcode = 0x34
	OpI64Load32U Opcode = 0x35
	OpI32Store   Opcode = 0x36
	OpI64Store   Opcode = 0x37
	OpF32Store   Opcode = 0x38
	OpF64Store   Opcode = 0x39
	OpI32Store8  Opcode = 0x3a
	OpI32Store16 Opcode = 0x3b
	OpI64Store8  Opcode = 0x3c
	OpI64Store16 Opcode = 0x3d
	OpI64Store32 Opcode = 0x3e

	OpMemorySize Opcode = 0x3f
	OpMemoryGrow Opcode = 0x40

	OpI32Const Opcode = 0x41
	OpI64Const Opcode = 0x42
	OpF32Const Opcode = 0x43
	OpF64Const Opcode = 0x44
)

// MemArg is the static (alignment, offset) pair attached to a load or store
// instruction. Align is the log2 of the natural alignment hint, not the
// alignment itself, per the binary format.
type MemArg struct {
	Align  uint32
	Offset uint32
}

// Instruction is a single flat tagged union covering every MVP opcode: the
// Opcode field is the tag, and only the fields relevant to that opcode are
// populated. This mirrors the high-level AST's preference for one flat type
// per concept (plain data, consumed by type switches) over a hierarchy of
// instruction kinds.
type Instruction struct {
	Opcode Opcode

	// Block, Loop, If
	BlockType BlockType

	// Br, BrIf
	Label LabelIdx

	// BrTable: Table is the per-value jump targets, Default the fallback.
	Table   []LabelIdx
	Default LabelIdx

	// Call
	Func FuncIdx

	// CallIndirect
	TypeIdx TypeIdx
	TableIdx TableIdx

	// LocalGet, LocalSet, LocalTee
	LocalIdx LocalIdx

	// GlobalGet, GlobalSet
	GlobalIdx GlobalIdx

	// Loads and stores
	Memarg MemArg

	// Consts
	I32 int32
	I64 int64
	F32 float32
	F64 float64

	// Set for instructions whose opcode is one of the arithmetic/comparison
	// operators enumerated in ops.go, rather than one of the constants above.
	Numeric bool
}

// IsNumeric reports whether instr is one of the pure arithmetic, comparison,
// or conversion operators in ops.go, whose type signature depends only on
// the opcode.
func (instr Instruction) IsNumeric() bool {
	return instr.Numeric
}

// MonomorphicType returns the fixed (inputs, results) signature of instr when
// it is context-independent: numeric operators, constants, loads, stores,
// memory.size/grow, and nop/unreachable (vacuously, since unreachable code is
// never type checked against a concrete signature).
//
// It returns ok=false for instructions whose type depends on surrounding
// context and must be resolved by the type checker: drop, select, block
// constructs, br/br_if/br_table, return, call, call_indirect, and the
// local/global accessors.
func (instr Instruction) MonomorphicType() (ft FunctionType, ok bool) {
	if instr.Numeric {
		return numericSignature(instr.Opcode)
	}
	switch instr.Opcode {
	case OpNop, OpUnreachable:
		return FunctionType{}, true
	case OpI32Const:
		return FunctionType{Results: []ValueType{ValueTypeI32}}, true
	case OpI64Const:
		return FunctionType{Results: []ValueType{ValueTypeI64}}, true
	case OpF32Const:
		return FunctionType{Results: []ValueType{ValueTypeF32}}, true
	case OpF64Const:
		return FunctionType{Results: []ValueType{ValueTypeF64}}, true
	case OpMemorySize:
		return FunctionType{Results: []ValueType{ValueTypeI32}}, true
	case OpMemoryGrow:
		return FunctionType{Params: []ValueType{ValueTypeI32}, Results: []ValueType{ValueTypeI32}}, true
	case OpI32Load, OpI32Load8S, OpI32Load8U, OpI32Load16S, OpI32Load16U:
		return FunctionType{Params: []ValueType{ValueTypeI32}, Results: []ValueType{ValueTypeI32}}, true
	case OpI64Load, OpI64Load8S, OpI64Load8U, OpI64Load16S, OpI64Load16U, OpI64Load32S, OpI64Load32U:
		return FunctionType{Params: []ValueType{ValueTypeI32}, Results: []ValueType{ValueTypeI64}}, true
	case OpF32Load:
		return FunctionType{Params: []ValueType{ValueTypeI32}, Results: []ValueType{ValueTypeF32}}, true
	case OpF64Load:
		return FunctionType{Params: []ValueType{ValueTypeI32}, Results: []ValueType{ValueTypeF64}}, true
	case OpI32Store, OpI32Store8, OpI32Store16:
		return FunctionType{Params: []ValueType{ValueTypeI32, ValueTypeI32}}, true
	case OpI64Store, OpI64Store8, OpI64Store16, OpI64Store32:
		return FunctionType{Params: []ValueType{ValueTypeI32, ValueTypeI64}}, true
	case OpF32Store:
		return FunctionType{Params: []ValueType{ValueTypeI32, ValueTypeF32}}, true
	case OpF64Store:
		return FunctionType{Params: []ValueType{ValueTypeI32, ValueTypeF64}}, true
	default:
		return FunctionType{}, false
	}
}
