package binary

import (
	"bytes"
	"fmt"
	"math"

	"github.com/danleh/wasabi/internal/leb128"
	"github.com/danleh/wasabi/internal/wasm"
)

// reader walks a byte slice left to right, tracking the offset for error
// messages the way the teacher's section decoders report a byte position.
type reader struct {
	data []byte
	pos  int
}

func (r *reader) errorf(format string, args ...interface{}) error {
	return fmt.Errorf("binary: at offset %#x: %s", r.pos, fmt.Sprintf(format, args...))
}

func (r *reader) byte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, r.errorf("unexpected end of input")
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if r.pos+n > len(r.data) {
		return nil, r.errorf("unexpected end of input, wanted %d bytes", n)
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func (r *reader) varU32() (uint32, error) {
	v, n, err := leb128.DecodeUint32(r.data[r.pos:])
	if err != nil {
		return 0, r.errorf("%s", err)
	}
	r.pos += n
	return v, nil
}

func (r *reader) varU64() (uint64, error) {
	v, n, err := leb128.DecodeUint64(r.data[r.pos:])
	if err != nil {
		return 0, r.errorf("%s", err)
	}
	r.pos += n
	return v, nil
}

func (r *reader) varI32() (int32, error) {
	v, n, err := leb128.DecodeInt32(r.data[r.pos:])
	if err != nil {
		return 0, r.errorf("%s", err)
	}
	r.pos += n
	return v, nil
}

func (r *reader) varI64() (int64, error) {
	v, n, err := leb128.DecodeInt64(r.data[r.pos:])
	if err != nil {
		return 0, r.errorf("%s", err)
	}
	r.pos += n
	return v, nil
}

func (r *reader) name() (string, error) {
	n, err := r.varU32()
	if err != nil {
		return "", err
	}
	b, err := r.bytes(int(n))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (r *reader) valueType() (wasm.ValueType, error) {
	b, err := r.byte()
	if err != nil {
		return 0, err
	}
	switch wasm.ValueType(b) {
	case wasm.ValueTypeI32, wasm.ValueTypeI64, wasm.ValueTypeF32, wasm.ValueTypeF64:
		return wasm.ValueType(b), nil
	default:
		return 0, r.errorf("invalid value type byte %#x", b)
	}
}

func (r *reader) blockType() (wasm.BlockType, error) {
	b, err := r.byte()
	if err != nil {
		return wasm.BlockType{}, err
	}
	if b == 0x40 {
		return wasm.BlockType{}, nil
	}
	r.pos--
	vt, err := r.valueType()
	if err != nil {
		return wasm.BlockType{}, err
	}
	return wasm.BlockType{ValueType: &vt}, nil
}

func (r *reader) limits() (wasm.Limits, error) {
	flag, err := r.byte()
	if err != nil {
		return wasm.Limits{}, err
	}
	min, err := r.varU32()
	if err != nil {
		return wasm.Limits{}, err
	}
	l := wasm.Limits{Min: min}
	if flag == 1 {
		max, err := r.varU32()
		if err != nil {
			return wasm.Limits{}, err
		}
		l.Max = &max
	}
	return l, nil
}

// Decode parses a complete WebAssembly binary module into the high-level AST.
func Decode(data []byte) (*wasm.Module, error) {
	r := &reader{data: data}

	magic, err := r.bytes(4)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(magic, Magic[:]) {
		return nil, r.errorf("bad magic number")
	}
	versionBytes, err := r.bytes(4)
	if err != nil {
		return nil, err
	}
	version := uint32(versionBytes[0]) | uint32(versionBytes[1])<<8 | uint32(versionBytes[2])<<16 | uint32(versionBytes[3])<<24
	if version != Version {
		return nil, r.errorf("unsupported version %d", version)
	}

	m := &wasm.Module{}

	var funcTypeIdx []wasm.TypeIdx // one per module-defined function, parallel to the function section
	var importedFuncCount int

	for r.pos < len(r.data) {
		id, err := r.byte()
		if err != nil {
			return nil, err
		}
		size, err := r.varU32()
		if err != nil {
			return nil, err
		}
		sectionEnd := r.pos + int(size)
		if sectionEnd > len(r.data) {
			return nil, r.errorf("section %d size %d exceeds input", id, size)
		}

		switch sectionID(id) {
		case sectionCustom:
			name, err := r.name()
			if err != nil {
				return nil, err
			}
			data, err := r.bytes(sectionEnd - r.pos)
			if err != nil {
				return nil, err
			}
			m.Customs = append(m.Customs, wasm.CustomSection{Name: name, Data: data})

		case sectionType:
			count, err := r.varU32()
			if err != nil {
				return nil, err
			}
			for i := uint32(0); i < count; i++ {
				form, err := r.byte()
				if err != nil {
					return nil, err
				}
				if form != 0x60 {
					return nil, r.errorf("expected func type form 0x60, got %#x", form)
				}
				ft, err := r.readFuncType()
				if err != nil {
					return nil, err
				}
				m.Types = append(m.Types, ft)
			}

		case sectionImport:
			count, err := r.varU32()
			if err != nil {
				return nil, err
			}
			for i := uint32(0); i < count; i++ {
				if err := r.readImport(m, &funcTypeIdx); err != nil {
					return nil, err
				}
			}
			importedFuncCount = len(m.Functions)

		case sectionFunction:
			count, err := r.varU32()
			if err != nil {
				return nil, err
			}
			for i := uint32(0); i < count; i++ {
				ti, err := r.varU32()
				if err != nil {
					return nil, err
				}
				typeIdx := wasm.TypeIdx(ti)
				funcTypeIdx = append(funcTypeIdx, typeIdx)
				m.Functions = append(m.Functions, &wasm.Function{Type: m.Types[typeIdx.Int()]})
			}

		case sectionTable:
			count, err := r.varU32()
			if err != nil {
				return nil, err
			}
			for i := uint32(0); i < count; i++ {
				elemType, err := r.byte()
				if err != nil {
					return nil, err
				}
				limits, err := r.limits()
				if err != nil {
					return nil, err
				}
				m.Tables = append(m.Tables, &wasm.Table{Type: wasm.ValueType(elemType), Limits: limits})
			}

		case sectionMemory:
			count, err := r.varU32()
			if err != nil {
				return nil, err
			}
			for i := uint32(0); i < count; i++ {
				limits, err := r.limits()
				if err != nil {
					return nil, err
				}
				m.Memories = append(m.Memories, &wasm.Memory{Limits: limits})
			}

		case sectionGlobal:
			count, err := r.varU32()
			if err != nil {
				return nil, err
			}
			for i := uint32(0); i < count; i++ {
				vt, err := r.valueType()
				if err != nil {
					return nil, err
				}
				mutByte, err := r.byte()
				if err != nil {
					return nil, err
				}
				init, err := r.readConstExpr()
				if err != nil {
					return nil, err
				}
				m.Globals = append(m.Globals, &wasm.Global{Type: vt, Mut: wasm.Mutability(mutByte == 1), Init: init})
			}

		case sectionExport:
			count, err := r.varU32()
			if err != nil {
				return nil, err
			}
			for i := uint32(0); i < count; i++ {
				name, err := r.name()
				if err != nil {
					return nil, err
				}
				kind, err := r.byte()
				if err != nil {
					return nil, err
				}
				idx, err := r.varU32()
				if err != nil {
					return nil, err
				}
				switch externKind(kind) {
				case externFunc:
					m.Functions[idx].Export = append(m.Functions[idx].Export, name)
				case externTable:
					m.Tables[idx].Export = append(m.Tables[idx].Export, name)
				case externMemory:
					m.Memories[idx].Export = append(m.Memories[idx].Export, name)
				case externGlobal:
					m.Globals[idx].Export = append(m.Globals[idx].Export, name)
				default:
					return nil, r.errorf("invalid export kind %#x", kind)
				}
			}

		case sectionStart:
			idx, err := r.varU32()
			if err != nil {
				return nil, err
			}
			fi := wasm.FuncIdx(idx)
			m.Start = &fi

		case sectionElement:
			count, err := r.varU32()
			if err != nil {
				return nil, err
			}
			for i := uint32(0); i < count; i++ {
				tableIdx, err := r.varU32()
				if err != nil {
					return nil, err
				}
				offset, err := r.readConstExpr()
				if err != nil {
					return nil, err
				}
				fnCount, err := r.varU32()
				if err != nil {
					return nil, err
				}
				funcs := make([]wasm.FuncIdx, fnCount)
				for j := range funcs {
					fi, err := r.varU32()
					if err != nil {
						return nil, err
					}
					funcs[j] = wasm.FuncIdx(fi)
				}
				m.Tables[tableIdx].Elements = append(m.Tables[tableIdx].Elements, wasm.ElementSegment{Offset: offset, Funcs: funcs})
			}

		case sectionCode:
			count, err := r.varU32()
			if err != nil {
				return nil, err
			}
			for i := uint32(0); i < count; i++ {
				bodySize, err := r.varU32()
				if err != nil {
					return nil, err
				}
				bodyEnd := r.pos + int(bodySize)
				locals, err := r.readLocals()
				if err != nil {
					return nil, err
				}
				body, err := r.readInstructions(bodyEnd)
				if err != nil {
					return nil, err
				}
				if r.pos != bodyEnd {
					return nil, r.errorf("code entry %d: expected to end at %#x, at %#x", i, bodyEnd, r.pos)
				}
				m.Functions[importedFuncCount+int(i)].Code = &wasm.Code{Locals: locals, Body: body}
			}

		case sectionData:
			count, err := r.varU32()
			if err != nil {
				return nil, err
			}
			for i := uint32(0); i < count; i++ {
				memIdx, err := r.varU32()
				if err != nil {
					return nil, err
				}
				offset, err := r.readConstExpr()
				if err != nil {
					return nil, err
				}
				n, err := r.varU32()
				if err != nil {
					return nil, err
				}
				b, err := r.bytes(int(n))
				if err != nil {
					return nil, err
				}
				m.Memories[memIdx].Data = append(m.Memories[memIdx].Data, wasm.DataSegment{Offset: offset, Bytes: append([]byte(nil), b...)})
			}

		default:
			return nil, r.errorf("unknown section id %d", id)
		}

		if r.pos != sectionEnd {
			return nil, r.errorf("section %d: expected to end at %#x, at %#x", id, sectionEnd, r.pos)
		}
	}

	return m, nil
}

func (r *reader) readFuncType() (wasm.FunctionType, error) {
	paramCount, err := r.varU32()
	if err != nil {
		return wasm.FunctionType{}, err
	}
	params := make([]wasm.ValueType, paramCount)
	for i := range params {
		if params[i], err = r.valueType(); err != nil {
			return wasm.FunctionType{}, err
		}
	}
	resultCount, err := r.varU32()
	if err != nil {
		return wasm.FunctionType{}, err
	}
	results := make([]wasm.ValueType, resultCount)
	for i := range results {
		if results[i], err = r.valueType(); err != nil {
			return wasm.FunctionType{}, err
		}
	}
	return wasm.FunctionType{Params: params, Results: results}, nil
}

func (r *reader) readImport(m *wasm.Module, funcTypeIdx *[]wasm.TypeIdx) error {
	module, err := r.name()
	if err != nil {
		return err
	}
	name, err := r.name()
	if err != nil {
		return err
	}
	kind, err := r.byte()
	if err != nil {
		return err
	}
	desc := &wasm.ImportDesc{Module: module, Name: name}
	switch externKind(kind) {
	case externFunc:
		ti, err := r.varU32()
		if err != nil {
			return err
		}
		typeIdx := wasm.TypeIdx(ti)
		*funcTypeIdx = append(*funcTypeIdx, typeIdx)
		m.Functions = append(m.Functions, &wasm.Function{Type: m.Types[typeIdx.Int()], Import: desc})
	case externTable:
		elemType, err := r.byte()
		if err != nil {
			return err
		}
		limits, err := r.limits()
		if err != nil {
			return err
		}
		m.Tables = append(m.Tables, &wasm.Table{Type: wasm.ValueType(elemType), Limits: limits, Import: desc})
	case externMemory:
		limits, err := r.limits()
		if err != nil {
			return err
		}
		m.Memories = append(m.Memories, &wasm.Memory{Limits: limits, Import: desc})
	case externGlobal:
		vt, err := r.valueType()
		if err != nil {
			return err
		}
		mutByte, err := r.byte()
		if err != nil {
			return err
		}
		m.Globals = append(m.Globals, &wasm.Global{Type: vt, Mut: wasm.Mutability(mutByte == 1), Import: desc})
	default:
		return r.errorf("invalid import kind %#x", kind)
	}
	return nil
}

func (r *reader) readLocals() ([]wasm.Local, error) {
	count, err := r.varU32()
	if err != nil {
		return nil, err
	}
	locals := make([]wasm.Local, count)
	for i := range locals {
		n, err := r.varU32()
		if err != nil {
			return nil, err
		}
		vt, err := r.valueType()
		if err != nil {
			return nil, err
		}
		locals[i] = wasm.Local{Count: n, Type: vt}
	}
	return locals, nil
}

// readConstExpr reads a constant expression (the initializer of a global, or
// the offset of an element/data segment): a single constant or global.get
// instruction followed by an explicit end.
func (r *reader) readConstExpr() ([]wasm.Instruction, error) {
	var instrs []wasm.Instruction
	for {
		op, err := r.byte()
		if err != nil {
			return nil, err
		}
		if wasm.Opcode(op) == wasm.OpEnd {
			return instrs, nil
		}
		r.pos--
		instr, err := r.readInstruction()
		if err != nil {
			return nil, err
		}
		instrs = append(instrs, instr)
	}
}

// readInstructions reads a function body's flat instruction list, stopping
// at (and not including) the End that closes the implicit function-level
// block, per wasm.Code's documented contract.
func (r *reader) readInstructions(bodyEnd int) ([]wasm.Instruction, error) {
	var instrs []wasm.Instruction
	depth := 0
	for r.pos < bodyEnd {
		opByte := r.data[r.pos]
		if wasm.Opcode(opByte) == wasm.OpEnd && depth == 0 {
			r.pos++
			return instrs, nil
		}
		instr, err := r.readInstruction()
		if err != nil {
			return nil, err
		}
		switch instr.Opcode {
		case wasm.OpBlock, wasm.OpLoop, wasm.OpIf:
			depth++
		case wasm.OpEnd:
			depth--
		}
		instrs = append(instrs, instr)
	}
	return nil, r.errorf("function body ended without a matching end")
}

func (r *reader) readInstruction() (wasm.Instruction, error) {
	opByte, err := r.byte()
	if err != nil {
		return wasm.Instruction{}, err
	}
	op := wasm.Opcode(opByte)

	switch op {
	case wasm.OpUnreachable, wasm.OpNop, wasm.OpElse, wasm.OpEnd, wasm.OpReturn, wasm.OpDrop, wasm.OpSelect:
		return wasm.Instruction{Opcode: op}, nil

	case wasm.OpBlock, wasm.OpLoop, wasm.OpIf:
		bt, err := r.blockType()
		if err != nil {
			return wasm.Instruction{}, err
		}
		return wasm.Instruction{Opcode: op, BlockType: bt}, nil

	case wasm.OpBr, wasm.OpBrIf:
		l, err := r.varU32()
		if err != nil {
			return wasm.Instruction{}, err
		}
		return wasm.Instruction{Opcode: op, Label: wasm.LabelIdx(l)}, nil

	case wasm.OpBrTable:
		count, err := r.varU32()
		if err != nil {
			return wasm.Instruction{}, err
		}
		table := make([]wasm.LabelIdx, count)
		for i := range table {
			l, err := r.varU32()
			if err != nil {
				return wasm.Instruction{}, err
			}
			table[i] = wasm.LabelIdx(l)
		}
		def, err := r.varU32()
		if err != nil {
			return wasm.Instruction{}, err
		}
		return wasm.Instruction{Opcode: op, Table: table, Default: wasm.LabelIdx(def)}, nil

	case wasm.OpCall:
		f, err := r.varU32()
		if err != nil {
			return wasm.Instruction{}, err
		}
		return wasm.Instruction{Opcode: op, Func: wasm.FuncIdx(f)}, nil

	case wasm.OpCallIndirect:
		ti, err := r.varU32()
		if err != nil {
			return wasm.Instruction{}, err
		}
		reserved, err := r.byte()
		if err != nil {
			return wasm.Instruction{}, err
		}
		if reserved != 0x00 {
			return wasm.Instruction{}, r.errorf("call_indirect: reserved byte must be 0, got %#x", reserved)
		}
		return wasm.Instruction{Opcode: op, TypeIdx: wasm.TypeIdx(ti)}, nil

	case wasm.OpLocalGet, wasm.OpLocalSet, wasm.OpLocalTee:
		l, err := r.varU32()
		if err != nil {
			return wasm.Instruction{}, err
		}
		return wasm.Instruction{Opcode: op, LocalIdx: wasm.LocalIdx(l)}, nil

	case wasm.OpGlobalGet, wasm.OpGlobalSet:
		g, err := r.varU32()
		if err != nil {
			return wasm.Instruction{}, err
		}
		return wasm.Instruction{Opcode: op, GlobalIdx: wasm.GlobalIdx(g)}, nil

	case wasm.OpI32Load, wasm.OpI64Load, wasm.OpF32Load, wasm.OpF64Load,
		wasm.OpI32Load8S, wasm.OpI32Load8U, wasm.OpI32Load16S, wasm.OpI32Load16U,
		wasm.OpI64Load8S, wasm.OpI64Load8U, wasm.OpI64Load16S, wasm.OpI64Load16U, wasm.OpI64Load32S, wasm.OpI64Load32U,
		wasm.OpI32Store, wasm.OpI64Store, wasm.OpF32Store, wasm.OpF64Store,
		wasm.OpI32Store8, wasm.OpI32Store16, wasm.OpI64Store8, wasm.OpI64Store16, wasm.OpI64Store32:
		align, err := r.varU32()
		if err != nil {
			return wasm.Instruction{}, err
		}
		offset, err := r.varU32()
		if err != nil {
			return wasm.Instruction{}, err
		}
		return wasm.Instruction{Opcode: op, Memarg: wasm.MemArg{Align: align, Offset: offset}}, nil

	case wasm.OpMemorySize, wasm.OpMemoryGrow:
		reserved, err := r.byte()
		if err != nil {
			return wasm.Instruction{}, err
		}
		if reserved != 0x00 {
			return wasm.Instruction{}, r.errorf("%s: reserved byte must be 0, got %#x", op.String(), reserved)
		}
		return wasm.Instruction{Opcode: op}, nil

	case wasm.OpI32Const:
		v, err := r.varI32()
		if err != nil {
			return wasm.Instruction{}, err
		}
		return wasm.Instruction{Opcode: op, I32: v}, nil

	case wasm.OpI64Const:
		v, err := r.varI64()
		if err != nil {
			return wasm.Instruction{}, err
		}
		return wasm.Instruction{Opcode: op, I64: v}, nil

	case wasm.OpF32Const:
		b, err := r.bytes(4)
		if err != nil {
			return wasm.Instruction{}, err
		}
		bits := uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
		return wasm.Instruction{Opcode: op, F32: math.Float32frombits(bits)}, nil

	case wasm.OpF64Const:
		b, err := r.bytes(8)
		if err != nil {
			return wasm.Instruction{}, err
		}
		var bits uint64
		for i := 7; i >= 0; i-- {
			bits = bits<<8 | uint64(b[i])
		}
		return wasm.Instruction{Opcode: op, F64: math.Float64frombits(bits)}, nil

	default:
		if wasm.IsNumericOpcode(op) {
			return wasm.NewNumeric(op), nil
		}
		return wasm.Instruction{}, r.errorf("unknown opcode %#x", opByte)
	}
}
