package binary

import (
	"fmt"
	"math"
	"sync"

	"github.com/danleh/wasabi/internal/wasm"
)

// typeTable is the module's type section as encoded: m.Types verbatim, in
// order, plus any signature a Function carries that isn't already in there
// (convenient for hand-built modules in tests). Existing entries are never
// reordered, so a call_indirect's TypeIdx — which indexes into m.Types
// directly — stays valid without any translation.
type typeTable struct {
	types []wasm.FunctionType
	index map[string]uint32
}

func newTypeTable(m *wasm.Module) *typeTable {
	t := &typeTable{index: map[string]uint32{}}
	for _, ft := range m.Types {
		key := ft.TypeString()
		if _, ok := t.index[key]; !ok {
			t.index[key] = uint32(len(t.types))
		}
		t.types = append(t.types, ft)
	}
	return t
}

func (t *typeTable) add(ft wasm.FunctionType) uint32 {
	key := ft.TypeString()
	if i, ok := t.index[key]; ok {
		return i
	}
	i := uint32(len(t.types))
	t.types = append(t.types, ft)
	t.index[key] = i
	return i
}

// idx returns ft's index, appending it if no existing entry matches.
func (t *typeTable) idx(ft wasm.FunctionType) uint32 {
	return t.add(ft)
}

// wireIndices maps each item's position in the module's slices to its index
// in the wire format, where every index space lists imports before defined
// items. For a decoded module the mapping is the identity, preserving
// round-trip equality; it only reorders when a caller (the instrumenter)
// appended imported items after defined ones, which is exactly the "append
// functions without perturbing existing indices" contract this package owes
// its callers.
type wireIndices struct {
	funcs   []uint32
	globals []uint32
}

func buildWireIndices(m *wasm.Module) *wireIndices {
	assign := func(n int, imported func(int) bool) []uint32 {
		out := make([]uint32, n)
		var next uint32
		for i := 0; i < n; i++ {
			if imported(i) {
				out[i] = next
				next++
			}
		}
		for i := 0; i < n; i++ {
			if !imported(i) {
				out[i] = next
				next++
			}
		}
		return out
	}
	return &wireIndices{
		funcs:   assign(len(m.Functions), func(i int) bool { return m.Functions[i].IsImported() }),
		globals: assign(len(m.Globals), func(i int) bool { return m.Globals[i].IsImported() }),
	}
}

// Encode serializes m back to the WebAssembly binary format.
func Encode(m *wasm.Module) ([]byte, error) {
	types := newTypeTable(m)
	for _, f := range m.Functions {
		types.idx(f.Type)
	}
	wire := buildWireIndices(m)

	out := append([]byte{}, Magic[:]...)
	out = putUint32(out, Version)

	if body := encodeTypeSection(types.types); len(body) > 0 {
		out = appendSection(out, sectionType, body)
	}
	if body := encodeImportSection(m, types); len(body) > 0 {
		out = appendSection(out, sectionImport, body)
	}
	if body := encodeFunctionSection(m, types); len(body) > 0 {
		out = appendSection(out, sectionFunction, body)
	}
	if body := encodeTableSection(m); len(body) > 0 {
		out = appendSection(out, sectionTable, body)
	}
	if body := encodeMemorySection(m); len(body) > 0 {
		out = appendSection(out, sectionMemory, body)
	}
	if body := encodeGlobalSection(m, wire); len(body) > 0 {
		out = appendSection(out, sectionGlobal, body)
	}
	if body := encodeExportSection(m, wire); len(body) > 0 {
		out = appendSection(out, sectionExport, body)
	}
	if m.Start != nil {
		out = appendSection(out, sectionStart, putVarU32(nil, wire.funcs[m.Start.Int()]))
	}
	if body := encodeElementSection(m, wire); len(body) > 0 {
		out = appendSection(out, sectionElement, body)
	}
	if body, err := encodeCodeSection(m, wire); err != nil {
		return nil, err
	} else if len(body) > 0 {
		out = appendSection(out, sectionCode, body)
	}
	if body := encodeDataSection(m, wire); len(body) > 0 {
		out = appendSection(out, sectionData, body)
	}
	for _, c := range m.Customs {
		var body []byte
		body = putName(body, c.Name)
		body = append(body, c.Data...)
		out = appendSection(out, sectionCustom, body)
	}

	return out, nil
}

func appendSection(out []byte, id sectionID, body []byte) []byte {
	out = append(out, byte(id))
	out = putVarU32(out, uint32(len(body)))
	return append(out, body...)
}

func encodeTypeSection(types []wasm.FunctionType) []byte {
	if len(types) == 0 {
		return nil
	}
	var b []byte
	b = putVarU32(b, uint32(len(types)))
	for _, ft := range types {
		b = append(b, 0x60)
		b = putVarU32(b, uint32(len(ft.Params)))
		for _, p := range ft.Params {
			b = append(b, byte(p))
		}
		b = putVarU32(b, uint32(len(ft.Results)))
		for _, r := range ft.Results {
			b = append(b, byte(r))
		}
	}
	return b
}

func encodeLimits(l wasm.Limits) []byte {
	var b []byte
	if l.Max != nil {
		b = append(b, 1)
		b = putVarU32(b, l.Min)
		b = putVarU32(b, *l.Max)
	} else {
		b = append(b, 0)
		b = putVarU32(b, l.Min)
	}
	return b
}

func encodeImportSection(m *wasm.Module, types *typeTable) []byte {
	var b []byte
	var count uint32
	for _, f := range m.Functions {
		if f.Import == nil {
			continue
		}
		b = putName(b, f.Import.Module)
		b = putName(b, f.Import.Name)
		b = append(b, byte(externFunc))
		b = putVarU32(b, types.idx(f.Type))
		count++
	}
	for _, tbl := range m.Tables {
		if tbl.Import == nil {
			continue
		}
		b = putName(b, tbl.Import.Module)
		b = putName(b, tbl.Import.Name)
		b = append(b, byte(externTable))
		b = append(b, byte(tbl.Type))
		b = append(b, encodeLimits(tbl.Limits)...)
		count++
	}
	for _, mem := range m.Memories {
		if mem.Import == nil {
			continue
		}
		b = putName(b, mem.Import.Module)
		b = putName(b, mem.Import.Name)
		b = append(b, byte(externMemory))
		b = append(b, encodeLimits(mem.Limits)...)
		count++
	}
	for _, g := range m.Globals {
		if g.Import == nil {
			continue
		}
		b = putName(b, g.Import.Module)
		b = putName(b, g.Import.Name)
		b = append(b, byte(externGlobal))
		b = append(b, byte(g.Type))
		if g.Mut {
			b = append(b, 1)
		} else {
			b = append(b, 0)
		}
		count++
	}
	if count == 0 {
		return nil
	}
	return append(putVarU32(nil, count), b...)
}

func encodeFunctionSection(m *wasm.Module, types *typeTable) []byte {
	var idxs []uint32
	for _, f := range m.Functions {
		if f.IsImported() {
			continue
		}
		idxs = append(idxs, types.idx(f.Type))
	}
	if len(idxs) == 0 {
		return nil
	}
	b := putVarU32(nil, uint32(len(idxs)))
	for _, i := range idxs {
		b = putVarU32(b, i)
	}
	return b
}

func encodeTableSection(m *wasm.Module) []byte {
	var defined []*wasm.Table
	for _, t := range m.Tables {
		if !t.IsImported() {
			defined = append(defined, t)
		}
	}
	if len(defined) == 0 {
		return nil
	}
	b := putVarU32(nil, uint32(len(defined)))
	for _, t := range defined {
		b = append(b, byte(t.Type))
		b = append(b, encodeLimits(t.Limits)...)
	}
	return b
}

func encodeMemorySection(m *wasm.Module) []byte {
	var defined []*wasm.Memory
	for _, mem := range m.Memories {
		if !mem.IsImported() {
			defined = append(defined, mem)
		}
	}
	if len(defined) == 0 {
		return nil
	}
	b := putVarU32(nil, uint32(len(defined)))
	for _, mem := range defined {
		b = append(b, encodeLimits(mem.Limits)...)
	}
	return b
}

func encodeGlobalSection(m *wasm.Module, wire *wireIndices) []byte {
	var defined []*wasm.Global
	for _, g := range m.Globals {
		if !g.IsImported() {
			defined = append(defined, g)
		}
	}
	if len(defined) == 0 {
		return nil
	}
	b := putVarU32(nil, uint32(len(defined)))
	for _, g := range defined {
		b = append(b, byte(g.Type))
		if g.Mut {
			b = append(b, 1)
		} else {
			b = append(b, 0)
		}
		b = append(b, encodeInstructions(g.Init, wire)...)
		b = append(b, byte(wasm.OpEnd))
	}
	return b
}

func encodeExportSection(m *wasm.Module, wire *wireIndices) []byte {
	var b []byte
	var count uint32
	for i, f := range m.Functions {
		for _, name := range f.Export {
			b = putName(b, name)
			b = append(b, byte(externFunc))
			b = putVarU32(b, wire.funcs[i])
			count++
		}
	}
	for i, t := range m.Tables {
		for _, name := range t.Export {
			b = putName(b, name)
			b = append(b, byte(externTable))
			b = putVarU32(b, uint32(i))
			count++
		}
	}
	for i, mem := range m.Memories {
		for _, name := range mem.Export {
			b = putName(b, name)
			b = append(b, byte(externMemory))
			b = putVarU32(b, uint32(i))
			count++
		}
	}
	for i, g := range m.Globals {
		for _, name := range g.Export {
			b = putName(b, name)
			b = append(b, byte(externGlobal))
			b = putVarU32(b, uint32(i))
			count++
		}
	}
	if count == 0 {
		return nil
	}
	return append(putVarU32(nil, count), b...)
}

func encodeElementSection(m *wasm.Module, wire *wireIndices) []byte {
	var b []byte
	var count uint32
	for i, t := range m.Tables {
		for _, elem := range t.Elements {
			b = putVarU32(b, uint32(i))
			b = append(b, encodeInstructions(elem.Offset, wire)...)
			b = append(b, byte(wasm.OpEnd))
			b = putVarU32(b, uint32(len(elem.Funcs)))
			for _, fi := range elem.Funcs {
				b = putVarU32(b, wire.funcs[fi.Int()])
			}
			count++
		}
	}
	if count == 0 {
		return nil
	}
	return append(putVarU32(nil, count), b...)
}

func encodeDataSection(m *wasm.Module, wire *wireIndices) []byte {
	var b []byte
	var count uint32
	for i, mem := range m.Memories {
		for _, d := range mem.Data {
			b = putVarU32(b, uint32(i))
			b = append(b, encodeInstructions(d.Offset, wire)...)
			b = append(b, byte(wasm.OpEnd))
			b = putVarU32(b, uint32(len(d.Bytes)))
			b = append(b, d.Bytes...)
			count++
		}
	}
	if count == 0 {
		return nil
	}
	return append(putVarU32(nil, count), b...)
}

// encodeCodeSection encodes each function body independently and in
// parallel, then concatenates the sized entries in function order. Bodies
// share no state besides the read-only module and index mapping, so this is
// safe, and instrumented modules (where bodies grow 4x) benefit the most.
func encodeCodeSection(m *wasm.Module, wire *wireIndices) ([]byte, error) {
	var defined []*wasm.Function
	for _, f := range m.Functions {
		if !f.IsImported() {
			defined = append(defined, f)
		}
	}
	if len(defined) == 0 {
		return nil, nil
	}

	entries := make([][]byte, len(defined))
	errs := make([]error, len(defined))
	var wg sync.WaitGroup
	for i, f := range defined {
		wg.Add(1)
		go func(i int, f *wasm.Function) {
			defer wg.Done()
			var body []byte
			body = putVarU32(body, uint32(len(f.Code.Locals)))
			for _, l := range f.Code.Locals {
				body = putVarU32(body, l.Count)
				body = append(body, byte(l.Type))
			}
			instrBytes, err := encodeInstructionsErr(f.Code.Body, wire)
			if err != nil {
				errs[i] = fmt.Errorf("binary: encoding function %q: %w", f.Name, err)
				return
			}
			body = append(body, instrBytes...)
			body = append(body, byte(wasm.OpEnd))

			entry := putVarU32(nil, uint32(len(body)))
			entries[i] = append(entry, body...)
		}(i, f)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}

	out := putVarU32(nil, uint32(len(entries)))
	for _, b := range entries {
		out = append(out, b...)
	}
	return out, nil
}

// encodeInstructions encodes a constant expression (global init, segment
// offset), which by construction never fails to encode.
func encodeInstructions(instrs []wasm.Instruction, wire *wireIndices) []byte {
	b, err := encodeInstructionsErr(instrs, wire)
	if err != nil {
		panic(err)
	}
	return b
}

func encodeInstructionsErr(instrs []wasm.Instruction, wire *wireIndices) ([]byte, error) {
	var b []byte
	for _, instr := range instrs {
		eb, err := encodeInstruction(instr, wire)
		if err != nil {
			return nil, err
		}
		b = append(b, eb...)
	}
	return b, nil
}

func encodeInstruction(instr wasm.Instruction, wire *wireIndices) ([]byte, error) {
	b := []byte{byte(instr.Opcode)}

	if instr.Numeric {
		return b, nil
	}

	switch instr.Opcode {
	case wasm.OpUnreachable, wasm.OpNop, wasm.OpElse, wasm.OpEnd, wasm.OpReturn, wasm.OpDrop, wasm.OpSelect:
		return b, nil

	case wasm.OpBlock, wasm.OpLoop, wasm.OpIf:
		if instr.BlockType.ValueType == nil {
			b = append(b, 0x40)
		} else {
			b = append(b, byte(*instr.BlockType.ValueType))
		}
		return b, nil

	case wasm.OpBr, wasm.OpBrIf:
		return putVarU32(b, uint32(instr.Label)), nil

	case wasm.OpBrTable:
		b = putVarU32(b, uint32(len(instr.Table)))
		for _, l := range instr.Table {
			b = putVarU32(b, uint32(l))
		}
		return putVarU32(b, uint32(instr.Default)), nil

	case wasm.OpCall:
		return putVarU32(b, wire.funcs[instr.Func.Int()]), nil

	case wasm.OpCallIndirect:
		b = putVarU32(b, uint32(instr.TypeIdx))
		return append(b, 0x00), nil

	case wasm.OpLocalGet, wasm.OpLocalSet, wasm.OpLocalTee:
		return putVarU32(b, uint32(instr.LocalIdx)), nil

	case wasm.OpGlobalGet, wasm.OpGlobalSet:
		return putVarU32(b, wire.globals[instr.GlobalIdx.Int()]), nil

	case wasm.OpI32Load, wasm.OpI64Load, wasm.OpF32Load, wasm.OpF64Load,
		wasm.OpI32Load8S, wasm.OpI32Load8U, wasm.OpI32Load16S, wasm.OpI32Load16U,
		wasm.OpI64Load8S, wasm.OpI64Load8U, wasm.OpI64Load16S, wasm.OpI64Load16U, wasm.OpI64Load32S, wasm.OpI64Load32U,
		wasm.OpI32Store, wasm.OpI64Store, wasm.OpF32Store, wasm.OpF64Store,
		wasm.OpI32Store8, wasm.OpI32Store16, wasm.OpI64Store8, wasm.OpI64Store16, wasm.OpI64Store32:
		b = putVarU32(b, instr.Memarg.Align)
		return putVarU32(b, instr.Memarg.Offset), nil

	case wasm.OpMemorySize, wasm.OpMemoryGrow:
		return append(b, 0x00), nil

	case wasm.OpI32Const:
		return putVarI32(b, instr.I32), nil

	case wasm.OpI64Const:
		return putVarI64(b, instr.I64), nil

	case wasm.OpF32Const:
		bits := math.Float32bits(instr.F32)
		return append(b, byte(bits), byte(bits>>8), byte(bits>>16), byte(bits>>24)), nil

	case wasm.OpF64Const:
		bits := math.Float64bits(instr.F64)
		for i := 0; i < 8; i++ {
			b = append(b, byte(bits>>(8*uint(i))))
		}
		return b, nil

	default:
		return nil, fmt.Errorf("binary: cannot encode opcode %s", instr.Opcode.String())
	}
}
