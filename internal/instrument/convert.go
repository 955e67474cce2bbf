package instrument

import "github.com/danleh/wasabi/internal/wasm"

// funcBuilder tracks the fresh locals the instrumenter allocates while
// rewriting one function. Parameters and declared locals share an index
// space, so slotTypes holds params first, then the expansion of the declared
// local runs, then the instrumentation temporaries appended by freshLocal.
type funcBuilder struct {
	fn        *wasm.Function
	fidx      wasm.FuncIdx
	slotTypes []wasm.ValueType
}

func newFuncBuilder(fn *wasm.Function, fidx wasm.FuncIdx) *funcBuilder {
	b := &funcBuilder{fn: fn, fidx: fidx}
	b.slotTypes = append(b.slotTypes, fn.Type.Params...)
	for _, l := range fn.Code.Locals {
		for i := uint32(0); i < l.Count; i++ {
			b.slotTypes = append(b.slotTypes, l.Type)
		}
	}
	return b
}

// freshLocal declares a new local of type t and returns its slot index.
func (b *funcBuilder) freshLocal(t wasm.ValueType) wasm.LocalIdx {
	idx := wasm.LocalIdx(len(b.slotTypes))
	b.slotTypes = append(b.slotTypes, t)
	b.fn.Code.Locals = append(b.fn.Code.Locals, wasm.Local{Count: 1, Type: t})
	return idx
}

func (b *funcBuilder) freshLocals(types []wasm.ValueType) []wasm.LocalIdx {
	out := make([]wasm.LocalIdx, len(types))
	for i, t := range types {
		out[i] = b.freshLocal(t)
	}
	return out
}

func (b *funcBuilder) slotType(idx wasm.LocalIdx) wasm.ValueType {
	return b.slotTypes[idx.Int()]
}

func i32Const(v int32) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpI32Const, I32: v}
}

func localGet(idx wasm.LocalIdx) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpLocalGet, LocalIdx: idx}
}

func localSet(idx wasm.LocalIdx) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpLocalSet, LocalIdx: idx}
}

func localTee(idx wasm.LocalIdx) wasm.Instruction {
	return wasm.Instruction{Opcode: wasm.OpLocalTee, LocalIdx: idx}
}

// convertI64Instr appends instructions that leave produce's value on the
// stack in the shape hooks expect: unchanged for i32/f32/f64, or as the
// (low, high) i32 pair for i64, obtained by executing produce twice with a
// wrap and a shift-then-wrap. produce must be side-effect free and push
// exactly one value, which holds for local.get, global.get, and constants —
// the only producers the instrumenter passes here.
func convertI64Instr(out []wasm.Instruction, produce wasm.Instruction, t wasm.ValueType) []wasm.Instruction {
	if t != wasm.ValueTypeI64 {
		return append(out, produce)
	}
	return append(out,
		produce,
		wasm.NewNumeric(wasm.OpI32WrapI64), // low half
		produce,
		wasm.Instruction{Opcode: wasm.OpI64Const, I64: 32},
		wasm.NewNumeric(wasm.OpI64ShrS),
		wasm.NewNumeric(wasm.OpI32WrapI64), // high half
	)
}

// saveStackToLocals captures the top len(locals) stack values into the given
// locals (bottom value into locals[0]) and restores the stack to its prior
// shape: set every local but the bottommost top-down, tee the bottommost,
// then get the others back in order. Types of the locals must match the
// stack; callers allocate them from the same type list they popped.
func saveStackToLocals(out []wasm.Instruction, locals []wasm.LocalIdx) []wasm.Instruction {
	if len(locals) == 0 {
		return out
	}
	for i := len(locals) - 1; i >= 1; i-- {
		out = append(out, localSet(locals[i]))
	}
	out = append(out, localTee(locals[0]))
	for _, l := range locals[1:] {
		out = append(out, localGet(l))
	}
	return out
}

// restoreLocalsWithI64Handling pushes each local's value for consumption by
// a hook call, splitting i64 values into (low, high) i32 pairs.
func restoreLocalsWithI64Handling(out []wasm.Instruction, locals []wasm.LocalIdx, b *funcBuilder) []wasm.Instruction {
	for _, l := range locals {
		out = convertI64Instr(out, localGet(l), b.slotType(l))
	}
	return out
}
