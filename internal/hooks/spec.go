package hooks

import (
	"fmt"
	"strings"

	"github.com/danleh/wasabi/internal/wasm"
)

// joinLong renders a comma-separated LongExpr list for params.
func joinLong(params []Param) string {
	parts := make([]string, len(params))
	for i, p := range params {
		parts[i] = LongExpr(p.Name, p.Type)
	}
	return strings.Join(parts, ", ")
}

// Start is the hook run once, before a start function's body, guarded by the
// module's start_not_executed global (spec.md §4.4).
func Start() Spec {
	return Spec{Stem: "start", HighLevel: "start", Filter: "start"}
}

// BeginFunction, BeginBlock, BeginLoop, BeginIf are the hooks run on entry to
// their respective region; their single string tag distinguishes them to the
// high-level "begin" category. They are monomorphic (no Params), so each
// gets one hook regardless of the block's own result type.
func BeginFunction() Spec {
	return Spec{Stem: "begin_function", HighLevel: "begin", Filter: "begin", JSArgs: `"function"`}
}
func BeginBlock() Spec {
	return Spec{Stem: "begin_block", HighLevel: "begin", Filter: "begin", JSArgs: `"block"`}
}
func BeginLoop() Spec {
	return Spec{Stem: "begin_loop", HighLevel: "begin", Filter: "begin", JSArgs: `"loop"`}
}
func BeginIf() Spec {
	return Spec{Stem: "begin_if", HighLevel: "begin", Filter: "begin", JSArgs: `"if"`}
}

// BeginElse additionally carries the instruction index of the if that opened
// the construct, so the analysis can relate the else branch back to its if.
func BeginElse() Spec {
	return Spec{
		Stem: "begin_else", HighLevel: "begin", Filter: "begin",
		Params: []Param{{Name: "ifInstr", Type: wasm.ValueTypeI32}},
		JSArgs: `"else", {func, instr: ifInstr}`,
	}
}

// EndFunction, EndBlock, EndLoop, EndIf, EndElse mirror the begin hooks for
// block exits. EndFunction needs no begin location (the function itself has
// none); the others pass the begin instruction(s) they close.
func EndFunction() Spec {
	return Spec{Stem: "end_function", HighLevel: "end", Filter: "end", JSArgs: `"function", {func, instr: -1}`}
}
func EndBlock() Spec {
	return Spec{
		Stem: "end_block", HighLevel: "end", Filter: "end",
		Params: []Param{{Name: "beginInstr", Type: wasm.ValueTypeI32}},
		JSArgs: `"block", {func, instr: beginInstr}`,
	}
}
func EndLoop() Spec {
	return Spec{
		Stem: "end_loop", HighLevel: "end", Filter: "end",
		Params: []Param{{Name: "beginInstr", Type: wasm.ValueTypeI32}},
		JSArgs: `"loop", {func, instr: beginInstr}`,
	}
}
func EndIf() Spec {
	return Spec{
		Stem: "end_if", HighLevel: "end", Filter: "end",
		Params: []Param{{Name: "beginInstr", Type: wasm.ValueTypeI32}},
		JSArgs: `"if", {func, instr: beginInstr}`,
	}
}
func EndElse() Spec {
	return Spec{
		Stem: "end_else", HighLevel: "end", Filter: "end",
		Params: []Param{{Name: "elseInstr", Type: wasm.ValueTypeI32}, {Name: "ifInstr", Type: wasm.ValueTypeI32}},
		JSArgs: `"else", {func, instr: elseInstr}, {func, instr: ifInstr}`,
	}
}

// Nop and Unreachable are monomorphic, argument-free hooks.
func Nop() Spec {
	return Spec{Stem: "nop", HighLevel: "nop", Filter: "nop"}
}
func Unreachable() Spec {
	return Spec{Stem: "unreachable", HighLevel: "unreachable", Filter: "unreachable"}
}

// If is the condition hook run on every entry to an if, regardless of branch
// taken; its one argument is rendered as a JS boolean.
func If() Spec {
	return Spec{
		Stem: "if", HighLevel: "if_", Filter: "if",
		Params: []Param{{Name: "condition", Type: wasm.ValueTypeI32}},
		JSArgs: "condition === 1",
	}
}

// Br and BrIf carry the branch's resolved target as a {func, instr} location
// alongside its relative label; BrIf additionally carries the condition.
func Br() Spec {
	return Spec{
		Stem: "br", HighLevel: "br", Filter: "br",
		Params: []Param{{Name: "targetLabel", Type: wasm.ValueTypeI32}, {Name: "targetInstr", Type: wasm.ValueTypeI32}},
		JSArgs: "{label: targetLabel, location: {func, instr: targetInstr}}",
	}
}
func BrIf() Spec {
	return Spec{
		Stem: "br_if", HighLevel: "br_if", Filter: "br_if",
		Params: []Param{
			{Name: "condition", Type: wasm.ValueTypeI32},
			{Name: "targetLabel", Type: wasm.ValueTypeI32},
			{Name: "targetInstr", Type: wasm.ValueTypeI32},
		},
		JSArgs: "{label: targetLabel, location: {func, instr: targetInstr}}, condition === 1",
	}
}

// BrTable needs a two-statement trampoline body (the br_table analysis call,
// then Wasabi.endBrTableBlocks to fire end hooks for blocks the jump
// implicitly closes) so it sets Body explicitly rather than threading a
// second statement through JSArgs (spec.md §9's open question on this hook).
func BrTable() Spec {
	return Spec{
		Stem: "br_table", Filter: "br_table",
		Params: []Param{
			{Name: "brTablesInfoIdx", Type: wasm.ValueTypeI32},
			{Name: "tableIdx", Type: wasm.ValueTypeI32},
		},
		Body: "const info = Wasabi.module.info.brTables[brTablesInfoIdx];\n" +
			"        Wasabi.analysis.br_table({func, instr}, info.table, info.default, tableIdx);\n" +
			"        Wasabi.endBrTableBlocks(brTablesInfoIdx, tableIdx, func);",
	}
}

// MemorySize and MemoryGrow report the memory's size in pages; MemoryGrow
// additionally carries the requested delta and the size before growing.
func MemorySize() Spec {
	return Spec{
		Stem: "memory.size", HighLevel: "memory_size", Filter: "memory_size",
		Params: []Param{{Name: "currentSizePages", Type: wasm.ValueTypeI32}},
		JSArgs: "currentSizePages",
	}
}
func MemoryGrow() Spec {
	return Spec{
		Stem: "memory.grow", HighLevel: "memory_grow", Filter: "memory_grow",
		Params: []Param{{Name: "deltaPages", Type: wasm.ValueTypeI32}, {Name: "previousSizePages", Type: wasm.ValueTypeI32}},
		JSArgs: "deltaPages, previousSizePages",
	}
}

// Load and Store report the effective address, offset and alignment hint,
// and the loaded/stored value, typed per the concrete instruction variant.
func Load(instrName string, valType wasm.ValueType) Spec {
	params := []Param{
		{Name: "offset", Type: wasm.ValueTypeI32},
		{Name: "align", Type: wasm.ValueTypeI32},
		{Name: "addr", Type: wasm.ValueTypeI32},
		{Name: "value", Type: valType},
	}
	return Spec{
		Stem: instrName, HighLevel: "load", Filter: "load",
		Params: params,
		JSArgs: fmt.Sprintf("%q, {addr, offset, align}, %s", instrName, LongExpr("value", valType)),
	}
}
func Store(instrName string, valType wasm.ValueType) Spec {
	params := []Param{
		{Name: "offset", Type: wasm.ValueTypeI32},
		{Name: "align", Type: wasm.ValueTypeI32},
		{Name: "addr", Type: wasm.ValueTypeI32},
		{Name: "value", Type: valType},
	}
	return Spec{
		Stem: instrName, HighLevel: "store", Filter: "store",
		Params: params,
		JSArgs: fmt.Sprintf("%q, {addr, offset, align}, %s", instrName, LongExpr("value", valType)),
	}
}

// Const reports the constant's own value.
func Const(instrName string, valType wasm.ValueType) Spec {
	return Spec{
		Stem: instrName, HighLevel: "const_", Filter: "const",
		Params: []Param{{Name: "value", Type: valType}},
		JSArgs: fmt.Sprintf("%q, %s", instrName, LongExpr("value", valType)),
	}
}

// Unary and Binary report the operator's name, its operand(s) and its
// result, typed per the concrete numeric operator (which may convert
// between types, e.g. i32.wrap_i64).
func Unary(instrName string, in, out wasm.ValueType) Spec {
	params := []Param{{Name: "input0", Type: in}, {Name: "result0", Type: out}}
	return Spec{
		Stem: instrName, HighLevel: "unary", Filter: "unary",
		Params: params,
		JSArgs: fmt.Sprintf("%q, %s", instrName, joinLong(params)),
	}
}
func Binary(instrName string, in1, in2, out wasm.ValueType) Spec {
	params := []Param{{Name: "input0", Type: in1}, {Name: "input1", Type: in2}, {Name: "result0", Type: out}}
	return Spec{
		Stem: instrName, HighLevel: "binary", Filter: "binary",
		Params: params,
		JSArgs: fmt.Sprintf("%q, %s", instrName, joinLong(params)),
	}
}

// Drop reports the dropped value, typed per the type checker's recovered
// type at this site (possibly monomorphized from an unreachable ⊤).
func Drop(valType wasm.ValueType) Spec {
	params := []Param{{Name: "value", Type: valType}}
	return Spec{
		Stem: "drop", HighLevel: "drop", Filter: "drop",
		Types:  []wasm.ValueType{valType},
		Params: params,
		JSArgs: joinLong(params),
	}
}

// Select reports the condition and both candidate values, all typed per the
// type checker's recovered type.
func Select(valType wasm.ValueType) Spec {
	params := []Param{
		{Name: "condition", Type: wasm.ValueTypeI32},
		{Name: "input0", Type: valType},
		{Name: "input1", Type: valType},
	}
	return Spec{
		Stem: "select", HighLevel: "select", Filter: "select",
		Types:  []wasm.ValueType{valType, valType},
		Params: params,
		JSArgs: fmt.Sprintf("condition === 1, %s", joinLong(params[1:])),
	}
}

// LocalGet, LocalSet, LocalTee and GlobalGet, GlobalSet report the slot
// index and the value read or written, typed per the slot's declared type.
func LocalGet(valType wasm.ValueType) Spec  { return localOrGlobal("local.get", "local", valType) }
func LocalSet(valType wasm.ValueType) Spec  { return localOrGlobal("local.set", "local", valType) }
func LocalTee(valType wasm.ValueType) Spec  { return localOrGlobal("local.tee", "local", valType) }
func GlobalGet(valType wasm.ValueType) Spec { return localOrGlobal("global.get", "global", valType) }
func GlobalSet(valType wasm.ValueType) Spec { return localOrGlobal("global.set", "global", valType) }

func localOrGlobal(instrName, filter string, valType wasm.ValueType) Spec {
	params := []Param{{Name: "index", Type: wasm.ValueTypeI32}, {Name: "value", Type: valType}}
	return Spec{
		Stem: instrName, HighLevel: filter, Filter: filter,
		Types:  []wasm.ValueType{valType},
		Params: params,
		JSArgs: fmt.Sprintf("%q, index, %s", instrName, LongExpr("value", valType)),
	}
}

// Return reports the function's result values, one per declared result type
// (0 or 1 in MVP).
func Return(resultTypes []wasm.ValueType) Spec {
	params := make([]Param, len(resultTypes))
	for i, t := range resultTypes {
		params[i] = Param{Name: fmt.Sprintf("result%d", i), Type: t}
	}
	return Spec{
		Stem: "return", HighLevel: "return_", Filter: "return",
		Types:  resultTypes,
		Params: params,
		JSArgs: fmt.Sprintf("[%s]", joinLong(params)),
	}
}

// CallPre fires before a call transfers control: direct calls carry the
// resolved target function index, indirect calls the raw and
// host-resolved table slot index. argTypes are the callee's parameter types.
func CallPre(indirect bool, argTypes []wasm.ValueType) Spec {
	var params []Param
	var jsArgs string
	if indirect {
		params = append(params, Param{Name: "tableIndex", Type: wasm.ValueTypeI32})
	} else {
		params = append(params, Param{Name: "targetFunc", Type: wasm.ValueTypeI32})
	}
	for i, t := range argTypes {
		params = append(params, Param{Name: fmt.Sprintf("arg%d", i), Type: t})
	}
	argsExpr := fmt.Sprintf("[%s]", joinLong(params[1:]))
	if indirect {
		jsArgs = fmt.Sprintf("Wasabi.resolveTableIdx(tableIndex), %s, tableIndex", argsExpr)
	} else {
		jsArgs = fmt.Sprintf("targetFunc, %s", argsExpr)
	}
	stem := "call"
	if indirect {
		stem = "call_indirect"
	}
	return Spec{Stem: stem, HighLevel: "call_pre", Filter: "call", Types: argTypes, Params: params, JSArgs: jsArgs}
}

// CallPost fires after a call returns, with its result values. Both direct
// and indirect calls share this hook (mangled purely by result types), since
// by the time the call returns there is nothing left distinguishing them.
func CallPost(resultTypes []wasm.ValueType) Spec {
	params := make([]Param, len(resultTypes))
	for i, t := range resultTypes {
		params[i] = Param{Name: fmt.Sprintf("result%d", i), Type: t}
	}
	return Spec{
		Stem: "call_post", HighLevel: "call_post", Filter: "call",
		Types:  resultTypes,
		Params: params,
		JSArgs: fmt.Sprintf("[%s]", joinLong(params)),
	}
}
