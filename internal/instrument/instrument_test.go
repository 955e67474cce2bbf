package instrument

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero"

	"github.com/danleh/wasabi/internal/staticinfo"
	"github.com/danleh/wasabi/internal/wasm"
	"github.com/danleh/wasabi/internal/wasm/binary"
)

func instrumentAll(t *testing.T, m *wasm.Module) *Result {
	t.Helper()
	res, err := Instrument(m, Options{})
	require.NoError(t, err)
	return res
}

// requireValid compiles the encoded module with wazero, a real validating
// engine, standing in for the external validator the original test suite
// shelled out to.
func requireValid(t *testing.T, m *wasm.Module) []byte {
	t.Helper()
	encoded, err := binary.Encode(m)
	require.NoError(t, err)

	ctx := context.Background()
	r := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfigInterpreter())
	defer r.Close(ctx)
	compiled, err := r.CompileModule(ctx, encoded)
	require.NoError(t, err, "instrumented module must validate")
	require.NoError(t, compiled.Close(ctx))
	return encoded
}

func TestEmptyModuleIsUnchanged(t *testing.T) {
	empty := &wasm.Module{}
	original, err := binary.Encode(empty)
	require.NoError(t, err)

	m, err := binary.Decode(original)
	require.NoError(t, err)
	res := instrumentAll(t, m)

	after, err := binary.Encode(m)
	require.NoError(t, err)
	require.Equal(t, original, after, "instrumenting an empty module must be the identity")

	require.Zero(t, res.HookCount)
	require.Contains(t, res.JS, `"functions": []`)
	require.Contains(t, res.JS, `"brTables": []`)
}

func TestUnreachableFunctionBody(t *testing.T) {
	m := &wasm.Module{
		Functions: []*wasm.Function{{
			Type: wasm.FunctionType{},
			Code: &wasm.Code{Body: []wasm.Instruction{{Opcode: wasm.OpUnreachable}}},
		}},
	}
	res := instrumentAll(t, m)

	body := m.Functions[0].Code.Body
	// Function-begin with instruction index -1, then the unreachable hook
	// before the trap itself.
	begin := []wasm.Instruction{
		{Opcode: wasm.OpI32Const, I32: 0},
		{Opcode: wasm.OpI32Const, I32: -1},
		{Opcode: wasm.OpCall, Func: 1},
		{Opcode: wasm.OpI32Const, I32: 0},
		{Opcode: wasm.OpI32Const, I32: 0},
		{Opcode: wasm.OpCall, Func: 2},
		{Opcode: wasm.OpUnreachable},
	}
	require.Equal(t, begin, body[:len(begin)])

	require.Contains(t, res.JS, `"begin_function"`)
	require.Contains(t, res.JS, `"unreachable"`)
	requireValid(t, m)
}

func TestConstAddImplicitReturn(t *testing.T) {
	m := &wasm.Module{
		Functions: []*wasm.Function{{
			Type: wasm.FunctionType{Results: []wasm.ValueType{wasm.ValueTypeI32}},
			Code: &wasm.Code{Body: []wasm.Instruction{
				{Opcode: wasm.OpI32Const, I32: 3},
				{Opcode: wasm.OpI32Const, I32: 4},
				wasm.NewNumeric(wasm.OpI32Add),
			}},
		}},
	}
	instrumentAll(t, m)

	// Hook function indices in request order: begin_function=1, i32_const=2,
	// i32_add=3, end_function=4, return_i=5.
	c := func(v int32) wasm.Instruction { return wasm.Instruction{Opcode: wasm.OpI32Const, I32: v} }
	call := func(f wasm.FuncIdx) wasm.Instruction { return wasm.Instruction{Opcode: wasm.OpCall, Func: f} }
	lget := func(l wasm.LocalIdx) wasm.Instruction { return wasm.Instruction{Opcode: wasm.OpLocalGet, LocalIdx: l} }
	ltee := func(l wasm.LocalIdx) wasm.Instruction { return wasm.Instruction{Opcode: wasm.OpLocalTee, LocalIdx: l} }

	expected := []wasm.Instruction{
		// begin_function
		c(0), c(-1), call(1),
		// i32.const 3: original, location, re-emitted const, hook
		c(3), c(0), c(0), c(3), call(2),
		// i32.const 4
		c(4), c(0), c(1), c(4), call(2),
		// i32.add: save both inputs, execute, save result, location,
		// restore inputs and result, hook
		{Opcode: wasm.OpLocalSet, LocalIdx: 1}, ltee(0), lget(1),
		wasm.NewNumeric(wasm.OpI32Add),
		ltee(2),
		c(0), c(2),
		lget(0), lget(1), lget(2),
		call(3),
		// function end hook
		c(0), c(3), call(4),
		// implicit return: save result, location -1, restore, hook
		ltee(3),
		c(0), c(-1),
		lget(3),
		call(5),
	}
	require.Equal(t, expected, m.Functions[0].Code.Body)
	requireValid(t, m)
}

func TestBrTableResolution(t *testing.T) {
	m := &wasm.Module{
		Functions: []*wasm.Function{{
			Type: wasm.FunctionType{},
			Code: &wasm.Code{Body: []wasm.Instruction{
				{Opcode: wasm.OpBlock},            // 0
				{Opcode: wasm.OpBlock},            // 1
				{Opcode: wasm.OpI32Const, I32: 0}, // 2
				{Opcode: wasm.OpBrTable, Table: []wasm.LabelIdx{0, 1}, Default: 0}, // 3
				{Opcode: wasm.OpEnd}, // 4
				{Opcode: wasm.OpEnd}, // 5
			}},
		}},
	}
	res := instrumentAll(t, m)

	require.Len(t, res.Info.BrTables, 1)
	entry := res.Info.BrTables[0]
	require.Len(t, entry.Table, 2)

	// Label 0 targets the inner block's end, implicitly ending only it.
	require.Equal(t, staticinfo.Location{Func: 0, Instr: 4}, entry.Table[0].Location)
	require.Len(t, entry.Table[0].Ends, 1)
	// Label 1 targets the outer block's end, ending both blocks.
	require.Equal(t, staticinfo.Location{Func: 0, Instr: 5}, entry.Table[1].Location)
	require.Len(t, entry.Table[1].Ends, 2)
	require.Equal(t, entry.Table[0].Location, entry.Default.Location)

	// The hook receives this entry's index as a constant.
	require.Contains(t, res.JS, `"br_table"`)
	body := m.Functions[0].Code.Body
	var sawInfoIdx bool
	for i := 0; i+1 < len(body); i++ {
		if body[i].Opcode == wasm.OpI32Const && body[i].I32 == 0 &&
			body[i+1].Opcode == wasm.OpLocalGet {
			sawInfoIdx = true
		}
	}
	require.True(t, sawInfoIdx, "br_table hook must be passed the brTables index and the runtime table index")
	requireValid(t, m)
}

func TestI64DropLowering(t *testing.T) {
	m := &wasm.Module{
		Functions: []*wasm.Function{{
			Type: wasm.FunctionType{},
			Code: &wasm.Code{
				Locals: []wasm.Local{{Count: 1, Type: wasm.ValueTypeI64}},
				Body: []wasm.Instruction{
					{Opcode: wasm.OpI64Const, I64: 0x1_0000_0002},
					{Opcode: wasm.OpLocalSet, LocalIdx: 0},
					{Opcode: wasm.OpLocalGet, LocalIdx: 0},
					{Opcode: wasm.OpDrop},
				},
			},
		}},
	}
	res := instrumentAll(t, m)

	var dropHook *wasm.Function
	for _, f := range m.Functions {
		if f.Import != nil && f.Import.Module == HookModuleName && f.Import.Name == "drop_I" {
			dropHook = f
		}
	}
	require.NotNil(t, dropHook, "an i64 drop must monomorphize to drop_I")
	// (func, instr) plus the i64 lowered to a (low, high) pair.
	require.Equal(t, []wasm.ValueType{
		wasm.ValueTypeI32, wasm.ValueTypeI32, wasm.ValueTypeI32, wasm.ValueTypeI32,
	}, dropHook.Type.Params)
	require.Empty(t, dropHook.Type.Results)

	require.Contains(t, res.JS, "new Long(value_low, value_high)")
	require.Contains(t, res.JS, "Wasabi.analysis.drop")
	requireValid(t, m)
}

func TestStartFunctionGuard(t *testing.T) {
	start := wasm.FuncIdx(0)
	m := &wasm.Module{
		Functions: []*wasm.Function{{
			Type: wasm.FunctionType{},
			Code: &wasm.Code{Body: []wasm.Instruction{{Opcode: wasm.OpNop}}},
		}},
		Start: &start,
	}
	res := instrumentAll(t, m)

	// The guard global is the only global, mutable i32 initialized to 1.
	require.Len(t, m.Globals, 1)
	g := m.Globals[0]
	require.Equal(t, wasm.ValueTypeI32, g.Type)
	require.Equal(t, wasm.Var, g.Mut)
	require.Equal(t, []wasm.Instruction{{Opcode: wasm.OpI32Const, I32: 1}}, g.Init)

	body := m.Functions[0].Code.Body
	fence := []wasm.Instruction{
		{Opcode: wasm.OpGlobalGet, GlobalIdx: 0},
		{Opcode: wasm.OpIf},
		{Opcode: wasm.OpI32Const, I32: 0},
		{Opcode: wasm.OpGlobalSet, GlobalIdx: 0},
		{Opcode: wasm.OpI32Const, I32: 0},
		{Opcode: wasm.OpI32Const, I32: -1},
		{Opcode: wasm.OpCall, Func: 1}, // start hook, first requested
		{Opcode: wasm.OpEnd},
	}
	require.Equal(t, fence, body[:len(fence)])
	// begin_function follows the fence unconditionally.
	require.Equal(t, wasm.Instruction{Opcode: wasm.OpCall, Func: 2}, body[len(fence)+2])

	require.Contains(t, res.JS, `"start"`)
	requireValid(t, m)
}

// bigModule exercises every instruction category at once: imports, an
// if/else, a loop with br_if, memory access, memory.size/grow, i64 globals,
// direct and indirect calls, select, drop, br_table, and a start function.
func bigModule() *wasm.Module {
	i32 := wasm.ValueTypeI32
	voidType := wasm.FunctionType{}
	computeType := wasm.FunctionType{
		Params:  []wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeI64},
		Results: []wasm.ValueType{wasm.ValueTypeI32},
	}
	mainType := wasm.FunctionType{Results: []wasm.ValueType{wasm.ValueTypeI32}}

	compute := &wasm.Function{
		Type: computeType,
		Code: &wasm.Code{
			Locals: []wasm.Local{{Count: 1, Type: wasm.ValueTypeF64}},
			Body: []wasm.Instruction{
				{Opcode: wasm.OpBlock},
				{Opcode: wasm.OpLocalGet, LocalIdx: 0},
				{Opcode: wasm.OpBrIf, Label: 0},
				{Opcode: wasm.OpEnd},
				{Opcode: wasm.OpLocalGet, LocalIdx: 2},
				wasm.NewNumeric(wasm.OpF64Sqrt),
				{Opcode: wasm.OpDrop},
				{Opcode: wasm.OpLocalGet, LocalIdx: 0},
				{Opcode: wasm.OpI32Const, I32: 1},
				wasm.NewNumeric(wasm.OpI32Add),
				{Opcode: wasm.OpReturn},
			},
		},
	}

	main := &wasm.Function{
		Type:   mainType,
		Export: []string{"main"},
		Code: &wasm.Code{
			Body: []wasm.Instruction{
				{Opcode: wasm.OpCall, Func: 0}, // imported
				{Opcode: wasm.OpI32Const, I32: 1},
				{Opcode: wasm.OpIf, BlockType: wasm.BlockType{ValueType: &i32}},
				{Opcode: wasm.OpI32Const, I32: 2},
				{Opcode: wasm.OpElse},
				{Opcode: wasm.OpI32Const, I32: 3},
				{Opcode: wasm.OpEnd},
				{Opcode: wasm.OpDrop},
				{Opcode: wasm.OpLoop},
				{Opcode: wasm.OpI32Const, I32: 0},
				{Opcode: wasm.OpBrIf, Label: 0},
				{Opcode: wasm.OpEnd},
				{Opcode: wasm.OpI32Const, I32: 0},
				{Opcode: wasm.OpI32Load, Memarg: wasm.MemArg{Align: 2}},
				{Opcode: wasm.OpDrop},
				{Opcode: wasm.OpI32Const, I32: 0},
				{Opcode: wasm.OpI32Const, I32: 42},
				{Opcode: wasm.OpI32Store, Memarg: wasm.MemArg{Align: 2}},
				{Opcode: wasm.OpMemorySize},
				{Opcode: wasm.OpMemoryGrow},
				{Opcode: wasm.OpDrop},
				{Opcode: wasm.OpGlobalGet, GlobalIdx: 0},
				{Opcode: wasm.OpI64Const, I64: 1},
				wasm.NewNumeric(wasm.OpI64Add),
				{Opcode: wasm.OpGlobalSet, GlobalIdx: 0},
				{Opcode: wasm.OpI32Const, I32: 7},
				{Opcode: wasm.OpI64Const, I64: 9},
				{Opcode: wasm.OpCall, Func: 1},
				{Opcode: wasm.OpI32Const, I32: 0},
				{Opcode: wasm.OpCallIndirect, TypeIdx: 2},
				{Opcode: wasm.OpI32Const, I32: 1},
				{Opcode: wasm.OpSelect},
				{Opcode: wasm.OpBlock},
				{Opcode: wasm.OpI32Const, I32: 0},
				{Opcode: wasm.OpBrTable, Table: []wasm.LabelIdx{0}, Default: 0},
				{Opcode: wasm.OpEnd},
			},
		},
	}

	startFn := &wasm.Function{
		Type: voidType,
		Code: &wasm.Code{Body: []wasm.Instruction{{Opcode: wasm.OpNop}}},
	}

	startIdx := wasm.FuncIdx(3)
	max := uint32(4)
	return &wasm.Module{
		Types: []wasm.FunctionType{voidType, computeType, mainType},
		Functions: []*wasm.Function{
			{Type: voidType, Import: &wasm.ImportDesc{Module: "env", Name: "imp"}},
			compute,
			main,
			startFn,
		},
		Tables: []*wasm.Table{{
			Type:   wasm.ValueTypeFuncref,
			Limits: wasm.Limits{Min: 2, Max: &max},
			Elements: []wasm.ElementSegment{{
				Offset: []wasm.Instruction{{Opcode: wasm.OpI32Const, I32: 0}},
				Funcs:  []wasm.FuncIdx{2},
			}},
		}},
		Memories: []*wasm.Memory{{
			Limits: wasm.Limits{Min: 1},
			Data: []wasm.DataSegment{{
				Offset: []wasm.Instruction{{Opcode: wasm.OpI32Const, I32: 8}},
				Bytes:  []byte("abc"),
			}},
		}},
		Globals: []*wasm.Global{{
			Type: wasm.ValueTypeI64,
			Mut:  wasm.Var,
			Init: []wasm.Instruction{{Opcode: wasm.OpI64Const, I64: 10}},
		}},
		Start: &startIdx,
	}
}

func TestBigModuleUninstrumentedIsValid(t *testing.T) {
	requireValid(t, bigModule())
}

func TestBigModuleRoundTrip(t *testing.T) {
	encoded, err := binary.Encode(bigModule())
	require.NoError(t, err)
	decoded, err := binary.Decode(encoded)
	require.NoError(t, err)
	reencoded, err := binary.Encode(decoded)
	require.NoError(t, err)
	require.Equal(t, encoded, reencoded)
}

func TestBigModuleInstrumentedValidates(t *testing.T) {
	m := bigModule()
	res := instrumentAll(t, m)
	require.Greater(t, res.HookCount, 20)

	// Every appended hook import's field name has a matching trampoline.
	originalCount := 4
	for i, f := range m.Functions[originalCount:] {
		require.NotNil(t, f.Import)
		require.Equal(t, HookModuleName, f.Import.Module)
		require.Contains(t, res.JS, `"`+f.Import.Name+`"`, "hook %d has no trampoline", i)
		require.Empty(t, f.Type.Results, "hooks return nothing")
	}

	// Preconditions: all functions and the table are exported.
	require.Equal(t, []string{"__wasabi_table"}, m.Tables[0].Export)
	for i, f := range m.Functions[:originalCount] {
		require.NotEmpty(t, f.Export, "function %d must be exported", i)
	}
	require.Equal(t, []string{"main"}, m.Functions[2].Export, "existing export names are kept")

	requireValid(t, m)
}

func TestHookIndexSanity(t *testing.T) {
	m := bigModule()
	instrumentAll(t, m)
	originalCount := 4

	// Every call the instrumentation inserted that targets an index past the
	// original function count must land on an appended hook import, and no
	// appended function may be anything else.
	for _, f := range m.Functions[originalCount:] {
		require.NotNil(t, f.Import)
		require.Equal(t, HookModuleName, f.Import.Module)
	}
	for _, f := range m.Functions[:originalCount] {
		if f.Code == nil {
			continue
		}
		for _, instr := range f.Code.Body {
			if instr.Opcode == wasm.OpCall && instr.Func.Int() >= originalCount {
				require.Less(t, instr.Func.Int(), len(m.Functions))
				target := m.Functions[instr.Func.Int()]
				require.NotNil(t, target.Import)
				require.Equal(t, HookModuleName, target.Import.Module)
			}
		}
	}
}

func TestFilterRestrictsEmittedHooks(t *testing.T) {
	filter, err := NewHookFilter([]string{CategoryConst}, nil)
	require.NoError(t, err)

	m := &wasm.Module{
		Functions: []*wasm.Function{{
			Type: wasm.FunctionType{Results: []wasm.ValueType{wasm.ValueTypeI32}},
			Code: &wasm.Code{Body: []wasm.Instruction{
				{Opcode: wasm.OpI32Const, I32: 3},
				{Opcode: wasm.OpI32Const, I32: 4},
				wasm.NewNumeric(wasm.OpI32Add),
			}},
		}},
	}
	res, err := Instrument(m, Options{Filter: filter})
	require.NoError(t, err)

	require.Contains(t, res.JS, `"i32_const"`)
	require.NotContains(t, res.JS, `"i32_add"`)
	// begin_function is never filtered out.
	require.Contains(t, res.JS, `"begin_function"`)
	requireValid(t, m)
}

func TestNodeWrapper(t *testing.T) {
	m := &wasm.Module{}
	res, err := Instrument(m, Options{NodeJS: true})
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(strings.TrimSpace(res.JS), "module.exports = Wasabi;"))

	res, err = Instrument(&wasm.Module{}, Options{NodeJS: false})
	require.NoError(t, err)
	require.NotContains(t, res.JS, "module.exports = Wasabi")
}

func TestMultiMemoryIsRejected(t *testing.T) {
	m := &wasm.Module{Memories: []*wasm.Memory{
		{Limits: wasm.Limits{Min: 1}},
		{Limits: wasm.Limits{Min: 1}},
	}}
	_, err := Instrument(m, Options{})
	require.ErrorIs(t, err, ErrUnsupported)
}
