package hooks

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/danleh/wasabi/internal/wasm"
)

func TestMangling(t *testing.T) {
	p := NewPlanner(0)

	require.Equal(t, "i32_add", p.GetOrInsert(Binary("i32.add", wasm.ValueTypeI32, wasm.ValueTypeI32, wasm.ValueTypeI32)).Name)
	require.Equal(t, "drop_I", p.GetOrInsert(Drop(wasm.ValueTypeI64)).Name)
	require.Equal(t, "select_ff", p.GetOrInsert(Select(wasm.ValueTypeF32)).Name)
	require.Equal(t, "call_iF", p.GetOrInsert(CallPre(false, []wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeF64})).Name)
	require.Equal(t, "call_post", p.GetOrInsert(CallPost(nil)).Name)
	// Fixed params do not mangle: br_if always takes three i32s.
	require.Equal(t, "br_if", p.GetOrInsert(BrIf()).Name)
}

func TestDeduplicationAndIndexAssignment(t *testing.T) {
	const originalFuncCount = 7
	p := NewPlanner(originalFuncCount)

	first := p.GetOrInsert(Nop())
	second := p.GetOrInsert(Drop(wasm.ValueTypeI32))
	again := p.GetOrInsert(Nop())

	require.Same(t, first, again, "same spec must return the same hook")
	require.Equal(t, wasm.FuncIdx(originalFuncCount), first.FuncIdx)
	require.Equal(t, wasm.FuncIdx(originalFuncCount+1), second.FuncIdx)

	all := p.Hooks()
	require.Len(t, all, 2)
	for i, h := range all {
		require.Equal(t, wasm.FuncIdx(originalFuncCount+i), h.FuncIdx)
	}
}

func TestWasmSignatureLowersI64(t *testing.T) {
	p := NewPlanner(0)
	h := p.GetOrInsert(Drop(wasm.ValueTypeI64))

	// (func idx, instr idx) + the i64 as a (low, high) pair, no results.
	require.Equal(t, wasm.FunctionType{Params: []wasm.ValueType{
		wasm.ValueTypeI32, wasm.ValueTypeI32, wasm.ValueTypeI32, wasm.ValueTypeI32,
	}}, h.Type)

	require.Contains(t, h.JS, "value_low, value_high")
	require.Contains(t, h.JS, "new Long(value_low, value_high)")
	require.Contains(t, h.JS, "Wasabi.analysis.drop({func, instr}, ")
}

func TestTrampolineShape(t *testing.T) {
	p := NewPlanner(0)

	beginFn := p.GetOrInsert(BeginFunction())
	require.Equal(t, `"begin_function": function (func, instr) {
        Wasabi.analysis.begin({func, instr}, "function");
    },`, beginFn.JS)

	brIf := p.GetOrInsert(BrIf())
	require.Contains(t, brIf.JS, "function (func, instr, condition, targetLabel, targetInstr)")
	require.Contains(t, brIf.JS, "{label: targetLabel, location: {func, instr: targetInstr}}, condition === 1")
}

func TestBrTableTrampolineIsStructured(t *testing.T) {
	p := NewPlanner(0)
	h := p.GetOrInsert(BrTable())

	// Two explicit statements, not one glued expression.
	require.Contains(t, h.JS, "Wasabi.analysis.br_table({func, instr}, info.table, info.default, tableIdx);")
	require.Contains(t, h.JS, "Wasabi.endBrTableBlocks(brTablesInfoIdx, tableIdx, func);")
}

func TestConcurrentGetOrInsert(t *testing.T) {
	const originalFuncCount = 3
	p := NewPlanner(originalFuncCount)

	var wg sync.WaitGroup
	results := make([][]*Hook, 8)
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				// Every goroutine requests the same 4 hooks repeatedly.
				results[g] = append(results[g],
					p.GetOrInsert(Nop()),
					p.GetOrInsert(Drop(wasm.ValueTypeI32)),
					p.GetOrInsert(Drop(wasm.ValueTypeI64)),
					p.GetOrInsert(Const("i32.const", wasm.ValueTypeI32)),
				)
			}
		}(g)
	}
	wg.Wait()

	all := p.Hooks()
	require.Len(t, all, 4, "concurrent misses must not double-insert")
	seen := map[wasm.FuncIdx]string{}
	for i, h := range all {
		require.Equal(t, wasm.FuncIdx(originalFuncCount+i), h.FuncIdx, "indices must be dense and in insertion order")
		seen[h.FuncIdx] = h.Name
	}
	for _, rs := range results {
		for _, h := range rs {
			require.Equal(t, seen[h.FuncIdx], h.Name)
		}
	}
}

func TestReturnHookPerResultArity(t *testing.T) {
	p := NewPlanner(0)
	void := p.GetOrInsert(Return(nil))
	i32 := p.GetOrInsert(Return([]wasm.ValueType{wasm.ValueTypeI32}))
	require.Equal(t, "return", void.Name)
	require.Equal(t, "return_i", i32.Name)
	require.NotEqual(t, void.FuncIdx, i32.FuncIdx)
	require.Contains(t, i32.JS, fmt.Sprintf("Wasabi.analysis.return_({func, instr}, [%s]);", "result0"))
}
