package binary

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/danleh/wasabi/internal/wasm"
)

// addOne builds a minimal module exporting a function
// (func (export "add_one") (param i32) (result i32) (local.get 0) (i32.const 1) (i32.add))
func addOne() *wasm.Module {
	ft := wasm.FunctionType{Params: []wasm.ValueType{wasm.ValueTypeI32}, Results: []wasm.ValueType{wasm.ValueTypeI32}}
	return &wasm.Module{
		Types: []wasm.FunctionType{ft},
		Functions: []*wasm.Function{
			{
				Type:   ft,
				Export: []string{"add_one"},
				Code: &wasm.Code{
					Body: []wasm.Instruction{
						{Opcode: wasm.OpLocalGet, LocalIdx: 0},
						{Opcode: wasm.OpI32Const, I32: 1},
						wasm.NewNumeric(wasm.OpI32Add),
					},
				},
			},
		},
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	m := addOne()
	encoded, err := Encode(m)
	require.NoError(t, err)
	require.Equal(t, Magic[:], encoded[:4])

	decoded, err := Decode(encoded)
	require.NoError(t, err)

	require.Len(t, decoded.Functions, 1)
	f := decoded.Functions[0]
	require.Equal(t, []string{"add_one"}, f.Export)
	require.Equal(t, m.Functions[0].Type, f.Type)
	require.Equal(t, m.Functions[0].Code.Body, f.Code.Body)

	// Re-encoding the decoded module must reproduce the same bytes.
	reencoded, err := Encode(decoded)
	require.NoError(t, err)
	require.Equal(t, encoded, reencoded)
}

func TestDecodeEmptyModule(t *testing.T) {
	empty := &wasm.Module{}
	encoded, err := Encode(empty)
	require.NoError(t, err)
	require.Equal(t, append(append([]byte{}, Magic[:]...), 1, 0, 0, 0), encoded)

	decoded, err := Decode(encoded)
	require.NoError(t, err)
	require.Empty(t, decoded.Functions)
	require.Empty(t, decoded.Types)
}

func TestDecodeRejectsBadMagic(t *testing.T) {
	_, err := Decode([]byte{0, 1, 2, 3, 1, 0, 0, 0})
	require.Error(t, err)
}

func TestDecodeWithBlocksAndBranches(t *testing.T) {
	i32 := wasm.ValueTypeI32
	m := &wasm.Module{
		Functions: []*wasm.Function{
			{
				Type: wasm.FunctionType{Results: []wasm.ValueType{wasm.ValueTypeI32}},
				Code: &wasm.Code{
					Body: []wasm.Instruction{
						{Opcode: wasm.OpBlock, BlockType: wasm.BlockType{ValueType: &i32}},
						{Opcode: wasm.OpI32Const, I32: 7},
						{Opcode: wasm.OpBr, Label: 0},
						{Opcode: wasm.OpEnd},
					},
				},
			},
		},
	}
	encoded, err := Encode(m)
	require.NoError(t, err)
	decoded, err := Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, m.Functions[0].Code.Body, decoded.Functions[0].Code.Body)
}

func TestDecodeStartFunctionAndGlobal(t *testing.T) {
	zero := wasm.FuncIdx(0)
	m := &wasm.Module{
		Globals: []*wasm.Global{
			{Type: wasm.ValueTypeI32, Mut: wasm.Var, Init: []wasm.Instruction{{Opcode: wasm.OpI32Const, I32: 0}}},
		},
		Functions: []*wasm.Function{
			{Type: wasm.FunctionType{}, Code: &wasm.Code{}},
		},
		Start: &zero,
	}
	encoded, err := Encode(m)
	require.NoError(t, err)
	decoded, err := Decode(encoded)
	require.NoError(t, err)
	require.NotNil(t, decoded.Start)
	require.Equal(t, wasm.FuncIdx(0), *decoded.Start)
	require.Len(t, decoded.Globals, 1)
	require.Equal(t, wasm.Var, decoded.Globals[0].Mut)
}

// The instrumenter appends imported hook functions after all defined ones;
// the encoder must renumber into the wire's imports-first index space
// without disturbing what any existing index refers to.
func TestAppendedImportKeepsExistingIndicesStable(t *testing.T) {
	void := wasm.FunctionType{}
	m := &wasm.Module{
		Types: []wasm.FunctionType{void},
		Functions: []*wasm.Function{
			{Type: void, Import: &wasm.ImportDesc{Module: "env", Name: "a"}}, // 0
			{ // 1
				Type:   void,
				Export: []string{"main"},
				Code: &wasm.Code{Body: []wasm.Instruction{
					{Opcode: wasm.OpCall, Func: 0},
				}},
			},
		},
	}
	// Append a hook import at the end and call it from main, exactly as the
	// instrumenter does.
	m.Functions = append(m.Functions, &wasm.Function{
		Type:   void,
		Import: &wasm.ImportDesc{Module: "__wasabi_hooks", Name: "nop"},
	})
	m.Functions[1].Code.Body = append(m.Functions[1].Code.Body, wasm.Instruction{Opcode: wasm.OpCall, Func: 2})

	encoded, err := Encode(m)
	require.NoError(t, err)
	decoded, err := Decode(encoded)
	require.NoError(t, err)

	// On the wire, imports come first: env.a, then the hook, then main.
	require.Len(t, decoded.Functions, 3)
	require.Equal(t, "a", decoded.Functions[0].Import.Name)
	require.Equal(t, "nop", decoded.Functions[1].Import.Name)
	main := decoded.Functions[2]
	require.Equal(t, []string{"main"}, main.Export)

	// main's first call still reaches env.a, its second the hook.
	require.Equal(t, []wasm.Instruction{
		{Opcode: wasm.OpCall, Func: 0},
		{Opcode: wasm.OpCall, Func: 1},
	}, main.Code.Body)
}
