package api

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tetratelabs/wazero"

	"github.com/danleh/wasabi/internal/instrument"
	"github.com/danleh/wasabi/internal/wasm"
	"github.com/danleh/wasabi/internal/wasm/binary"
)

func addOneWasm(t *testing.T) []byte {
	t.Helper()
	ft := wasm.FunctionType{Params: []wasm.ValueType{wasm.ValueTypeI32}, Results: []wasm.ValueType{wasm.ValueTypeI32}}
	encoded, err := binary.Encode(&wasm.Module{
		Types: []wasm.FunctionType{ft},
		Functions: []*wasm.Function{{
			Type:   ft,
			Export: []string{"add_one"},
			Code: &wasm.Code{Body: []wasm.Instruction{
				{Opcode: wasm.OpLocalGet, LocalIdx: 0},
				{Opcode: wasm.OpI32Const, I32: 1},
				wasm.NewNumeric(wasm.OpI32Add),
			}},
		}},
	})
	require.NoError(t, err)
	return encoded
}

func TestInstrumentProducesBothArtifacts(t *testing.T) {
	input := addOneWasm(t)
	res, err := Instrument(input, Options{})
	require.NoError(t, err)

	require.Greater(t, res.HookCount, 0)
	require.Contains(t, string(res.JS), "Wasabi.module.lowlevelHooks")
	require.Contains(t, string(res.JS), `"local_get_i"`)

	// The output is a valid module, and the input was left untouched.
	ctx := context.Background()
	r := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfigInterpreter())
	defer r.Close(ctx)
	_, err = r.CompileModule(ctx, res.Wasm)
	require.NoError(t, err)
	require.Equal(t, addOneWasm(t), input)
}

func TestInstrumentRejectsGarbage(t *testing.T) {
	_, err := Instrument([]byte("not wasm"), Options{})
	require.Error(t, err)
}

func TestInstrumentRejectsConflictingFilters(t *testing.T) {
	_, err := Instrument(addOneWasm(t), Options{Hooks: []string{"br"}, NoHooks: []string{"call"}})
	require.Error(t, err)
}

func TestInstrumentReportsUnsupported(t *testing.T) {
	encoded, err := binary.Encode(&wasm.Module{Memories: []*wasm.Memory{
		{Limits: wasm.Limits{Min: 1}},
		{Limits: wasm.Limits{Min: 1}},
	}})
	require.NoError(t, err)
	_, err = Instrument(encoded, Options{})
	require.ErrorIs(t, err, instrument.ErrUnsupported)
}
