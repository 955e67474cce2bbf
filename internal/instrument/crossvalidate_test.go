//go:build crossvalidate

package instrument

// Cross-engine validation: beyond wazero, confirm the instrumented binary
// also loads in wasmtime and wasmer. Both engines need cgo and a native
// runtime library, so this file is opt-in via the crossvalidate build tag:
//
//	go test -tags crossvalidate ./internal/instrument/

import (
	"testing"

	wasmtime "github.com/bytecodealliance/wasmtime-go"
	"github.com/stretchr/testify/require"
	"github.com/wasmerio/wasmer-go/wasmer"

	"github.com/danleh/wasabi/internal/wasm/binary"
)

func TestInstrumentedModuleLoadsInWasmtime(t *testing.T) {
	m := bigModule()
	instrumentAll(t, m)
	encoded, err := binary.Encode(m)
	require.NoError(t, err)

	engine := wasmtime.NewEngine()
	module, err := wasmtime.NewModule(engine, encoded)
	require.NoError(t, err)
	require.NotNil(t, module)
}

func TestInstrumentedModuleLoadsInWasmer(t *testing.T) {
	m := bigModule()
	instrumentAll(t, m)
	encoded, err := binary.Encode(m)
	require.NoError(t, err)

	engine := wasmer.NewEngine()
	store := wasmer.NewStore(engine)
	module, err := wasmer.NewModule(store, encoded)
	require.NoError(t, err)
	require.NotNil(t, module)
}
