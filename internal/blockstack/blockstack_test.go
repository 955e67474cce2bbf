package blockstack

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/danleh/wasabi/internal/wasm"
)

// body: block { const 1; br 0 } end
func simpleBlockBody() []wasm.Instruction {
	return []wasm.Instruction{
		{Opcode: wasm.OpBlock},          // 0
		{Opcode: wasm.OpI32Const, I32: 1}, // 1
		{Opcode: wasm.OpBr, Label: 0},   // 2
		{Opcode: wasm.OpEnd},            // 3
	}
}

func TestBeginEndResolution(t *testing.T) {
	body := simpleBlockBody()
	r, err := New(body)
	require.NoError(t, err)

	el := r.BeginBlock(0)
	require.Equal(t, Block, el.Kind)
	require.Equal(t, 3, el.End)

	target, ended, err := r.BrTarget(0)
	require.NoError(t, err)
	require.Equal(t, 3, target) // forward branch to the block's end
	require.Len(t, ended, 1)
	require.Equal(t, Block, ended[0].Kind)

	popped := r.End(3)
	require.Equal(t, Block, popped.Kind)
	require.Equal(t, 0, r.Depth())
}

func TestLoopBranchTargetsBegin(t *testing.T) {
	body := []wasm.Instruction{
		{Opcode: wasm.OpLoop}, // 0
		{Opcode: wasm.OpBr, Label: 0},
		{Opcode: wasm.OpEnd}, // 2
	}
	r, err := New(body)
	require.NoError(t, err)
	r.BeginLoop(0)
	target, ended, err := r.BrTarget(0)
	require.NoError(t, err)
	require.Equal(t, 0, target) // backward branch to the loop's begin
	require.Len(t, ended, 1)
	require.Equal(t, Loop, ended[0].Kind)
}

func TestIfElseResolution(t *testing.T) {
	body := []wasm.Instruction{
		{Opcode: wasm.OpIf},   // 0
		{Opcode: wasm.OpNop},  // 1
		{Opcode: wasm.OpElse}, // 2
		{Opcode: wasm.OpNop},  // 3
		{Opcode: wasm.OpEnd},  // 4
	}
	r, err := New(body)
	require.NoError(t, err)

	ifEl := r.BeginIf(0)
	require.Equal(t, 2, ifEl.End) // the if's region ends at the else

	closedIf := r.Else(2)
	require.Equal(t, If, closedIf.Kind)
	require.Equal(t, 0, closedIf.Begin)

	elseEl := r.End(4)
	require.Equal(t, Else, elseEl.Kind)
	require.Equal(t, 0, elseEl.BeginIf)
	require.Equal(t, 4, elseEl.End)
}

func TestReturnTargetIncludesFunctionFrame(t *testing.T) {
	body := []wasm.Instruction{
		{Opcode: wasm.OpBlock},
		{Opcode: wasm.OpReturn},
		{Opcode: wasm.OpEnd},
	}
	r, err := New(body)
	require.NoError(t, err)
	r.BeginBlock(0)

	target, ended := r.ReturnTarget()
	require.Equal(t, len(body), target)
	require.Len(t, ended, 2)
	require.Equal(t, Block, ended[0].Kind)
	require.Equal(t, Function, ended[1].Kind)
}

func TestUnclosedBlockIsAnError(t *testing.T) {
	_, err := New([]wasm.Instruction{{Opcode: wasm.OpBlock}})
	require.Error(t, err)
}

func TestElseWithoutIfIsAnError(t *testing.T) {
	_, err := New([]wasm.Instruction{{Opcode: wasm.OpElse}, {Opcode: wasm.OpEnd}})
	require.Error(t, err)
}
