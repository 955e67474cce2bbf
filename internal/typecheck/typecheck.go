// Package typecheck recovers the effective input and result types of every
// instruction in a function body, including the ones the WebAssembly binary
// format leaves polymorphic (drop, select, br, return, and the sites that
// follow an unconditional branch or unreachable). It is not a full
// validator, but it does pop a block's declared results at every else and
// end and reports an error if values remain above the block's entry height.
package typecheck

import (
	"fmt"

	"github.com/danleh/wasabi/internal/wasm"
)

// ValType is a concrete value type, or Unknown (⊤) for a value whose type is
// indeterminate because it was produced in unreachable code.
type ValType struct {
	Type    wasm.ValueType
	Unknown bool
}

func Known(t wasm.ValueType) ValType { return ValType{Type: t} }

var Top = ValType{Unknown: true}

// Agrees reports whether a and b could be the same value: concrete types
// must match exactly; Top agrees with anything.
func (a ValType) Agrees(b ValType) bool {
	if a.Unknown || b.Unknown {
		return true
	}
	return a.Type == b.Type
}

// String renders a concrete type's name, or "<unknown>" for Top.
func (a ValType) String() string {
	if a.Unknown {
		return "<unknown>"
	}
	return a.Type.String()
}

// InstrType is the inferred type of one instruction: its Inputs/Results,
// each concrete or Top. Step does not set Unreachable: an instruction after
// a branch or unreachable in the same block gets a type whose operands
// popped below the block's entry height are Top, not Unreachable == true.
type InstrType struct {
	Unreachable bool
	Inputs      []ValType
	Results     []ValType
}

// Error reports a function and instruction index alongside what went wrong,
// satisfying spec.md §7's "type-check failure" error kind.
type Error struct {
	FuncIdx  wasm.FuncIdx
	InstrIdx int
	Msg      string
}

func (e *Error) Error() string {
	return fmt.Sprintf("typecheck: function %d, instruction %d: %s", e.FuncIdx, e.InstrIdx, e.Msg)
}

// frameKind distinguishes the five control-frame shapes the checker tracks.
type frameKind int

const (
	frameFunction frameKind = iota
	frameBlock
	frameLoop
	frameIf
	frameElse
)

// frame is one entry of the control stack: a function, block, loop, if, or
// else region, with the operand-stack height on entry and whether the
// region has gone unreachable (a branch or unreachable already fired in it).
type frame struct {
	kind        frameKind
	inputs      []ValType
	results     []ValType
	height      int
	unreachable bool
}

// labelTypes returns the types delivered to a branch targeting this frame: a
// loop's label carries its inputs (branches re-enter at the top), any other
// frame's label carries its results (branches jump to after the block).
func (f *frame) labelTypes() []ValType {
	if f.kind == frameLoop {
		return f.inputs
	}
	return f.results
}

// Checker is the per-function type-checking state machine described in
// spec.md §4.1: a value stack and a control stack, advanced one instruction
// at a time by Step.
type Checker struct {
	module *wasm.Module
	fn     *wasm.Function
	fnIdx  wasm.FuncIdx

	values []ValType
	ctrl   []*frame
}

// New creates a Checker seeded with fn's own signature as the outermost
// (function) control frame.
func New(module *wasm.Module, fnIdx wasm.FuncIdx) *Checker {
	fn := module.Functions[fnIdx.Int()]
	c := &Checker{module: module, fn: fn, fnIdx: fnIdx}
	c.pushCtrl(frameFunction, nil, toValTypes(fn.Type.Results))
	return c
}

func toValTypes(ts []wasm.ValueType) []ValType {
	out := make([]ValType, len(ts))
	for i, t := range ts {
		out[i] = Known(t)
	}
	return out
}

func (c *Checker) err(instrIdx int, format string, args ...interface{}) error {
	return &Error{FuncIdx: c.fnIdx, InstrIdx: instrIdx, Msg: fmt.Sprintf(format, args...)}
}

func (c *Checker) top() *frame { return c.ctrl[len(c.ctrl)-1] }

func (c *Checker) pushVal(t ValType) {
	c.values = append(c.values, t)
}

func (c *Checker) popVal(instrIdx int) (ValType, error) {
	f := c.top()
	if len(c.values) == f.height {
		if f.unreachable {
			return Top, nil
		}
		return ValType{}, c.err(instrIdx, "value stack underflow")
	}
	v := c.values[len(c.values)-1]
	c.values = c.values[:len(c.values)-1]
	return v, nil
}

func (c *Checker) popValExpected(instrIdx int, expected ValType) (ValType, error) {
	got, err := c.popVal(instrIdx)
	if err != nil {
		return ValType{}, err
	}
	if !got.Agrees(expected) {
		return ValType{}, c.err(instrIdx, "expected %s, got %s", expected, got)
	}
	if got.Unknown {
		return expected, nil
	}
	return got, nil
}

func (c *Checker) pushCtrl(kind frameKind, inputs, results []ValType) {
	c.ctrl = append(c.ctrl, &frame{kind: kind, inputs: inputs, results: results, height: len(c.values)})
	for _, t := range inputs {
		c.pushVal(t)
	}
}

func (c *Checker) popCtrl(instrIdx int) (*frame, error) {
	f := c.top()
	for i := len(f.results) - 1; i >= 0; i-- {
		if _, err := c.popValExpected(instrIdx, f.results[i]); err != nil {
			return nil, err
		}
	}
	if len(c.values) != f.height {
		return nil, c.err(instrIdx, "operand stack has %d extra value(s) at block exit", len(c.values)-f.height)
	}
	c.ctrl = c.ctrl[:len(c.ctrl)-1]
	return f, nil
}

// unreachable truncates the value stack to the current frame's entry height
// and marks it unreachable, per spec.md §4.1.
func (c *Checker) unreachable() {
	f := c.top()
	c.values = c.values[:f.height]
	f.unreachable = true
}

// labelFrame returns the control frame a relative branch label refers to: 0
// is the innermost.
func (c *Checker) labelFrame(instrIdx int, label wasm.LabelIdx) (*frame, error) {
	i := len(c.ctrl) - 1 - label.Int()
	if i < 0 {
		return nil, c.err(instrIdx, "branch label %d exceeds control depth", label)
	}
	return c.ctrl[i], nil
}

// Step advances the checker by one instruction and returns its inferred
// type. instrIdx is used only for error messages.
func (c *Checker) Step(instrIdx int, instr wasm.Instruction) (InstrType, error) {
	if instr.Opcode == wasm.OpUnreachable {
		c.unreachable()
		return InstrType{}, nil
	}
	if ft, ok := instr.MonomorphicType(); ok {
		return c.applyFixed(instrIdx, toValTypes(ft.Params), toValTypes(ft.Results))
	}

	switch instr.Opcode {
	case wasm.OpLocalGet:
		t := c.localType(instr.LocalIdx)
		return c.applyFixed(instrIdx, nil, []ValType{t})
	case wasm.OpLocalSet:
		t := c.localType(instr.LocalIdx)
		return c.applyFixed(instrIdx, []ValType{t}, nil)
	case wasm.OpLocalTee:
		t := c.localType(instr.LocalIdx)
		return c.applyFixed(instrIdx, []ValType{t}, []ValType{t})

	case wasm.OpGlobalGet:
		t := Known(c.module.Globals[instr.GlobalIdx.Int()].Type)
		return c.applyFixed(instrIdx, nil, []ValType{t})
	case wasm.OpGlobalSet:
		t := Known(c.module.Globals[instr.GlobalIdx.Int()].Type)
		return c.applyFixed(instrIdx, []ValType{t}, nil)

	case wasm.OpCall:
		callee := c.module.Functions[instr.Func.Int()].Type
		return c.applyFixed(instrIdx, toValTypes(callee.Params), toValTypes(callee.Results))
	case wasm.OpCallIndirect:
		callee := c.module.Types[instr.TypeIdx.Int()]
		in := append(toValTypes(callee.Params), Known(wasm.ValueTypeI32)) // table index operand
		return c.applyFixed(instrIdx, in, toValTypes(callee.Results))

	case wasm.OpDrop:
		v, err := c.popVal(instrIdx)
		if err != nil {
			return InstrType{}, err
		}
		return InstrType{Inputs: []ValType{v}}, nil

	case wasm.OpSelect:
		if _, err := c.popValExpected(instrIdx, Known(wasm.ValueTypeI32)); err != nil {
			return InstrType{}, err
		}
		b, err := c.popVal(instrIdx)
		if err != nil {
			return InstrType{}, err
		}
		a, err := c.popValExpected(instrIdx, b)
		if err != nil {
			return InstrType{}, err
		}
		c.pushVal(a)
		return InstrType{Inputs: []ValType{a, b, Known(wasm.ValueTypeI32)}, Results: []ValType{a}}, nil

	case wasm.OpBlock, wasm.OpLoop:
		ft := instr.BlockType.FunctionType()
		kind := frameBlock
		if instr.Opcode == wasm.OpLoop {
			kind = frameLoop
		}
		c.pushCtrl(kind, toValTypes(ft.Params), toValTypes(ft.Results))
		return InstrType{}, nil

	case wasm.OpIf:
		if _, err := c.popValExpected(instrIdx, Known(wasm.ValueTypeI32)); err != nil {
			return InstrType{}, err
		}
		ft := instr.BlockType.FunctionType()
		c.pushCtrl(frameIf, toValTypes(ft.Params), toValTypes(ft.Results))
		return InstrType{Inputs: []ValType{Known(wasm.ValueTypeI32)}}, nil

	case wasm.OpElse:
		ifFrame, err := c.popCtrl(instrIdx)
		if err != nil {
			return InstrType{}, err
		}
		if ifFrame.kind != frameIf {
			return InstrType{}, c.err(instrIdx, "else without matching if")
		}
		c.pushCtrl(frameElse, ifFrame.inputs, ifFrame.results)
		return InstrType{}, nil

	case wasm.OpEnd:
		f, err := c.popCtrl(instrIdx)
		if err != nil {
			return InstrType{}, err
		}
		for _, t := range f.results {
			c.pushVal(t)
		}
		return InstrType{Results: f.results}, nil

	case wasm.OpBr:
		f, err := c.labelFrame(instrIdx, instr.Label)
		if err != nil {
			return InstrType{}, err
		}
		types := f.labelTypes()
		if err := c.popPushTypes(instrIdx, types); err != nil {
			return InstrType{}, err
		}
		c.unreachable()
		return InstrType{Inputs: types}, nil

	case wasm.OpBrIf:
		if _, err := c.popValExpected(instrIdx, Known(wasm.ValueTypeI32)); err != nil {
			return InstrType{}, err
		}
		f, err := c.labelFrame(instrIdx, instr.Label)
		if err != nil {
			return InstrType{}, err
		}
		types := f.labelTypes()
		if err := c.popPushTypes(instrIdx, types); err != nil {
			return InstrType{}, err
		}
		return InstrType{Inputs: append(append([]ValType{}, types...), Known(wasm.ValueTypeI32))}, nil

	case wasm.OpBrTable:
		if _, err := c.popValExpected(instrIdx, Known(wasm.ValueTypeI32)); err != nil {
			return InstrType{}, err
		}
		defaultFrame, err := c.labelFrame(instrIdx, instr.Default)
		if err != nil {
			return InstrType{}, err
		}
		types := defaultFrame.labelTypes()
		for _, l := range instr.Table {
			f, err := c.labelFrame(instrIdx, l)
			if err != nil {
				return InstrType{}, err
			}
			if err := c.popPushTypes(instrIdx, f.labelTypes()); err != nil {
				return InstrType{}, err
			}
		}
		if err := c.popPushTypes(instrIdx, types); err != nil {
			return InstrType{}, err
		}
		c.unreachable()
		return InstrType{Inputs: types}, nil

	case wasm.OpReturn:
		types := toValTypes(c.fn.Type.Results)
		if err := c.popPushTypes(instrIdx, types); err != nil {
			return InstrType{}, err
		}
		c.unreachable()
		return InstrType{Inputs: types}, nil

	default:
		return InstrType{}, c.err(instrIdx, "unhandled opcode %s", instr.Opcode.String())
	}
}

// popPushTypes pops types in reverse order (as they'd sit on the stack) then
// pushes them straight back, validating agreement without changing height;
// used by br/br_if/br_table to check a label's types without consuming them.
func (c *Checker) popPushTypes(instrIdx int, types []ValType) error {
	for i := len(types) - 1; i >= 0; i-- {
		if _, err := c.popValExpected(instrIdx, types[i]); err != nil {
			return err
		}
	}
	for _, t := range types {
		c.pushVal(t)
	}
	return nil
}

func (c *Checker) applyFixed(instrIdx int, inputs, results []ValType) (InstrType, error) {
	for i := len(inputs) - 1; i >= 0; i-- {
		if _, err := c.popValExpected(instrIdx, inputs[i]); err != nil {
			return InstrType{}, err
		}
	}
	for _, t := range results {
		c.pushVal(t)
	}
	return InstrType{Inputs: inputs, Results: results}, nil
}

// localType returns the declared type of local slot idx: a function
// parameter if idx is within Type.Params, otherwise an entry of the code's
// declared locals.
func (c *Checker) localType(idx wasm.LocalIdx) ValType {
	i := idx.Int()
	if i < len(c.fn.Type.Params) {
		return Known(c.fn.Type.Params[i])
	}
	i -= len(c.fn.Type.Params)
	for _, l := range c.fn.Code.Locals {
		if i < int(l.Count) {
			return Known(l.Type)
		}
		i -= int(l.Count)
	}
	return Top
}
