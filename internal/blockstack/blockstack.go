// Package blockstack resolves a function body's structured control flow:
// for every block-opening instruction, where its matching end (and, for an
// if, its matching else) sits, and for every branch, which absolute
// instruction it targets and which currently-open blocks it implicitly
// closes on the way out. internal/instrument drives a Resolver through a
// function's instructions in lockstep with the type checker.
package blockstack

import (
	"fmt"

	"github.com/danleh/wasabi/internal/wasm"
)

// Kind names the five control-region shapes a function body can contain.
type Kind int

const (
	Function Kind = iota
	Block
	Loop
	If
	Else
)

func (k Kind) String() string {
	switch k {
	case Function:
		return "function"
	case Block:
		return "block"
	case Loop:
		return "loop"
	case If:
		return "if"
	case Else:
		return "else"
	default:
		return "?"
	}
}

// Element is one entry of the live control stack, or the synthetic
// function-level frame returned by ReturnTarget.
type Element struct {
	Kind Kind
	// Begin is the instruction index that opened this region, or -1 for the
	// function itself.
	Begin int
	// End is the instruction index of this region's matching end — or, for
	// an If with an Else, the Else's instruction index.
	End int
	// BeginIf is, for an Else element, the instruction index of the if that
	// opened the construct. Unused otherwise.
	BeginIf int
}

// Resolver precomputes every block's begin/end (and if/else) pairing in one
// linear pass over a function body, then exposes a live stack the caller
// drives forward by calling BeginBlock/BeginLoop/BeginIf/Else/End in the
// same order it walks the body's instructions.
type Resolver struct {
	beginEnd map[int]int // begin index (-1 for the function) -> end index

	live []Element
}

// New builds a Resolver for body, or reports a block-nesting failure
// (spec.md §7's "block-nesting failure" error kind): a stray else/end, or
// unclosed blocks at the end of the function.
func New(body []wasm.Instruction) (*Resolver, error) {
	r := &Resolver{beginEnd: map[int]int{}}

	type auxFrame struct {
		kind  Kind
		begin int
	}
	aux := []auxFrame{{kind: Function, begin: -1}}

	for i, instr := range body {
		switch instr.Opcode {
		case wasm.OpBlock:
			aux = append(aux, auxFrame{kind: Block, begin: i})
		case wasm.OpLoop:
			aux = append(aux, auxFrame{kind: Loop, begin: i})
		case wasm.OpIf:
			aux = append(aux, auxFrame{kind: If, begin: i})
		case wasm.OpElse:
			top := aux[len(aux)-1]
			if top.kind != If {
				return nil, fmt.Errorf("blockstack: instruction %d: else without matching if", i)
			}
			aux = aux[:len(aux)-1]
			r.beginEnd[top.begin] = i
			aux = append(aux, auxFrame{kind: Else, begin: i})
		case wasm.OpEnd:
			if len(aux) == 1 {
				return nil, fmt.Errorf("blockstack: instruction %d: end without matching block", i)
			}
			top := aux[len(aux)-1]
			aux = aux[:len(aux)-1]
			r.beginEnd[top.begin] = i
		}
	}
	r.beginEnd[-1] = len(body)

	if len(aux) != 1 {
		return nil, fmt.Errorf("blockstack: %d unclosed block(s) at end of function", len(aux)-1)
	}
	return r, nil
}

func (r *Resolver) push(kind Kind, begin int) Element {
	el := Element{Kind: kind, Begin: begin, End: r.beginEnd[begin]}
	r.live = append(r.live, el)
	return el
}

func (r *Resolver) BeginBlock(i int) Element { return r.push(Block, i) }
func (r *Resolver) BeginLoop(i int) Element  { return r.push(Loop, i) }
func (r *Resolver) BeginIf(i int) Element    { return r.push(If, i) }

// Else transitions the top (If) frame to an Else frame beginning at i, and
// returns the If element that was just closed — the caller uses its Begin
// to emit the end_if hook before emitting begin_else.
func (r *Resolver) Else(i int) Element {
	top := r.live[len(r.live)-1]
	r.live = r.live[:len(r.live)-1]
	r.live = append(r.live, Element{Kind: Else, Begin: i, End: r.beginEnd[i], BeginIf: top.Begin})
	return top
}

// End pops and returns the top live element.
func (r *Resolver) End(i int) Element {
	top := r.live[len(r.live)-1]
	r.live = r.live[:len(r.live)-1]
	return top
}

// BrTarget resolves a relative branch label (0 = innermost live block) to
// the absolute instruction it jumps to — a loop's own begin (backward), or
// any other block's end (forward) — and returns every element the branch
// implicitly closes on the way out, innermost first, including the target
// itself.
func (r *Resolver) BrTarget(label wasm.LabelIdx) (target int, ended []Element, err error) {
	idx := len(r.live) - 1 - label.Int()
	if idx < -1 {
		return 0, nil, fmt.Errorf("blockstack: branch label %d exceeds control depth %d", label, len(r.live))
	}
	if idx == -1 {
		// The label names the function body itself; this br behaves like a
		// return, closing every live block plus the function frame.
		target, ended = r.ReturnTarget()
		return target, ended, nil
	}
	ended = make([]Element, 0, len(r.live)-idx)
	for j := len(r.live) - 1; j >= idx; j-- {
		ended = append(ended, r.live[j])
	}
	targetEl := r.live[idx]
	if targetEl.Kind == Loop {
		return targetEl.Begin, ended, nil
	}
	return targetEl.End, ended, nil
}

// ReturnTarget is the function-level counterpart to BrTarget: every live
// element is implicitly closed by a return, innermost first, followed by
// the synthetic function frame itself; the absolute target is the
// function's own (implicit) end.
func (r *Resolver) ReturnTarget() (target int, ended []Element) {
	ended = make([]Element, 0, len(r.live)+1)
	for j := len(r.live) - 1; j >= 0; j-- {
		ended = append(ended, r.live[j])
	}
	ended = append(ended, Element{Kind: Function, Begin: -1, End: r.beginEnd[-1]})
	return r.beginEnd[-1], ended
}

// Depth returns the number of currently open explicit blocks, excluding the
// implicit function frame.
func (r *Resolver) Depth() int { return len(r.live) }
