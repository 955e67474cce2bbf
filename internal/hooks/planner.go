// Package hooks plans the low-level import functions the instrumenter calls
// into, and the JavaScript trampolines that forward them to the user's
// high-level analysis API. Every (stem, concrete type instantiation) pair
// actually encountered while walking a module gets exactly one hook,
// deduplicated on first sight; stem is normally the source instruction's own
// name (e.g. "i32.add", "br_table"), mangled by replacing '.' with '_', with
// one type character appended per polymorphic instantiation argument.
package hooks

import (
	"fmt"
	"strings"
	"sync"

	"github.com/danleh/wasabi/internal/wasm"
)

// Param is one logical argument a hook receives, before i64 lowering: a name
// used both in the low-level JS trampoline's parameter list and in the
// expression forwarded to the high-level analysis call.
type Param struct {
	Name string
	Type wasm.ValueType
}

// Spec describes a hook an instrumentation site wants to call. Two Specs
// that produce the same mangled Name are the same hook; the Planner
// deduplicates on that name.
type Spec struct {
	// Stem is the low-level import field name before type mangling, e.g.
	// "i32.add", "drop", "begin_if", "call_post". Dots are replaced with
	// underscores when mangled.
	Stem string
	// HighLevel is the Wasabi.analysis.<HighLevel> method the trampoline
	// forwards to. Unused when Body is set.
	HighLevel string
	// Filter is the --hooks/--no-hooks CLI bucket this hook counts against.
	Filter string
	// Types are the polymorphic instantiation types this hook was
	// monomorphized with, one mangled character each. Monomorphic hooks
	// (whose stem alone identifies them, like "br_if" or "i32.load") leave
	// this nil even when they have Params.
	Types []wasm.ValueType
	// Params are this hook's logical arguments (pre i64-lowering), in the
	// order the instrumenter pushes them after the location pair.
	Params []Param
	// JSArgs is the argument-list expression (already i64-long aware, see
	// LongExpr) appended after {func, instr} in the default trampoline body.
	// Ignored when Body is set.
	JSArgs string
	// Body, if non-empty, is used verbatim as the low-level trampoline's
	// function body instead of the single Wasabi.analysis.<HighLevel> call
	// the default body emits. br_table uses this: its trampoline needs two
	// statements (the high-level br_table call, then endBrTableBlocks), and
	// gluing that into one JSArgs expression the way the original
	// implementation did invites parsing ambiguity (spec.md §9 open
	// questions) so it is spelled out explicitly instead.
	Body string
}

// mangle builds the low-level import field name from a stem and the
// polymorphic instantiation types: the stem with '.' replaced by '_', then
// (iff the hook is an instantiation of a polymorphic one) an underscore and
// one character per instantiation type. "drop" of an i64 mangles to
// "drop_I"; "call" of (i32, f64) to "call_iF"; "br_if" stays "br_if" since
// its three i32 params are fixed, not instantiated.
func mangle(stem string, types []wasm.ValueType) string {
	var b strings.Builder
	b.WriteString(strings.ReplaceAll(stem, ".", "_"))
	if len(types) > 0 {
		b.WriteByte('_')
		for _, t := range types {
			b.WriteByte(t.Char())
		}
	}
	return b.String()
}

// LongExpr renders the JavaScript expression used to read param name's value
// in a trampoline body: the bare name, or a reassembled host Long for i64
// (which the Wasm boundary always carries as a (low, high) i32 pair).
func LongExpr(name string, t wasm.ValueType) string {
	if t == wasm.ValueTypeI64 {
		return fmt.Sprintf("new Long(%s_low, %s_high)", name, name)
	}
	return name
}

// wasmType computes a hook's actual Wasm import signature: the static
// (function index, instruction index) pair as two leading i32s, then the
// logical params with every i64 split into a (low, high) i32 pair.
func wasmType(params []Param) wasm.FunctionType {
	out := []wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeI32}
	for _, p := range params {
		if p.Type == wasm.ValueTypeI64 {
			out = append(out, wasm.ValueTypeI32, wasm.ValueTypeI32)
		} else {
			out = append(out, p.Type)
		}
	}
	return wasm.FunctionType{Params: out}
}

// lowlevelParamList renders the trampoline's own parameter list after "func,
// instr": one JS identifier per Param, i64 params expanded to "_low, _high".
func lowlevelParamList(params []Param) string {
	var parts []string
	for _, p := range params {
		if p.Type == wasm.ValueTypeI64 {
			parts = append(parts, p.Name+"_low", p.Name+"_high")
		} else {
			parts = append(parts, p.Name)
		}
	}
	return strings.Join(parts, ", ")
}

// Hook is one imported low-level function the instrumenter has requested: its
// mangled name, its Wasm signature, its function index once appended to the
// module, and the JavaScript trampoline text that belongs in
// Wasabi.module.lowlevelHooks.
type Hook struct {
	Spec    Spec
	Name    string
	Type    wasm.FunctionType
	FuncIdx wasm.FuncIdx
	JS      string
}

// trampoline renders the JS object-literal entry for a hook: `"name":
// function (func, instr, ...) { ... },`.
func trampoline(name string, spec Spec) string {
	params := lowlevelParamList(spec.Params)
	sig := "func, instr"
	if params != "" {
		sig += ", " + params
	}
	body := spec.Body
	if body == "" {
		if spec.JSArgs == "" {
			body = fmt.Sprintf("Wasabi.analysis.%s({func, instr});", spec.HighLevel)
		} else {
			body = fmt.Sprintf("Wasabi.analysis.%s({func, instr}, %s);", spec.HighLevel, spec.JSArgs)
		}
	}
	return fmt.Sprintf("%q: function (%s) {\n        %s\n    },", name, sig, body)
}

// Planner deduplicates and finalizes the hooks a module's instrumentation
// actually needs. Lookup (a cache hit on the hot path) runs once per original
// instruction; insertion is rare, once per newly seen (stem, types) pair. Go
// has no upgradable-read RWMutex in the standard library or anywhere in this
// module's dependency graph, so Planner uses the idiomatic substitute: an
// RWMutex plus double-checked locking — a read-locked lookup on the hot
// path, and a second lookup under the write lock to close the
// miss-then-insert race before actually inserting.
type Planner struct {
	mu                sync.RWMutex
	hooks             map[string]*Hook
	order             []*Hook
	originalFuncCount int
}

// NewPlanner creates a Planner that assigns new hooks function indices
// starting at originalFuncCount, the number of functions the module had
// before instrumentation.
func NewPlanner(originalFuncCount int) *Planner {
	return &Planner{hooks: map[string]*Hook{}, originalFuncCount: originalFuncCount}
}

// GetOrInsert returns the hook described by spec, creating it (with the next
// available function index) if this is the first time its mangled name has
// been requested.
func (p *Planner) GetOrInsert(spec Spec) *Hook {
	name := mangle(spec.Stem, spec.Types)

	p.mu.RLock()
	h, ok := p.hooks[name]
	p.mu.RUnlock()
	if ok {
		return h
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok := p.hooks[name]; ok {
		return h
	}
	h = &Hook{
		Spec:    spec,
		Name:    name,
		Type:    wasmType(spec.Params),
		FuncIdx: wasm.FuncIdx(p.originalFuncCount + len(p.order)),
	}
	h.JS = trampoline(name, spec)
	p.hooks[name] = h
	p.order = append(p.order, h)
	return h
}

// Hooks returns every generated hook in insertion order: hooks[i].FuncIdx
// must equal originalFuncCount+i, the invariant the instrumenter checks
// before appending them to the module.
func (p *Planner) Hooks() []*Hook {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]*Hook, len(p.order))
	copy(out, p.order)
	return out
}
