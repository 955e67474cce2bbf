// Package instrument rewrites every function body of a WebAssembly module so
// that each executed instruction also calls an imported low-level hook with
// the instruction's static location and its runtime inputs and results. The
// rewriting keeps the program's own behavior intact: operands a hook needs
// are duplicated through fresh locals (or re-executed, for side-effect-free
// producers), never consumed.
package instrument

import (
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/danleh/wasabi/internal/blockstack"
	"github.com/danleh/wasabi/internal/hooks"
	"github.com/danleh/wasabi/internal/staticinfo"
	"github.com/danleh/wasabi/internal/typecheck"
	"github.com/danleh/wasabi/internal/wasm"
)

// ErrUnsupported marks modules using features beyond the WebAssembly MVP
// (multiple tables or memories, multi-value results). Callers report it and
// produce no output.
var ErrUnsupported = errors.New("input uses WebAssembly features beyond the MVP")

// HookModuleName is the import module every generated hook lives under.
const HookModuleName = "__wasabi_hooks"

// Options configure one instrumentation run.
type Options struct {
	// Filter selects the hook categories to instrument; nil instruments all.
	Filter *HookFilter
	// NodeJS wraps the generated host file for CommonJS require() instead of
	// a browser script tag.
	NodeJS bool
	// Logger receives per-function debug diagnostics; nil disables logging.
	Logger *zap.Logger
}

// Result is what instrumentation produced besides the mutated module: the
// companion host file's source and the number of low-level hooks generated.
type Result struct {
	JS        string
	HookCount int
	Info      *staticinfo.Module
}

// Instrument rewrites module in place and returns the companion host file.
// The module gains one mutable i32 global (the start-hook guard) if it has a
// start function, export
// names for every function and table that lacked one, and one imported
// function per generated hook, appended after all original functions.
func Instrument(module *wasm.Module, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if len(module.Tables) > 1 {
		return nil, fmt.Errorf("instrument: %d tables: %w", len(module.Tables), ErrUnsupported)
	}
	if len(module.Memories) > 1 {
		return nil, fmt.Errorf("instrument: %d memories: %w", len(module.Memories), ErrUnsupported)
	}
	for i, f := range module.Functions {
		if len(f.Type.Results) > 1 {
			return nil, fmt.Errorf("instrument: function %d has %d results: %w", i, len(f.Type.Results), ErrUnsupported)
		}
	}

	// Export every table and function so the runtime shim can resolve
	// indirect call targets through the exported table.
	for _, table := range module.Tables {
		if len(table.Export) == 0 {
			table.Export = []string{"__wasabi_table"}
		}
	}
	for i, f := range module.Functions {
		if len(f.Export) == 0 {
			f.Export = []string{fmt.Sprintf("__wasabi_function_%d", i)}
		}
	}

	// Must come after the export pass so the added names appear in the info
	// object, and before hooks are appended so counts are the original ones.
	info := staticinfo.New(module)
	planner := hooks.NewPlanner(len(module.Functions))

	// One-shot guard for the start hook, cleared on first execution. Only
	// modules with a start function need it; adding it unconditionally would
	// break the identity transformation on modules without one.
	var startGlobal wasm.GlobalIdx
	if module.Start != nil {
		startGlobal = wasm.GlobalIdx(len(module.Globals))
		module.Globals = append(module.Globals, &wasm.Global{
			Type: wasm.ValueTypeI32,
			Mut:  wasm.Var,
			Init: []wasm.Instruction{{Opcode: wasm.OpI32Const, I32: 1}},
		})
	}

	for i, f := range module.Functions {
		if f.Code == nil {
			continue
		}
		fidx := wasm.FuncIdx(i)
		logger.Debug("instrumenting function",
			zap.Uint32("func", uint32(fidx)),
			zap.Int("instructions", len(f.Code.Body)))
		if err := instrumentFunction(module, f, fidx, planner, info, opts.Filter, startGlobal); err != nil {
			return nil, err
		}
	}

	// Append the collected hooks as imports, in insertion order, verifying
	// the planner's index arithmetic against the module's actual growth.
	generated := planner.Hooks()
	for _, h := range generated {
		if h.FuncIdx.Int() != len(module.Functions) {
			return nil, fmt.Errorf("instrument: hook %q planned for index %d but module has %d functions; were functions added concurrently?",
				h.Name, h.FuncIdx, len(module.Functions))
		}
		module.Functions = append(module.Functions, &wasm.Function{
			Type:   h.Type,
			Import: &wasm.ImportDesc{Module: HookModuleName, Name: h.Name},
		})
	}
	logger.Debug("generated low-level hooks", zap.Int("count", len(generated)))

	js, err := generateJS(info, generated, opts.NodeJS)
	if err != nil {
		return nil, err
	}
	return &Result{JS: js, HookCount: len(generated), Info: info}, nil
}

// concreteOr resolves a possibly-unknown type from the checker to a concrete
// one. Unknown only occurs in statically unreachable code, where the choice
// is unobservable; i32 keeps the emitted save/restore valid.
func concreteOr(v typecheck.ValType, def wasm.ValueType) wasm.ValueType {
	if v.Unknown {
		return def
	}
	return v.Type
}

func instrumentFunction(module *wasm.Module, fn *wasm.Function, fidx wasm.FuncIdx,
	planner *hooks.Planner, info *staticinfo.Module, filter *HookFilter, startGlobal wasm.GlobalIdx) error {

	body := fn.Code.Body
	resolver, err := blockstack.New(body)
	if err != nil {
		return fmt.Errorf("instrument: function %d: %w", fidx, err)
	}
	checker := typecheck.New(module, fidx)
	b := newFuncBuilder(fn, fidx)

	// At least three instructions are inserted per original one (two
	// location constants plus the hook call).
	out := make([]wasm.Instruction, 0, 4*len(body))

	call := func(spec hooks.Spec) wasm.Instruction {
		h := planner.GetOrInsert(spec)
		return wasm.Instruction{Opcode: wasm.OpCall, Func: h.FuncIdx}
	}
	fconst := i32Const(int32(fidx))
	iconst := func(i int) wasm.Instruction { return i32Const(int32(i)) }

	// The start hook runs once, before everything else in the start
	// function, fenced by the module-wide guard global. It and the
	// function-begin hook are emitted regardless of the filter: a trace
	// without function entries is useless to every analysis.
	if module.Start != nil && *module.Start == fidx {
		out = append(out,
			wasm.Instruction{Opcode: wasm.OpGlobalGet, GlobalIdx: startGlobal},
			wasm.Instruction{Opcode: wasm.OpIf},
			i32Const(0),
			wasm.Instruction{Opcode: wasm.OpGlobalSet, GlobalIdx: startGlobal},
			fconst, iconst(-1),
			call(hooks.Start()),
			wasm.Instruction{Opcode: wasm.OpEnd},
		)
	}
	out = append(out, fconst, iconst(-1), call(hooks.BeginFunction()))

	// An explicit return as the body's last instruction means the final end
	// is never reached; otherwise a return hook for the implicit fall-off is
	// appended after the walk.
	implicitReturn := len(body) == 0 || body[len(body)-1].Opcode != wasm.OpReturn

	for i, instr := range body {
		// The checker advances on every instruction so that the polymorphic
		// ones (drop, select) can read their recovered types below.
		it, err := checker.Step(i, instr)
		if err != nil {
			return fmt.Errorf("instrument: %w", err)
		}

		loc := []wasm.Instruction{fconst, iconst(i)}

		switch {
		case instr.Opcode == wasm.OpNop:
			// The nop has no effect of its own, so the hook call replaces it
			// entirely when enabled.
			if filter.Enabled(CategoryNop) {
				out = append(out, loc...)
				out = append(out, call(hooks.Nop()))
			} else {
				out = append(out, instr)
			}

		case instr.Opcode == wasm.OpUnreachable:
			// Hook first: after the trap nothing runs.
			if filter.Enabled(CategoryUnreachable) {
				out = append(out, loc...)
				out = append(out, call(hooks.Unreachable()))
			}
			out = append(out, instr)

		case instr.Opcode == wasm.OpBlock:
			resolver.BeginBlock(i)
			out = append(out, instr)
			if filter.Enabled(CategoryBegin) {
				out = append(out, loc...)
				out = append(out, call(hooks.BeginBlock()))
			}

		case instr.Opcode == wasm.OpLoop:
			resolver.BeginLoop(i)
			out = append(out, instr)
			if filter.Enabled(CategoryBegin) {
				out = append(out, loc...)
				out = append(out, call(hooks.BeginLoop()))
			}

		case instr.Opcode == wasm.OpIf:
			resolver.BeginIf(i)
			if filter.Enabled(CategoryIf) {
				cond := b.freshLocal(wasm.ValueTypeI32)
				out = append(out, localTee(cond))
				out = append(out, loc...)
				out = append(out, localGet(cond), call(hooks.If()))
			}
			out = append(out, instr)
			// Runs only when the then-branch is taken.
			if filter.Enabled(CategoryBegin) {
				out = append(out, loc...)
				out = append(out, call(hooks.BeginIf()))
			}

		case instr.Opcode == wasm.OpElse:
			ifEl := resolver.Else(i)
			if filter.Enabled(CategoryEnd) {
				out = append(out, loc...)
				out = append(out, iconst(ifEl.Begin), call(hooks.EndIf()))
			}
			out = append(out, instr)
			if filter.Enabled(CategoryBegin) {
				out = append(out, loc...)
				out = append(out, iconst(ifEl.Begin), call(hooks.BeginElse()))
			}

		case instr.Opcode == wasm.OpEnd:
			el := resolver.End(i)
			if filter.Enabled(CategoryEnd) {
				out = append(out, loc...)
				switch el.Kind {
				case blockstack.Block:
					out = append(out, iconst(el.Begin), call(hooks.EndBlock()))
				case blockstack.Loop:
					out = append(out, iconst(el.Begin), call(hooks.EndLoop()))
				case blockstack.If:
					out = append(out, iconst(el.Begin), call(hooks.EndIf()))
				case blockstack.Else:
					out = append(out, iconst(el.Begin), iconst(el.BeginIf), call(hooks.EndElse()))
				}
			}
			out = append(out, instr)

		case instr.Opcode == wasm.OpBr:
			target, _, err := resolver.BrTarget(instr.Label)
			if err != nil {
				return fmt.Errorf("instrument: function %d, instruction %d: %w", fidx, i, err)
			}
			if filter.Enabled(CategoryBr) {
				out = append(out, loc...)
				out = append(out, iconst(instr.Label.Int()), iconst(target), call(hooks.Br()))
			}
			out = append(out, instr)

		case instr.Opcode == wasm.OpBrIf:
			target, _, err := resolver.BrTarget(instr.Label)
			if err != nil {
				return fmt.Errorf("instrument: function %d, instruction %d: %w", fidx, i, err)
			}
			if filter.Enabled(CategoryBrIf) {
				cond := b.freshLocal(wasm.ValueTypeI32)
				out = append(out, localTee(cond))
				out = append(out, loc...)
				out = append(out, localGet(cond), iconst(instr.Label.Int()), iconst(target), call(hooks.BrIf()))
			}
			out = append(out, instr)

		case instr.Opcode == wasm.OpBrTable:
			if filter.Enabled(CategoryBrTable) {
				infoIdx, err := info.AddBrTable(fidx, instr.Table, instr.Default, resolver)
				if err != nil {
					return fmt.Errorf("instrument: function %d, instruction %d: %w", fidx, i, err)
				}
				tableIdx := b.freshLocal(wasm.ValueTypeI32)
				out = append(out, localTee(tableIdx))
				out = append(out, loc...)
				out = append(out, iconst(infoIdx), localGet(tableIdx), call(hooks.BrTable()))
			}
			out = append(out, instr)

		case instr.Opcode == wasm.OpReturn:
			if filter.Enabled(CategoryReturn) {
				tmps := b.freshLocals(fn.Type.Results)
				out = saveStackToLocals(out, tmps)
				out = append(out, loc...)
				out = restoreLocalsWithI64Handling(out, tmps, b)
				out = append(out, call(hooks.Return(fn.Type.Results)))
			}
			out = append(out, instr)

		case instr.Opcode == wasm.OpCall:
			callee := module.Functions[instr.Func.Int()].Type
			if !filter.Enabled(CategoryCall) {
				out = append(out, instr)
				break
			}
			argTmps := b.freshLocals(callee.Params)
			out = saveStackToLocals(out, argTmps)
			out = append(out, loc...)
			out = append(out, i32Const(int32(instr.Func)))
			out = restoreLocalsWithI64Handling(out, argTmps, b)
			out = append(out, call(hooks.CallPre(false, callee.Params)), instr)

			resTmps := b.freshLocals(callee.Results)
			out = saveStackToLocals(out, resTmps)
			out = append(out, loc...)
			out = restoreLocalsWithI64Handling(out, resTmps, b)
			out = append(out, call(hooks.CallPost(callee.Results)))

		case instr.Opcode == wasm.OpCallIndirect:
			callee := module.Types[instr.TypeIdx.Int()]
			if !filter.Enabled(CategoryCall) {
				out = append(out, instr)
				break
			}
			// The table index sits above the arguments; move it aside first.
			tblTmp := b.freshLocal(wasm.ValueTypeI32)
			argTmps := b.freshLocals(callee.Params)
			out = append(out, localSet(tblTmp))
			out = saveStackToLocals(out, argTmps)
			out = append(out, localGet(tblTmp))
			out = append(out, loc...)
			out = append(out, localGet(tblTmp))
			out = restoreLocalsWithI64Handling(out, argTmps, b)
			out = append(out, call(hooks.CallPre(true, callee.Params)), instr)

			resTmps := b.freshLocals(callee.Results)
			out = saveStackToLocals(out, resTmps)
			out = append(out, loc...)
			out = restoreLocalsWithI64Handling(out, resTmps, b)
			out = append(out, call(hooks.CallPost(callee.Results)))

		case instr.Opcode == wasm.OpDrop:
			ty := concreteOr(it.Inputs[0], wasm.ValueTypeI32)
			if !filter.Enabled(CategoryDrop) {
				out = append(out, instr)
				break
			}
			// The local.set performs the drop; the original instruction is
			// not re-emitted.
			tmp := b.freshLocal(ty)
			out = append(out, localSet(tmp))
			out = append(out, loc...)
			out = convertI64Instr(out, localGet(tmp), ty)
			out = append(out, call(hooks.Drop(ty)))

		case instr.Opcode == wasm.OpSelect:
			ty := concreteOr(it.Results[0], wasm.ValueTypeI32)
			if !filter.Enabled(CategorySelect) {
				out = append(out, instr)
				break
			}
			condTmp := b.freshLocal(wasm.ValueTypeI32)
			argTmps := b.freshLocals([]wasm.ValueType{ty, ty})
			out = saveStackToLocals(out, []wasm.LocalIdx{argTmps[0], argTmps[1], condTmp})
			out = append(out, instr)
			out = append(out, loc...)
			out = append(out, localGet(condTmp))
			out = restoreLocalsWithI64Handling(out, argTmps, b)
			out = append(out, call(hooks.Select(ty)))

		case instr.Opcode == wasm.OpLocalGet || instr.Opcode == wasm.OpLocalSet || instr.Opcode == wasm.OpLocalTee:
			ty := b.slotType(instr.LocalIdx)
			if !filter.Enabled(CategoryLocal) {
				out = append(out, instr)
				break
			}
			out = append(out, instr)
			out = append(out, loc...)
			out = append(out, i32Const(int32(instr.LocalIdx)))
			// Re-reading the slot is cheaper than a temporary and observes
			// the same value for get, set, and tee alike.
			out = convertI64Instr(out, localGet(instr.LocalIdx), ty)
			switch instr.Opcode {
			case wasm.OpLocalGet:
				out = append(out, call(hooks.LocalGet(ty)))
			case wasm.OpLocalSet:
				out = append(out, call(hooks.LocalSet(ty)))
			case wasm.OpLocalTee:
				out = append(out, call(hooks.LocalTee(ty)))
			}

		case instr.Opcode == wasm.OpGlobalGet || instr.Opcode == wasm.OpGlobalSet:
			ty := module.Globals[instr.GlobalIdx.Int()].Type
			if !filter.Enabled(CategoryGlobal) {
				out = append(out, instr)
				break
			}
			out = append(out, instr)
			out = append(out, loc...)
			out = append(out, i32Const(int32(instr.GlobalIdx)))
			out = convertI64Instr(out, wasm.Instruction{Opcode: wasm.OpGlobalGet, GlobalIdx: instr.GlobalIdx}, ty)
			if instr.Opcode == wasm.OpGlobalGet {
				out = append(out, call(hooks.GlobalGet(ty)))
			} else {
				out = append(out, call(hooks.GlobalSet(ty)))
			}

		case instr.Opcode == wasm.OpMemorySize:
			if !filter.Enabled(CategoryMemorySize) {
				out = append(out, instr)
				break
			}
			out = append(out, instr)
			out = append(out, loc...)
			// Re-executing memory.size is cheaper than a temporary.
			out = append(out, instr, call(hooks.MemorySize()))

		case instr.Opcode == wasm.OpMemoryGrow:
			if !filter.Enabled(CategoryMemoryGrow) {
				out = append(out, instr)
				break
			}
			inTmp := b.freshLocal(wasm.ValueTypeI32)
			resTmp := b.freshLocal(wasm.ValueTypeI32)
			out = append(out, localTee(inTmp), instr, localTee(resTmp))
			out = append(out, loc...)
			out = append(out, localGet(inTmp), localGet(resTmp), call(hooks.MemoryGrow()))

		case isLoad(instr.Opcode):
			ft, _ := instr.MonomorphicType()
			if !filter.Enabled(CategoryLoad) {
				out = append(out, instr)
				break
			}
			addrTmp := b.freshLocal(wasm.ValueTypeI32)
			valTmp := b.freshLocal(ft.Results[0])
			out = append(out, localTee(addrTmp), instr, localTee(valTmp))
			out = append(out, loc...)
			out = append(out, i32Const(int32(instr.Memarg.Offset)), i32Const(int32(instr.Memarg.Align)))
			out = restoreLocalsWithI64Handling(out, []wasm.LocalIdx{addrTmp, valTmp}, b)
			out = append(out, call(hooks.Load(instr.Name(), ft.Results[0])))

		case isStore(instr.Opcode):
			ft, _ := instr.MonomorphicType()
			if !filter.Enabled(CategoryStore) {
				out = append(out, instr)
				break
			}
			addrTmp := b.freshLocal(wasm.ValueTypeI32)
			valTmp := b.freshLocal(ft.Params[1])
			out = saveStackToLocals(out, []wasm.LocalIdx{addrTmp, valTmp})
			out = append(out, instr)
			out = append(out, loc...)
			out = append(out, i32Const(int32(instr.Memarg.Offset)), i32Const(int32(instr.Memarg.Align)))
			out = restoreLocalsWithI64Handling(out, []wasm.LocalIdx{addrTmp, valTmp}, b)
			out = append(out, call(hooks.Store(instr.Name(), ft.Params[1])))

		case isConst(instr.Opcode):
			ft, _ := instr.MonomorphicType()
			if !filter.Enabled(CategoryConst) {
				out = append(out, instr)
				break
			}
			out = append(out, instr)
			out = append(out, loc...)
			// Re-emitting the constant is cheaper than a temporary.
			out = convertI64Instr(out, instr, ft.Results[0])
			out = append(out, call(hooks.Const(instr.Name(), ft.Results[0])))

		case instr.IsNumeric():
			ft, _ := instr.MonomorphicType()
			category := CategoryUnary
			if len(ft.Params) == 2 {
				category = CategoryBinary
			}
			if !filter.Enabled(category) {
				out = append(out, instr)
				break
			}
			inTmps := b.freshLocals(ft.Params)
			resTmps := b.freshLocals(ft.Results)
			out = saveStackToLocals(out, inTmps)
			out = append(out, instr)
			out = saveStackToLocals(out, resTmps)
			out = append(out, loc...)
			out = restoreLocalsWithI64Handling(out, inTmps, b)
			out = restoreLocalsWithI64Handling(out, resTmps, b)
			if category == CategoryUnary {
				out = append(out, call(hooks.Unary(instr.Name(), ft.Params[0], ft.Results[0])))
			} else {
				out = append(out, call(hooks.Binary(instr.Name(), ft.Params[0], ft.Params[1], ft.Results[0])))
			}

		default:
			return fmt.Errorf("instrument: function %d, instruction %d: unhandled opcode %s", fidx, i, instr.Opcode)
		}
	}

	// The function-level end: its hook, then (for bodies that fall off the
	// end rather than return explicitly) the implicit-return hook,
	// distinguishable in the analysis by its -1 instruction index.
	if filter.Enabled(CategoryEnd) {
		out = append(out, fconst, iconst(len(body)), call(hooks.EndFunction()))
	}
	if implicitReturn && filter.Enabled(CategoryReturn) {
		tmps := b.freshLocals(fn.Type.Results)
		out = saveStackToLocals(out, tmps)
		out = append(out, fconst, iconst(-1))
		out = restoreLocalsWithI64Handling(out, tmps, b)
		out = append(out, call(hooks.Return(fn.Type.Results)))
	}

	fn.Code.Body = out
	return nil
}

func isLoad(op wasm.Opcode) bool {
	return op >= wasm.OpI32Load && op <= wasm.OpI64Load32U
}

func isStore(op wasm.Opcode) bool {
	return op >= wasm.OpI32Store && op <= wasm.OpI64Store32
}

func isConst(op wasm.Opcode) bool {
	return op >= wasm.OpI32Const && op <= wasm.OpF64Const
}
