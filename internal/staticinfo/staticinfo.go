// Package staticinfo builds the JSON description of the original module that
// the runtime shim reads as Wasabi.module.info: per-function signatures and
// export names, global types, the start function, the exported table's name,
// and the statically resolved targets of every br_table. The analysis author
// gets this for free so they do not have to re-derive static facts from the
// binary themselves.
package staticinfo

import (
	"encoding/json"
	"fmt"

	"github.com/danleh/wasabi/internal/blockstack"
	"github.com/danleh/wasabi/internal/wasm"
)

// Module is the top-level info object. Field names are the property names
// the runtime shim reads, so they are fixed by the shim contract, not by Go
// style.
type Module struct {
	Functions       []Function `json:"functions"`
	Globals         string     `json:"globals"`
	Start           *uint32    `json:"start"`
	TableExportName *string    `json:"tableExportName"`
	BrTables        []BrTable  `json:"brTables"`
	// OriginalFunctionImportsCount lets resolveTableIdx map table entries of
	// the instrumented module (whose import count grew by the hooks) back to
	// original function indices.
	OriginalFunctionImportsCount int `json:"originalFunctionImportsCount"`
}

// Function is one entry of Module.Functions. Type and Locals are compact
// type-char strings ("ii|i", "iIF") to keep the generated file small, since
// real binaries have thousands of functions.
type Function struct {
	Type       string   `json:"type"`
	Import     []string `json:"import"` // null, or the [module, name] pair
	Export     []string `json:"export"`
	Locals     string   `json:"locals"`
	InstrCount int      `json:"instrCount"`
}

// Location is an absolute instruction position in the original module.
// The function's own final end, which the body does not store, is at
// Instr == len(body), one past the last stored instruction.
type Location struct {
	Func  int `json:"func"`
	Instr int `json:"instr"`
}

// ResolvedLabel is one statically resolved br_table target: the relative
// label as written, the absolute location it jumps to, and the blocks the
// jump implicitly ends (consumed by Wasabi.endBrTableBlocks at runtime).
type ResolvedLabel struct {
	Label    int          `json:"label"`
	Location Location     `json:"location"`
	Ends     []EndedBlock `json:"ends"`
}

// BrTable is the resolution of a single br_table instruction; the hook
// passes this entry's index in Module.BrTables plus the runtime table index.
type BrTable struct {
	Table   []ResolvedLabel `json:"table"`
	Default ResolvedLabel   `json:"default"`
}

// EndedBlock is a block-stack element serialized as a compact tuple rather
// than an object: ["function", -1, end], ["block"|"loop", begin, end],
// ["if", beginIf, end], or ["else", beginElse, end, beginIf].
type EndedBlock blockstack.Element

func (e EndedBlock) MarshalJSON() ([]byte, error) {
	el := blockstack.Element(e)
	switch el.Kind {
	case blockstack.Function:
		return json.Marshal([]interface{}{"function", -1, el.End})
	case blockstack.Block, blockstack.Loop, blockstack.If:
		return json.Marshal([]interface{}{el.Kind.String(), el.Begin, el.End})
	case blockstack.Else:
		return json.Marshal([]interface{}{"else", el.Begin, el.End, el.BeginIf})
	default:
		return nil, fmt.Errorf("staticinfo: unknown block kind %d", el.Kind)
	}
}

// New captures the static description of module. Call it after export names
// have been filled in (the instrumenter adds __wasabi_table and
// __wasabi_function_<idx> exports first, so the shim can resolve indirect
// calls), but before hook imports are appended, so counts refer to the
// original module.
func New(module *wasm.Module) *Module {
	info := &Module{
		Functions: make([]Function, 0, len(module.Functions)),
		BrTables:  []BrTable{},
	}

	globals := make([]byte, 0, len(module.Globals))
	for _, g := range module.Globals {
		globals = append(globals, g.Type.Char())
	}
	info.Globals = string(globals)

	if module.Start != nil {
		s := uint32(*module.Start)
		info.Start = &s
	}

	// If the module has no table there can be no call_indirect, so the shim
	// never reads this null.
	if len(module.Tables) > 0 && len(module.Tables[0].Export) > 0 {
		name := module.Tables[0].Export[0]
		info.TableExportName = &name
	}

	for _, f := range module.Functions {
		fi := Function{
			Type:   f.Type.TypeString(),
			Export: f.Export,
		}
		if fi.Export == nil {
			fi.Export = []string{}
		}
		if f.Import != nil {
			fi.Import = []string{f.Import.Module, f.Import.Name}
			info.OriginalFunctionImportsCount++
		}
		if f.Code != nil {
			locals := make([]byte, 0, len(f.Code.Locals))
			for _, l := range f.Code.Locals {
				for i := uint32(0); i < l.Count; i++ {
					locals = append(locals, l.Type.Char())
				}
			}
			fi.Locals = string(locals)
			fi.InstrCount = len(f.Code.Body)
		}
		info.Functions = append(info.Functions, fi)
	}

	return info
}

// AddBrTable resolves one br_table instruction against the live block stack
// and appends the result, returning its index in BrTables (the value the
// instrumenter bakes into the hook call as a constant).
func (info *Module) AddBrTable(fidx wasm.FuncIdx, table []wasm.LabelIdx, def wasm.LabelIdx, resolver *blockstack.Resolver) (int, error) {
	resolve := func(label wasm.LabelIdx) (ResolvedLabel, error) {
		target, ended, err := resolver.BrTarget(label)
		if err != nil {
			return ResolvedLabel{}, err
		}
		ends := make([]EndedBlock, len(ended))
		for i, el := range ended {
			ends[i] = EndedBlock(el)
		}
		return ResolvedLabel{
			Label:    label.Int(),
			Location: Location{Func: fidx.Int(), Instr: target},
			Ends:     ends,
		}, nil
	}

	entry := BrTable{Table: make([]ResolvedLabel, 0, len(table))}
	for _, l := range table {
		rl, err := resolve(l)
		if err != nil {
			return 0, err
		}
		entry.Table = append(entry.Table, rl)
	}
	var err error
	if entry.Default, err = resolve(def); err != nil {
		return 0, err
	}

	info.BrTables = append(info.BrTables, entry)
	return len(info.BrTables) - 1, nil
}

// JSON renders the info object as pretty-printed JSON for embedding in the
// generated host file.
func (info *Module) JSON() (string, error) {
	b, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}
