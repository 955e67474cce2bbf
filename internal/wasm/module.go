package wasm

// Module is a whole WebAssembly MVP module in ownership form: every function,
// table, memory, and global owns its own import descriptor (if imported) and
// its own export names (if exported), instead of the wire format's separate
// import and export sections. This is the shape the instrumenter, type
// checker, and block resolver all walk; internal/wasm/binary is the only
// package that knows how to flatten it back to (or build it from) sections.
type Module struct {
	Types     []FunctionType
	Functions []*Function
	Tables    []*Table
	Memories  []*Memory
	Globals   []*Global
	Start     *FuncIdx
	Customs   []CustomSection

	// Name is the module's debug name, if a caller sets one; the decoder
	// does not parse the name section and leaves it empty.
	Name string
}

// ImportDesc is attached to a Function, Table, Memory, or Global to mark it
// as imported rather than defined by this module. An item is imported iff its
// ImportDesc is non-nil; imported items never carry a Code, element, or data
// initializer of their own.
type ImportDesc struct {
	Module string
	Name   string
}

// Function is a function in the function index space: either imported (Code
// is nil, Import is set) or defined by this module (Code is set, Import is
// nil). Its type is inlined rather than looked up through a separate type
// index, though Module.Types still holds the type section's signatures, in
// order, which the binary encoder needs to rebuild a type section.
type Function struct {
	Type   FunctionType
	Import *ImportDesc
	Code   *Code

	// Export lists the names this function is exported under; usually at
	// most one, but the format permits more.
	Export []string

	// Name is the function's debug name, if a caller sets one; the decoder
	// does not parse the name section and leaves it empty.
	Name string
}

// IsImported reports whether f is defined outside this module.
func (f *Function) IsImported() bool {
	return f.Import != nil
}

// Local is one run of locals sharing a type, as declared in a function's
// code: "2 x i32, 1 x f64" is two Local entries. LocalIdx, however, ranges
// over individual slots (params, then the expansion of these runs).
type Local struct {
	Count uint32
	Type  ValueType
}

// Code is a defined function's locals and instruction sequence. The
// instruction sequence ends with an implicit function-level End and does not
// include the outermost function "block" as an explicit Block instruction;
// internal/blockstack treats the function body itself as the outermost block.
type Code struct {
	Locals []Local
	Body   []Instruction
}

// Table is a table in the table index space: either imported or defined.
// Element segments initializing this table are owned here rather than listed
// in a separate element section.
type Table struct {
	Type     ValueType // ValueTypeFuncref, the only MVP element type
	Limits   Limits
	Import   *ImportDesc
	Export   []string
	Elements []ElementSegment
}

func (t *Table) IsImported() bool { return t.Import != nil }

// ElementSegment initializes a contiguous run of a table's slots with
// function indices, computed from a constant offset expression.
type ElementSegment struct {
	Offset []Instruction // a constant expression yielding an i32
	Funcs  []FuncIdx
}

// Memory is a memory in the memory index space: either imported or defined.
// Data segments initializing this memory are owned here.
type Memory struct {
	Limits Limits
	Import *ImportDesc
	Export []string
	Data   []DataSegment
}

func (m *Memory) IsImported() bool { return m.Import != nil }

// DataSegment initializes a contiguous byte range of a memory, computed from
// a constant offset expression.
type DataSegment struct {
	Offset []Instruction // a constant expression yielding an i32
	Bytes  []byte
}

// Global is a global in the global index space: either imported or defined,
// with a fixed value type and mutability and, if defined, a constant
// initializer expression.
type Global struct {
	Type   ValueType
	Mut    Mutability
	Import *ImportDesc
	Export []string
	Init   []Instruction
}

func (g *Global) IsImported() bool { return g.Import != nil }

// CustomSection is an opaque named section the decoder preserves but does
// not interpret. Every custom section, the name section included, is kept
// and re-emitted as a raw CustomSection.
type CustomSection struct {
	Name string
	Data []byte
}

// AllFunctionsOrder returns the function index space in AST order, which is
// Functions as is. A decoded module lists imports first; functions appended
// afterwards (such as the instrumenter's hook imports) follow the defined
// ones, and the encoder moves imports ahead of defined functions on the wire.
func (m *Module) AllFunctionsOrder() []*Function {
	return m.Functions
}
