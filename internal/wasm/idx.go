package wasm

// Idx is a typed index into one of a module's index spaces: functions,
// tables, memories, globals, types, locals, or branch labels. The phantom
// type parameter keeps, say, a Idx[Function] from being passed where a
// Idx[Global] is expected, while the underlying representation stays a plain
// uint32 so values of this type are ordered and usable as map keys.
type Idx[Space any] uint32

// Int returns i as a plain int, for slice indexing.
func (i Idx[Space]) Int() int {
	return int(i)
}

// Label marks the label index space: branch targets, which count
// structured blocks outward from the innermost enclosing one rather than
// referring to a fixed function-wide list.
type Label struct{}

// LocalIdx indexes a function's locals, which is params followed by the
// declared locals of its code, one shared space.
type LocalIdx = Idx[Local]

// FuncIdx, TableIdx, MemIdx, GlobalIdx, TypeIdx index a module's respective
// per-kind slices by position. A decoded module lists imports of each kind
// first, as the binary format does; imported functions and globals appended
// later keep their slice position here and are moved ahead of defined items
// only on the wire, by the encoder.
type (
	FuncIdx   = Idx[Function]
	TableIdx  = Idx[Table]
	MemIdx    = Idx[Memory]
	GlobalIdx = Idx[Global]
	TypeIdx   = Idx[FunctionType]
)

// LabelIdx is a relative branch target: 0 is the innermost enclosing block.
type LabelIdx = Idx[Label]
