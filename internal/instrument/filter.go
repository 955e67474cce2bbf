package instrument

import "fmt"

// Category names are the --hooks/--no-hooks CLI buckets: they also appear
// verbatim as hooks.Spec.Filter values, so a hook built by the hooks package
// and a bucket named here always agree on spelling.
const (
	CategoryStart       = "start"
	CategoryNop         = "nop"
	CategoryUnreachable = "unreachable"
	CategoryBegin       = "begin"
	CategoryEnd         = "end"
	CategoryIf          = "if"
	CategoryBr          = "br"
	CategoryBrIf        = "br_if"
	CategoryBrTable     = "br_table"
	CategoryReturn      = "return"
	CategoryCall        = "call"
	CategoryDrop        = "drop"
	CategorySelect      = "select"
	CategoryConst       = "const"
	CategoryUnary       = "unary"
	CategoryBinary      = "binary"
	CategoryLoad        = "load"
	CategoryStore       = "store"
	CategoryMemorySize  = "memory_size"
	CategoryMemoryGrow  = "memory_grow"
	CategoryLocal       = "local"
	CategoryGlobal      = "global"
)

func allCategories() []string {
	return []string{
		CategoryStart, CategoryNop, CategoryUnreachable, CategoryBegin, CategoryEnd,
		CategoryIf, CategoryBr, CategoryBrIf, CategoryBrTable, CategoryReturn, CategoryCall,
		CategoryDrop, CategorySelect, CategoryConst, CategoryUnary, CategoryBinary,
		CategoryLoad, CategoryStore, CategoryMemorySize, CategoryMemoryGrow, CategoryLocal, CategoryGlobal,
	}
}

// reservedCategories are accepted on the command line but correspond to
// instructions beyond the MVP, which the instrumenter never encounters
// (post-MVP inputs are rejected before instrumentation). Listing them keeps
// the CLI surface forward-compatible.
func reservedCategories() []string {
	return []string{
		"memory_fill", "memory_copy", "memory_init",
		"table_get", "table_set", "table_size", "table_grow",
		"table_fill", "table_copy", "table_init",
		"ref_is_null",
	}
}

// HookFilter decides which hook categories --hooks/--no-hooks select.
// begin_function is never consulted through it: it is emitted unconditionally,
// since a reader of the trace needs every function entry regardless of what
// else was asked for.
type HookFilter struct {
	enabled map[string]bool
}

// NewHookFilter builds a filter from the CLI's --hooks and --no-hooks lists,
// which are mutually exclusive. An empty hooksList means "every category";
// noHooksList then removes from that default. An unrecognized category name
// in either list is an error.
func NewHookFilter(hooksList, noHooksList []string) (*HookFilter, error) {
	if len(hooksList) > 0 && len(noHooksList) > 0 {
		return nil, fmt.Errorf("instrument: --hooks and --no-hooks cannot both be given")
	}
	known := map[string]bool{}
	for _, c := range allCategories() {
		known[c] = true
	}
	for _, c := range reservedCategories() {
		known[c] = true
	}
	for _, c := range hooksList {
		if !known[c] {
			return nil, fmt.Errorf("instrument: unknown hook category %q", c)
		}
	}
	for _, c := range noHooksList {
		if !known[c] {
			return nil, fmt.Errorf("instrument: unknown hook category %q", c)
		}
	}

	f := &HookFilter{enabled: map[string]bool{}}
	if len(hooksList) > 0 {
		want := map[string]bool{}
		for _, c := range hooksList {
			want[c] = true
		}
		for _, c := range allCategories() {
			f.enabled[c] = want[c]
		}
		return f, nil
	}
	for _, c := range allCategories() {
		f.enabled[c] = true
	}
	for _, c := range noHooksList {
		f.enabled[c] = false
	}
	return f, nil
}

// Enabled reports whether category's hooks should be emitted.
func (f *HookFilter) Enabled(category string) bool {
	if f == nil {
		return true
	}
	return f.enabled[category]
}
