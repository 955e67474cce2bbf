package instrument

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/danleh/wasabi/internal/hooks"
	"github.com/danleh/wasabi/internal/staticinfo"
)

// runtimeJS is the program-independent part of the companion file: the Long
// helper, the Wasabi object, the instantiation shims, resolveTableIdx, and
// endBrTableBlocks.
//
//go:embed runtime.js
var runtimeJS string

// generateJS concatenates the fixed runtime prelude with the
// program-dependent pieces: the static info object and the low-level
// trampolines, one per generated hook, in insertion order.
func generateJS(info *staticinfo.Module, generated []*hooks.Hook, nodeJS bool) (string, error) {
	infoJSON, err := info.JSON()
	if err != nil {
		return "", fmt.Errorf("instrument: serializing static info: %w", err)
	}

	trampolines := make([]string, 0, len(generated))
	for _, h := range generated {
		// Re-indent each trampoline to sit inside the object literal.
		trampolines = append(trampolines, strings.ReplaceAll(h.JS, "\n", "\n    "))
	}

	var b strings.Builder
	b.WriteString(`/*
 * Generated by Wasabi. DO NOT EDIT.
 * Contains:
 *   - independent of program-to-instrument: Wasabi loader and runtime
 *   - generated from program-to-instrument: static information and low-level hooks
 */

`)
	b.WriteString(runtimeJS)
	b.WriteString("\nWasabi.module.info = ")
	b.WriteString(infoJSON)
	b.WriteString(";\n\nWasabi.module.lowlevelHooks = {\n    ")
	b.WriteString(strings.Join(trampolines, "\n    "))
	b.WriteString("\n};\n")
	if nodeJS {
		b.WriteString("\nmodule.exports = Wasabi;\n")
	}
	return b.String(), nil
}
