// Package api is the embedder-facing surface of wasabi: one call that takes
// the bytes of a WebAssembly binary and returns the instrumented binary plus
// the companion JavaScript file, without touching the filesystem. cmd/wasabi
// is a thin shell around it; programs that want to instrument modules
// in-process (test harnesses, build pipelines) use it directly.
package api

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/danleh/wasabi/internal/instrument"
	"github.com/danleh/wasabi/internal/wasm/binary"
)

// Options mirror the CLI surface.
type Options struct {
	// Hooks, when non-empty, instruments only the listed hook categories.
	Hooks []string
	// NoHooks instruments everything except the listed categories. Mutually
	// exclusive with Hooks.
	NoHooks []string
	// NodeJS emits the companion file for CommonJS require() instead of a
	// browser script tag.
	NodeJS bool
	// Logger receives instrumentation diagnostics; nil disables logging.
	Logger *zap.Logger
}

// Result holds both output artifacts of one instrumentation.
type Result struct {
	// Wasm is the instrumented binary.
	Wasm []byte
	// JS is the companion host file (static info, trampolines, runtime).
	JS []byte
	// HookCount is the number of low-level hook imports that were added.
	HookCount int
}

// Instrument decodes wasmBytes, rewrites every instruction to invoke the
// analysis hooks selected by opts, and encodes the result. The input bytes
// are not modified. Errors distinguish undecodable input (which includes
// post-MVP opcodes and sections), modules with more than one table or
// memory or with multi-value results (errors.Is(err,
// instrument.ErrUnsupported)), and invalid code the type checker or block
// resolver rejected.
func Instrument(wasmBytes []byte, opts Options) (*Result, error) {
	filter, err := instrument.NewHookFilter(opts.Hooks, opts.NoHooks)
	if err != nil {
		return nil, err
	}

	module, err := binary.Decode(wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("decoding input: %w", err)
	}

	res, err := instrument.Instrument(module, instrument.Options{
		Filter: filter,
		NodeJS: opts.NodeJS,
		Logger: opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	out, err := binary.Encode(module)
	if err != nil {
		return nil, fmt.Errorf("encoding instrumented module: %w", err)
	}

	return &Result{Wasm: out, JS: []byte(res.JS), HookCount: res.HookCount}, nil
}
