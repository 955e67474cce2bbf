// Command wasabi instruments a WebAssembly binary for dynamic analysis.
// It produces two files in the output directory: an instrumented copy of the
// input binary, and a <name>.wasabi.js file with statically extracted
// information about the binary, the low-level hook trampolines, and the
// Wasabi runtime.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/danleh/wasabi/api"
	"github.com/danleh/wasabi/internal/instrument"
	"github.com/danleh/wasabi/internal/wasabilog"
)

const wasabiVersion = "0.2.0"

func main() {
	os.Exit(doMain(os.Args[1:], os.Stdout, os.Stderr))
}

// doMain is separated out for the purpose of unit testing.
func doMain(args []string, stdOut, stdErr io.Writer) int {
	flags := flag.NewFlagSet("wasabi", flag.ContinueOnError)
	flags.SetOutput(stdErr)
	flags.Usage = func() { printUsage(stdErr, flags) }

	var outputDir string
	flags.StringVar(&outputDir, "o", "out/", "")
	flags.StringVar(&outputDir, "output-dir", "out/", "Output directory (created if it does not exist).")

	var nodeJS bool
	flags.BoolVar(&nodeJS, "n", false, "")
	flags.BoolVar(&nodeJS, "node", false,
		"Generate JavaScript for inclusion in Node.js, not the browser. "+
			"Import Wasabi before the module to analyze with require('<name>.wasabi.js').")

	var hooksCSV, noHooksCSV string
	flags.StringVar(&hooksCSV, "hooks", "",
		"Instrument ONLY for the given comma-separated list of hooks, e.g. \"br,br_if\". [default: all]")
	flags.StringVar(&noHooksCSV, "no-hooks", "",
		"Instrument for all hooks EXCEPT the given ones. Cannot be combined with -hooks.")

	var verbose bool
	flags.BoolVar(&verbose, "v", false, "Log per-function instrumentation progress to stderr.")

	var printVersion bool
	flags.BoolVar(&printVersion, "version", false, "Print the version and exit.")

	if err := flags.Parse(args); err != nil {
		return 1
	}

	if printVersion {
		fmt.Fprintln(stdOut, wasabiVersion)
		return 0
	}

	if flags.NArg() < 1 {
		fmt.Fprintln(stdErr, "missing path to wasm file")
		printUsage(stdErr, flags)
		return 1
	}
	if flags.NArg() > 1 {
		fmt.Fprintln(stdErr, "expected exactly one input file")
		printUsage(stdErr, flags)
		return 1
	}
	inputPath := flags.Arg(0)

	logger, err := wasabilog.New(verbose)
	if err != nil {
		fmt.Fprintf(stdErr, "error creating logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	wasmBytes, err := os.ReadFile(inputPath)
	if err != nil {
		fmt.Fprintf(stdErr, "error reading wasm binary: %v\n", err)
		return 1
	}

	result, err := api.Instrument(wasmBytes, api.Options{
		Hooks:   splitCSV(hooksCSV),
		NoHooks: splitCSV(noHooksCSV),
		NodeJS:  nodeJS,
		Logger:  logger,
	})
	if err != nil {
		if errors.Is(err, instrument.ErrUnsupported) {
			fmt.Fprintf(stdErr, "error: %v\n", err)
			return 1
		}
		logger.Error("instrumentation failed", zap.Error(err))
		fmt.Fprintf(stdErr, "error instrumenting wasm binary: %v\n", err)
		return 1
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		fmt.Fprintf(stdErr, "error creating output directory: %v\n", err)
		return 1
	}
	inputName := filepath.Base(inputPath)
	wasmOut := filepath.Join(outputDir, inputName)
	jsOut := filepath.Join(outputDir, strings.TrimSuffix(inputName, filepath.Ext(inputName))+".wasabi.js")

	if err := os.WriteFile(wasmOut, result.Wasm, 0o644); err != nil {
		fmt.Fprintf(stdErr, "error writing instrumented binary: %v\n", err)
		return 1
	}
	if err := os.WriteFile(jsOut, result.JS, 0o644); err != nil {
		fmt.Fprintf(stdErr, "error writing companion file: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdOut, "inserted %d low-level hooks\n", result.HookCount)
	return 0
}

// splitCSV parses a comma-separated flag value, dropping empty entries so
// that "-hooks br," behaves like "-hooks br".
func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func printUsage(stdErr io.Writer, flags *flag.FlagSet) {
	fmt.Fprintln(stdErr, "wasabi: dynamic analysis instrumentation for WebAssembly")
	fmt.Fprintln(stdErr)
	fmt.Fprintln(stdErr, "Usage:\n  wasabi [options] <input.wasm>")
	fmt.Fprintln(stdErr)
	fmt.Fprintln(stdErr, "Options:")
	flags.PrintDefaults()
}
