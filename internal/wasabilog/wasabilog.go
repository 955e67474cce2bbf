// Package wasabilog builds the zap loggers the CLI hands down to the
// instrumenter. Diagnostics go to stderr so that stdout stays reserved for
// the tool's own one-line summary output.
package wasabilog

import (
	"go.uber.org/zap"
)

// New returns a logger for one CLI invocation: a terse production logger by
// default, or a development logger that also emits the instrumenter's
// per-function debug output when verbose is set.
func New(verbose bool) (*zap.Logger, error) {
	var cfg zap.Config
	if verbose {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}

// Nop returns a logger that discards everything, for library callers that
// did not configure one.
func Nop() *zap.Logger {
	return zap.NewNop()
}
