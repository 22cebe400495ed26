// Command rtool runs the irqdeadlock analyzer as a standalone checker
// over the packages named on the command line.
package main

import (
	"log/slog"
	"os"

	"golang.org/x/tools/go/analysis/singlechecker"

	"github.com/catlessfish/rtool/pkg/analyzer"
)

func main() {
	setupLogging()
	singlechecker.Main(analyzer.Analyzer)
}

// setupLogging installs a slog handler whose level is controlled by
// RTOOL_LOG (trace, debug, info, warn, error; defaults to warn). The analyzer
// package itself never logs - all of its output goes through
// pass.Reportf and facts - this handler only ever sees messages from
// this command.
func setupLogging() {
	level := slog.LevelWarn
	switch os.Getenv("RTOOL_LOG") {
	case "trace":
		level = slog.LevelDebug - 4
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "error":
		level = slog.LevelError
	}
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler))
}
