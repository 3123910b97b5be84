// Package logging configures the process-wide structured logger used by
// every component. It wraps github.com/ethereum/go-ethereum/log, a
// terminal-coloring, leveled logger, instead of hand-rolling a log sink.
package logging

import (
	"log/slog"
	"os"

	"github.com/ethereum/go-ethereum/log"
	"github.com/mattn/go-isatty"
)

// Setup installs a root logger at the given level, writing to stderr in
// the terminal format, with color when attached to a terminal and without
// color otherwise (e.g. when output is redirected to a file or captured by
// a process manager).
// levelName is one of "trace", "debug", "info", "warn", "error", "crit" —
// an unrecognized name falls back to info.
func Setup(levelName string) {
	lvl := parseLevel(levelName)
	useColor := isatty.IsTerminal(os.Stderr.Fd())
	handler := log.NewTerminalHandlerWithLevel(os.Stderr, lvl, useColor)
	log.SetDefault(log.NewLogger(handler))
}

func parseLevel(name string) slog.Level {
	switch name {
	case "trace":
		return log.LevelTrace
	case "debug":
		return log.LevelDebug
	case "info":
		return log.LevelInfo
	case "warn", "warning":
		return log.LevelWarn
	case "error":
		return log.LevelError
	case "crit", "critical":
		return log.LevelCrit
	default:
		return log.LevelInfo
	}
}
