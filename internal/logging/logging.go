// Package logging holds the logger shared by the compositor packages.
//
// Groups, the scheduler and spill paths log through Logger. Nothing is
// written until a host installs a logger with SetLogger.
package logging

import (
	"log/slog"
	"sync/atomic"
)

var (
	discard = slog.New(slog.DiscardHandler)
	current atomic.Pointer[slog.Logger]
)

func init() {
	current.Store(discard)
}

// SetLogger routes compositor logs to l. Worker goroutines may be logging
// while it runs. A nil l silences logging again.
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = discard
	}
	current.Store(l)
}

// Logger returns the logger chunks and groups report to.
func Logger() *slog.Logger {
	return current.Load()
}
