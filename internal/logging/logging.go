// Package logging constructs the process-wide structured logger.
package logging

import (
	"log/slog"
	"os"
)

// New returns a JSON slog.Logger writing to stdout, matching the handler
// shape every subsystem logger is derived from via WithGroup/With.
func New(level slog.Level, addSource bool) *slog.Logger {
	opts := &slog.HandlerOptions{
		AddSource: addSource,
		Level:     level,
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}
