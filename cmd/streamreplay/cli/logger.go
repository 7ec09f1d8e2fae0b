// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"log/slog"
	"os"

	"golang.org/x/term"
)

// LogLevel is the level for command loggers. main sets it from
// STREAMREPLAY_LOG_LEVEL before dispatch.
var LogLevel = new(slog.LevelVar)

// NewCommandLogger creates a structured logger on stderr. A terminal
// gets slog.TextHandler for reading; a pipe gets slog.JSONHandler,
// matching what the worker writes.
func NewCommandLogger() *slog.Logger {
	var handler slog.Handler
	options := &slog.HandlerOptions{Level: LogLevel}
	if term.IsTerminal(int(os.Stderr.Fd())) {
		handler = slog.NewTextHandler(os.Stderr, options)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, options)
	}
	return slog.New(handler)
}
