// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// streamreplay-worker serves one replay session on a unix control
// socket. It is started by "streamreplay worker start" or
// [worker.Spawn], which pass its settings as STREAMREPLAY_*
// environment variables. It logs JSON to stderr and exits on
// TERMINATE, SIGTERM or SIGINT.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/bureau-foundation/streamreplay/lib/process"
	"github.com/bureau-foundation/streamreplay/lib/worker"
)

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	settings, err := worker.ParseSettings()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: settings.LogLevel,
	})).With("pid", os.Getpid())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	return worker.Run(ctx, settings, logger)
}
