// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// streamreplay is the operator CLI: inspect and generate recordings,
// replay them in-process, and control isolated replay workers.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/bureau-foundation/streamreplay/cmd/streamreplay/cli"
	"github.com/bureau-foundation/streamreplay/cmd/streamreplay/commands"
	"github.com/bureau-foundation/streamreplay/lib/process"
)

func main() {
	if err := run(); err != nil {
		// Commands that print their own output return an ExitError with
		// the desired code. Don't print a redundant "error:" line.
		var coder interface{ ExitCode() int }
		if errors.As(err, &coder) {
			os.Exit(coder.ExitCode())
		}
		process.Fatal(err)
	}
}

func run() error {
	if level := os.Getenv("STREAMREPLAY_LOG_LEVEL"); level != "" {
		if err := cli.LogLevel.UnmarshalText([]byte(level)); err != nil {
			return fmt.Errorf("STREAMREPLAY_LOG_LEVEL: %w", err)
		}
	}
	return commands.Root().Execute(context.Background(), os.Args[1:])
}
