// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package commands builds the streamreplay CLI command tree.
package commands

import (
	"io"
	"os"

	"github.com/bureau-foundation/streamreplay/cmd/streamreplay/cli"
)

// stdout is where command results go. Tests swap it.
var stdout io.Writer = os.Stdout

// Root builds and returns the complete CLI command tree.
func Root() *cli.Command {
	return &cli.Command{
		Name: "streamreplay",
		Description: `streamreplay: record and replay multi-stream time series.

Recordings are append-only container files holding any number of named
streams at independent sampling rates. Replay re-emits every stream
with its original relative timing against a virtual clock that can be
paused, sped up and seeked, either in-process or inside an isolated
worker driven over a control socket.`,
		Subcommands: []*cli.Command{
			inspectCommand(),
			readCommand(),
			generateCommand(),
			playCommand(),
			workerCommand(),
			archiveCommand(),
		},
	}
}
