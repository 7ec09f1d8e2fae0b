// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/spf13/pflag"
)

func noop(context.Context, []string, *slog.Logger) error { return nil }

func TestExecute_DispatchesToNestedSubcommand(t *testing.T) {
	var called string
	var receivedArgs []string

	root := &Command{
		Name: "streamreplay",
		Subcommands: []*Command{
			{Name: "inspect", Run: noop},
			{
				Name: "worker",
				Subcommands: []*Command{
					{
						Name: "seek",
						Run: func(_ context.Context, args []string, _ *slog.Logger) error {
							called = "worker seek"
							receivedArgs = args
							return nil
						},
					},
				},
			},
		},
	}

	if err := root.Execute(context.Background(), []string{"worker", "seek", "0.5"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if called != "worker seek" {
		t.Errorf("dispatched to %q, want %q", called, "worker seek")
	}
	if len(receivedArgs) != 1 || receivedArgs[0] != "0.5" {
		t.Errorf("args = %v, want [0.5]", receivedArgs)
	}
}

func TestExecute_FlagParsing(t *testing.T) {
	var speed float64
	var path string

	command := &Command{
		Name: "play",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("play", pflag.ContinueOnError)
			flagSet.Float64Var(&speed, "speed", 1, "playback speed")
			return flagSet
		},
		Run: func(_ context.Context, args []string, _ *slog.Logger) error {
			path = args[0]
			return nil
		},
	}

	if err := command.Execute(context.Background(), []string{"--speed", "4", "session.rec"}); err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if speed != 4 || path != "session.rec" {
		t.Errorf("speed = %v, path = %q", speed, path)
	}
}

func TestExecute_UnknownFlag(t *testing.T) {
	command := &Command{
		Name: "play",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("play", pflag.ContinueOnError)
			flagSet.Float64("speed", 1, "playback speed")
			flagSet.Int("chunk-size", 1, "samples per emission")
			return flagSet
		},
		Run: noop,
	}

	tests := []struct {
		args    []string
		suggest string
	}{
		{[]string{"--sped", "2"}, "did you mean --speed"},
		{[]string{"--chunksize", "2"}, "did you mean --chunk-size"},
		{[]string{"--zzzzzzzzz"}, ""},
	}
	for _, test := range tests {
		err := command.Execute(context.Background(), test.args)
		if err == nil {
			t.Fatalf("Execute(%v) = nil, want error", test.args)
		}
		message := err.Error()
		if test.suggest != "" && !strings.Contains(message, test.suggest) {
			t.Errorf("Execute(%v) error = %q, want %q", test.args, message, test.suggest)
		}
		if test.suggest == "" && strings.Contains(message, "did you mean") {
			t.Errorf("Execute(%v) error = %q, should not suggest", test.args, message)
		}
		if !strings.Contains(message, "--help") {
			t.Errorf("Execute(%v) error = %q, should point to --help", test.args, message)
		}
	}
}

func TestExecute_UnknownSubcommand(t *testing.T) {
	root := &Command{
		Name: "streamreplay",
		Subcommands: []*Command{
			{Name: "inspect"},
			{Name: "generate"},
		},
	}

	err := root.Execute(context.Background(), []string{"inpsect"})
	if err == nil || !strings.Contains(err.Error(), `did you mean "inspect"`) {
		t.Errorf("error = %v, want suggestion for inspect", err)
	}

	err = root.Execute(context.Background(), []string{"zzzzzzz"})
	if err == nil || strings.Contains(err.Error(), "did you mean") {
		t.Errorf("error = %v, want no suggestion", err)
	}
}

func TestExecute_HelpAndMissingSubcommand(t *testing.T) {
	var help bytes.Buffer
	root := &Command{
		Name:    "streamreplay",
		Summary: "Record and replay multi-stream time series",
		Output:  &help,
		Subcommands: []*Command{
			{Name: "inspect", Summary: "List the records of a recording"},
		},
	}

	for _, helpArg := range []string{"-h", "--help", "help"} {
		help.Reset()
		if err := root.Execute(context.Background(), []string{helpArg}); err != nil {
			t.Errorf("Execute(%q) error: %v", helpArg, err)
		}
		if !strings.Contains(help.String(), "List the records of a recording") {
			t.Errorf("help for %q missing subcommand summary:\n%s", helpArg, help.String())
		}
	}

	if err := root.Execute(context.Background(), nil); err == nil || !strings.Contains(err.Error(), "subcommand required") {
		t.Errorf("error = %v, want subcommand required", err)
	}
}

func TestPrintHelp(t *testing.T) {
	var params struct {
		Speed float64 `flag:"speed" desc:"playback speed" default:"1"`
	}
	command := &Command{
		Name:        "play",
		Description: "Replay a recording in-process.",
		Flags: func() *pflag.FlagSet {
			return FlagsFromParams("play", &params)
		},
		Examples: []Example{
			{Description: "Replay at double speed", Command: "streamreplay play --speed 2 session.rec"},
		},
	}

	var output bytes.Buffer
	command.PrintHelp(&output)
	help := output.String()
	for _, want := range []string{
		"Replay a recording in-process.",
		"Usage:\n  play [flags]",
		"--speed",
		"# Replay at double speed",
	} {
		if !strings.Contains(help, want) {
			t.Errorf("help missing %q:\n%s", want, help)
		}
	}
}
