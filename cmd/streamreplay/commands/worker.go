// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"
	"github.com/tidwall/jsonc"

	"github.com/bureau-foundation/streamreplay/cmd/streamreplay/cli"
	"github.com/bureau-foundation/streamreplay/lib/clock"
	"github.com/bureau-foundation/streamreplay/lib/codec"
	"github.com/bureau-foundation/streamreplay/lib/config"
	"github.com/bureau-foundation/streamreplay/lib/control"
	"github.com/bureau-foundation/streamreplay/lib/worker"
)

// socketParams locates a running worker.
type socketParams struct {
	cli.ConfigParams
	Socket string `flag:"socket" desc:"worker control socket (default <paths.sockets>/worker.sock)"`
}

func (p *socketParams) client() (*control.Client, *config.Config, error) {
	cfg, err := p.Resolve()
	if err != nil {
		return nil, nil, err
	}
	return control.NewClient(p.socketPath(cfg)), cfg, nil
}

func (p *socketParams) socketPath(cfg *config.Config) string {
	if p.Socket != "" {
		return p.Socket
	}
	return filepath.Join(cfg.Paths.Sockets, "worker.sock")
}

// selectionParams builds the GO selection.
type selectionParams struct {
	Streams    []string `flag:"streams"    desc:"play only these loaded streams"`
	ChunkSizes []string `flag:"chunk"      desc:"per-stream chunk size as name=samples"`
	Selection  string   `flag:"selection"  desc:"JSONC file with streams and chunk_sizes"`
}

func (p selectionParams) build() (control.Selection, error) {
	var selection control.Selection
	if p.Selection != "" {
		data, err := os.ReadFile(p.Selection)
		if err != nil {
			return control.Selection{}, fmt.Errorf("reading selection: %w", err)
		}
		if err := json.Unmarshal(jsonc.ToJSON(data), &selection); err != nil {
			return control.Selection{}, fmt.Errorf("parsing selection %s: %w", p.Selection, err)
		}
	}
	if len(p.Streams) > 0 {
		selection.Streams = p.Streams
	}
	for _, entry := range p.ChunkSizes {
		name, value, ok := strings.Cut(entry, "=")
		size, err := strconv.Atoi(value)
		if !ok || name == "" || err != nil || size < 1 {
			return control.Selection{}, fmt.Errorf("--chunk %q: want name=samples with samples >= 1", entry)
		}
		if selection.ChunkSizes == nil {
			selection.ChunkSizes = make(map[string]int)
		}
		selection.ChunkSizes[name] = size
	}
	return selection, nil
}

func workerCommand() *cli.Command {
	return &cli.Command{
		Name:    "worker",
		Summary: "Run and control an isolated replay worker",
		Description: `Replay inside a separate streamreplay-worker process controlled over a
unix socket. "start" launches a worker in the background and "run"
drives one in the foreground from load to shutdown. The remaining
commands send one control verb each to a running worker.`,
		Subcommands: []*cli.Command{
			workerStartCommand(),
			workerRunCommand(),
			workerLoadCommand(),
			workerGoCommand(),
			workerVerbCommand("cancel-load", "Abort a load in progress", func(ctx context.Context, w io.Writer, client *control.Client, _ []string) error {
				return client.CancelLoad(ctx)
			}),
			workerVerbCommand("pause", "Toggle between playing and paused", func(ctx context.Context, w io.Writer, client *control.Client, _ []string) error {
				playing, err := client.PlayPause(ctx)
				if err != nil {
					return err
				}
				if playing {
					fmt.Fprintln(w, "playing")
				} else {
					fmt.Fprintln(w, "paused")
				}
				return nil
			}),
			workerVerbCommand("seek", "Scale elapsed playback time by a fraction, keeping the recording start fixed", func(ctx context.Context, w io.Writer, client *control.Client, args []string) error {
				if len(args) != 1 {
					return fmt.Errorf("expected 1 fraction argument, got %d", len(args))
				}
				fraction, err := strconv.ParseFloat(args[0], 64)
				if err != nil {
					return fmt.Errorf("parsing fraction: %w", err)
				}
				virtual, err := client.Seek(ctx, fraction)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%.6f\n", virtual)
				return nil
			}),
			workerVerbCommand("clock", "Print the playback position in recording seconds", func(ctx context.Context, w io.Writer, client *control.Client, _ []string) error {
				virtual, err := client.VirtualClock(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%.6f\n", virtual)
				return nil
			}),
			workerVerbCommand("perf", "Print the mean wall time per scheduler step", func(ctx context.Context, w io.Writer, client *control.Client, _ []string) error {
				seconds, err := client.Performance(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%s per step\n", time.Duration(seconds*float64(time.Second)))
				return nil
			}),
			workerVerbCommand("stop", "End playback, keeping the loaded recording", func(ctx context.Context, _ io.Writer, client *control.Client, _ []string) error {
				return client.Stop(ctx)
			}),
			workerVerbCommand("terminate", "Ask the worker to exit", func(ctx context.Context, _ io.Writer, client *control.Client, _ []string) error {
				return client.Terminate(ctx)
			}),
			workerRawCommand(),
		},
	}
}

// workerVerbCommand builds a command that sends one verb.
func workerVerbCommand(name, summary string, run func(context.Context, io.Writer, *control.Client, []string) error) *cli.Command {
	var params socketParams
	return &cli.Command{
		Name:    name,
		Summary: summary,
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams(name, &params)
		},
		Run: func(ctx context.Context, args []string, _ *slog.Logger) error {
			client, _, err := params.client()
			if err != nil {
				return err
			}
			return run(ctx, stdout, client, args)
		},
	}
}

type workerStartParams struct {
	socketParams
	LogFile string `flag:"log-file" desc:"append worker logs here instead of this terminal"`
}

func workerStartCommand() *cli.Command {
	var params workerStartParams

	return &cli.Command{
		Name:    "start",
		Summary: "Launch a worker in the background",
		Description: `Start streamreplay-worker in its own process group with the replay
and read settings from the configuration, wait until its control socket
accepts connections, print its pid and return. The worker keeps running
until "streamreplay worker terminate".`,
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("start", &params)
		},
		Run: func(ctx context.Context, _ []string, logger *slog.Logger) error {
			cfg, err := params.Resolve()
			if err != nil {
				return err
			}
			if err := cfg.EnsurePaths(); err != nil {
				return err
			}
			options, err := cfg.SpawnOptions(params.socketPath(cfg))
			if err != nil {
				return err
			}
			options.Logger = logger
			if params.LogFile != "" {
				logFile, err := os.OpenFile(params.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
				if err != nil {
					return err
				}
				defer logFile.Close()
				options.Stdout, options.Stderr = logFile, logFile
			}
			spawned, err := worker.Spawn(ctx, options)
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "worker %d listening on %s\n", spawned.Pid(), options.Settings.Socket)
			return nil
		},
	}
}

type workerRunParams struct {
	socketParams
	selectionParams
	PollInterval time.Duration `flag:"poll" desc:"how often to report the playback position" default:"1s"`
}

func workerRunCommand() *cli.Command {
	var params workerRunParams

	return &cli.Command{
		Name:    "run",
		Summary: "Replay a recording through a foreground worker",
		Description: `Spawn a worker, load the recording, start playback and report the
virtual clock until playback ends. Ctrl-C stops playback and shuts the
worker down, escalating to signals if it does not exit on request.`,
		Usage: "streamreplay worker run [flags] <recording>",
		Examples: []cli.Example{
			{Description: "Replay EEG only, 64 samples at a time", Command: "streamreplay worker run --streams eeg --chunk eeg=64 session.rec"},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("run", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 1 {
				return fmt.Errorf("expected 1 recording path, got %d arguments", len(args))
			}
			selection, err := params.build()
			if err != nil {
				return err
			}
			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			cfg, err := params.Resolve()
			if err != nil {
				return err
			}
			if err := cfg.EnsurePaths(); err != nil {
				return err
			}
			options, err := cfg.SpawnOptions(params.socketPath(cfg))
			if err != nil {
				return err
			}
			options.Logger = logger

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			spawned, err := worker.Spawn(ctx, options)
			if err != nil {
				return err
			}
			defer func() {
				// A fresh context: ctx may already be cancelled by Ctrl-C.
				shutdownContext, cancel := context.WithTimeout(context.Background(), 4*options.GracePeriod)
				defer cancel()
				if err := spawned.Shutdown(shutdownContext); err != nil {
					logger.Warn("worker shutdown incomplete", "error", err)
				}
			}()

			return drive(ctx, stdout, spawned.Client(), path, selection, clock.Real(), params.PollInterval)
		},
	}
}

// drive loads path, starts playback and reports the virtual clock every
// interval until the worker leaves playback.
func drive(ctx context.Context, w io.Writer, client *control.Client, path string, selection control.Selection, clk clock.Clock, interval time.Duration) error {
	loaded, err := client.Load(ctx, path)
	if err != nil {
		return err
	}
	printLoad(w, loaded)

	timing, err := client.Go(ctx, selection)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "playing %.3fs of recording\n", timing.Total)

	ticker := clk.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			// The deferred shutdown stops the worker.
			return nil
		case <-ticker.C:
		}
		virtual, err := client.VirtualClock(ctx)
		var commandError *control.CommandError
		if errors.As(err, &commandError) {
			// Playback ended and the session went back to loaded.
			fmt.Fprintln(w, "playback finished")
			return nil
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "t=%.3f / %.3f\n", virtual-timing.Start, timing.Total)
	}
}

func printLoad(w io.Writer, loaded control.LoadResult) {
	tw := tabwriter.NewWriter(w, 2, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "STREAM\tCHANNELS\tSAMPLES\tRATE\n")
	for _, info := range loaded.Streams {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%.3f\n", info.Name, info.Channels, info.Samples, info.Rate)
	}
	tw.Flush()
	fmt.Fprintf(w, "span %.6f .. %.6f (%.3fs), digest %s\n",
		loaded.Timing.Start, loaded.Timing.End, loaded.Timing.Total, loaded.Digest)
}

func workerLoadCommand() *cli.Command {
	var params socketParams

	return &cli.Command{
		Name:    "load",
		Summary: "Load a recording into a running worker",
		Usage:   "streamreplay worker load [flags] <recording>",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("load", &params)
		},
		Run: func(ctx context.Context, args []string, _ *slog.Logger) error {
			if len(args) != 1 {
				return fmt.Errorf("expected 1 recording path, got %d arguments", len(args))
			}
			client, _, err := params.client()
			if err != nil {
				return err
			}
			// The worker resolves the path in its own working directory.
			path, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			loaded, err := client.Load(ctx, path)
			if err != nil {
				return err
			}
			printLoad(stdout, loaded)
			return nil
		},
	}
}

type workerGoParams struct {
	socketParams
	selectionParams
}

func workerGoCommand() *cli.Command {
	var params workerGoParams

	return &cli.Command{
		Name:    "go",
		Summary: "Start playback of the loaded recording",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("go", &params)
		},
		Run: func(ctx context.Context, _ []string, _ *slog.Logger) error {
			selection, err := params.build()
			if err != nil {
				return err
			}
			client, _, err := params.client()
			if err != nil {
				return err
			}
			timing, err := client.Go(ctx, selection)
			if err != nil {
				return err
			}
			fmt.Fprintf(stdout, "playing %.6f .. %.6f (%.3fs)\n", timing.Start, timing.End, timing.Total)
			return nil
		},
	}
}

func workerRawCommand() *cli.Command {
	var params socketParams

	return &cli.Command{
		Name:    "raw",
		Summary: "Send a raw control command and dump the response",
		Description: `Send VERB or VERB:ARGUMENT with no payload and print the response info
line followed by each payload frame. Frames that decode as CBOR are
shown in diagnostic notation, others as hex.`,
		Usage: "streamreplay worker raw [flags] <command>",
		Examples: []cli.Example{
			{Description: "Query the virtual clock", Command: "streamreplay worker raw VIRTUAL_CLOCK"},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("raw", &params)
		},
		Run: func(ctx context.Context, args []string, _ *slog.Logger) error {
			if len(args) != 1 {
				return fmt.Errorf("expected 1 command argument, got %d", len(args))
			}
			client, _, err := params.client()
			if err != nil {
				return err
			}
			response, err := client.Call(ctx, control.Request{Command: args[0]})
			var commandError *control.CommandError
			if err != nil && !errors.As(err, &commandError) {
				return err
			}
			printRaw(stdout, response)
			return nil
		},
	}
}

func printRaw(w io.Writer, response control.Response) {
	fmt.Fprintln(w, response.Info)
	for i, frame := range response.Payload {
		if diagnostic, err := codec.Diagnose(frame); err == nil {
			fmt.Fprintf(w, "[%d] %s\n", i, diagnostic)
			continue
		}
		fmt.Fprintf(w, "[%d] %s\n", i, hex.EncodeToString(frame))
	}
}
