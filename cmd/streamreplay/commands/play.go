// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os/signal"
	"slices"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/streamreplay/cmd/streamreplay/cli"
	"github.com/bureau-foundation/streamreplay/lib/clock"
	"github.com/bureau-foundation/streamreplay/lib/container"
	"github.com/bureau-foundation/streamreplay/lib/replay"
	"github.com/bureau-foundation/streamreplay/lib/stream"
	"github.com/bureau-foundation/streamreplay/lib/worker"
)

type playParams struct {
	cli.ConfigParams
	readFilters
	Speed      float64 `flag:"speed"       desc:"playback speed multiplier (default from config)"`
	ChunkSize  int     `flag:"chunk-size"  desc:"samples per emission (default from config)"`
	Sink       string  `flag:"sink"        desc:"log, discard or record (default from config)"`
	RecordPath string  `flag:"record-path" desc:"output container for the record sink"`
}

// playback is the resolved form of playParams.
type playback struct {
	read       container.ReadOptions
	speed      float64
	chunkSize  int
	sink       string
	recordPath string
}

func playCommand() *cli.Command {
	var params playParams

	return &cli.Command{
		Name:    "play",
		Summary: "Replay a recording in this process",
		Description: `Decode a recording and re-emit every stream with its original relative
timing. Each stream's samples go to the configured sink: log writes a
debug record per emission, discard drops them, record re-records the
replay into another container with replay-time timestamps.

Interrupt with Ctrl-C; the summary still prints.`,
		Usage: "streamreplay play [flags] <recording>",
		Examples: []cli.Example{
			{Description: "Replay at four times real time", Command: "streamreplay play --speed 4 session.rec"},
			{Description: "Re-record with replay-time timestamps", Command: "streamreplay play --sink record --record-path replayed.rec session.rec"},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("play", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 1 {
				return fmt.Errorf("expected 1 recording path, got %d arguments", len(args))
			}
			cfg, err := params.Resolve()
			if err != nil {
				return err
			}
			read, err := params.options(cfg, logger)
			if err != nil {
				return err
			}
			resolved := playback{
				read:       read,
				speed:      orDefault(params.Speed, cfg.Replay.Speed),
				chunkSize:  orDefault(params.ChunkSize, cfg.Replay.ChunkSize),
				sink:       orDefault(params.Sink, cfg.Replay.Sink),
				recordPath: orDefault(params.RecordPath, cfg.Replay.RecordPath),
			}

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runPlay(ctx, stdout, args[0], resolved, clock.Real(), logger)
		},
	}
}

// orDefault returns flag unless it is the zero value, else fallback.
func orDefault[T comparable](flag, fallback T) T {
	var zero T
	if flag != zero {
		return flag
	}
	return fallback
}

func runPlay(ctx context.Context, w io.Writer, path string, options playback, clk clock.Clock, logger *slog.Logger) error {
	buffer, err := container.ReadFile(ctx, path, options.read)
	var mismatch *stream.ChannelMismatchError
	if err != nil && !errors.As(err, &mismatch) {
		return err
	}
	if err != nil {
		logger.Warn("reshape skipped", "error", err)
	}

	sinkFor, closeSinks, err := playSinks(options, logger)
	if err != nil {
		return err
	}
	defer closeSinks()

	var sources []replay.Source
	for _, name := range buffer.Names() {
		s, _ := buffer.Get(name)
		sink, err := sinkFor(s)
		if err != nil {
			return err
		}
		sources = append(sources, replay.Source{Name: name, Stream: s, Sink: sink, ChunkSize: options.chunkSize})
	}

	scheduler := replay.New(replay.Config{Clock: clk, Logger: logger, Speed: options.speed})
	if err := scheduler.Load(sources); err != nil {
		return err
	}
	timing, err := scheduler.Start()
	if err != nil {
		return err
	}

	runErr := scheduler.Run(ctx)
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	stats := scheduler.Stats()

	fmt.Fprintf(w, "replayed %s: %.3fs of recording at speed %g, %d steps\n",
		path, timing.Total, options.speed, stats.Steps)
	for _, name := range slices.Sorted(maps.Keys(stats.Emitted)) {
		fmt.Fprintf(w, "  %s: %d samples, %d sink failures\n", name, stats.Emitted[name], stats.SinkFailures[name])
	}
	return errors.Join(runErr, closeSinks())
}

// playSinks shares the worker's sink construction so that play and a
// worker configured the same way emit identically.
func playSinks(options playback, logger *slog.Logger) (func(*stream.Stream) (replay.Sink, error), func() error, error) {
	settings := worker.Settings{Sink: options.sink, RecordPath: options.recordPath}
	return worker.SinkFactory(settings, logger)
}
