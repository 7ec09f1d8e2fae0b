// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bureau-foundation/streamreplay/lib/clock"
	"github.com/bureau-foundation/streamreplay/lib/container"
	"github.com/bureau-foundation/streamreplay/lib/control"
	"github.com/bureau-foundation/streamreplay/lib/replay"
	"github.com/bureau-foundation/streamreplay/lib/stream"
)

// Run serves the control protocol described by settings until ctx is
// cancelled or a TERMINATE command arrives. It is the body of the
// worker binary.
func Run(ctx context.Context, settings Settings, logger *slog.Logger) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	read := container.ReadOptions{
		Only:         settings.Only,
		Ignore:       settings.Ignore,
		RemoveJitter: settings.RemoveJitter,
		Jitter:       stream.JitterOptions{IrregularThreshold: settings.IrregularThreshold},
		Logger:       logger,
	}
	if settings.ReshapeMap != "" {
		mapping, err := stream.LoadReshapeMap(settings.ReshapeMap)
		if err != nil {
			return err
		}
		read.Reshape = mapping
	}

	sinks, closeSinks, err := SinkFactory(settings, logger)
	if err != nil {
		return err
	}

	session := control.NewSession(control.SessionConfig{
		Clock:     clock.Real(),
		Logger:    logger,
		Read:      read,
		Speed:     settings.Speed,
		ChunkSize: settings.ChunkSize,
		Sinks:     sinks,
	})

	serveContext, terminate := context.WithCancel(ctx)
	defer terminate()

	server := control.NewServer(settings.Socket, logger)
	session.Register(server, terminate)

	logger.Info("replay worker starting",
		"socket", settings.Socket,
		"sink", settings.Sink,
		"speed", settings.Speed,
	)
	serveErr := server.Serve(serveContext)
	session.Stop()
	return errors.Join(serveErr, closeSinks())
}

// SinkFactory returns the per-stream sink constructor for the
// configured kind and a function releasing whatever it opened. Only
// Sink and RecordPath are consulted.
func SinkFactory(settings Settings, logger *slog.Logger) (control.SinkFactory, func() error, error) {
	noop := func() error { return nil }
	switch settings.Sink {
	case SinkDiscard:
		return func(*stream.Stream) (replay.Sink, error) {
			return replay.DiscardSink{}, nil
		}, noop, nil

	case SinkRecord:
		writer, err := container.OpenWriter(settings.RecordPath, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("opening record sink: %w", err)
		}
		return func(s *stream.Stream) (replay.Sink, error) {
			sink := replay.RecordSink{Writer: writer, Stream: s.Name}
			if rate := s.Rate(); rate > 0 {
				sink.Period = 1 / rate
			}
			return sink, nil
		}, writer.Close, nil

	default:
		return func(s *stream.Stream) (replay.Sink, error) {
			return replay.LogSink{Logger: logger, Stream: s.Name}, nil
		}, noop, nil
	}
}
