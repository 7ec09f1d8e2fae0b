// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bureau-foundation/streamreplay/lib/clock"
	"github.com/bureau-foundation/streamreplay/lib/codec"
	"github.com/bureau-foundation/streamreplay/lib/container"
	"github.com/bureau-foundation/streamreplay/lib/replay"
	"github.com/bureau-foundation/streamreplay/lib/stream"
)

// ErrLoadCancelled is returned by a LOAD interrupted by CANCEL_LOAD or
// STOP.
var ErrLoadCancelled = errors.New("load cancelled")

// SinkFactory returns the sink that receives a replayed stream.
type SinkFactory func(s *stream.Stream) (replay.Sink, error)

// SessionConfig configures a Session.
type SessionConfig struct {
	Clock  clock.Clock
	Logger *slog.Logger

	// Read controls filtering and post-processing of every LOAD.
	Read container.ReadOptions

	// Speed is the playback speed handed to each scheduler.
	Speed float64

	// ChunkSize is the emission chunk size for streams the GO
	// selection does not size explicitly.
	ChunkSize int

	// Sinks builds one sink per played stream. Defaults to a LogSink.
	Sinks SinkFactory
}

// Session is the worker's protocol state machine. It owns the loaded
// buffer exclusively and runs each playback in its own goroutine, so
// control commands are answered while samples are being emitted.
//
// States: idle -> loading -> loaded -> playing <-> paused. Playback
// that finishes or is stopped returns to loaded with the buffer kept,
// so GO may be sent again. A failed or cancelled load returns to idle.
type Session struct {
	config SessionConfig
	logger *slog.Logger

	cancelLoad atomic.Bool

	mu       sync.Mutex
	loading  bool
	buffer   *stream.Buffer
	path     string
	playback *playback

	// last is the most recent scheduler, kept for PERFORMANCE_REQUEST
	// after playback ends.
	last *replay.Scheduler
}

type playback struct {
	scheduler *replay.Scheduler
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewSession returns an idle session.
func NewSession(config SessionConfig) *Session {
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if config.ChunkSize < 1 {
		config.ChunkSize = 1
	}
	if config.Sinks == nil {
		logger := config.Logger
		config.Sinks = func(s *stream.Stream) (replay.Sink, error) {
			return replay.LogSink{Logger: logger, Stream: s.Name}, nil
		}
	}
	if config.Read.Logger == nil {
		config.Read.Logger = config.Logger
	}
	return &Session{config: config, logger: config.Logger}
}

// State returns the current protocol state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Session) stateLocked() SessionState {
	if s.loading {
		return StateLoading
	}
	if s.playback != nil {
		switch s.playback.scheduler.State() {
		case replay.Playing:
			return StatePlaying
		case replay.Paused:
			return StatePaused
		}
	}
	if s.buffer != nil {
		return StateLoaded
	}
	return StateIdle
}

// requireLocked returns a ProtocolError unless the session is in one of
// allowed.
func (s *Session) requireLocked(verb string, allowed ...SessionState) error {
	state := s.stateLocked()
	for _, candidate := range allowed {
		if state == candidate {
			return nil
		}
	}
	return &ProtocolError{Verb: verb, State: state}
}

// Load reads the recording at path, replacing any loaded buffer. The
// read checks for cancellation between records.
func (s *Session) Load(ctx context.Context, path string) (LoadResult, error) {
	s.mu.Lock()
	if err := s.requireLocked(VerbLoad, StateIdle, StateLoaded); err != nil {
		s.mu.Unlock()
		return LoadResult{}, err
	}
	s.loading = true
	s.cancelLoad.Store(false)
	s.mu.Unlock()

	started := s.config.Clock.Now()
	buffer, err := s.read(ctx, path)
	var digest string
	if err == nil {
		digest, err = container.Digest(path)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.loading = false
	if err != nil {
		s.buffer = nil
		s.path = ""
		s.logger.Warn("load failed", "path", path, "error", err)
		return LoadResult{}, err
	}

	start, end, ok := buffer.Bounds()
	if !ok {
		s.buffer = nil
		s.path = ""
		return LoadResult{}, fmt.Errorf("%s holds no samples", path)
	}
	s.buffer = buffer
	s.path = path

	result := LoadResult{
		Timing: replay.Timing{
			Start:  start,
			End:    end,
			Total:  end - start,
			Offset: unixSeconds(s.config.Clock.Now()) - start,
		},
		Digest: digest,
	}
	for _, name := range buffer.Names() {
		st, _ := buffer.Get(name)
		result.Streams = append(result.Streams, StreamInfo{
			Name:     name,
			Channels: st.Channels(),
			Samples:  st.Len(),
			Rate:     st.Rate(),
		})
	}
	s.logger.Info("recording loaded",
		"path", path,
		"streams", len(result.Streams),
		"duration", result.Timing.Total,
		"digest", digest,
		"elapsed", s.config.Clock.Now().Sub(started),
	)
	return result, nil
}

func (s *Session) read(ctx context.Context, path string) (*stream.Buffer, error) {
	stepper, err := container.NewStepper(path, s.config.Read)
	if err != nil {
		return nil, err
	}
	defer stepper.Close()

	for progress, err := range stepper.Records() {
		if err != nil {
			if progress.Finished {
				// Reshape mismatches leave the affected streams flat;
				// the recording is still playable.
				s.logger.Warn("reshape incomplete", "path", path, "error", err)
				break
			}
			return nil, err
		}
		if progress.Finished {
			break
		}
		if s.cancelLoad.Load() {
			return nil, ErrLoadCancelled
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}
	return stepper.Buffer(), nil
}

// CancelLoad interrupts a LOAD in progress.
func (s *Session) CancelLoad() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireLocked(VerbCancelLoad, StateLoading); err != nil {
		return err
	}
	s.cancelLoad.Store(true)
	return nil
}

// Go starts playing the selected streams. Playback runs until every
// stream is exhausted, STOP arrives or ctx is cancelled.
func (s *Session) Go(ctx context.Context, selection Selection) (replay.Timing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireLocked(VerbGo, StateLoaded); err != nil {
		return replay.Timing{}, err
	}

	names := selection.Streams
	if len(names) == 0 {
		names = s.buffer.Names()
	}
	sources := make([]replay.Source, 0, len(names))
	for _, name := range names {
		st, ok := s.buffer.Get(name)
		if !ok {
			return replay.Timing{}, fmt.Errorf("stream %q is not loaded", name)
		}
		sink, err := s.config.Sinks(st)
		if err != nil {
			return replay.Timing{}, fmt.Errorf("sink for %q: %w", name, err)
		}
		chunk, ok := selection.ChunkSizes[name]
		if !ok {
			chunk = s.config.ChunkSize
		}
		sources = append(sources, replay.Source{Name: name, Stream: st, Sink: sink, ChunkSize: chunk})
	}

	scheduler := replay.New(replay.Config{
		Clock:  s.config.Clock,
		Logger: s.logger,
		Speed:  s.config.Speed,
	})
	if err := scheduler.Load(sources); err != nil {
		return replay.Timing{}, err
	}
	timing, err := scheduler.Start()
	if err != nil {
		return replay.Timing{}, err
	}

	runContext, cancel := context.WithCancel(ctx)
	current := &playback{scheduler: scheduler, cancel: cancel, done: make(chan struct{})}
	s.playback = current
	s.last = scheduler
	go func() {
		defer close(current.done)
		defer cancel()
		if err := scheduler.Run(runContext); err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Error("playback failed", "error", err)
		}
	}()
	return timing, nil
}

// PlayPause toggles playback and reports whether it is now playing.
func (s *Session) PlayPause() (bool, error) {
	scheduler, err := s.activeScheduler(VerbPlayPause)
	if err != nil {
		return false, err
	}
	return scheduler.TogglePause()
}

// Seek moves playback proportionally and returns the new virtual clock.
func (s *Session) Seek(fraction float64) (float64, error) {
	scheduler, err := s.activeScheduler(VerbSeek)
	if err != nil {
		return 0, err
	}
	return scheduler.Seek(fraction)
}

// VirtualClock returns the playback position in recording seconds.
func (s *Session) VirtualClock() (float64, error) {
	scheduler, err := s.activeScheduler(VerbVirtualClock)
	if err != nil {
		return 0, err
	}
	return scheduler.VirtualTime(), nil
}

func (s *Session) activeScheduler(verb string) (*replay.Scheduler, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireLocked(verb, StatePlaying, StatePaused); err != nil {
		return nil, err
	}
	return s.playback.scheduler, nil
}

// Stop ends playback and interrupts a load. It is valid in every state
// and returns once the playback goroutine has exited.
func (s *Session) Stop() {
	s.mu.Lock()
	if s.loading {
		s.cancelLoad.Store(true)
	}
	current := s.playback
	s.playback = nil
	s.mu.Unlock()

	if current == nil {
		return
	}
	// A playback that already finished reports a StateError here.
	_ = current.scheduler.Stop()
	current.cancel()
	<-current.done
}

// Performance returns the mean seconds per step of the current or most
// recent playback, zero if nothing has played.
func (s *Session) Performance() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return 0
	}
	return s.last.Performance()
}

// Register installs a handler for every verb on server. terminate is
// called after TERMINATE stops playback; it should make Serve return,
// which happens only after the reply has been written.
func (s *Session) Register(server *Server, terminate func()) {
	server.Handle(VerbLoad, func(ctx context.Context, argument string, _ [][]byte) (Reply, error) {
		if argument == "" {
			return Reply{}, errors.New("LOAD needs a path")
		}
		result, err := s.Load(ctx, argument)
		if err != nil {
			return Reply{}, err
		}
		names := make([]string, 0, len(result.Streams))
		payload := [][]byte{encodeTiming(result.Timing)}
		for _, info := range result.Streams {
			names = append(names, info.Name)
			payload = append(payload, EncodeFloats(float64(info.Channels), float64(info.Samples), info.Rate))
		}
		encodedNames, err := codec.Marshal(names)
		if err != nil {
			return Reply{}, fmt.Errorf("encoding stream names: %w", err)
		}
		payload = append(payload, []byte(result.Digest), encodedNames)
		return Reply{Message: strings.Join(names, nameSeparator), Payload: payload}, nil
	})

	server.Handle(VerbCancelLoad, func(context.Context, string, [][]byte) (Reply, error) {
		return Reply{}, s.CancelLoad()
	})

	server.Handle(VerbGo, func(ctx context.Context, _ string, payload [][]byte) (Reply, error) {
		var selection Selection
		if len(payload) > 0 && len(payload[0]) > 0 {
			if err := codec.Unmarshal(payload[0], &selection); err != nil {
				return Reply{}, fmt.Errorf("decoding stream selection: %w", err)
			}
		}
		timing, err := s.Go(ctx, selection)
		if err != nil {
			return Reply{}, err
		}
		return Reply{Payload: [][]byte{encodeTiming(timing)}}, nil
	})

	server.Handle(VerbPlayPause, func(context.Context, string, [][]byte) (Reply, error) {
		playing, err := s.PlayPause()
		if err != nil {
			return Reply{}, err
		}
		value := 0.0
		if playing {
			value = 1
		}
		return Reply{Payload: [][]byte{EncodeFloats(value)}}, nil
	})

	server.Handle(VerbSeek, func(_ context.Context, _ string, payload [][]byte) (Reply, error) {
		values, err := payloadFloats(payload, 0, 1)
		if err != nil {
			return Reply{}, fmt.Errorf("SEEK: %w", err)
		}
		virtual, err := s.Seek(values[0])
		if err != nil {
			return Reply{}, err
		}
		return Reply{Payload: [][]byte{EncodeFloats(virtual)}}, nil
	})

	server.Handle(VerbVirtualClock, func(context.Context, string, [][]byte) (Reply, error) {
		virtual, err := s.VirtualClock()
		if err != nil {
			return Reply{}, err
		}
		return Reply{Payload: [][]byte{EncodeFloats(virtual)}}, nil
	})

	server.Handle(VerbStop, func(context.Context, string, [][]byte) (Reply, error) {
		s.Stop()
		return Reply{}, nil
	})

	server.Handle(VerbPerformance, func(context.Context, string, [][]byte) (Reply, error) {
		return Reply{Payload: [][]byte{EncodeFloats(s.Performance())}}, nil
	})

	server.Handle(VerbTerminate, func(context.Context, string, [][]byte) (Reply, error) {
		s.Stop()
		s.logger.Info("terminate requested")
		terminate()
		return Reply{}, nil
	})
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
