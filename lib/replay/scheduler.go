// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package replay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/bureau-foundation/streamreplay/lib/clock"
	"github.com/bureau-foundation/streamreplay/lib/stream"
)

// State is the scheduler's lifecycle position.
type State int

const (
	Idle State = iota
	Loaded
	Playing
	Paused
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loaded:
		return "loaded"
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// StateError reports an operation attempted in a state that does not
// allow it. The scheduler is unchanged when one is returned.
type StateError struct {
	Op    string
	State State
}

func (e *StateError) Error() string {
	return fmt.Sprintf("replay: %s not allowed while %s", e.Op, e.State)
}

// emitTolerance absorbs float rounding between the virtual clock and
// large epoch timestamps. A sample due within this many seconds is
// emitted without another sleep.
const emitTolerance = 1e-6

// Config configures a Scheduler.
type Config struct {
	// Clock paces emission. Defaults to clock.Real().
	Clock clock.Clock

	Logger *slog.Logger

	// Speed scales playback: 2 plays twice as fast. Defaults to 1.
	Speed float64
}

// Source binds one stream to the sink that receives it.
type Source struct {
	Name   string
	Stream *stream.Stream
	Sink   Sink

	// ChunkSize is the number of samples per emission. Values below 1
	// mean 1.
	ChunkSize int
}

// Timing describes the loaded recording in recording seconds. Offset
// is wall time minus virtual time at Start, in Unix seconds.
type Timing struct {
	Start  float64
	End    float64
	Total  float64
	Offset float64
}

// Stats counts what a playback has done so far.
type Stats struct {
	Steps        int
	Emitted      map[string]int
	SinkFailures map[string]int

	// Busy is the wall time spent emitting, sleeps excluded.
	Busy time.Duration
}

// cursor tracks one stream's playback position.
type cursor struct {
	source Source
	next   int
	chunk  int
}

func (c *cursor) remaining() int { return c.source.Stream.Len() - c.next }

// blocking returns the timestamp of the last sample in the pending
// chunk. Nothing is emitted before the virtual clock reaches it.
func (c *cursor) blocking() float64 {
	return c.source.Stream.Timestamps[c.next+c.chunk-1]
}

// Scheduler re-emits recorded streams with their original relative
// timing. One goroutine drives it through Step or Run; every other
// method is safe to call concurrently from control handlers.
//
// The virtual clock maps wall time to recording time. It is anchored
// at Start and re-anchored by Resume and Seek, so time spent paused
// never counts as playback.
type Scheduler struct {
	clock  clock.Clock
	logger *slog.Logger
	speed  float64

	// wake interrupts a pending sleep after pause, resume, seek or stop.
	wake chan struct{}

	mu      sync.Mutex
	state   State
	sources []Source
	active  []*cursor
	total   int
	stopped bool

	start, end float64

	anchorWall    time.Time
	anchorVirtual float64
	pausedVirtual float64

	stats Stats
}

// New returns an idle scheduler.
func New(config Config) *Scheduler {
	if config.Clock == nil {
		config.Clock = clock.Real()
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	if config.Speed <= 0 {
		config.Speed = 1
	}
	return &Scheduler{
		clock:  config.Clock,
		logger: config.Logger,
		speed:  config.Speed,
		wake:   make(chan struct{}, 1),
	}
}

// Load installs the streams to play. Allowed while Idle or Loaded; a
// second Load replaces the first.
func (s *Scheduler) Load(sources []Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Idle && s.state != Loaded {
		return &StateError{Op: "load", State: s.state}
	}
	if len(sources) == 0 {
		return errors.New("replay: no sources to load")
	}

	sorted := slices.Clone(sources)
	slices.SortFunc(sorted, func(a, b Source) int { return strings.Compare(a.Name, b.Name) })
	for i, source := range sorted {
		if source.Stream == nil {
			return fmt.Errorf("replay: source %q has no stream", source.Name)
		}
		if source.Sink == nil {
			return fmt.Errorf("replay: source %q has no sink", source.Name)
		}
		if i > 0 && sorted[i-1].Name == source.Name {
			return fmt.Errorf("replay: duplicate source %q", source.Name)
		}
		if sorted[i].ChunkSize < 1 {
			sorted[i].ChunkSize = 1
		}
	}

	s.sources = sorted
	s.active = nil
	s.state = Loaded
	return nil
}

// Start begins playback at the earliest timestamp of the loaded
// streams. Allowed only while Loaded.
func (s *Scheduler) Start() (Timing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != Loaded {
		return Timing{}, &StateError{Op: "start", State: s.state}
	}

	s.active = s.active[:0]
	s.total = 0
	s.stats = Stats{Emitted: make(map[string]int), SinkFailures: make(map[string]int)}
	first := true
	for _, source := range s.sources {
		length := source.Stream.Len()
		if length == 0 {
			continue
		}
		if first || source.Stream.First() < s.start {
			s.start = source.Stream.First()
		}
		if first || source.Stream.Last() > s.end {
			s.end = source.Stream.Last()
		}
		first = false
		s.total += length
		s.active = append(s.active, &cursor{source: source, chunk: min(source.ChunkSize, length)})
	}
	if len(s.active) == 0 {
		return Timing{}, errors.New("replay: every loaded stream is empty")
	}

	now := s.clock.Now()
	s.anchorWall = now
	s.anchorVirtual = s.start
	s.stopped = false
	s.state = Playing
	s.drainWake()

	timing := Timing{
		Start:  s.start,
		End:    s.end,
		Total:  s.end - s.start,
		Offset: s.offsetLocked(now),
	}
	s.logger.Info("replay started",
		"streams", len(s.active),
		"start", timing.Start,
		"duration", timing.Total,
		"speed", s.speed,
	)
	return timing, nil
}

// Step performs one scheduling step: it picks the stream whose pending
// chunk completes earliest, sleeps until the virtual clock reaches
// that chunk, and emits it. Returns false when playback has ended,
// either because every stream is exhausted or because Stop was called.
// A paused scheduler blocks in Step until resumed, stopped or ctx ends.
func (s *Scheduler) Step(ctx context.Context) (bool, error) {
	for {
		s.mu.Lock()
		if s.stopped {
			s.stopped = false
			s.mu.Unlock()
			return false, nil
		}
		switch s.state {
		case Playing:
		case Paused:
			s.mu.Unlock()
			select {
			case <-s.wake:
				continue
			case <-ctx.Done():
				return false, ctx.Err()
			}
		default:
			state := s.state
			s.mu.Unlock()
			return false, &StateError{Op: "step", State: state}
		}

		next := s.nextLocked()
		now := s.clock.Now()
		gap := (next.blocking() - s.virtualLocked(now)) / s.speed
		if gap > emitTolerance {
			timer := s.clock.NewTimer(clock.Duration(gap))
			s.mu.Unlock()
			select {
			case <-timer.C:
			case <-s.wake:
				timer.Stop()
			case <-ctx.Done():
				timer.Stop()
				return false, ctx.Err()
			}
			// Re-evaluate from the top: stop, pause and seek may all
			// have changed what is due.
			continue
		}

		emission := s.takeLocked(next, now)
		s.mu.Unlock()

		err := emission.push()

		s.mu.Lock()
		s.stats.Steps++
		s.stats.Busy += s.clock.Now().Sub(now)
		if err != nil {
			s.stats.SinkFailures[emission.name]++
		}
		done := len(s.active) == 0
		if done && s.state != Idle {
			s.state = Idle
			s.logger.Info("replay finished", "steps", s.stats.Steps)
		}
		s.mu.Unlock()

		if err != nil {
			s.logger.Warn("sink push failed", "stream", emission.name, "error", err)
		}
		return !done, nil
	}
}

// Run steps until playback ends or ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		more, err := s.Step(ctx)
		if err != nil {
			return err
		}
		if !more {
			return nil
		}
	}
}

// nextLocked returns the active cursor with the earliest blocking
// timestamp. Cursors are kept in name order and only a strictly
// smaller timestamp displaces the current pick, so ties go to the
// first name.
func (s *Scheduler) nextLocked() *cursor {
	best := s.active[0]
	for _, c := range s.active[1:] {
		if c.blocking() < best.blocking() {
			best = c
		}
	}
	return best
}

// emission is one chunk copied out of the buffer, ready to hand to a
// sink without holding the scheduler lock.
type emission struct {
	name      string
	sink      Sink
	values    [][]float64
	timestamp float64
}

func (e emission) push() error {
	if len(e.values) == 1 {
		return e.sink.Push(e.values[0], e.timestamp)
	}
	return e.sink.PushBatch(e.values, e.timestamp)
}

// takeLocked copies next's pending chunk, advances its cursor and
// retires it when exhausted.
func (s *Scheduler) takeLocked(next *cursor, now time.Time) emission {
	source := next.source
	values := make([][]float64, next.chunk)
	for i := range values {
		values[i] = source.Stream.Data.Sample(next.next+i, nil)
	}
	result := emission{
		name:      source.Name,
		sink:      source.Sink,
		values:    values,
		timestamp: next.blocking() + s.offsetLocked(now),
	}

	next.next += next.chunk
	s.stats.Emitted[source.Name] += next.chunk
	if remaining := next.remaining(); remaining == 0 {
		s.active = slices.DeleteFunc(s.active, func(c *cursor) bool { return c == next })
		s.logger.Debug("stream exhausted", "stream", source.Name)
	} else {
		next.chunk = min(next.chunk, remaining)
	}
	return result
}

// Pause freezes playback. Allowed only while Playing.
func (s *Scheduler) Pause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Playing {
		return &StateError{Op: "pause", State: s.state}
	}
	s.pausedVirtual = s.virtualLocked(s.clock.Now())
	s.state = Paused
	s.signal()
	return nil
}

// Resume continues a paused playback from the virtual time at which it
// was paused. Allowed only while Paused.
func (s *Scheduler) Resume() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Paused {
		return &StateError{Op: "resume", State: s.state}
	}
	s.anchorWall = s.clock.Now()
	s.anchorVirtual = s.pausedVirtual
	s.state = Playing
	s.signal()
	return nil
}

// TogglePause pauses a playing scheduler or resumes a paused one and
// reports whether it is now playing.
func (s *Scheduler) TogglePause() (bool, error) {
	switch s.State() {
	case Playing:
		return false, s.Pause()
	case Paused:
		return true, s.Resume()
	default:
		return false, &StateError{Op: "toggle pause", State: s.State()}
	}
}

// Seek moves the virtual clock to start + fraction*(virtual-start),
// fraction in [0, 1]. Emitted samples are never repeated: streams
// simply wait longer for their next chunk. Returns the new virtual
// time. Allowed while Playing or Paused.
func (s *Scheduler) Seek(fraction float64) (float64, error) {
	if fraction < 0 || fraction > 1 {
		return 0, fmt.Errorf("replay: seek fraction %v outside [0, 1]", fraction)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	switch s.state {
	case Playing:
		current := s.virtualLocked(now)
		s.anchorWall = now
		s.anchorVirtual = s.start + fraction*(current-s.start)
		s.signal()
		return s.anchorVirtual, nil
	case Paused:
		s.pausedVirtual = s.start + fraction*(s.pausedVirtual-s.start)
		return s.pausedVirtual, nil
	default:
		return 0, &StateError{Op: "seek", State: s.state}
	}
}

// Stop ends playback. The driving goroutine observes it at its next
// check, at the latest when its current sleep is interrupted, and Step
// returns false. Allowed while Playing or Paused.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Playing && s.state != Paused {
		return &StateError{Op: "stop", State: s.state}
	}
	s.state = Idle
	s.stopped = true
	s.active = nil
	s.signal()
	s.logger.Info("replay stopped", "steps", s.stats.Steps)
	return nil
}

// State returns the current state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// VirtualTime returns the current position in recording seconds. Zero
// before the first Start.
func (s *Scheduler) VirtualTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case Playing:
		return s.virtualLocked(s.clock.Now())
	case Paused:
		return s.pausedVirtual
	default:
		return s.anchorVirtual
	}
}

// Performance returns the mean wall time per step in seconds, sleeps
// excluded. Zero before the first step.
func (s *Scheduler) Performance() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stats.Steps == 0 {
		return 0
	}
	return s.stats.Busy.Seconds() / float64(s.stats.Steps)
}

// Progress returns the fraction of samples emitted so far.
func (s *Scheduler) Progress() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.total == 0 {
		return 0
	}
	emitted := 0
	for _, count := range s.stats.Emitted {
		emitted += count
	}
	return float64(emitted) / float64(s.total)
}

// Stats returns a snapshot of the playback counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.stats
	snapshot.Emitted = maps.Clone(s.stats.Emitted)
	snapshot.SinkFailures = maps.Clone(s.stats.SinkFailures)
	return snapshot
}

func (s *Scheduler) virtualLocked(now time.Time) float64 {
	return s.anchorVirtual + s.speed*now.Sub(s.anchorWall).Seconds()
}

// offsetLocked is wall time minus virtual time, the amount added to a
// recorded timestamp to place it on the wall clock.
func (s *Scheduler) offsetLocked(now time.Time) float64 {
	return unixSeconds(now) - s.virtualLocked(now)
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) drainWake() {
	select {
	case <-s.wake:
	default:
	}
}
