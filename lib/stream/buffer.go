// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"fmt"
	"maps"
	"slices"

	"github.com/bureau-foundation/streamreplay/lib/tensor"
)

// Chunk is one write's worth of a single stream: a block of samples and
// one timestamp per sample. Data's last dimension must equal
// len(Timestamps).
type Chunk struct {
	Data       tensor.Array
	Timestamps []float64
}

// Validate checks the chunk's shape invariant.
func (c Chunk) Validate() error {
	if c.Data.Dims() == 0 {
		return fmt.Errorf("chunk data has no dimensions")
	}
	if c.Data.Len() != len(c.Timestamps) {
		return fmt.Errorf("chunk has %d samples but %d timestamps", c.Data.Len(), len(c.Timestamps))
	}
	if _, err := tensor.FromBytes(c.Data.DType, c.Data.Shape, c.Data.Data); err != nil {
		return fmt.Errorf("chunk data: %w", err)
	}
	return nil
}

// Stream is a fully concatenated recording of one named source.
type Stream struct {
	Name       string
	Data       tensor.Array
	Timestamps []float64

	// Parts is set by Reshape: one array per declared sub-shape, each
	// shaped (sub_shape..., Len). Data keeps the flat channel layout.
	Parts []tensor.Array
}

// Len returns the number of samples.
func (s *Stream) Len() int { return len(s.Timestamps) }

// Channels returns the flattened channel count.
func (s *Stream) Channels() int { return s.Data.Channels() }

// First returns the first timestamp. Panics on an empty stream.
func (s *Stream) First() float64 { return s.Timestamps[0] }

// Last returns the last timestamp. Panics on an empty stream.
func (s *Stream) Last() float64 { return s.Timestamps[len(s.Timestamps)-1] }

// Rate returns the nominal sampling rate in Hz, derived from the first
// and last timestamps. Zero when fewer than two samples exist or the
// stream spans no time.
func (s *Stream) Rate() float64 {
	if s.Len() < 2 {
		return 0
	}
	span := s.Last() - s.First()
	if span <= 0 {
		return 0
	}
	return float64(s.Len()-1) / span
}

// Buffer maps stream names to their concatenated data. It is rebuilt
// from the container on every read and never persisted.
//
// A Buffer is not safe for concurrent mutation. The replay worker owns
// its buffer exclusively.
type Buffer struct {
	streams map[string]*Stream

	// Incomplete is set when the read that produced this buffer ended
	// on a format error. Streams decoded before the error are intact.
	Incomplete bool
}

// NewBuffer returns an empty buffer.
func NewBuffer() *Buffer {
	return &Buffer{streams: make(map[string]*Stream)}
}

// Append concatenates chunk onto the named stream along the time
// axis, creating the stream on first use.
func (b *Buffer) Append(name string, chunk Chunk) error {
	if err := chunk.Validate(); err != nil {
		return fmt.Errorf("stream %q: %w", name, err)
	}
	existing, ok := b.streams[name]
	if !ok {
		b.streams[name] = &Stream{
			Name:       name,
			Data:       chunk.Data,
			Timestamps: slices.Clone(chunk.Timestamps),
		}
		return nil
	}
	data, err := tensor.Concat(existing.Data, chunk.Data)
	if err != nil {
		return fmt.Errorf("stream %q: %w", name, err)
	}
	existing.Data = data
	existing.Timestamps = append(existing.Timestamps, chunk.Timestamps...)
	existing.Parts = nil
	return nil
}

// Get returns the named stream.
func (b *Buffer) Get(name string) (*Stream, bool) {
	s, ok := b.streams[name]
	return s, ok
}

// Names returns every stream name in sorted order. Sorted order is the
// iteration order used everywhere a deterministic sequence matters.
func (b *Buffer) Names() []string {
	return slices.Sorted(maps.Keys(b.streams))
}

// Len returns the number of streams.
func (b *Buffer) Len() int { return len(b.streams) }

// Select returns a buffer holding only the named streams. The streams
// are shared, not copied. Unknown names are an error.
func (b *Buffer) Select(names []string) (*Buffer, error) {
	selected := NewBuffer()
	for _, name := range names {
		s, ok := b.streams[name]
		if !ok {
			return nil, fmt.Errorf("stream %q not in buffer", name)
		}
		selected.streams[name] = s
	}
	return selected, nil
}

// Bounds returns the earliest first timestamp and the latest last
// timestamp across non-empty streams. ok is false when no stream has
// samples.
func (b *Buffer) Bounds() (start, end float64, ok bool) {
	for _, s := range b.streams {
		if s.Len() == 0 {
			continue
		}
		if !ok || s.First() < start {
			start = s.First()
		}
		if !ok || s.Last() > end {
			end = s.Last()
		}
		ok = true
	}
	return start, end, ok
}

// Equal reports whether both buffers hold the same streams with
// identical data and timestamps. Used to compare read paths.
func (b *Buffer) Equal(other *Buffer) bool {
	if b.Len() != other.Len() {
		return false
	}
	for name, s := range b.streams {
		o, ok := other.streams[name]
		if !ok {
			return false
		}
		if !s.Data.Equal(o.Data) || !slices.Equal(s.Timestamps, o.Timestamps) {
			return false
		}
	}
	return true
}
