// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package replay

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/bureau-foundation/streamreplay/lib/container"
	"github.com/bureau-foundation/streamreplay/lib/stream"
	"github.com/bureau-foundation/streamreplay/lib/tensor"
)

// Sink receives replayed samples. values holds one entry per channel,
// flattened in row-major channel order. A batch carries only the
// timestamp of its final sample, matching publishers that stamp a
// whole chunk once.
//
// Sinks are called from the scheduler's driving goroutine and need not
// be safe for concurrent use unless shared between sources.
type Sink interface {
	Push(values []float64, timestamp float64) error
	PushBatch(values [][]float64, timestamp float64) error
}

// Emission is one call recorded by a MemorySink.
type Emission struct {
	Values    [][]float64
	Timestamp float64
	Batch     bool
}

// MemorySink keeps every emission in memory. It is safe for concurrent
// use.
type MemorySink struct {
	mu        sync.Mutex
	emissions []Emission
}

func (m *MemorySink) Push(values []float64, timestamp float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emissions = append(m.emissions, Emission{Values: [][]float64{values}, Timestamp: timestamp})
	return nil
}

func (m *MemorySink) PushBatch(values [][]float64, timestamp float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.emissions = append(m.emissions, Emission{Values: values, Timestamp: timestamp, Batch: true})
	return nil
}

// Emissions returns a copy of the recorded calls.
func (m *MemorySink) Emissions() []Emission {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Emission(nil), m.emissions...)
}

// Samples returns the total number of samples received.
func (m *MemorySink) Samples() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, emission := range m.emissions {
		total += len(emission.Values)
	}
	return total
}

// LogSink writes a debug record per emission.
type LogSink struct {
	Logger *slog.Logger
	Stream string
}

func (l LogSink) Push(values []float64, timestamp float64) error {
	l.Logger.Debug("replay sample", "stream", l.Stream, "timestamp", timestamp, "channels", len(values))
	return nil
}

func (l LogSink) PushBatch(values [][]float64, timestamp float64) error {
	l.Logger.Debug("replay chunk", "stream", l.Stream, "timestamp", timestamp, "samples", len(values))
	return nil
}

// DiscardSink drops everything. Useful for measuring scheduler
// overhead.
type DiscardSink struct{}

func (DiscardSink) Push([]float64, float64) error        { return nil }
func (DiscardSink) PushBatch([][]float64, float64) error { return nil }

// RecordSink appends replayed samples, stamped with their replay
// timestamps, to a container as float64 records under Stream. Sinks for
// different streams may share one Writer.
//
// Batches carry a single timestamp. Earlier samples of a batch are
// back-dated by Period each; with Period zero the whole batch shares
// the final timestamp.
type RecordSink struct {
	Writer *container.Writer
	Stream string
	Period float64
}

func (r RecordSink) Push(values []float64, timestamp float64) error {
	return r.PushBatch([][]float64{values}, timestamp)
}

func (r RecordSink) PushBatch(values [][]float64, timestamp float64) error {
	samples := len(values)
	if samples == 0 {
		return nil
	}
	channels := len(values[0])
	flat := make([]float64, channels*samples)
	timestamps := make([]float64, samples)
	for t, sample := range values {
		if len(sample) != channels {
			return fmt.Errorf("record sink %q: sample %d has %d channels, want %d", r.Stream, t, len(sample), channels)
		}
		for channel, value := range sample {
			flat[channel*samples+t] = value
		}
		timestamps[t] = timestamp - float64(samples-1-t)*r.Period
	}
	data, err := tensor.FromSlice(flat, channels, samples)
	if err != nil {
		return fmt.Errorf("record sink %q: %w", r.Stream, err)
	}
	_, err = r.Writer.Write(map[string]stream.Chunk{
		r.Stream: {Data: data, Timestamps: timestamps},
	})
	return err
}
