// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"
	"sync"
	"unicode/utf8"

	"golang.org/x/sys/unix"

	"github.com/bureau-foundation/streamreplay/lib/stream"
	"github.com/bureau-foundation/streamreplay/lib/tensor"
)

// Writer appends records to a container file. It holds an exclusive
// flock on the file for its lifetime so a second writer on the same
// path fails with ErrLocked instead of interleaving bytes.
//
// A Writer is safe for concurrent use; each Write call appends its
// batch as a contiguous run of records.
type Writer struct {
	mu     sync.Mutex
	file   *os.File
	path   string
	logger *slog.Logger
	closed bool

	// labels maps each truncated on-disk label to the full label that
	// produced it, for collision detection.
	labels map[string]string

	// lastTimestamp is the final timestamp written per label, so
	// ordering warnings also cover chunk boundaries.
	lastTimestamp map[string]float64
}

// OpenWriter opens path for appending, creating it if needed.
func OpenWriter(path string, logger *slog.Logger) (*Writer, error) {
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening container %s: %w", path, err)
	}
	if err := unix.Flock(int(file.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		file.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%s: %w", path, ErrLocked)
		}
		return nil, fmt.Errorf("locking container %s: %w", path, err)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Writer{
		file:          file,
		path:          path,
		logger:        logger,
		labels:        make(map[string]string),
		lastTimestamp: make(map[string]float64),
	}, nil
}

// Write appends one record per entry of batch, in sorted name order,
// and returns the total number of bytes written.
//
// Every record is validated before any byte reaches the file, so a
// rejected batch leaves the container unchanged. Non-increasing
// timestamps are logged as warnings and written anyway.
func (w *Writer) Write(batch map[string]stream.Chunk) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, fmt.Errorf("write to closed container %s", w.path)
	}

	var encoded []byte
	pendingLabels := make(map[string]string)
	for _, name := range slices.Sorted(maps.Keys(batch)) {
		chunk := batch[name]
		if err := w.checkLabel(name, pendingLabels); err != nil {
			return 0, err
		}
		record, err := encodeRecord(encoded, name, chunk)
		if err != nil {
			return 0, fmt.Errorf("stream %q: %w", name, err)
		}
		encoded = record
	}

	written, err := w.file.Write(encoded)
	if err != nil {
		return written, fmt.Errorf("appending to %s: %w", w.path, err)
	}

	for stored, full := range pendingLabels {
		w.labels[stored] = full
	}
	for _, name := range slices.Sorted(maps.Keys(batch)) {
		w.checkOrder(name, batch[name].Timestamps)
	}
	return written, nil
}

// checkLabel rejects labels that cannot round-trip and labels whose
// truncated form is already taken by a different stream.
func (w *Writer) checkLabel(name string, pending map[string]string) error {
	if name == "" {
		return errors.New("empty stream label")
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("stream label %q is not valid UTF-8", name)
	}
	if strings.HasSuffix(name, " ") {
		return fmt.Errorf("stream label %q ends in a space, which the padding would strip", name)
	}
	// Readers strip the padding, so a truncation ending in spaces reads
	// back without them. Key on what a reader will see.
	stored := strings.TrimRight(truncateLabel(name), " ")
	if stored == "" {
		return fmt.Errorf("stream label %q stores as an empty label", name)
	}
	for _, known := range []map[string]string{w.labels, pending} {
		if full, ok := known[stored]; ok && full != name {
			return fmt.Errorf("%q and %q both store as %q: %w", full, name, stored, ErrLabelCollision)
		}
	}
	if stored != name {
		w.logger.Warn("stream label truncated", "label", name, "stored", stored)
	}
	pending[stored] = name
	return nil
}

// checkOrder logs when timestamps fail to strictly increase, within the
// chunk or relative to the previous chunk of the same stream.
func (w *Writer) checkOrder(name string, timestamps []float64) {
	if len(timestamps) == 0 {
		return
	}
	previous, seen := w.lastTimestamp[name]
	for i, value := range timestamps {
		if (i > 0 || seen) && value <= previous {
			w.logger.Warn("timestamps not strictly increasing",
				"stream", name,
				"index", i,
				"timestamp", value,
				"previous", previous,
			)
			break
		}
		previous = value
	}
	w.lastTimestamp[name] = timestamps[len(timestamps)-1]
}

// encodeRecord appends one complete record for chunk to dst.
func encodeRecord(dst []byte, name string, chunk stream.Chunk) ([]byte, error) {
	dst, err := encodeHeader(dst, header{
		label: name,
		dtype: chunk.Data.DType,
		shape: chunk.Data.Shape,
	})
	if err != nil {
		return nil, err
	}
	if err := chunk.Validate(); err != nil {
		return nil, err
	}
	dst = append(dst, chunk.Data.Data...)
	return tensor.AppendFloat64s(dst, chunk.Timestamps), nil
}

// Sync flushes written records to stable storage.
func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Sync()
}

// Close syncs the file, releases the lock and closes it.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	syncErr := w.file.Sync()
	unix.Flock(int(w.file.Fd()), unix.LOCK_UN)
	closeErr := w.file.Close()
	return errors.Join(syncErr, closeErr)
}
