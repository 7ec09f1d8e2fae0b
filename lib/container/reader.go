// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"slices"

	"github.com/bureau-foundation/streamreplay/lib/stream"
	"github.com/bureau-foundation/streamreplay/lib/tensor"
)

// ReadOptions controls which streams a read materialises and which
// post-processing passes run once the scan finishes.
type ReadOptions struct {
	// Only, when non-empty, limits the read to these stream names.
	Only []string

	// Ignore lists stream names to skip. Skipped records are consumed
	// without decoding their payload.
	Ignore []string

	// RemoveJitter replaces timestamps with a linear fit after the scan.
	RemoveJitter bool

	// Jitter tunes the jitter pass.
	Jitter stream.JitterOptions

	// Reshape splits packed channel axes after the scan.
	Reshape stream.ReshapeMap

	// Progress, if set, is called after every record.
	Progress func(Progress)

	Logger *slog.Logger
}

func (o ReadOptions) wants(name string) bool {
	if len(o.Only) > 0 && !slices.Contains(o.Only, name) {
		return false
	}
	return !slices.Contains(o.Ignore, name)
}

// Progress describes how far a read has advanced.
type Progress struct {
	BytesRead  int64
	TotalBytes int64
	Finished   bool
}

// Fraction returns BytesRead/TotalBytes, or 1 for an empty file.
func (p Progress) Fraction() float64 {
	if p.TotalBytes == 0 {
		return 1
	}
	return float64(p.BytesRead) / float64(p.TotalBytes)
}

// Stepper decodes a container one record per Step call. It lets a
// caller interleave loading with other work (answering control
// messages, checking for cancellation) instead of blocking on a full
// scan. A Stepper is a single pass: once finished or failed it cannot
// be restarted.
type Stepper struct {
	file    *os.File
	reader  *bufio.Reader
	options ReadOptions
	logger  *slog.Logger
	buffer  *stream.Buffer

	bytesRead  int64
	totalBytes int64
	finished   bool
	failure    error
}

// NewStepper opens path for a stepwise read.
func NewStepper(path string, options ReadOptions) (*Stepper, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening container %s: %w", path, err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("stat container %s: %w", path, err)
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Stepper{
		file:       file,
		reader:     bufio.NewReaderSize(file, 1<<16),
		options:    options,
		logger:     logger,
		buffer:     stream.NewBuffer(),
		totalBytes: info.Size(),
	}, nil
}

// Progress returns the current position.
func (s *Stepper) Progress() Progress {
	return Progress{BytesRead: s.bytesRead, TotalBytes: s.totalBytes, Finished: s.finished}
}

// Buffer returns the streams decoded so far. After a FormatError the
// buffer is marked Incomplete and still holds every earlier record.
func (s *Stepper) Buffer() *stream.Buffer { return s.buffer }

// Close releases the file. It is safe to call more than once.
func (s *Stepper) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// Step decodes exactly one record. When the end of the file is
// reached it runs the post-processing passes and reports Finished.
// Reshape mismatches are returned alongside a Finished progress; they
// do not invalidate the buffer. A FormatError ends the read and is
// returned again by every later call.
func (s *Stepper) Step() (Progress, error) {
	if s.failure != nil {
		return s.Progress(), s.failure
	}
	if s.finished {
		return s.Progress(), ErrFinished
	}

	err := s.readRecord()
	if errors.Is(err, io.EOF) {
		s.finished = true
		err = s.postProcess()
		s.report()
		return s.Progress(), err
	}
	if err != nil {
		s.failure = err
		s.buffer.Incomplete = true
		s.report()
		return s.Progress(), err
	}
	s.report()
	return s.Progress(), nil
}

// Records returns an iterator over the remaining steps. Iteration stops
// after the finishing step or the first error.
func (s *Stepper) Records() iter.Seq2[Progress, error] {
	return func(yield func(Progress, error) bool) {
		for !s.finished && s.failure == nil {
			progress, err := s.Step()
			if !yield(progress, err) || err != nil {
				return
			}
		}
	}
}

func (s *Stepper) report() {
	if s.options.Progress != nil {
		s.options.Progress(s.Progress())
	}
}

func (s *Stepper) postProcess() error {
	if s.options.RemoveJitter {
		jitter := s.options.Jitter
		if jitter.Logger == nil {
			jitter.Logger = s.logger
		}
		stream.RemoveJitter(s.buffer, jitter)
	}
	if len(s.options.Reshape) > 0 {
		return stream.Reshape(s.buffer, s.options.Reshape, s.logger)
	}
	return nil
}

// readRecord consumes one record. io.EOF means the file ended cleanly
// on a record boundary.
func (s *Stepper) readRecord() error {
	offset := s.bytesRead
	h, err := s.readHeader(offset)
	if err != nil {
		return err
	}

	dataSize, err := h.dataSize()
	if err != nil {
		return &FormatError{Offset: offset, Reason: err.Error()}
	}
	payload := dataSize + h.timestampSize()
	if remaining := s.totalBytes - s.bytesRead; payload > remaining {
		return &FormatError{Offset: offset, Reason: fmt.Sprintf("record needs %d payload bytes, %d remain", payload, remaining)}
	}

	if !s.options.wants(h.label) {
		discarded, err := s.reader.Discard(int(payload))
		s.bytesRead += int64(discarded)
		if err != nil {
			return &FormatError{Offset: offset, Reason: fmt.Sprintf("truncated payload: %v", err)}
		}
		s.logger.Debug("skipped stream record", "stream", h.label, "bytes", payload)
		return nil
	}

	data := make([]byte, dataSize)
	if err := s.readFull(data, offset, "data"); err != nil {
		return err
	}
	rawTimestamps := make([]byte, h.timestampSize())
	if err := s.readFull(rawTimestamps, offset, "timestamps"); err != nil {
		return err
	}

	array, err := tensor.FromBytes(h.dtype, h.shape, data)
	if err != nil {
		return &FormatError{Offset: offset, Reason: err.Error()}
	}
	chunk := stream.Chunk{Data: array, Timestamps: tensor.Float64s(rawTimestamps)}
	if err := s.buffer.Append(h.label, chunk); err != nil {
		return &FormatError{Offset: offset, Reason: err.Error()}
	}
	return nil
}

// readHeader reads the fixed header and shape array. Returns io.EOF
// only when zero bytes remain.
func (s *Stepper) readHeader(offset int64) (header, error) {
	var fixed [fixedHeaderSize]byte
	n, err := io.ReadFull(s.reader, fixed[:])
	s.bytesRead += int64(n)
	if err == io.EOF {
		return header{}, io.EOF
	}
	if err != nil {
		return header{}, &FormatError{Offset: offset, Reason: fmt.Sprintf("truncated header: %v", err)}
	}

	h, dims, err := decodeFixedHeader(fixed[:], offset)
	if err != nil {
		return header{}, err
	}
	rawShape := make([]byte, dims*ShapeSize)
	if err := s.readFull(rawShape, offset, "shape"); err != nil {
		return header{}, err
	}
	h.shape, err = decodeShape(rawShape, offset)
	if err != nil {
		return header{}, err
	}
	return h, nil
}

func (s *Stepper) readFull(dst []byte, offset int64, field string) error {
	n, err := io.ReadFull(s.reader, dst)
	s.bytesRead += int64(n)
	if err != nil {
		return &FormatError{Offset: offset, Reason: fmt.Sprintf("truncated %s: %v", field, err)}
	}
	return nil
}

// ReadFile scans the whole container and returns the decoded buffer.
// The scan checks ctx between records.
//
// On a FormatError the returned buffer holds every record decoded
// before the failure and is marked Incomplete. Reshape mismatches are
// returned with a complete buffer.
func ReadFile(ctx context.Context, path string, options ReadOptions) (*stream.Buffer, error) {
	stepper, err := NewStepper(path, options)
	if err != nil {
		return nil, err
	}
	defer stepper.Close()

	for progress, err := range stepper.Records() {
		if err != nil {
			return stepper.Buffer(), err
		}
		if progress.Finished {
			break
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			stepper.Buffer().Incomplete = true
			return stepper.Buffer(), ctxErr
		}
	}
	return stepper.Buffer(), nil
}
