// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/streamreplay/lib/container"
)

// Result describes one pack or unpack.
type Result struct {
	Algorithm Algorithm

	// RawSize and PackedSize are in bytes.
	RawSize    int64
	PackedSize int64

	// Records is the number of container records in the recording.
	Records int

	// Digest is the hex BLAKE3-256 of the raw recording.
	Digest string
}

// Ratio returns RawSize / PackedSize, or 0 for an empty pack.
func (r Result) Ratio() float64 {
	if r.PackedSize == 0 {
		return 0
	}
	return float64(r.RawSize) / float64(r.PackedSize)
}

// countingWriter tracks how many bytes pass through.
type countingWriter struct {
	w     io.Writer
	count int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.count += int64(n)
	return n, err
}

// Pack compresses the recording at source into destination. A
// recording that does not scan cleanly is refused: a truncated tail
// would be preserved inside the archive where no reader can see it.
// An existing destination is replaced.
func Pack(source, destination string, algorithm Algorithm) (Result, error) {
	records, err := container.Scan(source)
	if err != nil {
		return Result{}, fmt.Errorf("refusing to pack %s: %w", source, err)
	}

	input, err := os.Open(source)
	if err != nil {
		return Result{}, err
	}
	defer input.Close()

	result := Result{Algorithm: algorithm, Records: len(records)}
	err = writeAtomic(destination, func(output io.Writer) error {
		counter := &countingWriter{w: output}
		compressor, err := algorithm.compressor(counter)
		if err != nil {
			return err
		}
		hasher := blake3.New()
		raw, err := io.Copy(io.MultiWriter(compressor, hasher), input)
		if err != nil {
			compressor.Close()
			return fmt.Errorf("compressing %s: %w", source, err)
		}
		if err := compressor.Close(); err != nil {
			return fmt.Errorf("finishing %v frame: %w", algorithm, err)
		}
		result.RawSize = raw
		result.PackedSize = counter.count
		result.Digest = hex.EncodeToString(hasher.Sum(nil))
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return result, nil
}

// Unpack restores a packed recording. The algorithm is detected from
// the frame magic. destination is only created once the restored bytes
// scan as a valid container.
func Unpack(source, destination string) (Result, error) {
	input, err := os.Open(source)
	if err != nil {
		return Result{}, err
	}
	defer input.Close()

	buffered := bufio.NewReader(input)
	header, err := buffered.Peek(4)
	if err != nil && !errors.Is(err, io.EOF) {
		return Result{}, fmt.Errorf("reading %s: %w", source, err)
	}
	algorithm, err := Detect(header)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", source, err)
	}
	info, err := input.Stat()
	if err != nil {
		return Result{}, err
	}

	result := Result{Algorithm: algorithm, PackedSize: info.Size()}
	err = writeAtomic(destination, func(output io.Writer) error {
		reader, release, err := algorithm.decompressor(buffered)
		if err != nil {
			return err
		}
		defer release()
		hasher := blake3.New()
		raw, err := io.Copy(io.MultiWriter(output, hasher), reader)
		if err != nil {
			return fmt.Errorf("decompressing %s: %w", source, err)
		}
		result.RawSize = raw
		result.Digest = hex.EncodeToString(hasher.Sum(nil))
		return nil
	}, func(temporary string) error {
		records, err := container.Scan(temporary)
		if err != nil {
			return fmt.Errorf("restored recording is damaged: %w", err)
		}
		result.Records = len(records)
		return nil
	})
	if err != nil {
		return Result{}, err
	}
	return result, nil
}

// writeAtomic writes path through a temporary sibling: fill writes the
// content, each check runs on the synced temporary file, and the file
// is renamed into place only if all of them succeed.
func writeAtomic(path string, fill func(io.Writer) error, checks ...func(temporary string) error) error {
	temporary, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("creating temporary file for %s: %w", path, err)
	}
	temporaryPath := temporary.Name()
	fail := func(err error) error {
		temporary.Close()
		os.Remove(temporaryPath)
		return err
	}

	buffered := bufio.NewWriter(temporary)
	if err := fill(buffered); err != nil {
		return fail(err)
	}
	if err := buffered.Flush(); err != nil {
		return fail(fmt.Errorf("writing %s: %w", temporaryPath, err))
	}
	if err := temporary.Sync(); err != nil {
		return fail(fmt.Errorf("syncing %s: %w", temporaryPath, err))
	}
	if err := temporary.Close(); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("closing %s: %w", temporaryPath, err)
	}
	for _, check := range checks {
		if err := check(temporaryPath); err != nil {
			os.Remove(temporaryPath)
			return err
		}
	}
	if err := os.Rename(temporaryPath, path); err != nil {
		os.Remove(temporaryPath)
		return fmt.Errorf("renaming %s into place: %w", path, err)
	}

	if directory, err := os.Open(filepath.Dir(path)); err == nil {
		directory.Sync()
		directory.Close()
	}
	return nil
}
