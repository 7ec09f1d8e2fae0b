// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/streamreplay/lib/tensor"
)

// RecordInfo describes one record without its payload.
type RecordInfo struct {
	Offset int64
	Label  string
	DType  tensor.DType
	Shape  []int

	// Size is the full record length in bytes, header included.
	Size int64
}

// Scan walks every record header in path, skipping payloads. Records
// found before a FormatError are returned alongside it.
func Scan(path string) ([]RecordInfo, error) {
	stepper, err := NewStepper(path, ReadOptions{})
	if err != nil {
		return nil, err
	}
	defer stepper.Close()

	var records []RecordInfo
	for {
		offset := stepper.bytesRead
		h, err := stepper.readHeader(offset)
		if err == io.EOF {
			return records, nil
		}
		if err != nil {
			return records, err
		}
		dataSize, err := h.dataSize()
		if err != nil {
			return records, &FormatError{Offset: offset, Reason: err.Error()}
		}
		payload := dataSize + h.timestampSize()
		discarded, err := stepper.reader.Discard(int(payload))
		stepper.bytesRead += int64(discarded)
		if err != nil {
			return records, &FormatError{Offset: offset, Reason: fmt.Sprintf("truncated payload: %v", err)}
		}
		records = append(records, RecordInfo{
			Offset: offset,
			Label:  h.label,
			DType:  h.dtype,
			Shape:  h.shape,
			Size:   stepper.bytesRead - offset,
		})
	}
}

// StreamNames returns the distinct stream labels in path in order of
// first appearance.
func StreamNames(path string) ([]string, error) {
	records, err := Scan(path)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, record := range records {
		if !slices.Contains(names, record.Label) {
			names = append(names, record.Label)
		}
	}
	return names, nil
}

// Digest returns the hex BLAKE3-256 hash of the file at path. Replay
// workers report it on load so a controller can tell recordings apart
// without comparing bytes.
func Digest(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", path, err)
	}
	defer file.Close()

	hasher := blake3.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
