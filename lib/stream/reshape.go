// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"slices"

	"github.com/tidwall/jsonc"

	"github.com/bureau-foundation/streamreplay/lib/tensor"
)

// ReshapeMap declares, per stream, how its flat channel axis splits
// into logical sub-tensors. {"camera": [[4, 3], [2]]} means the first
// 12 channels form a 4x3 block and the next 2 channels a vector.
type ReshapeMap map[string][][]int

// ChannelMismatchError reports a reshape whose declared sub-shapes do
// not add up to the stream's channel count.
type ChannelMismatchError struct {
	Stream   string
	Declared int
	Actual   int
}

func (e *ChannelMismatchError) Error() string {
	return fmt.Sprintf("stream %q: reshape declares %d channels, stream has %d", e.Stream, e.Declared, e.Actual)
}

// Reshape splits each mapped stream's channel axis into contiguous
// blocks and shapes each block as (sub_shape..., Len), storing the
// result in Stream.Parts. A stream whose declared channel total does
// not match is left untouched and reported as a *ChannelMismatchError;
// the remaining streams are still processed. Every mismatch is joined
// into the returned error.
//
// Names in the map that are not in the buffer are skipped: a filtered
// read legitimately drops streams the map still mentions.
func Reshape(buffer *Buffer, mapping ReshapeMap, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	var errs []error
	for _, name := range slices.Sorted(maps.Keys(mapping)) {
		s, ok := buffer.streams[name]
		if !ok {
			logger.Debug("reshape target not in buffer", "stream", name)
			continue
		}
		parts, err := splitChannels(s, mapping[name])
		if err != nil {
			errs = append(errs, err)
			continue
		}
		s.Parts = parts
	}
	return errors.Join(errs...)
}

func splitChannels(s *Stream, subShapes [][]int) ([]tensor.Array, error) {
	declared := 0
	for _, shape := range subShapes {
		declared += product(shape)
	}
	if declared != s.Channels() {
		return nil, &ChannelMismatchError{Stream: s.Name, Declared: declared, Actual: s.Channels()}
	}

	parts := make([]tensor.Array, 0, len(subShapes))
	offset := 0
	for _, shape := range subShapes {
		count := product(shape)
		block := s.Data.Rows(offset, offset+count)
		part, err := block.Reshape(append(slices.Clone(shape), s.Len())...)
		if err != nil {
			return nil, fmt.Errorf("stream %q: %w", s.Name, err)
		}
		parts = append(parts, part)
		offset += count
	}
	return parts, nil
}

func product(shape []int) int {
	result := 1
	for _, dim := range shape {
		result *= dim
	}
	return result
}

// LoadReshapeMap reads a JSONC reshape declaration from disk. Comments
// and trailing commas are allowed.
func LoadReshapeMap(path string) (ReshapeMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var mapping ReshapeMap
	if err := json.Unmarshal(jsonc.ToJSON(data), &mapping); err != nil {
		return nil, fmt.Errorf("parsing reshape map %s: %w", path, err)
	}
	for name, shapes := range mapping {
		for _, shape := range shapes {
			for _, dim := range shape {
				if dim <= 0 {
					return nil, fmt.Errorf("reshape map %s: stream %q has non-positive dimension in %v", path, name, shape)
				}
			}
		}
	}
	return mapping, nil
}
