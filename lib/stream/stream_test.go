// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/bureau-foundation/streamreplay/lib/tensor"
)

// rampChunk builds a (channels, samples) float64 chunk whose element at
// (c, t) is c*1000 + first+t, with timestamps start + t*period.
func rampChunk(t *testing.T, channels, first, samples int, start, period float64) Chunk {
	t.Helper()
	values := make([]float64, 0, channels*samples)
	for channel := range channels {
		for i := range samples {
			values = append(values, float64(channel*1000+first+i))
		}
	}
	data, err := tensor.FromSlice(values, channels, samples)
	if err != nil {
		t.Fatalf("FromSlice: %v", err)
	}
	timestamps := make([]float64, samples)
	for i := range timestamps {
		timestamps[i] = start + float64(i)*period
	}
	return Chunk{Data: data, Timestamps: timestamps}
}

func TestAppendConcatenatesAlongTime(t *testing.T) {
	buffer := NewBuffer()
	if err := buffer.Append("eeg", rampChunk(t, 2, 0, 3, 0, 0.1)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := buffer.Append("eeg", rampChunk(t, 2, 3, 2, 0.3, 0.1)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	s, ok := buffer.Get("eeg")
	if !ok {
		t.Fatal("eeg missing")
	}
	whole := rampChunk(t, 2, 0, 5, 0, 0.1)
	if !s.Data.Equal(whole.Data) {
		t.Errorf("data after two appends differs from single chunk")
	}
	if s.Len() != 5 || s.Data.Len() != 5 {
		t.Errorf("Len = %d, Data.Len = %d, want 5", s.Len(), s.Data.Len())
	}
}

func TestAppendRejectsMismatches(t *testing.T) {
	buffer := NewBuffer()
	if err := buffer.Append("a", rampChunk(t, 2, 0, 3, 0, 1)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := buffer.Append("a", rampChunk(t, 3, 0, 3, 3, 1)); err == nil {
		t.Error("Append with a different channel count succeeded")
	}

	bad := rampChunk(t, 1, 0, 4, 0, 1)
	bad.Timestamps = bad.Timestamps[:3]
	if err := buffer.Append("b", bad); err == nil {
		t.Error("Append with mismatched timestamp count succeeded")
	}
}

func TestBoundsAndSelect(t *testing.T) {
	buffer := NewBuffer()
	buffer.Append("slow", rampChunk(t, 1, 0, 10, 1.0, 0.1))
	buffer.Append("fast", rampChunk(t, 1, 0, 100, 0.5, 0.01))

	start, end, ok := buffer.Bounds()
	if !ok || start != 0.5 || math.Abs(end-1.9) > 1e-12 {
		t.Errorf("Bounds = (%v, %v, %v), want (0.5, 1.9, true)", start, end, ok)
	}
	if names := buffer.Names(); !slices.Equal(names, []string{"fast", "slow"}) {
		t.Errorf("Names = %v", names)
	}

	selected, err := buffer.Select([]string{"slow"})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if selected.Len() != 1 {
		t.Errorf("selected Len = %d", selected.Len())
	}
	if _, err := buffer.Select([]string{"missing"}); err == nil {
		t.Error("Select of unknown stream succeeded")
	}
}

func TestRate(t *testing.T) {
	buffer := NewBuffer()
	buffer.Append("s", rampChunk(t, 1, 0, 101, 0, 0.01))
	s, _ := buffer.Get("s")
	if rate := s.Rate(); math.Abs(rate-100) > 1e-9 {
		t.Errorf("Rate = %v, want 100", rate)
	}
}

func TestRemoveJitterFitsLine(t *testing.T) {
	buffer := NewBuffer()
	chunk := rampChunk(t, 1, 0, 50, 10, 0.02)
	for i := range chunk.Timestamps {
		// Alternating +-1ms noise around a 50 Hz grid.
		if i%2 == 0 {
			chunk.Timestamps[i] += 0.001
		} else {
			chunk.Timestamps[i] -= 0.001
		}
	}
	buffer.Append("s", chunk)
	buffer.Append("single", rampChunk(t, 1, 0, 1, 3, 1))

	RemoveJitter(buffer, JitterOptions{})

	s, _ := buffer.Get("s")
	for i := 2; i < s.Len(); i++ {
		step := s.Timestamps[i] - s.Timestamps[i-1]
		previous := s.Timestamps[i-1] - s.Timestamps[i-2]
		if math.Abs(step-previous) > 1e-9 {
			t.Fatalf("interval %d = %v, previous %v: not linear", i, step, previous)
		}
	}
	single, _ := buffer.Get("single")
	if single.Timestamps[0] != 3 {
		t.Errorf("single-sample stream changed to %v", single.Timestamps[0])
	}
}

func TestRemoveJitterIdempotent(t *testing.T) {
	buffer := NewBuffer()
	chunk := rampChunk(t, 1, 0, 200, 1700000000, 0.004)
	for i := range chunk.Timestamps {
		chunk.Timestamps[i] += 0.0005 * math.Sin(float64(i))
	}
	buffer.Append("s", chunk)

	RemoveJitter(buffer, JitterOptions{})
	s, _ := buffer.Get("s")
	once := slices.Clone(s.Timestamps)

	RemoveJitter(buffer, JitterOptions{})
	for i, value := range s.Timestamps {
		if math.Abs(value-once[i]) > 1e-6 {
			t.Fatalf("timestamp %d changed on second pass: %v -> %v", i, once[i], value)
		}
	}
}

func TestIntervalVariation(t *testing.T) {
	if got := intervalVariation([]float64{0, 1, 2, 3}); got != 0 {
		t.Errorf("regular stream variation = %v, want 0", got)
	}
	if got := intervalVariation([]float64{0, 0.1, 5, 5.2}); got <= DefaultIrregularThreshold {
		t.Errorf("event stream variation = %v, want above threshold", got)
	}
	if got := intervalVariation([]float64{2, 2, 2}); !math.IsInf(got, 1) {
		t.Errorf("stalled stream variation = %v, want +Inf", got)
	}
}

func TestReshapePartitionsChannels(t *testing.T) {
	buffer := NewBuffer()
	buffer.Append("camera", rampChunk(t, 14, 0, 3, 0, 1))

	if err := Reshape(buffer, ReshapeMap{"camera": {{4, 3}, {2}}, "absent": {{1}}}, nil); err != nil {
		t.Fatalf("Reshape: %v", err)
	}

	s, _ := buffer.Get("camera")
	if len(s.Parts) != 2 {
		t.Fatalf("Parts = %d, want 2", len(s.Parts))
	}
	if !slices.Equal(s.Parts[0].Shape, []int{4, 3, 3}) || !slices.Equal(s.Parts[1].Shape, []int{2, 3}) {
		t.Errorf("part shapes = %v, %v", s.Parts[0].Shape, s.Parts[1].Shape)
	}
	// Channel 12 is the first channel of the second block.
	if got := s.Parts[1].At(0, 1); got != 12*1000+1 {
		t.Errorf("second part first value = %v, want 12001", got)
	}
	// No gap or overlap: the parts together hold exactly the flat data.
	var joined []byte
	for _, part := range s.Parts {
		joined = append(joined, part.Data...)
	}
	if !slices.Equal(joined, s.Data.Data) {
		t.Error("parts do not partition the channel axis exactly")
	}
}

func TestReshapeMismatchLeavesStreamUntouched(t *testing.T) {
	buffer := NewBuffer()
	buffer.Append("bad", rampChunk(t, 5, 0, 2, 0, 1))
	buffer.Append("good", rampChunk(t, 4, 0, 2, 0, 1))

	err := Reshape(buffer, ReshapeMap{"bad": {{2, 2}}, "good": {{2, 2}}}, nil)

	var mismatch *ChannelMismatchError
	if !errors.As(err, &mismatch) {
		t.Fatalf("Reshape error = %v, want ChannelMismatchError", err)
	}
	if mismatch.Stream != "bad" || mismatch.Declared != 4 || mismatch.Actual != 5 {
		t.Errorf("mismatch = %+v", mismatch)
	}
	bad, _ := buffer.Get("bad")
	if bad.Parts != nil || bad.Data.Channels() != 5 {
		t.Error("mismatched stream was modified")
	}
	good, _ := buffer.Get("good")
	if len(good.Parts) != 1 {
		t.Error("matching stream was not reshaped")
	}
}

func TestLoadReshapeMap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reshape.jsonc")
	content := `{
		// eye tracker packs gaze and pupil
		"eye": [[2, 3], [4],],
	}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	mapping, err := LoadReshapeMap(path)
	if err != nil {
		t.Fatalf("LoadReshapeMap: %v", err)
	}
	if len(mapping["eye"]) != 2 || !slices.Equal(mapping["eye"][0], []int{2, 3}) {
		t.Errorf("mapping = %v", mapping)
	}

	if err := os.WriteFile(path, []byte(`{"eye": [[0]]}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadReshapeMap(path); err == nil {
		t.Error("zero dimension accepted")
	}
}
