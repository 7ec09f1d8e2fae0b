// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package stream

import (
	"log/slog"
	"math"
)

// DefaultIrregularThreshold is the coefficient of variation of
// inter-sample intervals above which a stream is reported as irregular.
const DefaultIrregularThreshold = 0.1

// JitterOptions configures RemoveJitter.
type JitterOptions struct {
	// IrregularThreshold is compared against stddev(interval) /
	// mean(interval). Zero means DefaultIrregularThreshold.
	IrregularThreshold float64

	// Logger receives irregular-stream warnings. Nil discards them.
	Logger *slog.Logger
}

// RemoveJitter replaces every stream's timestamps with a least-squares
// line fitted against sample index. This assumes a constant sampling
// rate with no gaps; event-driven streams are warned about but still
// rewritten, since the caller asked for the pass.
//
// Streams with fewer than two samples are left alone. Applying the pass
// twice gives the same timestamps as applying it once.
func RemoveJitter(buffer *Buffer, options JitterOptions) {
	threshold := options.IrregularThreshold
	if threshold == 0 {
		threshold = DefaultIrregularThreshold
	}
	logger := options.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	for _, name := range buffer.Names() {
		s := buffer.streams[name]
		if s.Len() < 2 {
			logger.Debug("skipping jitter removal", "stream", name, "samples", s.Len())
			continue
		}
		if variation := intervalVariation(s.Timestamps); variation > threshold {
			logger.Warn("stream looks irregularly sampled, linear jitter removal may distort it",
				"stream", name,
				"interval_variation", variation,
				"threshold", threshold,
			)
		}
		slope, intercept := fitLine(s.Timestamps)
		for i := range s.Timestamps {
			s.Timestamps[i] = intercept + slope*float64(i)
		}
	}
}

// fitLine returns the least-squares slope and intercept of y against
// index 0..n-1. Sums are taken relative to y[0] and the index mean so
// wall-clock epochs do not swamp the residuals.
func fitLine(y []float64) (slope, intercept float64) {
	n := float64(len(y))
	meanX := (n - 1) / 2
	origin := y[0]

	var meanY float64
	for _, value := range y {
		meanY += value - origin
	}
	meanY /= n

	var covariance, variance float64
	for i, value := range y {
		dx := float64(i) - meanX
		covariance += dx * (value - origin - meanY)
		variance += dx * dx
	}
	slope = covariance / variance
	intercept = origin + meanY - slope*meanX
	return slope, intercept
}

// intervalVariation returns stddev/mean of consecutive differences.
// A perfectly regular stream returns 0; a stream whose timestamps do
// not advance returns +Inf.
func intervalVariation(timestamps []float64) float64 {
	count := float64(len(timestamps) - 1)
	var mean float64
	for i := 1; i < len(timestamps); i++ {
		mean += timestamps[i] - timestamps[i-1]
	}
	mean /= count
	if mean <= 0 {
		return math.Inf(1)
	}

	var squares float64
	for i := 1; i < len(timestamps); i++ {
		d := timestamps[i] - timestamps[i-1] - mean
		squares += d * d
	}
	return math.Sqrt(squares/count) / mean
}
