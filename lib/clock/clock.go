// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"math"
	"time"
)

// Clock is the source of wall time for everything that paces, waits or
// measures: the replay scheduler's virtual clock, its pre-emission
// sleeps, the worker readiness poll and shutdown grace periods.
// Production code injects Real(); tests inject Fake() and move time by
// hand.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives once d has elapsed. If
	// d <= 0 the channel is ready immediately.
	After(d time.Duration) <-chan time.Time

	// NewTimer returns a Timer that fires once after d. Unlike After,
	// the pending wait can be cancelled with Stop, which matters for
	// sleeps that are interrupted by control messages.
	NewTimer(d time.Duration) *Timer

	// NewTicker returns a Ticker firing every d. Panics if d <= 0.
	NewTicker(d time.Duration) *Ticker

	// Sleep blocks for at least d.
	Sleep(d time.Duration)
}

// Timer is a cancellable one-shot wait. Read the fire time from C.
type Timer struct {
	C <-chan time.Time

	stopFunc func() bool
}

// Stop cancels the timer. Returns false if it already fired or was
// already stopped. Stop does not drain C.
func (t *Timer) Stop() bool { return t.stopFunc() }

// Ticker delivers periodic ticks on C, a channel of capacity 1. Ticks
// are dropped, not queued, when the reader falls behind.
type Ticker struct {
	C <-chan time.Time

	stopFunc func()
}

// Stop turns the ticker off. C is not closed.
func (t *Ticker) Stop() { t.stopFunc() }

// Duration converts fractional seconds, the unit of recording
// timestamps, to a duration rounded to the nearest nanosecond.
func Duration(seconds float64) time.Duration {
	return time.Duration(math.Round(seconds * float64(time.Second)))
}
