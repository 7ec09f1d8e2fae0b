// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time source.
//
// Replay is all about time: the scheduler maps wall time onto the
// recording's timeline and sleeps until each chunk is due. Code that
// needs the time accepts a Clock instead of calling the time package,
// so tests can drive playback deterministically:
//
//	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	scheduler := replay.New(replay.Config{Clock: fake})
//	// ... start playback in a goroutine ...
//	fake.WaitForTimers(1)          // scheduler is now sleeping
//	fake.Advance(100 * time.Millisecond)
//
// WaitForTimers closes the race between a goroutine registering a wait
// and the test advancing past it.
package clock
