// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package replay re-emits recorded streams in wall-clock time with
// their original relative timing.
//
// A [Scheduler] holds one cursor per stream. Each [Scheduler.Step]
// picks the stream whose next chunk finishes earliest in recording
// time, sleeps on the injected clock until the virtual clock catches
// up, and hands the chunk to that stream's [Sink]. Single samples go to
// Sink.Push with their own timestamp; larger chunks go to
// Sink.PushBatch stamped with their final sample, shifted onto the wall
// clock by the current offset.
//
// The virtual clock is anchored at Start, re-anchored on Resume so a
// pause never skips data, and moved proportionally by Seek. Pause,
// Seek and Stop interrupt a pending sleep immediately. Sink errors are
// logged and counted; they never end playback.
package replay
