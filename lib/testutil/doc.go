// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers.
//
// [SocketDir] and [SocketPath] create short paths in /tmp for Unix
// domain sockets, which are limited to 108 bytes (sun_path in
// sockaddr_un). t.TempDir() paths can exceed that limit.
//
// [SelfBinary] supports the re-exec pattern: a test spawns its own
// binary with a marker environment variable and TestMain runs the
// child role instead of the tests.
//
// [RequireReceive] and [RequireClosed] bound waits on worker exit and
// readiness channels with a real timer, so a hung worker fails the test
// instead of stalling it. Playback pacing itself runs on clock.Fake.
//
// [UniqueID] generates monotonically increasing identifiers for test
// disambiguation, such as socket and recording names.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
//
// This package has no dependencies outside the standard library.
package testutil
