// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package process provides entrypoint helpers for the streamreplay
// binaries. It covers the one raw I/O pattern that exists outside the
// structured logger: reporting a fatal error from main() when the
// logger may not be initialized yet.
package process
