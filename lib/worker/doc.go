// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package worker runs a replay session as a separate process.
//
// The controller side calls [Spawn], which starts the worker binary in
// its own process group with [Settings] rendered as STREAMREPLAY_*
// environment variables, then polls the control socket until it
// accepts connections. [Worker.Shutdown] asks the worker to TERMINATE
// and escalates to SIGTERM and SIGKILL on the process group if it does
// not exit within the grace period.
//
// The worker side is [Run]: it parses the read options, builds the
// configured sink, and serves a [control.Session] on the socket until
// TERMINATE or context cancellation.
package worker
