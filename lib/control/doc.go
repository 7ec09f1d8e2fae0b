// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package control is the command protocol between a controller and a
// replay worker.
//
// Each Unix socket connection carries one CBOR [Request] and one CBOR
// [Response]. A request's Command is a verb, optionally followed by
// ':' and an argument (LOAD:/path/to/file). Numeric payloads are
// frames of little-endian float64s. A response's Info begins with
// "ok!" or "fail!"; the rest is the verb's message or the failure
// reason.
//
// [Session] is the worker side: a state machine over the loaded
// buffer and the running [replay.Scheduler]. A verb sent in a state
// that does not accept it fails with a [ProtocolError] and changes
// nothing. STOP and PERFORMANCE_REQUEST are accepted in every state.
// [Client] is the controller side, with one typed method per verb.
package control
