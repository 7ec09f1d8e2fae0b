// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package tensor holds the dense arrays that recordings are made of.
//
// A recording stream is an N-dimensional array whose last axis is time.
// Producers hand the writer arrays of any supported element type; the
// container stores the raw little-endian bytes unchanged, and readers
// rebuild the same Array. Consumers that need numbers (the replay
// scheduler, sinks) read elements through At and Sample, which convert
// every dtype to float64.
//
// The element type set is closed (see DType). Adding a type means
// adding a row to the size table and a case to decode.
package tensor
