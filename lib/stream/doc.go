// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package stream is the in-memory model of a decoded recording.
//
// A Buffer maps stream names to a Stream: an N-dimensional tensor whose
// last axis is time, plus one float64 timestamp per sample. The
// container reader builds a Buffer by concatenating every chunk of the
// same name in file order; the replay scheduler consumes one.
//
// Two post-processing passes run over a finished Buffer:
//
//   - RemoveJitter replaces sampled timestamps with a best-fit linear
//     sequence, for streams with a constant nominal rate.
//   - Reshape splits a packed channel axis into declared sub-tensors.
package stream
