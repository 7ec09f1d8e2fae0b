// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds the CBOR configuration shared by every control
// socket message and the stream selection payload of GO requests.
//
// The encoder uses Core Deterministic Encoding (RFC 8949 §4.2), so the
// same logical message always produces identical bytes.
//
// For buffer-oriented operations:
//
//	data, err := codec.Marshal(value)
//	err = codec.Unmarshal(data, &value)
//
// For sockets:
//
//	encoder := codec.NewEncoder(conn)
//	decoder := codec.NewDecoder(conn)
//
// Types that only travel over the control socket carry `cbor` struct
// tags. Types also written as JSON (CLI output) carry `json` tags,
// which fxamacker/cbor reads as a fallback. Never put both on one
// field.
package codec
