// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package archive compresses whole recordings for transfer and storage.
//
// The container format itself carries no compression: records are
// appended raw so that a recorder can stop at any byte. A finished
// recording can be packed into a single zstd or LZ4 frame stream with
// [Pack] and restored with [Unpack], which detects the algorithm from
// the frame magic. Both directions report the BLAKE3 digest of the raw
// recording, the same value [container.Digest] computes, so a restored
// file can be matched to its source without re-reading either.
//
// Unpack writes to a temporary file and renames it into place after a
// sync, and only once the restored bytes scan as a valid container.
package archive
