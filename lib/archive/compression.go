// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package archive

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Algorithm selects the frame format of a packed recording.
type Algorithm uint8

const (
	// Zstd packs with zstd at the default level. Sample data from real
	// sensors is noisy, and zstd still finds the repeated record
	// headers and timestamp prefixes.
	Zstd Algorithm = iota + 1

	// LZ4 packs with the LZ4 frame format. Faster, larger output.
	LZ4
)

var (
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	lz4Magic  = []byte{0x04, 0x22, 0x4d, 0x18}
)

// String returns the name used on the command line.
func (a Algorithm) String() string {
	switch a {
	case Zstd:
		return "zstd"
	case LZ4:
		return "lz4"
	default:
		return fmt.Sprintf("algorithm(%d)", uint8(a))
	}
}

// Extension returns the conventional file suffix, with the dot.
func (a Algorithm) Extension() string {
	switch a {
	case Zstd:
		return ".zst"
	case LZ4:
		return ".lz4"
	default:
		return ""
	}
}

// ParseAlgorithm resolves a command-line name.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch name {
	case "zstd", "zst":
		return Zstd, nil
	case "lz4":
		return LZ4, nil
	default:
		return 0, fmt.Errorf("unknown compression %q (want zstd or lz4)", name)
	}
}

// Detect identifies the algorithm from the first bytes of a packed
// file.
func Detect(header []byte) (Algorithm, error) {
	switch {
	case bytes.HasPrefix(header, zstdMagic):
		return Zstd, nil
	case bytes.HasPrefix(header, lz4Magic):
		return LZ4, nil
	default:
		return 0, fmt.Errorf("not a packed recording: unrecognized magic % x", header[:min(len(header), 4)])
	}
}

// compressor wraps w so that everything written is compressed. Close
// flushes the final frame but does not close w.
func (a Algorithm) compressor(w io.Writer) (io.WriteCloser, error) {
	switch a {
	case Zstd:
		encoder, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("zstd encoder: %w", err)
		}
		return encoder, nil
	case LZ4:
		writer := lz4.NewWriter(w)
		if err := writer.Apply(lz4.ChecksumOption(true)); err != nil {
			return nil, fmt.Errorf("lz4 writer: %w", err)
		}
		return writer, nil
	default:
		return nil, fmt.Errorf("unsupported compression %v", a)
	}
}

// decompressor returns a reader over the raw bytes of r and a release
// function for decoder resources.
func (a Algorithm) decompressor(r io.Reader) (io.Reader, func(), error) {
	switch a {
	case Zstd:
		decoder, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, fmt.Errorf("zstd decoder: %w", err)
		}
		return decoder, decoder.Close, nil
	case LZ4:
		return lz4.NewReader(r), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported compression %v", a)
	}
}
