// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package container

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"
	"strings"
	"unicode/utf8"

	"github.com/bureau-foundation/streamreplay/lib/tensor"
)

// Fixed field widths of a record header.
const (
	MagicSize     = 16
	LabelSize     = 32
	DTypeSize     = 8
	DimsSize      = 8
	ShapeSize     = 8
	TimestampSize = 8

	// fixedHeaderSize covers magic, label, dtype and dims. The shape
	// array follows with ShapeSize bytes per dimension.
	fixedHeaderSize = MagicSize + LabelSize + DTypeSize + DimsSize
)

// Limits enforced on both sides of the codec. Values beyond them are
// representable in the 8-byte fields but are never produced by a real
// recorder, and rejecting them keeps a corrupt header from driving a
// huge allocation.
const (
	MaxDims      = 32
	MaxDimension = 1 << 40
)

// magic opens every record: the bytes 0x00 through 0x0f.
var magic = [MagicSize]byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}

var (
	// ErrLocked is returned when another writer holds the file.
	ErrLocked = errors.New("container is locked by another writer")

	// ErrLabelCollision is returned when a label truncated to LabelSize
	// bytes matches a different label already written by the same
	// Writer.
	ErrLabelCollision = errors.New("truncated label collides with another stream")

	// ErrFinished is returned by Stepper.Step after the last record.
	ErrFinished = errors.New("container read already finished")
)

// FormatError reports bytes that do not follow the record layout. A
// read stops at the first FormatError; there is no way to
// resynchronise on the next record.
type FormatError struct {
	// Offset is the byte position of the record that failed.
	Offset int64
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("container format error in record at byte %d: %s", e.Offset, e.Reason)
}

// header is a decoded record header.
type header struct {
	label string
	dtype tensor.DType
	shape []int
}

// dataSize returns the payload byte count, or an error if the product
// overflows.
func (h header) dataSize() (int64, error) {
	total := uint64(h.dtype.Size())
	for _, dim := range h.shape {
		high, low := bits.Mul64(total, uint64(dim))
		if high != 0 || low > 1<<62 {
			return 0, fmt.Errorf("shape %v overflows payload size", h.shape)
		}
		total = low
	}
	return int64(total), nil
}

// timestampSize returns the byte count of the timestamp block.
func (h header) timestampSize() int64 {
	return int64(h.shape[len(h.shape)-1]) * TimestampSize
}

// padLabel fits label into LabelSize bytes, truncating on a rune
// boundary and padding with spaces.
func padLabel(label string) [LabelSize]byte {
	var field [LabelSize]byte
	truncated := truncateLabel(label)
	n := copy(field[:], truncated)
	for i := n; i < LabelSize; i++ {
		field[i] = ' '
	}
	return field
}

// truncateLabel returns the longest prefix of label that fits in
// LabelSize bytes without splitting a UTF-8 sequence.
func truncateLabel(label string) string {
	if len(label) <= LabelSize {
		return label
	}
	cut := LabelSize
	for cut > 0 && !utf8.RuneStart(label[cut]) {
		cut--
	}
	return label[:cut]
}

// encodeHeader validates h and appends its on-disk form to dst.
func encodeHeader(dst []byte, h header) ([]byte, error) {
	tag := h.dtype.String()
	if !h.dtype.Valid() || len(tag) >= DTypeSize {
		return nil, &FormatError{Reason: fmt.Sprintf("dtype tag %q does not fit in %d bytes", tag, DTypeSize)}
	}
	if len(h.shape) == 0 || len(h.shape) > MaxDims {
		return nil, &FormatError{Reason: fmt.Sprintf("%d dimensions outside 1..%d", len(h.shape), MaxDims)}
	}
	for _, dim := range h.shape {
		if dim < 0 || dim >= MaxDimension {
			return nil, &FormatError{Reason: fmt.Sprintf("dimension %d outside 0..2^40", dim)}
		}
	}

	label := padLabel(h.label)
	dst = append(dst, magic[:]...)
	dst = append(dst, label[:]...)
	dst = append(dst, tag...)
	dst = append(dst, strings.Repeat(" ", DTypeSize-len(tag))...)
	dst = binary.LittleEndian.AppendUint64(dst, uint64(len(h.shape)))
	for _, dim := range h.shape {
		dst = binary.LittleEndian.AppendUint64(dst, uint64(dim))
	}
	return dst, nil
}

// decodeFixedHeader parses the magic, label, dtype and dims fields.
func decodeFixedHeader(fixed []byte, offset int64) (header, int, error) {
	if !bytes.Equal(fixed[:MagicSize], magic[:]) {
		return header{}, 0, &FormatError{Offset: offset, Reason: "magic marker mismatch"}
	}
	position := MagicSize

	labelField := fixed[position : position+LabelSize]
	position += LabelSize
	if !utf8.Valid(labelField) {
		return header{}, 0, &FormatError{Offset: offset, Reason: "label is not valid UTF-8"}
	}
	label := strings.TrimRight(string(labelField), " ")

	tag := strings.TrimRight(string(fixed[position:position+DTypeSize]), " ")
	position += DTypeSize
	dtype, err := tensor.ParseDType(tag)
	if err != nil {
		return header{}, 0, &FormatError{Offset: offset, Reason: err.Error()}
	}

	dims := binary.LittleEndian.Uint64(fixed[position : position+DimsSize])
	if dims == 0 || dims > MaxDims {
		return header{}, 0, &FormatError{Offset: offset, Reason: fmt.Sprintf("%d dimensions outside 1..%d", dims, MaxDims)}
	}
	return header{label: label, dtype: dtype}, int(dims), nil
}

// decodeShape parses dims little-endian shape values.
func decodeShape(raw []byte, offset int64) ([]int, error) {
	shape := make([]int, len(raw)/ShapeSize)
	for i := range shape {
		dim := binary.LittleEndian.Uint64(raw[i*ShapeSize:])
		if dim >= MaxDimension {
			return nil, &FormatError{Offset: offset, Reason: fmt.Sprintf("dimension %d exceeds 2^40", dim)}
		}
		shape[i] = int(dim)
	}
	return shape, nil
}
