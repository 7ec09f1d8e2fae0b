// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tensor

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/x448/float16"
)

// DType identifies the element type of an Array. The set is closed:
// every value a container file can carry has an entry in dtypeTable,
// and decoding an unknown tag fails instead of guessing.
type DType uint8

const (
	Invalid DType = iota
	Bool
	Int8
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Float16
	Float32
	Float64
)

// dtypeTable maps each DType to its on-disk tag and element size in
// bytes. Tags are the numpy dtype names that recording producers emit.
var dtypeTable = [...]struct {
	tag  string
	size int
}{
	Invalid: {"invalid", 0},
	Bool:    {"bool", 1},
	Int8:    {"int8", 1},
	Int16:   {"int16", 2},
	Int32:   {"int32", 4},
	Int64:   {"int64", 8},
	Uint8:   {"uint8", 1},
	Uint16:  {"uint16", 2},
	Uint32:  {"uint32", 4},
	Uint64:  {"uint64", 8},
	Float16: {"float16", 2},
	Float32: {"float32", 4},
	Float64: {"float64", 8},
}

// ParseDType resolves an on-disk dtype tag. Surrounding padding must
// already be trimmed.
func ParseDType(tag string) (DType, error) {
	for dtype := Bool; dtype <= Float64; dtype++ {
		if dtypeTable[dtype].tag == tag {
			return dtype, nil
		}
	}
	return Invalid, fmt.Errorf("unsupported dtype %q", tag)
}

// String returns the on-disk tag.
func (d DType) String() string {
	if int(d) >= len(dtypeTable) {
		return fmt.Sprintf("dtype(%d)", uint8(d))
	}
	return dtypeTable[d].tag
}

// Size returns the element size in bytes, or 0 for Invalid.
func (d DType) Size() int {
	if int(d) >= len(dtypeTable) {
		return 0
	}
	return dtypeTable[d].size
}

// Valid reports whether d is one of the supported element types.
func (d DType) Valid() bool {
	return d >= Bool && d <= Float64
}

// decode converts one little-endian element to float64. Sinks and the
// jitter pass work in float64 regardless of the stored type.
func (d DType) decode(b []byte) float64 {
	switch d {
	case Bool:
		if b[0] != 0 {
			return 1
		}
		return 0
	case Int8:
		return float64(int8(b[0]))
	case Int16:
		return float64(int16(binary.LittleEndian.Uint16(b)))
	case Int32:
		return float64(int32(binary.LittleEndian.Uint32(b)))
	case Int64:
		return float64(int64(binary.LittleEndian.Uint64(b)))
	case Uint8:
		return float64(b[0])
	case Uint16:
		return float64(binary.LittleEndian.Uint16(b))
	case Uint32:
		return float64(binary.LittleEndian.Uint32(b))
	case Uint64:
		return float64(binary.LittleEndian.Uint64(b))
	case Float16:
		return float64(float16.Frombits(binary.LittleEndian.Uint16(b)).Float32())
	case Float32:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
	case Float64:
		return math.Float64frombits(binary.LittleEndian.Uint64(b))
	}
	panic("tensor: decode on invalid dtype")
}
