// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package tensor

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"slices"
)

// Array is a dense N-dimensional array stored row-major in
// little-endian bytes. The last dimension is the time axis; everything
// before it is the (possibly multi-dimensional) channel axis.
//
// Arrays are values: operations that change shape or contents return a
// new Array and never alias the receiver's Data unless documented.
type Array struct {
	DType DType
	Shape []int
	Data  []byte
}

// Number is the set of Go element types FromSlice accepts.
type Number interface {
	int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64 | float32 | float64
}

// FromBytes wraps raw row-major bytes. The byte length must equal the
// element count times the dtype size.
func FromBytes(dtype DType, shape []int, data []byte) (Array, error) {
	if !dtype.Valid() {
		return Array{}, fmt.Errorf("invalid dtype %v", dtype)
	}
	count, err := elementCount(shape)
	if err != nil {
		return Array{}, err
	}
	if want := count * dtype.Size(); len(data) != want {
		return Array{}, fmt.Errorf("shape %v of %v needs %d bytes, got %d", shape, dtype, want, len(data))
	}
	return Array{DType: dtype, Shape: slices.Clone(shape), Data: data}, nil
}

// FromSlice encodes values into an Array of the matching dtype.
func FromSlice[T Number](values []T, shape ...int) (Array, error) {
	var zero T
	var dtype DType
	switch any(zero).(type) {
	case int8:
		dtype = Int8
	case int16:
		dtype = Int16
	case int32:
		dtype = Int32
	case int64:
		dtype = Int64
	case uint8:
		dtype = Uint8
	case uint16:
		dtype = Uint16
	case uint32:
		dtype = Uint32
	case uint64:
		dtype = Uint64
	case float32:
		dtype = Float32
	case float64:
		dtype = Float64
	}
	if len(shape) == 0 {
		shape = []int{len(values)}
	}
	count, err := elementCount(shape)
	if err != nil {
		return Array{}, err
	}
	if count != len(values) {
		return Array{}, fmt.Errorf("shape %v holds %d elements, got %d values", shape, count, len(values))
	}
	data, err := binary.Append(make([]byte, 0, count*dtype.Size()), binary.LittleEndian, values)
	if err != nil {
		return Array{}, err
	}
	return Array{DType: dtype, Shape: slices.Clone(shape), Data: data}, nil
}

func elementCount(shape []int) (int, error) {
	if len(shape) == 0 {
		return 0, errors.New("array needs at least one dimension")
	}
	count := 1
	for _, dim := range shape {
		if dim < 0 {
			return 0, fmt.Errorf("negative dimension in shape %v", shape)
		}
		count *= dim
	}
	return count, nil
}

// Dims returns the number of dimensions.
func (a Array) Dims() int { return len(a.Shape) }

// Len returns the size of the time axis.
func (a Array) Len() int {
	if len(a.Shape) == 0 {
		return 0
	}
	return a.Shape[len(a.Shape)-1]
}

// Channels returns the flattened size of every axis except time. A
// one-dimensional array has a single channel.
func (a Array) Channels() int {
	channels := 1
	for _, dim := range a.Shape[:max(len(a.Shape)-1, 0)] {
		channels *= dim
	}
	return channels
}

// ChannelShape returns a copy of the leading (non-time) dimensions.
func (a Array) ChannelShape() []int {
	if len(a.Shape) == 0 {
		return nil
	}
	return slices.Clone(a.Shape[:len(a.Shape)-1])
}

// At returns element (channel, t) of the flattened (Channels, Len)
// view as float64.
func (a Array) At(channel, t int) float64 {
	size := a.DType.Size()
	offset := (channel*a.Len() + t) * size
	return a.DType.decode(a.Data[offset : offset+size])
}

// Sample fills dst with every channel's value at time t and returns it.
// dst is grown if it is too short.
func (a Array) Sample(t int, dst []float64) []float64 {
	channels := a.Channels()
	if cap(dst) < channels {
		dst = make([]float64, channels)
	}
	dst = dst[:channels]
	for channel := range channels {
		dst[channel] = a.At(channel, t)
	}
	return dst
}

// Rows returns channels [from, to) of the flattened channel axis as a
// two-dimensional (to-from, Len) array. The result aliases a.Data since
// channel rows are contiguous in row-major order.
func (a Array) Rows(from, to int) Array {
	channels := a.Channels()
	if from < 0 || to > channels || from > to {
		panic(fmt.Sprintf("tensor: rows [%d, %d) out of range for %d channels", from, to, channels))
	}
	rowBytes := a.Len() * a.DType.Size()
	return Array{
		DType: a.DType,
		Shape: []int{to - from, a.Len()},
		Data:  a.Data[from*rowBytes : to*rowBytes],
	}
}

// Reshape returns the same data under a new shape with an identical
// element count. The result aliases a.Data.
func (a Array) Reshape(shape ...int) (Array, error) {
	count, err := elementCount(shape)
	if err != nil {
		return Array{}, err
	}
	if count*a.DType.Size() != len(a.Data) {
		return Array{}, fmt.Errorf("cannot reshape %v into %v", a.Shape, shape)
	}
	return Array{DType: a.DType, Shape: slices.Clone(shape), Data: a.Data}, nil
}

// Concat joins b after a along the time axis. Both arrays must share
// dtype and channel shape.
func Concat(a, b Array) (Array, error) {
	if a.DType != b.DType {
		return Array{}, fmt.Errorf("dtype mismatch: %v vs %v", a.DType, b.DType)
	}
	if !slices.Equal(a.ChannelShape(), b.ChannelShape()) {
		return Array{}, fmt.Errorf("channel shape mismatch: %v vs %v", a.Shape, b.Shape)
	}
	size := a.DType.Size()
	aRow := a.Len() * size
	bRow := b.Len() * size
	channels := a.Channels()
	data := make([]byte, 0, len(a.Data)+len(b.Data))
	for row := range channels {
		data = append(data, a.Data[row*aRow:(row+1)*aRow]...)
		data = append(data, b.Data[row*bRow:(row+1)*bRow]...)
	}
	shape := slices.Clone(a.Shape)
	shape[len(shape)-1] = a.Len() + b.Len()
	return Array{DType: a.DType, Shape: shape, Data: data}, nil
}

// Equal reports whether a and b have the same dtype, shape and bytes.
func (a Array) Equal(b Array) bool {
	return a.DType == b.DType && slices.Equal(a.Shape, b.Shape) && bytes.Equal(a.Data, b.Data)
}

// Float64s decodes a little-endian float64 vector, the encoding used
// for timestamps on disk.
func Float64s(data []byte) []float64 {
	values := make([]float64, len(data)/8)
	for i := range values {
		values[i] = math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:]))
	}
	return values
}

// AppendFloat64s appends values as little-endian float64.
func AppendFloat64s(dst []byte, values []float64) []byte {
	for _, value := range values {
		dst = binary.LittleEndian.AppendUint64(dst, math.Float64bits(value))
	}
	return dst
}
