// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package codec

import (
	"bytes"
	"errors"
	"fmt"
)

// ErrUnsupportedType is returned when the envelope tag matches no known
// array type.
var ErrUnsupportedType = errors.New("unsupported array type")

// ArrayType tags the element type of an array envelope.
type ArrayType string

const (
	ArrayTypeInt32   ArrayType = "int32"
	ArrayTypeFloat32 ArrayType = "float32"
)

// arrayTypes is the tag probe order used by DecodeArray.
var arrayTypes = []ArrayType{ArrayTypeInt32, ArrayTypeFloat32}

// ElemSize returns the element byte size for the type.
func (t ArrayType) ElemSize() int {
	switch t {
	case ArrayTypeInt32, ArrayTypeFloat32:
		return 4
	default:
		return 0
	}
}

// Valid reports whether t is a known array type.
func (t ArrayType) Valid() bool {
	return t.ElemSize() > 0
}

// Array is a typed 2-D array envelope in row-major layout. Rows or Cols of
// zero denotes a 1-D view whose length is the non-zero dimension.
type Array struct {
	Type ArrayType
	Rows int
	Cols int
	Data []byte
}

// ElemCount returns the number of elements the shape describes.
func (a *Array) ElemCount() int {
	if a.Rows == 0 || a.Cols == 0 {
		return max(a.Rows, a.Cols)
	}
	return a.Rows * a.Cols
}

// ByteSize returns the full encoded size of the envelope.
func (a *Array) ByteSize() int {
	return len(a.Type)*CharSize + 2*Int32Size + len(a.Data)
}

// Equal reports envelope equality including shape and raw data.
func (a *Array) Equal(o *Array) bool {
	if a == nil || o == nil {
		return a == o
	}
	return a.Type == o.Type && a.Rows == o.Rows && a.Cols == o.Cols &&
		bytes.Equal(a.Data, o.Data)
}

// Validate checks shape against data length.
func (a *Array) Validate() error {
	if !a.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrUnsupportedType, a.Type)
	}
	if a.Rows < 0 || a.Cols < 0 {
		return fmt.Errorf("array shape %dx%d: %w", a.Rows, a.Cols, ErrValueOutOfRange)
	}
	if want := a.ElemCount() * a.Type.ElemSize(); len(a.Data) != want {
		return fmt.Errorf("array data is %d bytes, shape wants %d: %w",
			len(a.Data), want, ErrTruncated)
	}
	return nil
}

// Encode serializes the envelope as
// tag || rows(int32) || cols(int32) || data.
func (a *Array) Encode() ([]byte, error) {
	if err := a.Validate(); err != nil {
		return nil, err
	}

	tag, err := PackString(string(a.Type))
	if err != nil {
		return nil, err
	}
	shape, err := PackInt32(a.Rows, a.Cols)
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 0, a.ByteSize())
	buf = append(buf, tag...)
	buf = append(buf, shape...)
	buf = append(buf, a.Data...)
	return buf, nil
}

// probeArrayType identifies the envelope tag by trying each known tag
// string in turn.
func probeArrayType(b []byte) (ArrayType, error) {
	for _, t := range arrayTypes {
		n := len(t)
		tag, err := UnpackString(b, n)
		if err != nil {
			continue
		}
		if tag == string(t) {
			return t, nil
		}
	}
	return "", ErrUnsupportedType
}

// DecodeArray parses an array envelope. Trailing bytes beyond the shape are
// ignored; a shortfall is an error.
func DecodeArray(b []byte) (*Array, error) {
	arrayType, err := probeArrayType(b)
	if err != nil {
		return nil, err
	}

	offset := len(arrayType) * CharSize
	shape, err := UnpackInt32(b[offset:], 2)
	if err != nil {
		return nil, fmt.Errorf("array shape: %w", err)
	}
	offset += 2 * Int32Size

	rows, cols := shape[0], shape[1]
	if rows < 0 || cols < 0 {
		return nil, fmt.Errorf("array shape %dx%d: %w", rows, cols, ErrValueOutOfRange)
	}

	arr := &Array{Type: arrayType, Rows: rows, Cols: cols}
	want := arr.ElemCount() * arrayType.ElemSize()
	if want > len(b)-offset {
		return nil, fmt.Errorf("array data: %w", ErrTruncated)
	}

	arr.Data = make([]byte, want)
	copy(arr.Data, b[offset:offset+want])
	return arr, nil
}

// Int32Slice views the data as int32 elements.
func (a *Array) Int32Slice() ([]int32, error) {
	if a.Type != ArrayTypeInt32 {
		return nil, fmt.Errorf("%w: want %s have %s", ErrUnsupportedType, ArrayTypeInt32, a.Type)
	}
	out := make([]int32, a.ElemCount())
	for i := range out {
		out[i] = int32(byteOrder.Uint32(a.Data[i*Int32Size:]))
	}
	return out, nil
}

// Float32Slice views the data as float32 elements.
func (a *Array) Float32Slice() ([]float32, error) {
	if a.Type != ArrayTypeFloat32 {
		return nil, fmt.Errorf("%w: want %s have %s", ErrUnsupportedType, ArrayTypeFloat32, a.Type)
	}
	out := make([]float32, a.ElemCount())
	for i := range out {
		out[i] = float32frombytes(a.Data[i*4:])
	}
	return out, nil
}

// NewInt32Array builds an int32 envelope from a row-major matrix.
func NewInt32Array(rows, cols int, values []int32) (*Array, error) {
	if len(values) != rows*cols {
		return nil, fmt.Errorf("matrix %dx%d with %d values: %w",
			rows, cols, len(values), ErrTruncated)
	}
	data := make([]byte, 0, len(values)*Int32Size)
	for _, v := range values {
		data = byteOrder.AppendUint32(data, uint32(v))
	}
	return &Array{Type: ArrayTypeInt32, Rows: rows, Cols: cols, Data: data}, nil
}

// NewFloat32Array builds a float32 envelope from a row-major matrix.
func NewFloat32Array(rows, cols int, values []float32) (*Array, error) {
	if len(values) != rows*cols {
		return nil, fmt.Errorf("matrix %dx%d with %d values: %w",
			rows, cols, len(values), ErrTruncated)
	}
	data := make([]byte, 0, len(values)*4)
	for _, v := range values {
		data = byteOrder.AppendUint32(data, float32bits(v))
	}
	return &Array{Type: ArrayTypeFloat32, Rows: rows, Cols: cols, Data: data}, nil
}
