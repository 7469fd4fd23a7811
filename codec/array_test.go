// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package codec

import (
	"testing"

	"github.com/gstream/gstream/ci"
	"github.com/shoenig/test/must"
	"pgregory.net/rapid"
)

func TestArray_roundTripInt32(t *testing.T) {
	ci.Parallel(t)

	arr, err := NewInt32Array(2, 3, []int32{1, -2, 3, 4, -5, 6})
	must.NoError(t, err)

	blob, err := arr.Encode()
	must.NoError(t, err)
	must.Len(t, arr.ByteSize(), blob)

	back, err := DecodeArray(blob)
	must.NoError(t, err)
	must.True(t, arr.Equal(back))

	values, err := back.Int32Slice()
	must.NoError(t, err)
	must.Eq(t, []int32{1, -2, 3, 4, -5, 6}, values)
}

func TestArray_roundTripFloat32(t *testing.T) {
	ci.Parallel(t)

	arr, err := NewFloat32Array(1, 4, []float32{0.5, -1.25, 3, 42})
	must.NoError(t, err)

	blob, err := arr.Encode()
	must.NoError(t, err)

	back, err := DecodeArray(blob)
	must.NoError(t, err)
	must.True(t, arr.Equal(back))

	values, err := back.Float32Slice()
	must.NoError(t, err)
	must.Eq(t, []float32{0.5, -1.25, 3, 42}, values)
}

// A zero dimension denotes a 1-D view whose length is the other dimension.
func TestArray_oneDimensional(t *testing.T) {
	ci.Parallel(t)

	arr := &Array{
		Type: ArrayTypeInt32,
		Rows: 0,
		Cols: 5,
		Data: make([]byte, 5*Int32Size),
	}
	must.Eq(t, 5, arr.ElemCount())
	must.NoError(t, arr.Validate())

	blob, err := arr.Encode()
	must.NoError(t, err)

	back, err := DecodeArray(blob)
	must.NoError(t, err)
	must.True(t, arr.Equal(back))
}

func TestArray_empty(t *testing.T) {
	ci.Parallel(t)

	arr := &Array{Type: ArrayTypeInt32, Rows: 0, Cols: 0}
	must.Eq(t, 0, arr.ElemCount())

	blob, err := arr.Encode()
	must.NoError(t, err)

	back, err := DecodeArray(blob)
	must.NoError(t, err)
	must.True(t, arr.Equal(back))
}

func TestDecodeArray_trailingBytesIgnored(t *testing.T) {
	ci.Parallel(t)

	arr, err := NewInt32Array(1, 2, []int32{7, 8})
	must.NoError(t, err)

	blob, err := arr.Encode()
	must.NoError(t, err)
	blob = append(blob, 0xde, 0xad)

	back, err := DecodeArray(blob)
	must.NoError(t, err)
	must.True(t, arr.Equal(back))
}

func TestDecodeArray_shortfall(t *testing.T) {
	ci.Parallel(t)

	arr, err := NewInt32Array(2, 2, []int32{1, 2, 3, 4})
	must.NoError(t, err)

	blob, err := arr.Encode()
	must.NoError(t, err)

	_, err = DecodeArray(blob[:len(blob)-1])
	must.ErrorIs(t, err, ErrTruncated)
}

func TestDecodeArray_unknownTag(t *testing.T) {
	ci.Parallel(t)

	_, err := DecodeArray([]byte("float64\x00\x00\x00\x00\x00\x00\x00\x00"))
	must.ErrorIs(t, err, ErrUnsupportedType)
}

func TestArray_shapeMismatch(t *testing.T) {
	ci.Parallel(t)

	_, err := NewInt32Array(2, 2, []int32{1, 2, 3})
	must.ErrorIs(t, err, ErrTruncated)

	arr := &Array{Type: ArrayTypeFloat32, Rows: 2, Cols: 2, Data: make([]byte, 7)}
	must.ErrorIs(t, arr.Validate(), ErrTruncated)
}

func TestArray_property(t *testing.T) {
	ci.Parallel(t)

	rapid.Check(t, func(t *rapid.T) {
		rows := rapid.IntRange(1, 16).Draw(t, "rows")
		cols := rapid.IntRange(1, 16).Draw(t, "cols")
		values := rapid.SliceOfN(
			rapid.Int32Range(-1_000_000, 1_000_000), rows*cols, rows*cols,
		).Draw(t, "values")

		arr, err := NewInt32Array(rows, cols, values)
		must.NoError(t, err)

		blob, err := arr.Encode()
		must.NoError(t, err)

		back, err := DecodeArray(blob)
		must.NoError(t, err)
		must.True(t, arr.Equal(back))
	})
}
