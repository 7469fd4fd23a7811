// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package codec

import (
	"testing"

	"github.com/gstream/gstream/ci"
	"github.com/shoenig/test/must"
	"pgregory.net/rapid"
)

func TestPackString_roundTrip(t *testing.T) {
	ci.Parallel(t)

	b, err := PackString("float32")
	must.NoError(t, err)
	must.Len(t, 7, b)

	s, err := UnpackString(b, 7)
	must.NoError(t, err)
	must.Eq(t, "float32", s)
}

func TestPackString_empty(t *testing.T) {
	ci.Parallel(t)

	_, err := PackString("")
	must.ErrorIs(t, err, ErrEmptyValue)
}

func TestUnpackString_truncated(t *testing.T) {
	ci.Parallel(t)

	_, err := UnpackString([]byte("int"), 5)
	must.ErrorIs(t, err, ErrTruncated)
}

func TestPackInt32_boundaries(t *testing.T) {
	ci.Parallel(t)

	cases := []struct {
		name  string
		value int
		ok    bool
	}{
		{"max", MaxInt32Value, true},
		{"min", MinInt32Value, true},
		{"above max", MaxInt32Value + 1, false},
		{"below min", MinInt32Value - 1, false},
		{"zero", 0, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := PackInt32(tc.value)
			if !tc.ok {
				must.ErrorIs(t, err, ErrValueOutOfRange)
				return
			}
			must.NoError(t, err)
			must.Len(t, Int32Size, b)

			values, err := UnpackInt32(b, 1)
			must.NoError(t, err)
			must.Eq(t, []int{tc.value}, values)
		})
	}
}

func TestPackInt32_empty(t *testing.T) {
	ci.Parallel(t)

	_, err := PackInt32()
	must.ErrorIs(t, err, ErrEmptyValue)
}

func TestUnpackInt32_truncated(t *testing.T) {
	ci.Parallel(t)

	b, err := PackInt32(1, 2, 3)
	must.NoError(t, err)

	_, err = UnpackInt32(b, 4)
	must.ErrorIs(t, err, ErrTruncated)
}

func TestPackDouble_boundaries(t *testing.T) {
	ci.Parallel(t)

	for _, v := range []float64{MaxDoubleValue, MinDoubleValue, 0, 0.5} {
		b, err := PackDouble(v)
		must.NoError(t, err)
		must.Len(t, DoubleSize, b)

		values, err := UnpackDouble(b, 1)
		must.NoError(t, err)
		must.Eq(t, []float64{v}, values)
	}

	_, err := PackDouble(MaxDoubleValue * 2)
	must.ErrorIs(t, err, ErrValueOutOfRange)
	_, err = PackDouble(MinDoubleValue * 2)
	must.ErrorIs(t, err, ErrValueOutOfRange)
}

func TestPackInt32_property(t *testing.T) {
	ci.Parallel(t)

	rapid.Check(t, func(t *rapid.T) {
		values := rapid.SliceOfN(
			rapid.IntRange(MinInt32Value, MaxInt32Value), 1, 64,
		).Draw(t, "values")

		b, err := PackInt32(values...)
		must.NoError(t, err)
		must.Len(t, len(values)*Int32Size, b)

		back, err := UnpackInt32(b, len(values))
		must.NoError(t, err)
		must.Eq(t, values, back)
	})
}

func TestPackDouble_property(t *testing.T) {
	ci.Parallel(t)

	rapid.Check(t, func(t *rapid.T) {
		values := rapid.SliceOfN(
			rapid.Float64Range(MinDoubleValue, MaxDoubleValue), 1, 64,
		).Draw(t, "values")

		b, err := PackDouble(values...)
		must.NoError(t, err)

		back, err := UnpackDouble(b, len(values))
		must.NoError(t, err)
		must.Eq(t, values, back)
	})
}
