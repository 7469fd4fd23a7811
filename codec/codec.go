// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package codec implements the length-prefixed binary envelopes used for
// task input and result blobs. The layout is fixed little-endian and must
// stay byte compatible with existing clients: scalar packers for char,
// int32 and double, a typed 2-D array envelope, and the delays finder
// parameter structure. Everything here is a pure function of its inputs.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Byte sizes of the packable scalar kinds.
const (
	CharSize   = 1
	Int32Size  = 4
	DoubleSize = 8
)

// Accepted scalar ranges. Values outside are rejected at pack time.
const (
	MaxInt32Value  = 2_000_000_000
	MinInt32Value  = -2_000_000_000
	MaxDoubleValue = 1e14
	MinDoubleValue = -1e14
)

var (
	// ErrValueOutOfRange is returned when a scalar misses its declared range.
	ErrValueOutOfRange = errors.New("value out of range")

	// ErrEmptyValue is returned for empty strings and empty lists.
	ErrEmptyValue = errors.New("value is empty")

	// ErrTruncated is returned when the computed length exceeds the
	// remaining bytes.
	ErrTruncated = errors.New("invalid input bytes object")
)

var byteOrder = binary.LittleEndian

// PackString packs a non-empty ASCII string.
func PackString(s string) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("pack string: %w", ErrEmptyValue)
	}
	return []byte(s), nil
}

// UnpackString unpacks count bytes as a string.
func UnpackString(b []byte, count int) (string, error) {
	if count <= 0 {
		return "", fmt.Errorf("unpack string: %w", ErrEmptyValue)
	}
	if len(b) < count*CharSize {
		return "", fmt.Errorf("unpack string: %w", ErrTruncated)
	}
	return string(b[:count]), nil
}

// PackInt32 packs one or more integers as 32-bit values.
func PackInt32(values ...int) ([]byte, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("pack int32: %w", ErrEmptyValue)
	}

	buf := make([]byte, 0, len(values)*Int32Size)
	for _, v := range values {
		if v < MinInt32Value || v > MaxInt32Value {
			return nil, fmt.Errorf("pack int32 %d: %w", v, ErrValueOutOfRange)
		}
		buf = byteOrder.AppendUint32(buf, uint32(int32(v)))
	}
	return buf, nil
}

// UnpackInt32 unpacks count 32-bit integers.
func UnpackInt32(b []byte, count int) ([]int, error) {
	if count <= 0 {
		return nil, fmt.Errorf("unpack int32: %w", ErrEmptyValue)
	}
	if len(b) < count*Int32Size {
		return nil, fmt.Errorf("unpack int32: %w", ErrTruncated)
	}

	values := make([]int, count)
	for i := 0; i < count; i++ {
		values[i] = int(int32(byteOrder.Uint32(b[i*Int32Size:])))
	}
	return values, nil
}

// PackDouble packs one or more floats as 64-bit values.
func PackDouble(values ...float64) ([]byte, error) {
	if len(values) == 0 {
		return nil, fmt.Errorf("pack double: %w", ErrEmptyValue)
	}

	buf := make([]byte, 0, len(values)*DoubleSize)
	for _, v := range values {
		if v < MinDoubleValue || v > MaxDoubleValue {
			return nil, fmt.Errorf("pack double %v: %w", v, ErrValueOutOfRange)
		}
		buf = byteOrder.AppendUint64(buf, math.Float64bits(v))
	}
	return buf, nil
}

// UnpackDouble unpacks count 64-bit floats.
func UnpackDouble(b []byte, count int) ([]float64, error) {
	if count <= 0 {
		return nil, fmt.Errorf("unpack double: %w", ErrEmptyValue)
	}
	if len(b) < count*DoubleSize {
		return nil, fmt.Errorf("unpack double: %w", ErrTruncated)
	}

	values := make([]float64, count)
	for i := 0; i < count; i++ {
		values[i] = math.Float64frombits(byteOrder.Uint64(b[i*DoubleSize:]))
	}
	return values, nil
}

func float32bits(v float32) uint32 {
	return math.Float32bits(v)
}

func float32frombytes(b []byte) float32 {
	return math.Float32frombits(byteOrder.Uint32(b))
}
