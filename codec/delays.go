// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package codec

import (
	"errors"
	"fmt"
)

// ErrBaseStationIndex is returned when the base station index points
// outside the signals matrix.
var ErrBaseStationIndex = errors.New("invalid base station index")

// DelaysFinderParameters carries the input arguments of a delays task.
// Signals is one row per station, one column per sample.
type DelaysFinderParameters struct {
	WindowSize       int
	ScannerSize      int
	MinCorrelation   float64
	BaseStationIndex int
	Signals          *Array
}

// SignalsLength returns the sample count per station.
func (p *DelaysFinderParameters) SignalsLength() int {
	return p.Signals.Cols
}

// StationsCount returns the number of stations.
func (p *DelaysFinderParameters) StationsCount() int {
	return p.Signals.Rows
}

// Buffer returns the scan window the kernel cannot emit detections for.
func (p *DelaysFinderParameters) Buffer() int {
	return p.WindowSize + p.ScannerSize
}

// Validate checks the parameter invariants.
func (p *DelaysFinderParameters) Validate() error {
	if p.Signals == nil {
		return fmt.Errorf("delays parameters: %w", ErrEmptyValue)
	}
	if err := p.Signals.Validate(); err != nil {
		return err
	}
	if p.Signals.Type != ArrayTypeFloat32 {
		return fmt.Errorf("signals: %w: want %s have %s",
			ErrUnsupportedType, ArrayTypeFloat32, p.Signals.Type)
	}
	if p.BaseStationIndex >= p.Signals.Rows {
		return fmt.Errorf("%w: %d of %d stations",
			ErrBaseStationIndex, p.BaseStationIndex, p.Signals.Rows)
	}
	return nil
}

// Encode serializes the parameters as
// window(int32) || scanner(int32) || min_correlation(double) ||
// base_station(int32) || signals envelope.
func (p *DelaysFinderParameters) Encode() ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	sizes, err := PackInt32(p.WindowSize, p.ScannerSize)
	if err != nil {
		return nil, err
	}
	correlation, err := PackDouble(p.MinCorrelation)
	if err != nil {
		return nil, err
	}
	station, err := PackInt32(p.BaseStationIndex)
	if err != nil {
		return nil, err
	}
	signals, err := p.Signals.Encode()
	if err != nil {
		return nil, err
	}

	buf := make([]byte, 0, len(sizes)+len(correlation)+len(station)+len(signals))
	buf = append(buf, sizes...)
	buf = append(buf, correlation...)
	buf = append(buf, station...)
	buf = append(buf, signals...)
	return buf, nil
}

// DecodeDelaysFinderParameters parses a parameter blob.
func DecodeDelaysFinderParameters(b []byte) (*DelaysFinderParameters, error) {
	sizes, err := UnpackInt32(b, 2)
	if err != nil {
		return nil, fmt.Errorf("delays sizes: %w", err)
	}
	offset := 2 * Int32Size

	correlation, err := UnpackDouble(b[offset:], 1)
	if err != nil {
		return nil, fmt.Errorf("delays correlation: %w", err)
	}
	offset += DoubleSize

	station, err := UnpackInt32(b[offset:], 1)
	if err != nil {
		return nil, fmt.Errorf("delays base station: %w", err)
	}
	offset += Int32Size

	signals, err := DecodeArray(b[offset:])
	if err != nil {
		return nil, fmt.Errorf("delays signals: %w", err)
	}

	p := &DelaysFinderParameters{
		WindowSize:       sizes[0],
		ScannerSize:      sizes[1],
		MinCorrelation:   correlation[0],
		BaseStationIndex: station[0],
		Signals:          signals,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}
