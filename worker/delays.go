// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package worker

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/gstream/gstream/codec"
	"github.com/gstream/gstream/device/gpu"
	"github.com/gstream/gstream/structs"
)

//go:embed kernels/delays_finder.cl
var delaysKernelSource string

const (
	delaysKernelFunction = "get_real_delays"

	// Post-processing constants for merging near-duplicate detections.
	similarityCoefficient = 0.8
	timeEpsilon           = 5
	nullValue             = -9999
)

// delaysFinder runs the delays kernel and reduces its raw output.
type delaysFinder struct {
	*process
	rig *gpu.Rig

	params   *codec.DelaysFinderParameters
	args     []gpu.Arg
	card     *gpu.Card
	solution *gpu.GPUArray

	// raw kernel output shape
	rawRows int
	rawCols int
}

func newDelaysFinder(p *process, rig *gpu.Rig) *delaysFinder {
	return &delaysFinder{process: p, rig: rig}
}

// loadArgs reads and decodes the input blob.
func (d *delaysFinder) loadArgs(ctx context.Context) error {
	state, err := d.taskState(ctx)
	if err != nil {
		return err
	}
	blob, err := d.files.GetBinaryData(state.InputArgsFilename)
	if err != nil {
		return err
	}
	d.params, err = codec.DecodeDelaysFinderParameters(blob)
	return err
}

// prepareArgs builds the kernel argument list: the signals matrix copied to
// the device and a zeroed write-only solution matrix of one row per
// processable sample, one column per station plus the detection flag.
// Signals shorter than the scan window leave no processable samples.
func (d *delaysFinder) prepareArgs() error {
	d.rawRows = d.params.SignalsLength() - d.params.Buffer()
	d.rawCols = d.params.StationsCount() + 1
	if d.rawRows <= 0 {
		return fmt.Errorf("signals of %d samples are shorter than the scan window of %d",
			d.params.SignalsLength(), d.params.Buffer())
	}

	signals := gpu.NewGPUArray(d.params.Signals.Data, true)
	d.solution = gpu.NewGPUArray(make([]byte, d.rawRows*d.rawCols*codec.Int32Size), false)

	d.args = []gpu.Arg{
		gpu.ArrayArg(signals),
		gpu.IntArg(d.params.SignalsLength()),
		gpu.IntArg(d.params.StationsCount()),
		gpu.IntArg(d.params.ScannerSize),
		gpu.IntArg(d.params.WindowSize),
		gpu.FloatArg(d.params.MinCorrelation),
		gpu.IntArg(d.params.BaseStationIndex),
		gpu.ArrayArg(d.solution),
	}
	return nil
}

// acquireCard passes RAM and GPU admission for the prepared argument size.
func (d *delaysFinder) acquireCard(ctx context.Context) error {
	required := gpu.ArgsByteSize(d.args)

	ram, err := d.rig.RAMInfo()
	if err != nil {
		return err
	}
	if ram.Permitted() < uint64(required) {
		d.addLog(ctx, "No free RAM size. Process not run now but will run later")
		return structs.ErrNoFreeRAM
	}

	card, err := d.rig.GetFreeGPUCard(uint64(required))
	if err != nil {
		d.addLog(ctx, "All GPU cards are busy now. Process not run now but will run later")
		return err
	}
	d.addLog(ctx, "Found free GPUCard")
	d.card = card
	return nil
}

func (d *delaysFinder) run(ctx context.Context) error {
	if err := d.loadArgs(ctx); err != nil {
		return err
	}
	if err := d.prepareArgs(); err != nil {
		return err
	}

	if err := d.acquireCard(ctx); err != nil {
		return err
	}

	d.addLog(ctx, "Creating GPU task...")
	task, err := gpu.NewTask(d.card, delaysKernelSource)
	if err != nil {
		return err
	}
	d.addLog(ctx, "GPU task was created")

	d.addLog(ctx, "Finding real delays starting ...")
	if err := task.Run(delaysKernelFunction, d.args); err != nil {
		return err
	}

	raw, err := d.solution.GetFromGPU(d.card)
	if err != nil {
		return err
	}
	d.addLog(ctx, "Real delays array was extract successfully")

	rawArr := &codec.Array{
		Type: codec.ArrayTypeInt32,
		Rows: d.rawRows,
		Cols: d.rawCols,
		Data: raw,
	}
	rawValues, err := rawArr.Int32Slice()
	if err != nil {
		return err
	}

	return d.saveSolution(ctx, reduceDelays(rawValues, d.rawRows, d.rawCols,
		d.params.WindowSize, d.params.ScannerSize))
}

// saveSolution encodes the reduced matrix into the result envelope.
func (d *delaysFinder) saveSolution(ctx context.Context, rows [][]int32) error {
	state, err := d.taskState(ctx)
	if err != nil {
		return err
	}

	// A run with no detections still produces a result file; its shape
	// must be fully zero so the envelope stays self-consistent.
	cols := d.params.StationsCount() + 2
	if len(rows) == 0 {
		cols = 0
	}
	flat := make([]int32, 0, len(rows)*cols)
	for _, row := range rows {
		flat = append(flat, row...)
	}

	arr, err := codec.NewInt32Array(len(rows), cols, flat)
	if err != nil {
		return err
	}
	blob, err := arr.Encode()
	if err != nil {
		return err
	}
	return d.files.SaveBinaryData(blob, state.OutputArgsFilename)
}

func (d *delaysFinder) release(ctx context.Context) {
	gpu.ReleaseArgs(d.args)
	d.addLog(ctx, "GPU card is clear from task arguments")
}

// similarity returns the fraction of per-station deltas that are either
// within the epsilon or clearly null on one side.
func similarity(a, b []int32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("different sizes of rows: %d vs %d", len(a), len(b))
	}

	matched := 0
	for i := range a {
		diff := a[i] - b[i]
		if diff < 0 {
			diff = -diff
		}
		if diff <= timeEpsilon || diff > -nullValue/2 {
			matched++
		}
	}
	return float64(matched) / float64(len(a)), nil
}

// reduceDelays turns the raw kernel matrix (one row per sample, detection
// flag in column 0, then per-station delays) into result rows of
// [sample index, duration, delays...]. Rows without the flag are dropped;
// runs of near-identical detections inside one scanner window collapse to
// their first row, the duration extended over the merged run.
func reduceDelays(raw []int32, rows, cols, windowSize, scannerSize int) [][]int32 {
	var kept [][]int32
	for i := 0; i < rows; i++ {
		row := raw[i*cols : (i+1)*cols]
		if row[0] != 1 {
			continue
		}
		out := make([]int32, 0, cols+1)
		out = append(out, int32(i), int32(windowSize))
		out = append(out, row[1:]...)
		kept = append(kept, out)
	}

	skipped := make(map[int]bool)
	var selected [][]int32
	for i := 0; i < len(kept); i++ {
		if skipped[i] {
			continue
		}

		durationIndex := i
		maxJ := min(i+scannerSize+1, len(kept))
		for j := i + 1; j < maxJ; j++ {
			if skipped[j] {
				continue
			}
			coeff, err := similarity(kept[i][2:], kept[j][2:])
			if err != nil {
				continue
			}
			if coeff >= similarityCoefficient {
				skipped[j] = true
				durationIndex = j
			}
		}

		kept[i][1] = int32(durationIndex - i + windowSize)
		selected = append(selected, kept[i])
	}
	return selected
}
