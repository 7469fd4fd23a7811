// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package worker

import (
	"context"
	"testing"

	"github.com/gstream/gstream/ci"
	"github.com/gstream/gstream/codec"
	"github.com/gstream/gstream/device/gpu"
	"github.com/gstream/gstream/filestore"
	"github.com/gstream/gstream/helper/testlog"
	"github.com/gstream/gstream/store"
	"github.com/gstream/gstream/structs"
	"github.com/shoenig/test/must"
)

// testEnv is the full dependency set of one worker under test.
type testEnv struct {
	store *store.Store
	files *filestore.Store
	rig   *gpu.Rig
}

func newTestEnv(t *testing.T, devices ...*gpu.SimDevice) *testEnv {
	s := store.New(store.NewMemKV(), &store.Config{Logger: testlog.HCLogger(t)})
	t.Cleanup(func() { _ = s.Close() })

	files, err := filestore.New(t.TempDir(), testlog.HCLogger(t))
	must.NoError(t, err)

	infos := make([]*gpu.CardInfo, 0, len(devices))
	for i := range devices {
		busID, berr := devices[i].BusID()
		must.NoError(t, berr)
		infos = append(infos, &gpu.CardInfo{
			UUID:   "GPU-test",
			BusID:  busID,
			Memory: gpu.MemoryInfo{Total: gpu.MB(8000), Used: gpu.MB(500)},
		})
	}
	rig, err := gpu.NewRig(&gpu.RigConfig{
		Logger:     testlog.HCLogger(t),
		Platform:   gpu.NewSimPlatform(devices...),
		QueryCards: func() ([]*gpu.CardInfo, error) { return infos, nil },
		RAMInfo: func() (gpu.MemoryInfo, error) {
			return gpu.MemoryInfo{Total: gpu.MB(16_000), Used: gpu.MB(4_000)}, nil
		},
	})
	must.NoError(t, err)

	return &testEnv{store: s, files: files, rig: rig}
}

func (e *testEnv) config(t *testing.T, taskID string) *Config {
	return &Config{
		TaskID: taskID,
		Store:  e.store,
		Files:  e.files,
		Rig:    e.rig,
		Logger: testlog.HCLogger(t),
	}
}

// addReadyTask stores a ready delays task with the given input blob.
func (e *testEnv) addReadyTask(t *testing.T, input []byte) *structs.TaskState {
	ctx := context.Background()

	state, err := structs.NewTaskState("u1", structs.TaskTypeDelays)
	must.NoError(t, err)
	must.NoError(t, e.store.AddTask(ctx, state))

	must.NoError(t, e.files.SaveBinaryData(input, state.InputArgsFilename))
	must.NoError(t, e.files.SaveScript("#!/bin/sh\nexit 0\n", state.ScriptFilename))

	state.Status = structs.TaskStatusReady
	must.NoError(t, e.store.UpdateTaskState(ctx, state.TaskID, state))
	return state
}

// testInputBlob encodes delays parameters for 2 stations and 20 samples.
func testInputBlob(t *testing.T) []byte {
	signals, err := codec.NewFloat32Array(2, 20, make([]float32, 40))
	must.NoError(t, err)

	params := &codec.DelaysFinderParameters{
		WindowSize:       2,
		ScannerSize:      3,
		MinCorrelation:   0.7,
		BaseStationIndex: 0,
		Signals:          signals,
	}
	blob, err := params.Encode()
	must.NoError(t, err)
	return blob
}

// putInt32 writes one little-endian element of a raw solution matrix.
func putInt32(data []byte, index int, v int32) {
	for i := 0; i < 4; i++ {
		data[index*4+i] = byte(v >> (8 * i))
	}
}

func TestRun_delays(t *testing.T) {
	ci.Parallel(t)
	ctx := context.Background()

	// raw matrix: rows = samples - window - scanner = 15, cols = stations + 1
	device := gpu.NewSimDevice(1).WithKernel("get_real_delays",
		func(grid []int, args []gpu.KernelArg) error {
			must.Len(t, 8, args)
			must.Eq(t, 20, *args[1].Int32) // signals length
			must.Eq(t, 2, *args[2].Int32)  // stations
			must.Eq(t, 3, *args[3].Int32)  // scanner
			must.Eq(t, 2, *args[4].Int32)  // window
			must.Eq(t, float32(0.7), *args[5].Float32)
			must.Eq(t, 0, *args[6].Int32) // base station

			out := gpu.SimBufferBytes(args[7].Buffer)
			must.Len(t, 15*3*4, out)

			// two near-identical detections one sample apart; they merge
			putInt32(out, 4*3+0, 1)
			putInt32(out, 4*3+1, 10)
			putInt32(out, 4*3+2, 12)
			putInt32(out, 5*3+0, 1)
			putInt32(out, 5*3+1, 11)
			putInt32(out, 5*3+2, 12)
			return nil
		})

	env := newTestEnv(t, device)
	state := env.addReadyTask(t, testInputBlob(t))

	must.NoError(t, Run(ctx, env.config(t, state.TaskID)))

	back, err := env.store.GetTaskState(ctx, state.TaskID)
	must.NoError(t, err)
	must.Eq(t, structs.TaskStatusFinished, back.Status)

	blob, err := env.files.GetBinaryData(state.OutputArgsFilename)
	must.NoError(t, err)
	arr, err := codec.DecodeArray(blob)
	must.NoError(t, err)
	must.Eq(t, 1, arr.Rows)
	must.Eq(t, 4, arr.Cols)

	values, err := arr.Int32Slice()
	must.NoError(t, err)
	// [sample, duration over the merged run, per-station delays]
	must.Eq(t, []int32{4, 3, 10, 12}, values)

	log, err := env.store.GetLog(ctx, state.TaskID)
	must.NoError(t, err)
	must.StrContains(t, log, "Task running...")
	must.StrContains(t, log, "Found free GPUCard")
	must.StrContains(t, log, "Task successfully completed")
	must.StrContains(t, log, "Task was closed")
}

func TestRun_noDetections(t *testing.T) {
	ci.Parallel(t)
	ctx := context.Background()

	device := gpu.NewSimDevice(1).WithKernel("get_real_delays",
		func([]int, []gpu.KernelArg) error { return nil })

	env := newTestEnv(t, device)
	state := env.addReadyTask(t, testInputBlob(t))

	must.NoError(t, Run(ctx, env.config(t, state.TaskID)))

	blob, err := env.files.GetBinaryData(state.OutputArgsFilename)
	must.NoError(t, err)
	arr, err := codec.DecodeArray(blob)
	must.NoError(t, err)
	must.Zero(t, arr.Rows)
	must.Zero(t, arr.Cols)
	must.Zero(t, len(arr.Data))
}

func TestRun_noFreeGPU(t *testing.T) {
	ci.Parallel(t)
	ctx := context.Background()

	// a rig without cards has nothing to launch on
	env := newTestEnv(t)
	state := env.addReadyTask(t, testInputBlob(t))

	state.PID = 4242
	must.NoError(t, env.store.UpdateTaskState(ctx, state.TaskID, state))

	must.NoError(t, Run(ctx, env.config(t, state.TaskID)))

	back, err := env.store.GetTaskState(ctx, state.TaskID)
	must.NoError(t, err)
	must.Eq(t, structs.TaskStatusReady, back.Status)
	must.Eq(t, structs.NoPID, back.PID)

	log, err := env.store.GetLog(ctx, state.TaskID)
	must.NoError(t, err)
	must.StrContains(t, log, "All GPU cards are busy now. Process not run now but will run later")
}

func TestRun_noFreeRAM(t *testing.T) {
	ci.Parallel(t)
	ctx := context.Background()

	env := newTestEnv(t, gpu.NewSimDevice(1))
	rig, err := gpu.NewRig(&gpu.RigConfig{
		Logger:     testlog.HCLogger(t),
		Platform:   gpu.NewSimPlatform(),
		QueryCards: func() ([]*gpu.CardInfo, error) { return nil, nil },
		RAMInfo: func() (gpu.MemoryInfo, error) {
			return gpu.MemoryInfo{Total: gpu.MB(8000), Used: gpu.MB(7990)}, nil
		},
	})
	must.NoError(t, err)
	env.rig = rig

	state := env.addReadyTask(t, testInputBlob(t))
	must.NoError(t, Run(ctx, env.config(t, state.TaskID)))

	back, err := env.store.GetTaskState(ctx, state.TaskID)
	must.NoError(t, err)
	must.Eq(t, structs.TaskStatusReady, back.Status)

	log, err := env.store.GetLog(ctx, state.TaskID)
	must.NoError(t, err)
	must.StrContains(t, log, "No free RAM size. Process not run now but will run later")
}

func TestRun_badInput(t *testing.T) {
	ci.Parallel(t)
	ctx := context.Background()

	env := newTestEnv(t, gpu.NewSimDevice(1))
	state := env.addReadyTask(t, []byte{1, 2, 3})

	must.NoError(t, Run(ctx, env.config(t, state.TaskID)))

	back, err := env.store.GetTaskState(ctx, state.TaskID)
	must.NoError(t, err)
	must.Eq(t, structs.TaskStatusFailed, back.Status)

	log, err := env.store.GetLog(ctx, state.TaskID)
	must.NoError(t, err)
	must.StrContains(t, log, "Error in task with id "+state.TaskID)
}

func TestRun_signalsShorterThanScanWindow(t *testing.T) {
	ci.Parallel(t)
	ctx := context.Background()

	signals, err := codec.NewFloat32Array(2, 20, make([]float32, 40))
	must.NoError(t, err)

	// window + scanner exceeds the sample count, so no sample is processable
	cases := []struct {
		name    string
		scanner int
	}{
		{name: "past the samples", scanner: 10},
		{name: "exactly the samples", scanner: 5},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			params := &codec.DelaysFinderParameters{
				WindowSize:       15,
				ScannerSize:      tc.scanner,
				MinCorrelation:   0.7,
				BaseStationIndex: 0,
				Signals:          signals,
			}
			blob, err := params.Encode()
			must.NoError(t, err)

			env := newTestEnv(t, gpu.NewSimDevice(1))
			state := env.addReadyTask(t, blob)

			must.NoError(t, Run(ctx, env.config(t, state.TaskID)))

			back, err := env.store.GetTaskState(ctx, state.TaskID)
			must.NoError(t, err)
			must.Eq(t, structs.TaskStatusFailed, back.Status)

			log, err := env.store.GetLog(ctx, state.TaskID)
			must.NoError(t, err)
			must.StrContains(t, log, "Error in task with id "+state.TaskID)
			must.StrContains(t, log, "shorter than the scan window")
		})
	}
}

func TestRun_taskNotFound(t *testing.T) {
	ci.Parallel(t)

	env := newTestEnv(t)
	err := Run(context.Background(), env.config(t, "absent"))
	must.ErrorIs(t, err, structs.ErrTaskNotFound)
}

func TestRun_taskNotReady(t *testing.T) {
	ci.Parallel(t)
	ctx := context.Background()

	env := newTestEnv(t)
	state, err := structs.NewTaskState("u1", structs.TaskTypeDelays)
	must.NoError(t, err)
	must.NoError(t, env.store.AddTask(ctx, state))

	err = Run(ctx, env.config(t, state.TaskID))
	must.ErrorIs(t, err, structs.ErrTaskNotReady)
}

func TestSimilarity(t *testing.T) {
	ci.Parallel(t)

	coeff, err := similarity([]int32{10, 20, 30}, []int32{12, 40, -9999})
	must.NoError(t, err)
	// 10~12 within epsilon, 20 vs 40 not, 30 vs null counts as matched
	must.Eq(t, 2.0/3.0, coeff)

	_, err = similarity([]int32{1}, []int32{1, 2})
	must.Error(t, err)
}

func TestReduceDelays(t *testing.T) {
	ci.Parallel(t)

	// rows without the detection flag are dropped entirely
	raw := []int32{
		0, 5, 6,
		1, 10, 12,
		1, 11, 12,
		0, 0, 0,
		1, 90, 95,
	}
	out := reduceDelays(raw, 5, 3, 2, 3)
	must.Len(t, 2, out)
	must.Eq(t, []int32{1, 3, 10, 12}, out[0])
	must.Eq(t, []int32{4, 2, 90, 95}, out[1])
}

func TestReduceDelays_scannerWindow(t *testing.T) {
	ci.Parallel(t)

	// five identical detections with a scanner of one: each survivor merges
	// only its immediate successor
	raw := make([]int32, 5*3)
	for i := 0; i < 5; i++ {
		raw[i*3] = 1
		raw[i*3+1] = 10
		raw[i*3+2] = 12
	}

	out := reduceDelays(raw, 5, 3, 2, 1)
	must.Len(t, 3, out)
	must.Eq(t, []int32{0, 3, 10, 12}, out[0])
	must.Eq(t, []int32{2, 3, 10, 12}, out[1])
	must.Eq(t, []int32{4, 2, 10, 12}, out[2])
}
