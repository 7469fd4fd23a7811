// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package gpu

import (
	"fmt"
	"sync"
)

// SimKernelFunc implements one kernel function of a simulated device.
type SimKernelFunc func(grid []int, args []KernelArg) error

// SimPlatform is an in-process compute runtime used in tests and on hosts
// without GPU hardware.
type SimPlatform struct {
	devices []*SimDevice
}

// NewSimPlatform wraps the given devices.
func NewSimPlatform(devices ...*SimDevice) *SimPlatform {
	return &SimPlatform{devices: devices}
}

func (p *SimPlatform) GPUDevices() ([]Device, error) {
	out := make([]Device, len(p.devices))
	for i, d := range p.devices {
		out[i] = d
	}
	return out, nil
}

// SimDevice is one simulated GPU device.
type SimDevice struct {
	lock       sync.Mutex
	busID      int
	grid       []int
	groupSize  int
	warpSize   int
	kernels    map[string]SimKernelFunc
	allocLimit int
	allocated  int
	compileErr error
}

// NewSimDevice returns a device on the given bus with a small default grid.
func NewSimDevice(busID int) *SimDevice {
	return &SimDevice{
		busID:     busID,
		grid:      []int{1024, 1024, 64},
		groupSize: 1024,
		warpSize:  32,
		kernels:   make(map[string]SimKernelFunc),
	}
}

// WithKernel registers a kernel function.
func (d *SimDevice) WithKernel(name string, fn SimKernelFunc) *SimDevice {
	d.kernels[name] = fn
	return d
}

// WithAllocLimit caps total buffer bytes; allocations past the cap fail.
func (d *SimDevice) WithAllocLimit(limit int) *SimDevice {
	d.allocLimit = limit
	return d
}

// WithCompileError makes Compile fail.
func (d *SimDevice) WithCompileError(err error) *SimDevice {
	d.compileErr = err
	return d
}

func (d *SimDevice) BusID() (int, error) {
	return d.busID, nil
}

func (d *SimDevice) MaxWorkItemSizes() []int {
	return d.grid
}

func (d *SimDevice) MaxWorkGroupSize() int {
	return d.groupSize
}

func (d *SimDevice) WarpSize() int {
	return d.warpSize
}

func (d *SimDevice) Compile(source string) (Program, error) {
	if d.compileErr != nil {
		return nil, d.compileErr
	}
	return &simProgram{device: d, source: source}, nil
}

func (d *SimDevice) CreateBuffer(flag BufferFlag, size int, host []byte) (Buffer, error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	if d.allocLimit > 0 && d.allocated+size > d.allocLimit {
		return nil, fmt.Errorf("sim device %d: out of memory", d.busID)
	}
	d.allocated += size

	buffer := &simBuffer{device: d, data: make([]byte, size)}
	if flag == BufferReadCopy {
		copy(buffer.data, host)
	}
	return buffer, nil
}

func (d *SimDevice) ReadBuffer(dst []byte, src Buffer) error {
	buffer, ok := src.(*simBuffer)
	if !ok {
		return fmt.Errorf("foreign buffer")
	}
	copy(dst, buffer.data)
	return nil
}

type simProgram struct {
	device *SimDevice
	source string
}

func (p *simProgram) Run(function string, grid []int, args []KernelArg) error {
	fn, ok := p.device.kernels[function]
	if !ok {
		return fmt.Errorf("kernel function %q not found", function)
	}
	return fn(grid, args)
}

type simBuffer struct {
	device   *SimDevice
	data     []byte
	released bool
}

func (b *simBuffer) Release() error {
	b.device.lock.Lock()
	defer b.device.lock.Unlock()

	if !b.released {
		b.device.allocated -= len(b.data)
		b.released = true
	}
	return nil
}

// SimBufferBytes exposes the backing bytes of a simulated buffer to kernel
// functions.
func SimBufferBytes(b Buffer) []byte {
	if buffer, ok := b.(*simBuffer); ok {
		return buffer.data
	}
	return nil
}
