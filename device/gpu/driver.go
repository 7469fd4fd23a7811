// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package gpu

import (
	"errors"

	"github.com/gstream/gstream/helper/pointer"
)

// ErrDriverUnavailable is returned by the default platform. Binaries built
// without a compute runtime can still run every non-GPU code path.
var ErrDriverUnavailable = errors.New("compute driver not available")

// BufferFlag selects how a device buffer is created.
type BufferFlag int

const (
	// BufferReadCopy creates a read-only buffer initialized from host memory.
	BufferReadCopy BufferFlag = iota

	// BufferWriteOnly creates an uninitialized write-only buffer of a size.
	BufferWriteOnly
)

// Platform enumerates the GPU devices of the compute runtime.
type Platform interface {
	GPUDevices() ([]Device, error)
}

// Device is one GPU device of the runtime. The kernel execution mechanics
// live behind this interface; everything above it is runtime-agnostic.
type Device interface {
	// BusID returns the PCI bus id the device reports, used to join the
	// runtime device against the vendor tool inventory.
	BusID() (int, error)

	// MaxWorkItemSizes returns the execution grid limit per dimension.
	// Kernel launches use this as their grid.
	MaxWorkItemSizes() []int

	// MaxWorkGroupSize returns the group (block) size limit.
	MaxWorkGroupSize() int

	// WarpSize returns the scheduling warp width.
	WarpSize() int

	// Compile builds program source for this device.
	Compile(source string) (Program, error)

	// CreateBuffer allocates a device buffer. For BufferReadCopy the host
	// bytes are copied in; for BufferWriteOnly only size is used.
	CreateBuffer(flag BufferFlag, size int, host []byte) (Buffer, error)

	// ReadBuffer copies a device buffer back into host memory.
	ReadBuffer(dst []byte, src Buffer) error
}

// Program is a compiled kernel module.
type Program interface {
	// Run launches the named kernel function over the grid.
	Run(function string, grid []int, args []KernelArg) error
}

// Buffer is an allocated device buffer.
type Buffer interface {
	Release() error
}

// KernelArg is a tagged kernel argument: exactly one field is set.
type KernelArg struct {
	Int32   *int32
	Float32 *float32
	Buffer  Buffer
}

// Int32Arg wraps a device 32-bit int argument.
func Int32Arg(v int32) KernelArg {
	return KernelArg{Int32: pointer.Of(v)}
}

// Float32Arg wraps a device 32-bit float argument.
func Float32Arg(v float32) KernelArg {
	return KernelArg{Float32: pointer.Of(v)}
}

// BufferArg wraps a device buffer argument.
func BufferArg(b Buffer) KernelArg {
	return KernelArg{Buffer: b}
}

// unavailablePlatform is the default platform for builds without a compute
// runtime.
type unavailablePlatform struct{}

// DefaultPlatform returns the platform compiled into the binary.
func DefaultPlatform() Platform {
	return unavailablePlatform{}
}

func (unavailablePlatform) GPUDevices() ([]Device, error) {
	return nil, ErrDriverUnavailable
}
