// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package gpu

import (
	"fmt"

	"github.com/gstream/gstream/helper/pointer"
	"github.com/gstream/gstream/structs"
)

// GPUArray wraps a typed host array for device transfer. With copy set the
// buffer is created read-only and loaded from host memory; otherwise it is
// a write-only device buffer sized from the host bytes and fetched back
// with GetFromGPU.
type GPUArray struct {
	host   []byte
	isCopy bool
	buffer Buffer
}

// NewGPUArray wraps host bytes.
func NewGPUArray(host []byte, isCopy bool) *GPUArray {
	return &GPUArray{host: host, isCopy: isCopy}
}

// ByteSize returns the host byte size, the unit of GPU and RAM admission.
func (a *GPUArray) ByteSize() int {
	return len(a.host)
}

// Loaded reports whether a device buffer exists.
func (a *GPUArray) Loaded() bool {
	return a.buffer != nil
}

// LoadToGPU materializes the device buffer on the card.
func (a *GPUArray) LoadToGPU(card *Card) error {
	if a.buffer != nil {
		return nil
	}

	flag := BufferWriteOnly
	if a.isCopy {
		flag = BufferReadCopy
	}
	buffer, err := card.allocate(flag, len(a.host), a.host)
	if err != nil {
		return err
	}
	a.buffer = buffer
	return nil
}

// GetFromGPU copies the device buffer back and returns the host bytes.
// Without a buffer it returns an empty slice.
func (a *GPUArray) GetFromGPU(card *Card) ([]byte, error) {
	if a.buffer == nil {
		return nil, nil
	}
	if err := card.Device().ReadBuffer(a.host, a.buffer); err != nil {
		return nil, fmt.Errorf("copy from device: %w", err)
	}
	return a.host, nil
}

// Release frees the device buffer. Safe to call repeatedly.
func (a *GPUArray) Release() {
	if a.buffer != nil {
		_ = a.buffer.Release()
		a.buffer = nil
	}
}

// Arg is one kernel argument: a host int, a host float, or a GPU array.
// Exactly one field is set.
type Arg struct {
	Int   *int
	Float *float64
	Array *GPUArray
}

// IntArg builds an int argument (marshalled to a device 32-bit int).
func IntArg(v int) Arg {
	return Arg{Int: pointer.Of(v)}
}

// FloatArg builds a float argument (marshalled to a device 32-bit float).
func FloatArg(v float64) Arg {
	return Arg{Float: pointer.Of(v)}
}

// ArrayArg builds a device buffer argument.
func ArrayArg(a *GPUArray) Arg {
	return Arg{Array: a}
}

// ByteSize returns the admission size of the argument.
func (a Arg) ByteSize() int {
	switch {
	case a.Array != nil:
		return a.Array.ByteSize()
	case a.Int != nil:
		return Int32Size
	case a.Float != nil:
		return Float32Size
	default:
		return 0
	}
}

// Device scalar widths.
const (
	Int32Size   = 4
	Float32Size = 4
)

// ArgsByteSize sums the admission size of an argument list.
func ArgsByteSize(args []Arg) int {
	total := 0
	for _, arg := range args {
		total += arg.ByteSize()
	}
	return total
}

// Task compiles a program once for a card and launches its kernel
// functions. The execution grid is the card's max work-item sizes.
type Task struct {
	card    *Card
	source  string
	program Program
}

// NewTask compiles the program on the card.
func NewTask(card *Card, source string) (*Task, error) {
	program, err := card.Compile(source)
	if err != nil {
		return nil, err
	}
	return &Task{card: card, source: source, program: program}, nil
}

// Card returns the card the task is bound to.
func (t *Task) Card() *Card {
	return t.card
}

// Equal compares tasks by card and source.
func (t *Task) Equal(o *Task) bool {
	if t == nil || o == nil {
		return t == o
	}
	return t.card.Equal(o.card) && t.source == o.source
}

// marshalArgs converts host arguments to kernel arguments, materializing
// device buffers lazily.
func (t *Task) marshalArgs(args []Arg) ([]KernelArg, error) {
	kernelArgs := make([]KernelArg, 0, len(args))
	for _, arg := range args {
		switch {
		case arg.Int != nil:
			kernelArgs = append(kernelArgs, Int32Arg(int32(*arg.Int)))
		case arg.Float != nil:
			kernelArgs = append(kernelArgs, Float32Arg(float32(*arg.Float)))
		case arg.Array != nil:
			if err := arg.Array.LoadToGPU(t.card); err != nil {
				return nil, err
			}
			kernelArgs = append(kernelArgs, BufferArg(arg.Array.buffer))
		default:
			return nil, fmt.Errorf("unregistered argument variant")
		}
	}
	return kernelArgs, nil
}

// Run marshals the arguments and launches the named kernel function.
// Launch failure maps to the retryable no-free-GPU kind.
func (t *Task) Run(function string, args []Arg) error {
	kernelArgs, err := t.marshalArgs(args)
	if err != nil {
		return err
	}
	if err := t.program.Run(function, t.card.MaxGridSize(), kernelArgs); err != nil {
		return fmt.Errorf("%w: launch %s: %v", structs.ErrNoFreeGPU, function, err)
	}
	return nil
}

// ReleaseArgs frees every device buffer in the argument list.
func ReleaseArgs(args []Arg) {
	for _, arg := range args {
		if arg.Array != nil {
			arg.Array.Release()
		}
	}
}
