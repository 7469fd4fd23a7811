// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package gpu

import (
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/gstream/gstream/structs"
)

// Card joins one runtime device with its vendor inventory entry. Identity
// is by uuid.
type Card struct {
	device Device
	rig    *Rig
	uuid   string
	busID  int
	logger hclog.Logger
}

// newCard resolves the device's inventory entry by bus id.
func newCard(device Device, rig *Rig, logger hclog.Logger) (*Card, error) {
	busID, err := device.BusID()
	if err != nil {
		return nil, err
	}
	info, err := rig.cardInfo(busID)
	if err != nil {
		return nil, err
	}
	return &Card{
		device: device,
		rig:    rig,
		uuid:   info.UUID,
		busID:  busID,
		logger: logger.With("uuid", info.UUID),
	}, nil
}

// UUID returns the vendor uuid.
func (c *Card) UUID() string {
	return c.uuid
}

// BusID returns the PCI bus id.
func (c *Card) BusID() int {
	return c.busID
}

// Device returns the underlying runtime device.
func (c *Card) Device() Device {
	return c.device
}

// Equal compares cards by uuid.
func (c *Card) Equal(o *Card) bool {
	if c == nil || o == nil {
		return c == o
	}
	return c.uuid == o.uuid
}

// MemoryInfo returns the card's current memory snapshot from the vendor
// inventory.
func (c *Card) MemoryInfo() (MemoryInfo, error) {
	info, err := c.rig.cardInfo(c.busID)
	if err != nil {
		return MemoryInfo{}, err
	}
	return info.Memory, nil
}

// IsFree reports whether the card has admission headroom.
func (c *Card) IsFree() bool {
	info, err := c.MemoryInfo()
	if err != nil {
		return false
	}
	return info.Permitted() > 0
}

// MaxGridSize returns the execution grid used for kernel launches.
func (c *Card) MaxGridSize() []int {
	return c.device.MaxWorkItemSizes()
}

// MaxBlockSize returns the work group size limit.
func (c *Card) MaxBlockSize() int {
	return c.device.MaxWorkGroupSize()
}

// WarpSize returns the device warp width.
func (c *Card) WarpSize() int {
	return c.device.WarpSize()
}

// GridCellsCount returns the product of the grid dimensions.
func (c *Card) GridCellsCount() int {
	count := 1
	for _, dim := range c.MaxGridSize() {
		count *= dim
	}
	return count
}

// Compile builds kernel source for this card.
func (c *Card) Compile(source string) (Program, error) {
	program, err := c.device.Compile(source)
	if err != nil {
		return nil, fmt.Errorf("compile on card %s: %w", c.uuid, err)
	}
	return program, nil
}

// allocate creates a device buffer, mapping allocation failure to the
// retryable no-free-GPU kind.
func (c *Card) allocate(flag BufferFlag, size int, host []byte) (Buffer, error) {
	buffer, err := c.device.CreateBuffer(flag, size, host)
	if err != nil {
		c.logger.Debug("buffer allocation failed", "size", size, "error", err)
		return nil, structs.ErrNoFreeGPU
	}
	return buffer, nil
}
