// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package gpu

// MemoryCoefficient caps how much of a memory pool admission may hand out.
const MemoryCoefficient = 0.95

// MB converts a megabyte count to bytes.
func MB(value int) uint64 {
	if value < 0 {
		return 0
	}
	return uint64(value) * 1024 * 1024
}

// MemoryInfo is a total/used snapshot of one memory pool, host RAM or a
// single GPU card. Volumes are bytes.
type MemoryInfo struct {
	Total uint64
	Used  uint64
}

// Permitted returns the volume admission may still hand out:
// max(0, total*K - used).
func (m MemoryInfo) Permitted() uint64 {
	permitted := int64(float64(m.Total)*MemoryCoefficient) - int64(m.Used)
	if permitted < 0 {
		return 0
	}
	return uint64(permitted)
}

// Free returns the unreserved volume.
func (m MemoryInfo) Free() uint64 {
	if m.Used > m.Total {
		return 0
	}
	return m.Total - m.Used
}

// MaxArraySize returns the longest 1-D array of the given element size the
// permitted volume can hold.
func (m MemoryInfo) MaxArraySize(elemSize int) uint64 {
	if elemSize <= 0 {
		return 0
	}
	return m.Permitted() / uint64(elemSize)
}
