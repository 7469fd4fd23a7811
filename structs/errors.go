// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package structs

import "errors"

var (
	// ErrTaskNotFound is returned when a task id matches no store record.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskExists is returned on create when the task id is taken.
	ErrTaskExists = errors.New("task already exists")

	// ErrInvalidTaskType is returned for task types outside the enum.
	ErrInvalidTaskType = errors.New("task type is invalid")

	// ErrTaskNotReady is returned by the worker when launch preconditions
	// do not hold.
	ErrTaskNotReady = errors.New("task is not ready for running")

	// ErrNoFreeGPU marks a retryable GPU shortage. The worker rolls the
	// task back to ready instead of failing it.
	ErrNoFreeGPU = errors.New("all GPU cards are busy now")

	// ErrNoFreeRAM marks a retryable host memory shortage.
	ErrNoFreeRAM = errors.New("no free RAM size")

	// ErrCardNotFound is returned for GPU lookups by unknown uuid or bus id.
	ErrCardNotFound = errors.New("GPU card not found")
)

// IsRetryable reports whether err is a resource shortage that should roll
// the task back to ready rather than fail it.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrNoFreeGPU) || errors.Is(err, ErrNoFreeRAM)
}
