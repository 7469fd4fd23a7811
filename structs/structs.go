// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package structs holds the task state model shared by the HTTP agent, the
// task pull and the GPU worker. The state record is stored as a single JSON
// blob per task in the task store; UserID and TaskID live in the store key
// and are re-joined on read, so they are excluded from the serialized form.
package structs

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-uuid"
)

// TaskType enumerates the kernel kinds the service can run.
type TaskType string

const (
	TaskTypeDelays   TaskType = "delays"
	TaskTypeLocation TaskType = "location"
	TaskTypeFault    TaskType = "fault"
)

// TaskTypes returns every known task type.
func TaskTypes() []TaskType {
	return []TaskType{TaskTypeDelays, TaskTypeLocation, TaskTypeFault}
}

// Valid reports whether t is a known task type.
func (t TaskType) Valid() bool {
	switch t {
	case TaskTypeDelays, TaskTypeLocation, TaskTypeFault:
		return true
	default:
		return false
	}
}

// TaskStatus is the total task lifecycle state.
type TaskStatus string

const (
	TaskStatusNew      TaskStatus = "new"
	TaskStatusReady    TaskStatus = "ready"
	TaskStatusRunning  TaskStatus = "running"
	TaskStatusFailed   TaskStatus = "failed"
	TaskStatusFinished TaskStatus = "finished"
	TaskStatusKilled   TaskStatus = "killed"
)

// Valid reports whether s is a known task status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusNew, TaskStatusReady, TaskStatusRunning,
		TaskStatusFailed, TaskStatusFinished, TaskStatusKilled:
		return true
	default:
		return false
	}
}

// Terminal reports whether a task in status s will never run again.
func (s TaskStatus) Terminal() bool {
	switch s {
	case TaskStatusFinished, TaskStatusFailed, TaskStatusKilled:
		return true
	default:
		return false
	}
}

// NoPID is the sentinel PID carried by tasks without a live subprocess.
const NoPID = -1

// TaskState is the central task record.
type TaskState struct {
	UserID string `json:"-"`
	TaskID string `json:"-"`

	Type             TaskType   `json:"Type"`
	Status           TaskStatus `json:"Status"`
	IsAccepted       bool       `json:"IsAccepted"`
	PID              int        `json:"PID"`
	IsNeedKill       bool       `json:"IsNeedKill"`
	ModifiedUnixTime int64      `json:"ModifiedUnixTime"`

	InitScriptFilename string `json:"InitScriptFilename"`
	InputArgsFilename  string `json:"InputArgumentsFilename"`
	OutputArgsFilename string `json:"OutputArgumentsFilename"`
	ScriptFilename     string `json:"ScriptFilename"`
}

// NewTaskState creates a record in status new with freshly generated task id
// and artifact filenames.
func NewTaskState(userID string, taskType TaskType) (*TaskState, error) {
	if !taskType.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTaskType, taskType)
	}

	taskID, err := uuid.GenerateUUID()
	if err != nil {
		return nil, err
	}

	names := make([]string, 4)
	for i := range names {
		if names[i], err = uuid.GenerateUUID(); err != nil {
			return nil, err
		}
	}

	return &TaskState{
		UserID:             userID,
		TaskID:             taskID,
		Type:               taskType,
		Status:             TaskStatusNew,
		PID:                NoPID,
		ModifiedUnixTime:   time.Now().Unix(),
		InitScriptFilename: names[0] + ".sh",
		InputArgsFilename:  names[1],
		OutputArgsFilename: names[2],
		ScriptFilename:     names[3] + ".sh",
	}, nil
}

// AllFilenames returns the full set of file store artifacts owned by the
// task. No task writes files outside this set.
func (t *TaskState) AllFilenames() []string {
	return []string{
		t.InputArgsFilename,
		t.ScriptFilename,
		t.OutputArgsFilename,
		t.InitScriptFilename,
	}
}

// Rollback returns the task to the launch queue after a retryable resource
// shortage.
func (t *TaskState) Rollback() {
	t.Status = TaskStatusReady
	t.PID = NoPID
}

// Touch refreshes the modification stamp. Every write through the task
// store calls this so ModifiedUnixTime is monotonic per task.
func (t *TaskState) Touch(now time.Time) {
	t.ModifiedUnixTime = now.Unix()
}

// Copy returns a deep copy of the record.
func (t *TaskState) Copy() *TaskState {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
