// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package pull

import (
	"context"

	metrics "github.com/hashicorp/go-metrics"
	"github.com/gstream/gstream/structs"
)

// runNextTask admits at most one ready task from queue per cycle. A task
// that fails admission stays ready; the next scan re-enqueues it.
func (p *Pull) runNextTask(ctx context.Context, queue chan string) {
	var taskID string
	select {
	case taskID = <-queue:
	default:
		return
	}

	if !p.admitTask(ctx) {
		return
	}

	state, err := p.store.GetTaskState(ctx, taskID)
	if err != nil {
		return
	}
	// The queue entry is a stale observation if the task moved on, lost
	// its kill race, or its artifacts expired since the scan.
	if state.Status != structs.TaskStatusReady || state.IsNeedKill {
		return
	}
	if !p.files.IsFileExist(state.InputArgsFilename) {
		return
	}
	if !p.files.IsFileExist(state.ScriptFilename) {
		return
	}

	pid, err := p.spawn(p.files.Path(state.ScriptFilename))
	if err != nil {
		p.logger.Error("run: spawn failed", "task_id", taskID, "error", err)
		return
	}

	state.PID = pid
	state.Status = structs.TaskStatusRunning
	if err := p.store.UpdateTaskState(ctx, taskID, state); err != nil {
		p.logger.Error("run: state write failed", "task_id", taskID, "pid", pid, "error", err)
		return
	}
	metrics.IncrCounter([]string{"pull", "tasks_started"}, 1)
	p.logger.Info("task started", "task_id", taskID, "type", state.Type, "pid", pid)
}

// admitTask gates launches on host capacity: one active task per CPU
// core, and some host RAM budget left. Per-card GPU admission happens
// inside the worker, which rolls the task back to ready when it loses.
func (p *Pull) admitTask(ctx context.Context) bool {
	active, err := p.store.ActiveTaskIDs(ctx)
	if err != nil {
		p.logger.Error("run: active task enumeration failed", "error", err)
		return false
	}
	if len(active) >= p.rig.CPUCores() {
		return false
	}
	if !p.rig.IsAvailableRAMMemory() {
		return false
	}
	return true
}
