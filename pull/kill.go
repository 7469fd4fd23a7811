// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package pull

import (
	"context"

	metrics "github.com/hashicorp/go-metrics"
	"github.com/gstream/gstream/structs"
)

// killTasks consumes one kill intent per cycle.
func (p *Pull) killTasks(ctx context.Context) {
	select {
	case taskID := <-p.killQueue:
		p.killTask(ctx, taskID)
	default:
	}
}

// killTask enacts a kill intent. The state is re-read on dequeue: the
// task may be gone, or the intent withdrawn, since the scan observed it.
func (p *Pull) killTask(ctx context.Context, taskID string) {
	state, err := p.store.GetTaskState(ctx, taskID)
	if err != nil {
		return
	}
	if !state.IsNeedKill {
		return
	}

	// Without a live subprocess there is nothing to signal.
	if state.PID == structs.NoPID {
		p.markKilled(ctx, state)
		return
	}

	proc, ok := p.procs.Find(state.PID)
	if !ok {
		p.markKilled(ctx, state)
		return
	}

	if proc.IsRunning() && !proc.IsZombie() {
		if err := proc.Kill(); err != nil {
			p.logger.Error("kill failed", "task_id", taskID, "pid", state.PID, "error", err)
		}
	}
	if proc.IsZombie() {
		p.markKilled(ctx, state)
	}
}

func (p *Pull) markKilled(ctx context.Context, state *structs.TaskState) {
	state.Status = structs.TaskStatusKilled
	if err := p.store.UpdateTaskState(ctx, state.TaskID, state); err != nil {
		p.logger.Error("kill: state write failed", "task_id", state.TaskID, "error", err)
		return
	}
	if err := p.store.AddLogMessage(ctx, state.TaskID, "Task was killed"); err != nil {
		p.logger.Warn("kill: log append failed", "task_id", state.TaskID, "error", err)
	}
	metrics.IncrCounter([]string{"pull", "tasks_killed"}, 1)
	p.logger.Info("task killed", "task_id", state.TaskID, "pid", state.PID)
}
