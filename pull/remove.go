// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package pull

import (
	"context"

	metrics "github.com/hashicorp/go-metrics"
)

// removeTasks consumes one accepted task per cycle.
func (p *Pull) removeTasks(ctx context.Context) {
	select {
	case taskID := <-p.acceptedQueue:
		p.removeTask(ctx, taskID)
	default:
	}
}

// removeTask garbage-collects an accepted task: the store record, the log
// and every artifact file.
func (p *Pull) removeTask(ctx context.Context, taskID string) {
	state, err := p.store.GetTaskState(ctx, taskID)
	if err != nil {
		return
	}
	if !state.IsAccepted {
		return
	}

	if err := p.store.RemoveTask(ctx, taskID); err != nil {
		p.logger.Error("remove: store delete failed", "task_id", taskID, "error", err)
		return
	}
	if err := p.files.RemoveFiles(state.AllFilenames()...); err != nil {
		p.logger.Error("remove: file delete failed", "task_id", taskID, "error", err)
		return
	}
	metrics.IncrCounter([]string{"pull", "tasks_removed"}, 1)
	p.logger.Info("accepted task removed", "task_id", taskID, "user_id", state.UserID)
}
