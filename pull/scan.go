// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package pull

import (
	"context"

	metrics "github.com/hashicorp/go-metrics"
	"github.com/gstream/gstream/structs"
)

// syncFileStorage reconciles the file store against the task store: any
// artifact no task references is deleted. Store keys expire under TTL, so
// this is what ultimately reclaims the files of vanished tasks. Files
// younger than one cadence are left alone to not race a concurrent
// load-args whose state write has not landed yet.
func (p *Pull) syncFileStorage(ctx context.Context) {
	known, err := p.store.AllFilenames(ctx)
	if err != nil {
		p.logger.Error("file sync: store enumeration failed", "error", err)
		return
	}
	present, err := p.files.AllFilenames()
	if err != nil {
		p.logger.Error("file sync: file store enumeration failed", "error", err)
		return
	}

	for filename := range present.Items() {
		if known.Contains(filename) {
			continue
		}
		if modified, err := p.files.ModTime(filename); err == nil {
			if p.clock.Now().Sub(modified) < p.sleep {
				continue
			}
		}
		if err := p.files.RemoveFile(filename); err != nil {
			p.logger.Error("file sync: remove failed", "filename", filename, "error", err)
			continue
		}
		metrics.IncrCounter([]string{"pull", "files_reclaimed"}, 1)
		p.logger.Debug("reclaimed orphan file", "filename", filename)
	}
}

// scanKillingTasks enqueues every task carrying a kill intent that has not
// been enacted yet.
func (p *Pull) scanKillingTasks(ctx context.Context) {
	p.scanTasks(ctx, func(state *structs.TaskState) {
		if state.Status == structs.TaskStatusKilled {
			return
		}
		if !state.IsNeedKill {
			return
		}
		p.enqueue(p.killQueue, state.TaskID)
	})
}

// scanReadyTasks indexes every ready task under its type's run queue.
func (p *Pull) scanReadyTasks(ctx context.Context) {
	p.scanTasks(ctx, func(state *structs.TaskState) {
		if state.Status != structs.TaskStatusReady {
			return
		}
		queue, ok := p.readyIndex[state.Type]
		if !ok {
			p.logger.Warn("ready task of unknown type", "task_id", state.TaskID, "type", state.Type)
			return
		}
		p.enqueue(queue, state.TaskID)
	})
}

// scanAcceptedTasks enqueues every task the client has accepted.
func (p *Pull) scanAcceptedTasks(ctx context.Context) {
	p.scanTasks(ctx, func(state *structs.TaskState) {
		if !state.IsAccepted {
			return
		}
		p.enqueue(p.acceptedQueue, state.TaskID)
	})
}

// scanTasks reads every task state and hands it to fn. Read failures are
// skipped: keys expire between enumeration and read.
func (p *Pull) scanTasks(ctx context.Context, fn func(state *structs.TaskState)) {
	taskIDs, err := p.store.AllTaskIDs(ctx)
	if err != nil {
		p.logger.Error("scan: task enumeration failed", "error", err)
		return
	}

	for _, taskID := range taskIDs {
		state, err := p.store.GetTaskState(ctx, taskID)
		if err != nil {
			continue
		}
		fn(state)
	}
}
