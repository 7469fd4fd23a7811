// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package worker implements the per-task GPU process: verify the task is
// launchable, load its arguments, pass admission, run the kernel, write
// the result and finalize the state record. Resource shortages roll the
// task back to ready; everything else fails it.
package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/gstream/gstream/device/gpu"
	"github.com/gstream/gstream/filestore"
	"github.com/gstream/gstream/store"
	"github.com/gstream/gstream/structs"
)

// Config wires a worker process. Dependencies are passed explicitly.
type Config struct {
	TaskID string
	Store  *store.Store
	Files  *filestore.Store
	Rig    *gpu.Rig
	Logger hclog.Logger
}

// process is the base of every worker: store access, logging, the shared
// precondition checks and the terminal transitions.
type process struct {
	taskID string
	store  *store.Store
	files  *filestore.Store
	logger hclog.Logger
}

func newProcess(cfg *Config) *process {
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &process{
		taskID: cfg.TaskID,
		store:  cfg.Store,
		files:  cfg.Files,
		logger: logger.Named("worker").With("task_id", cfg.TaskID),
	}
}

func (p *process) addLog(ctx context.Context, message string) {
	if err := p.store.AddLogMessage(ctx, p.taskID, message); err != nil {
		p.logger.Warn("log append failed", "error", err)
	}
}

func (p *process) taskState(ctx context.Context) (*structs.TaskState, error) {
	return p.store.GetTaskState(ctx, p.taskID)
}

// isReadyForRunning checks the launch preconditions: status ready, input
// blob and launcher script present.
func (p *process) isReadyForRunning(ctx context.Context) (bool, error) {
	state, err := p.taskState(ctx)
	if err != nil {
		return false, err
	}
	if state.Status != structs.TaskStatusReady {
		return false, nil
	}
	if !p.files.IsFileExist(state.InputArgsFilename) {
		return false, nil
	}
	if !p.files.IsFileExist(state.ScriptFilename) {
		return false, nil
	}
	return true, nil
}

// finalize inspects the result file and writes the terminal status.
func (p *process) finalize(ctx context.Context) error {
	state, err := p.taskState(ctx)
	if err != nil {
		return err
	}

	if p.files.IsFileExist(state.OutputArgsFilename) {
		state.Status = structs.TaskStatusFinished
		p.addLog(ctx, "Task successfully completed")
	} else {
		state.Status = structs.TaskStatusFailed
		p.addLog(ctx, "Failed task processing")
	}

	if err := p.store.UpdateTaskState(ctx, p.taskID, state); err != nil {
		return err
	}
	p.addLog(ctx, "Task was closed")
	return nil
}

// rollback returns the task to ready with no pid so the pull relaunches it
// once capacity returns.
func (p *process) rollback(ctx context.Context) error {
	state, err := p.taskState(ctx)
	if err != nil {
		return err
	}
	state.Rollback()
	return p.store.UpdateTaskState(ctx, p.taskID, state)
}

// fail writes the failed status after an unrecoverable error.
func (p *process) fail(ctx context.Context, cause error) error {
	p.addLog(ctx, fmt.Sprintf("Error in task with id %s: exception %v", p.taskID, cause))

	state, err := p.taskState(ctx)
	if err != nil {
		return err
	}
	state.Status = structs.TaskStatusFailed
	return p.store.UpdateTaskState(ctx, p.taskID, state)
}

// runner is the task-type-specific part of a worker.
type runner interface {
	// run loads arguments, acquires resources and produces the result
	// file. Retryable resource errors bubble up unwrapped.
	run(ctx context.Context) error

	// release frees any device resources run acquired.
	release(ctx context.Context)
}

// Run executes the whole worker lifecycle for the task.
func Run(ctx context.Context, cfg *Config) error {
	p := newProcess(cfg)

	exists, err := p.store.IsTaskExist(ctx, cfg.TaskID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: %s", structs.ErrTaskNotFound, cfg.TaskID)
	}

	ready, err := p.isReadyForRunning(ctx)
	if err != nil {
		return err
	}
	if !ready {
		return fmt.Errorf("%w: %s", structs.ErrTaskNotReady, cfg.TaskID)
	}

	state, err := p.taskState(ctx)
	if err != nil {
		return err
	}

	var r runner
	switch state.Type {
	case structs.TaskTypeDelays:
		r = newDelaysFinder(p, cfg.Rig)
	default:
		err := fmt.Errorf("no worker registered for task type %q", state.Type)
		return errors.Join(err, p.fail(ctx, err))
	}

	p.addLog(ctx, "Task running...")

	if err := r.run(ctx); err != nil {
		if structs.IsRetryable(err) {
			p.logger.Info("resource shortage, rolling back", "error", err)
			return p.rollback(ctx)
		}
		p.logger.Error("task failed", "error", err)
		return p.fail(ctx, err)
	}
	r.release(ctx)

	return p.finalize(ctx)
}
