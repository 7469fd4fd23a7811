// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package pull implements the task scheduler: six cooperating loops plus
// one run loop per task type, all polling the task store at a fixed
// cadence. Scan loops enqueue observations; consumer loops re-read state
// before acting, so duplicate or stale enqueues are harmless.
package pull

import (
	"context"
	"time"

	"github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"
	"github.com/gstream/gstream/device/gpu"
	"github.com/gstream/gstream/filestore"
	"github.com/gstream/gstream/store"
	"github.com/gstream/gstream/structs"
	"golang.org/x/sync/errgroup"
	"oss.indeed.com/go/libtime"
)

const (
	// DefaultSleep is the poll cadence of every loop.
	DefaultSleep = 10 * time.Second

	// defaultQueueDepth bounds the pending queues. Scans re-enqueue on
	// every cycle, so a dropped observation is only deferred.
	defaultQueueDepth = 1024
)

// SpawnFunc launches a launcher script as a detached subprocess and
// returns its pid.
type SpawnFunc func(scriptPath string) (int, error)

// Config wires a Pull.
type Config struct {
	Store  *store.Store
	Files  *filestore.Store
	Rig    *gpu.Rig
	Logger hclog.Logger
	Clock  libtime.Clock

	// Sleep overrides the poll cadence.
	Sleep time.Duration

	// Spawn overrides subprocess launching.
	Spawn SpawnFunc

	// Processes overrides OS process inspection.
	Processes ProcessAPI
}

// Pull is the scheduler daemon.
type Pull struct {
	store  *store.Store
	files  *filestore.Store
	rig    *gpu.Rig
	logger hclog.Logger
	clock  libtime.Clock
	sleep  time.Duration

	spawn SpawnFunc
	procs ProcessAPI

	killQueue     chan string
	acceptedQueue chan string
	readyIndex    map[structs.TaskType]chan string
}

// New builds a Pull from the config.
func New(cfg *Config) *Pull {
	logger := cfg.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = libtime.SystemClock()
	}
	sleep := cfg.Sleep
	if sleep == 0 {
		sleep = DefaultSleep
	}
	spawn := cfg.Spawn
	if spawn == nil {
		spawn = spawnScript
	}
	procs := cfg.Processes
	if procs == nil {
		procs = OSProcesses()
	}

	readyIndex := make(map[structs.TaskType]chan string, len(structs.TaskTypes()))
	for _, taskType := range structs.TaskTypes() {
		readyIndex[taskType] = make(chan string, defaultQueueDepth)
	}

	return &Pull{
		store:         cfg.Store,
		files:         cfg.Files,
		rig:           cfg.Rig,
		logger:        logger.Named("task_pull"),
		clock:         clock,
		sleep:         sleep,
		spawn:         spawn,
		procs:         procs,
		readyIndex:    readyIndex,
		killQueue:     make(chan string, defaultQueueDepth),
		acceptedQueue: make(chan string, defaultQueueDepth),
	}
}

// Run drives every loop until the context is cancelled. Loops stop
// between polls; in-flight subprocesses are left running, the store TTLs
// and the file sync loop reclaim whatever they leave behind.
func (p *Pull) Run(ctx context.Context) error {
	p.logger.Info("task pull starting", "sleep", p.sleep,
		"cpu_cores", p.rig.CPUCores(), "gpu_cards", p.rig.CardsCount())

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return p.loop(ctx, "sync_files", p.syncFileStorage) })
	group.Go(func() error { return p.loop(ctx, "scan_killing", p.scanKillingTasks) })
	group.Go(func() error { return p.loop(ctx, "scan_ready", p.scanReadyTasks) })
	group.Go(func() error { return p.loop(ctx, "scan_accepted", p.scanAcceptedTasks) })
	group.Go(func() error { return p.loop(ctx, "kill_tasks", p.killTasks) })
	group.Go(func() error { return p.loop(ctx, "remove_tasks", p.removeTasks) })

	for taskType, queue := range p.readyIndex {
		group.Go(func() error {
			return p.loop(ctx, "run_tasks."+string(taskType), func(ctx context.Context) {
				p.runNextTask(ctx, queue)
			})
		})
	}

	err := group.Wait()
	p.logger.Info("task pull stopped")
	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}

// loop invokes fn once per cadence until cancellation. Panics are the
// caller's problem; fn must log and swallow its own errors so one bad
// cycle never stops the loop.
func (p *Pull) loop(ctx context.Context, name string, fn func(ctx context.Context)) error {
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		}

		start := p.clock.Now()
		fn(ctx)
		metrics.MeasureSince([]string{"pull", name, "cycle"}, start)

		timer.Reset(p.sleep)
	}
}

// enqueue performs a non-blocking send. A full queue drops the
// observation; the next scan cycle repeats it.
func (p *Pull) enqueue(queue chan string, taskID string) {
	select {
	case queue <- taskID:
	default:
	}
}
