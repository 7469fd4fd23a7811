// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package command

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gstream/gstream/device/gpu"
	"github.com/gstream/gstream/worker"
)

// WorkerCommand runs one task to completion on this host's GPU rig. It
// is normally started by a launcher script, not by hand.
type WorkerCommand struct {
	Meta
}

func (c *WorkerCommand) Help() string {
	helpText := `
Usage: gstream worker -task-id <id>

  Runs a single task: loads its input arguments, acquires a GPU card,
  executes the kernel, writes the result and finalizes the task state.
  Configuration comes from the environment (see 'gstream agent').
`
	return strings.TrimSpace(helpText)
}

func (c *WorkerCommand) Synopsis() string {
	return "Run a single task on the GPU rig"
}

func (c *WorkerCommand) Name() string { return "worker" }

func (c *WorkerCommand) Run(args []string) int {
	flags := flag.NewFlagSet(c.Name(), flag.ContinueOnError)
	flags.Usage = func() { c.Ui.Output(c.Help()) }
	taskID := flags.String("task-id", "", "id of the task to run")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if *taskID == "" {
		c.Ui.Error("Missing required flag -task-id")
		return 1
	}

	cfg, err := loadEnvConfig()
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Invalid configuration: %v", err))
		return 1
	}

	logger := c.setupLogger(cfg.Debug).With("task_id", *taskID)

	taskStore := cfg.openStore(logger)
	defer taskStore.Close()

	files, err := cfg.openFiles(logger)
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Failed to open file storage: %v", err))
		return 1
	}

	rig, err := gpu.NewRig(&gpu.RigConfig{Logger: logger})
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Failed to inventory GPU rig: %v", err))
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := worker.Run(ctx, &worker.Config{
		TaskID: *taskID,
		Store:  taskStore,
		Files:  files,
		Rig:    rig,
		Logger: logger,
	}); err != nil {
		logger.Error("worker failed", "error", err)
		return 1
	}
	return 0
}
