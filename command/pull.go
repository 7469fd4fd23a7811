// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package command

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gstream/gstream/device/gpu"
	"github.com/gstream/gstream/pull"
)

// PullCommand runs the scheduler daemon.
type PullCommand struct {
	Meta
}

func (c *PullCommand) Help() string {
	helpText := `
Usage: gstream pull

  Starts the task scheduler. It discovers ready tasks in the shared
  store, launches their scripts under host capacity limits, enacts kill
  intents, removes accepted tasks and reconciles the artifact directory.
  Configuration comes from the environment (see 'gstream agent').
`
	return strings.TrimSpace(helpText)
}

func (c *PullCommand) Synopsis() string {
	return "Run the task scheduler"
}

func (c *PullCommand) Name() string { return "pull" }

func (c *PullCommand) Run(args []string) int {
	cfg, err := loadEnvConfig()
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Invalid configuration: %v", err))
		return 1
	}

	logger := c.setupLogger(cfg.Debug)

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

	daemon := pull.New(&pull.Config{
		Store:  taskStore,
		Files:  files,
		Rig:    rig,
		Logger: logger,
	})
	if err := daemon.Run(ctx); err != nil {
		c.Ui.Error(fmt.Sprintf("Scheduler failed: %v", err))
		return 1
	}
	return 0
}
