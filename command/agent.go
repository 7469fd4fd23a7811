// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package command

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gstream/gstream/agent"
)

// AgentCommand runs the HTTP API process.
type AgentCommand struct {
	Meta
}

func (c *AgentCommand) Help() string {
	helpText := `
Usage: gstream agent

  Starts the task API server. The listen address, the artifact directory
  and the Redis connection are read from the environment (APP_HOST,
  APP_PORT, STORAGE_ROOT, REDIS_HOST, REDIS_PORT, REDIS_PASSWORD,
  REDIS_DB_INDEX, IS_DEBUG). A .env file in the working directory is
  loaded first.
`
	return strings.TrimSpace(helpText)
}

func (c *AgentCommand) Synopsis() string {
	return "Run the task API server"
}

func (c *AgentCommand) Name() string { return "agent" }

func (c *AgentCommand) Run(args []string) int {
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

	srv, err := agent.NewHTTPServer(&agent.Config{
		Host:   cfg.AppHost,
		Port:   cfg.AppPort,
		Debug:  cfg.Debug,
		Store:  taskStore,
		Files:  files,
		Logger: logger,
	})
	if err != nil {
		c.Ui.Error(fmt.Sprintf("Failed to start HTTP server: %v", err))
		return 1
	}
	c.Ui.Output("API server listening on " + srv.Addr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	srv.Shutdown()
	return 0
}
