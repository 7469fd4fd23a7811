// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

// Package command implements the gstream CLI subcommands.
package command

import (
	"github.com/hashicorp/cli"
	"github.com/hashicorp/go-hclog"
)

// Meta contains the options common to every command.
type Meta struct {
	Ui cli.Ui
}

// setupLogger builds the process root logger. Debug deployments log at
// debug level.
func (m *Meta) setupLogger(debug bool) hclog.Logger {
	level := hclog.Info
	if debug {
		level = hclog.Debug
	}
	return hclog.New(&hclog.LoggerOptions{
		Name:  "gstream",
		Level: level,
	})
}
