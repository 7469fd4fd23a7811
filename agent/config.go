// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package agent

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/hashicorp/go-hclog"
	multierror "github.com/hashicorp/go-multierror"
	"github.com/gstream/gstream/filestore"
	"github.com/gstream/gstream/store"
)

const (
	// DefaultMaxUserTasks is the per-user open task cap.
	DefaultMaxUserTasks = 2

	// DefaultMaxInputBytes caps the load-args request body.
	DefaultMaxInputBytes = 1024 * humanize.MiByte
)

// Config wires the HTTP server.
type Config struct {
	// Host and Port form the listen address.
	Host string
	Port int

	// Debug serves the API at the root instead of under /background and
	// lowers the log level.
	Debug bool

	// MaxUserTasks caps open tasks per user. The cap is exclusive: a
	// user holding exactly the cap may still create one more.
	MaxUserTasks int

	// MaxInputBytes caps the load-args body size.
	MaxInputBytes int64

	Store  *store.Store
	Files  *filestore.Store
	Logger hclog.Logger
}

// Validate reports every wiring problem at once.
func (c *Config) Validate() error {
	var mErr *multierror.Error
	if c.Host == "" {
		mErr = multierror.Append(mErr, errors.New("missing listen host"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		mErr = multierror.Append(mErr, fmt.Errorf("invalid listen port %d", c.Port))
	}
	if c.Store == nil {
		mErr = multierror.Append(mErr, errors.New("missing task store"))
	}
	if c.Files == nil {
		mErr = multierror.Append(mErr, errors.New("missing file store"))
	}
	return mErr.ErrorOrNil()
}

func (c *Config) maxUserTasks() int {
	if c.MaxUserTasks > 0 {
		return c.MaxUserTasks
	}
	return DefaultMaxUserTasks
}

func (c *Config) maxInputBytes() int64 {
	if c.MaxInputBytes > 0 {
		return c.MaxInputBytes
	}
	return DefaultMaxInputBytes
}
