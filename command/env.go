// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package command

import (
	"fmt"
	"os"
	"strconv"

	"github.com/hashicorp/go-hclog"
	multierror "github.com/hashicorp/go-multierror"
	"github.com/joho/godotenv"
	"github.com/gstream/gstream/filestore"
	"github.com/gstream/gstream/store"
)

// envConfig is the process configuration read from the environment. Every
// command shares the same variable set; missing required variables are a
// fatal startup error.
type envConfig struct {
	AppHost     string
	AppPort     int
	StorageRoot string

	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDBIndex  int

	Debug bool
}

// loadEnvConfig reads the environment after a best-effort .env load.
func loadEnvConfig() (*envConfig, error) {
	godotenv.Load()

	var mErr *multierror.Error
	c := &envConfig{
		AppHost:       requireVar(&mErr, "APP_HOST"),
		AppPort:       requireIntVar(&mErr, "APP_PORT"),
		StorageRoot:   requireVar(&mErr, "STORAGE_ROOT"),
		RedisHost:     requireVar(&mErr, "REDIS_HOST"),
		RedisPort:     requireIntVar(&mErr, "REDIS_PORT"),
		RedisPassword: requireVar(&mErr, "REDIS_PASSWORD"),
		RedisDBIndex:  requireIntVar(&mErr, "REDIS_DB_INDEX"),
	}

	// IS_DEBUG is the one optional variable; anything that does not
	// parse as a non-zero integer means production mode.
	if raw, ok := os.LookupEnv("IS_DEBUG"); ok {
		if v, err := strconv.Atoi(raw); err == nil && v != 0 {
			c.Debug = true
		}
	}

	if err := mErr.ErrorOrNil(); err != nil {
		return nil, err
	}
	return c, nil
}

func requireVar(mErr **multierror.Error, name string) string {
	value, ok := os.LookupEnv(name)
	if !ok {
		*mErr = multierror.Append(*mErr, fmt.Errorf("missing required environment variable %s", name))
	}
	return value
}

func requireIntVar(mErr **multierror.Error, name string) int {
	raw := requireVar(mErr, name)
	if raw == "" {
		return 0
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		*mErr = multierror.Append(*mErr, fmt.Errorf("environment variable %s is not an integer: %q", name, raw))
	}
	return value
}

// openStore dials Redis and wraps it in the task store.
func (c *envConfig) openStore(logger hclog.Logger) *store.Store {
	kv := store.NewRedisKV(&store.RedisConfig{
		Host:     c.RedisHost,
		Port:     c.RedisPort,
		Password: c.RedisPassword,
		DBIndex:  c.RedisDBIndex,
	})
	return store.New(kv, &store.Config{Logger: logger})
}

// openFiles opens the shared artifact directory.
func (c *envConfig) openFiles(logger hclog.Logger) (*filestore.Store, error) {
	return filestore.New(c.StorageRoot, logger)
}
