// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

//go:build !windows

package pull

import (
	"os/exec"
	"syscall"
)

// spawnScript starts scriptPath in its own session so the worker outlives
// a pull restart, releases the handle, and returns the pid. The kill loop
// reaps it through the process table, not through Wait.
func spawnScript(scriptPath string) (int, error) {
	cmd := exec.Command(scriptPath)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		return 0, err
	}
	return pid, nil
}
