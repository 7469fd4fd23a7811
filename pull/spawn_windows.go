// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

//go:build windows

package pull

import (
	"os/exec"
)

// spawnScript starts scriptPath detached and returns the pid.
func spawnScript(scriptPath string) (int, error) {
	cmd := exec.Command(scriptPath)
	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		return 0, err
	}
	return pid, nil
}
