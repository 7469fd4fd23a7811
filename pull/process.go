// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: BUSL-1.1

package pull

import (
	"slices"

	"github.com/shirou/gopsutil/v3/process"
)

// ProcessAPI resolves task pids to live OS processes.
type ProcessAPI interface {
	// Find returns the process for pid, or false if no such process.
	Find(pid int) (Process, bool)
}

// Process is the slice of OS process state the kill loop needs.
type Process interface {
	IsRunning() bool
	IsZombie() bool
	Kill() error
}

// osProcesses is the gopsutil-backed ProcessAPI.
type osProcesses struct{}

// OSProcesses returns the production ProcessAPI.
func OSProcesses() ProcessAPI {
	return osProcesses{}
}

func (osProcesses) Find(pid int) (Process, bool) {
	proc, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil, false
	}
	return &osProcess{proc: proc}, true
}

type osProcess struct {
	proc *process.Process
}

func (p *osProcess) IsRunning() bool {
	running, err := p.proc.IsRunning()
	return err == nil && running
}

func (p *osProcess) IsZombie() bool {
	statuses, err := p.proc.Status()
	if err != nil {
		return false
	}
	return slices.Contains(statuses, process.Zombie)
}

func (p *osProcess) Kill() error {
	return p.proc.Kill()
}
