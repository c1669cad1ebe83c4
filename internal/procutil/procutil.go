// Copyright The TrustTunnel Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package procutil holds small process-tree utilities used by the
// ProcessManager: finding a process's children from /proc
// and terminating a process group with a grace period before SIGKILL.
package procutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// Process is one entry of the process table, as parsed from /proc/$pid/stat.
type Process struct {
	PID  int
	PPID int
	Name string
}

// ListProcesses reads /proc and returns every process's pid, parent pid, and
// name.
func ListProcesses() ([]*Process, error) {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil, fmt.Errorf("read /proc: %w", err)
	}

	var processes []*Process

	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		pid, err := strconv.Atoi(entry.Name())
		if err != nil {
			continue
		}

		stat, err := os.ReadFile(filepath.Join("/proc", entry.Name(), "stat"))
		if err != nil {
			continue
		}

		fields := strings.Fields(string(stat))
		if len(fields) < 4 {
			continue
		}

		ppid, err := strconv.Atoi(fields[3])
		if err != nil {
			continue
		}

		processes = append(processes, &Process{
			PID:  pid,
			PPID: ppid,
			Name: strings.Trim(fields[1], "()"),
		})
	}

	return processes, nil
}

// ChildPIDs returns every direct and indirect child of parentPID.
func ChildPIDs(parentPID int, processes []*Process) []int {
	var pids []int

	for _, p := range processes {
		if p.PPID == parentPID {
			pids = append(pids, p.PID)
			pids = append(pids, ChildPIDs(p.PID, processes)...)
		}
	}

	return pids
}

// Signal sends sig to pid, ignoring an "already finished" race.
func Signal(pid int, sig syscall.Signal) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return err
	}

	if err := proc.Signal(sig); err != nil {
		if strings.Contains(err.Error(), "process already finished") {
			return nil
		}

		return err
	}

	return nil
}

// Alive reports whether pid still exists, via a signal-0 probe.
func Alive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	return proc.Signal(syscall.Signal(0)) == nil
}

// KillGroup sends SIGTERM to pid and its full descendant tree, waits up to
// grace for it to exit, then SIGKILLs any survivors. It is used for
// background-process kills; session teardown (shell.Driver.Close) does not
// use it.
func KillGroup(pid int, grace time.Duration) error {
	if err := Signal(pid, syscall.SIGTERM); err != nil {
		return err
	}

	processes, err := ListProcesses()
	if err == nil {
		for _, child := range ChildPIDs(pid, processes) {
			Signal(child, syscall.SIGTERM)
		}
	}

	deadline := time.After(grace)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-deadline:
			Signal(pid, syscall.SIGKILL)

			if processes, err := ListProcesses(); err == nil {
				for _, child := range ChildPIDs(pid, processes) {
					Signal(child, syscall.SIGKILL)
				}
			}

			return nil
		case <-ticker.C:
			if !Alive(pid) {
				return nil
			}
		}
	}
}
