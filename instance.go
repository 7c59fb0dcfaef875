// Copyright 2026 The Yprocmon Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package yprocmon

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"time"
)

// Status is the derived state of an instance, as tracked by the Registry.
type Status string

const (
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusExited   Status = "exited"
)

// LaunchInfo is the bundle of launch details needed to later signal or
// inspect a process.
type LaunchInfo struct {
	Path         string    `json:"path"`
	Args         []string  `json:"args"`
	Pgid         int       `json:"pgid"`
	Started      time.Time `json:"started"`
	Instrumenter string    `json:"instrumenter"`
	Suspended    bool      `json:"suspended"`
}

// ExitResult describes how a process ended.
type ExitResult struct {
	Code  int
	Time  time.Time
	Error string
}

// Instance is one process launched and tracked by yprocmon.  The identity
// fields never change once the Launcher hands the Instance back.  Once
// inserted into a Registry, the Registry owns it.
type Instance struct {
	PID     int
	Name    string
	Command string
	Launch  LaunchInfo

	proc   *os.Process
	log    *Log
	done   chan struct{}
	result ExitResult
}

// NewInstance describes a process that yprocmon did not start itself.
// Such an instance can be registered and stopped, but its exit is not
// observed and it has no captured output.
func NewInstance(pid int, name string, command string) *Instance {
	if command == "" {
		command = name
	}
	return &Instance{
		PID:     pid,
		Name:    name,
		Command: command,
		Launch: LaunchInfo{
			Args:    []string{},
			Started: time.Now(),
		},
		log: NewLog(MaxLogRecords),
	}
}

// Done returns a channel that is closed when the process has exited.  It
// is nil for instances that were not started by a Launcher.
func (i *Instance) Done() <-chan struct{} {
	return i.done
}

// Result returns the exit result.  It is only meaningful after Done is
// closed.
func (i *Instance) Result() ExitResult {
	return i.result
}

// Log returns the captured stdout and stderr of the process.
func (i *Instance) Log() *Log {
	return i.log
}

// Signal delivers sig to the process group of the instance, or to the
// process alone when it has no group of its own.
func (i *Instance) Signal(sig syscall.Signal) error {
	if i.Launch.Pgid > 0 {
		return signalGroup(i.Launch.Pgid, sig)
	}
	if i.proc != nil {
		return i.proc.Signal(sig)
	}
	p, err := os.FindProcess(i.PID)
	if err != nil {
		return err
	}
	return p.Signal(sig)
}

func (i *Instance) exited() bool {
	if i.done == nil {
		return false
	}
	select {
	case <-i.done:
		return true
	default:
		return false
	}
}

// stop asks the process to terminate, and kills it if it has not gone
// away after the grace period (or when ctx is done first).
func (i *Instance) stop(ctx context.Context, grace time.Duration) error {
	if i.exited() {
		return nil
	}
	err := i.Signal(syscall.SIGTERM)
	if i.done == nil {
		// Not our child, so there is nothing to wait on.
		if err != nil {
			return fmt.Errorf("%w: %v", ErrNotRunning, err)
		}
		return nil
	}
	if grace <= 0 {
		grace = DefaultStopTime
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-i.done:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}
	i.kill()
	select {
	case <-i.done:
		return nil
	case <-time.After(time.Second * 5):
		return fmt.Errorf("instance %d did not exit after SIGKILL", i.PID)
	}
}

func (i *Instance) kill() {
	if err := i.Signal(syscall.SIGKILL); err != nil && i.proc != nil {
		i.proc.Kill()
	}
}

// InstanceInfo is the serialized form of an instance, as handed out by
// Registry snapshots.  It is a plain value and safe to keep after the
// registry lock is released.
type InstanceInfo struct {
	PID          int        `json:"pid"`
	Name         string     `json:"name"`
	Command      string     `json:"command"`
	Path         string     `json:"path"`
	Args         []string   `json:"args"`
	Pgid         int        `json:"pgid"`
	Started      time.Time  `json:"started"`
	Instrumenter string     `json:"instrumenter"`
	Suspended    bool       `json:"suspended"`
	Status       Status     `json:"status"`
	ExitCode     *int       `json:"exitCode,omitempty"`
	Exited       *time.Time `json:"exited,omitempty"`
	Error        string     `json:"error,omitempty"`
}

func copyArray(src []string) []string {
	rv := make([]string, 0, len(src))
	rv = append(rv, src...)
	return rv
}
