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
	"fmt"
	"os/exec"
	"runtime"

	"golang.org/x/sys/unix"
)

// startSuspended starts cmd traced, so that the kernel stops it right after
// exec.  attach runs while it is stopped, then the trace is dropped and the
// process continues.  All ptrace requests must come from the thread that
// started the tracee, hence the locked thread.
func startSuspended(cmd *exec.Cmd, attach func(pid int) error) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = newSysProcAttr()
	}
	cmd.SysProcAttr.Ptrace = true
	if err := cmd.Start(); err != nil {
		return err
	}
	pid := cmd.Process.Pid

	var ws unix.WaitStatus
	if _, err := unix.Wait4(pid, &ws, 0, nil); err != nil {
		return fmt.Errorf("waiting for exec stop: %v", err)
	}
	if !ws.Stopped() {
		return fmt.Errorf("process %d exited before attach", pid)
	}

	aerr := attach(pid)
	if err := unix.PtraceDetach(pid); err != nil && aerr == nil {
		aerr = fmt.Errorf("detach: %v", err)
	}
	return aerr
}
