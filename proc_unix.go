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

//go:build unix

package yprocmon

import (
	"syscall"

	"golang.org/x/sys/unix"
)

func newSysProcAttr() *syscall.SysProcAttr {
	// A group of its own, so that stop reaches the children too.
	return &syscall.SysProcAttr{Setpgid: true}
}

func signalGroup(pgid int, sig syscall.Signal) error {
	return unix.Kill(-pgid, sig)
}

func processAlive(pid int) bool {
	return unix.Kill(pid, 0) == nil
}

// processGroup returns the group a freshly started process leads.
func processGroup(pid int) int {
	return pid
}
