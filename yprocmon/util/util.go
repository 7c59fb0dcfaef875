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

// Package util is used for internal implementation bits in the CLI/UI.
package util

import (
	"fmt"
	"sort"
	"time"

	"github.com/yprocmon/yprocmon"
)

// Status is a one word description of an instance, for display.
func Status(s *yprocmon.InstanceInfo) string {
	switch s.Status {
	case yprocmon.StatusExited:
		if s.ExitCode != nil && *s.ExitCode != 0 {
			return "failed"
		}
		return "exited"
	case yprocmon.StatusStopping:
		return "stopping"
	}
	return "running"
}

// Failed reports whether the instance ended badly.
func Failed(s *yprocmon.InstanceInfo) bool {
	return Status(s) == "failed"
}

// Uptime is how long the instance has been (or was) alive.
func Uptime(s *yprocmon.InstanceInfo, now time.Time) time.Duration {
	end := now
	if s.Exited != nil {
		end = *s.Exited
	}
	d := end.Sub(s.Started)
	if d < 0 {
		d = 0
	}
	// for printing second resolution is sufficient
	return d - d%time.Second
}

// Detail is the short text shown after the status.
func Detail(s *yprocmon.InstanceInfo) string {
	switch {
	case s.Error != "":
		return s.Error
	case s.ExitCode != nil:
		return fmt.Sprintf("exit code %d", *s.ExitCode)
	}
	return s.Command
}

func FormatDuration(d time.Duration) string {

	sec := int((d % time.Minute) / time.Second)
	min := int((d % time.Hour) / time.Minute)
	hour := int(d / time.Hour)

	return fmt.Sprintf("%d:%02d:%02d", hour, min, sec)
}

type sorted []*yprocmon.InstanceInfo

func (s sorted) Swap(i, j int) {
	s[i], s[j] = s[j], s[i]
}

func (s sorted) Len() int {
	return len(s)
}

func (s sorted) Less(i, j int) bool {
	a := s[i]
	b := s[j]

	if fa, fb := Failed(a), Failed(b); fa != fb {
		// put failed items at front
		return fa
	}
	ra := a.Status != yprocmon.StatusExited
	rb := b.Status != yprocmon.StatusExited
	if ra != rb {
		// live processes in front of exited ones
		return ra
	}
	if a.Name != b.Name {
		return a.Name < b.Name
	}
	return a.PID < b.PID
}

// SortInstances orders instances for display: failures first, then live
// processes, then by name.
func SortInstances(items []*yprocmon.InstanceInfo) {
	sort.Sort(sorted(items))
}

// Pointers turns a snapshot into the pointer slice the UI works with.
func Pointers(list []yprocmon.InstanceInfo) []*yprocmon.InstanceInfo {
	rv := make([]*yprocmon.InstanceInfo, 0, len(list))
	for i := range list {
		rv = append(rv, &list[i])
	}
	return rv
}
