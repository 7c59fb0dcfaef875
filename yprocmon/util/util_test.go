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

package util

import (
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/yprocmon/yprocmon"
)

func TestUtil(t *testing.T) {
	now := time.Now()
	zero, three := 0, 3

	Convey("Durations print as h:mm:ss", t, func() {
		So(FormatDuration(0), ShouldEqual, "0:00:00")
		So(FormatDuration(time.Hour*26+time.Minute*3+time.Second*9), ShouldEqual, "26:03:09")
	})

	Convey("Status describes the instance", t, func() {
		info := &yprocmon.InstanceInfo{Status: yprocmon.StatusRunning, Command: "sleep 1"}
		So(Status(info), ShouldEqual, "running")
		So(Detail(info), ShouldEqual, "sleep 1")

		info.Status = yprocmon.StatusExited
		info.ExitCode = &zero
		So(Status(info), ShouldEqual, "exited")

		info.ExitCode = &three
		So(Status(info), ShouldEqual, "failed")
		So(Detail(info), ShouldEqual, "exit code 3")
	})

	Convey("Uptime stops at exit", t, func() {
		exited := now.Add(-time.Minute)
		info := &yprocmon.InstanceInfo{Started: now.Add(-time.Hour), Exited: &exited}
		So(Uptime(info, now), ShouldEqual, time.Minute*59)
	})

	Convey("Failures sort first, then live processes", t, func() {
		list := []yprocmon.InstanceInfo{
			{PID: 1, Name: "b", Status: yprocmon.StatusExited, ExitCode: &zero},
			{PID: 2, Name: "a", Status: yprocmon.StatusRunning},
			{PID: 3, Name: "c", Status: yprocmon.StatusExited, ExitCode: &three},
			{PID: 4, Name: "a", Status: yprocmon.StatusRunning},
		}
		items := Pointers(list)
		SortInstances(items)
		pids := []int{}
		for _, item := range items {
			pids = append(pids, item.PID)
		}
		So(pids, ShouldResemble, []int{3, 2, 4, 1})
	})
}
