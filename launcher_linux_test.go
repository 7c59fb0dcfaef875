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

//go:build linux

package yprocmon

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

// recordInstrumenter notes the pid it attached to, when, and the kernel's
// view of the process state at that moment.
type recordInstrumenter struct {
	mx    sync.Mutex
	pid   int
	when  time.Time
	state string
}

func (ri *recordInstrumenter) Name() string                    { return "record" }
func (ri *recordInstrumenter) Prepare(*exec.Cmd, string) error { return nil }
func (ri *recordInstrumenter) Attach(pid int) error {
	ri.mx.Lock()
	defer ri.mx.Unlock()
	ri.pid = pid
	ri.when = time.Now()
	ri.state = procState(pid)
	return nil
}

// procState returns the one letter state from /proc/<pid>/stat.
func procState(pid int) string {
	b, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", pid))
	if err != nil {
		return ""
	}
	s := string(b)
	i := strings.LastIndexByte(s, ')')
	if i < 0 || i+2 >= len(s) {
		return ""
	}
	return s[i+2 : i+3]
}

func TestSuspendedLaunch(t *testing.T) {
	logger, _ := testLogger()

	Convey("A suspended launch attaches before the process runs", t, func() {
		ri := &recordInstrumenter{}
		l := NewLauncher(WithLogger(logger), WithInstrumenter(ri), WithSuspend(true))
		inst, err := l.Launch(context.Background(), "hi", `sh -c 'echo hi'`)
		So(err, ShouldBeNil)
		So(inst.Launch.Suspended, ShouldBeTrue)
		So(inst.Launch.Instrumenter, ShouldEqual, "record")
		So(waitDone(inst), ShouldBeTrue)
		So(inst.Result().Code, ShouldEqual, 0)
		So(inst.Result().Error, ShouldBeEmpty)

		ri.mx.Lock()
		defer ri.mx.Unlock()
		So(ri.pid, ShouldEqual, inst.PID)
		So(ri.state, ShouldEqual, "t")

		recs, _ := inst.Log().Records(-1)
		So(len(recs), ShouldEqual, 1)
		So(recs[0].Text, ShouldEqual, "stdout> hi")
		So(recs[0].Time.Before(ri.when), ShouldBeFalse)
	})
}
