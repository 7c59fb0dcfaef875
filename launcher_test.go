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
	"context"
	"errors"
	"os/exec"
	"syscall"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

// waitFor polls the registry until pid reaches status, or is gone when
// status is empty.
func waitFor(r *Registry, pid int, status Status) bool {
	deadline := time.Now().Add(time.Second * 10)
	serial := r.Serial()
	for time.Now().Before(deadline) {
		info, ok := r.Get(pid)
		if status == "" && !ok {
			return true
		}
		if ok && info.Status == status {
			return true
		}
		serial = r.WatchSerial(serial, time.Millisecond*100)
	}
	return false
}

func waitDone(inst *Instance) bool {
	select {
	case <-inst.Done():
		return true
	case <-time.After(time.Second * 10):
		return false
	}
}

func opsOfType(ops *OperationLog, t OperationType) []Operation {
	all, _ := ops.All()
	rv := []Operation{}
	for _, op := range all {
		if op.Type == t {
			rv = append(rv, op)
		}
	}
	return rv
}

func TestLauncher(t *testing.T) {
	logger, _ := testLogger()
	ctx := context.Background()

	Convey("Given a launcher and a registry", t, func() {
		ops := NewOperationLog(100)
		l := NewLauncher(WithLogger(logger), WithOperations(ops))
		r := NewRegistry(WithLogger(logger), WithOperations(ops),
			WithStopTime(time.Millisecond*200))
		Reset(func() {
			r.Shutdown(context.Background())
		})

		Convey("A name is required", func() {
			inst, err := l.Launch(ctx, "", "true")
			So(inst, ShouldBeNil)
			So(err, ShouldEqual, ErrNoName)
		})

		Convey("A missing binary fails and registers nothing", func() {
			inst, err := l.Launch(ctx, "x", "/nonexistent/binary")
			So(inst, ShouldBeNil)
			So(errors.Is(err, ErrNotFound), ShouldBeTrue)
			list, _, _ := r.Snapshot()
			So(list, ShouldBeEmpty)

			failed := opsOfType(ops, OpLaunchFailed)
			So(len(failed), ShouldEqual, 1)
			So(failed[0].Name, ShouldEqual, "x")
			So(failed[0].Detail["command"], ShouldEqual, "/nonexistent/binary")
		})

		Convey("A bad command line fails", func() {
			_, err := l.Launch(ctx, "x", "sh -c 'unterminated")
			So(errors.Is(err, ErrSpawn), ShouldBeTrue)
		})

		Convey("An empty command runs the name", func() {
			a, err := l.Launch(ctx, "true", "")
			So(err, ShouldBeNil)
			b, err := l.Launch(ctx, "true", "true")
			So(err, ShouldBeNil)

			path, _ := exec.LookPath("true")
			So(a.Command, ShouldEqual, "true")
			So(a.Command, ShouldEqual, b.Command)
			So(a.Launch.Path, ShouldEqual, path)
			So(a.Launch.Path, ShouldEqual, b.Launch.Path)
			So(a.Launch.Args, ShouldResemble, b.Launch.Args)
			So(waitDone(a), ShouldBeTrue)
			So(waitDone(b), ShouldBeTrue)
			So(a.Result().Code, ShouldEqual, 0)
			So(b.Result().Code, ShouldEqual, 0)
		})

		Convey("A launched instance is listed once", func() {
			inst, err := l.Launch(ctx, "sleeper", "sleep 30")
			So(err, ShouldBeNil)
			So(inst.PID, ShouldBeGreaterThan, 0)
			So(inst.Launch.Pgid, ShouldEqual, inst.PID)
			So(inst.Launch.Instrumenter, ShouldEqual, "none")
			r.Insert(inst)

			list, _, _ := r.Snapshot()
			So(len(list), ShouldEqual, 1)
			So(list[0].PID, ShouldEqual, inst.PID)
			So(list[0].Name, ShouldEqual, "sleeper")
			So(list[0].Args, ShouldResemble, []string{"sleep", "30"})

			spawned := opsOfType(ops, OpSpawn)
			So(len(spawned), ShouldEqual, 1)
			So(spawned[0].PID, ShouldEqual, inst.PID)

			Convey("Its stats can be read", func() {
				st, err := r.Stats(ctx, inst.PID)
				So(err, ShouldBeNil)
				So(st.PID, ShouldEqual, inst.PID)
				So(st.RSS, ShouldBeGreaterThan, 0)
			})

			Convey("Stop terminates and removes it", func() {
				So(r.Stop(ctx, inst.PID), ShouldBeNil)
				_, ok := r.Get(inst.PID)
				So(ok, ShouldBeFalse)
				So(waitDone(inst), ShouldBeTrue)
				So(len(opsOfType(ops, OpStop)), ShouldEqual, 1)
				So(r.Stop(ctx, inst.PID), ShouldEqual, ErrNoInstance)
			})
		})

		Convey("Stop kills a process that ignores SIGTERM", func() {
			inst, err := l.Launch(ctx, "stubborn", `sh -c 'trap "" TERM; echo ready; sleep 30'`)
			So(err, ShouldBeNil)
			r.Insert(inst)

			// Wait for the trap to be installed.
			last := int64(-1)
			for i := 0; i < 100 && len(inst.Log().Lines()) == 0; i++ {
				last = inst.Log().Watch(last, time.Millisecond*100)
			}
			So(inst.Log().Lines(), ShouldContain, "stdout> ready")

			start := time.Now()
			So(r.Stop(ctx, inst.PID), ShouldBeNil)
			So(time.Since(start), ShouldBeGreaterThanOrEqualTo, time.Millisecond*200)
			So(waitDone(inst), ShouldBeTrue)
			So(inst.Result().Code, ShouldEqual, -1)
		})

		Convey("Output is captured per stream", func() {
			inst, err := l.Launch(ctx, "talk", `sh -c 'echo hello; echo oops >&2'`)
			So(err, ShouldBeNil)
			So(waitDone(inst), ShouldBeTrue)
			lines := inst.Log().Lines()
			So(lines, ShouldContain, "stdout> hello")
			So(lines, ShouldContain, "stderr> oops")
		})

		Convey("The exit status is recorded", func() {
			inst, err := l.Launch(ctx, "fail", `sh -c 'exit 3'`)
			So(err, ShouldBeNil)
			r.Insert(inst)
			So(waitFor(r, inst.PID, StatusExited), ShouldBeTrue)

			info, ok := r.Get(inst.PID)
			So(ok, ShouldBeTrue)
			So(info.ExitCode, ShouldNotBeNil)
			So(*info.ExitCode, ShouldEqual, 3)
			So(info.Exited, ShouldNotBeNil)

			exits := opsOfType(ops, OpExit)
			So(len(exits), ShouldEqual, 1)
			So(exits[0].Detail["code"], ShouldEqual, "3")

			Convey("Stopping it just removes it", func() {
				So(r.Stop(ctx, inst.PID), ShouldBeNil)
				_, ok := r.Get(inst.PID)
				So(ok, ShouldBeFalse)
			})
		})

		Convey("A cancelled context fails the launch", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()
			_, err := l.Launch(cctx, "true", "")
			So(errors.Is(err, ErrLaunchTimeout), ShouldBeTrue)
		})

		Convey("The exit is recorded before Done closes", func() {
			inst, err := l.Launch(ctx, "five", `sh -c 'exit 5'`)
			So(err, ShouldBeNil)
			So(waitDone(inst), ShouldBeTrue)
			exits := opsOfType(ops, OpExit)
			So(len(exits), ShouldEqual, 1)
			So(exits[0].PID, ShouldEqual, inst.PID)
			So(exits[0].Detail["code"], ShouldEqual, "5")
		})

		Convey("Exit does not wait for descendants holding the output", func() {
			inst, err := l.Launch(ctx, "parent", `sh -c 'sleep 20 & echo bye; exit 7'`)
			So(err, ShouldBeNil)
			defer inst.Signal(syscall.SIGKILL)
			r.Insert(inst)

			start := time.Now()
			So(waitFor(r, inst.PID, StatusExited), ShouldBeTrue)
			So(time.Since(start), ShouldBeLessThan, time.Second*5)

			info, ok := r.Get(inst.PID)
			So(ok, ShouldBeTrue)
			So(info.ExitCode, ShouldNotBeNil)
			So(*info.ExitCode, ShouldEqual, 7)
			So(inst.Log().Lines(), ShouldContain, "stdout> bye")

			exits := opsOfType(ops, OpExit)
			So(len(exits), ShouldEqual, 1)
			So(exits[0].Detail["code"], ShouldEqual, "7")
		})
	})

	Convey("An abandoned launch is killed without an exit record", t, func() {
		logger, hook := testLogger()
		ops := NewOperationLog(100)
		stall := &stallInstrumenter{release: make(chan struct{})}
		l := NewLauncher(WithLogger(logger), WithOperations(ops), WithInstrumenter(stall))

		tctx, cancel := context.WithTimeout(ctx, time.Millisecond*100)
		defer cancel()
		inst, err := l.Launch(tctx, "slow", "sleep 30")
		So(inst, ShouldBeNil)
		So(errors.Is(err, ErrLaunchTimeout), ShouldBeTrue)
		close(stall.release)

		reaped := func() bool {
			for _, e := range hook.AllEntries() {
				if e.Message == "Reaped abandoned launch" {
					return true
				}
			}
			return false
		}
		deadline := time.Now().Add(time.Second * 10)
		for !reaped() && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond * 20)
		}
		So(reaped(), ShouldBeTrue)
		So(opsOfType(ops, OpExit), ShouldBeEmpty)
		So(opsOfType(ops, OpSpawn), ShouldBeEmpty)
		So(len(opsOfType(ops, OpLaunchFailed)), ShouldEqual, 1)
	})

	Convey("Launcher options", t, func() {
		Convey("Extra environment reaches the process", func() {
			l := NewLauncher(WithLogger(logger), WithEnv("YPROCMON_TEST=bar"))
			inst, err := l.Launch(ctx, "env", `sh -c 'echo $YPROCMON_TEST'`)
			So(err, ShouldBeNil)
			So(waitDone(inst), ShouldBeTrue)
			So(inst.Log().Lines(), ShouldContain, "stdout> bar")
		})

		Convey("The rate limit rejects launches that cannot get a token in time", func() {
			l := NewLauncher(WithLogger(logger), WithRateLimit(0.001, 1))
			inst, err := l.Launch(ctx, "true", "")
			So(err, ShouldBeNil)
			So(waitDone(inst), ShouldBeTrue)

			tctx, cancel := context.WithTimeout(ctx, time.Millisecond*200)
			defer cancel()
			_, err = l.Launch(tctx, "true", "")
			So(errors.Is(err, ErrRateLimited), ShouldBeTrue)
		})

		Convey("The rate limit delays a burst until a token is free", func() {
			l := NewLauncher(WithLogger(logger), WithRateLimit(10, 1))
			a, err := l.Launch(ctx, "true", "")
			So(err, ShouldBeNil)
			start := time.Now()
			b, err := l.Launch(ctx, "true", "")
			So(err, ShouldBeNil)
			So(time.Since(start), ShouldBeGreaterThanOrEqualTo, time.Millisecond*50)
			So(waitDone(a), ShouldBeTrue)
			So(waitDone(b), ShouldBeTrue)
		})

		Convey("The preload instrumenter sets the environment", func() {
			in := NewPreloadInstrumenter("", "http://127.0.0.1:8321")
			l := NewLauncher(WithLogger(logger), WithInstrumenter(in))
			inst, err := l.Launch(ctx, "agent", `sh -c 'echo $YPROCMON_NAME $YPROCMON_ENDPOINT'`)
			So(err, ShouldBeNil)
			So(inst.Launch.Instrumenter, ShouldEqual, "preload")
			So(waitDone(inst), ShouldBeTrue)
			So(inst.Log().Lines(), ShouldContain, "stdout> agent http://127.0.0.1:8321")
		})

		Convey("A missing agent library fails the launch", func() {
			in := NewPreloadInstrumenter("/nonexistent/agent.so", "")
			l := NewLauncher(WithLogger(logger), WithInstrumenter(in))
			_, err := l.Launch(ctx, "true", "")
			So(errors.Is(err, ErrInstrument), ShouldBeTrue)
		})

		Convey("Exited instances can be reaped", func() {
			l := NewLauncher(WithLogger(logger))
			r := NewRegistry(WithLogger(logger), WithReapExited(true))
			inst, err := l.Launch(ctx, "true", "")
			So(err, ShouldBeNil)
			r.Insert(inst)
			So(waitFor(r, inst.PID, ""), ShouldBeTrue)
		})
	})
}
