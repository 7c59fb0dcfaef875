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
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

// stallInstrumenter holds every launch in Attach until released.
type stallInstrumenter struct {
	release chan struct{}
}

func (s *stallInstrumenter) Name() string                    { return "stall" }
func (s *stallInstrumenter) Prepare(*exec.Cmd, string) error { return nil }
func (s *stallInstrumenter) Attach(int) error {
	<-s.release
	return nil
}

func TestTasks(t *testing.T) {
	logger, _ := testLogger()
	ctx := context.Background()

	Convey("Given launch tasks", t, func() {
		ops := NewOperationLog(100)
		r := NewRegistry(WithLogger(logger), WithOperations(ops))
		l := NewLauncher(WithLogger(logger), WithOperations(ops))
		tasks := NewTasks(l, r, time.Second*5)
		Reset(func() {
			tasks.Close()
			r.Shutdown(context.Background())
		})

		Convey("A submitted launch ends up in the registry", func() {
			info := tasks.Submit("sleeper", "sleep 30")
			So(info.ID, ShouldNotBeEmpty)
			So(info.Command, ShouldEqual, "sleep 30")

			done, err := tasks.Wait(ctx, info.ID)
			So(err, ShouldBeNil)
			So(done.State, ShouldEqual, TaskSucceeded)
			So(done.PID, ShouldBeGreaterThan, 0)
			So(done.Instance, ShouldNotBeNil)
			So(done.Finished, ShouldNotBeNil)

			got, ok := r.Get(done.PID)
			So(ok, ShouldBeTrue)
			So(got.Name, ShouldEqual, "sleeper")
		})

		Convey("The command defaults to the name", func() {
			info := tasks.Submit("true", "")
			So(info.Command, ShouldEqual, "true")
		})

		Convey("A failed launch is reported", func() {
			done, err := tasks.Launch(ctx, "x", "/nonexistent/binary")
			So(errors.Is(err, ErrNotFound), ShouldBeTrue)
			So(done.State, ShouldEqual, TaskFailed)
			So(done.Error, ShouldNotBeEmpty)
			list, _, _ := r.Snapshot()
			So(list, ShouldBeEmpty)
		})

		Convey("Unknown tasks are rejected", func() {
			_, err := tasks.Get("nope")
			So(err, ShouldEqual, ErrNoTask)
			So(tasks.Cancel("nope"), ShouldEqual, ErrNoTask)
			_, err = tasks.Wait(ctx, "nope")
			So(err, ShouldEqual, ErrNoTask)
		})
	})

	Convey("Given launches that stall", t, func() {
		stall := &stallInstrumenter{release: make(chan struct{})}
		r := NewRegistry(WithLogger(logger))
		l := NewLauncher(WithLogger(logger), WithInstrumenter(stall))
		tasks := NewTasks(l, r, time.Millisecond*200)
		Reset(func() {
			close(stall.release)
			tasks.Close()
			r.Shutdown(context.Background())
		})

		Convey("A cancelled task does not register anything", func() {
			info := tasks.Submit("sleeper", "sleep 30")
			So(tasks.Cancel(info.ID), ShouldBeNil)
			done, err := tasks.Wait(ctx, info.ID)
			So(errors.Is(err, ErrLaunchTimeout), ShouldBeTrue)
			So(done.State, ShouldEqual, TaskCancelled)
			list, _, _ := r.Snapshot()
			So(list, ShouldBeEmpty)
		})

		Convey("A slow launch times out", func() {
			done, err := tasks.Launch(ctx, "sleeper", "sleep 30")
			So(errors.Is(err, ErrLaunchTimeout), ShouldBeTrue)
			So(done.State, ShouldEqual, TaskFailed)
		})

		Convey("Waiting can give up before the task does", func() {
			info := tasks.Submit("sleeper", "sleep 30")
			wctx, cancel := context.WithTimeout(ctx, time.Millisecond*20)
			defer cancel()
			state, err := tasks.Wait(wctx, info.ID)
			So(err, ShouldEqual, context.DeadlineExceeded)
			So(state.State.Done(), ShouldBeFalse)
		})
	})
}
