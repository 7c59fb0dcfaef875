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

package ui

import (
	"strings"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/yprocmon/yprocmon"
)

func TestPrompt(t *testing.T) {
	Convey("Prompt fields", t, func() {
		Convey("Short text is padded", func() {
			So(prompt([]rune("ab"), 5, false), ShouldEqual, "ab   ")
		})
		Convey("Active fields show a cursor", func() {
			So(prompt([]rune("ab"), 5, true), ShouldEqual, "ab_  ")
		})
		Convey("Long text scrolls to the end", func() {
			So(prompt([]rune("abcdefgh"), 5, false), ShouldEqual, "<efgh")
		})
	})
}

func TestBars(t *testing.T) {
	Convey("Key words are marked up", t, func() {
		So(markup([]string{"[Q] Quit", "", "[H] Help"}), ShouldEqual,
			"[%AQ%N] Quit [%AH%N] Help")
		So(markup([]string{"100%"}), ShouldEqual, "100%%")
		So(markup(nil), ShouldEqual, "")
	})
	Convey("Status text is escaped", t, func() {
		So(escape("cpu 5%"), ShouldEqual, "cpu 5%%")
	})
	Convey("Status bars keep their level", t, func() {
		sb := NewStatusBar()
		So(sb.Level(), ShouldEqual, LevelNormal)
		sb.SetLevel(LevelError)
		So(sb.Level(), ShouldEqual, LevelError)
		sb.SetText("Failed")
		So(sb.Level(), ShouldEqual, LevelError)
	})
}

func TestLines(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	code := 2
	exited := start.Add(90 * time.Second)

	Convey("Instance rendering", t, func() {
		running := &yprocmon.InstanceInfo{
			PID:     42,
			Name:    "web",
			Command: "web --port 80",
			Started: start,
			Status:  yprocmon.StatusRunning,
		}
		failed := &yprocmon.InstanceInfo{
			PID:      43,
			Name:     "job",
			Started:  start,
			Status:   yprocmon.StatusExited,
			ExitCode: &code,
			Exited:   &exited,
		}

		Convey("Levels follow the status", func() {
			So(levelOf(running), ShouldEqual, LevelGood)
			So(levelOf(failed), ShouldEqual, LevelError)
			failed.ExitCode = nil
			So(levelOf(failed), ShouldEqual, LevelNormal)
			running.Status = yprocmon.StatusStopping
			So(levelOf(running), ShouldEqual, LevelWarn)
		})

		Convey("Rows carry pid, status and uptime", func() {
			line := instanceLine(running, start.Add(time.Hour+time.Second))
			So(line, ShouldStartWith, "     42 web")
			So(line, ShouldContainSubstring, "running")
			So(line, ShouldContainSubstring, "1:00:01")
			So(line, ShouldEndWith, "web --port 80")

			line = instanceLine(failed, start.Add(time.Hour))
			So(line, ShouldContainSubstring, "failed")
			So(line, ShouldContainSubstring, "0:01:30")
			So(line, ShouldEndWith, "exit code 2")
		})

		Convey("Details include exit information", func() {
			text := strings.Join(infoLines(failed, start), "\n")
			So(text, ShouldContainSubstring, "Exit code: 2")
			So(text, ShouldContainSubstring, "Exited:")
			text = strings.Join(infoLines(running, start), "\n")
			So(text, ShouldNotContainSubstring, "Exit code")
			So(text, ShouldContainSubstring, "Command: web --port 80")
		})
	})
}

func TestOpLine(t *testing.T) {
	Convey("Operation lines sort detail keys", t, func() {
		op := yprocmon.Operation{
			Time:   time.Date(2026, 1, 2, 3, 4, 5, 0, time.Local),
			PID:    7,
			Name:   "x",
			Type:   yprocmon.OpExit,
			Detail: map[string]string{"zeta": "1", "alpha": "2"},
		}
		line := opLine(op)
		So(line, ShouldContainSubstring, "exit")
		So(line, ShouldEndWith, "alpha=2 zeta=1")

		op.Detail = nil
		So(opLine(op), ShouldEndWith, "x")
	})
}
