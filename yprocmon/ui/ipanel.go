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
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/gdamore/tcell/v2/views"

	"github.com/yprocmon/yprocmon"
	"github.com/yprocmon/yprocmon/yprocmon/util"
)

type InfoPanel struct {
	text *views.TextArea
	info *yprocmon.InstanceInfo
	pid  int
	err  error

	Panel
}

func NewInfoPanel(app *App) *InfoPanel {
	i := &InfoPanel{}
	i.Panel.Init(app)

	i.text = views.NewTextArea()
	i.text.EnableCursor(false)
	i.text.SetStyle(StyleNormal)
	i.SetContent(i.text)
	i.SetKeys([]string{"[Q] Quit", "[H] Help"})

	return i
}

func (i *InfoPanel) Draw() {
	i.update()
	i.Panel.Draw()
}

func (i *InfoPanel) HandleEvent(ev tcell.Event) bool {
	if i.handleKeys(ev) {
		return true
	}
	info := i.info
	if ev, ok := ev.(*tcell.EventKey); ok && ev.Key() == tcell.KeyRune && info != nil {
		switch ev.Rune() {
		case 'L', 'l':
			i.app.ShowLog(info.PID)
			return true
		case 'S', 's':
			if info.Status == yprocmon.StatusRunning {
				i.app.StopInstance(info.PID)
				return true
			}
		}
	}
	return i.Panel.HandleEvent(ev)
}

func (i *InfoPanel) SetPid(pid int) {
	i.pid = pid
	i.info = nil
	i.err = nil
}

// infoLines renders the details of an instance.
func infoLines(s *yprocmon.InstanceInfo, now time.Time) []string {
	field := func(k string, v interface{}) string {
		return fmt.Sprintf("%13s %v", k+":", v)
	}
	lines := []string{
		field("PID", s.PID),
		field("Name", s.Name),
		field("Status", util.Status(s)),
		field("Command", s.Command),
		field("Path", s.Path),
		field("Args", strings.Join(s.Args, " ")),
		field("Group", s.Pgid),
		field("Started", s.Started.Format(time.RFC3339)),
		field("Uptime", util.FormatDuration(util.Uptime(s, now))),
		field("Instrumenter", s.Instrumenter),
		field("Suspended", s.Suspended),
	}
	if s.Exited != nil {
		lines = append(lines, field("Exited", s.Exited.Format(time.RFC3339)))
	}
	if s.ExitCode != nil {
		lines = append(lines, field("Exit code", *s.ExitCode))
	}
	if s.Error != "" {
		lines = append(lines, field("Error", s.Error))
	}
	return lines
}

// update must be called from the event loop.
func (i *InfoPanel) update() {

	s, e := i.app.GetItem(i.pid)
	i.info = s
	i.err = e
	words := []string{"[ESC] Main", "[H] Help"}

	if s != nil {
		i.SetTitle(fmt.Sprintf("Details for %s [%d]", s.Name, s.PID))
	} else {
		i.SetTitle(fmt.Sprintf("Details for %d", i.pid))
	}

	if s == nil {
		if e != nil {
			i.SetStatus(fmt.Sprintf("No data: %v", e))
			i.SetError()
		} else {
			i.SetStatus("Loading...")
			i.SetNormal()
		}
		i.text.SetLines(nil)
		i.SetKeys(words)
		return
	}

	i.SetStatus("")
	i.SetLevel(levelOf(s))
	i.text.SetLines(infoLines(s, time.Now()))

	words = append(words, "[L] Log")
	if s.Status == yprocmon.StatusRunning {
		words = append(words, "[S] Stop")
	}
	i.SetKeys(words)
}
