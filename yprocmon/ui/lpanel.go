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
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/gdamore/tcell/v2/views"

	"github.com/yprocmon/yprocmon"
)

type LogPanel struct {
	text *views.TextArea
	info *yprocmon.InstanceInfo
	pid  int

	Panel
}

func NewLogPanel(app *App) *LogPanel {
	p := &LogPanel{}

	p.Panel.Init(app)

	p.SetKeys([]string{"[Q] Quit", "[H] Help"})

	p.text = views.NewTextArea()
	p.text.EnableCursor(false)
	p.text.SetStyle(StyleNormal)
	p.SetContent(p.text)

	return p
}

func (p *LogPanel) Draw() {
	p.update()
	p.Panel.Draw()
}

func (p *LogPanel) HandleEvent(ev tcell.Event) bool {
	if p.handleKeys(ev) {
		return true
	}
	info := p.info
	if ev, ok := ev.(*tcell.EventKey); ok && ev.Key() == tcell.KeyRune && info != nil {
		switch ev.Rune() {
		case 'I', 'i':
			p.app.ShowInfo(info.PID)
			return true
		case 'S', 's':
			if info.Status == yprocmon.StatusRunning {
				p.app.StopInstance(info.PID)
				return true
			}
		}
	}
	return p.Panel.HandleEvent(ev)
}

func (p *LogPanel) SetPid(pid int) {
	p.SetTitle("Loading")
	p.text.SetLines(nil)
	p.pid = pid
}

// update must be called from the event loop.
func (p *LogPanel) update() {

	info, e1 := p.app.GetItem(p.pid)
	loginfo, e2 := p.app.GetLog(p.pid)
	p.info = info

	words := []string{"[ESC] Main", "[H] Help"}

	if info != nil {
		p.SetTitle(fmt.Sprintf("Log for %s [%d]", info.Name, p.pid))
	} else {
		p.SetTitle(fmt.Sprintf("Log for %d", p.pid))
	}

	if loginfo == nil {
		e := e2
		if e == nil {
			e = e1
		}
		if e != nil {
			p.SetStatus(fmt.Sprintf("No data: %v", e))
			p.SetError()
		} else {
			p.SetStatus("Loading ...")
			p.SetNormal()
		}
		p.text.SetLines([]string{""})
		p.SetKeys(words)
		return
	}

	p.SetStatus(fmt.Sprintf("%d lines", len(loginfo.Records)))
	if info != nil {
		p.SetLevel(levelOf(info))
	} else {
		// the instance is gone, but its log was fetched before
		p.SetNormal()
	}

	lines := make([]string, 0, len(loginfo.Records))
	for _, r := range loginfo.Records {
		lines = append(lines, fmt.Sprintf("%s %s",
			r.Time.Format(time.StampMilli), r.Text))
	}
	p.text.SetLines(lines)

	if info != nil {
		words = append(words, "[I] Info")
		if info.Status == yprocmon.StatusRunning {
			words = append(words, "[S] Stop")
		}
	}
	p.SetKeys(words)
}
