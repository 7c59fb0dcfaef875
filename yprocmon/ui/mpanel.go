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
	"github.com/yprocmon/yprocmon/yprocmon/util"
)

var (
	StyleNormal = tcell.StyleDefault.
			Foreground(tcell.ColorSilver).
			Background(tcell.ColorBlack)
	StyleGood = tcell.StyleDefault.
			Foreground(tcell.ColorGreen).
			Background(tcell.ColorBlack)
	StyleWarn = tcell.StyleDefault.
			Foreground(tcell.ColorYellow).
			Background(tcell.ColorBlack)
	StyleError = tcell.StyleDefault.
			Foreground(tcell.ColorMaroon).
			Background(tcell.ColorBlack)
)

// levelOf maps an instance onto the status bar level used to show it.
func levelOf(info *yprocmon.InstanceInfo) Level {
	switch {
	case util.Failed(info):
		return LevelError
	case info.Status == yprocmon.StatusStopping:
		return LevelWarn
	case info.Status == yprocmon.StatusExited:
		return LevelNormal
	}
	return LevelGood
}

var lineStyles = map[Level]tcell.Style{
	LevelNormal: StyleNormal,
	LevelGood:   StyleGood,
	LevelWarn:   StyleWarn,
	LevelError:  StyleError,
}

// MainPanel implements a Widget as a Panel, but provides the data
// model and handling for the content area, listing the instances known
// to the yprocmon daemon.
type MainPanel struct {
	content  *views.CellView
	selected *yprocmon.InstanceInfo
	nfailed  int
	nrunning int
	nexited  int
	width    int
	height   int
	curx     int
	cury     int
	lines    []string
	styles   []tcell.Style
	items    []*yprocmon.InstanceInfo

	Panel
}

// mainModel provides the model for a CellArea.
type mainModel struct {
	m *MainPanel
}

func NewMainPanel(app *App, server string) *MainPanel {
	m := &MainPanel{}

	m.Panel.Init(app)
	m.content = views.NewCellView()
	m.SetContent(m.content)

	m.content.SetModel(&mainModel{m})
	m.content.SetStyle(StyleNormal)

	m.SetTitle(server)
	m.SetKeys([]string{"[Q] Quit"})

	return m
}

func (m *MainPanel) Draw() {
	m.update()
	m.Panel.Draw()
}

func (m *MainPanel) HandleEvent(ev tcell.Event) bool {
	app := m.App()
	switch ev := ev.(type) {
	case *tcell.EventKey:
		switch ev.Key() {
		case tcell.KeyEsc:
			m.unselect()
			return true
		case tcell.KeyF1:
			app.ShowHelp()
			return true
		case tcell.KeyEnter:
			if m.selected != nil {
				app.ShowInfo(m.selected.PID)
				return true
			}
		case tcell.KeyRune:
			switch ev.Rune() {
			case 'Q', 'q':
				app.Quit()
				return true
			case 'H', 'h':
				app.ShowHelp()
				return true
			case 'N', 'n':
				app.ShowRun()
				return true
			case 'O', 'o':
				app.ShowOperations()
				return true
			case 'I', 'i':
				if m.selected != nil {
					app.ShowInfo(m.selected.PID)
					return true
				}
			case 'L', 'l':
				if m.selected != nil {
					app.ShowLog(m.selected.PID)
					return true
				}
			case 'S', 's':
				if m.selected != nil &&
					m.selected.Status == yprocmon.StatusRunning {
					app.StopInstance(m.selected.PID)
					return true
				}
			}
		}
	}
	return m.Panel.HandleEvent(ev)
}

// Model items
func (model *mainModel) GetCell(x, y int) (rune, tcell.Style, []rune, int) {
	var ch rune
	var style tcell.Style

	m := model.m

	if y < 0 || y >= len(m.lines) {
		return ch, StyleNormal, nil, 1
	}

	if x >= 0 && x < len(m.lines[y]) {
		ch = rune(m.lines[y][x])
	} else {
		ch = ' '
	}
	style = m.styles[y]
	if m.items[y] == m.selected {
		style = style.Reverse(true)
	}
	return ch, style, nil, 1
}

func (model *mainModel) GetBounds() (int, int) {
	// This assumes that all content is displayable runes of width 1.
	m := model.m
	x := 0
	for _, l := range m.lines {
		if x < len(l) {
			x = len(l)
		}
	}
	return x, len(m.lines)
}

func (model *mainModel) GetCursor() (int, int, bool, bool) {
	m := model.m
	return m.curx, m.cury, true, false
}

func (model *mainModel) MoveCursor(offx, offy int) {
	m := model.m
	m.curx += offx
	m.cury += offy
	m.updateCursor(true)
}

func (model *mainModel) SetCursor(x, y int) {
	m := model.m
	m.curx = x
	m.cury = y
	m.updateCursor(true)
}

func (m *MainPanel) unselect() {
	m.cury = 0
	m.curx = 0
	m.updateCursor(false)
}

func (m *MainPanel) updateCursor(selected bool) {
	m.curx = clamp(m.curx, 0, m.width-1)
	m.cury = clamp(m.cury, 0, m.height-1)
	if selected && m.height > 0 {
		if m.selected == nil {
			m.curx = 0
			m.cury = 0
		}
		m.selected = m.items[m.cury]
	} else {
		m.selected = nil
	}
}

func clamp(v, lo, hi int) int {
	if v > hi {
		v = hi
	}
	if v < lo {
		v = lo
	}
	return v
}

// instanceLine formats one row of the instance table.
func instanceLine(info *yprocmon.InstanceInfo, now time.Time) string {
	return fmt.Sprintf("%7d %-20s %-8s %10s   %s",
		info.PID, info.Name, util.Status(info),
		util.FormatDuration(util.Uptime(info, now)), util.Detail(info))
}

// update is called to update content, e.g. in response to Draw() or
// as part of another update.  It is called from the event loop.
func (m *MainPanel) update() {

	items, err := m.App().GetItems()
	m.items = items

	// preserve selected item; pids are never reused by the registry
	// while an entry is listed
	if sel := m.selected; sel != nil {
		m.selected = nil
		for y, item := range m.items {
			if item.PID == sel.PID {
				m.selected = item
				m.cury = y
			}
		}
	}
	if err != nil {
		m.SetError()
		m.SetStatus(fmt.Sprintf("Cannot load instances: %v", err))
		m.lines = []string{}
		m.styles = []tcell.Style{}
		m.items = nil
		m.selected = nil
		m.height = 0
		m.SetKeys([]string{"[Q] Quit", "[H] Help"})
		return
	}

	lines := make([]string, 0, len(items))
	styles := make([]tcell.Style, 0, len(items))

	m.nfailed = 0
	m.nexited = 0
	m.nrunning = 0
	m.height = 0
	m.width = 0

	now := time.Now()
	for _, info := range items {
		line := instanceLine(info, now)
		if len(line) > m.width {
			m.width = len(line)
		}
		m.height++
		lines = append(lines, line)

		level := levelOf(info)
		switch level {
		case LevelError:
			m.nfailed++
		case LevelNormal:
			m.nexited++
		default:
			m.nrunning++
		}
		styles = append(styles, lineStyles[level])
	}

	m.lines = lines
	m.styles = styles

	status := fmt.Sprintf("%6d Instances %6d Running %6d Failed %6d Exited",
		len(items), m.nrunning, m.nfailed, m.nexited)
	if notice, bad := m.App().Notice(); notice != "" {
		status += "   " + notice
		if bad {
			m.SetError()
			m.SetStatus(status)
			m.setKeys()
			return
		}
	}
	m.SetStatus(status)

	switch {
	case m.nfailed > 0:
		m.SetError()
	case m.nrunning > 0:
		m.SetGood()
	default:
		m.SetNormal()
	}
	m.setKeys()
}

func (m *MainPanel) setKeys() {
	words := []string{"[Q] Quit", "[H] Help", "[N] New", "[O] Ops"}

	if item := m.selected; item != nil {
		words = append(words, "[I] Info", "[L] Log")
		if item.Status == yprocmon.StatusRunning {
			words = append(words, "[S] Stop")
		}
	}
	m.SetKeys(words)
}
