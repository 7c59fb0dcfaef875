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
	"github.com/gdamore/tcell/v2"
	"github.com/gdamore/tcell/v2/views"
)

const maxField = 256

// RunPanel prompts for a name and command line, and launches them.
type RunPanel struct {
	hlayout   *views.BoxLayout
	left      *views.BoxLayout
	right     *views.BoxLayout
	nprompt   *views.Text
	cprompt   *views.Text
	nfield    *views.Text
	cfield    *views.Text
	cmdactive bool
	name      []rune
	command   []rune

	Panel
}

func NewRunPanel(app *App, server string) *RunPanel {
	r := &RunPanel{}
	r.Panel.Init(app)

	r.name = make([]rune, 0, maxField)
	r.command = make([]rune, 0, maxField)

	r.hlayout = views.NewBoxLayout(views.Horizontal)
	r.left = views.NewBoxLayout(views.Vertical)
	r.right = views.NewBoxLayout(views.Vertical)
	r.nprompt = views.NewText()
	r.cprompt = views.NewText()
	r.nfield = views.NewText()
	r.cfield = views.NewText()
	r.nprompt.SetText("Name: ")
	r.cprompt.SetText("Command: ")

	for _, w := range []interface{ SetStyle(tcell.Style) }{
		r.nprompt, r.cprompt, r.nfield, r.cfield,
		r.hlayout, r.left, r.right,
	} {
		w.SetStyle(StyleNormal)
	}

	r.left.AddWidget(views.NewSpacer(), 1.0)
	r.left.AddWidget(r.nprompt, 0.0)
	r.left.AddWidget(r.cprompt, 0.0)
	r.left.AddWidget(views.NewSpacer(), 1.0)

	r.right.AddWidget(views.NewSpacer(), 1.0)
	r.right.AddWidget(r.nfield, 0.0)
	r.right.AddWidget(r.cfield, 0.0)
	r.right.AddWidget(views.NewSpacer(), 1.0)

	r.hlayout.AddWidget(views.NewSpacer(), 1.0)
	r.hlayout.AddWidget(r.left, 0.0)
	r.hlayout.AddWidget(r.right, 0.0)
	r.hlayout.AddWidget(views.NewSpacer(), 1.0)

	r.SetTitle("Launch on " + server)
	r.SetStatus("An empty command runs the name")
	r.SetKeys([]string{"[ESC] Cancel", "[TAB] Next", "[ENTER] Launch"})
	r.SetContent(r.hlayout)

	return r
}

func (r *RunPanel) ResetFields() {
	r.cmdactive = false
	r.name = r.name[:0]
	r.command = r.command[:0]
}

func (r *RunPanel) Draw() {
	r.update()
	r.Panel.Draw()
}

func (r *RunPanel) active() *[]rune {
	if r.cmdactive {
		return &r.command
	}
	return &r.name
}

func (r *RunPanel) HandleEvent(ev tcell.Event) bool {
	switch ev := ev.(type) {
	case *tcell.EventKey:
		field := r.active()
		switch ev.Key() {
		case tcell.KeyEsc:
			r.App().ShowMain()
		case tcell.KeyTab:
			r.cmdactive = !r.cmdactive
		case tcell.KeyBacktab:
			r.cmdactive = false
		case tcell.KeyEnter:
			if len(r.name) == 0 {
				r.cmdactive = false
				return true
			}
			r.App().RunCommand(string(r.name), string(r.command))
			r.App().ShowMain()
		case tcell.KeyCtrlU, tcell.KeyCtrlW:
			*field = (*field)[:0]
		case tcell.KeyBackspace, tcell.KeyBackspace2:
			if n := len(*field); n > 0 {
				*field = (*field)[:n-1]
			}
		case tcell.KeyRune:
			if len(*field) < maxField {
				*field = append(*field, ev.Rune())
			}
		default:
			return false
		}
		return true
	}
	return r.Panel.HandleEvent(ev)
}

// prompt renders a field of width cells, scrolled so the end shows.
func prompt(text []rune, width int, active bool) string {
	p := append([]rune{}, text...)
	if active {
		p = append(p, '_')
	}
	if len(p) > width {
		p = p[len(p)-width:]
		p[0] = '<'
	}
	for len(p) < width {
		p = append(p, ' ')
	}
	return string(p)
}

// update must be called from the event loop.
func (r *RunPanel) update() {

	r.nfield.SetText(prompt(r.name, 20, !r.cmdactive))
	r.cfield.SetText(prompt(r.command, 40, r.cmdactive))

	focus := tcell.StyleDefault.
		Foreground(tcell.ColorWhite).Background(tcell.ColorNavy)

	if r.cmdactive {
		r.cfield.SetStyle(focus)
		r.nfield.SetStyle(StyleNormal)
	} else {
		r.nfield.SetStyle(focus)
		r.cfield.SetStyle(StyleNormal)
	}
	if len(r.name) == 0 {
		r.SetWarn()
	} else {
		r.SetNormal()
	}
}
