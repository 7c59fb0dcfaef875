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
	"sync"

	"github.com/gdamore/tcell/v2"
	"github.com/gdamore/tcell/v2/views"
)

// Panel is one screen: a title bar, a status bar whose color follows
// the state shown, the content, and a key bar at the bottom.
type Panel struct {
	tb   *TitleBar
	sb   *StatusBar
	kb   *KeyBar
	once sync.Once
	app  *App

	views.Panel
}

func (p *Panel) SetTitle(title string) {
	p.tb.SetTitle(title)
}

func (p *Panel) SetKeys(words []string) {
	p.kb.SetKeys(words)
}

func (p *Panel) SetStatus(status string) {
	p.sb.SetText(status)
}

func (p *Panel) SetLevel(l Level) {
	p.sb.SetLevel(l)
}

func (p *Panel) SetGood()   { p.SetLevel(LevelGood) }
func (p *Panel) SetNormal() { p.SetLevel(LevelNormal) }
func (p *Panel) SetWarn()   { p.SetLevel(LevelWarn) }
func (p *Panel) SetError()  { p.SetLevel(LevelError) }

func (p *Panel) Init(app *App) {
	p.once.Do(func() {
		p.app = app

		p.tb = NewTitleBar()
		p.tb.SetProgram(app.GetAppName())
		p.kb = NewKeyBar()
		p.sb = NewStatusBar()

		p.Panel.SetTitle(p.tb)
		p.Panel.SetMenu(p.sb)
		p.Panel.SetStatus(p.kb)
	})
}

func (p *Panel) App() *App {
	return p.app
}

// handleKeys does what every secondary screen does with a key: escape
// or Q goes back to the instance list, F1 or H shows help.
func (p *Panel) handleKeys(ev tcell.Event) bool {
	kev, ok := ev.(*tcell.EventKey)
	if !ok {
		return false
	}
	switch kev.Key() {
	case tcell.KeyEsc:
		p.app.ShowMain()
		return true
	case tcell.KeyF1:
		p.app.ShowHelp()
		return true
	case tcell.KeyRune:
		switch kev.Rune() {
		case 'Q', 'q':
			p.app.ShowMain()
			return true
		case 'H', 'h':
			p.app.ShowHelp()
			return true
		}
	}
	return false
}
