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

// Level is how good or bad the state shown by a screen is.
type Level int

const (
	LevelNormal Level = iota
	LevelGood
	LevelWarn
	LevelError
)

var levelStyles = map[Level]tcell.Style{
	LevelNormal: tcell.StyleDefault.
		Foreground(tcell.ColorBlack).
		Background(tcell.ColorSilver),
	LevelGood: tcell.StyleDefault.
		Foreground(tcell.ColorWhite).
		Background(tcell.ColorGreen).
		Bold(true),
	LevelWarn: tcell.StyleDefault.
		Foreground(tcell.ColorBlack).
		Background(tcell.ColorYellow),
	LevelError: tcell.StyleDefault.
		Foreground(tcell.ColorWhite).
		Background(tcell.ColorMaroon).
		Bold(true),
}

// StatusBar is like a titlebar, but it changes color with the Level of
// what the screen shows, e.g. red when an instance failed.
type StatusBar struct {
	once   sync.Once
	status string
	level  Level
	views.SimpleStyledTextBar
}

func (sb *StatusBar) Init() {
	sb.once.Do(func() {
		sb.SimpleStyledTextBar.Init()
		sb.SetLevel(LevelNormal)
	})
}

func (sb *StatusBar) SetLevel(l Level) {
	style, ok := levelStyles[l]
	if !ok {
		style = levelStyles[LevelNormal]
	}
	sb.level = l
	sb.SimpleStyledTextBar.SetStyle(style)
	sb.SimpleStyledTextBar.RegisterLeftStyle('N', style)
	sb.SimpleStyledTextBar.SetLeft(escape(sb.status))
}

func (sb *StatusBar) Level() Level {
	return sb.level
}

func (sb *StatusBar) SetText(status string) {
	sb.status = status
	sb.SetLeft(escape(status))
}

func NewStatusBar() *StatusBar {
	sb := &StatusBar{}
	sb.Init()
	return sb
}
