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
	"sync"

	"github.com/gdamore/tcell/v2"
	"github.com/gdamore/tcell/v2/views"
)

var (
	barNormal = tcell.StyleDefault.
			Foreground(tcell.ColorBlack).
			Background(tcell.ColorSilver)
	barTitle = barNormal.Foreground(tcell.ColorNavy)
	barKey   = barNormal.Foreground(tcell.ColorBlue).Bold(true)
)

// escape quotes text for a styled text bar, where % starts markup.
func escape(s string) string {
	return strings.ReplaceAll(s, "%", "%%")
}

// TitleBar shows what the screen is about in the center, and the
// program on the right.
type TitleBar struct {
	once sync.Once
	views.SimpleStyledTextBar
}

func (tb *TitleBar) Init() {
	tb.once.Do(func() {
		tb.SimpleStyledTextBar.Init()
		tb.SetStyle(barNormal)
		tb.RegisterCenterStyle('N', barNormal)
		tb.RegisterCenterStyle('A', barTitle)
		tb.RegisterRightStyle('N', barNormal)
	})
}

func (tb *TitleBar) SetTitle(title string) {
	tb.SetCenter("%A" + escape(title))
}

func (tb *TitleBar) SetProgram(name string) {
	tb.SetRight(escape(name))
}

func NewTitleBar() *TitleBar {
	tb := &TitleBar{}
	tb.Init()
	return tb
}
