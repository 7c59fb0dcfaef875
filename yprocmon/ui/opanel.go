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
	"sort"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/gdamore/tcell/v2/views"

	"github.com/yprocmon/yprocmon"
)

// OpsPanel shows the operation feed, newest at the bottom.
type OpsPanel struct {
	text *views.TextArea

	Panel
}

func NewOpsPanel(app *App) *OpsPanel {
	p := &OpsPanel{}
	p.Panel.Init(app)

	p.text = views.NewTextArea()
	p.text.EnableCursor(false)
	p.text.SetStyle(StyleNormal)
	p.SetContent(p.text)
	p.SetTitle("Operations")
	p.SetKeys([]string{"[ESC] Main", "[H] Help"})

	return p
}

func (p *OpsPanel) Draw() {
	p.update()
	p.Panel.Draw()
}

func (p *OpsPanel) HandleEvent(ev tcell.Event) bool {
	if p.handleKeys(ev) {
		return true
	}
	return p.Panel.HandleEvent(ev)
}

// opLine formats an operation for the feed.  Detail keys are sorted so
// lines are stable between redraws.
func opLine(op yprocmon.Operation) string {
	keys := make([]string, 0, len(op.Detail))
	for k := range op.Detail {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	words := make([]string, 0, len(keys))
	for _, k := range keys {
		words = append(words, k+"="+op.Detail[k])
	}
	return strings.TrimRight(fmt.Sprintf("%s %-14s %7d %-16s %s",
		op.Time.Format(time.StampMilli), op.Type, op.PID, op.Name,
		strings.Join(words, " ")), " ")
}

// update must be called from the event loop.
func (p *OpsPanel) update() {
	ops, err := p.app.GetOperations()

	if err != nil {
		p.SetStatus(fmt.Sprintf("Cannot load operations: %v", err))
		p.SetError()
	} else {
		p.SetStatus(fmt.Sprintf("%d operations", len(ops)))
		p.SetNormal()
	}

	lines := make([]string, 0, len(ops))
	for _, op := range ops {
		lines = append(lines, opLine(op))
	}
	p.text.SetLines(lines)
}
