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

// Package ui is the terminal user interface of the yprocmon client.
package ui

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/gdamore/tcell/v2/views"
	"github.com/sirupsen/logrus"

	"github.com/yprocmon/yprocmon"
	"github.com/yprocmon/yprocmon/rest"
	"github.com/yprocmon/yprocmon/yprocmon/util"
)

// MaxOperations is how many operations the operations screen keeps.
const MaxOperations = 500

type App struct {
	app       *views.Application
	view      views.View
	panel     views.Widget
	info      *InfoPanel
	help      *HelpPanel
	log       *LogPanel
	main      *MainPanel
	run       *RunPanel
	ops       *OpsPanel
	client    *rest.Client
	logger    logrus.FieldLogger
	err       error
	items     []*yprocmon.InstanceInfo
	logPid    int
	logInfo   *rest.LogInfo
	logErr    error
	logCancel context.CancelFunc
	opList    []yprocmon.Operation
	opErr     error
	notice    string
	noticeErr bool

	// mx guards the data filled in by the refresh goroutines.  Posted
	// events are lost before the screen is up, so they are not used to
	// carry data.
	mx sync.Mutex

	views.WidgetWatchers
}

func (a *App) show(w views.Widget) {
	if w != a.panel {
		a.panel.SetView(nil)
		a.panel = w
	}
	a.panel.SetView(a.view)
	a.panel.Resize()
	a.app.Refresh()
}

func (a *App) ShowHelp() {
	a.show(a.help)
}

func (a *App) ShowInfo(pid int) {
	a.info.SetPid(pid)
	a.show(a.info)
}

func (a *App) ShowLog(pid int) {
	if a.logCancel != nil {
		a.logCancel()
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Hour)
	a.mx.Lock()
	a.logInfo = nil
	a.logErr = nil
	a.logPid = pid
	a.mx.Unlock()
	a.logCancel = cancel
	a.log.SetPid(pid)
	go a.refreshLog(ctx, pid)

	a.show(a.log)
}

func (a *App) ShowMain() {
	a.show(a.main)
}

func (a *App) ShowRun() {
	a.run.ResetFields()
	a.show(a.run)
}

func (a *App) ShowOperations() {
	a.show(a.ops)
}

// setNotice reports the outcome of the last action, in the main status
// bar.  Must be called from the event loop.
func (a *App) setNotice(msg string, err error) {
	if err != nil {
		a.notice = fmt.Sprintf("%s: %v", msg, err)
		a.noticeErr = true
	} else {
		a.notice = msg
		a.noticeErr = false
	}
	a.app.Update()
}

// Notice returns the outcome of the last action, if any.
func (a *App) Notice() (string, bool) {
	return a.notice, a.noticeErr
}

// StopInstance stops pid in the background; the outcome shows up as a
// notice.
func (a *App) StopInstance(pid int) {
	a.setNotice(fmt.Sprintf("Stopping %d", pid), nil)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		e := a.client.Stop(ctx, pid)
		a.Logf("Stop %d: %v", pid, e)
		a.app.PostFunc(func() {
			if e != nil {
				a.setNotice(fmt.Sprintf("Stop %d failed", pid), e)
			} else {
				a.setNotice(fmt.Sprintf("Stopped %d", pid), nil)
			}
		})
	}()
}

// RunCommand launches command as name in the background.
func (a *App) RunCommand(name string, command string) {
	a.setNotice(fmt.Sprintf("Launching %s", name), nil)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		info, e := a.client.Run(ctx, name, command)
		a.app.PostFunc(func() {
			if e != nil {
				a.setNotice(fmt.Sprintf("Launch of %s failed", name), e)
			} else {
				a.setNotice(fmt.Sprintf("Launched %s as %d", name, info.PID), nil)
			}
		})
	}()
}

func (a *App) Quit() {
	/* This just posts the quit event. */
	a.app.Quit()
}

func (a *App) SetLogger(logger logrus.FieldLogger) {
	a.logger = logger
	if logger != nil {
		logger.Debug("Start logger")
	}
}

func (a *App) Logf(fmt string, v ...interface{}) {
	if a.logger != nil {
		a.logger.Debugf(fmt, v...)
	}
}

func (a *App) HandleEvent(ev tcell.Event) bool {
	switch ev := ev.(type) {
	case *tcell.EventKey:
		switch ev.Key() {
		// Intercept a few control keys up front, for global handling.
		case tcell.KeyCtrlC:
			a.Quit()
			return true
		case tcell.KeyCtrlL:
			a.app.Refresh()
			return true
		}
	}

	if a.panel != nil {
		return a.panel.HandleEvent(ev)
	}
	return false
}

func (a *App) Draw() {
	if a.panel != nil {
		a.panel.Draw()
	}
}

func (a *App) Resize() {
	if a.panel != nil {
		a.panel.Resize()
	}
}

func (a *App) SetView(view views.View) {
	a.view = view
	if a.panel != nil {
		a.panel.SetView(view)
	}
}

func (a *App) Size() (int, int) {
	if a.panel != nil {
		return a.panel.Size()
	}
	return 0, 0
}

func (a *App) GetClient() *rest.Client {
	return a.client
}

func (a *App) GetAppName() string {
	return "Yprocmon v1.0"
}

func NewApp(client *rest.Client, url string) *App {

	app := &App{}
	app.app = &views.Application{}
	app.client = client
	app.info = NewInfoPanel(app)
	app.help = NewHelpPanel(app)
	app.log = NewLogPanel(app)
	app.main = NewMainPanel(app, url)
	app.run = NewRunPanel(app, url)
	app.ops = NewOpsPanel(app)
	app.panel = app.main

	return app
}

// refresh keeps the app items current, long polling the server.
func (a *App) refresh(ctx context.Context) {
	etag := ""
	for ctx.Err() == nil {
		list, tag, e := a.client.WatchInstances(ctx, etag)
		if e == nil {
			etag = tag
		}
		items := util.Pointers(list)
		util.SortInstances(items)

		a.mx.Lock()
		a.items = items
		a.err = e
		a.mx.Unlock()
		a.app.Update()
		if e != nil {
			select {
			case <-ctx.Done():
			case <-time.After(2 * time.Second):
			}
		}
	}
}

// refreshOps keeps the operations feed current.
func (a *App) refreshOps(ctx context.Context) {
	etag := ""
	for ctx.Err() == nil {
		ops, tag, e := a.client.WatchOperations(ctx, time.Time{}, etag)
		if e == nil {
			changed := tag != etag
			etag = tag
			if len(ops) > MaxOperations {
				ops = ops[len(ops)-MaxOperations:]
			}
			if !changed {
				continue
			}
		}
		a.mx.Lock()
		if e == nil {
			a.opList = ops
		}
		a.opErr = e
		a.mx.Unlock()
		a.app.Update()
		if e != nil {
			select {
			case <-ctx.Done():
			case <-time.After(2 * time.Second):
			}
		}
	}
}

func (a *App) refreshLog(ctx context.Context, pid int) {
	info, e := a.client.Log(ctx, pid)

	for {
		a.mx.Lock()
		if a.logPid == pid {
			a.logInfo = info
			a.logErr = e
		}
		a.mx.Unlock()
		a.app.Update()
		select {
		case <-ctx.Done():
			return
		default:
		}
		if e != nil {
			select {
			case <-ctx.Done():
				return
			case <-time.After(2 * time.Second):
			}
			info, e = a.client.Log(ctx, pid)
			continue
		}
		info, e = a.client.WatchLog(ctx, pid, info)
	}
}

func (a *App) GetItems() ([]*yprocmon.InstanceInfo, error) {
	a.mx.Lock()
	defer a.mx.Unlock()
	return a.items, a.err
}

func (a *App) GetItem(pid int) (*yprocmon.InstanceInfo, error) {
	a.mx.Lock()
	defer a.mx.Unlock()
	if a.err != nil {
		return nil, a.err
	}
	for _, i := range a.items {
		if i.PID == pid {
			return i, nil
		}
	}
	return nil, errors.New("Instance not found")
}

func (a *App) GetLog(pid int) (*rest.LogInfo, error) {
	a.mx.Lock()
	defer a.mx.Unlock()
	if a.logPid == pid {
		return a.logInfo, a.logErr
	}
	return nil, nil
}

func (a *App) GetOperations() ([]yprocmon.Operation, error) {
	a.mx.Lock()
	defer a.mx.Unlock()
	return a.opList, a.opErr
}

func (a *App) Run() error {
	a.Logf("Starting up user interface")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.app.SetRootWidget(a)
	a.ShowMain()
	go a.refresh(ctx)
	go a.refreshOps(ctx)
	go func() {
		// Give us periodic updates, so uptimes move.
		for ctx.Err() == nil {
			a.app.Update()
			time.Sleep(time.Second)
		}
	}()
	a.Logf("Starting app loop")
	err := a.app.Run()
	if a.logCancel != nil {
		a.logCancel()
	}
	return err
}
