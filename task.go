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

package yprocmon

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TaskState is where a launch task is in its life.
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskRunning   TaskState = "running"
	TaskSucceeded TaskState = "succeeded"
	TaskFailed    TaskState = "failed"
	TaskCancelled TaskState = "cancelled"
)

// Done reports whether the state is final.
func (s TaskState) Done() bool {
	return s != TaskPending && s != TaskRunning
}

const (
	DefaultLaunchTimeout = time.Second * 30
	MaxTasks             = 256
)

// TaskInfo describes a launch task.
type TaskInfo struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Command   string     `json:"command"`
	State     TaskState  `json:"state"`
	PID       int        `json:"pid,omitempty"`
	Error     string     `json:"error,omitempty"`
	Submitted time.Time  `json:"submitted"`
	Finished  *time.Time `json:"finished,omitempty"`

	// Instance is set once the task succeeded.
	Instance *InstanceInfo `json:"instance,omitempty"`
}

type task struct {
	info   TaskInfo
	err    error
	cancel context.CancelFunc
	done   chan struct{}
}

// Tasks runs launches in the background, so that accepting a launch
// request is decoupled from the process being confirmed up.  Each launch is
// bounded by a timeout and can be cancelled.  A successful launch is
// inserted into the Registry before the task completes.
type Tasks struct {
	launcher *Launcher
	registry *Registry
	timeout  time.Duration
	tasks    map[string]*task
	order    []string
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	mx       sync.Mutex
}

// NewTasks returns a Tasks.  A zero timeout means DefaultLaunchTimeout.
func NewTasks(l *Launcher, r *Registry, timeout time.Duration) *Tasks {
	if timeout <= 0 {
		timeout = DefaultLaunchTimeout
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Tasks{
		launcher: l,
		registry: r,
		timeout:  timeout,
		tasks:    make(map[string]*task),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Submit starts launching command as name, and returns immediately.
func (t *Tasks) Submit(name string, command string) TaskInfo {
	if command == "" {
		command = name
	}
	ctx, cancel := context.WithTimeout(t.ctx, t.timeout)
	tk := &task{
		info: TaskInfo{
			ID:        uuid.NewString(),
			Name:      name,
			Command:   command,
			State:     TaskPending,
			Submitted: time.Now(),
		},
		cancel: cancel,
		done:   make(chan struct{}),
	}

	t.mx.Lock()
	t.tasks[tk.info.ID] = tk
	t.order = append(t.order, tk.info.ID)
	t.prune()
	info := tk.info
	t.mx.Unlock()

	t.wg.Add(1)
	go t.run(ctx, tk)
	return info
}

func (t *Tasks) run(ctx context.Context, tk *task) {
	defer t.wg.Done()
	defer close(tk.done)
	defer tk.cancel()

	t.mx.Lock()
	if tk.info.State == TaskPending {
		tk.info.State = TaskRunning
	}
	t.mx.Unlock()

	inst, err := t.launcher.Launch(ctx, tk.info.Name, tk.info.Command)
	var info InstanceInfo
	if err == nil {
		t.registry.Insert(inst)
		info, _ = t.registry.Get(inst.PID)
	}

	now := time.Now()
	t.mx.Lock()
	tk.info.Finished = &now
	tk.err = err
	switch {
	case err == nil:
		tk.info.State = TaskSucceeded
		tk.info.PID = inst.PID
		tk.info.Instance = &info
	case errors.Is(ctx.Err(), context.Canceled):
		tk.info.State = TaskCancelled
		tk.info.Error = err.Error()
	default:
		tk.info.State = TaskFailed
		tk.info.Error = err.Error()
	}
	t.mx.Unlock()
}

// prune forgets the oldest finished tasks once there are more than
// MaxTasks.  Call with lock held.
func (t *Tasks) prune() {
	if len(t.order) <= MaxTasks {
		return
	}
	keep := t.order[:0]
	excess := len(t.order) - MaxTasks
	for _, id := range t.order {
		if tk := t.tasks[id]; excess > 0 && tk.info.State.Done() {
			delete(t.tasks, id)
			excess--
			continue
		}
		keep = append(keep, id)
	}
	t.order = keep
}

// Get returns the current state of task id.
func (t *Tasks) Get(id string) (TaskInfo, error) {
	t.mx.Lock()
	defer t.mx.Unlock()
	tk, ok := t.tasks[id]
	if !ok {
		return TaskInfo{}, ErrNoTask
	}
	return tk.info, nil
}

// Cancel abandons task id if it has not finished yet.  A process that comes
// up after the cancellation is killed by the Launcher.
func (t *Tasks) Cancel(id string) error {
	t.mx.Lock()
	tk, ok := t.tasks[id]
	t.mx.Unlock()
	if !ok {
		return ErrNoTask
	}
	tk.cancel()
	return nil
}

// Wait blocks until task id has finished or ctx is done.  When the task
// finished, the returned error is the launch error, if any.
func (t *Tasks) Wait(ctx context.Context, id string) (TaskInfo, error) {
	t.mx.Lock()
	tk, ok := t.tasks[id]
	t.mx.Unlock()
	if !ok {
		return TaskInfo{}, ErrNoTask
	}
	select {
	case <-tk.done:
	case <-ctx.Done():
		info, _ := t.Get(id)
		return info, ctx.Err()
	}
	t.mx.Lock()
	defer t.mx.Unlock()
	return tk.info, tk.err
}

// Launch submits a task and waits for it.  This is the synchronous form of
// Submit; if ctx ends first the launch carries on in the background.
func (t *Tasks) Launch(ctx context.Context, name string, command string) (TaskInfo, error) {
	info := t.Submit(name, command)
	return t.Wait(ctx, info.ID)
}

// Close cancels all pending tasks and waits for them to finish.
func (t *Tasks) Close() {
	t.cancel()
	t.wg.Wait()
}
