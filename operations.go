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
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// OperationType names what happened.  The core emits the types declared
// here; instrumented processes report their own (for example "CreateFileW"
// or "connect").
type OperationType string

const (
	OpSpawn        OperationType = "spawn"
	OpExit         OperationType = "exit"
	OpStop         OperationType = "stop"
	OpLaunchFailed OperationType = "launch-failed"
)

const (
	MaxOperations = 10000
)

// Operation is one immutable event in the OperationLog.
type Operation struct {
	ID     string            `json:"id"`
	Time   time.Time         `json:"time"`
	PID    int               `json:"pid"`
	Name   string            `json:"name,omitempty"`
	Type   OperationType     `json:"type"`
	Detail map[string]string `json:"detail,omitempty"`
}

// Sink receives a copy of every appended operation.  Sinks are called
// outside of the log's lock, in append order for a given goroutine.
type Sink interface {
	Record(op Operation) error
}

// OperationLog is an append-only sequence of operations with
// non-decreasing timestamps.  When it grows past its bound, the oldest
// operations are discarded.  All methods are safe on a nil log, which
// records nothing.
type OperationLog struct {
	ops    []Operation
	max    int
	id     int64
	sinks  []Sink
	logger logrus.FieldLogger
	cvs    map[*sync.Cond]bool
	mx     sync.Mutex
}

func (l *OperationLog) lock() {
	l.mx.Lock()
}

func (l *OperationLog) unlock() {
	l.mx.Unlock()
}

// AddSink registers a sink.
func (l *OperationLog) AddSink(s Sink) {
	if l == nil {
		return
	}
	l.lock()
	l.sinks = append(l.sinks, s)
	l.unlock()
}

// SetLogger sets where sink failures are reported.
func (l *OperationLog) SetLogger(logger logrus.FieldLogger) {
	if l == nil || logger == nil {
		return
	}
	l.lock()
	l.logger = logger
	l.unlock()
}

// Append stores op at the tail of the log and returns it as stored.  An ID
// is assigned if missing.  A zero Time means now.  The stored time is never
// earlier than that of the previous operation, so the log stays sorted even
// if the clock steps backwards or a reporter supplies a stale timestamp.
func (l *OperationLog) Append(op Operation) Operation {
	if l == nil {
		return op
	}
	if op.ID == "" {
		op.ID = uuid.NewString()
	}
	if op.Time.IsZero() {
		op.Time = time.Now()
	}
	// Wall clock only, so ordering agrees with the serialized times.
	op.Time = op.Time.Round(0)
	if op.Detail != nil {
		d := make(map[string]string, len(op.Detail))
		for k, v := range op.Detail {
			d[k] = v
		}
		op.Detail = d
	}

	l.lock()
	if n := len(l.ops); n > 0 && op.Time.Before(l.ops[n-1].Time) {
		op.Time = l.ops[n-1].Time
	}
	if len(l.ops) >= l.max {
		// Drop a tenth at a time, so we aren't copying on every append.
		drop := l.max / 10
		if drop < 1 {
			drop = 1
		}
		l.ops = append(l.ops[:0], l.ops[drop:]...)
	}
	l.ops = append(l.ops, op)
	l.id++
	for cv := range l.cvs {
		cv.Broadcast()
	}
	sinks := l.sinks
	logger := l.logger
	l.unlock()

	for _, s := range sinks {
		if err := s.Record(op); err != nil {
			logger.WithError(err).WithField("op", op.ID).Warn("Failed to record operation")
		}
	}
	return op
}

// Since returns the operations strictly after t, and the current log id.
func (l *OperationLog) Since(t time.Time) ([]Operation, int64) {
	if l == nil {
		return []Operation{}, 0
	}
	l.lock()
	defer l.unlock()
	start := sort.Search(len(l.ops), func(i int) bool {
		return l.ops[i].Time.After(t)
	})
	rv := make([]Operation, len(l.ops)-start)
	copy(rv, l.ops[start:])
	return rv, l.id
}

// All returns every retained operation, and the current log id.
func (l *OperationLog) All() ([]Operation, int64) {
	if l == nil {
		return []Operation{}, 0
	}
	l.lock()
	defer l.unlock()
	rv := make([]Operation, len(l.ops))
	copy(rv, l.ops)
	return rv, l.id
}

// Len returns the number of retained operations.
func (l *OperationLog) Len() int {
	if l == nil {
		return 0
	}
	l.lock()
	defer l.unlock()
	return len(l.ops)
}

// Watch waits until the log id differs from last or expire has passed.
func (l *OperationLog) Watch(last int64, expire time.Duration) int64 {
	if l == nil {
		return last
	}
	expired := false
	var timer *time.Timer
	cv := sync.NewCond(&l.mx)
	if expire > 0 {
		timer = time.AfterFunc(expire, func() {
			l.lock()
			expired = true
			cv.Broadcast()
			l.unlock()
		})
	} else {
		expired = true
	}

	l.lock()
	l.cvs[cv] = true
	for l.id == last && !expired {
		cv.Wait()
	}
	delete(l.cvs, cv)
	last = l.id
	l.unlock()
	if timer != nil {
		timer.Stop()
	}
	return last
}

// NewOperationLog returns a log that retains at most max operations.
func NewOperationLog(max int) *OperationLog {
	if max <= 0 {
		max = MaxOperations
	}
	return &OperationLog{
		max:    max,
		id:     time.Now().UnixNano(),
		logger: logrus.StandardLogger(),
		cvs:    make(map[*sync.Cond]bool),
	}
}
