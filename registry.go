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
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// entry is what the Registry stores per process id.  The status fields are
// only read or written with the registry lock held.
type entry struct {
	inst     *Instance
	status   Status
	exitCode int
	exitTime time.Time
	err      string
}

// info copies the entry into an InstanceInfo.  It is called with the
// registry lock held, so it must not block or take other locks.
func (e *entry) info() InstanceInfo {
	inst := e.inst
	info := InstanceInfo{
		PID:          inst.PID,
		Name:         inst.Name,
		Command:      inst.Command,
		Path:         inst.Launch.Path,
		Args:         copyArray(inst.Launch.Args),
		Pgid:         inst.Launch.Pgid,
		Started:      inst.Launch.Started,
		Instrumenter: inst.Launch.Instrumenter,
		Suspended:    inst.Launch.Suspended,
		Status:       e.status,
		Error:        e.err,
	}
	if e.status == StatusExited {
		code := e.exitCode
		stamp := e.exitTime
		info.ExitCode = &code
		info.Exited = &stamp
	}
	return info
}

// Registry is the table of tracked instances, keyed by process id.  Every
// access goes through a single mutex, and the mutex is never held across
// process creation, signalling, or any other I/O.
type Registry struct {
	entries    map[int]*entry
	name       string
	logger     logrus.FieldLogger
	ops        *OperationLog
	metrics    MetricsCollector
	stopTime   time.Duration
	reapExited bool
	serial     int64
	listSerial int64
	listStamp  time.Time
	createTime time.Time
	updateTime time.Time
	mx         sync.Mutex
	cvs        map[*sync.Cond]bool
}

// RegistryInfo is top-level information about a Registry.
type RegistryInfo struct {
	Name       string    `json:"name"`
	Serial     int64     `json:"serial,string"`
	Instances  int       `json:"instances"`
	CreateTime time.Time `json:"created"`
	UpdateTime time.Time `json:"updated"`
}

func (r *Registry) lock() {
	r.mx.Lock()
}

func (r *Registry) unlock() {
	r.mx.Unlock()
}

func (r *Registry) wakeUp() {
	// NB: the lock must be held here, or woken watchers may miss the
	// updated serial.
	for cv := range r.cvs {
		cv.Broadcast()
	}
}

// bumpSerial increments the serial and notifies watchers, returning the
// new value.  Call with lock held.
func (r *Registry) bumpSerial() int64 {
	r.updateTime = time.Now()
	r.serial++
	r.wakeUp()
	return r.serial
}

// watchSerial waits for *src to differ from old, or for expire to pass,
// and returns the value of *src at that point.  A zero expire just polls.
func (r *Registry) watchSerial(old int64, src *int64, expire time.Duration) int64 {
	expired := false
	cv := sync.NewCond(&r.mx)
	var timer *time.Timer
	var rv int64

	if expire > 0 {
		timer = time.AfterFunc(expire, func() {
			r.lock()
			expired = true
			cv.Broadcast()
			r.unlock()
		})
	} else {
		expired = true
	}

	r.lock()
	r.cvs[cv] = true
	for {
		rv = *src
		if rv != old || expired {
			break
		}
		cv.Wait()
	}
	delete(r.cvs, cv)
	r.unlock()
	if timer != nil {
		timer.Stop()
	}
	return rv
}

// WatchSerial waits for any change to the registry, including status
// changes of existing instances.
func (r *Registry) WatchSerial(old int64, expire time.Duration) int64 {
	return r.watchSerial(old, &r.serial, expire)
}

// WatchInstances waits for an instance to be added or removed.
func (r *Registry) WatchInstances(old int64, expire time.Duration) int64 {
	return r.watchSerial(old, &r.listSerial, expire)
}

// Serial returns the global serial number.
func (r *Registry) Serial() int64 {
	r.lock()
	defer r.unlock()
	return r.serial
}

// Name returns the name the registry was created with.
func (r *Registry) Name() string {
	return r.name
}

// Info returns a consistent summary of the registry.
func (r *Registry) Info() RegistryInfo {
	r.lock()
	defer r.unlock()
	return RegistryInfo{
		Name:       r.name,
		Serial:     r.serial,
		Instances:  len(r.entries),
		CreateTime: r.createTime,
		UpdateTime: r.updateTime,
	}
}

// Insert registers inst under its process id, replacing any entry already
// there.  If the instance was started by a Launcher, its exit is recorded
// when it happens.
func (r *Registry) Insert(inst *Instance) {
	r.lock()
	r.entries[inst.PID] = &entry{inst: inst, status: StatusRunning}
	r.listSerial = r.bumpSerial()
	r.listStamp = time.Now()
	n := len(r.entries)
	r.unlock()

	r.metrics.InstanceCount(n)
	if inst.done != nil {
		go r.reap(inst)
	}
}

// reap waits for inst to exit and records its exit status, provided it is
// still the instance registered under its pid.
func (r *Registry) reap(inst *Instance) {
	<-inst.done
	res := inst.result

	r.lock()
	e, ok := r.entries[inst.PID]
	if !ok || e.inst != inst {
		r.unlock()
		return
	}
	stopping := e.status == StatusStopping
	e.status = StatusExited
	e.exitCode = res.Code
	e.exitTime = res.Time
	e.err = res.Error
	removed := false
	if r.reapExited && !stopping {
		delete(r.entries, inst.PID)
		r.listSerial = r.bumpSerial()
		r.listStamp = time.Now()
		removed = true
	} else {
		r.bumpSerial()
	}
	n := len(r.entries)
	r.unlock()

	if removed {
		r.metrics.InstanceCount(n)
		r.logger.WithField("pid", inst.PID).Debug("Reaped exited instance")
	}
}

// Snapshot returns every instance, ordered by process id, along with the
// registry serial and the time an instance was last added or removed.
func (r *Registry) Snapshot() ([]InstanceInfo, int64, time.Time) {
	r.lock()
	rv := make([]InstanceInfo, 0, len(r.entries))
	for _, e := range r.entries {
		rv = append(rv, e.info())
	}
	sn := r.serial
	ts := r.listStamp
	r.unlock()

	sort.Slice(rv, func(i, j int) bool {
		return rv[i].PID < rv[j].PID
	})
	return rv, sn, ts
}

// Get returns the instance registered under pid.
func (r *Registry) Get(pid int) (InstanceInfo, bool) {
	r.lock()
	defer r.unlock()
	if e, ok := r.entries[pid]; ok {
		return e.info(), true
	}
	return InstanceInfo{}, false
}

// Log returns the output log of the instance registered under pid.
func (r *Registry) Log(pid int) (*Log, bool) {
	r.lock()
	defer r.unlock()
	if e, ok := r.entries[pid]; ok && e.inst.log != nil {
		return e.inst.log, true
	}
	return nil, false
}

// Remove drops the entry for pid, without signalling the process.  It
// reports whether there was an entry.
func (r *Registry) Remove(pid int) bool {
	r.lock()
	_, ok := r.entries[pid]
	if ok {
		delete(r.entries, pid)
		r.listSerial = r.bumpSerial()
		r.listStamp = time.Now()
	}
	n := len(r.entries)
	r.unlock()
	if ok {
		r.metrics.InstanceCount(n)
	}
	return ok
}

// Stop terminates the instance registered under pid and removes it.  The
// process group gets SIGTERM, then SIGKILL if it is still around after the
// grace period, or as soon as ctx is done.  An instance that already
// exited is just removed.
func (r *Registry) Stop(ctx context.Context, pid int) error {
	r.lock()
	e, ok := r.entries[pid]
	if !ok {
		r.unlock()
		return ErrNoInstance
	}
	inst := e.inst
	exited := e.status == StatusExited
	if !exited {
		e.status = StatusStopping
		r.bumpSerial()
	}
	r.unlock()

	var err error
	if !exited {
		r.logger.WithFields(logrus.Fields{"pid": pid, "name": inst.Name}).Info("Stopping")
		err = inst.stop(ctx, r.stopTime)
	}

	r.lock()
	if cur, ok := r.entries[pid]; ok && cur.inst == inst {
		delete(r.entries, pid)
		r.listSerial = r.bumpSerial()
		r.listStamp = time.Now()
	}
	n := len(r.entries)
	r.unlock()

	r.metrics.InstanceCount(n)
	r.metrics.InstanceStopped()
	detail := map[string]string{}
	if err != nil {
		detail["error"] = err.Error()
		r.logger.WithField("pid", pid).WithError(err).Warn("Stop failed")
	}
	if r.ops != nil {
		r.ops.Append(Operation{PID: pid, Name: inst.Name, Type: OpStop, Detail: detail})
		r.metrics.OperationRecorded(OpStop)
	}
	return err
}

// Shutdown stops every instance.  It is meant for daemon exit.
func (r *Registry) Shutdown(ctx context.Context) {
	r.lock()
	pids := make([]int, 0, len(r.entries))
	for pid := range r.entries {
		pids = append(pids, pid)
	}
	r.unlock()

	var wg sync.WaitGroup
	for _, pid := range pids {
		wg.Add(1)
		go func(pid int) {
			defer wg.Done()
			r.Stop(ctx, pid)
		}(pid)
	}
	wg.Wait()
	r.logger.Infof("*** yprocmon shut down: %s ***", r.name)
}

// NewRegistry returns an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	s := applyOptions(opts)
	now := time.Now()
	// Serials start at the clock, so a client polling with an Etag from a
	// previous server run is told something changed.
	r := &Registry{
		entries:    make(map[int]*entry),
		name:       s.name,
		logger:     s.logger,
		ops:        s.ops,
		metrics:    s.metrics,
		stopTime:   s.stopTime,
		reapExited: s.reapExited,
		serial:     now.UnixNano(),
		createTime: now,
		updateTime: now,
		listStamp:  now,
		cvs:        make(map[*sync.Cond]bool),
	}
	r.listSerial = r.serial
	return r
}
