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
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcessStats is a point-in-time view of a running process, as seen by
// the operating system.
type ProcessStats struct {
	PID        int       `json:"pid"`
	CPUPercent float64   `json:"cpuPercent"`
	RSS        uint64    `json:"rss"`
	VMS        uint64    `json:"vms"`
	Threads    int32     `json:"threads"`
	Status     []string  `json:"status"`
	Created    time.Time `json:"created"`
}

// Stats inspects pid.  This reads from the OS and can be slow, so callers
// must not hold any lock while calling it.
func Stats(ctx context.Context, pid int) (*ProcessStats, error) {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotRunning, err)
	}
	st := &ProcessStats{PID: pid}
	if st.CPUPercent, err = p.CPUPercentWithContext(ctx); err != nil {
		return nil, err
	}
	mem, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		return nil, err
	}
	st.RSS = mem.RSS
	st.VMS = mem.VMS
	// These are best effort; not every platform has them.
	if n, err := p.NumThreadsWithContext(ctx); err == nil {
		st.Threads = n
	}
	if s, err := p.StatusWithContext(ctx); err == nil {
		st.Status = s
	}
	if ms, err := p.CreateTimeWithContext(ctx); err == nil {
		st.Created = time.UnixMilli(ms)
	}
	return st, nil
}

// Stats inspects the instance registered under pid.  The registry lock is
// only held for the lookup.
func (r *Registry) Stats(ctx context.Context, pid int) (*ProcessStats, error) {
	r.lock()
	e, ok := r.entries[pid]
	running := ok && e.status != StatusExited
	r.unlock()
	if !ok {
		return nil, ErrNoInstance
	}
	if !running {
		return nil, ErrNotRunning
	}
	return Stats(ctx, pid)
}
