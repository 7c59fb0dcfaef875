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
	"strings"
	"sync"
	"time"
)

const (
	MaxLogRecords = 1000
)

// LogRecord is one line of output captured from an instance.
type LogRecord struct {
	Id   int64     `json:"id,string"`
	Time time.Time `json:"time"`
	Text string    `json:"text"`
}

// Log is a bounded ring of LogRecords.  Once full, the oldest lines are
// overwritten.
type Log struct {
	records []LogRecord
	written int // total lines ever written
	id      int64
	cvs     map[*sync.Cond]bool
	mx      sync.Mutex
}

func (log *Log) lock() {
	log.mx.Lock()
}

func (log *Log) unlock() {
	log.mx.Unlock()
}

// Write implements io.Writer.  Every newline delimited line becomes its own
// record; a trailing newline does not produce an empty record.
func (log *Log) Write(b []byte) (int, error) {
	str := strings.TrimRight(string(b), "\n")
	now := time.Now()
	log.lock()
	for _, line := range strings.Split(str, "\n") {
		idx := log.written % len(log.records)
		log.id++
		log.records[idx] = LogRecord{Id: log.id, Time: now, Text: line}
		log.written++
	}
	for cv := range log.cvs {
		cv.Broadcast()
	}
	log.unlock()
	return len(b), nil
}

// Records returns the stored records, oldest first, and an id suitable for
// use as an Etag.  If last matches the current id, nothing has changed and
// nil is returned without copying anything.  Ids are not unique across
// different Log instances.
func (log *Log) Records(last int64) ([]LogRecord, int64) {
	log.lock()
	defer log.unlock()
	if log.id == last {
		return nil, last
	}
	cnt := log.written
	if cnt > len(log.records) {
		cnt = len(log.records)
	}
	recs := make([]LogRecord, 0, cnt)
	for i := log.written - cnt; i < log.written; i++ {
		recs = append(recs, log.records[i%len(log.records)])
	}
	return recs, log.id
}

// Lines returns just the text of the stored records.
func (log *Log) Lines() []string {
	recs, _ := log.Records(-1)
	lines := make([]string, 0, len(recs))
	for _, r := range recs {
		lines = append(lines, r.Text)
	}
	return lines
}

// Watch waits until the log id differs from last, or until expire has
// passed, and returns the id at that point.  A zero expire just polls.
func (log *Log) Watch(last int64, expire time.Duration) int64 {
	expired := false
	var timer *time.Timer
	cv := sync.NewCond(&log.mx)
	if expire > 0 {
		timer = time.AfterFunc(expire, func() {
			log.lock()
			expired = true
			cv.Broadcast()
			log.unlock()
		})
	} else {
		expired = true
	}

	log.lock()
	log.cvs[cv] = true
	for log.id == last && !expired {
		cv.Wait()
	}
	delete(log.cvs, cv)
	last = log.id
	log.unlock()
	if timer != nil {
		timer.Stop()
	}
	return last
}

// NewLog returns a Log that keeps at most max records.
func NewLog(max int) *Log {
	if max <= 0 {
		max = MaxLogRecords
	}
	return &Log{
		records: make([]LogRecord, max),
		// Start from the clock, so that a restarted server does not
		// hand out Etags a client has already seen.
		id:  time.Now().UnixNano(),
		cvs: make(map[*sync.Cond]bool),
	}
}
