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
	"io"
	"strings"
	"sync"
)

// MultiWriter fans lines out to several writers.  Each Write is expected
// to carry whole lines, which is how the launcher feeds it.  A failing
// writer does not stop delivery to the others.
type MultiWriter struct {
	writers []io.Writer
	lock    sync.Mutex
}

// Write implements io.Writer.
func (m *MultiWriter) Write(b []byte) (int, error) {
	lines := strings.Split(strings.TrimRight(string(b), "\n"), "\n")
	m.lock.Lock()
	defer m.lock.Unlock()
	for _, line := range lines {
		for _, w := range m.writers {
			io.WriteString(w, line+"\n")
		}
	}
	return len(b), nil
}

// AddWriter adds a destination.  Adding the same writer twice is a no-op.
func (m *MultiWriter) AddWriter(w io.Writer) {
	m.lock.Lock()
	defer m.lock.Unlock()
	for _, x := range m.writers {
		if x == w {
			return
		}
	}
	m.writers = append(m.writers, w)
}

// DelWriter removes a destination.
func (m *MultiWriter) DelWriter(w io.Writer) {
	m.lock.Lock()
	defer m.lock.Unlock()
	for i, x := range m.writers {
		if x == w {
			m.writers = append(m.writers[:i], m.writers[i+1:]...)
			break
		}
	}
}

func NewMultiWriter(writers ...io.Writer) *MultiWriter {
	m := &MultiWriter{}
	for _, w := range writers {
		m.AddWriter(w)
	}
	return m
}
