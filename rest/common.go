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

// Package rest implements the yprocmon control API over HTTP, and a Go
// client for it.  Everything is JSON; collections support Etag based
// caching and long polling.
package rest

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/yprocmon/yprocmon"
)

const (
	mimeJson = "application/json; charset=UTF-8"

	// PollEtagHeader carries the Etag a long poll waits to change from.
	PollEtagHeader = "X-Yprocmon-Poll-Etag"

	// PollTimeHeader carries how many seconds a long poll may wait.
	PollTimeHeader = "X-Yprocmon-Poll-Time"

	// MaxPollTime caps the wait of a single long poll, in seconds.
	MaxPollTime = 300
)

// Ping is the reply to /api/ping.
type Ping struct {
	Ping bool `json:"ping"`
}

// RunResult is the body of a failed launch.
type RunResult struct {
	Run     bool   `json:"run"`
	Message string `json:"message,omitempty"`
}

// StopResult is the reply to /api/stop.
type StopResult struct {
	Stop    bool   `json:"stop"`
	Message string `json:"message,omitempty"`
}

// UploadError is the body of a rejected upload.
type UploadError struct {
	Error   bool   `json:"error"`
	Message string `json:"message,omitempty"`
}

// Report is what an instrumented process posts to /api/operations.
type Report struct {
	PID    int                    `json:"pid"`
	Name   string                 `json:"name,omitempty"`
	Type   yprocmon.OperationType `json:"type"`
	Detail map[string]string      `json:"detail,omitempty"`
}

type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return e.Message
}

func makeEtag(serial int64) string {
	return fmt.Sprintf("\"%x\"", serial)
}

func parseEtag(tag string) (int64, bool) {
	tag = strings.TrimPrefix(tag, "W/")
	tag = strings.Trim(tag, "\"")
	v, err := strconv.ParseInt(tag, 16, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
