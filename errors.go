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
	"errors"
)

var (
	ErrNoName        = errors.New("Instance name is required")
	ErrNotFound      = errors.New("Executable not found")
	ErrSpawn         = errors.New("Failed to spawn process")
	ErrInstrument    = errors.New("Instrumentation failed")
	ErrLaunchTimeout = errors.New("Launch did not complete in time")
	ErrRateLimited   = errors.New("Launching too quickly")
	ErrNoInstance    = errors.New("No such instance")
	ErrNotRunning    = errors.New("Instance is not running")
	ErrUnsupported   = errors.New("Not supported on this platform")
	ErrNoTask        = errors.New("No such launch task")
)
