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
	"time"
)

// MetricsCollector receives launch and lifecycle measurements.
type MetricsCollector interface {
	// LaunchSucceeded records a successful launch and how long it took.
	LaunchSucceeded(d time.Duration)

	// LaunchFailed records a failed launch, with a short reason.
	LaunchFailed(reason string)

	// InstanceCount records the number of registered instances.
	InstanceCount(n int)

	// InstanceExited records a process exit.
	InstanceExited(code int)

	// InstanceStopped records an explicit stop.
	InstanceStopped()

	// OperationRecorded records an operation appended to the log.
	OperationRecorded(t OperationType)
}

type noopMetricsCollector struct{}

func (*noopMetricsCollector) LaunchSucceeded(time.Duration)   {}
func (*noopMetricsCollector) LaunchFailed(string)             {}
func (*noopMetricsCollector) InstanceCount(int)               {}
func (*noopMetricsCollector) InstanceExited(int)              {}
func (*noopMetricsCollector) InstanceStopped()                {}
func (*noopMetricsCollector) OperationRecorded(OperationType) {}

// NewNoopMetricsCollector returns a collector that discards everything.
func NewNoopMetricsCollector() MetricsCollector {
	return &noopMetricsCollector{}
}

// failureReason maps a launch error onto a metric label.
func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrNoName):
		return "no_name"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInstrument):
		return "instrument"
	case errors.Is(err, ErrLaunchTimeout):
		return "timeout"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	default:
		return "spawn"
	}
}
