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
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// DefaultStopTime is how long Stop waits after SIGTERM before it kills
// the process group.
const DefaultStopTime = time.Second * 10

// OutputDrainTime is how long output is still read after a launched
// process exits, for descendants that inherited its stdout or stderr.
const OutputDrainTime = time.Second

// settings collects everything the Option functions can change.  The
// Registry and the Launcher each pick out the parts they use.
type settings struct {
	name         string
	logger       logrus.FieldLogger
	ops          *OperationLog
	metrics      MetricsCollector
	instrumenter Instrumenter
	limiter      *rate.Limiter
	suspend      bool
	stopTime     time.Duration
	reapExited   bool
	dir          string
	env          []string
	maxLog       int
}

func defaultSettings() settings {
	return settings{
		name:         "yprocmon",
		logger:       logrus.StandardLogger(),
		metrics:      NewNoopMetricsCollector(),
		instrumenter: NopInstrumenter(),
		stopTime:     DefaultStopTime,
		maxLog:       MaxLogRecords,
	}
}

// Option configures a Registry or a Launcher.
type Option func(*settings)

// WithName sets the name reported by the Registry.
func WithName(name string) Option {
	return func(s *settings) {
		if name != "" {
			s.name = name
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(s *settings) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithOperations sets the log that spawn, exit and stop events go to.
func WithOperations(ops *OperationLog) Option {
	return func(s *settings) {
		s.ops = ops
	}
}

// WithMetricsCollector sets the metrics collector.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(s *settings) {
		if mc != nil {
			s.metrics = mc
		}
	}
}

// WithInstrumenter sets the instrumenter used by the Launcher.
func WithInstrumenter(in Instrumenter) Option {
	return func(s *settings) {
		if in != nil {
			s.instrumenter = in
		}
	}
}

// WithRateLimit limits how many launches may happen per second, with the
// given burst.  A zero limit disables the limiter.
func WithRateLimit(limit float64, burst int) Option {
	return func(s *settings) {
		if limit <= 0 {
			s.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(limit), burst)
	}
}

// WithSuspend makes the Launcher start processes suspended, so that the
// instrumenter attaches before the first instruction of the target runs.
func WithSuspend(suspend bool) Option {
	return func(s *settings) {
		s.suspend = suspend
	}
}

// WithStopTime sets the grace period between SIGTERM and SIGKILL.
func WithStopTime(d time.Duration) Option {
	return func(s *settings) {
		if d > 0 {
			s.stopTime = d
		}
	}
}

// WithReapExited makes the Registry drop instances as soon as they exit,
// instead of keeping them around in the exited state.
func WithReapExited(reap bool) Option {
	return func(s *settings) {
		s.reapExited = reap
	}
}

// WithDir sets the working directory for launched processes.
func WithDir(dir string) Option {
	return func(s *settings) {
		s.dir = dir
	}
}

// WithEnv adds KEY=VALUE pairs to the environment of launched processes.
func WithEnv(env ...string) Option {
	return func(s *settings) {
		s.env = append(s.env, env...)
	}
}

// WithMaxLogRecords sets how many output lines are kept per instance.
func WithMaxLogRecords(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.maxLog = n
		}
	}
}

func applyOptions(opts []Option) settings {
	s := defaultSettings()
	for _, opt := range opts {
		opt(&s)
	}
	return s
}
