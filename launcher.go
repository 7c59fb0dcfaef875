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
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Launcher starts instrumented processes.  It does not keep track of what
// it started; that is the job of the Registry.  A Launcher is safe for
// concurrent use.
type Launcher struct {
	instrumenter Instrumenter
	logger       logrus.FieldLogger
	ops          *OperationLog
	metrics      MetricsCollector
	limiter      *rate.Limiter
	suspend      bool
	dir          string
	env          []string
	maxLog       int
}

// NewLauncher returns a Launcher configured by opts.
func NewLauncher(opts ...Option) *Launcher {
	s := applyOptions(opts)
	return &Launcher{
		instrumenter: s.instrumenter,
		logger:       s.logger,
		ops:          s.ops,
		metrics:      s.metrics,
		limiter:      s.limiter,
		suspend:      s.suspend,
		dir:          s.dir,
		env:          s.env,
		maxLog:       s.maxLog,
	}
}

// Launch starts command under instrumentation, labelled with name.  An
// empty command means "run name".  On success the returned Instance
// describes a running, attached process, and the caller is expected to
// Insert it into a Registry.  On failure no process is left behind.
//
// If ctx is done before the process is up, Launch returns an error
// wrapping ErrLaunchTimeout; a process that still comes up afterwards is
// killed.
func (l *Launcher) Launch(ctx context.Context, name string, command string) (*Instance, error) {
	start := time.Now()
	if command == "" {
		command = name
	}
	inst, err := l.launch(ctx, name, command)
	if err != nil {
		l.metrics.LaunchFailed(failureReason(err))
		l.logger.WithFields(logrus.Fields{
			"name":    name,
			"command": command,
		}).WithError(err).Warn("Launch failed")
		l.record(Operation{
			Name:   name,
			Type:   OpLaunchFailed,
			Detail: map[string]string{"command": command, "error": err.Error()},
		})
		return nil, err
	}
	l.metrics.LaunchSucceeded(time.Since(start))
	l.logger.WithFields(logrus.Fields{
		"pid":          inst.PID,
		"name":         inst.Name,
		"command":      inst.Command,
		"instrumenter": inst.Launch.Instrumenter,
	}).Info("Launched")
	l.record(Operation{
		PID:    inst.PID,
		Name:   inst.Name,
		Type:   OpSpawn,
		Detail: map[string]string{"command": inst.Command, "path": inst.Launch.Path},
	})
	return inst, nil
}

func (l *Launcher) record(op Operation) {
	if l.ops == nil {
		return
	}
	op = l.ops.Append(op)
	l.metrics.OperationRecorded(op.Type)
}

func (l *Launcher) launch(ctx context.Context, name string, command string) (*Instance, error) {
	if name == "" {
		return nil, ErrNoName
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLaunchTimeout, err)
	}
	if l.limiter != nil {
		// Waits for a token, but never past the deadline of ctx.
		if err := l.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrRateLimited, err)
		}
	}

	argv, err := shellquote.Split(command)
	if err != nil {
		return nil, fmt.Errorf("%w: bad command line: %v", ErrSpawn, err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("%w: empty command", ErrNotFound)
	}
	path, err := exec.LookPath(argv[0])
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, argv[0])
	}

	cmd := &exec.Cmd{
		Path:        path,
		Args:        argv,
		Dir:         l.dir,
		Env:         append(os.Environ(), l.env...),
		SysProcAttr: newSysProcAttr(),
	}
	if err := l.instrumenter.Prepare(cmd, name); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInstrument, err)
	}

	type result struct {
		inst *Instance
		reap func(bool)
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		inst, reap, err := l.spawn(cmd, name, command)
		ch <- result{inst: inst, reap: reap, err: err}
	}()

	select {
	case r := <-ch:
		if r.inst != nil {
			go r.reap(true)
		}
		return r.inst, r.err
	case <-ctx.Done():
		go func() {
			r := <-ch
			if r.inst == nil {
				return
			}
			l.logger.WithField("pid", r.inst.PID).Warn("Killing process from abandoned launch")
			r.inst.kill()
			r.reap(false)
		}()
		return nil, fmt.Errorf("%w: %v", ErrLaunchTimeout, ctx.Err())
	}
}

// spawn creates the process, attaches the instrumenter, and sets up output
// capture.  It blocks for as long as process creation does.  The returned
// func reaps the process; its argument says whether the exit is reported.
func (l *Launcher) spawn(cmd *exec.Cmd, name string, command string) (*Instance, func(bool), error) {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrSpawn, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	var attachErr error
	attach := func(pid int) error {
		attachErr = l.instrumenter.Attach(pid)
		return attachErr
	}
	if l.suspend {
		err = startSuspended(cmd, attach)
	} else if err = cmd.Start(); err == nil {
		err = attach(cmd.Process.Pid)
	}
	if err != nil {
		if cmd.Process != nil {
			cmd.Process.Kill()
			cmd.Wait()
		}
		if attachErr != nil || errors.Is(err, ErrUnsupported) {
			return nil, nil, fmt.Errorf("%w: %v", ErrInstrument, err)
		}
		return nil, nil, fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	pid := cmd.Process.Pid
	inst := &Instance{
		PID:     pid,
		Name:    name,
		Command: command,
		Launch: LaunchInfo{
			Path:         cmd.Path,
			Args:         copyArray(cmd.Args),
			Pgid:         processGroup(pid),
			Started:      time.Now(),
			Instrumenter: l.instrumenter.Name(),
			Suspended:    l.suspend,
		},
		proc: cmd.Process,
		log:  NewLog(l.maxLog),
		done: make(chan struct{}),
	}

	// Output lands in the instance's own log, and in the daemon log.
	entry := l.logger.WithFields(logrus.Fields{"pid": pid, "name": name})
	logw := entry.WriterLevel(logrus.DebugLevel)
	mw := NewMultiWriter(inst.log, logw)

	var readers sync.WaitGroup
	readers.Add(2)
	go l.doLog(&readers, stdout, mw, "stdout> ")
	go l.doLog(&readers, stderr, mw, "stderr> ")

	drained := make(chan struct{})
	go func() {
		readers.Wait()
		logw.Close()
		close(drained)
	}()

	reap := func(report bool) {
		l.doWait(inst, []io.Closer{stdout, stderr}, drained, report)
	}
	return inst, reap, nil
}

func (l *Launcher) doLog(wg *sync.WaitGroup, r io.Reader, w io.Writer, prefix string) {
	defer wg.Done()
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if len(line) != 0 {
			io.WriteString(w, prefix+strings.TrimRight(line, "\r\n")+"\n")
		}
		if err != nil {
			return
		}
	}
}

// doWait reaps the process.  Exit is judged by the process alone; output
// from descendants still holding the pipes is read for at most
// OutputDrainTime after that.  The exit is settled before done is closed.
func (l *Launcher) doWait(inst *Instance, pipes []io.Closer, drained <-chan struct{}, report bool) {
	st, err := inst.proc.Wait()

	res := ExitResult{Code: -1, Time: time.Now()}
	if st != nil {
		res.Code = st.ExitCode()
	}
	if err != nil {
		res.Error = err.Error()
	} else if res.Code < 0 {
		res.Error = st.String()
	}

	select {
	case <-drained:
	case <-time.After(OutputDrainTime):
	}
	for _, p := range pipes {
		p.Close()
	}
	<-drained
	inst.result = res

	fields := logrus.Fields{"pid": inst.PID, "name": inst.Name, "code": res.Code}
	if !report {
		l.logger.WithFields(fields).Debug("Reaped abandoned launch")
		close(inst.done)
		return
	}

	l.metrics.InstanceExited(res.Code)
	if res.Error != "" {
		l.logger.WithFields(fields).Infof("Exited: %s", res.Error)
	} else {
		l.logger.WithFields(fields).Info("Exited")
	}
	detail := map[string]string{"code": strconv.Itoa(res.Code)}
	if res.Error != "" {
		detail["error"] = res.Error
	}
	l.record(Operation{
		PID:    inst.PID,
		Name:   inst.Name,
		Type:   OpExit,
		Detail: detail,
	})
	close(inst.done)
}
