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
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// Environment variables handed to instrumented processes.
const (
	EnvEndpoint = "YPROCMON_ENDPOINT"
	EnvName     = "YPROCMON_NAME"
	EnvPreload  = "LD_PRELOAD"
)

// Instrumenter attaches the monitoring machinery to a process being
// launched.  Prepare is called before the process is created, and may
// alter the command (environment, arguments).  Attach is called once the
// process exists; when the Launcher starts processes suspended, the target
// has not executed any of its own code yet.  An error from either one
// fails the launch, and the process (if any) is killed.
type Instrumenter interface {
	Name() string
	Prepare(cmd *exec.Cmd, name string) error
	Attach(pid int) error
}

type nopInstrumenter struct{}

func (nopInstrumenter) Name() string                          { return "none" }
func (nopInstrumenter) Prepare(cmd *exec.Cmd, _ string) error { return nil }
func (nopInstrumenter) Attach(pid int) error                  { return nil }

// NopInstrumenter returns an Instrumenter that does nothing, which turns
// the Launcher into a plain process supervisor.
func NopInstrumenter() Instrumenter {
	return nopInstrumenter{}
}

// PreloadInstrumenter injects an agent library into the target through the
// dynamic loader, and tells the agent where to report operations.
type PreloadInstrumenter struct {
	agent    string
	endpoint string
}

// NewPreloadInstrumenter returns a PreloadInstrumenter.  An empty agent
// only sets the reporting environment, for targets that link the agent
// themselves.
func NewPreloadInstrumenter(agent string, endpoint string) *PreloadInstrumenter {
	return &PreloadInstrumenter{agent: agent, endpoint: endpoint}
}

func (p *PreloadInstrumenter) Name() string {
	return "preload"
}

func (p *PreloadInstrumenter) Prepare(cmd *exec.Cmd, name string) error {
	if cmd.Env == nil {
		cmd.Env = os.Environ()
	}
	if p.endpoint != "" {
		cmd.Env = setEnv(cmd.Env, EnvEndpoint, p.endpoint)
	}
	cmd.Env = setEnv(cmd.Env, EnvName, name)

	if p.agent == "" {
		return nil
	}
	agent, err := filepath.Abs(p.agent)
	if err != nil {
		return err
	}
	if fi, err := os.Stat(agent); err != nil {
		return fmt.Errorf("agent library: %v", err)
	} else if fi.IsDir() {
		return fmt.Errorf("agent library %s is a directory", agent)
	}
	if prev := getEnv(cmd.Env, EnvPreload); prev != "" {
		agent = agent + ":" + prev
	}
	cmd.Env = setEnv(cmd.Env, EnvPreload, agent)
	return nil
}

func (p *PreloadInstrumenter) Attach(pid int) error {
	if !processAlive(pid) {
		return fmt.Errorf("process %d went away before attach", pid)
	}
	return nil
}

func getEnv(env []string, key string) string {
	for i := len(env) - 1; i >= 0; i-- {
		if strings.HasPrefix(env[i], key+"=") {
			return env[i][len(key)+1:]
		}
	}
	return ""
}

// setEnv replaces every existing binding of key, so the child sees exactly
// one.
func setEnv(env []string, key string, val string) []string {
	rv := make([]string, 0, len(env)+1)
	for _, kv := range env {
		if !strings.HasPrefix(kv, key+"=") {
			rv = append(rv, kv)
		}
	}
	return append(rv, key+"="+val)
}
