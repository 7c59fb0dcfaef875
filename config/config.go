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

// Package config holds the settings of the yprocmond daemon, as read from
// a YAML file.  Anything the file leaves out keeps its default.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Instrument configures how launched processes are instrumented.
type Instrument struct {
	// Agent is the library preloaded into targets.  Empty means no
	// preloading; the environment is still set up.
	Agent string `yaml:"agent"`

	// Endpoint is where the agent reports operations.  Empty means the
	// daemon's own /api/operations.
	Endpoint string `yaml:"endpoint"`

	// Suspend starts targets stopped, and resumes them once attached.
	Suspend bool `yaml:"suspend"`

	// Disabled turns instrumentation off entirely.
	Disabled bool `yaml:"disabled"`
}

// Config is the daemon configuration.
type Config struct {
	Name          string        `yaml:"name"`
	Listen        string        `yaml:"listen"`
	MaxConns      int           `yaml:"max_conns"`
	WWW           string        `yaml:"www"`
	Samples       string        `yaml:"samples"`
	Archive       string        `yaml:"archive"`
	WorkDir       string        `yaml:"work_dir"`
	Env           []string      `yaml:"env"`
	LaunchTimeout time.Duration `yaml:"launch_timeout"`
	LaunchRate    float64       `yaml:"launch_rate"`
	LaunchBurst   int           `yaml:"launch_burst"`
	StopTime      time.Duration `yaml:"stop_time"`
	ReapExited    bool          `yaml:"reap_exited"`
	MaxLog        int           `yaml:"max_log"`
	MaxOperations int           `yaml:"max_operations"`
	LogLevel      string        `yaml:"log_level"`
	LogFormat     string        `yaml:"log_format"`
	Metrics       bool          `yaml:"metrics"`
	Instrument    Instrument    `yaml:"instrument"`
}

// Default returns the configuration used when there is no file.
func Default() *Config {
	return &Config{
		Name:          "yprocmon",
		Listen:        "127.0.0.1:8321",
		MaxConns:      64,
		WWW:           "www",
		Samples:       "samples",
		LaunchTimeout: time.Second * 30,
		LaunchRate:    20,
		LaunchBurst:   10,
		StopTime:      time.Second * 10,
		MaxLog:        1000,
		MaxOperations: 10000,
		LogLevel:      "info",
		LogFormat:     "text",
		Metrics:       true,
	}
}

// Load reads the file at path over the defaults.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(b)
}

// Parse reads YAML data over the defaults.
func Parse(b []byte) (*Config, error) {
	c := Default()
	if err := yaml.Unmarshal(b, c); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks for settings that cannot work.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return errors.New("config: listen address is required")
	}
	if c.MaxConns < 0 {
		return errors.New("config: max_conns must not be negative")
	}
	if c.LaunchTimeout < 0 || c.StopTime < 0 {
		return errors.New("config: durations must not be negative")
	}
	if c.LaunchRate < 0 || c.LaunchBurst < 0 {
		return errors.New("config: launch_rate and launch_burst must not be negative")
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log_format %q", c.LogFormat)
	}
	return nil
}

// Logger builds a logrus logger as configured.
func (c *Config) Logger() *logrus.Logger {
	logger := logrus.New()
	if lvl, err := logrus.ParseLevel(c.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}
	if c.LogFormat == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}
