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

// Command yprocmon is the client of yprocmond.  It uses subcommands; with
// none it starts the interactive terminal interface.
//
// The persistent flags are
//
//	--addr <url>	- the daemon, default is http://127.0.0.1:8321
//	--log <file>	- debug log file for the terminal interface
//
// Subcommands are
//
//	status                  - show the daemon state
//	instances               - list all instances
//	info <pid>              - show detailed instance info
//	log [-f] <pid>          - show (or follow) the output of an instance
//	stats <pid>             - show process statistics
//	run <name> [command]    - launch a process
//	task [--cancel] <id>    - show or cancel a launch task
//	stop <pid>              - stop an instance
//	ops [--since <dur>]     - show recent operations
//	history                 - query the operation archive
//	files                   - list uploaded samples
//	upload <file>           - upload a sample
//	ui                      - interactive terminal interface
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/yprocmon/yprocmon/rest"
)

const defaultAddr = "http://127.0.0.1:8321"

// cli carries the state shared by all subcommands.
type cli struct {
	rootCmd *cobra.Command
	addr    string
	logFile string
	timeout time.Duration
	client  *rest.Client
	logger  *logrus.Logger
	closers []io.Closer
}

type command interface {
	registerFlags() *cobra.Command
	run(c *cli, cmd *cobra.Command, args []string) error
}

func newCLI() *cli {
	c := &cli{}
	c.rootCmd = &cobra.Command{
		Use:           "yprocmon",
		Short:         "yprocmon is a command-line client to yprocmond",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPostRunE: func(*cobra.Command, []string) error {
			return c.Close()
		},
	}
	flags := c.rootCmd.PersistentFlags()
	flags.StringVarP(&c.addr, "addr", "a", defaultAddr, "yprocmond address")
	flags.StringVar(&c.logFile, "log", "", "debug log file")
	flags.DurationVar(&c.timeout, "timeout", time.Minute, "request timeout")

	c.addCmd(&statusCmd{})
	c.addCmd(&instancesCmd{})
	c.addCmd(&infoCmd{})
	c.addCmd(&logCmd{})
	c.addCmd(&statsCmd{})
	c.addCmd(&runCmd{})
	c.addCmd(&taskCmd{})
	c.addCmd(&stopCmd{})
	c.addCmd(&opsCmd{})
	c.addCmd(&historyCmd{})
	c.addCmd(&filesCmd{})
	c.addCmd(&uploadCmd{})
	ui := c.addCmd(&uiCmd{})

	// No subcommand means the interactive interface.
	c.rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		return ui.RunE(cmd, args)
	}
	return c
}

func (c *cli) addCmd(cmd command) *cobra.Command {
	cobraCmd := cmd.registerFlags()
	cobraCmd.RunE = func(innerCmd *cobra.Command, args []string) error {
		return cmd.run(c, innerCmd, args)
	}
	c.rootCmd.AddCommand(cobraCmd)
	return cobraCmd
}

func (c *cli) Client() *rest.Client {
	if c.client == nil {
		c.client = rest.NewClient(nil, c.addr)
	}
	return c.client
}

// Logger returns the debug logger.  Without --log it discards.
func (c *cli) Logger() (*logrus.Logger, error) {
	if c.logger != nil {
		return c.logger, nil
	}
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	if c.logFile != "" {
		f, e := os.OpenFile(c.logFile,
			os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if e != nil {
			return nil, e
		}
		c.closers = append(c.closers, f)
		logger.SetOutput(f)
		logger.SetLevel(logrus.DebugLevel)
	}
	c.logger = logger
	return logger, nil
}

func (c *cli) context() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), c.timeout)
}

func (c *cli) Close() error {
	var err error
	for _, cl := range c.closers {
		if e := cl.Close(); e != nil && err == nil {
			err = e
		}
	}
	c.closers = nil
	return err
}

func (c *cli) Exec() error {
	return c.rootCmd.Execute()
}

func main() {
	if err := newCLI().Exec(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed: %v\n", err)
		os.Exit(1)
	}
}
