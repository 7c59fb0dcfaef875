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

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/yprocmon/yprocmon"
	"github.com/yprocmon/yprocmon/yprocmon/util"
)

func parsePid(arg string) (int, error) {
	pid, e := strconv.Atoi(arg)
	if e != nil || pid <= 0 {
		return 0, fmt.Errorf("Bad pid %q", arg)
	}
	return pid, nil
}

type statusCmd struct{}

func (s *statusCmd) registerFlags() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "show the daemon state",
		Args:  cobra.NoArgs,
	}
}

func (s *statusCmd) run(c *cli, cmd *cobra.Command, args []string) error {
	ctx, cancel := c.context()
	defer cancel()
	info, e := c.Client().Status(ctx)
	if e != nil {
		return e
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Name:      %s\n", info.Name)
	fmt.Fprintf(w, "Instances: %d\n", info.Instances)
	fmt.Fprintf(w, "Serial:    %d\n", info.Serial)
	fmt.Fprintf(w, "Created:   %s\n", info.CreateTime.Format(time.RFC3339))
	fmt.Fprintf(w, "Updated:   %s\n", info.UpdateTime.Format(time.RFC3339))
	return nil
}

type instancesCmd struct{}

func (i *instancesCmd) registerFlags() *cobra.Command {
	return &cobra.Command{
		Use:     "instances",
		Aliases: []string{"ps", "list"},
		Short:   "list all instances",
		Args:    cobra.NoArgs,
	}
}

func (i *instancesCmd) run(c *cli, cmd *cobra.Command, args []string) error {
	ctx, cancel := c.context()
	defer cancel()
	list, e := c.Client().Instances(ctx)
	if e != nil {
		return e
	}
	items := util.Pointers(list)
	util.SortInstances(items)
	printInstances(cmd.OutOrStdout(), items, time.Now())
	return nil
}

func printInstances(w io.Writer, items []*yprocmon.InstanceInfo, now time.Time) {
	for _, s := range items {
		fmt.Fprintf(w, "%7d %-20s %-8s %10s   %s\n", s.PID, s.Name,
			util.Status(s), util.FormatDuration(util.Uptime(s, now)),
			util.Detail(s))
	}
}

type infoCmd struct{}

func (i *infoCmd) registerFlags() *cobra.Command {
	return &cobra.Command{
		Use:   "info <pid>",
		Short: "show detailed instance info",
		Args:  cobra.ExactArgs(1),
	}
}

func (i *infoCmd) run(c *cli, cmd *cobra.Command, args []string) error {
	pid, e := parsePid(args[0])
	if e != nil {
		return e
	}
	ctx, cancel := c.context()
	defer cancel()
	s, e := c.Client().Instance(ctx, pid)
	if e != nil {
		return e
	}
	printInfo(cmd.OutOrStdout(), s, time.Now())
	return nil
}

func printInfo(w io.Writer, s *yprocmon.InstanceInfo, now time.Time) {
	fmt.Fprintf(w, "PID:          %d\n", s.PID)
	fmt.Fprintf(w, "Name:         %s\n", s.Name)
	fmt.Fprintf(w, "Status:       %s\n", util.Status(s))
	fmt.Fprintf(w, "Command:      %s\n", s.Command)
	fmt.Fprintf(w, "Path:         %s\n", s.Path)
	fmt.Fprintf(w, "Args:         %s\n", strings.Join(s.Args, " "))
	fmt.Fprintf(w, "Started:      %s\n", s.Started.Format(time.RFC3339))
	fmt.Fprintf(w, "Uptime:       %s\n", util.FormatDuration(util.Uptime(s, now)))
	fmt.Fprintf(w, "Instrumenter: %s\n", s.Instrumenter)
	if s.ExitCode != nil {
		fmt.Fprintf(w, "Exit code:    %d\n", *s.ExitCode)
	}
	if s.Error != "" {
		fmt.Fprintf(w, "Error:        %s\n", s.Error)
	}
}

type logCmd struct {
	follow bool
}

func (l *logCmd) registerFlags() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log <pid>",
		Short: "show the output of an instance",
		Args:  cobra.ExactArgs(1),
	}
	cmd.Flags().BoolVarP(&l.follow, "follow", "f", false, "keep printing new output")
	return cmd
}

func printRecords(w io.Writer, recs []yprocmon.LogRecord, after int64) int64 {
	for _, r := range recs {
		if r.Id <= after {
			continue
		}
		fmt.Fprintf(w, "%s %s\n", r.Time.Format(time.StampMilli), r.Text)
		after = r.Id
	}
	return after
}

func (l *logCmd) run(c *cli, cmd *cobra.Command, args []string) error {
	pid, e := parsePid(args[0])
	if e != nil {
		return e
	}
	w := cmd.OutOrStdout()
	if !l.follow {
		ctx, cancel := c.context()
		defer cancel()
		info, e := c.Client().Log(ctx, pid)
		if e != nil {
			return e
		}
		printRecords(w, info.Records, 0)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()
	info, e := c.Client().Log(ctx, pid)
	var last int64
	for e == nil {
		last = printRecords(w, info.Records, last)
		info, e = c.Client().WatchLog(ctx, pid, info)
	}
	if ctx.Err() != nil {
		return nil
	}
	return e
}

type statsCmd struct{}

func (s *statsCmd) registerFlags() *cobra.Command {
	return &cobra.Command{
		Use:   "stats <pid>",
		Short: "show process statistics",
		Args:  cobra.ExactArgs(1),
	}
}

func (s *statsCmd) run(c *cli, cmd *cobra.Command, args []string) error {
	pid, e := parsePid(args[0])
	if e != nil {
		return e
	}
	ctx, cancel := c.context()
	defer cancel()
	st, e := c.Client().Stats(ctx, pid)
	if e != nil {
		return e
	}
	printStats(cmd.OutOrStdout(), st)
	return nil
}

func printStats(w io.Writer, st *yprocmon.ProcessStats) {
	fmt.Fprintf(w, "PID:     %d\n", st.PID)
	fmt.Fprintf(w, "CPU:     %.1f%%\n", st.CPUPercent)
	fmt.Fprintf(w, "RSS:     %d\n", st.RSS)
	fmt.Fprintf(w, "VMS:     %d\n", st.VMS)
	fmt.Fprintf(w, "Threads: %d\n", st.Threads)
	fmt.Fprintf(w, "State:   %s\n", strings.Join(st.Status, ","))
	fmt.Fprintf(w, "Created: %s\n", st.Created.Format(time.RFC3339))
}

type runCmd struct {
	async  bool
	sample bool
}

func (r *runCmd) registerFlags() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <name> [command...]",
		Short: "launch a process",
		Long: "Launch a process under the given name.  Without a command the\n" +
			"name itself is run.  With --sample the command is the name of\n" +
			"an uploaded sample.",
		Args: cobra.MinimumNArgs(1),
	}
	cmd.Flags().BoolVar(&r.async, "async", false, "return the launch task without waiting")
	cmd.Flags().BoolVar(&r.sample, "sample", false, "run an uploaded sample")
	return cmd
}

func (r *runCmd) run(c *cli, cmd *cobra.Command, args []string) error {
	name := args[0]
	command := strings.Join(args[1:], " ")
	ctx, cancel := c.context()
	defer cancel()
	w := cmd.OutOrStdout()

	switch {
	case r.sample:
		if command == "" {
			command = name
		}
		info, e := c.Client().RunSample(ctx, name, command)
		if e != nil {
			return e
		}
		fmt.Fprintf(w, "%d\n", info.PID)
	case r.async:
		task, e := c.Client().Submit(ctx, name, command)
		if e != nil {
			return e
		}
		printTask(w, task)
	default:
		info, e := c.Client().Run(ctx, name, command)
		if e != nil {
			return e
		}
		fmt.Fprintf(w, "%d\n", info.PID)
	}
	return nil
}

type taskCmd struct {
	cancel bool
}

func (t *taskCmd) registerFlags() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task <id>",
		Short: "show a launch task",
		Args:  cobra.ExactArgs(1),
	}
	cmd.Flags().BoolVar(&t.cancel, "cancel", false, "cancel the task")
	return cmd
}

func (t *taskCmd) run(c *cli, cmd *cobra.Command, args []string) error {
	ctx, cancel := c.context()
	defer cancel()
	var task *yprocmon.TaskInfo
	var e error
	if t.cancel {
		task, e = c.Client().CancelTask(ctx, args[0])
	} else {
		task, e = c.Client().Task(ctx, args[0])
	}
	if e != nil {
		return e
	}
	printTask(cmd.OutOrStdout(), task)
	return nil
}

func printTask(w io.Writer, t *yprocmon.TaskInfo) {
	fmt.Fprintf(w, "Task:    %s\n", t.ID)
	fmt.Fprintf(w, "Name:    %s\n", t.Name)
	fmt.Fprintf(w, "Command: %s\n", t.Command)
	fmt.Fprintf(w, "State:   %s\n", t.State)
	if t.PID != 0 {
		fmt.Fprintf(w, "PID:     %d\n", t.PID)
	}
	if t.Error != "" {
		fmt.Fprintf(w, "Error:   %s\n", t.Error)
	}
}

type stopCmd struct{}

func (s *stopCmd) registerFlags() *cobra.Command {
	return &cobra.Command{
		Use:   "stop <pid>",
		Short: "stop an instance",
		Args:  cobra.ExactArgs(1),
	}
}

func (s *stopCmd) run(c *cli, cmd *cobra.Command, args []string) error {
	pid, e := parsePid(args[0])
	if e != nil {
		return e
	}
	ctx, cancel := c.context()
	defer cancel()
	return c.Client().Stop(ctx, pid)
}

func printOps(w io.Writer, ops []yprocmon.Operation) {
	for _, op := range ops {
		fmt.Fprintf(w, "%s %-14s %7d %s", op.Time.Format(time.RFC3339Nano),
			op.Type, op.PID, op.Name)
		keys := make([]string, 0, len(op.Detail))
		for k := range op.Detail {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, " %s=%s", k, op.Detail[k])
		}
		fmt.Fprintln(w)
	}
}

type opsCmd struct {
	since time.Duration
}

func (o *opsCmd) registerFlags() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ops",
		Short: "show recent operations",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().DurationVar(&o.since, "since", 0, "only show operations this recent")
	return cmd
}

func since(d time.Duration) time.Time {
	if d <= 0 {
		return time.Time{}
	}
	return time.Now().Add(-d)
}

func (o *opsCmd) run(c *cli, cmd *cobra.Command, args []string) error {
	ctx, cancel := c.context()
	defer cancel()
	ops, e := c.Client().Operations(ctx, since(o.since))
	if e != nil {
		return e
	}
	printOps(cmd.OutOrStdout(), ops)
	return nil
}

type historyCmd struct {
	since time.Duration
	limit int
}

func (h *historyCmd) registerFlags() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "query the operation archive",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().DurationVar(&h.since, "since", 0, "only show operations this recent")
	cmd.Flags().IntVar(&h.limit, "limit", 0, "maximum number of operations")
	return cmd
}

func (h *historyCmd) run(c *cli, cmd *cobra.Command, args []string) error {
	ctx, cancel := c.context()
	defer cancel()
	ops, e := c.Client().History(ctx, since(h.since), h.limit)
	if e != nil {
		return e
	}
	printOps(cmd.OutOrStdout(), ops)
	return nil
}

type filesCmd struct{}

func (f *filesCmd) registerFlags() *cobra.Command {
	return &cobra.Command{
		Use:   "files",
		Short: "list uploaded samples",
		Args:  cobra.NoArgs,
	}
}

func (f *filesCmd) run(c *cli, cmd *cobra.Command, args []string) error {
	ctx, cancel := c.context()
	defer cancel()
	files, e := c.Client().Files(ctx)
	if e != nil {
		return e
	}
	w := cmd.OutOrStdout()
	for _, fi := range files {
		fmt.Fprintf(w, "%-30s %10d %s %s\n", fi.Name, fi.Size,
			fi.Modified.Format(time.RFC3339), fi.Digest)
	}
	return nil
}

type uploadCmd struct {
	name string
}

func (u *uploadCmd) registerFlags() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "upload <file>",
		Short: "upload a sample",
		Args:  cobra.ExactArgs(1),
	}
	cmd.Flags().StringVar(&u.name, "name", "", "name to store the sample as")
	return cmd
}

func (u *uploadCmd) run(c *cli, cmd *cobra.Command, args []string) error {
	f, e := os.Open(args[0])
	if e != nil {
		return e
	}
	defer f.Close()
	name := u.name
	if name == "" {
		name = filepath.Base(args[0])
	}
	ctx, cancel := c.context()
	defer cancel()
	fi, e := c.Client().Upload(ctx, name, f)
	if e != nil {
		return e
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %d %s\n", fi.Name, fi.Size, fi.Digest)
	return nil
}
