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

// Command yprocmond is the yprocmon daemon.  It launches instrumented
// processes on request, tracks them, and serves their state over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/yprocmon/yprocmon"
	"github.com/yprocmon/yprocmon/archive"
	"github.com/yprocmon/yprocmon/config"
	"github.com/yprocmon/yprocmon/rest"
	"github.com/yprocmon/yprocmon/samples"
)

// daemon is everything the server owns, wired together.
type daemon struct {
	cfg      *config.Config
	logger   *logrus.Logger
	ops      *yprocmon.OperationLog
	reg      *yprocmon.Registry
	tasks    *yprocmon.Tasks
	archive  *archive.Archive
	handler  *rest.Handler
	listener net.Listener
}

// endpoint is the URL instrumented processes report operations to.
func endpoint(cfg *config.Config, addr net.Addr) string {
	if cfg.Instrument.Endpoint != "" {
		return cfg.Instrument.Endpoint
	}
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return ""
	}
	if ip := net.ParseIP(host); ip == nil || ip.IsUnspecified() {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port) + "/api/operations"
}

func newDaemon(cfg *config.Config, logger *logrus.Logger) (*daemon, error) {
	d := &daemon{cfg: cfg, logger: logger}

	l, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return nil, err
	}
	if cfg.MaxConns > 0 {
		logger.Infof("Limiting connections to %d", cfg.MaxConns)
		l = netutil.LimitListener(l, cfg.MaxConns)
	}
	d.listener = l

	d.ops = yprocmon.NewOperationLog(cfg.MaxOperations)
	d.ops.SetLogger(logger)
	if cfg.Archive != "" {
		if d.archive, err = archive.Open(cfg.Archive); err != nil {
			l.Close()
			return nil, fmt.Errorf("archive %s: %w", cfg.Archive, err)
		}
		d.ops.AddSink(d.archive)
	}

	var metrics yprocmon.MetricsCollector = yprocmon.NewNoopMetricsCollector()
	var prom *yprocmon.PrometheusMetricsCollector
	if cfg.Metrics {
		prom = yprocmon.NewPrometheusMetricsCollector("yprocmon")
		metrics = prom
	}

	instrumenter := yprocmon.NopInstrumenter()
	if !cfg.Instrument.Disabled {
		instrumenter = yprocmon.NewPreloadInstrumenter(cfg.Instrument.Agent,
			endpoint(cfg, l.Addr()))
	}

	opts := []yprocmon.Option{
		yprocmon.WithName(cfg.Name),
		yprocmon.WithLogger(logger),
		yprocmon.WithOperations(d.ops),
		yprocmon.WithMetricsCollector(metrics),
		yprocmon.WithInstrumenter(instrumenter),
		yprocmon.WithRateLimit(cfg.LaunchRate, cfg.LaunchBurst),
		yprocmon.WithSuspend(cfg.Instrument.Suspend),
		yprocmon.WithStopTime(cfg.StopTime),
		yprocmon.WithReapExited(cfg.ReapExited),
		yprocmon.WithDir(cfg.WorkDir),
		yprocmon.WithEnv(cfg.Env...),
		yprocmon.WithMaxLogRecords(cfg.MaxLog),
	}
	d.reg = yprocmon.NewRegistry(opts...)
	d.tasks = yprocmon.NewTasks(yprocmon.NewLauncher(opts...), d.reg, cfg.LaunchTimeout)

	hopts := []rest.HandlerOption{
		rest.WithOperations(d.ops),
		rest.WithLogger(logger),
	}
	if cfg.Samples != "" {
		store, err := samples.NewStore(cfg.Samples)
		if err != nil {
			d.close()
			return nil, fmt.Errorf("samples %s: %w", cfg.Samples, err)
		}
		hopts = append(hopts, rest.WithSamples(store))
	}
	if d.archive != nil {
		hopts = append(hopts, rest.WithHistory(d.archive))
	}
	if prom != nil {
		hopts = append(hopts, rest.WithMetrics(prom.Handler()))
	}
	if cfg.WWW != "" {
		if fi, err := os.Stat(cfg.WWW); err == nil && fi.IsDir() {
			hopts = append(hopts, rest.WithStatic(cfg.WWW))
		} else {
			logger.Warnf("Not serving static files: %s is not a directory", cfg.WWW)
		}
	}
	d.handler = rest.NewHandler(d.reg, d.tasks, hopts...)
	return d, nil
}

func (d *daemon) close() {
	d.listener.Close()
	if d.archive != nil {
		d.archive.Close()
	}
}

// run serves until ctx is done, then stops every instance.
func (d *daemon) run(ctx context.Context) error {
	srv := &http.Server{
		Handler:           d.handler,
		ReadHeaderTimeout: time.Second * 10,
	}
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		d.logger.WithField("addr", d.listener.Addr().String()).
			Infof("*** yprocmon started: %s ***", d.cfg.Name)
		if err := srv.Serve(d.listener); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		d.logger.Info("Shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
		defer cancel()
		err := srv.Shutdown(sctx)
		d.tasks.Close()

		// Leave time for SIGTERM, the grace period, and SIGKILL.
		kctx, kcancel := context.WithTimeout(context.Background(), d.cfg.StopTime+time.Second*5)
		defer kcancel()
		d.reg.Shutdown(kctx)
		if d.archive != nil {
			d.archive.Close()
		}
		return err
	})

	return g.Wait()
}

func newRootCmd() *cobra.Command {
	var (
		cfgFile string
		cfg     = config.Default()
		over    = config.Default()
	)

	cmd := &cobra.Command{
		Use:           "yprocmond",
		Short:         "yprocmond launches and tracks instrumented processes",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfgFile != "" {
				c, err := config.Load(cfgFile)
				if err != nil {
					return err
				}
				cfg = c
			}
			// Flags given on the command line win over the file.
			flags := cmd.Flags()
			if flags.Changed("addr") {
				cfg.Listen = over.Listen
			}
			if flags.Changed("name") {
				cfg.Name = over.Name
			}
			if flags.Changed("www") {
				cfg.WWW = over.WWW
			}
			if flags.Changed("samples") {
				cfg.Samples = over.Samples
			}
			if flags.Changed("archive") {
				cfg.Archive = over.Archive
			}
			if flags.Changed("agent") {
				cfg.Instrument.Agent = over.Instrument.Agent
			}
			if flags.Changed("suspend") {
				cfg.Instrument.Suspend = over.Instrument.Suspend
			}
			if flags.Changed("reap") {
				cfg.ReapExited = over.ReapExited
			}
			if flags.Changed("log-level") {
				cfg.LogLevel = over.LogLevel
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logger := cfg.Logger()
			d, err := newDaemon(cfg, logger)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(),
				syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
			defer stop()
			return d.run(ctx)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&cfgFile, "config", "c", "", "configuration file")
	f.StringVarP(&over.Listen, "addr", "a", over.Listen, "listen address")
	f.StringVarP(&over.Name, "name", "n", over.Name, "yprocmon name")
	f.StringVar(&over.WWW, "www", over.WWW, "static file directory")
	f.StringVar(&over.Samples, "samples", over.Samples, "sample upload directory")
	f.StringVar(&over.Archive, "archive", over.Archive, "operations archive database")
	f.StringVar(&over.Instrument.Agent, "agent", over.Instrument.Agent, "agent library to preload")
	f.BoolVar(&over.Instrument.Suspend, "suspend", over.Instrument.Suspend, "start processes suspended until attached")
	f.BoolVar(&over.ReapExited, "reap", over.ReapExited, "drop instances as soon as they exit")
	f.StringVar(&over.LogLevel, "log-level", over.LogLevel, "log level")
	return cmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logrus.WithError(err).Error("yprocmond failed")
		os.Exit(1)
	}
}
