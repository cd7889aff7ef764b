package main

import (
	"context"
	"expvar"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"pipelined.dev/voltpipe"
	"pipelined.dev/voltpipe/config"
	"pipelined.dev/voltpipe/generator"
	"pipelined.dev/voltpipe/log"
	"pipelined.dev/voltpipe/metric"
	"pipelined.dev/voltpipe/quicklook"
	"pipelined.dev/voltpipe/status"
	"pipelined.dev/voltpipe/strip"
	"pipelined.dev/voltpipe/writer"
)

const defaultStages = "generator,strip,writer"

type runCommand struct {
	stages   string
	duration time.Duration
	limit    int
	dir      string
	http     string
	destroy  bool
}

func (cmd *runCommand) Name() string {
	return "run"
}

func (cmd *runCommand) Help() string {
	return "Run the pipe until interrupted"
}

func (cmd *runCommand) Register(fs *flag.FlagSet) {
	fs.StringVar(&cmd.stages, "stages", defaultStages, "comma separated stages to run in this process")
	fs.DurationVar(&cmd.duration, "duration", 0, "stop after duration, zero runs until interrupted")
	fs.IntVar(&cmd.limit, "limit", -1, "number of generated blocks, overrides environment")
	fs.StringVar(&cmd.dir, "dir", "", "output directory, overrides environment")
	fs.StringVar(&cmd.http, "http", "", "serve prometheus metrics and expvars on this address")
	fs.BoolVar(&cmd.destroy, "destroy", false, "remove rings on exit, otherwise they stay for other processes")
}

func (cmd *runCommand) Run(out io.Writer) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if cmd.limit >= 0 {
		cfg.Generator.Limit = cmd.limit
	}
	if cmd.dir != "" {
		cfg.Writer.Dir = cmd.dir
	}
	logger, err := log.WithLevel(cfg.Log.Level)
	if err != nil {
		return err
	}

	rings, err := voltpipe.CreateRings(cfg.Ring, cfg.Layout())
	if err != nil {
		return err
	}
	defer func() {
		if cmd.destroy {
			if err := rings.Destroy(); err != nil {
				logger.WithError(err).Warn("failed to remove rings")
			}
			return
		}
		if err := rings.Detach(); err != nil {
			logger.WithError(err).Warn("failed to detach rings")
		}
	}()

	m := &metric.Metric{}
	st := &status.Registry{}
	p, err := voltpipe.New(rings, registry(cfg), splitStages(cmd.stages),
		voltpipe.WithMetric(m),
		voltpipe.WithStatus(st),
		voltpipe.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	if cmd.http != "" {
		srv := serve(cmd.http, m, st, logger)
		defer srv.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cmd.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cmd.duration)
		defer cancel()
	}
	logger.WithFields(logrus.Fields{
		"pipe":   p.ID(),
		"stages": p.Stages(),
		"rings":  cfg.Ring.Dir,
	}).Info("running")
	err = p.Run(ctx).Wait()

	fmt.Fprintf(out, "metric: %v\n", m.Measure())
	for _, k := range st.Keys() {
		v, _ := st.Get(k)
		fmt.Fprintf(out, "%s=%s\n", k, v)
	}
	return err
}

// serve exposes prometheus metrics on /metrics and expvars on /debug/vars.
func serve(addr string, m *metric.Metric, st *status.Registry, logger logrus.FieldLogger) *http.Server {
	m.Publish("voltpipe_metric")
	st.Publish("voltpipe_status")
	reg := prometheus.NewRegistry()
	reg.MustRegister(metric.NewCollector(m))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.Handle("/debug/vars", expvar.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("http server failed")
		}
	}()
	return srv
}

func registry(cfg *config.Config) voltpipe.Registry {
	wcfg := writer.Config{
		Dir:           cfg.Writer.Dir,
		Prefix:        cfg.Writer.Prefix,
		BlocksPerFile: cfg.Writer.BlocksPerFile,
		Archive:       cfg.Writer.Archive,
	}
	if cfg.Writer.Quicklook {
		wcfg.Quicklook = &quicklook.Selector{}
	}
	return voltpipe.Registry{
		"generator": generator.Allocator(generator.Config{
			Interval: cfg.Generator.Interval,
			Limit:    cfg.Generator.Limit,
		}),
		"strip":  strip.Allocator(),
		"writer": writer.Allocator(wcfg),
	}
}

func splitStages(s string) []string {
	var stages []string
	for _, name := range strings.Split(s, ",") {
		if name = strings.TrimSpace(name); name != "" {
			stages = append(stages, name)
		}
	}
	return stages
}

type stagesCommand struct{}

func (cmd *stagesCommand) Name() string {
	return "stages"
}

func (cmd *stagesCommand) Help() string {
	return "Show the list of available stages"
}

func (cmd *stagesCommand) Register(*flag.FlagSet) {}

func (cmd *stagesCommand) Run(out io.Writer) error {
	for _, name := range registry(config.Default()).Names() {
		fmt.Fprintln(out, name)
	}
	return nil
}
