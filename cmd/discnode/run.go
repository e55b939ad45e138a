package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/discv"
	"github.com/opd-ai/discv/config"
)

// runFlags are command-line overrides applied on top of the config file.
type runFlags struct {
	configPath  string
	listenAddr  string
	bootNodes   []string
	logLevel    string
	logFormat   string
	metricsAddr string
	statusEvery time.Duration
}

func newRunCommand() *cobra.Command {
	flags := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a discovery node",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load(cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runNode(ctx, cfg, flags.statusEvery)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&flags.configPath, "config", "c", "", "YAML config file")
	f.StringVar(&flags.listenAddr, "listen", "", "UDP listen address (overrides listen_addr)")
	f.StringSliceVar(&flags.bootNodes, "bootnode", nil, "boot node as <id>@host:port, repeatable (overrides bootnodes)")
	f.StringVar(&flags.logLevel, "log-level", "", "log level: debug, info, warn, error")
	f.StringVar(&flags.logFormat, "log-format", "", "log format: text or json")
	f.StringVar(&flags.metricsAddr, "metrics", "", "serve Prometheus metrics on this address")
	f.DurationVar(&flags.statusEvery, "status-interval", 30*time.Second, "how often to log the peer count")
	return cmd
}

// load reads the config file, then the environment, then explicit flags.
func (r *runFlags) load(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(r.configPath)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()

	f := cmd.Flags()
	if f.Changed("listen") {
		cfg.ListenAddr = r.listenAddr
	}
	if f.Changed("bootnode") {
		cfg.BootNodes = r.bootNodes
	}
	if f.Changed("log-level") {
		cfg.Log.Level = r.logLevel
	}
	if f.Changed("log-format") {
		cfg.Log.Format = r.logFormat
	}
	if f.Changed("metrics") {
		cfg.Metrics.Addr = r.metricsAddr
	}
	if r.statusEvery <= 0 {
		return nil, fmt.Errorf("status-interval must be positive, got %s", r.statusEvery)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// runNode runs a node until ctx is done.
func runNode(ctx context.Context, cfg *config.Config, statusEvery time.Duration) error {
	if err := cfg.Log.Apply(); err != nil {
		return err
	}
	options, err := cfg.ToOptions()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	options.Registerer = reg

	node, err := discv.New(options)
	if err != nil {
		return err
	}
	defer func() {
		if err := node.Close(); err != nil {
			logrus.WithError(err).Warn("Close failed")
		}
	}()

	if cfg.Metrics.Addr != "" {
		srv := serveMetrics(cfg.Metrics.Addr, reg)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if err := node.Start(); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"function": "runNode",
		"enode":    node.BootNode().String(),
	}).Info("Node running")

	ticker := time.NewTicker(statusEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			logrus.WithFields(logrus.Fields{
				"function": "runNode",
				"peers":    node.Count(),
			}).Info("Shutting down")
			return nil
		case <-ticker.C:
			logrus.WithFields(logrus.Fields{
				"function":  "runNode",
				"peers":     node.Count(),
				"listening": node.Listening(),
			}).Info("Status")
		}
	}
}

func serveMetrics(addr string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithFields(logrus.Fields{
				"function": "serveMetrics",
				"addr":     addr,
				"error":    err.Error(),
			}).Error("Metrics server failed")
		}
	}()
	return srv
}
