package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/apmwatch/apmwatch/internal/alerts"
	"github.com/apmwatch/apmwatch/internal/config"
	"github.com/apmwatch/apmwatch/internal/elastic"
	"github.com/apmwatch/apmwatch/internal/metrics"
	"github.com/apmwatch/apmwatch/internal/monitor"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional; environment variables apply on top)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("apmwatch starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(2)
	}
	if err := cfg.ValidateMonitor(); err != nil {
		slog.Error("invalid monitor config", "err", err)
		os.Exit(2)
	}
	slog.Info("config loaded",
		"elasticsearch", cfg.Elasticsearch.URL,
		"index", cfg.Elasticsearch.Index,
		"lookback_minutes", cfg.Query.LookbackMinutes,
		"routes", len(cfg.Alerts.Routes),
		"interval", cfg.Monitor.Interval,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := elastic.New(cfg.Elasticsearch)
	info, err := client.Ping(ctx)
	if err != nil {
		slog.Error("elasticsearch unreachable", "url", cfg.Elasticsearch.URL, "err", err)
		os.Exit(1)
	}
	slog.Info("connected to elasticsearch",
		"cluster", info.ClusterName,
		"version", info.Version.Number,
	)

	registry := prometheus.NewRegistry()
	runner := monitor.New(cfg, client, alerts.New(cfg.Alerts), metrics.New(registry))

	// One-shot: a single cycle whose exit code reflects the query only;
	// delivery failures are logged, not escalated.
	if cfg.Monitor.Interval <= 0 {
		if err := runner.RunOnce(ctx); err != nil {
			slog.Error("cycle failed", "err", err)
			os.Exit(1)
		}
		return
	}

	// Watch the config file for edits. Configuration is fixed for the
	// process lifetime, so a change only logs that a restart is needed.
	if *configPath != "" {
		go func() {
			if err := config.Watch(ctx, *configPath, func(*config.Config) {
				slog.Info("config file changed — restart to apply")
			}); err != nil {
				slog.Error("config watcher stopped", "err", err)
			}
		}()
	}

	var metricsSrv *http.Server
	if cfg.Metrics.ListenAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})
		metricsSrv = &http.Server{Addr: cfg.Metrics.ListenAddr, Handler: mux}
		go func() {
			slog.Info("metrics listening", "addr", cfg.Metrics.ListenAddr)
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slog.Error("metrics server stopped", "err", err)
			}
		}()
	}

	runner.Run(ctx)

	slog.Info("apmwatch shutting down")
	if metricsSrv != nil {
		metricsSrv.Shutdown(context.Background()) //nolint:errcheck
	}
}
