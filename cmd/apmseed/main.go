package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/apmwatch/apmwatch/internal/config"
	"github.com/apmwatch/apmwatch/internal/elastic"
	"github.com/apmwatch/apmwatch/internal/seed"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional; environment variables apply on top)")
	count := flag.Int("count", 0, "number of errors to inject (overrides NUM_ERRORS when positive)")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	slog.Info("apmseed starting", "config", *configPath)

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(2)
	}
	if *count > 0 {
		cfg.Seed.Count = *count
	}

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

	res, err := seed.Run(ctx, client, cfg.Seed, time.Now())
	if err != nil {
		slog.Error("injection failed", "err", err)
		os.Exit(1)
	}
	if res.Injected == 0 {
		slog.Error("failed to inject any errors")
		os.Exit(1)
	}
	if res.Failed > 0 {
		slog.Warn("some documents failed to inject", "failed", res.Failed)
		os.Exit(1)
	}
	slog.Info("mock errors injected — run apmwatch to see the alerts",
		"injected", res.Injected,
	)
}
