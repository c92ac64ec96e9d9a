package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/internal/feed"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/internal/index/compactor"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/internal/index/mutation"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/internal/index/store"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/metrics"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting indexer service",
		"brokers", cfg.Kafka.Brokers,
		"topic", cfg.Kafka.MutationTopic,
		"driver", cfg.Storage.Driver,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := store.OpenFromConfig(ctx, cfg.Storage)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port)
		defer shutdownMetrics(context.Background())
		slog.Info("metrics server started", "port", cfg.Metrics.Port)
	}

	engine := mutation.NewEngine(st, m)
	if cfg.Compaction.Auto {
		comp := compactor.New(st, m, cfg.Compaction)
		go comp.Start(ctx)
		slog.Info("automatic compaction enabled",
			"threshold", cfg.Compaction.Threshold,
			"check_interval", cfg.Compaction.CheckInterval,
		)
	}

	applier := feed.NewApplier(engine, cfg.Index.MaxContentLength)
	consumer := kafka.NewConsumer(cfg.Kafka, cfg.Kafka.MutationTopic, applier.Handler())
	defer consumer.Close()

	if err := consumer.Start(ctx); err != nil {
		slog.Error("consumer stopped with error", "error", err)
		os.Exit(1)
	}
	slog.Info("indexer service stopped")
}
