package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/internal/index/compactor"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/internal/index/mutation"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/internal/index/query"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/internal/index/store"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/internal/server"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/metrics"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Incremental-Search-Index-Engine/pkg/redis"
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
	slog.Info("starting search service", "port", cfg.Server.Port, "driver", cfg.Storage.Driver)

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

	var queryCache *server.QueryCache
	redisClient, err := pkgredis.NewClient(cfg.Redis)
	if err != nil {
		slog.Warn("redis unavailable, query caching disabled", "error", err)
	} else {
		defer redisClient.Close()
		queryCache = server.NewQueryCache(redisClient, cfg.Redis, m)
		slog.Info("query cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
	}

	queryEngine := query.NewEngine(st, m)
	mutationEngine := mutation.NewEngine(st, m)
	comp := compactor.New(st, m, cfg.Compaction)
	if cfg.Compaction.Auto {
		go comp.Start(ctx)
	}

	checker := health.NewChecker()
	checker.Register("store", health.PingCheck(st, true))
	if queryCache != nil {
		checker.Register("redis", health.PingCheck(queryCache, false))
	}

	h := server.NewHandler(st, queryEngine, mutationEngine, comp, queryCache, cfg.Query)
	router := server.NewRouter(h, checker, m, cfg.Server.WriteTimeout)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("search service listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
	slog.Info("search service stopped")
}
