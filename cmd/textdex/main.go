package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kailas-cloud/textdex/internal/config"
	"github.com/kailas-cloud/textdex/internal/cursor"
	"github.com/kailas-cloud/textdex/internal/exec"
	"github.com/kailas-cloud/textdex/internal/index"
	logpkg "github.com/kailas-cloud/textdex/internal/logger"
	"github.com/kailas-cloud/textdex/internal/metrics"
	"github.com/kailas-cloud/textdex/internal/resp"
	"github.com/kailas-cloud/textdex/internal/version"
)

func main() {
	// Load configuration based on ENV
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	logger, err := logpkg.NewLogger(env, cfg.Logging.Level)
	if err != nil {
		panic("failed to create logger: " + err.Error())
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting textdex server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("port", cfg.Server.Port),
		zap.Int("metrics_port", cfg.Server.MetricsPort),
	)

	// Register query metrics explicitly (no init())
	metrics.RegisterQueryMetrics()

	store := index.NewStore()
	cursors := cursor.NewRegistry(cursor.Config{
		PerIndexCap:     cfg.Cursor.PerIndexCap,
		DefaultMaxIdle:  time.Duration(cfg.Cursor.MaxIdleMs) * time.Millisecond,
		DefaultReadSize: cfg.Cursor.ReadSize,
	}, logger)

	srv := resp.NewServer(fmt.Sprintf(":%d", cfg.Server.Port), logger)
	exec.NewCommands(store, cursors, logger).Register(srv)

	// Metrics/health HTTP server
	r := chi.NewRouter()
	r.Use(chiMiddleware.Recoverer)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":  "ok",
			"indexes": store.Names(),
		})
	})
	metricsSrv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.MetricsPort),
		Handler:     r,
		ReadTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gcStop := make(chan struct{})
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx)
	})
	g.Go(func() error {
		logger.Info("Starting metrics server", zap.String("addr", metricsSrv.Addr))
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		cursors.RunGC(time.Duration(cfg.Cursor.GCIntervalSec)*time.Second, gcStop)
		return nil
	})

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("Received shutdown signal")
	case <-gctx.Done():
		logger.Warn("Server loop ended early")
	}

	close(gcStop)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(), time.Duration(cfg.Server.ShutdownSec)*time.Second,
	)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during metrics shutdown", zap.Error(err))
	}

	if err := g.Wait(); err != nil {
		logger.Error("Server error", zap.Error(err))
	}
	logger.Info("Server stopped gracefully")
}
