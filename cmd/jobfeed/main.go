// Command jobfeed serves live scraping and analysis progress feeds over SSE.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/avelis/jobfeed/internal/api"
	"github.com/avelis/jobfeed/internal/broadcast"
	"github.com/avelis/jobfeed/internal/config"
	"github.com/avelis/jobfeed/internal/feed"
	"github.com/avelis/jobfeed/internal/logging"
	"github.com/avelis/jobfeed/internal/metrics"
	"github.com/avelis/jobfeed/internal/storage/postgres"
	"github.com/avelis/jobfeed/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "Path to config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	zap.ReplaceGlobals(logger)

	if err := run(cfg, logger); err != nil {
		logger.Fatal("jobfeed exited", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	var (
		sessions store.SessionRepository
		analyses store.AnalysisRepository
	)
	if cfg.DB.DSN != "" {
		st, err := postgres.NewStore(ctx, cfg.DB.DSN)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer st.Close()
		sessions = st
		analyses = st
	} else {
		// Without a store the stream endpoints answer 503; useful for
		// smoke-testing the broadcast path alone.
		logger.Warn("db.dsn not set, session and analysis lookups disabled")
	}

	registry := broadcast.NewRegistry(broadcast.Config{
		HeartbeatInterval: cfg.HeartbeatInterval(),
		PublishTimeout:    cfg.QueueTimeout(),
		QueueSize:         cfg.Stream.QueueSize,
		Logger:            logger,
	})
	scraping := feed.NewScrapingBroadcaster(registry)
	analysis := feed.NewAnalysisBroadcaster(registry)
	monitor := feed.NewSessionMonitor(sessions, scraping, feed.MonitorConfig{
		PollInterval: cfg.PollInterval(),
		BaseContext:  ctx,
		Logger:       logger,
	})

	server := api.NewServer(registry, scraping, analysis, monitor, sessions, analyses, cfg, logger)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("jobfeed listening", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return err
	}

	// Closing the registry first terminates every open stream so the
	// long-lived SSE handlers can return before Shutdown's deadline.
	registry.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown incomplete", zap.Error(err))
	}
	return <-errCh
}
