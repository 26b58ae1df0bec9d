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

	"github.com/maltedev/price-scraper/internal/api"
	"github.com/maltedev/price-scraper/internal/jobs"
	"github.com/maltedev/price-scraper/internal/metrics"
	"github.com/maltedev/price-scraper/internal/queue"
	"github.com/maltedev/price-scraper/internal/ratelimit"
	"github.com/spf13/cobra"
)

func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and job worker",
		Long: `Serve exposes an HTTP API for queueing listing scrapes. Jobs run one at a
time on a single worker, spaced by the configured rate limit. When Postgres
and Redis are both configured, batch events are relayed from the outbox to
the Redis stream in the background.

Endpoints:
  POST /api/v1/jobs                       {"category": "..."} or {"url": "..."}
  GET  /api/v1/jobs
  GET  /api/v1/jobs/{jobID}
  GET  /api/v1/stats
  GET  /api/v1/triage?status=open
  POST /api/v1/triage/{entryID}/resolve   {"note": "..."}
  GET  /health
  GET  /metrics`,
		Args: cobra.NoArgs,
		RunE: runServeCmd,
	}

	cmd.Flags().Int("port", 0, "Listen port (default from config)")

	return cmd
}

func runServeCmd(cmd *cobra.Command, _ []string) error {
	a, err := loadApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		a.cfg.Server.Port = port
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if err := a.openSink(ctx); err != nil {
		return err
	}
	if err := a.openTriage(); err != nil {
		return err
	}

	sessions, cleanup, err := a.sessionFactory(ctx, a.cfg.Scraper.Session)
	if err != nil {
		return err
	}
	defer func() {
		if err := cleanup(); err != nil {
			a.logger.Warn("failed to close browser", "error", err)
		}
	}()

	if a.relay != nil {
		go func() {
			if err := a.relay.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				a.logger.Error("relay stopped with error", "error", err)
			}
		}()
	}

	collector := metrics.New()
	taskQueue := queue.NewInMemoryQueue()
	defer taskQueue.Close()

	manager := jobs.NewManager(
		taskQueue,
		ratelimit.NewAdaptiveRateLimiter(a.cfg.Scraper.RateLimitMin, a.cfg.Scraper.RateLimitMax),
		a.newScraper(collector),
		sessions,
		jobs.Config{BaseURL: a.cfg.Scraper.BaseURL, MaxRetries: a.cfg.Scraper.MaxRetries},
		a.logger,
	)
	go manager.StartWorker(ctx)

	handlers := api.NewHandlers(manager, triageService(a), outboxMonitor(a), a.logger)
	router := api.NewRouter(handlers, api.RouterConfig{
		AllowedOrigins: a.cfg.Server.AllowedOrigins,
		RequestTimeout: a.cfg.Server.WriteTimeout,
		Metrics:        collector.Handler(),
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", a.cfg.Server.Host, a.cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		select {
		case <-sigChan:
		case <-ctx.Done():
		}

		a.logger.Info("shutting down server...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown failed", "error", err)
		}
	}()

	a.logger.Info("server starting", "addr", server.Addr, "session", a.cfg.Scraper.Session)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}

	a.logger.Info("server stopped")
	return nil
}

// api treats a nil interface as "feature off", so nil pointers must not leak
// through as typed interfaces.
func triageService(a *app) api.TriageService {
	if a.triage == nil {
		return nil
	}
	return a.triage
}

func outboxMonitor(a *app) api.OutboxMonitor {
	if a.relay == nil {
		return nil
	}
	return a.relay
}
