package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/maltedev/price-scraper/internal/browser"
	"github.com/maltedev/price-scraper/internal/config"
	"github.com/maltedev/price-scraper/internal/database"
	"github.com/maltedev/price-scraper/internal/events"
	"github.com/maltedev/price-scraper/internal/jobs"
	"github.com/maltedev/price-scraper/internal/metrics"
	"github.com/maltedev/price-scraper/internal/parser"
	"github.com/maltedev/price-scraper/internal/scraper"
	"github.com/maltedev/price-scraper/internal/storage"
	"github.com/maltedev/price-scraper/pkg/logger"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// app holds what every subcommand builds from the configuration. Fields are
// nil when the matching feature is not configured.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	store  database.Store
	db     *database.DB
	redis  *redis.Client
	relay  *database.Relay
	triage *storage.TriageStore
}

func loadApp(cmd *cobra.Command) (*app, error) {
	path, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(log)
	if cfg.File != "" {
		log.Debug("config file applied", "path", cfg.File)
	}

	return &app{cfg: cfg, logger: log}, nil
}

// openSink connects the configured store and, for Postgres with Redis
// configured, wires the outbox and its relay.
func (a *app) openSink(ctx context.Context) error {
	if a.cfg.Database.ConnectionString == "" {
		a.logger.Warn("DB_CONNECTION_STRING not set, batches will not be persisted")
		return nil
	}

	store, err := database.Open(ctx, a.cfg.Database.ConnectionString)
	if err != nil {
		return fmt.Errorf("failed to open sink: %w", err)
	}
	a.store = store

	if err := store.EnsureTable(ctx, a.cfg.Database.Table); err != nil {
		return err
	}

	db, ok := store.(*database.DB)
	if !ok || a.cfg.Redis.Addr == "" {
		return nil
	}
	a.db = db

	if err := database.NewOutboxRepository(db).EnsureSchema(ctx); err != nil {
		return err
	}
	db.SetBatchStager(events.NewPublisher(db, a.cfg.Redis.Stream, a.logger))

	if err := a.openRedis(ctx); err != nil {
		return err
	}

	a.relay = database.NewRelay(db, a.redis, a.logger, database.RelayConfig{
		PollInterval: a.cfg.Redis.PollInterval,
		BatchSize:    a.cfg.Redis.BatchSize,
	})
	return nil
}

func (a *app) openRedis(ctx context.Context) error {
	if a.cfg.Redis.Addr == "" {
		return errors.New("REDIS_ADDR not set")
	}

	a.redis = redis.NewClient(&redis.Options{
		Addr:     a.cfg.Redis.Addr,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	if err := a.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return nil
}

func (a *app) openTriage() error {
	if scraper.FailedBatchPolicy(a.cfg.Scraper.FailedBatchPolicy) != scraper.PolicyTriage {
		return nil
	}

	ts, err := storage.NewTriageStore(a.cfg.Scraper.TriageDir)
	if err != nil {
		return err
	}
	a.triage = ts
	return nil
}

func (a *app) newScraper(m *metrics.Collector) *scraper.Scraper {
	opts := []scraper.Option{scraper.WithMetrics(m)}
	if a.store != nil {
		opts = append(opts, scraper.WithSink(a.store))
	}
	if a.triage != nil {
		opts = append(opts, scraper.WithTriage(a.triage))
	}

	return scraper.New(scraper.Options{
		ReadyMarker:  a.cfg.Scraper.ReadyMarker,
		ReadyTimeout: a.cfg.Scraper.ReadyTimeout,
		MaxCards:     a.cfg.Scraper.MaxCards,
		Table:        a.cfg.Database.Table,
		Policy:       scraper.FailedBatchPolicy(a.cfg.Scraper.FailedBatchPolicy),
	}, a.logger, opts...)
}

func (a *app) browserOptions() *browser.Options {
	opts := browser.DefaultOptions()
	opts.Headless = a.cfg.Browser.Headless
	opts.Timeout = a.cfg.Browser.Timeout
	opts.UserAgent = a.cfg.Scraper.UserAgent
	opts.ViewportWidth = a.cfg.Browser.ViewportWidth
	opts.ViewportHeight = a.cfg.Browser.ViewportHeight
	opts.AcceptLanguage = a.cfg.Browser.AcceptLanguage
	opts.TimezoneID = a.cfg.Browser.TimezoneID
	opts.Locale = a.cfg.Browser.Locale
	opts.ProxyServer = a.cfg.Browser.ProxyServer
	opts.WSEndpoint = a.cfg.Browser.WSEndpoint
	opts.ConnectRetries = a.cfg.Browser.ConnectRetries
	opts.ConnectDelay = a.cfg.Browser.ConnectDelay
	return opts
}

// sessionFactory returns a factory for the configured session kind and a
// cleanup for anything shared between sessions.
func (a *app) sessionFactory(ctx context.Context, kind string) (jobs.SessionFactory, func() error, error) {
	if kind == "static" {
		fetcher := parser.NewCollyFetcher(a.cfg.Scraper.UserAgent, a.cfg.Scraper.FetchTimeout)
		factory := func(ctx context.Context) (jobs.Session, error) {
			return parser.NewDocument(fetcher, a.logger), nil
		}
		return factory, func() error { return nil }, nil
	}

	b, err := browser.New(ctx, a.browserOptions(), a.logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize browser: %w", err)
	}
	factory := func(ctx context.Context) (jobs.Session, error) {
		page, err := b.NewPage()
		if err != nil {
			return nil, err
		}
		return page, nil
	}
	return factory, b.Close, nil
}

// flushOutbox pushes staged events to Redis once.
func (a *app) flushOutbox(ctx context.Context) {
	if a.relay == nil {
		return
	}
	n, err := a.relay.ProcessPending(ctx)
	if err != nil {
		a.logger.Error("failed to relay outbox events", "error", err)
		return
	}
	a.logger.Info("outbox events relayed", "count", n)
}

func (a *app) Close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}
