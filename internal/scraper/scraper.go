package scraper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/price-scraper/internal/extract"
	"github.com/maltedev/price-scraper/internal/metrics"
	"github.com/maltedev/price-scraper/internal/models"
	"github.com/maltedev/price-scraper/internal/schema"
	"github.com/maltedev/price-scraper/internal/storage"
)

var (
	ErrContentNotReady = errors.New("content not ready")
	ErrInvalidURL      = errors.New("invalid listing URL")
)

type Status string

const (
	StatusPersisted  Status = "persisted"
	StatusValidated  Status = "validated"
	StatusEmpty      Status = "empty"
	StatusInvalid    Status = "invalid"
	StatusNotReady   Status = "not_ready"
	StatusFailed     Status = "failed"
	StatusSinkFailed Status = "sink_failed"
)

// FailedBatchPolicy decides what happens to a batch that failed validation.
// It never reaches the sink either way.
type FailedBatchPolicy string

const (
	PolicyDiscard FailedBatchPolicy = "discard"
	PolicyTriage  FailedBatchPolicy = "triage"
)

// Sink appends a validated batch to target.
type Sink interface {
	WriteBatch(ctx context.Context, target string, records []models.ValidatedProduct) (int64, error)
}

type Triage interface {
	Add(entry *storage.TriageEntry) (string, error)
}

type Options struct {
	ReadyMarker  string
	ReadyTimeout time.Duration
	MaxCards     int
	Table        string
	Policy       FailedBatchPolicy
}

func DefaultOptions() Options {
	return Options{
		ReadyMarker:  "R$",
		ReadyTimeout: 20 * time.Second,
		MaxCards:     extract.DefaultMaxCards,
		Table:        "precos_placas_video",
		Policy:       PolicyDiscard,
	}
}

// Result describes one run. Records is set once the batch validated;
// Batch and Failures only when it did not.
type Result struct {
	RunID      string                    `json:"run_id"`
	URL        string                    `json:"url"`
	Status     Status                    `json:"status"`
	Stats      extract.Stats             `json:"stats"`
	Records    []models.ValidatedProduct `json:"records,omitempty"`
	Batch      []schema.Row              `json:"batch,omitempty"`
	Failures   []schema.FailureCase      `json:"failures,omitempty"`
	Persisted  int64                     `json:"persisted"`
	TriageID   string                    `json:"triage_id,omitempty"`
	StartedAt  time.Time                 `json:"started_at"`
	FinishedAt time.Time                 `json:"finished_at"`
}

type Scraper struct {
	pipeline  *extract.Pipeline
	validator *schema.Validator
	sink      Sink
	triage    Triage
	metrics   *metrics.Collector
	opts      Options
	logger    *slog.Logger
}

type Option func(*Scraper)

func WithSink(s Sink) Option {
	return func(sc *Scraper) { sc.sink = s }
}

func WithTriage(t Triage) Option {
	return func(sc *Scraper) { sc.triage = t }
}

func WithMetrics(m *metrics.Collector) Option {
	return func(sc *Scraper) { sc.metrics = m }
}

func New(opts Options, logger *slog.Logger, options ...Option) *Scraper {
	defaults := DefaultOptions()
	if opts.ReadyMarker == "" {
		opts.ReadyMarker = defaults.ReadyMarker
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = defaults.ReadyTimeout
	}
	if opts.MaxCards <= 0 {
		opts.MaxCards = defaults.MaxCards
	}
	if opts.Table == "" {
		opts.Table = defaults.Table
	}
	if opts.Policy == "" {
		opts.Policy = defaults.Policy
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Scraper{
		validator: schema.NewValidator(),
		opts:      opts,
		logger:    logger.With("component", "scraper"),
	}
	s.pipeline = extract.NewPipeline(
		extract.NewCardLocator(nil, logger),
		extract.NewFieldExtractor(logger),
		opts.MaxCards,
		logger,
	)

	for _, o := range options {
		o(s)
	}
	if s.metrics != nil {
		s.pipeline.SetObserver(s.metrics)
	}

	return s
}

// Run scrapes one listing page through session. The caller owns the
// session and releases it. A returned error always comes with a Result whose
// Status says which stage stopped the run.
func (s *Scraper) Run(ctx context.Context, session extract.Session, pageURL string) (*Result, error) {
	res := &Result{
		RunID:     uuid.New().String(),
		URL:       pageURL,
		StartedAt: time.Now(),
	}
	logger := s.logger.With("run_id", res.RunID, "url", pageURL)

	err := s.run(ctx, session, res, logger)

	res.FinishedAt = time.Now()
	s.metrics.RunFinished(string(res.Status), res.FinishedAt.Sub(res.StartedAt))
	logger.Info("run finished",
		"status", res.Status,
		"extracted", res.Stats.Extracted,
		"persisted", res.Persisted,
		"duration", res.FinishedAt.Sub(res.StartedAt),
	)

	return res, err
}

func (s *Scraper) run(ctx context.Context, session extract.Session, res *Result, logger *slog.Logger) error {
	if err := session.Navigate(ctx, res.URL); err != nil {
		res.Status = StatusFailed
		return fmt.Errorf("failed to navigate to %s: %w", res.URL, err)
	}

	if !session.WaitForText(ctx, s.opts.ReadyMarker, s.opts.ReadyTimeout) {
		res.Status = StatusNotReady
		return fmt.Errorf("%w: %q not found within %s", ErrContentNotReady, s.opts.ReadyMarker, s.opts.ReadyTimeout)
	}

	raw, stats := s.pipeline.Run(session)
	res.Stats = stats
	if len(raw) == 0 {
		logger.Warn("no records extracted", "strategy", stats.Strategy, "located", stats.Located)
		res.Status = StatusEmpty
		return nil
	}

	outcome := s.validator.ValidateRecords(raw)
	if !outcome.OK() {
		res.Status = StatusInvalid
		res.Batch = outcome.Batch
		res.Failures = outcome.Failures
		for _, f := range outcome.Failures {
			s.metrics.ValidationFailure(f.Column, f.Check)
		}
		logger.Error("batch failed validation",
			"failure_cases", len(outcome.Failures),
			"rows", len(outcome.Batch),
		)
		s.handleFailedBatch(res, logger)
		return outcome.Err()
	}
	res.Records = outcome.Records

	if s.sink == nil {
		logger.Warn("no sink configured, persistence skipped", "records", len(res.Records))
		res.Status = StatusValidated
		return nil
	}

	n, err := s.sink.WriteBatch(ctx, s.opts.Table, res.Records)
	if err != nil {
		res.Status = StatusSinkFailed
		return fmt.Errorf("failed to persist batch to %s: %w", s.opts.Table, err)
	}

	res.Persisted = n
	res.Status = StatusPersisted
	s.metrics.RowsPersisted(n)
	return nil
}

func (s *Scraper) handleFailedBatch(res *Result, logger *slog.Logger) {
	if s.opts.Policy != PolicyTriage {
		return
	}
	if s.triage == nil {
		logger.Warn("triage policy set but no triage store configured")
		return
	}

	id, err := s.triage.Add(&storage.TriageEntry{
		RunID:     res.RunID,
		SourceURL: res.URL,
		Batch:     res.Batch,
		Failures:  res.Failures,
	})
	if err != nil {
		logger.Error("failed to store batch for triage", "error", err)
		return
	}
	res.TriageID = id
	logger.Info("batch stored for triage", "triage_id", id)
}

// ListingURL joins a site base URL and a category path.
func ListingURL(base, category string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil || !u.IsAbs() || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, base)
	}

	category = strings.Trim(strings.TrimSpace(category), "/")
	if category == "" {
		return u.String(), nil
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + "/" + category
	return u.String(), nil
}
