package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/price-scraper/internal/extract"
	"github.com/maltedev/price-scraper/internal/queue"
	"github.com/maltedev/price-scraper/internal/ratelimit"
	"github.com/maltedev/price-scraper/internal/scraper"
)

var (
	ErrJobNotFound   = errors.New("job not found")
	ErrMissingTarget = errors.New("either url or category is required")
)

const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"

	listLimit = 100
)

// Session is an extract.Session the worker must release after one run.
type Session interface {
	extract.Session
	Close() error
}

// SessionFactory opens a fresh session for one job.
type SessionFactory func(ctx context.Context) (Session, error)

// Runner runs one listing page. *scraper.Scraper satisfies it.
type Runner interface {
	Run(ctx context.Context, session extract.Session, url string) (*scraper.Result, error)
}

// feedback is implemented by limiters that adapt to outcomes.
type feedback interface {
	RecordSuccess()
	RecordError()
}

// Job is one requested scrape of a listing page.
type Job struct {
	ID          string          `json:"id"`
	URL         string          `json:"url"`
	Category    string          `json:"category,omitempty"`
	Priority    int             `json:"priority"`
	Status      string          `json:"status"`
	Attempts    int             `json:"attempts"`
	Result      *scraper.Result `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	StartedAt   *time.Time      `json:"started_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// Stats summarizes the jobs known to the manager.
type Stats struct {
	TotalJobs     int     `json:"total_jobs"`
	PendingJobs   int     `json:"pending_jobs"`
	RunningJobs   int     `json:"running_jobs"`
	CompletedJobs int     `json:"completed_jobs"`
	FailedJobs    int     `json:"failed_jobs"`
	RowsPersisted int64   `json:"rows_persisted"`
	SuccessRate   float64 `json:"success_rate"`
}

type CreateJobRequest struct {
	URL      string `json:"url"`
	Category string `json:"category"`
	Priority int    `json:"priority"`
}

type Config struct {
	BaseURL    string
	MaxRetries int
}

type Manager struct {
	queue    queue.Queue
	limiter  ratelimit.RateLimiter
	runner   Runner
	sessions SessionFactory
	cfg      Config
	logger   *slog.Logger

	mu   sync.RWMutex
	jobs map[string]*Job
}

func NewManager(q queue.Queue, limiter ratelimit.RateLimiter, runner Runner, sessions SessionFactory, cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		queue:    q,
		limiter:  limiter,
		runner:   runner,
		sessions: sessions,
		cfg:      cfg,
		logger:   logger.With("component", "job_manager"),
		jobs:     make(map[string]*Job),
	}
}

// CreateJob queues a scrape of req.URL or, when empty, of the category
// listing under the configured base URL.
func (m *Manager) CreateJob(ctx context.Context, req CreateJobRequest) (*Job, error) {
	var (
		target string
		err    error
	)
	switch {
	case req.URL != "":
		target, err = scraper.ListingURL(req.URL, "")
	case req.Category != "":
		target, err = scraper.ListingURL(m.cfg.BaseURL, req.Category)
	default:
		return nil, ErrMissingTarget
	}
	if err != nil {
		return nil, err
	}

	job := &Job{
		ID:        uuid.New().String(),
		URL:       target,
		Category:  req.Category,
		Priority:  req.Priority,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}

	m.mu.Lock()
	m.jobs[job.ID] = job
	m.mu.Unlock()

	err = m.queue.Push(&queue.Task{
		ID:        job.ID,
		URL:       job.URL,
		Category:  job.Category,
		Priority:  job.Priority,
		CreatedAt: job.CreatedAt,
	})
	if err != nil {
		m.mu.Lock()
		delete(m.jobs, job.ID)
		m.mu.Unlock()
		return nil, fmt.Errorf("failed to queue job: %w", err)
	}

	m.logger.Info("job created", "id", job.ID, "url", job.URL)
	return snapshot(job), nil
}

func (m *Manager) GetJob(ctx context.Context, jobID string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	job, ok := m.jobs[jobID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return snapshot(job), nil
}

// ListJobs returns the most recent jobs, newest first.
func (m *Manager) ListJobs(ctx context.Context) ([]*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	jobs := make([]*Job, 0, len(m.jobs))
	for _, job := range m.jobs {
		jobs = append(jobs, snapshot(job))
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	if len(jobs) > listLimit {
		jobs = jobs[:listLimit]
	}
	return jobs, nil
}

func (m *Manager) GetStats(ctx context.Context) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := &Stats{TotalJobs: len(m.jobs)}
	for _, job := range m.jobs {
		switch job.Status {
		case StatusPending:
			stats.PendingJobs++
		case StatusRunning:
			stats.RunningJobs++
		case StatusCompleted:
			stats.CompletedJobs++
		case StatusFailed:
			stats.FailedJobs++
		}
		if job.Result != nil {
			stats.RowsPersisted += job.Result.Persisted
		}
	}

	if finished := stats.CompletedJobs + stats.FailedJobs; finished > 0 {
		stats.SuccessRate = float64(stats.CompletedJobs) / float64(finished) * 100
	}
	return stats, nil
}

func (m *Manager) update(jobID string, fn func(*Job)) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if job, ok := m.jobs[jobID]; ok {
		fn(job)
	}
}

func snapshot(job *Job) *Job {
	cp := *job
	return &cp
}
