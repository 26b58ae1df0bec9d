package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/maltedev/price-scraper/internal/jobs"
	"github.com/maltedev/price-scraper/internal/scraper"
	"github.com/maltedev/price-scraper/internal/storage"
)

const (
	pendingWarnThreshold    = 1000
	deadLetterFailThreshold = 100
)

type JobService interface {
	CreateJob(ctx context.Context, req jobs.CreateJobRequest) (*jobs.Job, error)
	GetJob(ctx context.Context, jobID string) (*jobs.Job, error)
	ListJobs(ctx context.Context) ([]*jobs.Job, error)
	GetStats(ctx context.Context) (*jobs.Stats, error)
}

type TriageService interface {
	List(status string) []*storage.TriageEntry
	Resolve(id, note string) error
}

// OutboxMonitor reports the relay backlog. *database.Relay satisfies it.
type OutboxMonitor interface {
	PendingCount(ctx context.Context) (int64, error)
	DeadLetterCount(ctx context.Context) (int64, error)
}

type Handlers struct {
	jobs   JobService
	triage TriageService
	outbox OutboxMonitor
	logger *slog.Logger
}

// NewHandlers wires the HTTP handlers. triage and outbox may be nil when the
// corresponding feature is not configured.
func NewHandlers(jobs JobService, triage TriageService, outbox OutboxMonitor, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		jobs:   jobs,
		triage: triage,
		outbox: outbox,
		logger: logger.With("component", "api"),
	}
}

type CreateJobResponse struct {
	JobID   string `json:"job_id"`
	URL     string `json:"url"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

func (h *Handlers) CreateJob(w http.ResponseWriter, r *http.Request) {
	var req jobs.CreateJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	job, err := h.jobs.CreateJob(r.Context(), req)
	if err != nil {
		if errors.Is(err, jobs.ErrMissingTarget) || errors.Is(err, scraper.ErrInvalidURL) {
			h.respondError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("failed to create job", "error", err)
		h.respondError(w, http.StatusServiceUnavailable, "failed to create job")
		return
	}

	h.respondJSON(w, http.StatusAccepted, CreateJobResponse{
		JobID:   job.ID,
		URL:     job.URL,
		Status:  job.Status,
		Message: "Job queued",
	})
}

func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	if jobID == "" {
		h.respondError(w, http.StatusBadRequest, "job ID is required")
		return
	}

	job, err := h.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		h.respondError(w, http.StatusNotFound, "job not found")
		return
	}

	h.respondJSON(w, http.StatusOK, job)
}

func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	list, err := h.jobs.ListJobs(r.Context())
	if err != nil {
		h.logger.Error("failed to list jobs", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}

	h.respondJSON(w, http.StatusOK, list)
}

func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.jobs.GetStats(r.Context())
	if err != nil {
		h.logger.Error("failed to get stats", "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	h.respondJSON(w, http.StatusOK, stats)
}

// ListTriage lists failed batches, optionally filtered by ?status=.
func (h *Handlers) ListTriage(w http.ResponseWriter, r *http.Request) {
	if h.triage == nil {
		h.respondError(w, http.StatusNotFound, "triage is not enabled")
		return
	}

	entries := h.triage.List(r.URL.Query().Get("status"))
	if entries == nil {
		entries = []*storage.TriageEntry{}
	}
	h.respondJSON(w, http.StatusOK, entries)
}

type ResolveTriageRequest struct {
	Note string `json:"note"`
}

func (h *Handlers) ResolveTriage(w http.ResponseWriter, r *http.Request) {
	if h.triage == nil {
		h.respondError(w, http.StatusNotFound, "triage is not enabled")
		return
	}

	var req ResolveTriageRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	id := chi.URLParam(r, "entryID")
	if err := h.triage.Resolve(id, req.Note); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.respondError(w, http.StatusNotFound, "triage entry not found")
			return
		}
		h.logger.Error("failed to resolve triage entry", "id", id, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to resolve triage entry")
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]string{"id": id, "status": storage.StatusResolved})
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{"status": "ok"}
	status := http.StatusOK

	if h.outbox != nil {
		pending, perr := h.outbox.PendingCount(r.Context())
		deadLetter, derr := h.outbox.DeadLetterCount(r.Context())
		if err := errors.Join(perr, derr); err != nil {
			h.logger.Error("failed to read outbox counts", "error", err)
			health["status"] = "error"
			health["message"] = "outbox unavailable"
			h.respondJSON(w, http.StatusServiceUnavailable, health)
			return
		}

		health["outbox"] = map[string]int64{
			"pending":     pending,
			"dead_letter": deadLetter,
		}
		if pending > pendingWarnThreshold {
			health["status"] = "warning"
			health["message"] = "High number of pending outbox events"
		}
		if deadLetter > deadLetterFailThreshold {
			health["status"] = "error"
			health["message"] = "High number of dead letter events"
			status = http.StatusServiceUnavailable
		}
	}

	h.respondJSON(w, status, health)
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
