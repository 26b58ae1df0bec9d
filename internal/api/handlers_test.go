package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/maltedev/price-scraper/internal/jobs"
	"github.com/maltedev/price-scraper/internal/metrics"
	"github.com/maltedev/price-scraper/internal/queue"
	"github.com/maltedev/price-scraper/internal/schema"
	"github.com/maltedev/price-scraper/internal/scraper"
	"github.com/maltedev/price-scraper/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockJobService struct {
	mock.Mock
}

func (m *MockJobService) CreateJob(ctx context.Context, req jobs.CreateJobRequest) (*jobs.Job, error) {
	args := m.Called(ctx, req)
	job, _ := args.Get(0).(*jobs.Job)
	return job, args.Error(1)
}

func (m *MockJobService) GetJob(ctx context.Context, jobID string) (*jobs.Job, error) {
	args := m.Called(ctx, jobID)
	job, _ := args.Get(0).(*jobs.Job)
	return job, args.Error(1)
}

func (m *MockJobService) ListJobs(ctx context.Context) ([]*jobs.Job, error) {
	args := m.Called(ctx)
	list, _ := args.Get(0).([]*jobs.Job)
	return list, args.Error(1)
}

func (m *MockJobService) GetStats(ctx context.Context) (*jobs.Stats, error) {
	args := m.Called(ctx)
	stats, _ := args.Get(0).(*jobs.Stats)
	return stats, args.Error(1)
}

type MockOutboxMonitor struct {
	mock.Mock
}

func (m *MockOutboxMonitor) PendingCount(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockOutboxMonitor) DeadLetterCount(ctx context.Context) (int64, error) {
	args := m.Called(ctx)
	return args.Get(0).(int64), args.Error(1)
}

func serve(t *testing.T, h *Handlers, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	router := NewRouter(h, RouterConfig{Metrics: metrics.New().Handler()})

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestCreateJob(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		setup      func(m *MockJobService)
		wantStatus int
	}{
		{
			name: "queued",
			body: `{"category":"hardware/placas-de-video-vga"}`,
			setup: func(m *MockJobService) {
				m.On("CreateJob", mock.Anything, jobs.CreateJobRequest{Category: "hardware/placas-de-video-vga"}).
					Return(&jobs.Job{ID: "job-1", URL: "https://www.kabum.com.br/hardware/placas-de-video-vga", Status: jobs.StatusPending}, nil)
			},
			wantStatus: http.StatusAccepted,
		},
		{
			name:       "malformed body",
			body:       `{`,
			setup:      func(m *MockJobService) {},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "missing target",
			body: `{}`,
			setup: func(m *MockJobService) {
				m.On("CreateJob", mock.Anything, jobs.CreateJobRequest{}).Return(nil, jobs.ErrMissingTarget)
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "invalid url",
			body: `{"url":"ftp://x"}`,
			setup: func(m *MockJobService) {
				m.On("CreateJob", mock.Anything, jobs.CreateJobRequest{URL: "ftp://x"}).Return(nil, scraper.ErrInvalidURL)
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "queue closed",
			body: `{"category":"hardware"}`,
			setup: func(m *MockJobService) {
				m.On("CreateJob", mock.Anything, mock.Anything).Return(nil, queue.ErrQueueClosed)
			},
			wantStatus: http.StatusServiceUnavailable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(MockJobService)
			tt.setup(svc)

			rec := serve(t, NewHandlers(svc, nil, nil, nil), http.MethodPost, "/api/v1/jobs", tt.body)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
			if tt.wantStatus == http.StatusAccepted {
				assert.Equal(t, "job-1", decode(t, rec)["job_id"])
			}
			svc.AssertExpectations(t)
		})
	}
}

func TestGetJob(t *testing.T) {
	svc := new(MockJobService)
	svc.On("GetJob", mock.Anything, "job-1").Return(&jobs.Job{
		ID:     "job-1",
		Status: jobs.StatusCompleted,
		Result: &scraper.Result{Status: scraper.StatusPersisted, Persisted: 12},
	}, nil)
	svc.On("GetJob", mock.Anything, "missing").Return(nil, jobs.ErrJobNotFound)
	h := NewHandlers(svc, nil, nil, nil)

	rec := serve(t, h, http.MethodGet, "/api/v1/jobs/job-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, jobs.StatusCompleted, body["status"])
	assert.Equal(t, 12.0, body["result"].(map[string]interface{})["persisted"])

	rec = serve(t, h, http.MethodGet, "/api/v1/jobs/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListJobsAndStats(t *testing.T) {
	svc := new(MockJobService)
	svc.On("ListJobs", mock.Anything).Return([]*jobs.Job{{ID: "a"}, {ID: "b"}}, nil)
	svc.On("GetStats", mock.Anything).Return(nil, errors.New("boom"))
	h := NewHandlers(svc, nil, nil, nil)

	rec := serve(t, h, http.MethodGet, "/api/v1/jobs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []jobs.Job
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 2)

	rec = serve(t, h, http.MethodGet, "/api/v1/stats", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestTriageEndpoints(t *testing.T) {
	ts, err := storage.NewTriageStore(t.TempDir())
	require.NoError(t, err)
	id, err := ts.Add(&storage.TriageEntry{
		SourceURL: "https://www.kabum.com.br/hardware",
		Batch:     []schema.Row{{"name": "ab"}},
		Failures:  []schema.FailureCase{{Row: 0, Column: "name", Check: "str_length(3)", Value: "ab"}},
	})
	require.NoError(t, err)

	h := NewHandlers(new(MockJobService), ts, nil, nil)

	rec := serve(t, h, http.MethodGet, "/api/v1/triage?status=open", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var entries []storage.TriageEntry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].ID)

	rec = serve(t, h, http.MethodPost, "/api/v1/triage/"+id+"/resolve", `{"note":"name selector changed"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(t, h, http.MethodGet, "/api/v1/triage?status=open", "")
	assert.Equal(t, "[]\n", rec.Body.String())

	rec = serve(t, h, http.MethodPost, "/api/v1/triage/missing/resolve", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTriageDisabled(t *testing.T) {
	h := NewHandlers(new(MockJobService), nil, nil, nil)

	rec := serve(t, h, http.MethodGet, "/api/v1/triage", "")

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	tests := []struct {
		name       string
		pending    int64
		deadLetter int64
		countErr   error
		wantStatus int
		wantHealth string
	}{
		{name: "ok", pending: 3, wantStatus: http.StatusOK, wantHealth: "ok"},
		{name: "backlog", pending: 1500, wantStatus: http.StatusOK, wantHealth: "warning"},
		{name: "dead letters", deadLetter: 101, wantStatus: http.StatusServiceUnavailable, wantHealth: "error"},
		{name: "outbox down", countErr: errors.New("pool closed"), wantStatus: http.StatusServiceUnavailable, wantHealth: "error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outbox := new(MockOutboxMonitor)
			outbox.On("PendingCount", mock.Anything).Return(tt.pending, tt.countErr)
			outbox.On("DeadLetterCount", mock.Anything).Return(tt.deadLetter, nil)

			rec := serve(t, NewHandlers(new(MockJobService), nil, outbox, nil), http.MethodGet, "/health", "")

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, tt.wantHealth, decode(t, rec)["status"])
		})
	}
}

func TestHealth_WithoutOutbox(t *testing.T) {
	rec := serve(t, NewHandlers(new(MockJobService), nil, nil, nil), http.MethodGet, "/health", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.NotContains(t, body, "outbox")
}

func TestMetricsRoute(t *testing.T) {
	rec := serve(t, NewHandlers(new(MockJobService), nil, nil, nil), http.MethodGet, "/metrics", "")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "scraper_records_extracted_total")
}

func TestNewRouter_Defaults(t *testing.T) {
	h := NewHandlers(new(MockJobService), nil, nil, nil)
	router := NewRouter(h, RouterConfig{RequestTimeout: time.Second})

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
