package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/maltedev/price-scraper/internal/queue"
	"github.com/maltedev/price-scraper/internal/scraper"
)

// StartWorker processes queued jobs one at a time until ctx is done or the
// queue is closed and drained.
func (m *Manager) StartWorker(ctx context.Context) {
	m.logger.Info("job worker started")

	for {
		task, err := m.queue.Pop(ctx)
		if err != nil {
			if errors.Is(err, queue.ErrQueueClosed) {
				m.logger.Info("queue closed, job worker stopping")
			} else {
				m.logger.Info("job worker stopping", "reason", err)
			}
			return
		}

		if err := m.limiter.Wait(ctx); err != nil {
			m.logger.Info("job worker stopping", "reason", err)
			return
		}

		m.processTask(ctx, task)
	}
}

func (m *Manager) processTask(ctx context.Context, task *queue.Task) {
	now := time.Now()
	m.update(task.ID, func(j *Job) {
		j.Status = StatusRunning
		j.Attempts++
		if j.StartedAt == nil {
			j.StartedAt = &now
		}
	})
	m.logger.Info("processing job", "id", task.ID, "url", task.URL, "retry", task.Retries)

	res, err := m.runTask(ctx, task)

	if err != nil && retryable(res, err) && task.Retries < m.cfg.MaxRetries {
		m.recordError()
		task.Retries++
		if pushErr := m.queue.Push(task); pushErr == nil {
			m.update(task.ID, func(j *Job) {
				j.Status = StatusPending
				j.Result = res
				j.Error = err.Error()
			})
			m.logger.Warn("job will be retried", "id", task.ID, "retry", task.Retries, "error", err)
			return
		}
	}

	done := time.Now()
	m.update(task.ID, func(j *Job) {
		j.Result = res
		j.CompletedAt = &done
		if err != nil {
			j.Status = StatusFailed
			j.Error = err.Error()
			return
		}
		j.Status = StatusCompleted
		j.Error = ""
	})

	if err != nil {
		m.recordError()
		m.logger.Error("job failed", "id", task.ID, "error", err)
		return
	}
	m.recordSuccess()
	m.logger.Info("job completed", "id", task.ID, "status", res.Status)
}

// runTask owns the session for exactly one run.
func (m *Manager) runTask(ctx context.Context, task *queue.Task) (res *scraper.Result, err error) {
	session, err := m.sessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			m.logger.Warn("failed to close session", "id", task.ID, "error", cerr)
		}
	}()

	return m.runner.Run(ctx, session, task.URL)
}

// retryable reports whether a failed run may succeed on another attempt.
// Validation and sink failures are not retried.
func retryable(res *scraper.Result, err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if res == nil {
		return true
	}
	return res.Status == scraper.StatusNotReady || res.Status == scraper.StatusFailed
}

func (m *Manager) recordSuccess() {
	if f, ok := m.limiter.(feedback); ok {
		f.RecordSuccess()
	}
}

func (m *Manager) recordError() {
	if f, ok := m.limiter.(feedback); ok {
		f.RecordError()
	}
}
