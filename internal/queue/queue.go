package queue

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	ErrQueueClosed = errors.New("queue is closed")
	ErrInvalidTask = errors.New("task has no ID or URL")
)

// Task is one listing page waiting to be scraped.
type Task struct {
	ID        string
	URL       string
	Category  string
	Priority  int
	Retries   int
	CreatedAt time.Time
}

type Queue interface {
	Push(task *Task) error
	Pop(ctx context.Context) (*Task, error)
	Size() int
	Close() error
}

// InMemoryQueue hands out tasks highest priority first, FIFO within a
// priority.
type InMemoryQueue struct {
	mu     sync.Mutex
	tasks  []*Task
	notify chan struct{}
	closed bool
}

func NewInMemoryQueue() *InMemoryQueue {
	return &InMemoryQueue{
		notify: make(chan struct{}, 1),
	}
}

func (q *InMemoryQueue) Push(task *Task) error {
	if task == nil || task.ID == "" || task.URL == "" {
		return ErrInvalidTask
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrQueueClosed
	}

	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
	q.tasks = append(q.tasks, task)
	sort.SliceStable(q.tasks, func(i, j int) bool {
		return q.tasks[i].Priority > q.tasks[j].Priority
	})

	q.signal()
	return nil
}

// Pop blocks until a task is available, the queue is closed and drained, or
// ctx is done.
func (q *InMemoryQueue) Pop(ctx context.Context) (*Task, error) {
	for {
		q.mu.Lock()
		if len(q.tasks) > 0 {
			task := q.tasks[0]
			q.tasks = q.tasks[1:]
			if len(q.tasks) > 0 && !q.closed {
				q.signal()
			}
			q.mu.Unlock()
			return task, nil
		}
		if q.closed {
			q.mu.Unlock()
			return nil, ErrQueueClosed
		}
		q.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-q.notify:
		}
	}
}

func (q *InMemoryQueue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Close stops accepting tasks. Tasks already queued can still be popped.
func (q *InMemoryQueue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true
	close(q.notify)
	return nil
}

// signal wakes one waiting Pop. Callers hold mu and have checked closed.
func (q *InMemoryQueue) signal() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}
