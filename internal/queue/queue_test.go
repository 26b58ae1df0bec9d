package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func task(id string, priority int) *Task {
	return &Task{ID: id, URL: "https://www.kabum.com.br/" + id, Priority: priority}
}

func TestInMemoryQueue_PriorityOrder(t *testing.T) {
	q := NewInMemoryQueue()

	require.NoError(t, q.Push(task("low", 0)))
	require.NoError(t, q.Push(task("high", 10)))
	require.NoError(t, q.Push(task("low-2", 0)))
	require.NoError(t, q.Push(task("mid", 5)))
	assert.Equal(t, 4, q.Size())

	var got []string
	for i := 0; i < 4; i++ {
		tk, err := q.Pop(context.Background())
		require.NoError(t, err)
		got = append(got, tk.ID)
	}

	assert.Equal(t, []string{"high", "mid", "low", "low-2"}, got)
	assert.Equal(t, 0, q.Size())
}

func TestInMemoryQueue_PushValidation(t *testing.T) {
	q := NewInMemoryQueue()

	assert.ErrorIs(t, q.Push(nil), ErrInvalidTask)
	assert.ErrorIs(t, q.Push(&Task{ID: "x"}), ErrInvalidTask)

	tk := task("a", 0)
	require.NoError(t, q.Push(tk))
	assert.False(t, tk.CreatedAt.IsZero())
}

func TestInMemoryQueue_PopBlocksUntilPush(t *testing.T) {
	q := NewInMemoryQueue()

	result := make(chan *Task, 1)
	go func() {
		tk, err := q.Pop(context.Background())
		if err == nil {
			result <- tk
		}
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Push(task("late", 0)))

	select {
	case tk := <-result:
		assert.Equal(t, "late", tk.ID)
	case <-time.After(time.Second):
		t.Fatal("Pop did not return after Push")
	}
}

func TestInMemoryQueue_PopContextCancelled(t *testing.T) {
	q := NewInMemoryQueue()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Pop(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestInMemoryQueue_CloseDrains(t *testing.T) {
	q := NewInMemoryQueue()
	require.NoError(t, q.Push(task("a", 0)))
	require.NoError(t, q.Close())
	require.NoError(t, q.Close())

	assert.ErrorIs(t, q.Push(task("b", 0)), ErrQueueClosed)

	tk, err := q.Pop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", tk.ID)

	_, err = q.Pop(context.Background())
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestInMemoryQueue_ConcurrentConsumers(t *testing.T) {
	q := NewInMemoryQueue()
	const n = 50

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = make(map[string]bool)
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				tk, err := q.Pop(context.Background())
				if err != nil {
					return
				}
				mu.Lock()
				seen[tk.ID] = true
				mu.Unlock()
			}
		}()
	}

	for i := 0; i < n; i++ {
		require.NoError(t, q.Push(task(string(rune('A'+i)), i%3)))
	}
	require.NoError(t, q.Close())
	wg.Wait()

	assert.Len(t, seen, n)
}
