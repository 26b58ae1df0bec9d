package database

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockRedisClient struct {
	mock.Mock
}

func (m *MockRedisClient) XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd {
	mockArgs := m.Called(ctx, args)
	cmd := redis.NewStringCmd(ctx)
	if mockArgs.Get(0) != nil {
		cmd.SetErr(mockArgs.Error(0))
	} else {
		cmd.SetVal("1715351400000-0")
	}
	return cmd
}

func (m *MockRedisClient) Close() error {
	args := m.Called()
	return args.Error(0)
}

type MockOutboxRepository struct {
	mock.Mock
}

func (m *MockOutboxRepository) GetPending(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*OutboxEvent), args.Error(1)
}

func (m *MockOutboxRepository) MarkProcessed(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockOutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, err error) error {
	args := m.Called(ctx, id, err)
	return args.Error(0)
}

func (m *MockOutboxRepository) CountByStatus(ctx context.Context, statuses ...string) (int64, error) {
	args := m.Called(ctx, statuses)
	return args.Get(0).(int64), args.Error(1)
}

func batchEvent(table string) *OutboxEvent {
	return &OutboxEvent{
		ID:            uuid.New(),
		AggregateType: "price_batch",
		AggregateID:   uuid.NewString(),
		EventType:     "PRICE_BATCH_PERSISTED",
		Payload:       json.RawMessage(`{"table":"` + table + `","rows":2}`),
		TargetStream:  DefaultStream,
		CreatedAt:     time.Now(),
	}
}

func TestRelay_ProcessPending(t *testing.T) {
	ctx := context.Background()
	logger := slog.Default()

	t.Run("publishes and marks every event", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := &Relay{redis: mockRedis, outbox: mockOutbox, logger: logger, batchSize: 10}

		events := []*OutboxEvent{batchEvent("precos_placas_video"), batchEvent("precos_placas_video")}
		mockOutbox.On("GetPending", ctx, 10).Return(events, nil)

		for _, event := range events {
			event := event
			mockRedis.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
				return args.Stream == event.TargetStream &&
					args.Values["event_type"] == event.EventType &&
					args.Values["aggregate_id"] == event.AggregateID
			})).Return(nil)
			mockOutbox.On("MarkProcessed", ctx, event.ID).Return(nil)
		}

		published, err := relay.ProcessPending(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, published)

		mockRedis.AssertExpectations(t)
		mockOutbox.AssertExpectations(t)
	})

	t.Run("failed publish is rescheduled", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := &Relay{redis: mockRedis, outbox: mockOutbox, logger: logger, batchSize: 10}

		event := batchEvent("precos_placas_video")
		mockOutbox.On("GetPending", ctx, 10).Return([]*OutboxEvent{event}, nil)
		mockRedis.On("XAdd", ctx, mock.Anything).Return(errors.New("redis connection failed"))
		mockOutbox.On("MarkFailed", ctx, event.ID, mock.MatchedBy(func(err error) bool {
			return err.Error() == "failed to publish to redis: redis connection failed"
		})).Return(nil)

		published, err := relay.ProcessPending(ctx)
		assert.NoError(t, err)
		assert.Equal(t, 0, published)

		mockRedis.AssertExpectations(t)
		mockOutbox.AssertExpectations(t)
	})

	t.Run("empty outbox", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := &Relay{redis: mockRedis, outbox: mockOutbox, logger: logger, batchSize: 10}

		mockOutbox.On("GetPending", ctx, 10).Return([]*OutboxEvent{}, nil)

		published, err := relay.ProcessPending(ctx)
		require.NoError(t, err)
		assert.Zero(t, published)

		mockRedis.AssertNotCalled(t, "XAdd", mock.Anything, mock.Anything)
	})

	t.Run("outbox read failure", func(t *testing.T) {
		mockOutbox := new(MockOutboxRepository)
		relay := &Relay{redis: new(MockRedisClient), outbox: mockOutbox, logger: logger, batchSize: 10}

		mockOutbox.On("GetPending", ctx, 10).Return(nil, errors.New("connection reset"))

		_, err := relay.ProcessPending(ctx)
		assert.Error(t, err)
	})

	t.Run("one failure does not stop the batch", func(t *testing.T) {
		mockRedis := new(MockRedisClient)
		mockOutbox := new(MockOutboxRepository)
		relay := &Relay{redis: mockRedis, outbox: mockOutbox, logger: logger, batchSize: 10}

		events := []*OutboxEvent{batchEvent("a"), batchEvent("b")}
		mockOutbox.On("GetPending", ctx, 10).Return(events, nil)

		mockRedis.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
			return args.Values["aggregate_id"] == events[0].AggregateID
		})).Return(errors.New("redis error"))
		mockOutbox.On("MarkFailed", ctx, events[0].ID, mock.Anything).Return(nil)

		mockRedis.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
			return args.Values["aggregate_id"] == events[1].AggregateID
		})).Return(nil)
		mockOutbox.On("MarkProcessed", ctx, events[1].ID).Return(nil)

		published, err := relay.ProcessPending(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, published)

		mockRedis.AssertExpectations(t)
		mockOutbox.AssertExpectations(t)
	})
}

func TestRelay_PublishToRedis(t *testing.T) {
	ctx := context.Background()

	mockRedis := new(MockRedisClient)
	relay := &Relay{redis: mockRedis, outbox: new(MockOutboxRepository), logger: slog.Default()}
	event := batchEvent("precos_placas_video")

	mockRedis.On("XAdd", ctx, mock.MatchedBy(func(args *redis.XAddArgs) bool {
		val, ok := args.Values["data"].(string)
		if !ok {
			return false
		}

		var data map[string]interface{}
		if err := json.Unmarshal([]byte(val), &data); err != nil {
			return false
		}

		payload, ok := data["payload"].(map[string]interface{})
		if !ok {
			return false
		}
		metadata, ok := data["metadata"].(map[string]interface{})
		if !ok {
			return false
		}

		return data["type"] == "PRICE_BATCH_PERSISTED" &&
			data["aggregate_type"] == "price_batch" &&
			payload["table"] == "precos_placas_video" &&
			metadata["source"] == "price-scraper"
	})).Return(nil)

	require.NoError(t, relay.publishToRedis(ctx, event))
	mockRedis.AssertExpectations(t)
}

func TestRelay_PublishRejectsBadPayload(t *testing.T) {
	mockRedis := new(MockRedisClient)
	relay := &Relay{redis: mockRedis, outbox: new(MockOutboxRepository), logger: slog.Default()}

	event := batchEvent("x")
	event.Payload = json.RawMessage(`not json`)

	err := relay.publishToRedis(context.Background(), event)

	assert.Error(t, err)
	mockRedis.AssertNotCalled(t, "XAdd", mock.Anything, mock.Anything)
}

func TestRelay_Counts(t *testing.T) {
	ctx := context.Background()
	mockOutbox := new(MockOutboxRepository)
	relay := &Relay{outbox: mockOutbox, logger: slog.Default()}

	mockOutbox.On("CountByStatus", ctx, []string{OutboxStatusPending, OutboxStatusFailed}).Return(int64(3), nil)
	mockOutbox.On("CountByStatus", ctx, []string{OutboxStatusDeadLetter}).Return(int64(1), nil)

	pending, err := relay.PendingCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), pending)

	dead, err := relay.DeadLetterCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), dead)
}

func TestRelay_Start(t *testing.T) {
	mockOutbox := new(MockOutboxRepository)
	relay := &Relay{
		redis:     new(MockRedisClient),
		outbox:    mockOutbox,
		logger:    slog.Default(),
		interval:  50 * time.Millisecond,
		batchSize: 10,
	}

	mockOutbox.On("GetPending", mock.Anything, 10).Return([]*OutboxEvent{}, nil).Maybe()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() {
		done <- relay.Start(ctx)
	}()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop on context cancellation")
	}
}

func TestNextAttempt(t *testing.T) {
	now := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		retry   int
		status  string
		backoff time.Duration
	}{
		{1, OutboxStatusFailed, 2 * time.Second},
		{3, OutboxStatusFailed, 8 * time.Second},
		{MaxRetryCount, OutboxStatusDeadLetter, 32 * time.Second},
		{12, OutboxStatusDeadLetter, 300 * time.Second},
	}

	for _, tt := range tests {
		status, next := nextAttempt(tt.retry, now)
		assert.Equal(t, tt.status, status, "retry %d", tt.retry)
		assert.Equal(t, now.Add(tt.backoff), next, "retry %d", tt.retry)
	}
}
