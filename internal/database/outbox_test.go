package database

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/maltedev/price-scraper/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestDB connects to TEST_DATABASE_URL and skips the test when it is
// not set.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	db, err := New(ctx, Config{DSN: dsn, MaxConns: 4})
	require.NoError(t, err)
	require.NoError(t, NewOutboxRepository(db).EnsureSchema(ctx))
	return db
}

func TestOutboxRepository_InsertWithTx(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	repo := NewOutboxRepository(db)

	t.Run("defaults are filled in", func(t *testing.T) {
		event := &OutboxEvent{
			AggregateType: "price_batch",
			AggregateID:   uuid.NewString(),
			EventType:     "PRICE_BATCH_PERSISTED",
			Payload:       json.RawMessage(`{"rows":1}`),
		}

		err := db.Transaction(ctx, func(tx pgx.Tx) error {
			return repo.InsertWithTx(ctx, tx, event)
		})

		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, event.ID)
		assert.Equal(t, OutboxStatusPending, event.Status)
		assert.Equal(t, DefaultStream, event.TargetStream)
		assert.False(t, event.CreatedAt.IsZero())
	})

	t.Run("rolled back insert is not visible", func(t *testing.T) {
		aggregateID := uuid.NewString()
		event := &OutboxEvent{
			AggregateType: "price_batch",
			AggregateID:   aggregateID,
			EventType:     "PRICE_BATCH_PERSISTED",
			Payload:       json.RawMessage(`{"rows":1}`),
		}

		err := db.Transaction(ctx, func(tx pgx.Tx) error {
			if err := repo.InsertWithTx(ctx, tx, event); err != nil {
				return err
			}
			return pgx.ErrTxClosed
		})
		assert.Error(t, err)

		events, err := repo.GetPending(ctx, 100)
		require.NoError(t, err)
		for _, e := range events {
			assert.NotEqual(t, aggregateID, e.AggregateID)
		}
	})

	t.Run("required fields", func(t *testing.T) {
		err := db.Transaction(ctx, func(tx pgx.Tx) error {
			return repo.InsertWithTx(ctx, tx, &OutboxEvent{EventType: "PRICE_BATCH_PERSISTED"})
		})
		assert.Error(t, err)
	})
}

func TestOutboxRepository_MarkFailedMovesToDeadLetter(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	repo := NewOutboxRepository(db)
	event := &OutboxEvent{
		AggregateType: "price_batch",
		AggregateID:   uuid.NewString(),
		EventType:     "PRICE_BATCH_PERSISTED",
		Payload:       json.RawMessage(`{}`),
		RetryCount:    MaxRetryCount - 1,
	}
	require.NoError(t, db.Transaction(ctx, func(tx pgx.Tx) error {
		return repo.InsertWithTx(ctx, tx, event)
	}))

	require.NoError(t, repo.MarkFailed(ctx, event.ID, assert.AnError))

	var status string
	var retryCount int
	err := db.QueryRow(ctx,
		"SELECT status, retry_count FROM outbox_event WHERE id = $1", event.ID).Scan(&status, &retryCount)
	require.NoError(t, err)
	assert.Equal(t, OutboxStatusDeadLetter, status)
	assert.Equal(t, MaxRetryCount, retryCount)
}

type recordingStager struct {
	calls int
	rows  int64
}

func (s *recordingStager) StageBatch(ctx context.Context, tx pgx.Tx, table string, records []models.ValidatedProduct, rows int64) error {
	s.calls++
	s.rows = rows
	return nil
}

func TestDB_WriteBatch(t *testing.T) {
	ctx := context.Background()
	db := setupTestDB(t)
	defer db.Close()

	table := "prices_test_" + time.Now().Format("150405")
	require.NoError(t, db.EnsureTable(ctx, table))
	defer db.Exec(ctx, "DROP TABLE "+pgx.Identifier{table}.Sanitize())

	stager := &recordingStager{}
	db.SetBatchStager(stager)

	price := 1899.99
	records := []models.ValidatedProduct{
		{Name: "Placa de Vídeo RTX 4060", Price: &price, Link: "https://www.kabum.com.br/produto/1", CollectedAt: time.Now()},
		{Name: "Placa de Vídeo RX 7600", Link: "https://www.kabum.com.br/produto/2", CollectedAt: time.Now()},
	}

	n, err := db.WriteBatch(ctx, table, records)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, 1, stager.calls)
	assert.Equal(t, int64(2), stager.rows)

	count, err := db.CountRows(ctx, table)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}
