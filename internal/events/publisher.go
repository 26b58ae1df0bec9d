package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/maltedev/price-scraper/internal/database"
	"github.com/maltedev/price-scraper/internal/models"
)

type EventType string

const (
	// EventTypePriceBatchPersisted is published once per committed batch.
	EventTypePriceBatchPersisted EventType = "PRICE_BATCH_PERSISTED"

	aggregateType = "price_batch"
)

// BatchPersistedPayload summarizes a committed batch for downstream
// consumers. Price bounds only consider rows that had a price.
type BatchPersistedPayload struct {
	EventID     string    `json:"event_id"`
	EventType   string    `json:"event_type"`
	Timestamp   time.Time `json:"timestamp"`
	BatchID     string    `json:"batch_id"`
	Table       string    `json:"table"`
	Rows        int64     `json:"rows"`
	PricedRows  int       `json:"priced_rows"`
	MinPrice    *float64  `json:"min_price,omitempty"`
	MaxPrice    *float64  `json:"max_price,omitempty"`
	CollectedAt time.Time `json:"collected_at"`
	Source      string    `json:"source"`
}

func NewBatchPersistedPayload(table string, records []models.ValidatedProduct, rows int64) *BatchPersistedPayload {
	p := &BatchPersistedPayload{
		EventID:   uuid.New().String(),
		EventType: string(EventTypePriceBatchPersisted),
		Timestamp: time.Now(),
		BatchID:   uuid.New().String(),
		Table:     table,
		Rows:      rows,
		Source:    "scraper",
	}

	for _, r := range records {
		if p.CollectedAt.IsZero() || r.CollectedAt.Before(p.CollectedAt) {
			p.CollectedAt = r.CollectedAt
		}
		if r.Price == nil {
			continue
		}
		price := *r.Price
		p.PricedRows++
		if p.MinPrice == nil || price < *p.MinPrice {
			p.MinPrice = &price
		}
		if p.MaxPrice == nil || price > *p.MaxPrice {
			p.MaxPrice = &price
		}
	}

	return p
}

// OutboxWriter is satisfied by *database.OutboxRepository.
type OutboxWriter interface {
	InsertWithTx(ctx context.Context, tx pgx.Tx, event *database.OutboxEvent) error
}

// Publisher stages batch events in the transactional outbox; the relay
// forwards them to Redis after commit.
type Publisher struct {
	outbox OutboxWriter
	stream string
	logger *slog.Logger
}

func NewPublisher(db *database.DB, stream string, logger *slog.Logger) *Publisher {
	return newPublisher(database.NewOutboxRepository(db), stream, logger)
}

func newPublisher(outbox OutboxWriter, stream string, logger *slog.Logger) *Publisher {
	if stream == "" {
		stream = database.DefaultStream
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		outbox: outbox,
		stream: stream,
		logger: logger.With("component", "event_publisher"),
	}
}

// StageBatch implements database.BatchStager.
func (p *Publisher) StageBatch(ctx context.Context, tx pgx.Tx, table string, records []models.ValidatedProduct, rows int64) error {
	payload := NewBatchPersistedPayload(table, records, rows)

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	event := &database.OutboxEvent{
		AggregateType: aggregateType,
		AggregateID:   payload.BatchID,
		EventType:     payload.EventType,
		Payload:       data,
		TargetStream:  p.stream,
	}

	if err := p.outbox.InsertWithTx(ctx, tx, event); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	p.logger.Info("event staged in outbox",
		"type", payload.EventType,
		"event_id", payload.EventID,
		"batch_id", payload.BatchID,
		"rows", rows,
		"outbox_id", event.ID,
	)

	return nil
}
