package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// StreamReader is the subset of *redis.Client a Consumer needs.
type StreamReader interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
}

// BatchHandler receives each batch event. Returning an error leaves the
// message unacknowledged so it stays pending for the group.
type BatchHandler func(ctx context.Context, batch *BatchPersistedPayload) error

type ConsumerConfig struct {
	Stream   string
	Group    string
	Name     string
	Block    time.Duration
	Count    int64
	RetryGap time.Duration
}

// Consumer reads batch events from a Redis stream as part of a consumer group.
type Consumer struct {
	redis   StreamReader
	cfg     ConsumerConfig
	handler BatchHandler
	logger  *slog.Logger
}

func NewConsumer(r StreamReader, cfg ConsumerConfig, handler BatchHandler, logger *slog.Logger) *Consumer {
	if cfg.Stream == "" {
		cfg.Stream = "stream:price_batches"
	}
	if cfg.Group == "" {
		cfg.Group = "price-batch-consumers"
	}
	if cfg.Name == "" {
		cfg.Name = "consumer-1"
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.Count <= 0 {
		cfg.Count = 10
	}
	if cfg.RetryGap <= 0 {
		cfg.RetryGap = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		redis:   r,
		cfg:     cfg,
		handler: handler,
		logger:  logger.With("component", "event_consumer"),
	}
}

// Run consumes until ctx is done.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.ensureGroup(ctx); err != nil {
		return err
	}

	c.logger.Info("starting consumer", "stream", c.cfg.Stream, "group", c.cfg.Group, "name", c.cfg.Name)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if _, err := c.ReadOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("failed to read from stream", "error", err)

			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.cfg.RetryGap):
			}
		}
	}
}

// ReadOnce blocks for at most one read and returns how many messages were
// handled and acknowledged.
func (c *Consumer) ReadOnce(ctx context.Context) (int, error) {
	streams, err := c.redis.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Name,
		Streams:  []string{c.cfg.Stream, ">"},
		Count:    c.cfg.Count,
		Block:    c.cfg.Block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, err
	}

	handled := 0
	for _, stream := range streams {
		for _, msg := range stream.Messages {
			if err := c.processMessage(ctx, msg); err != nil {
				c.logger.Error("failed to process message", "id", msg.ID, "error", err)
				continue
			}

			if err := c.redis.XAck(ctx, c.cfg.Stream, c.cfg.Group, msg.ID).Err(); err != nil {
				c.logger.Error("failed to acknowledge message", "id", msg.ID, "error", err)
				continue
			}
			handled++
		}
	}

	return handled, nil
}

func (c *Consumer) ensureGroup(ctx context.Context) error {
	err := c.redis.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// processMessage hands batch events to the handler. Other event types on the
// stream are acknowledged without handling.
func (c *Consumer) processMessage(ctx context.Context, msg redis.XMessage) error {
	batch, ok, err := DecodeBatchEvent(msg)
	if err != nil {
		return err
	}
	if !ok {
		c.logger.Debug("skipping event", "id", msg.ID, "event_type", msg.Values["event_type"])
		return nil
	}

	return c.handler(ctx, batch)
}

// DecodeBatchEvent extracts the payload of a PRICE_BATCH_PERSISTED stream
// message. ok is false for other event types.
func DecodeBatchEvent(msg redis.XMessage) (*BatchPersistedPayload, bool, error) {
	eventType, _ := msg.Values["event_type"].(string)
	if eventType != string(EventTypePriceBatchPersisted) {
		return nil, false, nil
	}

	data, ok := msg.Values["data"].(string)
	if !ok {
		return nil, true, fmt.Errorf("missing data in event %s", msg.ID)
	}

	var envelope struct {
		Payload BatchPersistedPayload `json:"payload"`
	}
	if err := json.Unmarshal([]byte(data), &envelope); err != nil {
		return nil, true, fmt.Errorf("failed to parse event %s: %w", msg.ID, err)
	}

	return &envelope.Payload, true, nil
}
