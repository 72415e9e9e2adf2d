// Package events reads extraction events back from the Redis stream the outbox relay writes to.
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

// Event is the envelope the relay publishes in the "data" field.
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Timestamp     string          `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
	Metadata      Metadata        `json:"metadata"`

	// MessageID is the stream entry id.
	MessageID string `json:"-"`
}

type Metadata struct {
	Source       string `json:"source"`
	OutboxID     string `json:"outbox_id"`
	RetryCount   int    `json:"retry_count"`
	TargetStream string `json:"target_stream"`
}

// Handler processes one event. Returning an error leaves the message unacknowledged.
type Handler func(ctx context.Context, e *Event) error

// StreamClient is the subset of the redis client the consumer needs.
type StreamClient interface {
	XGroupCreateMkStream(ctx context.Context, stream, group, start string) *redis.StatusCmd
	XReadGroup(ctx context.Context, a *redis.XReadGroupArgs) *redis.XStreamSliceCmd
	XAck(ctx context.Context, stream, group string, ids ...string) *redis.IntCmd
}

type ConsumerConfig struct {
	Stream  string
	Group   string
	Name    string
	Block   time.Duration
	Count   int64
	Types   []string
	Backoff time.Duration
}

// Consumer reads the stream through a consumer group and acknowledges handled messages.
type Consumer struct {
	client StreamClient
	cfg    ConsumerConfig
	types  map[string]bool
	logger *slog.Logger
}

func NewConsumer(client StreamClient, cfg ConsumerConfig, logger *slog.Logger) *Consumer {
	if cfg.Group == "" {
		cfg.Group = "order-extractor-watchers"
	}
	if cfg.Name == "" {
		cfg.Name = "watcher-1"
	}
	if cfg.Block == 0 {
		cfg.Block = 5 * time.Second
	}
	if cfg.Count == 0 {
		cfg.Count = 10
	}
	if cfg.Backoff == 0 {
		cfg.Backoff = time.Second
	}

	types := make(map[string]bool, len(cfg.Types))
	for _, t := range cfg.Types {
		types[t] = true
	}

	return &Consumer{
		client: client,
		cfg:    cfg,
		types:  types,
		logger: logger.With("component", "stream_consumer", "stream", cfg.Stream),
	}
}

// Run consumes until ctx is cancelled.
func (c *Consumer) Run(ctx context.Context, handle Handler) error {
	err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("starting consumer", "group", c.cfg.Group)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := c.poll(ctx, handle); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Error("failed to read from stream", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.cfg.Backoff):
			}
		}
	}
}

// poll reads one batch and handles it.
func (c *Consumer) poll(ctx context.Context, handle Handler) error {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Name,
		Streams:  []string{c.cfg.Stream, ">"},
		Count:    c.cfg.Count,
		Block:    c.cfg.Block,
	}).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}

	for _, stream := range streams {
		for _, message := range stream.Messages {
			event, err := Decode(message)
			if err != nil {
				c.logger.Warn("dropping undecodable message", "id", message.ID, "error", err)
				c.ack(ctx, message.ID)
				continue
			}
			if len(c.types) > 0 && !c.types[event.Type] {
				c.ack(ctx, message.ID)
				continue
			}
			if err := handle(ctx, event); err != nil {
				c.logger.Error("failed to handle event", "id", message.ID, "type", event.Type, "error", err)
				continue
			}
			c.ack(ctx, message.ID)
		}
	}
	return nil
}

func (c *Consumer) ack(ctx context.Context, id string) {
	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, id).Err(); err != nil {
		c.logger.Error("failed to acknowledge message", "id", id, "error", err)
	}
}

// Decode unpacks a stream entry written by the relay.
func Decode(msg redis.XMessage) (*Event, error) {
	raw, ok := msg.Values["data"].(string)
	if !ok {
		return nil, fmt.Errorf("message %s has no data field", msg.ID)
	}

	var event Event
	if err := json.Unmarshal([]byte(raw), &event); err != nil {
		return nil, fmt.Errorf("failed to parse event: %w", err)
	}
	if event.Type == "" {
		event.Type, _ = msg.Values["event_type"].(string)
	}
	event.MessageID = msg.ID
	return &event, nil
}
