// Package queue carries ingestion tasks from the API to workers over a Redis
// stream with a consumer group.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// TaskIngest is the only task type.
const TaskIngest = "ingest"

// ErrMalformedTask is returned for stream entries that cannot be decoded.
var ErrMalformedTask = errors.New("malformed task")

// Task is one unit of work.
type Task struct {
	Type    string
	PhotoID uuid.UUID
}

func (t Task) values() map[string]any {
	return map[string]any{
		"type":     t.Type,
		"photo_id": t.PhotoID.String(),
	}
}

func decodeTask(msg redis.XMessage) (Task, error) {
	typ, _ := msg.Values["type"].(string)
	raw, _ := msg.Values["photo_id"].(string)
	if typ != TaskIngest {
		return Task{}, fmt.Errorf("%w: type %q", ErrMalformedTask, typ)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return Task{}, fmt.Errorf("%w: photo_id %q", ErrMalformedTask, raw)
	}
	return Task{Type: typ, PhotoID: id}, nil
}

// Producer appends tasks to the stream.
type Producer struct {
	client *redis.Client
	stream string
}

// NewProducer creates a producer for stream.
func NewProducer(client *redis.Client, stream string) *Producer {
	return &Producer{client: client, stream: stream}
}

// Enqueue schedules ingestion of a photo.
func (p *Producer) Enqueue(ctx context.Context, photoID uuid.UUID) error {
	task := Task{Type: TaskIngest, PhotoID: photoID}
	if _, err := p.client.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: task.values(),
	}).Result(); err != nil {
		return fmt.Errorf("xadd %s: %w", p.stream, err)
	}
	return nil
}

// Handler processes a task. A returned error leaves the message pending so
// it is delivered again after the claim interval.
type Handler func(ctx context.Context, task Task) error

// Consumer reads tasks as one member of a consumer group.
type Consumer struct {
	client        *redis.Client
	stream        string
	group         string
	consumer      string
	claimInterval time.Duration
	maxDeliveries int64
	block         time.Duration
	logger        zerolog.Logger
	handler       Handler
}

// NewConsumer creates a consumer. Messages delivered maxDeliveries times
// without success are acknowledged and dropped.
func NewConsumer(
	client *redis.Client,
	stream, group, consumer string,
	claimInterval time.Duration,
	maxDeliveries int,
	logger zerolog.Logger,
	handler Handler,
) *Consumer {
	return &Consumer{
		client:        client,
		stream:        stream,
		group:         group,
		consumer:      consumer,
		claimInterval: claimInterval,
		maxDeliveries: int64(maxDeliveries),
		block:         5 * time.Second,
		logger:        logger.With().Str("component", "queue").Str("consumer", consumer).Logger(),
		handler:       handler,
	}
}

// EnsureGroup creates the stream and the consumer group if missing.
func (c *Consumer) EnsureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.stream, c.group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create group %s on %s: %w", c.group, c.stream, err)
	}
	return nil
}

// Start consumes until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	ticker := time.NewTicker(c.claimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if err := c.read(ctx); err != nil && ctx.Err() == nil {
				c.logger.Error().Err(err).Msg("stream read error")
				select {
				case <-ctx.Done():
				case <-time.After(2 * time.Second):
				}
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.claimStalled(ctx); err != nil && ctx.Err() == nil {
				c.logger.Error().Err(err).Msg("claim stalled messages")
			}
		default:
		}
	}
}

func (c *Consumer) read(ctx context.Context) error {
	result, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.group,
		Consumer: c.consumer,
		Streams:  []string{c.stream, ">"},
		Count:    10,
		Block:    c.block,
	}).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return err
	}

	for _, stream := range result {
		for _, msg := range stream.Messages {
			c.process(ctx, msg)
		}
	}
	return nil
}

// process handles one message and acknowledges it on success. Malformed
// messages are acknowledged right away.
func (c *Consumer) process(ctx context.Context, msg redis.XMessage) {
	task, err := decodeTask(msg)
	if err != nil {
		c.logger.Error().Err(err).Str("message_id", msg.ID).Msg("dropping malformed task")
		c.ack(ctx, msg.ID)
		return
	}

	if err := c.handler(ctx, task); err != nil {
		c.logger.Error().
			Err(err).
			Str("message_id", msg.ID).
			Str("photo_id", task.PhotoID.String()).
			Msg("handle task failed")
		return
	}
	c.ack(ctx, msg.ID)
}

func (c *Consumer) ack(ctx context.Context, id string) {
	if err := c.client.XAck(ctx, c.stream, c.group, id).Err(); err != nil {
		c.logger.Error().Err(err).Str("message_id", id).Msg("ack failed")
	}
}

func (c *Consumer) claimStalled(ctx context.Context) error {
	pending, err := c.client.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: c.stream,
		Group:  c.group,
		Idle:   c.claimInterval,
		Start:  "-",
		End:    "+",
		Count:  10,
	}).Result()
	if err != nil {
		return err
	}

	for _, entry := range pending {
		if c.maxDeliveries > 0 && entry.RetryCount >= c.maxDeliveries {
			c.logger.Warn().
				Str("message_id", entry.ID).
				Int64("deliveries", entry.RetryCount).
				Msg("giving up on task")
			c.ack(ctx, entry.ID)
			continue
		}
		msgs, err := c.client.XClaim(ctx, &redis.XClaimArgs{
			Stream:   c.stream,
			Group:    c.group,
			Consumer: c.consumer,
			MinIdle:  c.claimInterval,
			Messages: []string{entry.ID},
		}).Result()
		if err != nil {
			c.logger.Error().Err(err).Str("message_id", entry.ID).Msg("claim error")
			continue
		}
		for _, msg := range msgs {
			c.process(ctx, msg)
		}
	}
	return nil
}
