// Package streamqueue is the Redis Streams work queue between the order
// state machine and the notification dispatcher. A Queue is bound to one
// stream and one consumer group at construction; payloads are opaque bytes
// (the dispatcher's JSON jobs), and the stream is length-capped so a relay
// or SMTP outage cannot grow it without bound.
package streamqueue

import (
	"context"
	"strings"
	"time"

	"storefront/pkg/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	// maxBacklog bounds the stream. At the rate orders transition, ten
	// thousand undispatched notifications means the operator has a much
	// bigger problem than trimmed jobs.
	maxBacklog = 10000

	readBatch    = 10
	readBlock    = 5 * time.Second
	reclaimEvery = time.Minute
	// reclaimIdle is how long a message may sit claimed-but-unacked (a
	// consumer died mid-send) before another consumer may steal it.
	reclaimIdle = 5 * time.Minute
)

// Handler processes one message; a nil return acks it, an error leaves it
// pending for a later reclaim pass.
type Handler func(messageID string, payload []byte) error

// Queue is a single-stream, single-group work queue.
type Queue struct {
	client *redis.Client
	stream string
	group  string
}

func New(client *redis.Client, stream, group string) *Queue {
	return &Queue{client: client, stream: stream, group: group}
}

// Declare ensures the stream and consumer group exist, tolerating BUSYGROUP
// from a previous run.
func (q *Queue) Declare(ctx context.Context) error {
	err := q.client.XGroupCreateMkStream(ctx, q.stream, q.group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		logger.Error("streamqueue: create consumer group failed",
			zap.String("stream", q.stream), zap.String("group", q.group), zap.Error(err))
		return err
	}
	return nil
}

// Enqueue appends a payload and returns its message id.
func (q *Queue) Enqueue(ctx context.Context, payload []byte) (string, error) {
	id, err := q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.stream,
		MaxLen: maxBacklog,
		Approx: true,
		Values: map[string]any{"payload": payload},
	}).Result()
	if err != nil {
		logger.Error("streamqueue: enqueue failed", zap.String("stream", q.stream), zap.Error(err))
		return "", err
	}
	return id, nil
}

// Consume blocks until ctx is cancelled, handing each message to handler.
// Once a minute it also sweeps messages another consumer claimed but never
// acked, so a dispatcher that died mid-send does not strand its jobs.
func (q *Queue) Consume(ctx context.Context, consumer string, handler Handler) error {
	reclaim := time.NewTicker(reclaimEvery)
	defer reclaim.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("streamqueue: consumer stopping", zap.String("stream", q.stream), zap.String("consumer", consumer))
			return nil
		case <-reclaim.C:
			q.reclaimStranded(ctx, consumer, handler)
		default:
		}

		res, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.group,
			Consumer: consumer,
			Streams:  []string{q.stream, ">"},
			Count:    readBatch,
			Block:    readBlock,
		}).Result()
		if err != nil {
			if err == redis.Nil || ctx.Err() != nil {
				continue
			}
			logger.Error("streamqueue: read failed", zap.String("stream", q.stream), zap.Error(err))
			continue
		}
		for _, st := range res {
			for _, msg := range st.Messages {
				q.handle(ctx, msg, handler)
			}
		}
	}
}

func (q *Queue) reclaimStranded(ctx context.Context, consumer string, handler Handler) {
	msgs, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.stream,
		Group:    q.group,
		MinIdle:  reclaimIdle,
		Start:    "0-0",
		Consumer: consumer,
		Count:    100,
	}).Result()
	if err != nil {
		if err != redis.Nil {
			logger.Error("streamqueue: reclaim failed", zap.String("stream", q.stream), zap.Error(err))
		}
		return
	}
	for _, msg := range msgs {
		q.handle(ctx, msg, handler)
	}
}

func (q *Queue) handle(ctx context.Context, msg redis.XMessage, handler Handler) {
	payload, ok := msg.Values["payload"].(string)
	if !ok {
		// Not one of ours; ack it out of the group rather than reclaim it
		// forever.
		logger.Error("streamqueue: message without payload field", zap.String("message_id", msg.ID))
		q.client.XAck(ctx, q.stream, q.group, msg.ID)
		return
	}

	if err := handler(msg.ID, []byte(payload)); err != nil {
		logger.Error("streamqueue: handler failed, leaving message pending",
			zap.String("message_id", msg.ID), zap.Error(err))
		return
	}
	q.client.XAck(ctx, q.stream, q.group, msg.ID)
}
