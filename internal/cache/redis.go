// Package cache wraps Redis for the cross-process concerns SQLite's
// single-writer model does not cover: claiming webhook deliveries exactly
// once across HTTP instances, and the per-order gauge of open SSE streams.
package cache

import (
	"context"
	"fmt"
	"time"

	"storefront/pkg/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// webhookClaimWindow is how long a delivery claim lingers; provider retries
// land well inside it, and after it a replayed delivery is harmless anyway
// because the state machine's conditional UPDATE rejects stale reports.
const webhookClaimWindow = 10 * time.Minute

// streamGaugeTTL keeps viewer gauges from surviving a crashed instance
// forever; any live stream refreshes it on connect.
const streamGaugeTTL = time.Hour

type Config struct {
	Host     string
	Port     string
	Password string
	DB       int
}

// Cache is an instance wrapper rather than a package-global client, so
// cmd/storefront can wire it through struct fields like every other
// dependency instead of relying on package init order.
type Cache struct {
	client *redis.Client
}

func New(cfg Config) (*Cache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Host + ":" + cfg.Port,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}

	logger.Info("connected to redis", zap.String("host", cfg.Host))
	return &Cache{client: rdb}, nil
}

// Raw exposes the underlying client for the stream queue, which shares the
// connection rather than dialing its own.
func (c *Cache) Raw() *redis.Client { return c.client }

// ClaimWebhookDelivery reports whether this instance is the first to see the
// (provider, orderRef, state) delivery. Providers retry webhooks, and two
// instances behind one load balancer may each receive a copy; only the
// first claimer processes it, later copies ack without reprocessing.
func (c *Cache) ClaimWebhookDelivery(ctx context.Context, provider, orderRef, state string) (bool, error) {
	key := fmt.Sprintf("webhook:%s:%s:%s", provider, orderRef, state)
	first, err := c.client.SetNX(ctx, key, 1, webhookClaimWindow).Result()
	if err != nil {
		logger.Error("cache: webhook claim failed", zap.String("key", key), zap.Error(err))
		return false, err
	}
	return first, nil
}

// AddStreamViewer bumps the count of open SSE streams for an order and
// returns the new total, so the HTTP surface can cap concurrent streams per
// order without a process-local counter.
func (c *Cache) AddStreamViewer(ctx context.Context, orderID string) (int64, error) {
	key := "sse:viewers:" + orderID
	n, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		logger.Error("cache: stream viewer incr failed", zap.String("order_id", orderID), zap.Error(err))
		return 0, err
	}
	if err := c.client.Expire(ctx, key, streamGaugeTTL).Err(); err != nil {
		logger.Warn("cache: stream gauge expire failed", zap.String("order_id", orderID), zap.Error(err))
	}
	return n, nil
}

// RemoveStreamViewer undoes AddStreamViewer when a stream closes.
func (c *Cache) RemoveStreamViewer(ctx context.Context, orderID string) {
	if err := c.client.Decr(ctx, "sse:viewers:"+orderID).Err(); err != nil {
		logger.Warn("cache: stream viewer decr failed", zap.String("order_id", orderID), zap.Error(err))
	}
}

func (c *Cache) Ping(ctx context.Context) error { return c.client.Ping(ctx).Err() }

func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
