package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/doc-grader/backend/internal/metrics"
	"github.com/doc-grader/backend/pkg/logger"
)

const descriptionPrefix = "imgdesc:"

type Client struct {
	client *redis.Client
	ttl    time.Duration
}

func NewClient(host string, port int, password string, db int, ttl time.Duration) (*Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", host, port),
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	logger.Info("Redis client initialized",
		zap.String("addr", fmt.Sprintf("%s:%d", host, port)),
		zap.Duration("description_ttl", ttl),
	)

	return NewFromClient(client, ttl), nil
}

// NewFromClient wraps an existing go-redis client.
func NewFromClient(client *redis.Client, ttl time.Duration) *Client {
	return &Client{client: client, ttl: ttl}
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// GetDescription looks up a cached image description by image hash.
func (c *Client) GetDescription(ctx context.Context, imageHash string) (string, bool, error) {
	val, err := c.client.Get(ctx, descriptionPrefix+imageHash).Result()
	if err == redis.Nil {
		metrics.CacheMisses.WithLabelValues("image_description").Inc()
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get description cache: %w", err)
	}

	metrics.CacheHits.WithLabelValues("image_description").Inc()
	logger.Debug("Description cache hit", zap.String("image_hash", imageHash))
	return val, true, nil
}

func (c *Client) SetDescription(ctx context.Context, imageHash, description string) error {
	if err := c.client.Set(ctx, descriptionPrefix+imageHash, description, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set description cache: %w", err)
	}

	logger.Debug("Description cached", zap.String("image_hash", imageHash), zap.Duration("ttl", c.ttl))
	return nil
}
