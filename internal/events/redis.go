package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "dutyhub:duties"

// RedisPublisher publishes events as JSON on a Redis pub/sub channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

// Client limits for the publisher. Events are best-effort, so a dead Redis
// must fail fast instead of retrying.
const (
	redisDialTimeout  = 500 * time.Millisecond
	redisReadTimeout  = 500 * time.Millisecond
	redisWriteTimeout = 500 * time.Millisecond
	redisMaxRetries   = 1
)

// NewRedisPublisher creates a publisher backed by a new Redis client.
func NewRedisPublisher(addr, password string, db int, channel string) *RedisPublisher {
	rdb := redis.NewClient(redisOptions(addr, password, db))
	return NewRedisPublisherWithClient(rdb, channel)
}

func redisOptions(addr, password string, db int) *redis.Options {
	return &redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  redisDialTimeout,
		ReadTimeout:  redisReadTimeout,
		WriteTimeout: redisWriteTimeout,
		MaxRetries:   redisMaxRetries,
	}
}

// NewRedisPublisherWithClient wraps an existing client.
func NewRedisPublisherWithClient(client *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{client: client, channel: channel}
}

// Channel returns the channel events are published on.
func (p *RedisPublisher) Channel() string {
	return p.channel
}

// Publish implements Publisher.
func (p *RedisPublisher) Publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (p *RedisPublisher) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (p *RedisPublisher) Close() error {
	return p.client.Close()
}
