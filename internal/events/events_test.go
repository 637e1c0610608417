package events

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	e := New(TypeStarted, "d1", "u1", "u2", at)

	assert.NotEmpty(t, e.ID)
	assert.Equal(t, TypeStarted, e.Type)
	assert.Equal(t, "d1", e.DutyID)
	assert.Equal(t, "u2", e.DebteeID)
	assert.True(t, e.At.Equal(at))
}

func TestRecorder(t *testing.T) {
	var r Recorder
	ctx := context.Background()

	require.NoError(t, r.Publish(ctx, New(TypeStarted, "d1", "u1", "", time.Now())))
	require.NoError(t, r.Publish(ctx, New(TypeExpired, "d1", "u1", "", time.Now())))

	assert.Len(t, r.Events(), 2)
	assert.Len(t, r.OfType(TypeExpired), 1)
	assert.Empty(t, r.OfType(TypeReset))
}

func TestNop(t *testing.T) {
	assert.NoError(t, Nop{}.Publish(context.Background(), Event{}))
}

func TestRedisPublisher_DefaultChannel(t *testing.T) {
	p := NewRedisPublisher("127.0.0.1:6379", "", 0, "")
	defer p.Close()
	assert.Equal(t, DefaultChannel, p.Channel())
}

func TestRedisPublisher_UnreachableServer(t *testing.T) {
	// Port 1 is never a Redis server; the publish must fail fast and wrap the cause.
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 200 * time.Millisecond,
		MaxRetries:  -1,
	})
	p := NewRedisPublisherWithClient(client, "test:duties")
	defer p.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err := p.Publish(ctx, New(TypeStarted, "d1", "u1", "", time.Now()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis publish")
}

func TestRedisOptions_FailFast(t *testing.T) {
	opts := redisOptions("127.0.0.1:6379", "secret", 2)

	assert.Equal(t, "127.0.0.1:6379", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, redisDialTimeout, opts.DialTimeout)
	assert.Equal(t, redisWriteTimeout, opts.WriteTimeout)
	assert.Equal(t, redisMaxRetries, opts.MaxRetries)
	assert.LessOrEqual(t, opts.DialTimeout, time.Second)
}
