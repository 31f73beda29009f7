package queue

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryRoundTrip(t *testing.T) {
	q := NewInMemory(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, q.Publish(ctx, Message{Type: "checkin.outcome", Body: json.RawMessage(`{"id":"1"}`)}))
	require.NoError(t, q.Publish(ctx, Message{Type: "checkin.outcome", Body: json.RawMessage(`{"id":"2"}`)}))

	msgs, err := q.Consume(ctx)
	require.NoError(t, err)

	first := <-msgs
	second := <-msgs
	assert.JSONEq(t, `{"id":"1"}`, string(first.Body))
	assert.JSONEq(t, `{"id":"2"}`, string(second.Body))

	cancel()
	select {
	case _, ok := <-msgs:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop after cancel")
	}
}

func TestInMemoryPublishRespectsContext(t *testing.T) {
	q := NewInMemory(1)
	require.NoError(t, q.Publish(context.Background(), Message{Type: "a"}))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Publish(ctx, Message{Type: "b"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRedisQueue(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })

	key := "seatcheck:test:" + time.Now().Format(time.RFC3339Nano)
	q := NewRedisQueue(client, key)
	q.timeout = 200 * time.Millisecond
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, q.Publish(ctx, Message{Type: "checkin.outcome", Body: json.RawMessage(`{"id":"x"}`)}))
	msgs, err := q.Consume(ctx)
	require.NoError(t, err)

	msg := <-msgs
	assert.Equal(t, "checkin.outcome", msg.Type)
	assert.JSONEq(t, `{"id":"x"}`, string(msg.Body))
}
