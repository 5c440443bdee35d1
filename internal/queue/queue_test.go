package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(4)
	require.NoError(t, q.Publish(ctx, Message{Type: "redemption", Body: []byte(`{"student_id":"12345678"}`)}))

	msgs, err := q.Consume(ctx)
	require.NoError(t, err)

	select {
	case msg := <-msgs:
		assert.Equal(t, "redemption", msg.Type)
		assert.JSONEq(t, `{"student_id":"12345678"}`, string(msg.Body))
	case <-time.After(time.Second):
		t.Fatal("no message received")
	}
}

func TestInMemoryPublishHonorsCancel(t *testing.T) {
	q := NewInMemory(1)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, q.Publish(ctx, Message{Type: "redemption"}))
	cancel()

	// Queue full and context cancelled: publish must not block forever.
	err := q.Publish(ctx, Message{Type: "redemption"})
	assert.ErrorIs(t, err, context.Canceled)
}
