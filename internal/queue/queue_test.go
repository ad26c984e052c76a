package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInMemoryDeliversInOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(4)
	require.NoError(t, q.Publish(ctx, Message{Type: TypeAttendanceIntent, Body: []byte("one")}))
	require.NoError(t, q.Publish(ctx, Message{Type: TypeAttendanceIntent, Body: []byte("two")}))

	msgs, err := q.Consume(ctx)
	require.NoError(t, err)

	first := <-msgs
	second := <-msgs
	assert.Equal(t, "one", string(first.Body))
	assert.Equal(t, "two", string(second.Body))
}

func TestInMemoryPublishHonoursCancellation(t *testing.T) {
	q := NewInMemory(1)
	ctx, cancel := context.WithCancel(context.Background())

	require.NoError(t, q.Publish(ctx, Message{Type: TypeAttendanceIntent}))
	cancel()

	// Buffer full and context gone: publish must give up, not block.
	err := q.Publish(ctx, Message{Type: TypeAttendanceIntent})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestInMemoryConsumeClosesOnCancel(t *testing.T) {
	q := NewInMemory(1)
	ctx, cancel := context.WithCancel(context.Background())

	msgs, err := q.Consume(ctx)
	require.NoError(t, err)
	cancel()

	select {
	case _, open := <-msgs:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("consume channel did not close after cancel")
	}
}
