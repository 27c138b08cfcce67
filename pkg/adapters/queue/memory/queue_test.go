package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_SendReceiveDelete(t *testing.T) {
	ctx := context.Background()
	q := New()

	for _, b := range []string{"a", "b", "c"} {
		require.NoError(t, q.Send(ctx, []byte(b)))
	}

	msgs, err := q.Receive(ctx, 2, time.Minute)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "a", string(msgs[0].Body))
	assert.Equal(t, "b", string(msgs[1].Body))
	assert.Equal(t, 1, msgs[0].DequeueCount)

	// Hidden messages are not handed out again.
	rest, err := q.Receive(ctx, 10, time.Minute)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "c", string(rest[0].Body))

	for _, m := range append(msgs, rest...) {
		require.NoError(t, q.Delete(ctx, m))
	}
	assert.Equal(t, 0, q.Len())

	empty, err := q.Receive(ctx, 10, time.Minute)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestQueue_RedeliversAfterVisibility(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	q := NewWithClock(func() time.Time { return now })

	require.NoError(t, q.Send(ctx, []byte("x")))

	first, err := q.Receive(ctx, 1, 2*time.Minute)
	require.NoError(t, err)
	require.Len(t, first, 1)

	now = now.Add(time.Minute)
	none, err := q.Receive(ctx, 1, 2*time.Minute)
	require.NoError(t, err)
	assert.Empty(t, none)

	now = now.Add(2 * time.Minute)
	again, err := q.Receive(ctx, 1, 2*time.Minute)
	require.NoError(t, err)
	require.Len(t, again, 1)
	assert.Equal(t, 2, again[0].DequeueCount)
	assert.Equal(t, first[0].ID, again[0].ID)

	// The first receipt is stale now.
	require.NoError(t, q.Delete(ctx, first[0]))
	assert.Equal(t, 1, q.Len())
	require.NoError(t, q.Delete(ctx, again[0]))
	assert.Equal(t, 0, q.Len())
}

func TestQueue_Closed(t *testing.T) {
	q := New()
	require.NoError(t, q.Close())

	assert.ErrorIs(t, q.Send(context.Background(), []byte("x")), ErrClosed)
	_, err := q.Receive(context.Background(), 1, time.Second)
	assert.ErrorIs(t, err, ErrClosed)
}
