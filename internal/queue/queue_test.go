package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indpro-interns-oct-25/chatNShop/internal/kv"
	"github.com/indpro-interns-oct-25/chatNShop/internal/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testQueue(t *testing.T, cfg Config) *Queue {
	t.Helper()
	store := kv.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })
	return New(store, cfg, testLogger())
}

func testConfig() Config {
	return Config{
		MaxRetries:       3,
		RetryDelay:       10 * time.Millisecond,
		MessageTTL:       time.Hour,
		DequeueTimeout:   100 * time.Millisecond,
		VisibilityWindow: time.Minute,
		PollInterval:     5 * time.Millisecond,
	}
}

func msgAt(id string, p model.Priority, createdAt time.Time) model.QueueMessage {
	return model.QueueMessage{
		RequestID: id,
		CreatedAt: createdAt,
		Priority:  p,
		Payload:   model.QueuePayload{Query: "query for " + id},
	}
}

func TestEnqueueAssignsRequestID(t *testing.T) {
	q := testQueue(t, testConfig())
	id, err := q.Enqueue(context.Background(), model.QueueMessage{
		Priority: model.PriorityNormal,
		Payload:  model.QueuePayload{Query: "anything"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestDequeueFIFOWithinPriority(t *testing.T) {
	q := testQueue(t, testConfig())
	ctx := context.Background()
	base := time.Now().UTC()

	_, err := q.Enqueue(ctx, msgAt("first", model.PriorityNormal, base))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, msgAt("second", model.PriorityNormal, base.Add(5*time.Millisecond)))
	require.NoError(t, err)

	d1, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, d1)
	assert.Equal(t, "first", d1.Msg.RequestID)

	d2, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, d2)
	assert.Equal(t, "second", d2.Msg.RequestID)
}

func TestDequeueDrainsHighPriorityFirst(t *testing.T) {
	q := testQueue(t, testConfig())
	ctx := context.Background()
	base := time.Now().UTC()

	// The low-priority message is older but must not jump the queue.
	_, err := q.Enqueue(ctx, msgAt("low", model.PriorityLow, base.Add(-time.Minute)))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, msgAt("normal", model.PriorityNormal, base))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, msgAt("high", model.PriorityHigh, base))
	require.NoError(t, err)

	var order []string
	for range 3 {
		d, err := q.Dequeue(ctx)
		require.NoError(t, err)
		require.NotNil(t, d)
		order = append(order, d.Msg.RequestID)
		require.NoError(t, q.Ack(ctx, d))
	}
	assert.Equal(t, []string{"high", "normal", "low"}, order)
}

func TestDequeueEmptyReturnsNil(t *testing.T) {
	cfg := testConfig()
	cfg.DequeueTimeout = 20 * time.Millisecond
	q := testQueue(t, cfg)

	d, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestAckRemovesLease(t *testing.T) {
	q := testQueue(t, testConfig())
	ctx := context.Background()

	_, err := q.Enqueue(ctx, msgAt("a", model.PriorityNormal, time.Now().UTC()))
	require.NoError(t, err)

	d, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, d)

	s, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.InFlight)

	require.NoError(t, q.Ack(ctx, d))
	s, err = q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), s.InFlight)
	assert.Equal(t, int64(0), s.Pending)
}

func TestNackRetriesWithBackoff(t *testing.T) {
	q := testQueue(t, testConfig())
	ctx := context.Background()

	_, err := q.Enqueue(ctx, msgAt("a", model.PriorityNormal, time.Now().UTC()))
	require.NoError(t, err)

	d, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, d)

	dead, err := q.Nack(ctx, d, errors.New("llm timeout"))
	require.NoError(t, err)
	assert.False(t, dead)

	s, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.Delayed)

	// After the backoff elapses the message is delivered again with the
	// attempt count and last error recorded.
	d2, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, d2)
	assert.Equal(t, "a", d2.Msg.RequestID)
	assert.Equal(t, 1, d2.Msg.AttemptCount)
	assert.Equal(t, "llm timeout", d2.Msg.LastError)
}

func TestNackExhaustedGoesToDeadLetter(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 1
	cfg.RetryDelay = time.Millisecond
	q := testQueue(t, cfg)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, msgAt("a", model.PriorityHigh, time.Now().UTC()))
	require.NoError(t, err)

	d, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, d)
	dead, err := q.Nack(ctx, d, errors.New("attempt one"))
	require.NoError(t, err)
	require.False(t, dead)

	d, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, d)
	dead, err = q.Nack(ctx, d, errors.New("attempt two"))
	require.NoError(t, err)
	assert.True(t, dead)

	letters, err := q.DeadLetters(ctx, 10)
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, "a", letters[0].RequestID)
	assert.Equal(t, 2, letters[0].AttemptCount)
	assert.Equal(t, "attempt two", letters[0].LastError)

	s, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), s.Dead)
	assert.Equal(t, int64(0), s.Pending)
}

func TestExpiredLeaseIsRequeued(t *testing.T) {
	cfg := testConfig()
	cfg.VisibilityWindow = 20 * time.Millisecond
	q := testQueue(t, cfg)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, msgAt("a", model.PriorityNormal, time.Now().UTC()))
	require.NoError(t, err)

	d, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, d)

	// Worker "crashes": never acks. The lease expires and the message
	// becomes deliverable again without an attempt bump.
	time.Sleep(40 * time.Millisecond)

	d2, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, d2)
	assert.Equal(t, "a", d2.Msg.RequestID)
	assert.Equal(t, 0, d2.Msg.AttemptCount)
}

func TestExpiredMessageIsDropped(t *testing.T) {
	cfg := testConfig()
	cfg.MessageTTL = 50 * time.Millisecond
	cfg.DequeueTimeout = 20 * time.Millisecond
	q := testQueue(t, cfg)
	ctx := context.Background()

	_, err := q.Enqueue(ctx, msgAt("stale", model.PriorityNormal, time.Now().UTC().Add(-time.Second)))
	require.NoError(t, err)

	d, err := q.Dequeue(ctx)
	require.NoError(t, err)
	assert.Nil(t, d)

	s, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), s.Expired)
}

func TestStatsByPriority(t *testing.T) {
	q := testQueue(t, testConfig())
	ctx := context.Background()
	base := time.Now().UTC()

	_, err := q.Enqueue(ctx, msgAt("h1", model.PriorityHigh, base))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, msgAt("h2", model.PriorityHigh, base.Add(time.Millisecond)))
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, msgAt("n1", model.PriorityNormal, base))
	require.NoError(t, err)

	s, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), s.Pending)
	assert.Equal(t, int64(2), s.ByLevel["high"])
	assert.Equal(t, int64(1), s.ByLevel["normal"])
	assert.Equal(t, int64(0), s.ByLevel["low"])
}

func TestDequeueHonorsContextCancel(t *testing.T) {
	cfg := testConfig()
	cfg.DequeueTimeout = time.Minute
	q := testQueue(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
