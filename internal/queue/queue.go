// Package queue implements the priority escalation queue on the
// key-value store. Messages wait in a sorted set ordered by priority
// then age, move to a lease set while a worker holds them, back off in
// a delayed set between retries, and land in a dead-letter list once
// retries are exhausted.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/indpro-interns-oct-25/chatNShop/internal/kv"
	"github.com/indpro-interns-oct-25/chatNShop/internal/model"
)

const (
	mainKey    = "chatns:queue:ambiguous"
	delayedKey = "chatns:queue:ambiguous:delayed"
	leasedKey  = "chatns:queue:ambiguous:leased"
	deadKey    = "chatns:queue:dead"

	// priorityShift places the priority in bits the millisecond timestamp
	// never reaches, so one zset score orders by priority then age and
	// still fits the float64 mantissa exactly.
	priorityShift = float64(1 << 42)

	defaultPollInterval = 100 * time.Millisecond
)

// Config holds queue tuning knobs.
type Config struct {
	MaxRetries       int           // attempts beyond this go to the dead-letter list
	RetryDelay       time.Duration // base backoff, doubled per attempt
	MessageTTL       time.Duration // messages older than this are dropped on dequeue
	DequeueTimeout   time.Duration // how long Dequeue polls before giving up
	VisibilityWindow time.Duration // lease duration; expired leases are re-queued
	PollInterval     time.Duration // dequeue poll cadence, defaults to 100ms
}

// Delivery is one leased message. Ack or Nack it when done; an
// unacknowledged delivery returns to the queue after the visibility
// window elapses.
type Delivery struct {
	Msg model.QueueMessage

	raw string // exact member string held in the lease set
}

// Stats is a point-in-time snapshot of queue depths.
type Stats struct {
	Pending  int64            `json:"pending"`
	Delayed  int64            `json:"delayed"`
	InFlight int64            `json:"in_flight"`
	Dead     int64            `json:"dead"`
	Expired  uint64           `json:"expired_dropped"`
	ByLevel  map[string]int64 `json:"by_priority"`
}

// Queue is the escalation queue. Safe for concurrent use.
type Queue struct {
	store   kv.Store
	cfg     Config
	logger  *slog.Logger
	expired atomic.Uint64
}

// New creates a queue over the given store.
func New(store kv.Store, cfg Config, logger *slog.Logger) *Queue {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	return &Queue{store: store, cfg: cfg, logger: logger}
}

// score packs priority and creation time into one ordering key.
func score(p model.Priority, createdAt time.Time) float64 {
	return float64(p)*priorityShift + float64(createdAt.UnixMilli())
}

// Enqueue adds a message to the queue and returns its request ID,
// assigning one when the caller left it empty.
func (q *Queue) Enqueue(ctx context.Context, msg model.QueueMessage) (string, error) {
	if msg.RequestID == "" {
		msg.RequestID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("queue: marshal message: %w", err)
	}
	if err := q.store.ZAdd(ctx, mainKey, kv.Member{
		Member: string(raw),
		Score:  score(msg.Priority, msg.CreatedAt),
	}); err != nil {
		return "", fmt.Errorf("queue: enqueue %s: %w", msg.RequestID, err)
	}
	q.logger.Debug("queue: enqueued", "request_id", msg.RequestID, "priority", msg.Priority)
	return msg.RequestID, nil
}

// Dequeue leases the highest-priority ready message, polling until one
// arrives or DequeueTimeout elapses. Returns (nil, nil) when the queue
// stayed empty. Expired messages are dropped, not delivered.
func (q *Queue) Dequeue(ctx context.Context) (*Delivery, error) {
	deadline := time.Now().Add(q.cfg.DequeueTimeout)
	for {
		if err := q.promoteDelayed(ctx); err != nil {
			return nil, err
		}
		if err := q.reapLeases(ctx); err != nil {
			return nil, err
		}

		d, err := q.tryLease(ctx)
		if err != nil {
			return nil, err
		}
		if d != nil {
			return d, nil
		}

		if time.Now().After(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(q.cfg.PollInterval):
		}
	}
}

// tryLease pops one ready message and moves it to the lease set.
func (q *Queue) tryLease(ctx context.Context) (*Delivery, error) {
	for {
		popped, err := q.store.ZPopMin(ctx, mainKey, 1)
		if err != nil {
			return nil, fmt.Errorf("queue: pop: %w", err)
		}
		if len(popped) == 0 {
			return nil, nil
		}

		raw := popped[0].Member
		var msg model.QueueMessage
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			q.logger.Warn("queue: dropping unreadable message", "error", err)
			continue
		}
		if q.cfg.MessageTTL > 0 && time.Since(msg.CreatedAt) > q.cfg.MessageTTL {
			q.expired.Add(1)
			q.logger.Warn("queue: dropping expired message",
				"request_id", msg.RequestID, "age", time.Since(msg.CreatedAt))
			continue
		}

		leaseUntil := time.Now().Add(q.cfg.VisibilityWindow)
		if err := q.store.ZAdd(ctx, leasedKey, kv.Member{
			Member: raw,
			Score:  float64(leaseUntil.UnixMilli()),
		}); err != nil {
			return nil, fmt.Errorf("queue: lease %s: %w", msg.RequestID, err)
		}
		return &Delivery{Msg: msg, raw: raw}, nil
	}
}

// promoteDelayed moves due retry messages back onto the main queue.
func (q *Queue) promoteDelayed(ctx context.Context) error {
	due, err := q.store.ZRangeByScore(ctx, delayedKey, 0, float64(time.Now().UnixMilli()), 0)
	if err != nil {
		return fmt.Errorf("queue: read delayed: %w", err)
	}
	for _, m := range due {
		if err := q.store.ZRem(ctx, delayedKey, m.Member); err != nil {
			return err
		}
		var msg model.QueueMessage
		if err := json.Unmarshal([]byte(m.Member), &msg); err != nil {
			q.logger.Warn("queue: dropping unreadable delayed message", "error", err)
			continue
		}
		if err := q.store.ZAdd(ctx, mainKey, kv.Member{
			Member: m.Member,
			Score:  score(msg.Priority, msg.CreatedAt),
		}); err != nil {
			return err
		}
	}
	return nil
}

// reapLeases re-queues messages whose visibility window elapsed without
// an Ack. The crashed worker's attempt is not counted against retries.
func (q *Queue) reapLeases(ctx context.Context) error {
	expired, err := q.store.ZRangeByScore(ctx, leasedKey, 0, float64(time.Now().UnixMilli()), 0)
	if err != nil {
		return fmt.Errorf("queue: read leases: %w", err)
	}
	for _, m := range expired {
		if err := q.store.ZRem(ctx, leasedKey, m.Member); err != nil {
			return err
		}
		var msg model.QueueMessage
		if err := json.Unmarshal([]byte(m.Member), &msg); err != nil {
			continue
		}
		q.logger.Warn("queue: lease expired, re-queueing", "request_id", msg.RequestID)
		if err := q.store.ZAdd(ctx, mainKey, kv.Member{
			Member: m.Member,
			Score:  score(msg.Priority, msg.CreatedAt),
		}); err != nil {
			return err
		}
	}
	return nil
}

// Ack removes a processed message from the lease set.
func (q *Queue) Ack(ctx context.Context, d *Delivery) error {
	if err := q.store.ZRem(ctx, leasedKey, d.raw); err != nil {
		return fmt.Errorf("queue: ack %s: %w", d.Msg.RequestID, err)
	}
	return nil
}

// Nack records a failed attempt. The message is retried with
// exponential backoff until attempts exceed MaxRetries, then moved to
// the dead-letter list. Returns true when the message went dead.
func (q *Queue) Nack(ctx context.Context, d *Delivery, cause error) (bool, error) {
	if err := q.store.ZRem(ctx, leasedKey, d.raw); err != nil {
		return false, fmt.Errorf("queue: nack %s: %w", d.Msg.RequestID, err)
	}

	msg := d.Msg
	msg.AttemptCount++
	if cause != nil {
		msg.LastError = cause.Error()
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return false, fmt.Errorf("queue: marshal retry: %w", err)
	}

	if msg.AttemptCount > q.cfg.MaxRetries {
		if err := q.store.RPush(ctx, deadKey, string(raw)); err != nil {
			return false, fmt.Errorf("queue: dead-letter %s: %w", msg.RequestID, err)
		}
		q.logger.Error("queue: message dead-lettered",
			"request_id", msg.RequestID, "attempts", msg.AttemptCount, "last_error", msg.LastError)
		return true, nil
	}

	delay := q.cfg.RetryDelay * time.Duration(math.Pow(2, float64(msg.AttemptCount-1)))
	readyAt := time.Now().Add(delay)
	if err := q.store.ZAdd(ctx, delayedKey, kv.Member{
		Member: string(raw),
		Score:  float64(readyAt.UnixMilli()),
	}); err != nil {
		return false, fmt.Errorf("queue: delay %s: %w", msg.RequestID, err)
	}
	q.logger.Warn("queue: retry scheduled",
		"request_id", msg.RequestID, "attempt", msg.AttemptCount, "delay", delay)
	return false, nil
}

// DeadLetters returns up to limit dead-lettered messages, oldest first.
func (q *Queue) DeadLetters(ctx context.Context, limit int) ([]model.QueueMessage, error) {
	if limit <= 0 {
		limit = 100
	}
	raws, err := q.store.LRange(ctx, deadKey, 0, int64(limit-1))
	if err != nil {
		return nil, fmt.Errorf("queue: read dead letters: %w", err)
	}
	out := make([]model.QueueMessage, 0, len(raws))
	for _, raw := range raws {
		var msg model.QueueMessage
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			continue
		}
		out = append(out, msg)
	}
	return out, nil
}

// Stats returns current queue depths.
func (q *Queue) Stats(ctx context.Context) (Stats, error) {
	s := Stats{Expired: q.expired.Load(), ByLevel: make(map[string]int64)}

	var err error
	if s.Pending, err = q.store.ZCard(ctx, mainKey); err != nil {
		return s, fmt.Errorf("queue: stats: %w", err)
	}
	if s.Delayed, err = q.store.ZCard(ctx, delayedKey); err != nil {
		return s, fmt.Errorf("queue: stats: %w", err)
	}
	if s.InFlight, err = q.store.ZCard(ctx, leasedKey); err != nil {
		return s, fmt.Errorf("queue: stats: %w", err)
	}
	if s.Dead, err = q.store.LLen(ctx, deadKey); err != nil {
		return s, fmt.Errorf("queue: stats: %w", err)
	}

	for name, p := range map[string]model.Priority{
		"high":   model.PriorityHigh,
		"normal": model.PriorityNormal,
		"low":    model.PriorityLow,
	} {
		lo := float64(p) * priorityShift
		hi := (float64(p) + 1) * priorityShift
		members, err := q.store.ZRangeByScore(ctx, mainKey, lo, hi-1, 0)
		if err != nil {
			return s, fmt.Errorf("queue: stats: %w", err)
		}
		s.ByLevel[name] = int64(len(members))
	}
	return s, nil
}
