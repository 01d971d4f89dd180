package llm

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/indpro-interns-oct-25/chatNShop/internal/model"
)

// Gate admits or rejects a call before it reaches the API. The cost
// guard's sliding-window rate limiter satisfies it.
type Gate interface {
	Allow() bool
}

// UsageRecorder receives token usage after each successful call.
type UsageRecorder interface {
	Record(ctx context.Context, mdl string, usage model.Usage)
}

// ResilientConfig tunes the retry wrapper.
type ResilientConfig struct {
	MaxAttempts int           // total attempts including the first, default 3
	BaseDelay   time.Duration // first backoff, doubled per attempt, default 500ms
}

// Resilient wraps a Client with local rate limiting, retries on
// transient failures, and usage accounting.
type Resilient struct {
	inner    Client
	gate     Gate
	recorder UsageRecorder
	cfg      ResilientConfig
	logger   *slog.Logger
}

// NewResilient wraps inner. gate and recorder may be nil.
func NewResilient(inner Client, gate Gate, recorder UsageRecorder, cfg ResilientConfig, logger *slog.Logger) *Resilient {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 500 * time.Millisecond
	}
	return &Resilient{inner: inner, gate: gate, recorder: recorder, cfg: cfg, logger: logger}
}

// Classify attempts the call up to MaxAttempts times, backing off
// exponentially with up to 10% jitter between attempts. Non-retryable
// failures (auth, budget, oversized prompt) surface immediately.
func (r *Resilient) Classify(ctx context.Context, req Request) (*Classification, *model.Usage, error) {
	if r.gate != nil && !r.gate.Allow() {
		return nil, nil, model.Ef(model.ErrKindRateLimit, "llm: local rate limit reached")
	}

	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		verdict, usage, err := r.inner.Classify(ctx, req)
		if err == nil {
			if r.recorder != nil && usage != nil {
				r.recorder.Record(ctx, req.Model, *usage)
			}
			return verdict, usage, nil
		}
		lastErr = err

		kind := model.KindOf(err)
		if !kind.Retryable() {
			return nil, nil, err
		}
		if attempt == r.cfg.MaxAttempts {
			break
		}

		delay := backoff(r.cfg.BaseDelay, attempt)
		r.logger.Warn("llm: attempt failed, retrying",
			"attempt", attempt, "kind", kind, "delay", delay, "error", err)
		select {
		case <-ctx.Done():
			return nil, nil, model.Ef(model.ErrKindTimeout, "llm: canceled during backoff: %w", ctx.Err())
		case <-time.After(delay):
		}
	}

	return nil, nil, model.E(model.ErrKindAllRetriesFailed,
		fmt.Errorf("llm: %d attempts failed, last: %w", r.cfg.MaxAttempts, lastErr))
}

// backoff is base * 2^(attempt-1) plus up to 10% jitter.
func backoff(base time.Duration, attempt int) time.Duration {
	d := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	jitter := time.Duration(rand.Int63n(int64(d)/10 + 1))
	return d + jitter
}
