// Package worker drains the escalation queue: each worker leases a
// message, re-checks the cache, calls the LLM, merges entities, stores
// the result, and acknowledges. LLM failures degrade to a cached or
// clarifying answer instead of dead-lettering the request.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/indpro-interns-oct-25/chatNShop/internal/alerts"
	"github.com/indpro-interns-oct-25/chatNShop/internal/cache"
	"github.com/indpro-interns-oct-25/chatNShop/internal/classify"
	"github.com/indpro-interns-oct-25/chatNShop/internal/config"
	"github.com/indpro-interns-oct-25/chatNShop/internal/entities"
	"github.com/indpro-interns-oct-25/chatNShop/internal/llm"
	"github.com/indpro-interns-oct-25/chatNShop/internal/model"
	"github.com/indpro-interns-oct-25/chatNShop/internal/queue"
	"github.com/indpro-interns-oct-25/chatNShop/internal/status"
)

// Deps collects the pool's collaborators. Cache and Alerts may be nil.
type Deps struct {
	Queue    *queue.Queue
	Status   *status.Store
	Cache    *cache.Cache
	Client   llm.Client
	Manager  *config.Manager
	Fallback *classify.FallbackManager
	Alerts   *alerts.Manager
	Count    int
	Logger   *slog.Logger
}

// Pool runs N workers against the queue.
type Pool struct {
	deps Deps
	wg   sync.WaitGroup
}

// New creates a pool; Count defaults to 1.
func New(deps Deps) *Pool {
	if deps.Count <= 0 {
		deps.Count = 1
	}
	return &Pool{deps: deps}
}

// Start launches the workers. They stop when ctx is canceled.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.deps.Count; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.run(ctx, id)
		}(i)
	}
	p.deps.Logger.Info("worker: pool started", "count", p.deps.Count)
}

// Drain blocks until every worker has exited. In-flight messages are
// finished; unleased ones stay queued for the next start.
func (p *Pool) Drain() {
	p.wg.Wait()
	p.deps.Logger.Info("worker: pool drained")
}

func (p *Pool) run(ctx context.Context, id int) {
	logger := p.deps.Logger.With("worker", id)
	for {
		if ctx.Err() != nil {
			return
		}
		d, err := p.deps.Queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			logger.Error("worker: dequeue failed", "error", err)
			continue
		}
		if d == nil {
			continue
		}
		p.process(ctx, d, logger)
	}
}

func (p *Pool) process(ctx context.Context, d *queue.Delivery, logger *slog.Logger) {
	requestID := d.Msg.RequestID
	query := d.Msg.Payload.Query

	if err := p.deps.Status.MarkProcessing(ctx, requestID); err != nil &&
		!errors.Is(err, status.ErrNotFound) && !errors.Is(err, status.ErrInvalidTransition) {
		logger.Warn("worker: mark processing failed", "request_id", requestID, "error", err)
	}

	// Another request may have filled the cache while this one waited.
	if p.deps.Cache != nil {
		if res, tier, ok := p.deps.Cache.Get(ctx, query); ok {
			logger.Debug("worker: cache filled while queued", "request_id", requestID, "tier", tier)
			out := *res
			out.RequestID = requestID
			out.OriginalText = query
			p.complete(ctx, d, &out, nil, logger)
			return
		}
	}

	variant := p.deps.Manager.Active()
	verdict, usage, err := p.deps.Client.Classify(ctx, llm.Request{
		Query:    query,
		Model:    variant.LLMModel,
		RuleHint: d.Msg.Payload.RuleBasedHint,
		Context:  d.Msg.Payload.ContextSnapshot,
	})
	if err != nil {
		kind := model.KindOf(err)
		logger.Error("worker: llm classification failed",
			"request_id", requestID, "kind", kind, "error", err)
		if p.deps.Alerts != nil {
			p.deps.Alerts.ReportError(ctx, kind, err.Error())
		}

		// The user still gets an answer: a relaxed cache hit if one
		// exists, a clarifying UNCLEAR result otherwise.
		res := p.deps.Fallback.AfterLLMFailure(ctx, query)
		res.RequestID = requestID
		p.complete(ctx, d, res, nil, logger)
		return
	}

	merged := entities.Merge(verdict.Entities, entities.Extract(query))
	res := &model.ClassificationResult{
		ActionCode:      verdict.ActionCode,
		Confidence:      verdict.Confidence,
		MatchedKeywords: []string{},
		OriginalText:    query,
		Status:          model.StatusLLMClassification,
		Entities:        merged,
		RequestID:       requestID,
		Intent: &model.IntentScore{
			ID:     verdict.ActionCode,
			Score:  verdict.Confidence,
			Source: model.SourceLLM,
		},
	}

	if p.deps.Cache != nil {
		if err := p.deps.Cache.Set(ctx, query, *res); err != nil {
			logger.Warn("worker: cache store failed", "request_id", requestID, "error", err)
		}
	}
	p.complete(ctx, d, res, usage, logger)
}

// complete records the terminal status and acknowledges the message.
// A failed status write nacks the delivery so the result is not lost.
func (p *Pool) complete(ctx context.Context, d *queue.Delivery, res *model.ClassificationResult, usage *model.Usage, logger *slog.Logger) {
	err := p.deps.Status.Complete(ctx, d.Msg.RequestID, res, usage)
	if err != nil && !errors.Is(err, status.ErrNotFound) && !errors.Is(err, status.ErrInvalidTransition) {
		logger.Error("worker: status complete failed", "request_id", d.Msg.RequestID, "error", err)
		if _, nerr := p.deps.Queue.Nack(ctx, d, err); nerr != nil {
			logger.Error("worker: nack failed", "request_id", d.Msg.RequestID, "error", nerr)
		}
		return
	}
	if err := p.deps.Queue.Ack(ctx, d); err != nil {
		logger.Error("worker: ack failed", "request_id", d.Msg.RequestID, "error", err)
	}
}
