package classify

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/indpro-interns-oct-25/chatNShop/internal/cache"
	"github.com/indpro-interns-oct-25/chatNShop/internal/config"
	"github.com/indpro-interns-oct-25/chatNShop/internal/entities"
	"github.com/indpro-interns-oct-25/chatNShop/internal/match"
	"github.com/indpro-interns-oct-25/chatNShop/internal/model"
	"github.com/indpro-interns-oct-25/chatNShop/internal/queue"
	"github.com/indpro-interns-oct-25/chatNShop/internal/status"
	"github.com/indpro-interns-oct-25/chatNShop/internal/telemetry"
)

var classifyMeter = telemetry.Meter("chatnshop/classify")

const (
	// maxQueryLength bounds input; anything longer is rejected, not truncated.
	maxQueryLength = 500
	// topN caps how many candidates each matcher contributes.
	topN = 5
)

// Engine runs the hybrid classification pipeline for one query.
type Engine struct {
	keyword   *match.KeywordMatcher
	embedding *match.EmbeddingMatcher // nil disables the embedding stage
	manager   *config.Manager
	cache     *cache.Cache  // nil disables caching
	queue     *queue.Queue  // nil disables LLM escalation
	status    *status.Store // nil disables status tracking
	fallback  *FallbackManager
	ambiguity *AmbiguityLog // nil disables the ambiguity log
	logger    *slog.Logger
}

// EngineDeps collects the engine's collaborators. Optional fields may
// be nil; the engine degrades accordingly.
type EngineDeps struct {
	Keyword   *match.KeywordMatcher
	Embedding *match.EmbeddingMatcher
	Manager   *config.Manager
	Cache     *cache.Cache
	Queue     *queue.Queue
	Status    *status.Store
	Fallback  *FallbackManager
	Ambiguity *AmbiguityLog
	Logger    *slog.Logger
}

// NewEngine wires the pipeline.
func NewEngine(deps EngineDeps) *Engine {
	return &Engine{
		keyword:   deps.Keyword,
		embedding: deps.Embedding,
		manager:   deps.Manager,
		cache:     deps.Cache,
		queue:     deps.Queue,
		status:    deps.Status,
		fallback:  deps.Fallback,
		ambiguity: deps.Ambiguity,
		logger:    deps.Logger,
	}
}

// Classify runs one query through the pipeline.
func (e *Engine) Classify(ctx context.Context, query string, sessionCtx map[string]any) (*model.ClassificationResult, error) {
	res, err := e.classify(ctx, query, sessionCtx)
	if err == nil && res != nil {
		if counter, cerr := classifyMeter.Int64Counter("classify.requests"); cerr == nil {
			counter.Add(ctx, 1, otelmetric.WithAttributes(
				attribute.String("status", string(res.Status)),
			))
		}
	}
	return res, err
}

// The active rule variant is read once at entry so a concurrent
// hot-reload never produces a mixed snapshot within a request.
func (e *Engine) classify(ctx context.Context, query string, sessionCtx map[string]any) (*model.ClassificationResult, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return nil, model.Ef(model.ErrKindInvalidInput, "query must not be empty")
	}
	if utf8.RuneCountInString(trimmed) > maxQueryLength {
		return nil, model.Ef(model.ErrKindInvalidInput,
			"query exceeds %d characters", maxQueryLength)
	}

	variant := e.manager.Active()

	if e.cache != nil {
		if res, tier, ok := e.cache.Get(ctx, trimmed); ok {
			e.logger.Debug("classify: cache hit", "tier", tier, "action_code", res.ActionCode)
			out := *res
			out.OriginalText = trimmed
			return &out, nil
		}
	}

	kw := e.keyword.Search(trimmed, topN)

	// A near-certain keyword hit skips the embedding stage entirely.
	if len(kw) > 0 && kw[0].Score >= variant.PriorityThreshold {
		res := e.buildResult(ctx, trimmed, kw[0], model.StatusConfidentKeyword, model.SourceKeyword)
		return res, nil
	}

	var emb []model.Candidate
	if variant.UseEmbedding && e.embedding != nil {
		var err error
		emb, err = e.embedding.Search(ctx, trimmed, topN)
		if err != nil {
			e.logger.Warn("classify: embedding stage failed, continuing keyword-only", "error", err)
			emb = nil
		}
	}

	blended := Blend(kw, emb, variant)
	verdict := Decide(blended, variant)

	if verdict == VerdictConfident {
		res := e.buildResult(ctx, trimmed, blended[0], model.StatusConfidentBlended, model.SourceBlended)
		return res, nil
	}

	return e.escalate(ctx, trimmed, sessionCtx, variant, verdict, kw, emb, blended), nil
}

// buildResult assembles a confident result, extracts entities, and
// feeds the cache.
func (e *Engine) buildResult(ctx context.Context, query string, c model.Candidate, st model.ResultStatus, src model.Source) *model.ClassificationResult {
	res := &model.ClassificationResult{
		ActionCode:      c.ActionCode,
		Confidence:      c.Score,
		MatchedKeywords: []string{},
		OriginalText:    query,
		Status:          st,
		Entities:        entities.Validate(entities.Extract(query)),
		Intent:          &model.IntentScore{ID: c.ActionCode, Score: c.Score, Source: src},
	}
	if c.MatchedText != "" {
		res.MatchedKeywords = []string{c.MatchedText}
	}
	if e.cache != nil {
		if err := e.cache.Set(ctx, query, *res); err != nil {
			e.logger.Warn("classify: cache store failed", "error", err)
		}
	}
	return res
}

// escalate hands an undecided query to the LLM queue, or serves the
// best degraded answer when escalation is unavailable.
func (e *Engine) escalate(ctx context.Context, query string, sessionCtx map[string]any, variant config.Variant, verdict Verdict, kw, emb, blended []model.Candidate) *model.ClassificationResult {
	if !variant.UseLLM {
		return e.fallback.Generic(query)
	}
	if e.queue == nil {
		return e.fallback.Ladder(query, kw, emb)
	}

	// Ambiguous queries carry a real signal and jump ahead of unclear ones.
	priority := model.PriorityNormal
	if verdict == VerdictAmbiguous {
		priority = model.PriorityHigh
	}

	msg := model.QueueMessage{
		Priority: priority,
		Payload: model.QueuePayload{
			Query:           query,
			ContextSnapshot: sessionCtx,
		},
	}
	if len(blended) > 0 {
		hint := blended[0]
		msg.Payload.RuleBasedHint = &hint
	}

	requestID, err := e.queue.Enqueue(ctx, msg)
	if err != nil {
		e.logger.Error("classify: enqueue failed, serving fallback", "error", err)
		return e.fallback.Ladder(query, kw, emb)
	}

	if e.status != nil {
		if err := e.status.Create(ctx, requestID, "queued for llm classification"); err != nil {
			e.logger.Warn("classify: status create failed", "request_id", requestID, "error", err)
		}
	}
	e.ambiguity.Record(query, verdict, variant.Name, requestID, blended)

	res := &model.ClassificationResult{
		ActionCode:      model.CodeUnclear,
		MatchedKeywords: []string{},
		OriginalText:    query,
		Status:          model.StatusQueuedForLLM,
		RequestID:       requestID,
	}
	if len(blended) > 0 {
		res.ActionCode = blended[0].ActionCode
		res.Confidence = blended[0].Score
		res.Intent = &model.IntentScore{
			ID:     blended[0].ActionCode,
			Score:  blended[0].Score,
			Source: model.SourceBlended,
		}
	}
	return res
}
