package classify

import (
	"context"
	"log/slog"

	"github.com/indpro-interns-oct-25/chatNShop/internal/cache"
	"github.com/indpro-interns-oct-25/chatNShop/internal/model"
)

// ladderThreshold is the minimum matcher score worth surfacing as a
// degraded answer instead of the generic fallback.
const ladderThreshold = 0.3

// FallbackManager produces degraded-but-useful answers when the normal
// pipeline cannot deliver one.
type FallbackManager struct {
	cache  *cache.Cache // may be nil
	logger *slog.Logger
}

// NewFallbackManager creates a fallback manager; cache may be nil.
func NewFallbackManager(c *cache.Cache, logger *slog.Logger) *FallbackManager {
	return &FallbackManager{cache: c, logger: logger}
}

// Ladder picks the best degraded answer when escalation itself failed:
// a decent embedding signal first, then a decent keyword signal, then
// the generic fallback.
func (f *FallbackManager) Ladder(query string, kw, emb []model.Candidate) *model.ClassificationResult {
	if c := topAbove(emb, ladderThreshold); c != nil {
		f.logger.Warn("fallback: serving embedding result", "query", query, "score", c.Score)
		return &model.ClassificationResult{
			ActionCode:      c.ActionCode,
			Confidence:      c.Score,
			MatchedKeywords: []string{},
			OriginalText:    query,
			Status:          model.StatusFallbackEmbedding,
			FallbackSource:  string(model.SourceEmbedding),
			Intent:          &model.IntentScore{ID: c.ActionCode, Score: c.Score, Source: model.SourceEmbedding},
		}
	}
	if c := topAbove(kw, ladderThreshold); c != nil {
		f.logger.Warn("fallback: serving keyword result", "query", query, "score", c.Score)
		res := &model.ClassificationResult{
			ActionCode:      c.ActionCode,
			Confidence:      c.Score,
			MatchedKeywords: []string{},
			OriginalText:    query,
			Status:          model.StatusFallbackKeyword,
			FallbackSource:  string(model.SourceKeyword),
			Intent:          &model.IntentScore{ID: c.ActionCode, Score: c.Score, Source: model.SourceKeyword},
		}
		if c.MatchedText != "" {
			res.MatchedKeywords = []string{c.MatchedText}
		}
		return res
	}
	return f.Generic(query)
}

// Generic is the last-resort answer: route to product search with
// minimal confidence so the caller knows not to trust it.
func (f *FallbackManager) Generic(query string) *model.ClassificationResult {
	return &model.ClassificationResult{
		ActionCode:       model.CodeSearchProduct,
		Confidence:       0.1,
		MatchedKeywords:  []string{},
		OriginalText:     query,
		Status:           model.StatusFallbackGeneric,
		FallbackSource:   "generic",
		RetryRecommended: true,
		Suggestions: []string{
			"Try describing the product you are looking for",
			"Include a brand, color, or price range",
		},
	}
}

// AfterLLMFailure is the worker's fallback when every LLM attempt
// failed: a relaxed-threshold cache hit if one exists, otherwise an
// UNCLEAR result asking the user to rephrase.
func (f *FallbackManager) AfterLLMFailure(ctx context.Context, query string) *model.ClassificationResult {
	if f.cache != nil {
		if res, tier, ok := f.cache.GetFallback(ctx, query); ok {
			f.logger.Warn("fallback: serving cached result after llm failure",
				"query", query, "tier", tier)
			out := *res
			out.OriginalText = query
			// The request went down the LLM path even though the answer
			// came from the cache; the cached entry's own status (which
			// may be CONFIDENT_*) must not leak into the polled record.
			out.Status = model.StatusLLMClassification
			out.FallbackSource = string(model.SourceCache)
			return &out
		}
	}

	return &model.ClassificationResult{
		ActionCode:            model.CodeUnclear,
		Confidence:            0,
		MatchedKeywords:       []string{},
		OriginalText:          query,
		Status:                model.StatusUnclear,
		RequiresClarification: true,
		RetryRecommended:      true,
		ClarifyingQuestions: []string{
			"What would you like to do: find a product, manage your cart, or check an order?",
			"Can you mention the product or brand you have in mind?",
			"Are you looking to buy something or get help with an existing order?",
		},
	}
}

func topAbove(candidates []model.Candidate, threshold float64) *model.Candidate {
	if len(candidates) > 0 && candidates[0].Score >= threshold {
		c := candidates[0]
		return &c
	}
	return nil
}
