package match

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/indpro-interns-oct-25/chatNShop/internal/embedding"
	"github.com/indpro-interns-oct-25/chatNShop/internal/lru"
	"github.com/indpro-interns-oct-25/chatNShop/internal/model"
	"github.com/indpro-interns-oct-25/chatNShop/internal/normalize"
	"github.com/indpro-interns-oct-25/chatNShop/internal/taxonomy"
)

// refSet holds the reference vectors built from intent examples. Codes
// are kept sorted so scoring never depends on map iteration order.
type refSet struct {
	codes   []model.ActionCode
	vectors map[model.ActionCode][]float32
}

// EmbeddingMatcher scores queries by cosine similarity against one
// reference vector per action code. The encoder is initialized lazily on
// first search; concurrent first calls share one initialization via
// singleflight. If initialization fails the matcher reports itself
// unavailable and returns empty results.
type EmbeddingMatcher struct {
	provider embedding.Provider
	intents  map[model.ActionCode]taxonomy.IntentDefinition
	norm     *normalize.Normalizer
	logger   *slog.Logger

	initGroup  singleflight.Group
	refs       atomic.Pointer[refSet]
	unhealthy  atomic.Bool
	queryCache *lru.Cache[string, []float32]
}

// NewEmbeddingMatcher creates a matcher over the given intents. No
// encoder work happens until the first Search call.
func NewEmbeddingMatcher(provider embedding.Provider, intents map[model.ActionCode]taxonomy.IntentDefinition, norm *normalize.Normalizer, logger *slog.Logger) *EmbeddingMatcher {
	return &EmbeddingMatcher{
		provider:   provider,
		intents:    intents,
		norm:       norm,
		logger:     logger,
		queryCache: lru.New[string, []float32](512),
	}
}

// Healthy reports whether the encoder initialized successfully (or has
// not been tried yet).
func (m *EmbeddingMatcher) Healthy() bool {
	return !m.unhealthy.Load()
}

// Search encodes the query and returns the top-N action codes by cosine
// similarity, rescaled from [-1, 1] to [0, 1]. Returns an empty list
// when the encoder is unavailable.
func (m *EmbeddingMatcher) Search(ctx context.Context, query string, topN int) ([]model.Candidate, error) {
	nr := m.norm.Normalize(query)
	if nr.Normalized == "" {
		return nil, nil
	}

	refs, err := m.initRefs(ctx)
	if err != nil {
		return nil, nil // unhealthy flag set; engine proceeds keyword-only
	}

	qvec, err := m.queryEmbedding(ctx, nr.Normalized)
	if err != nil {
		m.logger.Warn("match: query encoding failed", "error", err)
		return nil, nil
	}

	candidates := make([]model.Candidate, 0, len(refs.codes))
	for _, code := range refs.codes {
		cos := embedding.Dot(qvec, refs.vectors[code])
		score := (cos + 1) / 2
		if score < 0 {
			score = 0
		} else if score > 1 {
			score = 1
		}
		candidates = append(candidates, model.Candidate{
			ActionCode: code,
			Score:      score,
			Source:     model.SourceEmbedding,
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].ActionCode < candidates[j].ActionCode
	})

	if topN > 0 && len(candidates) > topN {
		candidates = candidates[:topN]
	}
	return candidates, nil
}

// QueryEmbedding returns the unit-length embedding of a normalized
// query, served from the bounded query cache when possible. Exposed for
// the semantic cache tier, which shares the encoder.
func (m *EmbeddingMatcher) QueryEmbedding(ctx context.Context, query string) ([]float32, error) {
	nr := m.norm.Normalize(query)
	return m.queryEmbedding(ctx, nr.Normalized)
}

func (m *EmbeddingMatcher) queryEmbedding(ctx context.Context, normalized string) ([]float32, error) {
	if vec, ok := m.queryCache.Get(normalized); ok {
		return vec, nil
	}

	vec, err := m.provider.Embed(ctx, normalized)
	if err != nil {
		return nil, fmt.Errorf("match: embed query: %w", err)
	}
	if embedding.IsZero(vec) {
		return nil, fmt.Errorf("match: encoder returned zero vector")
	}
	vec = embedding.Normalize(vec)
	m.queryCache.Put(normalized, vec)
	return vec, nil
}

// initRefs lazily builds the reference vectors: per intent, the mean of
// its example embeddings, L2-normalized. Concurrent callers share a
// single build.
func (m *EmbeddingMatcher) initRefs(ctx context.Context) (*refSet, error) {
	if refs := m.refs.Load(); refs != nil {
		return refs, nil
	}

	result, err, _ := m.initGroup.Do("init", func() (any, error) {
		if refs := m.refs.Load(); refs != nil {
			return refs, nil
		}

		refs, err := m.buildRefs(ctx)
		if err != nil {
			m.unhealthy.Store(true)
			m.logger.Warn("match: embedding matcher unavailable", "error", err)
			return nil, err
		}
		m.unhealthy.Store(false)
		m.refs.Store(refs)
		m.logger.Info("match: reference embeddings built", "intents", len(refs.codes))
		return refs, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*refSet), nil
}

func (m *EmbeddingMatcher) buildRefs(ctx context.Context) (*refSet, error) {
	refs := &refSet{vectors: make(map[model.ActionCode][]float32, len(m.intents))}

	for code, def := range m.intents {
		if len(def.Examples) == 0 {
			continue
		}
		normalized := make([]string, len(def.Examples))
		for i, ex := range def.Examples {
			normalized[i] = m.norm.Normalize(ex).Normalized
		}

		vecs, err := m.provider.EmbedBatch(ctx, normalized)
		if err != nil {
			return nil, fmt.Errorf("match: embed examples for %s: %w", code, err)
		}
		mean := embedding.Normalize(embedding.Mean(vecs))
		if embedding.IsZero(mean) {
			return nil, fmt.Errorf("match: zero reference vector for %s", code)
		}
		refs.vectors[code] = mean
		refs.codes = append(refs.codes, code)
	}

	if len(refs.codes) == 0 {
		return nil, fmt.Errorf("match: no reference embeddings produced")
	}
	sort.Slice(refs.codes, func(i, j int) bool { return refs.codes[i] < refs.codes[j] })
	return refs, nil
}
