// Package cache implements the two-tier response cache: exact matches on
// the normalized query in the key-value store, semantic matches in the
// vector index. Both tiers share TTL, capacity, and admission rules.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/indpro-interns-oct-25/chatNShop/internal/kv"
	"github.com/indpro-interns-oct-25/chatNShop/internal/model"
	"github.com/indpro-interns-oct-25/chatNShop/internal/normalize"
	"github.com/indpro-interns-oct-25/chatNShop/internal/semindex"
	"github.com/indpro-interns-oct-25/chatNShop/internal/telemetry"
)

var cacheMeter = telemetry.Meter("chatnshop/cache")

const (
	keyPrefix  = "chatns:cache:exact:"
	indexKey   = "chatns:cache:index"
	latencyCap = 1024 // ring buffer of recent lookup latencies
	topQueries = 10
)

// Tier names reported on hits.
const (
	TierExact    = "exact"
	TierSemantic = "semantic"
)

// Config holds cache tuning knobs.
type Config struct {
	TTL                 time.Duration
	MaxSize             int
	SimilarityThreshold float64 // semantic hit threshold on the normal path
	FallbackThreshold   float64 // relaxed threshold used when the LLM failed
	MinConfidence       float64 // admission: results below this are not cached
	MinQueryTokens      int     // admission: shorter queries are not cached
}

// entry is the stored form of one exact-tier record.
type entry struct {
	NormalizedQuery string                     `json:"normalized_query"`
	Result          model.ClassificationResult `json:"result"`
	StoredAt        time.Time                  `json:"stored_at"`
	SemanticID      string                     `json:"semantic_id,omitempty"`
	HitCount        int                        `json:"hit_count"`
}

// Stats is a snapshot of cache metrics.
type Stats struct {
	Hits         uint64          `json:"hits"`
	Misses       uint64          `json:"misses"`
	P50LatencyMs float64         `json:"p50_latency_ms"`
	P95LatencyMs float64         `json:"p95_latency_ms"`
	TopQueries   []QueryHitCount `json:"top_queries"`
	Degraded     bool            `json:"degraded"`
}

// QueryHitCount pairs a cached query with its cumulative hit count.
type QueryHitCount struct {
	Query string `json:"query"`
	Hits  int    `json:"hits"`
}

// Embedder supplies query embeddings for the semantic tier.
type Embedder interface {
	QueryEmbedding(ctx context.Context, query string) ([]float32, error)
}

// Cache is the two-tier response cache. The semantic tier is optional:
// with a nil index or embedder only the exact tier operates.
type Cache struct {
	store    kv.Store
	index    semindex.Searcher
	embedder Embedder
	norm     *normalize.Normalizer
	cfg      Config
	logger   *slog.Logger
	degraded bool

	mu        sync.Mutex
	hits      uint64
	misses    uint64
	latencies []time.Duration // ring buffer
	latPos    int
	hitCounts map[string]int
}

// New creates a cache over the given stores.
func New(store kv.Store, index semindex.Searcher, embedder Embedder, norm *normalize.Normalizer, cfg Config, degraded bool, logger *slog.Logger) *Cache {
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 10000
	}
	return &Cache{
		store:     store,
		index:     index,
		embedder:  embedder,
		norm:      norm,
		cfg:       cfg,
		logger:    logger,
		degraded:  degraded,
		hitCounts: make(map[string]int),
	}
}

func exactKey(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return keyPrefix + hex.EncodeToString(sum[:])
}

// Get looks up query in the exact tier, then the semantic tier, using
// the normal similarity threshold. Returns the cached result, the tier
// that produced it, and whether a hit occurred.
func (c *Cache) Get(ctx context.Context, query string) (*model.ClassificationResult, string, bool) {
	return c.get(ctx, query, c.cfg.SimilarityThreshold)
}

// GetFallback is Get with the relaxed fallback threshold; used after an
// LLM failure when a slightly weaker match beats no answer.
func (c *Cache) GetFallback(ctx context.Context, query string) (*model.ClassificationResult, string, bool) {
	return c.get(ctx, query, c.cfg.FallbackThreshold)
}

func (c *Cache) get(ctx context.Context, query string, threshold float64) (*model.ClassificationResult, string, bool) {
	start := time.Now()
	defer func() { c.recordLatency(time.Since(start)) }()

	normalized := c.norm.Normalize(query).Normalized
	if normalized == "" {
		c.recordMiss()
		return nil, "", false
	}

	// Exact tier.
	key := exactKey(normalized)
	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache: exact lookup failed", "error", err)
	}
	if ok {
		var e entry
		if err := json.Unmarshal([]byte(raw), &e); err == nil {
			if c.expired(e.StoredAt) {
				c.evict(ctx, key, e.SemanticID, normalized)
			} else {
				c.recordHit(ctx, key, &e, normalized)
				return &e.Result, TierExact, true
			}
		}
	}

	// Semantic tier.
	if c.index == nil || c.embedder == nil {
		c.recordMiss()
		return nil, "", false
	}

	qvec, err := c.embedder.QueryEmbedding(ctx, normalized)
	if err != nil {
		c.recordMiss()
		return nil, "", false
	}

	hits, err := c.index.Query(ctx, qvec, 3)
	if err != nil {
		c.logger.Warn("cache: semantic lookup failed", "error", err)
		c.recordMiss()
		return nil, "", false
	}

	for _, hit := range hits {
		if float64(hit.Score) < threshold {
			continue
		}
		if c.expired(hit.StoredAt) {
			_ = c.index.Delete(ctx, hit.ID)
			continue
		}
		var result model.ClassificationResult
		if err := json.Unmarshal([]byte(hit.ResultJSON), &result); err != nil {
			continue
		}
		c.mu.Lock()
		c.hits++
		c.hitCounts[hit.Query]++
		c.mu.Unlock()
		return &result, TierSemantic, true
	}

	c.recordMiss()
	return nil, "", false
}

// Set stores a result under the query's normalized form. Results below
// the admission confidence or from too-short queries are not cached.
func (c *Cache) Set(ctx context.Context, query string, result model.ClassificationResult) error {
	if result.Confidence < c.cfg.MinConfidence {
		return nil
	}
	nr := c.norm.Normalize(query)
	if len(nr.Tokens) < c.cfg.MinQueryTokens {
		return nil
	}

	semID := uuid.New().String()
	e := entry{
		NormalizedQuery: nr.Normalized,
		Result:          result,
		StoredAt:        time.Now().UTC(),
		SemanticID:      semID,
	}
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("cache: marshal entry: %w", err)
	}

	key := exactKey(nr.Normalized)
	if err := c.store.SetEx(ctx, key, string(raw), c.cfg.TTL); err != nil {
		return err
	}
	if err := c.store.ZAdd(ctx, indexKey, kv.Member{
		Member: key + "|" + semID,
		Score:  float64(time.Now().UnixNano()),
	}); err != nil {
		c.logger.Warn("cache: index update failed", "error", err)
	}

	c.enforceCapacity(ctx)

	if c.index != nil && c.embedder != nil {
		if qvec, err := c.embedder.QueryEmbedding(ctx, nr.Normalized); err == nil {
			resultJSON, _ := json.Marshal(result)
			if err := c.index.Upsert(ctx, semindex.Point{
				ID:         semID,
				Vector:     qvec,
				Query:      nr.Normalized,
				ResultJSON: string(resultJSON),
				StoredAt:   e.StoredAt,
			}); err != nil {
				c.logger.Warn("cache: semantic upsert failed", "error", err)
			}
		}
	}
	return nil
}

// Invalidate removes the entry for one query from both tiers.
func (c *Cache) Invalidate(ctx context.Context, query string) error {
	normalized := c.norm.Normalize(query).Normalized
	key := exactKey(normalized)

	raw, ok, err := c.store.Get(ctx, key)
	if err != nil {
		return err
	}
	semID := ""
	if ok {
		var e entry
		if json.Unmarshal([]byte(raw), &e) == nil {
			semID = e.SemanticID
		}
	}
	c.evict(ctx, key, semID, normalized)
	return nil
}

// Clear empties both tiers and resets metrics.
func (c *Cache) Clear(ctx context.Context) error {
	members, err := c.store.ZRangeByScore(ctx, indexKey, 0, float64(time.Now().UnixNano())+1, 0)
	if err == nil {
		for _, m := range members {
			key, _ := splitIndexMember(m.Member)
			_ = c.store.Del(ctx, key)
		}
	}
	_ = c.store.Del(ctx, indexKey)

	if c.index != nil {
		if err := c.index.Clear(ctx); err != nil {
			c.logger.Warn("cache: semantic clear failed", "error", err)
		}
	}

	c.mu.Lock()
	c.hits, c.misses = 0, 0
	c.latencies = nil
	c.latPos = 0
	c.hitCounts = make(map[string]int)
	c.mu.Unlock()
	return nil
}

// Stats returns a metrics snapshot.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{Hits: c.hits, Misses: c.misses, Degraded: c.degraded}

	if len(c.latencies) > 0 {
		sorted := make([]time.Duration, len(c.latencies))
		copy(sorted, c.latencies)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		s.P50LatencyMs = float64(sorted[len(sorted)/2].Microseconds()) / 1000
		p95 := (len(sorted) * 95) / 100
		if p95 >= len(sorted) {
			p95 = len(sorted) - 1
		}
		s.P95LatencyMs = float64(sorted[p95].Microseconds()) / 1000
	}

	top := make([]QueryHitCount, 0, len(c.hitCounts))
	for q, n := range c.hitCounts {
		top = append(top, QueryHitCount{Query: q, Hits: n})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Hits != top[j].Hits {
			return top[i].Hits > top[j].Hits
		}
		return top[i].Query < top[j].Query
	})
	if len(top) > topQueries {
		top = top[:topQueries]
	}
	s.TopQueries = top
	return s
}

func (c *Cache) expired(storedAt time.Time) bool {
	return c.cfg.TTL > 0 && time.Since(storedAt) > c.cfg.TTL
}

// evict removes one entry from both tiers and the LRU index.
func (c *Cache) evict(ctx context.Context, key, semID, _ string) {
	_ = c.store.Del(ctx, key)
	if semID != "" {
		_ = c.store.ZRem(ctx, indexKey, key+"|"+semID)
		if c.index != nil {
			_ = c.index.Delete(ctx, semID)
		}
	}
}

// enforceCapacity evicts least-recently-used entries when over MaxSize.
func (c *Cache) enforceCapacity(ctx context.Context) {
	n, err := c.store.ZCard(ctx, indexKey)
	if err != nil || n <= int64(c.cfg.MaxSize) {
		return
	}
	over := int(n - int64(c.cfg.MaxSize))
	popped, err := c.store.ZPopMin(ctx, indexKey, over)
	if err != nil {
		return
	}
	for _, m := range popped {
		key, semID := splitIndexMember(m.Member)
		_ = c.store.Del(ctx, key)
		if semID != "" && c.index != nil {
			_ = c.index.Delete(ctx, semID)
		}
	}
	if len(popped) > 0 {
		c.logger.Debug("cache: evicted entries over capacity", "count", len(popped))
	}
}

func splitIndexMember(member string) (key, semID string) {
	for i := len(member) - 1; i >= 0; i-- {
		if member[i] == '|' {
			return member[:i], member[i+1:]
		}
	}
	return member, ""
}

// recordHit updates hit metrics and the entry's hit count, and touches
// the LRU index.
func (c *Cache) recordHit(ctx context.Context, key string, e *entry, normalized string) {
	c.mu.Lock()
	c.hits++
	c.hitCounts[normalized]++
	c.mu.Unlock()
	if counter, err := cacheMeter.Int64Counter("cache.hits"); err == nil {
		counter.Add(ctx, 1)
	}

	// Touch LRU recency and persist the hit count, best-effort. TTL is
	// enforced from StoredAt, so re-setting does not extend lifetime.
	_ = c.store.ZAdd(ctx, indexKey, kv.Member{
		Member: key + "|" + e.SemanticID,
		Score:  float64(time.Now().UnixNano()),
	})
	e.HitCount++
	if raw, err := json.Marshal(e); err == nil {
		remaining := c.cfg.TTL - time.Since(e.StoredAt)
		if remaining > 0 {
			_ = c.store.SetEx(ctx, key, string(raw), remaining)
		}
	}
}

func (c *Cache) recordMiss() {
	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
	if counter, err := cacheMeter.Int64Counter("cache.misses"); err == nil {
		counter.Add(context.Background(), 1)
	}
}

func (c *Cache) recordLatency(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.latencies) < latencyCap {
		c.latencies = append(c.latencies, d)
		return
	}
	c.latencies[c.latPos] = d
	c.latPos = (c.latPos + 1) % latencyCap
}
