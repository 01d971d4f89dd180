package worker

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indpro-interns-oct-25/chatNShop/internal/cache"
	"github.com/indpro-interns-oct-25/chatNShop/internal/classify"
	"github.com/indpro-interns-oct-25/chatNShop/internal/config"
	"github.com/indpro-interns-oct-25/chatNShop/internal/kv"
	"github.com/indpro-interns-oct-25/chatNShop/internal/llm"
	"github.com/indpro-interns-oct-25/chatNShop/internal/model"
	"github.com/indpro-interns-oct-25/chatNShop/internal/normalize"
	"github.com/indpro-interns-oct-25/chatNShop/internal/queue"
	"github.com/indpro-interns-oct-25/chatNShop/internal/semindex"
	"github.com/indpro-interns-oct-25/chatNShop/internal/status"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeLLM struct {
	verdict *llm.Classification
	err     error
	calls   atomic.Int64
}

func (f *fakeLLM) Classify(context.Context, llm.Request) (*llm.Classification, *model.Usage, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.verdict, &model.Usage{PromptTokens: 150, CompletionTokens: 30, Cost: 0.0005}, nil
}

// fakeIndex is a one-point semantic tier returning a fixed similarity.
type fakeIndex struct {
	point semindex.Point
	score float32
	has   bool
}

func (f *fakeIndex) Upsert(_ context.Context, p semindex.Point) error {
	f.point, f.has = p, true
	return nil
}

func (f *fakeIndex) Query(context.Context, []float32, int) ([]semindex.Hit, error) {
	if !f.has {
		return nil, nil
	}
	return []semindex.Hit{{
		ID:         f.point.ID,
		Score:      f.score,
		Query:      f.point.Query,
		ResultJSON: f.point.ResultJSON,
		StoredAt:   f.point.StoredAt,
	}}, nil
}

func (f *fakeIndex) Delete(context.Context, ...string) error { f.has = false; return nil }
func (f *fakeIndex) Clear(context.Context) error             { f.has = false; return nil }
func (f *fakeIndex) Healthy(context.Context) error           { return nil }

type fakeEmbedder struct{}

func (fakeEmbedder) QueryEmbedding(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

type env struct {
	pool   *Pool
	queue  *queue.Queue
	status *status.Store
	cache  *cache.Cache
	llm    *fakeLLM
	cancel context.CancelFunc
}

func newEnv(t *testing.T, client *fakeLLM) *env {
	return newEnvWith(t, client, nil, nil)
}

func newEnvWith(t *testing.T, client *fakeLLM, index semindex.Searcher, embedder cache.Embedder) *env {
	t.Helper()
	store := kv.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	q := queue.New(store, queue.Config{
		MaxRetries:       3,
		RetryDelay:       time.Millisecond,
		MessageTTL:       time.Hour,
		DequeueTimeout:   50 * time.Millisecond,
		VisibilityWindow: time.Minute,
		PollInterval:     5 * time.Millisecond,
	}, testLogger())
	st := status.New(store, time.Hour, testLogger())
	c := cache.New(store, index, embedder, normalize.New(128), cache.Config{
		TTL:                 time.Hour,
		MaxSize:             100,
		SimilarityThreshold: 0.95,
		FallbackThreshold:   0.90,
		MinConfidence:       0.70,
		MinQueryTokens:      3,
	}, false, testLogger())

	rulesPath := filepath.Join(t.TempDir(), "rules.json")
	require.NoError(t, os.WriteFile(rulesPath, []byte(`{"active_variant":"default","rules":{"rule_sets":{}}}`), 0o644))
	manager, err := config.NewManager(rulesPath, "", testLogger())
	require.NoError(t, err)

	pool := New(Deps{
		Queue:    q,
		Status:   st,
		Cache:    c,
		Client:   client,
		Manager:  manager,
		Fallback: classify.NewFallbackManager(c, testLogger()),
		Count:    1,
		Logger:   testLogger(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)
	t.Cleanup(func() {
		cancel()
		pool.Drain()
	})
	return &env{pool: pool, queue: q, status: st, cache: c, llm: client, cancel: cancel}
}

func enqueue(t *testing.T, e *env, query string) string {
	t.Helper()
	ctx := context.Background()
	id, err := e.queue.Enqueue(ctx, model.QueueMessage{
		Priority: model.PriorityHigh,
		Payload:  model.QueuePayload{Query: query},
	})
	require.NoError(t, err)
	require.NoError(t, e.status.Create(ctx, id, "queued"))
	return id
}

func waitCompleted(t *testing.T, e *env, id string) *model.RequestStatus {
	t.Helper()
	var rec *model.RequestStatus
	require.Eventually(t, func() bool {
		r, err := e.status.Get(context.Background(), id)
		if err != nil {
			return false
		}
		rec = r
		return r.State == model.StateCompleted
	}, 2*time.Second, 10*time.Millisecond)
	return rec
}

func TestWorkerCompletesLLMClassification(t *testing.T) {
	client := &fakeLLM{verdict: &llm.Classification{
		ActionCode: "TRACK_ORDER",
		Confidence: 0.93,
		Entities:   &model.Entities{Brand: "nike"},
	}}
	e := newEnv(t, client)

	id := enqueue(t, e, "where is my nike order size 9")
	rec := waitCompleted(t, e, id)

	require.NotNil(t, rec.Result)
	assert.Equal(t, model.ActionCode("TRACK_ORDER"), rec.Result.ActionCode)
	assert.Equal(t, model.StatusLLMClassification, rec.Result.Status)
	assert.Equal(t, 0.93, rec.Result.Confidence)
	assert.Equal(t, id, rec.Result.RequestID)

	// Entities merged: the LLM's brand wins, rules backfill the size.
	require.NotNil(t, rec.Result.Entities)
	assert.Equal(t, "Nike", rec.Result.Entities.Brand)
	assert.Equal(t, "9", rec.Result.Entities.Size)

	require.NotNil(t, rec.Usage)
	assert.Equal(t, 150, rec.Usage.PromptTokens)

	// Result cached for future identical queries.
	cached, _, ok := e.cache.Get(context.Background(), "where is my nike order size 9")
	require.True(t, ok)
	assert.Equal(t, model.ActionCode("TRACK_ORDER"), cached.ActionCode)

	// Queue fully drained.
	require.Eventually(t, func() bool {
		s, err := e.queue.Stats(context.Background())
		return err == nil && s.Pending == 0 && s.InFlight == 0 && s.Dead == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestWorkerLLMFailureFallsBackToCache(t *testing.T) {
	client := &fakeLLM{err: model.Ef(model.ErrKindAllRetriesFailed, "llm down")}
	// Semantic similarity 0.91: below the normal 0.95 lookup threshold,
	// above the relaxed 0.90 fallback threshold.
	idx := &fakeIndex{score: 0.91}
	e := newEnvWith(t, client, idx, fakeEmbedder{})
	ctx := context.Background()

	// A near-duplicate query was answered before the outage, on the fast
	// path: its stored status is CONFIDENT_KEYWORD, not LLM.
	require.NoError(t, e.cache.Set(ctx, "where is my recent order", model.ClassificationResult{
		ActionCode: "TRACK_ORDER",
		Confidence: 0.91,
		Status:     model.StatusConfidentKeyword,
	}))

	// Different surface form: the pre-LLM cache check misses, the LLM
	// fails, and the relaxed fallback lookup serves the near-duplicate.
	id := enqueue(t, e, "track my latest order now")
	rec := waitCompleted(t, e, id)

	require.NotNil(t, rec.Result)
	assert.Equal(t, model.ActionCode("TRACK_ORDER"), rec.Result.ActionCode)
	assert.Equal(t, model.StatusLLMClassification, rec.Result.Status,
		"the cached entry's stored status must not leak through")
	assert.Equal(t, string(model.SourceCache), rec.Result.FallbackSource)
	assert.GreaterOrEqual(t, e.llm.calls.Load(), int64(1), "llm was attempted before falling back")

	s, err := e.queue.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), s.Dead, "llm outage must not dead-letter requests")
}

func TestWorkerLLMFailureWithoutCacheCompletesUnclear(t *testing.T) {
	client := &fakeLLM{err: model.Ef(model.ErrKindAllRetriesFailed, "llm down")}
	e := newEnv(t, client)

	id := enqueue(t, e, "blargh xyzzy wobble")
	rec := waitCompleted(t, e, id)

	require.NotNil(t, rec.Result)
	assert.Equal(t, model.CodeUnclear, rec.Result.ActionCode)
	assert.Equal(t, model.StatusUnclear, rec.Result.Status)
	assert.True(t, rec.Result.RequiresClarification)
	assert.NotEmpty(t, rec.Result.ClarifyingQuestions)
	assert.Equal(t, id, rec.Result.RequestID)

	s, err := e.queue.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), s.Dead)
}

func TestWorkerCacheRecheckSkipsLLM(t *testing.T) {
	client := &fakeLLM{verdict: &llm.Classification{ActionCode: "VIEW_CART", Confidence: 0.9}}
	e := newEnv(t, client)
	ctx := context.Background()

	require.NoError(t, e.cache.Set(ctx, "show me my cart", model.ClassificationResult{
		ActionCode: "VIEW_CART",
		Confidence: 0.95,
		Status:     model.StatusConfidentBlended,
	}))

	id := enqueue(t, e, "show me my cart")
	rec := waitCompleted(t, e, id)

	require.NotNil(t, rec.Result)
	assert.Equal(t, model.ActionCode("VIEW_CART"), rec.Result.ActionCode)
	assert.Equal(t, int64(0), e.llm.calls.Load())
}
