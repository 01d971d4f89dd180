package classify

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indpro-interns-oct-25/chatNShop/internal/config"
	"github.com/indpro-interns-oct-25/chatNShop/internal/embedding"
	"github.com/indpro-interns-oct-25/chatNShop/internal/kv"
	"github.com/indpro-interns-oct-25/chatNShop/internal/match"
	"github.com/indpro-interns-oct-25/chatNShop/internal/model"
	"github.com/indpro-interns-oct-25/chatNShop/internal/normalize"
	"github.com/indpro-interns-oct-25/chatNShop/internal/queue"
	"github.com/indpro-interns-oct-25/chatNShop/internal/status"
	"github.com/indpro-interns-oct-25/chatNShop/internal/taxonomy"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const testRules = `{
  "active_variant": "default",
  "rules": {
    "rule_sets": {
      "default": {
        "kw_weight": 0.6, "emb_weight": 0.4,
        "priority_threshold": 0.85, "confidence_threshold": 0.6, "gap_threshold": 0.15,
        "use_embedding": true, "use_llm": true, "llm_model": "gpt-4o-mini"
      },
      "no_llm": {
        "kw_weight": 0.6, "emb_weight": 0.4,
        "priority_threshold": 0.85, "confidence_threshold": 0.6, "gap_threshold": 0.15,
        "use_embedding": true, "use_llm": false, "llm_model": "gpt-4o-mini"
      }
    }
  }
}`

func testManager(t *testing.T) *config.Manager {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.json")
	require.NoError(t, os.WriteFile(path, []byte(testRules), 0o644))
	m, err := config.NewManager(path, "", testLogger())
	require.NoError(t, err)
	return m
}

func testDict() map[model.ActionCode]taxonomy.KeywordEntry {
	return map[model.ActionCode]taxonomy.KeywordEntry{
		"ADD_TO_CART": {
			ActionCode: "ADD_TO_CART", Priority: 1,
			Patterns: []string{"add to cart"},
		},
		"TRACK_ORDER": {
			ActionCode: "TRACK_ORDER", Priority: 1,
			Patterns: []string{"track my order"},
		},
		"CANCEL_ORDER": {
			ActionCode: "CANCEL_ORDER", Priority: 1,
			Patterns: []string{"cancel my order"},
		},
	}
}

// countingProvider wraps the noop provider to detect embedding calls.
type countingProvider struct {
	*embedding.NoopProvider
	calls atomic.Int64
}

func (p *countingProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.calls.Add(1)
	return p.NoopProvider.Embed(ctx, text)
}

type engineEnv struct {
	engine   *Engine
	manager  *config.Manager
	queue    *queue.Queue
	status   *status.Store
	provider *countingProvider
}

func newEngineEnv(t *testing.T) *engineEnv {
	t.Helper()
	store := kv.NewMemoryStore()
	t.Cleanup(func() { _ = store.Close() })

	norm := normalize.New(128)
	manager := testManager(t)
	provider := &countingProvider{NoopProvider: embedding.NewNoopProvider(4)}
	intents := map[model.ActionCode]taxonomy.IntentDefinition{
		"ADD_TO_CART": {ActionCode: "ADD_TO_CART", Examples: []string{"add to cart"}},
	}

	q := queue.New(store, queue.Config{
		MaxRetries:       3,
		RetryDelay:       time.Millisecond,
		MessageTTL:       time.Hour,
		DequeueTimeout:   100 * time.Millisecond,
		VisibilityWindow: time.Minute,
		PollInterval:     5 * time.Millisecond,
	}, testLogger())
	st := status.New(store, time.Hour, testLogger())

	env := &engineEnv{
		manager:  manager,
		queue:    q,
		status:   st,
		provider: provider,
	}
	env.engine = NewEngine(EngineDeps{
		Keyword:   match.NewKeywordMatcher(testDict(), norm, testLogger()),
		Embedding: match.NewEmbeddingMatcher(provider, intents, norm, testLogger()),
		Manager:   manager,
		Queue:     q,
		Status:    st,
		Fallback:  NewFallbackManager(nil, testLogger()),
		Logger:    testLogger(),
	})
	return env
}

func TestEngineConfidentKeywordShortCircuit(t *testing.T) {
	env := newEngineEnv(t)

	res, err := env.engine.Classify(context.Background(), "add to cart", nil)
	require.NoError(t, err)
	assert.Equal(t, model.ActionCode("ADD_TO_CART"), res.ActionCode)
	assert.Equal(t, model.StatusConfidentKeyword, res.Status)
	assert.Equal(t, 1.0, res.Confidence)
	assert.Equal(t, []string{"add to cart"}, res.MatchedKeywords)
	assert.Equal(t, int64(0), env.provider.calls.Load(),
		"priority keyword hit must skip the embedding stage")
}

func TestEngineAmbiguousQueuesHighPriority(t *testing.T) {
	env := newEngineEnv(t)
	ctx := context.Background()

	// "my order" partially matches TRACK_ORDER and CANCEL_ORDER with the
	// same 2/3 score: above the confidence bar, inside the gap.
	res, err := env.engine.Classify(ctx, "my order", map[string]any{"page": "orders"})
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueuedForLLM, res.Status)
	require.NotEmpty(t, res.RequestID)

	rec, err := env.status.Get(ctx, res.RequestID)
	require.NoError(t, err)
	assert.Equal(t, model.StateQueued, rec.State)

	d, err := env.queue.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, model.PriorityHigh, d.Msg.Priority)
	assert.Equal(t, "my order", d.Msg.Payload.Query)
	require.NotNil(t, d.Msg.Payload.RuleBasedHint)
	assert.Equal(t, "orders", d.Msg.Payload.ContextSnapshot["page"])
}

func TestEngineUnclearQueuesNormalPriority(t *testing.T) {
	env := newEngineEnv(t)
	ctx := context.Background()

	res, err := env.engine.Classify(ctx, "blargh xyzzy wobble", nil)
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueuedForLLM, res.Status)
	require.NotEmpty(t, res.RequestID)

	d, err := env.queue.Dequeue(ctx)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, model.PriorityNormal, d.Msg.Priority)
}

func TestEngineLLMDisabledServesGenericFallback(t *testing.T) {
	env := newEngineEnv(t)
	require.NoError(t, env.manager.SwitchVariant("no_llm"))

	res, err := env.engine.Classify(context.Background(), "blargh xyzzy wobble", nil)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFallbackGeneric, res.Status)
	assert.Equal(t, model.CodeSearchProduct, res.ActionCode)
	assert.Equal(t, 0.1, res.Confidence)
	assert.True(t, res.RetryRecommended)

	s, err := env.queue.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(0), s.Pending, "nothing may be queued with the llm disabled")
}

func TestEngineVariantSwitchIsImmediate(t *testing.T) {
	env := newEngineEnv(t)
	ctx := context.Background()

	res, err := env.engine.Classify(ctx, "blargh xyzzy wobble", nil)
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueuedForLLM, res.Status)

	require.NoError(t, env.manager.SwitchVariant("no_llm"))
	res, err = env.engine.Classify(ctx, "blargh xyzzy wobble again", nil)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFallbackGeneric, res.Status)

	require.NoError(t, env.manager.SwitchVariant("default"))
	res, err = env.engine.Classify(ctx, "blargh xyzzy wobble thrice", nil)
	require.NoError(t, err)
	assert.Equal(t, model.StatusQueuedForLLM, res.Status)
}

func TestEngineNoQueueFallsBackToLadder(t *testing.T) {
	norm := normalize.New(128)
	e := NewEngine(EngineDeps{
		Keyword:  match.NewKeywordMatcher(testDict(), norm, testLogger()),
		Manager:  testManager(t),
		Fallback: NewFallbackManager(nil, testLogger()),
		Logger:   testLogger(),
	})

	// Keyword signal 2/3: enough for the keyword rung of the ladder.
	res, err := e.Classify(context.Background(), "my order", nil)
	require.NoError(t, err)
	assert.Equal(t, model.StatusFallbackKeyword, res.Status)
	assert.Equal(t, string(model.SourceKeyword), res.FallbackSource)
}

func TestEngineInvalidInput(t *testing.T) {
	env := newEngineEnv(t)
	ctx := context.Background()

	_, err := env.engine.Classify(ctx, "   ", nil)
	require.Error(t, err)
	assert.Equal(t, model.ErrKindInvalidInput, model.KindOf(err))

	_, err = env.engine.Classify(ctx, strings.Repeat("a", 501), nil)
	require.Error(t, err)
	assert.Equal(t, model.ErrKindInvalidInput, model.KindOf(err))

	// Exactly at the limit is fine (it just won't match anything).
	_, err = env.engine.Classify(ctx, strings.Repeat("a", 500), nil)
	require.NoError(t, err)
}

func TestEngineEntitiesOnConfidentResult(t *testing.T) {
	env := newEngineEnv(t)

	// The second segment is an exact keyword hit; entities come from the
	// whole utterance.
	res, err := env.engine.Classify(context.Background(), "red nike shoes please, add to cart", nil)
	require.NoError(t, err)
	assert.Equal(t, model.StatusConfidentKeyword, res.Status)
	require.NotNil(t, res.Entities)
	assert.Equal(t, "Nike", res.Entities.Brand)
	assert.Equal(t, "red", res.Entities.Color)
	assert.Equal(t, "shoes", res.Entities.ProductType)
}
