package llm

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indpro-interns-oct-25/chatNShop/internal/model"
)

// scriptedClient fails with the scripted errors, then succeeds.
type scriptedClient struct {
	errs  []error
	calls atomic.Int64
}

func (c *scriptedClient) Classify(context.Context, Request) (*Classification, *model.Usage, error) {
	n := int(c.calls.Add(1)) - 1
	if n < len(c.errs) {
		return nil, nil, c.errs[n]
	}
	return &Classification{ActionCode: "ADD_TO_CART", Confidence: 0.9},
		&model.Usage{PromptTokens: 100, CompletionTokens: 20, Cost: 0.0001}, nil
}

type recordedUsage struct {
	mdl   string
	usage model.Usage
}

type fakeRecorder struct {
	records []recordedUsage
}

func (r *fakeRecorder) Record(_ context.Context, mdl string, usage model.Usage) {
	r.records = append(r.records, recordedUsage{mdl: mdl, usage: usage})
}

type fixedGate bool

func (g fixedGate) Allow() bool { return bool(g) }

func fastConfig() ResilientConfig {
	return ResilientConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}
}

func TestResilientRetriesTransientFailures(t *testing.T) {
	inner := &scriptedClient{errs: []error{
		model.Ef(model.ErrKindRateLimit, "429"),
		model.Ef(model.ErrKindServerError, "503"),
	}}
	rec := &fakeRecorder{}
	r := NewResilient(inner, nil, rec, fastConfig(), testLogger())

	verdict, usage, err := r.Classify(context.Background(), Request{Query: "q", Model: "gpt-4o-mini"})
	require.NoError(t, err)
	assert.Equal(t, model.ActionCode("ADD_TO_CART"), verdict.ActionCode)
	assert.Equal(t, int64(3), inner.calls.Load())

	require.NotNil(t, usage)
	require.Len(t, rec.records, 1)
	assert.Equal(t, "gpt-4o-mini", rec.records[0].mdl)
	assert.Equal(t, 100, rec.records[0].usage.PromptTokens)
}

func TestResilientStopsOnNonRetryable(t *testing.T) {
	inner := &scriptedClient{errs: []error{
		model.Ef(model.ErrKindAuthError, "bad key"),
	}}
	r := NewResilient(inner, nil, nil, fastConfig(), testLogger())

	_, _, err := r.Classify(context.Background(), Request{Query: "q", Model: "gpt-4o-mini"})
	require.Error(t, err)
	assert.Equal(t, model.ErrKindAuthError, model.KindOf(err))
	assert.Equal(t, int64(1), inner.calls.Load())
}

func TestResilientExhaustsAttempts(t *testing.T) {
	inner := &scriptedClient{errs: []error{
		model.Ef(model.ErrKindTimeout, "t1"),
		model.Ef(model.ErrKindTimeout, "t2"),
		model.Ef(model.ErrKindTimeout, "t3"),
	}}
	r := NewResilient(inner, nil, nil, fastConfig(), testLogger())

	_, _, err := r.Classify(context.Background(), Request{Query: "q", Model: "gpt-4o-mini"})
	require.Error(t, err)
	assert.Equal(t, model.ErrKindAllRetriesFailed, model.KindOf(err))
	assert.Equal(t, int64(3), inner.calls.Load())
}

func TestResilientGateBlocks(t *testing.T) {
	inner := &scriptedClient{}
	r := NewResilient(inner, fixedGate(false), nil, fastConfig(), testLogger())

	_, _, err := r.Classify(context.Background(), Request{Query: "q", Model: "gpt-4o-mini"})
	require.Error(t, err)
	assert.Equal(t, model.ErrKindRateLimit, model.KindOf(err))
	assert.Equal(t, int64(0), inner.calls.Load(), "gated call must not reach the API")
}

func TestResilientBackoffGrows(t *testing.T) {
	base := 10 * time.Millisecond
	d1 := backoff(base, 1)
	d2 := backoff(base, 2)
	d3 := backoff(base, 3)

	assert.GreaterOrEqual(t, d1, base)
	assert.Less(t, d1, base+base/10+time.Millisecond)
	assert.GreaterOrEqual(t, d2, 2*base)
	assert.GreaterOrEqual(t, d3, 4*base)
}

func TestResilientCancelDuringBackoff(t *testing.T) {
	inner := &scriptedClient{errs: []error{
		model.Ef(model.ErrKindServerError, "503"),
		model.Ef(model.ErrKindServerError, "503"),
	}}
	cfg := ResilientConfig{MaxAttempts: 3, BaseDelay: time.Minute}
	r := NewResilient(inner, nil, nil, cfg, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, _, err := r.Classify(ctx, Request{Query: "q", Model: "gpt-4o-mini"})
	require.Error(t, err)
	assert.Equal(t, model.ErrKindTimeout, model.KindOf(err))
}
