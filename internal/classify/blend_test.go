package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/indpro-interns-oct-25/chatNShop/internal/config"
	"github.com/indpro-interns-oct-25/chatNShop/internal/model"
)

func variant() config.Variant {
	return config.Variant{
		Name:                "test",
		KwWeight:            0.6,
		EmbWeight:           0.4,
		PriorityThreshold:   0.85,
		ConfidenceThreshold: 0.6,
		GapThreshold:        0.15,
		UseEmbedding:        true,
		UseLLM:              true,
	}
}

func kwCand(code model.ActionCode, score float64) model.Candidate {
	return model.Candidate{ActionCode: code, Score: score, Source: model.SourceKeyword, MatchType: model.MatchPartial}
}

func embCand(code model.ActionCode, score float64) model.Candidate {
	return model.Candidate{ActionCode: code, Score: score, Source: model.SourceEmbedding}
}

func TestBlendWeightedSumWithConsensus(t *testing.T) {
	got := Blend(
		[]model.Candidate{kwCand("ADD_TO_CART", 0.7)},
		[]model.Candidate{embCand("ADD_TO_CART", 0.6)},
		variant(),
	)
	require.Len(t, got, 1)
	// 0.6*0.7 + 0.4*0.6 + 0.05 consensus = 0.71
	assert.InDelta(t, 0.71, got[0].Score, 1e-9)
	assert.Equal(t, model.SourceBlended, got[0].Source)
	require.NotNil(t, got[0].Components)
	assert.Equal(t, 0.7, got[0].Components.Keyword)
	assert.Equal(t, 0.6, got[0].Components.Embedding)
}

func TestBlendNoConsensusWithOneSide(t *testing.T) {
	got := Blend(
		[]model.Candidate{kwCand("ADD_TO_CART", 0.7)},
		[]model.Candidate{embCand("VIEW_CART", 0.6)},
		variant(),
	)
	require.Len(t, got, 2)
	for _, c := range got {
		switch c.ActionCode {
		case "ADD_TO_CART":
			assert.InDelta(t, 0.42, c.Score, 1e-9) // 0.6*0.7, no bonus
		case "VIEW_CART":
			assert.InDelta(t, 0.24, c.Score, 1e-9) // 0.4*0.6, no bonus
		}
	}
}

func TestBlendStrongSignalBonus(t *testing.T) {
	got := Blend(
		[]model.Candidate{kwCand("ADD_TO_CART", 0.95)},
		[]model.Candidate{embCand("ADD_TO_CART", 0.5)},
		variant(),
	)
	require.Len(t, got, 1)
	// 0.6*0.95 + 0.4*0.5 + 0.05 + 0.03 = 0.85
	assert.InDelta(t, 0.85, got[0].Score, 1e-9)
}

func TestBlendClampsAtOne(t *testing.T) {
	got := Blend(
		[]model.Candidate{kwCand("ADD_TO_CART", 1.0)},
		[]model.Candidate{embCand("ADD_TO_CART", 1.0)},
		variant(),
	)
	require.Len(t, got, 1)
	assert.Equal(t, 1.0, got[0].Score)
}

func TestBlendKeywordOnlyRunsAtFullWeight(t *testing.T) {
	got := Blend([]model.Candidate{kwCand("ADD_TO_CART", 0.8)}, nil, variant())
	require.Len(t, got, 1)
	assert.InDelta(t, 0.8, got[0].Score, 1e-9,
		"missing embedding stage must not halve the keyword score")
}

func TestBlendSortsAndTieBreaksByCode(t *testing.T) {
	got := Blend(
		[]model.Candidate{kwCand("B_CODE", 0.5), kwCand("A_CODE", 0.5), kwCand("C_CODE", 0.9)},
		nil,
		variant(),
	)
	require.Len(t, got, 3)
	assert.Equal(t, model.ActionCode("C_CODE"), got[0].ActionCode)
	assert.Equal(t, model.ActionCode("A_CODE"), got[1].ActionCode)
	assert.Equal(t, model.ActionCode("B_CODE"), got[2].ActionCode)
}

func TestBlendTieBreaksByStrongerComponent(t *testing.T) {
	v := variant()
	v.KwWeight, v.EmbWeight = 0.5, 0.5

	// Both blend to 0.5*0.6+0.5*0.4+0.05 = 0.55 and 0.5*0.2+0.5*0.8+0.05
	// = 0.55, but Z_HIGH_EMB carries the stronger individual signal and
	// must win despite sorting after A_BALANCED alphabetically.
	got := Blend(
		[]model.Candidate{kwCand("A_BALANCED", 0.6), kwCand("Z_HIGH_EMB", 0.2)},
		[]model.Candidate{embCand("A_BALANCED", 0.4), embCand("Z_HIGH_EMB", 0.8)},
		v,
	)
	require.Len(t, got, 2)
	assert.InDelta(t, got[0].Score, got[1].Score, 1e-12, "tie is the premise of this test")
	assert.Equal(t, model.ActionCode("Z_HIGH_EMB"), got[0].ActionCode)
	assert.Equal(t, model.ActionCode("A_BALANCED"), got[1].ActionCode)
}

func TestBlendKeepsMatchMetadata(t *testing.T) {
	kw := kwCand("ADD_TO_CART", 0.7)
	kw.MatchType = model.MatchExact
	kw.MatchedText = "add to cart"

	got := Blend([]model.Candidate{kw}, nil, variant())
	require.Len(t, got, 1)
	assert.Equal(t, model.MatchExact, got[0].MatchType)
	assert.Equal(t, "add to cart", got[0].MatchedText)
}

func TestDecide(t *testing.T) {
	v := variant()

	assert.Equal(t, VerdictUnclear, Decide(nil, v))
	assert.Equal(t, VerdictUnclear, Decide([]model.Candidate{kwCand("A", 0.5)}, v))
	assert.Equal(t, VerdictConfident, Decide([]model.Candidate{kwCand("A", 0.7)}, v))
	assert.Equal(t, VerdictConfident, Decide([]model.Candidate{
		kwCand("A", 0.9), kwCand("B", 0.5),
	}, v))
	assert.Equal(t, VerdictAmbiguous, Decide([]model.Candidate{
		kwCand("A", 0.7), kwCand("B", 0.65),
	}, v))
}
