// Package classify implements the hybrid classification pipeline:
// keyword and embedding scores are blended under the active rule
// variant, gated on confidence, and escalated to the LLM queue when the
// fast path cannot decide.
package classify

import (
	"sort"

	"github.com/indpro-interns-oct-25/chatNShop/internal/config"
	"github.com/indpro-interns-oct-25/chatNShop/internal/model"
)

const (
	// consensusBonus rewards codes both matchers agree on.
	consensusBonus = 0.05
	// strongSignalBonus rewards codes where either matcher is nearly sure.
	strongSignalBonus   = 0.03
	strongSignalTrigger = 0.90
)

// Blend combines keyword and embedding candidates into weighted hybrid
// scores. When the embedding side is empty the keyword score passes
// through at full weight so an encoder outage degrades to keyword-only
// classification instead of halving every score.
func Blend(kw, emb []model.Candidate, v config.Variant) []model.Candidate {
	type pair struct {
		keyword   model.Candidate
		embedding model.Candidate
		hasKw     bool
		hasEmb    bool
	}
	byCode := make(map[model.ActionCode]*pair)
	for _, c := range kw {
		byCode[c.ActionCode] = &pair{keyword: c, hasKw: true}
	}
	for _, c := range emb {
		if p, ok := byCode[c.ActionCode]; ok {
			p.embedding = c
			p.hasEmb = true
		} else {
			byCode[c.ActionCode] = &pair{embedding: c, hasEmb: true}
		}
	}

	kwWeight, embWeight := v.KwWeight, v.EmbWeight
	if len(emb) == 0 {
		kwWeight, embWeight = 1.0, 0.0
	}

	out := make([]model.Candidate, 0, len(byCode))
	for code, p := range byCode {
		k, e := 0.0, 0.0
		if p.hasKw {
			k = p.keyword.Score
		}
		if p.hasEmb {
			e = p.embedding.Score
		}

		score := kwWeight*k + embWeight*e
		if k > 0 && e > 0 {
			score += consensusBonus
		}
		if k >= strongSignalTrigger || e >= strongSignalTrigger {
			score += strongSignalBonus
		}
		if score > 1 {
			score = 1
		}
		if score < 0 {
			score = 0
		}

		c := model.Candidate{
			ActionCode: code,
			Score:      score,
			Source:     model.SourceBlended,
			Components: &model.ComponentScores{Keyword: k, Embedding: e},
		}
		if p.hasKw {
			c.MatchType = p.keyword.MatchType
			c.MatchedText = p.keyword.MatchedText
		}
		out = append(out, c)
	}

	// Ties resolve by the stronger individual signal before falling
	// back to the code, so ordering never depends on map iteration.
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		mi, mj := maxComponent(out[i]), maxComponent(out[j])
		if mi != mj {
			return mi > mj
		}
		return out[i].ActionCode < out[j].ActionCode
	})
	return out
}

// maxComponent is the stronger of a candidate's per-matcher scores.
func maxComponent(c model.Candidate) float64 {
	if c.Components == nil {
		return c.Score
	}
	if c.Components.Keyword > c.Components.Embedding {
		return c.Components.Keyword
	}
	return c.Components.Embedding
}
