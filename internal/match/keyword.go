// Package match implements the keyword and embedding matchers that feed
// the hybrid blender.
package match

import (
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/indpro-interns-oct-25/chatNShop/internal/model"
	"github.com/indpro-interns-oct-25/chatNShop/internal/normalize"
	"github.com/indpro-interns-oct-25/chatNShop/internal/taxonomy"
)

// pattern is one compiled keyword pattern. Literal patterns carry their
// pre-normalized form and token set; regex patterns carry the compiled
// expression.
type pattern struct {
	raw        string
	isRegex    bool
	re         *regexp.Regexp
	normalized string
	tokens     []string
	tokenSet   map[string]struct{}
}

type keywordIndexEntry struct {
	code     model.ActionCode
	priority int
	patterns []pattern
}

// KeywordMatcher matches normalized query segments against the loaded
// keyword dictionaries. The index is built once at construction and
// read without locking.
type KeywordMatcher struct {
	entries []keywordIndexEntry
	norm    *normalize.Normalizer
	logger  *slog.Logger
}

// regexMeta detects patterns intended as regular expressions.
var regexMeta = regexp.MustCompile(`\\b|\.\*|[\[\](){}|^$+?\\]`)

// NewKeywordMatcher classifies and compiles every dictionary pattern.
// Literal patterns are pre-normalized and pre-tokenized; regex patterns
// are compiled case-insensitively once. Patterns that fail to compile
// are dropped with a warning.
func NewKeywordMatcher(dict map[model.ActionCode]taxonomy.KeywordEntry, norm *normalize.Normalizer, logger *slog.Logger) *KeywordMatcher {
	entries := make([]keywordIndexEntry, 0, len(dict))
	for code, ke := range dict {
		entry := keywordIndexEntry{code: code, priority: ke.Priority}
		for _, raw := range ke.Patterns {
			if regexMeta.MatchString(raw) {
				re, err := regexp.Compile("(?i)" + raw)
				if err != nil {
					logger.Warn("match: regex pattern dropped",
						"action_code", code, "pattern", raw, "error", err)
					continue
				}
				entry.patterns = append(entry.patterns, pattern{raw: raw, isRegex: true, re: re})
				continue
			}

			nr := norm.Normalize(raw)
			if nr.Normalized == "" {
				continue
			}
			set := make(map[string]struct{}, len(nr.Tokens))
			for _, tok := range nr.Tokens {
				set[tok] = struct{}{}
			}
			entry.patterns = append(entry.patterns, pattern{
				raw:        raw,
				normalized: nr.Normalized,
				tokens:     nr.Tokens,
				tokenSet:   set,
			})
		}
		if len(entry.patterns) > 0 {
			entries = append(entries, entry)
		}
	}

	// Deterministic iteration order regardless of the source map.
	sort.Slice(entries, func(i, j int) bool { return entries[i].code < entries[j].code })

	return &KeywordMatcher{entries: entries, norm: norm, logger: logger}
}

// Search scores the query against every pattern and returns the top-N
// candidates, one per action code, sorted by score descending. Ties
// break by match type rank (exact > regex > partial) then action code.
func (m *KeywordMatcher) Search(query string, topN int) []model.Candidate {
	nr := m.norm.Normalize(query)
	if len(nr.Segments) == 0 {
		return nil
	}

	segments := make([]segInfo, len(nr.Segments))
	for i, seg := range nr.Segments {
		toks := strings.Fields(seg)
		set := make(map[string]struct{}, len(toks))
		for _, t := range toks {
			set[t] = struct{}{}
		}
		segments[i] = segInfo{text: seg, tokenSet: set}
	}

	var candidates []model.Candidate
	for _, entry := range m.entries {
		best, ok := m.scoreEntry(entry, segments)
		if ok {
			candidates = append(candidates, best)
		}
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		ri, rj := candidates[i].MatchType.Rank(), candidates[j].MatchType.Rank()
		if ri != rj {
			return ri > rj
		}
		return candidates[i].ActionCode < candidates[j].ActionCode
	})

	if topN > 0 && len(candidates) > topN {
		candidates = candidates[:topN]
	}
	return candidates
}

// segInfo is one pre-tokenized query segment.
type segInfo struct {
	text     string
	tokenSet map[string]struct{}
}

// scoreEntry aggregates per-(segment, pattern) scores for one action
// code, keeping the maximum.
func (m *KeywordMatcher) scoreEntry(entry keywordIndexEntry, segments []segInfo) (model.Candidate, bool) {
	priority := float64(entry.priority)
	var best model.Candidate
	found := false

	consider := func(score float64, mt model.MatchType, matched string) {
		if score <= 0 {
			return
		}
		if score > 1 {
			score = 1
		}
		if !found || score > best.Score ||
			(score == best.Score && mt.Rank() > best.MatchType.Rank()) {
			best = model.Candidate{
				ActionCode:  entry.code,
				Score:       score,
				Source:      model.SourceKeyword,
				MatchType:   mt,
				MatchedText: matched,
			}
			found = true
		}
	}

	for _, seg := range segments {
		for _, p := range entry.patterns {
			if p.isRegex {
				if loc := p.re.FindStringIndex(seg.text); loc != nil {
					matchLen := loc[1] - loc[0]
					score := (float64(matchLen) / float64(len(p.raw))) / priority
					consider(score, model.MatchRegex, seg.text[loc[0]:loc[1]])
				}
				continue
			}

			if seg.text == p.normalized {
				consider(1.0/priority, model.MatchExact, p.normalized)
				continue
			}

			// Partial: token overlap between pattern and segment.
			overlap := 0
			for tok := range p.tokenSet {
				if _, ok := seg.tokenSet[tok]; ok {
					overlap++
				}
			}
			if overlap > 0 {
				score := (float64(overlap) / float64(len(p.tokens))) / priority
				consider(score, model.MatchPartial, p.normalized)
			}
		}
	}

	return best, found
}
