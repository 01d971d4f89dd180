// Package normalize implements the canonicalization pipeline that feeds
// every matcher: lowercasing, symbol expansion, tokenization, and
// segmentation on conjunctions and sentence punctuation.
package normalize

import (
	"strings"

	"github.com/indpro-interns-oct-25/chatNShop/internal/lru"
)

// Result is the output of normalization for one input string.
type Result struct {
	Normalized string
	Tokens     []string
	Segments   []string
}

// contractions is applied before apostrophes are stripped so "don't"
// becomes "do not" rather than "dont".
var contractions = map[string]string{
	"don't":     "do not",
	"doesn't":   "does not",
	"didn't":    "did not",
	"can't":     "cannot",
	"won't":     "will not",
	"wouldn't":  "would not",
	"shouldn't": "should not",
	"couldn't":  "could not",
	"isn't":     "is not",
	"aren't":    "are not",
	"wasn't":    "was not",
	"haven't":   "have not",
	"hasn't":    "has not",
	"i'm":       "i am",
	"i've":      "i have",
	"i'll":      "i will",
	"i'd":       "i would",
	"you're":    "you are",
	"it's":      "it is",
	"that's":    "that is",
	"what's":    "what is",
	"where's":   "where is",
	"there's":   "there is",
	"let's":     "let us",
}

// ukToUS folds common British spellings onto the American forms used in
// the keyword dictionaries. Applied token-wise after symbol expansion.
var ukToUS = map[string]string{
	"colour":     "color",
	"colours":    "colors",
	"favourite":  "favorite",
	"favourites": "favorites",
	"catalogue":  "catalog",
	"cheque":     "check",
	"organise":   "organize",
	"jewellery":  "jewelry",
	"tyre":       "tire",
	"tyres":      "tires",
}

// symbolExpansions replace standalone symbols with word equivalents.
var symbolExpansions = map[rune]string{
	'&': " and ",
	'+': " plus ",
	'@': " at ",
	'#': " hash ",
	'$': " dollar ",
	'%': " percent ",
}

// segmentMarker is an internal sentinel for segment boundaries; it never
// survives into normalized output.
const segmentMarker = '\x1f'

// Normalizer canonicalizes text. It is pure: identical inputs always
// produce identical results. A bounded LRU amortizes repeated inputs on
// the hot path.
type Normalizer struct {
	cache *lru.Cache[string, Result]
}

// New creates a Normalizer with the given cache capacity (minimum 128).
func New(cacheSize int) *Normalizer {
	if cacheSize < 128 {
		cacheSize = 128
	}
	return &Normalizer{cache: lru.New[string, Result](cacheSize)}
}

// Normalize lowercases, expands contractions and symbols, strips
// punctuation, collapses whitespace, and derives tokens and segments.
func (n *Normalizer) Normalize(text string) Result {
	if cached, ok := n.cache.Get(text); ok {
		return cached
	}

	res := normalize(text)
	n.cache.Put(text, res)
	return res
}

func normalize(text string) Result {
	s := strings.ToLower(text)
	s = expandContractions(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '!' || r == '?' || r == '.' || r == ',' || r == ';' || r == ':':
			// Sentence punctuation marks a segment boundary before it is stripped.
			b.WriteRune(segmentMarker)
		case r == '\'' || r == '"':
			// Stripped outright.
		case r == '-' || r == '_':
			b.WriteRune(' ')
		default:
			if exp, ok := symbolExpansions[r]; ok {
				b.WriteString(exp)
			} else {
				b.WriteRune(r)
			}
		}
	}

	// Collapse whitespace around markers, then split into segments on the
	// marker and on the standalone conjunction "and".
	var segments []string
	var allTokens []string
	var normalizedParts []string

	for _, raw := range strings.FieldsFunc(b.String(), func(r rune) bool { return r == segmentMarker }) {
		tokens := tokenize(raw)
		if len(tokens) == 0 {
			continue
		}
		normalizedParts = append(normalizedParts, strings.Join(tokens, " "))

		segStart := 0
		for i, tok := range tokens {
			allTokens = append(allTokens, tok)
			if tok == "and" {
				if i > segStart {
					segments = append(segments, strings.Join(tokens[segStart:i], " "))
				}
				segStart = i + 1
			}
		}
		if segStart < len(tokens) {
			segments = append(segments, strings.Join(tokens[segStart:], " "))
		}
	}

	return Result{
		Normalized: strings.Join(normalizedParts, " "),
		Tokens:     allTokens,
		Segments:   segments,
	}
}

// expandContractions replaces known contracted forms word-by-word.
func expandContractions(s string) string {
	if !strings.ContainsRune(s, '\'') {
		return s
	}
	fields := strings.Fields(s)
	for i, f := range fields {
		if exp, ok := contractions[f]; ok {
			fields[i] = exp
		}
	}
	return strings.Join(fields, " ")
}

// tokenize splits on non-word runes and folds UK spellings.
func tokenize(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !isWordRune(r)
	})
	for i, f := range fields {
		if us, ok := ukToUS[f]; ok {
			fields[i] = us
		}
	}
	return fields
}

func isWordRune(r rune) bool {
	return r == '_' ||
		(r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9') ||
		r > 127 // non-ASCII letters pass through as word characters
}

// Tokens returns the token list for text without building segments;
// convenience for callers that only need tokens.
func (n *Normalizer) Tokens(text string) []string {
	return n.Normalize(text).Tokens
}
