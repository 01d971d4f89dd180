package normalize

import (
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeLowercasesAndStripsPunctuation(t *testing.T) {
	n := New(128)
	res := n.Normalize("Add To Cart!")
	assert.Equal(t, "add to cart", res.Normalized)
	assert.Equal(t, []string{"add", "to", "cart"}, res.Tokens)
	assert.Equal(t, []string{"add to cart"}, res.Segments)
}

func TestNormalizeSymbolExpansion(t *testing.T) {
	n := New(128)
	tests := []struct {
		in   string
		want string
	}{
		{"shoes & socks", "shoes and socks"},
		{"size 10 + insoles", "size 10 plus insoles"},
		{"pickup @ store", "pickup at store"},
		{"#trending", "hash trending"},
		{"under $50", "under dollar 50"},
		{"20% off", "20 percent off"},
		{"t-shirt", "t shirt"},
	}
	for _, tt := range tests {
		res := n.Normalize(tt.in)
		assert.Equal(t, tt.want, res.Normalized, "input %q", tt.in)
	}
}

func TestNormalizeContractions(t *testing.T) {
	n := New(128)
	res := n.Normalize("I don't want this, can't return it?")
	assert.Equal(t, "i do not want this cannot return it", res.Normalized)
}

func TestNormalizeUKSpelling(t *testing.T) {
	n := New(128)
	res := n.Normalize("what colour is my favourite jumper")
	assert.Contains(t, res.Tokens, "color")
	assert.Contains(t, res.Tokens, "favorite")
}

func TestNormalizeSegmentsOnConjunctionAndPunctuation(t *testing.T) {
	n := New(128)
	res := n.Normalize("add shoes and track my order")
	assert.Equal(t, []string{"add shoes", "track my order"}, res.Segments)

	res = n.Normalize("add shoes. track my order")
	assert.Equal(t, []string{"add shoes", "track my order"}, res.Segments)

	// Empty segments are discarded.
	res = n.Normalize("and... and")
	assert.Empty(t, res.Segments)
}

func TestNormalizeCollapsesWhitespace(t *testing.T) {
	n := New(128)
	res := n.Normalize("  add   to \t cart  ")
	assert.Equal(t, "add to cart", res.Normalized)
}

func TestNormalizeIdempotent(t *testing.T) {
	n := New(128)
	inputs := []string{
		"Add To Cart!",
		"I don't want shoes & socks, under $50?",
		"what colour is this",
		"",
		"   ",
	}
	for _, in := range inputs {
		first := n.Normalize(in)
		second := n.Normalize(first.Normalized)
		assert.Equal(t, first.Normalized, second.Normalized, "input %q", in)
		assert.Equal(t, first.Tokens, second.Tokens, "input %q", in)
	}
}

func TestNormalizeEmptyInput(t *testing.T) {
	n := New(128)
	res := n.Normalize("")
	assert.Empty(t, res.Normalized)
	assert.Empty(t, res.Tokens)
	assert.Empty(t, res.Segments)
}

func TestNormalizeCacheReturnsIdenticalResults(t *testing.T) {
	n := New(128)
	a := n.Normalize("Add to cart")
	b := n.Normalize("Add to cart")
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("cached result differs: %+v vs %+v", a, b)
	}
}
