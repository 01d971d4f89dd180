package embedding

import (
	"context"
	"math"
	"testing"
)

func TestNormalizeUnitLength(t *testing.T) {
	v := Normalize([]float32{3, 4})
	length := math.Sqrt(Dot(v, v))
	if math.Abs(length-1.0) > 1e-6 {
		t.Fatalf("normalized length = %g, want 1.0", length)
	}
}

func TestNormalizeZeroVector(t *testing.T) {
	v := Normalize([]float32{0, 0, 0})
	if !IsZero(v) {
		t.Fatal("zero vector should stay zero")
	}
}

func TestDot(t *testing.T) {
	got := Dot([]float32{1, 2, 3}, []float32{4, 5, 6})
	if got != 32 {
		t.Fatalf("Dot = %g, want 32", got)
	}
}

func TestMean(t *testing.T) {
	m := Mean([][]float32{{1, 2}, {3, 4}})
	if m[0] != 2 || m[1] != 3 {
		t.Fatalf("Mean = %v, want [2 3]", m)
	}
	if Mean(nil) != nil {
		t.Fatal("Mean of no vectors should be nil")
	}
}

func TestNoopProviderReturnsZeroVectors(t *testing.T) {
	p := NewNoopProvider(8)
	if p.Dimensions() != 8 {
		t.Fatalf("Dimensions = %d, want 8", p.Dimensions())
	}

	v, err := p.Embed(context.Background(), "anything")
	if err != nil {
		t.Fatalf("Embed error: %v", err)
	}
	if len(v) != 8 || !IsZero(v) {
		t.Fatalf("expected 8-dim zero vector, got %v", v)
	}

	vecs, err := p.EmbedBatch(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("EmbedBatch error: %v", err)
	}
	if len(vecs) != 2 {
		t.Fatalf("expected 2 vectors, got %d", len(vecs))
	}
}
