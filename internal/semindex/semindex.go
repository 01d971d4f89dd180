// Package semindex stores cached classification results in a vector
// index so near-duplicate queries can be served without an LLM call.
package semindex

import (
	"context"
	"time"
)

// Hit is one semantic match from the index.
type Hit struct {
	ID         string
	Score      float32 // cosine similarity in [-1, 1]
	Query      string  // normalized query the entry was stored under
	ResultJSON string  // serialized ClassificationResult
	StoredAt   time.Time
}

// Point is one entry to upsert.
type Point struct {
	ID         string
	Vector     []float32
	Query      string
	ResultJSON string
	StoredAt   time.Time
}

// Searcher is the semantic tier's contract. The response cache treats a
// nil Searcher as "semantic tier disabled".
type Searcher interface {
	// Upsert inserts or replaces one point.
	Upsert(ctx context.Context, p Point) error

	// Query returns the closest points to the vector, best first.
	Query(ctx context.Context, vector []float32, limit int) ([]Hit, error)

	// Delete removes points by ID.
	Delete(ctx context.Context, ids ...string) error

	// Clear removes every point.
	Clear(ctx context.Context) error

	// Healthy returns nil when the index is reachable.
	Healthy(ctx context.Context) error
}
