// Package index adapts the vector store backends (pgvector, Chroma, or an
// in-process store) behind one retrieval interface.
package index

import (
	"context"
	"errors"
)

// ErrUnavailable marks a backend that cannot be reached or queried. Errors
// returned by any Index implementation wrap it when the store itself is down,
// as opposed to a bad request.
var ErrUnavailable = errors.New("index backend unavailable")

// Candidate is one similarity-search hit, ordered by decreasing Score.
// Embedding is populated when the backend stores vectors inline; retrieval
// falls back to a score-based similarity proxy when it is nil.
type Candidate struct {
	ID         string
	Text       string
	Metadata   map[string]any
	Score      float64
	Embedding  []float32
	Collection string
}

// Index is the retrieval-side view of a vector store. Results are
// deterministic for a fixed index snapshot.
type Index interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	SimilaritySearch(ctx context.Context, collection string, embedding []float32, k int, filters map[string]any) ([]Candidate, error)
}
