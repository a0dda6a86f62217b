package index

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"crimelens/internal/providers"
)

// Memory is an in-process index used by tests and the mock stack. Searches
// are exact cosine similarity over stored vectors and fully deterministic.
type Memory struct {
	mu       sync.RWMutex
	entries  map[string][]Candidate
	embedder providers.EmbeddingProvider
	dim      int
}

func NewMemory(dim int) *Memory {
	if dim <= 0 {
		dim = 64
	}
	return &Memory{
		entries:  make(map[string][]Candidate),
		embedder: providers.NewMockProvider(""),
		dim:      dim,
	}
}

// Add stores candidates in a collection. Entries without a vector are
// embedded with the deterministic mock embedder.
func (m *Memory) Add(ctx context.Context, collection string, cands ...Candidate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range cands {
		if len(c.Embedding) == 0 {
			vec, err := m.embed(ctx, c.Text)
			if err != nil {
				return err
			}
			c.Embedding = vec
		}
		c.Collection = collection
		m.entries[collection] = append(m.entries[collection], c)
	}
	return nil
}

func (m *Memory) Embed(ctx context.Context, text string) ([]float32, error) {
	return m.embed(ctx, text)
}

func (m *Memory) embed(ctx context.Context, text string) ([]float32, error) {
	vecs, _, err := m.embedder.Embed(ctx, providers.EmbedRequest{Operation: "query", Inputs: []string{text}, Dimension: m.dim})
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	return vecs[0], nil
}

func (m *Memory) SimilaritySearch(_ context.Context, collection string, embedding []float32, k int, filters map[string]any) ([]Candidate, error) {
	if k <= 0 {
		k = 8
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []Candidate
	for _, c := range m.entries[collection] {
		if !matchesFilters(c.Metadata, filters) {
			continue
		}
		c.Score = Cosine(embedding, c.Embedding)
		results = append(results, c)
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func matchesFilters(meta map[string]any, filters map[string]any) bool {
	for key, want := range filters {
		got, ok := meta[key]
		if !ok {
			return false
		}
		switch w := want.(type) {
		case []string:
			if !containsValue(w, got) {
				return false
			}
		case []any:
			vals := make([]string, 0, len(w))
			for _, x := range w {
				vals = append(vals, fmt.Sprint(x))
			}
			if !containsValue(vals, got) {
				return false
			}
		default:
			if fmt.Sprint(got) != fmt.Sprint(want) {
				return false
			}
		}
	}
	return true
}

func containsValue(vals []string, got any) bool {
	g := fmt.Sprint(got)
	for _, v := range vals {
		if v == g {
			return true
		}
	}
	return false
}

// Cosine returns the cosine similarity of two vectors, 0 when either is
// empty or zero-length.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
