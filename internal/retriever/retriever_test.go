package retriever

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"crimelens/internal/index"
	"crimelens/internal/models"
)

type fakeIndex struct {
	candidates map[string][]index.Candidate
	err        error
}

func (f *fakeIndex) Embed(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (f *fakeIndex) SimilaritySearch(_ context.Context, collection string, _ []float32, k int, filters map[string]any) ([]index.Candidate, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []index.Candidate
	for _, c := range f.candidates[collection] {
		match := true
		for key, want := range filters {
			if fmt.Sprint(c.Metadata[key]) != fmt.Sprint(want) {
				match = false
				break
			}
		}
		if match {
			out = append(out, c)
		}
	}
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func cand(id string, score float64, emb []float32, meta map[string]any) index.Candidate {
	return index.Candidate{ID: id, Text: "text " + id, Score: score, Embedding: emb, Metadata: meta}
}

func TestRetrievePureRelevanceSelectsTopK(t *testing.T) {
	idx := &fakeIndex{candidates: map[string][]index.Candidate{
		"forensic_cases": {
			cand("a", 0.95, nil, nil),
			cand("b", 0.90, nil, nil),
			cand("c", 0.85, nil, nil),
			cand("d", 0.40, nil, nil),
		},
	}}
	r := New(idx, Config{})

	docs, err := r.Retrieve(context.Background(), "blunt force trauma cases", Options{
		K: 3, Collections: []string{"forensic_cases"}, DiversityLambda: 1.0,
	})
	require.NoError(t, err)
	require.Len(t, docs, 3)
	require.Equal(t, []string{"a", "b", "c"}, chunkIDs(docs))
	for i, d := range docs {
		require.Equal(t, i+1, d.Rank)
	}
}

func TestRetrieveIsDeterministic(t *testing.T) {
	idx := &fakeIndex{candidates: map[string][]index.Candidate{
		"forensic_cases": {
			cand("a", 0.9, nil, nil),
			cand("b", 0.9, nil, nil),
			cand("c", 0.9, nil, nil),
			cand("d", 0.9, nil, nil),
		},
	}}
	r := New(idx, Config{})
	opts := Options{K: 3, Collections: []string{"forensic_cases"}, DiversityLambda: 0.7}

	first, err := r.Retrieve(context.Background(), "identical scores", opts)
	require.NoError(t, err)
	second, err := r.Retrieve(context.Background(), "identical scores", opts)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestRetrieveDiversityPenalizesNearDuplicates(t *testing.T) {
	e1 := []float32{1, 0, 0}
	e2 := []float32{0, 1, 0}
	idx := &fakeIndex{candidates: map[string][]index.Candidate{
		"forensic_cases": {
			cand("a", 0.95, e1, nil),
			cand("a-dup", 0.94, e1, nil),
			cand("c", 0.80, e2, nil),
		},
	}}
	r := New(idx, Config{})

	docs, err := r.Retrieve(context.Background(), "strangulation evidence", Options{
		K: 3, Collections: []string{"forensic_cases"}, DiversityLambda: 0.5,
	})
	require.NoError(t, err)
	require.Len(t, docs, 3)
	// The near-duplicate is deferred behind the orthogonal candidate.
	require.Equal(t, []string{"a", "c", "a-dup"}, chunkIDs(docs))
}

func TestRetrieveClampsK(t *testing.T) {
	var many []index.Candidate
	for i := 0; i < 40; i++ {
		many = append(many, cand(fmt.Sprintf("c%02d", i), 1.0-float64(i)/100, nil, nil))
	}
	idx := &fakeIndex{candidates: map[string][]index.Candidate{"forensic_cases": many}}
	r := New(idx, Config{MinK: 3, MaxK: 10})

	docs, err := r.Retrieve(context.Background(), "q", Options{K: 50, Collections: []string{"forensic_cases"}, DiversityLambda: 1.0})
	require.NoError(t, err)
	require.Len(t, docs, 10)

	docs, err = r.Retrieve(context.Background(), "q", Options{K: 1, Collections: []string{"forensic_cases"}, DiversityLambda: 1.0})
	require.NoError(t, err)
	require.Len(t, docs, 3)
}

func TestRetrieveDeduplicatesAcrossCollections(t *testing.T) {
	shared := cand("shared", 0.9, nil, nil)
	idx := &fakeIndex{candidates: map[string][]index.Candidate{
		"forensic_cases":     {shared, cand("f1", 0.8, nil, nil), cand("f2", 0.7, nil, nil)},
		"criminology_theory": {shared, cand("t1", 0.6, nil, nil)},
	}}
	r := New(idx, Config{})

	docs, err := r.Retrieve(context.Background(), "q", Options{
		K: 5, Collections: []string{"forensic_cases", "criminology_theory"}, DiversityLambda: 1.0,
	})
	require.NoError(t, err)
	require.Equal(t, []string{"shared", "f1", "f2", "t1"}, chunkIDs(docs))
}

func TestRetrieveAppliesFilters(t *testing.T) {
	idx := &fakeIndex{candidates: map[string][]index.Candidate{
		"forensic_cases": {
			cand("fbi", 0.9, nil, map[string]any{"document_authority": "FBI"}),
			cand("doj", 0.8, nil, map[string]any{"document_authority": "DOJ"}),
		},
	}}
	r := New(idx, Config{})

	docs, err := r.Retrieve(context.Background(), "q", Options{
		K: 3, Collections: []string{"forensic_cases"}, DiversityLambda: 1.0,
		Filters: map[string]any{"document_authority": "FBI"},
	})
	require.NoError(t, err)
	require.Equal(t, []string{"fbi"}, chunkIDs(docs))
}

func TestRetrieveEmptyPoolReturnsNoErrorNoDocs(t *testing.T) {
	r := New(&fakeIndex{candidates: map[string][]index.Candidate{}}, Config{})
	docs, err := r.Retrieve(context.Background(), "no matches", Options{K: 5, Collections: []string{"forensic_cases"}, DiversityLambda: 1.0})
	require.NoError(t, err)
	require.Empty(t, docs)
}

func TestRetrieveSurfacesBackendUnavailable(t *testing.T) {
	r := New(&fakeIndex{err: fmt.Errorf("%w: connection refused", index.ErrUnavailable)}, Config{})
	_, err := r.Retrieve(context.Background(), "q", Options{K: 3, Collections: []string{"forensic_cases"}, DiversityLambda: 1.0})
	require.ErrorIs(t, err, index.ErrUnavailable)
}

func TestRetrieveReliabilityRegrouping(t *testing.T) {
	idx := &fakeIndex{candidates: map[string][]index.Candidate{
		"forensic_cases": {
			cand("low", 0.95, nil, map[string]any{"source_reliability": "low"}),
			cand("high", 0.90, nil, map[string]any{"source_reliability": "high"}),
			cand("med", 0.85, nil, map[string]any{"source_reliability": "medium"}),
		},
	}}
	r := New(idx, Config{})
	opts := Options{K: 3, Collections: []string{"forensic_cases"}, DiversityLambda: 1.0}

	docs, err := r.Retrieve(context.Background(), "q", opts)
	require.NoError(t, err)
	require.Equal(t, []string{"low", "high", "med"}, chunkIDs(docs))

	opts.PrioritizeReliability = true
	docs, err = r.Retrieve(context.Background(), "q", opts)
	require.NoError(t, err)
	require.Equal(t, []string{"high", "med", "low"}, chunkIDs(docs))
	for i, d := range docs {
		require.Equal(t, i+1, d.Rank)
	}
}

func chunkIDs(docs []models.RetrievedDocument) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.Chunk.ChunkID)
	}
	return out
}
