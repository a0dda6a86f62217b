package rerank

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"crimelens/internal/models"
)

type mapScorer struct {
	scores map[string]float64
	err    error
}

func (m *mapScorer) Score(_ context.Context, _, passage string) (float64, error) {
	if m.err != nil {
		return 0, m.err
	}
	return m.scores[passage], nil
}

func doc(id, text string, rank int) models.RetrievedDocument {
	return models.RetrievedDocument{
		Chunk: models.Chunk{ChunkID: id, Text: text},
		Rank:  rank,
	}
}

func TestCrossEncoderOrdersByDescendingScore(t *testing.T) {
	docs := []models.RetrievedDocument{doc("a", "pa", 1), doc("b", "pb", 2), doc("c", "pc", 3)}
	ce := &CrossEncoder{Scorer: &mapScorer{scores: map[string]float64{"pa": 0.1, "pb": 0.9, "pc": 0.5}}}

	res := ce.Rerank(context.Background(), "q", docs)
	require.Empty(t, res.FailureNote)
	require.Equal(t, "b", res.Documents[0].Chunk.ChunkID)
	require.Equal(t, "c", res.Documents[1].Chunk.ChunkID)
	require.Equal(t, "a", res.Documents[2].Chunk.ChunkID)
	for i, d := range res.Documents {
		require.Equal(t, i+1, d.Rank)
		require.NotNil(t, d.RerankScore)
	}
}

func TestCrossEncoderTiesKeepInputOrder(t *testing.T) {
	docs := []models.RetrievedDocument{doc("a", "pa", 1), doc("b", "pb", 2), doc("c", "pc", 3)}
	ce := &CrossEncoder{Scorer: &mapScorer{scores: map[string]float64{"pa": 0.5, "pb": 0.5, "pc": 0.5}}}

	res := ce.Rerank(context.Background(), "q", docs)
	require.Equal(t, []string{"a", "b", "c"}, ids(res.Documents))
}

func TestCrossEncoderTopKNeverGrows(t *testing.T) {
	docs := []models.RetrievedDocument{doc("a", "pa", 1), doc("b", "pb", 2), doc("c", "pc", 3)}
	ce := &CrossEncoder{Scorer: &mapScorer{scores: map[string]float64{"pa": 0.9, "pb": 0.8, "pc": 0.7}}, TopK: 2}

	res := ce.Rerank(context.Background(), "q", docs)
	require.Len(t, res.Documents, 2)

	ce.TopK = 10
	res = ce.Rerank(context.Background(), "q", docs)
	require.Len(t, res.Documents, 3)
}

func TestCrossEncoderFailureReturnsInputUnchanged(t *testing.T) {
	docs := []models.RetrievedDocument{doc("a", "pa", 1), doc("b", "pb", 2)}
	ce := &CrossEncoder{Scorer: &mapScorer{err: errors.New("scoring service down")}}

	res := ce.Rerank(context.Background(), "q", docs)
	require.NotEmpty(t, res.FailureNote)
	require.Equal(t, docs, res.Documents)
	require.Nil(t, res.Documents[0].RerankScore)
}

func TestPassThroughLeavesDocumentsAlone(t *testing.T) {
	docs := []models.RetrievedDocument{doc("a", "pa", 1)}
	res := PassThrough{}.Rerank(context.Background(), "q", docs)
	require.Empty(t, res.FailureNote)
	require.Equal(t, docs, res.Documents)
}

func ids(docs []models.RetrievedDocument) []string {
	out := make([]string, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.Chunk.ChunkID)
	}
	return out
}
