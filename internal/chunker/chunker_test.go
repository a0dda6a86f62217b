package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"crimelens/internal/models"
)

func words(n int, prefix string) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = prefix
	}
	return strings.Join(parts, " ")
}

func TestChunkRejectsEmptyInput(t *testing.T) {
	c := New(Config{})
	_, err := c.Chunk("   \n\t ")
	require.ErrorIs(t, err, ErrEmptyInput)

	count := 0
	for range c.Chunks("") {
		count++
	}
	require.Zero(t, count)
}

func TestChunkShortTextYieldsSingleChunk(t *testing.T) {
	c := New(Config{TargetTokens: 100, OverlapRatio: 0.15})
	chunks, err := c.Chunk("The evidence was recovered at the scene.\n\nThe victim was identified.")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	require.Equal(t, 0, chunks[0].ChunkIndex)
	require.Equal(t, 11, chunks[0].TokenCount)
	require.Equal(t, 0.15, chunks[0].OverlapRatio)
}

func TestChunkOverlapCarriesTrailingTokens(t *testing.T) {
	c := New(Config{TargetTokens: 10, OverlapRatio: 0.10})
	text := strings.Join([]string{
		"a1 a2 a3 a4 a5 a6",
		"b1 b2 b3 b4 b5 b6",
		"c1 c2 c3 c4 c5 c6",
		"d1 d2 d3 d4 d5 d6",
	}, "\n\n")

	chunks, err := c.Chunk(text)
	require.NoError(t, err)
	require.Len(t, chunks, 4)

	for i := 1; i < len(chunks); i++ {
		prevWords := strings.Fields(chunks[i-1].Text)
		tail := prevWords[len(prevWords)-1]
		require.True(t, strings.HasPrefix(chunks[i].Text, tail), "chunk %d should start with overlap from chunk %d", i, i-1)
		require.Equal(t, i, chunks[i].ChunkIndex)
	}
}

func TestChunkHardCutsOversizedSentence(t *testing.T) {
	c := New(Config{TargetTokens: 10, OverlapRatio: 0.10, Tolerance: 0.20})
	chunks, err := c.Chunk(words(30, "w"))
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	for _, ch := range chunks {
		require.LessOrEqual(t, ch.TokenCount, 12, "no chunk may exceed target plus tolerance plus overlap carry")
	}
}

func TestChunksIterationRestartsCleanly(t *testing.T) {
	c := New(Config{TargetTokens: 10, OverlapRatio: 0.10})
	text := words(12, "x") + "\n\n" + words(12, "y") + "\n\n" + words(12, "z")

	var first []models.Chunk
	for ch := range c.Chunks(text) {
		first = append(first, ch)
	}
	require.NotEmpty(t, first)

	// Early stop, then restart from scratch.
	for range c.Chunks(text) {
		break
	}
	var second []models.Chunk
	for ch := range c.Chunks(text) {
		second = append(second, ch)
	}
	require.Equal(t, first, second)
}

func TestClassifyContent(t *testing.T) {
	ctype, conf := ClassifyContent("The evidence recovered at the scene matched the victim. Further evidence was documented.")
	require.Equal(t, models.ContentFacts, ctype)
	require.Greater(t, conf, 0.5)

	ctype, conf = ClassifyContent("lorem ipsum dolor sit amet")
	require.Equal(t, models.ContentUnclassified, ctype)
	require.Zero(t, conf)

	ctype, _ = ClassifyContent("Routine activity theory provides a framework for this typology.")
	require.Equal(t, models.ContentTheory, ctype)
}
