package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"

	"crimelens/internal/models"
)

func usedDoc(chunkID, source, authority, reliability string, year int) models.RetrievedDocument {
	return models.RetrievedDocument{
		Chunk: models.Chunk{
			ChunkID: chunkID,
			Text:    "Excerpt text for " + chunkID,
			Metadata: models.ChunkMetadata{
				Source:            source,
				DocumentAuthority: authority,
				SourceReliability: reliability,
				PublicationYear:   year,
				CrimeType:         "homicide",
			},
		},
	}
}

func TestFormatResponseNumbersSourcesByFirstAppearance(t *testing.T) {
	docs := []models.RetrievedDocument{
		usedDoc("c1", "fbi_report.pdf", "FBI", "high", 1986),
		usedDoc("c2", "academic_study.pdf", "academic", "medium", 2015),
	}
	final, sources, err := FormatResponse("The pattern matches [1] and [2].", docs)
	require.NoError(t, err)
	require.Len(t, sources, 2)
	require.Equal(t, 1, sources[0].Ref)
	require.Equal(t, "fbi_report.pdf", sources[0].Name)
	require.Equal(t, 2, sources[1].Ref)
	require.Contains(t, final, "[1] fbi_report.pdf (FBI, high reliability) - 1986 - homicide")
	require.Contains(t, final, "[2] academic_study.pdf (academic, medium reliability) - 2015 - homicide")
}

func TestFormatResponseDeduplicatesBySourceDocument(t *testing.T) {
	docs := []models.RetrievedDocument{
		usedDoc("c1", "fbi_report.pdf", "FBI", "high", 1986),
		usedDoc("c2", "fbi_report.pdf", "FBI", "high", 1986),
		usedDoc("c3", "other.pdf", "", "", 0),
	}
	_, sources, err := FormatResponse("body", docs)
	require.NoError(t, err)
	require.Len(t, sources, 2)
	require.Equal(t, "fbi_report.pdf", sources[0].Name)
	require.Equal(t, "other.pdf", sources[1].Name)
}

func TestFormatResponseOmitsMissingFields(t *testing.T) {
	docs := []models.RetrievedDocument{
		{Chunk: models.Chunk{ChunkID: "c1", Text: "t", Metadata: models.ChunkMetadata{Source: "bare.pdf"}}},
	}
	final, _, err := FormatResponse("body", docs)
	require.NoError(t, err)
	require.Contains(t, final, "[1] bare.pdf")
	require.NotContains(t, final, "(")
	require.NotContains(t, final, " - ")
}

func TestFormatResponseIsIdempotent(t *testing.T) {
	docs := []models.RetrievedDocument{usedDoc("c1", "fbi_report.pdf", "FBI", "high", 1986)}
	a, sa, err := FormatResponse("body [1]", docs)
	require.NoError(t, err)
	b, sb, err := FormatResponse("body [1]", docs)
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.Equal(t, sa, sb)
}

func TestFormatResponseEmptyBodyIsFormatError(t *testing.T) {
	_, _, err := FormatResponse("   ", nil)
	require.Error(t, err)
}

func TestFormatResponseNoSourcesLeavesBodyAlone(t *testing.T) {
	final, sources, err := FormatResponse("plain answer", nil)
	require.NoError(t, err)
	require.Equal(t, "plain answer", final)
	require.Empty(t, sources)
}
