package metadata

import (
	"testing"

	"github.com/stretchr/testify/require"

	"crimelens/internal/models"
)

func TestExtractDerivesCrimeTypeAndAuthority(t *testing.T) {
	text := "In 1986 the FBI Behavioral Science Unit published an investigative report on serial killer profiling in the United States."
	md := NewExtractor().Extract(text, "fbi_profiling_report.pdf")

	require.Equal(t, "serial_homicide", md.CrimeType)
	require.Equal(t, "FBI", md.DocumentAuthority)
	require.Equal(t, "USA", md.Geography)
	require.Equal(t, 1986, md.PublicationYear)
	require.Equal(t, "official_investigation", md.DocumentType)
	require.Equal(t, models.ReliabilityHigh, md.SourceReliability)
}

func TestExtractYearPicksMostRecent(t *testing.T) {
	require.Equal(t, 2019, extractYear("first documented in 1994, revisited in 2019"))
	require.Equal(t, 0, extractYear("no dates here"))
	require.Equal(t, 0, extractYear("year 2150 is out of range")) // outside 1900-2099
}

func TestDeriveReliabilityTiers(t *testing.T) {
	require.Equal(t, models.ReliabilityHigh, DeriveReliability("FBI", ""))
	require.Equal(t, models.ReliabilityHigh, DeriveReliability("judicial", ""))
	require.Equal(t, models.ReliabilityHigh, DeriveReliability("other", "manual"))
	require.Equal(t, models.ReliabilityMedium, DeriveReliability("academic", ""))
	require.Equal(t, models.ReliabilityMedium, DeriveReliability("police", ""))
	// Technical corpus default.
	require.Equal(t, models.ReliabilityHigh, DeriveReliability("other", ""))
}

func TestRouteCollection(t *testing.T) {
	require.Equal(t, "serial_killers", RouteCollection(models.ChunkMetadata{DocumentType: "case_study", CrimeType: "serial_homicide"}))
	require.Equal(t, "forensic_cases", RouteCollection(models.ChunkMetadata{DocumentType: "case_study", CrimeType: "homicide"}))
	require.Equal(t, "legislation", RouteCollection(models.ChunkMetadata{DocumentType: "court_ruling"}))
	require.Equal(t, "investigation_techniques", RouteCollection(models.ChunkMetadata{DocumentType: "manual"}))
	require.Equal(t, "serial_killers", RouteCollection(models.ChunkMetadata{CrimeType: "serial_homicide"}))
	require.Equal(t, "forensic_cases", RouteCollection(models.ChunkMetadata{}))
}

func TestEnrichChunkPicksUpSectionHeading(t *testing.T) {
	doc := models.ChunkMetadata{Source: "manual.pdf", SourceReliability: models.ReliabilityHigh}
	md := NewExtractor().EnrichChunk("CRIME SCENE PROCESSING\nThe first officer on scene must secure the perimeter.", doc)
	require.Equal(t, "CRIME SCENE PROCESSING", md.Section)
	require.Equal(t, "manual.pdf", md.Source)

	md = NewExtractor().EnrichChunk("the body was discovered at dawn near the riverbank.", doc)
	require.Empty(t, md.Section)
}
