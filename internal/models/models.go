package models

import "time"

type Collection struct {
	CollectionID string    `json:"collection_id"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Document is one ingested source file (FBI report, forensic manual,
// academic paper, case study or legislation text).
type Document struct {
	DocumentID   string    `json:"document_id"`
	CollectionID string    `json:"collection_id"`
	Filename     string    `json:"filename"`
	Title        string    `json:"title,omitempty"`
	Authority    string    `json:"document_authority,omitempty"`
	Reliability  string    `json:"source_reliability,omitempty"`
	Year         *int      `json:"publication_year,omitempty"`
	CrimeType    string    `json:"crime_type,omitempty"`
	Status       string    `json:"status"`
	FailReason   string    `json:"fail_reason,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type ContentType string

const (
	ContentTheory       ContentType = "theory"
	ContentFacts        ContentType = "facts"
	ContentAnalysis     ContentType = "analysis"
	ContentConclusion   ContentType = "conclusion"
	ContentUnclassified ContentType = "unclassified"
)

const (
	ReliabilityHigh   = "high"
	ReliabilityMedium = "medium"
	ReliabilityLow    = "low"
)

// ChunkMetadata carries the criminological fields attached to each indexed
// chunk. It is written once at ingestion time and read-only afterwards.
type ChunkMetadata struct {
	Source            string `json:"source,omitempty"`
	CrimeType         string `json:"crime_type,omitempty"`
	OffenderType      string `json:"offender_type,omitempty"`
	Victimology       string `json:"victimology,omitempty"`
	ModusOperandi     string `json:"modus_operandi,omitempty"`
	SignatureBehavior string `json:"signature_behavior,omitempty"`
	Geography         string `json:"geography,omitempty"`
	TimePeriod        string `json:"time_period,omitempty"`
	SourceReliability string `json:"source_reliability,omitempty"`
	DocumentAuthority string `json:"document_authority,omitempty"`
	DocumentType      string `json:"document_type,omitempty"`
	PublicationYear   int    `json:"publication_year,omitempty"`
	Case              string `json:"case,omitempty"`
	Section           string `json:"section,omitempty"`
}

// Map flattens the metadata into the key/value form the index backends
// filter on. Zero values are omitted so absent fields never match filters.
func (m ChunkMetadata) Map() map[string]any {
	out := make(map[string]any, 14)
	put := func(k, v string) {
		if v != "" {
			out[k] = v
		}
	}
	put("source", m.Source)
	put("crime_type", m.CrimeType)
	put("offender_type", m.OffenderType)
	put("victimology", m.Victimology)
	put("modus_operandi", m.ModusOperandi)
	put("signature_behavior", m.SignatureBehavior)
	put("geography", m.Geography)
	put("time_period", m.TimePeriod)
	put("source_reliability", m.SourceReliability)
	put("document_authority", m.DocumentAuthority)
	put("document_type", m.DocumentType)
	put("case", m.Case)
	put("section", m.Section)
	if m.PublicationYear != 0 {
		out["publication_year"] = m.PublicationYear
	}
	return out
}

// Chunk is the atomic retrieval unit: a contiguous span of normalized
// document text with an overlapping tail shared with its successor.
type Chunk struct {
	ChunkID      string        `json:"chunk_id"`
	DocumentID   string        `json:"document_id"`
	CollectionID string        `json:"collection_id"`
	ChunkIndex   int           `json:"chunk_index"`
	Text         string        `json:"text"`
	TokenCount   int           `json:"token_count"`
	OverlapRatio float64       `json:"overlap_ratio"`
	ContentType  ContentType   `json:"content_type"`
	Confidence   float64       `json:"confidence_level"`
	SectionID    string        `json:"section_id,omitempty"`
	Metadata     ChunkMetadata `json:"metadata"`
	CreatedAt    time.Time     `json:"created_at,omitempty"`
}

// RetrievedDocument is one retrieval hit: a chunk plus its similarity to the
// query and its 1-based rank within the result set.
type RetrievedDocument struct {
	Chunk       Chunk    `json:"chunk"`
	Similarity  float64  `json:"similarity_score"`
	Rank        int      `json:"rank"`
	Collection  string   `json:"collection_name"`
	RerankScore *float64 `json:"rerank_score,omitempty"`
}

// Source is one numbered citation in a formatted response.
type Source struct {
	Ref         int    `json:"ref"`
	Name        string `json:"name"`
	Authority   string `json:"document_authority,omitempty"`
	Reliability string `json:"source_reliability,omitempty"`
	Year        int    `json:"publication_year,omitempty"`
	CrimeType   string `json:"crime_type,omitempty"`
	ChunkID     string `json:"chunk_id"`
	Preview     string `json:"preview,omitempty"`
}
