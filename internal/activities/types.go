package activities

import "crimelens/internal/models"

type ComputeDocumentIDInput struct {
	DocumentPath string `json:"document_path"`
}

type ComputeDocumentIDOutput struct {
	DocumentID string `json:"document_id"`
}

type ListPDFsInput struct {
	InputDir string `json:"input_dir"`
}

type ListPDFsOutput struct {
	Paths []string `json:"paths"`
}

type WriteRunManifestInput struct {
	Scope    string         `json:"scope"`
	RunID    string         `json:"run_id"`
	Manifest map[string]any `json:"manifest"`
}

type WriteRunManifestOutput struct {
	Path string `json:"path"`
}

type EnsureCollectionInput struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type EnsureCollectionOutput struct {
	CollectionID string `json:"collection_id"`
}

type WriteCollectionSummaryInput struct {
	CollectionID string         `json:"collection_id"`
	Summary      map[string]any `json:"summary"`
}

type ListFailedDocumentsInput struct {
	CollectionID string `json:"collection_id"`
}

type FailedDocument struct {
	DocumentID string `json:"document_id"`
	Filename   string `json:"filename"`
}

type ListFailedDocumentsOutput struct {
	Documents []FailedDocument `json:"documents"`
}

type ListCollectionDocumentsInput struct {
	CollectionID string `json:"collection_id"`
}

type CollectionDocument struct {
	DocumentID  string `json:"document_id"`
	Filename    string `json:"filename"`
	Status      string `json:"status"`
	Title       string `json:"title,omitempty"`
	Authority   string `json:"document_authority,omitempty"`
	Reliability string `json:"source_reliability,omitempty"`
	Year        int    `json:"publication_year,omitempty"`
	CrimeType   string `json:"crime_type,omitempty"`
	FailReason  string `json:"fail_reason,omitempty"`
}

type ListCollectionDocumentsOutput struct {
	Documents []CollectionDocument `json:"documents"`
}

type ExtractTextInput struct {
	DocumentPath string `json:"document_path"`
}

type ExtractTextOutput struct {
	Text string `json:"text"`
}

type ExtractMetadataInput struct {
	Text     string `json:"text"`
	Filename string `json:"filename"`
}

type ExtractMetadataOutput struct {
	Title      string               `json:"title"`
	Metadata   models.ChunkMetadata `json:"metadata"`
	Collection string               `json:"collection"`
}

type ChunkTextInput struct {
	DocumentID   string               `json:"document_id"`
	CollectionID string               `json:"collection_id"`
	Text         string               `json:"text"`
	TargetTokens int                  `json:"target_tokens"`
	OverlapRatio float64              `json:"overlap_ratio"`
	Version      string               `json:"version"`
	Metadata     models.ChunkMetadata `json:"metadata"`
}

type ChunkItem struct {
	ChunkID      string               `json:"chunk_id"`
	DocumentID   string               `json:"document_id"`
	CollectionID string               `json:"collection_id"`
	ChunkIndex   int                  `json:"chunk_index"`
	Text         string               `json:"text"`
	TokenCount   int                  `json:"token_count"`
	ContentType  string               `json:"content_type"`
	Confidence   float64              `json:"confidence_level"`
	Metadata     models.ChunkMetadata `json:"metadata"`
}

type ChunkTextOutput struct {
	Chunks []ChunkItem `json:"chunks"`
}

type UpsertChunksInput struct {
	Chunks           []ChunkItem `json:"chunks"`
	Vectors          [][]float32 `json:"vectors,omitempty"`
	EmbeddingVersion string      `json:"embedding_version"`
}

type WriteDocumentArtifactsInput struct {
	CollectionID  string         `json:"collection_id"`
	DocumentID    string         `json:"document_id"`
	Metadata      map[string]any `json:"metadata"`
	Chunks        []ChunkItem    `json:"chunks"`
	ProcessingLog map[string]any `json:"processing_log"`
}

type UpdateDocumentStatusInput struct {
	DocumentID   string `json:"document_id"`
	CollectionID string `json:"collection_id"`
	Filename     string `json:"filename"`
	Title        string `json:"title"`
	Authority    string `json:"document_authority"`
	Reliability  string `json:"source_reliability"`
	Year         int    `json:"publication_year"`
	CrimeType    string `json:"crime_type"`
	Status       string `json:"status"`
	FailReason   string `json:"fail_reason"`
}

type EmbedChunksInput struct {
	Operation     string      `json:"operation"`
	CollectionID  string      `json:"collection_id"`
	DocumentID    string      `json:"document_id"`
	ProviderIndex int         `json:"provider_index"`
	Input         []ChunkItem `json:"input"`
}

type EmbedChunksOutput struct {
	Vectors      [][]float32 `json:"vectors"`
	ProviderName string      `json:"provider_name"`
	Model        string      `json:"model"`
}

type LLMGenerateInput struct {
	Operation     string   `json:"operation"`
	CollectionID  string   `json:"collection_id"`
	DocumentID    string   `json:"document_id"`
	System        string   `json:"system,omitempty"`
	Prompt        string   `json:"prompt"`
	Context       []string `json:"context"`
	ProviderIndex int      `json:"provider_index"`
	ProviderRef   string   `json:"provider_ref,omitempty"`
}

type LLMGenerateOutput struct {
	Text         string `json:"text"`
	ProviderName string `json:"provider_name"`
	Model        string `json:"model"`
}

type LogLLMCallInput struct {
	CallID       string `json:"call_id"`
	Operation    string `json:"operation"`
	CollectionID string `json:"collection_id"`
	DocumentID   string `json:"document_id"`
	ProviderName string `json:"provider_name"`
	Model        string `json:"model"`
	RequestID    string `json:"request_id"`
	Status       string `json:"status"`
	ErrorType    string `json:"error_type"`
}
