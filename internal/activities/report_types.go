package activities

type EmbedQueryInput struct {
	Operation     string `json:"operation"`
	Text          string `json:"text"`
	ProviderIndex int    `json:"provider_index"`
}

type EmbedQueryOutput struct {
	Vector       []float32 `json:"vector"`
	ProviderName string    `json:"provider_name"`
	Model        string    `json:"model"`
}

type SearchChunksInput struct {
	Collection string         `json:"collection"`
	QueryVec   []float32      `json:"query_vec"`
	TopK       int            `json:"top_k"`
	Filters    map[string]any `json:"filters,omitempty"`
}

type SearchChunk struct {
	ChunkID    string         `json:"chunk_id"`
	DocumentID string         `json:"document_id"`
	Collection string         `json:"collection"`
	Snippet    string         `json:"snippet"`
	Score      float64        `json:"score"`
	Text       string         `json:"text"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

type SearchChunksOutput struct {
	Results []SearchChunk `json:"results"`
}

type WriteCaseReportInput struct {
	CollectionID string `json:"collection_id"`
	ReportRunID  string `json:"report_run_id"`
	Report       string `json:"report"`
}

type WriteCaseReportOutput struct {
	OutPath string `json:"out_path"`
}

type UpdateReportRunInput struct {
	ReportRunID string `json:"report_run_id"`
	Status      string `json:"status"`
	OutPath     string `json:"out_path"`
}

type CreateReportRunInput struct {
	ReportRunID  string   `json:"report_run_id"`
	CollectionID string   `json:"collection_id"`
	Title        string   `json:"title"`
	Topics       []string `json:"topics"`
}
