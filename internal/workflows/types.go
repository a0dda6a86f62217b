package workflows

type CollectionIngestInput struct {
	IngestID              string `json:"ingest_id"`
	InputDir              string `json:"input_dir"`
	Collection            string `json:"collection,omitempty"`
	MaxConcurrentChildren int    `json:"max_concurrent_children"`
	EmbedProviders        int    `json:"embed_providers"`
	CooldownSeconds       int    `json:"cooldown_seconds"`
	ChunkVersion          string `json:"chunk_version"`
	EmbedVersion          string `json:"embed_version"`
}

type DocumentProcessInput struct {
	DocumentPath                string  `json:"document_path"`
	Collection                  string  `json:"collection,omitempty"`
	TargetTokens                int     `json:"target_tokens"`
	OverlapRatio                float64 `json:"overlap_ratio"`
	ChunkVersion                string  `json:"chunk_version"`
	EmbedVersion                string  `json:"embed_version"`
	EmbedProviders              int     `json:"embed_providers"`
	PreferredEmbedProviderIndex int     `json:"preferred_embed_provider_index"`
	StrictEmbedProvider         bool    `json:"strict_embed_provider"`
	CooldownSeconds             int     `json:"cooldown_seconds"`
}

type CaseReportInput struct {
	ReportRunID     string   `json:"report_run_id"`
	CollectionID    string   `json:"collection_id"`
	Title           string   `json:"title"`
	Topics          []string `json:"topics"`
	Collections     []string `json:"collections,omitempty"`
	RetrievalTopK   int      `json:"retrieval_top_k,omitempty"`
	EmbedProviders  int      `json:"embed_providers"`
	LLMProviders    int      `json:"llm_providers"`
	LLMProviderRefs []string `json:"llm_provider_refs,omitempty"`
	CooldownSeconds int      `json:"cooldown_seconds"`
}

type BackfillInput struct {
	Mode                        string   `json:"mode"`
	Collections                 []string `json:"collections,omitempty"`
	InputDir                    string   `json:"input_dir,omitempty"`
	ReportRunID                 string   `json:"report_run_id,omitempty"`
	ReportTitle                 string   `json:"report_title,omitempty"`
	Topics                      []string `json:"topics,omitempty"`
	ChunkVersion                string   `json:"chunk_version,omitempty"`
	EmbedVersion                string   `json:"embed_version,omitempty"`
	EmbedProviders              int      `json:"embed_providers,omitempty"`
	PreferredEmbedProviderIndex int      `json:"preferred_embed_provider_index,omitempty"`
	StrictEmbedProvider         bool     `json:"strict_embed_provider,omitempty"`
	LLMProviders                int      `json:"llm_providers,omitempty"`
	CooldownSeconds             int      `json:"cooldown_seconds,omitempty"`
}

type DocumentStatus struct {
	DocumentID   string            `json:"document_id"`
	DocumentPath string            `json:"document_path"`
	Collection   string            `json:"collection,omitempty"`
	CurrentStep  string            `json:"current_step"`
	Status       string            `json:"status"`
	FailReason   string            `json:"fail_reason,omitempty"`
	Providers    []string          `json:"providers_used"`
	RetryCounts  map[string]int    `json:"retry_counts"`
	Steps        map[string]string `json:"steps"`
}

type CollectionIngestProgress struct {
	IngestID      string            `json:"ingest_id"`
	Total         int               `json:"total"`
	Done          int               `json:"done"`
	Failed        int               `json:"failed"`
	PerDocument   map[string]string `json:"per_document_status"`
	ChildWorkflow map[string]string `json:"child_workflow_ids,omitempty"`
}

type ReportProgress struct {
	ReportRunID string            `json:"report_run_id"`
	Title       string            `json:"title"`
	TotalTopics int               `json:"total_topics"`
	DoneTopics  int               `json:"done_topics"`
	TopicStatus map[string]string `json:"topic_status"`
}
