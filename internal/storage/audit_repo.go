package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"crimelens/internal/pipeline"
)

// LLMCallRecord is one provider invocation, kept for cost and failover
// analysis.
type LLMCallRecord struct {
	CallID       string
	Operation    string
	CollectionID string
	DocumentID   string
	ProviderName string
	Model        string
	RequestID    string
	Status       string
	ErrorType    string
}

type AuditRepo struct {
	db *DB
}

func NewAuditRepo(db *DB) *AuditRepo {
	return &AuditRepo{db: db}
}

func (r *AuditRepo) InsertLLMCall(ctx context.Context, rec LLMCallRecord) error {
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO llm_calls(call_id, operation, collection_id, document_id, provider_name, model, request_id, status, error_type)
VALUES (COALESCE(NULLIF($1,'')::uuid, gen_random_uuid()), $2, NULLIF($3,''), NULLIF($4,''), $5, $6, $7, $8, NULLIF($9,''))`,
		rec.CallID, rec.Operation, rec.CollectionID, rec.DocumentID, rec.ProviderName, rec.Model, rec.RequestID, rec.Status, rec.ErrorType)
	if err != nil {
		return fmt.Errorf("insert llm call: %w", err)
	}
	return nil
}

// QueryAudit is the persisted form of one pipeline run.
type QueryAudit struct {
	AuditID      string            `json:"audit_id"`
	Query        string            `json:"query"`
	Stage        string            `json:"stage"`
	Response     string            `json:"response"`
	UsedChunkIDs []string          `json:"used_chunk_ids"`
	ErrorKind    string            `json:"error_kind,omitempty"`
	ErrorMessage string            `json:"error_message,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	DurationMs   int64             `json:"duration_ms"`
	CreatedAt    time.Time         `json:"created_at"`
}

// RecordQuery implements pipeline.AuditSink.
func (r *AuditRepo) RecordQuery(ctx context.Context, rec pipeline.AuditRecord) error {
	sources, err := json.Marshal(rec.Sources)
	if err != nil {
		return fmt.Errorf("marshal audit sources: %w", err)
	}
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return fmt.Errorf("marshal audit metadata: %w", err)
	}
	_, err = r.db.Pool.Exec(ctx, `
INSERT INTO query_audits(audit_id, query, stage, response, prompt, used_chunk_ids, sources, error_kind, error_message, metadata, started_at, duration_ms)
VALUES (gen_random_uuid(), $1, $2, $3, $4, $5, $6::jsonb, NULLIF($7,''), NULLIF($8,''), $9::jsonb, $10, $11)`,
		rec.Query, string(rec.Stage), rec.Response, rec.Prompt, rec.UsedChunkIDs, string(sources),
		rec.ErrorKind, rec.ErrorMessage, string(meta), rec.StartedAt, rec.Duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("insert query audit: %w", err)
	}
	return nil
}

func (r *AuditRepo) ListRecentQueries(ctx context.Context, limit int) ([]QueryAudit, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.db.Pool.Query(ctx, `
SELECT audit_id::text, query, stage, COALESCE(response,''), used_chunk_ids,
       COALESCE(error_kind,''), COALESCE(error_message,''), duration_ms, created_at
FROM query_audits
ORDER BY created_at DESC
LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent queries: %w", err)
	}
	defer rows.Close()

	out := make([]QueryAudit, 0, limit)
	for rows.Next() {
		var q QueryAudit
		if err := rows.Scan(&q.AuditID, &q.Query, &q.Stage, &q.Response, &q.UsedChunkIDs, &q.ErrorKind, &q.ErrorMessage, &q.DurationMs, &q.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan query audit: %w", err)
		}
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate query audits: %w", err)
	}
	return out, nil
}
