package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"crimelens/internal/models"
)

// ChunkRecord is the persistence form of a chunk: metadata is flattened to
// JSONB and the embedding is carried as a pgvector literal.
type ChunkRecord struct {
	ChunkID          string
	DocumentID       string
	CollectionID     string
	ChunkIndex       int
	Text             string
	TokenCount       int
	ContentType      string
	Confidence       float64
	Metadata         map[string]any
	EmbeddingVersion string
	EmbeddingVector  *string
}

type ChunkRepo struct {
	db *DB
}

func NewChunkRepo(db *DB) *ChunkRepo {
	return &ChunkRepo{db: db}
}

func (r *ChunkRepo) UpsertChunks(ctx context.Context, chunks []ChunkRecord) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx upsert chunks: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	for _, c := range chunks {
		meta, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("marshal chunk metadata %s: %w", c.ChunkID, err)
		}
		_, err = tx.Exec(ctx, `
INSERT INTO chunks (chunk_id, document_id, collection_id, chunk_index, text, token_count, content_type, confidence, metadata, embedding_version, embedding)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10, CASE WHEN $11::text IS NULL THEN NULL ELSE $11::vector END)
ON CONFLICT (chunk_id)
DO UPDATE SET
  text = EXCLUDED.text,
  token_count = EXCLUDED.token_count,
  content_type = EXCLUDED.content_type,
  confidence = EXCLUDED.confidence,
  metadata = EXCLUDED.metadata,
  embedding_version = EXCLUDED.embedding_version,
  embedding = COALESCE(EXCLUDED.embedding, chunks.embedding)`,
			c.ChunkID, c.DocumentID, c.CollectionID, c.ChunkIndex, c.Text, c.TokenCount, c.ContentType, c.Confidence, string(meta), c.EmbeddingVersion, c.EmbeddingVector,
		)
		if err != nil {
			return fmt.Errorf("upsert chunk %s: %w", c.ChunkID, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit chunks tx: %w", err)
	}
	return nil
}

// DeleteChunksByDocument clears a document's chunks before re-ingestion, so
// superseded chunks never linger in the index.
func (r *ChunkRepo) DeleteChunksByDocument(ctx context.Context, collectionID, documentID string) error {
	_, err := r.db.Pool.Exec(ctx, `
DELETE FROM chunks WHERE collection_id=$1 AND document_id=$2`, collectionID, documentID)
	if err != nil {
		return fmt.Errorf("delete chunks by document: %w", err)
	}
	return nil
}

func (r *ChunkRepo) ListChunksByDocument(ctx context.Context, collectionID, documentID string) ([]models.Chunk, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT chunk_id, document_id, collection_id::text, chunk_index, text, token_count, content_type, confidence, created_at
FROM chunks
WHERE collection_id=$1 AND document_id=$2
ORDER BY chunk_index ASC`, collectionID, documentID)
	if err != nil {
		return nil, fmt.Errorf("list chunks by document: %w", err)
	}
	defer rows.Close()

	out := make([]models.Chunk, 0, 64)
	for rows.Next() {
		var c models.Chunk
		var contentType string
		if err := rows.Scan(&c.ChunkID, &c.DocumentID, &c.CollectionID, &c.ChunkIndex, &c.Text, &c.TokenCount, &contentType, &c.Confidence, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan chunk by document: %w", err)
		}
		c.ContentType = models.ContentType(contentType)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks by document: %w", err)
	}
	return out, nil
}

func (r *ChunkRepo) CountChunks(ctx context.Context, collectionID string) (int, error) {
	var n int
	err := r.db.Pool.QueryRow(ctx, `
SELECT COUNT(*) FROM chunks WHERE collection_id=$1`, collectionID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count chunks: %w", err)
	}
	return n, nil
}
