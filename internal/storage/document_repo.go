package storage

import (
	"context"
	"fmt"

	"crimelens/internal/models"
)

type DocumentRepo struct {
	db *DB
}

func NewDocumentRepo(db *DB) *DocumentRepo {
	return &DocumentRepo{db: db}
}

func (r *DocumentRepo) UpsertDocument(ctx context.Context, d models.Document) error {
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO documents (document_id, collection_id, filename, title, document_authority, source_reliability, year, crime_type, status, fail_reason)
VALUES ($1, $2, $3, NULLIF($4,''), NULLIF($5,''), NULLIF($6,''), $7, NULLIF($8,''), $9, NULLIF($10,''))
ON CONFLICT (document_id)
DO UPDATE SET
  collection_id = EXCLUDED.collection_id,
  filename = EXCLUDED.filename,
  title = COALESCE(EXCLUDED.title, documents.title),
  document_authority = COALESCE(EXCLUDED.document_authority, documents.document_authority),
  source_reliability = COALESCE(EXCLUDED.source_reliability, documents.source_reliability),
  year = COALESCE(EXCLUDED.year, documents.year),
  crime_type = COALESCE(EXCLUDED.crime_type, documents.crime_type),
  status = EXCLUDED.status,
  fail_reason = EXCLUDED.fail_reason,
  updated_at = NOW()`,
		d.DocumentID, d.CollectionID, d.Filename, d.Title, d.Authority, d.Reliability, d.Year, d.CrimeType, d.Status, d.FailReason,
	)
	if err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}
	return nil
}

func (r *DocumentRepo) UpdateDocumentStatus(ctx context.Context, documentID, status, failReason string) error {
	_, err := r.db.Pool.Exec(ctx, `
UPDATE documents SET status=$2, fail_reason=NULLIF($3,''), updated_at=NOW() WHERE document_id=$1`,
		documentID, status, failReason)
	if err != nil {
		return fmt.Errorf("update document status: %w", err)
	}
	return nil
}

func (r *DocumentRepo) ListDocumentsByCollection(ctx context.Context, collectionID string) ([]models.Document, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT document_id, collection_id::text, filename, COALESCE(title,''), COALESCE(document_authority,''),
       COALESCE(source_reliability,''), year, COALESCE(crime_type,''), status, COALESCE(fail_reason,''),
       created_at, updated_at
FROM documents
WHERE collection_id=$1
ORDER BY created_at DESC`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	out := make([]models.Document, 0)
	for rows.Next() {
		var d models.Document
		if err := rows.Scan(&d.DocumentID, &d.CollectionID, &d.Filename, &d.Title, &d.Authority, &d.Reliability, &d.Year, &d.CrimeType, &d.Status, &d.FailReason, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return out, nil
}

func (r *DocumentRepo) GetDocumentByID(ctx context.Context, collectionID, documentID string) (models.Document, error) {
	var d models.Document
	err := r.db.Pool.QueryRow(ctx, `
SELECT document_id, collection_id::text, filename, COALESCE(title,''), COALESCE(document_authority,''),
       COALESCE(source_reliability,''), year, COALESCE(crime_type,''), status, COALESCE(fail_reason,''),
       created_at, updated_at
FROM documents
WHERE collection_id=$1 AND document_id=$2`, collectionID, documentID).
		Scan(&d.DocumentID, &d.CollectionID, &d.Filename, &d.Title, &d.Authority, &d.Reliability, &d.Year, &d.CrimeType, &d.Status, &d.FailReason, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		return models.Document{}, fmt.Errorf("get document by id: %w", err)
	}
	return d, nil
}

func (r *DocumentRepo) CountDocumentsByStatus(ctx context.Context, collectionID string) (map[string]int, error) {
	rows, err := r.db.Pool.Query(ctx, `
SELECT status, COUNT(*) FROM documents WHERE collection_id=$1 GROUP BY status`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("count documents by status: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan document count: %w", err)
		}
		out[status] = n
	}
	return out, rows.Err()
}
