package storage

import (
	"context"
	"encoding/json"
	"fmt"
)

type ReportRepo struct {
	db *DB
}

func NewReportRepo(db *DB) *ReportRepo {
	return &ReportRepo{db: db}
}

func (r *ReportRepo) CreateRun(ctx context.Context, reportRunID, collectionID, title string, topics []string) error {
	topicJSON, _ := json.Marshal(topics)
	_, err := r.db.Pool.Exec(ctx, `
INSERT INTO report_runs (report_run_id, collection_id, title, topics, status)
VALUES ($1, $2, $3, $4::jsonb, 'pending')`, reportRunID, collectionID, title, string(topicJSON))
	if err != nil {
		return fmt.Errorf("create report run: %w", err)
	}
	return nil
}

func (r *ReportRepo) UpdateRunStatus(ctx context.Context, reportRunID, status, outPath string) error {
	_, err := r.db.Pool.Exec(ctx, `
UPDATE report_runs SET status=$2, out_path=NULLIF($3,'') WHERE report_run_id=$1`, reportRunID, status, outPath)
	if err != nil {
		return fmt.Errorf("update report run: %w", err)
	}
	return nil
}

func (r *ReportRepo) GetRunPath(ctx context.Context, reportRunID string) (string, string, error) {
	var outPath, status string
	if err := r.db.Pool.QueryRow(ctx, `
SELECT COALESCE(out_path,''), status FROM report_runs WHERE report_run_id=$1`, reportRunID).Scan(&outPath, &status); err != nil {
		return "", "", fmt.Errorf("get report run: %w", err)
	}
	return outPath, status, nil
}
