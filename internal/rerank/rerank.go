// Package rerank reorders retrieved documents with a cross-encoder style
// relevance scorer. Reranking is best-effort: scorer failures leave the
// original ordering untouched.
package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"time"

	"crimelens/internal/models"
)

// Scorer rates how well a passage answers a query. Higher is better.
type Scorer interface {
	Score(ctx context.Context, query, passage string) (float64, error)
}

// Result carries the reranked documents plus a note when scoring failed and
// the input order was kept.
type Result struct {
	Documents []models.RetrievedDocument
	// FailureNote is non-empty when the scorer failed and the documents are
	// the unmodified input.
	FailureNote string
}

type Reranker interface {
	Rerank(ctx context.Context, query string, docs []models.RetrievedDocument) Result
}

// PassThrough is the disabled-reranker path.
type PassThrough struct{}

func (PassThrough) Rerank(_ context.Context, _ string, docs []models.RetrievedDocument) Result {
	return Result{Documents: docs}
}

// CrossEncoder scores each (query, chunk text) pair independently and sorts
// by descending score, keeping the incoming order as the tie-break. TopK > 0
// truncates the result; the set never grows.
type CrossEncoder struct {
	Scorer Scorer
	TopK   int
}

func (c *CrossEncoder) Rerank(ctx context.Context, query string, docs []models.RetrievedDocument) Result {
	if len(docs) == 0 || c.Scorer == nil {
		return Result{Documents: docs}
	}
	scored := make([]models.RetrievedDocument, len(docs))
	copy(scored, docs)

	for i := range scored {
		s, err := c.Scorer.Score(ctx, query, scored[i].Chunk.Text)
		if err != nil {
			return Result{
				Documents:   docs,
				FailureNote: fmt.Sprintf("rerank failed on document %d: %v", i+1, err),
			}
		}
		score := s
		scored[i].RerankScore = &score
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return *scored[i].RerankScore > *scored[j].RerankScore
	})
	if c.TopK > 0 && len(scored) > c.TopK {
		scored = scored[:c.TopK]
	}
	for i := range scored {
		scored[i].Rank = i + 1
	}
	return Result{Documents: scored}
}

// HTTPScorer posts {query, passage} to a scoring service and reads back
// {score}.
type HTTPScorer struct {
	URL    string
	Client *http.Client
}

func NewHTTPScorer(url string) *HTTPScorer {
	return &HTTPScorer{URL: url, Client: &http.Client{Timeout: 15 * time.Second}}
}

func (h *HTTPScorer) Score(ctx context.Context, query, passage string) (float64, error) {
	payload, _ := json.Marshal(map[string]string{"query": query, "passage": passage})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(payload))
	if err != nil {
		return 0, fmt.Errorf("build scorer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("scorer request failed: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return 0, fmt.Errorf("scorer error %d: %s", resp.StatusCode, string(raw))
	}
	var parsed struct {
		Score float64 `json:"score"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return 0, fmt.Errorf("decode scorer response: %w", err)
	}
	return parsed.Score, nil
}
