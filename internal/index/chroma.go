package index

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"crimelens/internal/providers"
)

// Chroma talks to a Chroma server over its REST API. Collection name to id
// lookups are cached for the lifetime of the client.
type Chroma struct {
	baseURL  string
	client   *http.Client
	embedder providers.EmbeddingProvider
	dim      int

	mu  sync.Mutex
	ids map[string]string
}

func NewChroma(baseURL string, embedder providers.EmbeddingProvider, dim int) *Chroma {
	return &Chroma{
		baseURL:  strings.TrimRight(baseURL, "/"),
		client:   &http.Client{Timeout: 30 * time.Second},
		embedder: embedder,
		dim:      dim,
		ids:      make(map[string]string),
	}
}

func (c *Chroma) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, _, err := c.embedder.Embed(ctx, providers.EmbedRequest{Operation: "query", Inputs: []string{text}, Dimension: c.dim})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("embed query: empty embedding")
	}
	return vecs[0], nil
}

func (c *Chroma) SimilaritySearch(ctx context.Context, collection string, embedding []float32, k int, filters map[string]any) ([]Candidate, error) {
	if k <= 0 {
		k = 8
	}
	id, err := c.collectionID(ctx, collection)
	if err != nil {
		return nil, err
	}

	body := map[string]any{
		"query_embeddings": [][]float32{embedding},
		"n_results":        k,
		"include":          []string{"documents", "metadatas", "distances", "embeddings"},
	}
	if where := buildWhere(filters); where != nil {
		body["where"] = where
	}
	payload, _ := json.Marshal(body)

	raw, err := c.post(ctx, "/api/v1/collections/"+url.PathEscape(id)+"/query", payload)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		IDs        [][]string         `json:"ids"`
		Documents  [][]string         `json:"documents"`
		Metadatas  [][]map[string]any `json:"metadatas"`
		Distances  [][]float64        `json:"distances"`
		Embeddings [][][]float32      `json:"embeddings"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode chroma query response: %w", err)
	}
	if len(parsed.IDs) == 0 {
		return nil, nil
	}

	n := len(parsed.IDs[0])
	results := make([]Candidate, 0, n)
	for i := 0; i < n; i++ {
		cand := Candidate{ID: parsed.IDs[0][i], Collection: collection}
		if len(parsed.Documents) > 0 && i < len(parsed.Documents[0]) {
			cand.Text = parsed.Documents[0][i]
		}
		if len(parsed.Metadatas) > 0 && i < len(parsed.Metadatas[0]) {
			cand.Metadata = parsed.Metadatas[0][i]
		}
		if len(parsed.Distances) > 0 && i < len(parsed.Distances[0]) {
			// Chroma returns distances; convert to a similarity in (0,1].
			cand.Score = 1.0 / (1.0 + parsed.Distances[0][i])
		}
		if len(parsed.Embeddings) > 0 && i < len(parsed.Embeddings[0]) {
			cand.Embedding = parsed.Embeddings[0][i]
		}
		results = append(results, cand)
	}
	return results, nil
}

func (c *Chroma) collectionID(ctx context.Context, name string) (string, error) {
	c.mu.Lock()
	if id, ok := c.ids[name]; ok {
		c.mu.Unlock()
		return id, nil
	}
	c.mu.Unlock()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v1/collections/"+url.PathEscape(name), nil)
	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: get chroma collection: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("%w: chroma error %d: %s", ErrUnavailable, resp.StatusCode, string(raw))
	}
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("chroma collection %q: %d: %s", name, resp.StatusCode, string(raw))
	}
	var parsed struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil || parsed.ID == "" {
		return "", fmt.Errorf("decode chroma collection response: %w", err)
	}

	c.mu.Lock()
	c.ids[name] = parsed.ID
	c.mu.Unlock()
	return parsed.ID, nil
}

func (c *Chroma) post(ctx context.Context, path string, payload []byte) ([]byte, error) {
	req, _ := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: chroma request: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: chroma error %d: %s", ErrUnavailable, resp.StatusCode, string(raw))
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("chroma request %s: %d: %s", path, resp.StatusCode, string(raw))
	}
	return raw, nil
}

// buildWhere renders metadata filters as a Chroma where clause. Scalar values
// become $eq, slices become $in. Multiple keys are joined with $and.
func buildWhere(filters map[string]any) map[string]any {
	if len(filters) == 0 {
		return nil
	}
	clauses := make([]map[string]any, 0, len(filters))
	for key, v := range filters {
		switch vv := v.(type) {
		case []string:
			vals := make([]any, len(vv))
			for i, s := range vv {
				vals[i] = s
			}
			clauses = append(clauses, map[string]any{key: map[string]any{"$in": vals}})
		case []any:
			clauses = append(clauses, map[string]any{key: map[string]any{"$in": vv}})
		default:
			clauses = append(clauses, map[string]any{key: map[string]any{"$eq": v}})
		}
	}
	if len(clauses) == 1 {
		return clauses[0]
	}
	return map[string]any{"$and": clauses}
}
