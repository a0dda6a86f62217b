package index

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"

	"crimelens/internal/providers"
)

type Queryer interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Pgvector searches chunk embeddings stored in Postgres with the pgvector
// extension. Metadata filters become JSONB predicates on the chunks table.
type Pgvector struct {
	q        Queryer
	embedder providers.EmbeddingProvider
	dim      int
}

func NewPgvector(q Queryer, embedder providers.EmbeddingProvider, dim int) *Pgvector {
	return &Pgvector{q: q, embedder: embedder, dim: dim}
}

func (p *Pgvector) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, _, err := p.embedder.Embed(ctx, providers.EmbedRequest{Operation: "query", Inputs: []string{text}, Dimension: p.dim})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) == 0 {
		return nil, fmt.Errorf("embed query: empty embedding")
	}
	return vecs[0], nil
}

func (p *Pgvector) SimilaritySearch(ctx context.Context, collection string, embedding []float32, k int, filters map[string]any) ([]Candidate, error) {
	if k <= 0 {
		k = 8
	}
	args := []any{collection, ToLiteral(embedding), k}
	filterSQL, args, err := buildFilterSQL(filters, args)
	if err != nil {
		return nil, err
	}

	query := `
SELECT c.chunk_id,
       c.text,
       c.metadata,
       1 - (c.embedding <=> $2::vector) AS score,
       c.embedding::text
FROM chunks c
WHERE c.collection_id = $1
  AND c.embedding IS NOT NULL` + filterSQL + `
ORDER BY c.embedding <=> $2::vector, c.chunk_id
LIMIT $3`

	rows, err := p.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query vector search: %v", ErrUnavailable, err)
	}
	defer rows.Close()

	results := make([]Candidate, 0, k)
	for rows.Next() {
		var (
			c       Candidate
			meta    map[string]any
			vecText string
		)
		if err := rows.Scan(&c.ID, &c.Text, &meta, &c.Score, &vecText); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		c.Metadata = meta
		c.Collection = collection
		c.Embedding = parseVectorLiteral(vecText)
		results = append(results, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate search rows: %v", ErrUnavailable, err)
	}
	return results, nil
}

// buildFilterSQL renders metadata filters as JSONB predicates. Keys are
// sorted so the SQL text is stable for a given filter set.
func buildFilterSQL(filters map[string]any, args []any) (string, []any, error) {
	if len(filters) == 0 {
		return "", args, nil
	}
	keys := make([]string, 0, len(filters))
	for k := range filters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, key := range keys {
		if strings.ContainsAny(key, `'"\`) {
			return "", nil, fmt.Errorf("invalid filter key %q", key)
		}
		switch v := filters[key].(type) {
		case []string:
			args = append(args, v)
			fmt.Fprintf(&b, " AND c.metadata->>'%s' = ANY($%d)", key, len(args))
		case []any:
			vals := make([]string, 0, len(v))
			for _, x := range v {
				vals = append(vals, fmt.Sprint(x))
			}
			args = append(args, vals)
			fmt.Fprintf(&b, " AND c.metadata->>'%s' = ANY($%d)", key, len(args))
		default:
			args = append(args, fmt.Sprint(v))
			fmt.Fprintf(&b, " AND c.metadata->>'%s' = $%d", key, len(args))
		}
	}
	return b.String(), args, nil
}

// ToLiteral renders a vector as the pgvector input literal "[x,y,...]".
func ToLiteral(v []float32) string {
	parts := make([]string, 0, len(v))
	for _, x := range v {
		parts = append(parts, fmt.Sprintf("%f", x))
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func parseVectorLiteral(s string) []float32 {
	s = strings.Trim(strings.TrimSpace(s), "[]")
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]float32, 0, len(parts))
	for _, p := range parts {
		var f float64
		if _, err := fmt.Sscanf(strings.TrimSpace(p), "%g", &f); err != nil {
			return nil
		}
		out = append(out, float32(f))
	}
	return out
}
