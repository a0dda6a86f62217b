// Package retriever implements metadata-filtered similarity search with
// maximal marginal relevance selection over one or more collections.
package retriever

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"

	"crimelens/internal/index"
	"crimelens/internal/models"
)

// DefaultCollections is the search order when the caller does not name
// collections explicitly. Most queries are served by the first three.
var DefaultCollections = []string{
	"forensic_cases",
	"criminology_theory",
	"investigation_techniques",
	"serial_killers",
	"legislation",
}

type Options struct {
	// K is the number of documents to return, clamped to the retriever's
	// [MinK, MaxK] range.
	K int
	// Collections overrides DefaultCollections when non-empty.
	Collections []string
	// Filters are metadata equality predicates ($in for slice values).
	Filters map[string]any
	// DiversityLambda weighs relevance against diversity; clamped to [0,1].
	// Negative means "use the retriever default".
	DiversityLambda float64
	// PrioritizeReliability regroups the final set high > medium > low,
	// preserving selection order within each tier.
	PrioritizeReliability bool
}

type Config struct {
	MinK             int
	MaxK             int
	OversampleFactor int
	DefaultLambda    float64
}

type Retriever struct {
	idx        index.Index
	minK       int
	maxK       int
	oversample int
	lambda     float64
}

func New(idx index.Index, cfg Config) *Retriever {
	r := &Retriever{idx: idx, minK: cfg.MinK, maxK: cfg.MaxK, oversample: cfg.OversampleFactor, lambda: cfg.DefaultLambda}
	if r.minK <= 0 {
		r.minK = 3
	}
	if r.maxK < r.minK {
		r.maxK = 10
	}
	if r.oversample <= 0 {
		r.oversample = 3
	}
	if r.lambda < 0 || r.lambda > 1 {
		r.lambda = 0.7
	}
	return r
}

// Retrieve embeds the query, oversamples candidates from each collection,
// and selects k documents by greedy maximal marginal relevance. An empty
// candidate pool is not an error; callers decide what no evidence means.
func (r *Retriever) Retrieve(ctx context.Context, query string, opts Options) ([]models.RetrievedDocument, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("empty query")
	}
	k := opts.K
	if k <= 0 {
		k = r.minK
	}
	if k < r.minK {
		k = r.minK
	}
	if k > r.maxK {
		k = r.maxK
	}
	lambda := opts.DiversityLambda
	if lambda < 0 {
		lambda = r.lambda
	}
	if lambda > 1 {
		lambda = 1
	}

	queryVec, err := r.idx.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	collections := opts.Collections
	if len(collections) == 0 {
		collections = DefaultCollections
	}
	poolSize := k * r.oversample
	if poolSize < k {
		poolSize = k
	}

	var pool []index.Candidate
	for _, coll := range collections {
		cands, err := r.idx.SimilaritySearch(ctx, coll, queryVec, poolSize, opts.Filters)
		if err != nil {
			return nil, fmt.Errorf("search collection %s: %w", coll, err)
		}
		pool = append(pool, cands...)
	}
	pool = dedupeByID(pool)
	if len(pool) == 0 {
		return nil, nil
	}

	// Candidate order below is the MMR tie-break: earlier (higher
	// similarity) wins equal marginal scores.
	sort.SliceStable(pool, func(i, j int) bool {
		if pool[i].Score != pool[j].Score {
			return pool[i].Score > pool[j].Score
		}
		return pool[i].ID < pool[j].ID
	})

	selected := mmrSelect(pool, lambda, k)

	docs := make([]models.RetrievedDocument, 0, len(selected))
	for _, c := range selected {
		docID, _ := c.Metadata["document_id"].(string)
		docs = append(docs, models.RetrievedDocument{
			Chunk: models.Chunk{
				ChunkID:    c.ID,
				DocumentID: docID,
				Text:       c.Text,
				Metadata:   MetadataFromMap(c.Metadata),
			},
			Similarity: c.Score,
			Collection: c.Collection,
		})
	}
	if opts.PrioritizeReliability {
		docs = regroupByReliability(docs)
	}
	for i := range docs {
		docs[i].Rank = i + 1
	}
	log.Printf("retriever: query=%q k=%d lambda=%.2f pool=%d selected=%d", query, k, lambda, len(pool), len(docs))
	return docs, nil
}

// mmrSelect greedily picks up to k candidates maximizing
// lambda*sim(query,c) - (1-lambda)*max sim(c, selected). The pool must be in
// decreasing similarity order; the first pick is always pool[0].
func mmrSelect(pool []index.Candidate, lambda float64, k int) []index.Candidate {
	if len(pool) == 0 || k <= 0 {
		return nil
	}
	selected := []index.Candidate{pool[0]}
	remaining := append([]index.Candidate(nil), pool[1:]...)

	for len(selected) < k && len(remaining) > 0 {
		bestIdx := -1
		bestScore := math.Inf(-1)
		for i, c := range remaining {
			maxSim := 0.0
			for _, s := range selected {
				if sim := candidateSimilarity(c, s); sim > maxSim {
					maxSim = sim
				}
			}
			score := lambda*c.Score - (1-lambda)*maxSim
			// Strict > keeps the earlier (higher-similarity) candidate on ties.
			if score > bestScore {
				bestScore = score
				bestIdx = i
			}
		}
		selected = append(selected, remaining[bestIdx])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}
	return selected
}

// candidateSimilarity uses cosine over stored embeddings when both are
// present, and otherwise approximates similarity from the gap between the
// candidates' query similarities.
func candidateSimilarity(a, b index.Candidate) float64 {
	if len(a.Embedding) > 0 && len(b.Embedding) > 0 {
		return index.Cosine(a.Embedding, b.Embedding)
	}
	return 1.0 / (1.0 + math.Abs(a.Score-b.Score))
}

func dedupeByID(pool []index.Candidate) []index.Candidate {
	seen := make(map[string]int, len(pool))
	out := pool[:0]
	for _, c := range pool {
		if i, ok := seen[c.ID]; ok {
			if c.Score > out[i].Score {
				out[i] = c
			}
			continue
		}
		seen[c.ID] = len(out)
		out = append(out, c)
	}
	return out
}

// regroupByReliability stably reorders documents high > medium > low.
// Unlabeled documents keep medium standing.
func regroupByReliability(docs []models.RetrievedDocument) []models.RetrievedDocument {
	tier := func(d models.RetrievedDocument) int {
		switch d.Chunk.Metadata.SourceReliability {
		case models.ReliabilityHigh:
			return 0
		case models.ReliabilityLow:
			return 2
		default:
			return 1
		}
	}
	out := make([]models.RetrievedDocument, 0, len(docs))
	for t := 0; t <= 2; t++ {
		for _, d := range docs {
			if tier(d) == t {
				out = append(out, d)
			}
		}
	}
	return out
}

// MetadataFromMap converts the index backend's flat metadata map back into
// the typed chunk metadata.
func MetadataFromMap(m map[string]any) models.ChunkMetadata {
	str := func(k string) string {
		if v, ok := m[k]; ok {
			return fmt.Sprint(v)
		}
		return ""
	}
	md := models.ChunkMetadata{
		Source:            str("source"),
		CrimeType:         str("crime_type"),
		OffenderType:      str("offender_type"),
		Victimology:       str("victimology"),
		ModusOperandi:     str("modus_operandi"),
		SignatureBehavior: str("signature_behavior"),
		Geography:         str("geography"),
		TimePeriod:        str("time_period"),
		SourceReliability: str("source_reliability"),
		DocumentAuthority: str("document_authority"),
		DocumentType:      str("document_type"),
		Case:              str("case"),
		Section:           str("section"),
	}
	switch v := m["publication_year"].(type) {
	case int:
		md.PublicationYear = v
	case int64:
		md.PublicationYear = int(v)
	case float64:
		md.PublicationYear = int(v)
	}
	return md
}
