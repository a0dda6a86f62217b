package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"crimelens/internal/index"
	"crimelens/internal/prompts"
	"crimelens/internal/providers"
	"crimelens/internal/rerank"
	"crimelens/internal/retriever"
)

type fakeIndex struct {
	candidates []index.Candidate
	err        error
}

func (f *fakeIndex) Embed(context.Context, string) ([]float32, error) {
	return []float32{1, 0}, nil
}

func (f *fakeIndex) SimilaritySearch(_ context.Context, _ string, _ []float32, k int, _ map[string]any) ([]index.Candidate, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := f.candidates
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

type fakeLLM struct {
	failures int
	failWith string
	text     string
	calls    int
}

func (f *fakeLLM) Generate(context.Context, providers.GenerateRequest) (providers.GenerateResponse, providers.ProviderInfo, error) {
	f.calls++
	if f.calls <= f.failures {
		return providers.GenerateResponse{}, providers.ProviderInfo{Name: "fake"}, errors.New(f.failWith)
	}
	return providers.GenerateResponse{Text: f.text}, providers.ProviderInfo{Name: "fake", Model: "fake-1"}, nil
}

type captureSink struct {
	records []AuditRecord
}

func (c *captureSink) RecordQuery(_ context.Context, rec AuditRecord) error {
	c.records = append(c.records, rec)
	return nil
}

type failingScorer struct{}

func (failingScorer) Score(context.Context, string, string) (float64, error) {
	return 0, errors.New("cross encoder offline")
}

func testCandidates(n int) []index.Candidate {
	out := make([]index.Candidate, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, index.Candidate{
			ID:    fmt.Sprintf("chunk-%d", i),
			Text:  fmt.Sprintf("Recovered evidence item %d was documented at the scene.", i),
			Score: 0.9 - float64(i)*0.05,
			Metadata: map[string]any{
				"source":             fmt.Sprintf("report_%d.pdf", i),
				"document_authority": "FBI",
				"source_reliability": "high",
			},
		})
	}
	return out
}

func newTestPipeline(idx index.Index, llm providers.LLMProvider, rr rerank.Reranker, sink AuditSink, cfg Config) *Pipeline {
	r := retriever.New(idx, retriever.Config{})
	p := New(r, rr, llm, sink, cfg)
	p.sleep = func(time.Duration) {}
	return p
}

func runOpts() Options {
	return Options{K: 3, Collections: []string{"forensic_cases"}}
}

func TestRunHappyPath(t *testing.T) {
	sink := &captureSink{}
	p := newTestPipeline(&fakeIndex{candidates: testCandidates(4)}, &fakeLLM{text: "The evidence indicates a pattern [1]."}, nil, sink, Config{})

	state := p.Run(context.Background(), "ballistics analysis techniques", runOpts())
	require.Nil(t, state.Err)
	require.Equal(t, StageDone, state.Stage)
	require.Contains(t, state.Response, "The evidence indicates a pattern [1].")
	require.Contains(t, state.Response, "Sources consulted:")
	require.NotEmpty(t, state.Sources)
	require.Equal(t, 1, state.Sources[0].Ref)
	require.Len(t, sink.records, 1)
	require.Equal(t, StageDone, sink.records[0].Stage)
}

func TestRunRejectsEmptyQuery(t *testing.T) {
	p := newTestPipeline(&fakeIndex{}, &fakeLLM{text: "x"}, nil, nil, Config{})
	state := p.Run(context.Background(), "   ", Options{})
	require.Equal(t, StageFailed, state.Stage)
	require.NotNil(t, state.Err)
	require.Equal(t, ErrorKindInput, state.Err.Kind)
}

func TestRunIndexUnavailableIsFatal(t *testing.T) {
	sink := &captureSink{}
	idx := &fakeIndex{err: fmt.Errorf("%w: connection refused", index.ErrUnavailable)}
	p := newTestPipeline(idx, &fakeLLM{text: "x"}, nil, sink, Config{})

	state := p.Run(context.Background(), "q", runOpts())
	require.Equal(t, StageFailed, state.Stage)
	require.Equal(t, ErrorKindIndexUnavailable, state.Err.Kind)
	require.Empty(t, state.Response)
	require.Empty(t, state.Sources)
	require.Len(t, sink.records, 1)
	require.Equal(t, string(ErrorKindIndexUnavailable), sink.records[0].ErrorKind)
}

func TestRunZeroDocumentsYieldsInsufficientEvidence(t *testing.T) {
	llm := &fakeLLM{text: "should never be called"}
	p := newTestPipeline(&fakeIndex{}, llm, nil, nil, Config{})

	state := p.Run(context.Background(), "obscure query with no coverage", runOpts())
	require.Nil(t, state.Err)
	require.Equal(t, StageDone, state.Stage)
	require.Equal(t, prompts.InsufficientEvidence, state.Response)
	require.Empty(t, state.Sources)
	require.Zero(t, llm.calls)
}

func TestRunRerankFailsSoft(t *testing.T) {
	rr := &rerank.CrossEncoder{Scorer: failingScorer{}}
	p := newTestPipeline(&fakeIndex{candidates: testCandidates(3)}, &fakeLLM{text: "Answer [1]."}, rr, nil, Config{})

	opts := runOpts()
	opts.UseReranker = true
	state := p.Run(context.Background(), "q", opts)
	require.Nil(t, state.Err)
	require.Equal(t, StageDone, state.Stage)
	require.NotEmpty(t, state.Metadata["rerank_failure"])
	require.Nil(t, state.RerankedDocuments)
	// Retrieval order survives.
	require.Equal(t, "chunk-0", state.Documents[0].Chunk.ChunkID)
}

func TestRunGenerationRetriesThenSucceeds(t *testing.T) {
	llm := &fakeLLM{failures: 2, failWith: "429 too many requests", text: "Recovered after retry [1]."}
	p := newTestPipeline(&fakeIndex{candidates: testCandidates(3)}, llm, nil, nil, Config{MaxRetries: 3})

	state := p.Run(context.Background(), "q", runOpts())
	require.Nil(t, state.Err)
	require.Equal(t, StageDone, state.Stage)
	require.Equal(t, 3, llm.calls)
	require.Equal(t, "2", state.Metadata["generation_retries"])
}

func TestRunGenerationExhaustsRetries(t *testing.T) {
	llm := &fakeLLM{failures: 100, failWith: "429 too many requests"}
	p := newTestPipeline(&fakeIndex{candidates: testCandidates(3)}, llm, nil, nil, Config{MaxRetries: 1})

	state := p.Run(context.Background(), "q", runOpts())
	require.Equal(t, StageFailed, state.Stage)
	require.Equal(t, ErrorKindGeneration, state.Err.Kind)
	require.Equal(t, DetailRateLimited, state.Err.Detail)
	require.Equal(t, 2, llm.calls)
	// Monotonicity: the failed run exposes no partial response.
	require.Empty(t, state.Response)
	require.Empty(t, state.Sources)
	require.NotEmpty(t, state.Documents)
}

func TestRunNonRetryableGenerationFailsFast(t *testing.T) {
	llm := &fakeLLM{failures: 100, failWith: "invalid api key"}
	p := newTestPipeline(&fakeIndex{candidates: testCandidates(3)}, llm, nil, nil, Config{MaxRetries: 3})

	state := p.Run(context.Background(), "q", runOpts())
	require.Equal(t, StageFailed, state.Stage)
	require.Equal(t, ErrorKindGeneration, state.Err.Kind)
	require.Equal(t, 1, llm.calls)
}

func TestRunContextBudgetTruncatesLowestRanked(t *testing.T) {
	p := newTestPipeline(&fakeIndex{candidates: testCandidates(4)}, &fakeLLM{text: "Short answer [1]."}, nil, nil, Config{})

	opts := runOpts()
	opts.K = 4
	opts.MaxContextTokens = 10 // each candidate text is ~8 tokens
	state := p.Run(context.Background(), "q", opts)
	require.Nil(t, state.Err)
	require.Len(t, state.UsedDocuments, 1)
	require.Equal(t, "chunk-0", state.UsedDocuments[0].Chunk.ChunkID)
	require.Len(t, state.Sources, 1)
}
