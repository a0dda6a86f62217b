// Package pipeline sequences Retrieve, optional Rerank, Generate, and Format
// for one query, carrying a single state record through the stages and
// degrading per stage according to each stage's failure policy.
package pipeline

import (
	"context"
	"errors"
	"log"
	"strconv"
	"strings"
	"time"

	"crimelens/internal/index"
	"crimelens/internal/models"
	"crimelens/internal/prompts"
	"crimelens/internal/providers"
	"crimelens/internal/rerank"
	"crimelens/internal/retriever"
)

type Stage string

const (
	StageStart     Stage = "start"
	StageRetrieved Stage = "retrieved"
	StageReranked  Stage = "reranked"
	StageGenerated Stage = "generated"
	StageFormatted Stage = "formatted"
	StageDone      Stage = "done"
	StageFailed    Stage = "failed"
)

// State is the per-query record threaded through the stages. It is owned by
// exactly one Run invocation and never shared across queries. Once Err is
// set only Metadata may change.
type State struct {
	Query             string
	Stage             Stage
	Documents         []models.RetrievedDocument
	RerankedDocuments []models.RetrievedDocument
	// UsedDocuments is the subset of active documents that fit the context
	// budget; citations cover exactly this set.
	UsedDocuments []models.RetrievedDocument
	Context       string
	Response      string
	Sources       []models.Source
	Err           *Error
	Metadata      map[string]string
	StartedAt     time.Time
	FinishedAt    time.Time
}

// ActiveDocuments is the set generation works from: reranked when present,
// otherwise the retrieval order.
func (s *State) ActiveDocuments() []models.RetrievedDocument {
	if s.RerankedDocuments != nil {
		return s.RerankedDocuments
	}
	return s.Documents
}

func (s *State) note(key, value string) {
	s.Metadata[key] = value
}

func (s *State) fail(e *Error) {
	if s.Err == nil {
		s.Err = e
	}
	s.Stage = StageFailed
}

// Options configures one Run. Zero values fall back to pipeline defaults.
type Options struct {
	K                     int
	UseReranker           bool
	Filters               map[string]any
	Collections           []string
	DiversityLambda       *float64
	MaxContextTokens      int
	PrioritizeReliability bool
}

type Config struct {
	DefaultK          int
	DefaultLambda     float64
	MaxContextTokens  int
	MaxRetries        int
	RetryBaseDelay    time.Duration
	GenerationTimeout time.Duration
}

// AuditRecord is what the audit sink persists once per completed or failed
// run.
type AuditRecord struct {
	Query        string
	Stage        Stage
	Response     string
	Sources      []models.Source
	UsedChunkIDs []string
	Prompt       string
	ErrorKind    string
	ErrorMessage string
	Metadata     map[string]string
	StartedAt    time.Time
	Duration     time.Duration
}

// AuditSink persists audit records. Sink failures are logged, never surfaced.
type AuditSink interface {
	RecordQuery(ctx context.Context, rec AuditRecord) error
}

type Pipeline struct {
	retriever *retriever.Retriever
	reranker  rerank.Reranker
	llm       providers.LLMProvider
	audit     AuditSink
	cfg       Config

	// sleep is swapped out by tests to avoid real backoff waits.
	sleep func(time.Duration)
}

func New(r *retriever.Retriever, rr rerank.Reranker, llm providers.LLMProvider, audit AuditSink, cfg Config) *Pipeline {
	if cfg.DefaultK <= 0 {
		cfg.DefaultK = 5
	}
	if cfg.DefaultLambda <= 0 || cfg.DefaultLambda > 1 {
		cfg.DefaultLambda = 0.7
	}
	if cfg.MaxContextTokens <= 0 {
		cfg.MaxContextTokens = 3000
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = 500 * time.Millisecond
	}
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = 60 * time.Second
	}
	if rr == nil {
		rr = rerank.PassThrough{}
	}
	return &Pipeline{retriever: r, reranker: rr, llm: llm, audit: audit, cfg: cfg, sleep: time.Sleep}
}

// Run executes the full pipeline for one query and always returns a terminal
// state: StageDone with a response and sources, or StageFailed with a typed
// error.
func (p *Pipeline) Run(ctx context.Context, query string, opts Options) *State {
	state := &State{
		Query:     strings.TrimSpace(query),
		Stage:     StageStart,
		Metadata:  make(map[string]string),
		StartedAt: time.Now(),
	}
	defer func() {
		state.FinishedAt = time.Now()
		p.recordAudit(ctx, state)
	}()

	if state.Query == "" {
		state.fail(newError(ErrorKindInput, "", "query must be non-empty", nil))
		return state
	}

	if !p.retrieve(ctx, state, opts) {
		return state
	}
	if len(state.Documents) == 0 {
		state.note("empty_result", "true")
		state.Response = prompts.InsufficientEvidence
		state.Sources = []models.Source{}
		state.Stage = StageDone
		return state
	}
	if opts.UseReranker {
		p.rerank(ctx, state)
	}
	if !p.generate(ctx, state, opts) {
		return state
	}
	if !p.format(state) {
		return state
	}
	state.Stage = StageDone
	return state
}

func (p *Pipeline) retrieve(ctx context.Context, state *State, opts Options) bool {
	k := opts.K
	if k <= 0 {
		k = p.cfg.DefaultK
	}
	lambda := p.cfg.DefaultLambda
	if opts.DiversityLambda != nil {
		lambda = *opts.DiversityLambda
	}

	start := time.Now()
	docs, err := p.retriever.Retrieve(ctx, state.Query, retriever.Options{
		K:                     k,
		Collections:           opts.Collections,
		Filters:               opts.Filters,
		DiversityLambda:       lambda,
		PrioritizeReliability: opts.PrioritizeReliability,
	})
	state.note("retrieve_ms", durationMs(start))
	if err != nil {
		detail := ""
		if errors.Is(err, index.ErrUnavailable) {
			detail = "backend_unreachable"
		}
		state.fail(newError(ErrorKindIndexUnavailable, detail, err.Error(), err))
		return false
	}
	state.Documents = docs
	state.Stage = StageRetrieved
	return true
}

// rerank can never fail the pipeline: scorer errors leave the retrieval
// order in place and record the cause in metadata.
func (p *Pipeline) rerank(ctx context.Context, state *State) {
	start := time.Now()
	res := p.reranker.Rerank(ctx, state.Query, state.Documents)
	state.note("rerank_ms", durationMs(start))
	if res.FailureNote != "" {
		state.note("rerank_failure", res.FailureNote)
		log.Printf("pipeline: rerank failed soft: %s", res.FailureNote)
		return
	}
	if _, isPassThrough := p.reranker.(rerank.PassThrough); isPassThrough {
		return
	}
	state.RerankedDocuments = res.Documents
	state.Stage = StageReranked
}

func (p *Pipeline) generate(ctx context.Context, state *State, opts Options) bool {
	budget := opts.MaxContextTokens
	if budget <= 0 {
		budget = p.cfg.MaxContextTokens
	}
	used, blocks := buildContext(state.ActiveDocuments(), budget)
	state.UsedDocuments = used
	state.Context = prompts.JoinContext(blocks)
	state.note("context_documents", strconv.Itoa(len(used)))

	prompt := prompts.AnswerPrompt(state.Query, blocks)
	var lastErr error
	for attempt := 0; attempt <= p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			p.sleep(p.cfg.RetryBaseDelay << (attempt - 1))
		}
		callCtx, cancel := context.WithTimeout(ctx, p.cfg.GenerationTimeout)
		resp, info, err := p.llm.Generate(callCtx, providers.GenerateRequest{
			Operation: "answer",
			System:    prompts.AnalystSystem,
			Prompt:    prompt,
		})
		cancel()
		if err == nil && strings.TrimSpace(resp.Text) == "" {
			err = errors.New("malformed generation output: empty response text")
		}
		if err == nil {
			state.Response = resp.Text
			state.Stage = StageGenerated
			state.note("llm_provider", info.Name)
			state.note("llm_model", info.Model)
			if attempt > 0 {
				state.note("generation_retries", strconv.Itoa(attempt))
			}
			return true
		}
		lastErr = err
		kind := providers.ClassifyError(err)
		log.Printf("pipeline: generation attempt %d failed (%s): %v", attempt+1, kind, err)
		if !providers.Retryable(kind) {
			break
		}
	}
	state.fail(newError(ErrorKindGeneration, generationDetail(lastErr), lastErr.Error(), lastErr))
	return false
}

func (p *Pipeline) format(state *State) bool {
	final, sources, err := FormatResponse(state.Response, state.UsedDocuments)
	if err != nil {
		state.fail(newError(ErrorKindFormat, "", err.Error(), err))
		return false
	}
	state.Response = final
	state.Sources = sources
	state.Stage = StageFormatted
	return true
}

// buildContext renders documents highest rank first until the token budget
// is exhausted. Lowest-ranked documents are the ones truncated.
func buildContext(docs []models.RetrievedDocument, budget int) ([]models.RetrievedDocument, []string) {
	var used []models.RetrievedDocument
	var blocks []string
	total := 0
	for _, d := range docs {
		tokens := len(strings.Fields(d.Chunk.Text))
		if total+tokens > budget && len(used) > 0 {
			break
		}
		used = append(used, d)
		blocks = append(blocks, prompts.ContextBlock(len(used), d.Chunk.Metadata.Source, d.Chunk.Text))
		total += tokens
	}
	return used, blocks
}

func generationDetail(err error) string {
	switch providers.ClassifyError(err) {
	case providers.ErrorRate, providers.ErrorQuota:
		return DetailRateLimited
	case providers.ErrorTimeout, providers.ErrorContext:
		return DetailTimeout
	default:
		return DetailMalformed
	}
}

func (p *Pipeline) recordAudit(ctx context.Context, state *State) {
	if p.audit == nil {
		return
	}
	rec := AuditRecord{
		Query:     state.Query,
		Stage:     state.Stage,
		Response:  state.Response,
		Sources:   state.Sources,
		Prompt:    state.Context,
		Metadata:  state.Metadata,
		StartedAt: state.StartedAt,
		Duration:  state.FinishedAt.Sub(state.StartedAt),
	}
	for _, d := range state.ActiveDocuments() {
		rec.UsedChunkIDs = append(rec.UsedChunkIDs, d.Chunk.ChunkID)
	}
	if state.Err != nil {
		rec.ErrorKind = string(state.Err.Kind)
		rec.ErrorMessage = state.Err.Message
	}
	if err := p.audit.RecordQuery(ctx, rec); err != nil {
		log.Printf("pipeline: audit record failed: %v", err)
	}
}

func durationMs(start time.Time) string {
	return strconv.FormatInt(time.Since(start).Milliseconds(), 10)
}
