package activities

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"crimelens/internal/chunker"
	"crimelens/internal/config"
	"crimelens/internal/index"
	"crimelens/internal/metadata"
	"crimelens/internal/models"
	"crimelens/internal/providers"
	"crimelens/internal/storage"
	"crimelens/internal/util"

	"github.com/ledongthuc/pdf"
)

type Activities struct {
	cfg            config.Config
	collectionRepo *storage.CollectionRepo
	documentRepo   *storage.DocumentRepo
	chunkRepo      *storage.ChunkRepo
	reportRepo     *storage.ReportRepo
	auditRepo      *storage.AuditRepo
	idx            index.Index
	extractor      *metadata.Extractor
	providers      *providers.Manager
}

func New(cfg config.Config, db *storage.DB) (*Activities, error) {
	pm, err := providers.NewManager(cfg)
	if err != nil {
		return nil, err
	}
	idx, err := BuildIndex(cfg, db, pm)
	if err != nil {
		return nil, err
	}
	return &Activities{
		cfg:            cfg,
		collectionRepo: storage.NewCollectionRepo(db),
		documentRepo:   storage.NewDocumentRepo(db),
		chunkRepo:      storage.NewChunkRepo(db),
		reportRepo:     storage.NewReportRepo(db),
		auditRepo:      storage.NewAuditRepo(db),
		idx:            idx,
		extractor:      metadata.NewExtractor(),
		providers:      pm,
	}, nil
}

// BuildIndex picks the vector backend from configuration. The memory backend
// exists for tests and local runs without Postgres or Chroma.
func BuildIndex(cfg config.Config, db *storage.DB, pm *providers.Manager) (index.Index, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.IndexBackend)) {
	case "chroma":
		return index.NewChroma(cfg.ChromaURL, pm.FirstEmbedProvider(), cfg.EmbedDim), nil
	case "memory":
		return index.NewMemory(cfg.EmbedDim), nil
	case "", "pgvector":
		if db == nil {
			return nil, fmt.Errorf("pgvector backend requires a database connection")
		}
		return index.NewPgvector(db.Pool, pm.FirstEmbedProvider(), cfg.EmbedDim), nil
	default:
		return nil, fmt.Errorf("unknown index backend: %s", cfg.IndexBackend)
	}
}

func (a *Activities) ListPDFsActivity(ctx context.Context, in ListPDFsInput) (ListPDFsOutput, error) {
	_ = ctx
	entries, err := os.ReadDir(in.InputDir)
	if err != nil {
		return ListPDFsOutput{}, fmt.Errorf("read input dir: %w", err)
	}
	paths := make([]string, 0)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasSuffix(strings.ToLower(name), ".pdf") {
			paths = append(paths, filepath.Join(in.InputDir, name))
		}
	}
	sort.Strings(paths)
	return ListPDFsOutput{Paths: paths}, nil
}

func (a *Activities) EnsureCollectionActivity(ctx context.Context, in EnsureCollectionInput) (EnsureCollectionOutput, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return EnsureCollectionOutput{}, fmt.Errorf("collection name is empty")
	}
	err := a.collectionRepo.CreateCollection(ctx, models.Collection{
		CollectionID: name,
		Name:         name,
		Description:  in.Description,
	})
	if err != nil {
		return EnsureCollectionOutput{}, err
	}
	return EnsureCollectionOutput{CollectionID: name}, nil
}

func (a *Activities) WriteCollectionSummaryActivity(ctx context.Context, in WriteCollectionSummaryInput) error {
	_ = ctx
	outPath := filepath.Join(a.cfg.DataOutRoot, in.CollectionID, "collection_summary.json")
	return util.WriteJSONAtomic(outPath, in.Summary)
}

func (a *Activities) WriteRunManifestActivity(ctx context.Context, in WriteRunManifestInput) (WriteRunManifestOutput, error) {
	_ = ctx
	path := filepath.Join(a.cfg.DataOutRoot, in.Scope, "runs", in.RunID, "manifest.json")
	if err := util.WriteJSONAtomic(path, in.Manifest); err != nil {
		return WriteRunManifestOutput{}, err
	}
	return WriteRunManifestOutput{Path: path}, nil
}

func (a *Activities) ListFailedDocumentsActivity(ctx context.Context, in ListFailedDocumentsInput) (ListFailedDocumentsOutput, error) {
	docs, err := a.documentRepo.ListDocumentsByCollection(ctx, in.CollectionID)
	if err != nil {
		return ListFailedDocumentsOutput{}, err
	}
	out := ListFailedDocumentsOutput{Documents: make([]FailedDocument, 0)}
	for _, d := range docs {
		if d.Status != "failed" {
			continue
		}
		out.Documents = append(out.Documents, FailedDocument{DocumentID: d.DocumentID, Filename: d.Filename})
	}
	return out, nil
}

func (a *Activities) ListCollectionDocumentsActivity(ctx context.Context, in ListCollectionDocumentsInput) (ListCollectionDocumentsOutput, error) {
	docs, err := a.documentRepo.ListDocumentsByCollection(ctx, in.CollectionID)
	if err != nil {
		return ListCollectionDocumentsOutput{}, err
	}
	out := ListCollectionDocumentsOutput{Documents: make([]CollectionDocument, 0, len(docs))}
	for _, d := range docs {
		year := 0
		if d.Year != nil {
			year = *d.Year
		}
		out.Documents = append(out.Documents, CollectionDocument{
			DocumentID:  d.DocumentID,
			Filename:    d.Filename,
			Status:      d.Status,
			Title:       d.Title,
			Authority:   d.Authority,
			Reliability: d.Reliability,
			Year:        year,
			CrimeType:   d.CrimeType,
			FailReason:  d.FailReason,
		})
	}
	return out, nil
}

func (a *Activities) ComputeDocumentIDActivity(ctx context.Context, in ComputeDocumentIDInput) (ComputeDocumentIDOutput, error) {
	_ = ctx
	f, err := os.Open(in.DocumentPath)
	if err != nil {
		return ComputeDocumentIDOutput{}, fmt.Errorf("open file for hash: %w", err)
	}
	defer f.Close()
	sum, err := util.SHA256HexFromReader(f)
	if err != nil {
		return ComputeDocumentIDOutput{}, fmt.Errorf("hash file: %w", err)
	}
	return ComputeDocumentIDOutput{DocumentID: sum}, nil
}

func (a *Activities) ExtractTextActivity(ctx context.Context, in ExtractTextInput) (ExtractTextOutput, error) {
	_ = ctx
	f, r, err := pdf.Open(in.DocumentPath)
	if err != nil {
		return ExtractTextOutput{}, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	reader, err := r.GetPlainText()
	if err != nil {
		return ExtractTextOutput{}, fmt.Errorf("extract pdf text: %w", err)
	}
	buf := new(strings.Builder)
	if _, err := io.Copy(buf, reader); err != nil {
		return ExtractTextOutput{}, fmt.Errorf("read extracted text: %w", err)
	}
	text := util.SanitizeText(strings.TrimSpace(buf.String()))
	if text == "" {
		return ExtractTextOutput{}, util.ErrNoExtractableText
	}
	return ExtractTextOutput{Text: text}, nil
}

func (a *Activities) ExtractMetadataActivity(ctx context.Context, in ExtractMetadataInput) (ExtractMetadataOutput, error) {
	_ = ctx
	md := a.extractor.Extract(in.Text, in.Filename)
	return ExtractMetadataOutput{
		Title:      heuristicTitle(in.Text),
		Metadata:   md,
		Collection: metadata.RouteCollection(md),
	}, nil
}

func (a *Activities) ChunkTextActivity(ctx context.Context, in ChunkTextInput) (ChunkTextOutput, error) {
	_ = ctx
	if in.TargetTokens <= 0 {
		in.TargetTokens = a.cfg.ChunkTargetTokens
	}
	if in.OverlapRatio <= 0 {
		in.OverlapRatio = a.cfg.ChunkOverlapRatio
	}
	splitter := chunker.New(chunker.Config{
		TargetTokens: in.TargetTokens,
		OverlapRatio: in.OverlapRatio,
	})
	raw, err := splitter.Chunk(in.Text)
	if err != nil {
		return ChunkTextOutput{}, err
	}
	chunks := make([]ChunkItem, 0, len(raw))
	for _, ch := range raw {
		chunkHash := util.SHA256Hex([]byte(ch.Text))
		chunkID := util.SHA256Hex([]byte(fmt.Sprintf("%s:%d:%s:%s", in.DocumentID, ch.ChunkIndex, chunkHash, in.Version)))
		chunks = append(chunks, ChunkItem{
			ChunkID:      chunkID,
			DocumentID:   in.DocumentID,
			CollectionID: in.CollectionID,
			ChunkIndex:   ch.ChunkIndex,
			Text:         ch.Text,
			TokenCount:   ch.TokenCount,
			ContentType:  string(ch.ContentType),
			Confidence:   ch.Confidence,
			Metadata:     a.extractor.EnrichChunk(ch.Text, in.Metadata),
		})
	}
	return ChunkTextOutput{Chunks: chunks}, nil
}

func (a *Activities) UpsertChunksActivity(ctx context.Context, in UpsertChunksInput) error {
	records := make([]storage.ChunkRecord, 0, len(in.Chunks))
	for i, c := range in.Chunks {
		var embedding *string
		if i < len(in.Vectors) && len(in.Vectors[i]) > 0 {
			lit := index.ToLiteral(in.Vectors[i])
			embedding = &lit
		}
		md := c.Metadata.Map()
		md["document_id"] = c.DocumentID
		records = append(records, storage.ChunkRecord{
			ChunkID:          c.ChunkID,
			DocumentID:       c.DocumentID,
			CollectionID:     c.CollectionID,
			ChunkIndex:       c.ChunkIndex,
			Text:             c.Text,
			TokenCount:       c.TokenCount,
			ContentType:      c.ContentType,
			Confidence:       c.Confidence,
			Metadata:         md,
			EmbeddingVersion: in.EmbeddingVersion,
			EmbeddingVector:  embedding,
		})
	}
	return a.chunkRepo.UpsertChunks(ctx, records)
}

func (a *Activities) WriteDocumentArtifactsActivity(ctx context.Context, in WriteDocumentArtifactsInput) error {
	_ = ctx
	base := filepath.Join(a.cfg.DataOutRoot, in.CollectionID, "documents", in.DocumentID)
	if err := util.EnsureDir(base); err != nil {
		return err
	}
	if err := util.WriteJSONAtomic(filepath.Join(base, "metadata.json"), in.Metadata); err != nil {
		return err
	}
	rows := make([]any, 0, len(in.Chunks))
	for _, c := range in.Chunks {
		rows = append(rows, c)
	}
	if err := util.WriteJSONLinesAtomic(filepath.Join(base, "chunks.jsonl"), rows); err != nil {
		return err
	}
	return util.WriteJSONAtomic(filepath.Join(base, "processing_log.json"), in.ProcessingLog)
}

func (a *Activities) UpdateDocumentStatusActivity(ctx context.Context, in UpdateDocumentStatusInput) error {
	var year *int
	if in.Year != 0 {
		year = &in.Year
	}
	return a.documentRepo.UpsertDocument(ctx, models.Document{
		DocumentID:   in.DocumentID,
		CollectionID: in.CollectionID,
		Filename:     in.Filename,
		Title:        in.Title,
		Authority:    in.Authority,
		Reliability:  in.Reliability,
		Year:         year,
		CrimeType:    in.CrimeType,
		Status:       in.Status,
		FailReason:   in.FailReason,
	})
}

func (a *Activities) EmbedChunksActivity(ctx context.Context, in EmbedChunksInput) (EmbedChunksOutput, error) {
	inputs := make([]string, 0, len(in.Input))
	for _, c := range in.Input {
		inputs = append(inputs, c.Text)
	}
	provider, _ := a.providers.EmbedProviderByIndex(in.ProviderIndex)
	vectors, info, err := provider.Embed(ctx, providers.EmbedRequest{
		Operation: in.Operation,
		Inputs:    inputs,
		Dimension: a.cfg.EmbedDim,
	})
	if err != nil {
		return EmbedChunksOutput{}, err
	}
	return EmbedChunksOutput{
		Vectors:      vectors,
		ProviderName: info.Name,
		Model:        info.Model,
	}, nil
}

func (a *Activities) EmbedQueryActivity(ctx context.Context, in EmbedQueryInput) (EmbedQueryOutput, error) {
	provider, _ := a.providers.EmbedProviderByIndex(in.ProviderIndex)
	vectors, info, err := provider.Embed(ctx, providers.EmbedRequest{
		Operation: in.Operation,
		Inputs:    []string{in.Text},
		Dimension: a.cfg.EmbedDim,
	})
	if err != nil {
		return EmbedQueryOutput{}, err
	}
	if len(vectors) == 0 {
		return EmbedQueryOutput{}, fmt.Errorf("embedding provider returned empty vectors")
	}
	return EmbedQueryOutput{Vector: vectors[0], ProviderName: info.Name, Model: info.Model}, nil
}

func (a *Activities) SearchChunksActivity(ctx context.Context, in SearchChunksInput) (SearchChunksOutput, error) {
	cands, err := a.idx.SimilaritySearch(ctx, in.Collection, in.QueryVec, in.TopK, in.Filters)
	if err != nil {
		return SearchChunksOutput{}, err
	}
	out := make([]SearchChunk, 0, len(cands))
	for _, c := range cands {
		docID := ""
		if v, ok := c.Metadata["document_id"].(string); ok {
			docID = v
		}
		out = append(out, SearchChunk{
			ChunkID:    c.ID,
			DocumentID: docID,
			Collection: in.Collection,
			Snippet:    util.DisplaySnippet(c.Text, 200),
			Score:      c.Score,
			Text:       c.Text,
			Metadata:   c.Metadata,
		})
	}
	return SearchChunksOutput{Results: out}, nil
}

func (a *Activities) LLMGenerateActivity(ctx context.Context, in LLMGenerateInput) (LLMGenerateOutput, error) {
	if in.ProviderRef != "" {
		if idx := a.providers.FindLLMProviderIndex(in.ProviderRef); idx >= 0 {
			in.ProviderIndex = idx
		} else {
			return LLMGenerateOutput{}, fmt.Errorf("llm provider ref not configured in worker: %s", in.ProviderRef)
		}
	}
	provider, ref := a.providers.LLMProviderByIndex(in.ProviderIndex)
	resp, info, err := provider.Generate(ctx, providers.GenerateRequest{
		Operation: in.Operation,
		System:    in.System,
		Prompt:    in.Prompt,
		Context:   in.Context,
	})
	if err != nil {
		return LLMGenerateOutput{}, fmt.Errorf("llm generate via %s failed: %w", ref.Raw, err)
	}
	return LLMGenerateOutput{
		Text:         resp.Text,
		ProviderName: info.Name,
		Model:        info.Model,
	}, nil
}

func (a *Activities) LogLLMCallActivity(ctx context.Context, in LogLLMCallInput) error {
	return a.auditRepo.InsertLLMCall(ctx, storage.LLMCallRecord{
		CallID:       in.CallID,
		Operation:    in.Operation,
		CollectionID: in.CollectionID,
		DocumentID:   in.DocumentID,
		ProviderName: in.ProviderName,
		Model:        in.Model,
		RequestID:    in.RequestID,
		Status:       in.Status,
		ErrorType:    in.ErrorType,
	})
}

func (a *Activities) CreateReportRunActivity(ctx context.Context, in CreateReportRunInput) error {
	return a.reportRepo.CreateRun(ctx, in.ReportRunID, in.CollectionID, in.Title, in.Topics)
}

func (a *Activities) WriteCaseReportActivity(ctx context.Context, in WriteCaseReportInput) (WriteCaseReportOutput, error) {
	_ = ctx
	outPath := filepath.Join(a.cfg.DataOutRoot, in.CollectionID, "reports", in.ReportRunID, "report.md")
	if err := util.WriteTextAtomic(outPath, in.Report); err != nil {
		return WriteCaseReportOutput{}, err
	}
	return WriteCaseReportOutput{OutPath: outPath}, nil
}

func (a *Activities) UpdateReportRunActivity(ctx context.Context, in UpdateReportRunInput) error {
	return a.reportRepo.UpdateRunStatus(ctx, in.ReportRunID, in.Status, in.OutPath)
}

func heuristicTitle(text string) string {
	s := bufio.NewScanner(strings.NewReader(text))
	for s.Scan() {
		line := strings.TrimSpace(s.Text())
		if line != "" {
			return line
		}
	}
	return ""
}
