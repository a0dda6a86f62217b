package workflows

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"crimelens/internal/activities"
	"crimelens/internal/prompts"
	"crimelens/internal/providers"
	"crimelens/internal/retriever"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

const (
	QueryGetDocumentStatus = "GetDocumentStatus"
	QueryGetProgress       = "GetProgress"
	QueryGetReportProgress = "GetReportProgress"
)

type providerState struct {
	disabledUntil map[int]time.Time
	retries       map[string]int
}

func newProviderState() providerState {
	return providerState{disabledUntil: map[int]time.Time{}, retries: map[string]int{}}
}

func CollectionIngestWorkflow(ctx workflow.Context, input CollectionIngestInput) (string, error) {
	progress := CollectionIngestProgress{
		IngestID:      input.IngestID,
		PerDocument:   map[string]string{},
		ChildWorkflow: map[string]string{},
	}
	if err := workflow.SetQueryHandler(ctx, QueryGetProgress, func() (CollectionIngestProgress, error) {
		return progress, nil
	}); err != nil {
		return "", err
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    20 * time.Second,
			MaximumAttempts:    3,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	var listOut activities.ListPDFsOutput
	if err := workflow.ExecuteActivity(ctx, "ListPDFsActivity", activities.ListPDFsInput{InputDir: input.InputDir}).Get(ctx, &listOut); err != nil {
		return "", err
	}
	paths := listOut.Paths
	progress.Total = len(paths)
	maxChildren := input.MaxConcurrentChildren
	if maxChildren <= 0 {
		maxChildren = 3
	}

	for i := 0; i < len(paths); i += maxChildren {
		end := i + maxChildren
		if end > len(paths) {
			end = len(paths)
		}
		futures := make([]workflow.ChildWorkflowFuture, 0, end-i)
		childPaths := make([]string, 0, end-i)
		for _, path := range paths[i:end] {
			progress.PerDocument[path] = "processing"
			workflowID := "document-" + sanitizeID(input.IngestID) + "-" + sanitizeID(filepathBase(path))
			cwo := workflow.ChildWorkflowOptions{WorkflowID: workflowID}
			childCtx := workflow.WithChildOptions(ctx, cwo)
			f := workflow.ExecuteChildWorkflow(childCtx, DocumentProcessWorkflow, DocumentProcessInput{
				DocumentPath:    path,
				Collection:      input.Collection,
				ChunkVersion:    defaultChunkVersion(input.ChunkVersion),
				EmbedVersion:    defaultEmbedVersion(input.EmbedVersion),
				EmbedProviders:  input.EmbedProviders,
				CooldownSeconds: input.CooldownSeconds,
			})
			futures = append(futures, f)
			childPaths = append(childPaths, path)
			progress.ChildWorkflow[path] = workflowID
		}

		for idx, f := range futures {
			var childStatus string
			err := f.Get(ctx, &childStatus)
			path := childPaths[idx]
			if err != nil {
				progress.Failed++
				progress.PerDocument[path] = "failed"
				continue
			}
			if childStatus == "failed" {
				progress.Failed++
			}
			progress.Done++
			progress.PerDocument[path] = childStatus
		}
	}
	_ = workflow.ExecuteActivity(ctx, "WriteCollectionSummaryActivity", activities.WriteCollectionSummaryInput{
		CollectionID: input.IngestID,
		Summary: map[string]any{
			"ingest_id":           input.IngestID,
			"total":               progress.Total,
			"done":                progress.Done,
			"failed":              progress.Failed,
			"per_document_status": progress.PerDocument,
			"generated_at":        workflow.Now(ctx),
		},
	}).Get(ctx, nil)

	return "completed", nil
}

// DocumentProcessWorkflow runs one document through extraction, metadata
// routing, chunking, embedding and indexing. Documents without extractable
// text fail gracefully with a recorded reason instead of erroring the run.
func DocumentProcessWorkflow(ctx workflow.Context, input DocumentProcessInput) (string, error) {
	status := DocumentStatus{
		DocumentPath: input.DocumentPath,
		CurrentStep:  "init",
		Status:       "processing",
		RetryCounts:  map[string]int{},
		Steps:        map[string]string{},
	}
	if err := workflow.SetQueryHandler(ctx, QueryGetDocumentStatus, func() (DocumentStatus, error) {
		return status, nil
	}); err != nil {
		return "", err
	}

	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    20 * time.Second,
			MaximumAttempts:    2,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	filename := filepath.Base(input.DocumentPath)
	cooldown := durationOrDefault(input.CooldownSeconds, 900)
	providerCount := input.EmbedProviders
	if providerCount <= 0 {
		providerCount = 1
	}
	state := newProviderState()
	fallbackCollection := input.Collection
	if strings.TrimSpace(fallbackCollection) == "" {
		fallbackCollection = "forensic_cases"
	}

	status.CurrentStep = "compute_document_id"
	status.Steps[status.CurrentStep] = "processing"
	var computeOut activities.ComputeDocumentIDOutput
	if err := workflow.ExecuteActivity(ctx, "ComputeDocumentIDActivity", activities.ComputeDocumentIDInput{DocumentPath: input.DocumentPath}).Get(ctx, &computeOut); err != nil {
		return "", err
	}
	status.DocumentID = computeOut.DocumentID
	status.Steps[status.CurrentStep] = "done"

	status.CurrentStep = "extract_text"
	status.Steps[status.CurrentStep] = "processing"
	var textOut activities.ExtractTextOutput
	if err := workflow.ExecuteActivity(ctx, "ExtractTextActivity", activities.ExtractTextInput{DocumentPath: input.DocumentPath}).Get(ctx, &textOut); err != nil {
		if isNoTextError(err) {
			status.Status = "failed"
			status.Collection = fallbackCollection
			status.FailReason = "no extractable text found (OCR not enabled)"
			status.Steps[status.CurrentStep] = "failed"
			_ = workflow.ExecuteActivity(ctx, "EnsureCollectionActivity", activities.EnsureCollectionInput{Name: fallbackCollection}).Get(ctx, nil)
			_ = workflow.ExecuteActivity(ctx, "UpdateDocumentStatusActivity", activities.UpdateDocumentStatusInput{DocumentID: computeOut.DocumentID, CollectionID: fallbackCollection, Filename: filename, Status: "failed", FailReason: status.FailReason}).Get(ctx, nil)
			return status.Status, nil
		}
		return "", err
	}
	status.Steps[status.CurrentStep] = "done"

	status.CurrentStep = "extract_metadata"
	status.Steps[status.CurrentStep] = "processing"
	var metaOut activities.ExtractMetadataOutput
	if err := workflow.ExecuteActivity(ctx, "ExtractMetadataActivity", activities.ExtractMetadataInput{Text: textOut.Text, Filename: filename}).Get(ctx, &metaOut); err != nil {
		return "", err
	}
	collection := metaOut.Collection
	if strings.TrimSpace(input.Collection) != "" {
		collection = input.Collection
	}
	status.Collection = collection
	status.Steps[status.CurrentStep] = "done"

	status.CurrentStep = "ensure_collection"
	status.Steps[status.CurrentStep] = "processing"
	if err := workflow.ExecuteActivity(ctx, "EnsureCollectionActivity", activities.EnsureCollectionInput{Name: collection}).Get(ctx, nil); err != nil {
		return "", err
	}
	status.Steps[status.CurrentStep] = "done"

	_ = workflow.ExecuteActivity(ctx, "UpdateDocumentStatusActivity", activities.UpdateDocumentStatusInput{
		DocumentID:   computeOut.DocumentID,
		CollectionID: collection,
		Filename:     filename,
		Title:        metaOut.Title,
		Authority:    metaOut.Metadata.DocumentAuthority,
		Reliability:  metaOut.Metadata.SourceReliability,
		Year:         metaOut.Metadata.PublicationYear,
		CrimeType:    metaOut.Metadata.CrimeType,
		Status:       "processing",
	}).Get(ctx, nil)

	status.CurrentStep = "chunk_text"
	status.Steps[status.CurrentStep] = "processing"
	var chunkOut activities.ChunkTextOutput
	if err := workflow.ExecuteActivity(ctx, "ChunkTextActivity", activities.ChunkTextInput{
		DocumentID:   computeOut.DocumentID,
		CollectionID: collection,
		Text:         textOut.Text,
		TargetTokens: input.TargetTokens,
		OverlapRatio: input.OverlapRatio,
		Version:      defaultChunkVersion(input.ChunkVersion),
		Metadata:     metaOut.Metadata,
	}).Get(ctx, &chunkOut); err != nil {
		return "", err
	}
	status.Steps[status.CurrentStep] = "done"

	status.CurrentStep = "embed_chunks"
	status.Steps[status.CurrentStep] = "processing"
	preferred := input.PreferredEmbedProviderIndex
	if preferred == 0 && !input.StrictEmbedProvider {
		preferred = -1
	}
	embedOut, err := callEmbedWithFailover(ctx, &state, providerCount, cooldown, activities.EmbedChunksInput{
		Operation:    "embed",
		CollectionID: collection,
		DocumentID:   computeOut.DocumentID,
		Input:        chunkOut.Chunks,
	}, status.RetryCounts, preferred, input.StrictEmbedProvider)
	if err != nil {
		return "", err
	}
	status.Providers = append(status.Providers, embedOut.ProviderName)
	status.Steps[status.CurrentStep] = "done"

	status.CurrentStep = "upsert_chunks"
	status.Steps[status.CurrentStep] = "processing"
	if err := workflow.ExecuteActivity(ctx, "UpsertChunksActivity", activities.UpsertChunksInput{Chunks: chunkOut.Chunks, Vectors: embedOut.Vectors, EmbeddingVersion: defaultEmbedVersion(input.EmbedVersion)}).Get(ctx, nil); err != nil {
		if isInvalidTextEncodingError(err) {
			status.Status = "failed"
			status.FailReason = "document contains invalid text encoding after extraction"
			status.Steps[status.CurrentStep] = "failed"
			_ = workflow.ExecuteActivity(ctx, "UpdateDocumentStatusActivity", activities.UpdateDocumentStatusInput{
				DocumentID:   computeOut.DocumentID,
				CollectionID: collection,
				Filename:     filename,
				Status:       "failed",
				FailReason:   status.FailReason,
			}).Get(ctx, nil)
			return status.Status, nil
		}
		return "", err
	}
	status.Steps[status.CurrentStep] = "done"

	status.CurrentStep = "write_artifacts"
	status.Steps[status.CurrentStep] = "processing"
	if err := workflow.ExecuteActivity(ctx, "WriteDocumentArtifactsActivity", activities.WriteDocumentArtifactsInput{
		CollectionID: collection,
		DocumentID:   computeOut.DocumentID,
		Metadata: map[string]any{
			"document_id":        computeOut.DocumentID,
			"filename":           filename,
			"title":              metaOut.Title,
			"collection":         collection,
			"crime_type":         metaOut.Metadata.CrimeType,
			"document_authority": metaOut.Metadata.DocumentAuthority,
			"source_reliability": metaOut.Metadata.SourceReliability,
			"document_type":      metaOut.Metadata.DocumentType,
			"publication_year":   metaOut.Metadata.PublicationYear,
			"chunk_count":        len(chunkOut.Chunks),
		},
		Chunks:        chunkOut.Chunks,
		ProcessingLog: map[string]any{"status": "processed", "steps": status.Steps, "generated_at": workflow.Now(ctx)},
	}).Get(ctx, nil); err != nil {
		return "", err
	}
	status.Steps[status.CurrentStep] = "done"

	status.CurrentStep = "mark_processed"
	status.Steps[status.CurrentStep] = "processing"
	if err := workflow.ExecuteActivity(ctx, "UpdateDocumentStatusActivity", activities.UpdateDocumentStatusInput{
		DocumentID:   computeOut.DocumentID,
		CollectionID: collection,
		Filename:     filename,
		Title:        metaOut.Title,
		Authority:    metaOut.Metadata.DocumentAuthority,
		Reliability:  metaOut.Metadata.SourceReliability,
		Year:         metaOut.Metadata.PublicationYear,
		CrimeType:    metaOut.Metadata.CrimeType,
		Status:       "processed",
	}).Get(ctx, nil); err != nil {
		return "", err
	}
	status.Steps[status.CurrentStep] = "done"
	status.CurrentStep = "done"
	status.Status = "processed"
	return status.Status, nil
}

// CaseReportWorkflow drafts a cited markdown dossier, one section per topic,
// from evidence retrieved across the configured collections.
func CaseReportWorkflow(ctx workflow.Context, input CaseReportInput) (string, error) {
	progress := ReportProgress{ReportRunID: input.ReportRunID, Title: input.Title, TotalTopics: len(input.Topics), TopicStatus: map[string]string{}}
	if err := workflow.SetQueryHandler(ctx, QueryGetReportProgress, func() (ReportProgress, error) { return progress, nil }); err != nil {
		return "", err
	}
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    2 * time.Second,
			BackoffCoefficient: 2,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    2,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	_ = workflow.ExecuteActivity(ctx, "CreateReportRunActivity", activities.CreateReportRunInput{
		ReportRunID:  input.ReportRunID,
		CollectionID: input.CollectionID,
		Title:        input.Title,
		Topics:       input.Topics,
	}).Get(ctx, nil)
	_ = workflow.ExecuteActivity(ctx, "UpdateReportRunActivity", activities.UpdateReportRunInput{ReportRunID: input.ReportRunID, Status: "running"}).Get(ctx, nil)

	embedProviders := defaultCount(input.EmbedProviders)
	llmProviders := defaultCount(input.LLMProviders)
	topK := input.RetrievalTopK
	if topK <= 0 {
		topK = 8
	}
	collections := input.Collections
	if len(collections) == 0 {
		collections = retriever.DefaultCollections
	}
	cooldown := durationOrDefault(input.CooldownSeconds, 900)
	embedState := newProviderState()
	llmState := newProviderState()

	report := strings.Builder{}
	report.WriteString("# Case Report: " + input.Title + "\n\n")

	for _, topic := range input.Topics {
		progress.TopicStatus[topic] = "retrieving"
		eq, err := callEmbedQueryWithFailover(ctx, &embedState, embedProviders, cooldown, activities.EmbedQueryInput{Operation: "report_topic_embed", Text: topic}, nil)
		if err != nil {
			progress.TopicStatus[topic] = "failed"
			continue
		}
		results := make([]activities.SearchChunk, 0, topK)
		searchFailed := false
		for _, coll := range collections {
			var retrieved activities.SearchChunksOutput
			if err := workflow.ExecuteActivity(ctx, "SearchChunksActivity", activities.SearchChunksInput{
				Collection: coll,
				QueryVec:   eq.Vector,
				TopK:       topK,
			}).Get(ctx, &retrieved); err != nil {
				searchFailed = true
				break
			}
			results = append(results, retrieved.Results...)
		}
		if searchFailed {
			progress.TopicStatus[topic] = "failed"
			continue
		}
		results = topByScore(results, topK)
		progress.TopicStatus[topic] = "drafting"

		contextWindow := toEvidenceContext(results)
		outline, _, _ := callLLMWithFailover(ctx, &llmState, llmProviders, cooldown, activities.LLMGenerateInput{
			Operation:    "report_outline",
			CollectionID: input.CollectionID,
			System:       prompts.ReportSystem,
			Prompt:       "Create an outline for case report topic: " + topic,
			Context:      contextWindow,
		}, nil)

		sectionInput := activities.LLMGenerateInput{
			Operation:    "report_section",
			CollectionID: input.CollectionID,
			System:       prompts.ReportSystem,
			Prompt:       prompts.ReportSectionPrompt(input.Title, topic, contextWindow),
		}
		section, sectionErrType, sectionErr := callLLMWithFailover(ctx, &llmState, llmProviders, cooldown, sectionInput, nil)
		if sectionErr != nil && sectionErrType == string(providers.ErrorContext) {
			reduced := contextWindow
			if len(reduced) > 3 {
				reduced = reduced[:3]
			}
			sectionInput.Prompt = prompts.ReportSectionPrompt(input.Title, topic, reduced)
			section, _, sectionErr = callLLMWithFailover(ctx, &llmState, llmProviders, cooldown, sectionInput, nil)
		}

		report.WriteString("## " + topic + "\n\n")
		if strings.TrimSpace(outline.Text) != "" {
			report.WriteString("### Outline\n")
			report.WriteString(outline.Text + "\n\n")
		}
		report.WriteString("### Analysis\n")
		if sectionErr != nil || strings.TrimSpace(section.Text) == "" {
			report.WriteString("No generated section text.\n\n")
		} else {
			report.WriteString(section.Text + "\n\n")
		}
		report.WriteString("### Citations\n")
		for _, c := range results {
			report.WriteString("- [" + sourceName(c) + ":" + c.ChunkID + "] score=" + formatScore(c.Score) + "\n")
		}
		report.WriteString("\n")
		progress.TopicStatus[topic] = "done"
		progress.DoneTopics++
	}

	var reportOut activities.WriteCaseReportOutput
	if err := workflow.ExecuteActivity(ctx, "WriteCaseReportActivity", activities.WriteCaseReportInput{CollectionID: input.CollectionID, ReportRunID: input.ReportRunID, Report: report.String()}).Get(ctx, &reportOut); err != nil {
		return "", err
	}
	_ = workflow.ExecuteActivity(ctx, "UpdateReportRunActivity", activities.UpdateReportRunInput{ReportRunID: input.ReportRunID, Status: "completed", OutPath: reportOut.OutPath}).Get(ctx, nil)
	return reportOut.OutPath, nil
}

func BackfillWorkflow(ctx workflow.Context, input BackfillInput) (string, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 5 * time.Minute,
	}
	ctx = workflow.WithActivityOptions(ctx, ao)
	info := workflow.GetInfo(ctx)
	runID := info.WorkflowExecution.RunID
	collections := input.Collections
	if len(collections) == 0 {
		collections = retriever.DefaultCollections
	}
	manifest := map[string]any{
		"run_id":     runID,
		"mode":       input.Mode,
		"versions":   map[string]any{"chunk": defaultChunkVersion(input.ChunkVersion), "embed": defaultEmbedVersion(input.EmbedVersion)},
		"started_at": workflow.Now(ctx),
	}

	switch strings.ToUpper(strings.TrimSpace(input.Mode)) {
	case "RETRY_FAILED_DOCUMENTS":
		retried := 0
		for _, coll := range collections {
			var failed activities.ListFailedDocumentsOutput
			if err := workflow.ExecuteActivity(ctx, "ListFailedDocumentsActivity", activities.ListFailedDocumentsInput{CollectionID: coll}).Get(ctx, &failed); err != nil {
				return "", err
			}
			for _, d := range failed.Documents {
				path := pathForBackfill(input, d.Filename)
				var out string
				if err := workflow.ExecuteChildWorkflow(ctx, DocumentProcessWorkflow, DocumentProcessInput{
					DocumentPath:                path,
					ChunkVersion:                defaultChunkVersion(input.ChunkVersion),
					EmbedVersion:                defaultEmbedVersion(input.EmbedVersion),
					EmbedProviders:              defaultCount(input.EmbedProviders),
					PreferredEmbedProviderIndex: input.PreferredEmbedProviderIndex,
					StrictEmbedProvider:         input.StrictEmbedProvider,
					CooldownSeconds:             defaultSeconds(input.CooldownSeconds, 900),
				}).Get(ctx, &out); err == nil {
					retried++
				}
			}
		}
		manifest["retried_failed_documents"] = retried
	case "REEMBED_ALL_DOCUMENTS":
		processed := 0
		seen := 0
		for _, coll := range collections {
			var all activities.ListCollectionDocumentsOutput
			if err := workflow.ExecuteActivity(ctx, "ListCollectionDocumentsActivity", activities.ListCollectionDocumentsInput{CollectionID: coll}).Get(ctx, &all); err != nil {
				return "", err
			}
			seen += len(all.Documents)
			for _, d := range all.Documents {
				if strings.TrimSpace(d.Filename) == "" {
					continue
				}
				path := pathForBackfill(input, d.Filename)
				var out string
				if err := workflow.ExecuteChildWorkflow(ctx, DocumentProcessWorkflow, DocumentProcessInput{
					DocumentPath:                path,
					Collection:                  coll,
					ChunkVersion:                defaultChunkVersion(input.ChunkVersion),
					EmbedVersion:                defaultEmbedVersion(input.EmbedVersion),
					EmbedProviders:              defaultCount(input.EmbedProviders),
					PreferredEmbedProviderIndex: input.PreferredEmbedProviderIndex,
					StrictEmbedProvider:         input.StrictEmbedProvider,
					CooldownSeconds:             defaultSeconds(input.CooldownSeconds, 900),
				}).Get(ctx, &out); err == nil {
					processed++
				}
			}
		}
		manifest["reembedded_documents"] = processed
		manifest["total_documents_seen"] = seen
	case "REGENERATE_REPORT":
		run := input.ReportRunID
		if strings.TrimSpace(run) == "" {
			run = sanitizeID(fmt.Sprintf("report-%d", workflow.Now(ctx).Unix()))
		}
		primary := "forensic_cases"
		if len(input.Collections) > 0 {
			primary = input.Collections[0]
		}
		var outPath string
		if err := workflow.ExecuteChildWorkflow(ctx, CaseReportWorkflow, CaseReportInput{
			ReportRunID:     run,
			CollectionID:    primary,
			Title:           input.ReportTitle,
			Topics:          input.Topics,
			Collections:     input.Collections,
			EmbedProviders:  defaultCount(input.EmbedProviders),
			LLMProviders:    defaultCount(input.LLMProviders),
			CooldownSeconds: defaultSeconds(input.CooldownSeconds, 900),
		}).Get(ctx, &outPath); err != nil {
			return "", err
		}
		manifest["regenerated_report_run_id"] = run
		manifest["report_path"] = outPath
	default:
		return "", fmt.Errorf("unsupported backfill mode: %s", input.Mode)
	}

	var out activities.WriteRunManifestOutput
	if err := workflow.ExecuteActivity(ctx, "WriteRunManifestActivity", activities.WriteRunManifestInput{
		Scope:    "backfill",
		RunID:    runID,
		Manifest: manifest,
	}).Get(ctx, &out); err != nil {
		return "", err
	}
	return out.Path, nil
}

func callEmbedWithFailover(ctx workflow.Context, state *providerState, providerCount int, cooldown time.Duration, input activities.EmbedChunksInput, retryCounts map[string]int, preferredIdx int, strict bool) (activities.EmbedChunksOutput, error) {
	if retryCounts == nil {
		retryCounts = map[string]int{}
	}
	var lastErr error
	maxAttempts := providerCount * 4
	if maxAttempts <= 0 {
		maxAttempts = 4
	}
	if strict && preferredIdx >= 0 {
		maxAttempts = 4
	}
	for attempt := 0; attempt < maxAttempts; attempt++ {
		idx := 0
		if strict && preferredIdx >= 0 {
			idx = preferredIdx
		} else if preferredIdx >= 0 {
			idx = (preferredIdx + attempt) % providerCount
		} else {
			idx = attempt % providerCount
		}
		if isProviderDisabled(ctx, state, idx) {
			continue
		}
		input.ProviderIndex = idx
		var out activities.EmbedChunksOutput
		err := workflow.ExecuteActivity(ctx, "EmbedChunksActivity", input).Get(ctx, &out)
		if err == nil {
			_ = workflow.ExecuteActivity(ctx, "LogLLMCallActivity", activities.LogLLMCallInput{Operation: input.Operation, CollectionID: input.CollectionID, DocumentID: input.DocumentID, ProviderName: out.ProviderName, Model: out.Model, RequestID: fmt.Sprintf("%s-%d", input.Operation, attempt), Status: "ok"}).Get(ctx, nil)
			return out, nil
		}
		lastErr = err
		errType := providers.ClassifyError(err)
		_ = workflow.ExecuteActivity(ctx, "LogLLMCallActivity", activities.LogLLMCallInput{Operation: input.Operation, CollectionID: input.CollectionID, DocumentID: input.DocumentID, ProviderName: fmt.Sprintf("provider-%d", idx), RequestID: fmt.Sprintf("%s-%d", input.Operation, attempt), Status: "failed", ErrorType: string(errType)}).Get(ctx, nil)
		key := fmt.Sprintf("embed-%d", idx)
		retryCounts[key]++
		switch errType {
		case providers.ErrorQuota:
			disableProviderUntil(ctx, state, idx, cooldown)
		case providers.ErrorRate:
			if retryCounts[key] <= 2 {
				workflow.Sleep(ctx, time.Duration(retryCounts[key]*2)*time.Second)
				if !strict {
					attempt--
				}
			} else {
				disableProviderUntil(ctx, state, idx, 2*time.Minute)
			}
		case providers.ErrorTransient:
			if retryCounts[key] <= 2 {
				workflow.Sleep(ctx, time.Duration(retryCounts[key])*time.Second)
				if !strict {
					attempt--
				}
			}
		default:
			disableProviderUntil(ctx, state, idx, time.Minute)
		}
		if strict {
			continue
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("all embed providers exhausted")
	}
	return activities.EmbedChunksOutput{}, lastErr
}

func callEmbedQueryWithFailover(ctx workflow.Context, state *providerState, providerCount int, cooldown time.Duration, input activities.EmbedQueryInput, retryCounts map[string]int) (activities.EmbedQueryOutput, error) {
	if retryCounts == nil {
		retryCounts = map[string]int{}
	}
	var lastErr error
	for attempt := 0; attempt < providerCount*4; attempt++ {
		idx := attempt % providerCount
		if isProviderDisabled(ctx, state, idx) {
			continue
		}
		input.ProviderIndex = idx
		var out activities.EmbedQueryOutput
		err := workflow.ExecuteActivity(ctx, "EmbedQueryActivity", input).Get(ctx, &out)
		if err == nil {
			return out, nil
		}
		lastErr = err
		errType := providers.ClassifyError(err)
		key := fmt.Sprintf("eq-%d", idx)
		retryCounts[key]++
		switch errType {
		case providers.ErrorQuota:
			disableProviderUntil(ctx, state, idx, cooldown)
		case providers.ErrorRate, providers.ErrorTransient:
			if retryCounts[key] <= 2 {
				workflow.Sleep(ctx, time.Duration(retryCounts[key])*time.Second)
				attempt--
			} else {
				disableProviderUntil(ctx, state, idx, 2*time.Minute)
			}
		default:
			disableProviderUntil(ctx, state, idx, time.Minute)
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("all embed query providers exhausted")
	}
	return activities.EmbedQueryOutput{}, lastErr
}

func callLLMWithFailover(ctx workflow.Context, state *providerState, providerCount int, cooldown time.Duration, input activities.LLMGenerateInput, retryCounts map[string]int) (activities.LLMGenerateOutput, string, error) {
	if retryCounts == nil {
		retryCounts = map[string]int{}
	}
	var lastErr error
	for attempt := 0; attempt < providerCount*4; attempt++ {
		idx := attempt % providerCount
		if isProviderDisabled(ctx, state, idx) {
			continue
		}
		input.ProviderIndex = idx
		var out activities.LLMGenerateOutput
		err := workflow.ExecuteActivity(ctx, "LLMGenerateActivity", input).Get(ctx, &out)
		if err == nil {
			_ = workflow.ExecuteActivity(ctx, "LogLLMCallActivity", activities.LogLLMCallInput{Operation: input.Operation, CollectionID: input.CollectionID, DocumentID: input.DocumentID, ProviderName: out.ProviderName, Model: out.Model, RequestID: fmt.Sprintf("%s-%d", input.Operation, attempt), Status: "ok"}).Get(ctx, nil)
			return out, "", nil
		}
		lastErr = err
		errType := providers.ClassifyError(err)
		_ = workflow.ExecuteActivity(ctx, "LogLLMCallActivity", activities.LogLLMCallInput{Operation: input.Operation, CollectionID: input.CollectionID, DocumentID: input.DocumentID, ProviderName: fmt.Sprintf("provider-%d", idx), RequestID: fmt.Sprintf("%s-%d", input.Operation, attempt), Status: "failed", ErrorType: string(errType)}).Get(ctx, nil)
		key := fmt.Sprintf("llm-%s-%d", input.Operation, idx)
		retryCounts[key]++
		switch errType {
		case providers.ErrorQuota:
			disableProviderUntil(ctx, state, idx, cooldown)
		case providers.ErrorRate:
			if retryCounts[key] <= 2 {
				workflow.Sleep(ctx, time.Duration(retryCounts[key]*2)*time.Second)
				attempt--
			} else {
				disableProviderUntil(ctx, state, idx, 2*time.Minute)
			}
		case providers.ErrorTransient:
			if retryCounts[key] <= 2 {
				workflow.Sleep(ctx, time.Duration(retryCounts[key])*time.Second)
				attempt--
			}
		case providers.ErrorContext:
			return activities.LLMGenerateOutput{}, string(providers.ErrorContext), err
		default:
			disableProviderUntil(ctx, state, idx, time.Minute)
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("all llm providers exhausted")
	}
	return activities.LLMGenerateOutput{}, string(providers.ClassifyError(lastErr)), lastErr
}

func isProviderDisabled(ctx workflow.Context, state *providerState, idx int) bool {
	until, ok := state.disabledUntil[idx]
	if !ok {
		return false
	}
	return workflow.Now(ctx).Before(until)
}

func disableProviderUntil(ctx workflow.Context, state *providerState, idx int, d time.Duration) {
	state.disabledUntil[idx] = workflow.Now(ctx).Add(d)
}

func defaultChunkVersion(v string) string {
	if strings.TrimSpace(v) == "" {
		return "v1"
	}
	return v
}

func defaultEmbedVersion(v string) string {
	if strings.TrimSpace(v) == "" {
		return "v1"
	}
	return v
}

func isNoTextError(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "no extractable text")
}

func isInvalidTextEncodingError(err error) bool {
	e := strings.ToLower(err.Error())
	return strings.Contains(e, "invalid byte sequence") || strings.Contains(e, "sqlstate 22021")
}

func filepathBase(path string) string {
	parts := strings.Split(path, "/")
	if len(parts) == 0 {
		return path
	}
	return parts[len(parts)-1]
}

func sanitizeID(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, "_", "-")
	s = strings.ReplaceAll(s, ".", "-")
	s = strings.ReplaceAll(s, "/", "-")
	return s
}

func formatScore(v float64) string {
	return fmt.Sprintf("%.4f", v)
}

func sourceName(c activities.SearchChunk) string {
	if v, ok := c.Metadata["source"].(string); ok && strings.TrimSpace(v) != "" {
		return v
	}
	if c.DocumentID != "" {
		return c.DocumentID
	}
	return c.ChunkID
}

func toEvidenceContext(results []activities.SearchChunk) []string {
	out := make([]string, 0, len(results))
	for i, c := range results {
		out = append(out, prompts.ContextBlock(i+1, sourceName(c), c.Text))
	}
	return out
}

// topByScore keeps the k best hits after merging per-collection result sets.
// Ordering is stable for equal scores so reruns produce the same citations.
func topByScore(results []activities.SearchChunk, k int) []activities.SearchChunk {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > k {
		results = results[:k]
	}
	return results
}

func durationOrDefault(seconds int, fallback int) time.Duration {
	if seconds <= 0 {
		seconds = fallback
	}
	return time.Duration(seconds) * time.Second
}

func defaultCount(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

func defaultSeconds(n int, fallback int) int {
	if n <= 0 {
		return fallback
	}
	return n
}

func pathForBackfill(input BackfillInput, filename string) string {
	base := strings.TrimSpace(input.InputDir)
	if base == "" {
		base = "./data/in"
	}
	return filepath.Join(base, filename)
}
