package api

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"crimelens/internal/activities"
	"crimelens/internal/config"
	"crimelens/internal/index"
	"crimelens/internal/models"
	"crimelens/internal/pipeline"
	"crimelens/internal/providers"
	"crimelens/internal/rerank"
	"crimelens/internal/retriever"
	"crimelens/internal/storage"
	"crimelens/internal/util"
	"crimelens/internal/workflows"

	"github.com/google/uuid"
	enumspb "go.temporal.io/api/enums/v1"
	tclient "go.temporal.io/sdk/client"
)

type Server struct {
	cfg            config.Config
	db             *storage.DB
	collectionRepo *storage.CollectionRepo
	documentRepo   *storage.DocumentRepo
	reportRepo     *storage.ReportRepo
	auditRepo      *storage.AuditRepo
	providers      *providers.Manager
	pipeline       *pipeline.Pipeline
	temporal       tclient.Client
}

func NewServer(cfg config.Config) *Server {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	db, err := storage.NewDB(ctx, cfg.PostgresURL)
	if err != nil {
		panic(err)
	}
	pm, err := providers.NewManager(cfg)
	if err != nil {
		panic(err)
	}
	idx, err := activities.BuildIndex(cfg, db, pm)
	if err != nil {
		panic(err)
	}
	tc, err := tclient.Dial(tclient.Options{HostPort: cfg.TemporalAddress})
	if err != nil {
		panic(err)
	}
	auditRepo := storage.NewAuditRepo(db)
	return &Server{
		cfg:            cfg,
		db:             db,
		collectionRepo: storage.NewCollectionRepo(db),
		documentRepo:   storage.NewDocumentRepo(db),
		reportRepo:     storage.NewReportRepo(db),
		auditRepo:      auditRepo,
		providers:      pm,
		pipeline:       buildPipeline(cfg, idx, pm, auditRepo),
		temporal:       tc,
	}
}

func buildPipeline(cfg config.Config, idx index.Index, pm *providers.Manager, audit pipeline.AuditSink) *pipeline.Pipeline {
	r := retriever.New(idx, retriever.Config{
		MinK:             cfg.MinK,
		MaxK:             cfg.MaxK,
		OversampleFactor: cfg.OversampleFactor,
		DefaultLambda:    cfg.DiversityLambda,
	})
	var rr rerank.Reranker = rerank.PassThrough{}
	if strings.TrimSpace(cfg.RerankerURL) != "" {
		rr = &rerank.CrossEncoder{Scorer: rerank.NewHTTPScorer(cfg.RerankerURL)}
	}
	return pipeline.New(r, rr, pickLLM(pm), audit, pipeline.Config{
		DefaultK:          cfg.DefaultK,
		DefaultLambda:     cfg.DiversityLambda,
		MaxContextTokens:  cfg.MaxContextTokens,
		MaxRetries:        cfg.GenerationMaxRetries,
		RetryBaseDelay:    time.Duration(cfg.GenerationRetryMs) * time.Millisecond,
		GenerationTimeout: time.Duration(cfg.GenerationTimeoutSec) * time.Second,
	})
}

func pickLLM(pm *providers.Manager) providers.LLMProvider {
	if p, _, ok := pm.FindLLMProviderByName("groq"); ok {
		return p
	}
	order := pm.PreferredLLMOrder()
	if len(order) > 0 {
		p, _ := pm.LLMProviderByIndex(order[0])
		return p
	}
	return pm.FirstLLMProvider()
}

func (s *Server) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.HandleFunc("/collections", s.handleCollections)
	mux.HandleFunc("/collections/", s.handleCollectionsScoped)
	mux.HandleFunc("/ingest/", s.handleIngestScoped)
	mux.HandleFunc("/ask", s.handleAsk)
	mux.HandleFunc("/reports", s.handleReports)
	mux.HandleFunc("/reports/", s.handleReportsScoped)
	mux.HandleFunc("/backfill", s.handleBackfill)
	mux.HandleFunc("/audits/recent", s.handleRecentAudits)
	return withCORS(mux)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleCollections(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		collections, err := s.collectionRepo.ListCollections(r.Context())
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"collections": collections})
	case http.MethodPost:
		var req struct {
			Name        string `json:"name"`
			Description string `json:"description"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
			return
		}
		req.Name = strings.TrimSpace(req.Name)
		if req.Name == "" {
			writeErr(w, http.StatusBadRequest, fmt.Errorf("name is required"))
			return
		}
		c := models.Collection{CollectionID: req.Name, Name: req.Name, Description: req.Description}
		if err := s.collectionRepo.CreateCollection(r.Context(), c); err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		if err := util.EnsureDir(filepath.Join(s.cfg.DataOutRoot, req.Name)); err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusCreated, map[string]any{"collection_id": req.Name, "name": req.Name})
	default:
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
	}
}

func (s *Server) handleCollectionsScoped(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/collections/"), "/"), "/")
	if len(parts) < 1 || parts[0] == "" {
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}
	collectionID := parts[0]

	if len(parts) == 2 && parts[1] == "documents" {
		if r.Method != http.MethodGet {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		docs, err := s.documentRepo.ListDocumentsByCollection(r.Context(), collectionID)
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
		return
	}
	if len(parts) == 2 && parts[1] == "status" {
		if r.Method != http.MethodGet {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		counts, err := s.documentRepo.CountDocumentsByStatus(r.Context(), collectionID)
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"collection_id": collectionID, "status_counts": counts})
		return
	}

	writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
}

func (s *Server) handleIngestScoped(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/ingest/"), "/"), "/")
	if len(parts) < 2 || parts[0] == "" {
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}
	ingestID := parts[0]

	switch parts[1] {
	case "upload":
		if r.Method != http.MethodPost {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		s.handleUpload(w, r, ingestID)
	case "start":
		if r.Method != http.MethodPost {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		var req struct {
			Collection string `json:"collection"`
		}
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&req)
		}
		wfID := "ingest-" + ingestID
		we, err := s.temporal.ExecuteWorkflow(r.Context(), tclient.StartWorkflowOptions{
			ID:                                       wfID,
			TaskQueue:                                s.cfg.TemporalTaskQueue,
			WorkflowIDReusePolicy:                    enumspb.WORKFLOW_ID_REUSE_POLICY_ALLOW_DUPLICATE,
			WorkflowExecutionErrorWhenAlreadyStarted: true,
		}, workflows.CollectionIngestWorkflow, workflows.CollectionIngestInput{
			IngestID:              ingestID,
			InputDir:              filepath.Join(s.cfg.DataInRoot, ingestID),
			Collection:            strings.TrimSpace(req.Collection),
			MaxConcurrentChildren: s.cfg.IngestMaxChildren,
			EmbedProviders:        s.providers.EmbedCount(),
			CooldownSeconds:       s.cfg.ProviderCooldownSecs,
		})
		if err != nil {
			writeErr(w, http.StatusConflict, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"workflow_id": we.GetID(), "run_id": we.GetRunID()})
	case "progress":
		if r.Method != http.MethodGet {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		var prog workflows.CollectionIngestProgress
		resp, err := s.temporal.QueryWorkflow(r.Context(), "ingest-"+ingestID, "", workflows.QueryGetProgress)
		if err != nil {
			writeErr(w, http.StatusNotFound, err)
			return
		}
		if err := resp.Get(&prog); err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, prog)
	default:
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, ingestID string) {
	if err := r.ParseMultipartForm(128 << 20); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("parse multipart: %w", err))
		return
	}

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		if single, ok := firstSingleFile(r.MultipartForm.File); ok {
			files = append(files, single)
		}
	}
	if len(files) == 0 {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("no files provided"))
		return
	}

	inDir := filepath.Join(s.cfg.DataInRoot, ingestID)
	if err := util.EnsureDir(inDir); err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}

	type uploadResult struct {
		Filename   string `json:"filename"`
		DocumentID string `json:"document_id"`
	}
	out := make([]uploadResult, 0, len(files))

	for _, fh := range files {
		if !strings.HasSuffix(strings.ToLower(fh.Filename), ".pdf") {
			continue
		}
		documentID, savedPath, err := saveUploadedFile(inDir, fh)
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		out = append(out, uploadResult{Filename: filepath.Base(savedPath), DocumentID: documentID})
	}

	writeJSON(w, http.StatusOK, map[string]any{"uploaded": out})
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	var req struct {
		Question              string         `json:"question"`
		K                     int            `json:"k"`
		Collections           []string       `json:"collections"`
		Filters               map[string]any `json:"filters"`
		UseReranker           *bool          `json:"use_reranker"`
		DiversityLambda       *float64       `json:"diversity_lambda"`
		MaxContextTokens      int            `json:"max_context_tokens"`
		PrioritizeReliability bool           `json:"prioritize_reliability"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	req.Question = strings.TrimSpace(req.Question)
	if req.Question == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("question is required"))
		return
	}
	useReranker := s.cfg.UseReranker
	if req.UseReranker != nil {
		useReranker = *req.UseReranker
	}

	state := s.pipeline.Run(r.Context(), req.Question, pipeline.Options{
		K:                     req.K,
		UseReranker:           useReranker,
		Filters:               req.Filters,
		Collections:           req.Collections,
		DiversityLambda:       req.DiversityLambda,
		MaxContextTokens:      req.MaxContextTokens,
		PrioritizeReliability: req.PrioritizeReliability,
	})

	if state.Err != nil {
		status := http.StatusInternalServerError
		switch state.Err.Kind {
		case pipeline.ErrorKindInput:
			status = http.StatusBadRequest
		case pipeline.ErrorKindIndexUnavailable:
			status = http.StatusServiceUnavailable
		case pipeline.ErrorKindGeneration:
			status = http.StatusBadGateway
		}
		writeJSON(w, status, map[string]any{
			"error": map[string]any{
				"kind":    string(state.Err.Kind),
				"detail":  state.Err.Detail,
				"message": state.Err.Message,
			},
			"stage":    string(state.Stage),
			"metadata": state.Metadata,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"answer":          state.Response,
		"sources":         state.Sources,
		"stage":           string(state.Stage),
		"retrieved_count": len(state.Documents),
		"used_count":      len(state.UsedDocuments),
		"metadata":        state.Metadata,
	})
}

func (s *Server) handleReports(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	var req struct {
		Title        string   `json:"title"`
		Topics       []string `json:"topics"`
		CollectionID string   `json:"collection_id"`
		Collections  []string `json:"collections"`
		TopK         int      `json:"top_k"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	if strings.TrimSpace(req.Title) == "" || len(req.Topics) == 0 {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("title and at least one topic are required"))
		return
	}
	if strings.TrimSpace(req.CollectionID) == "" {
		req.CollectionID = "forensic_cases"
	}
	runID := uuid.NewString()
	we, err := s.temporal.ExecuteWorkflow(r.Context(), tclient.StartWorkflowOptions{
		ID:        "report-" + runID,
		TaskQueue: s.cfg.TemporalTaskQueue,
	}, workflows.CaseReportWorkflow, workflows.CaseReportInput{
		ReportRunID:     runID,
		CollectionID:    req.CollectionID,
		Title:           req.Title,
		Topics:          req.Topics,
		Collections:     req.Collections,
		RetrievalTopK:   req.TopK,
		EmbedProviders:  s.providers.EmbedCount(),
		LLMProviders:    s.providers.LLMCount(),
		CooldownSeconds: s.cfg.ProviderCooldownSecs,
	})
	if err != nil {
		writeErr(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"report_run_id": runID, "workflow_id": we.GetID(), "run_id": we.GetRunID()})
}

func (s *Server) handleReportsScoped(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(strings.TrimPrefix(r.URL.Path, "/reports/"), "/"), "/")
	if len(parts) < 2 {
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
		return
	}
	runID := parts[0]
	switch parts[1] {
	case "progress":
		if r.Method != http.MethodGet {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		var prog workflows.ReportProgress
		resp, err := s.temporal.QueryWorkflow(r.Context(), "report-"+runID, "", workflows.QueryGetReportProgress)
		if err != nil {
			writeErr(w, http.StatusNotFound, err)
			return
		}
		if err := resp.Get(&prog); err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, prog)
	case "report":
		if r.Method != http.MethodGet {
			writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
			return
		}
		outPath, status, err := s.reportRepo.GetRunPath(r.Context(), runID)
		if err != nil {
			writeErr(w, http.StatusNotFound, err)
			return
		}
		if outPath == "" {
			writeJSON(w, http.StatusOK, map[string]any{"status": status, "report_markdown": ""})
			return
		}
		b, err := os.ReadFile(outPath)
		if err != nil {
			writeErr(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": status, "report_markdown": string(b), "path": outPath})
	default:
		writeErr(w, http.StatusNotFound, fmt.Errorf("not found"))
	}
}

func (s *Server) handleBackfill(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	var req workflows.BackfillInput
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("invalid json: %w", err))
		return
	}
	if strings.TrimSpace(req.Mode) == "" {
		writeErr(w, http.StatusBadRequest, fmt.Errorf("mode is required"))
		return
	}
	if req.EmbedProviders <= 0 {
		req.EmbedProviders = s.providers.EmbedCount()
	}
	if req.LLMProviders <= 0 {
		req.LLMProviders = s.providers.LLMCount()
	}
	we, err := s.temporal.ExecuteWorkflow(r.Context(), tclient.StartWorkflowOptions{
		ID:        "backfill-" + uuid.NewString(),
		TaskQueue: s.cfg.TemporalTaskQueue,
	}, workflows.BackfillWorkflow, req)
	if err != nil {
		writeErr(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"workflow_id": we.GetID(), "run_id": we.GetRunID()})
}

func (s *Server) handleRecentAudits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeErr(w, http.StatusMethodNotAllowed, fmt.Errorf("method not allowed"))
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	audits, err := s.auditRepo.ListRecentQueries(r.Context(), limit)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"audits": audits})
}

func saveUploadedFile(dstDir string, fh *multipart.FileHeader) (documentID, path string, err error) {
	src, err := fh.Open()
	if err != nil {
		return "", "", fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(dstDir, "upload-*.pdf")
	if err != nil {
		return "", "", fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		_ = tmp.Close()
	}()

	h := sha256.New()
	if _, err := io.Copy(io.MultiWriter(tmp, h), src); err != nil {
		return "", "", fmt.Errorf("write upload: %w", err)
	}

	documentID = fmt.Sprintf("%x", h.Sum(nil))
	safeName := filepath.Base(fh.Filename)
	finalPath := filepath.Join(dstDir, safeName)
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return "", "", fmt.Errorf("seek temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", "", err
	}
	if err := os.Rename(tmp.Name(), finalPath); err != nil {
		return "", "", fmt.Errorf("atomic move upload: %w", err)
	}

	return documentID, finalPath, nil
}

func firstSingleFile(m map[string][]*multipart.FileHeader) (*multipart.FileHeader, bool) {
	for _, v := range m {
		if len(v) > 0 {
			return v[0], true
		}
	}
	return nil, false
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, code int, err error) {
	apiErr := toAPIError(code, err)
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		},
	})
}

type apiError struct {
	Code    string
	Message string
}

func toAPIError(status int, err error) apiError {
	msg := "Request failed."
	code := "CL-API-4000"
	raw := ""
	if err != nil {
		raw = strings.ToLower(err.Error())
	}

	switch {
	case status >= 500:
		switch {
		case strings.Contains(raw, "relation") && strings.Contains(raw, "does not exist"):
			return apiError{
				Code:    "CL-DB-5001",
				Message: "Database schema is not initialized. Run migrations and retry.",
			}
		case strings.Contains(raw, "connect"), strings.Contains(raw, "dial tcp"), strings.Contains(raw, "connection refused"):
			return apiError{
				Code:    "CL-DB-5002",
				Message: "Database connection is unavailable. Check local services and retry.",
			}
		default:
			return apiError{
				Code:    "CL-API-5000",
				Message: "Internal server error. Please retry or check service logs.",
			}
		}
	case status == http.StatusBadRequest:
		code = "CL-API-4001"
		msg = "Invalid request. Check inputs and retry."
	case status == http.StatusNotFound:
		code = "CL-API-4004"
		msg = "Requested resource was not found."
	case status == http.StatusConflict:
		code = "CL-API-4009"
		msg = "Operation conflicts with current state. Retry after checking status."
	case status == http.StatusMethodNotAllowed:
		code = "CL-API-4005"
		msg = "This endpoint does not support the requested method."
	case status == http.StatusBadGateway:
		code = "CL-API-5020"
		msg = "Upstream provider unavailable. Retry shortly."
	}

	// For 4xx, keep user-safe validation context only.
	if status >= 400 && status < 500 && err != nil {
		low := strings.ToLower(err.Error())
		switch {
		case strings.Contains(low, "name is required"):
			msg = "Collection name is required."
		case strings.Contains(low, "question is required"):
			msg = "A question is required."
		case strings.Contains(low, "title and at least one topic"):
			msg = "Report title and at least one topic are required."
		case strings.Contains(low, "mode is required"):
			msg = "Backfill mode is required."
		case strings.Contains(low, "no files provided"):
			msg = "No PDF files were provided."
		case strings.Contains(low, "invalid json"):
			msg = "Malformed JSON request body."
		}
	}

	return apiError{Code: code, Message: msg}
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
