package activities

import "go.temporal.io/sdk/worker"

func Register(w worker.Worker, a *Activities) {
	w.RegisterActivity(a.ListPDFsActivity)
	w.RegisterActivity(a.EnsureCollectionActivity)
	w.RegisterActivity(a.WriteCollectionSummaryActivity)
	w.RegisterActivity(a.WriteRunManifestActivity)
	w.RegisterActivity(a.ListFailedDocumentsActivity)
	w.RegisterActivity(a.ListCollectionDocumentsActivity)
	w.RegisterActivity(a.ComputeDocumentIDActivity)
	w.RegisterActivity(a.ExtractTextActivity)
	w.RegisterActivity(a.ExtractMetadataActivity)
	w.RegisterActivity(a.ChunkTextActivity)
	w.RegisterActivity(a.UpsertChunksActivity)
	w.RegisterActivity(a.WriteDocumentArtifactsActivity)
	w.RegisterActivity(a.UpdateDocumentStatusActivity)
	w.RegisterActivity(a.EmbedChunksActivity)
	w.RegisterActivity(a.EmbedQueryActivity)
	w.RegisterActivity(a.SearchChunksActivity)
	w.RegisterActivity(a.LLMGenerateActivity)
	w.RegisterActivity(a.LogLLMCallActivity)
	w.RegisterActivity(a.CreateReportRunActivity)
	w.RegisterActivity(a.WriteCaseReportActivity)
	w.RegisterActivity(a.UpdateReportRunActivity)
}
