package workflows

import "go.temporal.io/sdk/worker"

func Register(w worker.Worker) {
	w.RegisterWorkflow(CollectionIngestWorkflow)
	w.RegisterWorkflow(DocumentProcessWorkflow)
	w.RegisterWorkflow(CaseReportWorkflow)
	w.RegisterWorkflow(BackfillWorkflow)
}
