package workflows

import (
	"context"
	"errors"
	"testing"

	"crimelens/internal/activities"
	"crimelens/internal/models"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/testsuite"
)

func registerActivityName[T any](env *testsuite.TestWorkflowEnvironment, name string, fn T) {
	env.RegisterActivityWithOptions(fn, activity.RegisterOptions{Name: name})
}

func TestDocumentProcessWorkflowSuccess(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(DocumentProcessWorkflow)
	registerActivityName(env, "ComputeDocumentIDActivity", func(context.Context, activities.ComputeDocumentIDInput) (activities.ComputeDocumentIDOutput, error) {
		return activities.ComputeDocumentIDOutput{}, nil
	})
	registerActivityName(env, "UpdateDocumentStatusActivity", func(context.Context, activities.UpdateDocumentStatusInput) error { return nil })
	registerActivityName(env, "ExtractTextActivity", func(context.Context, activities.ExtractTextInput) (activities.ExtractTextOutput, error) {
		return activities.ExtractTextOutput{}, nil
	})
	registerActivityName(env, "ExtractMetadataActivity", func(context.Context, activities.ExtractMetadataInput) (activities.ExtractMetadataOutput, error) {
		return activities.ExtractMetadataOutput{}, nil
	})
	registerActivityName(env, "EnsureCollectionActivity", func(context.Context, activities.EnsureCollectionInput) (activities.EnsureCollectionOutput, error) {
		return activities.EnsureCollectionOutput{}, nil
	})
	registerActivityName(env, "ChunkTextActivity", func(context.Context, activities.ChunkTextInput) (activities.ChunkTextOutput, error) {
		return activities.ChunkTextOutput{}, nil
	})
	registerActivityName(env, "EmbedChunksActivity", func(context.Context, activities.EmbedChunksInput) (activities.EmbedChunksOutput, error) {
		return activities.EmbedChunksOutput{}, nil
	})
	registerActivityName(env, "UpsertChunksActivity", func(context.Context, activities.UpsertChunksInput) error { return nil })
	registerActivityName(env, "WriteDocumentArtifactsActivity", func(context.Context, activities.WriteDocumentArtifactsInput) error { return nil })
	registerActivityName(env, "LogLLMCallActivity", func(context.Context, activities.LogLLMCallInput) error { return nil })

	env.OnActivity("ComputeDocumentIDActivity", mock.Anything, activities.ComputeDocumentIDInput{DocumentPath: "/tmp/fbi_report.pdf"}).Return(activities.ComputeDocumentIDOutput{DocumentID: "doc123"}, nil)
	env.OnActivity("UpdateDocumentStatusActivity", mock.Anything, mock.Anything).Return(nil)
	env.OnActivity("ExtractTextActivity", mock.Anything, activities.ExtractTextInput{DocumentPath: "/tmp/fbi_report.pdf"}).Return(activities.ExtractTextOutput{Text: "FBI Behavioral Analysis Report\nserial homicide investigation"}, nil)
	env.OnActivity("ExtractMetadataActivity", mock.Anything, mock.Anything).Return(activities.ExtractMetadataOutput{
		Title:      "FBI Behavioral Analysis Report",
		Metadata:   models.ChunkMetadata{Source: "fbi_report.pdf", CrimeType: "serial_homicide", DocumentAuthority: "FBI", SourceReliability: models.ReliabilityHigh},
		Collection: "serial_killers",
	}, nil)
	env.OnActivity("EnsureCollectionActivity", mock.Anything, activities.EnsureCollectionInput{Name: "serial_killers"}).Return(activities.EnsureCollectionOutput{CollectionID: "serial_killers"}, nil)
	env.OnActivity("ChunkTextActivity", mock.Anything, mock.Anything).Return(activities.ChunkTextOutput{Chunks: []activities.ChunkItem{{ChunkID: "c1", DocumentID: "doc123", CollectionID: "serial_killers", ChunkIndex: 0, Text: "chunk"}}}, nil)
	env.OnActivity("EmbedChunksActivity", mock.Anything, mock.Anything).Return(activities.EmbedChunksOutput{Vectors: [][]float32{{0.1, 0.2}}, ProviderName: "mock", Model: "mock"}, nil)
	env.OnActivity("UpsertChunksActivity", mock.Anything, mock.Anything).Return(nil)
	env.OnActivity("WriteDocumentArtifactsActivity", mock.Anything, mock.Anything).Return(nil)
	env.OnActivity("LogLLMCallActivity", mock.Anything, mock.Anything).Return(nil)

	env.ExecuteWorkflow(DocumentProcessWorkflow, DocumentProcessInput{DocumentPath: "/tmp/fbi_report.pdf", EmbedProviders: 1, CooldownSeconds: 10})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out string
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, "processed", out)
}

func TestDocumentProcessWorkflowNoTextFailsGracefully(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(DocumentProcessWorkflow)
	registerActivityName(env, "ComputeDocumentIDActivity", func(context.Context, activities.ComputeDocumentIDInput) (activities.ComputeDocumentIDOutput, error) {
		return activities.ComputeDocumentIDOutput{}, nil
	})
	registerActivityName(env, "EnsureCollectionActivity", func(context.Context, activities.EnsureCollectionInput) (activities.EnsureCollectionOutput, error) {
		return activities.EnsureCollectionOutput{}, nil
	})
	registerActivityName(env, "UpdateDocumentStatusActivity", func(context.Context, activities.UpdateDocumentStatusInput) error { return nil })
	registerActivityName(env, "ExtractTextActivity", func(context.Context, activities.ExtractTextInput) (activities.ExtractTextOutput, error) {
		return activities.ExtractTextOutput{}, nil
	})

	env.OnActivity("ComputeDocumentIDActivity", mock.Anything, mock.Anything).Return(activities.ComputeDocumentIDOutput{DocumentID: "doc123"}, nil)
	env.OnActivity("EnsureCollectionActivity", mock.Anything, mock.Anything).Return(activities.EnsureCollectionOutput{CollectionID: "forensic_cases"}, nil)
	env.OnActivity("UpdateDocumentStatusActivity", mock.Anything, mock.Anything).Return(nil)
	env.OnActivity("ExtractTextActivity", mock.Anything, mock.Anything).Return(activities.ExtractTextOutput{}, errors.New("no extractable text found in PDF"))

	env.ExecuteWorkflow(DocumentProcessWorkflow, DocumentProcessInput{DocumentPath: "/tmp/scan.pdf", EmbedProviders: 1, CooldownSeconds: 10})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var out string
	require.NoError(t, env.GetWorkflowResult(&out))
	require.Equal(t, "failed", out)
}

func TestCaseReportWorkflowWritesReport(t *testing.T) {
	var ts testsuite.WorkflowTestSuite
	env := ts.NewTestWorkflowEnvironment()
	env.RegisterWorkflow(CaseReportWorkflow)
	registerActivityName(env, "CreateReportRunActivity", func(context.Context, activities.CreateReportRunInput) error { return nil })
	registerActivityName(env, "UpdateReportRunActivity", func(context.Context, activities.UpdateReportRunInput) error { return nil })
	registerActivityName(env, "EmbedQueryActivity", func(context.Context, activities.EmbedQueryInput) (activities.EmbedQueryOutput, error) {
		return activities.EmbedQueryOutput{}, nil
	})
	registerActivityName(env, "SearchChunksActivity", func(context.Context, activities.SearchChunksInput) (activities.SearchChunksOutput, error) {
		return activities.SearchChunksOutput{}, nil
	})
	registerActivityName(env, "LLMGenerateActivity", func(context.Context, activities.LLMGenerateInput) (activities.LLMGenerateOutput, error) {
		return activities.LLMGenerateOutput{}, nil
	})
	registerActivityName(env, "LogLLMCallActivity", func(context.Context, activities.LogLLMCallInput) error { return nil })
	registerActivityName(env, "WriteCaseReportActivity", func(context.Context, activities.WriteCaseReportInput) (activities.WriteCaseReportOutput, error) {
		return activities.WriteCaseReportOutput{}, nil
	})

	env.OnActivity("CreateReportRunActivity", mock.Anything, mock.Anything).Return(nil)
	env.OnActivity("UpdateReportRunActivity", mock.Anything, mock.Anything).Return(nil)
	env.OnActivity("EmbedQueryActivity", mock.Anything, mock.Anything).Return(activities.EmbedQueryOutput{Vector: []float32{0.1, 0.2}, ProviderName: "mock", Model: "mock"}, nil)
	env.OnActivity("SearchChunksActivity", mock.Anything, mock.Anything).Return(activities.SearchChunksOutput{Results: []activities.SearchChunk{
		{ChunkID: "c1", DocumentID: "doc1", Collection: "forensic_cases", Score: 0.91, Text: "bite mark analysis", Metadata: map[string]any{"source": "forensic_manual.pdf"}},
	}}, nil)
	env.OnActivity("LLMGenerateActivity", mock.Anything, mock.Anything).Return(activities.LLMGenerateOutput{Text: "Section text citing [1].", ProviderName: "mock", Model: "mock"}, nil)
	env.OnActivity("LogLLMCallActivity", mock.Anything, mock.Anything).Return(nil)
	env.OnActivity("WriteCaseReportActivity", mock.Anything, mock.Anything).Return(activities.WriteCaseReportOutput{OutPath: "/tmp/out/report.md"}, nil)

	env.ExecuteWorkflow(CaseReportWorkflow, CaseReportInput{
		ReportRunID:     "run1",
		CollectionID:    "forensic_cases",
		Title:           "Bite Mark Evidence Review",
		Topics:          []string{"forensic odontology"},
		Collections:     []string{"forensic_cases"},
		EmbedProviders:  1,
		LLMProviders:    1,
		CooldownSeconds: 10,
	})
	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var outPath string
	require.NoError(t, env.GetWorkflowResult(&outPath))
	require.Equal(t, "/tmp/out/report.md", outPath)
}
