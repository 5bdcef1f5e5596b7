package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"
)

// Completion is handed to downstream automation once a document settles.
type Completion struct {
	DocumentID        string   `json:"documentId"`
	Status            string   `json:"status"`
	OverallConfidence *float64 `json:"overallConfidence"`
	CacheHit          bool     `json:"cacheHit"`
	ResultDocumentID  string   `json:"resultDocumentId"`
	ErrorDetails      *string  `json:"errorDetails"`
	JSONURI           string   `json:"jsonUri,omitempty"`
	CSVURI            string   `json:"csvUri,omitempty"`
}

type Notifier interface {
	Notify(ctx context.Context, c Completion) error
}

// WorkflowNotifier starts a Cloud Workflows execution per completion.
type WorkflowNotifier struct {
	client *executions.Client
	parent string
}

func NewWorkflowNotifier(client *executions.Client, projectID, location, workflowID string) *WorkflowNotifier {
	return &WorkflowNotifier{
		client: client,
		parent: fmt.Sprintf("projects/%s/locations/%s/workflows/%s", projectID, location, workflowID),
	}
}

func (n *WorkflowNotifier) Notify(ctx context.Context, c Completion) error {
	logCtx := slog.With("documentId", c.DocumentID, "workflow", n.parent)
	logCtx.Info("Triggering workflow.")
	payloadBytes, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal workflow payload: %w", err)
	}
	req := &executionspb.CreateExecutionRequest{
		Parent: n.parent,
		Execution: &executionspb.Execution{
			Argument: string(payloadBytes),
		},
	}
	exec, err := n.client.CreateExecution(ctx, req)
	if err != nil {
		logCtx.Error("Failed to trigger workflow execution", "error", err)
		return fmt.Errorf("failed to trigger workflow execution: %w", err)
	}
	logCtx.Info("Workflow execution created.", "execution", exec.GetName())
	return nil
}
