package gcp

import (
	"context"
	"encoding/json"
	"fmt"

	executions "cloud.google.com/go/workflows/executions/apiv1"
	"cloud.google.com/go/workflows/executions/apiv1/executionspb"

	"github.com/Lllllllleong/contractflow/internal/models"
)

// WorkflowDispatcher starts a Cloud Workflows execution for each uploaded
// document. The workflow calls back into the analysis trigger.
type WorkflowDispatcher struct {
	client *executions.Client
	parent string
}

// NewWorkflowDispatcher creates an executions client for the given workflow.
func NewWorkflowDispatcher(ctx context.Context, projectID, location, workflowID string) (*WorkflowDispatcher, error) {
	if projectID == "" || workflowID == "" {
		return nil, fmt.Errorf("NewWorkflowDispatcher: projectID and workflowID cannot be empty")
	}
	client, err := executions.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create Workflows Executions client: %w", err)
	}
	return &WorkflowDispatcher{
		client: client,
		parent: fmt.Sprintf("projects/%s/locations/%s/workflows/%s", projectID, location, workflowID),
	}, nil
}

// Dispatch creates an execution with the document reference as its argument.
func (d *WorkflowDispatcher) Dispatch(ctx context.Context, documentID, ownerID string) error {
	payload, err := json.Marshal(models.AnalysisEvent{DocumentID: documentID, OwnerID: ownerID})
	if err != nil {
		return fmt.Errorf("failed to marshal workflow payload: %w", err)
	}
	_, err = d.client.CreateExecution(ctx, &executionspb.CreateExecutionRequest{
		Parent: d.parent,
		Execution: &executionspb.Execution{
			Argument: string(payload),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to trigger workflow execution: %w", err)
	}
	return nil
}

func (d *WorkflowDispatcher) Close() error { return d.client.Close() }
