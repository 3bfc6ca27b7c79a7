// Package repositories defines interfaces for data access layers.
package repositories

import (
	"context"
	"errors"

	"github.com/ochairo/scanmatrix/internal/domain/entities"
)

// ErrWorkflowNotFound is returned when no workflow file matches a name
var ErrWorkflowNotFound = errors.New("workflow not found")

// WorkflowRepository defines the interface for accessing workflow definitions
type WorkflowRepository interface {
	// GetWorkflow retrieves a workflow by file name without extension
	GetWorkflow(ctx context.Context, name string) (*entities.Workflow, error)

	// ListWorkflows returns all available workflows
	ListWorkflows(ctx context.Context) ([]*entities.Workflow, error)
}
