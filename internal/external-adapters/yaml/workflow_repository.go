package yaml

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ochairo/scanmatrix/internal/domain/entities"
	"github.com/ochairo/scanmatrix/internal/domain/interfaces"
	"github.com/ochairo/scanmatrix/internal/domain/interfaces/repositories"
)

// WorkflowRepository implements repositories.WorkflowRepository using YAML files
type WorkflowRepository struct {
	workflowsDir string
	parser       *WorkflowParser
	logger       interfaces.Logger
}

// NewWorkflowRepository creates a new YAML-based workflow repository
func NewWorkflowRepository(workflowsDir string, logger interfaces.Logger) *WorkflowRepository {
	if logger == nil {
		logger = &interfaces.NoOpLogger{}
	}
	return &WorkflowRepository{
		workflowsDir: workflowsDir,
		parser:       NewWorkflowParser(),
		logger:       logger,
	}
}

// GetWorkflow retrieves a workflow by name. The name may be a bare file
// name (codeql), a file name with extension, or a path to a file.
func (r *WorkflowRepository) GetWorkflow(_ context.Context, name string) (*entities.Workflow, error) {
	for _, candidate := range r.candidates(name) {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return r.parser.ParseFile(candidate)
		}
	}
	return nil, fmt.Errorf("%w: %s", repositories.ErrWorkflowNotFound, name)
}

func (r *WorkflowRepository) candidates(name string) []string {
	if strings.HasSuffix(name, ".yml") || strings.HasSuffix(name, ".yaml") {
		if strings.ContainsRune(name, filepath.Separator) {
			return []string{name, filepath.Join(r.workflowsDir, name)}
		}
		return []string{filepath.Join(r.workflowsDir, name)}
	}
	return []string{
		filepath.Join(r.workflowsDir, name+".yml"),
		filepath.Join(r.workflowsDir, name+".yaml"),
	}
}

// ListWorkflows returns all available workflows
func (r *WorkflowRepository) ListWorkflows(_ context.Context) ([]*entities.Workflow, error) {
	entries, err := os.ReadDir(r.workflowsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflows directory: %w", err)
	}

	workflows := make([]*entities.Workflow, 0)
	for _, entry := range entries {
		// Skip non-YAML files
		if entry.IsDir() || !isWorkflowFile(entry.Name()) {
			continue
		}

		filePath := filepath.Join(r.workflowsDir, entry.Name())
		wf, err := r.parser.ParseFile(filePath)
		if err != nil {
			// Log warning but continue processing other files
			r.logger.Warn("skipping unparsable workflow", interfaces.F("file", entry.Name()), interfaces.F("error", err))
			continue
		}

		workflows = append(workflows, wf)
	}

	return workflows, nil
}

func isWorkflowFile(name string) bool {
	return strings.HasSuffix(name, ".yml") || strings.HasSuffix(name, ".yaml")
}
