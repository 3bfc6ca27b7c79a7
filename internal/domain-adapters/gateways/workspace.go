package gateways

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ochairo/scanmatrix/internal/domain/entities"
	"github.com/ochairo/scanmatrix/internal/domain/interfaces"
	"github.com/ochairo/scanmatrix/internal/domain/interfaces/gateways"
)

// DirWorkspaceProvider gives every job its own directory tree under root
type DirWorkspaceProvider struct {
	root   string // empty means os.TempDir
	keep   bool
	logger interfaces.Logger
}

// NewDirWorkspaceProvider creates a workspace provider
func NewDirWorkspaceProvider(root string, keep bool, logger interfaces.Logger) *DirWorkspaceProvider {
	if logger == nil {
		logger = &interfaces.NoOpLogger{}
	}
	return &DirWorkspaceProvider{root: root, keep: keep, logger: logger}
}

// Prepare creates <root>/scanmatrix-<job>-XXXX/{src,tmp}
func (p *DirWorkspaceProvider) Prepare(_ context.Context, job *entities.JobSpec) (*gateways.Workspace, error) {
	if p.root != "" {
		if err := os.MkdirAll(p.root, 0750); err != nil {
			return nil, fmt.Errorf("failed to create workspace root: %w", err)
		}
	}

	base, err := os.MkdirTemp(p.root, "scanmatrix-"+dirSafe(job.ID)+"-")
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}

	ws := &gateways.Workspace{
		Dir:     filepath.Join(base, "src"),
		TempDir: filepath.Join(base, "tmp"),
	}
	for _, dir := range []string{ws.Dir, ws.TempDir} {
		if err := os.Mkdir(dir, 0750); err != nil {
			_ = os.RemoveAll(base)
			return nil, fmt.Errorf("failed to create workspace: %w", err)
		}
	}
	return ws, nil
}

// Release removes the workspace unless workspaces are kept
func (p *DirWorkspaceProvider) Release(ws *gateways.Workspace) error {
	if ws == nil {
		return nil
	}
	base := filepath.Dir(ws.Dir)
	if p.keep {
		p.logger.Info("Keeping workspace", interfaces.F("path", base))
		return nil
	}
	if err := os.RemoveAll(base); err != nil {
		return fmt.Errorf("failed to remove workspace %s: %w", base, err)
	}
	return nil
}

// dirSafe turns "analyze (c-cpp)" into "analyze-c-cpp"
func dirSafe(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

var _ gateways.WorkspaceProvider = (*DirWorkspaceProvider)(nil)
