// Package gateways defines interfaces for external system interactions.
package gateways

import (
	"context"
	"time"

	"github.com/ochairo/scanmatrix/internal/domain/entities"
)

// StepRequest carries everything needed to execute one resolved step
type StepRequest struct {
	Job       *entities.JobSpec
	Step      entities.StepDefinition // With and Run already interpolated
	Workspace string                  // Per-job working copy
	TempDir   string                  // Per-job scratch directory
	Env       map[string]string       // Exported by earlier steps of the job
	Timeout   time.Duration
}

// StepOutcome is the observable result of an external process
type StepOutcome struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	// Exports are variables the step appended to $GITHUB_ENV
	Exports map[string]string
}

// ActionRunner executes `uses:` steps
type ActionRunner interface {
	RunAction(ctx context.Context, req StepRequest) (*StepOutcome, error)
}

// ShellRunner executes `run:` steps
type ShellRunner interface {
	RunShell(ctx context.Context, req StepRequest) (*StepOutcome, error)
}

// Workspace is an isolated per-job directory pair
type Workspace struct {
	Dir     string
	TempDir string
}

// WorkspaceProvider allocates and releases isolated job workspaces
type WorkspaceProvider interface {
	Prepare(ctx context.Context, job *entities.JobSpec) (*Workspace, error)
	Release(ws *Workspace) error
}

// FindingsReader collects analyzer results left in a job's scratch directory
type FindingsReader interface {
	ReadFindings(dir string) (*entities.FindingsSummary, error)
}

// SignatureVerifier checks detached signatures on workflow files
type SignatureVerifier interface {
	VerifyFile(filePath, sigPath string) error
}

// PinChecker resolves pinned action references against their repositories
type PinChecker interface {
	CheckPin(ctx context.Context, ref entities.ActionRef) (entities.PinCheck, error)
}
