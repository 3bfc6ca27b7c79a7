// Package orchestrators coordinates complex workflows across multiple domain services.
package orchestrators

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ochairo/scanmatrix/internal/domain/entities"
	"github.com/ochairo/scanmatrix/internal/domain/interfaces"
	"github.com/ochairo/scanmatrix/internal/domain/interfaces/gateways"
	"github.com/ochairo/scanmatrix/internal/domain/interfaces/services"
)

// ErrStepFailed marks a job that stopped because one of its steps failed
var ErrStepFailed = errors.New("step failed")

// JobOrchestrator runs the steps of a single matrix job in order
type JobOrchestrator struct {
	workflowSvc services.WorkflowService
	workspaces  gateways.WorkspaceProvider
	actions     gateways.ActionRunner
	shell       gateways.ShellRunner
	findings    gateways.FindingsReader
	stepTimeout time.Duration
	logger      interfaces.Logger
}

// JobOrchestratorConfig holds configuration for the job orchestrator
type JobOrchestratorConfig struct {
	// StepTimeout applies to steps without timeout-minutes
	StepTimeout time.Duration
	// Findings is optional; nil disables findings collection
	Findings gateways.FindingsReader
	Logger   interfaces.Logger
}

// NewJobOrchestrator creates a new job orchestrator
func NewJobOrchestrator(
	workflowSvc services.WorkflowService,
	workspaces gateways.WorkspaceProvider,
	actions gateways.ActionRunner,
	shell gateways.ShellRunner,
	config JobOrchestratorConfig,
) *JobOrchestrator {
	logger := config.Logger
	if logger == nil {
		logger = &interfaces.NoOpLogger{}
	}
	stepTimeout := config.StepTimeout
	if stepTimeout <= 0 {
		stepTimeout = 360 * time.Minute
	}
	return &JobOrchestrator{
		workflowSvc: workflowSvc,
		workspaces:  workspaces,
		actions:     actions,
		shell:       shell,
		findings:    config.Findings,
		stepTimeout: stepTimeout,
		logger:      logger,
	}
}

// RunJob executes a job in a fresh workspace. Steps run strictly in order;
// the first failing step fails the job and the remaining steps are skipped.
// The returned result is never nil.
func (o *JobOrchestrator) RunJob(ctx context.Context, job *entities.JobSpec) *entities.JobResult {
	startTime := time.Now()
	logger := o.logger.With(interfaces.F("job", job.ID))
	result := &entities.JobResult{
		JobID:  job.ID,
		Matrix: job.Matrix,
		Status: entities.JobSuccess,
		Steps:  make([]entities.StepResult, 0, len(job.Steps)),
	}
	defer func() { result.Duration = time.Since(startTime) }()

	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	// Step 1: Allocate an isolated workspace
	ws, err := o.workspaces.Prepare(ctx, job)
	if err != nil {
		result.Status = entities.JobFailure
		result.Error = fmt.Sprintf("failed to prepare workspace: %v", err)
		logger.Error("Job failed", interfaces.F("error", result.Error))
		return result
	}
	defer func() {
		if err := o.workspaces.Release(ws); err != nil {
			logger.Warn("Failed to release workspace", interfaces.F("error", err))
		}
	}()

	logger.Info("Job started", interfaces.F("workspace", ws.Dir))

	// Step 2: Run steps sequentially. Variables a step exports are
	// visible to every later step of the same job.
	var failure error
	jobEnv := make(map[string]string)
	for i := range job.Steps {
		step := &job.Steps[i]
		name := step.DisplayName()

		if failure != nil {
			result.Steps = append(result.Steps, skipped(name, "previous step failed"))
			continue
		}
		if ctx.Err() != nil {
			result.Steps = append(result.Steps, skipped(name, interruption(ctx)))
			continue
		}

		sr, err := o.runStep(ctx, job, step, ws, jobEnv, logger)
		result.Steps = append(result.Steps, sr)
		if err != nil {
			failure = fmt.Errorf("%w: %s: %w", ErrStepFailed, name, err)
		}
	}

	// Step 3: Collect analyzer findings. Findings never fail the job.
	if o.findings != nil && job.HasPermission("security-events", "write") {
		summary, err := o.findings.ReadFindings(ws.TempDir)
		if err != nil {
			logger.Warn("Failed to read findings", interfaces.F("error", err))
		}
		result.Findings = summary
	}

	// Step 4: Settle the job status
	switch {
	case errors.Is(ctx.Err(), context.Canceled):
		result.Status = entities.JobCancelled
		result.Error = "cancelled"
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		result.Status = entities.JobFailure
		result.Error = "timed out"
		if job.Timeout > 0 {
			result.Error = fmt.Sprintf("timed out after %v", job.Timeout)
		}
		if failure != nil {
			result.Error += ": " + failure.Error()
		}
	case failure != nil:
		result.Status = entities.JobFailure
		result.Error = failure.Error()
	}

	fields := []interfaces.Field{
		interfaces.F("status", string(result.Status)),
		interfaces.F("steps", result.ExecutedSteps()),
		interfaces.F("duration", time.Since(startTime).Round(time.Millisecond).String()),
	}
	if result.Findings != nil {
		fields = append(fields, interfaces.F("findings", result.Findings.Total))
	}
	if result.Status == entities.JobSuccess {
		logger.Info("Job finished", fields...)
	} else {
		logger.Error("Job finished", append(fields, interfaces.F("error", result.Error))...)
	}
	return result
}

// runStep executes one step. A non-nil error means the step failed.
func (o *JobOrchestrator) runStep(
	ctx context.Context,
	job *entities.JobSpec,
	step *entities.StepDefinition,
	ws *gateways.Workspace,
	jobEnv map[string]string,
	logger interfaces.Logger,
) (entities.StepResult, error) {
	name := step.DisplayName()
	start := time.Now()
	fail := func(exitCode int, err error) (entities.StepResult, error) {
		logger.Error("Step failed", interfaces.F("step", name), interfaces.F("error", err))
		return entities.StepResult{
			Name:     name,
			Status:   entities.StepFailure,
			ExitCode: exitCode,
			Duration: time.Since(start),
			Reason:   err.Error(),
		}, err
	}

	run, err := o.workflowSvc.ShouldRunStep(job, step)
	if err != nil {
		return fail(-1, err)
	}
	if !run {
		logger.Debug("Step skipped", interfaces.F("step", name), interfaces.F("if", step.If))
		return skipped(name, fmt.Sprintf("condition %q is false", step.If)), nil
	}

	resolved, err := o.workflowSvc.ResolveStep(job, *step)
	if err != nil {
		return fail(-1, err)
	}

	timeout := o.stepTimeout
	if step.TimeoutMinutes > 0 {
		timeout = time.Duration(step.TimeoutMinutes) * time.Minute
	}

	req := gateways.StepRequest{
		Job:       job,
		Step:      resolved,
		Workspace: ws.Dir,
		TempDir:   ws.TempDir,
		Env:       copyEnv(jobEnv),
		Timeout:   timeout,
	}

	logger.Info("Step started", interfaces.F("step", name))
	var outcome *gateways.StepOutcome
	if resolved.IsAction() {
		outcome, err = o.actions.RunAction(ctx, req)
	} else {
		outcome, err = o.shell.RunShell(ctx, req)
	}
	if err != nil {
		exitCode := -1
		if outcome != nil {
			exitCode = outcome.ExitCode
		}
		return fail(exitCode, err)
	}
	if outcome.ExitCode != 0 {
		if tail := lastLines(outcome.Stderr, 20); tail != "" {
			logger.Error("Step output", interfaces.F("step", name), interfaces.F("stderr", tail))
		}
		return fail(outcome.ExitCode, fmt.Errorf("exit code %d", outcome.ExitCode))
	}

	for k, v := range outcome.Exports {
		jobEnv[k] = v
	}
	if len(outcome.Exports) > 0 {
		logger.Debug("Step exported environment", interfaces.F("step", name), interfaces.F("count", len(outcome.Exports)))
	}

	logger.Info("Step finished", interfaces.F("step", name), interfaces.F("duration", outcome.Duration.Round(time.Millisecond).String()))
	return entities.StepResult{
		Name:     name,
		Status:   entities.StepSuccess,
		Duration: time.Since(start),
	}, nil
}

func skipped(name, reason string) entities.StepResult {
	return entities.StepResult{Name: name, Status: entities.StepSkipped, Reason: reason}
}

// interruption names why a context stopped the job
func interruption(ctx context.Context) string {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return "timed out"
	}
	return "cancelled"
}

func copyEnv(env map[string]string) map[string]string {
	out := make(map[string]string, len(env))
	for k, v := range env {
		out[k] = v
	}
	return out
}

func lastLines(s string, n int) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}
