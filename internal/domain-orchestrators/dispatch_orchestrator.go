package orchestrators

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ochairo/scanmatrix/internal/domain/entities"
	"github.com/ochairo/scanmatrix/internal/domain/interfaces"
	"github.com/ochairo/scanmatrix/internal/domain/interfaces/gateways"
	"github.com/ochairo/scanmatrix/internal/domain/interfaces/repositories"
	"github.com/ochairo/scanmatrix/internal/domain/interfaces/services"
)

// DefaultSignatureSuffix is appended to a workflow path to find its detached signature
const DefaultSignatureSuffix = ".asc"

// JobRunner executes one matrix job
type JobRunner interface {
	RunJob(ctx context.Context, job *entities.JobSpec) *entities.JobResult
}

// DispatchOrchestrator turns a trigger event into concurrently running matrix jobs
type DispatchOrchestrator struct {
	workflowRepo  repositories.WorkflowRepository
	workflowSvc   services.WorkflowService
	jobs          JobRunner
	verifier      gateways.SignatureVerifier
	sigSuffix     string
	requirePinned bool
	maxParallel   int
	logger        interfaces.Logger
	newRunID      func() string
}

// DispatchOrchestratorConfig holds configuration for the dispatcher
type DispatchOrchestratorConfig struct {
	RequirePinnedActions bool
	// MaxParallel caps concurrently running jobs across a dispatch; 0 means no cap
	MaxParallel int
	// Verifier is optional; when set every workflow must carry a valid signature
	Verifier gateways.SignatureVerifier
	// SignatureSuffix locates the signature next to the workflow, DefaultSignatureSuffix if empty
	SignatureSuffix string
	Logger          interfaces.Logger
}

// NewDispatchOrchestrator creates a new dispatch orchestrator
func NewDispatchOrchestrator(
	workflowRepo repositories.WorkflowRepository,
	workflowSvc services.WorkflowService,
	jobs JobRunner,
	config DispatchOrchestratorConfig,
) *DispatchOrchestrator {
	logger := config.Logger
	if logger == nil {
		logger = &interfaces.NoOpLogger{}
	}
	sigSuffix := config.SignatureSuffix
	if sigSuffix == "" {
		sigSuffix = DefaultSignatureSuffix
	}
	return &DispatchOrchestrator{
		workflowRepo:  workflowRepo,
		workflowSvc:   workflowSvc,
		jobs:          jobs,
		verifier:      config.Verifier,
		sigSuffix:     sigSuffix,
		requirePinned: config.RequirePinnedActions,
		maxParallel:   config.MaxParallel,
		logger:        logger,
		newRunID:      uuid.NewString,
	}
}

// jobGroup is the expansion of one job template
type jobGroup struct {
	template *entities.JobTemplate
	jobs     []entities.JobSpec
}

// selection is what an event selects from a workflow
type selection struct {
	workflow   *entities.Workflow
	triggered  bool
	skipReason string
	groups     []jobGroup
}

// Dispatch runs every job an event selects from a workflow. Job failures are
// reported in the result; the error is reserved for workflows that cannot be
// loaded, verified or validated.
func (o *DispatchOrchestrator) Dispatch(ctx context.Context, workflowName string, event entities.TriggerEvent) (*entities.DispatchResult, error) {
	startTime := time.Now()
	result := &entities.DispatchResult{
		RunID:     o.newRunID(),
		Workflow:  workflowName,
		Event:     event,
		EventName: event.String(),
		Jobs:      []entities.JobResult{},
	}
	logger := o.logger.With(interfaces.F("run_id", result.RunID), interfaces.F("workflow", workflowName))

	// Steps 1-4: Load, verify, validate and select
	sel, err := o.selectJobs(ctx, workflowName, event, logger)
	if err != nil {
		return result, err
	}
	if sel.workflow.Name != "" {
		result.Workflow = sel.workflow.Name
	}
	if !sel.triggered {
		result.SkipReason = sel.skipReason
		result.Duration = time.Since(startTime)
		logger.Info("Workflow not triggered", interfaces.F("event", event.String()), interfaces.F("reason", sel.skipReason))
		return result, nil
	}
	result.Triggered = true

	// Step 5: Run all jobs concurrently
	logger.Info("Dispatching", interfaces.F("event", event.String()), interfaces.F("jobs", countJobs(sel.groups)))
	result.Jobs = o.runGroups(ctx, sel.groups)
	result.Duration = time.Since(startTime)

	logger.Info("Dispatch finished",
		interfaces.F("succeeded", result.Succeeded()),
		interfaces.F("failed", result.Failed()),
		interfaces.F("cancelled", result.Cancelled()),
		interfaces.F("duration", result.Duration.Round(time.Millisecond).String()),
	)
	return result, nil
}

// DispatchAll dispatches an event to every workflow in the repository.
// A workflow that cannot be dispatched does not stop the others.
func (o *DispatchOrchestrator) DispatchAll(ctx context.Context, event entities.TriggerEvent) ([]*entities.DispatchResult, error) {
	workflows, err := o.workflowRepo.ListWorkflows(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}

	results := make([]*entities.DispatchResult, 0, len(workflows))
	var errs []error
	for _, wf := range workflows {
		res, err := o.Dispatch(ctx, wf.Path, event)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", wf.Path, err))
			continue
		}
		results = append(results, res)
	}
	return results, errors.Join(errs...)
}

// Plan reports the jobs and steps an event would run without executing anything
func (o *DispatchOrchestrator) Plan(ctx context.Context, workflowName string, event entities.TriggerEvent) (*entities.DispatchPlan, error) {
	sel, err := o.selectJobs(ctx, workflowName, event, o.logger)
	if err != nil {
		return nil, err
	}

	plan := &entities.DispatchPlan{
		Workflow:   sel.workflow.Name,
		EventName:  event.String(),
		Triggered:  sel.triggered,
		SkipReason: sel.skipReason,
		Jobs:       []entities.JobPlan{},
	}
	if plan.Workflow == "" {
		plan.Workflow = workflowName
	}

	for _, g := range sel.groups {
		for i := range g.jobs {
			job := &g.jobs[i]
			jp := entities.JobPlan{JobID: job.ID, Matrix: job.Matrix}
			for k := range job.Steps {
				step := &job.Steps[k]
				run, err := o.workflowSvc.ShouldRunStep(job, step)
				if err != nil {
					return nil, err
				}
				resolved, err := o.workflowSvc.ResolveStep(job, *step)
				if err != nil {
					return nil, err
				}
				sp := entities.StepPlan{Name: step.DisplayName(), Run: resolved.Run, WillRun: run}
				if resolved.Uses != nil {
					sp.Uses = resolved.Uses.String()
				}
				jp.Steps = append(jp.Steps, sp)
			}
			plan.Jobs = append(plan.Jobs, jp)
		}
	}
	return plan, nil
}

func (o *DispatchOrchestrator) selectJobs(
	ctx context.Context,
	workflowName string,
	event entities.TriggerEvent,
	logger interfaces.Logger,
) (*selection, error) {
	// Step 1: Load workflow
	wf, err := o.workflowRepo.GetWorkflow(ctx, workflowName)
	if err != nil {
		return nil, fmt.Errorf("failed to load workflow: %w", err)
	}

	// Step 2: Verify signature (if enabled)
	if o.verifier != nil {
		if err := o.verifier.VerifyFile(wf.Path, wf.Path+o.sigSuffix); err != nil {
			return nil, fmt.Errorf("workflow %s: %w", wf.Path, err)
		}
		logger.Debug("Workflow signature verified", interfaces.F("path", wf.Path))
	}

	// Step 3: Static validation
	if err := o.workflowSvc.Validate(wf, o.requirePinned); err != nil {
		return nil, err
	}

	sel := &selection{workflow: wf}

	// Step 4: Trigger filters, then per-job guards
	decision := o.workflowSvc.MatchTrigger(wf, event)
	if !decision.Run {
		sel.skipReason = decision.Reason
		return sel, nil
	}

	var guardReason string
	for i := range wf.Jobs {
		tmpl := &wf.Jobs[i]
		guard, err := o.workflowSvc.EvaluateGuard(tmpl, event)
		if err != nil {
			return nil, err
		}
		if !guard.Run {
			logger.Info("Job skipped", interfaces.F("job", tmpl.ID), interfaces.F("reason", guard.Reason))
			guardReason = guard.Reason
			continue
		}
		jobs, err := o.workflowSvc.ExpandMatrix(tmpl, event)
		if err != nil {
			return nil, err
		}
		sel.groups = append(sel.groups, jobGroup{template: tmpl, jobs: jobs})
	}

	if len(sel.groups) == 0 {
		sel.skipReason = guardReason
		return sel, nil
	}
	sel.triggered = true
	return sel, nil
}

// runGroups runs every job in its own goroutine. Each goroutine writes only
// its own result slot. Fail-fast cancels the remaining jobs of the same
// template only.
func (o *DispatchOrchestrator) runGroups(ctx context.Context, groups []jobGroup) []entities.JobResult {
	results := make([]entities.JobResult, countJobs(groups))

	var global chan struct{}
	if o.maxParallel > 0 {
		global = make(chan struct{}, o.maxParallel)
	}

	var wg sync.WaitGroup
	offset := 0
	for _, g := range groups {
		groupCtx, cancel := context.WithCancel(ctx)
		defer cancel()

		var local chan struct{}
		if g.template.Strategy.MaxParallel > 0 {
			local = make(chan struct{}, g.template.Strategy.MaxParallel)
		}
		failFast := g.template.Strategy.FailFast

		for i := range g.jobs {
			idx := offset + i
			job := &g.jobs[i]
			wg.Add(1)
			go func() {
				defer wg.Done()

				if !acquire(groupCtx, local) {
					results[idx] = cancelledResult(job)
					return
				}
				defer release(local)
				if !acquire(groupCtx, global) {
					results[idx] = cancelledResult(job)
					return
				}
				defer release(global)

				if groupCtx.Err() != nil {
					results[idx] = cancelledResult(job)
					return
				}

				res := o.jobs.RunJob(groupCtx, job)
				results[idx] = *res
				if failFast && res.Status == entities.JobFailure {
					cancel()
				}
			}()
		}
		offset += len(g.jobs)
	}

	wg.Wait()
	return results
}

func acquire(ctx context.Context, sem chan struct{}) bool {
	if sem == nil {
		return true
	}
	select {
	case sem <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func release(sem chan struct{}) {
	if sem != nil {
		<-sem
	}
}

func cancelledResult(job *entities.JobSpec) entities.JobResult {
	steps := make([]entities.StepResult, 0, len(job.Steps))
	for i := range job.Steps {
		steps = append(steps, skipped(job.Steps[i].DisplayName(), "cancelled"))
	}
	return entities.JobResult{
		JobID:  job.ID,
		Matrix: job.Matrix,
		Status: entities.JobCancelled,
		Steps:  steps,
		Error:  "cancelled",
	}
}

func countJobs(groups []jobGroup) int {
	n := 0
	for _, g := range groups {
		n += len(g.jobs)
	}
	return n
}
