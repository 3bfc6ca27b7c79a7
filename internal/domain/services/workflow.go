// Package services implements domain business logic and use cases.
package services

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ochairo/scanmatrix/internal/domain/entities"
	"github.com/ochairo/scanmatrix/internal/domain/interfaces/services"
)

var (
	// ErrInvalidWorkflow marks a workflow that fails static validation
	ErrInvalidWorkflow = errors.New("invalid workflow")
	// ErrUnpinnedAction marks a `uses:` reference not pinned to a commit SHA
	ErrUnpinnedAction = errors.New("action not pinned to a commit SHA")
	// ErrInvalidExpression marks an `if:` or ${{ }} expression that does not parse
	ErrInvalidExpression = errors.New("invalid expression")
)

// ScheduleParser validates cron expressions
type ScheduleParser interface {
	Validate(expr string) error
}

// workflowService implements WorkflowService with pure business logic
type workflowService struct {
	schedules ScheduleParser
}

// NewWorkflowService creates a new workflow service
func NewWorkflowService(schedules ScheduleParser) services.WorkflowService {
	return &workflowService{schedules: schedules}
}

// MatchTrigger checks the workflow `on:` filters against an event.
// Scheduled ticks bypass branch filters entirely.
func (s *workflowService) MatchTrigger(wf *entities.Workflow, event entities.TriggerEvent) services.Decision {
	switch event.Kind {
	case entities.EventPush:
		return matchBranchFilter("push", wf.On.Push, event.Branch)
	case entities.EventPullRequest:
		return matchBranchFilter("pull_request", wf.On.PullRequest, event.Branch)
	case entities.EventSchedule:
		if len(wf.On.Schedules) == 0 {
			return services.Decision{Reason: "workflow has no schedule trigger"}
		}
		if event.Cron != "" && !wf.On.HasSchedule(event.Cron) {
			return services.Decision{Reason: fmt.Sprintf("schedule %q is not declared by the workflow", event.Cron)}
		}
		return services.Decision{Run: true, Reason: "scheduled tick"}
	default:
		return services.Decision{Reason: fmt.Sprintf("unsupported event %q", event.Kind)}
	}
}

func matchBranchFilter(kind string, filter *entities.BranchFilter, branch string) services.Decision {
	if filter == nil {
		return services.Decision{Reason: fmt.Sprintf("workflow has no %s trigger", kind)}
	}
	ok, err := MatchBranches(filter.Branches, branch)
	if err != nil {
		return services.Decision{Reason: err.Error()}
	}
	if !ok {
		return services.Decision{Reason: fmt.Sprintf("branch %q does not match %s filter %v", branch, kind, filter.Branches)}
	}
	return services.Decision{Run: true, Reason: fmt.Sprintf("%s on %s", kind, branch)}
}

// EvaluateGuard evaluates a job template's `if:` guard for an event
func (s *workflowService) EvaluateGuard(job *entities.JobTemplate, event entities.TriggerEvent) (services.Decision, error) {
	if strings.TrimSpace(job.If) == "" {
		return services.Decision{Run: true}, nil
	}
	ok, err := EvaluateCondition(job.If, eventContext(event))
	if err != nil {
		return services.Decision{}, fmt.Errorf("job %s guard: %w", job.ID, err)
	}
	if !ok {
		return services.Decision{Reason: fmt.Sprintf("job %s guard %q is false", job.ID, job.If)}, nil
	}
	return services.Decision{Run: true}, nil
}

// ExpandMatrix produces one JobSpec per matrix combination, in axis order
func (s *workflowService) ExpandMatrix(job *entities.JobTemplate, event entities.TriggerEvent) ([]entities.JobSpec, error) {
	if err := validateMatrix(job); err != nil {
		return nil, fmt.Errorf("%w: job %s: %w", ErrInvalidWorkflow, job.ID, err)
	}

	combos := []map[string]string{{}}
	for _, axis := range job.Strategy.Matrix.Axes {
		next := make([]map[string]string, 0, len(combos)*len(axis.Values))
		for _, combo := range combos {
			for _, v := range axis.Values {
				c := make(map[string]string, len(combo)+1)
				for k, cv := range combo {
					c[k] = cv
				}
				c[axis.Name] = v
				next = append(next, c)
			}
		}
		combos = next
	}

	specs := make([]entities.JobSpec, 0, len(combos))
	for _, combo := range combos {
		steps := make([]entities.StepDefinition, len(job.Steps))
		copy(steps, job.Steps)
		specs = append(specs, entities.JobSpec{
			ID:          entities.JobInstanceID(job.ID, combo),
			TemplateID:  job.ID,
			Name:        job.Name,
			Matrix:      combo,
			Permissions: job.Permissions,
			Steps:       steps,
			Timeout:     time.Duration(job.TimeoutMinutes) * time.Minute,
			Event:       event,
		})
	}
	return specs, nil
}

func validateMatrix(job *entities.JobTemplate) error {
	seenAxes := make(map[string]bool)
	for _, axis := range job.Strategy.Matrix.Axes {
		if seenAxes[axis.Name] {
			return fmt.Errorf("duplicate matrix axis %q", axis.Name)
		}
		seenAxes[axis.Name] = true
		if len(axis.Values) == 0 {
			return fmt.Errorf("matrix axis %q has no values", axis.Name)
		}
		seen := make(map[string]bool, len(axis.Values))
		for _, v := range axis.Values {
			if seen[v] {
				return fmt.Errorf("duplicate matrix value %q in %q", v, axis.Name)
			}
			seen[v] = true
		}
	}
	return nil
}

// ShouldRunStep evaluates a step `if:` condition in the context of a job
func (s *workflowService) ShouldRunStep(job *entities.JobSpec, step *entities.StepDefinition) (bool, error) {
	if strings.TrimSpace(step.If) == "" {
		return true, nil
	}
	ok, err := EvaluateCondition(step.If, jobContext(job))
	if err != nil {
		return false, fmt.Errorf("step %q condition: %w", step.DisplayName(), err)
	}
	return ok, nil
}

// ResolveStep substitutes ${{ }} expressions in a step's inputs, env and script
func (s *workflowService) ResolveStep(job *entities.JobSpec, step entities.StepDefinition) (entities.StepDefinition, error) {
	ctx := jobContext(job)

	resolved := step
	var err error
	if resolved.Run, err = Interpolate(step.Run, ctx); err != nil {
		return step, fmt.Errorf("step %q run: %w", step.DisplayName(), err)
	}
	if resolved.With, err = interpolateMap(step.With, ctx); err != nil {
		return step, fmt.Errorf("step %q with: %w", step.DisplayName(), err)
	}
	if resolved.Env, err = interpolateMap(step.Env, ctx); err != nil {
		return step, fmt.Errorf("step %q env: %w", step.DisplayName(), err)
	}
	return resolved, nil
}

func interpolateMap(in map[string]string, ctx ExpressionContext) (map[string]string, error) {
	if in == nil {
		return nil, nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		r, err := Interpolate(v, ctx)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		out[k] = r
	}
	return out, nil
}

// eventContext exposes the github.* names available to job guards
func eventContext(event entities.TriggerEvent) ExpressionContext {
	ctx := ExpressionContext{
		"github.repository": event.Repository,
		"github.event_name": string(event.Kind),
		"github.sha":        event.Revision,
	}
	if owner, _, ok := strings.Cut(event.Repository, "/"); ok {
		ctx["github.repository_owner"] = owner
	}
	switch event.Kind {
	case entities.EventPush:
		ctx["github.ref"] = event.Ref()
		ctx["github.ref_name"] = event.Branch
	case entities.EventPullRequest:
		ctx["github.base_ref"] = event.Branch
	case entities.EventSchedule:
		ctx["github.event.schedule"] = event.Cron
	}
	return ctx
}

// jobContext adds matrix.* names to the event context
func jobContext(job *entities.JobSpec) ExpressionContext {
	ctx := eventContext(job.Event)
	for k, v := range job.Matrix {
		ctx["matrix."+k] = v
	}
	ctx["job.id"] = job.TemplateID
	return ctx
}
