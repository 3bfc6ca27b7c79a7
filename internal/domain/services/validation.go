package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ochairo/scanmatrix/internal/domain/entities"
)

// Validate runs static checks over a workflow definition. All problems are
// reported together; every one of them wraps ErrInvalidWorkflow.
func (s *workflowService) Validate(wf *entities.Workflow, requirePinned bool) error {
	var errs []error
	add := func(err error) {
		errs = append(errs, fmt.Errorf("%w: %w", ErrInvalidWorkflow, err))
	}

	if wf.On.Push == nil && wf.On.PullRequest == nil && len(wf.On.Schedules) == 0 {
		add(errors.New("no triggers declared under on:"))
	}

	for _, filter := range []*entities.BranchFilter{wf.On.Push, wf.On.PullRequest} {
		if filter == nil {
			continue
		}
		for _, p := range filter.Branches {
			if _, err := compileBranchPattern(strings.TrimPrefix(p, "!")); err != nil {
				add(err)
			}
		}
	}

	for _, expr := range wf.On.Schedules {
		if s.schedules == nil {
			break
		}
		if err := s.schedules.Validate(expr); err != nil {
			add(fmt.Errorf("schedule %q: %w", expr, err))
		}
	}

	if len(wf.Jobs) == 0 {
		add(errors.New("no jobs declared"))
	}

	for i := range wf.Jobs {
		job := &wf.Jobs[i]
		for _, err := range validateJob(job, requirePinned) {
			add(fmt.Errorf("job %s: %w", job.ID, err))
		}
	}

	return errors.Join(errs...)
}

func validateJob(job *entities.JobTemplate, requirePinned bool) []error {
	var errs []error

	if err := checkExpression(job.If); err != nil {
		errs = append(errs, fmt.Errorf("if: %w", err))
	}
	if err := validateMatrix(job); err != nil {
		errs = append(errs, err)
	}
	for scope, access := range job.Permissions {
		if access != "read" && access != "write" && access != "none" {
			errs = append(errs, fmt.Errorf("permission %s: unknown access %q", scope, access))
		}
	}
	if len(job.Steps) == 0 {
		errs = append(errs, errors.New("no steps declared"))
	}

	for i := range job.Steps {
		step := &job.Steps[i]
		name := step.DisplayName()
		hasRun := strings.TrimSpace(step.Run) != ""
		switch {
		case step.Uses != nil && hasRun:
			errs = append(errs, fmt.Errorf("step %q: uses and run are mutually exclusive", name))
		case step.Uses == nil && !hasRun:
			errs = append(errs, fmt.Errorf("step %q: one of uses or run is required", name))
		}
		if step.Uses != nil && requirePinned && !step.Uses.IsPinned() {
			errs = append(errs, fmt.Errorf("step %q: %s: %w", name, step.Uses, ErrUnpinnedAction))
		}
		if err := checkExpression(step.If); err != nil {
			errs = append(errs, fmt.Errorf("step %q if: %w", name, err))
		}
		for k, v := range step.With {
			if _, err := Interpolate(v, ExpressionContext{}); err != nil {
				errs = append(errs, fmt.Errorf("step %q with.%s: %w", name, k, err))
			}
		}
		if _, err := Interpolate(step.Run, ExpressionContext{}); err != nil {
			errs = append(errs, fmt.Errorf("step %q run: %w", name, err))
		}
	}
	return errs
}

func checkExpression(expr string) error {
	if strings.TrimSpace(expr) == "" {
		return nil
	}
	_, err := EvaluateCondition(expr, ExpressionContext{})
	return err
}
