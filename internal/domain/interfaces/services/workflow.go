// Package services defines interfaces for domain service contracts.
package services

import (
	"github.com/ochairo/scanmatrix/internal/domain/entities"
)

// Decision explains whether a job template runs for an event
type Decision struct {
	Run    bool
	Reason string
}

// WorkflowService defines trigger, guard and matrix rules for workflows
type WorkflowService interface {
	// MatchTrigger checks the workflow `on:` filters against an event
	MatchTrigger(wf *entities.Workflow, event entities.TriggerEvent) Decision

	// EvaluateGuard evaluates a job template's `if:` guard for an event
	EvaluateGuard(job *entities.JobTemplate, event entities.TriggerEvent) (Decision, error)

	// ExpandMatrix produces one JobSpec per matrix combination
	ExpandMatrix(job *entities.JobTemplate, event entities.TriggerEvent) ([]entities.JobSpec, error)

	// ShouldRunStep evaluates a step `if:` condition in the context of a job
	ShouldRunStep(job *entities.JobSpec, step *entities.StepDefinition) (bool, error)

	// ResolveStep substitutes ${{ }} expressions in a step's inputs and script
	ResolveStep(job *entities.JobSpec, step entities.StepDefinition) (entities.StepDefinition, error)

	// Validate runs static checks over a workflow definition
	Validate(wf *entities.Workflow, requirePinned bool) error
}
