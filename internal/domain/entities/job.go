package entities

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// JobSpec is a single job instance produced by matrix expansion
type JobSpec struct {
	ID          string // e.g. "analyze (python)"
	TemplateID  string
	Name        string
	Matrix      map[string]string // One value per matrix axis
	Permissions map[string]string
	Steps       []StepDefinition
	Timeout     time.Duration // 0 means no job level timeout
	Event       TriggerEvent
}

// Language returns the matrix language of the job, if any
func (j *JobSpec) Language() string {
	return j.Matrix["language"]
}

// HasPermission reports whether the job was granted at least the given access
func (j *JobSpec) HasPermission(scope, access string) bool {
	t := JobTemplate{Permissions: j.Permissions}
	return t.HasPermission(scope, access)
}

// JobInstanceID builds the display ID of a matrix job, e.g. "analyze (c-cpp)"
func JobInstanceID(templateID string, matrix map[string]string) string {
	if len(matrix) == 0 {
		return templateID
	}
	keys := make([]string, 0, len(matrix))
	for k := range matrix {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values := make([]string, 0, len(keys))
	for _, k := range keys {
		values = append(values, matrix[k])
	}
	return fmt.Sprintf("%s (%s)", templateID, strings.Join(values, ", "))
}

// StepStatus is the outcome of a single step
type StepStatus string

const (
	StepSuccess StepStatus = "success"
	StepFailure StepStatus = "failure"
	StepSkipped StepStatus = "skipped"
)

// StepResult records the execution of one step
type StepResult struct {
	Name     string        `json:"name"`
	Status   StepStatus    `json:"status"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration_ns"`
	Reason   string        `json:"reason,omitempty"` // Why a step was skipped or failed
}

// JobStatus is the outcome of a job
type JobStatus string

const (
	JobSuccess   JobStatus = "success"
	JobFailure   JobStatus = "failure"
	JobCancelled JobStatus = "cancelled"
)

// JobResult records the execution of one matrix job
type JobResult struct {
	JobID    string            `json:"job_id"`
	Matrix   map[string]string `json:"matrix,omitempty"`
	Status   JobStatus         `json:"status"`
	Steps    []StepResult      `json:"steps"`
	Findings *FindingsSummary  `json:"findings,omitempty"`
	Duration time.Duration     `json:"duration_ns"`
	Error    string            `json:"error,omitempty"`
}

// ExecutedSteps returns how many steps were not skipped
func (r *JobResult) ExecutedSteps() int {
	n := 0
	for _, s := range r.Steps {
		if s.Status != StepSkipped {
			n++
		}
	}
	return n
}

// FindingsSummary aggregates analyzer results read from a SARIF log.
// Findings are the intended output of a scan, not a job failure.
type FindingsSummary struct {
	Total   int            `json:"total"`
	ByLevel map[string]int `json:"by_level"` // error, warning, note, none
	Rules   []string       `json:"rules,omitempty"`
	Source  string         `json:"source"`
}
