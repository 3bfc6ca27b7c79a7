package entities

import (
	"fmt"
	"strings"
	"time"
)

// DispatchResult is the outcome of handling one trigger event
type DispatchResult struct {
	RunID      string        `json:"run_id"`
	Workflow   string        `json:"workflow"`
	Event      TriggerEvent  `json:"-"`
	EventName  string        `json:"event"`
	Triggered  bool          `json:"triggered"`
	SkipReason string        `json:"skip_reason,omitempty"`
	Jobs       []JobResult   `json:"jobs"`
	Duration   time.Duration `json:"duration_ns"`
}

// Succeeded returns the number of successful jobs
func (r *DispatchResult) Succeeded() int {
	return r.count(JobSuccess)
}

// Failed returns the number of failed jobs
func (r *DispatchResult) Failed() int {
	return r.count(JobFailure)
}

// Cancelled returns the number of jobs cancelled by a fail-fast sibling
func (r *DispatchResult) Cancelled() int {
	return r.count(JobCancelled)
}

func (r *DispatchResult) count(status JobStatus) int {
	n := 0
	for _, j := range r.Jobs {
		if j.Status == status {
			n++
		}
	}
	return n
}

// OK reports whether every scheduled job succeeded. A skipped dispatch is OK.
func (r *DispatchResult) OK() bool {
	return r.Failed() == 0 && r.Cancelled() == 0
}

// GetSummary returns a human-readable summary of the dispatch
func (r *DispatchResult) GetSummary() string {
	if !r.Triggered {
		return fmt.Sprintf("Workflow %s not triggered: %s", r.Workflow, r.SkipReason)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Workflow %s run %s\n", r.Workflow, r.RunID)
	fmt.Fprintf(&b, "Event: %s\n", r.Event)
	for _, j := range r.Jobs {
		fmt.Fprintf(&b, "  %-9s %s (%v)", j.Status, j.JobID, j.Duration.Round(time.Millisecond))
		if j.Findings != nil {
			fmt.Fprintf(&b, " findings=%d", j.Findings.Total)
		}
		if j.Error != "" {
			fmt.Fprintf(&b, " - %s", j.Error)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Jobs: %d succeeded, %d failed, %d cancelled", r.Succeeded(), r.Failed(), r.Cancelled())
	return b.String()
}

// DispatchPlan describes what a dispatch would do without running anything
type DispatchPlan struct {
	Workflow   string    `json:"workflow"`
	EventName  string    `json:"event"`
	Triggered  bool      `json:"triggered"`
	SkipReason string    `json:"skip_reason,omitempty"`
	Jobs       []JobPlan `json:"jobs"`
}

// JobPlan lists the steps of a job and whether each would run
type JobPlan struct {
	JobID  string            `json:"job_id"`
	Matrix map[string]string `json:"matrix,omitempty"`
	Steps  []StepPlan        `json:"steps"`
}

// StepPlan is a planned step
type StepPlan struct {
	Name    string `json:"name"`
	Uses    string `json:"uses,omitempty"`
	Run     string `json:"run,omitempty"`
	WillRun bool   `json:"will_run"`
}
