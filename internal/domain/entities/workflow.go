// Package entities defines the core domain types of scanmatrix.
package entities

import (
	"regexp"
	"sort"
	"strings"
)

// Workflow represents a scan workflow definition loaded from YAML
type Workflow struct {
	Name string
	Path string // Source file, empty when parsed from bytes
	On   Triggers
	Jobs []JobTemplate // Sorted by ID
}

// Triggers holds the event filters a workflow reacts to
type Triggers struct {
	Push        *BranchFilter // nil when push events are not handled
	PullRequest *BranchFilter // nil when pull_request events are not handled
	Schedules   []string      // 5-field cron expressions, UTC
}

// BranchFilter restricts an event to matching branch names.
// An empty Branches list admits every branch.
type BranchFilter struct {
	Branches []string
}

// HasSchedule reports whether the workflow declares the given cron expression
func (t Triggers) HasSchedule(expr string) bool {
	for _, s := range t.Schedules {
		if s == expr {
			return true
		}
	}
	return false
}

// JobTemplate is a job as declared in the workflow, before matrix expansion
type JobTemplate struct {
	ID             string
	Name           string
	If             string // Guard expression, empty means always
	RunsOn         string
	Permissions    map[string]string
	Strategy       Strategy
	Steps          []StepDefinition
	TimeoutMinutes int
}

// HasPermission reports whether the job was granted at least the given access.
// "write" implies "read".
func (j *JobTemplate) HasPermission(scope, access string) bool {
	granted := j.Permissions[scope]
	switch access {
	case "read":
		return granted == "read" || granted == "write"
	case "write":
		return granted == "write"
	default:
		return false
	}
}

// Strategy describes how a job template is fanned out
type Strategy struct {
	FailFast    bool
	MaxParallel int // 0 means unlimited
	Matrix      Matrix
}

// Matrix is an ordered set of axes whose cross product yields the job instances
type Matrix struct {
	Axes []MatrixAxis
}

// MatrixAxis is a single named dimension of a build matrix
type MatrixAxis struct {
	Name   string
	Values []string
}

// StepDefinition is a single step of a job
type StepDefinition struct {
	ID             string
	Name           string
	Uses           *ActionRef // Set for action steps
	With           map[string]string
	Run            string // Set for shell steps
	If             string
	Env            map[string]string
	TimeoutMinutes int
}

// IsAction reports whether the step invokes an external action
func (s *StepDefinition) IsAction() bool {
	return s.Uses != nil
}

// DisplayName returns the step name, falling back to the action or script
func (s *StepDefinition) DisplayName() string {
	if s.Name != "" {
		return s.Name
	}
	if s.Uses != nil {
		return s.Uses.Name()
	}
	line, _, _ := strings.Cut(strings.TrimSpace(s.Run), "\n")
	return "Run " + line
}

var commitSHAPattern = regexp.MustCompile(`^[0-9a-f]{40}$`)

// ActionRef identifies an external action, e.g. github/codeql-action/init@<sha>
type ActionRef struct {
	Owner          string
	Repo           string
	Path           string // Sub-action path inside the repository, may be empty
	Ref            string
	VersionComment string // Human readable version taken from the trailing comment
}

// Name returns the action name without the ref
func (a ActionRef) Name() string {
	name := a.Owner + "/" + a.Repo
	if a.Path != "" {
		name += "/" + a.Path
	}
	return name
}

// String returns the full reference as written in a workflow
func (a ActionRef) String() string {
	return a.Name() + "@" + a.Ref
}

// IsPinned reports whether the ref is an immutable full-length commit SHA
func (a ActionRef) IsPinned() bool {
	return commitSHAPattern.MatchString(a.Ref)
}

// Actions returns every distinct action referenced by the workflow, sorted
func (w *Workflow) Actions() []ActionRef {
	seen := make(map[string]bool)
	var refs []ActionRef
	for i := range w.Jobs {
		for _, step := range w.Jobs[i].Steps {
			if step.Uses == nil {
				continue
			}
			key := step.Uses.String()
			if seen[key] {
				continue
			}
			seen[key] = true
			refs = append(refs, *step.Uses)
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].String() < refs[j].String() })
	return refs
}

// PinCheck is the outcome of resolving a pinned action against its repository
type PinCheck struct {
	Action ActionRef
	OK     bool
	Reason string
	TagSHA string // Commit the version comment resolves to, if checked
}
