// Package yaml provides YAML-based workflow parsing and repository implementations.
package yaml

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ochairo/scanmatrix/internal/domain/entities"
)

// yamlWorkflow represents the raw YAML structure
type yamlWorkflow struct {
	Name string             `yaml:"name"`
	On   yaml.Node          `yaml:"on"`
	Jobs map[string]yamlJob `yaml:"jobs"`
}

type yamlJob struct {
	Name           string       `yaml:"name"`
	If             string       `yaml:"if"`
	RunsOn         yaml.Node    `yaml:"runs-on"`
	Permissions    yaml.Node    `yaml:"permissions"`
	Strategy       yamlStrategy `yaml:"strategy"`
	Steps          []yamlStep   `yaml:"steps"`
	TimeoutMinutes int          `yaml:"timeout-minutes"`
}

type yamlStrategy struct {
	FailFast    *bool     `yaml:"fail-fast"`
	MaxParallel int       `yaml:"max-parallel"`
	Matrix      yaml.Node `yaml:"matrix"`
}

type yamlStep struct {
	ID             string            `yaml:"id"`
	Name           string            `yaml:"name"`
	Uses           yaml.Node         `yaml:"uses"`
	With           map[string]string `yaml:"with"`
	Run            string            `yaml:"run"`
	If             string            `yaml:"if"`
	Env            map[string]string `yaml:"env"`
	TimeoutMinutes int               `yaml:"timeout-minutes"`
}

type yamlBranchFilter struct {
	Branches       []string `yaml:"branches"`
	BranchesIgnore []string `yaml:"branches-ignore"`
}

type yamlSchedule struct {
	Cron string `yaml:"cron"`
}

// permissionScopes are the scopes granted by read-all / write-all
var permissionScopes = []string{
	"actions", "checks", "contents", "deployments", "id-token", "issues",
	"packages", "pages", "pull-requests", "repository-projects",
	"security-events", "statuses",
}

// WorkflowParser parses YAML workflow files
type WorkflowParser struct{}

// NewWorkflowParser creates a new YAML parser
func NewWorkflowParser() *WorkflowParser {
	return &WorkflowParser{}
}

// ParseFile parses a YAML workflow file into a Workflow entity
func (p *WorkflowParser) ParseFile(filePath string) (*entities.Workflow, error) {
	//nolint:gosec // G304: filePath is a workflow definition path from the repository
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", filePath, err)
	}

	wf, err := p.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filePath, err)
	}
	wf.Path = filePath
	return wf, nil
}

// Parse parses YAML bytes into a Workflow entity
func (p *WorkflowParser) Parse(data []byte) (*entities.Workflow, error) {
	var raw yamlWorkflow
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if len(raw.Jobs) == 0 {
		return nil, fmt.Errorf("workflow must declare at least one job")
	}

	on, err := convertTriggers(&raw.On)
	if err != nil {
		return nil, fmt.Errorf("on: %w", err)
	}

	ids := make([]string, 0, len(raw.Jobs))
	for id := range raw.Jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	wf := &entities.Workflow{
		Name: raw.Name,
		On:   on,
		Jobs: make([]entities.JobTemplate, 0, len(ids)),
	}
	for _, id := range ids {
		job, err := convertJob(id, raw.Jobs[id])
		if err != nil {
			return nil, fmt.Errorf("jobs.%s: %w", id, err)
		}
		wf.Jobs = append(wf.Jobs, job)
	}

	return wf, nil
}

// convertTriggers accepts the three shapes of `on:`: a single event name,
// a list of event names, or a mapping of event name to filter.
func convertTriggers(node *yaml.Node) (entities.Triggers, error) {
	var t entities.Triggers

	switch node.Kind {
	case 0:
		return t, fmt.Errorf("missing")
	case yaml.ScalarNode:
		addBareEvent(&t, node.Value)
	case yaml.SequenceNode:
		for _, n := range node.Content {
			addBareEvent(&t, n.Value)
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			key, val := node.Content[i].Value, node.Content[i+1]
			switch key {
			case "push":
				f, err := convertBranchFilter(val)
				if err != nil {
					return t, fmt.Errorf("push: %w", err)
				}
				t.Push = f
			case "pull_request":
				f, err := convertBranchFilter(val)
				if err != nil {
					return t, fmt.Errorf("pull_request: %w", err)
				}
				t.PullRequest = f
			case "schedule":
				var schedules []yamlSchedule
				if err := val.Decode(&schedules); err != nil {
					return t, fmt.Errorf("schedule: %w", err)
				}
				for _, s := range schedules {
					t.Schedules = append(t.Schedules, strings.TrimSpace(s.Cron))
				}
			}
		}
	default:
		return t, fmt.Errorf("unexpected YAML node at line %d", node.Line)
	}
	return t, nil
}

func addBareEvent(t *entities.Triggers, name string) {
	switch name {
	case "push":
		t.Push = &entities.BranchFilter{}
	case "pull_request":
		t.PullRequest = &entities.BranchFilter{}
	}
}

// convertBranchFilter folds branches-ignore into negated patterns
func convertBranchFilter(node *yaml.Node) (*entities.BranchFilter, error) {
	if node.Kind == 0 || node.Tag == "!!null" {
		return &entities.BranchFilter{}, nil
	}
	var raw yamlBranchFilter
	if err := node.Decode(&raw); err != nil {
		return nil, err
	}
	if len(raw.Branches) > 0 && len(raw.BranchesIgnore) > 0 {
		return nil, fmt.Errorf("branches and branches-ignore cannot be combined")
	}
	if len(raw.BranchesIgnore) > 0 {
		patterns := []string{"**"}
		for _, p := range raw.BranchesIgnore {
			patterns = append(patterns, "!"+p)
		}
		return &entities.BranchFilter{Branches: patterns}, nil
	}
	return &entities.BranchFilter{Branches: raw.Branches}, nil
}

func convertJob(id string, yj yamlJob) (entities.JobTemplate, error) {
	perms, err := convertPermissions(&yj.Permissions)
	if err != nil {
		return entities.JobTemplate{}, fmt.Errorf("permissions: %w", err)
	}

	matrix, err := convertMatrix(&yj.Strategy.Matrix)
	if err != nil {
		return entities.JobTemplate{}, fmt.Errorf("strategy.matrix: %w", err)
	}

	// Hosted CI defaults fail-fast to true when a strategy omits it
	failFast := true
	if yj.Strategy.FailFast != nil {
		failFast = *yj.Strategy.FailFast
	}

	steps := make([]entities.StepDefinition, 0, len(yj.Steps))
	for i, ys := range yj.Steps {
		step, err := convertStep(ys)
		if err != nil {
			return entities.JobTemplate{}, fmt.Errorf("steps[%d]: %w", i, err)
		}
		steps = append(steps, step)
	}

	return entities.JobTemplate{
		ID:             id,
		Name:           yj.Name,
		If:             yj.If,
		RunsOn:         scalarOrFirst(&yj.RunsOn),
		Permissions:    perms,
		Strategy:       entities.Strategy{FailFast: failFast, MaxParallel: yj.Strategy.MaxParallel, Matrix: matrix},
		Steps:          steps,
		TimeoutMinutes: yj.TimeoutMinutes,
	}, nil
}

func convertPermissions(node *yaml.Node) (map[string]string, error) {
	perms := make(map[string]string)
	switch node.Kind {
	case 0:
		return perms, nil
	case yaml.ScalarNode:
		var access string
		switch node.Value {
		case "read-all":
			access = "read"
		case "write-all":
			access = "write"
		default:
			return nil, fmt.Errorf("unknown permission shorthand %q", node.Value)
		}
		for _, scope := range permissionScopes {
			perms[scope] = access
		}
		return perms, nil
	case yaml.MappingNode:
		if err := node.Decode(&perms); err != nil {
			return nil, err
		}
		return perms, nil
	default:
		return nil, fmt.Errorf("unexpected YAML node at line %d", node.Line)
	}
}

// convertMatrix keeps axes in document order
func convertMatrix(node *yaml.Node) (entities.Matrix, error) {
	var m entities.Matrix
	if node.Kind == 0 {
		return m, nil
	}
	if node.Kind != yaml.MappingNode {
		return m, fmt.Errorf("expected a mapping at line %d", node.Line)
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		name, val := node.Content[i].Value, node.Content[i+1]
		if name == "include" || name == "exclude" {
			return m, fmt.Errorf("%s is not supported", name)
		}
		var values []string
		if err := val.Decode(&values); err != nil {
			return m, fmt.Errorf("%s: %w", name, err)
		}
		m.Axes = append(m.Axes, entities.MatrixAxis{Name: name, Values: values})
	}
	return m, nil
}

func convertStep(ys yamlStep) (entities.StepDefinition, error) {
	step := entities.StepDefinition{
		ID:             ys.ID,
		Name:           ys.Name,
		With:           ys.With,
		Run:            ys.Run,
		If:             ys.If,
		Env:            ys.Env,
		TimeoutMinutes: ys.TimeoutMinutes,
	}
	if ys.Uses.Kind != 0 {
		ref, err := ParseActionRef(ys.Uses.Value)
		if err != nil {
			return step, err
		}
		ref.VersionComment = strings.TrimSpace(strings.TrimPrefix(ys.Uses.LineComment, "#"))
		step.Uses = &ref
	}
	return step, nil
}

// ParseActionRef parses owner/repo[/path]@ref
func ParseActionRef(uses string) (entities.ActionRef, error) {
	name, ref, ok := strings.Cut(strings.TrimSpace(uses), "@")
	if !ok || ref == "" {
		return entities.ActionRef{}, fmt.Errorf("action %q has no @ref", uses)
	}
	if strings.HasPrefix(name, "./") || strings.HasPrefix(name, "docker://") {
		return entities.ActionRef{}, fmt.Errorf("action %q: only repository actions are supported", uses)
	}
	parts := strings.SplitN(name, "/", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return entities.ActionRef{}, fmt.Errorf("action %q is not owner/repo", uses)
	}
	a := entities.ActionRef{Owner: parts[0], Repo: parts[1], Ref: ref}
	if len(parts) == 3 {
		a.Path = parts[2]
	}
	return a, nil
}

func scalarOrFirst(node *yaml.Node) string {
	switch node.Kind {
	case yaml.ScalarNode:
		return node.Value
	case yaml.SequenceNode:
		if len(node.Content) > 0 {
			return node.Content[0].Value
		}
	}
	return ""
}
