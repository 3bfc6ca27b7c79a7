package orchestrators

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ochairo/scanmatrix/internal/domain/entities"
	"github.com/ochairo/scanmatrix/internal/domain/interfaces/gateways"
	"github.com/ochairo/scanmatrix/internal/domain/interfaces/repositories"
)

const (
	testRepo     = "matplotlib/matplotlib"
	checkoutSHA  = "08c6903cd8c0fde910a37f88322edcfb5dd907a8"
	codeqlSHA    = "4e94bd11f71e507f7f87df81788dff88d1dacbfb"
	testWorkflow = "workflows/codeql.yml"
)

// scanWorkflow mirrors workflows/codeql.yml
func scanWorkflow() *entities.Workflow {
	return &entities.Workflow{
		Name: "CodeQL",
		Path: testWorkflow,
		On: entities.Triggers{
			Push:        &entities.BranchFilter{Branches: []string{"main", "v*.x"}},
			PullRequest: &entities.BranchFilter{Branches: []string{"main"}},
			Schedules:   []string{"45 19 * * 1"},
		},
		Jobs: []entities.JobTemplate{{
			ID:   "analyze",
			Name: "Analyze",
			If:   "github.repository == 'matplotlib/matplotlib'",
			Permissions: map[string]string{
				"actions":         "read",
				"contents":        "read",
				"security-events": "write",
			},
			Strategy: entities.Strategy{
				FailFast: false,
				Matrix: entities.Matrix{Axes: []entities.MatrixAxis{
					{Name: "language", Values: entities.DefaultLanguages},
				}},
			},
			Steps: []entities.StepDefinition{
				{Name: "Checkout", Uses: &entities.ActionRef{Owner: "actions", Repo: "checkout", Ref: checkoutSHA}, With: map[string]string{"persist-credentials": "false"}},
				{Name: "Initialize CodeQL", Uses: &entities.ActionRef{Owner: "github", Repo: "codeql-action", Path: "init", Ref: codeqlSHA}, With: map[string]string{"languages": "${{ matrix.language }}"}},
				{Name: "Build compiled code", If: "matrix.language == 'c-cpp'", Run: "pip install --user --upgrade pip\npip install --user -v .\n"},
				{Name: "Perform CodeQL Analysis", Uses: &entities.ActionRef{Owner: "github", Repo: "codeql-action", Path: "analyze", Ref: codeqlSHA}, With: map[string]string{"category": "/language:${{ matrix.language }}"}},
			},
		}},
	}
}

type mockWorkflowRepository struct {
	workflows map[string]*entities.Workflow
}

func newMockRepo(wfs ...*entities.Workflow) *mockWorkflowRepository {
	m := &mockWorkflowRepository{workflows: make(map[string]*entities.Workflow)}
	for _, wf := range wfs {
		m.workflows[wf.Path] = wf
	}
	return m
}

func (m *mockWorkflowRepository) GetWorkflow(_ context.Context, name string) (*entities.Workflow, error) {
	wf, ok := m.workflows[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", repositories.ErrWorkflowNotFound, name)
	}
	return wf, nil
}

func (m *mockWorkflowRepository) ListWorkflows(_ context.Context) ([]*entities.Workflow, error) {
	out := make([]*entities.Workflow, 0, len(m.workflows))
	for _, wf := range m.workflows {
		out = append(out, wf)
	}
	return out, nil
}

type mockWorkspaces struct {
	mu       sync.Mutex
	prepared []string
	released int
	err      error
}

func (m *mockWorkspaces) Prepare(_ context.Context, job *entities.JobSpec) (*gateways.Workspace, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prepared = append(m.prepared, job.ID)
	return &gateways.Workspace{Dir: "/ws/" + job.ID + "/src", TempDir: "/ws/" + job.ID + "/tmp"}, nil
}

func (m *mockWorkspaces) Release(_ *gateways.Workspace) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.released++
	return nil
}

// stepCall records one runner invocation
type stepCall struct {
	JobID   string
	Step    string
	Run     string
	With    map[string]string
	Dir     string
	Env     map[string]string
	Timeout time.Duration
}

// mockRunner implements both ActionRunner and ShellRunner. Results are keyed
// by "<language>/<step name>".
type mockRunner struct {
	mu      sync.Mutex
	calls   []stepCall
	exit    map[string]int
	errs    map[string]error
	exports map[string]map[string]string
	delay   map[string]time.Duration
}

func (m *mockRunner) record(req gateways.StepRequest) (*gateways.StepOutcome, error) {
	key := req.Job.Language() + "/" + req.Step.DisplayName()

	m.mu.Lock()
	m.calls = append(m.calls, stepCall{
		JobID:   req.Job.ID,
		Step:    req.Step.DisplayName(),
		Run:     req.Step.Run,
		With:    req.Step.With,
		Dir:     req.Workspace,
		Env:     req.Env,
		Timeout: req.Timeout,
	})
	delay := m.delay[key]
	m.mu.Unlock()

	// Sleeps ignore ctx, like a step that finishes just past the deadline
	time.Sleep(delay)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.errs[key]; err != nil {
		return nil, err
	}
	return &gateways.StepOutcome{ExitCode: m.exit[key], Stderr: "boom\n", Exports: m.exports[key]}, nil
}

func (m *mockRunner) RunAction(_ context.Context, req gateways.StepRequest) (*gateways.StepOutcome, error) {
	return m.record(req)
}

func (m *mockRunner) RunShell(_ context.Context, req gateways.StepRequest) (*gateways.StepOutcome, error) {
	return m.record(req)
}

func (m *mockRunner) callsFor(jobID string) []stepCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []stepCall
	for _, c := range m.calls {
		if c.JobID == jobID {
			out = append(out, c)
		}
	}
	return out
}

type mockFindings struct {
	mu    sync.Mutex
	dirs  []string
	total int
	err   error
}

func (m *mockFindings) ReadFindings(dir string) (*entities.FindingsSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirs = append(m.dirs, dir)
	if m.err != nil {
		return nil, m.err
	}
	return &entities.FindingsSummary{Total: m.total, ByLevel: map[string]int{"warning": m.total}}, nil
}

type mockVerifier struct {
	calls [][2]string
	err   error
}

func (m *mockVerifier) VerifyFile(filePath, sigPath string) error {
	m.calls = append(m.calls, [2]string{filePath, sigPath})
	return m.err
}

// funcJobRunner adapts a function to JobRunner
type funcJobRunner func(ctx context.Context, job *entities.JobSpec) *entities.JobResult

func (f funcJobRunner) RunJob(ctx context.Context, job *entities.JobSpec) *entities.JobResult {
	return f(ctx, job)
}

func okJob(job *entities.JobSpec) *entities.JobResult {
	return &entities.JobResult{JobID: job.ID, Matrix: job.Matrix, Status: entities.JobSuccess}
}
