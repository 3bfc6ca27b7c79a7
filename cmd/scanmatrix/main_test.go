package main

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ochairo/scanmatrix/internal/domain/entities"
)

const testWorkflow = `name: "CodeQL"

on:
  push:
    branches: [main, v*.x]
  pull_request:
    branches: [main]
  schedule:
    - cron: '45 19 * * 1'

jobs:
  analyze:
    if: github.repository == 'octo/scan'
    name: Analyze
    permissions:
      contents: read
      security-events: write
    strategy:
      fail-fast: false
      matrix:
        language: ['c-cpp', 'python']
    steps:
      - name: Checkout
        uses: actions/checkout@08c6903cd8c0fde910a37f88322edcfb5dd907a8  # v5.0.0
        with:
          persist-credentials: false
      - name: Initialize CodeQL
        uses: github/codeql-action/init@4e94bd11f71e507f7f87df81788dff88d1dacbfb  # v4.31.0
        with:
          languages: ${{ matrix.language }}
      - name: Build compiled code
        if: matrix.language == 'c-cpp'
        run: |
          test -f setup.py
          echo "built traced=$SCAN_TRACER" > build.log
      - name: Perform CodeQL Analysis
        uses: github/codeql-action/analyze@4e94bd11f71e507f7f87df81788dff88d1dacbfb  # v4.31.0
`

const failingWorkflow = `name: Lint
on:
  push:
    branches: [main]
jobs:
  lint:
    strategy:
      fail-fast: false
      matrix:
        language: [go, python]
    steps:
      - run: test "$MATRIX_LANGUAGE" != python
`

// analyzeCommand writes one finding when the c-cpp build ran with the
// variable exported by init, and none otherwise
const analyzeCommand = `if [ "$MATRIX_LANGUAGE" = c-cpp ] && grep -q 'traced=c-cpp' build.log 2>/dev/null; then
  echo '{"runs":[{"tool":{"driver":{"rules":[{"id":"cpp/overflow"}]}},"results":[{"ruleId":"cpp/overflow","level":"error"}]}]}' > "$SARIF_OUTPUT/$MATRIX_LANGUAGE.sarif"
else
  echo '{"runs":[{"tool":{"driver":{}},"results":[]}]}' > "$SARIF_OUTPUT/$MATRIX_LANGUAGE.sarif"
fi`

type testEnv struct {
	dir        string
	configPath string
}

func newTestEnv(t *testing.T, sourceRoot string) *testEnv {
	t.Helper()
	dir := t.TempDir()
	workflows := filepath.Join(dir, "workflows")
	require.NoError(t, os.MkdirAll(workflows, 0750))
	require.NoError(t, os.WriteFile(filepath.Join(workflows, "codeql.yml"), []byte(testWorkflow), 0600))

	if sourceRoot == "" {
		sourceRoot = filepath.Join(dir, "missing")
	}
	config := fmt.Sprintf(`workflows_dir = "workflows"
workspace_dir = %q
repository = "octo/scan"

[log]
level = "debug"
format = "json"

[runner]
step_timeout_minutes = 5

[checkout]
clone_url = "file://%s/{repository}"
token_env = ""
depth = 0

[actions."github/codeql-action/init"]
run = 'echo "init $INPUT_LANGUAGES"; echo "SCAN_TRACER=$INPUT_LANGUAGES" >> "$GITHUB_ENV"'

[actions."github/codeql-action/analyze"]
run = '''
%s
'''
`, t.TempDir(), sourceRoot, analyzeCommand)
	configPath := filepath.Join(dir, "scanmatrix.toml")
	require.NoError(t, os.WriteFile(configPath, []byte(config), 0600))

	return &testEnv{dir: dir, configPath: configPath}
}

func (e *testEnv) addWorkflow(t *testing.T, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(e.dir, "workflows", name), []byte(content), 0600))
}

func (e *testEnv) appendConfig(t *testing.T, content string) {
	t.Helper()
	f, err := os.OpenFile(e.configPath, os.O_APPEND|os.O_WRONLY, 0600)
	require.NoError(t, err)
	_, err = f.WriteString(content)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func (e *testEnv) run(args ...string) (code int, stdout, stderr string) {
	var out, errOut bytes.Buffer
	code = run(context.Background(), append(args, "--config", e.configPath), &out, &errOut)
	return code, out.String(), errOut.String()
}

// sourceRepo creates <root>/octo/scan with one commit on main
func sourceRepo(t *testing.T) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}

	root := t.TempDir()
	dir := filepath.Join(root, "octo", "scan")
	require.NoError(t, os.MkdirAll(dir, 0750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "setup.py"), []byte("print('hi')\n"), 0600))

	for _, args := range [][]string{
		{"init", "--quiet"},
		{"checkout", "--quiet", "-b", "main"},
		{"add", "."},
		{"commit", "--quiet", "-m", "initial"},
	} {
		cmd := exec.Command("git", append([]string{"-c", "user.name=test", "-c", "user.email=test@example.com"}, args...)...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, string(out))
	}
	return root
}

func TestRun_Version(t *testing.T) {
	var out bytes.Buffer
	code := run(context.Background(), []string{"version"}, &out, &bytes.Buffer{})
	assert.Equal(t, 0, code)
	assert.Contains(t, out.String(), "scanmatrix dev")
}

func TestRun_UnknownCommand(t *testing.T) {
	var errOut bytes.Buffer
	code := run(context.Background(), []string{"launch"}, &bytes.Buffer{}, &errOut)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut.String(), "unknown command")
}

func TestValidate(t *testing.T) {
	env := newTestEnv(t, "")

	code, out, _ := env.run("validate")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "✓ codeql.yml (CodeQL)")

	env.addWorkflow(t, "unpinned.yml", `name: Unpinned
on: push
jobs:
  build:
    steps:
      - uses: actions/checkout@v5
`)
	code, out, stderr := env.run("validate")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "✗ unpinned.yml")
	assert.Contains(t, stderr, "1 check(s) failed")

	code, _, _ = env.run("validate", "codeql")
	assert.Equal(t, 0, code)
}

func TestPlan_NotTriggered(t *testing.T) {
	env := newTestEnv(t, "")

	code, out, _ := env.run("plan", "codeql", "--event", "push", "--branch", "feature/x")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "not triggered")

	code, out, _ = env.run("plan", "codeql", "--event", "push", "--branch", "main", "--repository", "fork/scan")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "not triggered")
	assert.Contains(t, out, "guard")
}

func TestPlan_JSON(t *testing.T) {
	env := newTestEnv(t, "")

	code, out, stderr := env.run("plan", "codeql", "--event", "pull_request", "--branch", "main", "--format", "json")
	require.Equal(t, 0, code, stderr)

	var plan entities.DispatchPlan
	require.NoError(t, json.Unmarshal([]byte(out), &plan))
	assert.True(t, plan.Triggered)
	require.Len(t, plan.Jobs, 2)

	builds := make(map[string]bool)
	for _, job := range plan.Jobs {
		require.Len(t, job.Steps, 4)
		builds[job.Matrix["language"]] = job.Steps[2].WillRun
		assert.Equal(t, "github/codeql-action/init@4e94bd11f71e507f7f87df81788dff88d1dacbfb", job.Steps[1].Uses)
	}
	assert.Equal(t, map[string]bool{"c-cpp": true, "python": false}, builds)
}

func TestPlan_Text(t *testing.T) {
	env := newTestEnv(t, "")

	code, out, stderr := env.run("plan", "codeql", "--event", "schedule", "--cron", "45 19 * * 1")
	require.Equal(t, 0, code, stderr)

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "plan_schedule", []byte(out))
}

func TestPlan_InvalidEvent(t *testing.T) {
	env := newTestEnv(t, "")

	code, _, stderr := env.run("plan", "codeql", "--event", "release")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "unsupported event")
}

func TestDispatch_EndToEnd(t *testing.T) {
	env := newTestEnv(t, sourceRepo(t))
	report := filepath.Join(t.TempDir(), "report.json")

	code, out, stderr := env.run("dispatch", "codeql", "--event", "push", "--branch", "main", "--json-output", report)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, "2 succeeded, 0 failed, 0 cancelled")

	data, err := os.ReadFile(report)
	require.NoError(t, err)
	var results []entities.DispatchResult
	require.NoError(t, json.Unmarshal(data, &results))
	require.Len(t, results, 1)
	require.Len(t, results[0].Jobs, 2)

	for _, job := range results[0].Jobs {
		assert.Equal(t, entities.JobSuccess, job.Status, job.Error)
		require.NotNil(t, job.Findings)
		switch job.Matrix["language"] {
		case "c-cpp":
			assert.Equal(t, 1, job.Findings.Total)
			assert.Equal(t, entities.StepSuccess, job.Steps[2].Status)
		case "python":
			assert.Equal(t, 0, job.Findings.Total)
			assert.Equal(t, entities.StepSkipped, job.Steps[2].Status)
		}
	}
}

func TestDispatch_NotTriggered(t *testing.T) {
	env := newTestEnv(t, "")

	code, out, _ := env.run("dispatch", "codeql", "--event", "pull_request", "--branch", "v2.x")
	assert.Equal(t, 0, code)
	assert.Contains(t, out, "not triggered")
}

func TestDispatch_JobFailureSetsExitCode(t *testing.T) {
	env := newTestEnv(t, "")
	env.addWorkflow(t, "lint.yml", failingWorkflow)

	code, out, stderr := env.run("dispatch", "lint", "--event", "push", "--branch", "main", "--json-output", "-")
	assert.Equal(t, 1, code)
	assert.NotContains(t, stderr, "Error:")

	var results []entities.DispatchResult
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.Len(t, results, 1)
	statuses := make(map[string]entities.JobStatus)
	for _, job := range results[0].Jobs {
		statuses[job.Matrix["language"]] = job.Status
	}
	assert.Equal(t, map[string]entities.JobStatus{"go": entities.JobSuccess, "python": entities.JobFailure}, statuses)
}

func TestDispatch_UnknownWorkflow(t *testing.T) {
	env := newTestEnv(t, "")

	code, _, stderr := env.run("dispatch", "nope", "--event", "push")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "nope")
}

func TestDispatch_EventPayload(t *testing.T) {
	env := newTestEnv(t, "")
	payload := filepath.Join(t.TempDir(), "event.json")
	require.NoError(t, os.WriteFile(payload, []byte(`{
  "ref": "refs/heads/feature/x",
  "after": "8f1c2d3e4f5a6b7c8d9e0f1a2b3c4d5e6f7a8b9c",
  "repository": {"full_name": "octo/scan"}
}`), 0600))

	code, out, stderr := env.run("dispatch", "codeql", "--event", "push", "--event-path", payload)
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, "not triggered")
}

func TestSchedule_List(t *testing.T) {
	env := newTestEnv(t, "")

	code, out, stderr := env.run("schedule", "--list")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, "45 19 * * 1")
	assert.Contains(t, out, "codeql.yml")
}

func TestPlan_ChecksumVerification(t *testing.T) {
	env := newTestEnv(t, "")
	env.appendConfig(t, "\n[signature]\nrequired = true\nmode = \"sha256\"\n")

	code, _, stderr := env.run("plan", "codeql", "--event", "push")
	assert.Equal(t, 1, code)
	assert.Contains(t, stderr, "checksum file")

	sum := sha256.Sum256([]byte(testWorkflow))
	sumFile := filepath.Join(env.dir, "workflows", "codeql.yml.sha256")
	require.NoError(t, os.WriteFile(sumFile, []byte(hex.EncodeToString(sum[:])+"  codeql.yml\n"), 0600))

	code, out, stderr := env.run("plan", "codeql", "--event", "push")
	require.Equal(t, 0, code, stderr)
	assert.Contains(t, out, "2 job(s)")
}

func TestValidate_CheckPins(t *testing.T) {
	commits := map[string]string{
		"/repos/actions/checkout/commits/08c6903cd8c0fde910a37f88322edcfb5dd907a8":     "08c6903cd8c0fde910a37f88322edcfb5dd907a8",
		"/repos/actions/checkout/commits/v5.0.0":                                       "08c6903cd8c0fde910a37f88322edcfb5dd907a8",
		"/repos/github/codeql-action/commits/4e94bd11f71e507f7f87df81788dff88d1dacbfb": "4e94bd11f71e507f7f87df81788dff88d1dacbfb",
		"/repos/github/codeql-action/commits/v4.31.0":                                  "0000000000000000000000000000000000000001",
	}
	var (
		mu       sync.Mutex
		requests []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests = append(requests, r.URL.Path)
		mu.Unlock()
		sha, ok := commits[r.URL.Path]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(sha))
	}))
	defer srv.Close()

	env := newTestEnv(t, "")
	env.appendConfig(t, fmt.Sprintf("\n[github]\napi_url = %q\n", srv.URL))

	code, out, _ := env.run("validate", "codeql", "--check-pins")
	assert.Equal(t, 1, code)
	assert.Contains(t, out, "✓ actions/checkout@08c6903cd8c0fde910a37f88322edcfb5dd907a8: matches v5.0.0")
	assert.Contains(t, out, "✗ github/codeql-action/analyze@4e94bd11f71e507f7f87df81788dff88d1dacbfb: version v4.31.0 points to")

	// init and analyze share a repository and ref; each distinct ref is resolved once
	mu.Lock()
	defer mu.Unlock()
	codeqlCalls := 0
	for _, p := range requests {
		if strings.HasPrefix(p, "/repos/github/codeql-action/") {
			codeqlCalls++
		}
	}
	assert.Equal(t, 2, codeqlCalls)
}
