package gateways

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ochairo/scanmatrix/internal/domain/entities"
	"github.com/ochairo/scanmatrix/internal/domain/interfaces/gateways"
)

func newTestExecutor() *ScriptExecutor {
	return NewScriptExecutor("/bin/sh", time.Minute, nil, nil)
}

func TestScriptExecutor_ExecuteScript_Success(t *testing.T) {
	se := newTestExecutor()

	result := se.ExecuteScript(context.Background(), ExecuteScriptConfig{
		Script:      "echo 'Hello, World!'",
		Description: "test echo",
	})

	require.True(t, result.Success, "%v", result.Error)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "Hello, World!\n", result.Stdout)
}

func TestScriptExecutor_ExecuteScript_Failure(t *testing.T) {
	se := newTestExecutor()

	result := se.ExecuteScript(context.Background(), ExecuteScriptConfig{Script: "exit 42"})

	assert.False(t, result.Success)
	assert.Equal(t, 42, result.ExitCode)
}

func TestScriptExecutor_ExecuteScript_StopsOnFirstError(t *testing.T) {
	se := newTestExecutor()

	result := se.ExecuteScript(context.Background(), ExecuteScriptConfig{Script: "false\necho unreachable\n"})

	assert.False(t, result.Success)
	assert.NotContains(t, result.Stdout, "unreachable")
}

func TestScriptExecutor_ExecuteScript_Environment(t *testing.T) {
	se := NewScriptExecutor("", time.Minute, map[string]string{"BASE": "runner", "TEST_VAR": "base"}, nil)

	result := se.ExecuteScript(context.Background(), ExecuteScriptConfig{
		Script: `echo "$BASE $TEST_VAR"`,
		Env:    map[string]string{"TEST_VAR": "step"},
	})

	require.True(t, result.Success, "%v", result.Error)
	assert.Equal(t, "runner step\n", result.Stdout)
}

func TestScriptExecutor_ExecuteScript_Timeout(t *testing.T) {
	se := newTestExecutor()

	result := se.ExecuteScript(context.Background(), ExecuteScriptConfig{
		Script:  "sleep 5",
		Timeout: 100 * time.Millisecond,
	})

	assert.False(t, result.Success)
	assert.ErrorIs(t, result.Error, ErrStepTimeout)
	assert.Equal(t, -1, result.ExitCode)
}

func TestScriptExecutor_ExecuteScript_WorkingDirectory(t *testing.T) {
	se := newTestExecutor()
	tempDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(tempDir, "test.txt"), []byte("content"), 0600))

	result := se.ExecuteScript(context.Background(), ExecuteScriptConfig{
		Script:     "ls test.txt",
		WorkingDir: tempDir,
	})

	require.True(t, result.Success, "%v", result.Error)
	assert.Equal(t, "test.txt\n", result.Stdout)
}

func TestScriptExecutor_ExecuteCommand(t *testing.T) {
	se := newTestExecutor()

	result := se.ExecuteCommand(context.Background(), ExecuteScriptConfig{}, "echo", "a b", "$HOME")
	require.True(t, result.Success, "%v", result.Error)
	assert.Equal(t, "a b $HOME\n", result.Stdout)

	result = se.ExecuteCommand(context.Background(), ExecuteScriptConfig{})
	assert.Error(t, result.Error)
}

func TestScriptExecutor_RunShell(t *testing.T) {
	se := newTestExecutor()
	ws := t.TempDir()
	job := &entities.JobSpec{
		ID:         "analyze (c-cpp)",
		TemplateID: "analyze",
		Matrix:     map[string]string{"language": "c-cpp"},
		Event:      entities.NewPushEvent("matplotlib/matplotlib", "main", "abc123"),
	}

	outcome, err := se.RunShell(context.Background(), gateways.StepRequest{
		Job:       job,
		Step:      entities.StepDefinition{Name: "Build", Run: `echo "$MATRIX_LANGUAGE $GITHUB_REF $GITHUB_SHA $STEP_VAR"; pwd`, Env: map[string]string{"STEP_VAR": "x"}},
		Workspace: ws,
		TempDir:   t.TempDir(),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, outcome.ExitCode)
	assert.Contains(t, outcome.Stdout, "c-cpp refs/heads/main abc123 x\n")
	assert.Contains(t, outcome.Stdout, filepath.Base(ws))
}

func TestScriptExecutor_RunShell_NonZeroExitIsNotAnError(t *testing.T) {
	se := newTestExecutor()

	outcome, err := se.RunShell(context.Background(), gateways.StepRequest{
		Step:      entities.StepDefinition{Run: "echo oops >&2; exit 3"},
		Workspace: t.TempDir(),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, outcome.ExitCode)
	assert.Equal(t, "oops\n", outcome.Stderr)
}

func TestScriptExecutor_RunShell_Timeout(t *testing.T) {
	se := newTestExecutor()

	_, err := se.RunShell(context.Background(), gateways.StepRequest{
		Step:      entities.StepDefinition{Run: "sleep 5"},
		Workspace: t.TempDir(),
		Timeout:   100 * time.Millisecond,
	})
	assert.ErrorIs(t, err, ErrStepTimeout)
}

func TestScriptExecutor_ValidateScript(t *testing.T) {
	se := newTestExecutor()

	tests := []struct {
		name    string
		script  string
		wantErr bool
	}{
		{"valid script", "echo 'hello'", false},
		{"pip build", "pip install --user --upgrade pip\npip install --user -v .\n", false},
		{"empty script", "", true},
		{"whitespace only", "   \n  \t  ", true},
		{"dangerous rm -rf /", "rm -rf /", true},
		{"rm -rf of root glob", "cd /tmp && rm -rf /*", true},
		{"rm -fr root in a sequence", "echo x; rm -fr / ; echo y", true},
		{"cleanup of a build dir", "mkdir -p /tmp/build\nrm -rf /tmp/build", false},
		{"cleanup of a nested path", "rm -rf /var/cache/pip/*", false},
		{"dangerous mkfs", "mkfs /dev/sda", true},
		{"fork bomb", ":(){:|:&};:", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := se.ValidateScript(tt.script)
			assert.Equal(t, tt.wantErr, err != nil, "ValidateScript() error = %v", err)
		})
	}
}

func TestScriptExecutor_RunShell_CleanupIsAllowed(t *testing.T) {
	se := newTestExecutor()
	dir := filepath.Join(t.TempDir(), "build")

	outcome, err := se.RunShell(context.Background(), gateways.StepRequest{
		Step:      entities.StepDefinition{Run: "mkdir -p " + dir + "\nrm -rf " + dir},
		Workspace: t.TempDir(),
		TempDir:   t.TempDir(),
	})
	require.NoError(t, err)
	assert.Equal(t, 0, outcome.ExitCode)
	assert.NoDirExists(t, dir)
}

func TestScriptExecutor_RunShell_FailedStepExportsNothing(t *testing.T) {
	se := newTestExecutor()

	outcome, err := se.RunShell(context.Background(), gateways.StepRequest{
		Step:      entities.StepDefinition{Run: `echo "A=1" >> "$GITHUB_ENV"; exit 3`},
		Workspace: t.TempDir(),
		TempDir:   t.TempDir(),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, outcome.ExitCode)
	assert.Nil(t, outcome.Exports)
}

func TestParseEnvFile(t *testing.T) {
	got, err := parseEnvFile([]byte("A=1\n\nB=x=y\r\nC<<END\nl1\nl2\nEND\n"))
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A": "1", "B": "x=y", "C": "l1\nl2"}, got)

	for _, bad := range []string{"novalue\n", "=1\n", "C<<END\nl1\n", "BAD NAME=1\n"} {
		_, err := parseEnvFile([]byte(bad))
		assert.Error(t, err, bad)
	}
}
