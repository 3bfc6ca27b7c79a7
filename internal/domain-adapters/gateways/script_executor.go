package gateways

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/ochairo/scanmatrix/internal/domain/interfaces"
	"github.com/ochairo/scanmatrix/internal/domain/interfaces/gateways"
)

// ErrStepTimeout is returned when a step exceeds its time limit
var ErrStepTimeout = errors.New("step timed out")

// ScriptExecutor runs `run:` steps and configured action commands
type ScriptExecutor struct {
	shell          string
	defaultTimeout time.Duration
	baseEnv        map[string]string
	logger         interfaces.Logger
}

// NewScriptExecutor creates a new script executor. An empty shell means /bin/sh.
func NewScriptExecutor(shell string, defaultTimeout time.Duration, baseEnv map[string]string, logger interfaces.Logger) *ScriptExecutor {
	if shell == "" {
		shell = "/bin/sh"
	}
	if defaultTimeout <= 0 {
		defaultTimeout = 6 * time.Hour
	}
	if logger == nil {
		logger = &interfaces.NoOpLogger{}
	}
	return &ScriptExecutor{
		shell:          shell,
		defaultTimeout: defaultTimeout,
		baseEnv:        baseEnv,
		logger:         logger,
	}
}

// ExecuteScriptConfig contains configuration for executing a shell script.
type ExecuteScriptConfig struct {
	Script      string
	WorkingDir  string
	Env         map[string]string
	Timeout     time.Duration
	Description string
}

// ExecuteResult contains the result of script execution
type ExecuteResult struct {
	Success  bool
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	Error    error
}

// ExecuteScript runs a shell script with the given configuration.
// The script runs with -e so a failing line fails the step.
func (se *ScriptExecutor) ExecuteScript(ctx context.Context, config ExecuteScriptConfig) *ExecuteResult {
	//nolint:gosec // G204: script execution is intentional and controlled by the workflow file
	return se.execute(ctx, config, se.shell, "-e", "-c", config.Script)
}

// ExecuteCommand runs argv directly, without a shell
func (se *ScriptExecutor) ExecuteCommand(ctx context.Context, config ExecuteScriptConfig, argv ...string) *ExecuteResult {
	if len(argv) == 0 {
		return &ExecuteResult{ExitCode: -1, Error: fmt.Errorf("empty command")}
	}
	return se.execute(ctx, config, argv[0], argv[1:]...)
}

func (se *ScriptExecutor) execute(ctx context.Context, config ExecuteScriptConfig, name string, args ...string) *ExecuteResult {
	startTime := time.Now()
	result := &ExecuteResult{}

	timeout := config.Timeout
	if timeout == 0 {
		timeout = se.defaultTimeout
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	//nolint:gosec // G204: commands come from the workflow file or runner configuration
	cmd := exec.CommandContext(execCtx, name, args...)
	if config.WorkingDir != "" {
		cmd.Dir = config.WorkingDir
	}
	cmd.Env = se.environ(config.Env)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if config.Description != "" {
		se.logger.Debug("Executing", interfaces.F("step", config.Description), interfaces.F("dir", config.WorkingDir))
	}

	err := cmd.Run()
	result.Duration = time.Since(startTime)
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()

	if err != nil {
		result.Error = err
		result.ExitCode = -1
		var exitErr *exec.ExitError
		switch {
		case errors.Is(execCtx.Err(), context.DeadlineExceeded):
			result.Error = fmt.Errorf("%w after %v", ErrStepTimeout, timeout)
		case ctx.Err() != nil:
			result.Error = ctx.Err()
		case errors.As(err, &exitErr):
			result.ExitCode = exitErr.ExitCode()
		}
		return result
	}

	result.Success = true
	return result
}

// environ layers the process env, runner env and step env, later wins
func (se *ScriptExecutor) environ(extra map[string]string) []string {
	env := os.Environ()
	for _, layer := range []map[string]string{se.baseEnv, extra} {
		keys := make([]string, 0, len(layer))
		for k := range layer {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			env = append(env, k+"="+layer[k])
		}
	}
	return env
}

// RunShell executes a `run:` step in the job workspace
func (se *ScriptExecutor) RunShell(ctx context.Context, req gateways.StepRequest) (*gateways.StepOutcome, error) {
	if err := se.ValidateScript(req.Step.Run); err != nil {
		return nil, err
	}

	env := runnerEnv(req)
	for k, v := range req.Step.Env {
		env[k] = v
	}

	return se.runStepScript(ctx, req, req.Step.Run, env)
}

// runStepScript executes the script of one step and collects the
// variables it appended to $GITHUB_ENV
func (se *ScriptExecutor) runStepScript(ctx context.Context, req gateways.StepRequest, script string, env map[string]string) (*gateways.StepOutcome, error) {
	envFile := envFilePath(req.TempDir)
	if err := resetEnvFile(envFile); err != nil {
		return nil, err
	}

	result := se.ExecuteScript(ctx, ExecuteScriptConfig{
		Script:      script,
		WorkingDir:  req.Workspace,
		Env:         env,
		Timeout:     req.Timeout,
		Description: req.Step.DisplayName(),
	})
	outcome, err := outcomeFrom(result)
	if err != nil || outcome.ExitCode != 0 {
		return outcome, err
	}

	exports, err := readEnvFile(envFile)
	if err != nil {
		return nil, err
	}
	outcome.Exports = exports
	return outcome, nil
}

// outcomeFrom reports non-zero exits as outcomes and everything else as errors
func outcomeFrom(result *ExecuteResult) (*gateways.StepOutcome, error) {
	outcome := &gateways.StepOutcome{
		ExitCode: result.ExitCode,
		Stdout:   result.Stdout,
		Stderr:   result.Stderr,
		Duration: result.Duration,
	}
	if result.Error != nil && result.ExitCode < 0 {
		return outcome, result.Error
	}
	return outcome, nil
}

// dangerousCommands match whole commands, so cleanup such as
// `rm -rf /tmp/build` is not mistaken for wiping the root filesystem
var dangerousCommands = []struct {
	name    string
	pattern *regexp.Regexp
}{
	{"rm -rf /", regexp.MustCompile(`(?m)(^|[\s;&|(])rm\s+-(rf|fr|Rf|fR)\s+/\*?(\s|[;&|)]|$)`)},
	{"mkfs", regexp.MustCompile(`(?m)(^|[\s;&|(])mkfs(\.\w+)?\s`)},
	{"dd if=/dev/zero", regexp.MustCompile(`dd\s+if=/dev/zero\s+of=/dev/`)},
	{"fork bomb", regexp.MustCompile(regexp.QuoteMeta(":(){:|:&};:"))},
}

// ValidateScript performs basic validation on a shell script
func (se *ScriptExecutor) ValidateScript(script string) error {
	if strings.TrimSpace(script) == "" {
		return fmt.Errorf("script is empty")
	}

	for _, c := range dangerousCommands {
		if c.pattern.MatchString(script) {
			return fmt.Errorf("script contains potentially dangerous command: %s", c.name)
		}
	}

	return nil
}

var _ gateways.ShellRunner = (*ScriptExecutor)(nil)
