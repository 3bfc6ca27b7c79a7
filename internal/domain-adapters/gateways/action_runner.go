package gateways

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ochairo/scanmatrix/internal/domain/interfaces"
	"github.com/ochairo/scanmatrix/internal/domain/interfaces/gateways"
)

// ErrUnknownAction is returned for `uses:` steps with no local implementation
var ErrUnknownAction = errors.New("no local implementation for action")

// SARIFDirName is the directory under the job temp dir that analyzers write SARIF logs to
const SARIFDirName = "sarif"

// checkoutAction is implemented natively by GitCheckout
const checkoutAction = "actions/checkout"

// ActionCommand is the local command implementing an action
type ActionCommand struct {
	Run string
	Env map[string]string
}

// ActionRunner executes `uses:` steps by mapping each action to a local
// command. actions/checkout is handled by GitCheckout.
type ActionRunner struct {
	executor *ScriptExecutor
	checkout *GitCheckout
	commands map[string]ActionCommand
	logger   interfaces.Logger
}

// NewActionRunner creates an action runner
func NewActionRunner(executor *ScriptExecutor, checkout *GitCheckout, commands map[string]ActionCommand, logger interfaces.Logger) *ActionRunner {
	if logger == nil {
		logger = &interfaces.NoOpLogger{}
	}
	return &ActionRunner{
		executor: executor,
		checkout: checkout,
		commands: commands,
		logger:   logger,
	}
}

// RunAction executes a `uses:` step
func (r *ActionRunner) RunAction(ctx context.Context, req gateways.StepRequest) (*gateways.StepOutcome, error) {
	if req.Step.Uses == nil {
		return nil, fmt.Errorf("step %q has no uses", req.Step.DisplayName())
	}
	name := req.Step.Uses.Name()

	if name == checkoutAction && r.checkout != nil {
		return r.checkout.Checkout(ctx, req)
	}

	command, ok := r.commands[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAction, req.Step.Uses)
	}

	env := runnerEnv(req)
	for k, v := range inputEnv(req.Step.With) {
		env[k] = v
	}
	for k, v := range command.Env {
		env[k] = v
	}
	for k, v := range req.Step.Env {
		env[k] = v
	}

	if err := os.MkdirAll(env["SARIF_OUTPUT"], 0750); err != nil {
		return nil, fmt.Errorf("failed to create SARIF output directory: %w", err)
	}

	r.logger.Debug("Running action",
		interfaces.F("action", req.Step.Uses.String()),
		interfaces.F("version", req.Step.Uses.VersionComment),
	)

	return r.executor.runStepScript(ctx, req, command.Run, env)
}

// runnerEnv is the environment every step sees
func runnerEnv(req gateways.StepRequest) map[string]string {
	env := map[string]string{
		"CI":               "true",
		"GITHUB_WORKSPACE": req.Workspace,
		"RUNNER_TEMP":      req.TempDir,
		"SARIF_OUTPUT":     filepath.Join(req.TempDir, SARIFDirName),
	}
	if envFile := envFilePath(req.TempDir); envFile != "" {
		env["GITHUB_ENV"] = envFile
	}
	if job := req.Job; job != nil {
		env["GITHUB_JOB"] = job.TemplateID
		env["GITHUB_REPOSITORY"] = job.Event.Repository
		env["GITHUB_EVENT_NAME"] = string(job.Event.Kind)
		env["GITHUB_REF"] = job.Event.Ref()
		env["GITHUB_REF_NAME"] = job.Event.Branch
		env["GITHUB_SHA"] = job.Event.Revision
		for axis, value := range job.Matrix {
			env["MATRIX_"+envName(axis)] = value
		}
	}
	for k, v := range req.Env {
		env[k] = v
	}
	return env
}

// inputEnv exposes `with:` values as INPUT_<NAME>
func inputEnv(with map[string]string) map[string]string {
	env := make(map[string]string, len(with))
	keys := make([]string, 0, len(with))
	for k := range with {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env["INPUT_"+envName(k)] = with[k]
	}
	return env
}

func envName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, strings.TrimSpace(s))
}

var _ gateways.ActionRunner = (*ActionRunner)(nil)
