package gateways

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ochairo/scanmatrix/internal/domain/interfaces"
	"github.com/ochairo/scanmatrix/internal/domain/interfaces/gateways"
)

// GitCheckout implements actions/checkout with the git CLI
type GitCheckout struct {
	executor *ScriptExecutor
	cloneURL string // may contain {repository}
	token    string
	depth    int
	logger   interfaces.Logger
}

// NewGitCheckout creates a checkout gateway
func NewGitCheckout(executor *ScriptExecutor, cloneURL, token string, depth int, logger interfaces.Logger) *GitCheckout {
	if logger == nil {
		logger = &interfaces.NoOpLogger{}
	}
	return &GitCheckout{
		executor: executor,
		cloneURL: cloneURL,
		token:    token,
		depth:    depth,
		logger:   logger,
	}
}

// CloneURL returns the remote URL for owner/name
func (g *GitCheckout) CloneURL(repository string) string {
	return strings.ReplaceAll(g.cloneURL, "{repository}", repository)
}

// Checkout fetches the event revision into the job workspace. Supported
// inputs: repository, ref, fetch-depth, persist-credentials.
func (g *GitCheckout) Checkout(ctx context.Context, req gateways.StepRequest) (*gateways.StepOutcome, error) {
	with := req.Step.With

	repository := with["repository"]
	if repository == "" && req.Job != nil {
		repository = req.Job.Event.Repository
	}
	if repository == "" {
		return nil, fmt.Errorf("checkout: no repository")
	}

	ref := with["ref"]
	if ref == "" && req.Job != nil {
		ref = req.Job.Event.Revision
		if ref == "" {
			ref = req.Job.Event.Ref()
		}
	}
	if ref == "" {
		ref = "HEAD"
	}

	depth := g.depth
	if v := with["fetch-depth"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("checkout: invalid fetch-depth %q", v)
		}
		depth = n
	}

	url := g.CloneURL(repository)
	g.logger.Info("Checking out",
		interfaces.F("repository", repository),
		interfaces.F("ref", ref),
		interfaces.F("depth", depth),
	)

	// The header travels in the environment, never in argv
	var auth map[string]string
	if g.token != "" && strings.HasPrefix(url, "https://") {
		auth = g.authEnv()
	}

	fetch := []string{"git", "fetch", "--no-tags", "--quiet"}
	if depth > 0 {
		fetch = append(fetch, "--depth", strconv.Itoa(depth))
	}
	fetch = append(fetch, "origin", ref)

	commands := [][]string{
		{"git", "init", "--quiet"},
		{"git", "remote", "add", "origin", url},
		fetch,
		{"git", "checkout", "--quiet", "--detach", "FETCH_HEAD"},
	}

	outcome, err := g.run(ctx, req, commands, auth)
	if err != nil || outcome.ExitCode != 0 {
		return outcome, err
	}
	if auth != nil && with["persist-credentials"] != "false" {
		if err := g.persistCredentials(req.Workspace); err != nil {
			return nil, err
		}
	}
	return outcome, nil
}

func (g *GitCheckout) run(ctx context.Context, req gateways.StepRequest, commands [][]string, extraEnv map[string]string) (*gateways.StepOutcome, error) {
	start := time.Now()
	outcome := &gateways.StepOutcome{}
	var stdout, stderr strings.Builder

	env := map[string]string{"GIT_TERMINAL_PROMPT": "0"}
	for k, v := range extraEnv {
		env[k] = v
	}

	for _, argv := range commands {
		result := g.executor.ExecuteCommand(ctx, ExecuteScriptConfig{
			WorkingDir:  req.Workspace,
			Timeout:     req.Timeout,
			Description: strings.Join(argv[:2], " "),
			Env:         env,
		}, argv...)
		stdout.WriteString(result.Stdout)
		stderr.WriteString(result.Stderr)
		outcome.ExitCode = result.ExitCode

		if !result.Success {
			outcome.Stdout = stdout.String()
			outcome.Stderr = g.redact(stderr.String())
			outcome.Duration = time.Since(start)
			if result.ExitCode < 0 {
				return outcome, fmt.Errorf("checkout: %s: %w", argv[1], result.Error)
			}
			return outcome, nil
		}
	}

	outcome.Stdout = stdout.String()
	outcome.Stderr = g.redact(stderr.String())
	outcome.Duration = time.Since(start)
	return outcome, nil
}

// authEnv injects http.extraheader through git's GIT_CONFIG_* variables
func (g *GitCheckout) authEnv() map[string]string {
	return map[string]string{
		"GIT_CONFIG_COUNT":   "1",
		"GIT_CONFIG_KEY_0":   "http.extraheader",
		"GIT_CONFIG_VALUE_0": g.authHeader(),
	}
}

// persistCredentials appends the header to the working copy's git config
// so later steps can reach the remote
func (g *GitCheckout) persistCredentials(workspace string) error {
	path := filepath.Join(workspace, ".git", "config")
	//nolint:gosec // G304: path is inside the job workspace
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("checkout: failed to persist credentials: %w", err)
	}
	defer func() { _ = f.Close() }()

	if _, err := fmt.Fprintf(f, "[http]\n\textraheader = %s\n", g.authHeader()); err != nil {
		return fmt.Errorf("checkout: failed to persist credentials: %w", err)
	}
	return nil
}

func (g *GitCheckout) authHeader() string {
	creds := base64.StdEncoding.EncodeToString([]byte("x-access-token:" + g.token))
	return "AUTHORIZATION: basic " + creds
}

func (g *GitCheckout) redact(s string) string {
	if g.token == "" {
		return s
	}
	return strings.ReplaceAll(s, g.token, "***")
}
