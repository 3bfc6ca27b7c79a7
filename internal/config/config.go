// Package config loads scanmatrix runner configuration from TOML.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// DefaultFile is the config file looked up in the working directory
const DefaultFile = "scanmatrix.toml"

// Config is the runner configuration. Workflow semantics live in the
// workflow YAML; this only describes how steps are executed on this machine.
type Config struct {
	WorkflowsDir         string                  `toml:"workflows_dir" validate:"required"`
	WorkspaceDir         string                  `toml:"workspace_dir"` // Empty means the system temp dir
	KeepWorkspaces       bool                    `toml:"keep_workspaces"`
	Repository           string                  `toml:"repository"` // Default owner/name for CLI events
	RequirePinnedActions bool                    `toml:"require_pinned_actions"`
	Log                  LogConfig               `toml:"log"`
	Runner               RunnerConfig            `toml:"runner"`
	Checkout             CheckoutConfig          `toml:"checkout"`
	GitHub               GitHubConfig            `toml:"github"`
	Actions              map[string]ActionConfig `toml:"actions" validate:"dive"`
	Signature            SignatureConfig         `toml:"signature"`
}

// LogConfig controls logger output
type LogConfig struct {
	Level  string `toml:"level" validate:"oneof=debug info warn error"`
	Format string `toml:"format" validate:"oneof=console json"`
}

// RunnerConfig controls step execution
type RunnerConfig struct {
	Shell              string            `toml:"shell" validate:"required"`
	StepTimeoutMinutes int               `toml:"step_timeout_minutes" validate:"min=1"`
	MaxParallel        int               `toml:"max_parallel" validate:"gte=0"` // 0 means one goroutine per job
	Env                map[string]string `toml:"env"`
}

// CheckoutConfig controls how the working copy is acquired
type CheckoutConfig struct {
	// CloneURL may contain {repository}, replaced with owner/name
	CloneURL string `toml:"clone_url" validate:"required"`
	TokenEnv string `toml:"token_env"`
	Depth    int    `toml:"depth" validate:"gte=0"`
}

// GitHubConfig controls the API used to audit action pins. The token is
// read from the checkout token variable.
type GitHubConfig struct {
	APIURL string `toml:"api_url" validate:"omitempty,url"`
}

// ActionConfig maps an external action to the command that implements it locally
type ActionConfig struct {
	Run string            `toml:"run" validate:"required"`
	Env map[string]string `toml:"env"`
}

// SignatureConfig enables verification of workflow files before dispatch.
// Mode gpg checks a detached OpenPGP signature (<workflow>.asc) against
// Keyring; mode sha256 checks a sum file (<workflow>.sha256).
type SignatureConfig struct {
	Required bool   `toml:"required"`
	Mode     string `toml:"mode" validate:"oneof=gpg sha256"`
	Keyring  string `toml:"keyring" validate:"required_if=Required true Mode gpg"`
}

// tracerDir holds the scripts `codeql database init --begin-tracing` writes
const tracerDir = `$RUNNER_TEMP/codeql-db/temp/tracingEnvironment`

// DefaultActions implement the analyzer steps with the CodeQL CLI. Init
// exports the build tracer variables through $GITHUB_ENV so a later build
// step runs traced; analyze ends tracing before finalizing.
func DefaultActions() map[string]ActionConfig {
	return map[string]ActionConfig{
		"github/codeql-action/init": {
			Run: `codeql database init "$RUNNER_TEMP/codeql-db" --language="$INPUT_LANGUAGES" ` +
				`--source-root="$GITHUB_WORKSPACE" --begin-tracing --overwrite && ` +
				`if [ -f "` + tracerDir + `/start-tracing.sh" ]; then ` +
				`( . "` + tracerDir + `/start-tracing.sh" && env | grep -E '^(CODEQL_|LD_PRELOAD=|DYLD_INSERT_LIBRARIES=)' >> "$GITHUB_ENV" ); fi`,
		},
		"github/codeql-action/analyze": {
			Run: `if [ -f "` + tracerDir + `/end-tracing.sh" ]; then . "` + tracerDir + `/end-tracing.sh"; fi && ` +
				`codeql database trace-command --index-traceless-dbs "$RUNNER_TEMP/codeql-db" -- true && ` +
				`codeql database finalize "$RUNNER_TEMP/codeql-db" && ` +
				`codeql database analyze "$RUNNER_TEMP/codeql-db" --format=sarif-latest ` +
				`--sarif-category="/language:$MATRIX_LANGUAGE" --output="$SARIF_OUTPUT/$MATRIX_LANGUAGE.sarif"`,
		},
	}
}

// NewDefaultConfig returns the configuration used when no file is present
func NewDefaultConfig() *Config {
	return &Config{
		WorkflowsDir:         "workflows",
		RequirePinnedActions: true,
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Runner: RunnerConfig{
			Shell:              "/bin/sh",
			StepTimeoutMinutes: 360,
		},
		Checkout: CheckoutConfig{
			CloneURL: "https://github.com/{repository}.git",
			TokenEnv: "GITHUB_TOKEN",
			Depth:    1,
		},
		GitHub: GitHubConfig{
			APIURL: "https://api.github.com/",
		},
		Actions: DefaultActions(),
		Signature: SignatureConfig{
			Mode: "gpg",
		},
	}
}

// Load loads configuration with priority: defaults -> file -> env.
// An empty path reads DefaultFile when it exists.
func Load(path string) (*Config, error) {
	cfg := NewDefaultConfig()

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}

	//nolint:gosec // G304: config path is provided by the operator
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		cfg.resolvePaths(filepath.Dir(path))
	case errors.Is(err, os.ErrNotExist) && !explicit:
		// No config file, defaults apply
	default:
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	// Actions declared in the file extend the defaults
	for name, action := range DefaultActions() {
		if _, ok := cfg.Actions[name]; !ok {
			if cfg.Actions == nil {
				cfg.Actions = make(map[string]ActionConfig)
			}
			cfg.Actions[name] = action
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// resolvePaths makes relative paths in the file relative to the file itself
func (c *Config) resolvePaths(base string) {
	if c.WorkflowsDir != "" && !filepath.IsAbs(c.WorkflowsDir) {
		c.WorkflowsDir = filepath.Join(base, c.WorkflowsDir)
	}
	if c.WorkspaceDir != "" && !filepath.IsAbs(c.WorkspaceDir) {
		c.WorkspaceDir = filepath.Join(base, c.WorkspaceDir)
	}
	if c.Signature.Keyring != "" && !filepath.IsAbs(c.Signature.Keyring) {
		c.Signature.Keyring = filepath.Join(base, c.Signature.Keyring)
	}
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SCANMATRIX_WORKFLOWS_DIR"); v != "" {
		cfg.WorkflowsDir = v
	}
	if v := os.Getenv("SCANMATRIX_WORKSPACE_DIR"); v != "" {
		cfg.WorkspaceDir = v
	}
	if v := os.Getenv("SCANMATRIX_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("SCANMATRIX_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("SCANMATRIX_MAX_PARALLEL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Runner.MaxParallel = n
		}
	}
	if v := os.Getenv("SCANMATRIX_REPOSITORY"); v != "" {
		cfg.Repository = v
	}
}

// Validate checks the configuration with go-playground/validator
func (c *Config) Validate() error {
	validate := validator.New(validator.WithRequiredStructEnabled())
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}
