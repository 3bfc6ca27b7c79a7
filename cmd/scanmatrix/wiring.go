package main

import (
	"os"
	"time"

	"github.com/ochairo/scanmatrix/internal/config"
	"github.com/ochairo/scanmatrix/internal/domain-adapters/gateways"
	orchestrators "github.com/ochairo/scanmatrix/internal/domain-orchestrators"
	"github.com/ochairo/scanmatrix/internal/domain/interfaces"
	"github.com/ochairo/scanmatrix/internal/domain/interfaces/services"
	domainservices "github.com/ochairo/scanmatrix/internal/domain/services"
	"github.com/ochairo/scanmatrix/internal/external-adapters/cron"
	"github.com/ochairo/scanmatrix/internal/external-adapters/yaml"
)

// app holds the wired components for one CLI invocation
type app struct {
	cfg        *config.Config
	token      string
	logger     interfaces.Logger
	repo       *yaml.WorkflowRepository
	service    services.WorkflowService
	dispatcher *orchestrators.DispatchOrchestrator
}

// newApp wires repositories, gateways and orchestrators from configuration
func newApp(cfg *config.Config, logger interfaces.Logger) (*app, error) {
	repo := yaml.NewWorkflowRepository(cfg.WorkflowsDir, logger)
	service := domainservices.NewWorkflowService(cron.NewParser())

	stepTimeout := time.Duration(cfg.Runner.StepTimeoutMinutes) * time.Minute
	executor := gateways.NewScriptExecutor(cfg.Runner.Shell, stepTimeout, cfg.Runner.Env, logger)

	var token string
	if cfg.Checkout.TokenEnv != "" {
		token = os.Getenv(cfg.Checkout.TokenEnv)
	}
	checkout := gateways.NewGitCheckout(executor, cfg.Checkout.CloneURL, token, cfg.Checkout.Depth, logger)

	commands := make(map[string]gateways.ActionCommand, len(cfg.Actions))
	for name, a := range cfg.Actions {
		commands[name] = gateways.ActionCommand{Run: a.Run, Env: a.Env}
	}
	actions := gateways.NewActionRunner(executor, checkout, commands, logger)

	jobs := orchestrators.NewJobOrchestrator(
		service,
		gateways.NewDirWorkspaceProvider(cfg.WorkspaceDir, cfg.KeepWorkspaces, logger),
		actions,
		executor,
		orchestrators.JobOrchestratorConfig{
			StepTimeout: stepTimeout,
			Findings:    gateways.NewSARIFReader(),
			Logger:      logger,
		},
	)

	dispatchConfig := orchestrators.DispatchOrchestratorConfig{
		RequirePinnedActions: cfg.RequirePinnedActions,
		MaxParallel:          cfg.Runner.MaxParallel,
		Logger:               logger,
	}
	if cfg.Signature.Required {
		switch cfg.Signature.Mode {
		case "sha256":
			dispatchConfig.Verifier = gateways.NewChecksumVerifier()
			dispatchConfig.SignatureSuffix = gateways.ChecksumSuffix
		default:
			verifier, err := gateways.NewGPGVerifier(cfg.Signature.Keyring)
			if err != nil {
				return nil, err
			}
			dispatchConfig.Verifier = verifier
			logger.Debug("Loaded workflow keyring", interfaces.F("keys", verifier.GetKeyringSize()))
		}
	}

	return &app{
		cfg:        cfg,
		token:      token,
		logger:     logger,
		repo:       repo,
		service:    service,
		dispatcher: orchestrators.NewDispatchOrchestrator(repo, service, jobs, dispatchConfig),
	}, nil
}

// pinChecker creates the GitHub client used by validate --check-pins
func (a *app) pinChecker() (*gateways.GitHubPinChecker, error) {
	return gateways.NewGitHubPinChecker(a.token, a.cfg.GitHub.APIURL, a.logger)
}
