package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ochairo/scanmatrix/internal/config"
	"github.com/ochairo/scanmatrix/internal/domain/interfaces"
	"github.com/ochairo/scanmatrix/internal/external-adapters/logging"
)

// RootOptions holds global flags and the state loaded from them
type RootOptions struct {
	ConfigPath   string
	LogLevel     string
	LogFormat    string
	WorkflowsDir string

	cfg    *config.Config
	logger interfaces.Logger
}

// NewRootCommand creates the root command for the scanmatrix CLI
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "scanmatrix",
		Short: "Trigger and matrix dispatcher for code-scanning workflows",
		Long: `scanmatrix decides whether a push, pull request or scheduled tick
triggers a workflow, expands the job matrix and runs one isolated job
per matrix entry, in parallel.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load(cmd)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (default: ./"+config.DefaultFile+" if present)")
	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "log level (debug|info|warn|error)")
	cmd.PersistentFlags().StringVar(&opts.LogFormat, "log-format", "", "log format (console|json)")
	cmd.PersistentFlags().StringVar(&opts.WorkflowsDir, "workflows-dir", "", "directory containing workflow files")

	cmd.AddCommand(NewDispatchCommand(opts))
	cmd.AddCommand(NewPlanCommand(opts))
	cmd.AddCommand(NewValidateCommand(opts))
	cmd.AddCommand(NewScheduleCommand(opts))
	cmd.AddCommand(NewVersionCommand())

	return cmd
}

// load reads the config file, applies flag overrides and creates the logger
func (o *RootOptions) load(cmd *cobra.Command) error {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return err
	}

	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
	}
	if o.LogFormat != "" {
		cfg.Log.Format = o.LogFormat
	}
	if o.WorkflowsDir != "" {
		cfg.WorkflowsDir = o.WorkflowsDir
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	o.cfg = cfg
	o.logger = logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Writer: cmd.ErrOrStderr(),
	})
	return nil
}
