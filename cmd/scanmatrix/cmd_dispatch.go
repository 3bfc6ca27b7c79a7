package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ochairo/scanmatrix/internal/domain/entities"
)

// errJobsFailed signals a dispatch whose jobs failed. The summary has
// already been printed, so main only sets the exit code.
var errJobsFailed = errors.New("one or more jobs failed")

type dispatchOptions struct {
	eventOptions
	JSONOutput string
	Timeout    time.Duration
}

// NewDispatchCommand creates the dispatch command
func NewDispatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &dispatchOptions{}

	cmd := &cobra.Command{
		Use:   "dispatch [workflow]",
		Short: "Dispatch a trigger event and run the selected jobs",
		Long: `Dispatch a trigger event to a workflow, or to every workflow when
none is named. Jobs of a matrix run in parallel, each in its own workspace.`,
		Example: `  # Simulate a push to a release branch
  scanmatrix dispatch codeql --event push --branch v3.10.x

  # Weekly scheduled run
  scanmatrix dispatch codeql --event schedule --cron '45 19 * * 1'

  # Use the webhook payload of a hosted runner
  scanmatrix dispatch --from-env --json-output report.json`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var workflow string
			if len(args) == 1 {
				workflow = args[0]
			}
			return runDispatch(cmd.Context(), rootOpts, opts, workflow, cmd.OutOrStdout())
		},
	}

	opts.addFlags(cmd)
	cmd.Flags().StringVar(&opts.JSONOutput, "json-output", "", "write the dispatch report as JSON to this file (- for stdout)")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 0, "overall dispatch timeout (0 for none)")

	return cmd
}

func runDispatch(ctx context.Context, rootOpts *RootOptions, opts *dispatchOptions, workflow string, out io.Writer) error {
	a, err := newApp(rootOpts.cfg, rootOpts.logger)
	if err != nil {
		return err
	}

	event, err := opts.resolve(rootOpts.cfg.Repository)
	if err != nil {
		return err
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	var (
		results     []*entities.DispatchResult
		dispatchErr error
	)
	if workflow == "" {
		results, dispatchErr = a.dispatcher.DispatchAll(ctx, event)
	} else {
		var res *entities.DispatchResult
		res, dispatchErr = a.dispatcher.Dispatch(ctx, workflow, event)
		if dispatchErr == nil {
			results = append(results, res)
		}
	}

	jsonToStdout := opts.JSONOutput == "-"
	if !jsonToStdout {
		for _, res := range results {
			fmt.Fprintln(out, res.GetSummary())
		}
	}
	if opts.JSONOutput != "" {
		if err := writeReport(opts.JSONOutput, out, results); err != nil {
			return err
		}
	}

	if dispatchErr != nil {
		return dispatchErr
	}
	for _, res := range results {
		if !res.OK() {
			return errJobsFailed
		}
	}
	return nil
}

// writeReport writes dispatch results as indented JSON
func writeReport(path string, stdout io.Writer, results []*entities.DispatchResult) error {
	if results == nil {
		results = []*entities.DispatchResult{}
	}
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	data = append(data, '\n')

	if path == "-" {
		_, err = stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write report %s: %w", path, err)
	}
	return nil
}
