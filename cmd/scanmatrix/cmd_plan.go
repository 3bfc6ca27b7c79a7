package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/ochairo/scanmatrix/internal/domain/entities"
)

type planOptions struct {
	eventOptions
	Format string
}

// NewPlanCommand creates the plan command
func NewPlanCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &planOptions{}

	cmd := &cobra.Command{
		Use:   "plan <workflow>",
		Short: "Show the jobs and steps an event would run",
		Long: `Evaluate triggers, guards, matrix expansion and step conditions for
an event without checking anything out or running any step.`,
		Example: `  scanmatrix plan codeql --event pull_request --branch main
  scanmatrix plan codeql --event push --branch feature/x --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(rootOpts.cfg, rootOpts.logger)
			if err != nil {
				return err
			}
			event, err := opts.resolve(rootOpts.cfg.Repository)
			if err != nil {
				return err
			}
			plan, err := a.dispatcher.Plan(cmd.Context(), args[0], event)
			if err != nil {
				return err
			}
			return printPlan(cmd.OutOrStdout(), opts.Format, plan)
		},
	}

	opts.addFlags(cmd)
	cmd.Flags().StringVar(&opts.Format, "format", "text", "output format (text|json)")

	return cmd
}

func printPlan(out io.Writer, format string, plan *entities.DispatchPlan) error {
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(plan)
	case "text":
	default:
		return fmt.Errorf("unknown format %q (want text or json)", format)
	}

	if !plan.Triggered {
		fmt.Fprintf(out, "Workflow %s not triggered by %s: %s\n", plan.Workflow, plan.EventName, plan.SkipReason)
		return nil
	}

	fmt.Fprintf(out, "Workflow %s triggered by %s: %d job(s)\n", plan.Workflow, plan.EventName, len(plan.Jobs))
	for _, job := range plan.Jobs {
		fmt.Fprintf(out, "\n%s\n", job.JobID)
		for _, step := range job.Steps {
			mark := "run "
			if !step.WillRun {
				mark = "skip"
			}
			target := step.Uses
			if target == "" {
				target = "run"
			}
			fmt.Fprintf(out, "  [%s] %s (%s)\n", mark, step.Name, target)
		}
	}
	return nil
}
