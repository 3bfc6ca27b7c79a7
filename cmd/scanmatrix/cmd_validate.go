package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ochairo/scanmatrix/internal/domain/entities"
)

type validateOptions struct {
	CheckPins bool
}

// NewValidateCommand creates the validate command
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &validateOptions{}

	cmd := &cobra.Command{
		Use:   "validate [workflow...]",
		Short: "Validate workflow definitions",
		Long: `Parse and statically check workflows: trigger filters, cron
expressions, guard and step conditions, matrix axes and action pinning.
Without arguments every workflow in the workflows directory is checked.

With --check-pins every pinned action is also resolved through the GitHub
API: the commit must exist and the trailing version comment, if any, must
point to the same commit.`,
		Example: `  scanmatrix validate
  scanmatrix validate codeql --check-pins`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd.Context(), rootOpts, opts, args, cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&opts.CheckPins, "check-pins", false, "resolve pinned actions through the GitHub API")

	return cmd
}

func runValidate(ctx context.Context, rootOpts *RootOptions, opts *validateOptions, names []string, out io.Writer) error {
	a, err := newApp(rootOpts.cfg, rootOpts.logger)
	if err != nil {
		return err
	}

	var workflows []*entities.Workflow
	var errs []error
	if len(names) == 0 {
		workflows, err = a.repo.ListWorkflows(ctx)
		if err != nil {
			return err
		}
		if len(workflows) == 0 {
			return fmt.Errorf("no workflows found in %s", rootOpts.cfg.WorkflowsDir)
		}
	}
	for _, name := range names {
		wf, err := a.repo.GetWorkflow(ctx, name)
		if err != nil {
			fmt.Fprintf(out, "✗ %s: %v\n", name, err)
			errs = append(errs, err)
			continue
		}
		workflows = append(workflows, wf)
	}

	valid := make([]*entities.Workflow, 0, len(workflows))
	for _, wf := range workflows {
		label := filepath.Base(wf.Path)
		if err := a.service.Validate(wf, rootOpts.cfg.RequirePinnedActions); err != nil {
			fmt.Fprintf(out, "✗ %s: %v\n", label, err)
			errs = append(errs, fmt.Errorf("%s: %w", label, err))
			continue
		}
		fmt.Fprintf(out, "✓ %s (%s)\n", label, wf.Name)
		valid = append(valid, wf)
	}

	if opts.CheckPins && len(valid) > 0 {
		if err := checkPins(ctx, a, valid, out); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%d check(s) failed: %w", len(errs), errors.Join(errs...))
	}
	return nil
}

// checkPins resolves each distinct action once across all workflows
func checkPins(ctx context.Context, a *app, workflows []*entities.Workflow, out io.Writer) error {
	checker, err := a.pinChecker()
	if err != nil {
		return err
	}

	seen := make(map[string]bool)
	failed := 0
	fmt.Fprintln(out, "\nAction pins:")
	for _, wf := range workflows {
		for _, ref := range wf.Actions() {
			key := ref.Owner + "/" + ref.Repo + "@" + ref.Ref + "#" + ref.VersionComment
			if seen[key] {
				continue
			}
			seen[key] = true

			check, err := checker.CheckPin(ctx, ref)
			if err != nil {
				return err
			}
			mark := "✓"
			if !check.OK {
				mark = "✗"
				failed++
			}
			fmt.Fprintf(out, "%s %s: %s\n", mark, ref.String(), check.Reason)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d action pin(s) could not be verified", failed)
	}
	return nil
}
