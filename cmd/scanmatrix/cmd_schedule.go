package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ochairo/scanmatrix/internal/domain/entities"
	"github.com/ochairo/scanmatrix/internal/domain/interfaces"
	"github.com/ochairo/scanmatrix/internal/external-adapters/cron"
)

type scheduleOptions struct {
	Repository string
	List       bool
}

// NewScheduleCommand creates the schedule command
func NewScheduleCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &scheduleOptions{}

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run scheduled workflows until interrupted",
		Long: `Register the cron schedules of every workflow and dispatch a
scheduled tick when one fires. Times are UTC. A tick is skipped when the
previous run of the same schedule is still in progress.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSchedule(cmd, rootOpts, opts)
		},
	}

	cmd.Flags().StringVar(&opts.Repository, "repository", "", "repository owner/name (default: config repository)")
	cmd.Flags().BoolVar(&opts.List, "list", false, "print registered schedules and exit")

	return cmd
}

func runSchedule(cmd *cobra.Command, rootOpts *RootOptions, opts *scheduleOptions) error {
	a, err := newApp(rootOpts.cfg, rootOpts.logger)
	if err != nil {
		return err
	}
	logger := rootOpts.logger

	repository := opts.Repository
	if repository == "" {
		repository = rootOpts.cfg.Repository
	}
	if repository == "" && !opts.List {
		return fmt.Errorf("--repository is required when the config sets no repository")
	}

	dispatch := func(ctx context.Context, workflow string, event entities.TriggerEvent) {
		res, err := a.dispatcher.Dispatch(ctx, workflow, event)
		if err != nil {
			logger.Error("Scheduled dispatch failed", interfaces.F("workflow", workflow), interfaces.F("error", err))
			return
		}
		logger.Info(res.GetSummary(), interfaces.F("workflow", workflow))
	}
	scheduler := cron.NewScheduler(repository, dispatch, logger)

	ctx := cmd.Context()
	workflows, err := a.repo.ListWorkflows(ctx)
	if err != nil {
		return err
	}
	for _, wf := range workflows {
		if err := scheduler.Register(wf.Path, wf.On.Schedules); err != nil {
			return err
		}
	}

	entries := scheduler.Entries()
	if opts.List {
		out := cmd.OutOrStdout()
		if len(entries) == 0 {
			fmt.Fprintln(out, "No scheduled workflows")
			return nil
		}
		for _, e := range entries {
			fmt.Fprintf(out, "%s  %-15s %s\n", e.Next.Format(time.RFC3339), e.Cron, e.Workflow)
		}
		return nil
	}
	if len(entries) == 0 {
		return fmt.Errorf("no workflow in %s declares a schedule", rootOpts.cfg.WorkflowsDir)
	}

	scheduler.Start()
	logger.Info("Scheduler started", interfaces.F("schedules", len(entries)), interfaces.F("repository", repository))

	<-ctx.Done()
	logger.Info("Stopping scheduler")
	scheduler.Stop()
	return nil
}
