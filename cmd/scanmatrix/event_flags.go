package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ochairo/scanmatrix/internal/domain/entities"
	"github.com/ochairo/scanmatrix/internal/external-adapters/github"
)

// eventOptions describes a trigger event on the command line
type eventOptions struct {
	Event      string
	Branch     string
	Cron       string
	Repository string
	Revision   string
	EventPath  string
	FromEnv    bool
}

func (e *eventOptions) addFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&e.Event, "event", "push", "event kind (push|pull_request|schedule)")
	cmd.Flags().StringVar(&e.Branch, "branch", "main", "pushed branch, or pull request target branch")
	cmd.Flags().StringVar(&e.Cron, "cron", "", "cron expression that fired (schedule events)")
	cmd.Flags().StringVar(&e.Repository, "repository", "", "repository owner/name (default: config repository)")
	cmd.Flags().StringVar(&e.Revision, "revision", "", "commit to check out (default: branch head)")
	cmd.Flags().StringVar(&e.EventPath, "event-path", "", "read the event from a webhook payload file")
	cmd.Flags().BoolVar(&e.FromEnv, "from-env", false, "read the event from GITHUB_EVENT_NAME and GITHUB_EVENT_PATH")
}

// resolve builds the trigger event from payloads or flags
func (e *eventOptions) resolve(defaultRepository string) (entities.TriggerEvent, error) {
	switch {
	case e.FromEnv:
		return github.FromEnvironment()
	case e.EventPath != "":
		return github.DecodeEventFile(e.Event, e.EventPath)
	}

	repository := e.Repository
	if repository == "" {
		repository = defaultRepository
	}
	if repository == "" {
		return entities.TriggerEvent{}, fmt.Errorf("--repository is required when the config sets no repository")
	}

	kind, err := entities.ParseEventKind(e.Event)
	if err != nil {
		return entities.TriggerEvent{}, err
	}
	switch kind {
	case entities.EventPullRequest:
		return entities.NewPullRequestEvent(repository, e.Branch, e.Revision), nil
	case entities.EventSchedule:
		return entities.NewScheduledTick(repository, e.Cron, e.Revision), nil
	default:
		return entities.NewPushEvent(repository, e.Branch, e.Revision), nil
	}
}
