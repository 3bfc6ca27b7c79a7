package entities

import "fmt"

// EventKind identifies the type of a trigger event
type EventKind string

const (
	// EventPush is a branch push
	EventPush EventKind = "push"
	// EventPullRequest is a pull request against a target branch
	EventPullRequest EventKind = "pull_request"
	// EventSchedule is a timer tick
	EventSchedule EventKind = "schedule"
)

// ParseEventKind converts an event name into an EventKind
func ParseEventKind(name string) (EventKind, error) {
	switch EventKind(name) {
	case EventPush, EventPullRequest, EventSchedule:
		return EventKind(name), nil
	default:
		return "", fmt.Errorf("unsupported event %q (want push, pull_request or schedule)", name)
	}
}

// TriggerEvent is an immutable occurrence from the hosting platform
type TriggerEvent struct {
	Kind       EventKind
	Branch     string // Pushed branch, or target branch of a pull request
	Cron       string // Schedule expression that fired, schedule events only
	Repository string // owner/name
	Revision   string // Commit or ref to check out, empty means default branch head
}

// NewPushEvent creates a push event
func NewPushEvent(repository, branch, revision string) TriggerEvent {
	return TriggerEvent{Kind: EventPush, Branch: branch, Repository: repository, Revision: revision}
}

// NewPullRequestEvent creates a pull request event targeting branch
func NewPullRequestEvent(repository, branch, revision string) TriggerEvent {
	return TriggerEvent{Kind: EventPullRequest, Branch: branch, Repository: repository, Revision: revision}
}

// NewScheduledTick creates a schedule event for the given cron expression
func NewScheduledTick(repository, cron, revision string) TriggerEvent {
	return TriggerEvent{Kind: EventSchedule, Cron: cron, Repository: repository, Revision: revision}
}

// Ref returns the git ref the event refers to
func (e TriggerEvent) Ref() string {
	if e.Branch == "" {
		return ""
	}
	return "refs/heads/" + e.Branch
}

func (e TriggerEvent) String() string {
	switch e.Kind {
	case EventSchedule:
		return fmt.Sprintf("schedule(%s) on %s", e.Cron, e.Repository)
	default:
		return fmt.Sprintf("%s(%s) on %s", e.Kind, e.Branch, e.Repository)
	}
}
