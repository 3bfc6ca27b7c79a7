// Package github decodes GitHub webhook payloads into trigger events.
package github

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	gh "github.com/google/go-github/v57/github"

	"github.com/ochairo/scanmatrix/internal/domain/entities"
)

// ErrUnsupportedEvent is returned for payloads that can never trigger a workflow
var ErrUnsupportedEvent = errors.New("unsupported event")

// pullRequestActions are the activity types that trigger pull_request workflows by default
var pullRequestActions = map[string]bool{
	"opened":      true,
	"synchronize": true,
	"reopened":    true,
}

// schedulePayload is the body GitHub delivers for schedule events
type schedulePayload struct {
	Schedule   string         `json:"schedule"`
	Repository *gh.Repository `json:"repository"`
}

// DecodeEvent converts a webhook payload into a TriggerEvent
func DecodeEvent(eventName string, payload []byte) (entities.TriggerEvent, error) {
	if eventName == string(entities.EventSchedule) {
		var p schedulePayload
		if err := json.Unmarshal(payload, &p); err != nil {
			return entities.TriggerEvent{}, fmt.Errorf("failed to parse schedule payload: %w", err)
		}
		return entities.NewScheduledTick(p.Repository.GetFullName(), p.Schedule, ""), nil
	}

	if !json.Valid(payload) {
		return entities.TriggerEvent{}, fmt.Errorf("failed to parse %s payload: invalid JSON", eventName)
	}
	// ParseWebHook rejects event names it has no payload type for
	raw, err := gh.ParseWebHook(eventName, payload)
	if err != nil {
		return entities.TriggerEvent{}, fmt.Errorf("%w: %s", ErrUnsupportedEvent, err)
	}

	switch e := raw.(type) {
	case *gh.PushEvent:
		return decodePush(e)
	case *gh.PullRequestEvent:
		return decodePullRequest(e)
	default:
		return entities.TriggerEvent{}, fmt.Errorf("%w: %s", ErrUnsupportedEvent, eventName)
	}
}

func decodePush(e *gh.PushEvent) (entities.TriggerEvent, error) {
	if e.GetDeleted() {
		return entities.TriggerEvent{}, fmt.Errorf("%w: branch deletion", ErrUnsupportedEvent)
	}
	branch, ok := strings.CutPrefix(e.GetRef(), "refs/heads/")
	if !ok {
		return entities.TriggerEvent{}, fmt.Errorf("%w: push to %s", ErrUnsupportedEvent, e.GetRef())
	}
	return entities.NewPushEvent(e.GetRepo().GetFullName(), branch, e.GetAfter()), nil
}

func decodePullRequest(e *gh.PullRequestEvent) (entities.TriggerEvent, error) {
	if !pullRequestActions[e.GetAction()] {
		return entities.TriggerEvent{}, fmt.Errorf("%w: pull_request action %q", ErrUnsupportedEvent, e.GetAction())
	}
	pr := e.GetPullRequest()
	return entities.NewPullRequestEvent(
		e.GetRepo().GetFullName(),
		pr.GetBase().GetRef(),
		pr.GetHead().GetSHA(),
	), nil
}

// DecodeEventFile reads a payload from disk
func DecodeEventFile(eventName, path string) (entities.TriggerEvent, error) {
	//nolint:gosec // G304: the payload path is provided by the operator or the CI runner
	data, err := os.ReadFile(path)
	if err != nil {
		return entities.TriggerEvent{}, fmt.Errorf("failed to read event payload: %w", err)
	}
	return DecodeEvent(eventName, data)
}

// FromEnvironment decodes the event described by GITHUB_EVENT_NAME and
// GITHUB_EVENT_PATH, as set inside a GitHub Actions runner
func FromEnvironment() (entities.TriggerEvent, error) {
	name := os.Getenv("GITHUB_EVENT_NAME")
	path := os.Getenv("GITHUB_EVENT_PATH")
	if name == "" || path == "" {
		return entities.TriggerEvent{}, fmt.Errorf("GITHUB_EVENT_NAME and GITHUB_EVENT_PATH must be set")
	}
	return DecodeEventFile(name, path)
}
