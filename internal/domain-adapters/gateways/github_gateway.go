package gateways

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	gh "github.com/google/go-github/v57/github"

	"github.com/ochairo/scanmatrix/internal/domain/entities"
	"github.com/ochairo/scanmatrix/internal/domain/interfaces"
	"github.com/ochairo/scanmatrix/internal/domain/interfaces/gateways"
)

const (
	// Max retries for transient errors
	maxRetries = 3
	// Initial backoff duration
	initialBackoff = 1 * time.Second
	// Max backoff duration
	maxBackoff = 32 * time.Second
)

// retryBackoff computes the wait before retry attempt n
var retryBackoff = calculateBackoff

// GitHubPinChecker resolves pinned action refs through the GitHub REST API
type GitHubPinChecker struct {
	client *gh.Client
	logger interfaces.Logger
}

// NewGitHubPinChecker creates a pin checker. An empty apiURL uses api.github.com.
func NewGitHubPinChecker(token, apiURL string, logger interfaces.Logger) (*GitHubPinChecker, error) {
	if logger == nil {
		logger = &interfaces.NoOpLogger{}
	}
	httpClient := &http.Client{
		Timeout:   30 * time.Second,
		Transport: &retryTransport{base: http.DefaultTransport, backoff: retryBackoff, logger: logger},
	}

	client := gh.NewClient(httpClient)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	if apiURL != "" {
		base, err := url.Parse(strings.TrimSuffix(apiURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("invalid GitHub API URL %q: %w", apiURL, err)
		}
		client.BaseURL = base
	}
	client.UserAgent = "scanmatrix"

	return &GitHubPinChecker{client: client, logger: logger}, nil
}

// CheckPin verifies that a pinned commit exists in the action repository
// and, when the step carries a version comment, that the version resolves
// to the same commit.
func (g *GitHubPinChecker) CheckPin(ctx context.Context, ref entities.ActionRef) (entities.PinCheck, error) {
	check := entities.PinCheck{Action: ref}
	if !ref.IsPinned() {
		check.Reason = "not pinned to a full commit SHA"
		return check, nil
	}

	sha, found, err := g.resolve(ctx, ref.Owner, ref.Repo, ref.Ref)
	if err != nil {
		return check, err
	}
	if !found {
		check.Reason = fmt.Sprintf("commit %s not found in %s/%s", ref.Ref, ref.Owner, ref.Repo)
		return check, nil
	}
	if !strings.EqualFold(sha, ref.Ref) {
		check.Reason = fmt.Sprintf("ref resolves to %s", sha)
		return check, nil
	}

	if ref.VersionComment == "" {
		check.OK = true
		check.Reason = "commit exists"
		return check, nil
	}

	tagSHA, found, err := g.resolve(ctx, ref.Owner, ref.Repo, ref.VersionComment)
	if err != nil {
		return check, err
	}
	if !found {
		check.Reason = fmt.Sprintf("version %s not found in %s/%s", ref.VersionComment, ref.Owner, ref.Repo)
		return check, nil
	}
	check.TagSHA = tagSHA
	if !strings.EqualFold(tagSHA, ref.Ref) {
		check.Reason = fmt.Sprintf("version %s points to %s", ref.VersionComment, tagSHA)
		return check, nil
	}

	check.OK = true
	check.Reason = "matches " + ref.VersionComment
	return check, nil
}

// resolve returns the commit a ref points to. Unknown refs are not an error.
func (g *GitHubPinChecker) resolve(ctx context.Context, owner, repo, ref string) (string, bool, error) {
	sha, resp, err := g.client.Repositories.GetCommitSHA1(ctx, owner, repo, ref, "")
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusUnprocessableEntity) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to resolve %s/%s@%s: %w", owner, repo, ref, err)
	}
	g.logger.Debug("Resolved ref",
		interfaces.F("repository", owner+"/"+repo),
		interfaces.F("ref", ref),
		interfaces.F("sha", sha),
	)
	return strings.TrimSpace(sha), true, nil
}

// retryTransport retries transient API failures with exponential backoff
type retryTransport struct {
	base    http.RoundTripper
	backoff func(attempt int) time.Duration
	logger  interfaces.Logger
}

// RoundTrip only retries requests without a body
func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	var resp *http.Response
	var err error

	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(t.backoff(attempt - 1))
			select {
			case <-req.Context().Done():
				timer.Stop()
				return nil, req.Context().Err()
			case <-timer.C:
			}
		}

		resp, err = t.base.RoundTrip(req)
		if err != nil {
			// Network errors are retryable
			if attempt < maxRetries && req.Body == nil && req.Context().Err() == nil {
				continue
			}
			return nil, err
		}

		if rateLimitErr := t.checkRateLimit(resp); rateLimitErr != nil {
			//nolint:errcheck,gosec // G104: Best effort close on rate limit error
			resp.Body.Close()
			return nil, rateLimitErr
		}

		if !isRetryableError(resp.StatusCode) || req.Body != nil || attempt == maxRetries {
			return resp, nil
		}

		//nolint:errcheck,gosec // G104: Best effort close before retry
		resp.Body.Close()
	}

	return resp, err
}

// errRateLimited is returned once the API quota is exhausted
var errRateLimited = errors.New("GitHub API rate limit exceeded")

// checkRateLimit checks GitHub API rate limit headers and returns error if exhausted
func (t *retryTransport) checkRateLimit(resp *http.Response) error {
	remaining := resp.Header.Get("X-RateLimit-Remaining")
	if remaining == "" {
		return nil
	}

	remainingInt, err := strconv.Atoi(remaining)
	if err != nil {
		return nil
	}

	// If exhausted, fail immediately instead of waiting for the reset
	if remainingInt == 0 {
		if resetUnix, err := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64); err == nil {
			return fmt.Errorf("%w, resets at %s", errRateLimited, time.Unix(resetUnix, 0).UTC().Format(time.RFC3339))
		}
		return errRateLimited
	}

	if remainingInt <= 10 {
		t.logger.Warn("GitHub API rate limit low", interfaces.F("remaining", remainingInt))
	}
	return nil
}

// isRetryableError checks if an HTTP status code is retryable
func isRetryableError(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests, // 429
		http.StatusInternalServerError, // 500
		http.StatusBadGateway,          // 502
		http.StatusServiceUnavailable,  // 503
		http.StatusGatewayTimeout:      // 504
		return true
	default:
		return false
	}
}

// calculateBackoff returns the backoff duration for a retry attempt
func calculateBackoff(attempt int) time.Duration {
	backoff := float64(initialBackoff) * math.Pow(2, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}
	return time.Duration(backoff)
}

var _ gateways.PinChecker = (*GitHubPinChecker)(nil)
