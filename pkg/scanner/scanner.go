// Package scanner watches the issue queues of the configured repositories and
// manages the label-based issue lifecycle.
package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/nebulus-ai/nebulus/pkg/githost"
)

// Config names the labels and budget parameters for queue scanning.
type Config struct {
	WatchedRepos      []string      `yaml:"watched_repos"`
	WorkLabel         string        `yaml:"work_label"`
	InProgressLabel   string        `yaml:"in_progress_label"`
	InReviewLabel     string        `yaml:"in_review_label"`
	FailedLabel       string        `yaml:"failed_label"`
	HighPriorityLabel string        `yaml:"high_priority_label"`
	RateSafetyMargin  int           `yaml:"rate_safety_margin"`
	RatePerRepoCost   int           `yaml:"rate_per_repo_cost"`
	RateCacheDuration time.Duration `yaml:"rate_cache_duration"`
}

// DefaultConfig returns the label conventions used in production.
func DefaultConfig() Config {
	return Config{
		WorkLabel:         "nebulus",
		InProgressLabel:   "nebulus-in-progress",
		InReviewLabel:     "nebulus-in-review",
		FailedLabel:       "nebulus-failed",
		HighPriorityLabel: "urgent",
		RateSafetyMargin:  100,
		RatePerRepoCost:   5,
		RateCacheDuration: 30 * time.Second,
	}
}

// QueuedIssue is one candidate work unit with its queue priority.
type QueuedIssue struct {
	Repo      string    `json:"repo"`
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	Author    string    `json:"author"`
	Priority  int       `json:"priority"`
	CreatedAt time.Time `json:"created_at"`
	Labels    []string  `json:"labels"`
}

const rateLimitCacheKey = "rate_limit"

// Scanner pulls labelled issues out of the watched repositories.
type Scanner struct {
	client *githost.GitHubClient
	config Config
	logger *slog.Logger
	// rateCache keeps the last rate-limit reading to avoid burning budget on
	// budget checks.
	rateCache *cache.Cache
}

// New creates a scanner over the given API client.
func New(client *githost.GitHubClient, config Config) *Scanner {
	if config.RateCacheDuration <= 0 {
		config.RateCacheDuration = DefaultConfig().RateCacheDuration
	}
	return &Scanner{
		client:    client,
		config:    config,
		logger:    slog.Default().With("component", "scanner"),
		rateCache: cache.New(config.RateCacheDuration, time.Minute),
	}
}

// ScanQueue returns the prioritized list of workable issues across all
// watched repositories: open, carrying the work label, not in progress, and
// not pull requests. Sorted by (-priority, created_at).
func (s *Scanner) ScanQueue(ctx context.Context) ([]QueuedIssue, error) {
	var queue []QueuedIssue
	for _, repo := range s.config.WatchedRepos {
		issues, err := s.client.ListOpenIssues(ctx, repo, s.config.WorkLabel)
		if err != nil {
			s.logger.Warn("Queue scan failed for repository", "repo", repo, "error", err)
			continue
		}
		for _, issue := range issues {
			if issue.IsPullRequest() || issue.HasLabel(s.config.InProgressLabel) {
				continue
			}
			priority := 0
			if issue.HasLabel(s.config.HighPriorityLabel) {
				priority = 1
			}
			labels := make([]string, 0, len(issue.Labels))
			for _, l := range issue.Labels {
				labels = append(labels, l.Name)
			}
			queue = append(queue, QueuedIssue{
				Repo:      repo,
				Number:    issue.Number,
				Title:     issue.Title,
				Body:      issue.Body,
				Author:    issue.User.Login,
				Priority:  priority,
				CreatedAt: issue.CreatedAt,
				Labels:    labels,
			})
		}
	}

	sort.SliceStable(queue, func(i, j int) bool {
		if queue[i].Priority != queue[j].Priority {
			return queue[i].Priority > queue[j].Priority
		}
		return queue[i].CreatedAt.Before(queue[j].CreatedAt)
	})
	return queue, nil
}

// MarkInProgress swaps the work label for the in-progress label.
func (s *Scanner) MarkInProgress(ctx context.Context, issue QueuedIssue) error {
	labels := replaceLabel(issue.Labels, s.config.WorkLabel, s.config.InProgressLabel)
	return s.client.UpdateLabels(ctx, issue.Repo, issue.Number, labels)
}

// MarkInReview moves the issue to the in-review label and links the PR in a
// comment.
func (s *Scanner) MarkInReview(ctx context.Context, repo string, issueNumber, prNumber int) error {
	issue, err := s.client.FetchIssue(ctx, repo, issueNumber)
	if err != nil {
		return err
	}
	labels := currentLabels(issue)
	labels = replaceLabel(labels, s.config.InProgressLabel, s.config.InReviewLabel)
	if err := s.client.UpdateLabels(ctx, repo, issueNumber, labels); err != nil {
		return err
	}
	comment := fmt.Sprintf("A pull request is ready for review: #%d", prNumber)
	return s.client.Comment(ctx, repo, issueNumber, comment)
}

// MarkFailed moves the issue to the failed label and posts the error.
func (s *Scanner) MarkFailed(ctx context.Context, repo string, issueNumber int, errMsg string) error {
	issue, err := s.client.FetchIssue(ctx, repo, issueNumber)
	if err != nil {
		return err
	}
	labels := currentLabels(issue)
	labels = replaceLabel(labels, s.config.InProgressLabel, s.config.FailedLabel)
	if err := s.client.UpdateLabels(ctx, repo, issueNumber, labels); err != nil {
		return err
	}
	comment := "Automated work on this issue failed and needs attention: " + errMsg
	return s.client.Comment(ctx, repo, issueNumber, comment)
}

func currentLabels(issue *githost.Issue) []string {
	labels := make([]string, 0, len(issue.Labels))
	for _, l := range issue.Labels {
		labels = append(labels, l.Name)
	}
	return labels
}

func replaceLabel(labels []string, old, new string) []string {
	out := make([]string, 0, len(labels)+1)
	for _, l := range labels {
		if l != old {
			out = append(out, l)
		}
	}
	out = append(out, new)
	return dedupe(out)
}

func dedupe(labels []string) []string {
	seen := map[string]bool{}
	out := labels[:0]
	for _, l := range labels {
		if !seen[l] {
			seen[l] = true
			out = append(out, l)
		}
	}
	return out
}

// GetRateLimit returns the current budget, served from a short-lived cache.
func (s *Scanner) GetRateLimit(ctx context.Context) (*githost.RateLimit, error) {
	if cached, ok := s.rateCache.Get(rateLimitCacheKey); ok {
		return cached.(*githost.RateLimit), nil
	}
	rl, err := s.client.GetRateLimit(ctx)
	if err != nil {
		return nil, err
	}
	s.rateCache.SetDefault(rateLimitCacheKey, rl)
	return rl, nil
}

// CanPerformSweep reports whether the remaining budget covers a full sweep
// plus the safety margin.
func (s *Scanner) CanPerformSweep(ctx context.Context) bool {
	rl, err := s.GetRateLimit(ctx)
	if err != nil {
		s.logger.Warn("Rate-limit check failed, skipping sweep", "error", err)
		return false
	}
	required := s.config.RateSafetyMargin + s.config.RatePerRepoCost*len(s.config.WatchedRepos)
	if rl.Remaining < required {
		s.logger.Info("Insufficient rate-limit budget for sweep",
			"remaining", rl.Remaining, "required", required)
		return false
	}
	return true
}

// IsRateLimited reports whether the budget is below the safety margin.
func (s *Scanner) IsRateLimited(ctx context.Context) bool {
	rl, err := s.GetRateLimit(ctx)
	if err != nil {
		return true
	}
	return rl.Remaining < s.config.RateSafetyMargin
}

// WaitForRateLimit blocks until the budget resets or maxWait elapses.
func (s *Scanner) WaitForRateLimit(ctx context.Context, maxWait time.Duration) error {
	rl, err := s.GetRateLimit(ctx)
	if err != nil {
		return err
	}
	if rl.Remaining >= s.config.RateSafetyMargin {
		return nil
	}

	wait := time.Until(rl.ResetAt)
	if wait > maxWait {
		return fmt.Errorf("rate limit resets in %s, beyond the %s wait budget", wait.Round(time.Second), maxWait)
	}
	if wait < 0 {
		wait = 0
	}
	s.logger.Info("Waiting for rate-limit reset", "wait", wait.Round(time.Second))
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		s.rateCache.Delete(rateLimitCacheKey)
		return nil
	}
}
