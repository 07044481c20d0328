package githost

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

const defaultAPIBase = "https://api.github.com"

// GitHubClient provides REST access to the code-hosting platform: issues,
// pull requests, reviews, labels, and rate-limit inspection.
type GitHubClient struct {
	httpClient *http.Client
	baseURL    string
	token      string
	logger     *slog.Logger
}

// NewGitHubClient creates an HTTP client for GitHub API operations.
// token may be empty (public repos only, lower rate limits).
func NewGitHubClient(token string) *GitHubClient {
	return &GitHubClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    defaultAPIBase,
		token:      token,
		logger:     slog.Default(),
	}
}

// WithBaseURL points the client at a different API host, used in tests and
// for GitHub Enterprise deployments.
func (c *GitHubClient) WithBaseURL(base string) *GitHubClient {
	c.baseURL = base
	return c
}

// Issue is a hosting-platform work unit.
type Issue struct {
	Number    int       `json:"number"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	State     string    `json:"state"`
	Labels    []Label   `json:"labels"`
	User      User      `json:"user"`
	CreatedAt time.Time `json:"created_at"`
	// PullRequest is non-nil when the "issue" is actually a PR.
	PullRequest *struct {
		URL string `json:"url"`
	} `json:"pull_request,omitempty"`
}

// Label is an issue or PR label.
type Label struct {
	Name string `json:"name"`
}

// User is the author of an issue or PR.
type User struct {
	Login string `json:"login"`
}

// HasLabel reports whether the issue carries the named label.
func (i *Issue) HasLabel(name string) bool {
	for _, l := range i.Labels {
		if l.Name == name {
			return true
		}
	}
	return false
}

// IsPullRequest reports whether this issue record is a pull request.
func (i *Issue) IsPullRequest() bool { return i.PullRequest != nil }

// PullRequest is an open PR with its branches.
type PullRequest struct {
	Number  int    `json:"number"`
	Title   string `json:"title"`
	Body    string `json:"body"`
	State   string `json:"state"`
	HTMLURL string `json:"html_url"`
	Head    Ref    `json:"head"`
	Base    Ref    `json:"base"`
	Merged  bool   `json:"merged"`
	User    User   `json:"user"`
}

// Ref is one side of a PR.
type Ref struct {
	Ref string `json:"ref"`
	SHA string `json:"sha"`
}

// PRFile is one changed file in a PR with its unified diff hunk.
type PRFile struct {
	Filename  string `json:"filename"`
	Status    string `json:"status"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Patch     string `json:"patch"`
}

// RateLimit is the platform's remaining request budget.
type RateLimit struct {
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

func (c *GitHubClient) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("GitHub API returned HTTP %d for %s %s: %s",
			resp.StatusCode, method, path, string(data))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response for %s %s: %w", method, path, err)
	}
	return nil
}

// FetchIssue returns one issue from repo (owner/name form).
func (c *GitHubClient) FetchIssue(ctx context.Context, repo string, number int) (*Issue, error) {
	var issue Issue
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/issues/%d", repo, number), nil, &issue); err != nil {
		return nil, err
	}
	return &issue, nil
}

// ListOpenIssues returns open issues carrying the given label.
func (c *GitHubClient) ListOpenIssues(ctx context.Context, repo, label string) ([]Issue, error) {
	path := fmt.Sprintf("/repos/%s/issues?state=open&per_page=100", repo)
	if label != "" {
		path += "&labels=" + label
	}
	var issues []Issue
	if err := c.do(ctx, http.MethodGet, path, nil, &issues); err != nil {
		return nil, err
	}
	return issues, nil
}

// CreatePR opens a pull request from head into base.
func (c *GitHubClient) CreatePR(ctx context.Context, repo, title, body, head, base string) (*PullRequest, error) {
	var pr PullRequest
	payload := map[string]string{"title": title, "body": body, "head": head, "base": base}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/pulls", repo), payload, &pr); err != nil {
		return nil, err
	}
	c.logger.Info("Created pull request", "repo", repo, "pr", pr.Number)
	return &pr, nil
}

// FetchPR returns PR details.
func (c *GitHubClient) FetchPR(ctx context.Context, repo string, number int) (*PullRequest, error) {
	var pr PullRequest
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/repos/%s/pulls/%d", repo, number), nil, &pr); err != nil {
		return nil, err
	}
	return &pr, nil
}

// FetchPRFiles returns the changed files with diffs for a PR.
func (c *GitHubClient) FetchPRFiles(ctx context.Context, repo string, number int) ([]PRFile, error) {
	var files []PRFile
	path := fmt.Sprintf("/repos/%s/pulls/%d/files?per_page=100", repo, number)
	if err := c.do(ctx, http.MethodGet, path, nil, &files); err != nil {
		return nil, err
	}
	return files, nil
}

// MergeMethod selects how a PR is merged.
type MergeMethod string

const (
	MergeMethodMerge  MergeMethod = "merge"
	MergeMethodSquash MergeMethod = "squash"
	MergeMethodRebase MergeMethod = "rebase"
)

// MergePR merges a PR with the given method.
func (c *GitHubClient) MergePR(ctx context.Context, repo string, number int, method MergeMethod) error {
	payload := map[string]string{"merge_method": string(method)}
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("/repos/%s/pulls/%d/merge", repo, number), payload, nil)
	if err != nil {
		return err
	}
	c.logger.Info("Merged pull request", "repo", repo, "pr", number, "method", method)
	return nil
}

// ReviewEvent is the review action posted to a PR.
type ReviewEvent string

const (
	ReviewApprove        ReviewEvent = "APPROVE"
	ReviewRequestChanges ReviewEvent = "REQUEST_CHANGES"
	ReviewComment        ReviewEvent = "COMMENT"
)

// PostReview submits a PR review with the given event and body.
func (c *GitHubClient) PostReview(ctx context.Context, repo string, number int, event ReviewEvent, body string) error {
	payload := map[string]string{"event": string(event), "body": body}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/pulls/%d/reviews", repo, number), payload, nil)
}

// UpdateLabels replaces an issue's label set.
func (c *GitHubClient) UpdateLabels(ctx context.Context, repo string, number int, labels []string) error {
	payload := map[string][]string{"labels": labels}
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/repos/%s/issues/%d/labels", repo, number), payload, nil)
}

// Comment posts a comment on an issue or PR.
func (c *GitHubClient) Comment(ctx context.Context, repo string, number int, body string) error {
	payload := map[string]string{"body": body}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/issues/%d/comments", repo, number), payload, nil)
}

// GetRateLimit returns the core API budget.
func (c *GitHubClient) GetRateLimit(ctx context.Context) (*RateLimit, error) {
	var resp struct {
		Resources struct {
			Core struct {
				Limit     int   `json:"limit"`
				Remaining int   `json:"remaining"`
				Reset     int64 `json:"reset"`
			} `json:"core"`
		} `json:"resources"`
	}
	if err := c.do(ctx, http.MethodGet, "/rate_limit", nil, &resp); err != nil {
		return nil, err
	}
	return &RateLimit{
		Limit:     resp.Resources.Core.Limit,
		Remaining: resp.Resources.Core.Remaining,
		ResetAt:   time.Unix(resp.Resources.Core.Reset, 0),
	}, nil
}
