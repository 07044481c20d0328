package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Minion is the environment contract a spawned container receives from the
// Overlord.
type Minion struct {
	MinionID    string
	Repo        string
	IssueNumber int
	GitHubToken string
	CallbackURL string

	LLMProvider  string
	LLMBaseURL   string
	LLMModel     string
	LLMTimeout   time.Duration
	LLMStreaming bool

	// Timeout is the wall-clock budget for the whole run.
	Timeout time.Duration
	// ScopeJSON is the serialized scope policy; empty means unrestricted.
	ScopeJSON string
	// RevisionFeedback is set for revision runs.
	RevisionFeedback string
	// Workspace is where the repository is cloned.
	Workspace string
}

// MinionFromEnv reads the contract from the process environment.
func MinionFromEnv() (*Minion, error) {
	m := &Minion{
		MinionID:         os.Getenv("MINION_ID"),
		Repo:             os.Getenv("GITHUB_REPO"),
		GitHubToken:      os.Getenv("GITHUB_TOKEN"),
		CallbackURL:      os.Getenv("OVERLORD_CALLBACK_URL"),
		LLMProvider:      os.Getenv("NEBULUS_PROVIDER"),
		LLMBaseURL:       os.Getenv("NEBULUS_BASE_URL"),
		LLMModel:         os.Getenv("NEBULUS_MODEL"),
		ScopeJSON:        os.Getenv("MINION_SCOPE"),
		RevisionFeedback: os.Getenv("MINION_REVISION_FEEDBACK"),
		Workspace:        os.Getenv("MINION_WORKSPACE"),
		Timeout:          1800 * time.Second,
		LLMTimeout:       300 * time.Second,
	}

	for name, val := range map[string]string{
		"MINION_ID":             m.MinionID,
		"GITHUB_REPO":           m.Repo,
		"GITHUB_TOKEN":          m.GitHubToken,
		"OVERLORD_CALLBACK_URL": m.CallbackURL,
	} {
		if val == "" {
			return nil, fmt.Errorf("%s is required", name)
		}
	}

	rawIssue := os.Getenv("GITHUB_ISSUE")
	issue, err := strconv.Atoi(rawIssue)
	if err != nil || issue <= 0 {
		return nil, fmt.Errorf("GITHUB_ISSUE must be a positive integer, got %q", rawIssue)
	}
	m.IssueNumber = issue

	if raw := os.Getenv("MINION_TIMEOUT"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 {
			return nil, fmt.Errorf("MINION_TIMEOUT must be a positive integer, got %q", raw)
		}
		m.Timeout = time.Duration(secs) * time.Second
	}
	if raw := os.Getenv("NEBULUS_TIMEOUT"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 {
			return nil, fmt.Errorf("NEBULUS_TIMEOUT must be a positive integer, got %q", raw)
		}
		m.LLMTimeout = time.Duration(secs) * time.Second
	}
	if raw := os.Getenv("NEBULUS_STREAMING"); raw != "" {
		m.LLMStreaming, _ = strconv.ParseBool(raw)
	}
	if m.Workspace == "" {
		m.Workspace = "/workspace"
	}
	return m, nil
}
