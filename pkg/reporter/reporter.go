// Package reporter streams minion lifecycle events back to the Overlord
// callback endpoint. Delivery is best-effort: failures log a warning and are
// never retried or queued.
package reporter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nebulus-ai/nebulus/pkg/events"
)

// Config wires a reporter to its Overlord.
type Config struct {
	MinionID          string
	IssueNumber       int
	CallbackURL       string
	HeartbeatInterval time.Duration
	PollTimeout       time.Duration
	PollInterval      time.Duration
}

// DefaultConfig returns the production intervals.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 60 * time.Second,
		PollTimeout:       600 * time.Second,
		PollInterval:      15 * time.Second,
	}
}

// Reporter emits callback events for one minion.
type Reporter struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger
}

// New creates a reporter. Zero intervals fall back to defaults.
func New(config Config) *Reporter {
	defaults := DefaultConfig()
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = defaults.HeartbeatInterval
	}
	if config.PollTimeout <= 0 {
		config.PollTimeout = defaults.PollTimeout
	}
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	return &Reporter{
		config:     config,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     slog.Default().With("component", "reporter", "minion_id", config.MinionID),
	}
}

// StartHeartbeat emits a heartbeat every interval until ctx is cancelled.
func (r *Reporter) StartHeartbeat(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(r.config.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.send(ctx, events.TypeHeartbeat, "alive", nil)
			}
		}
	}()
}

// Progress emits a one-shot progress event.
func (r *Reporter) Progress(ctx context.Context, message string) {
	r.send(ctx, events.TypeProgress, message, nil)
}

// Complete emits the terminal success event with the run's token usage.
func (r *Reporter) Complete(ctx context.Context, prNumber int, prURL, branch, reviewSummary string, usage events.Usage) {
	r.send(ctx, events.TypeComplete, "task complete",
		events.CompleteData(prNumber, prURL, branch, reviewSummary, usage))
}

// Error emits the terminal failure event.
func (r *Reporter) Error(ctx context.Context, errorType, details string) {
	r.send(ctx, events.TypeError, "task failed: "+errorType,
		events.ErrorData(errorType, details))
}

// Question emits a blocking question event.
func (r *Reporter) Question(ctx context.Context, text, blockerType, questionID string) {
	r.send(ctx, events.TypeQuestion, text,
		events.QuestionData(blockerType, questionID))
}

func (r *Reporter) send(ctx context.Context, event events.Type, message string, data map[string]any) {
	payload := events.Payload{
		MinionID:  r.config.MinionID,
		Event:     event,
		Issue:     r.config.IssueNumber,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		r.logger.Warn("Failed to marshal callback payload", "event", event, "error", err)
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.config.CallbackURL, bytes.NewReader(body))
	if err != nil {
		r.logger.Warn("Failed to build callback request", "event", event, "error", err)
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		r.logger.Warn("Callback delivery failed", "event", event, "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		r.logger.Warn("Callback rejected", "event", event, "status", resp.StatusCode)
	}
}

// AnswerURL derives the answer-polling endpoint from the callback URL by
// replacing its trailing path segment with answer/{minion_id}.
func AnswerURL(callbackURL, minionID string) (string, error) {
	u, err := url.Parse(callbackURL)
	if err != nil {
		return "", fmt.Errorf("parse callback URL: %w", err)
	}
	segments := strings.Split(strings.TrimSuffix(u.Path, "/"), "/")
	if len(segments) > 0 {
		segments = segments[:len(segments)-1]
	}
	u.Path = strings.Join(segments, "/") + "/answer/" + minionID
	u.RawQuery = ""
	return u.String(), nil
}

// PollAnswer GETs the answer endpoint every poll interval until an answered
// payload arrives or the poll timeout elapses.
func (r *Reporter) PollAnswer(ctx context.Context, questionID string) (string, error) {
	endpoint, err := AnswerURL(r.config.CallbackURL, r.config.MinionID)
	if err != nil {
		return "", err
	}
	endpoint += "?question_id=" + url.QueryEscape(questionID)

	deadline := time.Now().Add(r.config.PollTimeout)
	for {
		if answer, ok := r.fetchAnswer(ctx, endpoint); ok {
			return answer, nil
		}
		if time.Now().After(deadline) {
			return "", fmt.Errorf("no answer for question %s within %s", questionID, r.config.PollTimeout)
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(r.config.PollInterval):
		}
	}
}

func (r *Reporter) fetchAnswer(ctx context.Context, endpoint string) (string, bool) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", false
	}
	resp, err := r.httpClient.Do(req)
	if err != nil {
		r.logger.Warn("Answer poll failed", "error", err)
		return "", false
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", false
	}

	var reply events.AnswerReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		r.logger.Warn("Malformed answer reply", "error", err)
		return "", false
	}
	return reply.Answer, reply.Answered
}
