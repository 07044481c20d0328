package slack

import (
	"context"
	"log/slog"
	"time"
)

// Config holds the parameters needed to construct a Service.
type Config struct {
	BotToken string `yaml:"bot_token"`
	Channel  string `yaml:"channel"`
}

// slackMaxLen bounds a single message body.
const slackMaxLen = 3000

// Service posts scheduler notifications to a channel. Nil-safe: all methods
// are no-ops when the service is nil, so an unconfigured deployment just
// passes nil where an overlord.Notifier is expected.
type Service struct {
	client *Client
	logger *slog.Logger
}

// NewService creates the notification service. Returns nil when the token or
// channel is empty.
func NewService(cfg Config) *Service {
	if cfg.BotToken == "" || cfg.Channel == "" {
		return nil
	}
	return &Service{
		client: NewClient(cfg.BotToken, cfg.Channel),
		logger: slog.Default().With("component", "slack-service"),
	}
}

// NewServiceWithClient creates a Service backed by a pre-built Client, for
// tests with a mock API server.
func NewServiceWithClient(client *Client) *Service {
	return &Service{
		client: client,
		logger: slog.Default().With("component", "slack-service"),
	}
}

// Notify posts one lifecycle message. Fail-open: errors are logged, never
// returned, so a Slack outage cannot stall the scheduler.
func (s *Service) Notify(ctx context.Context, message string) {
	if s == nil {
		return
	}
	if len(message) > slackMaxLen {
		message = message[:slackMaxLen-1] + "…"
	}
	if _, err := s.client.PostMessage(ctx, message, "", 5*time.Second); err != nil {
		s.logger.Error("Failed to send Slack notification", "error", err)
	}
}
