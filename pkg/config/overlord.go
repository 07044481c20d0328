// Package config loads the Overlord's YAML configuration and the Minion's
// environment contract.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/nebulus-ai/nebulus/pkg/api"
	"github.com/nebulus-ai/nebulus/pkg/container"
	"github.com/nebulus-ai/nebulus/pkg/llm"
	"github.com/nebulus-ai/nebulus/pkg/overlord"
	"github.com/nebulus-ai/nebulus/pkg/review"
	"github.com/nebulus-ai/nebulus/pkg/scanner"
	"github.com/nebulus-ai/nebulus/pkg/slack"
)

// Overlord is the full configuration of the Overlord process.
type Overlord struct {
	// DataDir holds the state, audit, and failure databases plus the
	// signing key.
	DataDir string `yaml:"data_dir"`
	// SignAudit enables audit-entry signing (generates a key on first run).
	SignAudit bool `yaml:"sign_audit"`

	Scheduler overlord.Config        `yaml:"scheduler"`
	Scanner   scanner.Config         `yaml:"scanner"`
	Review    review.Config          `yaml:"review"`
	API       api.Config             `yaml:"api"`
	LLM       llm.OpenAIConfig       `yaml:"llm"`
	Pool      llm.PoolConfig         `yaml:"llm_pool"`
	Docker    container.DockerConfig `yaml:"docker"`
	Slack     slack.Config           `yaml:"slack"`
}

// DefaultOverlord returns the built-in defaults for every section.
func DefaultOverlord() Overlord {
	return Overlord{
		DataDir:   "./data",
		Scheduler: overlord.DefaultConfig(),
		Scanner:   scanner.DefaultConfig(),
		Review:    review.DefaultConfig(),
		API:       api.DefaultConfig(),
		LLM:       llm.DefaultOpenAIConfig(),
		Pool:      llm.DefaultPoolConfig(),
		Docker:    container.DefaultDockerConfig(),
	}
}

// LoadOverlord reads the optional .env file, the YAML config at path (skipped
// when path is empty), and finally environment overrides for secrets.
func LoadOverlord(path string) (*Overlord, error) {
	// Missing .env is fine; explicit config errors are not.
	_ = godotenv.Load()

	cfg := DefaultOverlord()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.applyEnv()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Overlord) applyEnv() {
	if v := os.Getenv("NEBULUS_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := os.Getenv("GITHUB_TOKEN"); v != "" {
		c.Scheduler.GitHubToken = v
	}
	if v := os.Getenv("NEBULUS_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("NEBULUS_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("SLACK_BOT_TOKEN"); v != "" {
		c.Slack.BotToken = v
	}
	if v := os.Getenv("SLACK_CHANNEL"); v != "" {
		c.Slack.Channel = v
	}
}

func (c *Overlord) validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if c.Scheduler.GitHubToken == "" {
		return fmt.Errorf("GITHUB_TOKEN is required")
	}
	return nil
}
