package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setMinionEnv(t *testing.T) {
	t.Helper()
	t.Setenv("MINION_ID", "minion-ab12cd34")
	t.Setenv("GITHUB_REPO", "acme/widgets")
	t.Setenv("GITHUB_ISSUE", "42")
	t.Setenv("GITHUB_TOKEN", "ghs_testtoken")
	t.Setenv("OVERLORD_CALLBACK_URL", "http://overlord:8080/api/callback")
}

func TestMinionFromEnvDefaults(t *testing.T) {
	setMinionEnv(t)

	m, err := MinionFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "minion-ab12cd34", m.MinionID)
	assert.Equal(t, 42, m.IssueNumber)
	assert.Equal(t, 1800*time.Second, m.Timeout)
	assert.Equal(t, "/workspace", m.Workspace)
	assert.Empty(t, m.ScopeJSON)
}

func TestMinionFromEnvOverrides(t *testing.T) {
	setMinionEnv(t)
	t.Setenv("MINION_TIMEOUT", "600")
	t.Setenv("NEBULUS_BASE_URL", "http://llm:8000/v1")
	t.Setenv("NEBULUS_MODEL", "qwen-coder")
	t.Setenv("NEBULUS_STREAMING", "true")
	t.Setenv("MINION_SCOPE", `["src/**"]`)
	t.Setenv("MINION_WORKSPACE", "/tmp/ws")

	m, err := MinionFromEnv()
	require.NoError(t, err)
	assert.Equal(t, 600*time.Second, m.Timeout)
	assert.Equal(t, "http://llm:8000/v1", m.LLMBaseURL)
	assert.Equal(t, "qwen-coder", m.LLMModel)
	assert.True(t, m.LLMStreaming)
	assert.Equal(t, `["src/**"]`, m.ScopeJSON)
	assert.Equal(t, "/tmp/ws", m.Workspace)
}

func TestMinionFromEnvMissingRequired(t *testing.T) {
	setMinionEnv(t)
	t.Setenv("OVERLORD_CALLBACK_URL", "")

	_, err := MinionFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "OVERLORD_CALLBACK_URL")
}

func TestMinionFromEnvBadIssue(t *testing.T) {
	setMinionEnv(t)
	t.Setenv("GITHUB_ISSUE", "not-a-number")

	_, err := MinionFromEnv()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GITHUB_ISSUE")
}

func TestLoadOverlordDefaultsAndEnv(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "ghs_testtoken")

	cfg, err := LoadOverlord("")
	require.NoError(t, err)
	assert.Equal(t, "./data", cfg.DataDir)
	assert.Equal(t, 3, cfg.Scheduler.MaxConcurrentMinions)
	assert.Equal(t, "ghs_testtoken", cfg.Scheduler.GitHubToken)
	assert.Equal(t, "nebulus", cfg.Scanner.WorkLabel)
}

func TestLoadOverlordYAMLOverridesDefaults(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "ghs_testtoken")

	path := filepath.Join(t.TempDir(), "overlord.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
data_dir: /var/lib/nebulus
scheduler:
  max_concurrent_minions: 5
  default_repo: acme/widgets
docker:
  image: nebulus-minion:v2
`), 0o600))

	cfg, err := LoadOverlord(path)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/nebulus", cfg.DataDir)
	assert.Equal(t, 5, cfg.Scheduler.MaxConcurrentMinions)
	assert.Equal(t, "acme/widgets", cfg.Scheduler.DefaultRepo)
	assert.Equal(t, "nebulus-minion:v2", cfg.Docker.Image)
}

func TestLoadOverlordRequiresToken(t *testing.T) {
	t.Setenv("GITHUB_TOKEN", "")

	_, err := LoadOverlord("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "GITHUB_TOKEN")
}
