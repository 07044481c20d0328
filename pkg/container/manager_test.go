package container

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMinionIDShape(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		id := NewMinionID()
		assert.True(t, strings.HasPrefix(id, "minion-"))
		assert.Len(t, id, len("minion-")+8)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestBuildEnvContract(t *testing.T) {
	env := BuildEnv(SpawnRequest{
		Repo:           "acme/widgets",
		IssueNumber:    42,
		GitHubToken:    "tok",
		CallbackURL:    "http://overlord:8080/api/v1/callback",
		LLMBaseURL:     "http://llm:8000/v1",
		LLMModel:       "sonnet",
		LLMTimeout:     120,
		LLMStreaming:   true,
		TimeoutSeconds: 1800,
		ScopeJSON:      `["src/**"]`,
	}, "minion-abcd1234")

	assert.Contains(t, env, "MINION_ID=minion-abcd1234")
	assert.Contains(t, env, "GITHUB_REPO=acme/widgets")
	assert.Contains(t, env, "GITHUB_ISSUE=42")
	assert.Contains(t, env, "GITHUB_TOKEN=tok")
	assert.Contains(t, env, "OVERLORD_CALLBACK_URL=http://overlord:8080/api/v1/callback")
	assert.Contains(t, env, "NEBULUS_MODEL=sonnet")
	assert.Contains(t, env, "NEBULUS_STREAMING=true")
	assert.Contains(t, env, "MINION_TIMEOUT=1800")
	assert.Contains(t, env, `MINION_SCOPE=["src/**"]`)
}

func TestBuildEnvOmitsEmptyOptionals(t *testing.T) {
	env := BuildEnv(SpawnRequest{Repo: "acme/widgets", IssueNumber: 1}, "minion-x")
	for _, e := range env {
		assert.False(t, strings.HasPrefix(e, "MINION_SCOPE="), "unexpected %s", e)
		assert.False(t, strings.HasPrefix(e, "NEBULUS_MODEL="), "unexpected %s", e)
	}
}

func TestStubManagerLifecycle(t *testing.T) {
	stub := NewStubManager()
	ctx := context.Background()

	minionID, containerID, err := stub.SpawnMinion(ctx, SpawnRequest{
		Repo: "acme/widgets", IssueNumber: 42,
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(minionID, "minion-"))
	require.Len(t, stub.Spawned, 1)
	assert.Equal(t, 42, stub.Spawned[0].IssueNumber)

	infos, err := stub.ListMinions(ctx)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, minionID, infos[0].MinionID)

	logs, err := stub.GetMinionLogs(ctx, containerID, 0)
	require.NoError(t, err)
	assert.Contains(t, logs, containerID)

	assert.True(t, stub.KillMinion(ctx, containerID))
	assert.False(t, stub.KillMinion(ctx, containerID))
	assert.Equal(t, []string{containerID, containerID}, stub.Killed)

	infos, err = stub.ListMinions(ctx)
	require.NoError(t, err)
	assert.Empty(t, infos)
}

func TestStubManagerHonorsProvidedID(t *testing.T) {
	stub := NewStubManager()
	minionID, _, err := stub.SpawnMinion(context.Background(), SpawnRequest{
		Repo: "acme/widgets", IssueNumber: 1, MinionID: "minion-fixed001",
	})
	require.NoError(t, err)
	assert.Equal(t, "minion-fixed001", minionID)
}
