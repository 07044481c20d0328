// Package container spawns and supervises minion containers through the
// Docker daemon. A stub implementation records calls for tests and dry runs.
package container

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
)

const managedLabel = "nebulus.minion"

// SpawnRequest carries everything a minion container needs.
type SpawnRequest struct {
	Repo        string
	IssueNumber int
	// MinionID is optional; a fresh one is generated when empty.
	MinionID string
	// ScopeJSON is the serialized scope policy, empty for unrestricted.
	ScopeJSON      string
	GitHubToken    string
	CallbackURL    string
	LLMProvider    string
	LLMBaseURL     string
	LLMModel       string
	LLMTimeout     int
	LLMStreaming   bool
	TimeoutSeconds int
	// RevisionFeedback is injected for revision runs.
	RevisionFeedback string
	// WorkspaceDir is bind-mounted as the ephemeral workspace when set.
	WorkspaceDir string
}

// Info describes one managed container.
type Info struct {
	MinionID    string
	ContainerID string
	State       string
	Status      string
}

// Manager is the container-runtime surface the scheduler depends on.
type Manager interface {
	SpawnMinion(ctx context.Context, req SpawnRequest) (minionID, containerID string, err error)
	KillMinion(ctx context.Context, containerID string) bool
	ListMinions(ctx context.Context) ([]Info, error)
	GetMinionLogs(ctx context.Context, containerID string, tail int) (string, error)
	CleanupDeadContainers(ctx context.Context) (int, error)
}

// NewMinionID generates an opaque minion identifier.
func NewMinionID() string {
	return "minion-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// DockerConfig configures the Docker-backed manager.
type DockerConfig struct {
	Image       string `yaml:"image"`
	Network     string `yaml:"network"`
	MemoryLimit int64  `yaml:"memory_limit"`
	CPUShares   int64  `yaml:"cpu_shares"`
}

// DefaultDockerConfig returns the production container settings.
func DefaultDockerConfig() DockerConfig {
	return DockerConfig{
		Image:       "nebulus-minion:latest",
		MemoryLimit: 2 << 30, // 2 GiB
		CPUShares:   1024,
	}
}

// DockerManager runs minions as containers on the local daemon.
type DockerManager struct {
	cli    *client.Client
	cfg    DockerConfig
	logger *slog.Logger
}

// NewDockerManager connects to the local Docker daemon.
func NewDockerManager(cfg DockerConfig) (*DockerManager, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &DockerManager{cli: cli, cfg: cfg, logger: slog.Default().With("component", "container")}, nil
}

// Close releases the daemon connection.
func (m *DockerManager) Close() error {
	if m.cli != nil {
		return m.cli.Close()
	}
	return nil
}

// BuildEnv renders the environment contract for a minion container.
func BuildEnv(req SpawnRequest, minionID string) []string {
	env := []string{
		"MINION_ID=" + minionID,
		"GITHUB_REPO=" + req.Repo,
		"GITHUB_ISSUE=" + strconv.Itoa(req.IssueNumber),
		"GITHUB_TOKEN=" + req.GitHubToken,
		"OVERLORD_CALLBACK_URL=" + req.CallbackURL,
	}
	if req.LLMProvider != "" {
		env = append(env, "NEBULUS_PROVIDER="+req.LLMProvider)
	}
	if req.LLMBaseURL != "" {
		env = append(env, "NEBULUS_BASE_URL="+req.LLMBaseURL)
	}
	if req.LLMModel != "" {
		env = append(env, "NEBULUS_MODEL="+req.LLMModel)
	}
	if req.LLMTimeout > 0 {
		env = append(env, "NEBULUS_TIMEOUT="+strconv.Itoa(req.LLMTimeout))
	}
	if req.LLMStreaming {
		env = append(env, "NEBULUS_STREAMING=true")
	}
	if req.TimeoutSeconds > 0 {
		env = append(env, "MINION_TIMEOUT="+strconv.Itoa(req.TimeoutSeconds))
	}
	if req.ScopeJSON != "" {
		env = append(env, "MINION_SCOPE="+req.ScopeJSON)
	}
	if req.RevisionFeedback != "" {
		env = append(env, "MINION_REVISION_FEEDBACK="+req.RevisionFeedback)
	}
	return env
}

// SpawnMinion creates and starts one minion container with a fresh workspace.
func (m *DockerManager) SpawnMinion(ctx context.Context, req SpawnRequest) (string, string, error) {
	minionID := req.MinionID
	if minionID == "" {
		minionID = NewMinionID()
	}

	hostConfig := &container.HostConfig{
		AutoRemove: false,
		Resources: container.Resources{
			Memory:    m.cfg.MemoryLimit,
			CPUShares: m.cfg.CPUShares,
		},
	}
	if req.WorkspaceDir != "" {
		hostConfig.Mounts = []mount.Mount{{
			Type:   mount.TypeBind,
			Source: req.WorkspaceDir,
			Target: "/workspace",
		}}
	}
	if m.cfg.Network != "" {
		hostConfig.NetworkMode = container.NetworkMode(m.cfg.Network)
	}

	resp, err := m.cli.ContainerCreate(ctx,
		&container.Config{
			Image: m.cfg.Image,
			Env:   BuildEnv(req, minionID),
			Labels: map[string]string{
				managedLabel:        "true",
				"nebulus.minion_id": minionID,
				"nebulus.repo":      req.Repo,
				"nebulus.issue":     strconv.Itoa(req.IssueNumber),
			},
		},
		hostConfig,
		nil, nil,
		minionID,
	)
	if err != nil {
		return "", "", fmt.Errorf("create container for %s#%d: %w", req.Repo, req.IssueNumber, err)
	}

	if err := m.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return minionID, resp.ID, fmt.Errorf("start container for %s#%d: %w", req.Repo, req.IssueNumber, err)
	}

	m.logger.Info("Minion container started",
		"minion_id", minionID, "container_id", shortID(resp.ID),
		"repo", req.Repo, "issue", req.IssueNumber)
	return minionID, resp.ID, nil
}

// KillMinion stops a container, SIGTERM first with SIGKILL after the grace
// period. Returns false when the container is already gone.
func (m *DockerManager) KillMinion(ctx context.Context, containerID string) bool {
	grace := 10
	err := m.cli.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &grace})
	if err != nil {
		m.logger.Warn("Failed to stop minion container", "container_id", shortID(containerID), "error", err)
		return false
	}
	return true
}

// ListMinions returns all managed containers, running or not.
func (m *DockerManager) ListMinions(ctx context.Context) ([]Info, error) {
	f := filters.NewArgs(filters.Arg("label", managedLabel+"=true"))
	list, err := m.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: f})
	if err != nil {
		return nil, fmt.Errorf("list minion containers: %w", err)
	}

	infos := make([]Info, 0, len(list))
	for _, c := range list {
		infos = append(infos, Info{
			MinionID:    c.Labels["nebulus.minion_id"],
			ContainerID: c.ID,
			State:       c.State,
			Status:      c.Status,
		})
	}
	return infos, nil
}

// GetMinionLogs returns the tail of a container's combined output.
func (m *DockerManager) GetMinionLogs(ctx context.Context, containerID string, tail int) (string, error) {
	opts := container.LogsOptions{ShowStdout: true, ShowStderr: true}
	if tail > 0 {
		opts.Tail = strconv.Itoa(tail)
	}
	reader, err := m.cli.ContainerLogs(ctx, containerID, opts)
	if err != nil {
		return "", fmt.Errorf("fetch logs for %s: %w", shortID(containerID), err)
	}
	defer reader.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, reader); err != nil && err != io.EOF {
		return "", fmt.Errorf("demultiplex logs for %s: %w", shortID(containerID), err)
	}
	if stderr.Len() > 0 {
		stdout.WriteString(stderr.String())
	}
	return stdout.String(), nil
}

// CleanupDeadContainers removes exited managed containers and returns the count.
func (m *DockerManager) CleanupDeadContainers(ctx context.Context) (int, error) {
	infos, err := m.ListMinions(ctx)
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, info := range infos {
		if info.State != "exited" && info.State != "dead" {
			continue
		}
		err := m.cli.ContainerRemove(ctx, info.ContainerID, container.RemoveOptions{Force: true})
		if err != nil {
			m.logger.Warn("Failed to remove dead container",
				"container_id", shortID(info.ContainerID), "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
