package container

import (
	"context"
	"fmt"
	"sync"
)

// StubManager records spawn and kill calls without touching any container
// runtime. Used for tests and dry-run mode.
type StubManager struct {
	mu      sync.Mutex
	seq     int
	Spawned []SpawnRequest
	Killed  []string
	active  map[string]Info // keyed by container id
}

// NewStubManager returns an empty stub.
func NewStubManager() *StubManager {
	return &StubManager{active: map[string]Info{}}
}

// SpawnMinion records the request and fabricates ids.
func (s *StubManager) SpawnMinion(_ context.Context, req SpawnRequest) (string, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	minionID := req.MinionID
	if minionID == "" {
		minionID = NewMinionID()
	}
	s.seq++
	containerID := fmt.Sprintf("stub-container-%d", s.seq)

	s.Spawned = append(s.Spawned, req)
	s.active[containerID] = Info{
		MinionID:    minionID,
		ContainerID: containerID,
		State:       "running",
		Status:      "Up (stub)",
	}
	return minionID, containerID, nil
}

// KillMinion records the kill and drops the container.
func (s *StubManager) KillMinion(_ context.Context, containerID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Killed = append(s.Killed, containerID)
	if _, ok := s.active[containerID]; !ok {
		return false
	}
	delete(s.active, containerID)
	return true
}

// ListMinions returns the recorded running containers.
func (s *StubManager) ListMinions(_ context.Context) ([]Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	infos := make([]Info, 0, len(s.active))
	for _, info := range s.active {
		infos = append(infos, info)
	}
	return infos, nil
}

// GetMinionLogs returns a placeholder transcript.
func (s *StubManager) GetMinionLogs(_ context.Context, containerID string, _ int) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.active[containerID]; !ok {
		return "", fmt.Errorf("no such container %s", containerID)
	}
	return "stub logs for " + containerID, nil
}

// CleanupDeadContainers is a no-op for the stub; nothing ever exits on its own.
func (s *StubManager) CleanupDeadContainers(context.Context) (int, error) { return 0, nil }
