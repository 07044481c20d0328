package overlord

import (
	"context"
	"testing"
	"time"

	"github.com/nebulus-ai/nebulus/pkg/audit"
	"github.com/nebulus-ai/nebulus/pkg/container"
	"github.com/nebulus-ai/nebulus/pkg/events"
	"github.com/nebulus-ai/nebulus/pkg/review"
	"github.com/nebulus-ai/nebulus/pkg/scanner"
	"github.com/nebulus-ai/nebulus/pkg/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestScheduler(t *testing.T, cfg Config) (*Scheduler, *container.StubManager) {
	t.Helper()
	dir := t.TempDir()
	store, err := state.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	trail, err := audit.Open(audit.Config{DataDir: dir})
	require.NoError(t, err)
	t.Cleanup(func() { trail.Close() })

	stub := container.NewStubManager()
	cfg.DefaultRepo = "acme/widgets"
	return New(cfg, store, trail, stub, nil, nil, nil), stub
}

// drainSpawn waits for the off-loop spawn goroutine to post its result, then
// dispatches it, mimicking one loop iteration.
func drainSpawn(t *testing.T, s *Scheduler) {
	t.Helper()
	select {
	case ev := <-s.queue:
		require.Equal(t, KindSpawnResult, ev.Kind)
		s.dispatch(context.Background(), ev)
	case <-time.After(2 * time.Second):
		t.Fatal("no spawn result arrived")
	}
}

func startMinion(t *testing.T, s *Scheduler) *state.MinionRecord {
	t.Helper()
	msg := s.startWork(context.Background(), scanner.QueuedIssue{Repo: "acme/widgets", Number: 42}, 0, "")
	require.Contains(t, msg, "Dispatching")
	drainSpawn(t, s)

	rec, err := s.store.GetMinionByIssue("acme/widgets", 42)
	require.NoError(t, err)
	return rec
}

func TestWorkDispatchRecordsMinion(t *testing.T) {
	s, stub := newTestScheduler(t, Config{})
	rec := startMinion(t, s)

	assert.Equal(t, state.StatusStarting, rec.Status)
	require.Len(t, stub.Spawned, 1)
	assert.Equal(t, 42, stub.Spawned[0].IssueNumber)

	entries, err := s.trail.Entries("acme/widgets#42")
	require.NoError(t, err)
	found := false
	for _, e := range entries {
		if e.Event == audit.EventTaskDispatched {
			found = true
		}
	}
	assert.True(t, found, "dispatch must be audited")
}

func TestCapacityDefersWork(t *testing.T) {
	s, _ := newTestScheduler(t, Config{MaxConcurrentMinions: 1})
	startMinion(t, s)

	msg := s.startWork(context.Background(), scanner.QueuedIssue{Repo: "acme/widgets", Number: 43}, 0, "")
	assert.Contains(t, msg, "At capacity")

	_, err := s.store.GetMinionByIssue("acme/widgets", 43)
	assert.ErrorIs(t, err, state.ErrNotFound)
}

func TestDuplicateIssueRefused(t *testing.T) {
	s, _ := newTestScheduler(t, Config{})
	startMinion(t, s)

	msg := s.startWork(context.Background(), scanner.QueuedIssue{Repo: "acme/widgets", Number: 42}, 0, "")
	assert.Contains(t, msg, "already being worked")
}

func TestHeartbeatTransitionsToWorking(t *testing.T) {
	s, _ := newTestScheduler(t, Config{})
	rec := startMinion(t, s)

	s.dispatch(context.Background(), Event{Kind: KindCallback, Callback: &events.Payload{
		MinionID: rec.MinionID, Event: events.TypeHeartbeat, Issue: 42,
	}})

	updated, err := s.store.GetMinion(rec.MinionID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusWorking, updated.Status)
}

func TestCompleteCallbackMovesToHistory(t *testing.T) {
	s, _ := newTestScheduler(t, Config{})
	rec := startMinion(t, s)

	s.dispatch(context.Background(), Event{Kind: KindCallback, Callback: &events.Payload{
		MinionID: rec.MinionID, Event: events.TypeComplete, Issue: 42,
		Data: map[string]any{
			"pr_number": float64(101), "branch": "minion/issue-42",
			"tokens_in": float64(1_000_000), "tokens_out": float64(100_000),
			"model": "claude-sonnet-4",
		},
	}})

	_, err := s.store.GetMinion(rec.MinionID)
	assert.ErrorIs(t, err, state.ErrNotFound)

	hist, err := s.store.History(0)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, state.StatusCompleted, hist[0].Status)
	assert.Equal(t, 101, hist[0].PRNumber)
	// 1M in at $3/M plus 100k out at $15/M.
	assert.InDelta(t, 4.5, hist[0].CostUSD, 0.001)
}

func TestTimeoutErrorMapsToTimedOut(t *testing.T) {
	s, _ := newTestScheduler(t, Config{})
	rec := startMinion(t, s)

	s.dispatch(context.Background(), Event{Kind: KindCallback, Callback: &events.Payload{
		MinionID: rec.MinionID, Event: events.TypeError, Issue: 42,
		Data: map[string]any{"error_type": "timeout", "details": "wall clock exceeded"},
	}})

	hist, err := s.store.History(0)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, state.StatusTimedOut, hist[0].Status)
}

func TestQuestionAndAnswerFlow(t *testing.T) {
	s, _ := newTestScheduler(t, Config{})
	rec := startMinion(t, s)

	s.dispatch(context.Background(), Event{Kind: KindCallback, Callback: &events.Payload{
		MinionID: rec.MinionID, Event: events.TypeQuestion, Issue: 42,
		Message: "which key?",
		Data:    map[string]any{"blocker_type": "missing_info", "question_id": "q-1"},
	}})

	waiting, err := s.store.GetMinion(rec.MinionID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusAwaitingAnswer, waiting.Status)

	require.NoError(t, s.AnswerQuestion(rec.MinionID, "q-1", "use staging"))

	answer, ok := s.Answers().Take(rec.MinionID, "q-1")
	require.True(t, ok)
	assert.Equal(t, "use staging", answer)

	// Answers deliver exactly once.
	_, ok = s.Answers().Take(rec.MinionID, "q-1")
	assert.False(t, ok)

	working, err := s.store.GetMinion(rec.MinionID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusWorking, working.Status)

	// Answering an unknown question fails.
	assert.Error(t, s.AnswerQuestion(rec.MinionID, "q-unknown", "x"))
}

func TestHeartbeatPreservesAwaitingAnswer(t *testing.T) {
	s, _ := newTestScheduler(t, Config{})
	rec := startMinion(t, s)

	s.dispatch(context.Background(), Event{Kind: KindCallback, Callback: &events.Payload{
		MinionID: rec.MinionID, Event: events.TypeQuestion, Issue: 42,
		Message: "which key?",
		Data:    map[string]any{"blocker_type": "missing_info", "question_id": "q-1"},
	}})

	// The minion's heartbeat goroutine keeps ticking while it waits.
	s.dispatch(context.Background(), Event{Kind: KindCallback, Callback: &events.Payload{
		MinionID: rec.MinionID, Event: events.TypeHeartbeat, Issue: 42,
	}})

	waiting, err := s.store.GetMinion(rec.MinionID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusAwaitingAnswer, waiting.Status,
		"a heartbeat must not flip a waiting minion back to working")

	require.NoError(t, s.AnswerQuestion(rec.MinionID, "q-1", "use staging"))

	s.dispatch(context.Background(), Event{Kind: KindCallback, Callback: &events.Payload{
		MinionID: rec.MinionID, Event: events.TypeHeartbeat, Issue: 42,
	}})
	working, err := s.store.GetMinion(rec.MinionID)
	require.NoError(t, err)
	assert.Equal(t, state.StatusWorking, working.Status)
}

func TestWatchdogKillsSilentMinion(t *testing.T) {
	s, stub := newTestScheduler(t, Config{HeartbeatTimeout: 10 * time.Millisecond})
	rec := startMinion(t, s)

	time.Sleep(20 * time.Millisecond)
	s.dispatch(context.Background(), Event{Kind: KindWatchdogTick})

	_, err := s.store.GetMinion(rec.MinionID)
	assert.ErrorIs(t, err, state.ErrNotFound)

	hist, err := s.store.History(0)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, state.StatusTimedOut, hist[0].Status)
	assert.NotEmpty(t, stub.Killed)
}

func TestWatchdogSparesHealthyMinion(t *testing.T) {
	s, stub := newTestScheduler(t, Config{HeartbeatTimeout: time.Hour})
	rec := startMinion(t, s)

	s.dispatch(context.Background(), Event{Kind: KindWatchdogTick})

	_, err := s.store.GetMinion(rec.MinionID)
	assert.NoError(t, err)
	assert.Empty(t, stub.Killed)
	_ = rec
}

func TestStopCommand(t *testing.T) {
	s, stub := newTestScheduler(t, Config{})
	rec := startMinion(t, s)

	reply := make(chan string, 1)
	cmd := ParseCommand("stop #42")
	s.dispatch(context.Background(), Event{Kind: KindOperator, Command: &cmd, Reply: reply})

	assert.Contains(t, <-reply, "Stopped "+rec.MinionID)
	assert.NotEmpty(t, stub.Killed)

	hist, err := s.store.History(0)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, state.StatusFailed, hist[0].Status)
}

func TestPauseAndResume(t *testing.T) {
	s, _ := newTestScheduler(t, Config{})

	reply := make(chan string, 1)
	cmd := ParseCommand("pause")
	s.dispatch(context.Background(), Event{Kind: KindOperator, Command: &cmd, Reply: reply})
	assert.Contains(t, <-reply, "paused")

	snap, err := s.Snapshot()
	require.NoError(t, err)
	assert.True(t, snap.Paused)

	reply = make(chan string, 1)
	cmd = ParseCommand("resume")
	s.dispatch(context.Background(), Event{Kind: KindOperator, Command: &cmd, Reply: reply})
	assert.Contains(t, <-reply, "resumed")

	snap, err = s.Snapshot()
	require.NoError(t, err)
	assert.False(t, snap.Paused)
}

func TestReviewResultEmitsBoundedRevision(t *testing.T) {
	s, _ := newTestScheduler(t, Config{})

	outcome := &reviewOutcome{
		Repo: "acme/widgets", IssueNumber: 42, PRNumber: 101,
		Revision: 0, Branch: "minion/issue-42",
		Workflow: &review.WorkflowResult{
			LLMResult: &review.Result{
				Decision: review.DecisionRequestChanges,
				Issues:   []string{"tests missing"},
			},
		},
	}
	s.dispatch(context.Background(), Event{Kind: KindReviewResult, Review: outcome})

	select {
	case ev := <-s.queue:
		require.Equal(t, KindRevision, ev.Kind)
		assert.Equal(t, 1, ev.Revision.RevisionNumber)
		assert.Contains(t, ev.Revision.CombinedFeedback, "tests missing")
	case <-time.After(time.Second):
		t.Fatal("no revision event emitted")
	}

	evs, err := s.store.Evaluations("acme/widgets", 101)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.Equal(t, "needs_revision", evs[0].Decision)
}

func TestReviewResultAtRevisionLimitDoesNotRequeue(t *testing.T) {
	s, _ := newTestScheduler(t, Config{})

	outcome := &reviewOutcome{
		Repo: "acme/widgets", IssueNumber: 42, PRNumber: 101,
		Revision: 2,
		Workflow: &review.WorkflowResult{
			LLMResult: &review.Result{Decision: review.DecisionRequestChanges},
		},
	}
	s.dispatch(context.Background(), Event{Kind: KindReviewResult, Review: outcome})

	select {
	case ev := <-s.queue:
		t.Fatalf("unexpected event %s", ev.Kind)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRecoverOrphansFailsMissingContainers(t *testing.T) {
	s, _ := newTestScheduler(t, Config{})
	require.NoError(t, s.store.AddMinion(&state.MinionRecord{
		MinionID: "minion-gone0001", ContainerID: "vanished",
		Repo: "acme/widgets", IssueNumber: 42, Status: state.StatusWorking,
	}))

	s.recoverOrphans(context.Background())

	_, err := s.store.GetMinion("minion-gone0001")
	assert.ErrorIs(t, err, state.ErrNotFound)

	hist, err := s.store.History(0)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, state.StatusFailed, hist[0].Status)
}

func TestSubmitRoundTrip(t *testing.T) {
	s, _ := newTestScheduler(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Run(ctx)

	reply, err := s.Submit(ctx, "help")
	require.NoError(t, err)
	assert.Contains(t, reply, "Commands:")

	reply, err = s.Submit(ctx, "status")
	require.NoError(t, err)
	assert.Contains(t, reply, "No active minions")
}
