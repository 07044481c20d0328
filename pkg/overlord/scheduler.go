// Package overlord is the supervisory scheduler: it multiplexes operator
// commands, minion callbacks, and timer ticks into one ordered event queue,
// drains it with a single consumer, and owns every state transition.
package overlord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nebulus-ai/nebulus/pkg/audit"
	"github.com/nebulus-ai/nebulus/pkg/container"
	"github.com/nebulus-ai/nebulus/pkg/evaluate"
	"github.com/nebulus-ai/nebulus/pkg/events"
	"github.com/nebulus-ai/nebulus/pkg/llm"
	"github.com/nebulus-ai/nebulus/pkg/metrics"
	"github.com/nebulus-ai/nebulus/pkg/review"
	"github.com/nebulus-ai/nebulus/pkg/scanner"
	"github.com/nebulus-ai/nebulus/pkg/state"
)

// EventKind tags entries in the scheduler queue.
type EventKind string

const (
	KindOperator     EventKind = "operator"
	KindCallback     EventKind = "callback"
	KindSweepTick    EventKind = "sweep_tick"
	KindWatchdogTick EventKind = "watchdog_tick"
	KindSpawnResult  EventKind = "spawn_result"
	KindReviewResult EventKind = "review_result"
	KindRevision     EventKind = "revision"
)

// Event is one entry in the scheduler queue. Exactly one payload field is set
// according to Kind.
type Event struct {
	Kind     EventKind
	Command  *Command
	Callback *events.Payload
	Spawn    *spawnResult
	Review   *reviewOutcome
	Revision *evaluate.RevisionRequest
	// Reply receives the operator-facing response for command events. May be
	// nil when the caller does not want one.
	Reply chan string
}

type spawnResult struct {
	Issue       scanner.QueuedIssue
	MinionID    string
	ContainerID string
	Revision    int
	Err         error
}

type reviewOutcome struct {
	Repo        string
	IssueNumber int
	PRNumber    int
	Revision    int
	Branch      string
	Workflow    *review.WorkflowResult
}

// Notifier posts operator-visible notifications. Implementations must be
// nil-safe via NopNotifier.
type Notifier interface {
	Notify(ctx context.Context, message string)
}

// NopNotifier discards notifications.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, string) {}

// Config tunes the scheduler.
type Config struct {
	DefaultRepo          string        `yaml:"default_repo"`
	MaxConcurrentMinions int           `yaml:"max_concurrent_minions"`
	HeartbeatTimeout     time.Duration `yaml:"heartbeat_timeout"`
	SweepInterval        time.Duration `yaml:"sweep_interval"`
	WatchdogInterval     time.Duration `yaml:"watchdog_interval"`
	MinionTimeout        time.Duration `yaml:"minion_timeout"`
	AutoReview           bool          `yaml:"auto_review"`
	AutoMerge            bool          `yaml:"auto_merge"`

	GitHubToken string `yaml:"-"`
	CallbackURL string `yaml:"callback_url"`
	LLMProvider string `yaml:"llm_provider"`
	LLMBaseURL  string `yaml:"llm_base_url"`
	LLMModel    string `yaml:"llm_model"`
	MinionScope string `yaml:"minion_scope"`
}

// DefaultConfig returns the production scheduler settings.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentMinions: 3,
		HeartbeatTimeout:     5 * time.Minute,
		SweepInterval:        2 * time.Minute,
		WatchdogInterval:     time.Minute,
		MinionTimeout:        30 * time.Minute,
		AutoReview:           true,
	}
}

// Scheduler is the single-consumer event loop.
type Scheduler struct {
	config     Config
	store      *state.Store
	trail      *audit.Trail
	containers container.Manager
	scanner    *scanner.Scanner
	pipeline   *review.Pipeline
	notifier   Notifier
	logger     *slog.Logger

	queue   chan Event
	answers *AnswerBuffer
	paused  atomic.Bool

	// pendingQuestions maps (minion_id, question_id) to the question text.
	// Written by the event loop, read by AnswerQuestion callers.
	questionMu       sync.Mutex
	pendingQuestions map[string]string
}

// New assembles a scheduler. scanner and pipeline may be nil to disable
// sweeping and automated review respectively.
func New(config Config, store *state.Store, trail *audit.Trail, containers container.Manager,
	queueScanner *scanner.Scanner, pipeline *review.Pipeline, notifier Notifier) *Scheduler {

	defaults := DefaultConfig()
	if config.MaxConcurrentMinions <= 0 {
		config.MaxConcurrentMinions = defaults.MaxConcurrentMinions
	}
	if config.HeartbeatTimeout <= 0 {
		config.HeartbeatTimeout = defaults.HeartbeatTimeout
	}
	if config.SweepInterval <= 0 {
		config.SweepInterval = defaults.SweepInterval
	}
	if config.WatchdogInterval <= 0 {
		config.WatchdogInterval = defaults.WatchdogInterval
	}
	if config.MinionTimeout <= 0 {
		config.MinionTimeout = defaults.MinionTimeout
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}

	return &Scheduler{
		config:           config,
		store:            store,
		trail:            trail,
		containers:       containers,
		scanner:          queueScanner,
		pipeline:         pipeline,
		notifier:         notifier,
		logger:           slog.Default().With("component", "overlord"),
		queue:            make(chan Event, 256),
		answers:          NewAnswerBuffer(),
		pendingQuestions: map[string]string{},
	}
}

// Answers exposes the question/answer buffer for the API layer.
func (s *Scheduler) Answers() *AnswerBuffer { return s.answers }

// Submit enqueues an operator command and returns the reply.
func (s *Scheduler) Submit(ctx context.Context, text string) (string, error) {
	reply := make(chan string, 1)
	cmd := ParseCommand(text)
	select {
	case s.queue <- Event{Kind: KindOperator, Command: &cmd, Reply: reply}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	select {
	case r := <-reply:
		return r, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// HandleCallback enqueues a minion callback payload.
func (s *Scheduler) HandleCallback(payload events.Payload) {
	s.queue <- Event{Kind: KindCallback, Callback: &payload}
}

// Run drains the event queue until ctx is cancelled. It owns all writes to
// the state store and audit trail.
func (s *Scheduler) Run(ctx context.Context) error {
	s.recoverOrphans(ctx)

	sweep := time.NewTicker(s.config.SweepInterval)
	watchdog := time.NewTicker(s.config.WatchdogInterval)
	defer sweep.Stop()
	defer watchdog.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sweep.C:
			s.dispatch(ctx, Event{Kind: KindSweepTick})
		case <-watchdog.C:
			s.dispatch(ctx, Event{Kind: KindWatchdogTick})
		case ev := <-s.queue:
			s.dispatch(ctx, ev)
		}
	}
}

func (s *Scheduler) dispatch(ctx context.Context, ev Event) {
	metrics.EventsProcessed.WithLabelValues(string(ev.Kind)).Inc()
	switch ev.Kind {
	case KindOperator:
		s.handleOperator(ctx, ev)
	case KindCallback:
		s.handleCallback(ctx, *ev.Callback)
	case KindSweepTick:
		s.handleSweep(ctx)
	case KindWatchdogTick:
		s.handleWatchdog(ctx)
	case KindSpawnResult:
		s.handleSpawnResult(ctx, ev.Spawn)
	case KindReviewResult:
		s.handleReviewResult(ctx, ev.Review)
	case KindRevision:
		s.handleRevision(ctx, ev.Revision)
	}
	s.refreshActiveGauge()
}

func (s *Scheduler) refreshActiveGauge() {
	if n, err := s.store.ActiveCount(); err == nil {
		metrics.ActiveMinions.Set(float64(n))
	}
}

func (s *Scheduler) audit(event audit.EventType, taskID, reasoning string, data map[string]any) {
	if _, err := s.trail.Append(event, taskID, reasoning, data); err != nil {
		s.logger.Error("Audit append failed", "event", event, "task_id", taskID, "error", err)
	}
}

func taskID(repo string, issue int) string {
	return fmt.Sprintf("%s#%d", repo, issue)
}

func (s *Scheduler) handleOperator(ctx context.Context, ev Event) {
	cmd := ev.Command
	reply := func(msg string) {
		if ev.Reply != nil {
			ev.Reply <- msg
		}
	}

	switch cmd.Kind {
	case CommandStatus:
		reply(s.renderStatus())
	case CommandHelp:
		reply(HelpText)
	case CommandPause:
		s.paused.Store(true)
		s.audit(audit.EventTaskReceived, "operator", "operator paused automatic dispatch",
			map[string]any{"command": cmd.Raw})
		reply("Automatic dispatch paused.")
	case CommandResume:
		s.paused.Store(false)
		s.audit(audit.EventTaskReceived, "operator", "operator resumed automatic dispatch",
			map[string]any{"command": cmd.Raw})
		reply("Automatic dispatch resumed.")
	case CommandQueue:
		reply(s.renderQueue(ctx))
	case CommandHistory:
		reply(s.renderHistory())
	case CommandWork:
		repo := cmd.Repo
		if repo == "" {
			repo = s.config.DefaultRepo
		}
		if repo == "" {
			reply("No repository given and no default repository configured.")
			return
		}
		issue := scanner.QueuedIssue{Repo: repo, Number: cmd.Number}
		s.audit(audit.EventTaskReceived, taskID(repo, cmd.Number),
			"operator requested work on issue", map[string]any{"command": cmd.Raw})
		reply(s.startWork(ctx, issue, 0, ""))
	case CommandStop:
		reply(s.stopMinion(ctx, cmd))
	case CommandReview:
		repo := cmd.Repo
		if repo == "" {
			repo = s.config.DefaultRepo
		}
		if repo == "" || s.pipeline == nil {
			reply("Review is not available.")
			return
		}
		s.offloadReview(ctx, repo, 0, cmd.Number, 0, "")
		reply(fmt.Sprintf("Review of %s#%d started.", repo, cmd.Number))
	default:
		reply("Unrecognized command. Try 'help'.")
	}
}

// startWork checks capacity and offloads the container spawn. Returns the
// operator-facing response.
func (s *Scheduler) startWork(ctx context.Context, issue scanner.QueuedIssue, revision int, feedback string) string {
	active, err := s.store.ActiveCount()
	if err != nil {
		return "State store unavailable: " + err.Error()
	}
	if active >= s.config.MaxConcurrentMinions {
		s.audit(audit.EventTaskAbandoned, taskID(issue.Repo, issue.Number),
			"deferred: at max concurrent minions",
			map[string]any{"active": active, "max": s.config.MaxConcurrentMinions})
		return fmt.Sprintf("At capacity (%d/%d active); issue deferred to the next sweep.",
			active, s.config.MaxConcurrentMinions)
	}

	if existing, err := s.store.GetMinionByIssue(issue.Repo, issue.Number); err == nil {
		return fmt.Sprintf("Issue %s#%d is already being worked by %s.",
			issue.Repo, issue.Number, existing.MinionID)
	}

	req := container.SpawnRequest{
		Repo:             issue.Repo,
		IssueNumber:      issue.Number,
		ScopeJSON:        s.config.MinionScope,
		GitHubToken:      s.config.GitHubToken,
		CallbackURL:      s.config.CallbackURL,
		LLMProvider:      s.config.LLMProvider,
		LLMBaseURL:       s.config.LLMBaseURL,
		LLMModel:         s.config.LLMModel,
		TimeoutSeconds:   int(s.config.MinionTimeout.Seconds()),
		RevisionFeedback: feedback,
	}

	// Spawning blocks on the container runtime, so it runs off-loop; the
	// result re-enters the queue as a spawn_result event.
	go func() {
		minionID, containerID, err := s.containers.SpawnMinion(ctx, req)
		s.queue <- Event{Kind: KindSpawnResult, Spawn: &spawnResult{
			Issue:       issue,
			MinionID:    minionID,
			ContainerID: containerID,
			Revision:    revision,
			Err:         err,
		}}
	}()
	return fmt.Sprintf("Dispatching a minion for %s#%d.", issue.Repo, issue.Number)
}

func (s *Scheduler) handleSpawnResult(ctx context.Context, res *spawnResult) {
	tid := taskID(res.Issue.Repo, res.Issue.Number)
	if res.Err != nil {
		metrics.MinionsSpawned.WithLabelValues("error").Inc()
		s.audit(audit.EventTaskAbandoned, tid, "container spawn failed",
			map[string]any{"error": res.Err.Error()})
		s.notifier.Notify(ctx, fmt.Sprintf("Spawn failed for %s: %v", tid, res.Err))
		return
	}

	metrics.MinionsSpawned.WithLabelValues("ok").Inc()
	err := s.store.AddMinion(&state.MinionRecord{
		MinionID:       res.MinionID,
		ContainerID:    res.ContainerID,
		Repo:           res.Issue.Repo,
		IssueNumber:    res.Issue.Number,
		Status:         state.StatusStarting,
		RevisionNumber: res.Revision,
	})
	if err != nil {
		s.logger.Error("Failed to record spawned minion", "minion_id", res.MinionID, "error", err)
	}
	s.audit(audit.EventTaskDispatched, tid, "minion container started",
		map[string]any{"minion_id": res.MinionID, "revision": res.Revision})

	if s.scanner != nil && res.Revision == 0 {
		if err := s.scanner.MarkInProgress(ctx, res.Issue); err != nil {
			s.logger.Warn("Failed to mark issue in progress", "task_id", tid, "error", err)
		}
	}
	s.notifier.Notify(ctx, fmt.Sprintf("%s dispatched for %s", res.MinionID, tid))
}

func (s *Scheduler) stopMinion(ctx context.Context, cmd *Command) string {
	var rec *state.MinionRecord
	var err error
	if cmd.MinionID != "" {
		rec, err = s.store.GetMinion(cmd.MinionID)
	} else {
		repo := cmd.Repo
		if repo == "" {
			repo = s.config.DefaultRepo
		}
		rec, err = s.store.GetMinionByIssue(repo, cmd.Number)
	}
	if err != nil {
		return "No matching active minion."
	}

	s.containers.KillMinion(ctx, rec.ContainerID)
	if err := s.store.RecordCompletion(rec.MinionID, state.StatusFailed, 0, "stopped by operator", 0); err != nil {
		s.logger.Error("Failed to record stop", "minion_id", rec.MinionID, "error", err)
	}
	metrics.MinionsCompleted.WithLabelValues(string(state.StatusFailed)).Inc()
	s.audit(audit.EventTaskAbandoned, taskID(rec.Repo, rec.IssueNumber),
		"operator stopped the minion", map[string]any{"minion_id": rec.MinionID})
	return fmt.Sprintf("Stopped %s (%s#%d).", rec.MinionID, rec.Repo, rec.IssueNumber)
}

func (s *Scheduler) handleCallback(ctx context.Context, p events.Payload) {
	rec, err := s.store.GetMinion(p.MinionID)
	if err != nil {
		s.logger.Warn("Callback from unknown minion", "minion_id", p.MinionID, "event", p.Event)
		return
	}
	tid := taskID(rec.Repo, rec.IssueNumber)
	now := time.Now().UTC()

	switch p.Event {
	case events.TypeHeartbeat, events.TypeProgress:
		// The heartbeat goroutine keeps ticking while the minion waits on an
		// answer; it must not flip awaiting_answer back to working. Only
		// AnswerQuestion clears that state.
		upd := state.Update{LastHeartbeat: &now}
		if rec.Status != state.StatusAwaitingAnswer {
			status := state.StatusWorking
			upd.Status = &status
		}
		if err := s.store.UpdateMinion(p.MinionID, upd); err != nil {
			s.logger.Warn("Heartbeat update failed", "minion_id", p.MinionID, "error", err)
		}
		if p.Event == events.TypeProgress {
			s.audit(audit.EventWorkerResult, tid, "minion progress",
				map[string]any{"minion_id": p.MinionID, "message": p.Message})
		}

	case events.TypeQuestion:
		status := state.StatusAwaitingAnswer
		if err := s.store.UpdateMinion(p.MinionID, state.Update{
			Status: &status, LastHeartbeat: &now,
		}); err != nil {
			s.logger.Warn("Question update failed", "minion_id", p.MinionID, "error", err)
		}
		questionID := events.StringField(p.Data, "question_id")
		s.questionMu.Lock()
		s.pendingQuestions[p.MinionID+"/"+questionID] = p.Message
		s.questionMu.Unlock()
		s.audit(audit.EventWorkerResult, tid, "minion asked a question",
			map[string]any{"minion_id": p.MinionID, "question_id": questionID, "question": p.Message})
		s.notifier.Notify(ctx, fmt.Sprintf("%s needs input on %s: %s", p.MinionID, tid, p.Message))

	case events.TypeComplete:
		prNumber, _ := events.IntField(p.Data, "pr_number")
		tokensIn, _ := events.IntField(p.Data, "tokens_in")
		tokensOut, _ := events.IntField(p.Data, "tokens_out")
		costUSD := llm.EstimateCostUSD(tokensIn, tokensOut, events.StringField(p.Data, "model"))
		if costUSD > 0 {
			metrics.LLMCostUSD.Add(costUSD)
		}
		if err := s.store.RecordCompletion(p.MinionID, state.StatusCompleted, prNumber, "", costUSD); err != nil {
			s.logger.Error("Failed to record completion", "minion_id", p.MinionID, "error", err)
		}
		metrics.MinionsCompleted.WithLabelValues(string(state.StatusCompleted)).Inc()
		s.audit(audit.EventWorkerResult, tid, "minion completed",
			map[string]any{"minion_id": p.MinionID, "pr_number": prNumber, "data": p.Data})
		s.notifier.Notify(ctx, fmt.Sprintf("%s finished %s (PR #%d)", p.MinionID, tid, prNumber))

		if s.scanner != nil && prNumber > 0 {
			if err := s.scanner.MarkInReview(ctx, rec.Repo, rec.IssueNumber, prNumber); err != nil {
				s.logger.Warn("Failed to mark issue in review", "task_id", tid, "error", err)
			}
		}
		if s.config.AutoReview && s.pipeline != nil && prNumber > 0 {
			branch := events.StringField(p.Data, "branch")
			s.offloadReview(ctx, rec.Repo, rec.IssueNumber, prNumber, rec.RevisionNumber, branch)
		}

	case events.TypeError:
		errorType := events.StringField(p.Data, "error_type")
		details := events.StringField(p.Data, "details")
		terminal := state.StatusFailed
		if errorType == "timeout" {
			terminal = state.StatusTimedOut
		}
		if err := s.store.RecordCompletion(p.MinionID, terminal, 0,
			strings.TrimSpace(errorType+": "+details), 0); err != nil {
			s.logger.Error("Failed to record error", "minion_id", p.MinionID, "error", err)
		}
		metrics.MinionsCompleted.WithLabelValues(string(terminal)).Inc()
		s.audit(audit.EventTaskAbandoned, tid, "minion reported a terminal error",
			map[string]any{"minion_id": p.MinionID, "error_type": errorType, "details": details})
		if s.scanner != nil {
			if err := s.scanner.MarkFailed(ctx, rec.Repo, rec.IssueNumber, errorType); err != nil {
				s.logger.Warn("Failed to mark issue failed", "task_id", tid, "error", err)
			}
		}
		s.notifier.Notify(ctx, fmt.Sprintf("%s failed on %s: %s", p.MinionID, tid, errorType))
	}
}

// AnswerQuestion resolves a pending question so the minion's poll loop can
// pick the answer up, and returns the minion to working state.
func (s *Scheduler) AnswerQuestion(minionID, questionID, answer string) error {
	key := minionID + "/" + questionID
	s.questionMu.Lock()
	_, ok := s.pendingQuestions[key]
	if ok {
		delete(s.pendingQuestions, key)
	}
	s.questionMu.Unlock()
	if !ok {
		return fmt.Errorf("no pending question %s for %s", questionID, minionID)
	}
	s.answers.Set(minionID, questionID, answer)

	status := state.StatusWorking
	return s.store.UpdateMinion(minionID, state.Update{Status: &status})
}

func (s *Scheduler) offloadReview(ctx context.Context, repo string, issueNumber, prNumber, revision int, branch string) {
	go func() {
		workflow := s.pipeline.ReviewPR(ctx, repo, prNumber, review.Options{
			Post:      true,
			AutoMerge: s.config.AutoMerge,
		})
		s.queue <- Event{Kind: KindReviewResult, Review: &reviewOutcome{
			Repo:        repo,
			IssueNumber: issueNumber,
			PRNumber:    prNumber,
			Revision:    revision,
			Branch:      branch,
			Workflow:    workflow,
		}}
	}()
}

func (s *Scheduler) handleReviewResult(ctx context.Context, out *reviewOutcome) {
	tid := taskID(out.Repo, out.IssueNumber)
	wf := out.Workflow

	if wf.Error != "" {
		s.audit(audit.EventEvaluationComplete, tid, "review pipeline failed",
			map[string]any{"pr_number": out.PRNumber, "error": wf.Error})
		return
	}

	metrics.ReviewsRun.WithLabelValues(string(wf.LLMResult.Decision)).Inc()
	verdict := evaluate.Evaluate(out.Repo, out.PRNumber, out.Revision, wf.ChecksReport, wf.LLMResult)

	if err := s.store.AppendEvaluation(&state.Evaluation{
		Repo:           out.Repo,
		PRNumber:       out.PRNumber,
		RevisionNumber: out.Revision,
		Decision:       string(verdict.Overall()),
		Confidence:     wf.LLMResult.Confidence,
		Summary:        wf.LLMResult.Summary,
	}); err != nil {
		s.logger.Error("Failed to persist evaluation", "task_id", tid, "error", err)
	}
	s.audit(audit.EventEvaluationComplete, tid, verdict.Summary(),
		map[string]any{"pr_number": out.PRNumber, "decision": string(wf.LLMResult.Decision),
			"confidence": wf.LLMResult.Confidence, "merged": wf.Merged})

	if req := evaluate.RevisionFor(verdict, out.IssueNumber, out.Branch); req != nil {
		s.queue <- Event{Kind: KindRevision, Revision: req}
		return
	}

	if verdict.Overall() == evaluate.ScorePass {
		s.audit(audit.EventTaskComplete, tid, "evaluation passed",
			map[string]any{"pr_number": out.PRNumber, "merged": wf.Merged})
		s.notifier.Notify(ctx, fmt.Sprintf("%s passed review (PR #%d)", tid, out.PRNumber))
	}
}

func (s *Scheduler) handleRevision(ctx context.Context, req *evaluate.RevisionRequest) {
	tid := taskID(req.Repo, req.IssueNumber)
	s.audit(audit.EventRevisionRequested, tid, "evaluation requested a revision",
		map[string]any{"pr_number": req.PRNumber, "revision": req.RevisionNumber})

	issue := scanner.QueuedIssue{Repo: req.Repo, Number: req.IssueNumber}
	msg := s.startWork(ctx, issue, req.RevisionNumber, req.CombinedFeedback)
	s.logger.Info("Revision dispatch", "task_id", tid, "revision", req.RevisionNumber, "result", msg)
}

func (s *Scheduler) handleWatchdog(ctx context.Context) {
	active, err := s.store.GetActiveMinions()
	if err != nil {
		s.logger.Error("Watchdog state read failed", "error", err)
		return
	}
	now := time.Now().UTC()
	for _, rec := range active {
		if now.Sub(rec.LastHeartbeat) <= s.config.HeartbeatTimeout {
			continue
		}
		tid := taskID(rec.Repo, rec.IssueNumber)
		s.logger.Warn("Watchdog: minion heartbeat expired",
			"minion_id", rec.MinionID, "last_heartbeat", rec.LastHeartbeat)

		s.containers.KillMinion(ctx, rec.ContainerID)
		if err := s.store.RecordCompletion(rec.MinionID, state.StatusTimedOut, 0,
			"no heartbeat within "+s.config.HeartbeatTimeout.String(), 0); err != nil {
			s.logger.Error("Failed to record watchdog timeout", "minion_id", rec.MinionID, "error", err)
		}
		metrics.MinionsCompleted.WithLabelValues(string(state.StatusTimedOut)).Inc()
		s.audit(audit.EventTaskAbandoned, tid, "watchdog killed a silent minion",
			map[string]any{"minion_id": rec.MinionID})
		if s.scanner != nil {
			if err := s.scanner.MarkFailed(ctx, rec.Repo, rec.IssueNumber, "minion timed out"); err != nil {
				s.logger.Warn("Failed to mark issue failed", "task_id", tid, "error", err)
			}
		}
	}
}

func (s *Scheduler) handleSweep(ctx context.Context) {
	if s.paused.Load() || s.scanner == nil {
		return
	}
	active, err := s.store.ActiveCount()
	if err != nil || active >= s.config.MaxConcurrentMinions {
		return
	}
	if !s.scanner.CanPerformSweep(ctx) {
		return
	}

	queue, err := s.scanner.ScanQueue(ctx)
	if err != nil || len(queue) == 0 {
		return
	}
	top := queue[0]
	s.audit(audit.EventTaskReceived, taskID(top.Repo, top.Number),
		"sweep picked the top queued issue",
		map[string]any{"priority": top.Priority, "title": top.Title})
	s.startWork(ctx, top, 0, "")
}

// recoverOrphans reconciles container reality with the active set after a
// restart: records whose containers are gone become failed.
func (s *Scheduler) recoverOrphans(ctx context.Context) {
	active, err := s.store.GetActiveMinions()
	if err != nil || len(active) == 0 {
		return
	}
	infos, err := s.containers.ListMinions(ctx)
	if err != nil {
		s.logger.Warn("Orphan recovery skipped, container list failed", "error", err)
		return
	}
	running := map[string]bool{}
	for _, info := range infos {
		if info.State == "running" {
			running[info.ContainerID] = true
		}
	}

	for _, rec := range active {
		if running[rec.ContainerID] {
			continue
		}
		s.logger.Warn("Recovering orphaned minion record", "minion_id", rec.MinionID)
		if err := s.store.RecordCompletion(rec.MinionID, state.StatusFailed, 0,
			"container missing after restart", 0); err != nil {
			s.logger.Error("Orphan recovery failed", "minion_id", rec.MinionID, "error", err)
		}
		s.audit(audit.EventTaskAbandoned, taskID(rec.Repo, rec.IssueNumber),
			"orphaned record recovered at startup", map[string]any{"minion_id": rec.MinionID})
	}
}

func (s *Scheduler) renderStatus() string {
	active, err := s.store.GetActiveMinions()
	if err != nil {
		return "State store unavailable: " + err.Error()
	}
	if len(active) == 0 {
		return "No active minions."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d active minion(s):\n", len(active))
	for _, rec := range active {
		fmt.Fprintf(&b, "- %s  %s#%d  %s  (last heartbeat %s ago)\n",
			rec.MinionID, rec.Repo, rec.IssueNumber, rec.Status,
			time.Since(rec.LastHeartbeat).Round(time.Second))
	}
	if s.paused.Load() {
		b.WriteString("Automatic dispatch is paused.\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func (s *Scheduler) renderQueue(ctx context.Context) string {
	if s.scanner == nil {
		return "Queue scanning is not configured."
	}
	queue, err := s.scanner.ScanQueue(ctx)
	if err != nil {
		return "Queue scan failed: " + err.Error()
	}
	if len(queue) == 0 {
		return "The queue is empty."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d queued issue(s):\n", len(queue))
	for _, q := range queue {
		marker := ""
		if q.Priority > 0 {
			marker = " [high priority]"
		}
		fmt.Fprintf(&b, "- %s#%d %s%s\n", q.Repo, q.Number, q.Title, marker)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (s *Scheduler) renderHistory() string {
	hist, err := s.store.History(10)
	if err != nil {
		return "State store unavailable: " + err.Error()
	}
	if len(hist) == 0 {
		return "No completed work yet."
	}
	var b strings.Builder
	b.WriteString("Recent work:\n")
	for _, h := range hist {
		line := fmt.Sprintf("- %s  %s#%d  %s", h.MinionID, h.Repo, h.IssueNumber, h.Status)
		if h.PRNumber > 0 {
			line += fmt.Sprintf("  PR #%d", h.PRNumber)
		}
		if h.ErrorMessage != "" {
			line += "  (" + h.ErrorMessage + ")"
		}
		b.WriteString(line + "\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// StatusSnapshot is the JSON form of the scheduler's current state, served by
// the HTTP API.
type StatusSnapshot struct {
	Active  []state.MinionRecord `json:"active"`
	Paused  bool                 `json:"paused"`
	MaxSize int                  `json:"max_concurrent_minions"`
}

// Snapshot returns the current status for the API layer. Reads only.
func (s *Scheduler) Snapshot() (*StatusSnapshot, error) {
	active, err := s.store.GetActiveMinions()
	if err != nil {
		return nil, err
	}
	return &StatusSnapshot{
		Active:  active,
		Paused:  s.paused.Load(),
		MaxSize: s.config.MaxConcurrentMinions,
	}, nil
}
