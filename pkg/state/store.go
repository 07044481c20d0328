// Package state persists the Overlord's view of running and finished minions.
// Active records live in active_minions; terminal records move to work_history.
// Supervisor evaluations append to a third table keyed by PR revision.
package state

import (
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Status is a minion lifecycle state.
type Status string

const (
	StatusStarting       Status = "starting"
	StatusWorking        Status = "working"
	StatusAwaitingAnswer Status = "awaiting_answer"
	StatusCompleted      Status = "completed"
	StatusFailed         Status = "failed"
	StatusTimedOut       Status = "timed_out"
)

// Terminal reports whether s ends a minion's run.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimedOut:
		return true
	}
	return false
}

// MinionRecord is one minion's tracked state.
type MinionRecord struct {
	MinionID       string    `json:"minion_id"`
	ContainerID    string    `json:"container_id"`
	Repo           string    `json:"repo"`
	IssueNumber    int       `json:"issue_number"`
	Status         Status    `json:"status"`
	StartedAt      time.Time `json:"started_at"`
	LastHeartbeat  time.Time `json:"last_heartbeat"`
	PRNumber       int       `json:"pr_number,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	RevisionNumber int       `json:"revision_number"`
}

// HistoryRecord is a finished run with its terminal outcome.
type HistoryRecord struct {
	MinionRecord
	FinishedAt time.Time `json:"finished_at"`
	CostUSD    float64   `json:"cost_usd,omitempty"`
}

// Evaluation is one supervisor verdict for a PR revision.
type Evaluation struct {
	Repo           string    `json:"repo"`
	PRNumber       int       `json:"pr_number"`
	RevisionNumber int       `json:"revision_number"`
	Decision       string    `json:"decision"`
	Confidence     float64   `json:"confidence"`
	Summary        string    `json:"summary"`
	CreatedAt      time.Time `json:"created_at"`
}

// ErrNotFound is returned when no record matches a lookup.
var ErrNotFound = errors.New("minion not found")

// Store is the durable state database. Writes are serialized; reads are not.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open creates or opens the state database in dataDir.
func Open(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "state.db")
	dsn := dbPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	db.SetMaxOpenConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS active_minions (
		minion_id TEXT PRIMARY KEY,
		container_id TEXT NOT NULL,
		repo TEXT NOT NULL,
		issue_number INTEGER NOT NULL,
		status TEXT NOT NULL,
		started_at TEXT NOT NULL,
		last_heartbeat TEXT NOT NULL,
		pr_number INTEGER NOT NULL DEFAULT 0,
		error_message TEXT NOT NULL DEFAULT '',
		revision_number INTEGER NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS work_history (
		minion_id TEXT PRIMARY KEY,
		container_id TEXT NOT NULL,
		repo TEXT NOT NULL,
		issue_number INTEGER NOT NULL,
		status TEXT NOT NULL,
		started_at TEXT NOT NULL,
		last_heartbeat TEXT NOT NULL,
		pr_number INTEGER NOT NULL DEFAULT 0,
		error_message TEXT NOT NULL DEFAULT '',
		revision_number INTEGER NOT NULL DEFAULT 0,
		finished_at TEXT NOT NULL,
		cost_usd REAL NOT NULL DEFAULT 0
	);
	CREATE TABLE IF NOT EXISTS evaluations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		repo TEXT NOT NULL,
		pr_number INTEGER NOT NULL,
		revision_number INTEGER NOT NULL,
		decision TEXT NOT NULL,
		confidence REAL NOT NULL,
		summary TEXT NOT NULL,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_active_issue ON active_minions(repo, issue_number);
	CREATE INDEX IF NOT EXISTS idx_history_repo ON work_history(repo);
	CREATE INDEX IF NOT EXISTS idx_eval_pr ON evaluations(repo, pr_number, revision_number);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create state schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// AddMinion inserts a new active record. StartedAt and LastHeartbeat default
// to now when zero.
func (s *Store) AddMinion(rec *MinionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if rec.StartedAt.IsZero() {
		rec.StartedAt = now
	}
	if rec.LastHeartbeat.IsZero() {
		rec.LastHeartbeat = rec.StartedAt
	}
	if rec.Status == "" {
		rec.Status = StatusStarting
	}

	_, err := s.db.Exec(`
		INSERT INTO active_minions (minion_id, container_id, repo, issue_number, status,
			started_at, last_heartbeat, pr_number, error_message, revision_number)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.MinionID, rec.ContainerID, rec.Repo, rec.IssueNumber, string(rec.Status),
		rec.StartedAt.Format(time.RFC3339Nano), rec.LastHeartbeat.Format(time.RFC3339Nano),
		rec.PRNumber, rec.ErrorMessage, rec.RevisionNumber)
	if err != nil {
		return fmt.Errorf("add minion %s: %w", rec.MinionID, err)
	}
	return nil
}

// Update mutates fields of an active record. Supported keys: status,
// last_heartbeat, pr_number, error_message, container_id.
type Update struct {
	Status        *Status
	LastHeartbeat *time.Time
	PRNumber      *int
	ErrorMessage  *string
	ContainerID   *string
}

// UpdateMinion applies upd to the active record for minionID.
func (s *Store) UpdateMinion(minionID string, upd Update) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	set := []string{}
	args := []any{}
	if upd.Status != nil {
		set = append(set, "status = ?")
		args = append(args, string(*upd.Status))
	}
	if upd.LastHeartbeat != nil {
		set = append(set, "last_heartbeat = ?")
		args = append(args, upd.LastHeartbeat.UTC().Format(time.RFC3339Nano))
	}
	if upd.PRNumber != nil {
		set = append(set, "pr_number = ?")
		args = append(args, *upd.PRNumber)
	}
	if upd.ErrorMessage != nil {
		set = append(set, "error_message = ?")
		args = append(args, *upd.ErrorMessage)
	}
	if upd.ContainerID != nil {
		set = append(set, "container_id = ?")
		args = append(args, *upd.ContainerID)
	}
	if len(set) == 0 {
		return nil
	}
	args = append(args, minionID)

	res, err := s.db.Exec("UPDATE active_minions SET "+strings.Join(set, ", ")+" WHERE minion_id = ?", args...)
	if err != nil {
		return fmt.Errorf("update minion %s: %w", minionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update minion %s: %w", minionID, ErrNotFound)
	}
	return nil
}

const minionColumns = `minion_id, container_id, repo, issue_number, status,
	started_at, last_heartbeat, pr_number, error_message, revision_number`

func scanMinion(row interface{ Scan(...any) error }) (*MinionRecord, error) {
	var rec MinionRecord
	var started, heartbeat string
	err := row.Scan(&rec.MinionID, &rec.ContainerID, &rec.Repo, &rec.IssueNumber,
		(*string)(&rec.Status), &started, &heartbeat, &rec.PRNumber,
		&rec.ErrorMessage, &rec.RevisionNumber)
	if err != nil {
		return nil, err
	}
	if rec.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
		return nil, fmt.Errorf("parse started_at: %w", err)
	}
	if rec.LastHeartbeat, err = time.Parse(time.RFC3339Nano, heartbeat); err != nil {
		return nil, fmt.Errorf("parse last_heartbeat: %w", err)
	}
	return &rec, nil
}

// GetMinion returns the active record for minionID.
func (s *Store) GetMinion(minionID string) (*MinionRecord, error) {
	row := s.db.QueryRow(`SELECT `+minionColumns+` FROM active_minions WHERE minion_id = ?`, minionID)
	rec, err := scanMinion(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return rec, err
}

// GetMinionByIssue returns the active record working the given issue.
func (s *Store) GetMinionByIssue(repo string, issueNumber int) (*MinionRecord, error) {
	row := s.db.QueryRow(`SELECT `+minionColumns+` FROM active_minions WHERE repo = ? AND issue_number = ?`,
		repo, issueNumber)
	rec, err := scanMinion(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return rec, err
}

// GetActiveMinions returns all active records ordered by start time.
func (s *Store) GetActiveMinions() ([]MinionRecord, error) {
	rows, err := s.db.Query(`SELECT ` + minionColumns + ` FROM active_minions ORDER BY started_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("list active minions: %w", err)
	}
	defer rows.Close()

	var recs []MinionRecord
	for rows.Next() {
		rec, err := scanMinion(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, *rec)
	}
	return recs, rows.Err()
}

// ActiveCount returns the number of active records.
func (s *Store) ActiveCount() (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM active_minions`).Scan(&n)
	return n, err
}

// RecordCompletion moves minionID from the active set to work_history with the
// terminal status, in one transaction.
func (s *Store) RecordCompletion(minionID string, terminal Status, prNumber int, errMsg string, costUSD float64) error {
	if !terminal.Terminal() {
		return fmt.Errorf("record completion for %s: %q is not a terminal status", minionID, terminal)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin completion tx: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow(`SELECT `+minionColumns+` FROM active_minions WHERE minion_id = ?`, minionID)
	rec, err := scanMinion(row)
	if err == sql.ErrNoRows {
		return fmt.Errorf("record completion for %s: %w", minionID, ErrNotFound)
	}
	if err != nil {
		return err
	}

	rec.Status = terminal
	if prNumber != 0 {
		rec.PRNumber = prNumber
	}
	if errMsg != "" {
		rec.ErrorMessage = errMsg
	}

	_, err = tx.Exec(`
		INSERT OR REPLACE INTO work_history (minion_id, container_id, repo, issue_number, status,
			started_at, last_heartbeat, pr_number, error_message, revision_number, finished_at, cost_usd)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.MinionID, rec.ContainerID, rec.Repo, rec.IssueNumber, string(rec.Status),
		rec.StartedAt.Format(time.RFC3339Nano), rec.LastHeartbeat.Format(time.RFC3339Nano),
		rec.PRNumber, rec.ErrorMessage, rec.RevisionNumber,
		time.Now().UTC().Format(time.RFC3339Nano), costUSD)
	if err != nil {
		return fmt.Errorf("insert history for %s: %w", minionID, err)
	}
	if _, err := tx.Exec(`DELETE FROM active_minions WHERE minion_id = ?`, minionID); err != nil {
		return fmt.Errorf("remove active record for %s: %w", minionID, err)
	}
	return tx.Commit()
}

// RemoveMinion drops an active record without writing history.
func (s *Store) RemoveMinion(minionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM active_minions WHERE minion_id = ?`, minionID)
	if err != nil {
		return fmt.Errorf("remove minion %s: %w", minionID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// History returns finished runs, newest first, up to limit (0 = all).
func (s *Store) History(limit int) ([]HistoryRecord, error) {
	q := `SELECT minion_id, container_id, repo, issue_number, status, started_at,
		last_heartbeat, pr_number, error_message, revision_number, finished_at, cost_usd
		FROM work_history ORDER BY finished_at DESC`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query work history: %w", err)
	}
	defer rows.Close()

	var recs []HistoryRecord
	for rows.Next() {
		var rec HistoryRecord
		var started, heartbeat, finished string
		if err := rows.Scan(&rec.MinionID, &rec.ContainerID, &rec.Repo, &rec.IssueNumber,
			(*string)(&rec.Status), &started, &heartbeat, &rec.PRNumber,
			&rec.ErrorMessage, &rec.RevisionNumber, &finished, &rec.CostUSD); err != nil {
			return nil, err
		}
		if rec.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, err
		}
		if rec.LastHeartbeat, err = time.Parse(time.RFC3339Nano, heartbeat); err != nil {
			return nil, err
		}
		if rec.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// AppendEvaluation stores one supervisor verdict for a PR revision.
func (s *Store) AppendEvaluation(ev *Evaluation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(`
		INSERT INTO evaluations (repo, pr_number, revision_number, decision, confidence, summary, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		ev.Repo, ev.PRNumber, ev.RevisionNumber, ev.Decision, ev.Confidence,
		ev.Summary, ev.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("append evaluation for %s#%d: %w", ev.Repo, ev.PRNumber, err)
	}
	return nil
}

// Evaluations returns all verdicts for a PR in revision order.
func (s *Store) Evaluations(repo string, prNumber int) ([]Evaluation, error) {
	rows, err := s.db.Query(`
		SELECT repo, pr_number, revision_number, decision, confidence, summary, created_at
		FROM evaluations WHERE repo = ? AND pr_number = ? ORDER BY revision_number ASC, id ASC`,
		repo, prNumber)
	if err != nil {
		return nil, fmt.Errorf("query evaluations: %w", err)
	}
	defer rows.Close()

	var evs []Evaluation
	for rows.Next() {
		var ev Evaluation
		var created string
		if err := rows.Scan(&ev.Repo, &ev.PRNumber, &ev.RevisionNumber, &ev.Decision,
			&ev.Confidence, &ev.Summary, &created); err != nil {
			return nil, err
		}
		if ev.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, err
		}
		evs = append(evs, ev)
	}
	return evs, rows.Err()
}
