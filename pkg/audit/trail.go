package audit

import (
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/nebulus-ai/nebulus/pkg/masking"
)

// Trail is the append-only audit log. Single writer, concurrent readers.
type Trail struct {
	mu     sync.Mutex
	db     *sql.DB
	signer *Signer
	masker *masking.Masker

	// lastHash caches the newest entry's hash to avoid a query per append.
	lastHash string
}

// Config configures the trail.
type Config struct {
	// DataDir holds the audit database and optional signing key.
	DataDir string `yaml:"data_dir"`
	// Sign enables signature generation, creating a key if none exists.
	Sign bool `yaml:"sign"`
}

// Open creates or opens the audit trail in cfg.DataDir.
func Open(cfg Config) (*Trail, error) {
	dbPath := filepath.Join(cfg.DataDir, "audit.db")
	dsn := dbPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	db.SetMaxOpenConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS audit_log (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		event TEXT NOT NULL,
		task_id TEXT NOT NULL,
		timestamp TEXT NOT NULL,
		data TEXT NOT NULL,
		reasoning TEXT NOT NULL,
		previous_hash TEXT NOT NULL,
		signature TEXT NOT NULL,
		entry_hash TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_audit_task ON audit_log(task_id);
	CREATE INDEX IF NOT EXISTS idx_audit_event ON audit_log(event);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create audit schema: %w", err)
	}

	signer, err := NewSigner(cfg.DataDir, cfg.Sign)
	if err != nil {
		db.Close()
		return nil, err
	}

	t := &Trail{db: db, signer: signer, masker: masking.New()}
	if err := t.loadLastHash(); err != nil {
		db.Close()
		return nil, err
	}
	return t, nil
}

// Close releases the database handle.
func (t *Trail) Close() error { return t.db.Close() }

// SigningEnabled reports whether entries are being signed.
func (t *Trail) SigningEnabled() bool { return t.signer.Enabled() }

func (t *Trail) loadLastHash() error {
	err := t.db.QueryRow(`SELECT entry_hash FROM audit_log ORDER BY seq DESC LIMIT 1`).Scan(&t.lastHash)
	if err == sql.ErrNoRows {
		t.lastHash = ""
		return nil
	}
	if err != nil {
		return fmt.Errorf("load audit chain tip: %w", err)
	}
	return nil
}

// Append records one decision. The entry is chained to the newest prior
// entry, hashed, optionally signed, and persisted. Returns the stored entry.
// Credentials in reasoning or data are redacted before hashing; the chain
// makes later scrubbing impossible, so secrets must never enter it.
func (t *Trail) Append(event EventType, taskID, reasoning string, data map[string]any) (*Entry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	reasoning = t.masker.Apply(reasoning)
	if data == nil {
		data = map[string]any{}
	} else {
		data = t.masker.ApplyMap(data)
	}
	entry := &Entry{
		ID:           ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String(),
		Event:        event,
		TaskID:       taskID,
		Timestamp:    time.Now().UTC(),
		Data:         data,
		Reasoning:    reasoning,
		PreviousHash: t.lastHash,
	}

	hash, err := ComputeEntryHash(entry)
	if err != nil {
		return nil, err
	}
	entry.EntryHash = hash
	entry.Signature = t.signer.Sign(hash)

	dataJSON, err := json.Marshal(entry.Data)
	if err != nil {
		return nil, fmt.Errorf("marshal audit data: %w", err)
	}

	_, err = t.db.Exec(`
		INSERT INTO audit_log (id, event, task_id, timestamp, data, reasoning, previous_hash, signature, entry_hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, string(entry.Event), entry.TaskID,
		entry.Timestamp.Format(time.RFC3339Nano), string(dataJSON),
		entry.Reasoning, entry.PreviousHash, entry.Signature, entry.EntryHash)
	if err != nil {
		return nil, fmt.Errorf("insert audit entry: %w", err)
	}

	t.lastHash = entry.EntryHash
	return entry, nil
}

// Entries returns all entries in insertion order, optionally filtered by task.
func (t *Trail) Entries(taskID string) ([]Entry, error) {
	q := `SELECT id, event, task_id, timestamp, data, reasoning, previous_hash, signature, entry_hash
	      FROM audit_log`
	args := []any{}
	if taskID != "" {
		q += ` WHERE task_id = ?`
		args = append(args, taskID)
	}
	q += ` ORDER BY seq ASC`

	rows, err := t.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var ts, dataJSON string
		if err := rows.Scan(&e.ID, (*string)(&e.Event), &e.TaskID, &ts, &dataJSON,
			&e.Reasoning, &e.PreviousHash, &e.Signature, &e.EntryHash); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if e.Timestamp, err = time.Parse(time.RFC3339Nano, ts); err != nil {
			return nil, fmt.Errorf("parse audit timestamp: %w", err)
		}
		if err := json.Unmarshal([]byte(dataJSON), &e.Data); err != nil {
			return nil, fmt.Errorf("decode audit data: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// VerifyIntegrity recomputes every hash in insertion order and checks the
// previous-hash chain and signatures. Returns validity plus one diagnostic
// per break, naming the first deviation at each entry.
func (t *Trail) VerifyIntegrity() (bool, []string, error) {
	entries, err := t.Entries("")
	if err != nil {
		return false, nil, err
	}

	issues := []string{}
	prevHash := ""
	for i, e := range entries {
		if e.PreviousHash != prevHash {
			issues = append(issues, fmt.Sprintf(
				"entry %d (%s): previous_hash %q does not match prior entry hash %q",
				i, e.ID, e.PreviousHash, prevHash))
		}
		recomputed, hashErr := ComputeEntryHash(&e)
		if hashErr != nil {
			issues = append(issues, fmt.Sprintf("entry %d (%s): hash recompute failed: %v", i, e.ID, hashErr))
		} else if recomputed != e.EntryHash {
			issues = append(issues, fmt.Sprintf(
				"entry %d (%s): stored hash %q does not match recomputed %q",
				i, e.ID, e.EntryHash, recomputed))
		}
		if !t.signer.Verify(e.EntryHash, e.Signature) {
			issues = append(issues, fmt.Sprintf("entry %d (%s): signature verification failed", i, e.ID))
		}
		prevHash = e.EntryHash
	}
	return len(issues) == 0, issues, nil
}

// ExportLog returns all entries (optionally one task's) with the integrity
// status of the full trail.
func (t *Trail) ExportLog(taskID string) (*Export, error) {
	valid, issues, err := t.VerifyIntegrity()
	if err != nil {
		return nil, err
	}
	entries, err := t.Entries(taskID)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []Entry{}
	}
	return &Export{
		ExportedAt:      time.Now().UTC(),
		IntegrityValid:  valid,
		IntegrityIssues: issues,
		LogCount:        len(entries),
		Entries:         entries,
	}, nil
}
