package failure

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const maxErrorMessageLen = 500

// Record is one persisted tool failure.
type Record struct {
	ID           string            `json:"id"`
	SessionID    string            `json:"session_id"`
	Timestamp    time.Time         `json:"timestamp"`
	ToolName     string            `json:"tool_name"`
	ErrorType    ErrorType         `json:"error_type"`
	ErrorMessage string            `json:"error_message"`
	Arguments    map[string]string `json:"arguments,omitempty"`
	Resolved     bool              `json:"resolved"`
}

// Memory is the persistent failure store. Single writer, concurrent readers.
type Memory struct {
	mu sync.Mutex
	db *sql.DB
}

// Open creates or opens the failure-memory database inside dataDir.
func Open(dataDir string) (*Memory, error) {
	dbPath := filepath.Join(dataDir, "failures.db")
	dsn := dbPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open failure database: %w", err)
	}
	db.SetMaxOpenConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS failures (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		tool_name TEXT NOT NULL,
		error_type TEXT NOT NULL,
		error_message TEXT NOT NULL,
		arguments TEXT,
		resolved INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_failures_tool_type ON failures(tool_name, error_type);
	CREATE INDEX IF NOT EXISTS idx_failures_session ON failures(session_id);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create failure schema: %w", err)
	}
	return &Memory{db: db}, nil
}

// Close releases the database handle.
func (m *Memory) Close() error { return m.db.Close() }

// RecordFailure classifies and persists a tool failure. Arguments are
// sanitized to the safe-key whitelist and the message truncated to 500 chars.
func (m *Memory) RecordFailure(sessionID, toolName, errorMessage string, arguments map[string]any) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := &Record{
		ID:           uuid.NewString(),
		SessionID:    sessionID,
		Timestamp:    time.Now().UTC(),
		ToolName:     toolName,
		ErrorType:    Classify(errorMessage),
		ErrorMessage: truncate(errorMessage, maxErrorMessageLen),
		Arguments:    SanitizeArguments(arguments),
	}

	argJSON, err := json.Marshal(rec.Arguments)
	if err != nil {
		argJSON = []byte("{}")
	}

	_, err = m.db.Exec(`
		INSERT INTO failures (id, session_id, timestamp, tool_name, error_type, error_message, arguments, resolved)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0)`,
		rec.ID, rec.SessionID, rec.Timestamp.Unix(), rec.ToolName,
		string(rec.ErrorType), rec.ErrorMessage, string(argJSON))
	if err != nil {
		return nil, fmt.Errorf("insert failure record: %w", err)
	}
	return rec, nil
}

// MarkResolved marks the most recent unresolved record matching the key as
// resolved. Returns false if no unresolved record exists.
func (m *Memory) MarkResolved(toolName string, errType ErrorType) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res, err := m.db.Exec(`
		UPDATE failures SET resolved = 1
		WHERE id = (
			SELECT id FROM failures
			WHERE tool_name = ? AND error_type = ? AND resolved = 0
			ORDER BY timestamp DESC LIMIT 1
		)`, toolName, string(errType))
	if err != nil {
		return false, fmt.Errorf("mark resolved: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// query returns records, optionally filtered to a tool-name set.
func (m *Memory) query(toolNames []string) ([]Record, error) {
	q := `SELECT id, session_id, timestamp, tool_name, error_type, error_message, arguments, resolved FROM failures`
	args := []any{}
	if len(toolNames) > 0 {
		q += " WHERE tool_name IN (?" + strings.Repeat(",?", len(toolNames)-1) + ")"
		for _, n := range toolNames {
			args = append(args, n)
		}
	}
	q += " ORDER BY timestamp ASC"

	rows, err := m.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query failures: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var ts int64
		var resolved int
		var argJSON sql.NullString
		if err := rows.Scan(&rec.ID, &rec.SessionID, &ts, &rec.ToolName,
			(*string)(&rec.ErrorType), &rec.ErrorMessage, &argJSON, &resolved); err != nil {
			return nil, fmt.Errorf("scan failure record: %w", err)
		}
		rec.Timestamp = time.Unix(ts, 0).UTC()
		rec.Resolved = resolved == 1
		if argJSON.Valid && argJSON.String != "" {
			_ = json.Unmarshal([]byte(argJSON.String), &rec.Arguments)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
