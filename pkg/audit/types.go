// Package audit keeps the tamper-evident semantic log of every orchestration
// decision. Entries are hash-chained: each entry's hash covers its content
// plus the previous entry's hash, so any later edit breaks the chain.
package audit

import "time"

// EventType names an orchestration decision.
type EventType string

const (
	EventTaskReceived       EventType = "task_received"
	EventTaskDispatched     EventType = "task_dispatched"
	EventWorkerResult       EventType = "worker_result"
	EventEvaluationComplete EventType = "evaluation_complete"
	EventTaskComplete       EventType = "task_complete"
	EventTaskAbandoned      EventType = "task_abandoned"
	EventRevisionRequested  EventType = "revision_requested"
)

// Entry is one semantic log record. Append-only.
type Entry struct {
	ID        string         `json:"id"`
	Event     EventType      `json:"event"`
	TaskID    string         `json:"task_id"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
	// Reasoning is the supervisor's explanation for the decision.
	Reasoning    string `json:"reasoning"`
	PreviousHash string `json:"previous_hash"`
	Signature    string `json:"signature"`
	EntryHash    string `json:"entry_hash"`
}

// Export is the serialized form of the whole trail plus its integrity status.
type Export struct {
	ExportedAt      time.Time `json:"exported_at"`
	IntegrityValid  bool      `json:"integrity_valid"`
	IntegrityIssues []string  `json:"integrity_issues"`
	LogCount        int       `json:"log_count"`
	Entries         []Entry   `json:"entries"`
}
