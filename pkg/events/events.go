// Package events defines the callback protocol between a minion and the
// Overlord. A minion POSTs one JSON payload per lifecycle event; the Overlord
// feeds each payload into its scheduler queue.
package events

import "time"

// Type names a minion lifecycle event.
type Type string

const (
	TypeHeartbeat Type = "heartbeat"
	TypeProgress  Type = "progress"
	TypeComplete  Type = "complete"
	TypeError     Type = "error"
	TypeQuestion  Type = "question"
)

// Payload is the wire form of one callback event.
type Payload struct {
	MinionID  string         `json:"minion_id"`
	Event     Type           `json:"event"`
	Issue     int            `json:"issue"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Usage carries a run's token consumption so the Overlord can record an
// approximate cost in work history.
type Usage struct {
	TokensIn  int    `json:"tokens_in"`
	TokensOut int    `json:"tokens_out"`
	Model     string `json:"model"`
}

// CompleteData builds the data map for a complete event.
func CompleteData(prNumber int, prURL, branch, reviewSummary string, usage Usage) map[string]any {
	data := map[string]any{
		"pr_number": prNumber,
		"pr_url":    prURL,
		"branch":    branch,
	}
	if reviewSummary != "" {
		data["review_summary"] = reviewSummary
	}
	if usage.TokensIn > 0 || usage.TokensOut > 0 {
		data["tokens_in"] = usage.TokensIn
		data["tokens_out"] = usage.TokensOut
		data["model"] = usage.Model
	}
	return data
}

// ErrorData builds the data map for an error event.
func ErrorData(errorType, details string) map[string]any {
	data := map[string]any{"error_type": errorType}
	if details != "" {
		data["details"] = details
	}
	return data
}

// QuestionData builds the data map for a question event.
func QuestionData(blockerType, questionID string) map[string]any {
	return map[string]any{
		"blocker_type": blockerType,
		"question_id":  questionID,
	}
}

// AnswerReply is the response shape of the Overlord's answer endpoint.
type AnswerReply struct {
	Answered bool   `json:"answered"`
	Answer   string `json:"answer,omitempty"`
}

// IntField reads an integer out of a decoded JSON data map, tolerating the
// float64 that encoding/json produces for numbers.
func IntField(data map[string]any, key string) (int, bool) {
	v, ok := data[key]
	if !ok {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return int(n), true
	case int:
		return n, true
	}
	return 0, false
}

// StringField reads a string out of a decoded JSON data map.
func StringField(data map[string]any, key string) string {
	if s, ok := data[key].(string); ok {
		return s
	}
	return ""
}
