package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"
)

// hashEnvelope fixes the key order of the hashed fields. The signature and
// entry_hash are excluded from hashing. Map values inside Data are serialized
// with sorted keys by encoding/json, so the canonical form is deterministic.
type hashEnvelope struct {
	ID           string         `json:"id"`
	Event        EventType      `json:"event"`
	TaskID       string         `json:"task_id"`
	Timestamp    string         `json:"timestamp"`
	Data         map[string]any `json:"data"`
	Reasoning    string         `json:"reasoning"`
	PreviousHash string         `json:"previous_hash"`
}

// ComputeEntryHash returns the SHA-256 of the canonical JSON of the entry
// minus its signature and entry hash. Timestamps hash at RFC3339Nano in UTC.
func ComputeEntryHash(e *Entry) (string, error) {
	canonical, err := json.Marshal(hashEnvelope{
		ID:           e.ID,
		Event:        e.Event,
		TaskID:       e.TaskID,
		Timestamp:    e.Timestamp.UTC().Format(time.RFC3339Nano),
		Data:         e.Data,
		Reasoning:    e.Reasoning,
		PreviousHash: e.PreviousHash,
	})
	if err != nil {
		return "", fmt.Errorf("canonicalize audit entry: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
