package sidestore

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// SchemaVersion is written into every record. Records with a newer
// version are refused rather than guessed at.
const SchemaVersion = 1

var ErrUnsupportedSchema = errors.New("unsupported record schema version")

type JobState string

const (
	StateQueued     JobState = "queued"
	StateProcessing JobState = "processing"
	StateSucceeded  JobState = "succeeded"
	StateFailed     JobState = "failed"
	StateCancelled  JobState = "cancelled"
)

// Terminal reports whether no further transitions are expected.
func (s JobState) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// JobMeta is the side-store view of one job.
type JobMeta struct {
	SchemaVersion int             `json:"schema_version"`
	TaskID        string          `json:"task_id"`
	UserID        string          `json:"user_id"`
	TaskType      string          `json:"task_type"`
	Queue         string          `json:"queue"`
	Params        json.RawMessage `json:"params,omitempty"`
	State         JobState        `json:"state"`
	Progress      int             `json:"progress"`
	Message       string          `json:"message,omitempty"`
	Result        json.RawMessage `json:"result,omitempty"`
	Error         string          `json:"error,omitempty"`
	Retried       int             `json:"retried"`
	RetryOf       string          `json:"retry_of,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}

type Notification struct {
	SchemaVersion int            `json:"schema_version"`
	ID            string         `json:"id"`
	UserID        string         `json:"user_id"`
	Type          string         `json:"type"`
	Message       string         `json:"message"`
	Data          map[string]any `json:"data"`
	Timestamp     time.Time      `json:"timestamp"`
	Read          bool           `json:"read"`
}

func decodeJobMeta(raw []byte) (*JobMeta, error) {
	var meta JobMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("decode job meta: %w", err)
	}
	if meta.SchemaVersion > SchemaVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedSchema, meta.SchemaVersion)
	}
	return &meta, nil
}

func decodeNotification(raw []byte) (*Notification, error) {
	var n Notification
	if err := json.Unmarshal(raw, &n); err != nil {
		return nil, fmt.Errorf("decode notification: %w", err)
	}
	if n.SchemaVersion > SchemaVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedSchema, n.SchemaVersion)
	}
	return &n, nil
}
