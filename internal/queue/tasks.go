package queue

import (
	"time"

	"github.com/hibiken/asynq"

	"docqa-platform/internal/config"
	"docqa-platform/services"
)

// Task types
const (
	TypeDocumentIngest     = "document:ingest"
	TypeDocumentDelete     = "document:delete"
	TypeDocumentBulkDelete = "document:bulk_delete"

	TypeQAAnswer  = "qa:answer"
	TypeQABatch   = "qa:batch"
	TypeQASuggest = "qa:suggest"
	TypeQAAnalyze = "qa:analyze"

	TypeUserUpdateStats     = "user:update_stats"
	TypeUserCleanupExpired  = "user:cleanup_expired"
	TypeUserCleanupInactive = "user:cleanup_inactive"
	TypeUserReport          = "user:report"
	TypeUserExport          = "user:export"
	TypeUserNotify          = "user:notify"
	TypeUserBulkOperation   = "user:bulk_operation"

	TypeMonitorCleanup = "monitor:cleanup"
)

// Queues
const (
	QueueCritical  = "critical"
	QueueDocuments = "document_processing"
	QueueQA        = "question_answering"
	QueueUsers     = "user_management"
)

const (
	PriorityHigh   = "high"
	PriorityNormal = "normal"

	// SystemUser owns scheduled maintenance jobs.
	SystemUser = "system"
)

// QueueWeights is the asynq server queue configuration.
var QueueWeights = map[string]int{
	QueueCritical:  6,
	QueueDocuments: 3,
	QueueQA:        3,
	QueueUsers:     1,
}

// Policy is the retry and timeout contract of one task type.
type Policy struct {
	MaxRetry   int
	Timeout    time.Duration
	RetryDelay time.Duration
	Queue      string
}

type Policies map[string]Policy

// DefaultPolicies derives the per type policies from the job timeouts in
// cfg.
func DefaultPolicies(cfg *config.Config) Policies {
	ingest := cfg.DocumentProcessingTimeout
	qa := cfg.QATaskTimeout
	user := cfg.UserTaskTimeout

	deletion := Policy{MaxRetry: 2, Timeout: user, RetryDelay: 30 * time.Second, Queue: QueueDocuments}
	answer := Policy{MaxRetry: 2, Timeout: qa, RetryDelay: 30 * time.Second, Queue: QueueQA}
	maintenance := Policy{MaxRetry: 1, Timeout: user, RetryDelay: 60 * time.Second, Queue: QueueUsers}

	return Policies{
		TypeDocumentIngest:     {MaxRetry: 3, Timeout: ingest, RetryDelay: 60 * time.Second, Queue: QueueDocuments},
		TypeDocumentDelete:     deletion,
		TypeDocumentBulkDelete: deletion,

		TypeQAAnswer:  answer,
		TypeQABatch:   {MaxRetry: 0, Timeout: 2 * qa, Queue: QueueQA},
		TypeQASuggest: answer,
		TypeQAAnalyze: answer,

		TypeUserUpdateStats:     maintenance,
		TypeUserCleanupExpired:  maintenance,
		TypeUserCleanupInactive: maintenance,
		TypeUserReport:          maintenance,
		TypeUserExport:          maintenance,
		TypeUserNotify:          maintenance,
		TypeUserBulkOperation:   {MaxRetry: 1, Timeout: 5 * user, RetryDelay: 60 * time.Second, Queue: QueueUsers},

		TypeMonitorCleanup: maintenance,
	}
}

// RetryDelay applies the fixed delay of the task's policy.
func (p Policies) RetryDelay(n int, err error, t *asynq.Task) time.Duration {
	if policy, ok := p[t.Type()]; ok && policy.RetryDelay > 0 {
		return policy.RetryDelay
	}
	return asynq.DefaultRetryDelayFunc(n, err, t)
}

// Payloads

type IngestPayload struct {
	UserID   string `json:"user_id"`
	Filename string `json:"filename"`
	Content  []byte `json:"content"`
}

type DeletePayload struct {
	UserID     string `json:"user_id"`
	DocumentID string `json:"document_id"`
}

type BulkDeletePayload struct {
	UserID      string   `json:"user_id"`
	DocumentIDs []string `json:"document_ids"`
}

type AnswerPayload struct {
	UserID   string   `json:"user_id"`
	Question string   `json:"question"`
	Context  []string `json:"context,omitempty"`
	Priority string   `json:"priority,omitempty"`
}

type BatchPayload struct {
	UserID    string   `json:"user_id"`
	Questions []string `json:"questions"`
}

type SuggestPayload struct {
	UserID     string `json:"user_id"`
	DocumentID string `json:"document_id,omitempty"`
}

// DaysPayload serves every task that only needs a user and a window.
type DaysPayload struct {
	UserID string `json:"user_id,omitempty"`
	Days   int    `json:"days,omitempty"`
}

type ExportPayload struct {
	UserID string `json:"user_id"`
}

type NotifyPayload = services.NotificationRequest

type BulkOperationPayload struct {
	OperationType string         `json:"operation_type"`
	UserIDs       []string       `json:"user_ids"`
	OperationData map[string]any `json:"operation_data,omitempty"`
}
