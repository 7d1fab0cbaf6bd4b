// Package store holds users, documents and query logs: the relational side
// of the platform. Implementations live in the subpackages and are chosen
// by RELATIONAL_DB.
package store

import (
	"context"
	"time"

	"docqa-platform/internal/apperrors"
	"docqa-platform/models"
)

// Store is implemented by mongostore, sqlstore and memstore.
type Store interface {
	GetUser(ctx context.Context, userID string) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error
	// EnsureUser returns the user, creating an active one on first sight.
	EnsureUser(ctx context.Context, userID, email string) (*models.User, error)
	ListActiveUsers(ctx context.Context) ([]models.User, error)
	// ListInactiveUsers returns active users whose last query day is
	// before cutoffDay. Users that never asked anything are not included.
	ListInactiveUsers(ctx context.Context, cutoffDay string) ([]models.User, error)

	// CheckQueryQuota resets a stale daily counter and returns a
	// RateLimitError once limit queries were recorded today.
	CheckQueryQuota(ctx context.Context, userID string, limit int, now time.Time) error
	RecordQuery(ctx context.Context, userID string, now time.Time) error
	ResetStaleQueryCounters(ctx context.Context, now time.Time) (int64, error)

	// CreateDocument returns apperrors.ErrDuplicate when the user already
	// has a document with the same content hash.
	CreateDocument(ctx context.Context, doc *models.Document) error
	// FindDocumentByHash returns nil when no document matches.
	FindDocumentByHash(ctx context.Context, userID, contentHash string) (*models.Document, error)
	GetDocument(ctx context.Context, userID, documentID string) (*models.Document, error)
	ListDocuments(ctx context.Context, userID string) ([]models.Document, error)
	DeleteDocument(ctx context.Context, userID, documentID string) error
	DeleteAllDocuments(ctx context.Context, userID string) (int64, error)
	CountDocuments(ctx context.Context, userID string) (int64, error)
	DocumentStats(ctx context.Context, userID string, since time.Time) (DocumentStats, error)
	SetDocumentCount(ctx context.Context, userID string, count int) error

	AddQueryLog(ctx context.Context, entry *models.QueryLog) error
	// ListQueryLogs returns logs newest first. A zero since means all
	// time and limit <= 0 means no limit.
	ListQueryLogs(ctx context.Context, userID string, since time.Time, limit int) ([]models.QueryLog, error)
	CountQueryLogs(ctx context.Context, userID string) (int64, error)

	Close(ctx context.Context) error
}

type DocumentStats struct {
	Total      int64 `json:"total"`
	Recent     int64 `json:"recent"`
	TotalBytes int64 `json:"total_bytes"`
}

// Day formats now as the UTC calendar day used by the query counters.
func Day(now time.Time) string {
	return now.UTC().Format(models.DateLayout)
}

// UntilNextDay is how long a rate-limited caller has to wait.
func UntilNextDay(now time.Time) time.Duration {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	return next.Sub(now)
}

// QuotaError builds the error returned when the daily limit is reached.
func QuotaError(limit int, now time.Time) error {
	return apperrors.RateLimited(limit, UntilNextDay(now))
}
