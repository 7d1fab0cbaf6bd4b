package services

import (
	"context"
	"fmt"
	"math"
	"time"

	"docqa-platform/internal/apperrors"
	"docqa-platform/internal/broker"
	"docqa-platform/internal/config"
	"docqa-platform/internal/logger"
	"docqa-platform/internal/sidestore"
	"docqa-platform/internal/store"
	"docqa-platform/models"
)

const (
	DefaultReportDays   = 30
	DefaultInactiveDays = 90

	// unexpiredKeyTTL is applied to side-store keys found without a TTL.
	unexpiredKeyTTL = time.Hour

	OperationGenerateReport   = "generate_report"
	OperationSendNotification = "send_notification"
)

type StatsUpdateResult struct {
	Status        string `json:"status"`
	UpdatedUsers  int    `json:"updated_users"`
	ResetCounters int64  `json:"reset_counters"`
	Message       string `json:"message"`
}

type KeySweepResult struct {
	Status    string `json:"status"`
	FixedKeys int    `json:"fixed_keys"`
	Message   string `json:"message"`
}

type InactiveUsersResult struct {
	Status             string   `json:"status"`
	InactiveUsersFound int      `json:"inactive_users_found"`
	CleanedCount       int      `json:"cleaned_count"`
	UserIDs            []string `json:"user_ids,omitempty"`
	CutoffDate         string   `json:"cutoff_date"`
}

type DocumentUsage struct {
	Total     int64   `json:"total"`
	Recent    int64   `json:"recent"`
	StorageMB float64 `json:"storage_mb"`
}

type QueryUsage struct {
	Total             int64          `json:"total"`
	Recent            int            `json:"recent"`
	AvgResponseTimeMS float64        `json:"avg_response_time_ms"`
	DailyActivity     map[string]int `json:"daily_activity"`
}

type UsageLimits struct {
	MaxDocuments       int   `json:"max_documents"`
	MaxQueriesPerDay   int   `json:"max_queries_per_day"`
	DocumentsRemaining int64 `json:"documents_remaining"`
}

type UserReport struct {
	UserID           string        `json:"user_id"`
	Email            string        `json:"email,omitempty"`
	MemberSince      time.Time     `json:"member_since"`
	ReportPeriodDays int           `json:"report_period_days"`
	Documents        DocumentUsage `json:"documents"`
	Queries          QueryUsage    `json:"queries"`
	Limits           UsageLimits   `json:"limits"`
	GeneratedAt      time.Time     `json:"generated_at"`
}

type ReportResult struct {
	Status string      `json:"status"`
	Cached bool        `json:"cached"`
	Report *UserReport `json:"report"`
}

type UserExport struct {
	UserInfo        models.User           `json:"user_info"`
	Documents       []models.DocumentInfo `json:"documents"`
	Queries         []models.QueryLogInfo `json:"queries"`
	ExportTimestamp time.Time             `json:"export_timestamp"`
}

type ExportSummary struct {
	Documents    int     `json:"documents"`
	Queries      int     `json:"queries"`
	ExportSizeMB float64 `json:"export_size_mb"`
}

type ExportResult struct {
	Status      string        `json:"status"`
	ExportKey   string        `json:"export_key"`
	DataSummary ExportSummary `json:"data_summary"`
}

type NotificationResult struct {
	Status          string `json:"status"`
	NotificationKey string `json:"notification_key"`
	Message         string `json:"message"`
}

type NotificationRequest struct {
	UserID  string         `json:"user_id"`
	Type    string         `json:"type"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

type BulkItemResult struct {
	UserID string `json:"user_id"`
	Status string `json:"status"`
	Result any    `json:"result,omitempty"`
	Error  string `json:"error,omitempty"`
}

type BulkUserOperationResult struct {
	Status        string           `json:"status"`
	OperationType string           `json:"operation_type"`
	TotalUsers    int              `json:"total_users"`
	Results       []BulkItemResult `json:"results"`
}

// MaintenanceService holds the scheduled and per-user housekeeping jobs.
// Everything here is safe to run again after a partial failure.
type MaintenanceService struct {
	store     store.Store
	side      *sidestore.Store
	publisher broker.Publisher
	cfg       *config.Config
	now       func() time.Time
}

func NewMaintenanceService(st store.Store, side *sidestore.Store, publisher broker.Publisher, cfg *config.Config) *MaintenanceService {
	if publisher == nil {
		publisher = broker.Nop{}
	}
	return &MaintenanceService{
		store:     st,
		side:      side,
		publisher: publisher,
		cfg:       cfg,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// UpdateUserStats recomputes cached document counts and zeroes daily
// counters left over from previous days.
func (s *MaintenanceService) UpdateUserStats(ctx context.Context, progress ProgressFunc) (*StatsUpdateResult, error) {
	if progress == nil {
		progress = noProgress
	}
	users, err := s.store.ListActiveUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active users: %w", err)
	}

	updated := 0
	for i, u := range users {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		progress(ctx, i*100/len(users), fmt.Sprintf("Updating user %d/%d", i+1, len(users)))

		count, err := s.store.CountDocuments(ctx, u.ID)
		if err != nil {
			logger.Warn("Failed to count documents", "user_id", u.ID, "error", err)
			continue
		}
		if err := s.store.SetDocumentCount(ctx, u.ID, int(count)); err != nil {
			logger.Warn("Failed to update document count", "user_id", u.ID, "error", err)
			continue
		}
		updated++
	}

	reset, err := s.store.ResetStaleQueryCounters(ctx, s.now())
	if err != nil {
		return nil, fmt.Errorf("reset query counters: %w", err)
	}

	progress(ctx, 100, "User stats updated")
	return &StatsUpdateResult{
		Status:        StatusSuccess,
		UpdatedUsers:  updated,
		ResetCounters: reset,
		Message:       fmt.Sprintf("Updated stats for %d users", updated),
	}, nil
}

// CleanupExpiredKeys gives side-store keys that lost their expiry a short
// one so nothing lives forever.
func (s *MaintenanceService) CleanupExpiredKeys(ctx context.Context) (*KeySweepResult, error) {
	fixed, err := s.side.SweepExpired(ctx, sidestore.SweepPatterns, unexpiredKeyTTL)
	if err != nil {
		return nil, err
	}
	return &KeySweepResult{
		Status:    StatusSuccess,
		FixedKeys: fixed,
		Message:   fmt.Sprintf("Applied expiry to %d keys", fixed),
	}, nil
}

// CleanupInactiveUsers finds active users idle for longer than days. They
// are only counted and reported.
func (s *MaintenanceService) CleanupInactiveUsers(ctx context.Context, days int, progress ProgressFunc) (*InactiveUsersResult, error) {
	if progress == nil {
		progress = noProgress
	}
	if days <= 0 {
		days = DefaultInactiveDays
	}
	cutoff := s.now().AddDate(0, 0, -days)
	users, err := s.store.ListInactiveUsers(ctx, store.Day(cutoff))
	if err != nil {
		return nil, fmt.Errorf("list inactive users: %w", err)
	}

	res := &InactiveUsersResult{
		Status:             StatusSuccess,
		InactiveUsersFound: len(users),
		CutoffDate:         cutoff.Format(time.RFC3339),
	}
	for i, u := range users {
		progress(ctx, i*100/len(users), fmt.Sprintf("Cleaning up user %d/%d", i+1, len(users)))
		logger.Info("Inactive user", "user_id", u.ID, "last_query_date", u.LastQueryDate)
		res.UserIDs = append(res.UserIDs, u.ID)
		res.CleanedCount++
	}
	progress(ctx, 100, fmt.Sprintf("Found %d inactive users", len(users)))
	return res, nil
}

// CachedUserReport returns a report generated within the last hour, if any.
func (s *MaintenanceService) CachedUserReport(ctx context.Context, userID string, days int) (*UserReport, error) {
	if days <= 0 {
		days = DefaultReportDays
	}
	var report UserReport
	ok, err := s.side.GetReport(ctx, userID, days, &report)
	if err != nil || !ok {
		return nil, err
	}
	return &report, nil
}

// GenerateUserReport builds the activity report and caches it for an hour.
func (s *MaintenanceService) GenerateUserReport(ctx context.Context, userID string, days int) (*ReportResult, error) {
	if days <= 0 {
		days = DefaultReportDays
	}
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	since := now.AddDate(0, 0, -days)
	docs, err := s.store.DocumentStats(ctx, userID, since)
	if err != nil {
		return nil, fmt.Errorf("document stats: %w", err)
	}
	totalQueries, err := s.store.CountQueryLogs(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("count query logs: %w", err)
	}
	recent, err := s.store.ListQueryLogs(ctx, userID, since, 0)
	if err != nil {
		return nil, fmt.Errorf("list query logs: %w", err)
	}

	daily := make(map[string]int)
	var totalMS int64
	for _, q := range recent {
		totalMS += q.ResponseTimeMS
		daily[store.Day(q.CreatedAt)]++
	}
	avg := 0.0
	if len(recent) > 0 {
		avg = round2(float64(totalMS) / float64(len(recent)))
	}

	report := &UserReport{
		UserID:           user.ID,
		Email:            user.Email,
		MemberSince:      user.CreatedAt,
		ReportPeriodDays: days,
		Documents: DocumentUsage{
			Total:     docs.Total,
			Recent:    docs.Recent,
			StorageMB: round2(float64(docs.TotalBytes) / (1024 * 1024)),
		},
		Queries: QueryUsage{
			Total:             totalQueries,
			Recent:            len(recent),
			AvgResponseTimeMS: avg,
			DailyActivity:     daily,
		},
		Limits: UsageLimits{
			MaxDocuments:       s.cfg.MaxDocumentsPerUser,
			MaxQueriesPerDay:   s.cfg.MaxQueriesPerDay,
			DocumentsRemaining: int64(s.cfg.MaxDocumentsPerUser) - docs.Total,
		},
		GeneratedAt: now,
	}

	if err := s.side.CacheReport(ctx, userID, days, report); err != nil {
		logger.Warn("Failed to cache user report", "user_id", userID, "error", err)
	}
	return &ReportResult{Status: StatusSuccess, Report: report}, nil
}

// ExportUserData snapshots the user's records into the side store for a
// day.
func (s *MaintenanceService) ExportUserData(ctx context.Context, userID string, progress ProgressFunc) (*ExportResult, error) {
	if progress == nil {
		progress = noProgress
	}
	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	progress(ctx, 25, "Collecting user data")
	docs, err := s.store.ListDocuments(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	logs, err := s.store.ListQueryLogs(ctx, userID, time.Time{}, 0)
	if err != nil {
		return nil, fmt.Errorf("list query logs: %w", err)
	}

	progress(ctx, 75, "Formatting export data")
	export := UserExport{
		UserInfo:        *user,
		Documents:       make([]models.DocumentInfo, 0, len(docs)),
		Queries:         make([]models.QueryLogInfo, 0, len(logs)),
		ExportTimestamp: s.now(),
	}
	for i := range docs {
		export.Documents = append(export.Documents, docs[i].Info())
	}
	for i := len(logs) - 1; i >= 0; i-- {
		export.Queries = append(export.Queries, logs[i].Info())
	}

	key, size, err := s.side.StoreExport(ctx, userID, export)
	if err != nil {
		return nil, err
	}
	progress(ctx, 100, "Export ready")
	return &ExportResult{
		Status:    StatusSuccess,
		ExportKey: key,
		DataSummary: ExportSummary{
			Documents:    len(export.Documents),
			Queries:      len(export.Queries),
			ExportSizeMB: float64(size) / (1024 * 1024),
		},
	}, nil
}

// SendNotification stores the notification, publishes it on the user's
// Redis channel and hands it to the broker when one is configured.
func (s *MaintenanceService) SendNotification(ctx context.Context, req NotificationRequest) (*NotificationResult, error) {
	if req.UserID == "" {
		return nil, apperrors.Validation("user id is required")
	}
	if req.Type == "" {
		req.Type = "info"
	}
	n := &sidestore.Notification{
		UserID:  req.UserID,
		Type:    req.Type,
		Message: req.Message,
		Data:    req.Data,
	}
	key, err := s.side.PushNotification(ctx, n)
	if err != nil {
		return nil, err
	}
	if err := s.publisher.Publish(ctx, req.UserID, n); err != nil {
		logger.Warn("Failed to publish notification to broker", "user_id", req.UserID, "error", err)
	}
	return &NotificationResult{
		Status:          StatusSuccess,
		NotificationKey: key,
		Message:         "Notification sent successfully",
	}, nil
}

func (s *MaintenanceService) Notifications(ctx context.Context, userID string, limit int) ([]sidestore.Notification, error) {
	return s.side.Notifications(ctx, userID, limit)
}

// ProcessBulkOperation applies one operation to many users. Failures are
// reported per user.
func (s *MaintenanceService) ProcessBulkOperation(ctx context.Context, operation string, userIDs []string, data map[string]any, progress ProgressFunc) (*BulkUserOperationResult, error) {
	if progress == nil {
		progress = noProgress
	}
	if operation != OperationGenerateReport && operation != OperationSendNotification {
		return nil, apperrors.Validation("Unknown operation: %s", operation)
	}

	total := len(userIDs)
	res := &BulkUserOperationResult{
		Status:        StatusSuccess,
		OperationType: operation,
		TotalUsers:    total,
		Results:       make([]BulkItemResult, 0, total),
	}
	for i, userID := range userIDs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		progress(ctx, i*100/total, fmt.Sprintf("Processing user %d of %d", i+1, total))

		var (
			out any
			err error
		)
		switch operation {
		case OperationGenerateReport:
			out, err = s.GenerateUserReport(ctx, userID, intValue(data, "days", DefaultReportDays))
		case OperationSendNotification:
			payload, _ := data["data"].(map[string]any)
			out, err = s.SendNotification(ctx, NotificationRequest{
				UserID:  userID,
				Type:    stringValue(data, "type", "info"),
				Message: stringValue(data, "message", ""),
				Data:    payload,
			})
		}
		if err != nil {
			res.Results = append(res.Results, BulkItemResult{UserID: userID, Status: "error", Error: err.Error()})
			continue
		}
		res.Results = append(res.Results, BulkItemResult{UserID: userID, Status: StatusSuccess, Result: out})
	}
	progress(ctx, 100, fmt.Sprintf("Processed %d users", total))
	return res, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func stringValue(data map[string]any, key, fallback string) string {
	if v, ok := data[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// intValue accepts the float64 that encoding/json produces for numbers.
func intValue(data map[string]any, key string, fallback int) int {
	switch v := data[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return fallback
}
