package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa-platform/internal/apperrors"
	"docqa-platform/internal/sidestore"
	"docqa-platform/models"
)

type recordingPublisher struct {
	users []string
	fail  bool
}

func (p *recordingPublisher) Publish(ctx context.Context, userID string, payload any) error {
	if p.fail {
		return errors.New("broker down")
	}
	p.users = append(p.users, userID)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func TestUpdateUserStats(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ingestDemo(t, env, "u1")

	require.NoError(t, env.store.SetDocumentCount(ctx, "u1", 42))
	yesterday := time.Now().UTC().AddDate(0, 0, -1)
	require.NoError(t, env.store.RecordQuery(ctx, "u1", yesterday))

	rec := &progressRecorder{}
	res, err := env.maintenance.UpdateUserStats(ctx, rec.record)
	require.NoError(t, err)
	assert.Equal(t, 1, res.UpdatedUsers)
	assert.EqualValues(t, 1, res.ResetCounters)
	assert.Equal(t, 100, rec.values[len(rec.values)-1])

	user, err := env.store.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, user.DocumentCount)
	assert.Zero(t, user.QueryCountToday)

	again, err := env.maintenance.UpdateUserStats(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, again.ResetCounters)
}

func TestCleanupExpiredKeys(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	env.redis.Set("task_meta:orphan", "{}")
	env.redis.Set("unrelated", "x")

	res, err := env.maintenance.CleanupExpiredKeys(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.FixedKeys)
	assert.Equal(t, time.Hour, env.redis.TTL("task_meta:orphan"))
	assert.Zero(t, env.redis.TTL("unrelated"))
}

func TestCleanupInactiveUsers(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	env.maintenance.now = fixedClock(now)

	require.NoError(t, env.store.CreateUser(ctx, &models.User{ID: "idle", IsActive: true, LastQueryDate: "2026-01-01"}))
	require.NoError(t, env.store.CreateUser(ctx, &models.User{ID: "busy", IsActive: true, LastQueryDate: "2026-05-30"}))
	require.NoError(t, env.store.CreateUser(ctx, &models.User{ID: "never", IsActive: true}))

	res, err := env.maintenance.CleanupInactiveUsers(ctx, 90, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, res.InactiveUsersFound)
	assert.Equal(t, []string{"idle"}, res.UserIDs)
	assert.Equal(t, "2026-03-03T12:00:00Z", res.CutoffDate)
}

func TestGenerateUserReportIsCached(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ingestDemo(t, env, "u1")
	_, err := env.qa.AnswerQuestion(ctx, "u1", "What is Python?")
	require.NoError(t, err)

	_, err = env.maintenance.GenerateUserReport(ctx, "missing", 30)
	assert.True(t, apperrors.IsNotFound(err))

	res, err := env.maintenance.GenerateUserReport(ctx, "u1", 30)
	require.NoError(t, err)
	report := res.Report
	assert.EqualValues(t, 1, report.Documents.Total)
	assert.EqualValues(t, 1, report.Queries.Total)
	assert.Equal(t, 1, report.Queries.Recent)
	assert.EqualValues(t, env.cfg.MaxDocumentsPerUser-1, report.Limits.DocumentsRemaining)
	assert.Len(t, report.Queries.DailyActivity, 1)

	assert.Equal(t, sidestore.ReportTTL, env.redis.TTL(sidestore.ReportKey("u1", 30)))
	cached, err := env.maintenance.CachedUserReport(ctx, "u1", 30)
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, report.Documents, cached.Documents)

	none, err := env.maintenance.CachedUserReport(ctx, "u1", 7)
	require.NoError(t, err)
	assert.Nil(t, none)
}

func TestExportUserData(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ingestDemo(t, env, "u1")
	_, err := env.qa.AnswerQuestion(ctx, "u1", "What is Python?")
	require.NoError(t, err)

	rec := &progressRecorder{}
	res, err := env.maintenance.ExportUserData(ctx, "u1", rec.record)
	require.NoError(t, err)
	assert.Equal(t, 1, res.DataSummary.Documents)
	assert.Equal(t, 1, res.DataSummary.Queries)
	assert.Greater(t, res.DataSummary.ExportSizeMB, 0.0)
	assert.Equal(t, []int{25, 75, 100}, rec.values)

	raw, err := env.redis.Get(res.ExportKey)
	require.NoError(t, err)
	var export UserExport
	require.NoError(t, json.Unmarshal([]byte(raw), &export))
	assert.Equal(t, "u1", export.UserInfo.ID)
	assert.Equal(t, sidestore.ExportTTL, env.redis.TTL(res.ExportKey))
}

func TestSendNotificationFansOut(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	pub := &recordingPublisher{}
	env.maintenance = NewMaintenanceService(env.store, env.side, pub, env.cfg)

	res, err := env.maintenance.SendNotification(ctx, NotificationRequest{UserID: "u1", Message: "Your export is ready"})
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, []string{"u1"}, pub.users)

	list, err := env.maintenance.Notifications(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "info", list[0].Type)
	assert.False(t, list[0].Read)

	// A broker failure does not fail the notification.
	pub.fail = true
	_, err = env.maintenance.SendNotification(ctx, NotificationRequest{UserID: "u1", Type: "alert", Message: "again"})
	require.NoError(t, err)

	_, err = env.maintenance.SendNotification(ctx, NotificationRequest{Message: "nobody"})
	assert.True(t, apperrors.IsValidation(err))
}

func TestProcessBulkOperation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ingestDemo(t, env, "u1")

	res, err := env.maintenance.ProcessBulkOperation(ctx, OperationGenerateReport, []string{"u1", "ghost"}, map[string]any{"days": float64(7)}, nil)
	require.NoError(t, err)
	require.Len(t, res.Results, 2)
	assert.Equal(t, StatusSuccess, res.Results[0].Status)
	assert.Equal(t, "error", res.Results[1].Status)
	assert.Equal(t, sidestore.ReportTTL, env.redis.TTL(sidestore.ReportKey("u1", 7)))

	res, err = env.maintenance.ProcessBulkOperation(ctx, OperationSendNotification, []string{"u1", "u2"}, map[string]any{"message": "maintenance tonight"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, res.TotalUsers)
	list, err := env.maintenance.Notifications(ctx, "u2", 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "maintenance tonight", list[0].Message)

	_, err = env.maintenance.ProcessBulkOperation(ctx, "explode", []string{"u1"}, nil, nil)
	assert.True(t, apperrors.IsValidation(err))
}
