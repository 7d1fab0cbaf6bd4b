package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa-platform/internal/apperrors"
	"docqa-platform/internal/sidestore"
)

type fakeInspector struct {
	tasks     map[string]*asynq.TaskInfo
	queues    map[string]*asynq.QueueInfo
	servers   []*asynq.ServerInfo
	cancelled []string
	deleted   []string
}

func newFakeInspector() *fakeInspector {
	return &fakeInspector{tasks: map[string]*asynq.TaskInfo{}, queues: map[string]*asynq.QueueInfo{}}
}

func (f *fakeInspector) Queues() ([]string, error) {
	out := make([]string, 0, len(f.queues))
	for q := range f.queues {
		out = append(out, q)
	}
	return out, nil
}

func (f *fakeInspector) GetQueueInfo(queue string) (*asynq.QueueInfo, error) {
	info, ok := f.queues[queue]
	if !ok {
		return nil, asynq.ErrQueueNotFound
	}
	return info, nil
}

func (f *fakeInspector) GetTaskInfo(queue, id string) (*asynq.TaskInfo, error) {
	info, ok := f.tasks[id]
	if !ok || info.Queue != queue {
		return nil, asynq.ErrTaskNotFound
	}
	return info, nil
}

func (f *fakeInspector) Servers() ([]*asynq.ServerInfo, error) { return f.servers, nil }

func (f *fakeInspector) CancelProcessing(id string) error {
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeInspector) DeleteTask(queue, id string) error {
	f.deleted = append(f.deleted, id)
	return nil
}

type fakeResubmitter struct {
	prev []*sidestore.JobMeta
}

func (f *fakeResubmitter) Resubmit(ctx context.Context, prev *sidestore.JobMeta) (string, error) {
	f.prev = append(f.prev, prev)
	return "new-task", nil
}

type testEnv struct {
	side      *sidestore.Store
	inspector *fakeInspector
	resubmit  *fakeResubmitter
	monitor   *Monitor
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	side := sidestore.New(rdb, sidestore.Options{})
	insp := newFakeInspector()
	res := &fakeResubmitter{}
	return &testEnv{side: side, inspector: insp, resubmit: res, monitor: New(side, insp, res)}
}

func (e *testEnv) track(t *testing.T, meta *sidestore.JobMeta) {
	t.Helper()
	require.NoError(t, e.side.TrackTask(context.Background(), meta))
}

func TestGetTaskInfoMergesQueueState(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	env.track(t, &sidestore.JobMeta{TaskID: "t1", UserID: "u1", TaskType: "qa:answer", Queue: "question_answering", Params: json.RawMessage(`{"question":"q"}`)})
	env.inspector.tasks["t1"] = &asynq.TaskInfo{ID: "t1", Queue: "question_answering", State: asynq.TaskStateActive}

	status, err := env.monitor.GetTaskInfo(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, sidestore.StateProcessing, status.State)
	assert.Equal(t, "qa:answer", status.TaskType)
	assert.JSONEq(t, `{"question":"q"}`, string(status.Metadata))
	require.NotNil(t, status.CreatedAt)

	env.inspector.tasks["t1"].State = asynq.TaskStateArchived
	env.inspector.tasks["t1"].LastErr = "boom"
	status, err = env.monitor.GetTaskInfo(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, sidestore.StateFailed, status.State)
	assert.Equal(t, "boom", status.Error)
}

func TestGetTaskInfoPrefersTerminalMetadata(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	env.track(t, &sidestore.JobMeta{TaskID: "t1", UserID: "u1", TaskType: "document:ingest", Queue: "document_processing"})
	require.NoError(t, env.side.Finish(ctx, "t1", sidestore.StateSucceeded, json.RawMessage(`{"status":"success"}`), ""))
	env.inspector.tasks["t1"] = &asynq.TaskInfo{ID: "t1", Queue: "document_processing", State: asynq.TaskStateActive}

	status, err := env.monitor.GetTaskInfo(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, sidestore.StateSucceeded, status.State)
	assert.Equal(t, 100, status.Progress)
	assert.JSONEq(t, `{"status":"success"}`, string(status.Result))
}

func TestGetTaskInfoUnknown(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.monitor.GetTaskInfo(context.Background(), "missing")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestGetTaskInfoFallsBackToQueue(t *testing.T) {
	env := newTestEnv(t)
	env.inspector.queues["critical"] = &asynq.QueueInfo{Queue: "critical"}
	env.inspector.tasks["t9"] = &asynq.TaskInfo{ID: "t9", Queue: "critical", Type: "qa:answer", State: asynq.TaskStateCompleted, Result: []byte(`{"ok":true}`)}

	status, err := env.monitor.GetTaskInfo(context.Background(), "t9")
	require.NoError(t, err)
	assert.Equal(t, sidestore.StateSucceeded, status.State)
	assert.Equal(t, "qa:answer", status.TaskType)
	assert.JSONEq(t, `{"ok":true}`, string(status.Result))
}

func TestGetUserTaskInfoChecksOwner(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.track(t, &sidestore.JobMeta{TaskID: "t1", UserID: "u1", TaskType: "qa:answer", Queue: "question_answering"})

	status, err := env.monitor.GetUserTaskInfo(ctx, "t1", "u1")
	require.NoError(t, err)
	assert.Equal(t, sidestore.StateQueued, status.State)

	_, err = env.monitor.GetUserTaskInfo(ctx, "t1", "u2")
	assert.True(t, apperrors.IsValidation(err))

	_, err = env.monitor.GetUserTaskInfo(ctx, "missing", "u1")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestGetUserTasks(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	env.track(t, &sidestore.JobMeta{TaskID: "a", UserID: "u1", TaskType: "qa:answer"})
	env.track(t, &sidestore.JobMeta{TaskID: "b", UserID: "u1", TaskType: "document:ingest"})
	env.track(t, &sidestore.JobMeta{TaskID: "c", UserID: "u2", TaskType: "qa:answer"})

	tasks, err := env.monitor.GetUserTasks(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "b", tasks[0].TaskID)
	assert.Equal(t, "a", tasks[1].TaskID)

	require.NoError(t, env.side.DeleteTaskMeta(ctx, "b"))
	tasks, err = env.monitor.GetUserTasks(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestQueueAndWorkerStats(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.inspector.queues["critical"] = &asynq.QueueInfo{Queue: "critical", Active: 1, Pending: 2}
	env.inspector.queues["question_answering"] = &asynq.QueueInfo{Queue: "question_answering", Active: 2, Retry: 1, Scheduled: 3}
	env.inspector.servers = []*asynq.ServerInfo{{
		ID: "srv-1", Host: "worker-a", PID: 42, Concurrency: 10, Status: "active",
		Queues:        map[string]int{"critical": 6},
		ActiveWorkers: []*asynq.WorkerInfo{{}, {}},
	}}

	stats, err := env.monitor.QueueStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalActive)
	assert.Equal(t, 2, stats.TotalPending)
	assert.Equal(t, 3, stats.TotalScheduled)
	assert.Equal(t, 1, stats.TotalRetry)
	assert.Equal(t, 2, stats.Queues["critical"].Pending)

	workers, err := env.monitor.WorkerStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, workers.TotalWorkers)
	assert.Equal(t, 2, workers.Workers["srv-1"].ActiveWorkers)
	assert.Equal(t, "worker-a", workers.Workers["srv-1"].Host)
}

func TestCancelTask(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	env.track(t, &sidestore.JobMeta{TaskID: "active", UserID: "u1", Queue: "question_answering"})
	env.track(t, &sidestore.JobMeta{TaskID: "pending", UserID: "u1", Queue: "question_answering"})
	env.inspector.tasks["active"] = &asynq.TaskInfo{ID: "active", Queue: "question_answering", State: asynq.TaskStateActive}
	env.inspector.tasks["pending"] = &asynq.TaskInfo{ID: "pending", Queue: "question_answering", State: asynq.TaskStatePending}

	err := env.monitor.CancelTask(ctx, "active", "u2")
	assert.True(t, apperrors.IsValidation(err))

	require.NoError(t, env.monitor.CancelTask(ctx, "active", "u1"))
	require.NoError(t, env.monitor.CancelTask(ctx, "pending", "u1"))
	assert.Equal(t, []string{"active"}, env.inspector.cancelled)
	assert.Equal(t, []string{"pending"}, env.inspector.deleted)

	meta, err := env.side.GetTaskMeta(ctx, "pending")
	require.NoError(t, err)
	assert.Equal(t, sidestore.StateCancelled, meta.State)

	err = env.monitor.CancelTask(ctx, "pending", "u1")
	assert.True(t, apperrors.IsValidation(err))

	err = env.monitor.CancelTask(ctx, "missing", "u1")
	assert.True(t, apperrors.IsNotFound(err))
}

func TestRetryTaskOnlyFailed(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	env.track(t, &sidestore.JobMeta{TaskID: "t1", UserID: "u1", TaskType: "document:ingest"})

	_, err := env.monitor.RetryTask(ctx, "t1", "u1")
	assert.True(t, apperrors.IsValidation(err))

	require.NoError(t, env.side.Finish(ctx, "t1", sidestore.StateFailed, nil, "boom"))

	_, err = env.monitor.RetryTask(ctx, "t1", "u2")
	assert.True(t, apperrors.IsValidation(err))

	newID, err := env.monitor.RetryTask(ctx, "t1", "u1")
	require.NoError(t, err)
	assert.Equal(t, "new-task", newID)
	require.Len(t, env.resubmit.prev, 1)
	assert.Equal(t, "t1", env.resubmit.prev[0].TaskID)
}

func TestAnalytics(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	env.monitor.now = func() time.Time { return now }

	env.track(t, &sidestore.JobMeta{TaskID: "ok", UserID: "u1", TaskType: "qa:answer", CreatedAt: now.Add(-time.Hour)})
	env.track(t, &sidestore.JobMeta{TaskID: "bad", UserID: "u1", TaskType: "qa:answer", CreatedAt: now.Add(-time.Hour)})
	env.track(t, &sidestore.JobMeta{TaskID: "wait", UserID: "u1", TaskType: "document:ingest", CreatedAt: now.Add(-time.Hour)})
	env.track(t, &sidestore.JobMeta{TaskID: "old", UserID: "u1", TaskType: "qa:answer", CreatedAt: now.Add(-30 * 24 * time.Hour)})
	env.track(t, &sidestore.JobMeta{TaskID: "other", UserID: "u2", TaskType: "qa:answer", CreatedAt: now.Add(-time.Hour)})

	require.NoError(t, env.side.Finish(ctx, "ok", sidestore.StateSucceeded, nil, ""))
	require.NoError(t, env.side.Finish(ctx, "bad", sidestore.StateFailed, nil, "boom"))

	a, err := env.monitor.Analytics(ctx, "u1", 7)
	require.NoError(t, err)
	assert.Equal(t, 3, a.TotalTasks)
	assert.Equal(t, 1, a.CompletedTasks)
	assert.Equal(t, 1, a.FailedTasks)
	assert.Equal(t, 1, a.PendingTasks)
	assert.Equal(t, map[string]int{"qa:answer": 2, "document:ingest": 1}, a.TaskTypes)
	assert.InDelta(t, 1.0/3.0, a.SuccessRate, 1e-9)
	assert.Positive(t, a.AvgCompletionTime)

	all, err := env.monitor.Analytics(ctx, "", 7)
	require.NoError(t, err)
	assert.Equal(t, 4, all.TotalTasks)
}

func TestCleanupOldTasks(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	now := time.Now()

	env.track(t, &sidestore.JobMeta{TaskID: "fresh", UserID: "u1", CreatedAt: now.Add(-time.Hour)})
	env.track(t, &sidestore.JobMeta{TaskID: "stale", UserID: "u1", CreatedAt: now.Add(-10 * 24 * time.Hour)})
	require.NoError(t, env.side.Client().Set(ctx, sidestore.TaskMetaKey("broken"), "{not json", time.Hour).Err())

	n, err := env.monitor.CleanupOldTasks(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	fresh, err := env.side.GetTaskMeta(ctx, "fresh")
	require.NoError(t, err)
	assert.NotNil(t, fresh)
	stale, err := env.side.GetTaskMeta(ctx, "stale")
	require.NoError(t, err)
	assert.Nil(t, stale)
}

func TestCleanupKeepsNewerSchemaRecords(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	key := sidestore.TaskMetaKey("fresh-v2")
	raw := fmt.Sprintf(`{"schema_version":%d,"task_id":"fresh-v2","user_id":"u1","created_at":%q}`,
		sidestore.SchemaVersion+1, time.Now().UTC().Format(time.RFC3339))
	require.NoError(t, env.side.Client().Set(ctx, key, raw, time.Hour).Err())

	n, err := env.monitor.CleanupOldTasks(ctx, 7)
	require.NoError(t, err)
	assert.Zero(t, n)

	exists, err := env.side.Client().Exists(ctx, key).Result()
	require.NoError(t, err)
	assert.EqualValues(t, 1, exists)
}
