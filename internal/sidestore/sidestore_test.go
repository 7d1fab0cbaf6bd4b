package sidestore

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, Options{}), mr
}

func TestTrackTaskAndGet(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)

	meta := &JobMeta{TaskID: "t1", UserID: "u1", TaskType: "document:ingest", Queue: "document_processing", Params: json.RawMessage(`{"filename":"a.txt"}`)}
	require.NoError(t, s.TrackTask(ctx, meta))

	got, err := s.GetTaskMeta(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, StateQueued, got.State)
	assert.Equal(t, SchemaVersion, got.SchemaVersion)
	assert.JSONEq(t, `{"filename":"a.txt"}`, string(got.Params))

	assert.Equal(t, DefaultTaskMetaTTL, mr.TTL(TaskMetaKey("t1")))
	assert.Equal(t, DefaultUserTaskListTTL, mr.TTL(UserTasksKey("u1")))

	missing, err := s.GetTaskMeta(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestUserTaskListIsBoundedNewestFirst(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	for i := 0; i < MaxListLength+5; i++ {
		require.NoError(t, s.TrackTask(ctx, &JobMeta{TaskID: fmt.Sprintf("t%03d", i), UserID: "u1"}))
	}

	ids, err := s.UserTaskIDs(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Len(t, ids, MaxListLength)
	assert.Equal(t, fmt.Sprintf("t%03d", MaxListLength+4), ids[0])

	ids, err = s.UserTaskIDs(ctx, "u1", 3)
	require.NoError(t, err)
	assert.Len(t, ids, 3)
}

func TestUpdateProgressIsMonotonic(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)
	require.NoError(t, s.TrackTask(ctx, &JobMeta{TaskID: "t1", UserID: "u1"}))
	mr.FastForward(time.Hour)

	require.NoError(t, s.UpdateProgress(ctx, "t1", 50, "Chunking"))
	require.NoError(t, s.UpdateProgress(ctx, "t1", 25, "Late update"))

	meta, err := s.GetTaskMeta(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, StateProcessing, meta.State)
	assert.Equal(t, 50, meta.Progress)
	assert.Equal(t, "Chunking", meta.Message)
	assert.Equal(t, DefaultTaskMetaTTL-time.Hour, mr.TTL(TaskMetaKey("t1")))
}

func TestFinish(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	require.NoError(t, s.TrackTask(ctx, &JobMeta{TaskID: "ok", UserID: "u1"}))
	require.NoError(t, s.TrackTask(ctx, &JobMeta{TaskID: "bad", UserID: "u1"}))

	require.NoError(t, s.Finish(ctx, "ok", StateSucceeded, json.RawMessage(`{"chunk_count":3}`), ""))
	require.NoError(t, s.Finish(ctx, "bad", StateFailed, nil, "embedding backend down"))

	ok, err := s.GetTaskMeta(ctx, "ok")
	require.NoError(t, err)
	assert.Equal(t, 100, ok.Progress)
	assert.NotNil(t, ok.CompletedAt)
	assert.JSONEq(t, `{"chunk_count":3}`, string(ok.Result))

	bad, err := s.GetTaskMeta(ctx, "bad")
	require.NoError(t, err)
	assert.Equal(t, StateFailed, bad.State)
	assert.Equal(t, "embedding backend down", bad.Error)

	require.NoError(t, s.UpdateProgress(ctx, "ok", 100, "again"))
	ok, err = s.GetTaskMeta(ctx, "ok")
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, ok.State)
}

func TestCancelledJobStaysCancelled(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)
	require.NoError(t, s.TrackTask(ctx, &JobMeta{TaskID: "t1", UserID: "u1"}))
	require.NoError(t, s.Finish(ctx, "t1", StateCancelled, nil, ""))
	require.NoError(t, s.Finish(ctx, "t1", StateSucceeded, nil, ""))

	meta, err := s.GetTaskMeta(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, StateCancelled, meta.State)
}

func TestNewerSchemaIsRejected(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)
	require.NoError(t, mr.Set(TaskMetaKey("future"), `{"schema_version":99,"task_id":"future"}`))

	_, err := s.GetTaskMeta(ctx, "future")
	assert.ErrorIs(t, err, ErrUnsupportedSchema)
}

func TestScanTaskMeta(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)
	require.NoError(t, s.TrackTask(ctx, &JobMeta{TaskID: "a", UserID: "u1"}))
	require.NoError(t, s.TrackTask(ctx, &JobMeta{TaskID: "b", UserID: "u2"}))
	require.NoError(t, mr.Set(TaskMetaKey("broken"), "not json"))

	seen := map[string]bool{}
	var broken []string
	err := s.ScanTaskMeta(ctx, func(id string, meta *JobMeta, err error) error {
		if err != nil {
			broken = append(broken, id)
			return nil
		}
		seen[meta.TaskID] = true
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"a": true, "b": true}, seen)
	assert.Equal(t, []string{"broken"}, broken)

	require.NoError(t, s.DeleteTaskMeta(ctx, "broken"))
	assert.False(t, mr.Exists(TaskMetaKey("broken")))
}

func TestNotifications(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)

	sub := s.Subscribe(ctx, "u1")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	key, err := s.PushNotification(ctx, &Notification{UserID: "u1", Type: "info", Message: "Document ready"})
	require.NoError(t, err)
	assert.Equal(t, NotificationTTL, mr.TTL(key))

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	assert.Contains(t, msg.Payload, "Document ready")

	for i := 0; i < MaxListLength+2; i++ {
		_, err := s.PushNotification(ctx, &Notification{UserID: "u1", Type: "info", Message: fmt.Sprintf("n%d", i), ID: fmt.Sprintf("id%d", i)})
		require.NoError(t, err)
	}
	list, err := s.Notifications(ctx, "u1", 0)
	require.NoError(t, err)
	assert.Len(t, list, MaxListLength)
	assert.Equal(t, fmt.Sprintf("n%d", MaxListLength+1), list[0].Message)

	length, err := s.Client().LLen(ctx, UserNotificationsKey("u1")).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(MaxListLength), length)
}

func TestReportsAndExports(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)

	var out map[string]int
	found, err := s.GetReport(ctx, "u1", 30, &out)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, s.CacheReport(ctx, "u1", 30, map[string]int{"queries": 4}))
	found, err = s.GetReport(ctx, "u1", 30, &out)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 4, out["queries"])
	assert.Equal(t, ReportTTL, mr.TTL(ReportKey("u1", 30)))

	key, size, err := s.StoreExport(ctx, "u1", map[string]string{"email": "a@b.c"})
	require.NoError(t, err)
	assert.Positive(t, size)
	assert.Equal(t, ExportTTL, mr.TTL(key))
}

func TestSweepExpired(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)
	require.NoError(t, mr.Set("task_meta:orphan", "{}"))
	require.NoError(t, s.TrackTask(ctx, &JobMeta{TaskID: "t1", UserID: "u1"}))
	require.NoError(t, mr.Set("unrelated", "x"))

	fixed, err := s.SweepExpired(ctx, SweepPatterns, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, fixed)
	assert.Equal(t, time.Hour, mr.TTL("task_meta:orphan"))
	assert.Equal(t, time.Duration(0), mr.TTL("unrelated"))
}

func TestMarkNotificationRead(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestStore(t)

	_, err := s.PushNotification(ctx, &Notification{ID: "n1", UserID: "u1", Type: "info", Message: "hello"})
	require.NoError(t, err)

	ok, err := s.MarkNotificationRead(ctx, "u1", "n1")
	require.NoError(t, err)
	assert.True(t, ok)

	list, err := s.Notifications(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Read)
	assert.Equal(t, NotificationTTL, mr.TTL(NotificationKey("u1", "n1")))

	ok, err = s.MarkNotificationRead(ctx, "u1", "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}
