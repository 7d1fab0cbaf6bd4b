package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa-platform/internal/sidestore"
	"docqa-platform/services"
)

// submit enqueues through the client and returns the id and the task the
// worker would receive.
func submit(t *testing.T, env *testEnv, userID, taskType string, payload any) (string, *asynq.Task) {
	t.Helper()
	id, err := env.client.Submit(context.Background(), userID, taskType, payload, PriorityNormal)
	require.NoError(t, err)
	task := env.enqueuer.tasks[len(env.enqueuer.tasks)-1]
	return id, task
}

func TestHandleIngestRecordsResult(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	id, task := submit(t, env, "u1", TypeDocumentIngest, IngestPayload{UserID: "u1", Filename: "demo.txt", Content: []byte(pythonText)})
	withTaskInfo(t, id, 0, 3)

	require.NoError(t, env.processor.HandleIngest(ctx, task))

	meta, err := env.side.GetTaskMeta(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, sidestore.StateSucceeded, meta.State)
	assert.Equal(t, 100, meta.Progress)
	require.NotNil(t, meta.CompletedAt)

	var result services.IngestResult
	require.NoError(t, json.Unmarshal(meta.Result, &result))
	assert.Equal(t, services.StatusSuccess, result.Status)
	assert.Equal(t, "demo.txt", result.Filename)
	assert.Equal(t, result.ChunkCount, env.index.Len())
}

func TestHandleAnswerAfterIngest(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	id, task := submit(t, env, "u1", TypeDocumentIngest, IngestPayload{UserID: "u1", Filename: "demo.txt", Content: []byte(pythonText)})
	withTaskInfo(t, id, 0, 3)
	require.NoError(t, env.processor.HandleIngest(ctx, task))

	id, task = submit(t, env, "u1", TypeQAAnswer, AnswerPayload{UserID: "u1", Question: "What is Python used for?"})
	withTaskInfo(t, id, 0, 2)
	require.NoError(t, env.processor.HandleAnswer(ctx, task))

	meta, err := env.side.GetTaskMeta(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, sidestore.StateSucceeded, meta.State)

	var result services.AskResult
	require.NoError(t, json.Unmarshal(meta.Result, &result))
	assert.Equal(t, services.StatusSuccess, result.Status)
	assert.NotEmpty(t, result.Answer)
	assert.Positive(t, result.ChunksUsed)
}

func TestBadPayloadSkipsRetry(t *testing.T) {
	env := newTestEnv(t)
	withTaskInfo(t, "t-bad", 0, 3)

	err := env.processor.HandleIngest(context.Background(), asynq.NewTask(TypeDocumentIngest, []byte("{not json")))
	assert.ErrorIs(t, err, asynq.SkipRetry)
}

func TestValidationErrorSkipsRetry(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	id, task := submit(t, env, "u1", TypeDocumentIngest, IngestPayload{UserID: "u1", Filename: "evil.exe", Content: []byte("x")})
	withTaskInfo(t, id, 0, 3)

	err := env.processor.HandleIngest(ctx, task)
	require.ErrorIs(t, err, asynq.SkipRetry)

	env.processor.HandleError(ctx, task, err)

	meta, err := env.side.GetTaskMeta(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, sidestore.StateFailed, meta.State)
	assert.NotEmpty(t, meta.Error)
}

func TestHandleErrorMarksRetryUntilExhausted(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	id, task := submit(t, env, "u1", TypeUserExport, ExportPayload{UserID: "u1"})

	withTaskInfo(t, id, 0, 1)
	env.processor.HandleError(ctx, task, errBoom)

	meta, err := env.side.GetTaskMeta(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, sidestore.StateQueued, meta.State)
	assert.Equal(t, 1, meta.Retried)
	assert.Equal(t, "boom", meta.Error)

	withTaskInfo(t, id, 1, 1)
	env.processor.HandleError(ctx, task, errBoom)

	meta, err = env.side.GetTaskMeta(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, sidestore.StateFailed, meta.State)
}

func TestCancelledTaskIsSkipped(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	id, task := submit(t, env, "u1", TypeDocumentIngest, IngestPayload{UserID: "u1", Filename: "demo.txt", Content: []byte(pythonText)})
	require.NoError(t, env.side.Finish(ctx, id, sidestore.StateCancelled, nil, ""))
	withTaskInfo(t, id, 0, 3)

	require.NoError(t, env.processor.HandleIngest(ctx, task))

	meta, err := env.side.GetTaskMeta(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, sidestore.StateCancelled, meta.State)
	assert.Zero(t, env.index.Len())
}

func TestHandleMonitorCleanupDefaultsRetention(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	cleaner := env.processor.cleaner.(*countingCleaner)

	id, task := submit(t, env, SystemUser, TypeMonitorCleanup, DaysPayload{})
	withTaskInfo(t, id, 0, 1)
	require.NoError(t, env.processor.HandleMonitorCleanup(ctx, task))
	assert.Equal(t, []int{7}, cleaner.days)

	meta, err := env.side.GetTaskMeta(ctx, id)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"success","cleaned_tasks":4,"message":"Cleaned up 4 old tasks"}`, string(meta.Result))
}

func TestTransientFailureIsRetried(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	cleaner := env.processor.cleaner.(*countingCleaner)
	cleaner.err = fmt.Errorf("scan: %w", errBoom)

	id, task := submit(t, env, SystemUser, TypeMonitorCleanup, DaysPayload{Days: 3})
	withTaskInfo(t, id, 0, 1)

	err := env.processor.HandleMonitorCleanup(ctx, task)
	require.ErrorIs(t, err, errBoom)
	assert.NotErrorIs(t, err, asynq.SkipRetry)
}

func TestRegisterRoutesEveryType(t *testing.T) {
	env := newTestEnv(t)
	mux := asynq.NewServeMux()
	env.processor.Register(mux)

	for typ := range testPolicies() {
		h, pattern := mux.Handler(asynq.NewTask(typ, nil))
		assert.NotNil(t, h, typ)
		assert.Equal(t, typ, pattern)
	}
}
