package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa-platform/internal/ai"
	"docqa-platform/internal/apperrors"
)

func ingestDemo(t *testing.T, env *testEnv, userID string) *IngestResult {
	t.Helper()
	res, err := env.ingestion.Ingest(context.Background(), IngestRequest{UserID: userID, Filename: "demo.txt", Content: []byte(pythonText)}, nil)
	require.NoError(t, err)
	return res
}

func TestAnswerQuestionEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ingestDemo(t, env, "u1")

	res, err := env.qa.AnswerQuestion(ctx, "u1", "What is Python used for?")
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.NotEmpty(t, res.Answer)
	assert.GreaterOrEqual(t, res.ResponseTimeMS, int64(0))
	assert.GreaterOrEqual(t, res.ChunksUsed, 1)

	logs, err := env.store.ListQueryLogs(ctx, "u1", time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.GreaterOrEqual(t, logs[0].ChunksUsed, 1)
	assert.Equal(t, res.QueryID, logs[0].ID)
}

func TestAnswerQuestionWithoutDocuments(t *testing.T) {
	env := newTestEnv(t)

	res, err := env.qa.AnswerQuestion(context.Background(), "u1", "Anything there?")
	require.NoError(t, err)
	assert.Equal(t, ai.InsufficientInformationMessage, res.Answer)
	assert.Zero(t, res.ChunksUsed)

	_, err = env.qa.AnswerQuestion(context.Background(), "u1", "   ")
	assert.True(t, apperrors.IsValidation(err))
}

func TestDailyQuotaAndReset(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ingestDemo(t, env, "u1")

	day := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	env.qa.now = fixedClock(day)

	for i := 0; i < env.cfg.MaxQueriesPerDay; i++ {
		_, err := env.qa.AnswerQuestion(ctx, "u1", "What is Python?")
		require.NoError(t, err)
	}
	_, err := env.qa.AnswerQuestion(ctx, "u1", "What is Python?")
	require.Error(t, err)
	assert.True(t, apperrors.IsRateLimit(err))

	env.qa.now = fixedClock(day.AddDate(0, 0, 1))
	_, err = env.qa.AnswerQuestion(ctx, "u1", "What is Python?")
	require.NoError(t, err)
}

func TestAskJobProgressAndNoContext(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.qa.Ask(ctx, AskRequest{UserID: "ghost", Question: "hi?"}, nil)
	assert.True(t, apperrors.IsNotFound(err))

	_, err = env.store.EnsureUser(ctx, "u1", "")
	require.NoError(t, err)
	res, err := env.qa.Ask(ctx, AskRequest{UserID: "u1", Question: "What is Go?"}, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusNoContext, res.Status)
	assert.Equal(t, NoContextMessage, res.Message)

	ingestDemo(t, env, "u1")
	rec := &progressRecorder{}
	res, err = env.qa.Ask(ctx, AskRequest{UserID: "u1", Question: "What is Python used for?"}, rec.record)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, []int{0, 25, 50, 90, 100}, rec.values)

	rec = &progressRecorder{}
	res, err = env.qa.Ask(ctx, AskRequest{UserID: "u1", Question: "Summarise", Context: []string{"supplied passage"}}, rec.record)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ChunksUsed)
	assert.Equal(t, []int{0, 50, 90, 100}, rec.values)
}

func collect(t *testing.T, events <-chan StreamEvent) []StreamEvent {
	t.Helper()
	var out []StreamEvent
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("stream did not finish")
		}
	}
}

func TestAnswerQuestionStream(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ingestDemo(t, env, "u1")

	events, err := env.qa.AnswerQuestionStream(ctx, "u1", "What is Python used for?")
	require.NoError(t, err)
	got := collect(t, events)
	require.NotEmpty(t, got)

	assert.Equal(t, EventStatus, got[0].Type)
	assert.Equal(t, EventContext, got[1].Type)
	last := got[len(got)-1]
	require.Equal(t, EventComplete, last.Type)
	assert.NotEmpty(t, last.QueryID)

	var answer strings.Builder
	for _, ev := range got {
		if ev.Type == EventContent {
			answer.WriteString(ev.Content)
		}
	}
	logs, err := env.store.ListQueryLogs(ctx, "u1", time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, answer.String(), logs[0].Answer)
}

func TestAnswerQuestionStreamWithoutContext(t *testing.T) {
	env := newTestEnv(t)

	events, err := env.qa.AnswerQuestionStream(context.Background(), "u1", "What is Go?")
	require.NoError(t, err)
	got := collect(t, events)
	require.Len(t, got, 2)
	assert.Equal(t, EventError, got[1].Type)
	assert.Equal(t, NoContextMessage, got[1].Message)

	count, err := env.store.CountQueryLogs(context.Background(), "u1")
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestAnswerBatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	ingestDemo(t, env, "u1")

	res, err := env.qa.AnswerBatch(ctx, "u1", []string{"What is Python?", "", "How is it used?"}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.TotalQuestions)
	require.Len(t, res.Results, 3)
	assert.Equal(t, StatusSuccess, res.Results[0].Status)
	assert.Equal(t, "error", res.Results[1].Status)
	assert.Equal(t, StatusSuccess, res.Results[2].Status)
}

func TestSuggestions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	none, err := env.qa.GenerateSuggestions(ctx, "u1", "")
	require.NoError(t, err)
	assert.Equal(t, "no_documents", none.Status)

	doc := ingestDemo(t, env, "u1")
	got, err := env.qa.GenerateSuggestions(ctx, "u1", doc.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccess, got.Status)
	assert.Len(t, got.Suggestions, 3)
	assert.Equal(t, 1, got.BasedOnChunks)

	other, err := env.qa.GenerateSuggestions(ctx, "u1", "not-mine")
	require.NoError(t, err)
	assert.Equal(t, "no_documents", other.Status)
}

func TestAnalyzeQueryPatternsAndHistory(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	empty, err := env.qa.AnalyzeQueryPatterns(ctx, "u1", 7)
	require.NoError(t, err)
	assert.Equal(t, StatusNoData, empty.Status)
	assert.Equal(t, "No queries found in the last 7 days", empty.Message)

	ingestDemo(t, env, "u1")
	for _, q := range []string{"What is Python?", "How do I start?", "Why use it?"} {
		_, err := env.qa.AnswerQuestion(ctx, "u1", q)
		require.NoError(t, err)
	}

	patterns, err := env.qa.AnalyzeQueryPatterns(ctx, "u1", 7)
	require.NoError(t, err)
	require.NotNil(t, patterns.Analysis)
	assert.Equal(t, 3, patterns.Analysis.TotalQueries)
	assert.Equal(t, 1, patterns.Analysis.QuestionTypes["what"])
	assert.Equal(t, 1, patterns.Analysis.QuestionTypes["how"])
	assert.Equal(t, 1, patterns.Analysis.QuestionTypes["why"])
	assert.Equal(t, 0, patterns.Analysis.QuestionTypes["where"])
	assert.NotNil(t, patterns.Analysis.PeakHour)
	assert.InDelta(t, 3.0/7.0, patterns.Analysis.QueriesPerDay, 1e-9)

	history, err := env.qa.History(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "What is Python?", history[0].Question)
	assert.Equal(t, "Why use it?", history[2].Question)
}

func TestLLMInfo(t *testing.T) {
	env := newTestEnv(t)
	info := env.qa.LLMInfo(context.Background())
	assert.Equal(t, "fallback", info.Type)
	assert.True(t, info.Available)
}
