package queue

import (
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"

	"docqa-platform/internal/config"
)

func testPolicies() Policies {
	return DefaultPolicies(&config.Config{
		DocumentProcessingTimeout: 10 * time.Minute,
		QATaskTimeout:             3 * time.Minute,
		UserTaskTimeout:           time.Minute,
	})
}

func TestDefaultPoliciesCoverEveryTaskType(t *testing.T) {
	policies := testPolicies()

	types := []string{
		TypeDocumentIngest, TypeDocumentDelete, TypeDocumentBulkDelete,
		TypeQAAnswer, TypeQABatch, TypeQASuggest, TypeQAAnalyze,
		TypeUserUpdateStats, TypeUserCleanupExpired, TypeUserCleanupInactive,
		TypeUserReport, TypeUserExport, TypeUserNotify, TypeUserBulkOperation,
		TypeMonitorCleanup,
	}
	assert.Len(t, policies, len(types))
	for _, typ := range types {
		policy, ok := policies[typ]
		if assert.True(t, ok, typ) {
			assert.Contains(t, QueueWeights, policy.Queue, typ)
		}
	}

	assert.Equal(t, 3, policies[TypeDocumentIngest].MaxRetry)
	assert.Equal(t, 10*time.Minute, policies[TypeDocumentIngest].Timeout)
	assert.Equal(t, 0, policies[TypeQABatch].MaxRetry)
	assert.Equal(t, 6*time.Minute, policies[TypeQABatch].Timeout)
	assert.Equal(t, 5*time.Minute, policies[TypeUserBulkOperation].Timeout)
}

func TestRetryDelay(t *testing.T) {
	policies := testPolicies()
	err := errors.New("boom")

	assert.Equal(t, 60*time.Second, policies.RetryDelay(1, err, asynq.NewTask(TypeDocumentIngest, nil)))
	assert.Equal(t, 30*time.Second, policies.RetryDelay(1, err, asynq.NewTask(TypeQAAnswer, nil)))

	// Types without a fixed delay fall back to asynq's backoff.
	fallback := policies.RetryDelay(1, err, asynq.NewTask("unknown:type", nil))
	assert.Greater(t, fallback, time.Duration(0))
}
