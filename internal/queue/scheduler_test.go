package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSubmitter struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (r *recordingSubmitter) Submit(ctx context.Context, userID, taskType string, payload any, priority string, opts ...asynq.Option) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, userID+" "+taskType)
	if r.err != nil {
		return "", r.err
	}
	return "task-1", nil
}

func TestSchedulerRegistersPeriodicJobs(t *testing.T) {
	s := NewScheduler(&recordingSubmitter{})

	for _, p := range DefaultPeriodic(7) {
		require.NoError(t, s.Schedule(p))
	}
	assert.Len(t, s.Jobs(), 3)

	// Tags are unique.
	assert.Error(t, s.Schedule(Periodic{Tag: "update-user-stats", TaskType: TypeUserUpdateStats, Every: time.Minute}))
}

func TestSchedulerFireSubmitsAsSystem(t *testing.T) {
	sub := &recordingSubmitter{}
	s := NewScheduler(sub)
	defer s.Stop()

	s.fire(Periodic{Tag: "cleanup-old-tasks", TaskType: TypeMonitorCleanup, Every: time.Hour})
	assert.Equal(t, []string{SystemUser + " " + TypeMonitorCleanup}, sub.calls)

	// A task still queued from the previous firing is not an error.
	sub.err = asynq.ErrDuplicateTask
	assert.NotPanics(t, func() {
		s.fire(Periodic{Tag: "cleanup-old-tasks", TaskType: TypeMonitorCleanup, Every: time.Hour})
	})
	assert.Len(t, sub.calls, 2)
}
