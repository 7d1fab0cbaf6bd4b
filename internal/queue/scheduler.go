package queue

import (
	"context"
	"errors"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/hibiken/asynq"

	"docqa-platform/internal/logger"
)

// Submitter enqueues jobs. *Client implements it.
type Submitter interface {
	Submit(ctx context.Context, userID, taskType string, payload any, priority string, opts ...asynq.Option) (string, error)
}

// Periodic is one maintenance job fired on an interval.
type Periodic struct {
	Tag      string
	TaskType string
	Every    time.Duration
	Payload  any
}

// DefaultPeriodic returns the recurring maintenance jobs.
func DefaultPeriodic(retentionDays int) []Periodic {
	return []Periodic{
		{Tag: "cleanup-old-tasks", TaskType: TypeMonitorCleanup, Every: time.Hour, Payload: DaysPayload{Days: retentionDays}},
		{Tag: "update-user-stats", TaskType: TypeUserUpdateStats, Every: 5 * time.Minute, Payload: DaysPayload{}},
		{Tag: "cleanup-expired-keys", TaskType: TypeUserCleanupExpired, Every: time.Hour, Payload: DaysPayload{}},
	}
}

// Scheduler fires periodic maintenance jobs onto the queue.
type Scheduler struct {
	scheduler *gocron.Scheduler
	submitter Submitter
	ctx       context.Context
	cancel    context.CancelFunc
}

func NewScheduler(submitter Submitter) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	s := gocron.NewScheduler(time.UTC)
	s.TagsUnique()
	s.SingletonModeAll()

	return &Scheduler{
		scheduler: s,
		submitter: submitter,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Schedule registers p. Each firing enqueues a unique task so that several
// schedulers running against the same Redis do not pile up duplicates.
func (s *Scheduler) Schedule(p Periodic) error {
	_, err := s.scheduler.Every(p.Every).WaitForSchedule().Tag(p.Tag).Do(func() {
		s.fire(p)
	})
	return err
}

func (s *Scheduler) fire(p Periodic) {
	ctx, cancel := context.WithTimeout(s.ctx, 10*time.Second)
	defer cancel()

	unique := p.Every
	if unique <= 0 {
		unique = time.Minute
	}
	taskID, err := s.submitter.Submit(ctx, SystemUser, p.TaskType, p.Payload, PriorityNormal, asynq.Unique(unique))
	switch {
	case errors.Is(err, asynq.ErrDuplicateTask):
		logger.Debug("Periodic task already queued", "tag", p.Tag)
	case err != nil:
		logger.Error("Failed to enqueue periodic task", "tag", p.Tag, "task_type", p.TaskType, "error", err)
	default:
		logger.Info("Periodic task enqueued", "tag", p.Tag, "task_id", taskID)
	}
}

func (s *Scheduler) Start() {
	s.scheduler.StartAsync()
}

func (s *Scheduler) Stop() {
	s.scheduler.Stop()
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Scheduler) Jobs() []*gocron.Job {
	return s.scheduler.Jobs()
}
