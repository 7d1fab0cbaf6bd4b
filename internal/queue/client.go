package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"docqa-platform/internal/apperrors"
	"docqa-platform/internal/logger"
	"docqa-platform/internal/sidestore"
)

// Enqueuer is the part of *asynq.Client the queue client uses.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Client submits jobs and records them in the side store so they can be
// polled by id and listed per user.
type Client struct {
	enqueuer  Enqueuer
	side      *sidestore.Store
	policies  Policies
	retention time.Duration
}

func NewClient(enqueuer Enqueuer, side *sidestore.Store, policies Policies, retention time.Duration) *Client {
	if retention <= 0 {
		retention = sidestore.DefaultTaskMetaTTL
	}
	return &Client{enqueuer: enqueuer, side: side, policies: policies, retention: retention}
}

// Submit enqueues a job of taskType for userID and returns its id. A high
// priority routes the job to the critical queue.
func (c *Client) Submit(ctx context.Context, userID, taskType string, payload any, priority string, opts ...asynq.Option) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload failed: %w", err)
	}
	policy, ok := c.policies[taskType]
	if !ok {
		return "", apperrors.Validation("unknown task type %q", taskType)
	}
	queue := policy.Queue
	if priority == PriorityHigh {
		queue = QueueCritical
	}
	return c.enqueue(ctx, &sidestore.JobMeta{
		UserID:   userID,
		TaskType: taskType,
		Queue:    queue,
		Params:   raw,
	}, policy, opts...)
}

// Resubmit enqueues a fresh job with the type, queue and parameters of a
// previous one.
func (c *Client) Resubmit(ctx context.Context, prev *sidestore.JobMeta) (string, error) {
	policy, ok := c.policies[prev.TaskType]
	if !ok {
		return "", apperrors.Validation("unknown task type %q", prev.TaskType)
	}
	queue := prev.Queue
	if queue == "" {
		queue = policy.Queue
	}
	return c.enqueue(ctx, &sidestore.JobMeta{
		UserID:   prev.UserID,
		TaskType: prev.TaskType,
		Queue:    queue,
		Params:   prev.Params,
		RetryOf:  prev.TaskID,
	}, policy)
}

func (c *Client) enqueue(ctx context.Context, meta *sidestore.JobMeta, policy Policy, extra ...asynq.Option) (string, error) {
	meta.TaskID = uuid.NewString()
	opts := []asynq.Option{
		asynq.TaskID(meta.TaskID),
		asynq.MaxRetry(policy.MaxRetry),
		asynq.Queue(meta.Queue),
		asynq.Retention(c.retention),
	}
	if policy.Timeout > 0 {
		opts = append(opts, asynq.Timeout(policy.Timeout))
	}
	opts = append(opts, extra...)

	// Metadata goes in first: a worker may pick the job up before
	// EnqueueContext returns, and its progress writes need a record to land on.
	tracked := true
	if err := c.side.TrackTask(ctx, meta); err != nil {
		tracked = false
		logger.Warn("Failed to track task", "task_id", meta.TaskID, "task_type", meta.TaskType, "error", err)
	}

	task := asynq.NewTask(meta.TaskType, meta.Params, opts...)
	if _, err := c.enqueuer.EnqueueContext(ctx, task); err != nil {
		if tracked {
			if uerr := c.side.UntrackTask(context.WithoutCancel(ctx), meta.UserID, meta.TaskID); uerr != nil {
				logger.Warn("Failed to untrack task", "task_id", meta.TaskID, "error", uerr)
			}
		}
		return "", fmt.Errorf("enqueue %s failed: %w", meta.TaskType, err)
	}

	logger.Info("Task submitted",
		"task_id", meta.TaskID,
		"task_type", meta.TaskType,
		"queue", meta.Queue,
		"user_id", meta.UserID,
	)
	return meta.TaskID, nil
}
