// Package monitor answers questions about submitted jobs by joining the
// side-store metadata with what asynq itself knows about each task.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"docqa-platform/internal/apperrors"
	"docqa-platform/internal/logger"
	"docqa-platform/internal/sidestore"
)

const (
	DefaultUserTaskLimit = 50
	DefaultAnalyticsDays = 7
)

// Inspector is the subset of *asynq.Inspector the monitor reads.
type Inspector interface {
	Queues() ([]string, error)
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
	GetTaskInfo(queue, id string) (*asynq.TaskInfo, error)
	Servers() ([]*asynq.ServerInfo, error)
	CancelProcessing(id string) error
	DeleteTask(queue, id string) error
}

// Resubmitter enqueues a copy of a finished job.
type Resubmitter interface {
	Resubmit(ctx context.Context, prev *sidestore.JobMeta) (string, error)
}

type TaskStatus struct {
	TaskID      string             `json:"task_id"`
	TaskType    string             `json:"task_type"`
	Queue       string             `json:"queue,omitempty"`
	State       sidestore.JobState `json:"state"`
	Progress    int                `json:"progress"`
	Message     string             `json:"message,omitempty"`
	Result      json.RawMessage    `json:"result,omitempty"`
	Error       string             `json:"error,omitempty"`
	Metadata    json.RawMessage    `json:"metadata,omitempty"`
	Retried     int                `json:"retried"`
	RetryOf     string             `json:"retry_of,omitempty"`
	CreatedAt   *time.Time         `json:"created_at,omitempty"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
}

type QueueCounts struct {
	Active    int  `json:"active"`
	Pending   int  `json:"pending"`
	Scheduled int  `json:"scheduled"`
	Retry     int  `json:"retry"`
	Archived  int  `json:"archived"`
	Completed int  `json:"completed"`
	Paused    bool `json:"paused,omitempty"`
}

type QueueStats struct {
	Queues         map[string]QueueCounts `json:"queues"`
	TotalActive    int                    `json:"total_active"`
	TotalPending   int                    `json:"total_pending"`
	TotalScheduled int                    `json:"total_scheduled"`
	TotalRetry     int                    `json:"total_retry"`
}

type WorkerInfo struct {
	Host          string         `json:"host"`
	PID           int            `json:"pid"`
	Status        string         `json:"status"`
	Concurrency   int            `json:"concurrency"`
	ActiveWorkers int            `json:"active_tasks"`
	Queues        map[string]int `json:"queues"`
	Started       time.Time      `json:"started"`
}

type WorkerStats struct {
	Workers      map[string]WorkerInfo `json:"workers"`
	TotalWorkers int                   `json:"total_workers"`
}

type Analytics struct {
	TotalTasks        int            `json:"total_tasks"`
	CompletedTasks    int            `json:"completed_tasks"`
	FailedTasks       int            `json:"failed_tasks"`
	CancelledTasks    int            `json:"cancelled_tasks"`
	PendingTasks      int            `json:"pending_tasks"`
	TaskTypes         map[string]int `json:"task_types"`
	AvgCompletionTime float64        `json:"avg_completion_time"`
	SuccessRate       float64        `json:"success_rate"`
}

type Monitor struct {
	side        *sidestore.Store
	inspector   Inspector
	resubmitter Resubmitter
	now         func() time.Time
}

func New(side *sidestore.Store, inspector Inspector, resubmitter Resubmitter) *Monitor {
	return &Monitor{
		side:        side,
		inspector:   inspector,
		resubmitter: resubmitter,
		now:         time.Now,
	}
}

// GetTaskInfo returns the merged view of one job.
func (m *Monitor) GetTaskInfo(ctx context.Context, taskID string) (*TaskStatus, error) {
	meta, err := m.side.GetTaskMeta(ctx, taskID)
	if err != nil {
		return nil, err
	}

	queueHint := ""
	if meta != nil {
		queueHint = meta.Queue
	}
	info := m.findTask(taskID, queueHint)

	if meta == nil && info == nil {
		return nil, apperrors.NotFound("task", taskID)
	}
	return merge(taskID, meta, info), nil
}

// GetUserTaskInfo is GetTaskInfo restricted to jobs userID submitted.
func (m *Monitor) GetUserTaskInfo(ctx context.Context, taskID, userID string) (*TaskStatus, error) {
	meta, err := m.owned(ctx, taskID, userID)
	if err != nil {
		return nil, err
	}
	return merge(taskID, meta, m.findTask(taskID, meta.Queue)), nil
}

// findTask looks the task up in asynq. It returns nil when asynq no longer
// has it, which is normal once the retention window has passed.
func (m *Monitor) findTask(taskID, queue string) *asynq.TaskInfo {
	if m.inspector == nil {
		return nil
	}
	queues := []string{queue}
	if queue == "" {
		var err error
		if queues, err = m.inspector.Queues(); err != nil {
			logger.Warn("Failed to list queues", "error", err)
			return nil
		}
	}
	for _, q := range queues {
		info, err := m.inspector.GetTaskInfo(q, taskID)
		if err == nil {
			return info
		}
		if !errors.Is(err, asynq.ErrTaskNotFound) && !errors.Is(err, asynq.ErrQueueNotFound) {
			logger.Warn("Failed to inspect task", "task_id", taskID, "queue", q, "error", err)
		}
	}
	return nil
}

func merge(taskID string, meta *sidestore.JobMeta, info *asynq.TaskInfo) *TaskStatus {
	status := &TaskStatus{TaskID: taskID, State: sidestore.StateQueued}

	if meta != nil {
		created := meta.CreatedAt
		status.TaskType = meta.TaskType
		status.Queue = meta.Queue
		status.State = meta.State
		status.Progress = meta.Progress
		status.Message = meta.Message
		status.Result = meta.Result
		status.Error = meta.Error
		status.Metadata = meta.Params
		status.Retried = meta.Retried
		status.RetryOf = meta.RetryOf
		status.CreatedAt = &created
		status.CompletedAt = meta.CompletedAt
	}
	if info == nil {
		return status
	}

	if status.TaskType == "" {
		status.TaskType = info.Type
		status.Queue = info.Queue
	}
	if info.Retried > status.Retried {
		status.Retried = info.Retried
	}
	if status.State.Terminal() {
		return status
	}

	switch info.State {
	case asynq.TaskStateActive:
		status.State = sidestore.StateProcessing
	case asynq.TaskStateArchived:
		status.State = sidestore.StateFailed
		if status.Error == "" {
			status.Error = info.LastErr
		}
	case asynq.TaskStateCompleted:
		status.State = sidestore.StateSucceeded
		status.Progress = 100
		if status.Result == nil && len(info.Result) > 0 {
			status.Result = json.RawMessage(info.Result)
		}
		if status.CompletedAt == nil && !info.CompletedAt.IsZero() {
			completed := info.CompletedAt
			status.CompletedAt = &completed
		}
	case asynq.TaskStateRetry:
		if status.Error == "" {
			status.Error = info.LastErr
		}
	}
	return status
}

// GetUserTasks lists a user's most recent jobs, newest first. Jobs whose
// metadata has expired are left out.
func (m *Monitor) GetUserTasks(ctx context.Context, userID string, limit int) ([]TaskStatus, error) {
	if limit <= 0 {
		limit = DefaultUserTaskLimit
	}
	ids, err := m.side.UserTaskIDs(ctx, userID, limit)
	if err != nil {
		return nil, err
	}

	tasks := make([]TaskStatus, 0, len(ids))
	for _, id := range ids {
		meta, err := m.side.GetTaskMeta(ctx, id)
		if err != nil {
			logger.Warn("Skipping unreadable task", "task_id", id, "error", err)
			continue
		}
		if meta == nil {
			continue
		}
		tasks = append(tasks, *merge(id, meta, m.findTask(id, meta.Queue)))
	}
	return tasks, nil
}

func (m *Monitor) QueueStats(ctx context.Context) (*QueueStats, error) {
	if m.inspector == nil {
		return nil, fmt.Errorf("queue inspector is not configured")
	}
	queues, err := m.inspector.Queues()
	if err != nil {
		return nil, fmt.Errorf("list queues failed: %w", err)
	}

	stats := &QueueStats{Queues: make(map[string]QueueCounts, len(queues))}
	for _, q := range queues {
		info, err := m.inspector.GetQueueInfo(q)
		if err != nil {
			logger.Warn("Failed to inspect queue", "queue", q, "error", err)
			continue
		}
		stats.Queues[q] = QueueCounts{
			Active:    info.Active,
			Pending:   info.Pending,
			Scheduled: info.Scheduled,
			Retry:     info.Retry,
			Archived:  info.Archived,
			Completed: info.Completed,
			Paused:    info.Paused,
		}
		stats.TotalActive += info.Active
		stats.TotalPending += info.Pending
		stats.TotalScheduled += info.Scheduled
		stats.TotalRetry += info.Retry
	}
	return stats, nil
}

func (m *Monitor) WorkerStats(ctx context.Context) (*WorkerStats, error) {
	if m.inspector == nil {
		return nil, fmt.Errorf("queue inspector is not configured")
	}
	servers, err := m.inspector.Servers()
	if err != nil {
		return nil, fmt.Errorf("list servers failed: %w", err)
	}

	stats := &WorkerStats{Workers: make(map[string]WorkerInfo, len(servers))}
	for _, s := range servers {
		stats.Workers[s.ID] = WorkerInfo{
			Host:          s.Host,
			PID:           s.PID,
			Status:        s.Status,
			Concurrency:   s.Concurrency,
			ActiveWorkers: len(s.ActiveWorkers),
			Queues:        s.Queues,
			Started:       s.Started,
		}
	}
	stats.TotalWorkers = len(stats.Workers)
	return stats, nil
}

// owned loads the metadata of taskID and checks that userID submitted it.
func (m *Monitor) owned(ctx context.Context, taskID, userID string) (*sidestore.JobMeta, error) {
	meta, err := m.side.GetTaskMeta(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if meta == nil {
		return nil, apperrors.NotFound("task", taskID)
	}
	if userID != "" && meta.UserID != userID {
		return nil, apperrors.Validation("task %s is not owned by this user", taskID)
	}
	return meta, nil
}

// CancelTask stops a job. The metadata is marked cancelled first so a
// worker that picks the task up afterwards skips it.
func (m *Monitor) CancelTask(ctx context.Context, taskID, userID string) error {
	meta, err := m.owned(ctx, taskID, userID)
	if err != nil {
		return err
	}
	if meta.State.Terminal() {
		return apperrors.Validation("task %s is already %s", taskID, meta.State)
	}

	if err := m.side.Finish(ctx, taskID, sidestore.StateCancelled, nil, "cancelled by user"); err != nil {
		return err
	}

	info := m.findTask(taskID, meta.Queue)
	if info == nil {
		return nil
	}
	switch info.State {
	case asynq.TaskStateActive:
		err = m.inspector.CancelProcessing(taskID)
	case asynq.TaskStatePending, asynq.TaskStateScheduled, asynq.TaskStateRetry:
		err = m.inspector.DeleteTask(info.Queue, taskID)
	}
	if err != nil {
		return fmt.Errorf("cancel task failed: %w", err)
	}

	logger.Info("Task cancelled", "task_id", taskID, "user_id", meta.UserID, "asynq_state", info.State.String())
	return nil
}

// RetryTask resubmits a failed job with its original parameters and
// returns the new job id.
func (m *Monitor) RetryTask(ctx context.Context, taskID, userID string) (string, error) {
	meta, err := m.owned(ctx, taskID, userID)
	if err != nil {
		return "", err
	}
	if meta.State != sidestore.StateFailed {
		return "", apperrors.Validation("only failed tasks can be retried, task %s is %s", taskID, meta.State)
	}
	if m.resubmitter == nil {
		return "", fmt.Errorf("task retry is not configured")
	}

	newID, err := m.resubmitter.Resubmit(ctx, meta)
	if err != nil {
		return "", err
	}
	logger.Info("Task retried", "task_id", taskID, "new_task_id", newID, "user_id", meta.UserID)
	return newID, nil
}

// Analytics summarises jobs created within the last days. An empty userID
// covers every user.
func (m *Monitor) Analytics(ctx context.Context, userID string, days int) (*Analytics, error) {
	if days <= 0 {
		days = DefaultAnalyticsDays
	}
	since := m.now().Add(-time.Duration(days) * 24 * time.Hour)

	out := &Analytics{TaskTypes: map[string]int{}}
	var completion []float64

	err := m.side.ScanTaskMeta(ctx, func(taskID string, meta *sidestore.JobMeta, err error) error {
		if err != nil || meta == nil {
			return nil
		}
		if meta.CreatedAt.Before(since) {
			return nil
		}
		if userID != "" && meta.UserID != userID {
			return nil
		}

		out.TotalTasks++
		out.TaskTypes[meta.TaskType]++

		switch meta.State {
		case sidestore.StateSucceeded:
			out.CompletedTasks++
			if meta.CompletedAt != nil {
				completion = append(completion, meta.CompletedAt.Sub(meta.CreatedAt).Seconds())
			}
		case sidestore.StateFailed:
			out.FailedTasks++
		case sidestore.StateCancelled:
			out.CancelledTasks++
		default:
			out.PendingTasks++
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan tasks failed: %w", err)
	}

	if len(completion) > 0 {
		var sum float64
		for _, c := range completion {
			sum += c
		}
		out.AvgCompletionTime = sum / float64(len(completion))
	}
	if out.TotalTasks > 0 {
		out.SuccessRate = float64(out.CompletedTasks) / float64(out.TotalTasks)
	}
	return out, nil
}

// CleanupOldTasks deletes metadata created more than days ago along with
// entries that no longer decode. Records written with a newer schema are
// left alone; their own TTL expires them.
func (m *Monitor) CleanupOldTasks(ctx context.Context, days int) (int, error) {
	cutoff := m.now().Add(-time.Duration(days) * 24 * time.Hour)
	var stale []string

	err := m.side.ScanTaskMeta(ctx, func(taskID string, meta *sidestore.JobMeta, err error) error {
		if errors.Is(err, sidestore.ErrUnsupportedSchema) {
			return nil
		}
		if err != nil || meta == nil || meta.CreatedAt.Before(cutoff) {
			stale = append(stale, taskID)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan tasks failed: %w", err)
	}

	cleaned := 0
	for _, id := range stale {
		if err := m.side.DeleteTaskMeta(ctx, id); err != nil {
			logger.Warn("Failed to delete task metadata", "task_id", id, "error", err)
			continue
		}
		cleaned++
	}
	if cleaned > 0 {
		logger.Info("Old task metadata cleaned", "count", cleaned, "days", days)
	}
	return cleaned, nil
}
