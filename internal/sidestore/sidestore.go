// Package sidestore keeps job metadata, per-user task history,
// notifications and cached reports in Redis. Every key is scoped by a user
// or job id and every key carries an expiry.
package sidestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	DefaultTaskMetaTTL     = 24 * time.Hour
	DefaultUserTaskListTTL = 7 * 24 * time.Hour
	NotificationTTL        = 7 * 24 * time.Hour
	ReportTTL              = time.Hour
	ExportTTL              = 24 * time.Hour

	// MaxListLength bounds user_tasks and user_notifications.
	MaxListLength = 100

	taskMetaPrefix = "task_meta:"
	maxTxRetries   = 10
)

func TaskMetaKey(taskID string) string          { return taskMetaPrefix + taskID }
func UserTasksKey(userID string) string         { return "user_tasks:" + userID }
func UserNotificationsKey(userID string) string { return "user_notifications:" + userID }
func UserChannel(userID string) string          { return "user_channel:" + userID }

func NotificationKey(userID, id string) string {
	return "notification:" + userID + ":" + id
}

func ReportKey(userID string, days int) string {
	return fmt.Sprintf("user_report:%s:%d", userID, days)
}

func ExportKey(userID string, ts time.Time) string {
	return fmt.Sprintf("user_export:%s:%d", userID, ts.Unix())
}

type Options struct {
	TaskMetaTTL     time.Duration
	UserTaskListTTL time.Duration
}

type Store struct {
	rdb         *redis.Client
	taskMetaTTL time.Duration
	userListTTL time.Duration
	now         func() time.Time
}

func New(rdb *redis.Client, opts Options) *Store {
	if opts.TaskMetaTTL <= 0 {
		opts.TaskMetaTTL = DefaultTaskMetaTTL
	}
	if opts.UserTaskListTTL <= 0 {
		opts.UserTaskListTTL = DefaultUserTaskListTTL
	}
	return &Store{
		rdb:         rdb,
		taskMetaTTL: opts.TaskMetaTTL,
		userListTTL: opts.UserTaskListTTL,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Client() *redis.Client { return s.rdb }

// TrackTask stores the job metadata and records the id at the head of the
// user's bounded history.
func (s *Store) TrackTask(ctx context.Context, meta *JobMeta) error {
	now := s.now()
	meta.SchemaVersion = SchemaVersion
	if meta.State == "" {
		meta.State = StateQueued
	}
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = now
	}
	meta.UpdatedAt = now

	raw, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode job meta: %w", err)
	}

	listKey := UserTasksKey(meta.UserID)
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, TaskMetaKey(meta.TaskID), raw, s.taskMetaTTL)
		pipe.LPush(ctx, listKey, meta.TaskID)
		pipe.LTrim(ctx, listKey, 0, MaxListLength-1)
		pipe.Expire(ctx, listKey, s.userListTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("track task: %w", err)
	}
	return nil
}

// GetTaskMeta returns nil, nil when the job is unknown or expired.
func (s *Store) GetTaskMeta(ctx context.Context, taskID string) (*JobMeta, error) {
	raw, err := s.rdb.Get(ctx, TaskMetaKey(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job meta: %w", err)
	}
	return decodeJobMeta(raw)
}

// UpdateTaskMeta applies fn under optimistic locking. The key keeps its
// TTL. A missing key is left alone and fn is not called.
func (s *Store) UpdateTaskMeta(ctx context.Context, taskID string, fn func(meta *JobMeta) bool) error {
	key := TaskMetaKey(taskID)
	txf := func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		meta, err := decodeJobMeta(raw)
		if err != nil {
			return err
		}
		if !fn(meta) {
			return nil
		}
		meta.UpdatedAt = s.now()
		updated, err := json.Marshal(meta)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, redis.KeepTTL)
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("update job meta: %w", err)
		}
		return nil
	}
	return fmt.Errorf("update job meta: %w", redis.TxFailedErr)
}

// UpdateProgress records a progress checkpoint. Values lower than the
// stored progress are ignored so readers never see progress go backwards.
func (s *Store) UpdateProgress(ctx context.Context, taskID string, progress int, message string) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	return s.UpdateTaskMeta(ctx, taskID, func(meta *JobMeta) bool {
		if meta.State.Terminal() || progress < meta.Progress {
			return false
		}
		meta.State = StateProcessing
		meta.Progress = progress
		if message != "" {
			meta.Message = message
		}
		return true
	})
}

// Finish moves the job to a terminal state.
func (s *Store) Finish(ctx context.Context, taskID string, state JobState, result json.RawMessage, errMsg string) error {
	return s.UpdateTaskMeta(ctx, taskID, func(meta *JobMeta) bool {
		if meta.State == StateCancelled && state != StateCancelled {
			return false
		}
		now := s.now()
		meta.State = state
		meta.CompletedAt = &now
		if state == StateSucceeded {
			meta.Progress = 100
			meta.Error = ""
		}
		if result != nil {
			meta.Result = result
		}
		if errMsg != "" {
			meta.Error = errMsg
		}
		return true
	})
}

// MarkRetrying notes a failed attempt that asynq will retry.
func (s *Store) MarkRetrying(ctx context.Context, taskID string, retried int, errMsg string) error {
	return s.UpdateTaskMeta(ctx, taskID, func(meta *JobMeta) bool {
		if meta.State.Terminal() {
			return false
		}
		meta.Retried = retried
		meta.Error = errMsg
		return true
	})
}

// UserTaskIDs returns up to limit ids, newest first.
func (s *Store) UserTaskIDs(ctx context.Context, userID string, limit int) ([]string, error) {
	if limit <= 0 || limit > MaxListLength {
		limit = MaxListLength
	}
	ids, err := s.rdb.LRange(ctx, UserTasksKey(userID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list user tasks: %w", err)
	}
	return ids, nil
}

// ScanTaskMeta calls fn for every stored job. Entries that cannot be
// decoded are passed with a nil meta and the decode error.
func (s *Store) ScanTaskMeta(ctx context.Context, fn func(taskID string, meta *JobMeta, err error) error) error {
	iter := s.rdb.Scan(ctx, 0, taskMetaPrefix+"*", 200).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		taskID := key[len(taskMetaPrefix):]

		raw, err := s.rdb.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return fmt.Errorf("get %s: %w", key, err)
		}
		meta, decodeErr := decodeJobMeta(raw)
		if err := fn(taskID, meta, decodeErr); err != nil {
			return err
		}
	}
	return iter.Err()
}

func (s *Store) DeleteTaskMeta(ctx context.Context, taskID string) error {
	return s.rdb.Del(ctx, TaskMetaKey(taskID)).Err()
}

// UntrackTask removes a job recorded by TrackTask that never made it onto
// the queue.
func (s *Store) UntrackTask(ctx context.Context, userID, taskID string) error {
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, TaskMetaKey(taskID))
		pipe.LRem(ctx, UserTasksKey(userID), 0, taskID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("untrack task: %w", err)
	}
	return nil
}

// PushNotification stores n, adds it to the user's bounded list and
// publishes it on the user's channel.
func (s *Store) PushNotification(ctx context.Context, n *Notification) (string, error) {
	n.SchemaVersion = SchemaVersion
	if n.Timestamp.IsZero() {
		n.Timestamp = s.now()
	}
	if n.ID == "" {
		n.ID = strconv.FormatInt(n.Timestamp.UnixNano(), 10)
	}
	if n.Data == nil {
		n.Data = map[string]any{}
	}

	raw, err := json.Marshal(n)
	if err != nil {
		return "", fmt.Errorf("encode notification: %w", err)
	}

	key := NotificationKey(n.UserID, n.ID)
	listKey := UserNotificationsKey(n.UserID)
	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, key, raw, NotificationTTL)
		pipe.LPush(ctx, listKey, key)
		pipe.LTrim(ctx, listKey, 0, MaxListLength-1)
		pipe.Expire(ctx, listKey, NotificationTTL)
		pipe.Publish(ctx, UserChannel(n.UserID), raw)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("push notification: %w", err)
	}
	return key, nil
}

// Notifications returns the newest notifications still present.
func (s *Store) Notifications(ctx context.Context, userID string, limit int) ([]Notification, error) {
	if limit <= 0 || limit > MaxListLength {
		limit = MaxListLength
	}
	keys, err := s.rdb.LRange(ctx, UserNotificationsKey(userID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	out := make([]Notification, 0, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("get notifications: %w", err)
	}
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			continue
		}
		n, err := decodeNotification([]byte(str))
		if err != nil {
			continue
		}
		out = append(out, *n)
	}
	return out, nil
}

// MarkNotificationRead flags one of the user's notifications as read. It
// reports false when the notification is gone.
func (s *Store) MarkNotificationRead(ctx context.Context, userID, id string) (bool, error) {
	key := NotificationKey(userID, id)
	raw, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get notification: %w", err)
	}
	n, err := decodeNotification(raw)
	if err != nil {
		return false, err
	}
	if n.UserID != userID {
		return false, nil
	}
	n.Read = true
	updated, err := json.Marshal(n)
	if err != nil {
		return false, fmt.Errorf("encode notification: %w", err)
	}
	if err := s.rdb.Set(ctx, key, updated, redis.KeepTTL).Err(); err != nil {
		return false, fmt.Errorf("mark notification read: %w", err)
	}
	return true, nil
}

// Subscribe listens on the user's notification channel.
func (s *Store) Subscribe(ctx context.Context, userID string) *redis.PubSub {
	return s.rdb.Subscribe(ctx, UserChannel(userID))
}

func (s *Store) CacheReport(ctx context.Context, userID string, days int, report any) error {
	raw, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	return s.rdb.Set(ctx, ReportKey(userID, days), raw, ReportTTL).Err()
}

// GetReport decodes a cached report into out and reports whether one was
// found.
func (s *Store) GetReport(ctx context.Context, userID string, days int, out any) (bool, error) {
	raw, err := s.rdb.Get(ctx, ReportKey(userID, days)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get report: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("decode report: %w", err)
	}
	return true, nil
}

// StoreExport keeps an export for a day and returns its key.
func (s *Store) StoreExport(ctx context.Context, userID string, export any) (string, int, error) {
	raw, err := json.Marshal(export)
	if err != nil {
		return "", 0, fmt.Errorf("encode export: %w", err)
	}
	key := ExportKey(userID, s.now())
	if err := s.rdb.Set(ctx, key, raw, ExportTTL).Err(); err != nil {
		return "", 0, fmt.Errorf("store export: %w", err)
	}
	return key, len(raw), nil
}

// SweepExpired gives every key matching patterns that has no expiry the
// fallback ttl. It returns how many keys were fixed.
func (s *Store) SweepExpired(ctx context.Context, patterns []string, ttl time.Duration) (int, error) {
	fixed := 0
	for _, pattern := range patterns {
		iter := s.rdb.Scan(ctx, 0, pattern, 200).Iterator()
		for iter.Next(ctx) {
			key := iter.Val()
			remaining, err := s.rdb.TTL(ctx, key).Result()
			if err != nil {
				continue
			}
			if remaining == -1 {
				if err := s.rdb.Expire(ctx, key, ttl).Err(); err == nil {
					fixed++
				}
			}
		}
		if err := iter.Err(); err != nil {
			return fixed, fmt.Errorf("scan %s: %w", pattern, err)
		}
	}
	return fixed, nil
}

// SweepPatterns are the key families owned by the side store.
var SweepPatterns = []string{
	"task_meta:*",
	"user_tasks:*",
	"notification:*",
	"user_notifications:*",
	"user_report:*",
	"user_export:*",
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
