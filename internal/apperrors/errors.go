// Package apperrors defines the error taxonomy shared by the HTTP layer,
// the services and the job handlers.
package apperrors

import (
	"errors"
	"fmt"
	"time"
)

// ErrDuplicate is returned by stores when the (user_id, content_hash)
// uniqueness constraint rejects an insert.
var ErrDuplicate = errors.New("duplicate document content")

// ValidationError covers bad input and exceeded limits. Never retried.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// NotFoundError reports a missing document, user or job.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// TransientError wraps a network failure talking to an embedding, vector
// index or model backend.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// RateLimitError is returned when a user exhausted their query allowance.
type RateLimitError struct {
	Limit      int
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded: max %d queries per day", e.Limit)
}

// FatalJobError is the error a job keeps after its retries are exhausted.
type FatalJobError struct {
	TaskID string
	Err    error
}

func (e *FatalJobError) Error() string {
	return fmt.Sprintf("task %s failed: %v", e.TaskID, e.Err)
}

func (e *FatalJobError) Unwrap() error { return e.Err }

func Validation(format string, args ...any) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

func NotFound(kind, id string) error {
	return &NotFoundError{Kind: kind, ID: id}
}

func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	return &TransientError{Op: op, Err: err}
}

func RateLimited(limit int, retryAfter time.Duration) error {
	return &RateLimitError{Limit: limit, RetryAfter: retryAfter}
}

func Fatal(taskID string, err error) error {
	return &FatalJobError{TaskID: taskID, Err: err}
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

func IsTransient(err error) bool {
	var target *TransientError
	return errors.As(err, &target)
}

func IsRateLimit(err error) bool {
	var target *RateLimitError
	return errors.As(err, &target)
}

func IsDuplicate(err error) bool {
	return errors.Is(err, ErrDuplicate)
}

// IsRetryable reports whether a job should be attempted again after err.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return !IsValidation(err) && !IsRateLimit(err) && !IsNotFound(err) && !IsDuplicate(err)
}
