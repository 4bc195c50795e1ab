package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors.
var (
	ErrTopicNotFound     = errors.New("topic not found")
	ErrTopicFailed       = errors.New("topic has failed")
	ErrIllegalTransition = errors.New("illegal stage transition")
)

// ValidationError is a malformed request or identifier. It is never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

// ThrottlingError means the provider asked us to slow down.
type ThrottlingError struct {
	Provider   string
	RetryAfter time.Duration
	Err        error
}

func (e *ThrottlingError) Error() string {
	msg := fmt.Sprintf("%s: throttled", e.Provider)
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %s)", e.RetryAfter)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ThrottlingError) Unwrap() error { return e.Err }

// TransientProviderError is a provider failure that may succeed on retry.
type TransientProviderError struct {
	Provider   string
	StatusCode int
	Err        error
}

func (e *TransientProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *TransientProviderError) Unwrap() error { return e.Err }

// TerminalJobError records a synthesis job that reported failure.
type TerminalJobError struct {
	JobID  string
	Status JobStatus
	// Detail is the provider's failure message, when it keeps one.
	Detail string
}

func (e *TerminalJobError) Error() string {
	msg := fmt.Sprintf("synthesis job %s ended %s", e.JobID, e.Status)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// ConsistencyError is a ledger or artifact state that contradicts the request.
type ConsistencyError struct {
	TopicID string
	Reason  string
	Err     error
}

func (e *ConsistencyError) Error() string {
	msg := fmt.Sprintf("topic %s: %s", e.TopicID, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConsistencyError) Unwrap() error { return e.Err }

// NotFound wraps ErrTopicNotFound for topicID.
func NotFound(topicID string) error {
	return &ConsistencyError{TopicID: topicID, Reason: "no ledger record", Err: ErrTopicNotFound}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsThrottling reports whether err is a ThrottlingError.
func IsThrottling(err error) bool {
	var t *ThrottlingError
	return errors.As(err, &t)
}

// IsConsistency reports whether err is a ConsistencyError.
func IsConsistency(err error) bool {
	var c *ConsistencyError
	return errors.As(err, &c)
}

// IsRetryable reports whether a provider call that returned err may be attempted again.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTopicFailed) || IsValidation(err) || IsConsistency(err) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}
