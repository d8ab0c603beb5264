package providers

import (
	"context"
	"errors"
	"fmt"
)

// ErrorClass splits provider failures into the classes the executor's
// retry policy cares about.
type ErrorClass string

const (
	// ErrorTransient covers failures expected to clear on their own.
	ErrorTransient ErrorClass = "transient"
	// ErrorThrottled is a rate-limit rejection; retried like transient.
	ErrorThrottled ErrorClass = "throttled"
	// ErrorTimeout is a deadline expiry; retried like transient.
	ErrorTimeout ErrorClass = "timeout"
	// ErrorPermanent fails the action immediately and cascades skips.
	ErrorPermanent ErrorClass = "permanent"
)

// ProviderError is a classified control-plane failure.
type ProviderError struct {
	Class      ErrorClass
	Provider   string
	Op         string
	ResourceID string
	Err        error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s %s %s: %s error: %v", e.Provider, e.Op, e.ResourceID, e.Class, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the executor may retry the action.
func (e *ProviderError) Retryable() bool {
	switch e.Class {
	case ErrorTransient, ErrorThrottled, ErrorTimeout:
		return true
	}
	return false
}

// NewTransientError wraps a failure expected to clear on retry.
func NewTransientError(provider, op, resourceID string, err error) *ProviderError {
	return &ProviderError{Class: ErrorTransient, Provider: provider, Op: op, ResourceID: resourceID, Err: err}
}

// NewThrottledError wraps a rate-limit rejection.
func NewThrottledError(provider, op, resourceID string, err error) *ProviderError {
	return &ProviderError{Class: ErrorThrottled, Provider: provider, Op: op, ResourceID: resourceID, Err: err}
}

// NewTimeoutError wraps a deadline expiry.
func NewTimeoutError(provider, op, resourceID string, err error) *ProviderError {
	return &ProviderError{Class: ErrorTimeout, Provider: provider, Op: op, ResourceID: resourceID, Err: err}
}

// NewPermanentError wraps a failure retrying cannot fix.
func NewPermanentError(provider, op, resourceID string, err error) *ProviderError {
	return &ProviderError{Class: ErrorPermanent, Provider: provider, Op: op, ResourceID: resourceID, Err: err}
}

// IsRetryable reports whether an action that failed with err may be
// attempted again. Context deadline expiry counts as a timeout. An
// unclassified error does not get retried: only failures the provider
// explicitly marked transient are worth another attempt.
func IsRetryable(err error) bool {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Retryable()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// ClassOf extracts the error class, defaulting to permanent for
// anything unclassified.
func ClassOf(err error) ErrorClass {
	var perr *ProviderError
	if errors.As(err, &perr) {
		return perr.Class
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTimeout
	}
	return ErrorPermanent
}
