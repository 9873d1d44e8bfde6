package errors

import (
	"fmt"
)

// Common error creators for the send pipeline and stores

// NewValidationError creates a validation error with field context
func NewValidationError(field, message string) *AppError {
	return New(ErrCodeValidationFailed, message).
		WithContext("field", field).
		WithUserMessage(fmt.Sprintf("Invalid %s: %s", field, message))
}

// NewEmptyMessageError flags a send attempt whose composed body would be
// empty with no attachment. Raised before any optimistic insert.
func NewEmptyMessageError() *AppError {
	return New(ErrCodeEmptyMessage, "message has no text and no attachment").
		WithUserMessage("Cannot send an empty message")
}

// NewMissingContextError flags a send attempt without conversation or user context.
func NewMissingContextError(field string) *AppError {
	return New(ErrCodeMissingContext, fmt.Sprintf("missing %s", field)).
		WithContext("field", field).
		WithUserMessage("Conversation is not ready yet")
}

// NewBlockedError reports a blocking relationship between sender and recipient.
func NewBlockedError(otherID string, youBlocked bool) *AppError {
	msg := "You can't message this person because they have blocked you"
	if youBlocked {
		msg = "Unblock this person to send them a message"
	}
	return New(ErrCodeBlockedContact, "blocking relationship exists").
		WithContext("other_id", otherID).
		WithContext("you_blocked", youBlocked).
		WithUserMessage(msg)
}

// NewRemoteWriteError wraps a failed remote insert/update. Retryable: the
// optimistic message stays in the cache for a later retry or discard.
func NewRemoteWriteError(operation string, err error) *AppError {
	return WrapRetryable(err, ErrCodeRemoteWrite, fmt.Sprintf("remote %s failed", operation)).
		WithContext("operation", operation).
		WithUserMessage("Message failed to send. Tap to retry.")
}

// NewCacheShapeError wraps a cache mutation failure. Never surfaced to the
// user; the defensive writer resolves it with invalidation and retries.
func NewCacheShapeError(operation string, err error) *AppError {
	return WrapRetryable(err, ErrCodeCacheShape, fmt.Sprintf("cache %s failed", operation)).
		WithContext("operation", operation)
}

// NewStoreError creates a store error with operation context
func NewStoreError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeStoreQuery, fmt.Sprintf("store %s failed", operation)).
		WithContext("operation", operation).
		WithUserMessage("Storage operation failed")
}
