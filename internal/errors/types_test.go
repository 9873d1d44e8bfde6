package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppErrorError(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		expected string
	}{
		{
			name:     "without cause",
			err:      New(ErrCodeEmptyMessage, "message has no content"),
			expected: "EMPTY_MESSAGE: message has no content",
		},
		{
			name:     "with cause",
			err:      Wrap(errors.New("boom"), ErrCodeRemoteWrite, "insert failed"),
			expected: "REMOTE_WRITE: insert failed: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestAppErrorUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewRemoteWriteError("insert", cause)
	assert.True(t, errors.Is(err, cause))
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(NewRemoteWriteError("insert", errors.New("x"))))
	assert.True(t, IsRetryable(NewCacheShapeError("upsert", errors.New("x"))))
	assert.False(t, IsRetryable(NewEmptyMessageError()))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestGetCode(t *testing.T) {
	assert.Equal(t, ErrCodeBlockedContact, GetCode(NewBlockedError("u2", false)))
	assert.Equal(t, ErrCodeInternalError, GetCode(errors.New("plain")))
}

func TestGetUserMessage(t *testing.T) {
	blocked := NewBlockedError("u2", true)
	assert.Equal(t, "Unblock this person to send them a message", GetUserMessage(blocked))
	assert.Equal(t, "An internal error occurred", GetUserMessage(errors.New("plain")))
}

func TestWithContext(t *testing.T) {
	err := New(ErrCodeStoreQuery, "select failed").WithContext("conversation_id", "c1")
	assert.Equal(t, "c1", err.Context["conversation_id"])
}
