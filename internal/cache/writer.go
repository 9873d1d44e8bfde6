package cache

import (
	"fmt"
	"sync"
	"time"

	"chatsync/internal/constants"
	apperrors "chatsync/internal/errors"
	"chatsync/internal/models"

	"github.com/sirupsen/logrus"
)

// Mutation is one cache transform. A panic inside it means the cache shape
// violated an assumption; the writer treats that as a recoverable failure.
type Mutation func(Data) Data

// WriterStore is the slice of the snapshot store the defensive writer needs.
type WriterStore interface {
	Apply(conversationID string, transform func(Data) Data)
	Invalidate(conversationID string)
}

// SafeWriter wraps cache mutation with invalidation and a fixed retry
// sequence so transient shape mismatches self-heal. Callers get the result
// of the first attempt only; retries are fire-and-forget, and if they all
// exhaust the cache corrects itself on the next natural refetch.
type SafeWriter struct {
	store      WriterStore
	logger     *logrus.Logger
	attempts   int
	retryDelay time.Duration

	mu     sync.Mutex
	closed bool
}

func NewSafeWriter(store WriterStore, logger *logrus.Logger) *SafeWriter {
	return &SafeWriter{
		store:      store,
		logger:     logger,
		attempts:   constants.CacheWriterRetryAttempts,
		retryDelay: constants.CacheWriterRetryDelay,
	}
}

// Close stops any scheduled retries from firing. Safe to call more than once.
func (w *SafeWriter) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
}

func (w *SafeWriter) isClosed() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closed
}

// Apply runs the mutation against the conversation's cache. It returns true
// if the first attempt succeeded. On failure it invalidates the conversation
// (forcing a future refetch) and schedules the retry sequence; callers must
// not block on eventual success.
func (w *SafeWriter) Apply(conversationID, operation string, m Mutation) bool {
	if err := w.tryApply(conversationID, m); err != nil {
		w.logger.WithError(apperrors.NewCacheShapeError(operation, err)).WithFields(logrus.Fields{
			"conversation_id": conversationID,
			"operation":       operation,
		}).Warn("Cache mutation failed, invalidating and scheduling retries")

		w.store.Invalidate(conversationID)
		w.scheduleRetries(conversationID, operation, m)
		return false
	}
	return true
}

// UpsertRow applies a feed row through the safe path. A nil or malformed row
// is a no-op success: it never touches the cache and reports true.
func (w *SafeWriter) UpsertRow(conversationID string, row *models.MessageRow, allowAppend bool) bool {
	if !row.Valid() {
		return true
	}
	msg := row.Message()
	return w.Apply(conversationID, "upsert_row_from_feed", func(d Data) Data {
		return UpsertRowFromFeed(d, msg, allowAppend)
	})
}

func (w *SafeWriter) tryApply(conversationID string, m Mutation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cache mutation panicked: %v", r)
		}
	}()
	w.store.Apply(conversationID, func(d Data) Data { return m(d) })
	return nil
}

// scheduleRetries arms the fixed retry sequence: equally spaced delays, not
// exponential. Each retry is gated on the writer still being live so nothing
// fires after the consumer is torn down.
func (w *SafeWriter) scheduleRetries(conversationID, operation string, m Mutation) {
	for i := 1; i <= w.attempts; i++ {
		attempt := i
		time.AfterFunc(time.Duration(attempt)*w.retryDelay, func() {
			if w.isClosed() {
				return
			}
			if err := w.tryApply(conversationID, m); err != nil {
				w.logger.WithError(err).WithFields(logrus.Fields{
					"conversation_id": conversationID,
					"operation":       operation,
					"attempt":         attempt,
				}).Debug("Cache mutation retry failed")
			}
		})
	}
}
