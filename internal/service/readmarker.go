package service

import (
	"context"
	"sync"
	"time"

	"chatsync/internal/constants"
	"chatsync/internal/ids"
	"chatsync/internal/models"

	"github.com/sirupsen/logrus"
)

// ReadReceiptWriter is the slice of the receipt store the marker writer needs.
type ReadReceiptWriter interface {
	UpsertRead(ctx context.Context, receipt models.ReadReceipt) error
}

// UnreadFlagger clears the conversation's unread flag after a successful
// marker write. *cache.Store satisfies it.
type UnreadFlagger interface {
	SetUnread(conversationID string, unread bool)
}

// ReadMarkerWriter rate-limits outbound "read up to X" writes while
// guaranteeing the latest marker is eventually delivered. At most one write
// leaves per throttle window; targets arriving inside an open window become
// pending and are flushed exactly once when it elapses, the newest target
// superseding earlier ones.
type ReadMarkerWriter struct {
	receipts ReadReceiptWriter
	flags    UnreadFlagger
	logger   *logrus.Logger
	window   time.Duration

	mu            sync.Mutex
	closed        bool
	lastConfirmed map[string]string
	pending       map[string]models.ReadReceipt
	timers        map[string]*time.Timer
}

func NewReadMarkerWriter(receipts ReadReceiptWriter, flags UnreadFlagger, logger *logrus.Logger) *ReadMarkerWriter {
	return &ReadMarkerWriter{
		receipts:      receipts,
		flags:         flags,
		logger:        logger,
		window:        constants.ReadMarkerThrottleWindow,
		lastConfirmed: make(map[string]string),
		pending:       make(map[string]models.ReadReceipt),
		timers:        make(map[string]*time.Timer),
	}
}

// Close stops all pending flushes. Markers not yet flushed are dropped; the
// next session re-derives them from the visible window.
func (w *ReadMarkerWriter) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	for id, timer := range w.timers {
		timer.Stop()
		delete(w.timers, id)
	}
}

// Observe considers the last message of the currently-visible window as a
// read-marker target. It writes only when the viewer sits at the bottom, the
// target is a durable (non-temp) id, and the target differs from the last
// marker this writer itself confirmed. The write itself happens when the
// throttle window elapses.
func (w *ReadMarkerWriter) Observe(conversationID, userID string, last models.ConversationMessage, atBottom bool) {
	if !atBottom || last.ID == "" || ids.IsTemp(last.ID) {
		return
	}

	receipt := models.ReadReceipt{
		ConversationID:    conversationID,
		UserID:            userID,
		LastReadMessageID: last.ID,
		LastReadAt:        time.Now().UTC(),
	}

	w.mu.Lock()
	if w.closed || w.lastConfirmed[conversationID] == last.ID {
		w.mu.Unlock()
		return
	}
	// Latest target supersedes any earlier pending one; the first target of
	// a window arms its single flush.
	w.pending[conversationID] = receipt
	if _, open := w.timers[conversationID]; !open {
		w.timers[conversationID] = time.AfterFunc(w.window, func() {
			w.flush(conversationID)
		})
	}
	w.mu.Unlock()
}

// flush runs when a throttle window elapses: the pending target is written
// exactly once, however many targets arrived while the window was open.
func (w *ReadMarkerWriter) flush(conversationID string) {
	w.mu.Lock()
	delete(w.timers, conversationID)
	receipt, ok := w.pending[conversationID]
	delete(w.pending, conversationID)
	if !ok || w.closed || w.lastConfirmed[conversationID] == receipt.LastReadMessageID {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultHTTPTimeoutSec)*time.Second)
	defer cancel()
	w.write(ctx, receipt)
}

func (w *ReadMarkerWriter) write(ctx context.Context, receipt models.ReadReceipt) {
	if err := w.receipts.UpsertRead(ctx, receipt); err != nil {
		w.logger.WithError(err).WithFields(logrus.Fields{
			"conversation_id": receipt.ConversationID,
			"message_id":      receipt.LastReadMessageID,
		}).Warn("Failed to write read marker")
		return
	}

	w.mu.Lock()
	w.lastConfirmed[receipt.ConversationID] = receipt.LastReadMessageID
	w.mu.Unlock()

	w.flags.SetUnread(receipt.ConversationID, false)
}
