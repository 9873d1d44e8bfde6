package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"chatsync/internal/cache"
	"chatsync/internal/constants"
	apperrors "chatsync/internal/errors"
	"chatsync/internal/ids"
	"chatsync/internal/models"
	"chatsync/internal/tracing"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
)

// Manager owns the shared cache plumbing and hands out Conversation sessions.
type Manager struct {
	selfID     string
	store      *cache.Store
	writer     *cache.SafeWriter
	messages   MessageStore
	receipts   ReceiptStore
	policy     Policy
	readMarker *ReadMarkerWriter
	logger     *logrus.Logger

	watchCtx    context.Context
	watchCancel context.CancelFunc
	watchers    sync.WaitGroup

	mu    sync.Mutex
	convs map[string]*Conversation
}

func NewManager(selfID string, messages MessageStore, receipts ReceiptStore, policy Policy, logger *logrus.Logger) *Manager {
	store := cache.NewStore()
	watchCtx, watchCancel := context.WithCancel(context.Background())
	return &Manager{
		selfID:      selfID,
		store:       store,
		writer:      cache.NewSafeWriter(store, logger),
		messages:    messages,
		receipts:    receipts,
		policy:      policy,
		readMarker:  NewReadMarkerWriter(receipts, store, logger),
		logger:      logger,
		watchCtx:    watchCtx,
		watchCancel: watchCancel,
		convs:       make(map[string]*Conversation),
	}
}

// Store exposes the cache store for read-only consumers (unread flags,
// invalidation subscriptions).
func (m *Manager) Store() *cache.Store {
	return m.store
}

// Conversation opens (or returns the already-open) session for a
// conversation. Participants are normalized; the self id never counts as an
// other participant.
func (m *Manager) Conversation(conversationID string, otherParticipants []string) *Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c, ok := m.convs[conversationID]; ok {
		return c
	}
	c := &Conversation{
		id:     conversationID,
		others: normalizeOthers(otherParticipants, m.selfID),
		m:      m,
		failed: make(map[string]models.FailedMessage),
	}
	m.convs[conversationID] = c

	// Every open conversation watches for invalidations so a cache-shape
	// failure that exhausts the writer's retries still refetches.
	m.watchers.Add(1)
	go func() {
		defer m.watchers.Done()
		c.Watch(m.watchCtx)
	}()
	return c
}

// Lookup returns the open session for a conversation, if any.
func (m *Manager) Lookup(conversationID string) (*Conversation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.convs[conversationID]
	return c, ok
}

// RefreshAll refetches every open conversation. Used by the fallback poller.
func (m *Manager) RefreshAll(ctx context.Context) error {
	m.mu.Lock()
	convs := make([]*Conversation, 0, len(m.convs))
	for _, c := range m.convs {
		convs = append(convs, c)
	}
	m.mu.Unlock()

	var firstErr error
	for _, c := range convs {
		if err := c.Refresh(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close tears down the invalidation watchers, all sessions, the read-marker
// writer and the cache writer's scheduled retries.
func (m *Manager) Close() {
	m.watchCancel()
	m.watchers.Wait()

	m.mu.Lock()
	convs := make([]*Conversation, 0, len(m.convs))
	for _, c := range m.convs {
		convs = append(convs, c)
	}
	m.mu.Unlock()

	for _, c := range convs {
		c.Close()
	}
	m.readMarker.Close()
	m.writer.Close()
}

func normalizeOthers(participants []string, selfID string) []string {
	var out []string
	for _, p := range ids.Normalize(participants) {
		if p != selfID {
			out = append(out, p)
		}
	}
	return out
}

// Conversation is one open conversation's sync session: the optimistic send
// protocol, feed ingestion, refetch merging and the derived views the UI
// reads. All cache mutation funnels through the manager's defensive writer.
type Conversation struct {
	id     string
	others []string
	m      *Manager

	mu              sync.Mutex
	failed          map[string]models.FailedMessage
	inflightRefresh context.CancelFunc
	refreshSeq      uint64
	closed          bool
}

// ID returns the conversation id.
func (c *Conversation) ID() string {
	return c.id
}

// Messages returns the current paginated snapshot.
func (c *Conversation) Messages() cache.Data {
	return c.m.store.Snapshot(c.id)
}

// FailedMessages returns a copy of the recoverable failed-send bucket,
// keyed by temp id.
func (c *Conversation) FailedMessages() map[string]models.FailedMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]models.FailedMessage, len(c.failed))
	for id, fm := range c.failed {
		out[id] = fm
	}
	return out
}

// SendMessage runs one optimistic send attempt: temp-message insert, policy
// check, remote write, then reconciliation or recovery. The optimistic
// message appears in the cache before the policy check runs, so the UI shows
// it immediately even when it is about to be rejected.
func (c *Conversation) SendMessage(ctx context.Context, text, attachmentPath string) (models.ConversationMessage, error) {
	if err := c.validateSend(text, attachmentPath); err != nil {
		return models.ConversationMessage{}, err
	}
	return c.send(ctx, ids.NewTempID(), ids.NewClientID(), text, attachmentPath)
}

// Retry re-runs a failed send, reusing the original temp id (same cache
// slot) and client id (same logical send for reconciliation).
func (c *Conversation) Retry(ctx context.Context, tempID string) (models.ConversationMessage, error) {
	c.mu.Lock()
	fm, ok := c.failed[tempID]
	if ok {
		delete(c.failed, tempID)
	}
	c.mu.Unlock()

	if !ok {
		return models.ConversationMessage{}, apperrors.New(apperrors.ErrCodeNotFound, "no failed send for this id").
			WithContext("temp_id", tempID)
	}
	return c.send(ctx, tempID, fm.ClientID, fm.Text, fm.AttachmentPath)
}

// Discard drops a failed send: the payload is forgotten and the temp message
// leaves the cache.
func (c *Conversation) Discard(tempID string) {
	c.mu.Lock()
	delete(c.failed, tempID)
	c.mu.Unlock()

	c.m.writer.Apply(c.id, "discard_failed", func(d cache.Data) cache.Data {
		return cache.RemoveByID(d, tempID)
	})
}

func (c *Conversation) validateSend(text, attachmentPath string) error {
	if c.id == "" {
		return apperrors.NewMissingContextError("conversation id")
	}
	if c.m.selfID == "" {
		return apperrors.NewMissingContextError("user id")
	}
	if models.ComposeBody(text, attachmentPath != "", "").IsEmpty() {
		return apperrors.NewEmptyMessageError()
	}
	return nil
}

func (c *Conversation) send(ctx context.Context, tempID, clientID, text, attachmentPath string) (models.ConversationMessage, error) {
	ctx, span := tracing.StartSpan(ctx, "conversation.send",
		attribute.String("conversation.id", c.id),
	)
	defer span.End()

	optimistic := models.ConversationMessage{
		ID:             tempID,
		ConversationID: c.id,
		SenderID:       c.m.selfID,
		CreatedAt:      time.Now().UTC(),
		Body:           models.ComposeBody(text, attachmentPath != "", clientID),
		AttachmentURL:  attachmentPath,
	}

	snapshot := c.m.store.Snapshot(c.id)
	c.m.writer.Apply(c.id, "optimistic_insert", func(d cache.Data) cache.Data {
		return cache.UpsertIntoNewestPage(d, optimistic)
	})

	// A refetch resolving after this point would clobber the optimistic
	// entry with stale data.
	c.cancelInflightRefresh()

	for _, other := range c.others {
		status, err := c.m.policy.CheckBlockStatus(ctx, c.m.selfID, other)
		if err != nil {
			return models.ConversationMessage{}, c.recoverFailedSend(optimistic, snapshot, text, attachmentPath, clientID,
				apperrors.NewRemoteWriteError("block check", err))
		}
		if status.Blocked() {
			c.rollbackOptimistic(tempID)
			tracing.RecordError(ctx, fmt.Errorf("send blocked by policy"))
			return models.ConversationMessage{}, apperrors.NewBlockedError(other, status.YouBlocked)
		}
	}

	row, err := c.m.messages.Insert(ctx, models.RowFromMessage(optimistic))
	if err != nil || !row.Valid() {
		if err == nil {
			err = fmt.Errorf("remote insert returned no row")
		}
		tracing.RecordError(ctx, err)
		return models.ConversationMessage{}, c.recoverFailedSend(optimistic, snapshot, text, attachmentPath, clientID,
			apperrors.NewRemoteWriteError("insert", err))
	}

	confirmed := row.Message()
	c.m.writer.Apply(c.id, "reconcile_sent", func(d cache.Data) cache.Data {
		return cache.ReconcileSent(d, tempID, confirmed)
	})

	c.m.logger.WithFields(logrus.Fields{
		"conversation_id": c.id,
		"message_id":      confirmed.ID,
	}).Debug("Send confirmed")
	return confirmed, nil
}

// rollbackOptimistic handles a policy rejection: the optimistic message is
// removed from the current cache, leaving concurrent feed rows untouched.
func (c *Conversation) rollbackOptimistic(tempID string) {
	c.m.writer.Apply(c.id, "rollback_optimistic", func(d cache.Data) cache.Data {
		return cache.RemoveByID(d, tempID)
	})
}

// recoverFailedSend handles a remote write failure: the optimistic message
// stays visible so the user can retry or discard it. The re-assert runs
// against the current snapshot, not a blind revert, so concurrent edits and
// feed rows that landed on top of the begin-snapshot survive; the stashed
// snapshot only backstops a cache that lost its contents meanwhile.
func (c *Conversation) recoverFailedSend(optimistic models.ConversationMessage, snapshot cache.Data, text, attachmentPath, clientID string, sendErr *apperrors.AppError) error {
	c.m.writer.Apply(c.id, "restore_optimistic", func(d cache.Data) cache.Data {
		if len(cache.Messages(d)) == 0 && len(cache.Messages(snapshot)) > 0 {
			d = snapshot
		}
		return cache.UpsertIntoNewestPage(d, optimistic)
	})

	c.mu.Lock()
	c.failed[optimistic.ID] = models.FailedMessage{
		Text:           text,
		AttachmentPath: attachmentPath,
		ClientID:       clientID,
	}
	c.mu.Unlock()

	c.m.logger.WithError(sendErr).WithFields(logrus.Fields{
		"conversation_id": c.id,
		"temp_id":         optimistic.ID,
	}).Warn("Send failed, keeping optimistic message for retry")
	return sendErr
}

// EditMessage updates a confirmed message's text through the remote store
// and replaces it in place in the cache.
func (c *Conversation) EditMessage(ctx context.Context, messageID, text string) (models.ConversationMessage, error) {
	if ids.IsTemp(messageID) {
		return models.ConversationMessage{}, apperrors.New(apperrors.ErrCodeInvalidInput, "cannot edit an unconfirmed message").
			WithContext("message_id", messageID)
	}

	now := time.Now().UTC()
	row, err := c.m.messages.Update(ctx, messageID, models.MessagePatch{Text: &text, EditedAt: &now})
	if err != nil {
		return models.ConversationMessage{}, apperrors.NewRemoteWriteError("update", err)
	}

	updated := row.Message()
	c.m.writer.Apply(c.id, "replace_edited", func(d cache.Data) cache.Data {
		return cache.ReplaceByID(d, updated)
	})
	return updated, nil
}

// DeleteMessage soft-deletes a confirmed message; temp messages go through
// Discard instead.
func (c *Conversation) DeleteMessage(ctx context.Context, messageID string) error {
	if ids.IsTemp(messageID) {
		c.Discard(messageID)
		return nil
	}

	now := time.Now().UTC()
	deleted := true
	row, err := c.m.messages.Update(ctx, messageID, models.MessagePatch{Deleted: &deleted, DeletedAt: &now})
	if err != nil {
		return apperrors.NewRemoteWriteError("update", err)
	}

	updated := row.Message()
	c.m.writer.Apply(c.id, "replace_deleted", func(d cache.Data) cache.Data {
		return cache.ReplaceByID(d, updated)
	})
	return nil
}

// Refresh refetches the newest window from the remote store and merges it
// into the cache. A newer send or refresh for the same conversation
// supersedes it; a superseded refresh returns nil without touching the
// cache.
func (c *Conversation) Refresh(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		cancel()
		return nil
	}
	if c.inflightRefresh != nil {
		c.inflightRefresh()
	}
	c.inflightRefresh = cancel
	c.refreshSeq++
	seq := c.refreshSeq
	c.mu.Unlock()
	defer c.clearInflightRefresh(cancel, seq)

	rows, err := c.m.messages.Select(ctx, c.id, Pagination{Limit: constants.DefaultPageSize})
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return apperrors.NewStoreError("select", err)
	}
	if ctx.Err() != nil {
		return nil
	}

	incoming := snapshotFromRows(rows)
	c.m.writer.Apply(c.id, "merge_snapshots", func(d cache.Data) cache.Data {
		return cache.MergeSnapshots(d, incoming)
	})
	c.m.store.ClearStale(c.id)
	return nil
}

// LoadOlder fetches the window before the current oldest page and prepends
// it to the cached view. A view whose oldest page reports no further history
// is a no-op.
func (c *Conversation) LoadOlder(ctx context.Context) error {
	snapshot := c.Messages()
	oldest := snapshot.Pages[0]
	if !oldest.HasMore || len(oldest.Items) == 0 {
		return nil
	}
	cursor := oldest.Cursor

	rows, err := c.m.messages.Select(ctx, c.id, Pagination{
		Limit:  constants.DefaultPageSize,
		Before: &cursor,
	})
	if err != nil {
		return apperrors.NewStoreError("select older", err)
	}

	items := make([]models.ConversationMessage, 0, len(rows))
	for i := range rows {
		if rows[i].Valid() {
			items = append(items, rows[i].Message())
		}
	}
	c.m.writer.Apply(c.id, "prepend_page", func(d cache.Data) cache.Data {
		return cache.PrependPage(d, items, len(rows) >= constants.DefaultPageSize)
	})
	return nil
}

func (c *Conversation) cancelInflightRefresh() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.inflightRefresh != nil {
		c.inflightRefresh()
		c.inflightRefresh = nil
	}
}

// clearInflightRefresh releases a refresh's registration, but only if no newer
// refresh has replaced it meanwhile.
func (c *Conversation) clearInflightRefresh(cancel context.CancelFunc, seq uint64) {
	cancel()
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.refreshSeq == seq {
		c.inflightRefresh = nil
	}
}

// ApplyRow ingests one row from the change feed. Rows authored by other
// participants earn a delivery receipt from this client and flip the unread
// flag; a malformed row is ignored. allowAppend is false for feeds that must
// not grow the visible window, such as background delivery-only updates.
func (c *Conversation) ApplyRow(ctx context.Context, row *models.MessageRow, allowAppend bool) {
	if !row.Valid() {
		return
	}

	c.m.writer.UpsertRow(c.id, row, allowAppend)

	if row.SenderID == c.m.selfID || ids.IsTemp(row.ID) {
		return
	}

	receipt := models.DeliveryReceipt{
		ConversationID: c.id,
		MessageID:      row.ID,
		UserID:         c.m.selfID,
		DeliveredAt:    time.Now().UTC(),
	}
	if err := c.m.receipts.UpsertDelivery(ctx, receipt); err != nil {
		c.m.logger.WithError(err).WithFields(logrus.Fields{
			"conversation_id": c.id,
			"message_id":      row.ID,
		}).Warn("Failed to write delivery receipt")
	}
	c.m.store.SetUnread(c.id, true)
}

// ResolveDeliveryStatus computes the delivery state of one message from the
// current receipt snapshots. Failed sends are excluded from every receipt
// path and always resolve as failed.
func (c *Conversation) ResolveDeliveryStatus(ctx context.Context, msg models.ConversationMessage) (*DeliveryState, error) {
	deliveries, err := c.m.receipts.DeliveryReceipts(ctx, c.id)
	if err != nil {
		return nil, apperrors.NewStoreError("delivery receipts", err)
	}
	reads, err := c.m.receipts.ReadReceipts(ctx, c.id)
	if err != nil {
		return nil, apperrors.NewStoreError("read receipts", err)
	}

	return ResolveDeliveryStatus(msg, c.m.selfID, ReceiptSnapshot{
		OtherParticipants: c.others,
		Deliveries:        deliveries,
		Reads:             reads,
		Messages:          cache.Messages(c.m.store.Snapshot(c.id)),
		Failed:            c.FailedMessages(),
	}), nil
}

// MarkRead offers the newest cached message to the throttled read-marker
// writer. atBottom reports whether the viewer is scrolled to the live end.
func (c *Conversation) MarkRead(atBottom bool) {
	all := cache.Messages(c.m.store.Snapshot(c.id))
	if len(all) == 0 {
		return
	}
	c.m.readMarker.Observe(c.id, c.m.selfID, all[len(all)-1], atBottom)
}

// Watch refetches on store invalidations until ctx ends. The manager runs
// one per open conversation.
func (c *Conversation) Watch(ctx context.Context) {
	invalidations := c.m.store.Subscribe(c.id)
	for {
		select {
		case <-ctx.Done():
			return
		case <-invalidations:
			if err := c.Refresh(ctx); err != nil {
				c.m.logger.WithError(err).WithField("conversation_id", c.id).
					Warn("Refetch after invalidation failed")
			}
		}
	}
}

// Close cancels in-flight work for this session.
func (c *Conversation) Close() {
	c.mu.Lock()
	c.closed = true
	cancel := c.inflightRefresh
	c.inflightRefresh = nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func snapshotFromRows(rows []models.MessageRow) cache.Data {
	items := make([]models.ConversationMessage, 0, len(rows))
	for i := range rows {
		if !rows[i].Valid() {
			continue
		}
		items = append(items, rows[i].Message())
	}
	d := cache.Ensure(nil)
	for _, item := range items {
		d = cache.UpsertIntoNewestPage(d, item)
	}
	if sorted := d.Pages[0].Items; len(sorted) > 0 {
		d.Pages[0].HasMore = len(sorted) >= constants.DefaultPageSize
		d.Pages[0].Cursor = cache.Cursor{CreatedAt: sorted[0].CreatedAt, ID: sorted[0].ID}
	}
	return d
}
