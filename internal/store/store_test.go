package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"chatsync/internal/cache"
	"chatsync/internal/ids"
	"chatsync/internal/models"
	"chatsync/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := New(models.StoreConfig{Path: filepath.Join(t.TempDir(), "chatsync.db")})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, s.Close())
	})
	return s
}

func storeRow(id, conversationID, senderID, text string, createdAt time.Time) models.MessageRow {
	return models.RowFromMessage(models.ConversationMessage{
		ID:             id,
		ConversationID: conversationID,
		SenderID:       senderID,
		CreatedAt:      createdAt,
		Body:           models.ComposeBody(text, false, "client-"+id),
	})
}

func TestNewRejectsInvalidPath(t *testing.T) {
	_, err := New(models.StoreConfig{Path: ""})
	assert.Error(t, err)

	_, err = New(models.StoreConfig{Path: "\x00bad"})
	assert.Error(t, err)
}

func TestInsertMintsDurableIDForTempRows(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	row := storeRow(ids.TempPrefix+"abc", "conv-1", "me", "hello", base)
	stored, err := s.Insert(ctx, row)
	require.NoError(t, err)
	require.NotNil(t, stored)

	assert.False(t, ids.IsTemp(stored.ID))
	assert.NotEmpty(t, stored.ID)
	assert.Equal(t, "conv-1", stored.ConversationID)

	// The client id survives in the body for feed reconciliation.
	assert.Equal(t, "client-"+ids.TempPrefix+"abc", stored.Message().Body.ClientID)
}

func TestInsertValidation(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Insert(context.Background(), models.MessageRow{SenderID: "me"})
	assert.Error(t, err)

	_, err = s.Insert(context.Background(), models.MessageRow{ConversationID: "conv-1"})
	assert.Error(t, err)
}

func TestSelectReturnsAscendingWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i, id := range []string{"m3", "m1", "m2"} {
		offsets := map[string]time.Duration{"m1": 0, "m2": time.Minute, "m3": 2 * time.Minute}
		_, err := s.Insert(ctx, storeRow(id, "conv-1", "me", "msg", base.Add(offsets[id])))
		require.NoError(t, err, "insert %d", i)
	}
	_, err := s.Insert(ctx, storeRow("x1", "conv-other", "me", "noise", base))
	require.NoError(t, err)

	rows, err := s.Select(ctx, "conv-1", service.Pagination{Limit: 10})
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "m1", rows[0].ID)
	assert.Equal(t, "m2", rows[1].ID)
	assert.Equal(t, "m3", rows[2].ID)
}

func TestSelectBackwardPagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		id := string(rune('a' + i))
		_, err := s.Insert(ctx, storeRow("m"+id, "conv-1", "me", "msg", base.Add(time.Duration(i)*time.Minute)))
		require.NoError(t, err)
	}

	newest, err := s.Select(ctx, "conv-1", service.Pagination{Limit: 2})
	require.NoError(t, err)
	require.Len(t, newest, 2)
	assert.Equal(t, "md", newest[0].ID)
	assert.Equal(t, "me", newest[1].ID)

	cursor := &cache.Cursor{CreatedAt: newest[0].CreatedAt, ID: newest[0].ID}
	older, err := s.Select(ctx, "conv-1", service.Pagination{Limit: 2, Before: cursor})
	require.NoError(t, err)
	require.Len(t, older, 2)
	assert.Equal(t, "mb", older[0].ID)
	assert.Equal(t, "mc", older[1].ID)
}

func TestSelectTieBreaksOnID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	_, err := s.Insert(ctx, storeRow("m2", "conv-1", "me", "second", base))
	require.NoError(t, err)
	_, err = s.Insert(ctx, storeRow("m1", "conv-1", "me", "first", base))
	require.NoError(t, err)

	rows, err := s.Select(ctx, "conv-1", service.Pagination{Limit: 10})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "m1", rows[0].ID)
	assert.Equal(t, "m2", rows[1].ID)
}

func TestUpdateAppliesPatch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	stored, err := s.Insert(ctx, storeRow("m1", "conv-1", "me", "tpyo", base))
	require.NoError(t, err)

	text := "typo"
	editedAt := base.Add(time.Minute)
	updated, err := s.Update(ctx, stored.ID, models.MessagePatch{Text: &text, EditedAt: &editedAt})
	require.NoError(t, err)

	body := updated.Message().Body
	assert.Equal(t, "typo", body.Text)
	require.NotNil(t, body.EditedAt)
	assert.Equal(t, editedAt, body.EditedAt.UTC())

	// The patch persisted.
	rows, err := s.Select(ctx, "conv-1", service.Pagination{Limit: 10})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "typo", rows[0].Message().Body.Text)
}

func TestUpdateSoftDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	stored, err := s.Insert(ctx, storeRow("m1", "conv-1", "me", "gone soon", base))
	require.NoError(t, err)

	deleted := true
	deletedAt := base.Add(time.Minute)
	updated, err := s.Update(ctx, stored.ID, models.MessagePatch{Deleted: &deleted, DeletedAt: &deletedAt})
	require.NoError(t, err)

	assert.True(t, updated.Message().Body.Deleted)
}

func TestUpdateUnknownID(t *testing.T) {
	s := newTestStore(t)
	text := "x"
	_, err := s.Update(context.Background(), "missing", models.MessagePatch{Text: &text})
	assert.Error(t, err)
}

func TestUpsertDeliveryIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	receipt := models.DeliveryReceipt{
		ConversationID: "conv-1",
		MessageID:      "m1",
		UserID:         "them",
		DeliveredAt:    base,
	}
	require.NoError(t, s.UpsertDelivery(ctx, receipt))
	receipt.DeliveredAt = base.Add(time.Minute)
	require.NoError(t, s.UpsertDelivery(ctx, receipt))

	receipts, err := s.DeliveryReceipts(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	assert.Equal(t, base.Add(time.Minute), receipts[0].DeliveredAt)
}

func TestUpsertDeliveryFallbackTreatsDuplicateAsSuccess(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	receipt := models.DeliveryReceipt{ConversationID: "conv-1", MessageID: "m1", UserID: "them"}
	require.NoError(t, s.UpsertDelivery(ctx, receipt))

	// Force the fallback path and re-write the same receipt.
	s.caps.markDeliveryUpsertBroken()
	require.NoError(t, s.UpsertDelivery(ctx, receipt))

	receipts, err := s.DeliveryReceipts(ctx, "conv-1")
	require.NoError(t, err)
	assert.Len(t, receipts, 1)
}

func TestUpsertReadAdvancesMarker(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, s.UpsertRead(ctx, models.ReadReceipt{
		ConversationID: "conv-1", UserID: "me", LastReadMessageID: "m1", LastReadAt: base,
	}))
	require.NoError(t, s.UpsertRead(ctx, models.ReadReceipt{
		ConversationID: "conv-1", UserID: "me", LastReadMessageID: "m2", LastReadAt: base.Add(time.Minute),
	}))

	receipts, err := s.ReadReceipts(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	assert.Equal(t, "m2", receipts[0].LastReadMessageID)
}

func TestUpsertReadFallbackPath(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	s.caps.markReadUpsertBroken()

	require.NoError(t, s.UpsertRead(ctx, models.ReadReceipt{
		ConversationID: "conv-1", UserID: "me", LastReadMessageID: "m1",
	}))
	require.NoError(t, s.UpsertRead(ctx, models.ReadReceipt{
		ConversationID: "conv-1", UserID: "me", LastReadMessageID: "m2",
	}))

	receipts, err := s.ReadReceipts(ctx, "conv-1")
	require.NoError(t, err)
	require.Len(t, receipts, 1)
	assert.Equal(t, "m2", receipts[0].LastReadMessageID)
}

func TestClearRead(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertRead(ctx, models.ReadReceipt{
		ConversationID: "conv-1", UserID: "me", LastReadMessageID: "m1",
	}))
	require.NoError(t, s.ClearRead(ctx, "conv-1", "me"))

	receipts, err := s.ReadReceipts(ctx, "conv-1")
	require.NoError(t, err)
	assert.Empty(t, receipts)
}

func TestCheckBlockStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	status, err := s.CheckBlockStatus(ctx, "me", "them")
	require.NoError(t, err)
	assert.False(t, status.Blocked())

	require.NoError(t, s.SetBlocked(ctx, "me", "them", true))
	status, err = s.CheckBlockStatus(ctx, "me", "them")
	require.NoError(t, err)
	assert.True(t, status.YouBlocked)
	assert.False(t, status.BlockedYou)

	require.NoError(t, s.SetBlocked(ctx, "them", "me", true))
	status, err = s.CheckBlockStatus(ctx, "me", "them")
	require.NoError(t, err)
	assert.True(t, status.BlockedYou)

	require.NoError(t, s.SetBlocked(ctx, "me", "them", false))
	status, err = s.CheckBlockStatus(ctx, "me", "them")
	require.NoError(t, err)
	assert.False(t, status.YouBlocked)
	assert.True(t, status.BlockedYou)
}

func TestEncryptedStoreRoundTrip(t *testing.T) {
	t.Setenv(EncryptionSecretEnvVar, "test-secret-that-is-at-least-32-chars-long")

	path := filepath.Join(t.TempDir(), "chatsync.db")
	s, err := New(models.StoreConfig{Path: path, EncryptionEnabled: true})
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, s.Close())
	})

	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	stored, err := s.Insert(ctx, storeRow("m1", "conv-1", "me", "secret text", base))
	require.NoError(t, err)

	rows, err := s.Select(ctx, "conv-1", service.Pagination{Limit: 10})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, stored.ID, rows[0].ID)
	assert.Equal(t, "secret text", rows[0].Message().Body.Text)
}

func TestEncryptionRequiresSecret(t *testing.T) {
	t.Setenv(EncryptionSecretEnvVar, "")

	_, err := New(models.StoreConfig{
		Path:              filepath.Join(t.TempDir(), "chatsync.db"),
		EncryptionEnabled: true,
	})
	assert.Error(t, err)
}

func TestEncryptionRejectsShortSecret(t *testing.T) {
	t.Setenv(EncryptionSecretEnvVar, "short")

	_, err := New(models.StoreConfig{
		Path:              filepath.Join(t.TempDir(), "chatsync.db"),
		EncryptionEnabled: true,
	})
	assert.Error(t, err)
}
