package service

import (
	"context"

	"chatsync/internal/cache"
	"chatsync/internal/models"
)

// Pagination selects a window of a conversation, newest first. Before is a
// backward-pagination cursor: only rows strictly older than it are returned.
type Pagination struct {
	Limit  int
	Before *cache.Cursor
}

// MessageStore is the remote message store collaborator. Insert assigns the
// durable server id; the returned row is authoritative.
type MessageStore interface {
	Insert(ctx context.Context, row models.MessageRow) (*models.MessageRow, error)
	Update(ctx context.Context, id string, patch models.MessagePatch) (*models.MessageRow, error)
	Select(ctx context.Context, conversationID string, p Pagination) ([]models.MessageRow, error)
}

// ReceiptStore is the receipt store collaborator. Delivery receipts are
// write-once; read receipts advance monotonically.
type ReceiptStore interface {
	UpsertDelivery(ctx context.Context, receipt models.DeliveryReceipt) error
	UpsertRead(ctx context.Context, receipt models.ReadReceipt) error
	ClearRead(ctx context.Context, conversationID, userID string) error
	DeliveryReceipts(ctx context.Context, conversationID string) ([]models.DeliveryReceipt, error)
	ReadReceipts(ctx context.Context, conversationID string) ([]models.ReadReceipt, error)
}

// Policy answers the block-relationship question. Only the yes/no outcome is
// consumed here; the decision logic lives elsewhere.
type Policy interface {
	CheckBlockStatus(ctx context.Context, selfID, otherID string) (models.BlockStatus, error)
}
