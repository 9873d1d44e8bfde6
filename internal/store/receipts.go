package store

import (
	"context"
	"database/sql"
	"time"

	"chatsync/internal/models"
)

// UpsertDelivery records that a user received a message. The natural form is
// a single ON CONFLICT upsert; if the engine rejects that clause the broken
// capability is remembered and all later calls use the insert-or-ignore
// fallback, where a duplicate key means the receipt already exists and counts
// as success.
func (s *SQLiteStore) UpsertDelivery(ctx context.Context, receipt models.DeliveryReceipt) error {
	receipt.DeliveredAt = touchReceiptTime(receipt.DeliveredAt)
	if !s.caps.deliveryUpsertBroken() {
		err := retryableOperation(ctx, "upsert delivery receipt", func() error {
			_, execErr := s.db.ExecContext(ctx, upsertDeliveryReceiptQuery,
				receipt.ConversationID, receipt.MessageID, receipt.UserID, receipt.DeliveredAt)
			return execErr
		})
		if err == nil {
			return nil
		}
		if !isUpsertUnsupportedError(err) {
			return err
		}
		s.caps.markDeliveryUpsertBroken()
	}

	err := retryableOperation(ctx, "insert delivery receipt", func() error {
		_, execErr := s.db.ExecContext(ctx, insertDeliveryReceiptFallbackQuery,
			receipt.ConversationID, receipt.MessageID, receipt.UserID, receipt.DeliveredAt)
		if isDuplicateKeyError(execErr) {
			return nil
		}
		return execErr
	})
	return err
}

// UpsertRead advances a user's read marker in a conversation. Same capability
// fallback shape as UpsertDelivery: update-then-insert once ON CONFLICT has
// been rejected.
func (s *SQLiteStore) UpsertRead(ctx context.Context, receipt models.ReadReceipt) error {
	receipt.LastReadAt = touchReceiptTime(receipt.LastReadAt)
	if !s.caps.readUpsertBroken() {
		err := retryableOperation(ctx, "upsert read receipt", func() error {
			_, execErr := s.db.ExecContext(ctx, upsertReadReceiptQuery,
				receipt.ConversationID, receipt.UserID, receipt.LastReadMessageID, receipt.LastReadAt)
			return execErr
		})
		if err == nil {
			return nil
		}
		if !isUpsertUnsupportedError(err) {
			return err
		}
		s.caps.markReadUpsertBroken()
	}

	return retryableOperation(ctx, "update read receipt", func() error {
		result, execErr := s.db.ExecContext(ctx, updateReadReceiptFallbackQuery,
			receipt.LastReadMessageID, receipt.LastReadAt, receipt.ConversationID, receipt.UserID)
		if execErr != nil {
			return execErr
		}
		affected, execErr := result.RowsAffected()
		if execErr != nil {
			return execErr
		}
		if affected > 0 {
			return nil
		}
		_, execErr = s.db.ExecContext(ctx, insertReadReceiptFallbackQuery,
			receipt.ConversationID, receipt.UserID, receipt.LastReadMessageID, receipt.LastReadAt)
		if isDuplicateKeyError(execErr) {
			// Lost a race with another writer; the row exists now.
			return nil
		}
		return execErr
	})
}

// ClearRead removes a user's read marker from a conversation. When the
// delete cannot be executed the marker is rewound to the epoch instead, which
// readers treat the same as an absent marker.
func (s *SQLiteStore) ClearRead(ctx context.Context, conversationID, userID string) error {
	err := retryableOperation(ctx, "clear read receipt", func() error {
		_, execErr := s.db.ExecContext(ctx, deleteReadReceiptQuery, conversationID, userID)
		return execErr
	})
	if err == nil {
		return nil
	}
	return s.UpsertRead(ctx, models.ReadReceipt{
		ConversationID: conversationID,
		UserID:         userID,
		LastReadAt:     time.Unix(0, 0).UTC(),
	})
}

// DeliveryReceipts returns all delivery receipts of a conversation.
func (s *SQLiteStore) DeliveryReceipts(ctx context.Context, conversationID string) ([]models.DeliveryReceipt, error) {
	var out []models.DeliveryReceipt
	err := retryableOperation(ctx, "select delivery receipts", func() error {
		rows, queryErr := s.db.QueryContext(ctx, selectDeliveryReceiptsQuery, conversationID)
		if queryErr != nil {
			return queryErr
		}
		defer func() {
			_ = rows.Close()
		}()

		out = out[:0]
		for rows.Next() {
			var r models.DeliveryReceipt
			if scanErr := rows.Scan(&r.ConversationID, &r.MessageID, &r.UserID, &r.DeliveredAt); scanErr != nil {
				return scanErr
			}
			r.DeliveredAt = r.DeliveredAt.UTC()
			out = append(out, r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ReadReceipts returns all read markers of a conversation.
func (s *SQLiteStore) ReadReceipts(ctx context.Context, conversationID string) ([]models.ReadReceipt, error) {
	var out []models.ReadReceipt
	err := retryableOperation(ctx, "select read receipts", func() error {
		rows, queryErr := s.db.QueryContext(ctx, selectReadReceiptsQuery, conversationID)
		if queryErr != nil {
			return queryErr
		}
		defer func() {
			_ = rows.Close()
		}()

		out = out[:0]
		for rows.Next() {
			var r models.ReadReceipt
			if scanErr := rows.Scan(&r.ConversationID, &r.UserID, &r.LastReadMessageID, &r.LastReadAt); scanErr != nil {
				return scanErr
			}
			r.LastReadAt = r.LastReadAt.UTC()
			out = append(out, r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CheckBlockStatus reports the block relationship between the local user and
// another participant, in both directions.
func (s *SQLiteStore) CheckBlockStatus(ctx context.Context, selfID, otherID string) (models.BlockStatus, error) {
	var status models.BlockStatus
	err := retryableOperation(ctx, "check block status", func() error {
		youBlocked, queryErr := s.blockExists(ctx, selfID, otherID)
		if queryErr != nil {
			return queryErr
		}
		blockedYou, queryErr := s.blockExists(ctx, otherID, selfID)
		if queryErr != nil {
			return queryErr
		}
		status = models.BlockStatus{YouBlocked: youBlocked, BlockedYou: blockedYou}
		return nil
	})
	return status, err
}

// SetBlocked adds or removes a block edge from userID towards blockedUserID.
func (s *SQLiteStore) SetBlocked(ctx context.Context, userID, blockedUserID string, blocked bool) error {
	query := insertBlockQuery
	if !blocked {
		query = deleteBlockQuery
	}
	return retryableOperation(ctx, "set block", func() error {
		_, execErr := s.db.ExecContext(ctx, query, userID, blockedUserID)
		return execErr
	})
}

func (s *SQLiteStore) blockExists(ctx context.Context, userID, blockedUserID string) (bool, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, selectBlockQuery, userID, blockedUserID).Scan(&count); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, err
	}
	return count > 0, nil
}

// touchReceiptTime normalizes a zero timestamp before writes so receipt rows
// always carry a usable wall-clock value.
func touchReceiptTime(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
