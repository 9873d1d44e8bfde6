package store

// Message queries
const (
	insertMessageQuery = `
		INSERT INTO messages (
			id, conversation_id, sender_id, created_at, body, attachment_url
		) VALUES (?, ?, ?, ?, ?, ?)
	`

	selectMessageByIDQuery = `
		SELECT id, conversation_id, sender_id, created_at, body, attachment_url
		FROM messages
		WHERE id = ?
	`

	updateMessageBodyQuery = `
		UPDATE messages
		SET body = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	selectMessagesPageQuery = `
		SELECT id, conversation_id, sender_id, created_at, body, attachment_url
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`

	selectMessagesPageBeforeQuery = `
		SELECT id, conversation_id, sender_id, created_at, body, attachment_url
		FROM messages
		WHERE conversation_id = ?
		  AND (created_at < ? OR (created_at = ? AND id < ?))
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`
)

// Receipt queries. The upsert forms need ON CONFLICT support; the fallback
// forms below are used once a runtime probe marks upserts unsupported.
const (
	upsertDeliveryReceiptQuery = `
		INSERT INTO delivery_receipts (conversation_id, message_id, user_id, delivered_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(message_id, user_id) DO UPDATE SET delivered_at = excluded.delivered_at
	`

	insertDeliveryReceiptFallbackQuery = `
		INSERT OR IGNORE INTO delivery_receipts (conversation_id, message_id, user_id, delivered_at)
		VALUES (?, ?, ?, ?)
	`

	selectDeliveryReceiptsQuery = `
		SELECT conversation_id, message_id, user_id, delivered_at
		FROM delivery_receipts
		WHERE conversation_id = ?
	`

	upsertReadReceiptQuery = `
		INSERT INTO read_receipts (conversation_id, user_id, last_read_message_id, last_read_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(conversation_id, user_id) DO UPDATE SET
			last_read_message_id = excluded.last_read_message_id,
			last_read_at = excluded.last_read_at
	`

	updateReadReceiptFallbackQuery = `
		UPDATE read_receipts
		SET last_read_message_id = ?, last_read_at = ?
		WHERE conversation_id = ? AND user_id = ?
	`

	insertReadReceiptFallbackQuery = `
		INSERT INTO read_receipts (conversation_id, user_id, last_read_message_id, last_read_at)
		VALUES (?, ?, ?, ?)
	`

	selectReadReceiptsQuery = `
		SELECT conversation_id, user_id, last_read_message_id, last_read_at
		FROM read_receipts
		WHERE conversation_id = ?
	`

	deleteReadReceiptQuery = `
		DELETE FROM read_receipts
		WHERE conversation_id = ? AND user_id = ?
	`
)

// Block queries
const (
	selectBlockQuery = `
		SELECT COUNT(1)
		FROM blocks
		WHERE user_id = ? AND blocked_user_id = ?
	`

	insertBlockQuery = `
		INSERT OR IGNORE INTO blocks (user_id, blocked_user_id)
		VALUES (?, ?)
	`

	deleteBlockQuery = `
		DELETE FROM blocks
		WHERE user_id = ? AND blocked_user_id = ?
	`
)
