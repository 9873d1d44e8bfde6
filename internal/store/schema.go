package store

// Schema is applied on every open; all statements are idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL,
	sender_id TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	body TEXT NOT NULL,
	attachment_url TEXT,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_messages_conversation_created
	ON messages(conversation_id, created_at, id);

CREATE TABLE IF NOT EXISTS delivery_receipts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id TEXT NOT NULL,
	message_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	delivered_at TIMESTAMP NOT NULL,
	UNIQUE(message_id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_delivery_receipts_conversation
	ON delivery_receipts(conversation_id);

CREATE TABLE IF NOT EXISTS read_receipts (
	conversation_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	last_read_message_id TEXT NOT NULL,
	last_read_at TIMESTAMP NOT NULL,
	PRIMARY KEY (conversation_id, user_id)
);

CREATE TABLE IF NOT EXISTS blocks (
	user_id TEXT NOT NULL,
	blocked_user_id TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (user_id, blocked_user_id)
);
`
