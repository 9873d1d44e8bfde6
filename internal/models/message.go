package models

import (
	"encoding/json"
	"time"
)

type DeliveryStatus string

const (
	DeliveryStatusFailed    DeliveryStatus = "failed"
	DeliveryStatusSending   DeliveryStatus = "sending"
	DeliveryStatusSent      DeliveryStatus = "sent"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusSeen      DeliveryStatus = "seen"
)

// ConversationMessage is the canonical in-memory message entity. The id is
// unique within a conversation; ids carrying the temp prefix were minted
// locally and must never be treated as durable.
type ConversationMessage struct {
	ID             string      `json:"id"`
	ConversationID string      `json:"conversationId"`
	SenderID       string      `json:"senderId"`
	CreatedAt      time.Time   `json:"createdAt"`
	Body           MessageBody `json:"body"`
	AttachmentURL  string      `json:"attachmentUrl,omitempty"`
}

// ClientID returns the sender-chosen reconciliation id carried in the body.
func (m *ConversationMessage) ClientID() string {
	return m.Body.ClientID
}

// MessageRow is the wire shape delivered by the remote message store and its
// change feed. The body arrives as raw JSON and is parsed defensively.
type MessageRow struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	SenderID       string          `json:"sender_id"`
	CreatedAt      time.Time       `json:"created_at"`
	Body           json.RawMessage `json:"body"`
	AttachmentURL  string          `json:"attachment_url,omitempty"`
}

// Valid reports whether the row carries enough identity to enter the cache.
func (r *MessageRow) Valid() bool {
	return r != nil && r.ID != "" && r.ConversationID != ""
}

// Message maps the wire row to the in-memory entity.
func (r *MessageRow) Message() ConversationMessage {
	return ConversationMessage{
		ID:             r.ID,
		ConversationID: r.ConversationID,
		SenderID:       r.SenderID,
		CreatedAt:      r.CreatedAt,
		Body:           ParseBody(r.Body),
		AttachmentURL:  r.AttachmentURL,
	}
}

// RowFromMessage maps an entity back to its wire shape, used by stores and
// by the send path when handing the composed message to the remote insert.
func RowFromMessage(m ConversationMessage) MessageRow {
	body, _ := json.Marshal(m.Body)
	return MessageRow{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		CreatedAt:      m.CreatedAt,
		Body:           body,
		AttachmentURL:  m.AttachmentURL,
	}
}

// MessagePatch is a partial update applied through the remote store's update
// operation, used for edits and soft deletes.
type MessagePatch struct {
	Text      *string    `json:"text,omitempty"`
	EditedAt  *time.Time `json:"edited_at,omitempty"`
	Deleted   *bool      `json:"deleted,omitempty"`
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}
