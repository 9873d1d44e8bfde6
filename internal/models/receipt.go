package models

import "time"

// DeliveryReceipt records that one specific other participant's client has
// ingested a specific message. Written once per (message, recipient) pair.
type DeliveryReceipt struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	MessageID      string    `json:"messageId"`
	UserID         string    `json:"userId"`
	DeliveredAt    time.Time `json:"deliveredAt"`
}

// ReadReceipt is a per-user high-water mark, not a per-message record. At
// most one logical row exists per (conversation, user); it only ever
// advances.
type ReadReceipt struct {
	ConversationID    string    `json:"conversationId"`
	UserID            string    `json:"userId"`
	LastReadMessageID string    `json:"lastReadMessageId"`
	LastReadAt        time.Time `json:"lastReadAt"`
}

// FailedMessage is the minimum state kept for a send that failed after its
// optimistic message was already inserted, enough to retry or discard it.
type FailedMessage struct {
	Text           string `json:"text"`
	AttachmentPath string `json:"attachmentPath,omitempty"`
	ClientID       string `json:"clientId"`
}

// BlockStatus is the outcome of the block-policy check consulted once per
// send attempt. The policy decision itself is external.
type BlockStatus struct {
	YouBlocked bool `json:"youBlocked"`
	BlockedYou bool `json:"blockedYou"`
}

// Blocked reports whether a blocking relationship exists in either direction.
func (b BlockStatus) Blocked() bool {
	return b.YouBlocked || b.BlockedYou
}
