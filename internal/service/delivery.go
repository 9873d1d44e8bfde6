package service

import (
	"time"

	"chatsync/internal/ids"
	"chatsync/internal/models"
)

// DeliveryState is the per-message delivery status shown next to a
// sender-authored message.
type DeliveryState struct {
	Status models.DeliveryStatus `json:"status"`
	SeenAt *time.Time            `json:"seenAt,omitempty"`
}

// ReceiptSnapshot bundles the inputs the resolver reads: the other
// participants, current receipt rows, the visible message list (used to
// resolve read-marker ids to timestamps) and the failed-send bucket.
type ReceiptSnapshot struct {
	OtherParticipants []string
	Deliveries        []models.DeliveryReceipt
	Reads             []models.ReadReceipt
	Messages          []models.ConversationMessage
	Failed            map[string]models.FailedMessage
}

// ResolveDeliveryStatus computes a message's delivery state from receipt
// snapshots. Pure; it never mutates the cache. Only messages authored by
// currentUserID get a status, everything else resolves to nil.
//
// Evaluation order is failed, sending, seen, delivered, sent — first match
// wins, which also guarantees a status never regresses for a given snapshot
// (seen implies delivered implies sent).
func ResolveDeliveryStatus(msg models.ConversationMessage, currentUserID string, snap ReceiptSnapshot) *DeliveryState {
	if currentUserID == "" || msg.SenderID != currentUserID {
		return nil
	}

	if _, ok := snap.Failed[msg.ID]; ok {
		return &DeliveryState{Status: models.DeliveryStatusFailed}
	}
	if ids.IsTemp(msg.ID) {
		return &DeliveryState{Status: models.DeliveryStatusSending}
	}

	others := otherParticipants(snap.OtherParticipants, currentUserID)
	if len(others) > 0 {
		if seenAt, seen := seenByAll(msg, others, snap); seen {
			return &DeliveryState{Status: models.DeliveryStatusSeen, SeenAt: seenAt}
		}
		if deliveredToAll(msg.ID, others, snap.Deliveries) {
			return &DeliveryState{Status: models.DeliveryStatusDelivered}
		}
	}

	return &DeliveryState{Status: models.DeliveryStatusSent}
}

func otherParticipants(participants []string, currentUserID string) []string {
	var out []string
	for _, p := range ids.Normalize(participants) {
		if p != currentUserID {
			out = append(out, p)
		}
	}
	return out
}

// seenByAll requires a read marker at or past the message's creation time
// from every other participant. Markers derived from LastReadMessageID are
// exact and immune to clock skew; the receipt's own wall-clock LastReadAt is
// the fallback when the id cannot be resolved against the message list. When
// a participant has several receipt records, the most recent marker wins.
func seenByAll(msg models.ConversationMessage, others []string, snap ReceiptSnapshot) (*time.Time, bool) {
	createdByID := make(map[string]time.Time, len(snap.Messages))
	for _, m := range snap.Messages {
		createdByID[m.ID] = m.CreatedAt
	}

	var seenAt time.Time
	for _, other := range others {
		marker := readMarkerFor(other, snap.Reads, createdByID)
		if marker.IsZero() || marker.Before(msg.CreatedAt) {
			return nil, false
		}
		if marker.After(seenAt) {
			seenAt = marker
		}
	}
	return &seenAt, true
}

func readMarkerFor(userID string, reads []models.ReadReceipt, createdByID map[string]time.Time) time.Time {
	var marker time.Time
	for _, r := range reads {
		if r.UserID != userID {
			continue
		}
		resolved := r.LastReadAt
		if r.LastReadMessageID != "" {
			if createdAt, ok := createdByID[r.LastReadMessageID]; ok {
				resolved = createdAt
			}
		}
		if resolved.After(marker) {
			marker = resolved
		}
	}
	return marker
}

// deliveredToAll is an all-of quorum: every other participant, not just one,
// must have a receipt for this exact message id.
func deliveredToAll(messageID string, others []string, deliveries []models.DeliveryReceipt) bool {
	received := make(map[string]bool, len(others))
	for _, d := range deliveries {
		if d.MessageID == messageID {
			received[d.UserID] = true
		}
	}
	for _, other := range others {
		if !received[other] {
			return false
		}
	}
	return true
}
