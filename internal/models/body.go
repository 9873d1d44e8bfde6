package models

import (
	"encoding/json"
	"strings"
	"time"
)

// BodyKind discriminates the closed set of message body payloads.
type BodyKind string

const (
	BodyKindText      BodyKind = "text"
	BodyKindImage     BodyKind = "image"
	BodyKindTextImage BodyKind = "text_image"
	BodyKindSystem    BodyKind = "system"
)

// MessageBody is the discriminated message payload. ClientID is set at
// creation time and used to reconcile optimistic duplicates; the edit and
// delete framing rides along as optional metadata.
type MessageBody struct {
	Kind      BodyKind   `json:"type"`
	Text      string     `json:"text,omitempty"`
	ClientID  string     `json:"clientId,omitempty"`
	EditedAt  *time.Time `json:"editedAt,omitempty"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
	Deleted   bool       `json:"deleted,omitempty"`
}

// IsEmpty reports whether the body carries no displayable content.
func (b MessageBody) IsEmpty() bool {
	return strings.TrimSpace(b.Text) == "" && b.Kind != BodyKindImage && b.Kind != BodyKindTextImage
}

func validBodyKind(k BodyKind) bool {
	switch k {
	case BodyKindText, BodyKindImage, BodyKindTextImage, BodyKindSystem:
		return true
	}
	return false
}

// ComposeBody builds the body for a new outbound message.
func ComposeBody(text string, hasAttachment bool, clientID string) MessageBody {
	kind := BodyKindText
	switch {
	case hasAttachment && strings.TrimSpace(text) != "":
		kind = BodyKindTextImage
	case hasAttachment:
		kind = BodyKindImage
	}
	return MessageBody{
		Kind:     kind,
		Text:     text,
		ClientID: clientID,
	}
}

// ParseBody decodes a wire body. Legacy and malformed payloads degrade to a
// plain text body carrying the raw content; parsing never fails.
func ParseBody(raw json.RawMessage) MessageBody {
	if len(raw) == 0 {
		return MessageBody{Kind: BodyKindText}
	}

	var body MessageBody
	if err := json.Unmarshal(raw, &body); err == nil {
		if validBodyKind(body.Kind) {
			return body
		}
		// Recognizable shape with a missing or unknown discriminator:
		// keep the content but frame it as plain text.
		if body.Text != "" {
			body.Kind = BodyKindText
			return body
		}
	}

	// Legacy rows stored the body as a bare JSON string.
	var legacy string
	if err := json.Unmarshal(raw, &legacy); err == nil {
		return MessageBody{Kind: BodyKindText, Text: legacy}
	}

	return MessageBody{Kind: BodyKindText, Text: string(raw)}
}
