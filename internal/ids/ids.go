// Package ids mints and recognizes the message identifiers used by the sync
// engine. Temp ids exist only between an optimistic insert and its server
// confirmation; they are never durable and never a valid read-receipt target.
package ids

import (
	"strings"

	"github.com/google/uuid"
)

// TempPrefix marks locally-minted, not-yet-confirmed message ids.
const TempPrefix = "temp-"

// NewTempID mints a fresh temporary message id.
func NewTempID() string {
	return TempPrefix + uuid.NewString()
}

// IsTemp reports whether id was minted locally and is not server-assigned.
func IsTemp(id string) bool {
	return strings.HasPrefix(id, TempPrefix)
}

// NewClientID mints the sender-chosen identifier embedded in a message body.
// It stays stable across retries of the same logical send so a confirmed row
// can be matched back to the optimistic entry that produced it.
func NewClientID() string {
	return uuid.NewString()
}

// Normalize trims whitespace, drops empty entries and dedupes an id list,
// preserving first-occurrence order.
func Normalize(list []string) []string {
	if len(list) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(list))
	out := make([]string, 0, len(list))
	for _, id := range list {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
