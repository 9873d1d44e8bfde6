// Package cache holds the paginated conversation message cache: pure
// transforms over ordered message pages, a keyed snapshot store, and a
// defensive writer that lets transient shape failures self-heal.
//
// Every transform is a pure function of "current snapshot + one update".
// Inputs are never mutated; changed pages get freshly-built item slices.
// Applying the same input twice produces the same output.
package cache

import (
	"sort"
	"time"

	"chatsync/internal/ids"
	"chatsync/internal/models"
)

// Cursor is a backward-pagination token: the (createdAt, id) of the oldest
// item in a page.
type Cursor struct {
	CreatedAt time.Time `json:"createdAt"`
	ID        string    `json:"id"`
}

// Page is one fetched window of a conversation. Items are sorted ascending
// by (createdAt, id), the only sort key used anywhere in the cache.
type Page struct {
	Items   []models.ConversationMessage `json:"items"`
	HasMore bool                         `json:"hasMore"`
	Cursor  Cursor                       `json:"cursor"`
}

// Data is the full paginated view of a conversation, oldest page first.
type Data struct {
	Pages      []Page   `json:"pages"`
	PageParams []Cursor `json:"pageParams"`
}

func messageLess(a, b models.ConversationMessage) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func sortItems(items []models.ConversationMessage) {
	sort.Slice(items, func(i, j int) bool {
		return messageLess(items[i], items[j])
	})
}

func cursorOf(items []models.ConversationMessage) Cursor {
	if len(items) == 0 {
		return Cursor{}
	}
	return Cursor{CreatedAt: items[0].CreatedAt, ID: items[0].ID}
}

// Ensure returns a non-null, shape-valid Data, defaulting to a single empty
// page. A corrupted or missing cache entry must never cause a hard failure
// downstream.
func Ensure(d *Data) Data {
	if d == nil || len(d.Pages) == 0 {
		return Data{
			Pages:      []Page{{Items: []models.ConversationMessage{}}},
			PageParams: []Cursor{{}},
		}
	}
	out := Data{
		Pages:      make([]Page, len(d.Pages)),
		PageParams: make([]Cursor, len(d.Pages)),
	}
	copy(out.Pages, d.Pages)
	for i := range out.Pages {
		if out.Pages[i].Items == nil {
			out.Pages[i].Items = []models.ConversationMessage{}
		}
	}
	copy(out.PageParams, d.PageParams)
	return out
}

// UpsertIntoNewestPage inserts or updates msg in the last page only, the
// live end of the conversation where optimistic inserts always belong.
// Dedupes by id, then re-sorts the page.
func UpsertIntoNewestPage(d Data, msg models.ConversationMessage) Data {
	d = Ensure(&d)
	last := len(d.Pages) - 1

	byID := make(map[string]models.ConversationMessage, len(d.Pages[last].Items)+1)
	for _, item := range d.Pages[last].Items {
		byID[item.ID] = item
	}
	byID[msg.ID] = msg

	items := make([]models.ConversationMessage, 0, len(byID))
	for _, item := range byID {
		items = append(items, item)
	}
	sortItems(items)

	d.Pages[last].Items = items
	return d
}

// ReplaceByID overwrites the message with updated.ID wherever it appears.
// Edits and deletes can target any page. No-op when the id is absent.
func ReplaceByID(d Data, updated models.ConversationMessage) Data {
	d = Ensure(&d)
	for i, page := range d.Pages {
		for j, item := range page.Items {
			if item.ID != updated.ID {
				continue
			}
			items := make([]models.ConversationMessage, len(page.Items))
			copy(items, page.Items)
			items[j] = updated
			sortItems(items)
			d.Pages[i].Items = items
			return d
		}
	}
	return d
}

// RemoveByID drops the message with the given id from every page.
func RemoveByID(d Data, id string) Data {
	d = Ensure(&d)
	for i, page := range d.Pages {
		if !containsID(page.Items, id) {
			continue
		}
		items := make([]models.ConversationMessage, 0, len(page.Items)-1)
		for _, item := range page.Items {
			if item.ID != id {
				items = append(items, item)
			}
		}
		d.Pages[i].Items = items
	}
	return d
}

// ReconcileSent replaces an optimistic temp message with its confirmed row.
// The temp entry is removed first; if the confirmed id is already cached
// (the row arrived via the feed before the send's own response), it is
// overwritten in place, otherwise the row is appended to the newest page.
// Exactly one copy of the confirmed message survives regardless of which
// confirmation path arrives first.
func ReconcileSent(d Data, tempID string, confirmed models.ConversationMessage) Data {
	d = RemoveByID(d, tempID)
	if hasMessage(d, confirmed.ID) {
		return ReplaceByID(d, confirmed)
	}
	return UpsertIntoNewestPage(d, confirmed)
}

// UpsertRowFromFeed applies an externally-pushed row. Any optimistic temp
// message carrying the same client id is dropped first: the row may be the
// server's materialization of a message this same client sent. Known ids
// are replaced in place; unknown rows are appended to the newest page only
// when allowAppend (delivery-only feeds must not grow the visible window).
func UpsertRowFromFeed(d Data, msg models.ConversationMessage, allowAppend bool) Data {
	d = Ensure(&d)

	if clientID := msg.ClientID(); clientID != "" {
		d = removeTempByClientID(d, clientID, msg.ID)
	}

	if hasMessage(d, msg.ID) {
		return ReplaceByID(d, msg)
	}
	if !allowAppend {
		return d
	}
	return UpsertIntoNewestPage(d, msg)
}

// PrependPage grows the view backward: items become the new oldest page with
// its own cursor. An empty fetch means the history is exhausted, so it only
// clears the current oldest page's HasMore.
func PrependPage(d Data, items []models.ConversationMessage, hasMore bool) Data {
	d = Ensure(&d)
	if len(items) == 0 {
		d.Pages[0].HasMore = false
		return d
	}

	sorted := make([]models.ConversationMessage, len(items))
	copy(sorted, items)
	sortItems(sorted)
	page := Page{Items: sorted, HasMore: hasMore, Cursor: cursorOf(sorted)}

	out := Data{
		Pages:      make([]Page, 0, len(d.Pages)+1),
		PageParams: make([]Cursor, 0, len(d.Pages)+1),
	}
	out.Pages = append(out.Pages, page)
	out.Pages = append(out.Pages, d.Pages...)
	out.PageParams = append(out.PageParams, page.Cursor)
	out.PageParams = append(out.PageParams, d.PageParams...)
	return out
}

// MergeSnapshots reconciles a full refetch against the current cache. Pages
// are unioned by id at matching indexes with incoming winning on conflict;
// each merged page's cursor is recomputed from its oldest item. Pages
// present only in existing pass through unchanged, so a narrower refetch
// never truncates the cached window.
func MergeSnapshots(existing, incoming Data) Data {
	ex := Ensure(&existing)
	in := Ensure(&incoming)

	n := len(ex.Pages)
	if len(in.Pages) > n {
		n = len(in.Pages)
	}

	out := Data{
		Pages:      make([]Page, n),
		PageParams: make([]Cursor, n),
	}

	for i := 0; i < n; i++ {
		switch {
		case i >= len(in.Pages):
			out.Pages[i] = ex.Pages[i]
		case i >= len(ex.Pages):
			out.Pages[i] = mergedPage(Page{}, in.Pages[i])
		default:
			out.Pages[i] = mergedPage(ex.Pages[i], in.Pages[i])
		}
		out.PageParams[i] = out.Pages[i].Cursor
	}
	return out
}

func mergedPage(existing, incoming Page) Page {
	byID := make(map[string]models.ConversationMessage, len(existing.Items)+len(incoming.Items))
	for _, item := range existing.Items {
		byID[item.ID] = item
	}
	for _, item := range incoming.Items {
		byID[item.ID] = item
	}

	items := make([]models.ConversationMessage, 0, len(byID))
	for _, item := range byID {
		items = append(items, item)
	}
	sortItems(items)

	return Page{
		Items:   items,
		HasMore: incoming.HasMore,
		Cursor:  cursorOf(items),
	}
}

// Messages flattens all pages in display order.
func Messages(d Data) []models.ConversationMessage {
	var out []models.ConversationMessage
	for _, page := range d.Pages {
		out = append(out, page.Items...)
	}
	return out
}

// Find returns the cached message with the given id, if present.
func Find(d Data, id string) (models.ConversationMessage, bool) {
	for _, page := range d.Pages {
		for _, item := range page.Items {
			if item.ID == id {
				return item, true
			}
		}
	}
	return models.ConversationMessage{}, false
}

func hasMessage(d Data, id string) bool {
	_, ok := Find(d, id)
	return ok
}

func containsID(items []models.ConversationMessage, id string) bool {
	for _, item := range items {
		if item.ID == id {
			return true
		}
	}
	return false
}

func removeTempByClientID(d Data, clientID, incomingID string) Data {
	for _, page := range d.Pages {
		for _, item := range page.Items {
			if ids.IsTemp(item.ID) && item.ID != incomingID && item.ClientID() == clientID {
				d = RemoveByID(d, item.ID)
			}
		}
	}
	return d
}
