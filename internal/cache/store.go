package cache

import (
	"sync"
)

// Store is the keyed snapshot store the sync engine plugs into: per
// conversation it supports read, optimistic write, and invalidation, plus a
// subscribe channel so a consumer can refetch after an invalidation. Each
// mutation applies atomically against the current snapshot, so within one
// process no update can be lost; races between async callers resolve by
// whichever result lands first.
type Store struct {
	mu     sync.RWMutex
	data   map[string]Data
	stale  map[string]bool
	unread map[string]bool
	subs   map[string][]chan struct{}
}

func NewStore() *Store {
	return &Store{
		data:   make(map[string]Data),
		stale:  make(map[string]bool),
		unread: make(map[string]bool),
		subs:   make(map[string][]chan struct{}),
	}
}

// Snapshot returns the current shape-valid view for a conversation.
func (s *Store) Snapshot(conversationID string) Data {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.data[conversationID]
	if !ok {
		return Ensure(nil)
	}
	return Ensure(&d)
}

// Apply runs a transform against the current snapshot and installs the
// result, atomically. The transform must be pure; a panic propagates to the
// caller (the defensive writer recovers it).
func (s *Store) Apply(conversationID string, transform func(Data) Data) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.data[conversationID]
	s.data[conversationID] = transform(d)
}

// ClearStale marks the conversation fresh again, used when a refetch lands.
func (s *Store) ClearStale(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stale[conversationID] = false
}

// Invalidate marks the conversation stale and pokes subscribers so a future
// refetch runs. It never drops the cached data.
func (s *Store) Invalidate(conversationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stale[conversationID] = true
	for _, ch := range s.subs[conversationID] {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// Stale reports whether the conversation needs a refetch.
func (s *Store) Stale(conversationID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stale[conversationID]
}

// Subscribe returns a channel that receives a tick on every invalidation of
// the conversation. The channel is buffered; ticks coalesce.
func (s *Store) Subscribe(conversationID string) <-chan struct{} {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[conversationID] = append(s.subs[conversationID], ch)
	return ch
}

// SetUnread flips the conversation's unread flag.
func (s *Store) SetUnread(conversationID string, unread bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unread[conversationID] = unread
}

// Unread reports whether the conversation has unseen activity.
func (s *Store) Unread(conversationID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.unread[conversationID]
}
