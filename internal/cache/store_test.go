package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreSnapshotDefaults(t *testing.T) {
	s := NewStore()
	d := s.Snapshot("c1")
	require.Len(t, d.Pages, 1)
	assert.Empty(t, d.Pages[0].Items)
}

func TestStoreApply(t *testing.T) {
	s := NewStore()
	s.Apply("c1", func(d Data) Data {
		return UpsertIntoNewestPage(d, msg("m1", 0))
	})
	assert.Equal(t, []string{"m1"}, itemIDs(s.Snapshot("c1")))

	// snapshots are copies; mutating one must not leak into the store
	snap := s.Snapshot("c1")
	snap.Pages[0].Items = nil
	assert.Equal(t, []string{"m1"}, itemIDs(s.Snapshot("c1")))
}

func TestStoreApplyIsolatedPerConversation(t *testing.T) {
	s := NewStore()
	s.Apply("c1", func(d Data) Data { return UpsertIntoNewestPage(d, msg("m1", 0)) })
	s.Apply("c2", func(d Data) Data { return UpsertIntoNewestPage(d, msg("m2", 0)) })
	assert.Equal(t, []string{"m1"}, itemIDs(s.Snapshot("c1")))
	assert.Equal(t, []string{"m2"}, itemIDs(s.Snapshot("c2")))
}

func TestStoreInvalidate(t *testing.T) {
	s := NewStore()
	s.Apply("c1", func(d Data) Data { return UpsertIntoNewestPage(d, msg("m1", 0)) })
	sub := s.Subscribe("c1")

	s.Invalidate("c1")
	assert.True(t, s.Stale("c1"))
	// data survives invalidation
	assert.Equal(t, []string{"m1"}, itemIDs(s.Snapshot("c1")))

	select {
	case <-sub:
	case <-time.After(time.Second):
		t.Fatal("expected invalidation tick")
	}

	// repeated invalidations coalesce instead of blocking
	s.Invalidate("c1")
	s.Invalidate("c1")
}

func TestStoreClearStale(t *testing.T) {
	s := NewStore()
	s.Invalidate("c1")
	require.True(t, s.Stale("c1"))

	s.ClearStale("c1")
	assert.False(t, s.Stale("c1"))
}

func TestStoreUnreadFlag(t *testing.T) {
	s := NewStore()
	assert.False(t, s.Unread("c1"))
	s.SetUnread("c1", true)
	assert.True(t, s.Unread("c1"))
	s.SetUnread("c1", false)
	assert.False(t, s.Unread("c1"))
}
