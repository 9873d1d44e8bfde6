package cache

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"chatsync/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingStore wraps a real store and records apply/invalidate traffic.
type countingStore struct {
	inner *Store

	mu          sync.Mutex
	applies     int
	invalidates int
	applyTimes  []time.Time
}

func (c *countingStore) Apply(conversationID string, transform func(Data) Data) {
	c.mu.Lock()
	c.applies++
	c.applyTimes = append(c.applyTimes, time.Now())
	c.mu.Unlock()
	c.inner.Apply(conversationID, transform)
}

func (c *countingStore) Invalidate(conversationID string) {
	c.mu.Lock()
	c.invalidates++
	c.mu.Unlock()
	c.inner.Invalidate(conversationID)
}

func (c *countingStore) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.applies, c.invalidates
}

func newTestWriter(t *testing.T) (*SafeWriter, *countingStore) {
	t.Helper()
	cs := &countingStore{inner: NewStore()}
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	w := NewSafeWriter(cs, logger)
	w.retryDelay = 20 * time.Millisecond
	t.Cleanup(w.Close)
	return w, cs
}

func TestSafeWriterFirstAttemptSuccess(t *testing.T) {
	w, cs := newTestWriter(t)

	ok := w.Apply("c1", "insert", func(d Data) Data {
		return UpsertIntoNewestPage(d, msg("m1", 0))
	})

	assert.True(t, ok)
	applies, invalidates := cs.counts()
	assert.Equal(t, 1, applies)
	assert.Equal(t, 0, invalidates)
	assert.Equal(t, []string{"m1"}, itemIDs(cs.inner.Snapshot("c1")))
}

func TestSafeWriterFailureInvalidatesOnceAndRetriesThreeTimes(t *testing.T) {
	w, cs := newTestWriter(t)

	ok := w.Apply("c1", "broken", func(d Data) Data {
		panic("cache shape violated")
	})
	assert.False(t, ok)

	// first attempt + exactly three scheduled retries
	assert.Eventually(t, func() bool {
		applies, _ := cs.counts()
		return applies == 4
	}, time.Second, 5*time.Millisecond)

	time.Sleep(3 * w.retryDelay)
	applies, invalidates := cs.counts()
	assert.Equal(t, 4, applies, "no retries beyond the fixed sequence")
	assert.Equal(t, 1, invalidates, "invalidation fires once, on the first failure")
	assert.True(t, cs.inner.Stale("c1"))
}

func TestSafeWriterRetriesAtFixedOffsets(t *testing.T) {
	w, cs := newTestWriter(t)

	start := time.Now()
	w.Apply("c1", "broken", func(d Data) Data { panic("nope") })

	assert.Eventually(t, func() bool {
		applies, _ := cs.counts()
		return applies == 4
	}, time.Second, 5*time.Millisecond)

	cs.mu.Lock()
	defer cs.mu.Unlock()
	require.Len(t, cs.applyTimes, 4)
	for i := 1; i < 4; i++ {
		offset := cs.applyTimes[i].Sub(start)
		expected := time.Duration(i) * w.retryDelay
		assert.GreaterOrEqual(t, offset, expected-5*time.Millisecond,
			"retry %d fired before its fixed offset", i)
	}
}

func TestSafeWriterRetrySucceedsAfterTransientFailure(t *testing.T) {
	w, cs := newTestWriter(t)

	var mu sync.Mutex
	calls := 0
	ok := w.Apply("c1", "transient", func(d Data) Data {
		mu.Lock()
		calls++
		failing := calls == 1
		mu.Unlock()
		if failing {
			panic("transient shape mismatch")
		}
		return UpsertIntoNewestPage(d, msg("m1", 0))
	})

	assert.False(t, ok, "caller sees only the first attempt")
	assert.Eventually(t, func() bool {
		return len(itemIDs(cs.inner.Snapshot("c1"))) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestSafeWriterClosedSuppressesRetries(t *testing.T) {
	w, cs := newTestWriter(t)

	w.Apply("c1", "broken", func(d Data) Data { panic("nope") })
	w.Close()

	time.Sleep(5 * w.retryDelay)
	applies, _ := cs.counts()
	assert.Equal(t, 1, applies, "no retry may fire after teardown")
}

func TestSafeWriterUpsertRow(t *testing.T) {
	w, cs := newTestWriter(t)

	t.Run("nil row is a no-op success", func(t *testing.T) {
		assert.True(t, w.UpsertRow("c1", nil, true))
		applies, _ := cs.counts()
		assert.Equal(t, 0, applies)
	})

	t.Run("malformed row is a no-op success", func(t *testing.T) {
		assert.True(t, w.UpsertRow("c1", &models.MessageRow{ID: "m1"}, true))
		applies, _ := cs.counts()
		assert.Equal(t, 0, applies)
	})

	t.Run("valid row lands in the cache", func(t *testing.T) {
		row := &models.MessageRow{
			ID:             "m1",
			ConversationID: "c1",
			SenderID:       "u2",
			CreatedAt:      baseTime,
			Body:           json.RawMessage(`{"type":"text","text":"hi"}`),
		}
		assert.True(t, w.UpsertRow("c1", row, true))
		assert.Equal(t, []string{"m1"}, itemIDs(cs.inner.Snapshot("c1")))
	})
}
