package service

import (
	"context"
	"testing"
	"time"

	"chatsync/internal/cache"
	"chatsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestFeedConsumerRoutesRowsToOpenConversations(t *testing.T) {
	m, _, receipts, _ := newTestManager(t)
	conv := m.Conversation("conv-1", []string{"them"})
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	receipts.On("UpsertDelivery", mock.Anything, mock.Anything).Return(nil)

	fc := NewFeedConsumer(m, quietLogger())
	rows := make(chan models.MessageRow, 3)
	fc.Start(context.Background(), rows)

	rows <- feedRow("m1", "them", "first", base)
	rows <- feedRow("m2", "them", "second", base.Add(time.Minute))
	close(rows)
	fc.Wait()

	all := cache.Messages(conv.Messages())
	require.Len(t, all, 2)
	assert.Equal(t, "m1", all[0].ID)
	assert.Equal(t, "m2", all[1].ID)
}

func TestFeedConsumerDropsRowsForUnopenedConversations(t *testing.T) {
	m, _, receipts, _ := newTestManager(t)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	fc := NewFeedConsumer(m, quietLogger())
	rows := make(chan models.MessageRow, 2)
	fc.Start(context.Background(), rows)

	row := feedRow("m1", "them", "hi", base)
	row.ConversationID = "conv-unknown"
	rows <- row
	rows <- models.MessageRow{ID: "m2"} // malformed, no conversation id
	close(rows)
	fc.Wait()

	assert.Empty(t, cache.Messages(m.Store().Snapshot("conv-unknown")))
	receipts.AssertNotCalled(t, "UpsertDelivery", mock.Anything, mock.Anything)
}

func TestFeedConsumerStopsOnContextCancel(t *testing.T) {
	m, _, _, _ := newTestManager(t)

	fc := NewFeedConsumer(m, quietLogger())
	rows := make(chan models.MessageRow)
	ctx, cancel := context.WithCancel(context.Background())
	fc.Start(ctx, rows)

	cancel()
	done := make(chan struct{})
	go func() {
		fc.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop after context cancel")
	}
}

func TestFeedPollerDisabledByConfig(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	fp := NewFeedPoller(m, models.FeedConfig{PollingEnabled: false}, models.RetryConfig{}, quietLogger())

	require.NoError(t, fp.Start(context.Background()))
	assert.False(t, fp.IsRunning())
	fp.Stop()
}

func TestFeedPollerLifecycle(t *testing.T) {
	m, _, _, _ := newTestManager(t)
	fp := NewFeedPoller(m, models.FeedConfig{PollingEnabled: true, PollIntervalSec: 1}, models.RetryConfig{}, quietLogger())

	require.NoError(t, fp.Start(context.Background()))
	assert.True(t, fp.IsRunning())

	// Double start is rejected.
	assert.Error(t, fp.Start(context.Background()))

	fp.Stop()
	assert.False(t, fp.IsRunning())

	// Stop is idempotent.
	fp.Stop()
}

func TestFeedPollerPollsOpenConversations(t *testing.T) {
	m, messages, _, _ := newTestManager(t)
	m.Conversation("conv-1", []string{"them"})
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	polled := make(chan struct{}, 4)
	messages.On("Select", mock.Anything, "conv-1", mock.Anything).Run(func(mock.Arguments) {
		select {
		case polled <- struct{}{}:
		default:
		}
	}).Return([]models.MessageRow{feedRow("m1", "them", "hi", base)}, nil)

	fp := NewFeedPoller(m, models.FeedConfig{PollingEnabled: true, PollIntervalSec: 1}, models.RetryConfig{MaxAttempts: 1}, quietLogger())
	require.NoError(t, fp.Start(context.Background()))
	defer fp.Stop()

	select {
	case <-polled:
	case <-time.After(3 * time.Second):
		t.Fatal("poller never refetched the open conversation")
	}
}
