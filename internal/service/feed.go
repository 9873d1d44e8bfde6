package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"chatsync/internal/constants"
	"chatsync/internal/models"

	"github.com/sirupsen/logrus"
)

// FeedConsumer drains a change-feed row channel and routes each row to its
// open conversation. Rows for conversations nobody has opened are dropped;
// the next Refresh of that conversation picks them up anyway.
type FeedConsumer struct {
	manager *Manager
	logger  *logrus.Logger
	wg      sync.WaitGroup
}

func NewFeedConsumer(manager *Manager, logger *logrus.Logger) *FeedConsumer {
	return &FeedConsumer{
		manager: manager,
		logger:  logger,
	}
}

// Start consumes rows until the channel closes or ctx ends.
func (fc *FeedConsumer) Start(ctx context.Context, rows <-chan models.MessageRow) {
	fc.wg.Add(1)
	go func() {
		defer fc.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case row, ok := <-rows:
				if !ok {
					return
				}
				fc.dispatch(ctx, row)
			}
		}
	}()
}

// Wait blocks until the consume loop has drained.
func (fc *FeedConsumer) Wait() {
	fc.wg.Wait()
}

func (fc *FeedConsumer) dispatch(ctx context.Context, row models.MessageRow) {
	if !row.Valid() {
		fc.logger.Debug("Dropping malformed feed row")
		return
	}
	conv, ok := fc.manager.Lookup(row.ConversationID)
	if !ok {
		fc.logger.WithField("conversation_id", row.ConversationID).
			Debug("Feed row for a conversation that is not open")
		return
	}
	conv.ApplyRow(ctx, &row, true)
}

// FeedPoller is the fallback when no realtime feed is configured: it
// periodically refetches every open conversation, retrying transient
// failures with exponential backoff inside each cycle.
type FeedPoller struct {
	manager     *Manager
	config      models.FeedConfig
	retryConfig models.RetryConfig
	logger      *logrus.Logger
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	running     bool
	mu          sync.RWMutex
}

func NewFeedPoller(manager *Manager, feedConfig models.FeedConfig, retryConfig models.RetryConfig, logger *logrus.Logger) *FeedPoller {
	return &FeedPoller{
		manager:     manager,
		config:      feedConfig,
		retryConfig: retryConfig,
		logger:      logger,
	}
}

// Start begins the background polling process
func (fp *FeedPoller) Start(ctx context.Context) error {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	if fp.running {
		return fmt.Errorf("feed poller is already running")
	}

	if !fp.config.PollingEnabled {
		fp.logger.Info("Feed polling is disabled in configuration")
		return nil
	}

	fp.ctx, fp.cancel = context.WithCancel(ctx)
	fp.running = true

	fp.wg.Add(1)
	go fp.pollLoop()

	fp.logger.WithFields(logrus.Fields{
		"interval": fp.interval(),
	}).Info("Feed poller started")

	return nil
}

// Stop gracefully stops the polling process
func (fp *FeedPoller) Stop() {
	fp.mu.Lock()
	defer fp.mu.Unlock()

	if !fp.running {
		return
	}

	fp.cancel()
	fp.wg.Wait()
	fp.running = false
	fp.logger.Info("Feed poller stopped")
}

// IsRunning returns whether the poller is currently active
func (fp *FeedPoller) IsRunning() bool {
	fp.mu.RLock()
	defer fp.mu.RUnlock()
	return fp.running
}

func (fp *FeedPoller) interval() time.Duration {
	sec := fp.config.PollIntervalSec
	if sec <= 0 {
		sec = constants.DefaultFeedPollIntervalSec
	}
	return time.Duration(sec) * time.Second
}

func (fp *FeedPoller) pollLoop() {
	defer fp.wg.Done()

	ticker := time.NewTicker(fp.interval())
	defer ticker.Stop()

	for {
		select {
		case <-fp.ctx.Done():
			return
		case <-ticker.C:
			fp.pollWithRetry()
		}
	}
}

// pollWithRetry executes a single poll cycle with exponential backoff on failure
func (fp *FeedPoller) pollWithRetry() {
	timeout := time.Duration(fp.config.PollTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = constants.DefaultFeedPollTimeoutSec * time.Second
	}
	ctx, cancel := context.WithTimeout(fp.ctx, timeout)
	defer cancel()

	backoff := time.Duration(fp.retryConfig.InitialBackoffMs) * time.Millisecond
	maxBackoff := time.Duration(fp.retryConfig.MaxBackoffMs) * time.Millisecond
	attempts := fp.retryConfig.MaxAttempts
	if attempts <= 0 {
		attempts = constants.DefaultMaxAttempts
	}

	for attempt := 0; attempt < attempts; attempt++ {
		err := fp.manager.RefreshAll(ctx)
		if err == nil {
			return
		}

		fp.logger.WithFields(logrus.Fields{
			"attempt": attempt + 1,
			"error":   err,
			"backoff": backoff,
		}).Warn("Feed poll failed, retrying with backoff")

		// Don't sleep on the last attempt
		if attempt < attempts-1 {
			select {
			case <-fp.ctx.Done():
				return
			case <-time.After(backoff):
				backoff *= 2
				if backoff > maxBackoff {
					backoff = maxBackoff
				}
			}
		}
	}

	fp.logger.Error("Feed poll failed after all retry attempts")
}
