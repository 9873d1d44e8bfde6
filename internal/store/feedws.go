package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"chatsync/internal/constants"
	"chatsync/internal/models"
	"chatsync/internal/retry"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/sirupsen/logrus"
)

// FeedClient subscribes to the remote change feed over a websocket and
// delivers decoded message rows on a channel. Connection drops are retried
// with exponential backoff until the context ends; the row channel closes
// when the client gives up or is stopped.
type FeedClient struct {
	url     string
	backoff *retry.Backoff
	logger  *logrus.Logger

	rows   chan models.MessageRow
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	running bool
}

func NewFeedClient(url string, retryConfig models.RetryConfig, logger *logrus.Logger) *FeedClient {
	cfg := retry.DefaultBackoffConfig()
	if retryConfig.InitialBackoffMs > 0 {
		cfg.InitialDelay = time.Duration(retryConfig.InitialBackoffMs) * time.Millisecond
	}
	if retryConfig.MaxBackoffMs > 0 {
		cfg.MaxDelay = time.Duration(retryConfig.MaxBackoffMs) * time.Millisecond
	}
	if retryConfig.MaxAttempts > 0 {
		cfg.MaxAttempts = retryConfig.MaxAttempts
	}

	return &FeedClient{
		url:     url,
		backoff: retry.NewBackoff(cfg),
		logger:  logger,
		rows:    make(chan models.MessageRow, constants.DefaultPageSize),
	}
}

// Rows is the channel feed rows arrive on. It closes when the client stops.
func (fc *FeedClient) Rows() <-chan models.MessageRow {
	return fc.rows
}

// Start connects in the background and begins delivering rows.
func (fc *FeedClient) Start(ctx context.Context) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	if fc.running {
		return errors.New("feed client is already running")
	}
	if fc.url == "" {
		return errors.New("feed websocket url is not configured")
	}

	ctx, fc.cancel = context.WithCancel(ctx)
	fc.running = true

	fc.wg.Add(1)
	go fc.run(ctx)
	return nil
}

// Stop disconnects and closes the row channel.
func (fc *FeedClient) Stop() {
	fc.mu.Lock()
	defer fc.mu.Unlock()

	if !fc.running {
		return
	}
	fc.cancel()
	fc.wg.Wait()
	fc.running = false
}

func (fc *FeedClient) run(ctx context.Context) {
	defer fc.wg.Done()
	defer close(fc.rows)

	for {
		if ctx.Err() != nil {
			return
		}

		err := fc.backoff.Retry(ctx, func() error {
			return fc.consumeOnce(ctx)
		})
		if err == nil || ctx.Err() != nil {
			return
		}

		// All reconnect attempts in this cycle failed; rest one full delay
		// before starting the next cycle.
		fc.logger.WithError(err).Warn("Feed connection lost, reconnecting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(constants.DefaultFeedReconnectDelaySec) * time.Second):
		}
	}
}

// consumeOnce dials the feed and reads rows until the connection breaks. A
// clean context end reports success so the retry loop stops.
func (fc *FeedClient) consumeOnce(ctx context.Context) error {
	conn, _, err := websocket.Dial(ctx, fc.url, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = conn.CloseNow()
	}()

	fc.logger.WithField("url", fc.url).Info("Feed connected")

	for {
		var row models.MessageRow
		if err := wsjson.Read(ctx, conn, &row); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if !row.Valid() {
			fc.logger.Debug("Dropping malformed feed row")
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case fc.rows <- row:
		}
	}
}
