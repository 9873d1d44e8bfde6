package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"chatsync/internal/constants"
	"chatsync/internal/models"
	"chatsync/internal/security"
)

var (
	ErrMissingUserID    = models.ConfigError{Message: "missing self user id"}
	ErrMissingStorePath = models.ConfigError{Message: "missing store path"}
)

// LoadConfig reads the JSON configuration file, fills defaults, applies
// environment overrides and validates the result.
func LoadConfig(path string) (*models.Config, error) {
	// Validate config file path to prevent directory traversal
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - Path validated by security.ValidateFilePath above
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	applyEnvironmentOverrides(&config)

	if err := validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(c *models.Config) error {
	if c.Self.UserID == "" {
		return ErrMissingUserID
	}
	if c.Store.Path == "" {
		return ErrMissingStorePath
	}

	if c.Feed.WebsocketURL == "" && !c.Feed.PollingEnabled {
		return models.ConfigError{Message: "feed requires a websocket url or polling enabled"}
	}
	if c.Feed.PollIntervalSec < 0 || c.Feed.PollTimeoutSec < 0 {
		return models.ConfigError{Message: "feed poll interval and timeout must not be negative"}
	}

	if c.Feed.PollIntervalSec == 0 {
		c.Feed.PollIntervalSec = constants.DefaultFeedPollIntervalSec
	}
	if c.Feed.PollTimeoutSec == 0 {
		c.Feed.PollTimeoutSec = constants.DefaultFeedPollTimeoutSec
	}
	if c.Retry.InitialBackoffMs <= 0 {
		c.Retry.InitialBackoffMs = constants.DefaultRetryBackoffMs
	}
	if c.Retry.MaxBackoffMs <= 0 {
		c.Retry.MaxBackoffMs = constants.DefaultMaxBackoffMs
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = constants.DefaultMaxAttempts
	}
	if c.Server.Port == 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return models.ConfigError{Message: fmt.Sprintf("invalid server port: %d", c.Server.Port)}
	}

	if c.Store.EncryptionEnabled && os.Getenv("CHATSYNC_ENCRYPTION_SECRET") == "" {
		return models.ConfigError{Message: "store encryption enabled but CHATSYNC_ENCRYPTION_SECRET is not set"}
	}

	return nil
}

func applyEnvironmentOverrides(c *models.Config) {
	if userID := os.Getenv("CHATSYNC_USER_ID"); userID != "" {
		c.Self.UserID = userID
	}
	if path := os.Getenv("CHATSYNC_STORE_PATH"); path != "" {
		c.Store.Path = path
	}
	if url := os.Getenv("CHATSYNC_FEED_URL"); url != "" {
		c.Feed.WebsocketURL = url
	}
	if level := os.Getenv("CHATSYNC_LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
	if port := os.Getenv("PORT"); port != "" {
		if parsed, err := strconv.Atoi(port); err == nil {
			c.Server.Port = parsed
		}
	}
}
