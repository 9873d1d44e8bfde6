package constants

import "time"

// Default feed configuration values
const (
	DefaultFeedPollIntervalSec = 5
	DefaultFeedPollTimeoutSec  = 10
	DefaultRetryBackoffMs      = 1000
	DefaultMaxBackoffMs        = 60000
	DefaultMaxAttempts         = 5
	DefaultServerPort          = 8084
)

// Default cache writer configuration values
const (
	// CacheWriterRetryAttempts is the number of scheduled retries after a
	// failed first attempt. Delays are fixed, not exponential.
	CacheWriterRetryAttempts = 3

	CacheWriterRetryDelay = 500 * time.Millisecond
)

// ReadMarkerThrottleWindow is the minimum spacing between outbound
// read-receipt writes for a single conversation.
const ReadMarkerThrottleWindow = 3 * time.Second

// Default pagination values
const (
	DefaultPageSize = 50
	MaxPageSize     = 200
)

// Default timeout values
const (
	DefaultHTTPTimeoutSec        = 30
	DefaultStoreRetryAttempts    = 3
	DefaultGracefulShutdownSec   = 30
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
	DefaultFeedReconnectDelaySec = 2
)

// ServerErrorChannelSize buffers the server goroutine's terminal error.
const ServerErrorChannelSize = 1

// At-rest encryption parameters for the local message store.
const (
	EncryptionSalt          = "chatsync-store-salt-v1"
	EncryptionKeySize       = 32
	EncryptionNonceSize     = 12
	EncryptionIterations    = 100000
	EncryptionMinSecretSize = 32
)
