package models

// Config is the daemon configuration, loaded from JSON with environment
// overrides applied afterwards.
type Config struct {
	LogLevel string        `json:"logLevel,omitempty"`
	Self     SelfConfig    `json:"self"`
	Store    StoreConfig   `json:"store"`
	Feed     FeedConfig    `json:"feed"`
	Retry    RetryConfig   `json:"retry"`
	Server   ServerConfig  `json:"server"`
	Tracing  TracingConfig `json:"tracing"`
}

// SelfConfig identifies the local user this client acts for.
type SelfConfig struct {
	UserID string `json:"userId"`
}

// StoreConfig configures the sqlite-backed message and receipt stores.
type StoreConfig struct {
	Path              string `json:"path"`
	EncryptionEnabled bool   `json:"encryptionEnabled,omitempty"`
}

// FeedConfig configures the change feed. When WebsocketURL is empty the
// engine falls back to polling the message store.
type FeedConfig struct {
	WebsocketURL    string `json:"websocketUrl,omitempty"`
	PollingEnabled  bool   `json:"pollingEnabled"`
	PollIntervalSec int    `json:"pollIntervalSec,omitempty"`
	PollTimeoutSec  int    `json:"pollTimeoutSec,omitempty"`
}

// RetryConfig bounds backoff retry loops for feed polling and store access.
type RetryConfig struct {
	InitialBackoffMs int `json:"initialBackoffMs"`
	MaxBackoffMs     int `json:"maxBackoffMs"`
	MaxAttempts      int `json:"maxAttempts"`
}

// ServerConfig configures the HTTP API surface.
type ServerConfig struct {
	Port int `json:"port,omitempty"`
}

// TracingConfig mirrors the OpenTelemetry setup options.
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	ServiceName    string  `json:"serviceName,omitempty"`
	ServiceVersion string  `json:"serviceVersion,omitempty"`
	Environment    string  `json:"environment,omitempty"`
	OTLPEndpoint   string  `json:"otlpEndpoint,omitempty"`
	SampleRate     float64 `json:"sampleRate,omitempty"`
	UseStdout      bool    `json:"useStdout,omitempty"`
}

// ConfigError reports an invalid or incomplete configuration.
type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
