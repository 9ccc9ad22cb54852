package models

// Config holds the application configuration
type Config struct {
	Server     ServerConfig     `json:"server"`
	Database   DatabaseConfig   `json:"database"`
	Federation FederationConfig `json:"federation"`
	RateLimit  RateLimitConfig  `json:"rateLimit"`
	Retry      RetryConfig      `json:"retry"`
	Tracing    TracingConfig    `json:"tracing"`
	LogLevel   string           `json:"log_level"`
}

// ServerConfig holds HTTP server related configuration
type ServerConfig struct {
	Port            int `json:"port"`
	ReadTimeoutSec  int `json:"readTimeoutSec"`
	WriteTimeoutSec int `json:"writeTimeoutSec"`
	IdleTimeoutSec  int `json:"idleTimeoutSec"`
}

// DatabaseConfig holds database related configuration
type DatabaseConfig struct {
	Path string `json:"path"`
}

// FederationConfig holds work-queue and delivery related configuration
type FederationConfig struct {
	Domain              string `json:"domain"`
	UserAgent           string `json:"userAgent"`
	DeliveryBatchSize   int    `json:"deliveryBatchSize"`
	InboxBatchSize      int    `json:"inboxBatchSize"`
	TickIntervalSec     int    `json:"tickIntervalSec"`
	ReclaimAfterMin     int    `json:"reclaimAfterMin"`
	StaleThresholdMin   int    `json:"staleThresholdMin"`
	MaxDeliveryAttempts int    `json:"maxDeliveryAttempts"`
	DeliveryConcurrency int    `json:"deliveryConcurrency"`
	DeliveryTimeoutSec  int    `json:"deliveryTimeoutSec"`
	AutoAcceptFollows   bool   `json:"autoAcceptFollows"`
	ActorCacheSize      int    `json:"actorCacheSize"`
	ActorCacheMaxAgeHrs int    `json:"actorCacheMaxAgeHrs"`
}

// RateLimitConfig holds sliding-window rate limiter configuration.
// Enabled is threaded into the limiter constructor; there is no
// process-wide toggle.
type RateLimitConfig struct {
	Enabled   bool `json:"enabled"`
	Threshold int  `json:"threshold"`
	WindowSec int  `json:"windowSec"`
}

// RetryConfig holds retry related configuration
type RetryConfig struct {
	InitialBackoffMs int `json:"initialBackoffMs"`
	MaxBackoffMs     int `json:"maxBackoffMs"`
	MaxAttempts      int `json:"maxAttempts"`
}

// TracingConfig holds OpenTelemetry configuration
type TracingConfig struct {
	ServiceName    string  `json:"service_name"`
	ServiceVersion string  `json:"service_version"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlp_endpoint"`
	SampleRate     float64 `json:"sample_rate"`
	Enabled        bool    `json:"enabled"`
	UseStdout      bool    `json:"use_stdout"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
