package constants

// Default work-queue configuration values
const (
	DefaultDeliveryBatchSize   = 100
	DefaultInboxBatchSize      = 100
	DefaultTickIntervalSec     = 300
	DefaultReclaimAfterMin     = 5
	DefaultStaleThresholdMin   = 5
	DefaultMaxDeliveryAttempts = 10
	DefaultDeliveryConcurrency = 8
	DefaultInboxStuckGraceMin  = 30
)

// Default rate limiter values
const (
	DefaultRateLimitThreshold = 100
	DefaultRateLimitWindowSec = 60
)

// Default actor cache values
const (
	DefaultActorCacheSize      = 1024
	DefaultActorCacheMaxAgeHrs = 24
)

// Default retry and timeout values
const (
	DefaultRetryBackoffMs        = 1000
	DefaultMaxBackoffMs          = 60000
	DefaultMaxAttempts           = 5
	DefaultDatabaseRetryAttempts = 3
	DefaultDeliveryTimeoutSec    = 30
	DefaultGracefulShutdownSec   = 30
	DefaultServerPort            = 8084
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
)

// ServerErrorChannelSize buffers the server goroutine's error hand-off.
const ServerErrorChannelSize = 1
