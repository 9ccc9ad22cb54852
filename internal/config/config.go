package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"fedrelay/internal/constants"
	"fedrelay/internal/models"
)

var (
	ErrMissingDBPath = models.ConfigError{Message: "missing database path"}
	ErrMissingDomain = models.ConfigError{Message: "missing federation domain"}
)

func LoadConfig(path string) (*models.Config, error) {
	file, err := os.ReadFile(path)
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
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}
	if c.Federation.Domain == "" {
		return ErrMissingDomain
	}

	if c.Server.Port <= 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Server.ReadTimeoutSec <= 0 {
		c.Server.ReadTimeoutSec = constants.DefaultServerReadTimeoutSec
	}
	if c.Server.WriteTimeoutSec <= 0 {
		c.Server.WriteTimeoutSec = constants.DefaultServerWriteTimeoutSec
	}
	if c.Server.IdleTimeoutSec <= 0 {
		c.Server.IdleTimeoutSec = constants.DefaultServerIdleTimeoutSec
	}

	if c.Federation.UserAgent == "" {
		c.Federation.UserAgent = "fedrelay/1.0"
	}
	if c.Federation.DeliveryBatchSize <= 0 {
		c.Federation.DeliveryBatchSize = constants.DefaultDeliveryBatchSize
	}
	if c.Federation.InboxBatchSize <= 0 {
		c.Federation.InboxBatchSize = constants.DefaultInboxBatchSize
	}
	if c.Federation.TickIntervalSec <= 0 {
		c.Federation.TickIntervalSec = constants.DefaultTickIntervalSec
	}
	if c.Federation.ReclaimAfterMin <= 0 {
		c.Federation.ReclaimAfterMin = constants.DefaultReclaimAfterMin
	}
	if c.Federation.StaleThresholdMin <= 0 {
		c.Federation.StaleThresholdMin = constants.DefaultStaleThresholdMin
	}
	if c.Federation.MaxDeliveryAttempts <= 0 {
		c.Federation.MaxDeliveryAttempts = constants.DefaultMaxDeliveryAttempts
	}
	if c.Federation.DeliveryConcurrency <= 0 {
		c.Federation.DeliveryConcurrency = constants.DefaultDeliveryConcurrency
	}
	if c.Federation.DeliveryTimeoutSec <= 0 {
		c.Federation.DeliveryTimeoutSec = constants.DefaultDeliveryTimeoutSec
	}
	if c.Federation.ActorCacheSize <= 0 {
		c.Federation.ActorCacheSize = constants.DefaultActorCacheSize
	}
	if c.Federation.ActorCacheMaxAgeHrs <= 0 {
		c.Federation.ActorCacheMaxAgeHrs = constants.DefaultActorCacheMaxAgeHrs
	}

	if c.RateLimit.Threshold <= 0 {
		c.RateLimit.Threshold = constants.DefaultRateLimitThreshold
	}
	if c.RateLimit.WindowSec <= 0 {
		c.RateLimit.WindowSec = constants.DefaultRateLimitWindowSec
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

	return nil
}

func applyEnvironmentOverrides(c *models.Config) {
	if path := os.Getenv("FEDRELAY_DB_PATH"); path != "" {
		c.Database.Path = path
	}
	if domain := os.Getenv("FEDRELAY_DOMAIN"); domain != "" {
		c.Federation.Domain = domain
	}
	if port := os.Getenv("FEDRELAY_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil && p > 0 {
			c.Server.Port = p
		} else {
			fmt.Fprintf(os.Stderr, "WARNING: ignoring invalid FEDRELAY_PORT %q\n", port)
		}
	}
	if level := os.Getenv("FEDRELAY_LOG_LEVEL"); level != "" {
		c.LogLevel = level
	}
}
