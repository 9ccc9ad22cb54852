package service

import (
	"context"
	"time"

	"fedrelay/internal/models"

	"github.com/sirupsen/logrus"
)

// RateLimitStore is the persistence surface of the sliding-window limiter.
type RateLimitStore interface {
	TryAcquireRateLimit(ctx context.Context, key string, windowStart time.Time, threshold int) (bool, error)
	PruneRateLimitEntries(ctx context.Context, cutoff time.Time) (int64, error)
}

// RateLimiter is a sliding-window log limiter keyed by an arbitrary string
// (remote host, route). Enablement is an explicit constructor value, not a
// process-wide flag.
type RateLimiter struct {
	store     RateLimitStore
	enabled   bool
	threshold int
	window    time.Duration
	logger    *logrus.Logger
}

func NewRateLimiter(store RateLimitStore, cfg models.RateLimitConfig, logger *logrus.Logger) *RateLimiter {
	return &RateLimiter{
		store:     store,
		enabled:   cfg.Enabled,
		threshold: cfg.Threshold,
		window:    time.Duration(cfg.WindowSec) * time.Second,
		logger:    logger,
	}
}

// Allow performs one admission check for key. Exhaustion is a clean false,
// never an error; the caller decides the user-visible response.
func (r *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	if !r.enabled {
		return true, nil
	}

	windowStart := time.Now().UTC().Add(-r.window)
	allowed, err := r.store.TryAcquireRateLimit(ctx, key, windowStart, r.threshold)
	if err != nil {
		return false, err
	}

	if !allowed {
		r.logger.WithField("key", key).Warn("Rate limit exceeded")
	}

	return allowed, nil
}

// Prune sweeps entries that have aged out of the window across all keys.
// Admission counting filters by window start regardless, so this sweep only
// reclaims space.
func (r *RateLimiter) Prune(ctx context.Context) (int64, error) {
	if !r.enabled {
		return 0, nil
	}
	return r.store.PruneRateLimitEntries(ctx, time.Now().UTC().Add(-r.window))
}
