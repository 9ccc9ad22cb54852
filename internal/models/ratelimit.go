package models

import (
	"time"
)

// RateLimitEntry is one admitted event in the sliding-window log.
// Entries are only inserted and pruned, never updated.
type RateLimitEntry struct {
	ID          int64     `db:"id"`
	Key         string    `db:"key"`
	WindowStart time.Time `db:"window_start"`
	CreatedAt   time.Time `db:"created_at"`
}
