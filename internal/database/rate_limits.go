package database

import (
	"context"
	"fmt"
	"time"
)

// TryAcquireRateLimit performs one sliding-window admission check for key,
// all inside a single transaction: prune entries older than windowStart,
// count what remains in the window, deny at the threshold, otherwise record
// the event and allow. The count always filters by windowStart so a skipped
// or lagging prune can never inflate the admitted total.
func (d *Database) TryAcquireRateLimit(ctx context.Context, key string, windowStart time.Time, threshold int) (bool, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin rate limit transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM rate_limit_entries WHERE key = ? AND created_at < ?`,
		key, windowStart,
	); err != nil {
		return false, fmt.Errorf("failed to prune rate limit entries: %w", err)
	}

	var count int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM rate_limit_entries WHERE key = ? AND created_at >= ?`,
		key, windowStart,
	).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to count rate limit entries: %w", err)
	}

	if count >= threshold {
		if err := tx.Commit(); err != nil {
			return false, fmt.Errorf("failed to commit rate limit check: %w", err)
		}
		return false, nil
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO rate_limit_entries (key, window_start, created_at) VALUES (?, ?, ?)`,
		key, windowStart, time.Now().UTC(),
	); err != nil {
		return false, fmt.Errorf("failed to insert rate limit entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit rate limit entry: %w", err)
	}

	return true, nil
}

// PruneRateLimitEntries is the maintenance sweep variant: it deletes entries
// older than cutoff across all keys.
func (d *Database) PruneRateLimitEntries(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := d.db.ExecContext(ctx,
		`DELETE FROM rate_limit_entries WHERE created_at < ?`, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune rate limit entries: %w", err)
	}

	pruned, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return pruned, nil
}
