package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"fedrelay/internal/models"
)

// EnqueueDelivery inserts one pending (activity, target inbox) row. Enqueuing
// an existing pair is a silent no-op so fan-out can be retried after a
// partial failure without double-enqueueing.
func (d *Database) EnqueueDelivery(ctx context.Context, activityID, targetInboxURL string) error {
	query := `
		INSERT OR IGNORE INTO delivery_queue (activity_id, target_inbox_url, status)
		VALUES (?, ?, ?)
	`

	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query, activityID, targetInboxURL, models.DeliveryStatusPending)
		if err != nil {
			return fmt.Errorf("failed to enqueue delivery: %w", err)
		}
		return nil
	}, "enqueue delivery")
}

// ClaimDeliveryBatch atomically claims up to batchSize eligible pending rows:
// inside a single transaction it selects them oldest-first, joined with their
// hydrated outbox payload, and flips them to processing with last_attempt_at
// set before committing. Rows attempted within reclaimAfter are skipped so a
// prior invocation that is still working is not re-claimed.
func (d *Database) ClaimDeliveryBatch(ctx context.Context, batchSize int, reclaimAfter time.Duration) ([]models.ClaimedDelivery, error) {
	now := time.Now().UTC()
	cutoff := now.Add(-reclaimAfter)

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		SELECT dq.id, dq.activity_id, dq.target_inbox_url, dq.retry_count, dq.created_at,
			   o.local_user_id, o.activity_type, o.activity_payload
		FROM delivery_queue dq
		JOIN outbox_activities o ON o.activity_id = dq.activity_id
		WHERE dq.status = ? AND (dq.last_attempt_at IS NULL OR dq.last_attempt_at < ?)
		ORDER BY dq.created_at ASC
		LIMIT ?
	`

	rows, err := tx.QueryContext(ctx, query, models.DeliveryStatusPending, cutoff, batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to select claimable deliveries: %w", err)
	}

	var claimed []models.ClaimedDelivery
	for rows.Next() {
		var item models.ClaimedDelivery
		if err := rows.Scan(
			&item.ID,
			&item.ActivityID,
			&item.TargetInboxURL,
			&item.RetryCount,
			&item.CreatedAt,
			&item.LocalUserID,
			&item.ActivityType,
			&item.ActivityPayload,
		); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan claimable delivery: %w", err)
		}
		claimed = append(claimed, item)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to iterate claimable deliveries: %w", err)
	}
	rows.Close()

	if len(claimed) == 0 {
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit empty claim: %w", err)
		}
		return nil, nil
	}

	ids := make([]interface{}, 0, len(claimed)+2)
	ids = append(ids, models.DeliveryStatusProcessing, now)
	placeholders := make([]string, len(claimed))
	for i, item := range claimed {
		placeholders[i] = "?"
		ids = append(ids, item.ID)
	}

	update := fmt.Sprintf(
		`UPDATE delivery_queue SET status = ?, last_attempt_at = ? WHERE id IN (%s)`,
		strings.Join(placeholders, ", "),
	)
	if _, err := tx.ExecContext(ctx, update, ids...); err != nil {
		return nil, fmt.Errorf("failed to mark deliveries processing: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim transaction: %w", err)
	}

	attemptedAt := now
	for i := range claimed {
		claimed[i].Status = models.DeliveryStatusProcessing
		claimed[i].LastAttemptAt = &attemptedAt
	}

	return claimed, nil
}

// MarkDelivered records a successful delivery.
func (d *Database) MarkDelivered(ctx context.Context, id int64) error {
	query := `
		UPDATE delivery_queue
		SET status = ?, delivered_at = ?
		WHERE id = ?
	`

	result, err := d.db.ExecContext(ctx, query, models.DeliveryStatusDelivered, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark delivery delivered: %w", err)
	}

	return requireRowAffected(result, id)
}

// MarkDeliveryFailed re-queues a failed delivery for retry, bumping
// retry_count and recording the error. The retry ceiling is the caller's
// policy, not the queue's.
func (d *Database) MarkDeliveryFailed(ctx context.Context, id int64, errMsg string) error {
	query := `
		UPDATE delivery_queue
		SET status = ?, retry_count = retry_count + 1, last_error = ?
		WHERE id = ?
	`

	result, err := d.db.ExecContext(ctx, query, models.DeliveryStatusPending, errMsg, id)
	if err != nil {
		return fmt.Errorf("failed to mark delivery failed: %w", err)
	}

	return requireRowAffected(result, id)
}

// AbandonDelivery terminally fails a delivery that exhausted its retry budget.
func (d *Database) AbandonDelivery(ctx context.Context, id int64, errMsg string) error {
	query := `
		UPDATE delivery_queue
		SET status = ?, last_error = ?
		WHERE id = ?
	`

	result, err := d.db.ExecContext(ctx, query, models.DeliveryStatusFailed, errMsg, id)
	if err != nil {
		return fmt.Errorf("failed to abandon delivery: %w", err)
	}

	return requireRowAffected(result, id)
}

// ResetStaleDeliveries sweeps rows stuck in processing back to pending. Runs
// before each claim so a crashed worker's claimed-but-unfinished rows become
// eligible again.
func (d *Database) ResetStaleDeliveries(ctx context.Context, threshold time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-threshold)

	query := `
		UPDATE delivery_queue
		SET status = ?, last_attempt_at = NULL
		WHERE status = ? AND (last_attempt_at IS NULL OR last_attempt_at < ?)
	`

	result, err := d.db.ExecContext(ctx, query, models.DeliveryStatusPending, models.DeliveryStatusProcessing, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to reset stale deliveries: %w", err)
	}

	reset, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return reset, nil
}

// GetDeliveryQueueItem retrieves one queue row by (activity, target inbox).
func (d *Database) GetDeliveryQueueItem(ctx context.Context, activityID, targetInboxURL string) (*models.DeliveryQueueItem, error) {
	query := `
		SELECT id, activity_id, target_inbox_url, status, retry_count,
			   last_error, last_attempt_at, delivered_at, created_at
		FROM delivery_queue
		WHERE activity_id = ? AND target_inbox_url = ?
	`

	item := &models.DeliveryQueueItem{}
	err := d.db.QueryRowContext(ctx, query, activityID, targetInboxURL).Scan(
		&item.ID,
		&item.ActivityID,
		&item.TargetInboxURL,
		&item.Status,
		&item.RetryCount,
		&item.LastError,
		&item.LastAttemptAt,
		&item.DeliveredAt,
		&item.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get delivery queue item: %w", err)
	}

	return item, nil
}

// CountDeliveriesByStatus returns the number of queue rows in the given state.
func (d *Database) CountDeliveriesByStatus(ctx context.Context, status models.DeliveryStatus) (int64, error) {
	var count int64
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM delivery_queue WHERE status = ?`, status,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count deliveries: %w", err)
	}
	return count, nil
}

func requireRowAffected(result sql.Result, id int64) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("no queue row found with id: %d", id)
	}
	return nil
}
