package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"fedrelay/internal/models"
)

// EnqueueInboxActivity inserts one received remote activity. A duplicate
// activity_id is swallowed and treated as success: this is the idempotency
// boundary against replayed or duplicated federation deliveries.
func (d *Database) EnqueueInboxActivity(ctx context.Context, activity *models.InboxActivity) error {
	query := `
		INSERT OR IGNORE INTO inbox_activities (
			local_user_id, remote_actor_id, activity_id, activity_type,
			activity_payload, status
		) VALUES (?, ?, ?, ?, ?, ?)
	`

	return retryableDBOperation(ctx, func() error {
		_, err := d.db.ExecContext(ctx, query,
			activity.LocalUserID,
			activity.RemoteActorID,
			activity.ActivityID,
			activity.ActivityType,
			activity.ActivityPayload,
			models.InboxStatusPending,
		)
		if err != nil {
			return fmt.Errorf("failed to enqueue inbox activity: %w", err)
		}
		return nil
	}, "enqueue inbox activity")
}

// ClaimInboxBatch atomically claims up to batchSize pending rows, flipping
// them to processing before the transaction commits. Unlike the delivery
// queue there is no recency guard: the worker must terminally resolve every
// claimed row.
func (d *Database) ClaimInboxBatch(ctx context.Context, batchSize int) ([]models.InboxActivity, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin claim transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		SELECT id, local_user_id, remote_actor_id, activity_id, activity_type,
			   activity_payload, status, error_message, processed_at, created_at
		FROM inbox_activities
		WHERE status = ?
		ORDER BY created_at ASC
		LIMIT ?
	`

	rows, err := tx.QueryContext(ctx, query, models.InboxStatusPending, batchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to select claimable inbox activities: %w", err)
	}

	var claimed []models.InboxActivity
	for rows.Next() {
		var activity models.InboxActivity
		if err := rows.Scan(
			&activity.ID,
			&activity.LocalUserID,
			&activity.RemoteActorID,
			&activity.ActivityID,
			&activity.ActivityType,
			&activity.ActivityPayload,
			&activity.Status,
			&activity.ErrorMessage,
			&activity.ProcessedAt,
			&activity.CreatedAt,
		); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan claimable inbox activity: %w", err)
		}
		claimed = append(claimed, activity)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("failed to iterate claimable inbox activities: %w", err)
	}
	rows.Close()

	if len(claimed) == 0 {
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("failed to commit empty claim: %w", err)
		}
		return nil, nil
	}

	args := make([]interface{}, 0, len(claimed)+1)
	args = append(args, models.InboxStatusProcessing)
	placeholders := make([]string, len(claimed))
	for i, activity := range claimed {
		placeholders[i] = "?"
		args = append(args, activity.ID)
	}

	update := fmt.Sprintf(
		`UPDATE inbox_activities SET status = ? WHERE id IN (%s)`,
		strings.Join(placeholders, ", "),
	)
	if _, err := tx.ExecContext(ctx, update, args...); err != nil {
		return nil, fmt.Errorf("failed to mark inbox activities processing: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit claim transaction: %w", err)
	}

	for i := range claimed {
		claimed[i].Status = models.InboxStatusProcessing
	}

	return claimed, nil
}

// MarkInboxProcessed terminally resolves a claimed row as applied.
func (d *Database) MarkInboxProcessed(ctx context.Context, id int64) error {
	query := `
		UPDATE inbox_activities
		SET status = ?, processed_at = ?
		WHERE id = ?
	`

	result, err := d.db.ExecContext(ctx, query, models.InboxStatusProcessed, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark inbox activity processed: %w", err)
	}

	return requireRowAffected(result, id)
}

// MarkInboxFailed terminally resolves a claimed row as failed. Inbox rows are
// never auto-retried; the side effect is not assumed safely re-runnable.
func (d *Database) MarkInboxFailed(ctx context.Context, id int64, errMsg string) error {
	query := `
		UPDATE inbox_activities
		SET status = ?, error_message = ?, processed_at = ?
		WHERE id = ?
	`

	result, err := d.db.ExecContext(ctx, query, models.InboxStatusFailed, errMsg, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to mark inbox activity failed: %w", err)
	}

	return requireRowAffected(result, id)
}

// CountStuckInboxActivities counts rows left at processing beyond the grace
// period. A monitoring signal, not a retry trigger.
func (d *Database) CountStuckInboxActivities(ctx context.Context, grace time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-grace)

	var count int64
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM inbox_activities WHERE status = ? AND created_at < ?`,
		models.InboxStatusProcessing, cutoff,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count stuck inbox activities: %w", err)
	}

	return count, nil
}

// GetInboxActivity retrieves one inbox row by its activity ID.
func (d *Database) GetInboxActivity(ctx context.Context, activityID string) (*models.InboxActivity, error) {
	query := `
		SELECT id, local_user_id, remote_actor_id, activity_id, activity_type,
			   activity_payload, status, error_message, processed_at, created_at
		FROM inbox_activities
		WHERE activity_id = ?
	`

	activity := &models.InboxActivity{}
	err := d.db.QueryRowContext(ctx, query, activityID).Scan(
		&activity.ID,
		&activity.LocalUserID,
		&activity.RemoteActorID,
		&activity.ActivityID,
		&activity.ActivityType,
		&activity.ActivityPayload,
		&activity.Status,
		&activity.ErrorMessage,
		&activity.ProcessedAt,
		&activity.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get inbox activity: %w", err)
	}

	return activity, nil
}

// CountInboxActivities returns the number of inbox rows in the given state.
func (d *Database) CountInboxActivities(ctx context.Context, status models.InboxStatus) (int64, error) {
	var count int64
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM inbox_activities WHERE status = ?`, status,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count inbox activities: %w", err)
	}
	return count, nil
}
