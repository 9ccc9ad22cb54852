package database

import (
	"context"
	"database/sql"
	"fmt"

	"fedrelay/internal/models"
)

// UpsertOutboxActivity records a locally-produced activity. Re-publishing the
// same activity_id replaces payload and object fields only; created_at and
// local_user_id survive the conflict.
func (d *Database) UpsertOutboxActivity(ctx context.Context, activity *models.OutboxActivity) error {
	query := `
		INSERT INTO outbox_activities (
			activity_id, local_user_id, activity_type, activity_payload,
			object_id, object_type
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(activity_id) DO UPDATE SET
			activity_payload = excluded.activity_payload,
			object_id = excluded.object_id,
			object_type = excluded.object_type
	`

	_, err := d.db.ExecContext(ctx, query,
		activity.ActivityID,
		activity.LocalUserID,
		activity.ActivityType,
		activity.ActivityPayload,
		activity.ObjectID,
		activity.ObjectType,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert outbox activity: %w", err)
	}

	return nil
}

// GetOutboxActivity retrieves a stored activity by its activity ID.
func (d *Database) GetOutboxActivity(ctx context.Context, activityID string) (*models.OutboxActivity, error) {
	query := `
		SELECT id, activity_id, local_user_id, activity_type, activity_payload,
			   object_id, object_type, created_at
		FROM outbox_activities
		WHERE activity_id = ?
	`

	activity := &models.OutboxActivity{}
	err := d.db.QueryRowContext(ctx, query, activityID).Scan(
		&activity.ID,
		&activity.ActivityID,
		&activity.LocalUserID,
		&activity.ActivityType,
		&activity.ActivityPayload,
		&activity.ObjectID,
		&activity.ObjectType,
		&activity.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get outbox activity: %w", err)
	}

	return activity, nil
}
