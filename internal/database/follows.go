package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"fedrelay/internal/models"
)

// followTable selects between the two symmetric relationship tables.
type followTable string

const (
	tableFollowers followTable = "followers"
	tableFollowing followTable = "following"
)

// UpsertFollower records a remote actor's follow of a local user. Re-receiving
// the same Follow refreshes the activity ID and requested status.
func (d *Database) UpsertFollower(ctx context.Context, record *models.FollowerRecord) error {
	return d.upsertFollow(ctx, tableFollowers, record.LocalUserID, record.RemoteActorID,
		record.ActivityID, record.Status, record.AcceptedAt)
}

// UpsertFollowing records a local user's follow of a remote actor.
func (d *Database) UpsertFollowing(ctx context.Context, record *models.FollowRecord) error {
	return d.upsertFollow(ctx, tableFollowing, record.LocalUserID, record.RemoteActorID,
		record.ActivityID, record.Status, record.AcceptedAt)
}

func (d *Database) upsertFollow(ctx context.Context, table followTable, localUserID, remoteActorID, activityID string, status models.FollowStatus, acceptedAt *time.Time) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (local_user_id, remote_actor_id, activity_id, status, accepted_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(local_user_id, remote_actor_id) DO UPDATE SET
			activity_id = excluded.activity_id,
			status = excluded.status,
			accepted_at = excluded.accepted_at
	`, table)

	_, err := d.db.ExecContext(ctx, query, localUserID, remoteActorID, activityID, status, acceptedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert %s record: %w", table, err)
	}

	return nil
}

// AcceptFollower flips a pending follower record to accepted. Returns false
// when no pending record matched.
func (d *Database) AcceptFollower(ctx context.Context, localUserID, remoteActorID string) (bool, error) {
	return d.acceptFollow(ctx, tableFollowers, localUserID, remoteActorID)
}

// AcceptFollowing flips a pending following record to accepted, driven by an
// incoming Accept activity referencing an outstanding Follow.
func (d *Database) AcceptFollowing(ctx context.Context, localUserID, remoteActorID string) (bool, error) {
	return d.acceptFollow(ctx, tableFollowing, localUserID, remoteActorID)
}

func (d *Database) acceptFollow(ctx context.Context, table followTable, localUserID, remoteActorID string) (bool, error) {
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = ?, accepted_at = ?
		WHERE local_user_id = ? AND remote_actor_id = ? AND status = ?
	`, table)

	result, err := d.db.ExecContext(ctx, query,
		models.FollowStatusAccepted, time.Now().UTC(),
		localUserID, remoteActorID, models.FollowStatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("failed to accept %s record: %w", table, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return rows > 0, nil
}

// DeleteFollower removes a follower record outright (reject or Undo(Follow));
// no terminal state is retained.
func (d *Database) DeleteFollower(ctx context.Context, localUserID, remoteActorID string) error {
	return d.deleteFollow(ctx, tableFollowers, localUserID, remoteActorID)
}

// DeleteFollowing removes a following record outright.
func (d *Database) DeleteFollowing(ctx context.Context, localUserID, remoteActorID string) error {
	return d.deleteFollow(ctx, tableFollowing, localUserID, remoteActorID)
}

func (d *Database) deleteFollow(ctx context.Context, table followTable, localUserID, remoteActorID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE local_user_id = ? AND remote_actor_id = ?`, table)

	_, err := d.db.ExecContext(ctx, query, localUserID, remoteActorID)
	if err != nil {
		return fmt.Errorf("failed to delete %s record: %w", table, err)
	}

	return nil
}

// FindFollower point-queries one follower record.
func (d *Database) FindFollower(ctx context.Context, localUserID, remoteActorID string) (*models.FollowerRecord, error) {
	record := &models.FollowerRecord{}
	found, err := d.findFollow(ctx, tableFollowers, localUserID, remoteActorID,
		&record.ID, &record.LocalUserID, &record.RemoteActorID, &record.ActivityID,
		&record.Status, &record.CreatedAt, &record.AcceptedAt)
	if err != nil || !found {
		return nil, err
	}
	return record, nil
}

// FindFollowing point-queries one following record.
func (d *Database) FindFollowing(ctx context.Context, localUserID, remoteActorID string) (*models.FollowRecord, error) {
	record := &models.FollowRecord{}
	found, err := d.findFollow(ctx, tableFollowing, localUserID, remoteActorID,
		&record.ID, &record.LocalUserID, &record.RemoteActorID, &record.ActivityID,
		&record.Status, &record.CreatedAt, &record.AcceptedAt)
	if err != nil || !found {
		return nil, err
	}
	return record, nil
}

func (d *Database) findFollow(ctx context.Context, table followTable, localUserID, remoteActorID string, dest ...interface{}) (bool, error) {
	query := fmt.Sprintf(`
		SELECT id, local_user_id, remote_actor_id, activity_id, status, created_at, accepted_at
		FROM %s
		WHERE local_user_id = ? AND remote_actor_id = ?
	`, table)

	err := d.db.QueryRowContext(ctx, query, localUserID, remoteActorID).Scan(dest...)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to find %s record: %w", table, err)
	}

	return true, nil
}

// ListFollowers returns a page of follower records for a local user, newest
// confirmations first. An empty status lists all records.
func (d *Database) ListFollowers(ctx context.Context, localUserID string, status models.FollowStatus, limit, offset int) ([]models.FollowerRecord, error) {
	rows, err := d.listFollows(ctx, tableFollowers, localUserID, status, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.FollowerRecord
	for rows.Next() {
		var record models.FollowerRecord
		if err := rows.Scan(
			&record.ID, &record.LocalUserID, &record.RemoteActorID, &record.ActivityID,
			&record.Status, &record.CreatedAt, &record.AcceptedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan follower record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate follower records: %w", err)
	}

	return records, nil
}

// ListFollowing returns a page of following records for a local user.
func (d *Database) ListFollowing(ctx context.Context, localUserID string, status models.FollowStatus, limit, offset int) ([]models.FollowRecord, error) {
	rows, err := d.listFollows(ctx, tableFollowing, localUserID, status, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.FollowRecord
	for rows.Next() {
		var record models.FollowRecord
		if err := rows.Scan(
			&record.ID, &record.LocalUserID, &record.RemoteActorID, &record.ActivityID,
			&record.Status, &record.CreatedAt, &record.AcceptedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan following record: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate following records: %w", err)
	}

	return records, nil
}

func (d *Database) listFollows(ctx context.Context, table followTable, localUserID string, status models.FollowStatus, limit, offset int) (*sql.Rows, error) {
	var query string
	var args []interface{}

	// Accepted relationships surface most-recently-confirmed first.
	if status == "" {
		query = fmt.Sprintf(`
			SELECT id, local_user_id, remote_actor_id, activity_id, status, created_at, accepted_at
			FROM %s
			WHERE local_user_id = ?
			ORDER BY accepted_at DESC, created_at DESC
			LIMIT ? OFFSET ?
		`, table)
		args = []interface{}{localUserID, limit, offset}
	} else {
		query = fmt.Sprintf(`
			SELECT id, local_user_id, remote_actor_id, activity_id, status, created_at, accepted_at
			FROM %s
			WHERE local_user_id = ? AND status = ?
			ORDER BY accepted_at DESC, created_at DESC
			LIMIT ? OFFSET ?
		`, table)
		args = []interface{}{localUserID, status, limit, offset}
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s records: %w", table, err)
	}

	return rows, nil
}
