package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"fedrelay/internal/models"
)

// UpsertRemoteActor stores freshly-resolved remote actor metadata, keyed by
// actor URI. Staleness policy belongs to the caller.
func (d *Database) UpsertRemoteActor(ctx context.Context, actor *models.RemoteActor) error {
	query := `
		INSERT INTO remote_actors (
			id, handle, display_name, domain, inbox_url, outbox_url,
			followers_url, following_url, public_key_pem, last_fetched_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			handle = excluded.handle,
			display_name = excluded.display_name,
			domain = excluded.domain,
			inbox_url = excluded.inbox_url,
			outbox_url = excluded.outbox_url,
			followers_url = excluded.followers_url,
			following_url = excluded.following_url,
			public_key_pem = excluded.public_key_pem,
			last_fetched_at = excluded.last_fetched_at
	`

	lastFetchedAt := actor.LastFetchedAt
	if lastFetchedAt.IsZero() {
		lastFetchedAt = time.Now().UTC()
	}

	_, err := d.db.ExecContext(ctx, query,
		actor.ID,
		actor.Handle,
		actor.DisplayName,
		actor.Domain,
		actor.InboxURL,
		actor.OutboxURL,
		actor.FollowersURL,
		actor.FollowingURL,
		actor.PublicKeyPEM,
		lastFetchedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert remote actor: %w", err)
	}

	return nil
}

// GetRemoteActor retrieves cached actor metadata by actor URI.
func (d *Database) GetRemoteActor(ctx context.Context, actorURI string) (*models.RemoteActor, error) {
	query := `
		SELECT id, handle, display_name, domain, inbox_url, outbox_url,
			   followers_url, following_url, public_key_pem, last_fetched_at
		FROM remote_actors
		WHERE id = ?
	`

	actor := &models.RemoteActor{}
	err := d.db.QueryRowContext(ctx, query, actorURI).Scan(
		&actor.ID,
		&actor.Handle,
		&actor.DisplayName,
		&actor.Domain,
		&actor.InboxURL,
		&actor.OutboxURL,
		&actor.FollowersURL,
		&actor.FollowingURL,
		&actor.PublicKeyPEM,
		&actor.LastFetchedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get remote actor: %w", err)
	}

	return actor, nil
}
