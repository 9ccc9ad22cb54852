package models

import (
	"time"
)

// RemoteActor is memoized metadata about a remote federation participant,
// keyed by actor URI. Staleness policy belongs to the caller; the cache only
// stores whatever was last written.
type RemoteActor struct {
	ID            string    `db:"id"` // actor URI
	Handle        string    `db:"handle"`
	DisplayName   string    `db:"display_name"`
	Domain        string    `db:"domain"`
	InboxURL      string    `db:"inbox_url"`
	OutboxURL     string    `db:"outbox_url"`
	FollowersURL  string    `db:"followers_url"`
	FollowingURL  string    `db:"following_url"`
	PublicKeyPEM  string    `db:"public_key_pem"`
	LastFetchedAt time.Time `db:"last_fetched_at"`
}

// IsStale reports whether the cached entry is older than maxAge.
func (a *RemoteActor) IsStale(maxAge time.Duration) bool {
	return time.Since(a.LastFetchedAt) > maxAge
}
