package models

import (
	"time"
)

type FollowStatus string

const (
	FollowStatusPending  FollowStatus = "pending"
	FollowStatusAccepted FollowStatus = "accepted"
)

// FollowerRecord tracks a remote actor's follow of a local user.
// A reject or Undo(Follow) deletes the record; there is no terminal state
// beyond accepted.
type FollowerRecord struct {
	ID            int64        `db:"id"`
	LocalUserID   string       `db:"local_user_id"`
	RemoteActorID string       `db:"remote_actor_id"`
	ActivityID    string       `db:"activity_id"`
	Status        FollowStatus `db:"status"`
	CreatedAt     time.Time    `db:"created_at"`
	AcceptedAt    *time.Time   `db:"accepted_at"`
}

// FollowRecord is the symmetric opposite: a local user's follow of a remote
// actor, flipped to accepted by an incoming Accept activity.
type FollowRecord struct {
	ID            int64        `db:"id"`
	LocalUserID   string       `db:"local_user_id"`
	RemoteActorID string       `db:"remote_actor_id"`
	ActivityID    string       `db:"activity_id"`
	Status        FollowStatus `db:"status"`
	CreatedAt     time.Time    `db:"created_at"`
	AcceptedAt    *time.Time   `db:"accepted_at"`
}
