package models

import (
	"time"
)

// OutboxActivity is the durable record of a locally-produced activity.
// It is the payload source for delivery-time hydration and is never deleted.
type OutboxActivity struct {
	ID              int64     `db:"id"`
	ActivityID      string    `db:"activity_id"`
	LocalUserID     string    `db:"local_user_id"`
	ActivityType    string    `db:"activity_type"`
	ActivityPayload string    `db:"activity_payload"`
	ObjectID        *string   `db:"object_id"`
	ObjectType      *string   `db:"object_type"`
	CreatedAt       time.Time `db:"created_at"`
}

type InboxStatus string

const (
	InboxStatusPending    InboxStatus = "pending"
	InboxStatusProcessing InboxStatus = "processing"
	InboxStatusProcessed  InboxStatus = "processed"
	InboxStatusFailed     InboxStatus = "failed"
)

// InboxActivity is one received remote activity, deduplicated by ActivityID.
type InboxActivity struct {
	ID              int64       `db:"id"`
	LocalUserID     string      `db:"local_user_id"`
	RemoteActorID   string      `db:"remote_actor_id"`
	ActivityID      string      `db:"activity_id"`
	ActivityType    string      `db:"activity_type"`
	ActivityPayload string      `db:"activity_payload"`
	Status          InboxStatus `db:"status"`
	ErrorMessage    *string     `db:"error_message"`
	ProcessedAt     *time.Time  `db:"processed_at"`
	CreatedAt       time.Time   `db:"created_at"`
}

// Common activity types handled by the inbox worker.
const (
	ActivityTypeCreate   = "Create"
	ActivityTypeFollow   = "Follow"
	ActivityTypeAccept   = "Accept"
	ActivityTypeUndo     = "Undo"
	ActivityTypeAnnounce = "Announce"
	ActivityTypeLike     = "Like"
)
