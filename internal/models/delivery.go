package models

import (
	"time"
)

type DeliveryStatus string

const (
	DeliveryStatusPending    DeliveryStatus = "pending"
	DeliveryStatusProcessing DeliveryStatus = "processing"
	DeliveryStatusDelivered  DeliveryStatus = "delivered"
	DeliveryStatusFailed     DeliveryStatus = "failed"
)

// DeliveryQueueItem is one (activity, target inbox) pair awaiting delivery.
// Rows are retained after terminal states as a delivery audit trail.
type DeliveryQueueItem struct {
	ID             int64          `db:"id"`
	ActivityID     string         `db:"activity_id"`
	TargetInboxURL string         `db:"target_inbox_url"`
	Status         DeliveryStatus `db:"status"`
	RetryCount     int            `db:"retry_count"`
	LastError      *string        `db:"last_error"`
	LastAttemptAt  *time.Time     `db:"last_attempt_at"`
	DeliveredAt    *time.Time     `db:"delivered_at"`
	CreatedAt      time.Time      `db:"created_at"`
}

// ClaimedDelivery is a claimed queue row joined with its hydrated outbox payload.
type ClaimedDelivery struct {
	DeliveryQueueItem
	LocalUserID     string
	ActivityType    string
	ActivityPayload string
}
