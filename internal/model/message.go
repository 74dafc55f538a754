package model

import "time"

type MessageStatus string

const (
	StatusPending    MessageStatus = "pending"
	StatusProcessing MessageStatus = "processing"
	StatusCompleted  MessageStatus = "completed"
	StatusFailed     MessageStatus = "failed"
)

func (s MessageStatus) String() string {
	return string(s)
}

func (s MessageStatus) Valid() bool {
	return s == StatusPending || s == StatusProcessing || s == StatusCompleted || s == StatusFailed
}

// QueuedMessage is the DB entity persisted in queued_messages, one row per
// inbound chat event awaiting or undergoing delivery. Terminal rows are kept
// for audit; nothing ever deletes from this table.
type QueuedMessage struct {
	ID             string        `db:"id"`
	UserID         int64         `db:"user_id"`
	Platform       Platform      `db:"platform"`
	SenderID       string        `db:"sender_id"`
	RecipientID    string        `db:"recipient_id"`
	Content        string        `db:"content"` // canonical payload, opaque to the queue
	ReceivedAt     time.Time     `db:"received_at"`
	Status         MessageStatus `db:"status"`
	RetryCount     int           `db:"retry_count"`
	LastRetryAt    *time.Time    `db:"last_retry_at"`
	NextEligibleAt time.Time     `db:"next_eligible_at"`
	CreatedAt      time.Time     `db:"created_at"`
	UpdatedAt      time.Time     `db:"updated_at"`
	CompletedAt    *time.Time    `db:"completed_at"`
	Error          *string       `db:"error"`
}
