package model

import "time"

type DeadLetterStatus string

const (
	DeadLetterFailed   DeadLetterStatus = "failed"
	DeadLetterReplayed DeadLetterStatus = "replayed"
)

func (s DeadLetterStatus) String() string { return string(s) }

// DeadLetterEntry is the terminal record for a message that exhausted its
// retry budget or hit a permanent error. At most one row exists per message
// (unique message_id); a message is never automatically re-queued once a
// live (status=failed) entry exists. Manual replay flips status to replayed.
type DeadLetterEntry struct {
	ID             int64            `db:"id"`
	MessageID      string           `db:"message_id"`
	UserID         int64            `db:"user_id"`
	Platform       Platform         `db:"platform"`
	MessageContent string           `db:"message_content"`
	ErrorMessage   string           `db:"error_message"`
	Metadata       []byte           `db:"metadata"`    // opaque JSON bag, may be nil
	RetryCount     int              `db:"retry_count"` // copied at time of failure
	Status         DeadLetterStatus `db:"status"`
	FailedAt       time.Time        `db:"failed_at"`
}
