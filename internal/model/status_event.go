package model

import "time"

// Processing stages recorded in the status log. Free-form: new stages may be
// added without migration.
const (
	StageReceived          = "received"
	StageProcessingStarted = "processing_started"
	StageProcessingFailed  = "processing_failed"
	StageResponseSent      = "response_sent"
)

// ProcessingStatusEvent is one append-only audit fact in
// processing_status_events. Rows are never updated or deleted, and the
// pipeline never reads them to decide control flow; that state lives on
// QueuedMessage alone.
type ProcessingStatusEvent struct {
	ID        int64     `db:"id"`
	MessageID string    `db:"message_id"`
	Stage     string    `db:"stage"`
	Status    string    `db:"status"` // pending | completed | failed
	Error     *string   `db:"error"`
	Metadata  []byte    `db:"metadata"` // opaque JSON bag, may be nil
	Timestamp time.Time `db:"timestamp"`
}
