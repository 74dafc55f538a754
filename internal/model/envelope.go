package model

import "time"

// Envelope is the canonical inbound event produced by the webhook
// verification/normalization tier. It arrives either on the intake HTTP
// endpoint or on the chat.inbound Kafka topic; both paths enqueue the same
// tuple.
type Envelope struct {
	UserID      int64     `json:"user_id"`
	Platform    Platform  `json:"platform"`
	SenderID    string    `json:"sender_id"`
	RecipientID string    `json:"recipient_id"`
	Content     string    `json:"content"`
	Timestamp   time.Time `json:"timestamp"`
}
