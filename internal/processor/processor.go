// Package processor holds the downstream side of the pipeline: the HTTP
// client that forwards a queued message to the chatbot backend and relays
// its reply to the platform send API. The pipeline owns every retry; this
// package only reports failures in a classifiable shape.
package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/CRT-AUTO/message-gateway/internal/classify"
	"github.com/CRT-AUTO/message-gateway/internal/model"
)

var ErrNotAvailable = fmt.Errorf("chatbot backend not available")

// Processor handles one claimed message end to end (chatbot call + reply
// send) and returns an opaque result recorded in the status log. It must be
// safe to invoke more than once per message.
type Processor interface {
	Process(ctx context.Context, msg model.QueuedMessage) (string, error)
}

type request struct {
	MessageID   string    `json:"message_id"`
	UserID      int64     `json:"user_id"`
	Platform    string    `json:"platform"`
	SenderID    string    `json:"sender_id"`
	RecipientID string    `json:"recipient_id"`
	Content     string    `json:"content"`
	ReceivedAt  time.Time `json:"received_at"`
}

// HTTPProcessor posts messages to a chatbot backend over HTTP, guarded by a
// circuit breaker so a down backend fails fast instead of eating the batch's
// wall-clock budget.
type HTTPProcessor struct {
	name      string
	baseURL   string
	replyPath string
	client    *http.Client
	br        *MicroBreaker
}

func NewHTTPProcessor(name, baseURL, replyPath string, timeoutMs, failThreshold, openForMs int) *HTTPProcessor {
	if timeoutMs <= 0 {
		timeoutMs = 5000
	}
	if failThreshold <= 0 {
		failThreshold = 3
	}
	if openForMs <= 0 {
		openForMs = 15000
	}

	return &HTTPProcessor{
		name:      name,
		baseURL:   baseURL,
		replyPath: replyPath,
		client:    &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond},
		br:        NewMicroBreaker(failThreshold, time.Duration(openForMs)*time.Millisecond),
	}
}

func (p *HTTPProcessor) Name() string { return p.name }

// Process forwards the message. An open breaker surfaces ErrNotAvailable,
// which the classifier treats as transient, so the message simply waits for
// a later batch pass.
func (p *HTTPProcessor) Process(ctx context.Context, msg model.QueuedMessage) (string, error) {
	if !p.br.TryAcquire() {
		return "", ErrNotAvailable
	}

	result, err := p.post(ctx, msg)
	if err != nil {
		p.br.OnFailure()
		return "", err
	}

	p.br.OnSuccess()
	return result, nil
}

func (p *HTTPProcessor) post(ctx context.Context, msg model.QueuedMessage) (string, error) {
	body, _ := json.Marshal(request{
		MessageID:   msg.ID,
		UserID:      msg.UserID,
		Platform:    msg.Platform.String(),
		SenderID:    msg.SenderID,
		RecipientID: msg.RecipientID,
		Content:     msg.Content,
		ReceivedAt:  msg.ReceivedAt,
	})

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+p.replyPath, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer res.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))

	if res.StatusCode/100 != 2 {
		return "", &classify.HTTPError{
			StatusCode: res.StatusCode,
			Message:    fmt.Sprintf("processor=%s path=%s body=%s", p.name, p.replyPath, bytes.TrimSpace(raw)),
		}
	}

	return string(bytes.TrimSpace(raw)), nil
}
