package intake

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/CRT-AUTO/message-gateway/internal/model"
)

type captureStore struct {
	last *model.QueuedMessage
	err  error
}

func (s *captureStore) Enqueue(ctx context.Context, m model.QueuedMessage) error {
	if s.err != nil {
		return s.err
	}
	s.last = &m
	return nil
}

func validEnvelope() model.Envelope {
	return model.Envelope{
		UserID:      42,
		Platform:    model.PlatformFacebook,
		SenderID:    "psid-1",
		RecipientID: "page-1",
		Content:     `{"text":"hi"}`,
		Timestamp:   time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestEnqueue(t *testing.T) {
	store := &captureStore{}
	svc := New(store)

	msg, err := svc.Enqueue(context.Background(), validEnvelope())
	if err != nil {
		t.Fatal(err)
	}
	if msg.ID == "" {
		t.Error("expected assigned message id")
	}
	if msg.Status != model.StatusPending {
		t.Errorf("status = %s, want pending", msg.Status)
	}
	if !msg.ReceivedAt.Equal(validEnvelope().Timestamp) {
		t.Errorf("received_at = %v, want envelope timestamp", msg.ReceivedAt)
	}
	if store.last == nil || store.last.ID != msg.ID {
		t.Error("message was not persisted")
	}
}

func TestEnqueueDefaultsReceivedAt(t *testing.T) {
	store := &captureStore{}
	svc := New(store)

	env := validEnvelope()
	env.Timestamp = time.Time{}
	before := time.Now()

	msg, err := svc.Enqueue(context.Background(), env)
	if err != nil {
		t.Fatal(err)
	}
	if msg.ReceivedAt.Before(before) {
		t.Errorf("received_at = %v, want defaulted to now", msg.ReceivedAt)
	}
}

func TestEnqueueValidation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*model.Envelope)
		wantErr error
	}{
		{
			name:    "unknown platform",
			mutate:  func(e *model.Envelope) { e.Platform = "telegram" },
			wantErr: ErrInvalidPlatform,
		},
		{
			name:    "empty content",
			mutate:  func(e *model.Envelope) { e.Content = "" },
			wantErr: ErrEmptyContent,
		},
		{
			name:    "missing sender",
			mutate:  func(e *model.Envelope) { e.SenderID = "" },
			wantErr: ErrMissingParty,
		},
		{
			name:    "missing recipient",
			mutate:  func(e *model.Envelope) { e.RecipientID = "" },
			wantErr: ErrMissingParty,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &captureStore{}
			svc := New(store)
			env := validEnvelope()
			tt.mutate(&env)

			_, err := svc.Enqueue(context.Background(), env)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("err = %v, want %v", err, tt.wantErr)
			}
			if store.last != nil {
				t.Error("invalid envelope must not be persisted")
			}
		})
	}
}

func TestEnqueueStoreFailure(t *testing.T) {
	store := &captureStore{err: errors.New("driver: bad connection")}
	svc := New(store)

	_, err := svc.Enqueue(context.Background(), validEnvelope())
	if err == nil {
		t.Fatal("expected store error to propagate")
	}
}

func TestEnqueueAssignsUniqueIDs(t *testing.T) {
	store := &captureStore{}
	svc := New(store)

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		msg, err := svc.Enqueue(context.Background(), validEnvelope())
		if err != nil {
			t.Fatal(err)
		}
		if seen[msg.ID] {
			t.Fatalf("duplicate id %s", msg.ID)
		}
		seen[msg.ID] = true
	}
}
