package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/CRT-AUTO/message-gateway/internal/model"
)

// fakeReader feeds a fixed message sequence and records commits. When the
// sequence is exhausted it cancels the run context so the loop exits.
type fakeReader struct {
	mu      sync.Mutex
	msgs    []Message
	next    int
	commits []int64
	cancel  context.CancelFunc
}

func (f *fakeReader) Fetch(ctx context.Context) (Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.next >= len(f.msgs) {
		f.cancel()
		return Message{}, context.Canceled
	}
	m := f.msgs[f.next]
	f.next++
	return m, nil
}

func (f *fakeReader) Commit(ctx context.Context, m Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits = append(f.commits, m.Offset)
	return nil
}

func envelopeMessage(t *testing.T, offset int64, senderID string) Message {
	t.Helper()
	b, err := json.Marshal(model.Envelope{
		UserID:      1,
		Platform:    model.PlatformFacebook,
		SenderID:    senderID,
		RecipientID: "page-1",
		Content:     `{"text":"hi"}`,
	})
	if err != nil {
		t.Fatal(err)
	}
	return Message{Offset: offset, Value: b}
}

// A store blip on one envelope must block the loop on that envelope: fetching
// the next message and committing it would advance the group offset past the
// unstored one, losing it across a restart.
func TestRunBlocksOnEnqueueFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := &fakeReader{
		msgs: []Message{
			envelopeMessage(t, 0, "sender-a"),
			envelopeMessage(t, 1, "sender-b"),
		},
		cancel: cancel,
	}

	var mu sync.Mutex
	var enqueued []string
	failedOnce := false
	enqueue := func(ctx context.Context, env model.Envelope) error {
		mu.Lock()
		defer mu.Unlock()
		enqueued = append(enqueued, env.SenderID)
		if env.SenderID == "sender-a" && !failedOnce {
			failedOnce = true
			return errors.New("driver: bad connection")
		}
		return nil
	}

	if err := run(ctx, f, enqueue, nil); err != nil {
		t.Fatal(err)
	}

	want := []string{"sender-a", "sender-a", "sender-b"}
	if len(enqueued) != len(want) {
		t.Fatalf("enqueue calls = %v, want %v", enqueued, want)
	}
	for i := range want {
		if enqueued[i] != want[i] {
			t.Fatalf("enqueue calls = %v, want %v", enqueued, want)
		}
	}

	if len(f.commits) != 2 || f.commits[0] != 0 || f.commits[1] != 1 {
		t.Fatalf("commits = %v, want [0 1] in order", f.commits)
	}
}

func TestRunCommitsAndSkipsPoison(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := &fakeReader{
		msgs: []Message{
			{Offset: 0, Value: []byte("{not json")},
			envelopeMessage(t, 1, "sender-a"),
		},
		cancel: cancel,
	}

	var enqueued []string
	enqueue := func(ctx context.Context, env model.Envelope) error {
		enqueued = append(enqueued, env.SenderID)
		return nil
	}

	if err := run(ctx, f, enqueue, nil); err != nil {
		t.Fatal(err)
	}

	if len(enqueued) != 1 || enqueued[0] != "sender-a" {
		t.Fatalf("enqueued = %v, want only sender-a", enqueued)
	}
	if len(f.commits) != 2 || f.commits[0] != 0 || f.commits[1] != 1 {
		t.Fatalf("commits = %v, want [0 1] (poison committed, valid committed)", f.commits)
	}
}

func TestRunCancelLeavesOffsetUncommitted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	f := &fakeReader{
		msgs:   []Message{envelopeMessage(t, 0, "sender-a")},
		cancel: func() {}, // loop exits via the retry path, not exhaustion
	}

	calls := 0
	enqueue := func(ctx context.Context, env model.Envelope) error {
		calls++
		if calls == 2 {
			cancel()
		}
		return errors.New("driver: bad connection")
	}

	if err := run(ctx, f, enqueue, nil); err != nil {
		t.Fatal(err)
	}
	if len(f.commits) != 0 {
		t.Fatalf("commits = %v, want none (envelope never stored)", f.commits)
	}
}
