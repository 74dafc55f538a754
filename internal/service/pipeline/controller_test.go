package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/CRT-AUTO/message-gateway/internal/backoff"
	"github.com/CRT-AUTO/message-gateway/internal/classify"
	"github.com/CRT-AUTO/message-gateway/internal/model"
)

// fakeStore mirrors the production store's semantics in memory: Claim is a
// mutex-guarded compare-and-swap over the same predicate the SQL carries,
// failure transitions bump retry_count, and every outcome write appends to
// an append-only event slice.
type fakeStore struct {
	mu          sync.Mutex
	msgs        map[string]*model.QueuedMessage
	order       []string
	events      []model.ProcessingStatusEvent
	deadLetters map[string]model.DeadLetterEntry

	claimErr error // injected infrastructure failure
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		msgs:        make(map[string]*model.QueuedMessage),
		deadLetters: make(map[string]model.DeadLetterEntry),
	}
}

func (s *fakeStore) add(id string, platform model.Platform) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.msgs[id] = &model.QueuedMessage{
		ID:             id,
		UserID:         1,
		Platform:       platform,
		SenderID:       "sender",
		RecipientID:    "recipient",
		Content:        `{"text":"hello"}`,
		ReceivedAt:     now,
		Status:         model.StatusPending,
		NextEligibleAt: now,
		CreatedAt:      now,
	}
	s.order = append(s.order, id)
}

func (s *fakeStore) Claim(ctx context.Context, id string, maxRetries int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.claimErr != nil {
		return false, s.claimErr
	}
	m, ok := s.msgs[id]
	if !ok {
		return false, nil
	}
	if m.Status != model.StatusPending && m.Status != model.StatusFailed {
		return false, nil
	}
	if m.RetryCount >= maxRetries {
		return false, nil
	}
	if m.NextEligibleAt.After(time.Now()) {
		return false, nil
	}
	if dl, ok := s.deadLetters[id]; ok && dl.Status == model.DeadLetterFailed {
		return false, nil
	}
	now := time.Now()
	m.Status = model.StatusProcessing
	m.LastRetryAt = &now
	return true, nil
}

func (s *fakeStore) Get(ctx context.Context, id string) (*model.QueuedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.msgs[id]
	if !ok {
		return nil, nil
	}
	cp := *m
	return &cp, nil
}

func (s *fakeStore) AppendEvent(ctx context.Context, ev model.ProcessingStatusEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev.Timestamp = time.Now()
	s.events = append(s.events, ev)
	return nil
}

func (s *fakeStore) Complete(ctx context.Context, id, result string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.msgs[id]
	now := time.Now()
	m.Status = model.StatusCompleted
	m.CompletedAt = &now
	s.events = append(s.events, model.ProcessingStatusEvent{
		MessageID: id, Stage: model.StageResponseSent, Status: "completed", Timestamp: now,
	})
	return nil
}

func (s *fakeStore) RetryLater(ctx context.Context, id, errMsg string, nextEligibleAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.msgs[id]
	m.Status = model.StatusPending
	m.RetryCount++
	m.Error = &errMsg
	m.NextEligibleAt = nextEligibleAt
	s.events = append(s.events, model.ProcessingStatusEvent{
		MessageID: id, Stage: model.StageProcessingFailed, Status: "failed", Error: &errMsg, Timestamp: time.Now(),
	})
	return nil
}

func (s *fakeStore) DeadLetter(ctx context.Context, msg *model.QueuedMessage, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := s.msgs[msg.ID]
	m.Status = model.StatusFailed
	m.RetryCount++
	m.Error = &errMsg
	if _, exists := s.deadLetters[msg.ID]; !exists {
		s.deadLetters[msg.ID] = model.DeadLetterEntry{
			MessageID:    msg.ID,
			UserID:       msg.UserID,
			Platform:     msg.Platform,
			ErrorMessage: errMsg,
			RetryCount:   m.RetryCount,
			Status:       model.DeadLetterFailed,
			FailedAt:     time.Now(),
		}
	}
	s.events = append(s.events, model.ProcessingStatusEvent{
		MessageID: msg.ID, Stage: model.StageProcessingFailed, Status: "failed", Error: &errMsg, Timestamp: time.Now(),
	})
	return nil
}

func (s *fakeStore) ListEligible(ctx context.Context, limit, maxRetries int) ([]model.QueuedMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.QueuedMessage
	now := time.Now()
	for _, id := range s.order {
		if len(out) >= limit {
			break
		}
		m := s.msgs[id]
		if m.Status != model.StatusPending && m.Status != model.StatusFailed {
			continue
		}
		if m.RetryCount >= maxRetries || m.NextEligibleAt.After(now) {
			continue
		}
		if dl, ok := s.deadLetters[id]; ok && dl.Status == model.DeadLetterFailed {
			continue
		}
		out = append(out, *m)
	}
	return out, nil
}

func (s *fakeStore) ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	cutoff := time.Now().Add(-olderThan)
	for _, m := range s.msgs {
		if m.Status == model.StatusProcessing && m.LastRetryAt != nil && m.LastRetryAt.Before(cutoff) {
			m.Status = model.StatusPending
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) status(id string) model.MessageStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.msgs[id].Status
}

func (s *fakeStore) retryCount(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.msgs[id].RetryCount
}

func (s *fakeStore) eventCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

// testPolicy keeps backoff delays effectively zero so retried messages are
// immediately eligible again.
func testPolicy() backoff.Policy {
	return backoff.Policy{
		MaxRetries:    3,
		InitialDelay:  time.Nanosecond,
		MaxDelay:      time.Nanosecond,
		BackoffFactor: 1,
		JitterRatio:   0,
	}
}

func newTestController(t *testing.T, store Store) *Controller {
	t.Helper()
	c, err := NewController(store, testPolicy(), nil)
	if err != nil {
		t.Fatalf("NewController: %v", err)
	}
	return c
}

func TestRetryExhaustion(t *testing.T) {
	store := newFakeStore()
	store.add("m1", model.PlatformFacebook)
	c := newTestController(t, store)

	fn := func(ctx context.Context, msg model.QueuedMessage) (string, error) {
		return "", errors.New("connection reset by peer")
	}

	for i := 1; i <= 3; i++ {
		out, err := c.ProcessOne(context.Background(), "m1", fn)
		if err != nil {
			t.Fatalf("cycle %d: %v", i, err)
		}
		if !out.Claimed {
			t.Fatalf("cycle %d: expected claim to succeed", i)
		}
		if out.Success {
			t.Fatalf("cycle %d: unexpected success", i)
		}
		if !out.Transient {
			t.Fatalf("cycle %d: expected transient outcome", i)
		}
		time.Sleep(time.Millisecond) // let nextEligibleAt pass
	}

	if got := store.status("m1"); got != model.StatusFailed {
		t.Errorf("final status = %s, want failed", got)
	}
	dl, ok := store.deadLetters["m1"]
	if !ok {
		t.Fatal("expected dead letter entry")
	}
	if dl.RetryCount != 3 {
		t.Errorf("dead letter retry_count = %d, want 3", dl.RetryCount)
	}

	// budget exhausted: a fourth cycle must not claim
	out, err := c.ProcessOne(context.Background(), "m1", fn)
	if err != nil {
		t.Fatal(err)
	}
	if out.Claimed {
		t.Error("fourth cycle claimed an exhausted message")
	}
}

func TestEventualSuccess(t *testing.T) {
	store := newFakeStore()
	store.add("m1", model.PlatformInstagram)
	c := newTestController(t, store)

	var calls int
	fn := func(ctx context.Context, msg model.QueuedMessage) (string, error) {
		calls++
		if calls < 3 {
			return "", &classify.HTTPError{StatusCode: 503, Message: "upstream busy"}
		}
		return `{"reply":"done"}`, nil
	}

	var last Outcome
	for i := 0; i < 3; i++ {
		out, err := c.ProcessOne(context.Background(), "m1", fn)
		if err != nil {
			t.Fatal(err)
		}
		last = out
		time.Sleep(time.Millisecond)
	}

	if !last.Success {
		t.Fatalf("expected final success, got %+v", last)
	}
	if got := store.status("m1"); got != model.StatusCompleted {
		t.Errorf("final status = %s, want completed", got)
	}
	if got := store.retryCount("m1"); got != 2 {
		t.Errorf("retry_count = %d, want 2", got)
	}
	if len(store.deadLetters) != 0 {
		t.Errorf("unexpected dead letters: %d", len(store.deadLetters))
	}
}

func TestPermanentShortCircuit(t *testing.T) {
	store := newFakeStore()
	store.add("m1", model.PlatformFacebook)
	c := newTestController(t, store)

	var calls int
	fn := func(ctx context.Context, msg model.QueuedMessage) (string, error) {
		calls++
		return "", &classify.HTTPError{StatusCode: 400, Message: "malformed payload"}
	}

	out, err := c.ProcessOne(context.Background(), "m1", fn)
	if err != nil {
		t.Fatal(err)
	}
	if out.Success || out.Transient {
		t.Fatalf("expected permanent failure outcome, got %+v", out)
	}

	if got := store.status("m1"); got != model.StatusFailed {
		t.Errorf("status = %s, want failed", got)
	}
	dl, ok := store.deadLetters["m1"]
	if !ok {
		t.Fatal("expected dead letter entry")
	}
	if dl.RetryCount != 1 {
		t.Errorf("dead letter retry_count = %d, want 1", dl.RetryCount)
	}

	// retry budget remains but the live dead letter blocks any new claim
	out, err = c.ProcessOne(context.Background(), "m1", fn)
	if err != nil {
		t.Fatal(err)
	}
	if out.Claimed {
		t.Error("permanently failed message was claimed again")
	}
	if calls != 1 {
		t.Errorf("processor invoked %d times, want 1", calls)
	}
}

func TestNoDoubleClaim(t *testing.T) {
	store := newFakeStore()
	store.add("m1", model.PlatformFacebook)
	c := newTestController(t, store)

	var invocations int32
	var mu sync.Mutex
	fn := func(ctx context.Context, msg model.QueuedMessage) (string, error) {
		mu.Lock()
		invocations++
		mu.Unlock()
		time.Sleep(20 * time.Millisecond) // widen the race window
		return "ok", nil
	}

	var wg sync.WaitGroup
	outcomes := make([]Outcome, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := c.ProcessOne(context.Background(), "m1", fn)
			if err != nil {
				t.Errorf("runner %d: %v", i, err)
			}
			outcomes[i] = out
		}(i)
	}
	wg.Wait()

	if invocations != 1 {
		t.Fatalf("processor invoked %d times, want exactly 1", invocations)
	}
	claims := 0
	for _, out := range outcomes {
		if out.Claimed {
			claims++
		}
	}
	if claims != 1 {
		t.Fatalf("claims = %d, want exactly 1", claims)
	}
}

func TestProcessorPanicIsClassified(t *testing.T) {
	store := newFakeStore()
	store.add("m1", model.PlatformFacebook)
	c := newTestController(t, store)

	fn := func(ctx context.Context, msg model.QueuedMessage) (string, error) {
		panic("boom")
	}

	out, err := c.ProcessOne(context.Background(), "m1", fn)
	if err != nil {
		t.Fatal(err)
	}
	if out.Success {
		t.Fatal("panicking processor reported success")
	}
	if out.Transient {
		t.Error("panic should classify as permanent")
	}
	if got := store.status("m1"); got != model.StatusFailed {
		t.Errorf("status = %s, want failed", got)
	}
}

func TestStoreErrorIsInfrastructure(t *testing.T) {
	store := newFakeStore()
	store.add("m1", model.PlatformFacebook)
	store.claimErr = errors.New("driver: bad connection")
	c := newTestController(t, store)

	_, err := c.ProcessOne(context.Background(), "m1", func(ctx context.Context, msg model.QueuedMessage) (string, error) {
		t.Fatal("processor must not run when the store is down")
		return "", nil
	})
	if err == nil {
		t.Fatal("expected infrastructure error to propagate")
	}
}

func TestStatusLogOnlyGrows(t *testing.T) {
	store := newFakeStore()
	store.add("m1", model.PlatformFacebook)
	c := newTestController(t, store)

	var calls int
	fn := func(ctx context.Context, msg model.QueuedMessage) (string, error) {
		calls++
		if calls == 1 {
			return "", fmt.Errorf("timeout waiting for chatbot")
		}
		return "ok", nil
	}

	prev := store.eventCount()
	for i := 0; i < 2; i++ {
		if _, err := c.ProcessOne(context.Background(), "m1", fn); err != nil {
			t.Fatal(err)
		}
		if got := store.eventCount(); got <= prev {
			t.Fatalf("event log did not grow: %d -> %d", prev, got)
		} else {
			prev = got
		}
		time.Sleep(time.Millisecond)
	}

	// processing_started + processing_failed + processing_started + response_sent
	if prev != 4 {
		t.Errorf("event count = %d, want 4", prev)
	}
}
