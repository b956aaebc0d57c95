package discussion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"quoteflow/auth"
	"quoteflow/compliance"
	"quoteflow/outbox"
	"quoteflow/quote"
	"quoteflow/test/pgfake"
)

var (
	t0       = time.Date(2026, 4, 2, 10, 0, 0, 0, time.UTC)
	customer = quote.Actor{ID: "cust-1", Role: auth.RoleCustomer}
	agent    = quote.Actor{ID: "agent-1", Role: auth.RoleAgent}
	stranger = quote.Actor{ID: "cust-9", Role: auth.RoleCustomer}
)

type memRepo struct {
	mu   sync.Mutex
	msgs []Message
}

func (m *memRepo) Insert(ctx context.Context, tx pgx.Tx, msg Message) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.msgs {
		if existing.ID == msg.ID {
			return false, nil
		}
	}
	m.msgs = append(m.msgs, msg)
	return true, nil
}

func (m *memRepo) List(ctx context.Context, requestID string, limit int) ([]Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Message
	for _, msg := range m.msgs {
		if msg.RequestID == requestID {
			out = append(out, msg)
		}
	}
	return out, nil
}

type threads map[string]quote.Request

func (t threads) Lookup(ctx context.Context, id string) (quote.Request, error) {
	r, ok := t[id]
	if !ok {
		return quote.Request{}, quote.ErrNotFound
	}
	return r, nil
}

type countingTracker struct {
	mu        sync.Mutex
	count     map[string]int
	suspended map[string]bool
}

func newCountingTracker() *countingTracker {
	return &countingTracker{count: map[string]int{}, suspended: map[string]bool{}}
}

func (c *countingTracker) Status(ctx context.Context, userID string) (compliance.Standing, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return compliance.Standing{Suspended: c.suspended[userID], ViolationCount: c.count[userID]}, nil
}

func (c *countingTracker) RecordViolation(ctx context.Context, vc compliance.ViolationContext) (compliance.Outcome, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.count[vc.UserID]++
	return compliance.Outcome{ViolationCountAfter: c.count[vc.UserID]}, nil
}

type fixture struct {
	svc     *Service
	repo    *memRepo
	pool    *pgfake.Pool
	outbox  *pgfake.Outbox
	tracker *countingTracker
	threads threads
}

func newFixture() *fixture {
	f := &fixture{
		repo:    &memRepo{},
		pool:    &pgfake.Pool{},
		outbox:  &pgfake.Outbox{},
		tracker: newCountingTracker(),
		threads: threads{
			"req-1": {ID: "req-1", CustomerID: customer.ID, AgentID: agent.ID, Status: quote.StatusNegotiating},
			"req-2": {ID: "req-2", CustomerID: customer.ID, AgentID: agent.ID, Status: quote.StatusArchived},
		},
	}
	seq := 0
	f.svc = NewService(f.pool, f.repo, compliance.NewGate(f.tracker, nil), f.threads).
		WithOutbox(f.outbox).
		WithClock(func() time.Time { return t0 }).
		WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("msg-%02d", seq)
		})
	return f
}

func TestPost_CleanMessage(t *testing.T) {
	f := newFixture()
	msg, err := f.svc.Post(context.Background(), agent, "req-1", "  I can come round on Tuesday morning  ")
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if msg.Body != "I can come round on Tuesday morning" || msg.AuthorRole != AuthorAgent {
		t.Fatalf("unexpected message %+v", msg)
	}
	committed := f.outbox.Committed()
	if len(committed) != 1 || committed[0].Topic != TopicMessagePosted {
		t.Fatalf("expected one committed event, got %v", f.outbox.Topics())
	}
}

func TestPost_DirtyMessageBlockedAndRecorded(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Post(context.Background(), customer, "req-1", "call me on 07911123456")

	var verr *compliance.ViolationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ViolationError, got %v", err)
	}
	if verr.Outcome == nil || verr.Outcome.ViolationCountAfter != 1 {
		t.Fatalf("expected violation recorded, got %+v", verr.Outcome)
	}
	if len(f.repo.msgs) != 0 || len(f.pool.Txs) != 0 {
		t.Fatal("blocked message must not be stored")
	}
}

func TestPost_SuspendedRefusedEvenWhenClean(t *testing.T) {
	f := newFixture()
	f.tracker.suspended[customer.ID] = true

	_, err := f.svc.Post(context.Background(), customer, "req-1", "Thanks, Tuesday works")
	if !errors.Is(err, compliance.ErrSuspended) {
		t.Fatalf("expected ErrSuspended, got %v", err)
	}
	if _, err := f.svc.List(context.Background(), customer, "req-1"); err != nil {
		t.Fatalf("suspended user should still read: %v", err)
	}
}

func TestPost_ArchivedThreadNotAvailable(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Post(context.Background(), customer, "req-2", "Any update?")
	if !errors.Is(err, quote.ErrNotAvailable) {
		t.Fatalf("expected ErrNotAvailable, got %v", err)
	}
}

func TestPost_SuspendedOnArchivedThreadGetsSuspensionMessage(t *testing.T) {
	f := newFixture()
	f.tracker.suspended[customer.ID] = true

	_, err := f.svc.Post(context.Background(), customer, "req-2", "Any update?")
	if !errors.Is(err, compliance.ErrSuspended) {
		t.Fatalf("expected ErrSuspended before the thread checks, got %v", err)
	}
}

func TestPost_NonPartyRefused(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Post(context.Background(), stranger, "req-1", "hello")
	if !errors.Is(err, quote.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if f.tracker.count[stranger.ID] != 0 {
		t.Fatal("non-party post should not reach the gate")
	}
}

func TestList_OrderedByServerTime(t *testing.T) {
	f := newFixture()
	f.repo.msgs = []Message{
		{ID: "b", RequestID: "req-1", Body: "second", CreatedAt: t0.Add(time.Minute)},
		{ID: "c", RequestID: "req-1", Body: "third", CreatedAt: t0.Add(2 * time.Minute)},
		{ID: "a", RequestID: "req-1", Body: "first", CreatedAt: t0},
	}
	msgs, err := f.svc.List(context.Background(), agent, "req-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for i, want := range []string{"first", "second", "third"} {
		if msgs[i].Body != want {
			t.Fatalf("position %d: expected %q, got %q", i, want, msgs[i].Body)
		}
	}
}

func TestEventHandler_PostsReasonOnce(t *testing.T) {
	f := newFixture()
	h := NewEventHandler(f.svc)
	payload, _ := json.Marshal(map[string]any{"request_id": "req-1", "reason": "found someone local"})
	msg := outbox.Message{ID: "evt-1", Topic: quote.TopicDismissedByCustomer, Payload: payload}

	for i := 0; i < 2; i++ {
		if err := h.Handle(context.Background(), msg); err != nil {
			t.Fatalf("delivery %d: %v", i+1, err)
		}
	}
	if len(f.repo.msgs) != 1 {
		t.Fatalf("expected one system comment, got %d", len(f.repo.msgs))
	}
	got := f.repo.msgs[0]
	if got.AuthorRole != AuthorSystem || got.Body != "The customer withdrew this request. Reason: found someone local" {
		t.Fatalf("unexpected comment %+v", got)
	}
	if len(f.outbox.Messages) != 1 {
		t.Fatalf("expected one posted event, got %d", len(f.outbox.Messages))
	}
}
