package quote

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"quoteflow/compliance"
	"quoteflow/test/pgfake"
)

type memRepo struct {
	mu       sync.Mutex
	requests map[string]Request
	timeline []TimelineEvent
	keys     map[string]bool
	inserts  int
}

func newMemRepo() *memRepo {
	return &memRepo{requests: map[string]Request{}, keys: map[string]bool{}}
}

func (m *memRepo) Insert(ctx context.Context, tx pgx.Tx, req Request) (Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserts++
	m.requests[req.ID] = req
	return req, nil
}

func (m *memRepo) Get(ctx context.Context, id string) (Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok {
		return Request{}, ErrNotFound
	}
	return req, nil
}

func (m *memRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Request, error) {
	return m.Get(ctx, id)
}

func (m *memRepo) Update(ctx context.Context, tx pgx.Tx, req Request) (Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[req.ID]; !ok {
		return Request{}, ErrNotFound
	}
	m.requests[req.ID] = req
	return req, nil
}

func (m *memRepo) List(ctx context.Context, filter Filter) ([]Request, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Request
	for _, r := range m.requests {
		if r.IsParty(filter.Viewer.ID) {
			out = append(out, r)
		}
	}
	return out, len(out), nil
}

func (m *memRepo) ListExpired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, r := range m.requests {
		if r.Status.Negotiable() && r.ExpiresAt != nil && !r.ExpiresAt.After(now) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (m *memRepo) AppendTimeline(ctx context.Context, tx pgx.Tx, ev TimelineEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeline = append(m.timeline, ev)
	return nil
}

func (m *memRepo) InsertIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.keys[key] {
		return ErrDuplicateIdempotencyKey
	}
	m.keys[key] = true
	return nil
}

// strikeTracker suspends on the third recorded violation.
type strikeTracker struct {
	mu        sync.Mutex
	counts    map[string]int
	suspended map[string]bool
}

func newStrikeTracker() *strikeTracker {
	return &strikeTracker{counts: map[string]int{}, suspended: map[string]bool{}}
}

func (s *strikeTracker) Status(ctx context.Context, userID string) (compliance.Standing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return compliance.Standing{Suspended: s.suspended[userID], ViolationCount: s.counts[userID]}, nil
}

func (s *strikeTracker) RecordViolation(ctx context.Context, vc compliance.ViolationContext) (compliance.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[vc.UserID]++
	now := false
	if s.counts[vc.UserID] >= 3 && !s.suspended[vc.UserID] {
		s.suspended[vc.UserID] = true
		now = true
	}
	return compliance.Outcome{ViolationCountAfter: s.counts[vc.UserID], SuspendedNow: now}, nil
}

type fixedRates map[string]string

func (f fixedRates) BaseRate(ctx context.Context, agentID string) (string, error) {
	return f[agentID], nil
}

type harness struct {
	svc     *Service
	repo    *memRepo
	pool    *pgfake.Pool
	outbox  *pgfake.Outbox
	tracker *strikeTracker
}

func newHarness() *harness {
	h := &harness{
		repo:    newMemRepo(),
		pool:    &pgfake.Pool{},
		outbox:  &pgfake.Outbox{},
		tracker: newStrikeTracker(),
	}
	ids := 0
	h.svc = NewService(h.pool, h.repo, compliance.NewGate(h.tracker, nil), fixedRates{agentA.ID: "£40/hour"}).
		WithOutbox(h.outbox).
		WithClock(func() time.Time { return t0 }).
		WithIDGenerator(func() string {
			ids++
			return "req-" + string(rune('0'+ids))
		})
	return h
}

func (h *harness) create(t *testing.T) Request {
	t.Helper()
	req, err := h.svc.Create(context.Background(), customer, CreateParams{
		AgentID:     agentA.ID,
		Title:       "Fix leaking tap",
		Description: "Tap in kitchen drips constantly",
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return req
}

func TestCreate_CleanRequestIsPending(t *testing.T) {
	h := newHarness()
	req := h.create(t)

	if req.Status != StatusPending {
		t.Fatalf("expected pending, got %s", req.Status)
	}
	if req.BaseRate != "£40/hour" {
		t.Fatalf("expected standing rate captured, got %q", req.BaseRate)
	}
	if h.pool.Commits() != 1 {
		t.Fatalf("expected one commit, got %d", h.pool.Commits())
	}
	committed := h.outbox.Committed()
	if len(committed) != 1 || committed[0].Topic != TopicCreated {
		t.Fatalf("expected quote.created event, got %v", h.outbox.Topics())
	}
}

func TestCreate_BlockedLeavesNoRecord(t *testing.T) {
	h := newHarness()
	_, err := h.svc.Create(context.Background(), customer, CreateParams{
		AgentID:     agentA.ID,
		Title:       "Fix leaking tap, call 07911123456",
		Description: "Tap in kitchen drips constantly",
	})

	var verr *compliance.ViolationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ViolationError, got %v", err)
	}
	if len(verr.Fields) != 1 || verr.Fields[0] != "title" {
		t.Fatalf("expected title flagged, got %v", verr.Fields)
	}
	if h.repo.inserts != 0 || len(h.pool.Txs) != 0 {
		t.Fatalf("blocked create must not touch storage: inserts=%d txs=%d", h.repo.inserts, len(h.pool.Txs))
	}
	if got := h.tracker.counts[customer.ID]; got != 1 {
		t.Fatalf("expected one violation recorded, got %d", got)
	}
}

func TestSuspendedActorIsRefused(t *testing.T) {
	h := newHarness()
	req := h.create(t)
	if _, err := h.svc.Propose(context.Background(), agentA, req.ID, "£120"); err != nil {
		t.Fatalf("propose: %v", err)
	}

	for i := 0; i < 3; i++ {
		_, err := h.svc.Counter(context.Background(), customer, req.ID, "£100", "email me at bob@example.com")
		if !errors.Is(err, compliance.ErrPolicyViolation) {
			t.Fatalf("attempt %d: expected policy violation, got %v", i+1, err)
		}
	}

	_, err := h.svc.Accept(context.Background(), customer, req.ID)
	if !errors.Is(err, compliance.ErrSuspended) {
		t.Fatalf("expected ErrSuspended, got %v", err)
	}
	// Reads stay open.
	if _, err := h.svc.Get(context.Background(), customer, req.ID); err != nil {
		t.Fatalf("suspended user should still read: %v", err)
	}
}

func TestDirtyOfferOnUnavailableRequestCostsNoStrike(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	req := h.create(t)

	if _, err := h.svc.Propose(ctx, stranger, req.ID, "call 07911123456"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("non-party: expected ErrNotFound, got %v", err)
	}
	if _, err := h.svc.Counter(ctx, customer, req.ID, "£90", "call 07911123456"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("nothing to counter: expected ErrInvalidTransition, got %v", err)
	}
	if _, err := h.svc.Reject(ctx, agentA, req.ID); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if _, err := h.svc.Propose(ctx, agentA, req.ID, "call 07911123456"); !errors.Is(err, ErrNotAvailable) {
		t.Fatalf("rejected request: expected ErrNotAvailable, got %v", err)
	}

	if n := h.tracker.counts[stranger.ID] + h.tracker.counts[customer.ID] + h.tracker.counts[agentA.ID]; n != 0 {
		t.Fatalf("refused actions must not record violations, got %d", n)
	}
}

func TestDirtyProposeRollsBack(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	req := h.create(t)

	_, err := h.svc.Propose(ctx, agentA, req.ID, "£200, email me at bob@example.com")
	if !errors.Is(err, compliance.ErrPolicyViolation) {
		t.Fatalf("expected policy violation, got %v", err)
	}
	if h.tracker.counts[agentA.ID] != 1 {
		t.Fatalf("expected one strike, got %d", h.tracker.counts[agentA.ID])
	}
	if tx := h.pool.Last(); tx.Committed || !tx.RolledBack {
		t.Fatalf("blocked offer must roll back: %+v", tx)
	}
	stored, _ := h.repo.Get(ctx, req.ID)
	if stored.Version != 1 || stored.Offer.Active() {
		t.Fatalf("blocked offer must not change the record: %+v", stored)
	}
}

func TestAccept_ReplayWritesNothing(t *testing.T) {
	h := newHarness()
	req := h.create(t)
	ctx := context.Background()

	if _, err := h.svc.Propose(ctx, agentA, req.ID, "£200 fixed"); err != nil {
		t.Fatalf("propose: %v", err)
	}
	first, err := h.svc.Accept(ctx, customer, req.ID)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	commits := h.pool.Commits()
	events := len(h.outbox.Messages)

	second, err := h.svc.Accept(ctx, agentA, req.ID)
	if err != nil {
		t.Fatalf("second accept: %v", err)
	}
	if !second.Replayed {
		t.Fatal("expected replay")
	}
	if second.Request.FinalPrice != first.Request.FinalPrice || second.Request.Version != first.Request.Version {
		t.Fatalf("replay changed the record: %+v vs %+v", second.Request, first.Request)
	}
	if h.pool.Commits() != commits || len(h.outbox.Messages) != events {
		t.Fatal("replay must not write")
	}
}

func TestCounterSupersedesThroughService(t *testing.T) {
	h := newHarness()
	req := h.create(t)
	ctx := context.Background()

	if _, err := h.svc.Propose(ctx, agentA, req.ID, "£200 fixed"); err != nil {
		t.Fatalf("propose: %v", err)
	}
	res, err := h.svc.Counter(ctx, customer, req.ID, "£150, I can supply materials", "")
	if err != nil {
		t.Fatalf("counter: %v", err)
	}
	if _, ok := res.Request.AgentOffer(); ok {
		t.Fatal("agent offer still active after counter")
	}
	if res.Request.Version != 3 {
		t.Fatalf("expected version 3, got %d", res.Request.Version)
	}
	want := []string{TopicCreated, TopicOfferProposed, TopicCountered}
	got := h.outbox.Topics()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	if len(h.repo.timeline) != 3 {
		t.Fatalf("expected three timeline entries, got %d", len(h.repo.timeline))
	}
}

func TestNonPartyCannotSeeOrAct(t *testing.T) {
	h := newHarness()
	req := h.create(t)
	ctx := context.Background()

	if _, err := h.svc.Get(ctx, stranger, req.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := h.svc.Propose(ctx, stranger, req.ID, "£10"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestHandlePaymentOutcome_DuplicateKeyReplays(t *testing.T) {
	h := newHarness()
	req := h.create(t)
	ctx := context.Background()

	if _, err := h.svc.Accept(ctx, customer, req.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	in := PaymentOutcome{RequestID: req.ID, IdempotencyKey: "evt_1", Paid: true, Reference: "pi_1"}
	res, err := h.svc.HandlePaymentOutcome(ctx, in)
	if err != nil {
		t.Fatalf("payment: %v", err)
	}
	if res.Request.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", res.Request.Status)
	}

	again, err := h.svc.HandlePaymentOutcome(ctx, in)
	if err != nil {
		t.Fatalf("duplicate delivery: %v", err)
	}
	if !again.Replayed || again.Request.Status != StatusCompleted {
		t.Fatalf("expected replayed completed record, got %+v", again)
	}
	paidEvents := 0
	for _, topic := range h.outbox.Topics() {
		if topic == TopicPaid {
			paidEvents++
		}
	}
	if paidEvents != 1 {
		t.Fatalf("expected one quote.paid event, got %d", paidEvents)
	}
}

func TestHandlePaymentOutcome_FailureReopens(t *testing.T) {
	h := newHarness()
	req := h.create(t)
	ctx := context.Background()

	if _, err := h.svc.Propose(ctx, agentA, req.ID, "£200"); err != nil {
		t.Fatalf("propose: %v", err)
	}
	if _, err := h.svc.Accept(ctx, customer, req.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	res, err := h.svc.HandlePaymentOutcome(ctx, PaymentOutcome{RequestID: req.ID, IdempotencyKey: "evt_2"})
	if err != nil {
		t.Fatalf("payment: %v", err)
	}
	if res.Request.Status != StatusNegotiating {
		t.Fatalf("expected negotiating, got %s", res.Request.Status)
	}
	last := h.outbox.Messages[len(h.outbox.Messages)-1]
	if last.Topic != TopicPaymentFailed || last.Payload["failed_price"] != "£200" {
		t.Fatalf("unexpected event %+v", last)
	}
}

func TestArchiveExpired(t *testing.T) {
	h := newHarness()
	h.svc.WithRequestTTL(time.Hour)
	req := h.create(t)
	h.svc.WithClock(func() time.Time { return t0.Add(2 * time.Hour) })

	n, err := h.svc.ArchiveExpired(context.Background(), 10)
	if err != nil {
		t.Fatalf("archive expired: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one archived, got %d", n)
	}
	got, _ := h.repo.Get(context.Background(), req.ID)
	if got.Status != StatusArchived {
		t.Fatalf("expected archived, got %s", got.Status)
	}
}
