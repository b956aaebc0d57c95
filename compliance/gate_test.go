package compliance

import (
	"context"
	"errors"
	"strings"
	"testing"

	"quoteflow/contentpolicy"
)

func TestGate_ThreeStrikeSuspension(t *testing.T) {
	l, _, _, _ := newTestLedger()
	gate := NewGate(l, contentpolicy.NewDetector())
	ctx := context.Background()

	dirty := Check{
		ActorID:  "user-1",
		Location: "discussion",
		Fields:   []Field{{Name: "body", Text: "call me on 07911123456"}},
	}

	for i := 1; i <= 3; i++ {
		err := gate.Screen(ctx, dirty)
		var verr *ViolationError
		if !errors.As(err, &verr) {
			t.Fatalf("message %d: expected ViolationError, got %v", i, err)
		}
		if !errors.Is(err, ErrPolicyViolation) {
			t.Fatalf("message %d: expected ErrPolicyViolation in chain", i)
		}
		if verr.Outcome == nil || verr.Outcome.ViolationCountAfter != i {
			t.Fatalf("message %d: unexpected outcome %+v", i, verr.Outcome)
		}
		st, _ := l.Status(ctx, "user-1")
		if st.ViolationCount != i {
			t.Fatalf("message %d: expected count %d, got %d", i, i, st.ViolationCount)
		}
		if wantSuspended := i == 3; st.Suspended != wantSuspended {
			t.Fatalf("message %d: suspended=%v", i, st.Suspended)
		}
	}

	clean := Check{
		ActorID:  "user-1",
		Location: "discussion",
		Fields:   []Field{{Name: "body", Text: "Is Tuesday good for you?"}},
	}
	if err := gate.Screen(ctx, clean); !errors.Is(err, ErrSuspended) {
		t.Fatalf("expected clean message from suspended user to be refused, got %v", err)
	}
	st, _ := l.Status(ctx, "user-1")
	if st.ViolationCount != 3 {
		t.Fatalf("refusing a suspended user must not log a violation, got %d", st.ViolationCount)
	}
}

func TestGate_CleanTextPasses(t *testing.T) {
	l, _, pool, _ := newTestLedger()
	gate := NewGate(l, nil)

	err := gate.Screen(context.Background(), Check{
		ActorID:  "user-2",
		Location: "quote.create",
		Fields: []Field{
			{Name: "title", Text: "Fix leaking tap"},
			{Name: "description", Text: "Tap in kitchen drips constantly"},
			{Name: "budget_note", Text: ""},
		},
	})
	if err != nil {
		t.Fatalf("expected clean submission to pass, got %v", err)
	}
	if len(pool.Txs) != 0 {
		t.Fatal("clean submission must not touch the ledger")
	}
}

func TestGate_AnyDirtyFieldBlocks(t *testing.T) {
	l, _, _, _ := newTestLedger()
	gate := NewGate(l, nil)

	err := gate.Screen(context.Background(), Check{
		ActorID:  "user-3",
		Location: "quote.counter",
		Fields: []Field{
			{Name: "offer", Text: "£150"},
			{Name: "reasoning", Text: "find me on instagram"},
		},
	})
	var verr *ViolationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ViolationError, got %v", err)
	}
	if len(verr.Fields) != 1 || verr.Fields[0] != "reasoning" {
		t.Fatalf("expected only reasoning flagged, got %v", verr.Fields)
	}
	if !strings.Contains(verr.Message(), "a social media handle") {
		t.Fatalf("unexpected message %q", verr.Message())
	}
}

func TestGate_RecordingFailureStillBlocks(t *testing.T) {
	tracker := &stubTracker{recordErr: errors.New("ledger unavailable")}
	gate := NewGate(tracker, nil)

	err := gate.Screen(context.Background(), Check{
		ActorID:  "user-4",
		Location: "quote.create",
		Fields:   []Field{{Name: "description", Text: "Fix leaking tap, call 07911123456"}},
	})
	var verr *ViolationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ViolationError despite ledger failure, got %v", err)
	}
	if verr.Outcome != nil {
		t.Fatal("expected nil outcome when recording failed")
	}
	if tracker.recorded != 1 {
		t.Fatalf("expected one recording attempt, got %d", tracker.recorded)
	}
}

func TestGate_RecordsAfterCallerCancels(t *testing.T) {
	tracker := &stubTracker{}
	gate := NewGate(tracker, nil)
	ctx, cancel := context.WithCancel(context.Background())

	tracker.onRecord = func(rctx context.Context) {
		if rctx.Err() != nil {
			t.Errorf("recording context should outlive the request: %v", rctx.Err())
		}
	}
	tracker.onStatus = cancel

	err := gate.Screen(ctx, Check{
		ActorID:  "user-5",
		Location: "discussion",
		Fields:   []Field{{Name: "body", Text: "jane@example.com"}},
	})
	if !errors.Is(err, ErrPolicyViolation) {
		t.Fatalf("expected policy violation, got %v", err)
	}
}

func TestGate_StatusErrorFailsClosed(t *testing.T) {
	gate := NewGate(&stubTracker{statusErr: errors.New("db down")}, nil)
	if err := gate.Authorize(context.Background(), "user-6", "quote.accept"); err == nil {
		t.Fatal("expected status lookup failure to refuse the action")
	}
}

type stubTracker struct {
	standing  Standing
	statusErr error
	recordErr error
	recorded  int
	onRecord  func(ctx context.Context)
	onStatus  func()
}

func (s *stubTracker) Status(ctx context.Context, userID string) (Standing, error) {
	if s.onStatus != nil {
		s.onStatus()
	}
	return s.standing, s.statusErr
}

func (s *stubTracker) RecordViolation(ctx context.Context, vc ViolationContext) (Outcome, error) {
	s.recorded++
	if s.onRecord != nil {
		s.onRecord(ctx)
	}
	if s.recordErr != nil {
		return Outcome{}, s.recordErr
	}
	return Outcome{ViolationCountAfter: s.recorded}, nil
}
