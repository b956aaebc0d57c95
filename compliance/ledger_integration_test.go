package compliance_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"quoteflow/auth"
	"quoteflow/compliance"
	"quoteflow/contentpolicy"
	"quoteflow/test/infra"
)

// TestRecordViolation_ConcurrentSuspendsOnce races more violations than the
// threshold and expects exactly one suspension event and an agreeing mirror.
func TestRecordViolation_ConcurrentSuspendsOnce(t *testing.T) {
	h := infra.NewHarness(t)
	pool := h.Pool()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	userID := h.SeedUser(ctx, t, "customer")
	adminID := h.SeedUser(ctx, t, "admin")
	ledger := compliance.NewLedger(pool, compliance.NewRepository(pool))

	const attempts = 8
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < attempts; i++ {
		g.Go(func() error {
			_, err := ledger.RecordViolation(gctx, compliance.ViolationContext{
				UserID:     userID,
				Location:   "discussion.post",
				Categories: []contentpolicy.Category{contentpolicy.CategoryPhone},
				Text:       "ring me on 07700 900123",
			})
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("record violations: %v", err)
	}

	st, err := ledger.Status(ctx, userID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !st.Suspended || st.ViolationCount != attempts {
		t.Fatalf("expected suspended with %d violations, got %+v", attempts, st)
	}

	var events int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE topic = $1 AND payload->>'user_id' = $2`,
		compliance.TopicUserSuspended, userID).Scan(&events); err != nil {
		t.Fatalf("count events: %v", err)
	}
	if events != 1 {
		t.Fatalf("expected one suspension event, got %d", events)
	}

	var mirrored bool
	if err := pool.QueryRow(ctx, `SELECT suspended FROM users WHERE id = $1`, userID).Scan(&mirrored); err != nil {
		t.Fatalf("read mirror: %v", err)
	}
	if !mirrored {
		t.Fatal("users.suspended should mirror the record")
	}

	admin := compliance.AdminParams{UserID: userID, ActorID: adminID, ActorRole: auth.RoleAdmin, Reason: "appeal granted"}
	if err := ledger.Unsuspend(ctx, admin); err != nil {
		t.Fatalf("unsuspend: %v", err)
	}
	if err := ledger.Unsuspend(ctx, admin); !errors.Is(err, compliance.ErrNotSuspended) {
		t.Fatalf("expected ErrNotSuspended on second unsuspend, got %v", err)
	}
	st, err = ledger.Status(ctx, userID)
	if err != nil {
		t.Fatalf("status after unsuspend: %v", err)
	}
	if st.Suspended || st.ViolationCount != attempts {
		t.Fatalf("unsuspend must keep the count, got %+v", st)
	}

	if err := ledger.ResetViolations(ctx, admin); err != nil {
		t.Fatalf("reset: %v", err)
	}
	st, err = ledger.Status(ctx, userID)
	if err != nil {
		t.Fatalf("status after reset: %v", err)
	}
	if st.ViolationCount != 0 {
		t.Fatalf("expected zero violations after reset, got %d", st.ViolationCount)
	}

	var audits int
	if err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM compliance_audit WHERE user_id = $1`, userID).Scan(&audits); err != nil {
		t.Fatalf("count audit: %v", err)
	}
	if audits != 2 {
		t.Fatalf("expected two audit entries, got %d", audits)
	}
}
