package outbox

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"

	"quoteflow/test/pgfake"
)

func TestDispatchOnce_RoutesByTopic(t *testing.T) {
	pool := &pgfake.Pool{}
	store := &fakeStore{pending: []Message{
		{ID: "1", Topic: "quote.accepted"},
		{ID: "2", Topic: "quote.rejected"},
	}}
	d := NewDispatcher(pool, store, Options{})

	var accepted, all []string
	d.Subscribe("notify", "quote.accepted", HandlerFunc(func(ctx context.Context, msg Message) error {
		accepted = append(accepted, msg.ID)
		return nil
	}))
	d.SubscribeAll("live", HandlerFunc(func(ctx context.Context, msg Message) error {
		all = append(all, msg.ID)
		return nil
	}))

	n, err := d.DispatchOnce(context.Background())
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 claimed, got %d", n)
	}
	if len(accepted) != 1 || accepted[0] != "1" {
		t.Fatalf("topic handler saw %v", accepted)
	}
	if len(all) != 2 {
		t.Fatalf("wildcard handler saw %v", all)
	}
	if len(store.processed) != 2 {
		t.Fatalf("expected both rows processed, got %v", store.processed)
	}
	if !pool.Last().Committed {
		t.Fatal("expected batch commit")
	}
}

func TestDispatchOnce_FailedHandlerLeavesRowForRetry(t *testing.T) {
	pool := &pgfake.Pool{}
	store := &fakeStore{pending: []Message{{ID: "1", Topic: "quote.created"}}}
	d := NewDispatcher(pool, store, Options{MaxAttempts: 3})
	d.Subscribe("notify", "quote.created", HandlerFunc(func(ctx context.Context, msg Message) error {
		return errors.New("smtp down")
	}))

	if _, err := d.DispatchOnce(context.Background()); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(store.processed) != 0 {
		t.Fatalf("failed row must not be processed: %v", store.processed)
	}
	if store.failed["1"] != "notify: smtp down" {
		t.Fatalf("expected failure recorded, got %v", store.failed)
	}
	if store.maxAttempts != 3 {
		t.Fatalf("expected max attempts passed through, got %d", store.maxAttempts)
	}
}

func TestDispatchOnce_RetryReachesOnlyFailedHandlers(t *testing.T) {
	pool := &pgfake.Pool{}
	store := &fakeStore{requeue: true, pending: []Message{{ID: "1", Topic: "quote.accepted"}}}
	d := NewDispatcher(pool, store, Options{MaxAttempts: 5})

	sent := 0
	d.Subscribe("notify", "quote.accepted", HandlerFunc(func(ctx context.Context, msg Message) error {
		sent++
		return nil
	}))
	publishes := 0
	d.SubscribeAll("live", HandlerFunc(func(ctx context.Context, msg Message) error {
		publishes++
		if publishes < 3 {
			return errors.New("redis unavailable")
		}
		return nil
	}))

	for pass := 0; pass < 3; pass++ {
		if _, err := d.DispatchOnce(context.Background()); err != nil {
			t.Fatalf("dispatch pass %d: %v", pass, err)
		}
	}
	if sent != 1 {
		t.Fatalf("expected one notification for one event, got %d", sent)
	}
	if publishes != 3 {
		t.Fatalf("expected the failing handler to be retried, got %d calls", publishes)
	}
	if len(store.processed) != 1 || store.processed[0] != "1" {
		t.Fatalf("expected row processed once all handlers succeeded, got %v", store.processed)
	}
	if got := store.delivered["1"]; len(got) != 1 || got[0] != "notify" {
		t.Fatalf("expected notify recorded as delivered, got %v", got)
	}
}

func TestDispatchOnce_EmptyBatchRollsBack(t *testing.T) {
	pool := &pgfake.Pool{}
	d := NewDispatcher(pool, &fakeStore{}, Options{})

	n, err := d.DispatchOnce(context.Background())
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected nothing claimed, got %d", n)
	}
	if pool.Last().Committed {
		t.Fatal("empty batch should not commit")
	}
	if !pool.Last().RolledBack {
		t.Fatal("expected rollback")
	}
}

func TestDispatchOnce_BeginError(t *testing.T) {
	pool := &pgfake.Pool{BeginErr: errors.New("pool closed")}
	d := NewDispatcher(pool, &fakeStore{}, Options{})
	if _, err := d.DispatchOnce(context.Background()); err == nil {
		t.Fatal("expected begin error")
	}
}

func TestMessage_Fields(t *testing.T) {
	msg := Message{Topic: "quote.accepted", Payload: []byte(`{"request_id":"r1","final_price":"£200"}`)}
	fields, err := msg.Fields()
	if err != nil {
		t.Fatalf("fields: %v", err)
	}
	if String(fields, "request_id") != "r1" {
		t.Fatalf("unexpected fields %v", fields)
	}
	if String(fields, "missing") != "" {
		t.Fatal("expected empty string for missing key")
	}

	if _, err := (Message{Payload: []byte("not json")}).Fields(); err == nil {
		t.Fatal("expected decode error")
	}
}

type fakeStore struct {
	pending     []Message
	processed   []string
	failed      map[string]string
	delivered   map[string][]string
	maxAttempts int
	// requeue puts failed rows back in pending, as the real store does.
	requeue bool
	claimed map[string]Message
}

func (f *fakeStore) Claim(ctx context.Context, tx pgx.Tx, limit int) ([]Message, error) {
	out := f.pending
	if len(out) > limit {
		out = out[:limit]
	}
	f.pending = f.pending[len(out):]
	if f.claimed == nil {
		f.claimed = map[string]Message{}
	}
	for _, m := range out {
		f.claimed[m.ID] = m
	}
	return out, nil
}

func (f *fakeStore) MarkProcessed(ctx context.Context, tx pgx.Tx, id string) error {
	f.processed = append(f.processed, id)
	return nil
}

func (f *fakeStore) MarkFailed(ctx context.Context, tx pgx.Tx, id string, cause string, delivered []string, maxAttempts int) (bool, error) {
	if f.failed == nil {
		f.failed = map[string]string{}
		f.delivered = map[string][]string{}
	}
	f.failed[id] = cause
	f.delivered[id] = delivered
	f.maxAttempts = maxAttempts
	if f.requeue {
		m := f.claimed[id]
		m.Attempts++
		m.Delivered = delivered
		f.pending = append(f.pending, m)
	}
	return false, nil
}
