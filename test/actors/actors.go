// Package actors drives the real services concurrently against one database.
// Actors never fail on a refused action: refusals are the point. They tally
// outcomes and leave correctness to the oracles.
package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"quoteflow/compliance"
	"quoteflow/discussion"
	"quoteflow/outbox"
	"quoteflow/quote"
)

// Tally counts outcomes across all actors.
type Tally struct {
	Applied   atomic.Int64
	Replayed  atomic.Int64
	Refused   atomic.Int64
	Blocked   atomic.Int64
	Suspended atomic.Int64
	Transient atomic.Int64
}

func (t *Tally) String() string {
	return fmt.Sprintf("applied=%d replayed=%d refused=%d blocked=%d suspended=%d transient=%d",
		t.Applied.Load(), t.Replayed.Load(), t.Refused.Load(), t.Blocked.Load(), t.Suspended.Load(), t.Transient.Load())
}

func (t *Tally) observe(res quote.Result, err error) {
	switch {
	case err == nil && res.Replayed:
		t.Replayed.Add(1)
	case err == nil:
		t.Applied.Add(1)
	default:
		t.classify(err)
	}
}

func (t *Tally) classify(err error) {
	switch {
	case errors.Is(err, compliance.ErrPolicyViolation):
		t.Blocked.Add(1)
	case errors.Is(err, compliance.ErrSuspended):
		t.Suspended.Add(1)
	case errors.Is(err, quote.ErrInvalidTransition), errors.Is(err, quote.ErrNotAvailable),
		errors.Is(err, quote.ErrForbidden), errors.Is(err, quote.ErrNotFound):
		t.Refused.Add(1)
	default:
		// Dropped connections from chaos land here.
		t.Transient.Add(1)
	}
}

func pause(ctx context.Context, stop <-chan struct{}, base, jitter int) bool {
	d := time.Duration(base+rand.Intn(jitter)) * time.Millisecond
	select {
	case <-ctx.Done():
		return false
	case <-stop:
		return false
	case <-time.After(d):
		return true
	}
}

func amount() string {
	return fmt.Sprintf("£%d", 50+rand.Intn(200))
}

// Agent keeps proposing on, or accepting counters to, the shared requests.
func Agent(ctx context.Context, svc *quote.Service, actor quote.Actor, ids []string, tally *Tally, stop <-chan struct{}) error {
	for pause(ctx, stop, 5, 20) {
		id := ids[rand.Intn(len(ids))]
		switch rand.Intn(3) {
		case 0:
			tally.observe(svc.Accept(ctx, actor, id))
		default:
			tally.observe(svc.Propose(ctx, actor, id, amount()))
		}
	}
	return nil
}

// Customer counters, accepts, or turns down the agent's offers.
func Customer(ctx context.Context, svc *quote.Service, actor quote.Actor, ids []string, tally *Tally, stop <-chan struct{}) error {
	for pause(ctx, stop, 5, 20) {
		id := ids[rand.Intn(len(ids))]
		switch rand.Intn(4) {
		case 0:
			tally.observe(svc.Counter(ctx, actor, id, amount(), "that is my budget"))
		case 1:
			tally.observe(svc.RejectOffer(ctx, actor, id))
		default:
			tally.observe(svc.Accept(ctx, actor, id))
		}
	}
	return nil
}

// Payer redelivers payment outcomes. Each request gets a handful of keys and
// every key is delivered many times, so most deliveries must be replays.
func Payer(ctx context.Context, svc *quote.Service, ids []string, tally *Tally, stop <-chan struct{}) error {
	for pause(ctx, stop, 20, 40) {
		id := ids[rand.Intn(len(ids))]
		key := fmt.Sprintf("%s-evt-%d", id, rand.Intn(4))
		tally.observe(svc.HandlePaymentOutcome(ctx, quote.PaymentOutcome{
			RequestID:      id,
			IdempotencyKey: key,
			Paid:           rand.Intn(3) != 0,
			Reference:      key,
		}))
	}
	return nil
}

// Offender keeps trying to slip contact details into a thread. Several
// offenders sharing one account race the escalation to suspension.
func Offender(ctx context.Context, svc *discussion.Service, actor quote.Actor, requestID string, tally *Tally, stop <-chan struct{}) error {
	bodies := []string{
		"ring me on 07700 900123",
		"just email me at fixer@example.com",
		"find me on whatsapp and we skip the fees",
	}
	for pause(ctx, stop, 10, 30) {
		_, err := svc.Post(ctx, actor, requestID, bodies[rand.Intn(len(bodies))])
		if err == nil {
			return fmt.Errorf("offender %s: dirty message was accepted", actor.ID)
		}
		tally.classify(err)
	}
	return nil
}

// Chatter posts clean messages on the shared requests.
func Chatter(ctx context.Context, svc *discussion.Service, actor quote.Actor, ids []string, tally *Tally, stop <-chan struct{}) error {
	for pause(ctx, stop, 20, 40) {
		_, err := svc.Post(ctx, actor, ids[rand.Intn(len(ids))], "Could you start on Tuesday morning?")
		if err == nil {
			tally.Applied.Add(1)
			continue
		}
		tally.classify(err)
	}
	return nil
}

// OutboxWorker drains the outbox through d. Several workers may run at once;
// the dispatcher's row locks keep them apart.
func OutboxWorker(ctx context.Context, d *outbox.Dispatcher, tally *Tally, stop <-chan struct{}) error {
	for pause(ctx, stop, 20, 30) {
		if _, err := d.DispatchOnce(ctx); err != nil {
			tally.Transient.Add(1)
		}
	}
	return nil
}

// Sweeper runs the expiry sweep alongside live negotiation.
func Sweeper(ctx context.Context, svc *quote.Service, tally *Tally, stop <-chan struct{}) error {
	for pause(ctx, stop, 100, 100) {
		n, err := svc.ArchiveExpired(ctx, 10)
		if err != nil {
			tally.Transient.Add(1)
			continue
		}
		tally.Applied.Add(int64(n))
	}
	return nil
}

// FlakyHandler fails a fraction of deliveries so the outbox retry path is
// exercised.
func FlakyHandler(failEvery int) outbox.Handler {
	return outbox.HandlerFunc(func(ctx context.Context, msg outbox.Message) error {
		if failEvery > 0 && rand.Intn(failEvery) == 0 {
			return fmt.Errorf("flaky handler: dropped %s", msg.Topic)
		}
		return nil
	})
}
