package quote

import (
	"context"
	"errors"
	"fmt"

	"quoteflow/metrics"
)

// PaymentOutcome is the payment processor's verdict, normalized by the
// webhook handler.
type PaymentOutcome struct {
	RequestID      string
	IdempotencyKey string
	Paid           bool
	Reference      string
}

// HandlePaymentOutcome applies a paid or failed signal to a request awaiting
// payment. Deliveries carrying an idempotency key already seen are dropped.
func (s *Service) HandlePaymentOutcome(ctx context.Context, in PaymentOutcome) (Result, error) {
	if in.IdempotencyKey == "" {
		return Result{}, fmt.Errorf("%w: missing idempotency key", ErrInvalidInput)
	}
	if in.RequestID == "" {
		return Result{}, fmt.Errorf("%w: missing request id", ErrInvalidInput)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("quote: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.repo.InsertIdempotencyKey(ctx, tx, in.IdempotencyKey); err != nil {
		if errors.Is(err, ErrDuplicateIdempotencyKey) {
			current, err := s.repo.Get(ctx, in.RequestID)
			if err != nil {
				return Result{}, err
			}
			return Result{Request: current, Replayed: true}, nil
		}
		return Result{}, err
	}

	current, err := s.repo.GetForUpdate(ctx, tx, in.RequestID)
	if err != nil {
		return Result{}, err
	}

	now := s.now().UTC()
	next, replayed, err := settlePayment(current, in.Paid, now)
	if err != nil {
		return Result{}, err
	}
	if replayed {
		// Keep the key so the processor's retries stay cheap.
		if err := tx.Commit(ctx); err != nil {
			return Result{}, fmt.Errorf("quote: commit payment replay: %w", err)
		}
		return Result{Request: current, Replayed: true}, nil
	}

	next.Version = current.Version + 1
	next.UpdatedAt = now
	updated, err := s.repo.Update(ctx, tx, next)
	if err != nil {
		return Result{}, err
	}

	transition, topic := "payment_failed", TopicPaymentFailed
	if in.Paid {
		transition, topic = "paid", TopicPaid
	}
	extra := map[string]any{"payment_reference": in.Reference}
	if !in.Paid {
		// The price that failed to clear, since the record no longer holds it.
		extra["failed_price"] = current.FinalPrice
	}
	if err := s.record(ctx, tx, transition, "", current, updated, topic, extra); err != nil {
		return Result{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Result{}, fmt.Errorf("quote: commit payment outcome: %w", err)
	}
	metrics.QuoteTransitions.WithLabelValues(transition).Inc()
	s.logger.Info().
		Str("request_id", updated.ID).
		Bool("paid", in.Paid).
		Str("reference", in.Reference).
		Msg("payment outcome applied")
	return Result{Request: updated}, nil
}
