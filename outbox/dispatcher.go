package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"quoteflow/metrics"
)

// Handler consumes one outbox message. Returning an error leaves the message
// pending for a later attempt.
type Handler interface {
	Handle(ctx context.Context, msg Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg Message) error {
	return f(ctx, msg)
}

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store claims and settles outbox rows inside the dispatcher's transaction.
// MarkFailed also records which handlers have already taken the message, so
// a retry reaches only the ones that failed.
type Store interface {
	Claim(ctx context.Context, tx pgx.Tx, limit int) ([]Message, error)
	MarkProcessed(ctx context.Context, tx pgx.Tx, id string) error
	MarkFailed(ctx context.Context, tx pgx.Tx, id string, cause string, delivered []string, maxAttempts int) (dead bool, err error)
}

// Options tune the polling loop.
type Options struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = 500 * time.Millisecond
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 25
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 5
	}
	return o
}

// Dispatcher delivers committed outbox rows to registered handlers.
type Dispatcher struct {
	pool     TxBeginner
	store    Store
	opts     Options
	logger   zerolog.Logger
	handlers map[string][]subscription
	wildcard []subscription
}

// subscription is a handler under the name recorded in outbox.delivered.
// Names must stay stable across deploys.
type subscription struct {
	name    string
	handler Handler
}

func NewDispatcher(pool TxBeginner, store Store, opts Options) *Dispatcher {
	if store == nil {
		store = NewPGStore()
	}
	return &Dispatcher{
		pool:     pool,
		store:    store,
		opts:     opts.withDefaults(),
		logger:   zerolog.Nop(),
		handlers: map[string][]subscription{},
	}
}

// WithLogger sets the dispatcher logger.
func (d *Dispatcher) WithLogger(l zerolog.Logger) *Dispatcher {
	d.logger = l
	return d
}

// Subscribe registers h under name for one topic.
func (d *Dispatcher) Subscribe(name, topic string, h Handler) {
	d.handlers[topic] = append(d.handlers[topic], subscription{name: name, handler: h})
}

// SubscribeAll registers h under name for every topic.
func (d *Dispatcher) SubscribeAll(name string, h Handler) {
	d.wildcard = append(d.wildcard, subscription{name: name, handler: h})
}

// Run polls until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.opts.Interval)
	defer ticker.Stop()

	for {
		if _, err := d.DispatchOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			d.logger.Error().Err(err).Msg("outbox dispatch failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// DispatchOnce claims one batch and settles every message in it. It returns
// the number of messages claimed.
func (d *Dispatcher) DispatchOnce(ctx context.Context) (int, error) {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("outbox: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	msgs, err := d.store.Claim(ctx, tx, d.opts.BatchSize)
	if err != nil {
		return 0, err
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	for _, msg := range msgs {
		if delivered, herr := d.deliver(ctx, msg); herr != nil {
			dead, err := d.store.MarkFailed(ctx, tx, msg.ID, herr.Error(), delivered, d.opts.MaxAttempts)
			if err != nil {
				return 0, err
			}
			result := "retry"
			if dead {
				result = "dead"
			}
			metrics.OutboxDispatched.WithLabelValues(msg.Topic, result).Inc()
			d.logger.Warn().Err(herr).
				Str("topic", msg.Topic).
				Str("outbox_id", msg.ID).
				Int("attempts", msg.Attempts+1).
				Bool("dead", dead).
				Msg("outbox handler failed")
			continue
		}
		if err := d.store.MarkProcessed(ctx, tx, msg.ID); err != nil {
			return 0, err
		}
		metrics.OutboxDispatched.WithLabelValues(msg.Topic, "processed").Inc()
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("outbox: commit batch: %w", err)
	}
	return len(msgs), nil
}

// deliver runs every handler that has not yet taken msg and returns the
// names that now have.
func (d *Dispatcher) deliver(ctx context.Context, msg Message) ([]string, error) {
	done := make(map[string]bool, len(msg.Delivered))
	delivered := append([]string(nil), msg.Delivered...)
	for _, name := range msg.Delivered {
		done[name] = true
	}

	subs := append(append([]subscription(nil), d.handlers[msg.Topic]...), d.wildcard...)
	var errs []error
	for _, sub := range subs {
		if done[sub.name] {
			continue
		}
		if err := sub.handler.Handle(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", sub.name, err))
			continue
		}
		done[sub.name] = true
		delivered = append(delivered, sub.name)
	}
	return delivered, errors.Join(errs...)
}
