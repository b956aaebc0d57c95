package quote

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"quoteflow/auth"
	"quoteflow/compliance"
	"quoteflow/metrics"
	"quoteflow/outbox"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Gatekeeper is the compliance gate every mutating operation passes first.
type Gatekeeper interface {
	Authorize(ctx context.Context, actorID, location string) error
	Screen(ctx context.Context, c compliance.Check) error
}

// RateLookup supplies an agent's standing rate.
type RateLookup interface {
	BaseRate(ctx context.Context, agentID string) (string, error)
}

type Service struct {
	pool        TxBeginner
	repo        Repository
	gate        Gatekeeper
	rates       RateLookup
	outbox      OutboxWriter
	idGenerator func() string
	now         func() time.Time
	requestTTL  time.Duration
	logger      zerolog.Logger
}

type CreateParams struct {
	CustomerID  string
	AgentID     string
	Title       string
	Description string
	BudgetNote  string
	Notes       string
	Media       []string
}

func NewService(pool TxBeginner, repo Repository, gate Gatekeeper, rates RateLookup) *Service {
	return &Service{
		pool:        pool,
		repo:        repo,
		gate:        gate,
		rates:       rates,
		outbox:      outbox.NewWriter(),
		idGenerator: func() string { return uuid.NewString() },
		now:         time.Now,
		logger:      zerolog.Nop(),
	}
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	return s
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithOutbox(w OutboxWriter) *Service {
	s.outbox = w
	return s
}

func (s *Service) WithLogger(l zerolog.Logger) *Service {
	s.logger = l
	return s
}

// WithRequestTTL sets how long a new request may wait for agreement before
// the expiry sweep archives it. Zero means requests never expire.
func (s *Service) WithRequestTTL(ttl time.Duration) *Service {
	s.requestTTL = ttl
	return s
}

// Create opens a new request from a customer to an agent. The free-text
// fields are screened before anything is written; a refused request leaves
// no record behind.
func (s *Service) Create(ctx context.Context, actor Actor, params CreateParams) (Request, error) {
	if err := requireRole(actor, auth.RoleCustomer); err != nil {
		return Request{}, err
	}
	params.Title = strings.TrimSpace(params.Title)
	params.Description = strings.TrimSpace(params.Description)
	if params.Title == "" {
		return Request{}, fmt.Errorf("%w: title required", ErrInvalidInput)
	}
	if params.AgentID == "" {
		return Request{}, fmt.Errorf("%w: agent required", ErrInvalidInput)
	}
	if params.AgentID == actor.ID {
		return Request{}, fmt.Errorf("%w: cannot request a quote from yourself", ErrInvalidInput)
	}

	if err := s.gate.Screen(ctx, compliance.Check{
		ActorID:  actor.ID,
		Location: "quote.create",
		Fields: []compliance.Field{
			{Name: "title", Text: params.Title},
			{Name: "description", Text: params.Description},
			{Name: "budget_note", Text: params.BudgetNote},
			{Name: "notes", Text: params.Notes},
		},
	}); err != nil {
		return Request{}, err
	}

	baseRate, err := s.rates.BaseRate(ctx, params.AgentID)
	if err != nil {
		return Request{}, fmt.Errorf("quote: look up agent rate: %w", err)
	}

	now := s.now().UTC()
	req := Request{
		ID:          s.idGenerator(),
		CustomerID:  actor.ID,
		AgentID:     params.AgentID,
		Title:       params.Title,
		Description: params.Description,
		BudgetNote:  strings.TrimSpace(params.BudgetNote),
		Notes:       strings.TrimSpace(params.Notes),
		Media:       params.Media,
		BaseRate:    baseRate,
		Offer:       Offer{Kind: OfferNone},
		Status:      StatusPending,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if s.requestTTL > 0 {
		exp := now.Add(s.requestTTL)
		req.ExpiresAt = &exp
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Request{}, fmt.Errorf("quote: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	created, err := s.repo.Insert(ctx, tx, req)
	if err != nil {
		return Request{}, err
	}
	if err := s.record(ctx, tx, "created", actor.ID, Request{}, created, TopicCreated, nil); err != nil {
		return Request{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Request{}, fmt.Errorf("quote: commit tx: %w", err)
	}

	metrics.QuoteTransitions.WithLabelValues("created").Inc()
	return created, nil
}

// Get returns a request as seen by the viewer. Suspended users keep read
// access.
func (s *Service) Get(ctx context.Context, viewer Actor, id string) (Request, error) {
	req, err := s.repo.Get(ctx, id)
	if err != nil {
		return Request{}, err
	}
	if viewer.Role != auth.RoleAdmin && !req.IsParty(viewer.ID) {
		return Request{}, ErrNotFound
	}
	return req, nil
}

// Lookup returns a request without a visibility check, for internal readers.
func (s *Service) Lookup(ctx context.Context, id string) (Request, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) List(ctx context.Context, filter Filter) (ListResult, error) {
	items, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return ListResult{}, err
	}
	return ListResult{Items: items, Total: total}, nil
}

// Propose records the agent's custom quote, replacing any customer counter.
func (s *Service) Propose(ctx context.Context, actor Actor, id, amount string) (Result, error) {
	if err := requireRole(actor, auth.RoleAgent); err != nil {
		return Result{}, err
	}
	if err := s.gate.Authorize(ctx, actor.ID, "quote.propose"); err != nil {
		return Result{}, err
	}
	check := &compliance.Check{
		ActorID:  actor.ID,
		Location: "quote.propose",
		Fields:   []compliance.Field{{Name: "amount", Text: amount}},
	}
	return s.applyScreened(ctx, actor, id, "offer_proposed", TopicOfferProposed, check, func(r Request, now time.Time) (Request, bool, error) {
		return propose(r, actor, amount, now)
	})
}

// Counter records the customer's counter-offer, replacing the agent's quote.
// Both the amount and the reasoning are screened; either failing refuses the
// whole counter.
func (s *Service) Counter(ctx context.Context, actor Actor, id, amount, reasoning string) (Result, error) {
	if err := requireRole(actor, auth.RoleCustomer); err != nil {
		return Result{}, err
	}
	if err := s.gate.Authorize(ctx, actor.ID, "quote.counter"); err != nil {
		return Result{}, err
	}
	check := &compliance.Check{
		ActorID:  actor.ID,
		Location: "quote.counter",
		Fields: []compliance.Field{
			{Name: "amount", Text: amount},
			{Name: "reasoning", Text: reasoning},
		},
	}
	return s.applyScreened(ctx, actor, id, "countered", TopicCountered, check, func(r Request, now time.Time) (Request, bool, error) {
		return counter(r, actor, amount, reasoning, now)
	})
}

// Accept moves the request to payment_pending. It is safe to retry: a
// repeated accept from either party returns the existing record with
// Replayed set and never changes the agreed price.
func (s *Service) Accept(ctx context.Context, actor Actor, id string) (Result, error) {
	if err := s.gate.Authorize(ctx, actor.ID, "quote.accept"); err != nil {
		return Result{}, err
	}
	return s.apply(ctx, actor, id, "accepted", TopicAccepted, func(r Request, now time.Time) (Request, bool, error) {
		return accept(r, actor, now)
	})
}

// RejectOffer is the customer turning down the agent's quote.
func (s *Service) RejectOffer(ctx context.Context, actor Actor, id string) (Result, error) {
	if err := s.gate.Authorize(ctx, actor.ID, "quote.reject_offer"); err != nil {
		return Result{}, err
	}
	return s.apply(ctx, actor, id, "offer_rejected", TopicOfferRejected, func(r Request, now time.Time) (Request, bool, error) {
		return rejectOffer(r, actor, now)
	})
}

// Reject is the agent declining the whole request.
func (s *Service) Reject(ctx context.Context, actor Actor, id string) (Result, error) {
	if err := s.gate.Authorize(ctx, actor.ID, "quote.reject"); err != nil {
		return Result{}, err
	}
	return s.apply(ctx, actor, id, "rejected", TopicRejected, func(r Request, now time.Time) (Request, bool, error) {
		return reject(r, actor, now)
	})
}

// Dismiss hides the request. For an agent it disappears from their view
// only; for the customer it is withdrawn for both parties, with an optional
// reason that is not screened.
func (s *Service) Dismiss(ctx context.Context, actor Actor, id, reason string) (Result, error) {
	if err := s.gate.Authorize(ctx, actor.ID, "quote.dismiss"); err != nil {
		return Result{}, err
	}
	switch actor.Role {
	case auth.RoleAgent:
		return s.apply(ctx, actor, id, "dismissed_by_agent", TopicDismissedByAgent, func(r Request, now time.Time) (Request, bool, error) {
			return dismissByAgent(r, actor, now)
		})
	case auth.RoleCustomer:
		return s.apply(ctx, actor, id, "dismissed_by_customer", TopicDismissedByCustomer, func(r Request, now time.Time) (Request, bool, error) {
			return dismissByCustomer(r, actor, reason, now)
		})
	default:
		return Result{}, ErrForbidden
	}
}

// Archive files away a finished request.
func (s *Service) Archive(ctx context.Context, actor Actor, id string) (Result, error) {
	if err := s.gate.Authorize(ctx, actor.ID, "quote.archive"); err != nil {
		return Result{}, err
	}
	return s.apply(ctx, actor, id, "archived", TopicArchived, func(r Request, now time.Time) (Request, bool, error) {
		return archive(r, actor, now)
	})
}

// ArchiveExpired archives up to limit requests whose expiry has passed. It
// is driven by the sweep binary, never by a party.
func (s *Service) ArchiveExpired(ctx context.Context, limit int) (int, error) {
	now := s.now().UTC()
	ids, err := s.repo.ListExpired(ctx, now, limit)
	if err != nil {
		return 0, err
	}

	archived := 0
	for _, id := range ids {
		res, err := s.apply(ctx, Actor{}, id, "expired", TopicArchived, func(r Request, now time.Time) (Request, bool, error) {
			return expire(r, now)
		})
		if err != nil {
			// A party may have acted since the listing; skip and carry on.
			if errors.Is(err, ErrInvalidTransition) {
				continue
			}
			return archived, err
		}
		if !res.Replayed {
			archived++
		}
	}
	return archived, nil
}

// apply runs one transition inside a transaction: lock the row, compute the
// next state, and write the record, timeline entry, and outbox event
// together.
func (s *Service) apply(
	ctx context.Context,
	actor Actor,
	id string,
	transition string,
	topic string,
	fn func(Request, time.Time) (Request, bool, error),
) (Result, error) {
	return s.applyScreened(ctx, actor, id, transition, topic, nil, fn)
}

// applyScreened is apply with a content check that runs only once the row is
// locked and the transition is known to be legal, so a refused or misdirected
// action never costs the actor a strike.
func (s *Service) applyScreened(
	ctx context.Context,
	actor Actor,
	id string,
	transition string,
	topic string,
	check *compliance.Check,
	fn func(Request, time.Time) (Request, bool, error),
) (Result, error) {
	if id == "" {
		return Result{}, fmt.Errorf("%w: missing request id", ErrInvalidInput)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("quote: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	current, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return Result{}, err
	}
	if actor.ID != "" && !current.IsParty(actor.ID) {
		return Result{}, ErrNotFound
	}

	now := s.now().UTC()
	next, replayed, err := fn(current, now)
	if err != nil {
		return Result{}, err
	}
	if replayed {
		return Result{Request: current, Replayed: true}, nil
	}
	if check != nil {
		if err := s.gate.Screen(ctx, *check); err != nil {
			return Result{}, err
		}
	}

	next.Version = current.Version + 1
	next.UpdatedAt = now
	updated, err := s.repo.Update(ctx, tx, next)
	if err != nil {
		return Result{}, err
	}
	if err := s.record(ctx, tx, transition, actor.ID, current, updated, topic, nil); err != nil {
		return Result{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Result{}, fmt.Errorf("quote: commit %s: %w", transition, err)
	}

	metrics.QuoteTransitions.WithLabelValues(transition).Inc()
	s.logger.Debug().
		Str("request_id", updated.ID).
		Str("transition", transition).
		Str("status", string(updated.Status)).
		Msg("quote transition")
	return Result{Request: updated}, nil
}

// record appends the timeline entry and outbox event for a transition.
func (s *Service) record(ctx context.Context, tx pgx.Tx, transition, actorID string, before, after Request, topic string, extra map[string]any) error {
	var actorPtr *string
	if actorID != "" {
		actorPtr = &actorID
	}

	timeline := map[string]any{
		"previous_status": before.Status,
		"next_status":     after.Status,
		"offer_kind":      after.Offer.Kind,
	}
	if after.Offer.Active() {
		timeline["offer_amount"] = after.Offer.Amount
	}
	if after.FinalPrice != "" {
		timeline["final_price"] = after.FinalPrice
	}
	if err := s.repo.AppendTimeline(ctx, tx, TimelineEvent{
		RequestID: after.ID,
		Type:      transition,
		ActorID:   actorPtr,
		Payload:   timeline,
		CreatedAt: after.UpdatedAt,
	}); err != nil {
		return err
	}

	payload := eventPayload(after, actorID)
	for k, v := range extra {
		payload[k] = v
	}
	if err := s.outbox.Enqueue(ctx, tx, topic, payload); err != nil {
		return fmt.Errorf("quote: enqueue outbox: %w", err)
	}
	return nil
}

func eventPayload(r Request, actorID string) map[string]any {
	payload := map[string]any{
		"request_id":  r.ID,
		"customer_id": r.CustomerID,
		"agent_id":    r.AgentID,
		"title":       r.Title,
		"status":      string(r.Status),
		"version":     r.Version,
	}
	if actorID != "" {
		payload["actor_id"] = actorID
	}
	if r.Offer.Active() {
		payload["offer_kind"] = string(r.Offer.Kind)
		payload["offer_amount"] = r.Offer.Amount
	}
	if r.FinalPrice != "" {
		payload["final_price"] = r.FinalPrice
	}
	if r.DismissReason != "" {
		payload["reason"] = r.DismissReason
	}
	return payload
}
