package compliance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"quoteflow/auth"
	"quoteflow/metrics"
	"quoteflow/outbox"
)

var (
	// ErrForbidden is returned when a non-administrator calls an admin operation.
	ErrForbidden = errors.New("compliance: administrator role required")
	// ErrNotSuspended is returned when unsuspending an active account.
	ErrNotSuspended = errors.New("compliance: account is not suspended")
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

// Ledger is the single writer of compliance records and of the suspension
// mirror on users.
type Ledger struct {
	pool   TxBeginner
	repo   Repository
	outbox OutboxWriter
	cache  StatusCache
	policy Policy
	now    func() time.Time
	logger zerolog.Logger
}

func NewLedger(pool TxBeginner, repo Repository) *Ledger {
	return &Ledger{
		pool:   pool,
		repo:   repo,
		outbox: outbox.NewWriter(),
		policy: DefaultPolicy(),
		now:    time.Now,
		logger: zerolog.Nop(),
	}
}

func (l *Ledger) WithPolicy(p Policy) *Ledger {
	def := DefaultPolicy()
	if p.SuspendThreshold <= 0 {
		p.SuspendThreshold = def.SuspendThreshold
	}
	if p.ExcerptLimit <= 0 {
		p.ExcerptLimit = def.ExcerptLimit
	}
	l.policy = p
	return l
}

func (l *Ledger) WithCache(c StatusCache) *Ledger {
	l.cache = c
	return l
}

func (l *Ledger) WithOutbox(w OutboxWriter) *Ledger {
	l.outbox = w
	return l
}

func (l *Ledger) WithClock(now func() time.Time) *Ledger {
	l.now = now
	return l
}

func (l *Ledger) WithLogger(logger zerolog.Logger) *Ledger {
	l.logger = logger
	return l
}

func (l *Ledger) Policy() Policy {
	return l.policy
}

// Status reports the user's standing. A missing record is an active account
// with no violations.
func (l *Ledger) Status(ctx context.Context, userID string) (Standing, error) {
	if userID == "" {
		return Standing{}, fmt.Errorf("compliance: missing user id")
	}

	if l.cache != nil {
		st, ok, err := l.cache.Get(ctx, userID)
		switch {
		case err != nil:
			metrics.StatusCacheLookups.WithLabelValues("error").Inc()
			l.logger.Warn().Err(err).Str("user_id", userID).Msg("status cache read failed")
		case ok:
			metrics.StatusCacheLookups.WithLabelValues("hit").Inc()
			return st, nil
		default:
			metrics.StatusCacheLookups.WithLabelValues("miss").Inc()
		}
	}

	rec, err := l.repo.GetRecord(ctx, userID)
	if err != nil && !errors.Is(err, ErrRecordNotFound) {
		return Standing{}, err
	}
	st := rec.Standing()

	// Only suspensions are cached. An active standing read here can be
	// overtaken by a concurrent suspension, and caching it would let the
	// user act until the entry expires. A stale suspended entry only blocks.
	if l.cache != nil && st.Suspended {
		if err := l.cache.Set(ctx, userID, st); err != nil {
			l.logger.Warn().Err(err).Str("user_id", userID).Msg("status cache write failed")
		}
	}
	return st, nil
}

// Record returns the full compliance record, synthesising an empty one when
// the user has never been flagged.
func (l *Ledger) Record(ctx context.Context, userID string) (Record, error) {
	rec, err := l.repo.GetRecord(ctx, userID)
	if errors.Is(err, ErrRecordNotFound) {
		return Record{UserID: userID, Status: StatusActive}, nil
	}
	return rec, err
}

// RecordViolation increments the counter, appends a log entry, and suspends
// the account once the threshold is reached. Callers must already have
// refused the action the violation was raised for.
func (l *Ledger) RecordViolation(ctx context.Context, vc ViolationContext) (Outcome, error) {
	if vc.UserID == "" {
		return Outcome{}, fmt.Errorf("compliance: missing user id")
	}
	now := l.now().UTC()

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("compliance: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	count, status, err := l.repo.IncrementViolations(ctx, tx, vc.UserID, now)
	if err != nil {
		return Outcome{}, err
	}

	entry := Violation{
		UserID:     vc.UserID,
		Location:   vc.Location,
		Categories: categoryNames(vc.Categories),
		Excerpt:    excerpt(vc.Text, l.policy.ExcerptLimit),
		CreatedAt:  now,
	}
	if err := l.repo.AppendViolation(ctx, tx, entry); err != nil {
		return Outcome{}, err
	}

	out := Outcome{ViolationCountAfter: count}
	// >= rather than == so a replayed or raced increment still suspends.
	if count >= l.policy.SuspendThreshold && status != StatusSuspended {
		if err := l.repo.Suspend(ctx, tx, vc.UserID, SuspensionReason, now); err != nil {
			return Outcome{}, err
		}
		payload := map[string]any{
			"user_id":         vc.UserID,
			"violation_count": count,
			"reason":          SuspensionReason,
			"location":        vc.Location,
		}
		if err := l.outbox.Enqueue(ctx, tx, TopicUserSuspended, payload); err != nil {
			return Outcome{}, err
		}
		out.SuspendedNow = true
	}

	if err := tx.Commit(ctx); err != nil {
		return Outcome{}, fmt.Errorf("compliance: commit violation: %w", err)
	}

	l.invalidate(ctx, vc.UserID)
	if out.SuspendedNow {
		metrics.Suspensions.Inc()
		l.logger.Info().
			Str("user_id", vc.UserID).
			Int("violation_count", count).
			Msg("account suspended")
	}
	return out, nil
}

// Unsuspend lifts a suspension. The violation count is left as is.
func (l *Ledger) Unsuspend(ctx context.Context, p AdminParams) error {
	if err := checkAdmin(p); err != nil {
		return err
	}
	now := l.now().UTC()

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("compliance: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	changed, err := l.repo.Unsuspend(ctx, tx, p.UserID, now)
	if err != nil {
		return err
	}
	if !changed {
		return ErrNotSuspended
	}
	if err := l.repo.AppendAudit(ctx, tx, AuditEntry{
		UserID:  p.UserID,
		ActorID: p.ActorID,
		Action:  AuditUnsuspend,
		Reason:  p.Reason,
		At:      now,
	}); err != nil {
		return err
	}
	payload := map[string]any{
		"user_id":  p.UserID,
		"actor_id": p.ActorID,
		"reason":   p.Reason,
	}
	if err := l.outbox.Enqueue(ctx, tx, TopicUserUnsuspended, payload); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("compliance: commit unsuspend: %w", err)
	}
	l.invalidate(ctx, p.UserID)
	return nil
}

// ResetViolations clears the counter without touching suspension status.
func (l *Ledger) ResetViolations(ctx context.Context, p AdminParams) error {
	if err := checkAdmin(p); err != nil {
		return err
	}
	now := l.now().UTC()

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("compliance: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := l.repo.ResetViolations(ctx, tx, p.UserID, now); err != nil {
		return err
	}
	if err := l.repo.AppendAudit(ctx, tx, AuditEntry{
		UserID:  p.UserID,
		ActorID: p.ActorID,
		Action:  AuditReset,
		Reason:  p.Reason,
		At:      now,
	}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("compliance: commit reset: %w", err)
	}
	l.invalidate(ctx, p.UserID)
	return nil
}

// Violations lists the newest log entries for a user. Admin only.
func (l *Ledger) Violations(ctx context.Context, p AdminParams, limit int) ([]Violation, error) {
	if err := checkAdmin(p); err != nil {
		return nil, err
	}
	return l.repo.ListViolations(ctx, p.UserID, limit)
}

func (l *Ledger) invalidate(ctx context.Context, userID string) {
	if l.cache == nil {
		return
	}
	if err := l.cache.Invalidate(ctx, userID); err != nil {
		l.logger.Warn().Err(err).Str("user_id", userID).Msg("status cache invalidate failed")
	}
}

func checkAdmin(p AdminParams) error {
	if p.ActorRole != auth.RoleAdmin {
		return ErrForbidden
	}
	if p.UserID == "" {
		return fmt.Errorf("compliance: missing user id")
	}
	if p.UserID == p.ActorID {
		return ErrForbidden
	}
	return nil
}
