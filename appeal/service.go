package appeal

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"quoteflow/auth"
	"quoteflow/compliance"
)

var (
	ErrForbidden = errors.New("appeal: forbidden")
	// ErrNotSuspended refuses appeals from accounts in good standing.
	ErrNotSuspended = errors.New("appeal: account is not suspended")
	ErrInvalidInput = errors.New("appeal: invalid input")
)

const maxMessageLength = 2000

// Ledger is the compliance surface appeals need.
type Ledger interface {
	Status(ctx context.Context, userID string) (compliance.Standing, error)
	Unsuspend(ctx context.Context, p compliance.AdminParams) error
}

type Service struct {
	repo   Repository
	ledger Ledger
	now    func() time.Time
	logger zerolog.Logger
}

func NewService(repo Repository, ledger Ledger) *Service {
	return &Service{repo: repo, ledger: ledger, now: time.Now, logger: zerolog.Nop()}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) WithLogger(l zerolog.Logger) *Service {
	s.logger = l
	return s
}

// Create files an appeal. Only suspended users may appeal, and the message
// goes to administrators only, so it is not screened.
func (s *Service) Create(ctx context.Context, userID, message string) (Record, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return Record{}, fmt.Errorf("%w: message required", ErrInvalidInput)
	}
	if utf8.RuneCountInString(message) > maxMessageLength {
		return Record{}, fmt.Errorf("%w: message longer than %d characters", ErrInvalidInput, maxMessageLength)
	}

	st, err := s.ledger.Status(ctx, userID)
	if err != nil {
		return Record{}, fmt.Errorf("appeal: check status: %w", err)
	}
	if !st.Suspended {
		return Record{}, ErrNotSuspended
	}
	return s.repo.Create(ctx, userID, message)
}

// Mine lists the caller's own appeals.
func (s *Service) Mine(ctx context.Context, userID string) ([]Record, error) {
	return s.repo.List(ctx, "", userID)
}

// List is the administrators' review queue.
func (s *Service) List(ctx context.Context, role auth.Role, status Status) ([]Record, error) {
	if role != auth.RoleAdmin {
		return nil, ErrForbidden
	}
	return s.repo.List(ctx, status, "")
}

// Resolve grants or denies an open appeal. Granting lifts the suspension
// first, so a failed grant can be retried while the appeal is still open.
func (s *Service) Resolve(ctx context.Context, actorID string, role auth.Role, id string, res Resolution) (Record, error) {
	if role != auth.RoleAdmin {
		return Record{}, ErrForbidden
	}
	rec, err := s.repo.Get(ctx, id)
	if err != nil {
		return Record{}, err
	}
	if rec.Status != StatusOpen {
		return Record{}, ErrBadStatus
	}

	status := StatusDenied
	if res.Grant {
		status = StatusGranted
		reason := "appeal " + rec.ID
		if note := strings.TrimSpace(res.Note); note != "" {
			reason += ": " + note
		}
		err := s.ledger.Unsuspend(ctx, compliance.AdminParams{
			UserID:    rec.UserID,
			ActorID:   actorID,
			ActorRole: role,
			Reason:    reason,
		})
		if err != nil && !errors.Is(err, compliance.ErrNotSuspended) {
			return Record{}, err
		}
	}

	resolved, err := s.repo.Resolve(ctx, id, status, actorID, strings.TrimSpace(res.Note), s.now().UTC())
	if err != nil {
		return Record{}, err
	}
	s.logger.Info().
		Str("appeal_id", id).
		Str("user_id", rec.UserID).
		Str("status", string(status)).
		Msg("appeal resolved")
	return resolved, nil
}
