package agent

import (
	"context"
	"errors"
	"strings"

	"quoteflow/compliance"
)

// ProfileStore abstracts repository operations for the service.
type ProfileStore interface {
	GetByID(ctx context.Context, id string) (Profile, error)
	List(ctx context.Context, filter ListFilter) ([]Profile, error)
	Upsert(ctx context.Context, params UpdateParams) error
}

// Screener checks free text an agent publishes on their profile.
type Screener interface {
	Screen(ctx context.Context, c compliance.Check) error
}

// Service exposes business-level agent operations.
type Service struct {
	repo ProfileStore
	gate Screener
}

// NewService builds a Service using the provided repository.
func NewService(repo ProfileStore, gate Screener) *Service {
	return &Service{repo: repo, gate: gate}
}

// GetByID returns the agent profile for the given identifier.
func (s *Service) GetByID(ctx context.Context, id string) (Profile, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns up to filter.Limit agent profiles.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]Profile, error) {
	return s.repo.List(ctx, filter)
}

// BaseRate returns the agent's standing rate, or "" when none is set.
func (s *Service) BaseRate(ctx context.Context, agentID string) (string, error) {
	p, err := s.repo.GetByID(ctx, agentID)
	if err != nil {
		return "", err
	}
	return p.BaseRate, nil
}

// Update lets an agent edit their own profile. Every field is visible to
// customers, so every field passes the content policy.
func (s *Service) Update(ctx context.Context, params UpdateParams) (Profile, error) {
	if params.UserID == "" {
		return Profile{}, errors.New("agent: missing user id")
	}
	params.Trade = strings.TrimSpace(params.Trade)
	params.BaseRate = strings.TrimSpace(params.BaseRate)
	params.Bio = strings.TrimSpace(params.Bio)

	if err := s.gate.Screen(ctx, compliance.Check{
		ActorID:  params.UserID,
		Location: "agent.profile",
		Fields: []compliance.Field{
			{Name: "trade", Text: params.Trade},
			{Name: "base_rate", Text: params.BaseRate},
			{Name: "bio", Text: params.Bio},
		},
	}); err != nil {
		return Profile{}, err
	}

	if err := s.repo.Upsert(ctx, params); err != nil {
		return Profile{}, err
	}
	return s.repo.GetByID(ctx, params.UserID)
}
