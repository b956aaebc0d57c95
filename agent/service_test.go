package agent

import (
	"context"
	"errors"
	"testing"

	"quoteflow/compliance"
)

func TestService_UpdateScreensEveryField(t *testing.T) {
	repo := newFakeStore()
	repo.profiles["agent-1"] = Profile{UserID: "agent-1", DisplayName: "Bob"}
	gate := &fakeScreener{}
	svc := NewService(repo, gate)

	got, err := svc.Update(context.Background(), UpdateParams{
		UserID:   "agent-1",
		Trade:    " Plumber ",
		BaseRate: "£45/hour",
		Bio:      "Twenty years fixing leaks",
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Trade != "Plumber" || got.BaseRate != "£45/hour" {
		t.Fatalf("unexpected profile %+v", got)
	}
	if gate.last.Location != "agent.profile" || len(gate.last.Fields) != 3 {
		t.Fatalf("expected all fields screened, got %+v", gate.last)
	}
}

func TestService_UpdateRefusedLeavesProfile(t *testing.T) {
	repo := newFakeStore()
	repo.profiles["agent-1"] = Profile{UserID: "agent-1", Bio: "old"}
	svc := NewService(repo, &fakeScreener{err: compliance.ErrSuspended})

	_, err := svc.Update(context.Background(), UpdateParams{UserID: "agent-1", Bio: "new"})
	if !errors.Is(err, compliance.ErrSuspended) {
		t.Fatalf("expected ErrSuspended, got %v", err)
	}
	if repo.profiles["agent-1"].Bio != "old" {
		t.Fatal("refused update must not be written")
	}
}

func TestService_BaseRate(t *testing.T) {
	repo := newFakeStore()
	repo.profiles["agent-1"] = Profile{UserID: "agent-1", BaseRate: "£30/hour"}
	svc := NewService(repo, &fakeScreener{})

	rate, err := svc.BaseRate(context.Background(), "agent-1")
	if err != nil || rate != "£30/hour" {
		t.Fatalf("got %q, %v", rate, err)
	}
	if _, err := svc.BaseRate(context.Background(), "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

type fakeStore struct {
	profiles map[string]Profile
}

func newFakeStore() *fakeStore {
	return &fakeStore{profiles: map[string]Profile{}}
}

func (f *fakeStore) GetByID(ctx context.Context, id string) (Profile, error) {
	p, ok := f.profiles[id]
	if !ok {
		return Profile{}, ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) List(ctx context.Context, filter ListFilter) ([]Profile, error) {
	out := make([]Profile, 0, len(f.profiles))
	for _, p := range f.profiles {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeStore) Upsert(ctx context.Context, params UpdateParams) error {
	p, ok := f.profiles[params.UserID]
	if !ok {
		return ErrNotFound
	}
	p.Trade = params.Trade
	p.BaseRate = params.BaseRate
	p.Bio = params.Bio
	f.profiles[params.UserID] = p
	return nil
}

type fakeScreener struct {
	err  error
	last compliance.Check
}

func (f *fakeScreener) Screen(ctx context.Context, c compliance.Check) error {
	f.last = c
	return f.err
}
