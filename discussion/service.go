package discussion

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"

	"quoteflow/auth"
	"quoteflow/compliance"
	"quoteflow/metrics"
	"quoteflow/outbox"
	"quoteflow/quote"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

type OutboxWriter interface {
	Enqueue(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

type Gatekeeper interface {
	Authorize(ctx context.Context, actorID, location string) error
	Screen(ctx context.Context, c compliance.Check) error
}

// Threads resolves the request a thread belongs to.
type Threads interface {
	Lookup(ctx context.Context, id string) (quote.Request, error)
}

type Service struct {
	pool        TxBeginner
	repo        Repository
	gate        Gatekeeper
	threads     Threads
	outbox      OutboxWriter
	idGenerator func() string
	now         func() time.Time
	logger      zerolog.Logger
}

func NewService(pool TxBeginner, repo Repository, gate Gatekeeper, threads Threads) *Service {
	return &Service{
		pool:        pool,
		repo:        repo,
		gate:        gate,
		threads:     threads,
		outbox:      outbox.NewWriter(),
		idGenerator: func() string { return ulid.Make().String() },
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

// Post appends a party's comment. A suspended author is refused first. The
// author must then be a party to the request and the thread must not be
// archived before the body is scanned.
func (s *Service) Post(ctx context.Context, actor quote.Actor, requestID, body string) (Message, error) {
	if err := s.gate.Authorize(ctx, actor.ID, "discussion"); err != nil {
		return Message{}, err
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return Message{}, fmt.Errorf("%w: message body required", quote.ErrInvalidInput)
	}
	if utf8.RuneCountInString(body) > MaxBodyLength {
		return Message{}, fmt.Errorf("%w: message longer than %d characters", quote.ErrInvalidInput, MaxBodyLength)
	}

	req, err := s.threads.Lookup(ctx, requestID)
	if err != nil {
		return Message{}, err
	}
	if !req.IsParty(actor.ID) {
		return Message{}, quote.ErrNotFound
	}
	if req.Status == quote.StatusArchived {
		return Message{}, fmt.Errorf("discussion: thread archived: %w", quote.ErrNotAvailable)
	}

	if err := s.gate.Screen(ctx, compliance.Check{
		ActorID:  actor.ID,
		Location: "discussion",
		Fields:   []compliance.Field{{Name: "body", Text: body}},
	}); err != nil {
		return Message{}, err
	}

	role := AuthorCustomer
	if actor.Role == auth.RoleAgent {
		role = AuthorAgent
	}
	msg := Message{
		ID:         s.idGenerator(),
		RequestID:  requestID,
		AuthorID:   actor.ID,
		AuthorRole: role,
		Body:       body,
		CreatedAt:  s.now().UTC(),
	}
	if _, err := s.insert(ctx, msg, req); err != nil {
		return Message{}, err
	}
	return msg, nil
}

// PostSystem appends a platform comment. A non-empty key makes the call
// idempotent: a second post with the same key is dropped.
func (s *Service) PostSystem(ctx context.Context, requestID, body, key string) (Message, bool, error) {
	req, err := s.threads.Lookup(ctx, requestID)
	if err != nil {
		return Message{}, false, err
	}
	id := key
	if id == "" {
		id = s.idGenerator()
	}
	msg := Message{
		ID:         id,
		RequestID:  requestID,
		AuthorRole: AuthorSystem,
		Body:       strings.TrimSpace(body),
		CreatedAt:  s.now().UTC(),
	}
	inserted, err := s.insert(ctx, msg, req)
	if err != nil {
		return Message{}, false, err
	}
	return msg, inserted, nil
}

func (s *Service) insert(ctx context.Context, msg Message, req quote.Request) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("discussion: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	inserted, err := s.repo.Insert(ctx, tx, msg)
	if err != nil {
		return false, err
	}
	if !inserted {
		return false, nil
	}
	if err := s.outbox.Enqueue(ctx, tx, TopicMessagePosted, map[string]any{
		"request_id":  msg.RequestID,
		"message_id":  msg.ID,
		"author_id":   msg.AuthorID,
		"author_role": string(msg.AuthorRole),
		"customer_id": req.CustomerID,
		"agent_id":    req.AgentID,
		"title":       req.Title,
	}); err != nil {
		return false, fmt.Errorf("discussion: enqueue outbox: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("discussion: commit tx: %w", err)
	}

	metrics.MessagesPosted.WithLabelValues(string(msg.AuthorRole)).Inc()
	return true, nil
}

// List returns the thread oldest first. Suspended users keep read access.
func (s *Service) List(ctx context.Context, viewer quote.Actor, requestID string) ([]Message, error) {
	req, err := s.threads.Lookup(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if viewer.Role != auth.RoleAdmin && !req.IsParty(viewer.ID) {
		return nil, quote.ErrNotFound
	}
	msgs, err := s.repo.List(ctx, requestID, 0)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].CreatedAt.Equal(msgs[j].CreatedAt) {
			return msgs[i].ID < msgs[j].ID
		}
		return msgs[i].CreatedAt.Before(msgs[j].CreatedAt)
	})
	return msgs, nil
}
