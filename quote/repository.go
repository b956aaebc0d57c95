package quote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"quoteflow/auth"
)

var (
	ErrNotFound = errors.New("quote: not found")
	// ErrDuplicateIdempotencyKey signals the idempotency insert hit an existing key.
	ErrDuplicateIdempotencyKey = errors.New("quote: duplicate idempotency key")
)

type Repository interface {
	Insert(ctx context.Context, tx pgx.Tx, req Request) (Request, error)
	Get(ctx context.Context, id string) (Request, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Request, error)
	Update(ctx context.Context, tx pgx.Tx, req Request) (Request, error)
	List(ctx context.Context, filter Filter) ([]Request, int, error)
	ListExpired(ctx context.Context, now time.Time, limit int) ([]string, error)
	AppendTimeline(ctx context.Context, tx pgx.Tx, ev TimelineEvent) error
	InsertIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) error
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const requestColumns = `
    id::text, customer_id::text, agent_id::text,
    title, description, budget_note, notes, media,
    base_rate, offer_kind, COALESCE(offer_amount, ''), COALESCE(offer_reasoning, ''),
    COALESCE(offer_by::text, ''), offer_at, COALESCE(final_price, ''),
    status, agent_dismissed, agent_dismissed_at, COALESCE(dismiss_reason, ''),
    accepted_by::text, accepted_at, closed_at, paid_at, expires_at,
    version, created_at, updated_at`

func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, req Request) (Request, error) {
	query := `
        INSERT INTO quote_requests (id, customer_id, agent_id, title, description, budget_note, notes, media,
            base_rate, offer_kind, status, expires_at, version, created_at, updated_at)
        VALUES (COALESCE(NULLIF($1, '')::uuid, gen_random_uuid()), $2, $3, $4, $5, $6, $7, $8, $9, 'none', $10, $11, 1, $12, $12)
        RETURNING` + requestColumns

	row := tx.QueryRow(ctx, query,
		req.ID,
		req.CustomerID,
		req.AgentID,
		req.Title,
		req.Description,
		req.BudgetNote,
		req.Notes,
		mediaOrEmpty(req.Media),
		req.BaseRate,
		req.Status,
		req.ExpiresAt,
		req.CreatedAt,
	)
	created, err := scanRequest(row)
	if err != nil {
		return Request{}, fmt.Errorf("quote: insert: %w", err)
	}
	return created, nil
}

func (r *PGRepository) Get(ctx context.Context, id string) (Request, error) {
	query := `SELECT` + requestColumns + ` FROM quote_requests WHERE id = $1`

	req, err := scanRequest(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, ErrNotFound
		}
		return Request{}, fmt.Errorf("quote: get: %w", err)
	}
	return req, nil
}

func (r *PGRepository) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Request, error) {
	query := `SELECT` + requestColumns + ` FROM quote_requests WHERE id = $1 FOR UPDATE`

	req, err := scanRequest(tx.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, ErrNotFound
		}
		return Request{}, fmt.Errorf("quote: get for update: %w", err)
	}
	return req, nil
}

// Update writes every mutable column. The offer slot is written as one unit
// so a stale writer can never leave two offers behind.
func (r *PGRepository) Update(ctx context.Context, tx pgx.Tx, req Request) (Request, error) {
	query := `
        UPDATE quote_requests
        SET offer_kind = $2,
            offer_amount = NULLIF($3, ''),
            offer_reasoning = NULLIF($4, ''),
            offer_by = NULLIF($5, '')::uuid,
            offer_at = $6,
            final_price = NULLIF($7, ''),
            status = $8,
            agent_dismissed = $9,
            agent_dismissed_at = $10,
            dismiss_reason = NULLIF($11, ''),
            accepted_by = $12::uuid,
            accepted_at = $13,
            closed_at = $14,
            paid_at = $15,
            version = $16,
            updated_at = $17
        WHERE id = $1
        RETURNING` + requestColumns

	kind := req.Offer.Kind
	if kind == "" {
		kind = OfferNone
	}
	row := tx.QueryRow(ctx, query,
		req.ID,
		kind,
		req.Offer.Amount,
		req.Offer.Reasoning,
		req.Offer.ProposedBy,
		req.Offer.ProposedAt,
		req.FinalPrice,
		req.Status,
		req.AgentDismissed,
		req.AgentDismissedAt,
		req.DismissReason,
		req.AcceptedBy,
		req.AcceptedAt,
		req.ClosedAt,
		req.PaidAt,
		req.Version,
		req.UpdatedAt,
	)
	updated, err := scanRequest(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Request{}, ErrNotFound
		}
		return Request{}, fmt.Errorf("quote: update: %w", err)
	}
	return updated, nil
}

func (r *PGRepository) List(ctx context.Context, filter Filter) ([]Request, int, error) {
	if filter.Page <= 0 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 || filter.PageSize > 100 {
		filter.PageSize = 20
	}

	where := []string{"1=1"}
	args := []any{}
	switch filter.Viewer.Role {
	case auth.RoleCustomer:
		args = append(args, filter.Viewer.ID)
		where = append(where, fmt.Sprintf("customer_id = $%d", len(args)))
	case auth.RoleAgent:
		args = append(args, filter.Viewer.ID)
		where = append(where, fmt.Sprintf("agent_id = $%d", len(args)), "NOT agent_dismissed")
	case auth.RoleAdmin:
	default:
		return nil, 0, ErrForbidden
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	} else if !filter.IncludeClosed {
		where = append(where, "status NOT IN ('dismissed_by_customer', 'archived')")
	}
	whereClause := " WHERE " + strings.Join(where, " AND ")

	limit := filter.PageSize
	offset := (filter.Page - 1) * filter.PageSize
	query := fmt.Sprintf(`SELECT%s FROM quote_requests%s ORDER BY updated_at DESC, id LIMIT %d OFFSET %d`,
		requestColumns, whereClause, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("quote: query list: %w", err)
	}
	defer rows.Close()

	list := []Request{}
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("quote: scan list: %w", err)
		}
		list = append(list, req)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("quote: iterate list: %w", err)
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM quote_requests"+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("quote: count list: %w", err)
	}

	return list, total, nil
}

// ListExpired returns ids of requests still awaiting agreement past expiry.
func (r *PGRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}
	const query = `
		SELECT id::text
		FROM quote_requests
		WHERE status IN ('pending', 'negotiating')
		  AND expires_at IS NOT NULL
		  AND expires_at <= $1
		ORDER BY expires_at
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("quote: list expired: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("quote: scan expired: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *PGRepository) AppendTimeline(ctx context.Context, tx pgx.Tx, ev TimelineEvent) error {
	body, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("quote: marshal timeline payload: %w", err)
	}
	const q = `
INSERT INTO quote_timeline (request_id, type, actor_id, payload, created_at)
VALUES ($1, $2, $3::uuid, $4::jsonb, $5)
`
	if _, err := tx.Exec(ctx, q, ev.RequestID, ev.Type, ev.ActorID, body, ev.CreatedAt); err != nil {
		return fmt.Errorf("quote: insert timeline event: %w", err)
	}
	return nil
}

// InsertIdempotencyKey reserves key inside the active transaction.
func (r *PGRepository) InsertIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) error {
	if key == "" {
		return fmt.Errorf("quote: empty idempotency key")
	}

	_, err := tx.Exec(ctx, `INSERT INTO idempotency (key) VALUES ($1)`, key)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("quote: insert idempotency key: %w", err)
	}

	return nil
}

func scanRequest(row pgx.Row) (Request, error) {
	var req Request
	err := row.Scan(
		&req.ID,
		&req.CustomerID,
		&req.AgentID,
		&req.Title,
		&req.Description,
		&req.BudgetNote,
		&req.Notes,
		&req.Media,
		&req.BaseRate,
		&req.Offer.Kind,
		&req.Offer.Amount,
		&req.Offer.Reasoning,
		&req.Offer.ProposedBy,
		&req.Offer.ProposedAt,
		&req.FinalPrice,
		&req.Status,
		&req.AgentDismissed,
		&req.AgentDismissedAt,
		&req.DismissReason,
		&req.AcceptedBy,
		&req.AcceptedAt,
		&req.ClosedAt,
		&req.PaidAt,
		&req.ExpiresAt,
		&req.Version,
		&req.CreatedAt,
		&req.UpdatedAt,
	)
	return req, err
}

func mediaOrEmpty(media []string) []string {
	if media == nil {
		return []string{}
	}
	return media
}
