package appeal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrNotFound  = errors.New("appeal: not found")
	ErrBadStatus = errors.New("appeal: already resolved")
	// ErrAlreadyOpen is returned when the user has an appeal awaiting review.
	ErrAlreadyOpen = errors.New("appeal: an appeal is already open")
)

type Repository interface {
	Create(ctx context.Context, userID, message string) (Record, error)
	Get(ctx context.Context, id string) (Record, error)
	List(ctx context.Context, status Status, userID string) ([]Record, error)
	Resolve(ctx context.Context, id string, status Status, actorID, note string, at time.Time) (Record, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

const appealColumns = `id::text, user_id::text, message, status, resolved_by::text,
	COALESCE(resolution_note, ''), created_at, updated_at, resolved_at`

func (r *PGRepository) Create(ctx context.Context, userID, message string) (Record, error) {
	query := `
		INSERT INTO appeals (user_id, message, status)
		VALUES ($1, $2, 'open')
		RETURNING ` + appealColumns

	rec, err := scanRecord(r.pool.QueryRow(ctx, query, userID, message))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Record{}, ErrAlreadyOpen
		}
		return Record{}, fmt.Errorf("appeal: create: %w", err)
	}
	return rec, nil
}

func (r *PGRepository) Get(ctx context.Context, id string) (Record, error) {
	rec, err := scanRecord(r.pool.QueryRow(ctx, `SELECT `+appealColumns+` FROM appeals WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("appeal: get: %w", err)
	}
	return rec, nil
}

// List returns appeals newest first, optionally narrowed by status and user.
func (r *PGRepository) List(ctx context.Context, status Status, userID string) ([]Record, error) {
	query := `SELECT ` + appealColumns + ` FROM appeals WHERE 1=1`
	args := []any{}
	if status != "" {
		args = append(args, status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if userID != "" {
		args = append(args, userID)
		query += fmt.Sprintf(" AND user_id = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("appeal: list: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, 8)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("appeal: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("appeal: iterate: %w", err)
	}
	return out, nil
}

// Resolve closes an open appeal. A missing row and an already-resolved row
// are told apart with a second read.
func (r *PGRepository) Resolve(ctx context.Context, id string, status Status, actorID, note string, at time.Time) (Record, error) {
	query := `
		UPDATE appeals
		SET status = $2, resolved_by = $3, resolution_note = NULLIF($4, ''), resolved_at = $5, updated_at = $5
		WHERE id = $1 AND status = 'open'
		RETURNING ` + appealColumns

	rec, err := scanRecord(r.pool.QueryRow(ctx, query, id, status, actorID, note, at))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Record{}, fmt.Errorf("appeal: resolve: %w", err)
	}

	var current Status
	if err := r.pool.QueryRow(ctx, `SELECT status FROM appeals WHERE id = $1`, id).Scan(&current); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("appeal: resolve fetch: %w", err)
	}
	return Record{}, ErrBadStatus
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.UserID, &rec.Message, &rec.Status, &rec.ResolvedBy,
		&rec.ResolutionNote, &rec.CreatedAt, &rec.UpdatedAt, &rec.ResolvedAt)
	return rec, err
}
