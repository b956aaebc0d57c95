package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound signals the requested agent does not exist.
var ErrNotFound = errors.New("agent: not found")

// Repository provides access to agent profiles.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const profileSelect = `
		SELECT u.id::text, u.display_name, COALESCE(p.trade, ''), COALESCE(p.base_rate, ''),
		       COALESCE(p.bio, ''), u.suspended, COALESCE(p.updated_at, u.updated_at)
		FROM users u
		LEFT JOIN agent_profiles p ON p.user_id = u.id
		WHERE u.role = 'agent'
`

// GetByID fetches an agent profile by the agent's user id.
func (r *Repository) GetByID(ctx context.Context, id string) (Profile, error) {
	query := profileSelect + ` AND u.id = $1`

	profile, err := scanProfile(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Profile{}, ErrNotFound
		}
		return Profile{}, fmt.Errorf("agent: query by id: %w", err)
	}

	return profile, nil
}

// List fetches up to limit agent profiles ordered by name. Suspended agents
// are left out.
func (r *Repository) List(ctx context.Context, filter ListFilter) ([]Profile, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	query := profileSelect + ` AND NOT u.suspended`
	args := []any{}
	if trade := strings.TrimSpace(filter.Trade); trade != "" {
		args = append(args, strings.ToLower(trade))
		query += fmt.Sprintf(" AND lower(p.trade) = $%d", len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(" ORDER BY u.display_name ASC LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("agent: list: %w", err)
	}
	defer rows.Close()

	profiles := make([]Profile, 0, limit)
	for rows.Next() {
		profile, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("agent: scan profile: %w", err)
		}
		profiles = append(profiles, profile)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("agent: iterate profiles: %w", err)
	}

	return profiles, nil
}

// Upsert writes the agent's editable profile fields.
func (r *Repository) Upsert(ctx context.Context, params UpdateParams) error {
	const query = `
		INSERT INTO agent_profiles (user_id, trade, base_rate, bio, updated_at)
		SELECT id, $2, $3, $4, now() FROM users WHERE id = $1 AND role = 'agent'
		ON CONFLICT (user_id) DO UPDATE
		SET trade = EXCLUDED.trade,
		    base_rate = EXCLUDED.base_rate,
		    bio = EXCLUDED.bio,
		    updated_at = EXCLUDED.updated_at
	`
	tag, err := r.pool.Exec(ctx, query, params.UserID, params.Trade, params.BaseRate, params.Bio)
	if err != nil {
		return fmt.Errorf("agent: upsert profile: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanProfile(row pgx.Row) (Profile, error) {
	var p Profile
	err := row.Scan(&p.UserID, &p.DisplayName, &p.Trade, &p.BaseRate, &p.Bio, &p.Suspended, &p.UpdatedAt)
	return p, err
}
