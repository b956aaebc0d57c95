package discussion

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository interface {
	// Insert stores msg. It reports false when a message with the same id
	// already exists.
	Insert(ctx context.Context, tx pgx.Tx, msg Message) (bool, error)
	List(ctx context.Context, requestID string, limit int) ([]Message, error)
}

type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, msg Message) (bool, error) {
	const q = `
INSERT INTO discussion_messages (id, request_id, author_id, author_role, body, created_at)
VALUES ($1, $2, NULLIF($3, '')::uuid, $4, $5, $6)
ON CONFLICT (id) DO NOTHING
`
	tag, err := tx.Exec(ctx, q, msg.ID, msg.RequestID, msg.AuthorID, msg.AuthorRole, msg.Body, msg.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("discussion: insert message: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// List returns the thread oldest first. Order comes from the server-assigned
// timestamp, never from arrival order.
func (r *PGRepository) List(ctx context.Context, requestID string, limit int) ([]Message, error) {
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	const q = `
SELECT id, request_id::text, COALESCE(author_id::text, ''), author_role, body, created_at
FROM discussion_messages
WHERE request_id = $1
ORDER BY created_at, id
LIMIT $2
`
	rows, err := r.pool.Query(ctx, q, requestID, limit)
	if err != nil {
		return nil, fmt.Errorf("discussion: list messages: %w", err)
	}
	defer rows.Close()

	msgs := []Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.RequestID, &m.AuthorID, &m.AuthorRole, &m.Body, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("discussion: scan message: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("discussion: iterate messages: %w", err)
	}
	return msgs, nil
}
