package outbox

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

type PGStore struct{}

func NewPGStore() *PGStore {
	return &PGStore{}
}

// Claim locks up to limit pending rows, skipping rows another worker holds.
func (s *PGStore) Claim(ctx context.Context, tx pgx.Tx, limit int) ([]Message, error) {
	const q = `
SELECT id::text, topic, payload, status, attempts, delivered, created_at
FROM outbox
WHERE status = 'pending'
ORDER BY created_at, id
LIMIT $1
FOR UPDATE SKIP LOCKED
`
	rows, err := tx.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("outbox: claim: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Topic, &m.Payload, &m.Status, &m.Attempts, &m.Delivered, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("outbox: scan claimed row: %w", err)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outbox: iterate claimed rows: %w", err)
	}
	return msgs, nil
}

func (s *PGStore) MarkProcessed(ctx context.Context, tx pgx.Tx, id string) error {
	const q = `
UPDATE outbox
SET status = 'processed',
    attempts = attempts + 1,
    last_attempt_at = now(),
    processed_at = now()
WHERE id = $1
`
	if _, err := tx.Exec(ctx, q, id); err != nil {
		return fmt.Errorf("outbox: mark processed: %w", err)
	}
	return nil
}

func (s *PGStore) MarkFailed(ctx context.Context, tx pgx.Tx, id string, cause string, delivered []string, maxAttempts int) (bool, error) {
	const q = `
UPDATE outbox
SET attempts = attempts + 1,
    last_attempt_at = now(),
    last_error = $2,
    delivered = $4,
    status = CASE WHEN attempts + 1 >= $3 THEN 'dead' ELSE 'pending' END
WHERE id = $1
RETURNING status
`
	if delivered == nil {
		delivered = []string{}
	}
	var status string
	if err := tx.QueryRow(ctx, q, id, cause, maxAttempts, delivered).Scan(&status); err != nil {
		return false, fmt.Errorf("outbox: mark failed: %w", err)
	}
	return status == StatusDead, nil
}
