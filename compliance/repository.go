package compliance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrRecordNotFound signals the user has never committed a violation.
var ErrRecordNotFound = errors.New("compliance: record not found")

// Repository defines the data access used by the ledger. Every write runs
// inside the caller's transaction.
type Repository interface {
	GetRecord(ctx context.Context, userID string) (Record, error)
	IncrementViolations(ctx context.Context, tx pgx.Tx, userID string, at time.Time) (int, Status, error)
	AppendViolation(ctx context.Context, tx pgx.Tx, v Violation) error
	Suspend(ctx context.Context, tx pgx.Tx, userID, reason string, at time.Time) error
	Unsuspend(ctx context.Context, tx pgx.Tx, userID string, at time.Time) (bool, error)
	ResetViolations(ctx context.Context, tx pgx.Tx, userID string, at time.Time) error
	AppendAudit(ctx context.Context, tx pgx.Tx, entry AuditEntry) error
	ListViolations(ctx context.Context, userID string, limit int) ([]Violation, error)
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) GetRecord(ctx context.Context, userID string) (Record, error) {
	const q = `
SELECT user_id::text, violation_count, status, suspended_at, COALESCE(suspension_reason, ''), updated_at
FROM compliance_records
WHERE user_id = $1
`
	var rec Record
	err := r.pool.QueryRow(ctx, q, userID).Scan(
		&rec.UserID,
		&rec.ViolationCount,
		&rec.Status,
		&rec.SuspendedAt,
		&rec.SuspensionReason,
		&rec.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrRecordNotFound
		}
		return Record{}, fmt.Errorf("compliance: get record: %w", err)
	}
	return rec, nil
}

// IncrementViolations creates the record on first violation and bumps the
// counter atomically, returning the count after the increment.
func (r *PGRepository) IncrementViolations(ctx context.Context, tx pgx.Tx, userID string, at time.Time) (int, Status, error) {
	const q = `
INSERT INTO compliance_records (user_id, violation_count, status, updated_at)
VALUES ($1, 1, 'active', $2)
ON CONFLICT (user_id) DO UPDATE
SET violation_count = compliance_records.violation_count + 1,
    updated_at = EXCLUDED.updated_at
RETURNING violation_count, status
`
	var (
		count  int
		status Status
	)
	if err := tx.QueryRow(ctx, q, userID, at).Scan(&count, &status); err != nil {
		return 0, "", fmt.Errorf("compliance: increment violations: %w", err)
	}
	return count, status, nil
}

func (r *PGRepository) AppendViolation(ctx context.Context, tx pgx.Tx, v Violation) error {
	const q = `
INSERT INTO compliance_violations (user_id, location, categories, excerpt, created_at)
VALUES ($1, $2, $3, $4, $5)
`
	if _, err := tx.Exec(ctx, q, v.UserID, v.Location, v.Categories, v.Excerpt, v.CreatedAt); err != nil {
		return fmt.Errorf("compliance: append violation: %w", err)
	}
	return nil
}

// Suspend marks the record suspended and mirrors the flag onto users in the
// same transaction. The users column is never written anywhere else.
func (r *PGRepository) Suspend(ctx context.Context, tx pgx.Tx, userID, reason string, at time.Time) error {
	const suspendSQL = `
UPDATE compliance_records
SET status = 'suspended',
    suspended_at = $2,
    suspension_reason = $3,
    updated_at = $2
WHERE user_id = $1 AND status <> 'suspended'
`
	if _, err := tx.Exec(ctx, suspendSQL, userID, at, reason); err != nil {
		return fmt.Errorf("compliance: suspend: %w", err)
	}
	if err := setUserMirror(ctx, tx, userID, true); err != nil {
		return err
	}
	return nil
}

func (r *PGRepository) Unsuspend(ctx context.Context, tx pgx.Tx, userID string, at time.Time) (bool, error) {
	const q = `
UPDATE compliance_records
SET status = 'active',
    suspended_at = NULL,
    suspension_reason = NULL,
    updated_at = $2
WHERE user_id = $1 AND status = 'suspended'
`
	tag, err := tx.Exec(ctx, q, userID, at)
	if err != nil {
		return false, fmt.Errorf("compliance: unsuspend: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return false, nil
	}
	if err := setUserMirror(ctx, tx, userID, false); err != nil {
		return false, err
	}
	return true, nil
}

// ResetViolations zeroes the counter and marks existing entries cleared.
// Entries are kept for the audit trail.
func (r *PGRepository) ResetViolations(ctx context.Context, tx pgx.Tx, userID string, at time.Time) error {
	const resetSQL = `
UPDATE compliance_records
SET violation_count = 0,
    updated_at = $2
WHERE user_id = $1
`
	if _, err := tx.Exec(ctx, resetSQL, userID, at); err != nil {
		return fmt.Errorf("compliance: reset counter: %w", err)
	}
	const clearSQL = `
UPDATE compliance_violations
SET cleared_at = $2
WHERE user_id = $1 AND cleared_at IS NULL
`
	if _, err := tx.Exec(ctx, clearSQL, userID, at); err != nil {
		return fmt.Errorf("compliance: clear violations: %w", err)
	}
	return nil
}

func (r *PGRepository) AppendAudit(ctx context.Context, tx pgx.Tx, entry AuditEntry) error {
	const q = `
INSERT INTO compliance_audit (user_id, actor_id, action, reason, created_at)
VALUES ($1, $2, $3, $4, $5)
`
	if _, err := tx.Exec(ctx, q, entry.UserID, entry.ActorID, entry.Action, entry.Reason, entry.At); err != nil {
		return fmt.Errorf("compliance: append audit: %w", err)
	}
	return nil
}

func (r *PGRepository) ListViolations(ctx context.Context, userID string, limit int) ([]Violation, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	const q = `
SELECT id, user_id::text, location, categories, excerpt, created_at
FROM compliance_violations
WHERE user_id = $1
ORDER BY created_at DESC, id DESC
LIMIT $2
`
	rows, err := r.pool.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("compliance: list violations: %w", err)
	}
	defer rows.Close()

	out := make([]Violation, 0, 8)
	for rows.Next() {
		var v Violation
		if err := rows.Scan(&v.ID, &v.UserID, &v.Location, &v.Categories, &v.Excerpt, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("compliance: scan violation: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("compliance: iterate violations: %w", err)
	}
	return out, nil
}

func setUserMirror(ctx context.Context, tx pgx.Tx, userID string, suspended bool) error {
	if _, err := tx.Exec(ctx, `UPDATE users SET suspended = $2, updated_at = now() WHERE id = $1`, userID, suspended); err != nil {
		return fmt.Errorf("compliance: mirror suspension flag: %w", err)
	}
	return nil
}
