package infra

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// mutableTables lists every table a test may write, children first.
var mutableTables = []string{
	"discussion_messages",
	"quote_timeline",
	"quote_requests",
	"compliance_audit",
	"compliance_violations",
	"compliance_records",
	"appeals",
	"outbox",
	"idempotency",
	"agent_profiles",
	"users",
}

// Harness owns a migrated, isolated schema for repository integration tests.
type Harness struct {
	pool     *pgxpool.Pool
	teardown func(context.Context) error
}

// NewHarness migrates a fresh schema in the database named by DATABASE_URL.
// The test is skipped when DATABASE_URL is empty.
func NewHarness(t *testing.T) *Harness {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration tests")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, teardown, err := ApplyMigrations(ctx, dsn, true)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	h := &Harness{pool: pool, teardown: teardown}
	t.Cleanup(func() {
		h.pool.Close()
		if err := h.teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	})
	return h
}

// Pool exposes the configured pgx pool.
func (h *Harness) Pool() *pgxpool.Pool {
	return h.pool
}

// Reset truncates mutable tables to provide a clean slate for the next case.
func (h *Harness) Reset(ctx context.Context) error {
	tx, err := h.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("reset begin: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, tbl := range mutableTables {
		if _, err := tx.Exec(ctx, "TRUNCATE TABLE "+tbl+" CASCADE"); err != nil {
			return fmt.Errorf("truncate %s: %w", tbl, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("reset commit: %w", err)
	}
	return nil
}

// SeedUser inserts a user directly, bypassing password hashing.
func (h *Harness) SeedUser(ctx context.Context, t *testing.T, role string) string {
	t.Helper()
	var id string
	err := h.pool.QueryRow(ctx,
		`INSERT INTO users (email, display_name, password_hash, role) VALUES ($1, $2, 'x', $3) RETURNING id::text`,
		fmt.Sprintf("%s+%d@example.com", role, time.Now().UnixNano()), "Test "+role, role,
	).Scan(&id)
	if err != nil {
		t.Fatalf("seed %s: %v", role, err)
	}
	return id
}
