// Package chaos injects database faults while actors run.
package chaos

import (
	"context"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TerminateRandomBackend now and then kills one other connection to the
// current database, so transactions die mid-flight and must roll back whole.
func TerminateRandomBackend(ctx context.Context, pool *pgxpool.Pool, every time.Duration, odds int, stop <-chan struct{}) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if odds > 1 && rand.Intn(odds) != 0 {
				continue
			}
			_, _ = pool.Exec(ctx, `
SELECT pg_terminate_backend(pid) FROM pg_stat_activity
WHERE datname = current_database() AND pid <> pg_backend_pid() AND state = 'idle in transaction'
ORDER BY random() LIMIT 1`)
		}
	}
}

// HoldRequestLock takes the row lock on one request and sits on it, forcing
// every concurrent transition on that request to queue.
func HoldRequestLock(ctx context.Context, pool *pgxpool.Pool, requestID string, hold time.Duration, stop <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-time.After(time.Duration(500+rand.Intn(1000)) * time.Millisecond):
		}
		tx, err := pool.Begin(ctx)
		if err != nil {
			continue
		}
		if _, err := tx.Exec(ctx, `SELECT id FROM quote_requests WHERE id = $1 FOR UPDATE`, requestID); err == nil {
			select {
			case <-ctx.Done():
			case <-time.After(hold):
			}
		}
		_ = tx.Rollback(context.Background())
	}
}
