package infra

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/jackc/pgx/v5"
)

const (
	stressDB   = "quoteflow_stress"
	stressRole = "quoteflow_test"
	stressPass = "quoteflow_test"
)

// InitLocalDatabase drops and recreates the stress database on a local
// PostgreSQL, for machines without Docker. PGHOST and PGPORT override the
// loopback default.
func InitLocalDatabase(ctx context.Context) (string, error) {
	host, port := envOr("PGHOST", "127.0.0.1"), envOr("PGPORT", "5432")
	addr := net.JoinHostPort(host, port)
	if !reachable(addr) {
		return "", fmt.Errorf("no postgres listening on %s", addr)
	}

	admin, err := connectAdmin(ctx, addr)
	if err != nil {
		return "", err
	}
	defer admin.Close(ctx)

	role := pgx.Identifier{stressRole}.Sanitize()
	db := pgx.Identifier{stressDB}.Sanitize()
	stmts := []string{
		fmt.Sprintf(`DO $$ BEGIN CREATE ROLE %s WITH LOGIN PASSWORD '%s'; EXCEPTION WHEN duplicate_object THEN NULL; END $$`, role, stressPass),
		fmt.Sprintf(`SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = '%s' AND pid <> pg_backend_pid()`, stressDB),
		"DROP DATABASE IF EXISTS " + db,
		fmt.Sprintf("CREATE DATABASE %s OWNER %s", db, role),
	}
	for _, stmt := range stmts {
		if _, err := admin.Exec(ctx, stmt); err != nil {
			return "", fmt.Errorf("prepare %s: %w", stressDB, err)
		}
	}

	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable", stressRole, stressPass, addr, stressDB), nil
}

// connectAdmin tries the usual superuser spellings of a developer install.
func connectAdmin(ctx context.Context, addr string) (*pgx.Conn, error) {
	users := []string{"postgres", os.Getenv("USER")}
	var lastErr error
	for _, u := range users {
		if u == "" {
			continue
		}
		for _, auth := range []string{u, u + ":postgres"} {
			conn, err := pgx.Connect(ctx, fmt.Sprintf("postgres://%s@%s/postgres?sslmode=disable", auth, addr))
			if err == nil {
				return conn, nil
			}
			lastErr = err
		}
	}
	return nil, fmt.Errorf("connect as superuser: %w", lastErr)
}

func reachable(addr string) bool {
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
