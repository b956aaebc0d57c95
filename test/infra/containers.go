package infra

import (
	"context"
	"fmt"
	"os"

	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

const defaultImage = "postgres:16-alpine"

// PGContainer wraps a throwaway PostgreSQL. A zero value stands for a
// database the test does not own, and terminating it is a no-op.
type PGContainer struct {
	C *postgres.PostgresContainer
}

// StartPostgres16 boots a container and returns its DSN. overrideDSN and then
// STRESS_TEST_PG_DSN take precedence over Docker; STRESS_TEST_PG_IMAGE swaps
// the image.
func StartPostgres16(ctx context.Context, overrideDSN string) (*PGContainer, string, error) {
	if overrideDSN != "" {
		return &PGContainer{}, overrideDSN, nil
	}
	if dsn := os.Getenv("STRESS_TEST_PG_DSN"); dsn != "" {
		return &PGContainer{}, dsn, nil
	}

	image := os.Getenv("STRESS_TEST_PG_IMAGE")
	if image == "" {
		image = defaultImage
	}

	pgC, err := postgres.Run(ctx, image,
		postgres.WithDatabase("quoteflow"),
		postgres.WithUsername("quoteflow"),
		postgres.WithPassword("quoteflow"),
		postgres.BasicWaitStrategies(),
	)
	if err != nil {
		return nil, "", fmt.Errorf("start %s: %w", image, err)
	}

	dsn, err := pgC.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = pgC.Terminate(ctx)
		return nil, "", fmt.Errorf("container dsn: %w", err)
	}
	return &PGContainer{C: pgC}, dsn, nil
}

func (p *PGContainer) Terminate(ctx context.Context) error {
	if p == nil || p.C == nil {
		return nil
	}
	return p.C.Terminate(ctx)
}
