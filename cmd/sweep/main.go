// Command sweep archives requests that expired without agreement. It is
// meant to run from cron; each run drains every expired request.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"quoteflow/agent"
	"quoteflow/compliance"
	"quoteflow/config"
	"quoteflow/db"
	"quoteflow/quote"
)

const batchSize = 100

func main() {
	cfg, err := config.Load()
	if err != nil {
		fatal := zerolog.New(os.Stderr)
		fatal.Fatal().Err(err).Msg("invalid configuration")
	}
	logger := zerolog.New(os.Stdout).With().Timestamp().Str("component", "sweep").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: 4})
	if err != nil {
		logger.Fatal().Err(err).Msg("bootstrap database pool")
	}
	defer pool.Close()

	ledger := compliance.NewLedger(pool, compliance.NewRepository(pool))
	gate := compliance.NewGate(ledger, nil)
	svc := quote.NewService(pool, quote.NewRepository(pool), gate, agent.NewService(agent.NewRepository(pool), gate)).
		WithLogger(logger)

	start := time.Now()
	total, err := sweep(ctx, svc, batchSize)
	if err != nil {
		logger.Fatal().Err(err).Int("archived", total).Msg("sweep failed")
	}
	logger.Info().Int("archived", total).Dur("took", time.Since(start)).Msg("sweep completed")
}

type expirer interface {
	ArchiveExpired(ctx context.Context, limit int) (int, error)
}

// sweep archives batches until one comes back short. A short batch can
// still hold requests skipped because a party acted mid-sweep, so stopping
// there avoids spinning on them.
func sweep(ctx context.Context, svc expirer, limit int) (int, error) {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		n, err := svc.ArchiveExpired(ctx, limit)
		total += n
		if err != nil {
			return total, err
		}
		if n < limit {
			return total, nil
		}
	}
}
