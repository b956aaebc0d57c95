package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"quoteflow/agent"
	"quoteflow/appeal"
	"quoteflow/auth"
	"quoteflow/compliance"
	"quoteflow/config"
	"quoteflow/contentpolicy"
	"quoteflow/db"
	"quoteflow/discussion"
	"quoteflow/live"
	"quoteflow/notify"
	"quoteflow/outbox"
	"quoteflow/quote"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fatal := zerolog.New(os.Stderr)
		fatal.Fatal().Err(err).Msg("invalid configuration")
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server exited")
	}
	logger.Info().Msg("server stopped")
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDevelopment() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	}
	return zerolog.New(os.Stdout).
		With().
		Timestamp().
		Logger()
}

func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: 20, MaxConnLifetime: time.Hour})
	if err != nil {
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to PostgreSQL")

	applied, err := db.Migrate(ctx, pool, cfg.MigrationsDir)
	if err != nil {
		return err
	}
	logger.Info().Strs("applied", applied).Msg("migrations completed")

	var redisClient *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return err
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return err
		}
		logger.Info().Msg("connected to Redis")
	} else {
		logger.Warn().Msg("REDIS_URL not set: live updates and status cache disabled")
	}

	detector := contentpolicy.NewDetector()

	ledger := compliance.NewLedger(pool, compliance.NewRepository(pool)).
		WithPolicy(compliance.Policy{
			SuspendThreshold: cfg.SuspendThreshold,
			ExcerptLimit:     cfg.ViolationExcerptLimit,
		}).
		WithLogger(logger.With().Str("component", "compliance").Logger())
	if redisClient != nil {
		ledger = ledger.WithCache(compliance.NewRedisStatusCache(redisClient, cfg.StatusCacheTTL))
	}
	gate := compliance.NewGate(ledger, detector).
		WithLogger(logger.With().Str("component", "gate").Logger())

	authService := auth.NewService(auth.NewRepository(pool), cfg.JWTSecret)
	if cfg.AdminEmail != "" && cfg.AdminPassword != "" {
		if _, err := authService.EnsureAdmin(ctx, cfg.AdminEmail, cfg.AdminPassword, "Administrator"); err != nil {
			return err
		}
	}

	agentService := agent.NewService(agent.NewRepository(pool), gate)
	quoteService := quote.NewService(pool, quote.NewRepository(pool), gate, agentService).
		WithRequestTTL(cfg.RequestTTL).
		WithLogger(logger.With().Str("component", "quote").Logger())
	discussionService := discussion.NewService(pool, discussion.NewRepository(pool), gate, quoteService).
		WithLogger(logger.With().Str("component", "discussion").Logger())
	appealService := appeal.NewService(appeal.NewRepository(pool), ledger).
		WithLogger(logger.With().Str("component", "appeal").Logger())

	var notifier notify.Notifier = notify.NewLogNotifier(logger.With().Str("component", "notify").Logger())
	smtpCfg := notify.SMTPConfig(cfg.SMTP)
	if smtpCfg.Configured() {
		notifier = notify.NewSMTPNotifier(smtpCfg)
	}

	dispatcher := outbox.NewDispatcher(pool, nil, outbox.Options{
		Interval:    cfg.OutboxInterval,
		BatchSize:   cfg.OutboxBatch,
		MaxAttempts: cfg.OutboxMaxAttempts,
	}).WithLogger(logger.With().Str("component", "outbox").Logger())

	notifications := notify.NewEventHandler(notifier, authService, cfg.AppBaseURL).
		WithSupportEmail(cfg.SupportEmail).
		WithLogger(logger.With().Str("component", "notify").Logger())
	for _, topic := range notifications.Topics() {
		dispatcher.Subscribe("notify", topic, notifications)
	}
	systemComments := discussion.NewEventHandler(discussionService)
	for _, topic := range systemComments.Topics() {
		dispatcher.Subscribe("discussion.system_comments", topic, systemComments)
	}

	server := &Server{
		authService:       authService,
		quoteService:      quoteService,
		discussionService: discussionService,
		complianceService: ledger,
		agentService:      agentService,
		appealService:     appealService,
		scanner:           detector,
		webhookSecret:     cfg.PaymentWebhookSecret,
		corsOrigins:       cfg.CORSOrigins,
		logger:            logger,
	}
	if redisClient != nil {
		publisher := live.NewPublisher(redisClient).
			WithLogger(logger.With().Str("component", "live").Logger())
		dispatcher.SubscribeAll("live", publisher)
		server.feed = publisher
	}

	srv := &http.Server{
		Addr:        cfg.Addr,
		Handler:     server.routes(),
		ReadTimeout: 15 * time.Second,
		// No write timeout: event streams stay open.
		IdleTimeout: 60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", cfg.Addr).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return dispatcher.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
