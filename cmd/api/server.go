package main

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"quoteflow/agent"
	"quoteflow/appeal"
	"quoteflow/auth"
	"quoteflow/compliance"
	"quoteflow/contentpolicy"
	"quoteflow/discussion"
	"quoteflow/live"
	"quoteflow/quote"
)

type AuthService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	GetUserByID(ctx context.Context, userID string) (*auth.User, error)
	VerifyToken(token string) (string, auth.Role, error)
}

type QuoteService interface {
	Create(ctx context.Context, actor quote.Actor, params quote.CreateParams) (quote.Request, error)
	Get(ctx context.Context, viewer quote.Actor, id string) (quote.Request, error)
	List(ctx context.Context, filter quote.Filter) (quote.ListResult, error)
	Propose(ctx context.Context, actor quote.Actor, id, amount string) (quote.Result, error)
	Counter(ctx context.Context, actor quote.Actor, id, amount, reasoning string) (quote.Result, error)
	Accept(ctx context.Context, actor quote.Actor, id string) (quote.Result, error)
	RejectOffer(ctx context.Context, actor quote.Actor, id string) (quote.Result, error)
	Reject(ctx context.Context, actor quote.Actor, id string) (quote.Result, error)
	Dismiss(ctx context.Context, actor quote.Actor, id, reason string) (quote.Result, error)
	Archive(ctx context.Context, actor quote.Actor, id string) (quote.Result, error)
	HandlePaymentOutcome(ctx context.Context, in quote.PaymentOutcome) (quote.Result, error)
}

type DiscussionService interface {
	Post(ctx context.Context, actor quote.Actor, requestID, body string) (discussion.Message, error)
	List(ctx context.Context, viewer quote.Actor, requestID string) ([]discussion.Message, error)
}

type ComplianceService interface {
	Status(ctx context.Context, userID string) (compliance.Standing, error)
	Unsuspend(ctx context.Context, p compliance.AdminParams) error
	ResetViolations(ctx context.Context, p compliance.AdminParams) error
	Violations(ctx context.Context, p compliance.AdminParams, limit int) ([]compliance.Violation, error)
}

type AgentService interface {
	GetByID(ctx context.Context, id string) (agent.Profile, error)
	List(ctx context.Context, filter agent.ListFilter) ([]agent.Profile, error)
	Update(ctx context.Context, params agent.UpdateParams) (agent.Profile, error)
}

type AppealService interface {
	Create(ctx context.Context, userID, message string) (appeal.Record, error)
	Mine(ctx context.Context, userID string) ([]appeal.Record, error)
	List(ctx context.Context, role auth.Role, status appeal.Status) ([]appeal.Record, error)
	Resolve(ctx context.Context, actorID string, role auth.Role, id string, res appeal.Resolution) (appeal.Record, error)
}

type LiveFeed interface {
	Watch(ctx context.Context, requestID string) (<-chan live.Update, error)
}

// Server carries the HTTP handlers' dependencies.
type Server struct {
	authService       AuthService
	quoteService      QuoteService
	discussionService DiscussionService
	complianceService ComplianceService
	agentService      AgentService
	appealService     AppealService
	scanner           contentpolicy.TextScanner
	feed              LiveFeed
	webhookSecret     string
	corsOrigins       []string
	heartbeat         time.Duration
	logger            zerolog.Logger
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.allowedOrigins(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Webhook-Secret"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Use(recordMetrics)

		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/login", s.handleLogin)
		r.Post("/policy/scan", s.handlePolicyScan)
		r.Post("/payments/outcome", s.handlePaymentOutcome)
		r.Get("/agents", s.handleListAgents)
		r.Get("/agents/{id}", s.handleGetAgent)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)

			r.Get("/me", s.handleMe)
			r.Put("/agents/me", s.handleUpdateAgentProfile)
			r.Get("/compliance/me", s.handleComplianceMe)

			r.Post("/quotes", s.handleCreateQuote)
			r.Get("/quotes", s.handleListQuotes)
			r.Route("/quotes/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetQuote)
				r.Post("/propose", s.handlePropose)
				r.Post("/counter", s.handleCounter)
				r.Post("/accept", s.handleAccept)
				r.Post("/reject-offer", s.handleRejectOffer)
				r.Post("/reject", s.handleReject)
				r.Post("/dismiss", s.handleDismiss)
				r.Post("/archive", s.handleArchive)
				r.Get("/messages", s.handleListMessages)
				r.Post("/messages", s.handlePostMessage)
				r.Get("/events", s.handleQuoteEvents)
			})

			r.Get("/appeals", s.handleMyAppeals)
			r.Post("/appeals", s.handleCreateAppeal)

			r.Route("/admin", func(r chi.Router) {
				r.Use(requireRole(auth.RoleAdmin))
				r.Get("/appeals", s.handleListAppeals)
				r.Post("/appeals/{id}/resolve", s.handleResolveAppeal)
				r.Get("/users/{id}/violations", s.handleUserViolations)
				r.Post("/users/{id}/unsuspend", s.handleUnsuspend)
				r.Post("/users/{id}/reset", s.handleResetViolations)
			})
		})
	})

	return r
}

func (s *Server) allowedOrigins() []string {
	if len(s.corsOrigins) == 0 {
		return []string{"*"}
	}
	return s.corsOrigins
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
