package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/PortNumber53/agency-portal/internal/config"
	"github.com/PortNumber53/agency-portal/internal/handlers"
	"github.com/PortNumber53/agency-portal/internal/middleware"
	"github.com/PortNumber53/agency-portal/internal/worker"
)

// Deps are the services the HTTP layer routes to. Nil webhook verifiers
// leave their route unregistered; a nil Admin or an empty admin token
// leaves the admin API unmounted.
type Deps struct {
	DB       handlers.Pinger
	Plans    handlers.PlanLister
	Checkout handlers.CheckoutStarter
	Status   handlers.StatusChecker
	Webhooks handlers.EventProcessor
	Admin    handlers.SubscriptionAdmin

	StripeWebhooks   handlers.WebhookVerifier
	RazorpayWebhooks handlers.WebhookVerifier

	Worker *worker.Worker
	Logger *slog.Logger
}

// Server wraps an http.Server with convenience helpers for startup/shutdown.
type Server struct {
	httpServer *http.Server
	worker     *worker.Worker
	logger     *slog.Logger
}

// New constructs an HTTP server using the provided configuration and services.
func New(cfg config.Config, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	router := chi.NewRouter()
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(middleware.RequestLogger(logger))
	router.Use(chimw.Recoverer)

	var sweeper handlers.StatsReporter
	if deps.Worker != nil {
		sweeper = deps.Worker
	}
	router.Get("/healthz", handlers.Health(deps.DB, sweeper))

	router.Route("/api", func(r chi.Router) {
		if deps.Plans != nil {
			r.Get("/plans", handlers.ListPlans(deps.Plans))
		}
		if deps.Checkout != nil {
			r.Post("/payments/create-session", handlers.CreatePaymentSession(deps.Checkout, logger))
		}
		if deps.Status != nil {
			r.Get("/subscription/check", handlers.CheckSubscription(deps.Status, logger))
			r.Post("/subscription/check", handlers.CheckSubscriptions(deps.Status, logger))
		}

		if deps.Webhooks != nil {
			if deps.StripeWebhooks != nil {
				r.Post("/webhooks/stripe", handlers.Webhook(deps.StripeWebhooks, handlers.StripeSignatureHeader, deps.Webhooks, logger))
			}
			if deps.RazorpayWebhooks != nil {
				r.Post("/webhooks/razorpay", handlers.Webhook(deps.RazorpayWebhooks, handlers.RazorpaySignatureHeader, deps.Webhooks, logger))
			}
		}

		if deps.Admin != nil && cfg.AdminToken != "" {
			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.AdminAuth(cfg.AdminToken))
				handlers.NewAdminHandler(deps.Admin, logger).RegisterRoutes(r)
			})
		} else {
			logger.Info("admin API disabled", "reason", "ADMIN_API_TOKEN not set")
		}
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{httpServer: srv, worker: deps.Worker, logger: logger}
}

// Start begins serving HTTP traffic and starts the worker.
func (s *Server) Start() error {
	if s.worker != nil {
		s.logger.Info("starting sweep worker", "tasks", s.worker.Tasks())
		s.worker.Start(context.Background())
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server and worker.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.worker != nil {
		if err := s.worker.Stop(ctx); err != nil {
			s.logger.Warn("worker shutdown error", "error", err)
		}
	}
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
