package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"

	"github.com/PortNumber53/agency-portal/internal/billing"
	"github.com/PortNumber53/agency-portal/internal/catalog"
	"github.com/PortNumber53/agency-portal/internal/config"
	"github.com/PortNumber53/agency-portal/internal/gateway"
	"github.com/PortNumber53/agency-portal/internal/httpserver"
	"github.com/PortNumber53/agency-portal/internal/logger"
	"github.com/PortNumber53/agency-portal/internal/migrations"
	"github.com/PortNumber53/agency-portal/internal/models"
	"github.com/PortNumber53/agency-portal/internal/store"
	"github.com/PortNumber53/agency-portal/internal/worker"
)

func main() {
	// Best-effort: load environment variables from .env-style files in local
	// development. These calls are safe to ignore in production environments.
	_ = godotenv.Load(
		"../.env",
		".env",
	)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	log := logger.Init(cfg.Log)

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	logDBTarget(log, "primary", cfg.DatabaseURL)
	configureDB(db)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		log.Error("failed to ping database", "error", err)
		os.Exit(1)
	}

	if err := runMigrationsWithDirtyFix(log, db, "primary"); err != nil {
		log.Error("failed to apply database migrations", "error", err)
		os.Exit(1)
	}

	st, err := store.New(db)
	if err != nil {
		log.Error("failed to create store", "error", err)
		os.Exit(1)
	}

	plans := catalog.Default()
	deps := httpserver.Deps{
		DB:     st,
		Plans:  plans,
		Status: billing.NewStatusService(st),
		Logger: log,
	}

	var gateways []gateway.PaymentGateway
	if cfg.Stripe.Enabled() {
		gw := gateway.NewStripeGateway(gateway.StripeConfig{
			SecretKey:     cfg.Stripe.SecretKey,
			WebhookSecret: cfg.Stripe.WebhookSecret,
			SuccessURL:    cfg.Stripe.SuccessURL,
			CancelURL:     cfg.Stripe.CancelURL,
		})
		gateways = append(gateways, gw)
		deps.StripeWebhooks = gw
	} else {
		log.Warn("stripe disabled", "reason", "STRIPE_SECRET_KEY or STRIPE_WEBHOOK_SECRET not set")
	}
	if cfg.Razorpay.Enabled() {
		gw := gateway.NewRazorpayGateway(gateway.RazorpayConfig{
			KeyID:         cfg.Razorpay.KeyID,
			KeySecret:     cfg.Razorpay.KeySecret,
			WebhookSecret: cfg.Razorpay.WebhookSecret,
			BusinessName:  cfg.BusinessName,
			Logger:        log,
		})
		gateways = append(gateways, gw)
		deps.RazorpayWebhooks = gw
	} else {
		log.Warn("razorpay disabled", "reason", "RAZORPAY_KEY_ID, RAZORPAY_KEY_SECRET or RAZORPAY_WEBHOOK_SECRET not set")
	}

	var enabled []models.Gateway
	if len(gateways) > 0 {
		checkout := billing.NewCheckoutService(st, plans, cfg.CheckoutSessionTTL, log, gateways...)
		enabled = checkout.Gateways()
		deps.Checkout = checkout
		deps.Webhooks = billing.NewWebhookProcessor(st, plans, log)
	}

	admin := billing.NewAdminService(st, cfg.GracePeriodDays, log)
	deps.Admin = admin

	if cfg.SweepInterval > 0 {
		w := worker.New(worker.Config{Interval: cfg.SweepInterval, RunOnStart: true}, log)
		worker.RegisterSweepTasks(w, admin, st, log)
		w.SetInstrumentation(worker.SweepInstrumentation(w, log))
		deps.Worker = w
	}

	srv := httpserver.New(cfg, deps)

	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-shutdownCtx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
	}()

	log.Info("backend starting", "addr", cfg.ServerAddress, "gateways", enabled, "checkout_ttl", cfg.CheckoutSessionTTL)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func configureDB(db *sql.DB) {
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
}

func runMigrationsWithDirtyFix(log *slog.Logger, db *sql.DB, name string) error {
	err := migrations.Up(db)
	if err == nil || !migrations.IsDirty(err) {
		return err
	}

	log.Warn("dirty database detected, attempting to fix", "db", name, "error", err)
	if fixErr := migrations.FixDirtyDatabase(db); fixErr != nil {
		log.Error("failed to fix dirty database", "db", name, "error", fixErr)
		return err
	}
	return migrations.Up(db)
}

func logDBTarget(log *slog.Logger, name, dsn string) {
	// Avoid logging secrets: only log hostname + database path.
	u, err := url.Parse(dsn)
	if err != nil {
		log.Info("database configured", "db", name, "dsn_error", err)
		return
	}
	log.Info("database configured", "db", name, "host", u.Hostname(), "database", strings.TrimPrefix(u.Path, "/"))
}
