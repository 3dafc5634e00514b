package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/PortNumber53/agency-portal/internal/models"
	"github.com/PortNumber53/agency-portal/internal/store"
)

var (
	// ErrInvalidStatus is returned for statuses outside the subscription lifecycle.
	ErrInvalidStatus = errors.New("invalid subscription status")
	// ErrInvalidEndDate is returned when an extension would end before the
	// subscription starts.
	ErrInvalidEndDate = errors.New("end date must not be before the subscription start date")
)

// AdminStore is the persistence behind subscription administration.
type AdminStore interface {
	ListSubscriptions(ctx context.Context, f store.SubscriptionFilter) ([]models.Subscription, error)
	GetSubscriptionByID(ctx context.Context, id string) (*models.Subscription, error)
	UpdateSubscriptionStatus(ctx context.Context, id string, status models.SubscriptionStatus) (*models.Subscription, error)
	ExtendSubscription(ctx context.Context, id string, newEnd time.Time, paymentID string) (*models.Subscription, error)
	ListInvoices(ctx context.Context, subscriptionID string) ([]models.Invoice, error)
	ListClients(ctx context.Context, limit int) ([]models.Client, error)
	GetClientByDomain(ctx context.Context, domain string) (*models.Client, error)
	ExpireLapsed(ctx context.Context, now time.Time, graceDays int) (int64, error)
}

// AdminService exposes operator actions on subscriptions and clients.
type AdminService struct {
	store     AdminStore
	graceDays int
	now       func() time.Time
	logger    *slog.Logger
}

// NewAdminService creates an AdminService. graceDays is how long an expired
// subscription keeps serving after its end date.
func NewAdminService(st AdminStore, graceDays int, logger *slog.Logger) *AdminService {
	if graceDays < 0 {
		graceDays = 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminService{store: st, graceDays: graceDays, now: time.Now, logger: logger}
}

// ListSubscriptions lists subscriptions matching f.
func (s *AdminService) ListSubscriptions(ctx context.Context, f store.SubscriptionFilter) ([]models.Subscription, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, ErrInvalidStatus
	}
	if f.Domain != "" {
		f.Domain = NormalizeDomain(f.Domain)
	}
	return s.store.ListSubscriptions(ctx, f)
}

// Subscription ids are UUIDs; anything else cannot match a row.
func checkSubscriptionID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return store.ErrSubscriptionNotFound
	}
	return nil
}

// Invoices returns the invoices of an existing subscription.
func (s *AdminService) Invoices(ctx context.Context, subscriptionID string) ([]models.Invoice, error) {
	if err := checkSubscriptionID(subscriptionID); err != nil {
		return nil, err
	}
	if _, err := s.store.GetSubscriptionByID(ctx, subscriptionID); err != nil {
		return nil, err
	}
	return s.store.ListInvoices(ctx, subscriptionID)
}

// Clients lists client records.
func (s *AdminService) Clients(ctx context.Context, limit int) ([]models.Client, error) {
	return s.store.ListClients(ctx, limit)
}

// Client returns the client that owns domain.
func (s *AdminService) Client(ctx context.Context, domain string) (*models.Client, error) {
	domain = NormalizeDomain(domain)
	if domain == "" {
		return nil, store.ErrClientNotFound
	}
	return s.store.GetClientByDomain(ctx, domain)
}

// UpdateStatus sets a subscription's status.
func (s *AdminService) UpdateStatus(ctx context.Context, id string, status models.SubscriptionStatus) (*models.Subscription, error) {
	if !status.Valid() {
		return nil, ErrInvalidStatus
	}
	if err := checkSubscriptionID(id); err != nil {
		return nil, err
	}
	sub, err := s.store.UpdateSubscriptionStatus(ctx, id, status)
	if err != nil {
		return nil, err
	}
	s.logger.Info("subscription status updated", "subscription_id", id, "domain", sub.Domain, "status", status)
	return sub, nil
}

// Extend moves a subscription's end date and reactivates it.
func (s *AdminService) Extend(ctx context.Context, id string, newEnd time.Time, paymentID string) (*models.Subscription, error) {
	if err := checkSubscriptionID(id); err != nil {
		return nil, err
	}
	current, err := s.store.GetSubscriptionByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if newEnd.Before(current.StartDate) {
		return nil, ErrInvalidEndDate
	}
	sub, err := s.store.ExtendSubscription(ctx, id, newEnd, paymentID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("subscription extended", "subscription_id", id, "domain", sub.Domain, "end_date", newEnd)
	return sub, nil
}

// ExpireLapsed moves ended ACTIVE subscriptions into their grace period.
func (s *AdminService) ExpireLapsed(ctx context.Context) (int64, error) {
	n, err := s.store.ExpireLapsed(ctx, s.now(), s.graceDays)
	if err != nil {
		return 0, fmt.Errorf("billing: expire lapsed: %w", err)
	}
	s.logger.Info("lapsed subscriptions expired", "count", n, "grace_days", s.graceDays)
	return n, nil
}
