// Package billing implements the portal's billing operations: opening
// checkouts, applying gateway payment events, and answering whether a
// domain's subscription is currently valid.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/PortNumber53/agency-portal/internal/gateway"
	"github.com/PortNumber53/agency-portal/internal/models"
	"github.com/PortNumber53/agency-portal/internal/store"
)

// Hosted checkouts must stay open between 30 minutes and 24 hours. The extra
// minute covers the time spent before the gateway call.
const (
	defaultSessionTTL = 45 * time.Minute
	minSessionTTL     = 31 * time.Minute
	maxSessionTTL     = 24 * time.Hour
)

var (
	// ErrMissingFields is returned when a required checkout field is blank.
	ErrMissingFields = errors.New("missing required fields")
	// ErrInvalidPlan is returned for plan ids the catalog does not know.
	ErrInvalidPlan = errors.New("invalid plan")
	// ErrUnsupportedGateway is returned when the requested gateway is not enabled.
	ErrUnsupportedGateway = errors.New("unsupported payment gateway")
	// ErrActiveSubscription is returned when the domain already has a valid
	// subscription.
	ErrActiveSubscription = store.ErrActiveSubscription
	// ErrCheckoutInProgress is returned while another buyer holds an open
	// checkout for the domain.
	ErrCheckoutInProgress = store.ErrCheckoutInProgress
)

// PlanLookup resolves plan ids. *catalog.Catalog satisfies it.
type PlanLookup interface {
	Plan(id string) (models.Plan, bool)
}

// CheckoutStore is the persistence the checkout flow needs.
type CheckoutStore interface {
	ReserveCheckout(ctx context.Context, sess *models.PaymentSession) error
	AttachGatewayReference(ctx context.Context, sessionID, ref string) error
	AbandonCheckout(ctx context.Context, sessionID string) error
	CreateClientIfMissing(ctx context.Context, c *models.Client) (bool, error)
}

// CheckoutRequest is the buyer's input for a new checkout.
type CheckoutRequest struct {
	Domain         string         `json:"domain" validate:"required"`
	ContactEmail   string         `json:"contactEmail" validate:"required"`
	ContactName    string         `json:"contactName" validate:"required"`
	ContactPhone   string         `json:"contactPhone"`
	BillingAddress string         `json:"billingAddress"`
	PlanID         string         `json:"planId" validate:"required"`
	Gateway        models.Gateway `json:"gateway" validate:"required"`
}

func (r *CheckoutRequest) normalize() {
	r.Domain = NormalizeDomain(r.Domain)
	r.ContactEmail = strings.TrimSpace(r.ContactEmail)
	r.ContactName = strings.TrimSpace(r.ContactName)
	r.ContactPhone = strings.TrimSpace(r.ContactPhone)
	r.BillingAddress = strings.TrimSpace(r.BillingAddress)
	r.PlanID = strings.TrimSpace(r.PlanID)
	r.Gateway = models.Gateway(strings.ToLower(strings.TrimSpace(string(r.Gateway))))
}

// CheckoutResult is an opened checkout.
type CheckoutResult struct {
	SessionID     string
	Gateway       models.Gateway
	Reference     string
	RedirectURL   string
	WidgetOptions *gateway.WidgetOptions
}

// CheckoutService opens gateway checkouts for catalog plans.
type CheckoutService struct {
	store    CheckoutStore
	plans    PlanLookup
	gateways map[models.Gateway]gateway.PaymentGateway
	validate *validator.Validate
	ttl      time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewCheckoutService wires a checkout service. Only the given gateways can be
// selected by buyers. A zero ttl uses the default; others are clamped to what
// hosted checkouts accept.
func NewCheckoutService(st CheckoutStore, plans PlanLookup, ttl time.Duration, logger *slog.Logger, gateways ...gateway.PaymentGateway) *CheckoutService {
	switch {
	case ttl <= 0:
		ttl = defaultSessionTTL
	case ttl < minSessionTTL:
		ttl = minSessionTTL
	case ttl > maxSessionTTL:
		ttl = maxSessionTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	byName := make(map[models.Gateway]gateway.PaymentGateway, len(gateways))
	for _, g := range gateways {
		byName[g.Name()] = g
	}
	return &CheckoutService{
		store:    st,
		plans:    plans,
		gateways: byName,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		ttl:      ttl,
		now:      time.Now,
		logger:   logger,
	}
}

// Gateways lists the enabled gateway names.
func (s *CheckoutService) Gateways() []models.Gateway {
	names := make([]models.Gateway, 0, len(s.gateways))
	for _, name := range []models.Gateway{models.GatewayStripe, models.GatewayRazorpay} {
		if _, ok := s.gateways[name]; ok {
			names = append(names, name)
		}
	}
	return names
}

// Start validates req, reserves the domain, and opens a gateway checkout.
// Nothing is sent to a gateway when the domain already has a valid
// subscription or another buyer is mid-checkout.
func (s *CheckoutService) Start(ctx context.Context, req CheckoutRequest) (*CheckoutResult, error) {
	req.normalize()
	if err := s.validate.Struct(req); err != nil {
		return nil, ErrMissingFields
	}

	plan, ok := s.plans.Plan(req.PlanID)
	if !ok {
		return nil, ErrInvalidPlan
	}

	gw, ok := s.gateways[req.Gateway]
	if !ok {
		return nil, ErrUnsupportedGateway
	}

	sess := &models.PaymentSession{
		ID:           uuid.NewString(),
		Domain:       req.Domain,
		PlanID:       plan.ID,
		Gateway:      gw.Name(),
		ContactEmail: req.ContactEmail,
		ExpiresAt:    s.now().Add(s.ttl),
	}
	if err := s.store.ReserveCheckout(ctx, sess); err != nil {
		return nil, err
	}

	created, err := s.store.CreateClientIfMissing(ctx, &models.Client{
		Domain:  req.Domain,
		Name:    req.ContactName,
		Email:   req.ContactEmail,
		Phone:   req.ContactPhone,
		Address: req.BillingAddress,
		Active:  true,
	})
	if err != nil {
		s.release(ctx, sess.ID)
		return nil, fmt.Errorf("billing: create client: %w", err)
	}
	if created {
		s.logger.Info("client created", "domain", req.Domain)
	}

	opened, err := gw.CreateCheckout(ctx, gateway.CheckoutParams{
		SessionID:      sess.ID,
		Plan:           plan,
		Domain:         req.Domain,
		ContactEmail:   req.ContactEmail,
		ContactName:    req.ContactName,
		ContactPhone:   req.ContactPhone,
		BillingAddress: req.BillingAddress,
		ExpiresAt:      sess.ExpiresAt,
	})
	if err != nil {
		s.release(ctx, sess.ID)
		return nil, fmt.Errorf("billing: open %s checkout: %w", gw.Name(), err)
	}

	if err := s.store.AttachGatewayReference(ctx, sess.ID, opened.Reference); err != nil {
		// Webhooks carry the session id in metadata, so the payment can
		// still be matched.
		s.logger.Warn("attach gateway reference failed", "session_id", sess.ID, "reference", opened.Reference, "error", err)
	}

	s.logger.Info("checkout opened",
		"domain", req.Domain,
		"plan_id", plan.ID,
		"gateway", gw.Name(),
		"session_id", sess.ID,
		"reference", opened.Reference,
	)

	return &CheckoutResult{
		SessionID:     sess.ID,
		Gateway:       gw.Name(),
		Reference:     opened.Reference,
		RedirectURL:   opened.RedirectURL,
		WidgetOptions: opened.WidgetOptions,
	}, nil
}

func (s *CheckoutService) release(ctx context.Context, sessionID string) {
	if err := s.store.AbandonCheckout(context.WithoutCancel(ctx), sessionID); err != nil {
		s.logger.Warn("release checkout reservation failed", "session_id", sessionID, "error", err)
	}
}

// IsClientError reports whether err is caused by the buyer's input or the
// domain's billing state rather than a system failure.
func IsClientError(err error) bool {
	return errors.Is(err, ErrMissingFields) ||
		errors.Is(err, ErrInvalidPlan) ||
		errors.Is(err, ErrUnsupportedGateway) ||
		errors.Is(err, ErrActiveSubscription) ||
		errors.Is(err, ErrCheckoutInProgress)
}
