package billing

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/PortNumber53/agency-portal/internal/gateway"
	"github.com/PortNumber53/agency-portal/internal/models"
	"github.com/PortNumber53/agency-portal/internal/store"
)

// PaymentRecorder persists a successful payment.
type PaymentRecorder interface {
	RecordPayment(ctx context.Context, rec store.PaymentRecord) error
}

// Outcome is what processing a webhook event did.
type Outcome string

const (
	OutcomeRecorded  Outcome = "recorded"
	OutcomeConflict  Outcome = "conflict"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeDropped   Outcome = "dropped"
	OutcomeFailed    Outcome = "payment_failed"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeError     Outcome = "error"
)

// WebhookProcessor applies authenticated gateway events to billing state.
type WebhookProcessor struct {
	store  PaymentRecorder
	plans  PlanLookup
	now    func() time.Time
	logger *slog.Logger
}

// NewWebhookProcessor creates a processor.
func NewWebhookProcessor(st PaymentRecorder, plans PlanLookup, logger *slog.Logger) *WebhookProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookProcessor{store: st, plans: plans, now: time.Now, logger: logger}
}

// Process applies ev. Errors are logged rather than returned so the gateway
// always gets an acknowledgement for an authenticated event.
func (p *WebhookProcessor) Process(ctx context.Context, ev *gateway.Event) Outcome {
	log := p.logger.With("gateway", ev.Gateway, "event_id", ev.ID, "event_type", ev.ProviderType)

	switch ev.Type {
	case gateway.EventPaymentSucceeded:
		return p.paymentSucceeded(ctx, ev, log)
	case gateway.EventPaymentFailed:
		// No state change on failure; dunning is not implemented.
		log.Warn("payment failed", "domain", ev.Metadata.Domain, "payment_id", ev.PaymentID)
		return OutcomeFailed
	default:
		log.Info("webhook event ignored")
		return OutcomeIgnored
	}
}

func (p *WebhookProcessor) paymentSucceeded(ctx context.Context, ev *gateway.Event, log *slog.Logger) Outcome {
	meta := ev.Metadata
	domain := NormalizeDomain(meta.Domain)
	if domain == "" || meta.PlanID == "" {
		log.Error("payment event missing checkout metadata; dropping", "payment_id", ev.PaymentID)
		return OutcomeDropped
	}
	plan, ok := p.plans.Plan(meta.PlanID)
	if !ok {
		log.Error("payment event references unknown plan; dropping", "plan_id", meta.PlanID, "domain", domain)
		return OutcomeDropped
	}
	if ev.PaymentID == "" {
		log.Error("payment event has no payment id; dropping", "domain", domain)
		return OutcomeDropped
	}

	now := p.now()
	services := append([]string(nil), plan.Services...)
	sub := &models.Subscription{
		Domain:                domain,
		PlanID:                plan.ID,
		BillingPeriod:         plan.BillingPeriod,
		StartDate:             now,
		EndDate:               PeriodEnd(now, plan.BillingPeriod),
		Status:                models.StatusActive,
		Services:              services,
		Gateway:               ev.Gateway,
		GatewayCustomerID:     ev.CustomerID,
		GatewaySubscriptionID: ev.SubscriptionRef,
		GatewayPaymentID:      ev.PaymentID,
	}

	amount, currency := plan.Price, plan.Currency
	if ev.Amount > 0 && ev.Currency != "" {
		currency = strings.ToUpper(ev.Currency)
		amount = models.FromMinorUnits(ev.Amount, currency)
	}
	paidAt := now
	inv := &models.Invoice{
		Domain:            domain,
		Amount:            amount,
		Currency:          currency,
		Status:            models.InvoicePaid,
		DueDate:           now,
		PaidAt:            &paidAt,
		Gateway:           ev.Gateway,
		GatewayPaymentID:  ev.PaymentID,
		GatewayCustomerID: ev.CustomerID,
	}

	rec := store.PaymentRecord{Subscription: sub, Invoice: inv, GatewayRef: ev.OrderRef}
	if _, err := uuid.Parse(meta.SessionID); err == nil {
		rec.SessionID = meta.SessionID
	}

	if err := p.store.RecordPayment(ctx, rec); err != nil {
		if errors.Is(err, store.ErrDuplicatePayment) {
			log.Info("payment already recorded", "payment_id", ev.PaymentID, "domain", domain)
			return OutcomeDuplicate
		}
		log.Error("record payment failed", "payment_id", ev.PaymentID, "domain", domain, "error", err)
		return OutcomeError
	}

	if sub.SupersededBy != nil {
		// Paid, but a different checkout already bought this period.
		log.Warn("payment conflicts with current subscription; needs refund or manual extension",
			"domain", domain,
			"payment_id", ev.PaymentID,
			"subscription_id", sub.ID,
			"current_subscription_id", *sub.SupersededBy,
			"invoice_number", inv.InvoiceNumber,
		)
		return OutcomeConflict
	}

	log.Info("subscription activated",
		"domain", domain,
		"plan_id", plan.ID,
		"subscription_id", sub.ID,
		"invoice_number", inv.InvoiceNumber,
		"end_date", sub.EndDate,
	)
	return OutcomeRecorded
}
