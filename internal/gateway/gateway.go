// Package gateway adapts the supported payment gateways to a single
// PaymentGateway capability: opening checkouts and authenticating webhooks.
package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/PortNumber53/agency-portal/internal/models"
)

var (
	// ErrMissingSignature is returned when a webhook arrives without a signature
	// or the endpoint has no secret configured.
	ErrMissingSignature = errors.New("gateway: missing webhook signature")
	// ErrInvalidSignature is returned when a webhook signature does not match.
	ErrInvalidSignature = errors.New("gateway: invalid webhook signature")
	// ErrMalformedEvent is returned when an authenticated payload cannot be decoded.
	ErrMalformedEvent = errors.New("gateway: malformed webhook event")
	// ErrUnavailable is returned when the gateway API is failing and calls are
	// being short-circuited.
	ErrUnavailable = errors.New("gateway: temporarily unavailable")
)

// PaymentGateway is implemented once per supported gateway and selected at the
// HTTP boundary.
type PaymentGateway interface {
	Name() models.Gateway
	CreateCheckout(ctx context.Context, params CheckoutParams) (*CheckoutSession, error)
	// ParseWebhook authenticates payload against signature and normalizes it.
	// Authentication failures wrap ErrMissingSignature or ErrInvalidSignature.
	ParseWebhook(payload []byte, signature string) (*Event, error)
}

// CheckoutParams describes the checkout to open.
type CheckoutParams struct {
	SessionID      string
	Plan           models.Plan
	Domain         string
	ContactEmail   string
	ContactName    string
	ContactPhone   string
	BillingAddress string
	// ExpiresAt is when the domain reservation lapses. Gateways that can
	// expire their checkout should stop accepting payment by then.
	ExpiresAt      time.Time
}

// Metadata returns the context sent to the gateway and read back by webhooks.
func (p CheckoutParams) Metadata() Metadata {
	return Metadata{
		Domain:       p.Domain,
		PlanID:       p.Plan.ID,
		PlanType:     string(p.Plan.BillingPeriod),
		ContactEmail: p.ContactEmail,
		ContactName:  p.ContactName,
		ContactPhone: p.ContactPhone,
		SessionID:    p.SessionID,
	}
}

// CheckoutSession is an opened gateway checkout. Hosted gateways set
// RedirectURL; embedded gateways set WidgetOptions.
type CheckoutSession struct {
	Gateway       models.Gateway
	Reference     string
	RedirectURL   string
	WidgetOptions *WidgetOptions
}

// WidgetOptions is what the browser-side checkout widget needs to open an
// embedded payment form.
type WidgetOptions struct {
	Key         string            `json:"key"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	OrderID     string            `json:"order_id"`
	Prefill     WidgetPrefill     `json:"prefill"`
	Notes       map[string]string `json:"notes"`
	// Timeout closes the widget after this many seconds.
	Timeout     int64             `json:"timeout,omitempty"`
}

// WidgetPrefill pre-populates the customer's contact details.
type WidgetPrefill struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Contact string `json:"contact,omitempty"`
}

// EventType is the normalized meaning of a gateway event.
type EventType string

const (
	EventPaymentSucceeded EventType = "payment_succeeded"
	EventPaymentFailed    EventType = "payment_failed"
	EventIgnored          EventType = "ignored"
)

// Event is an authenticated, normalized gateway notification.
type Event struct {
	Gateway         models.Gateway
	ID              string
	ProviderType    string
	Type            EventType
	PaymentID       string
	CustomerID      string
	SubscriptionRef string
	OrderRef        string
	Amount          int64
	Currency        string
	Metadata        Metadata
}

const (
	metaDomain       = "domain"
	metaPlanID       = "planId"
	metaPlanType     = "planType"
	metaContactEmail = "contactEmail"
	metaContactName  = "contactName"
	metaContactPhone = "contactPhone"
	metaSessionID    = "sessionId"
)

// Metadata is the checkout context that round-trips through the gateway.
type Metadata struct {
	Domain       string
	PlanID       string
	PlanType     string
	ContactEmail string
	ContactName  string
	ContactPhone string
	SessionID    string
}

// Map encodes m using the wire keys, skipping empty values.
func (m Metadata) Map() map[string]string {
	out := make(map[string]string, 7)
	set := func(k, v string) {
		if v != "" {
			out[k] = v
		}
	}
	set(metaDomain, m.Domain)
	set(metaPlanID, m.PlanID)
	set(metaPlanType, m.PlanType)
	set(metaContactEmail, m.ContactEmail)
	set(metaContactName, m.ContactName)
	set(metaContactPhone, m.ContactPhone)
	set(metaSessionID, m.SessionID)
	return out
}

// MetadataFromMap decodes metadata written by Map.
func MetadataFromMap(in map[string]string) Metadata {
	return Metadata{
		Domain:       in[metaDomain],
		PlanID:       in[metaPlanID],
		PlanType:     in[metaPlanType],
		ContactEmail: in[metaContactEmail],
		ContactName:  in[metaContactName],
		ContactPhone: in[metaContactPhone],
		SessionID:    in[metaSessionID],
	}
}

func lineItemDescription(p CheckoutParams) string {
	return p.Plan.Name + " for " + p.Domain + " (plan " + p.Plan.ID + ")"
}
