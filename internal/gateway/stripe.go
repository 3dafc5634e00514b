package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	stripe "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/PortNumber53/agency-portal/internal/models"
)

// StripeConfig configures hosted Stripe Checkout.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
}

// sessionCreator is the subset of the Stripe checkout session client used here.
type sessionCreator interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// StripeGateway opens hosted Checkout sessions and verifies Stripe webhooks.
type StripeGateway struct {
	sessions      sessionCreator
	webhookSecret string
	successURL    string
	cancelURL     string
}

// NewStripeGateway creates a gateway backed by the Stripe API.
func NewStripeGateway(cfg StripeConfig) *StripeGateway {
	return newStripeGateway(cfg, &session.Client{
		B:   stripe.GetBackend(stripe.APIBackend),
		Key: cfg.SecretKey,
	})
}

func newStripeGateway(cfg StripeConfig, sessions sessionCreator) *StripeGateway {
	return &StripeGateway{
		sessions:      sessions,
		webhookSecret: cfg.WebhookSecret,
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
	}
}

// Name implements PaymentGateway.
func (g *StripeGateway) Name() models.Gateway { return models.GatewayStripe }

// CreateCheckout opens a one-off payment Checkout session for the plan price.
func (g *StripeGateway) CreateCheckout(ctx context.Context, p CheckoutParams) (*CheckoutSession, error) {
	meta := p.Metadata().Map()

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		CustomerEmail:     stripe.String(p.ContactEmail),
		ClientReferenceID: stripe.String(p.SessionID),
		SuccessURL:        stripe.String(g.successURL),
		CancelURL:         stripe.String(g.cancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(strings.ToLower(p.Plan.Currency)),
					UnitAmount: stripe.Int64(p.Plan.MinorUnits()),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name:        stripe.String(p.Plan.Name),
						Description: stripe.String(lineItemDescription(p)),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{},
	}
	if !p.ExpiresAt.IsZero() {
		params.ExpiresAt = stripe.Int64(p.ExpiresAt.Unix())
	}
	params.Context = ctx
	params.Metadata = meta
	params.LineItems[0].PriceData.ProductData.Metadata = meta
	params.PaymentIntentData.Metadata = meta

	s, err := g.sessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("stripe: create checkout session: %w", err)
	}
	if s.ID == "" || s.URL == "" {
		return nil, errors.New("stripe: create checkout session: missing session id or url in response")
	}

	return &CheckoutSession{
		Gateway:     models.GatewayStripe,
		Reference:   s.ID,
		RedirectURL: s.URL,
	}, nil
}

// ParseWebhook verifies the stripe-signature header with Stripe's own event
// constructor and normalizes the payment events this portal reacts to.
func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (*Event, error) {
	if signature == "" || g.webhookSecret == "" {
		return nil, ErrMissingSignature
	}

	ev, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if isStripeSignatureError(err) {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	out := &Event{
		Gateway:      models.GatewayStripe,
		ID:           ev.ID,
		ProviderType: string(ev.Type),
		Type:         EventIgnored,
	}
	if ev.Data == nil {
		return out, nil
	}

	switch ev.Type {
	case "checkout.session.completed":
		var s stripe.CheckoutSession
		if err := json.Unmarshal(ev.Data.Raw, &s); err != nil {
			return nil, fmt.Errorf("%w: checkout session: %v", ErrMalformedEvent, err)
		}
		out.Type = EventPaymentSucceeded
		fillFromCheckoutSession(out, &s)

	case "invoice.payment_succeeded", "invoice.payment_failed":
		var inv stripe.Invoice
		if err := json.Unmarshal(ev.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("%w: invoice: %v", ErrMalformedEvent, err)
		}
		out.Type = EventPaymentSucceeded
		if ev.Type == "invoice.payment_failed" {
			out.Type = EventPaymentFailed
		}
		fillFromInvoice(out, &inv, ev.Data.Raw)
	}

	return out, nil
}

func fillFromCheckoutSession(out *Event, s *stripe.CheckoutSession) {
	out.OrderRef = s.ID
	out.PaymentID = s.ID
	if s.PaymentIntent != nil && s.PaymentIntent.ID != "" {
		out.PaymentID = s.PaymentIntent.ID
	}
	if s.Customer != nil {
		out.CustomerID = s.Customer.ID
	}
	if s.Subscription != nil {
		out.SubscriptionRef = s.Subscription.ID
	}
	out.Amount = s.AmountTotal
	out.Currency = strings.ToUpper(string(s.Currency))
	out.Metadata = MetadataFromMap(s.Metadata)

	if s.CustomerDetails != nil {
		if out.Metadata.ContactEmail == "" {
			out.Metadata.ContactEmail = s.CustomerDetails.Email
		}
		if out.Metadata.ContactName == "" {
			out.Metadata.ContactName = s.CustomerDetails.Name
		}
		if out.Metadata.ContactPhone == "" {
			out.Metadata.ContactPhone = s.CustomerDetails.Phone
		}
	}
}

// invoiceSubscriptionDetails reads the metadata Stripe copies from a
// subscription onto its invoices.
type invoiceSubscriptionDetails struct {
	SubscriptionDetails struct {
		Metadata map[string]string `json:"metadata"`
	} `json:"subscription_details"`
}

func fillFromInvoice(out *Event, inv *stripe.Invoice, raw json.RawMessage) {
	out.OrderRef = inv.ID
	out.PaymentID = inv.ID
	if inv.PaymentIntent != nil && inv.PaymentIntent.ID != "" {
		out.PaymentID = inv.PaymentIntent.ID
	}
	if inv.Customer != nil {
		out.CustomerID = inv.Customer.ID
	}
	if inv.Subscription != nil {
		out.SubscriptionRef = inv.Subscription.ID
	}
	out.Amount = inv.AmountPaid
	if out.Type == EventPaymentFailed {
		out.Amount = inv.AmountDue
	}
	out.Currency = strings.ToUpper(string(inv.Currency))

	meta := inv.Metadata
	if len(meta) == 0 {
		var details invoiceSubscriptionDetails
		if err := json.Unmarshal(raw, &details); err == nil {
			meta = details.SubscriptionDetails.Metadata
		}
	}
	out.Metadata = MetadataFromMap(meta)
	if out.Metadata.ContactEmail == "" {
		out.Metadata.ContactEmail = inv.CustomerEmail
	}
	if out.Metadata.ContactName == "" {
		out.Metadata.ContactName = inv.CustomerName
	}
}

func isStripeSignatureError(err error) bool {
	return errors.Is(err, webhook.ErrNotSigned) ||
		errors.Is(err, webhook.ErrInvalidHeader) ||
		errors.Is(err, webhook.ErrNoValidSignature) ||
		errors.Is(err, webhook.ErrTooOld)
}
