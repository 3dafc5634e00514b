package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripe "github.com/stripe/stripe-go/v76"

	"github.com/PortNumber53/agency-portal/internal/models"
)

const testStripeSecret = "whsec_unit_test"

type fakeSessions struct {
	params *stripe.CheckoutSessionParams
	result *stripe.CheckoutSession
	err    error
}

func (f *fakeSessions) New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error) {
	f.params = params
	return f.result, f.err
}

func stripeSignatureHeader(payload []byte, secret string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.%s", ts.Unix(), payload)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func testPlan() models.Plan {
	return models.Plan{
		ID:            "business-yearly",
		Name:          "Business Care (Annual)",
		BillingPeriod: models.BillingYearly,
		Price:         decimal.RequireFromString("790.00"),
		Currency:      "USD",
	}
}

func TestStripeCreateCheckout(t *testing.T) {
	fake := &fakeSessions{result: &stripe.CheckoutSession{ID: "cs_test_1", URL: "https://checkout.stripe.com/c/pay/cs_test_1"}}
	g := newStripeGateway(StripeConfig{SuccessURL: "https://agency.test/ok", CancelURL: "https://agency.test/cancel"}, fake)

	expires := time.Date(2025, 1, 31, 12, 45, 0, 0, time.UTC)
	sess, err := g.CreateCheckout(context.Background(), CheckoutParams{
		SessionID:    "sess-1",
		Plan:         testPlan(),
		Domain:       "example.com",
		ContactEmail: "owner@example.com",
		ContactName:  "Owner",
		ExpiresAt:    expires,
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", sess.Reference)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test_1", sess.RedirectURL)
	assert.Nil(t, sess.WidgetOptions)

	require.NotNil(t, fake.params)
	item := fake.params.LineItems[0]
	assert.Equal(t, int64(79000), *item.PriceData.UnitAmount)
	assert.Equal(t, "usd", *item.PriceData.Currency)
	assert.Contains(t, *item.PriceData.ProductData.Description, "example.com")
	assert.Contains(t, *item.PriceData.ProductData.Description, "business-yearly")
	assert.Equal(t, "example.com", fake.params.Metadata["domain"])
	assert.Equal(t, "business-yearly", fake.params.Metadata["planId"])
	assert.Equal(t, "yearly", fake.params.Metadata["planType"])
	assert.Equal(t, "owner@example.com", *fake.params.CustomerEmail)
	require.NotNil(t, fake.params.ExpiresAt)
	assert.Equal(t, expires.Unix(), *fake.params.ExpiresAt)
}

func TestStripeCreateCheckoutError(t *testing.T) {
	g := newStripeGateway(StripeConfig{}, &fakeSessions{err: errors.New("card_declined")})

	_, err := g.CreateCheckout(context.Background(), CheckoutParams{Plan: testPlan(), Domain: "example.com"})
	require.Error(t, err)
}

func TestStripeCreateCheckoutWithoutExpiry(t *testing.T) {
	fake := &fakeSessions{result: &stripe.CheckoutSession{ID: "cs_test_2", URL: "https://checkout.stripe.com/c/pay/cs_test_2"}}
	g := newStripeGateway(StripeConfig{}, fake)

	_, err := g.CreateCheckout(context.Background(), CheckoutParams{Plan: testPlan(), Domain: "example.com"})
	require.NoError(t, err)
	assert.Nil(t, fake.params.ExpiresAt)
}

const checkoutCompletedPayload = `{
  "id": "evt_1",
  "object": "event",
  "type": "checkout.session.completed",
  "data": {
    "object": {
      "id": "cs_test_1",
      "object": "checkout.session",
      "amount_total": 79000,
      "currency": "usd",
      "customer": "cus_1",
      "payment_intent": "pi_1",
      "customer_details": {"email": "owner@example.com", "name": "Owner", "phone": "+15550100"},
      "metadata": {"domain": "example.com", "planId": "business-yearly", "planType": "yearly"}
    }
  }
}`

func TestStripeParseWebhookCheckoutCompleted(t *testing.T) {
	g := newStripeGateway(StripeConfig{WebhookSecret: testStripeSecret}, nil)
	payload := []byte(checkoutCompletedPayload)

	ev, err := g.ParseWebhook(payload, stripeSignatureHeader(payload, testStripeSecret, time.Now()))
	require.NoError(t, err)

	assert.Equal(t, EventPaymentSucceeded, ev.Type)
	assert.Equal(t, "checkout.session.completed", ev.ProviderType)
	assert.Equal(t, "evt_1", ev.ID)
	assert.Equal(t, "pi_1", ev.PaymentID)
	assert.Equal(t, "cus_1", ev.CustomerID)
	assert.Equal(t, int64(79000), ev.Amount)
	assert.Equal(t, "USD", ev.Currency)
	assert.Equal(t, "example.com", ev.Metadata.Domain)
	assert.Equal(t, "business-yearly", ev.Metadata.PlanID)
	assert.Equal(t, "owner@example.com", ev.Metadata.ContactEmail)
	assert.Equal(t, "+15550100", ev.Metadata.ContactPhone)
}

func TestStripeParseWebhookInvoiceFailed(t *testing.T) {
	g := newStripeGateway(StripeConfig{WebhookSecret: testStripeSecret}, nil)
	payload := []byte(`{"id":"evt_2","object":"event","type":"invoice.payment_failed","data":{"object":{"id":"in_1","object":"invoice","amount_due":7900,"currency":"usd","customer":"cus_1","subscription_details":{"metadata":{"domain":"example.com","planId":"business-monthly"}}}}}`)

	ev, err := g.ParseWebhook(payload, stripeSignatureHeader(payload, testStripeSecret, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, EventPaymentFailed, ev.Type)
	assert.Equal(t, int64(7900), ev.Amount)
	assert.Equal(t, "in_1", ev.PaymentID)
	assert.Equal(t, "example.com", ev.Metadata.Domain)
}

func TestStripeParseWebhookIgnoresOtherTypes(t *testing.T) {
	g := newStripeGateway(StripeConfig{WebhookSecret: testStripeSecret}, nil)
	payload := []byte(`{"id":"evt_3","object":"event","type":"customer.created","data":{"object":{"id":"cus_1","object":"customer"}}}`)

	ev, err := g.ParseWebhook(payload, stripeSignatureHeader(payload, testStripeSecret, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, EventIgnored, ev.Type)
}

func TestStripeParseWebhookRejectsBadSignatures(t *testing.T) {
	g := newStripeGateway(StripeConfig{WebhookSecret: testStripeSecret}, nil)
	payload := []byte(checkoutCompletedPayload)

	_, err := g.ParseWebhook(payload, "")
	assert.ErrorIs(t, err, ErrMissingSignature)

	_, err = g.ParseWebhook(payload, stripeSignatureHeader(payload, "whsec_other", time.Now()))
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = g.ParseWebhook(payload, stripeSignatureHeader(payload, testStripeSecret, time.Now().Add(-time.Hour)))
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = g.ParseWebhook(payload, "garbage")
	assert.ErrorIs(t, err, ErrInvalidSignature)

	tampered := append([]byte(nil), payload...)
	tampered[len(tampered)-3] = ' '
	_, err = g.ParseWebhook(tampered, stripeSignatureHeader(payload, testStripeSecret, time.Now()))
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestStripeParseWebhookWithoutSecret(t *testing.T) {
	g := newStripeGateway(StripeConfig{}, nil)
	payload := []byte(checkoutCompletedPayload)

	_, err := g.ParseWebhook(payload, stripeSignatureHeader(payload, "", time.Now()))
	assert.ErrorIs(t, err, ErrMissingSignature)
}
