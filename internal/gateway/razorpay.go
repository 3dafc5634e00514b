package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/PortNumber53/agency-portal/internal/models"
)

const defaultRazorpayBaseURL = "https://api.razorpay.com/v1"

// RazorpayConfig configures Razorpay Orders and the embedded checkout widget.
type RazorpayConfig struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	BusinessName  string
	// BaseURL overrides the API endpoint; empty uses the production API.
	BaseURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// RazorpayGateway wraps Razorpay REST calls using the API directly. Outbound
// calls go through a circuit breaker so a failing API fails fast.
type RazorpayGateway struct {
	keyID         string
	keySecret     string
	webhookSecret string
	businessName  string
	baseURL       string
	httpClient    *http.Client
	breaker       *gobreaker.CircuitBreaker[map[string]any]
}

// NewRazorpayGateway creates a Razorpay gateway.
func NewRazorpayGateway(cfg RazorpayConfig) *RazorpayGateway {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultRazorpayBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	breaker := gobreaker.NewCircuitBreaker[map[string]any](gobreaker.Settings{
		Name:        "razorpay",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			// Client errors mean the API is up.
			var apiErr *RazorpayAPIError
			return err == nil || (errors.As(err, &apiErr) && apiErr.StatusCode < 500)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})

	return &RazorpayGateway{
		keyID:         cfg.KeyID,
		keySecret:     cfg.KeySecret,
		webhookSecret: cfg.WebhookSecret,
		businessName:  cfg.BusinessName,
		baseURL:       strings.TrimRight(baseURL, "/"),
		httpClient:    httpClient,
		breaker:       breaker,
	}
}

// RazorpayAPIError is a non-2xx response from the Razorpay API.
type RazorpayAPIError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *RazorpayAPIError) Error() string {
	return fmt.Sprintf("razorpay API error (%d): %s %s", e.StatusCode, e.Code, e.Description)
}

// Name implements PaymentGateway.
func (g *RazorpayGateway) Name() models.Gateway { return models.GatewayRazorpay }

// CreateCheckout creates a Razorpay order and returns the options the
// checkout widget needs to collect payment for it.
func (g *RazorpayGateway) CreateCheckout(ctx context.Context, p CheckoutParams) (*CheckoutSession, error) {
	amount := p.Plan.MinorUnits()
	currency := strings.ToUpper(p.Plan.Currency)
	notes := p.Metadata().Map()

	body := map[string]any{
		"amount":   amount,
		"currency": currency,
		"receipt":  receiptFor(p.SessionID),
		"notes":    notes,
	}

	resp, err := g.post(ctx, "/orders", body)
	if err != nil {
		return nil, fmt.Errorf("razorpay: create order: %w", err)
	}

	orderID, _ := resp["id"].(string)
	if orderID == "" {
		return nil, errors.New("razorpay: create order: missing order ID in response")
	}

	return &CheckoutSession{
		Gateway:   models.GatewayRazorpay,
		Reference: orderID,
		WidgetOptions: &WidgetOptions{
			Key:         g.keyID,
			Amount:      amount,
			Currency:    currency,
			Name:        g.businessName,
			Description: lineItemDescription(p),
			OrderID:     orderID,
			Prefill: WidgetPrefill{
				Name:    p.ContactName,
				Email:   p.ContactEmail,
				Contact: p.ContactPhone,
			},
			Notes:   notes,
			Timeout: widgetTimeout(p.ExpiresAt),
		},
	}, nil
}

// widgetTimeout is the seconds left until expires. Orders themselves never
// expire, so the widget is the only place the reservation can be enforced
// before payment.
func widgetTimeout(expires time.Time) int64 {
	if expires.IsZero() {
		return 0
	}
	secs := int64(time.Until(expires) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}

// razorpayEvent is the webhook envelope for payment events.
type razorpayEvent struct {
	Event     string `json:"event"`
	AccountID string `json:"account_id"`
	CreatedAt int64  `json:"created_at"`
	Payload   struct {
		Payment struct {
			Entity razorpayPayment `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

type razorpayPayment struct {
	ID         string          `json:"id"`
	Amount     int64           `json:"amount"`
	Currency   string          `json:"currency"`
	Status     string          `json:"status"`
	OrderID    string          `json:"order_id"`
	CustomerID string          `json:"customer_id"`
	Email      string          `json:"email"`
	Contact    string          `json:"contact"`
	Notes      json.RawMessage `json:"notes"`
}

// ParseWebhook verifies x-razorpay-signature as HMAC-SHA256 over the raw body
// and normalizes payment events.
func (g *RazorpayGateway) ParseWebhook(payload []byte, signature string) (*Event, error) {
	if err := VerifyHMACSHA256(payload, signature, g.webhookSecret); err != nil {
		return nil, err
	}

	var ev razorpayEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	pay := ev.Payload.Payment.Entity
	out := &Event{
		Gateway:      models.GatewayRazorpay,
		ID:           ev.Event + ":" + pay.ID,
		ProviderType: ev.Event,
		Type:         EventIgnored,
		PaymentID:    pay.ID,
		CustomerID:   pay.CustomerID,
		OrderRef:     pay.OrderID,
		Amount:       pay.Amount,
		Currency:     strings.ToUpper(pay.Currency),
		Metadata:     MetadataFromMap(decodeNotes(pay.Notes)),
	}

	switch ev.Event {
	case "payment.captured":
		out.Type = EventPaymentSucceeded
	case "payment.failed":
		out.Type = EventPaymentFailed
	}

	if out.Metadata.ContactEmail == "" {
		out.Metadata.ContactEmail = pay.Email
	}
	if out.Metadata.ContactPhone == "" {
		out.Metadata.ContactPhone = pay.Contact
	}

	return out, nil
}

// decodeNotes accepts notes as an object, and tolerates the empty array
// Razorpay sends when an entity has no notes.
func decodeNotes(raw json.RawMessage) map[string]string {
	if len(raw) == 0 {
		return nil
	}
	var notes map[string]string
	if err := json.Unmarshal(raw, &notes); err == nil {
		return notes
	}
	var loose map[string]any
	if err := json.Unmarshal(raw, &loose); err != nil {
		return nil
	}
	notes = make(map[string]string, len(loose))
	for k, v := range loose {
		notes[k] = fmt.Sprint(v)
	}
	return notes
}

// receiptFor derives a receipt id within Razorpay's 40 character limit.
func receiptFor(sessionID string) string {
	r := "rcpt_" + strings.ReplaceAll(sessionID, "-", "")
	if len(r) > 40 {
		r = r[:40]
	}
	return r
}

// HTTP helpers

func (g *RazorpayGateway) post(ctx context.Context, path string, body any) (map[string]any, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	result, err := g.breaker.Execute(func() (map[string]any, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.SetBasicAuth(g.keyID, g.keySecret)
		req.Header.Set("Content-Type", "application/json")

		return g.doRequest(req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return result, err
}

func (g *RazorpayGateway) doRequest(req *http.Request) (map[string]any, error) {
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("razorpay request failed: %w", err)
	}
	defer resp.Body.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, io.LimitReader(resp.Body, 1<<20)); err != nil {
		return nil, fmt.Errorf("read razorpay response: %w", err)
	}

	var result map[string]any
	if err := json.Unmarshal(buf.Bytes(), &result); err != nil {
		if resp.StatusCode >= 400 {
			return nil, &RazorpayAPIError{StatusCode: resp.StatusCode, Description: http.StatusText(resp.StatusCode)}
		}
		return nil, fmt.Errorf("parse razorpay response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &RazorpayAPIError{StatusCode: resp.StatusCode, Description: "unknown error"}
		if errObj, ok := result["error"].(map[string]any); ok {
			if code, ok := errObj["code"].(string); ok {
				apiErr.Code = code
			}
			if desc, ok := errObj["description"].(string); ok {
				apiErr.Description = desc
			}
		}
		return nil, apiErr
	}

	return result, nil
}
