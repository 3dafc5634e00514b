package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/PortNumber53/agency-portal/internal/billing"
	"github.com/PortNumber53/agency-portal/internal/gateway"
)

const maxWebhookBody = 1 << 20

// Signature headers sent by each gateway.
const (
	StripeSignatureHeader   = "Stripe-Signature"
	RazorpaySignatureHeader = "X-Razorpay-Signature"
)

// WebhookVerifier authenticates and normalizes a raw webhook delivery.
type WebhookVerifier interface {
	ParseWebhook(payload []byte, signature string) (*gateway.Event, error)
}

// EventProcessor applies authenticated gateway events.
type EventProcessor interface {
	Process(ctx context.Context, ev *gateway.Event) billing.Outcome
}

// Webhook authenticates a delivery with verifier before anything else runs.
// Authenticated events are acknowledged with {received:true} even when
// processing them changed nothing.
func Webhook(verifier WebhookVerifier, signatureHeader string, proc EventProcessor, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unable to read request body"})
			return
		}

		ev, err := verifier.ParseWebhook(payload, r.Header.Get(signatureHeader))
		if err != nil {
			if errors.Is(err, gateway.ErrMissingSignature) || errors.Is(err, gateway.ErrInvalidSignature) {
				logger.Warn("webhook signature rejected", "path", r.URL.Path, "error", err)
				writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid signature"})
				return
			}
			logger.Error("webhook handling failed", "path", r.URL.Path, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "webhook handling failed"})
			return
		}

		outcome := proc.Process(r.Context(), ev)
		logger.Debug("webhook processed", "gateway", ev.Gateway, "event_id", ev.ID, "outcome", outcome)
		writeJSON(w, http.StatusOK, map[string]any{"received": true})
	}
}
