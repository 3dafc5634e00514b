package handlers

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/PortNumber53/agency-portal/internal/billing"
	"github.com/PortNumber53/agency-portal/internal/models"
)

// CheckoutStarter opens checkouts.
type CheckoutStarter interface {
	Start(ctx context.Context, req billing.CheckoutRequest) (*billing.CheckoutResult, error)
}

// CreatePaymentSession handles POST /api/payments/create-session.
func CreatePaymentSession(svc CheckoutStarter, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req billing.CheckoutRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "invalid JSON payload"})
			return
		}

		res, err := svc.Start(r.Context(), req)
		if err != nil {
			if billing.IsClientError(err) {
				logger.Info("checkout rejected", "domain", req.Domain, "plan_id", req.PlanID, "reason", err.Error())
				writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": err.Error()})
				return
			}
			logger.Error("create payment session failed", "domain", req.Domain, "gateway", req.Gateway, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "Failed to create payment session"})
			return
		}

		switch res.Gateway {
		case models.GatewayRazorpay:
			writeJSON(w, http.StatusOK, map[string]any{
				"success":         true,
				"razorpayOptions": res.WidgetOptions,
				"orderId":         res.Reference,
			})
		case models.GatewayStripe:
			writeJSON(w, http.StatusOK, map[string]any{
				"success":   true,
				"stripeUrl": res.RedirectURL,
				"sessionId": res.Reference,
			})
		default:
			logger.Error("checkout opened on unknown gateway", "gateway", res.Gateway)
			writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "Failed to create payment session"})
		}
	}
}
