package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/PortNumber53/agency-portal/internal/billing"
)

// StatusChecker answers subscription validity queries.
type StatusChecker interface {
	Check(ctx context.Context, domain string) (billing.Status, error)
	CheckMany(ctx context.Context, domains []string) ([]billing.BatchResult, error)
}

// CheckSubscription handles GET /api/subscription/check?domain=. Failures
// are reported as an invalid subscription with reason "error" so callers
// gating a site on this endpoint never see a raw error.
func CheckSubscription(svc StatusChecker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		domain := strings.TrimSpace(r.URL.Query().Get("domain"))
		if domain == "" {
			writeJSON(w, http.StatusBadRequest, billing.Status{Reason: billing.ReasonError, Message: "domain is required"})
			return
		}

		st, err := svc.Check(r.Context(), domain)
		if err != nil {
			logger.Error("subscription check failed", "domain", domain, "error", err)
			writeJSON(w, http.StatusInternalServerError, billing.Status{Reason: billing.ReasonError, Message: "Failed to check subscription"})
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

type batchCheckPayload struct {
	Domains []string `json:"domains"`
}

// CheckSubscriptions handles POST /api/subscription/check with {domains: [...]}.
func CheckSubscriptions(svc StatusChecker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload batchCheckPayload
		if err := decodeJSON(w, r, &payload); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON payload"})
			return
		}
		if len(payload.Domains) == 0 {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "domains must be a non-empty array"})
			return
		}

		results, err := svc.CheckMany(r.Context(), payload.Domains)
		if err != nil {
			if errors.Is(err, billing.ErrTooManyDomains) {
				writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
				return
			}
			logger.Error("batch subscription check failed", "count", len(payload.Domains), "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "Failed to check subscriptions"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"results": results})
	}
}
