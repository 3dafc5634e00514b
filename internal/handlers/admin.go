package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/PortNumber53/agency-portal/internal/billing"
	"github.com/PortNumber53/agency-portal/internal/models"
	"github.com/PortNumber53/agency-portal/internal/store"
)

// SubscriptionAdmin is the operator surface over subscriptions and clients.
type SubscriptionAdmin interface {
	ListSubscriptions(ctx context.Context, f store.SubscriptionFilter) ([]models.Subscription, error)
	Invoices(ctx context.Context, subscriptionID string) ([]models.Invoice, error)
	Clients(ctx context.Context, limit int) ([]models.Client, error)
	Client(ctx context.Context, domain string) (*models.Client, error)
	UpdateStatus(ctx context.Context, id string, status models.SubscriptionStatus) (*models.Subscription, error)
	Extend(ctx context.Context, id string, newEnd time.Time, paymentID string) (*models.Subscription, error)
	ExpireLapsed(ctx context.Context) (int64, error)
}

// AdminHandler serves the admin API.
type AdminHandler struct {
	admin  SubscriptionAdmin
	logger *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(admin SubscriptionAdmin, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{admin: admin, logger: logger}
}

// RegisterRoutes mounts the admin routes on router. Authentication is the
// caller's job.
func (h *AdminHandler) RegisterRoutes(router chi.Router) {
	router.Get("/subscriptions", h.ListSubscriptions())
	router.Post("/subscriptions/expire-lapsed", h.ExpireLapsed())
	router.Get("/subscriptions/{id}/invoices", h.ListInvoices())
	router.Patch("/subscriptions/{id}/status", h.UpdateStatus())
	router.Post("/subscriptions/{id}/extend", h.Extend())
	router.Get("/clients", h.ListClients())
	router.Get("/clients/{domain}", h.GetClient())
}

func queryInt(r *http.Request, key string) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return 0
	}
	return v
}

func (h *AdminHandler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, store.ErrSubscriptionNotFound), errors.Is(err, store.ErrClientNotFound):
		writeJSON(w, http.StatusNotFound, map[string]any{"error": err.Error()})
	case errors.Is(err, billing.ErrInvalidStatus), errors.Is(err, billing.ErrInvalidEndDate):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
	default:
		h.logger.Error("admin request failed", "op", op, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal error"})
	}
}

// ListSubscriptions handles GET /subscriptions?domain=&status=&all=&limit=&offset=.
func (h *AdminHandler) ListSubscriptions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		all, _ := strconv.ParseBool(q.Get("all"))
		subs, err := h.admin.ListSubscriptions(r.Context(), store.SubscriptionFilter{
			Domain:            q.Get("domain"),
			Status:            models.SubscriptionStatus(strings.ToUpper(q.Get("status"))),
			IncludeSuperseded: all,
			Limit:             queryInt(r, "limit"),
			Offset:            queryInt(r, "offset"),
		})
		if err != nil {
			h.fail(w, "list subscriptions", err)
			return
		}
		if subs == nil {
			subs = []models.Subscription{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"subscriptions": subs})
	}
}

// ListInvoices handles GET /subscriptions/{id}/invoices.
func (h *AdminHandler) ListInvoices() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		invoices, err := h.admin.Invoices(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			h.fail(w, "list invoices", err)
			return
		}
		if invoices == nil {
			invoices = []models.Invoice{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"invoices": invoices})
	}
}

type updateStatusPayload struct {
	Status models.SubscriptionStatus `json:"status"`
}

// UpdateStatus handles PATCH /subscriptions/{id}/status.
func (h *AdminHandler) UpdateStatus() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload updateStatusPayload
		if err := decodeJSON(w, r, &payload); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON payload"})
			return
		}
		status := models.SubscriptionStatus(strings.ToUpper(strings.TrimSpace(string(payload.Status))))

		sub, err := h.admin.UpdateStatus(r.Context(), chi.URLParam(r, "id"), status)
		if err != nil {
			h.fail(w, "update status", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"subscription": sub})
	}
}

type extendPayload struct {
	EndDate   string `json:"endDate"`
	PaymentID string `json:"paymentId"`
}

func parseEndDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, raw)
}

// Extend handles POST /subscriptions/{id}/extend with {endDate, paymentId?}.
func (h *AdminHandler) Extend() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload extendPayload
		if err := decodeJSON(w, r, &payload); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON payload"})
			return
		}
		newEnd, err := parseEndDate(payload.EndDate)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "endDate must be RFC 3339 or YYYY-MM-DD"})
			return
		}

		sub, err := h.admin.Extend(r.Context(), chi.URLParam(r, "id"), newEnd, strings.TrimSpace(payload.PaymentID))
		if err != nil {
			h.fail(w, "extend", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"subscription": sub})
	}
}

// ExpireLapsed handles POST /subscriptions/expire-lapsed.
func (h *AdminHandler) ExpireLapsed() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := h.admin.ExpireLapsed(r.Context())
		if err != nil {
			h.fail(w, "expire lapsed", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"expired": n})
	}
}

// ListClients handles GET /clients?limit=.
func (h *AdminHandler) ListClients() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clients, err := h.admin.Clients(r.Context(), queryInt(r, "limit"))
		if err != nil {
			h.fail(w, "list clients", err)
			return
		}
		if clients == nil {
			clients = []models.Client{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"clients": clients})
	}
}

// GetClient handles GET /clients/{domain}.
func (h *AdminHandler) GetClient() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		client, err := h.admin.Client(r.Context(), chi.URLParam(r, "domain"))
		if err != nil {
			h.fail(w, "get client", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"client": client})
	}
}
