package handlers

import (
	"net/http"

	"github.com/PortNumber53/agency-portal/internal/models"
)

// PlanLister lists the purchasable plans.
type PlanLister interface {
	List() []models.Plan
}

type planView struct {
	models.Plan
	AmountMinor int64 `json:"amountMinor"`
}

// ListPlans handles GET /api/plans.
func ListPlans(plans PlanLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list := plans.List()
		views := make([]planView, 0, len(list))
		for _, p := range list {
			views = append(views, planView{Plan: p, AmountMinor: p.MinorUnits()})
		}
		writeJSON(w, http.StatusOK, map[string]any{"plans": views})
	}
}
