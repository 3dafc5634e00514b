// Package catalog holds the compiled-in list of purchasable plans.
package catalog

import (
	"slices"

	"github.com/shopspring/decimal"

	"github.com/PortNumber53/agency-portal/internal/models"
)

// Catalog is an immutable plan lookup.
type Catalog struct {
	plans []models.Plan
	byID  map[string]models.Plan
}

// New builds a catalog from plans. Later duplicates of an id are ignored.
func New(plans []models.Plan) *Catalog {
	c := &Catalog{byID: make(map[string]models.Plan, len(plans))}
	for _, p := range plans {
		if _, exists := c.byID[p.ID]; exists {
			continue
		}
		p = clonePlan(p)
		c.plans = append(c.plans, p)
		c.byID[p.ID] = p
	}
	return c
}

// Default returns the agency's published plans.
func Default() *Catalog {
	return New(defaultPlans)
}

// Plan returns the plan with the given id, or false when there is none.
func (c *Catalog) Plan(id string) (models.Plan, bool) {
	p, ok := c.byID[id]
	if !ok {
		return models.Plan{}, false
	}
	return clonePlan(p), true
}

// List returns every plan in display order.
func (c *Catalog) List() []models.Plan {
	out := make([]models.Plan, len(c.plans))
	for i, p := range c.plans {
		out[i] = clonePlan(p)
	}
	return out
}

// clonePlan copies the slices so callers cannot edit the catalog.
func clonePlan(p models.Plan) models.Plan {
	p.Services = slices.Clone(p.Services)
	p.Features = slices.Clone(p.Features)
	return p
}

var (
	essentialServices = []string{"hosting", "ssl", "backups", "uptime-monitoring"}
	businessServices  = []string{"hosting", "ssl", "backups", "uptime-monitoring", "maintenance", "security-updates", "support"}
	growthServices    = []string{"hosting", "ssl", "backups", "uptime-monitoring", "maintenance", "security-updates", "support", "seo", "content-updates"}

	essentialFeatures = []string{
		"Managed hosting with free SSL",
		"Daily off-site backups",
		"24/7 uptime monitoring",
	}
	businessFeatures = []string{
		"Everything in Essential",
		"Monthly plugin and core updates",
		"Security patching and malware scans",
		"Email support, 1 business day response",
	}
	growthFeatures = []string{
		"Everything in Business",
		"Quarterly SEO health report",
		"Up to 4 hours of content updates per month",
		"Priority support",
	}
)

var defaultPlans = []models.Plan{
	{ID: "essential-monthly", Name: "Essential Care", BillingPeriod: models.BillingMonthly, Price: decimal.RequireFromString("29.00"), Currency: "USD", Services: essentialServices, Features: essentialFeatures},
	{ID: "essential-yearly", Name: "Essential Care (Annual)", BillingPeriod: models.BillingYearly, Price: decimal.RequireFromString("290.00"), Currency: "USD", Services: essentialServices, Features: essentialFeatures},
	{ID: "business-monthly", Name: "Business Care", BillingPeriod: models.BillingMonthly, Price: decimal.RequireFromString("79.00"), Currency: "USD", Services: businessServices, Features: businessFeatures},
	{ID: "business-quarterly", Name: "Business Care (Quarterly)", BillingPeriod: models.BillingQuarterly, Price: decimal.RequireFromString("219.00"), Currency: "USD", Services: businessServices, Features: businessFeatures},
	{ID: "business-yearly", Name: "Business Care (Annual)", BillingPeriod: models.BillingYearly, Price: decimal.RequireFromString("790.00"), Currency: "USD", Services: businessServices, Features: businessFeatures},
	{ID: "growth-yearly", Name: "Growth Partner (Annual)", BillingPeriod: models.BillingYearly, Price: decimal.RequireFromString("1990.00"), Currency: "USD", Services: growthServices, Features: growthFeatures},
	{ID: "india-care-monthly", Name: "India Care", BillingPeriod: models.BillingMonthly, Price: decimal.RequireFromString("2499"), Currency: "INR", Services: businessServices, Features: businessFeatures},
	{ID: "india-care-quarterly", Name: "India Care (Quarterly)", BillingPeriod: models.BillingQuarterly, Price: decimal.RequireFromString("6999"), Currency: "INR", Services: businessServices, Features: businessFeatures},
	{ID: "india-care-yearly", Name: "India Care (Annual)", BillingPeriod: models.BillingYearly, Price: decimal.RequireFromString("24999"), Currency: "INR", Services: businessServices, Features: businessFeatures},
}
