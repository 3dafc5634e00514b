package billing

import (
	"strings"
	"time"

	"github.com/PortNumber53/agency-portal/internal/models"
)

// PeriodEnd returns the end of a billing period that starts at start. Months
// are calendar months with time.AddDate overflow, so Jan 31 plus one month is
// Mar 3 (Mar 2 in a leap year).
func PeriodEnd(start time.Time, period models.BillingPeriod) time.Time {
	switch period {
	case models.BillingQuarterly:
		return start.AddDate(0, 3, 0)
	case models.BillingYearly:
		return start.AddDate(1, 0, 0)
	default:
		return start.AddDate(0, 1, 0)
	}
}

// NormalizeDomain reduces user input such as "https://Example.com/pricing"
// to the bare host "example.com" that subscriptions are keyed on.
func NormalizeDomain(raw string) string {
	d := strings.ToLower(strings.TrimSpace(raw))
	d = strings.TrimPrefix(d, "https://")
	d = strings.TrimPrefix(d, "http://")
	if i := strings.IndexAny(d, "/?#"); i >= 0 {
		d = d[:i]
	}
	return strings.TrimSuffix(d, ".")
}
