package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/PortNumber53/agency-portal/internal/models"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestPeriodEnd(t *testing.T) {
	tests := []struct {
		name   string
		start  time.Time
		period models.BillingPeriod
		want   time.Time
	}{
		{"monthly", date(2025, 3, 10), models.BillingMonthly, date(2025, 4, 10)},
		{"monthly overflow", date(2025, 1, 31), models.BillingMonthly, date(2025, 3, 3)},
		{"monthly overflow leap year", date(2024, 1, 31), models.BillingMonthly, date(2024, 3, 2)},
		{"quarterly", date(2025, 1, 15), models.BillingQuarterly, date(2025, 4, 15)},
		{"quarterly overflow", date(2025, 11, 30), models.BillingQuarterly, date(2026, 3, 2)},
		{"yearly", date(2025, 1, 31), models.BillingYearly, date(2026, 1, 31)},
		{"yearly from leap day", date(2024, 2, 29), models.BillingYearly, date(2025, 3, 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, PeriodEnd(tt.start, tt.period))
		})
	}
}

func TestNormalizeDomain(t *testing.T) {
	tests := map[string]string{
		"example.com":                  "example.com",
		"  Example.COM ":               "example.com",
		"https://shop.example.in/cart": "shop.example.in",
		"http://example.com?ref=x":     "example.com",
		"example.com.":                 "example.com",
		"":                             "",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeDomain(in), in)
	}
}
