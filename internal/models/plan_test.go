package models

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestMinorUnits(t *testing.T) {
	tests := []struct {
		price    string
		currency string
		want     int64
	}{
		{"49.99", "USD", 4999},
		{"2499", "INR", 249900},
		{"0.10", "usd", 10},
		{"19.995", "EUR", 2000},
		{"1500", "JPY", 1500},
	}

	for _, tt := range tests {
		p := Plan{Price: decimal.RequireFromString(tt.price), Currency: tt.currency}
		assert.Equal(t, tt.want, p.MinorUnits(), "%s %s", tt.price, tt.currency)
	}
}

func TestFromMinorUnits(t *testing.T) {
	assert.True(t, decimal.RequireFromString("49.99").Equal(FromMinorUnits(4999, "USD")))
	assert.True(t, decimal.RequireFromString("1500").Equal(FromMinorUnits(1500, "JPY")))
}

func TestBillingPeriodValid(t *testing.T) {
	assert.True(t, BillingQuarterly.Valid())
	assert.False(t, BillingPeriod("weekly").Valid())
}
