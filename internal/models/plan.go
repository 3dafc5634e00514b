package models

import (
	"strings"

	"github.com/shopspring/decimal"
)

// BillingPeriod is how often a plan is billed.
type BillingPeriod string

const (
	BillingMonthly   BillingPeriod = "monthly"
	BillingQuarterly BillingPeriod = "quarterly"
	BillingYearly    BillingPeriod = "yearly"
)

// Valid reports whether p is one of the supported billing periods.
func (p BillingPeriod) Valid() bool {
	switch p {
	case BillingMonthly, BillingQuarterly, BillingYearly:
		return true
	}
	return false
}

// Plan is a purchasable maintenance/hosting bundle. Plans are compiled in and
// never change at runtime.
type Plan struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	BillingPeriod BillingPeriod   `json:"billingPeriod"`
	Price         decimal.Decimal `json:"price"`
	Currency      string          `json:"currency"`
	Services      []string        `json:"services"`
	Features      []string        `json:"features"`
}

// zeroDecimalCurrencies have no minor unit on either gateway.
var zeroDecimalCurrencies = map[string]bool{
	"JPY": true,
	"KRW": true,
	"VND": true,
	"CLP": true,
}

// CurrencyExponent returns the number of minor-unit digits for an ISO 4217 code.
func CurrencyExponent(currency string) int32 {
	if zeroDecimalCurrencies[strings.ToUpper(currency)] {
		return 0
	}
	return 2
}

// MinorUnits returns the plan price in the gateway's smallest currency unit
// (cents, paise). 49.99 USD becomes 4999.
func (p Plan) MinorUnits() int64 {
	return ToMinorUnits(p.Price, p.Currency)
}

// ToMinorUnits converts a major-unit amount into minor units, rounding half away
// from zero at the minor-unit boundary.
func ToMinorUnits(amount decimal.Decimal, currency string) int64 {
	return amount.Shift(CurrencyExponent(currency)).Round(0).IntPart()
}

// FromMinorUnits converts a gateway minor-unit amount back to major units.
func FromMinorUnits(amount int64, currency string) decimal.Decimal {
	return decimal.New(amount, -CurrencyExponent(currency))
}
