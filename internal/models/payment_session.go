package models

import "time"

// PaymentSessionStatus tracks a checkout from creation to settlement.
type PaymentSessionStatus string

const (
	SessionOpen      PaymentSessionStatus = "open"
	SessionCompleted PaymentSessionStatus = "completed"
	SessionAbandoned PaymentSessionStatus = "abandoned"
)

// PaymentSession is a checkout that has been started with a gateway for a
// domain. An open session reserves the domain until it expires.
type PaymentSession struct {
	ID           string               `json:"id"`
	Domain       string               `json:"domain"`
	PlanID       string               `json:"planId"`
	Gateway      Gateway              `json:"gateway"`
	GatewayRef   string               `json:"gatewayRef,omitempty"`
	ContactEmail string               `json:"contactEmail"`
	Status       PaymentSessionStatus `json:"status"`
	ExpiresAt    time.Time            `json:"expiresAt"`
	CreatedAt    time.Time            `json:"createdAt"`
}
