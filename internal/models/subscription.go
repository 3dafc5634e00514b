package models

import "time"

// SubscriptionStatus is the lifecycle state of a Subscription.
type SubscriptionStatus string

const (
	StatusActive    SubscriptionStatus = "ACTIVE"
	StatusExpired   SubscriptionStatus = "EXPIRED"
	StatusSuspended SubscriptionStatus = "SUSPENDED"
	StatusPending   SubscriptionStatus = "PENDING"
	StatusCancelled SubscriptionStatus = "CANCELLED"
)

// Valid reports whether s is a known status.
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case StatusActive, StatusExpired, StatusSuspended, StatusPending, StatusCancelled:
		return true
	}
	return false
}

// Gateway identifies a payment gateway.
type Gateway string

const (
	GatewayStripe   Gateway = "stripe"
	GatewayRazorpay Gateway = "razorpay"
)

// Subscription is the billing relationship between a domain and a plan.
// At most one subscription per domain is authoritative: the one that has not
// been superseded.
type Subscription struct {
	ID            string             `json:"id"`
	Domain        string             `json:"domain"`
	PlanID        string             `json:"planId"`
	BillingPeriod BillingPeriod      `json:"billingPeriod"`
	StartDate     time.Time          `json:"startDate"`
	EndDate       time.Time          `json:"endDate"`
	Status        SubscriptionStatus `json:"status"`
	Services      []string           `json:"services"`
	GraceEndsAt   *time.Time         `json:"graceEndsAt,omitempty"`

	Gateway               Gateway `json:"gateway"`
	GatewayCustomerID     string  `json:"gatewayCustomerId,omitempty"`
	GatewaySubscriptionID string  `json:"gatewaySubscriptionId,omitempty"`
	GatewayPaymentID      string  `json:"gatewayPaymentId,omitempty"`

	SupersededBy *string   `json:"supersededBy,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// IsValid reports whether sub grants service at instant now. A nil
// subscription is never valid.
func IsValid(sub *Subscription, now time.Time) bool {
	if sub == nil {
		return false
	}
	switch sub.Status {
	case StatusActive:
		return sub.EndDate.After(now)
	case StatusExpired:
		return sub.GraceEndsAt != nil && sub.GraceEndsAt.After(now)
	}
	return false
}
