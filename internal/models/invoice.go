package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus is the payment state of an Invoice.
type InvoiceStatus string

const (
	InvoiceDraft     InvoiceStatus = "DRAFT"
	InvoiceSent      InvoiceStatus = "SENT"
	InvoicePaid      InvoiceStatus = "PAID"
	InvoiceOverdue   InvoiceStatus = "OVERDUE"
	InvoiceCancelled InvoiceStatus = "CANCELLED"
)

// Invoice records one billed payment event for a subscription.
type Invoice struct {
	ID                string          `json:"id"`
	SubscriptionID    string          `json:"subscriptionId"`
	Domain            string          `json:"domain"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	Status            InvoiceStatus   `json:"status"`
	DueDate           time.Time       `json:"dueDate"`
	PaidAt            *time.Time      `json:"paidAt,omitempty"`
	InvoiceNumber     string          `json:"invoiceNumber"`
	Gateway           Gateway         `json:"gateway"`
	GatewayPaymentID  string          `json:"gatewayPaymentId"`
	GatewayCustomerID string          `json:"gatewayCustomerId,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
}
