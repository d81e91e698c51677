package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	GatewayStripe     = "stripe"
	GatewaySSLCommerz = "sslcommerz"
)

// Payment statuses are gateway vocabulary; these are the ones this service writes itself.
const (
	PaymentRowPending   = "pending"
	PaymentRowSucceeded = "succeeded"
	PaymentRowFailed    = "failed"
	PaymentRowCanceled  = "canceled"
	PaymentRowRefunded  = "refunded"
)

// Payment is one gateway attempt. OrderID is nil while a redirect payment
// waits for its callback.
type Payment struct {
	ID             int              `json:"id"`
	OrderID        *int             `json:"order_id,omitempty"`
	UserID         int              `json:"user_id"`
	Gateway        string           `json:"gateway"`
	TransactionID  string           `json:"transaction_id"`
	Amount         decimal.Decimal  `json:"amount"`
	Currency       string           `json:"currency"`
	Status         string           `json:"status"`
	IsRefunded     bool             `json:"is_refunded"`
	RefundedAmount *decimal.Decimal `json:"refunded_amount,omitempty"`
	RefundID       string           `json:"refund_id,omitempty"`
	RefundedAt     *time.Time       `json:"refunded_at,omitempty"`
	RefundReason   string           `json:"refund_reason,omitempty"`
	FailureReason  string           `json:"failure_reason,omitempty"`
	FailureCode    string           `json:"failure_code,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// PaymentConfirmation is what the card gateway confirm call reports back.
type PaymentConfirmation struct {
	OrderID       int           `json:"order_id"`
	IntentID      string        `json:"intent_id"`
	GatewayStatus string        `json:"gateway_status"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	OrderStatus   OrderStatus   `json:"order_status"`
	Message       string        `json:"message,omitempty"`
}
