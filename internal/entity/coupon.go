package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

type DiscountType string

const (
	DiscountTypePercentage DiscountType = "percentage"
	DiscountTypeFixed      DiscountType = "fixed"
)

type Coupon struct {
	ID                  int              `json:"id"`
	Code                string           `json:"code"`
	Description         string           `json:"description,omitempty"`
	DiscountType        DiscountType     `json:"discount_type"`
	DiscountPercentage  decimal.Decimal  `json:"discount_percentage"`
	FixedDiscountAmount decimal.Decimal  `json:"fixed_discount_amount"`
	MaxDiscountAmount   *decimal.Decimal `json:"max_discount_amount,omitempty"`
	MinimumOrderAmount  decimal.Decimal  `json:"minimum_order_amount"`
	MaxUsageCount       *int             `json:"max_usage_count,omitempty"`
	MaxUsagePerCustomer *int             `json:"max_usage_per_customer,omitempty"`
	UsageCount          int              `json:"usage_count"`
	StartDate           time.Time        `json:"start_date"`
	ExpiryDate          time.Time        `json:"expiry_date"`
	IsActive            bool             `json:"is_active"`
}

// CouponUsage is an append-only record of one redemption.
type CouponUsage struct {
	ID             int             `json:"id"`
	CouponID       int             `json:"coupon_id"`
	UserID         int             `json:"user_id"`
	OrderID        int             `json:"order_id"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	UsedAt         time.Time       `json:"used_at"`
}
