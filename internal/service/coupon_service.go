package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"checkout-service/internal/entity"
	"checkout-service/internal/repository"
)

// CouponValidation is the outcome of checking a code against an order subtotal.
type CouponValidation struct {
	IsValid            bool            `json:"is_valid"`
	Message            string          `json:"message"`
	Code               string          `json:"code,omitempty"`
	DiscountType       string          `json:"discount_type,omitempty"`
	DiscountAmount     decimal.Decimal `json:"discount_amount"`
	DiscountPercentage decimal.Decimal `json:"discount_percentage"`

	coupon *entity.Coupon
}

func invalidCoupon(msg string) *CouponValidation {
	return &CouponValidation{Message: msg}
}

type CouponService struct {
	coupons CouponStore
	clock   func() time.Time
}

func NewCouponService(coupons CouponStore) *CouponService {
	return &CouponService{coupons: coupons, clock: time.Now}
}

// Validate checks the code in a fixed order and stops at the first failure:
// existence, active flag, expiry, start date, minimum order amount, global
// usage cap and, when userID is known, the per-customer cap.
func (s *CouponService) Validate(ctx context.Context, code string, subtotal decimal.Decimal, userID int) (*CouponValidation, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return invalidCoupon("Invalid coupon code"), nil
	}

	coupon, err := s.coupons.GetCouponByCode(ctx, code)
	if errors.Is(err, repository.ErrNotFound) {
		return invalidCoupon("Invalid coupon code"), nil
	}
	if err != nil {
		logger.Error().Err(err).Msgf("Error getting coupon %s", code)
		return nil, err
	}

	now := s.clock()
	switch {
	case !coupon.IsActive:
		return invalidCoupon("This coupon is no longer active"), nil
	case now.After(coupon.ExpiryDate):
		return invalidCoupon("This coupon has expired"), nil
	case now.Before(coupon.StartDate):
		return invalidCoupon("This coupon is not yet valid"), nil
	case subtotal.LessThan(coupon.MinimumOrderAmount):
		return invalidCoupon(fmt.Sprintf("Minimum order amount of $%s required", coupon.MinimumOrderAmount.StringFixed(2))), nil
	case coupon.MaxUsageCount != nil && coupon.UsageCount >= *coupon.MaxUsageCount:
		return invalidCoupon("This coupon has reached its usage limit"), nil
	}

	if userID != 0 && coupon.MaxUsagePerCustomer != nil {
		used, err := s.coupons.CountUserUsages(ctx, coupon.ID, userID)
		if err != nil {
			logger.Error().Err(err).Msgf("Error counting usages of coupon %d", coupon.ID)
			return nil, err
		}
		if used >= *coupon.MaxUsagePerCustomer {
			return invalidCoupon("You have already used this coupon the maximum number of times"), nil
		}
	}

	amount, pct := Discount(coupon, subtotal)
	return &CouponValidation{
		IsValid:            true,
		Message:            "Coupon applied",
		Code:               coupon.Code,
		DiscountType:       string(coupon.DiscountType),
		DiscountAmount:     amount,
		DiscountPercentage: pct,
		coupon:             coupon,
	}, nil
}

// Discount returns the discount for subtotal and its percentage equivalent.
// Percentage discounts are capped at MaxDiscountAmount; no discount exceeds
// the subtotal itself.
func Discount(c *entity.Coupon, subtotal decimal.Decimal) (amount, percentage decimal.Decimal) {
	switch c.DiscountType {
	case entity.DiscountTypePercentage:
		percentage = c.DiscountPercentage
		amount = subtotal.Mul(c.DiscountPercentage).Div(hundred)
		if c.MaxDiscountAmount != nil && amount.GreaterThan(*c.MaxDiscountAmount) {
			amount = *c.MaxDiscountAmount
		}
	case entity.DiscountTypeFixed:
		amount = c.FixedDiscountAmount
		if subtotal.IsPositive() {
			percentage = roundMoney(amount.Div(subtotal).Mul(hundred))
		}
	default:
		return decimal.Zero, decimal.Zero
	}

	if amount.GreaterThan(subtotal) {
		amount = subtotal
	}
	return roundMoney(amount), percentage
}
