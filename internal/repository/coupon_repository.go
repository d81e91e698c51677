package repository

import (
	"context"
	"database/sql"

	"github.com/shopspring/decimal"

	"checkout-service/internal/entity"
)

type CouponRepository struct {
	db *sql.DB
}

func NewCouponRepository(db *sql.DB) *CouponRepository {
	return &CouponRepository{db}
}

// GetCouponByCode matches the code case-insensitively.
func (r *CouponRepository) GetCouponByCode(ctx context.Context, code string) (*entity.Coupon, error) {
	query := `
		SELECT id, code, description, discount_type, discount_percentage, fixed_discount_amount, max_discount_amount,
		       minimum_order_amount, max_usage_count, max_usage_per_customer, usage_count, start_date, expiry_date, is_active
		FROM coupons WHERE UPPER(code) = UPPER(?)`

	c := &entity.Coupon{}
	var maxDiscount decimal.NullDecimal
	var maxUsage, maxPerCustomer sql.NullInt64
	err := r.db.QueryRowContext(ctx, query, code).Scan(
		&c.ID, &c.Code, &c.Description, &c.DiscountType, &c.DiscountPercentage, &c.FixedDiscountAmount, &maxDiscount,
		&c.MinimumOrderAmount, &maxUsage, &maxPerCustomer, &c.UsageCount, &c.StartDate, &c.ExpiryDate, &c.IsActive,
	)
	if err != nil {
		return nil, notFound(err)
	}

	c.MaxDiscountAmount = decimalPtr(maxDiscount)
	c.MaxUsageCount = intPtr(maxUsage)
	c.MaxUsagePerCustomer = intPtr(maxPerCustomer)
	return c, nil
}

func (r *CouponRepository) CountUserUsages(ctx context.Context, couponID, userID int) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM coupon_usages WHERE coupon_id = ? AND user_id = ?`, couponID, userID).Scan(&n)
	return n, err
}

// redeemCoupon records one usage inside an order transaction. The per-customer
// cap is checked under a row lock on the coupon and the global cap by a
// conditional increment, so concurrent redemptions cannot overshoot either.
func redeemCoupon(ctx context.Context, tx *sql.Tx, usage entity.CouponUsage, maxPerCustomer *int) error {
	var locked int
	if err := tx.QueryRowContext(ctx, `SELECT id FROM coupons WHERE id = ? FOR UPDATE`, usage.CouponID).Scan(&locked); err != nil {
		return notFound(err)
	}

	if maxPerCustomer != nil {
		var used int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM coupon_usages WHERE coupon_id = ? AND user_id = ?`, usage.CouponID, usage.UserID).Scan(&used)
		if err != nil {
			return err
		}
		if used >= *maxPerCustomer {
			return ErrCouponCustomerLimit
		}
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE coupons SET usage_count = usage_count + 1 WHERE id = ? AND (max_usage_count IS NULL OR usage_count < max_usage_count)`,
		usage.CouponID)
	if err != nil {
		return err
	}
	if ok, err := rowsAffectedOne(res); err != nil {
		return err
	} else if !ok {
		return ErrCouponLimitReached
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO coupon_usages (coupon_id, user_id, order_id, discount_amount, used_at) VALUES (?, ?, ?, ?, ?)`,
		usage.CouponID, usage.UserID, usage.OrderID, usage.DiscountAmount, usage.UsedAt)
	return err
}
