package repository

import (
	"context"
	"database/sql"

	"github.com/shopspring/decimal"

	"checkout-service/internal/entity"
)

// PricingRepository reads tax rates and shipping methods.
type PricingRepository struct {
	db *sql.DB
}

func NewPricingRepository(db *sql.DB) *PricingRepository {
	return &PricingRepository{db}
}

// GetActiveTaxRate matches the region code case-insensitively.
func (r *PricingRepository) GetActiveTaxRate(ctx context.Context, regionCode string) (*entity.TaxRate, error) {
	query := `SELECT id, region_code, rate, is_active FROM tax_rates WHERE UPPER(region_code) = UPPER(?) AND is_active = TRUE`
	rate := &entity.TaxRate{}
	err := r.db.QueryRowContext(ctx, query, regionCode).Scan(&rate.ID, &rate.RegionCode, &rate.Rate, &rate.IsActive)
	if err != nil {
		return nil, notFound(err)
	}
	return rate, nil
}

const shippingColumns = `id, name, description, base_cost, cost_per_weight, min_delivery_days, max_delivery_days, is_active`

func scanShippingMethod(row interface{ Scan(...any) error }) (*entity.ShippingMethod, error) {
	m := &entity.ShippingMethod{}
	var perWeight decimal.NullDecimal
	err := row.Scan(&m.ID, &m.Name, &m.Description, &m.BaseCost, &perWeight, &m.MinDeliveryDays, &m.MaxDeliveryDays, &m.IsActive)
	if err != nil {
		return nil, notFound(err)
	}
	m.CostPerWeight = decimalPtr(perWeight)
	return m, nil
}

func (r *PricingRepository) GetShippingMethod(ctx context.Context, id int) (*entity.ShippingMethod, error) {
	query := `SELECT ` + shippingColumns + ` FROM shipping_methods WHERE id = ?`
	return scanShippingMethod(r.db.QueryRowContext(ctx, query, id))
}

func (r *PricingRepository) ListActiveShippingMethods(ctx context.Context) ([]*entity.ShippingMethod, error) {
	query := `SELECT ` + shippingColumns + ` FROM shipping_methods WHERE is_active = TRUE ORDER BY base_cost, id`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var methods []*entity.ShippingMethod
	for rows.Next() {
		m, err := scanShippingMethod(rows)
		if err != nil {
			return nil, err
		}
		methods = append(methods, m)
	}
	return methods, rows.Err()
}
