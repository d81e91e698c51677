package entity

import "github.com/shopspring/decimal"

type TaxRate struct {
	ID         int             `json:"id"`
	RegionCode string          `json:"region_code"`
	Rate       decimal.Decimal `json:"rate"` // whole-number percentage, 8.25 means 8.25%
	IsActive   bool            `json:"is_active"`
}

type ShippingMethod struct {
	ID              int              `json:"id"`
	Name            string           `json:"name"`
	Description     string           `json:"description,omitempty"`
	BaseCost        decimal.Decimal  `json:"base_cost"`
	CostPerWeight   *decimal.Decimal `json:"cost_per_weight,omitempty"`
	MinDeliveryDays int              `json:"min_delivery_days"`
	MaxDeliveryDays int              `json:"max_delivery_days"`
	IsActive        bool             `json:"is_active"`
}
