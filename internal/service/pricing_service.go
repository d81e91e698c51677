package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"checkout-service/internal/apperror"
	"checkout-service/internal/cache"
	"checkout-service/internal/config"
	"checkout-service/internal/entity"
	"checkout-service/internal/repository"
)

const taxRateCacheTTL = 10 * time.Minute

type TaxQuote struct {
	RegionCode string          `json:"region_code"`
	Rate       decimal.Decimal `json:"rate"`
	TaxAmount  decimal.Decimal `json:"tax_amount"`
	IsDefault  bool            `json:"is_default"`
}

type ShippingQuote struct {
	ShippingMethodID      int             `json:"shipping_method_id,omitempty"`
	MethodName            string          `json:"method_name"`
	Cost                  decimal.Decimal `json:"cost"`
	MinDeliveryDays       int             `json:"min_delivery_days,omitempty"`
	MaxDeliveryDays       int             `json:"max_delivery_days,omitempty"`
	EstimatedDeliveryDate *time.Time      `json:"estimated_delivery_date,omitempty"`
}

// PricingService is the single home of the tax and shipping rules used by
// every order-creation path.
type PricingService struct {
	store PricingStore
	cache DecimalCache
	rules config.PricingConfig
	clock func() time.Time
}

// NewPricingService wires the calculators. cache may be nil.
func NewPricingService(store PricingStore, cache DecimalCache, rules config.PricingConfig) *PricingService {
	return &PricingService{store: store, cache: cache, rules: rules, clock: time.Now}
}

// CalculateTax looks up the active rate for regionCode. An unknown region
// falls back to the default rate instead of blocking checkout; an empty
// region uses the flat rate.
func (s *PricingService) CalculateTax(ctx context.Context, regionCode string, amount decimal.Decimal) (*TaxQuote, error) {
	if amount.IsNegative() {
		return nil, apperror.Validation("Amount must not be negative")
	}

	region := strings.ToUpper(strings.TrimSpace(regionCode))
	quote := &TaxQuote{RegionCode: region}

	if region == "" {
		quote.Rate = s.rules.FlatTaxRate
		quote.IsDefault = true
	} else {
		rate, found, err := s.lookupRate(ctx, region)
		if err != nil {
			return nil, err
		}
		if found {
			quote.Rate = rate
		} else {
			logger.Warn().Msgf("No tax rate configured for region %s, using default", region)
			quote.Rate = s.rules.DefaultTaxRate
			quote.IsDefault = true
		}
	}

	quote.TaxAmount = roundMoney(amount.Mul(quote.Rate).Div(hundred))
	return quote, nil
}

func (s *PricingService) lookupRate(ctx context.Context, region string) (decimal.Decimal, bool, error) {
	key := cache.TaxRateKey(region)
	if s.cache != nil {
		rate, ok, err := s.cache.GetDecimal(ctx, key)
		if err != nil {
			logger.Error().Err(err).Msgf("Error getting tax rate for %s from cache", region)
		} else if ok {
			return rate, true, nil
		}
	}

	taxRate, err := s.store.GetActiveTaxRate(ctx, region)
	if errors.Is(err, repository.ErrNotFound) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		logger.Error().Err(err).Msgf("Error getting tax rate for %s", region)
		return decimal.Zero, false, err
	}

	if s.cache != nil {
		if err := s.cache.SetDecimal(ctx, key, taxRate.Rate, taxRateCacheTTL); err != nil {
			logger.Error().Err(err).Msgf("Error setting tax rate for %s in cache", region)
		}
	}
	return taxRate.Rate, true, nil
}

// CalculateShipping prices a shipping method as base cost plus weight times
// the per-weight rate when one is configured. A methodID of 0 selects the
// flat rule: free above the threshold, flat cost otherwise. regionCode does
// not yet vary price or availability.
func (s *PricingService) CalculateShipping(ctx context.Context, methodID int, weight decimal.Decimal, regionCode string, subtotal decimal.Decimal) (*ShippingQuote, error) {
	if weight.IsNegative() {
		return nil, apperror.Validation("Weight must not be negative")
	}
	if methodID == 0 {
		return s.flatShipping(subtotal), nil
	}

	method, err := s.store.GetShippingMethod(ctx, methodID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperror.NotFound("Shipping method not found")
	}
	if err != nil {
		logger.Error().Err(err).Msgf("Error getting shipping method %d", methodID)
		return nil, err
	}
	if !method.IsActive {
		return nil, apperror.InvalidState("Shipping method %s is not available", method.Name)
	}

	cost := method.BaseCost
	if method.CostPerWeight != nil {
		cost = cost.Add(weight.Mul(*method.CostPerWeight))
	}

	eta := s.clock().UTC().AddDate(0, 0, method.MinDeliveryDays+s.rules.DeliveryBufferDays)
	return &ShippingQuote{
		ShippingMethodID:      method.ID,
		MethodName:            method.Name,
		Cost:                  roundMoney(cost),
		MinDeliveryDays:       method.MinDeliveryDays,
		MaxDeliveryDays:       method.MaxDeliveryDays,
		EstimatedDeliveryDate: &eta,
	}, nil
}

func (s *PricingService) flatShipping(subtotal decimal.Decimal) *ShippingQuote {
	quote := &ShippingQuote{MethodName: "Standard", Cost: s.rules.FlatShippingCost}
	if subtotal.GreaterThan(s.rules.FreeShippingThreshold) {
		quote.Cost = decimal.Zero
	}
	return quote
}

func (s *PricingService) ListShippingMethods(ctx context.Context) ([]*entity.ShippingMethod, error) {
	methods, err := s.store.ListActiveShippingMethods(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("Error listing shipping methods")
		return nil, err
	}
	return methods, nil
}

// PriceRequest selects how an order is priced. Zero RegionCode and
// ShippingMethodID fall back to the flat rules.
type PriceRequest struct {
	Subtotal         decimal.Decimal
	Discount         decimal.Decimal
	RegionCode       string
	ShippingMethodID int
	Weight           decimal.Decimal
}

type PriceQuote struct {
	Subtotal decimal.Decimal `json:"subtotal"`
	Discount decimal.Decimal `json:"discount"`
	Tax      *TaxQuote       `json:"tax"`
	Shipping *ShippingQuote  `json:"shipping"`
	Total    decimal.Decimal `json:"total"`
}

// Quote prices an order. Tax applies to the discounted subtotal and
// total = subtotal - discount + tax + shipping.
func (s *PricingService) Quote(ctx context.Context, r PriceRequest) (*PriceQuote, error) {
	taxable := r.Subtotal.Sub(r.Discount)
	tax, err := s.CalculateTax(ctx, r.RegionCode, taxable)
	if err != nil {
		return nil, err
	}
	shipping, err := s.CalculateShipping(ctx, r.ShippingMethodID, r.Weight, r.RegionCode, r.Subtotal)
	if err != nil {
		return nil, err
	}

	return &PriceQuote{
		Subtotal: r.Subtotal,
		Discount: r.Discount,
		Tax:      tax,
		Shipping: shipping,
		Total:    taxable.Add(tax.TaxAmount).Add(shipping.Cost),
	}, nil
}
