package service

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"checkout-service/internal/apperror"
	"checkout-service/internal/cache"
	"checkout-service/internal/entity"
	"checkout-service/internal/events"
	"checkout-service/internal/repository"
)

const idempotencyTTL = 24 * time.Hour

type CheckoutService struct {
	carts     CartStore
	users     UserStore
	orders    OrderStore
	coupons   *CouponService
	pricing   *PricingService
	publisher EventPublisher
	keys      KeyClaimer
	clock     func() time.Time
}

// NewCheckoutService creates a new instance of CheckoutService. publisher and keys may be nil.
func NewCheckoutService(carts CartStore, users UserStore, orders OrderStore, coupons *CouponService, pricing *PricingService, publisher EventPublisher, keys KeyClaimer) *CheckoutService {
	return &CheckoutService{
		carts:     carts,
		users:     users,
		orders:    orders,
		coupons:   coupons,
		pricing:   pricing,
		publisher: publisher,
		keys:      keys,
		clock:     time.Now,
	}
}

type SummaryRequest struct {
	CouponCode       string
	RegionCode       string
	ShippingMethodID int
	Weight           decimal.Decimal
}

type Summary struct {
	Items                 []entity.CartLine `json:"items"`
	ItemCount             int               `json:"item_count"`
	Subtotal              decimal.Decimal   `json:"subtotal"`
	Coupon                *CouponValidation `json:"coupon,omitempty"`
	Discount              decimal.Decimal   `json:"discount"`
	TaxRate               decimal.Decimal   `json:"tax_rate"`
	Tax                   decimal.Decimal   `json:"tax"`
	ShippingCost          decimal.Decimal   `json:"shipping_cost"`
	ShippingMethod        string            `json:"shipping_method"`
	EstimatedDeliveryDate *time.Time        `json:"estimated_delivery_date,omitempty"`
	Total                 decimal.Decimal   `json:"total"`
}

// Summary prices the user's current cart. An invalid coupon is reported in
// the summary rather than failing it.
func (s *CheckoutService) Summary(ctx context.Context, userID int, r SummaryRequest) (*Summary, error) {
	cart, err := s.carts.GetCart(ctx, userID)
	if err != nil {
		logger.Error().Err(err).Msgf("Error getting cart for user %d", userID)
		return nil, err
	}

	subtotal := cart.Subtotal()
	summary := &Summary{Items: cart.Lines, Subtotal: subtotal}
	for _, line := range cart.Lines {
		summary.ItemCount += line.Quantity
	}

	if r.CouponCode != "" {
		summary.Coupon, err = s.coupons.Validate(ctx, r.CouponCode, subtotal, userID)
		if err != nil {
			return nil, err
		}
		if summary.Coupon.IsValid {
			summary.Discount = summary.Coupon.DiscountAmount
		}
	}

	quote, err := s.pricing.Quote(ctx, PriceRequest{
		Subtotal:         subtotal,
		Discount:         summary.Discount,
		RegionCode:       r.RegionCode,
		ShippingMethodID: r.ShippingMethodID,
		Weight:           r.Weight,
	})
	if err != nil {
		return nil, err
	}

	summary.TaxRate = quote.Tax.Rate
	summary.Tax = quote.Tax.TaxAmount
	summary.ShippingCost = quote.Shipping.Cost
	summary.ShippingMethod = quote.Shipping.MethodName
	summary.EstimatedDeliveryDate = quote.Shipping.EstimatedDeliveryDate
	summary.Total = quote.Total
	return summary, nil
}

func (s *CheckoutService) CalculateTax(ctx context.Context, regionCode string, subtotal decimal.Decimal) (*TaxQuote, error) {
	return s.pricing.CalculateTax(ctx, regionCode, subtotal)
}

func (s *CheckoutService) CalculateShipping(ctx context.Context, methodID int, weight decimal.Decimal, regionCode string) (*ShippingQuote, error) {
	if methodID <= 0 {
		return nil, apperror.Validation("Shipping method is required")
	}
	return s.pricing.CalculateShipping(ctx, methodID, weight, regionCode, decimal.Zero)
}

func (s *CheckoutService) ListShippingMethods(ctx context.Context) ([]*entity.ShippingMethod, error) {
	return s.pricing.ListShippingMethods(ctx)
}

func (s *CheckoutService) ValidateCoupon(ctx context.Context, userID int, code string, subtotal decimal.Decimal) (*CouponValidation, error) {
	return s.coupons.Validate(ctx, code, subtotal, userID)
}

type CreateOrderRequest struct {
	ShippingAddressID int             `json:"shipping_address_id"`
	CouponCode        string          `json:"coupon_code"`
	RegionCode        string          `json:"region_code"`
	ShippingMethodID  int             `json:"shipping_method_id"`
	Weight            decimal.Decimal `json:"weight"`
	PaymentMethod     string          `json:"payment_method"`
	Notes             string          `json:"notes"`
	IdempotencyKey    string          `json:"-"`
}

// CreateOrder turns the user's cart into a Pending order.
func (s *CheckoutService) CreateOrder(ctx context.Context, userID int, r CreateOrderRequest) (*entity.Order, error) {
	if r.IdempotencyKey != "" && s.keys != nil {
		key := cache.IdempotencyKey(userID, r.IdempotencyKey)
		claimed, err := s.keys.Claim(ctx, key, idempotencyTTL)
		if err != nil {
			logger.Error().Err(err).Msg("Error claiming idempotency key")
			return nil, err
		}
		if !claimed {
			return nil, apperror.InvalidState("Duplicate order request")
		}

		order, err := s.createOrder(ctx, userID, r)
		if err != nil {
			// let the client retry with the same key after a failure
			if relErr := s.keys.Release(ctx, key); relErr != nil {
				logger.Error().Err(relErr).Msg("Error releasing idempotency key")
			}
			return nil, err
		}
		return order, nil
	}
	return s.createOrder(ctx, userID, r)
}

func (s *CheckoutService) createOrder(ctx context.Context, userID int, r CreateOrderRequest) (*entity.Order, error) {
	cart, err := s.carts.GetCart(ctx, userID)
	if err != nil {
		logger.Error().Err(err).Msgf("Error getting cart for user %d", userID)
		return nil, err
	}
	if cart.IsEmpty() {
		return nil, apperror.InvalidState("Cart is empty")
	}

	address, err := s.users.GetAddressByID(ctx, r.ShippingAddressID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		logger.Error().Err(err).Msgf("Error getting address %d", r.ShippingAddressID)
		return nil, err
	}
	if address == nil || address.UserID != userID {
		return nil, apperror.InvalidState("Invalid shipping address")
	}

	var coupon *CouponValidation
	if r.CouponCode != "" {
		coupon, err = s.coupons.Validate(ctx, r.CouponCode, cart.Subtotal(), userID)
		if err != nil {
			return nil, err
		}
		if !coupon.IsValid {
			return nil, apperror.InvalidState("%s", coupon.Message)
		}
	}

	order, err := s.materialize(ctx, materializeParams{
		UserID:           userID,
		Cart:             cart,
		AddressID:        address.ID,
		Coupon:           coupon,
		RegionCode:       r.RegionCode,
		ShippingMethodID: r.ShippingMethodID,
		Weight:           r.Weight,
		Status:           entity.OrderStatusPending,
		PaymentStatus:    entity.PaymentStatusPending,
		PaymentMethod:    r.PaymentMethod,
		Notes:            r.Notes,
	})
	if err != nil {
		return nil, err
	}

	logger.Info().Msgf("Order %s created for user %d", order.OrderNumber, userID)
	publish(ctx, s.publisher, order, events.OrderCreated)
	return order, nil
}

type materializeParams struct {
	UserID           int
	Cart             *entity.Cart
	AddressID        int
	Coupon           *CouponValidation
	RegionCode       string
	ShippingMethodID int
	Weight           decimal.Decimal
	Status           entity.OrderStatus
	PaymentStatus    entity.PaymentStatus
	PaymentMethod    string
	TransactionID    string
	PaymentID        int
	Notes            string
}

// materialize prices the cart, snapshots its lines into order items and
// persists everything in one transaction. It is shared by checkout and by
// the redirect-gateway callback.
func (s *CheckoutService) materialize(ctx context.Context, p materializeParams) (*entity.Order, error) {
	if p.Cart.IsEmpty() {
		return nil, apperror.InvalidState("Cart is empty")
	}

	subtotal := p.Cart.Subtotal()
	discount := decimal.Zero
	if p.Coupon != nil {
		discount = p.Coupon.DiscountAmount
	}

	quote, err := s.pricing.Quote(ctx, PriceRequest{
		Subtotal:         subtotal,
		Discount:         discount,
		RegionCode:       p.RegionCode,
		ShippingMethodID: p.ShippingMethodID,
		Weight:           p.Weight,
	})
	if err != nil {
		return nil, err
	}

	order := &entity.Order{
		UserID:               p.UserID,
		ShippingAddressID:    p.AddressID,
		Subtotal:             subtotal,
		ShippingCost:         quote.Shipping.Cost,
		Tax:                  quote.Tax.TaxAmount,
		DiscountAmount:       discount,
		Total:                quote.Total,
		Status:               p.Status,
		PaymentStatus:        p.PaymentStatus,
		PaymentMethod:        p.PaymentMethod,
		PaymentTransactionID: p.TransactionID,
		Notes:                p.Notes,
		Items:                make([]entity.OrderItem, 0, len(p.Cart.Lines)),
	}
	for _, line := range p.Cart.Lines {
		order.Items = append(order.Items, entity.OrderItem{
			ProductID:   line.ProductID,
			ProductName: line.ProductName,
			ProductSKU:  line.ProductSKU,
			Quantity:    line.Quantity,
			UnitPrice:   line.Price,
			Subtotal:    line.LineTotal(),
		})
	}

	params := repository.PlaceOrderParams{
		Order:     order,
		CartID:    p.Cart.ID,
		PaymentID: p.PaymentID,
		Now:       s.clock(),
	}
	if p.Coupon != nil && p.Coupon.coupon != nil {
		c := p.Coupon.coupon
		order.CouponID = &c.ID
		params.Coupon = &repository.CouponRedemption{
			Usage:          entity.CouponUsage{CouponID: c.ID, UserID: p.UserID, DiscountAmount: discount},
			MaxPerCustomer: c.MaxUsagePerCustomer,
		}
	}

	placed, err := s.orders.PlaceOrder(ctx, params)
	switch {
	case errors.Is(err, repository.ErrInsufficientStock):
		return nil, apperror.InvalidState("Insufficient stock for one or more items")
	case errors.Is(err, repository.ErrCouponLimitReached):
		return nil, apperror.InvalidState("This coupon has reached its usage limit")
	case errors.Is(err, repository.ErrCouponCustomerLimit):
		return nil, apperror.InvalidState("You have already used this coupon the maximum number of times")
	case err != nil:
		logger.Error().Err(err).Msgf("Error creating order for user %d", p.UserID)
		return nil, err
	}
	return placed, nil
}
