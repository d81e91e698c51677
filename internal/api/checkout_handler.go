package api

import (
	"context"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"checkout-service/internal/apperror"
	"checkout-service/internal/entity"
	"checkout-service/internal/service"
)

type CheckoutService interface {
	Summary(ctx context.Context, userID int, r service.SummaryRequest) (*service.Summary, error)
	CreateOrder(ctx context.Context, userID int, r service.CreateOrderRequest) (*entity.Order, error)
	CalculateTax(ctx context.Context, regionCode string, subtotal decimal.Decimal) (*service.TaxQuote, error)
	CalculateShipping(ctx context.Context, methodID int, weight decimal.Decimal, regionCode string) (*service.ShippingQuote, error)
	ValidateCoupon(ctx context.Context, userID int, code string, subtotal decimal.Decimal) (*service.CouponValidation, error)
	ListShippingMethods(ctx context.Context) ([]*entity.ShippingMethod, error)
}

type CheckoutHandler struct {
	checkout CheckoutService
}

func NewCheckoutHandler(checkout CheckoutService) *CheckoutHandler {
	return &CheckoutHandler{checkout: checkout}
}

// Summary prices the caller's cart --> GET /checkout/summary
func (h *CheckoutHandler) Summary(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	req := service.SummaryRequest{
		CouponCode: c.QueryParam("couponCode"),
		RegionCode: c.QueryParam("regionCode"),
	}
	if raw := c.QueryParam("shippingMethodId"); raw != "" {
		if req.ShippingMethodID, err = strconv.Atoi(raw); err != nil {
			return apperror.Validation("Invalid shippingMethodId")
		}
	}
	if raw := c.QueryParam("weight"); raw != "" {
		if req.Weight, err = decimal.NewFromString(raw); err != nil {
			return apperror.Validation("Invalid weight")
		}
	}

	summary, err := h.checkout.Summary(c.Request().Context(), user.ID, req)
	if err != nil {
		return err
	}
	return ok(c, summary)
}

// CreateOrder turns the cart into an order --> POST /checkout/create-order
func (h *CheckoutHandler) CreateOrder(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	req := service.CreateOrderRequest{}
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.ShippingAddressID <= 0 {
		return apperror.Validation("Shipping address is required")
	}
	req.IdempotencyKey = c.Request().Header.Get("Idempotency-Key")

	order, err := h.checkout.CreateOrder(c.Request().Context(), user.ID, req)
	if err != nil {
		return err
	}
	return okMessage(c, order, "Order created successfully")
}

type taxRequest struct {
	RegionCode string          `json:"region_code"`
	Subtotal   decimal.Decimal `json:"subtotal"`
}

// CalculateTax --> POST /checkout/calculate-tax
func (h *CheckoutHandler) CalculateTax(c echo.Context) error {
	req := taxRequest{}
	if err := bind(c, &req); err != nil {
		return err
	}

	quote, err := h.checkout.CalculateTax(c.Request().Context(), req.RegionCode, req.Subtotal)
	if err != nil {
		return err
	}
	return ok(c, quote)
}

type shippingRequest struct {
	ShippingMethodID int             `json:"shipping_method_id"`
	Weight           decimal.Decimal `json:"weight"`
	RegionCode       string          `json:"region_code"`
}

// CalculateShipping --> POST /checkout/calculate-shipping
func (h *CheckoutHandler) CalculateShipping(c echo.Context) error {
	req := shippingRequest{}
	if err := bind(c, &req); err != nil {
		return err
	}

	quote, err := h.checkout.CalculateShipping(c.Request().Context(), req.ShippingMethodID, req.Weight, req.RegionCode)
	if err != nil {
		return err
	}
	return ok(c, quote)
}

type couponRequest struct {
	Code     string          `json:"code"`
	Subtotal decimal.Decimal `json:"subtotal"`
}

// ValidateCoupon --> POST /checkout/validate-coupon
func (h *CheckoutHandler) ValidateCoupon(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	req := couponRequest{}
	if err := bind(c, &req); err != nil {
		return err
	}

	result, err := h.checkout.ValidateCoupon(c.Request().Context(), user.ID, req.Code, req.Subtotal)
	if err != nil {
		return err
	}
	return okMessage(c, result, result.Message)
}

// ShippingMethods --> GET /checkout/shipping-methods
func (h *CheckoutHandler) ShippingMethods(c echo.Context) error {
	methods, err := h.checkout.ListShippingMethods(c.Request().Context())
	if err != nil {
		return err
	}
	if methods == nil {
		methods = []*entity.ShippingMethod{}
	}
	return ok(c, methods)
}
