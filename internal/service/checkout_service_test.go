package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"checkout-service/internal/apperror"
	"checkout-service/internal/config"
	"checkout-service/internal/entity"
	"checkout-service/internal/events"
)

const buyer = 1

type CheckoutTestSuite struct {
	suite.Suite
	ctx       context.Context
	store     *memStore
	keys      *memKeys
	publisher *recordingPublisher
	checkout  *CheckoutService
	address   *entity.Address
}

func (s *CheckoutTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = newMemStore()
	s.keys = newMemKeys()
	s.publisher = &recordingPublisher{}

	s.store.addUser(buyer)
	s.address = s.store.addAddress(buyer)
	s.store.taxRates["CA"] = &entity.TaxRate{ID: 1, RegionCode: "CA", Rate: dec("8"), IsActive: true}
	s.store.methods[1] = &entity.ShippingMethod{ID: 1, Name: "Standard", BaseCost: dec("5"), MinDeliveryDays: 3, MaxDeliveryDays: 5, IsActive: true}
	capped := dec("5")
	coupon := activeCoupon("SAVE10")
	coupon.MaxDiscountAmount = &capped
	s.store.coupons["SAVE10"] = coupon

	coupons := newCouponService(s.store)
	pricing := NewPricingService(s.store, nil, config.DefaultPricing())
	pricing.clock = fixedClock
	s.checkout = NewCheckoutService(s.store, s.store, s.store, coupons, pricing, s.publisher, s.keys)
	s.checkout.clock = fixedClock
}

func (s *CheckoutTestSuite) fillCart() {
	s.store.addCartLine(buyer, 10, 2, "20.00", 5)
	s.store.addCartLine(buyer, 11, 1, "20.00", 5)
}

func (s *CheckoutTestSuite) scenarioRequest() CreateOrderRequest {
	return CreateOrderRequest{
		ShippingAddressID: s.address.ID,
		CouponCode:        "SAVE10",
		RegionCode:        "CA",
		ShippingMethodID:  1,
		PaymentMethod:     "card",
	}
}

func (s *CheckoutTestSuite) TestSummaryScenario() {
	s.fillCart()

	summary, err := s.checkout.Summary(s.ctx, buyer, SummaryRequest{CouponCode: "SAVE10", RegionCode: "CA", ShippingMethodID: 1})
	s.Require().NoError(err)
	s.Equal(3, summary.ItemCount)
	s.True(summary.Subtotal.Equal(dec("60")))
	s.True(summary.Discount.Equal(dec("5")))
	s.True(summary.Tax.Equal(dec("4.40")))
	s.True(summary.ShippingCost.Equal(dec("5")))
	s.True(summary.Total.Equal(dec("64.40")), summary.Total.String())
	s.Require().NotNil(summary.EstimatedDeliveryDate)
}

func (s *CheckoutTestSuite) TestSummaryReportsInvalidCouponWithoutFailing() {
	s.fillCart()

	summary, err := s.checkout.Summary(s.ctx, buyer, SummaryRequest{CouponCode: "BOGUS"})
	s.Require().NoError(err)
	s.Require().NotNil(summary.Coupon)
	s.False(summary.Coupon.IsValid)
	s.True(summary.Discount.IsZero())
	s.True(summary.Total.Equal(dec("66")), summary.Total.String())
}

func (s *CheckoutTestSuite) TestCreateOrderEmptyCart() {
	_, err := s.checkout.CreateOrder(s.ctx, buyer, s.scenarioRequest())
	s.Require().Error(err)
	s.True(apperror.Is(err, apperror.KindInvalidState))
	s.EqualError(err, "Cart is empty")
	s.Empty(s.store.orders)
	s.Empty(s.publisher.events)
}

func (s *CheckoutTestSuite) TestCreateOrderRejectsForeignAddress() {
	s.fillCart()
	other := s.store.addAddress(2)

	req := s.scenarioRequest()
	req.ShippingAddressID = other.ID
	_, err := s.checkout.CreateOrder(s.ctx, buyer, req)
	s.EqualError(err, "Invalid shipping address")

	req.ShippingAddressID = 9999
	_, err = s.checkout.CreateOrder(s.ctx, buyer, req)
	s.EqualError(err, "Invalid shipping address")
	s.Empty(s.store.orders)
}

func (s *CheckoutTestSuite) TestCreateOrderRejectsInvalidCoupon() {
	s.fillCart()
	s.store.coupons["SAVE10"].MinimumOrderAmount = dec("100")

	_, err := s.checkout.CreateOrder(s.ctx, buyer, s.scenarioRequest())
	s.True(apperror.Is(err, apperror.KindInvalidState))
	s.EqualError(err, "Minimum order amount of $100.00 required")
	s.Empty(s.store.orders)
}

func (s *CheckoutTestSuite) TestCreateOrder() {
	s.fillCart()

	order, err := s.checkout.CreateOrder(s.ctx, buyer, s.scenarioRequest())
	s.Require().NoError(err)

	s.Equal("202403150001", order.OrderNumber)
	s.Equal(entity.OrderStatusPending, order.Status)
	s.Equal(entity.PaymentStatusPending, order.PaymentStatus)
	s.True(order.Total.Equal(dec("64.40")), order.Total.String())
	s.True(order.Total.Equal(order.Subtotal.Add(order.ShippingCost).Add(order.Tax).Sub(order.DiscountAmount)))
	s.Require().NotNil(order.CouponID)
	s.Equal(7, *order.CouponID)

	s.Require().Len(order.Items, 2)
	s.Equal(10, order.Items[0].ProductID)
	s.True(order.Items[0].Subtotal.Equal(dec("40")))

	s.Equal(3, s.store.stock[10])
	s.Equal(4, s.store.stock[11])
	s.Empty(s.store.carts[buyer].Lines)
	s.Equal(1, s.store.coupons["SAVE10"].UsageCount)
	s.Require().Len(s.store.usages, 1)
	s.Equal(order.ID, s.store.usages[0].OrderID)
	s.True(s.store.usages[0].DiscountAmount.Equal(dec("5")))
	s.Equal([]string{events.OrderCreated}, s.publisher.events)
}

func (s *CheckoutTestSuite) TestOrderNumbersIncreaseWithinDay() {
	var numbers []string
	for i := 0; i < 3; i++ {
		s.store.addCartLine(buyer, 10+i, 1, "10", 1)
		order, err := s.checkout.CreateOrder(s.ctx, buyer, CreateOrderRequest{ShippingAddressID: s.address.ID})
		s.Require().NoError(err)
		numbers = append(numbers, order.OrderNumber)
	}
	s.Equal([]string{"202403150001", "202403150002", "202403150003"}, numbers)
}

func (s *CheckoutTestSuite) TestCreateOrderInsufficientStock() {
	s.store.addCartLine(buyer, 10, 6, "10", 5)

	_, err := s.checkout.CreateOrder(s.ctx, buyer, CreateOrderRequest{ShippingAddressID: s.address.ID})
	s.True(apperror.Is(err, apperror.KindInvalidState))
	s.Equal(5, s.store.stock[10])
	s.Empty(s.store.orders)
}

func (s *CheckoutTestSuite) TestCreateOrderIdempotencyKey() {
	s.fillCart()
	req := s.scenarioRequest()
	req.IdempotencyKey = "abc"

	_, err := s.checkout.CreateOrder(s.ctx, buyer, req)
	s.Require().NoError(err)

	s.fillCart()
	_, err = s.checkout.CreateOrder(s.ctx, buyer, req)
	s.EqualError(err, "Duplicate order request")
	s.Len(s.store.orders, 1)
}

func (s *CheckoutTestSuite) TestFailedOrderReleasesIdempotencyKey() {
	req := s.scenarioRequest()
	req.IdempotencyKey = "retry-me"

	_, err := s.checkout.CreateOrder(s.ctx, buyer, req)
	s.EqualError(err, "Cart is empty")

	s.fillCart()
	_, err = s.checkout.CreateOrder(s.ctx, buyer, req)
	s.NoError(err)
}

func (s *CheckoutTestSuite) TestCalculateShippingRequiresMethod() {
	_, err := s.checkout.CalculateShipping(s.ctx, 0, dec("1"), "CA")
	s.True(apperror.Is(err, apperror.KindValidation))

	quote, err := s.checkout.CalculateShipping(s.ctx, 1, dec("1"), "CA")
	s.Require().NoError(err)
	s.True(quote.Cost.Equal(dec("5")))
}

func TestCheckoutTestSuite(t *testing.T) {
	suite.Run(t, new(CheckoutTestSuite))
}
