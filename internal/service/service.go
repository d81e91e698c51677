package service

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"checkout-service/internal/entity"
	"checkout-service/internal/gateway"
	"checkout-service/internal/repository"
)

var logger = zerolog.New(os.Stdout).With().Timestamp().Logger()

type CartStore interface {
	GetCart(ctx context.Context, userID int) (*entity.Cart, error)
}

type UserStore interface {
	GetUserByID(ctx context.Context, id int) (*entity.User, error)
	GetAddressByID(ctx context.Context, id int) (*entity.Address, error)
	GetPreferredAddress(ctx context.Context, userID int) (*entity.Address, error)
	CreateAddress(ctx context.Context, address *entity.Address) (*entity.Address, error)
}

type CouponStore interface {
	GetCouponByCode(ctx context.Context, code string) (*entity.Coupon, error)
	CountUserUsages(ctx context.Context, couponID, userID int) (int, error)
}

type PricingStore interface {
	GetActiveTaxRate(ctx context.Context, regionCode string) (*entity.TaxRate, error)
	GetShippingMethod(ctx context.Context, id int) (*entity.ShippingMethod, error)
	ListActiveShippingMethods(ctx context.Context) ([]*entity.ShippingMethod, error)
}

type OrderStore interface {
	PlaceOrder(ctx context.Context, p repository.PlaceOrderParams) (*entity.Order, error)
	GetOrderByID(ctx context.Context, id int) (*entity.Order, error)
	ListOrders(ctx context.Context, userID, limit, offset int) ([]*entity.Order, error)
	CancelOrder(ctx context.Context, id int, now time.Time) error
	UpdateOrderStatus(ctx context.Context, id int, from, to entity.OrderStatus, now time.Time) error
	UpdatePaymentState(ctx context.Context, id int, u repository.OrderPaymentUpdate, now time.Time) error
}

type PaymentStore interface {
	CreatePayment(ctx context.Context, p *entity.Payment) (*entity.Payment, error)
	GetPaymentByTransactionID(ctx context.Context, gateway, transactionID string) (*entity.Payment, error)
	GetLatestPaymentForOrder(ctx context.Context, orderID int) (*entity.Payment, error)
	ListPaymentsByOrder(ctx context.Context, orderID int) ([]*entity.Payment, error)
	UpdatePaymentStatus(ctx context.Context, id int, status, failureReason, failureCode string, now time.Time) error
	RecordRefund(ctx context.Context, rec repository.RefundRecord) error
}

type EventPublisher interface {
	PublishOrderEvent(ctx context.Context, order *entity.Order, event string) error
}

// KeyClaimer guards one-shot operations such as idempotent requests and
// webhook deliveries.
type KeyClaimer interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

type DecimalCache interface {
	GetDecimal(ctx context.Context, key string) (decimal.Decimal, bool, error)
	SetDecimal(ctx context.Context, key string, value decimal.Decimal, ttl time.Duration) error
}

type CardGateway interface {
	CreateIntent(ctx context.Context, p gateway.CreateIntentParams) (*gateway.CardIntent, error)
	GetIntent(ctx context.Context, id string) (*gateway.CardIntent, error)
	CreateRefund(ctx context.Context, intentID string, amountMinor int64, reason string) (*gateway.CardRefund, error)
	ParseWebhook(payload []byte, signature string) (*gateway.CardEvent, error)
}

type RedirectGateway interface {
	InitSession(ctx context.Context, r gateway.SessionRequest) (*gateway.Session, error)
	Validate(ctx context.Context, valID string) (*gateway.Validation, error)
}

var hundred = decimal.NewFromInt(100)

// roundMoney rounds to cents.
func roundMoney(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// publish sends an order event. A broker outage must not undo a committed
// order, so failures are only logged.
func publish(ctx context.Context, p EventPublisher, order *entity.Order, event string) {
	if p == nil || order == nil {
		return
	}
	if err := p.PublishOrderEvent(ctx, order, event); err != nil {
		logger.Error().Err(err).Msgf("Error publishing %s event for order %d", event, order.ID)
	}
}
