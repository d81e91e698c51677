package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"checkout-service/internal/apperror"
	"checkout-service/internal/cache"
	"checkout-service/internal/entity"
	"checkout-service/internal/events"
	"checkout-service/internal/gateway"
	"checkout-service/internal/repository"
)

const (
	webhookEventTTL = 24 * time.Hour
	orderIDMetadata = "order_id"
)

// Stripe PaymentIntent statuses the service reacts to.
const (
	intentSucceeded      = "succeeded"
	intentRequiresAction = "requires_action"
)

type PaymentSettings struct {
	Currency         string // card gateway currency
	RedirectCurrency string
	CallbackBaseURL  string // public base URL the redirect gateway calls back on
}

// PaymentService reconciles gateway state with orders. It holds the card
// gateway flow here and the redirect gateway flow in payment_redirect.go.
type PaymentService struct {
	orders    OrderStore
	payments  PaymentStore
	checkout  *CheckoutService
	card      CardGateway
	redirect  RedirectGateway
	keys      KeyClaimer
	publisher EventPublisher
	settings  PaymentSettings
	clock     func() time.Time
	newID     func() string
}

func NewPaymentService(orders OrderStore, payments PaymentStore, checkout *CheckoutService, card CardGateway, redirect RedirectGateway, keys KeyClaimer, publisher EventPublisher, settings PaymentSettings) *PaymentService {
	return &PaymentService{
		orders:    orders,
		payments:  payments,
		checkout:  checkout,
		card:      card,
		redirect:  redirect,
		keys:      keys,
		publisher: publisher,
		settings:  settings,
		clock:     time.Now,
		newID:     uuid.NewString,
	}
}

// toMinor converts an amount to the gateway's integer minor units.
func toMinor(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

func fromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

func (s *PaymentService) ownedOrder(ctx context.Context, userID int, isAdmin bool, orderID int) (*entity.Order, error) {
	order, err := s.orders.GetOrderByID(ctx, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperror.NotFound("Order not found")
	}
	if err != nil {
		logger.Error().Err(err).Msgf("Error getting order %d", orderID)
		return nil, err
	}
	if !isAdmin && order.UserID != userID {
		return nil, apperror.NotFound("Order not found")
	}
	return order, nil
}

type PaymentIntent struct {
	OrderID      int             `json:"order_id"`
	IntentID     string          `json:"payment_intent_id"`
	ClientSecret string          `json:"client_secret"`
	Status       string          `json:"status"`
	Amount       decimal.Decimal `json:"amount"`
	Currency     string          `json:"currency"`
}

// CreateIntent opens a card payment for the full order total.
func (s *PaymentService) CreateIntent(ctx context.Context, userID, orderID int, currency string) (*PaymentIntent, error) {
	order, err := s.ownedOrder(ctx, userID, false, orderID)
	if err != nil {
		return nil, err
	}
	if order.PaymentStatus == entity.PaymentStatusPaid {
		return nil, apperror.InvalidState("Order is already paid")
	}
	if order.Status == entity.OrderStatusCancelled {
		return nil, apperror.InvalidState("Cannot pay for a cancelled order")
	}
	if currency == "" {
		currency = s.settings.Currency
	}

	intent, err := s.card.CreateIntent(ctx, gateway.CreateIntentParams{
		AmountMinor:    toMinor(order.Total),
		Currency:       currency,
		Description:    "Order " + order.OrderNumber,
		Metadata:       map[string]string{orderIDMetadata: strconv.Itoa(order.ID), "order_number": order.OrderNumber},
		IdempotencyKey: s.newID(),
	})
	if err != nil {
		logger.Error().Err(err).Msgf("Error creating payment intent for order %d", order.ID)
		return nil, apperror.Gateway("Failed to create payment intent", err)
	}

	_, err = s.payments.CreatePayment(ctx, &entity.Payment{
		OrderID:       &order.ID,
		UserID:        order.UserID,
		Gateway:       entity.GatewayStripe,
		TransactionID: intent.ID,
		Amount:        order.Total,
		Currency:      currency,
		Status:        intent.Status,
		CreatedAt:     s.clock(),
	})
	if err != nil {
		logger.Error().Err(err).Msgf("Error saving payment %s for order %d", intent.ID, order.ID)
		return nil, err
	}

	err = s.orders.UpdatePaymentState(ctx, order.ID, repository.OrderPaymentUpdate{
		PaymentStatus: entity.PaymentStatusPending,
		Method:        entity.GatewayStripe,
		TransactionID: intent.ID,
	}, s.clock())
	if err != nil {
		logger.Error().Err(err).Msgf("Error updating payment state of order %d", order.ID)
		return nil, err
	}

	return &PaymentIntent{
		OrderID:      order.ID,
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		Status:       intent.Status,
		Amount:       order.Total,
		Currency:     currency,
	}, nil
}

// Confirm re-reads the intent from the gateway and derives the order's
// payment state from it. Calling it repeatedly is harmless.
func (s *PaymentService) Confirm(ctx context.Context, userID int, intentID string) (*entity.PaymentConfirmation, error) {
	if intentID == "" {
		return nil, apperror.Validation("Payment intent id is required")
	}

	intent, err := s.card.GetIntent(ctx, intentID)
	if err != nil {
		logger.Error().Err(err).Msgf("Error getting payment intent %s", intentID)
		return nil, apperror.Gateway("Failed to confirm payment", err)
	}

	orderID := s.orderIDForIntent(ctx, intent.ID, intent.Metadata)
	if orderID == 0 {
		return nil, apperror.NotFound("Order not found for payment")
	}
	order, err := s.ownedOrder(ctx, userID, false, orderID)
	if err != nil {
		return nil, err
	}

	s.syncPaymentRow(ctx, intent.ID, intent.Status, intent.FailureReason, intent.FailureCode)

	result := &entity.PaymentConfirmation{
		OrderID:       order.ID,
		IntentID:      intent.ID,
		GatewayStatus: intent.Status,
		PaymentStatus: order.PaymentStatus,
		OrderStatus:   order.Status,
	}

	switch intent.Status {
	case intentSucceeded:
		if err := s.markPaid(ctx, order, entity.GatewayStripe, intent.ID); err != nil {
			return nil, err
		}
		result.Message = "Payment succeeded"
	case intentRequiresAction:
		logger.Warn().Msgf("Payment intent %s for order %d requires further action", intent.ID, order.ID)
		if err := s.reopen(ctx, order); err != nil {
			return nil, err
		}
		result.Message = "Payment requires additional authentication"
	default:
		if err := s.reopen(ctx, order); err != nil {
			return nil, err
		}
		result.Message = "Payment is not complete"
	}

	result.PaymentStatus = order.PaymentStatus
	result.OrderStatus = order.Status
	return result, nil
}

// markPaid records a successful payment on order. Already paid orders are
// left untouched.
func (s *PaymentService) markPaid(ctx context.Context, order *entity.Order, method, transactionID string) error {
	if order.PaymentStatus == entity.PaymentStatusPaid {
		return nil
	}

	update := repository.OrderPaymentUpdate{
		PaymentStatus: entity.PaymentStatusPaid,
		Method:        method,
		TransactionID: transactionID,
	}
	if order.Status == entity.OrderStatusPending {
		update.Status = entity.OrderStatusProcessing
	}
	if order.Status == entity.OrderStatusCancelled {
		logger.Warn().Msgf("Order %s was cancelled before payment %s settled, refund required", order.OrderNumber, transactionID)
	}
	if err := s.orders.UpdatePaymentState(ctx, order.ID, update, s.clock()); err != nil {
		logger.Error().Err(err).Msgf("Error marking order %d paid", order.ID)
		return err
	}

	order.PaymentStatus = entity.PaymentStatusPaid
	if update.Status != "" {
		order.Status = update.Status
	}
	order.PaymentMethod = method
	order.PaymentTransactionID = transactionID
	logger.Info().Msgf("Order %s paid via %s", order.OrderNumber, method)
	publish(ctx, s.publisher, order, events.OrderPaid)
	return nil
}

// reopen puts an unsettled order back to payment Pending so it can be paid
// again. Paid and refunded orders are left alone.
func (s *PaymentService) reopen(ctx context.Context, order *entity.Order) error {
	switch order.PaymentStatus {
	case entity.PaymentStatusPending, entity.PaymentStatusPaid, entity.PaymentStatusRefunded:
		return nil
	}
	err := s.orders.UpdatePaymentState(ctx, order.ID, repository.OrderPaymentUpdate{PaymentStatus: entity.PaymentStatusPending}, s.clock())
	if err != nil {
		logger.Error().Err(err).Msgf("Error reopening payment of order %d", order.ID)
		return err
	}
	order.PaymentStatus = entity.PaymentStatusPending
	return nil
}

// orderIDForIntent reads the order id from the intent metadata, falling
// back to the local payment row. It returns 0 when neither knows the order.
func (s *PaymentService) orderIDForIntent(ctx context.Context, intentID string, metadata map[string]string) int {
	if raw, ok := metadata[orderIDMetadata]; ok {
		if id, err := strconv.Atoi(raw); err == nil && id > 0 {
			return id
		}
		logger.Warn().Msgf("Payment intent %s carries malformed order id %q", intentID, raw)
	}
	if intentID == "" {
		return 0
	}

	payment, err := s.payments.GetPaymentByTransactionID(ctx, entity.GatewayStripe, intentID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			logger.Error().Err(err).Msgf("Error getting payment %s", intentID)
		}
		return 0
	}
	if payment.OrderID == nil {
		return 0
	}
	return *payment.OrderID
}

func (s *PaymentService) syncPaymentRow(ctx context.Context, intentID, status, reason, code string) {
	payment, err := s.payments.GetPaymentByTransactionID(ctx, entity.GatewayStripe, intentID)
	if errors.Is(err, repository.ErrNotFound) {
		return
	}
	if err != nil {
		logger.Error().Err(err).Msgf("Error getting payment %s", intentID)
		return
	}
	if payment.Status == status || payment.IsRefunded {
		return
	}
	if payment.Status == entity.PaymentRowSucceeded {
		// settled rows only change through RecordRefund
		return
	}
	if err := s.payments.UpdatePaymentStatus(ctx, payment.ID, status, reason, code, s.clock()); err != nil {
		logger.Error().Err(err).Msgf("Error updating payment %s", intentID)
	}
}

// HandleStripeWebhook verifies and applies a card gateway event. Only a bad
// signature is reported to the caller; processing failures are logged so the
// gateway does not keep redelivering an event that can never apply.
func (s *PaymentService) HandleStripeWebhook(ctx context.Context, payload []byte, signature string) error {
	event, err := s.card.ParseWebhook(payload, signature)
	if err != nil {
		logger.Warn().Err(err).Msg("Rejected card gateway webhook")
		return apperror.Validation("Invalid webhook signature")
	}
	if event.Type == "" {
		logger.Debug().Msgf("Ignoring webhook event %s of type %s", event.ID, event.RawType)
		return nil
	}

	var key string
	if s.keys != nil && event.ID != "" {
		key = cache.WebhookEventKey(entity.GatewayStripe, event.ID)
		claimed, err := s.keys.Claim(ctx, key, webhookEventTTL)
		if err != nil {
			logger.Error().Err(err).Msgf("Error claiming webhook event %s", event.ID)
			key = ""
		} else if !claimed {
			logger.Info().Msgf("Webhook event %s already processed", event.ID)
			return nil
		}
	}

	if err := s.applyCardEvent(ctx, event); err != nil {
		logger.Error().Err(err).Msgf("Error processing webhook event %s (%s)", event.ID, event.RawType)
		if key != "" {
			if err := s.keys.Release(ctx, key); err != nil {
				logger.Error().Err(err).Msgf("Error releasing webhook event %s", event.ID)
			}
		}
	}
	return nil
}

func (s *PaymentService) applyCardEvent(ctx context.Context, event *gateway.CardEvent) error {
	orderID := s.orderIDForIntent(ctx, event.IntentID, event.Metadata)
	if orderID == 0 {
		logger.Warn().Msgf("Webhook event %s has no order reference", event.ID)
		return nil
	}
	order, err := s.orders.GetOrderByID(ctx, orderID)
	if errors.Is(err, repository.ErrNotFound) {
		logger.Warn().Msgf("Webhook event %s references unknown order %d", event.ID, orderID)
		return nil
	}
	if err != nil {
		return err
	}

	switch event.Type {
	case gateway.EventSucceeded:
		s.syncPaymentRow(ctx, event.IntentID, entity.PaymentRowSucceeded, "", "")
		return s.markPaid(ctx, order, entity.GatewayStripe, event.IntentID)

	case gateway.EventPaymentFailed:
		s.syncPaymentRow(ctx, event.IntentID, entity.PaymentRowFailed, event.Failure, event.Code)
		if order.PaymentStatus == entity.PaymentStatusPaid || order.PaymentStatus == entity.PaymentStatusRefunded {
			return nil
		}
		err := s.orders.UpdatePaymentState(ctx, order.ID, repository.OrderPaymentUpdate{PaymentStatus: entity.PaymentStatusFailed}, s.clock())
		if err != nil {
			return err
		}
		order.PaymentStatus = entity.PaymentStatusFailed
		publish(ctx, s.publisher, order, events.PaymentFailed)

	case gateway.EventCanceled:
		s.syncPaymentRow(ctx, event.IntentID, entity.PaymentRowCanceled, "", "")
		// a cancelled attempt leaves the order payable
		return s.reopen(ctx, order)

	case gateway.EventRefunded:
		if order.PaymentStatus == entity.PaymentStatusRefunded {
			return nil
		}
		rec := repository.RefundRecord{OrderID: order.ID, Amount: order.Total, Reason: "refunded at gateway", At: s.clock()}
		payment, err := s.payments.GetPaymentByTransactionID(ctx, entity.GatewayStripe, event.IntentID)
		if err == nil {
			rec.PaymentID = payment.ID
			rec.Amount = payment.Amount
		} else if !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		if err := s.payments.RecordRefund(ctx, rec); err != nil {
			return err
		}
		order.PaymentStatus = entity.PaymentStatusRefunded
		order.Status = entity.OrderStatusCancelled
		publish(ctx, s.publisher, order, events.OrderRefunded)
	}
	return nil
}

type RefundRequest struct {
	OrderID int              `json:"order_id"`
	Amount  *decimal.Decimal `json:"amount,omitempty"` // nil refunds the full total
	Reason  string           `json:"reason"`
}

type RefundResult struct {
	OrderID  int             `json:"order_id"`
	RefundID string          `json:"refund_id"`
	Status   string          `json:"status"`
	Amount   decimal.Decimal `json:"amount"`
}

// Refund returns money for a paid card order and cancels it.
func (s *PaymentService) Refund(ctx context.Context, r RefundRequest) (*RefundResult, error) {
	order, err := s.ownedOrder(ctx, 0, true, r.OrderID)
	if err != nil {
		return nil, err
	}
	if order.PaymentStatus != entity.PaymentStatusPaid {
		return nil, apperror.InvalidState("Only paid orders can be refunded")
	}

	payment, err := s.cardPayment(ctx, order)
	if err != nil {
		return nil, err
	}

	amount := order.Total
	var amountMinor int64
	if r.Amount != nil {
		if !r.Amount.IsPositive() || r.Amount.GreaterThan(order.Total) {
			return nil, apperror.Validation("Refund amount must be between 0 and %s", order.Total.StringFixed(2))
		}
		amount = roundMoney(*r.Amount)
		amountMinor = toMinor(amount)
	}

	refund, err := s.card.CreateRefund(ctx, payment.TransactionID, amountMinor, r.Reason)
	if err != nil {
		logger.Error().Err(err).Msgf("Error refunding order %d", order.ID)
		return nil, apperror.Gateway("Refund failed", err)
	}
	if refund.AmountMinor > 0 {
		amount = fromMinor(refund.AmountMinor)
	}

	err = s.payments.RecordRefund(ctx, repository.RefundRecord{
		OrderID:   order.ID,
		PaymentID: payment.ID,
		RefundID:  refund.ID,
		Amount:    amount,
		Reason:    r.Reason,
		At:        s.clock(),
	})
	if err != nil {
		// the gateway already moved the money; the charge.refunded webhook will retry the write
		logger.Error().Err(err).Msgf("Refund %s issued for order %d but not recorded", refund.ID, order.ID)
		return nil, err
	}

	order.PaymentStatus = entity.PaymentStatusRefunded
	order.Status = entity.OrderStatusCancelled
	publish(ctx, s.publisher, order, events.OrderRefunded)

	return &RefundResult{OrderID: order.ID, RefundID: refund.ID, Status: refund.Status, Amount: amount}, nil
}

// cardPayment finds the card payment that settled order. Orders without a
// recorded transaction id fall back to their latest payment attempt.
func (s *PaymentService) cardPayment(ctx context.Context, order *entity.Order) (*entity.Payment, error) {
	var payment *entity.Payment
	var err error
	if order.PaymentTransactionID != "" {
		payment, err = s.payments.GetPaymentByTransactionID(ctx, entity.GatewayStripe, order.PaymentTransactionID)
	} else {
		payment, err = s.payments.GetLatestPaymentForOrder(ctx, order.ID)
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperror.InvalidState("Order has no payment transaction")
		}
	}
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperror.InvalidState("Refunds are only supported for card payments")
	}
	if err != nil {
		logger.Error().Err(err).Msgf("Error getting payment for order %d", order.ID)
		return nil, err
	}
	if payment.Gateway != entity.GatewayStripe {
		return nil, apperror.InvalidState("Refunds are only supported for card payments")
	}
	return payment, nil
}

// ListPayments returns every payment attempt recorded for an order.
func (s *PaymentService) ListPayments(ctx context.Context, userID int, isAdmin bool, orderID int) ([]*entity.Payment, error) {
	order, err := s.ownedOrder(ctx, userID, isAdmin, orderID)
	if err != nil {
		return nil, err
	}
	payments, err := s.payments.ListPaymentsByOrder(ctx, order.ID)
	if err != nil {
		logger.Error().Err(err).Msgf("Error listing payments for order %d", order.ID)
		return nil, err
	}
	return payments, nil
}
