package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"checkout-service/internal/apperror"
	"checkout-service/internal/entity"
	"checkout-service/internal/events"
	"checkout-service/internal/gateway"
	"checkout-service/internal/repository"
)

const stubAddressText = "Not provided"

type InitiateRequest struct {
	Amount   decimal.Decimal `json:"amount"` // optional; must match the cart total when set
	Currency string          `json:"currency"`

	CustomerName     string `json:"customer_name"`
	CustomerEmail    string `json:"customer_email"`
	CustomerPhone    string `json:"customer_phone"`
	CustomerAddress  string `json:"customer_address"`
	CustomerCity     string `json:"customer_city"`
	CustomerPostcode string `json:"customer_postcode"`
	CustomerCountry  string `json:"customer_country"`
}

type RedirectSession struct {
	TransactionID string          `json:"transaction_id"`
	GatewayURL    string          `json:"gateway_url"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
}

// InitiateRedirect opens a hosted payment page for the user's cart. No order
// exists yet: only a pending payment row keyed by the new transaction id.
func (s *PaymentService) InitiateRedirect(ctx context.Context, userID int, r InitiateRequest) (*RedirectSession, error) {
	cart, err := s.checkout.carts.GetCart(ctx, userID)
	if err != nil {
		logger.Error().Err(err).Msgf("Error getting cart for user %d", userID)
		return nil, err
	}
	if cart.IsEmpty() {
		return nil, apperror.InvalidState("Cart is empty")
	}

	quote, err := s.checkout.pricing.Quote(ctx, PriceRequest{Subtotal: cart.Subtotal()})
	if err != nil {
		return nil, err
	}
	if !r.Amount.IsZero() && !roundMoney(r.Amount).Equal(quote.Total) {
		return nil, apperror.Validation("Amount does not match the cart total of %s", quote.Total.StringFixed(2))
	}

	user, err := s.checkout.users.GetUserByID(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperror.Unauthorized("User not found")
	}
	if err != nil {
		logger.Error().Err(err).Msgf("Error getting user %d", userID)
		return nil, err
	}

	currency := strings.ToUpper(r.Currency)
	if currency == "" {
		currency = s.settings.RedirectCurrency
	}

	now := s.clock()
	txnID := fmt.Sprintf("TXN-%d-%s", now.UnixMilli(), strings.ToUpper(strings.ReplaceAll(s.newID(), "-", "")[:8]))

	payment, err := s.payments.CreatePayment(ctx, &entity.Payment{
		UserID:        userID,
		Gateway:       entity.GatewaySSLCommerz,
		TransactionID: txnID,
		Amount:        quote.Total,
		Currency:      currency,
		Status:        entity.PaymentRowPending,
		CreatedAt:     now,
	})
	if err != nil {
		logger.Error().Err(err).Msgf("Error saving payment %s", txnID)
		return nil, err
	}

	items := 0
	for _, line := range cart.Lines {
		items += line.Quantity
	}

	base := s.settings.CallbackBaseURL + "/payments/sslcommerz/"
	session, err := s.redirect.InitSession(ctx, gateway.SessionRequest{
		TransactionID:    txnID,
		Amount:           quote.Total,
		Currency:         currency,
		SuccessURL:       base + "success",
		FailURL:          base + "fail",
		CancelURL:        base + "cancel",
		IPNURL:           base + "ipn",
		CustomerName:     firstNonEmpty(r.CustomerName, user.FullName()),
		CustomerEmail:    firstNonEmpty(r.CustomerEmail, user.Email),
		CustomerPhone:    firstNonEmpty(r.CustomerPhone, user.Phone),
		CustomerAddress:  firstNonEmpty(r.CustomerAddress, stubAddressText),
		CustomerCity:     firstNonEmpty(r.CustomerCity, stubAddressText),
		CustomerPostcode: r.CustomerPostcode,
		CustomerCountry:  firstNonEmpty(r.CustomerCountry, "Bangladesh"),
		ProductName:      fmt.Sprintf("Order of %d items", items),
		ProductCategory:  "general",
		NumItems:         items,
	})
	if err != nil {
		logger.Error().Err(err).Msgf("Error opening payment session %s", txnID)
		if uerr := s.payments.UpdatePaymentStatus(ctx, payment.ID, entity.PaymentRowFailed, err.Error(), "", s.clock()); uerr != nil {
			logger.Error().Err(uerr).Msgf("Error marking payment %s failed", txnID)
		}
		return nil, apperror.Gateway("Failed to initiate payment", err)
	}

	logger.Info().Msgf("Payment session %s opened for user %d", txnID, userID)
	return &RedirectSession{TransactionID: txnID, GatewayURL: session.RedirectURL, Amount: quote.Total, Currency: currency}, nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// RedirectCallback is the loosely shaped payload the redirect gateway posts
// back. Every field may be missing.
type RedirectCallback struct {
	TranID     string
	ValID      string
	Amount     string
	Currency   string
	Status     string
	Error      string
	BankTranID string
}

// redirectTransaction is a callback after normalization.
type redirectTransaction struct {
	TransactionID string
	ValidationID  string
	Amount        decimal.Decimal
	Status        string
	Reason        string
}

func (c RedirectCallback) normalize(requireValidation bool) (*redirectTransaction, error) {
	t := &redirectTransaction{
		TransactionID: strings.TrimSpace(c.TranID),
		ValidationID:  strings.TrimSpace(c.ValID),
		Status:        strings.ToUpper(strings.TrimSpace(c.Status)),
		Reason:        strings.TrimSpace(c.Error),
	}
	if t.TransactionID == "" {
		return nil, errors.New("callback without tran_id")
	}
	if requireValidation && t.ValidationID == "" {
		return nil, errors.New("callback without val_id")
	}
	if raw := strings.TrimSpace(c.Amount); raw != "" {
		amount, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("callback amount %q: %w", raw, err)
		}
		t.Amount = amount
	}
	return t, nil
}

// ValidateRedirect handles the success and IPN callbacks. Trust comes only
// from the gateway's validation API. When the payment has no order yet the
// order is created from the user's cart. It never fails; any problem is
// logged and reported as false.
func (s *PaymentService) ValidateRedirect(ctx context.Context, cb RedirectCallback) bool {
	txn, err := cb.normalize(true)
	if err != nil {
		logger.Warn().Err(err).Msg("Rejected redirect gateway callback")
		return false
	}

	validation, err := s.redirect.Validate(ctx, txn.ValidationID)
	if err != nil {
		logger.Error().Err(err).Msgf("Error validating transaction %s", txn.TransactionID)
		return false
	}
	if !validation.Valid() {
		logger.Warn().Msgf("Transaction %s not valid at gateway: %s", txn.TransactionID, validation.Status)
		return false
	}
	if validation.TransactionID != txn.TransactionID {
		logger.Warn().Msgf("Validation %s belongs to %s, not %s", txn.ValidationID, validation.TransactionID, txn.TransactionID)
		return false
	}

	payment, err := s.payments.GetPaymentByTransactionID(ctx, entity.GatewaySSLCommerz, txn.TransactionID)
	if errors.Is(err, repository.ErrNotFound) {
		logger.Warn().Msgf("No payment recorded for transaction %s", txn.TransactionID)
		return false
	}
	if err != nil {
		logger.Error().Err(err).Msgf("Error getting payment %s", txn.TransactionID)
		return false
	}
	if !roundMoney(validation.Amount).Equal(roundMoney(payment.Amount)) {
		logger.Warn().Msgf("Transaction %s paid %s, expected %s", txn.TransactionID, validation.Amount, payment.Amount)
		return false
	}
	if payment.Status == entity.PaymentRowSucceeded && payment.OrderID != nil {
		return true
	}

	var order *entity.Order
	if payment.OrderID != nil {
		order, err = s.orders.GetOrderByID(ctx, *payment.OrderID)
		if err != nil {
			logger.Error().Err(err).Msgf("Error getting order %d for transaction %s", *payment.OrderID, txn.TransactionID)
			return false
		}
		if err := s.markPaid(ctx, order, entity.GatewaySSLCommerz, txn.TransactionID); err != nil {
			return false
		}
	} else {
		order, err = s.placeRedirectOrder(ctx, payment)
		if err != nil {
			// the other callback for this transaction may have won the race
			if s.settledElsewhere(ctx, txn.TransactionID) {
				return true
			}
			logger.Warn().Err(err).Msgf("Could not create order for transaction %s", txn.TransactionID)
			return false
		}
	}

	if err := s.payments.UpdatePaymentStatus(ctx, payment.ID, entity.PaymentRowSucceeded, "", "", s.clock()); err != nil {
		logger.Error().Err(err).Msgf("Error marking payment %s succeeded", txn.TransactionID)
	}
	logger.Info().Msgf("Transaction %s settled order %s", txn.TransactionID, order.OrderNumber)
	return true
}

// settledElsewhere re-reads the payment and reports whether it is now linked
// to a paid order.
func (s *PaymentService) settledElsewhere(ctx context.Context, transactionID string) bool {
	payment, err := s.payments.GetPaymentByTransactionID(ctx, entity.GatewaySSLCommerz, transactionID)
	if err != nil || payment.OrderID == nil {
		return false
	}
	order, err := s.orders.GetOrderByID(ctx, *payment.OrderID)
	if err != nil {
		logger.Error().Err(err).Msgf("Error getting order %d for transaction %s", *payment.OrderID, transactionID)
		return false
	}
	if order.PaymentStatus != entity.PaymentStatusPaid {
		return false
	}
	logger.Info().Msgf("Transaction %s already settled order %s", transactionID, order.OrderNumber)
	return true
}

// placeRedirectOrder creates the order for a payment whose buyer never came
// back through checkout.
func (s *PaymentService) placeRedirectOrder(ctx context.Context, payment *entity.Payment) (*entity.Order, error) {
	user, err := s.checkout.users.GetUserByID(ctx, payment.UserID)
	if err != nil {
		return nil, fmt.Errorf("get user %d: %w", payment.UserID, err)
	}

	cart, err := s.checkout.carts.GetCart(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("get cart: %w", err)
	}
	if cart.IsEmpty() {
		return nil, errors.New("cart is empty")
	}

	address, err := s.checkout.users.GetPreferredAddress(ctx, user.ID)
	if errors.Is(err, repository.ErrNotFound) {
		logger.Warn().Msgf("User %d has no address, creating a placeholder", user.ID)
		address, err = s.checkout.users.CreateAddress(ctx, &entity.Address{
			UserID:     user.ID,
			Street:     stubAddressText,
			City:       stubAddressText,
			State:      stubAddressText,
			PostalCode: stubAddressText,
			Country:    stubAddressText,
			IsDefault:  true,
			CreatedAt:  s.clock(),
		})
	}
	if err != nil {
		return nil, fmt.Errorf("resolve address: %w", err)
	}

	order, err := s.checkout.materialize(ctx, materializeParams{
		UserID:        user.ID,
		Cart:          cart,
		AddressID:     address.ID,
		Status:        entity.OrderStatusProcessing,
		PaymentStatus: entity.PaymentStatusPaid,
		PaymentMethod: entity.GatewaySSLCommerz,
		TransactionID: payment.TransactionID,
		PaymentID:     payment.ID,
	})
	if err != nil {
		return nil, err
	}
	if !order.Total.Equal(payment.Amount) {
		logger.Warn().Msgf("Order %s total %s differs from paid amount %s", order.OrderNumber, order.Total, payment.Amount)
	}

	publish(ctx, s.publisher, order, events.OrderCreated)
	publish(ctx, s.publisher, order, events.OrderPaid)
	return order, nil
}

// HandleRedirectFailure records a failed redirect payment.
func (s *PaymentService) HandleRedirectFailure(ctx context.Context, cb RedirectCallback) bool {
	return s.closeRedirectPayment(ctx, cb, entity.PaymentRowFailed, entity.PaymentStatusFailed)
}

// HandleRedirectCancel records a cancelled redirect payment. The order stays
// payable rather than being cancelled.
func (s *PaymentService) HandleRedirectCancel(ctx context.Context, cb RedirectCallback) bool {
	return s.closeRedirectPayment(ctx, cb, entity.PaymentRowCanceled, entity.PaymentStatusPending)
}

func (s *PaymentService) closeRedirectPayment(ctx context.Context, cb RedirectCallback, rowStatus string, orderStatus entity.PaymentStatus) bool {
	txn, err := cb.normalize(false)
	if err != nil {
		logger.Warn().Err(err).Msg("Rejected redirect gateway callback")
		return false
	}

	payment, err := s.payments.GetPaymentByTransactionID(ctx, entity.GatewaySSLCommerz, txn.TransactionID)
	if errors.Is(err, repository.ErrNotFound) {
		logger.Warn().Msgf("No payment recorded for transaction %s", txn.TransactionID)
		return false
	}
	if err != nil {
		logger.Error().Err(err).Msgf("Error getting payment %s", txn.TransactionID)
		return false
	}
	if payment.Status == entity.PaymentRowSucceeded {
		logger.Warn().Msgf("Ignoring %s callback for settled transaction %s", rowStatus, txn.TransactionID)
		return false
	}

	if err := s.payments.UpdatePaymentStatus(ctx, payment.ID, rowStatus, txn.Reason, txn.Status, s.clock()); err != nil {
		logger.Error().Err(err).Msgf("Error updating payment %s", txn.TransactionID)
		return false
	}
	if payment.OrderID == nil {
		return true
	}

	err = s.orders.UpdatePaymentState(ctx, *payment.OrderID, repository.OrderPaymentUpdate{PaymentStatus: orderStatus}, s.clock())
	if err != nil {
		logger.Error().Err(err).Msgf("Error updating order %d for transaction %s", *payment.OrderID, txn.TransactionID)
		return false
	}
	if orderStatus == entity.PaymentStatusFailed {
		if order, err := s.orders.GetOrderByID(ctx, *payment.OrderID); err == nil {
			publish(ctx, s.publisher, order, events.PaymentFailed)
		}
	}
	return true
}
