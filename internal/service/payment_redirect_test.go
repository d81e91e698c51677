package service

import (
	"fmt"

	"checkout-service/internal/apperror"
	"checkout-service/internal/entity"
	"checkout-service/internal/events"
	"checkout-service/internal/gateway"
)

func (s *PaymentTestSuite) initiate() *RedirectSession {
	s.store.addCartLine(buyer, 10, 2, "12.50", 10)
	session, err := s.payments.InitiateRedirect(s.ctx, buyer, InitiateRequest{})
	s.Require().NoError(err)
	return session
}

func (s *PaymentTestSuite) validates(txnID, valID, amount string) {
	s.redirect.validations[valID] = &gateway.Validation{Status: "VALID", TransactionID: txnID, ValidationID: valID, Amount: dec(amount), Currency: "BDT"}
}

func (s *PaymentTestSuite) TestInitiateRedirect() {
	session := s.initiate()

	s.Equal(fmt.Sprintf("TXN-%d-0F8FAD5B", testNow.UnixMilli()), session.TransactionID)
	s.Equal("https://sandbox.sslcommerz.com/pay/sess", session.GatewayURL)
	s.True(session.Amount.Equal(dec("37.49")))
	s.Equal("BDT", session.Currency)

	s.Require().Len(s.redirect.sessions, 1)
	req := s.redirect.sessions[0]
	s.Equal("https://api.example.com/payments/sslcommerz/success", req.SuccessURL)
	s.Equal("https://api.example.com/payments/sslcommerz/ipn", req.IPNURL)
	s.Equal("Ada Buyer", req.CustomerName)
	s.Equal(2, req.NumItems)

	payment, err := s.store.GetPaymentByTransactionID(s.ctx, entity.GatewaySSLCommerz, session.TransactionID)
	s.Require().NoError(err)
	s.Nil(payment.OrderID)
	s.Equal(entity.PaymentRowPending, payment.Status)
	s.Empty(s.store.orders)
}

func (s *PaymentTestSuite) TestInitiateRedirectChecksAmountAndCart() {
	_, err := s.payments.InitiateRedirect(s.ctx, buyer, InitiateRequest{})
	s.EqualError(err, "Cart is empty")

	s.store.addCartLine(buyer, 10, 2, "12.50", 10)
	_, err = s.payments.InitiateRedirect(s.ctx, buyer, InitiateRequest{Amount: dec("1.00")})
	s.True(apperror.Is(err, apperror.KindValidation))
	s.Empty(s.store.payments)
}

func (s *PaymentTestSuite) TestInitiateRedirectSessionFailure() {
	s.store.addCartLine(buyer, 10, 1, "5", 10)
	s.redirect.sessionErr = &gateway.Error{Gateway: "sslcommerz", Op: "init session", Message: "Store Credential Error"}

	_, err := s.payments.InitiateRedirect(s.ctx, buyer, InitiateRequest{})
	s.True(apperror.Is(err, apperror.KindGateway))
	s.Require().Len(s.store.payments, 1)
	for _, p := range s.store.payments {
		s.Equal(entity.PaymentRowFailed, p.Status)
	}
}

func (s *PaymentTestSuite) TestCallbackWithoutPaymentReturnsFalse() {
	s.validates("TXN-1-NOPE", "val-1", "10")

	s.False(s.payments.ValidateRedirect(s.ctx, RedirectCallback{TranID: "TXN-1-NOPE", ValID: "val-1", Amount: "10"}))
	s.False(s.payments.ValidateRedirect(s.ctx, RedirectCallback{}))
	s.Empty(s.store.orders)
}

func (s *PaymentTestSuite) TestCallbackWithEmptyCartReturnsFalse() {
	session := s.initiate()
	s.store.carts[buyer].Lines = nil
	s.validates(session.TransactionID, "val-2", "37.49")

	s.False(s.payments.ValidateRedirect(s.ctx, RedirectCallback{TranID: session.TransactionID, ValID: "val-2"}))
	s.Empty(s.store.orders)
}

func (s *PaymentTestSuite) TestCallbackRejectsUnvalidatedTransaction() {
	session := s.initiate()

	s.False(s.payments.ValidateRedirect(s.ctx, RedirectCallback{TranID: session.TransactionID, ValID: "forged"}))

	s.validates("TXN-OTHER", "val-3", "37.49")
	s.False(s.payments.ValidateRedirect(s.ctx, RedirectCallback{TranID: session.TransactionID, ValID: "val-3"}))

	s.validates(session.TransactionID, "val-4", "1.00")
	s.False(s.payments.ValidateRedirect(s.ctx, RedirectCallback{TranID: session.TransactionID, ValID: "val-4"}))
	s.Empty(s.store.orders)
}

func (s *PaymentTestSuite) TestCallbackCreatesOrderFromCart() {
	session := s.initiate()
	s.validates(session.TransactionID, "val-5", "37.49")
	cb := RedirectCallback{TranID: session.TransactionID, ValID: "val-5", Amount: "37.49", Status: "VALID"}

	s.True(s.payments.ValidateRedirect(s.ctx, cb))
	s.Require().Len(s.store.orders, 1)

	var order *entity.Order
	for _, o := range s.store.orders {
		order = o
	}
	s.Equal(entity.OrderStatusProcessing, order.Status)
	s.Equal(entity.PaymentStatusPaid, order.PaymentStatus)
	s.Equal(session.TransactionID, order.PaymentTransactionID)
	s.True(order.Total.Equal(dec("37.49")))
	s.Empty(s.store.carts[buyer].Lines)
	s.Equal(8, s.store.stock[10])

	address := s.store.addresses[order.ShippingAddressID]
	s.Require().NotNil(address)
	s.Equal(stubAddressText, address.Street)

	payment, _ := s.store.GetPaymentByTransactionID(s.ctx, entity.GatewaySSLCommerz, session.TransactionID)
	s.Equal(entity.PaymentRowSucceeded, payment.Status)
	s.Equal(order.ID, *payment.OrderID)
	s.Equal([]string{events.OrderCreated, events.OrderPaid}, s.publisher.events)

	// the IPN for the same transaction arrives after the browser redirect
	s.True(s.payments.ValidateRedirect(s.ctx, cb))
	s.Len(s.store.orders, 1)
}

func (s *PaymentTestSuite) TestCallbackUsesSavedAddress() {
	address := s.store.addAddress(buyer)
	session := s.initiate()
	s.validates(session.TransactionID, "val-6", "37.49")

	s.True(s.payments.ValidateRedirect(s.ctx, RedirectCallback{TranID: session.TransactionID, ValID: "val-6"}))
	for _, o := range s.store.orders {
		s.Equal(address.ID, o.ShippingAddressID)
	}
}

func (s *PaymentTestSuite) TestCallbackForLinkedPaymentMarksPaid() {
	order := s.pendingOrder()
	id := order.ID
	payment, err := s.store.CreatePayment(s.ctx, &entity.Payment{
		OrderID: &id, UserID: buyer, Gateway: entity.GatewaySSLCommerz, TransactionID: "TXN-9-LINKED",
		Amount: order.Total, Currency: "BDT", Status: entity.PaymentRowPending,
	})
	s.Require().NoError(err)
	s.validates("TXN-9-LINKED", "val-7", order.Total.String())

	s.True(s.payments.ValidateRedirect(s.ctx, RedirectCallback{TranID: "TXN-9-LINKED", ValID: "val-7"}))
	stored := s.store.orders[order.ID]
	s.Equal(entity.PaymentStatusPaid, stored.PaymentStatus)
	s.Equal(entity.OrderStatusProcessing, stored.Status)
	s.Equal(entity.PaymentRowSucceeded, s.store.payments[payment.ID].Status)
	s.Len(s.store.orders, 1)
}

func (s *PaymentTestSuite) linkedRedirectPayment() (*entity.Order, *entity.Payment) {
	order := s.pendingOrder()
	id := order.ID
	payment, err := s.store.CreatePayment(s.ctx, &entity.Payment{
		OrderID: &id, UserID: buyer, Gateway: entity.GatewaySSLCommerz, TransactionID: "TXN-8-LINKED",
		Amount: order.Total, Currency: "BDT", Status: entity.PaymentRowPending,
	})
	s.Require().NoError(err)
	return order, payment
}

func (s *PaymentTestSuite) TestFailureCallback() {
	order, payment := s.linkedRedirectPayment()

	s.True(s.payments.HandleRedirectFailure(s.ctx, RedirectCallback{TranID: "TXN-8-LINKED", Status: "FAILED", Error: "Insufficient balance"}))
	s.Equal(entity.PaymentRowFailed, s.store.payments[payment.ID].Status)
	s.Equal("Insufficient balance", s.store.payments[payment.ID].FailureReason)
	s.Equal(entity.PaymentStatusFailed, s.store.orders[order.ID].PaymentStatus)
	s.Equal(entity.OrderStatusPending, s.store.orders[order.ID].Status)
	s.Equal([]string{events.PaymentFailed}, s.publisher.events)
}

func (s *PaymentTestSuite) TestCancelCallbackKeepsOrderPayable() {
	order, payment := s.linkedRedirectPayment()
	s.store.orders[order.ID].PaymentStatus = entity.PaymentStatusFailed

	s.True(s.payments.HandleRedirectCancel(s.ctx, RedirectCallback{TranID: "TXN-8-LINKED"}))
	s.Equal(entity.PaymentRowCanceled, s.store.payments[payment.ID].Status)
	s.Equal(entity.PaymentStatusPending, s.store.orders[order.ID].PaymentStatus)
	s.Equal(entity.OrderStatusPending, s.store.orders[order.ID].Status)
}

func (s *PaymentTestSuite) TestFailureCallbackEdgeCases() {
	s.False(s.payments.HandleRedirectFailure(s.ctx, RedirectCallback{}))
	s.False(s.payments.HandleRedirectFailure(s.ctx, RedirectCallback{TranID: "TXN-404"}))

	session := s.initiate()
	s.True(s.payments.HandleRedirectCancel(s.ctx, RedirectCallback{TranID: session.TransactionID}))
	s.Empty(s.store.orders)

	_, payment := s.linkedRedirectPayment()
	s.store.payments[payment.ID].Status = entity.PaymentRowSucceeded
	s.False(s.payments.HandleRedirectFailure(s.ctx, RedirectCallback{TranID: "TXN-8-LINKED"}))
	s.Equal(entity.PaymentRowSucceeded, s.store.payments[payment.ID].Status)
}

func (s *PaymentTestSuite) TestNormalizeCallback() {
	_, err := RedirectCallback{TranID: "TXN-1"}.normalize(true)
	s.Error(err)

	_, err = RedirectCallback{TranID: "TXN-1", ValID: "v", Amount: "abc"}.normalize(true)
	s.Error(err)

	txn, err := RedirectCallback{TranID: " TXN-1 ", ValID: "v", Amount: "10.50", Status: "valid"}.normalize(true)
	s.Require().NoError(err)
	s.Equal("TXN-1", txn.TransactionID)
	s.Equal("VALID", txn.Status)
	s.True(txn.Amount.Equal(dec("10.5")))
}

func (s *PaymentTestSuite) TestLosingCallbackReportsSettledPayment() {
	session := s.initiate()
	s.validates(session.TransactionID, "val-10", "37.49")
	cb := RedirectCallback{TranID: session.TransactionID, ValID: "val-10"}
	before, err := s.store.GetPaymentByTransactionID(s.ctx, entity.GatewaySSLCommerz, session.TransactionID)
	s.Require().NoError(err)

	s.True(s.payments.ValidateRedirect(s.ctx, cb))
	s.Require().Len(s.store.orders, 1)

	// the IPN read the payment before the browser callback committed; the cart is gone by now
	s.store.stale[session.TransactionID] = before
	s.True(s.payments.ValidateRedirect(s.ctx, cb))

	// the cart was refilled, so the late callback reaches the payment link and loses there
	s.store.addCartLine(buyer, 11, 1, "5.00", 5)
	s.store.stale[session.TransactionID] = before
	s.True(s.payments.ValidateRedirect(s.ctx, cb))

	s.Len(s.store.orders, 1)
	s.Equal(5, s.store.stock[11])
	s.Len(s.store.carts[buyer].Lines, 1)
	s.Equal([]string{events.OrderCreated, events.OrderPaid}, s.publisher.events)
}
