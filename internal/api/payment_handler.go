package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/labstack/echo/v4"

	"checkout-service/internal/apperror"
	"checkout-service/internal/entity"
	"checkout-service/internal/service"
)

const maxWebhookBody = 1 << 20

// Opaque codes shown on the storefront failure page.
const (
	codeValidationFailed = "PAYMENT_NOT_VERIFIED"
	codePaymentFailed    = "PAYMENT_FAILED"
)

type PaymentService interface {
	CreateIntent(ctx context.Context, userID, orderID int, currency string) (*service.PaymentIntent, error)
	Confirm(ctx context.Context, userID int, intentID string) (*entity.PaymentConfirmation, error)
	HandleStripeWebhook(ctx context.Context, payload []byte, signature string) error
	Refund(ctx context.Context, r service.RefundRequest) (*service.RefundResult, error)
	ListPayments(ctx context.Context, userID int, isAdmin bool, orderID int) ([]*entity.Payment, error)
	InitiateRedirect(ctx context.Context, userID int, r service.InitiateRequest) (*service.RedirectSession, error)
	ValidateRedirect(ctx context.Context, cb service.RedirectCallback) bool
	HandleRedirectFailure(ctx context.Context, cb service.RedirectCallback) bool
	HandleRedirectCancel(ctx context.Context, cb service.RedirectCallback) bool
}

type PaymentHandler struct {
	payments    PaymentService
	frontendURL string
}

func NewPaymentHandler(payments PaymentService, frontendURL string) *PaymentHandler {
	return &PaymentHandler{payments: payments, frontendURL: strings.TrimRight(frontendURL, "/")}
}

type createIntentRequest struct {
	OrderID  int    `json:"order_id"`
	Currency string `json:"currency"`
}

// CreateIntent --> POST /payments/create-intent
func (h *PaymentHandler) CreateIntent(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	req := createIntentRequest{}
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.OrderID <= 0 {
		return apperror.Validation("Order id is required")
	}

	intent, err := h.payments.CreateIntent(c.Request().Context(), user.ID, req.OrderID, req.Currency)
	if err != nil {
		return err
	}
	return ok(c, intent)
}

type confirmRequest struct {
	PaymentIntentID string `json:"payment_intent_id"`
}

// Confirm --> POST /payments/confirm
func (h *PaymentHandler) Confirm(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	req := confirmRequest{}
	if err := bind(c, &req); err != nil {
		return err
	}

	result, err := h.payments.Confirm(c.Request().Context(), user.ID, req.PaymentIntentID)
	if err != nil {
		return err
	}
	return okMessage(c, result, result.Message)
}

// Webhook receives signed card gateway events --> POST /payments/webhook
func (h *PaymentHandler) Webhook(c echo.Context) error {
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBody+1))
	if err != nil {
		return apperror.Validation("Invalid webhook payload")
	}
	if len(payload) > maxWebhookBody {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge, "Webhook payload too large")
	}

	err = h.payments.HandleStripeWebhook(c.Request().Context(), payload, c.Request().Header.Get("Stripe-Signature"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, Response{Success: true})
}

// Refund --> POST /payments/refund (admin)
func (h *PaymentHandler) Refund(c echo.Context) error {
	req := service.RefundRequest{}
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.OrderID <= 0 {
		return apperror.Validation("Order id is required")
	}

	result, err := h.payments.Refund(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return okMessage(c, result, "Refund processed successfully")
}

// ListPayments --> GET /payments/order/:orderId
func (h *PaymentHandler) ListPayments(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	orderID, err := intParam(c, "orderId")
	if err != nil {
		return err
	}

	payments, err := h.payments.ListPayments(c.Request().Context(), user.ID, user.IsAdmin(), orderID)
	if err != nil {
		return err
	}
	if payments == nil {
		payments = []*entity.Payment{}
	}
	return ok(c, payments)
}

// Initiate opens a hosted payment page --> POST /payments/initiate
func (h *PaymentHandler) Initiate(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	req := service.InitiateRequest{}
	if err := bind(c, &req); err != nil {
		return err
	}

	session, err := h.payments.InitiateRedirect(c.Request().Context(), user.ID, req)
	if err != nil {
		return err
	}
	return ok(c, session)
}

// readCallback collects the gateway's fields from the form body, query
// string or a JSON body, matching keys case-insensitively.
func readCallback(c echo.Context) service.RedirectCallback {
	fields := map[string]string{}
	req := c.Request()

	if strings.HasPrefix(req.Header.Get(echo.HeaderContentType), echo.MIMEApplicationJSON) {
		raw := map[string]interface{}{}
		if err := json.NewDecoder(io.LimitReader(req.Body, maxWebhookBody)).Decode(&raw); err != nil {
			logger.Warn().Err(err).Msg("Unreadable gateway callback body")
		}
		for k, v := range raw {
			if v != nil {
				fields[strings.ToLower(k)] = fmt.Sprint(v)
			}
		}
	} else if form, err := c.FormParams(); err == nil {
		for k, v := range form {
			if len(v) > 0 {
				fields[strings.ToLower(k)] = v[0]
			}
		}
	} else {
		logger.Warn().Err(err).Msg("Unreadable gateway callback form")
	}

	for k, v := range c.QueryParams() {
		key := strings.ToLower(k)
		if _, seen := fields[key]; !seen && len(v) > 0 {
			fields[key] = v[0]
		}
	}

	return service.RedirectCallback{
		TranID:     fields["tran_id"],
		ValID:      fields["val_id"],
		Amount:     fields["amount"],
		Currency:   fields["currency"],
		Status:     fields["status"],
		Error:      fields["error"],
		BankTranID: fields["bank_tran_id"],
	}
}

func (h *PaymentHandler) redirectTo(c echo.Context, page string, params url.Values) error {
	target := h.frontendURL + "/payment/" + page
	if len(params) > 0 {
		target += "?" + params.Encode()
	}
	return c.Redirect(http.StatusSeeOther, target)
}

// SSLCommerzSuccess --> POST /payments/sslcommerz/success
func (h *PaymentHandler) SSLCommerzSuccess(c echo.Context) error {
	cb := readCallback(c)
	params := url.Values{}
	if cb.TranID != "" {
		params.Set("tran_id", cb.TranID)
	}

	if !h.payments.ValidateRedirect(c.Request().Context(), cb) {
		params.Set("code", codeValidationFailed)
		return h.redirectTo(c, "failed", params)
	}
	return h.redirectTo(c, "success", params)
}

// SSLCommerzFail --> POST /payments/sslcommerz/fail
func (h *PaymentHandler) SSLCommerzFail(c echo.Context) error {
	cb := readCallback(c)
	h.payments.HandleRedirectFailure(c.Request().Context(), cb)

	params := url.Values{"code": {codePaymentFailed}}
	if cb.TranID != "" {
		params.Set("tran_id", cb.TranID)
	}
	return h.redirectTo(c, "failed", params)
}

// SSLCommerzCancel --> POST /payments/sslcommerz/cancel
func (h *PaymentHandler) SSLCommerzCancel(c echo.Context) error {
	cb := readCallback(c)
	h.payments.HandleRedirectCancel(c.Request().Context(), cb)

	params := url.Values{}
	if cb.TranID != "" {
		params.Set("tran_id", cb.TranID)
	}
	return h.redirectTo(c, "cancelled", params)
}

// SSLCommerzIPN is the gateway's server-to-server notification. It always
// answers 200 so the gateway does not retry --> POST /payments/sslcommerz/ipn
func (h *PaymentHandler) SSLCommerzIPN(c echo.Context) error {
	cb := readCallback(c)

	var handled bool
	switch strings.ToUpper(cb.Status) {
	case "FAILED":
		handled = h.payments.HandleRedirectFailure(c.Request().Context(), cb)
	case "CANCELLED":
		handled = h.payments.HandleRedirectCancel(c.Request().Context(), cb)
	default:
		handled = h.payments.ValidateRedirect(c.Request().Context(), cb)
	}
	return c.JSON(http.StatusOK, Response{Success: handled})
}
