package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"checkout-service/internal/auth"
)

type Handlers struct {
	Checkout *CheckoutHandler
	Orders   *OrderHandler
	Payments *PaymentHandler
}

// RegisterRoutes mounts every endpoint. authn guards customer routes and
// callbackLimit throttles the unauthenticated gateway callbacks.
func RegisterRoutes(e *echo.Echo, h Handlers, authn echo.MiddlewareFunc, callbackLimit echo.MiddlewareFunc) {
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"status":  "ok",
			"service": "checkout-service",
			"time":    time.Now().Format(time.RFC3339),
		})
	})

	checkout := e.Group("/checkout", authn)
	checkout.GET("/summary", h.Checkout.Summary)
	checkout.POST("/create-order", h.Checkout.CreateOrder)
	checkout.POST("/calculate-tax", h.Checkout.CalculateTax)
	checkout.POST("/calculate-shipping", h.Checkout.CalculateShipping)
	checkout.POST("/validate-coupon", h.Checkout.ValidateCoupon)
	checkout.GET("/shipping-methods", h.Checkout.ShippingMethods)

	orders := e.Group("/orders", authn)
	orders.GET("", h.Orders.ListOrders)
	orders.GET("/:id", h.Orders.GetOrder)
	orders.POST("/:id/cancel", h.Orders.CancelOrder)

	admin := e.Group("/admin", authn, auth.RequireAdmin)
	admin.GET("/orders", h.Orders.AdminListOrders)
	admin.PUT("/orders/:id/status", h.Orders.UpdateOrderStatus)

	// public: authenticated by signature or by server-side validation
	e.POST("/payments/webhook", h.Payments.Webhook)
	callbacks := e.Group("/payments/sslcommerz", callbackLimit)
	callbacks.POST("/success", h.Payments.SSLCommerzSuccess)
	callbacks.POST("/fail", h.Payments.SSLCommerzFail)
	callbacks.POST("/cancel", h.Payments.SSLCommerzCancel)
	callbacks.POST("/ipn", h.Payments.SSLCommerzIPN)

	payments := e.Group("/payments", authn)
	payments.POST("/create-intent", h.Payments.CreateIntent)
	payments.POST("/confirm", h.Payments.Confirm)
	payments.POST("/initiate", h.Payments.Initiate)
	payments.GET("/order/:orderId", h.Payments.ListPayments)
	payments.POST("/refund", h.Payments.Refund, auth.RequireAdmin)
}
