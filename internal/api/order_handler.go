package api

import (
	"context"
	"strconv"

	"github.com/labstack/echo/v4"

	"checkout-service/internal/entity"
)

type OrderService interface {
	Get(ctx context.Context, userID int, isAdmin bool, orderID int) (*entity.Order, error)
	List(ctx context.Context, userID, page, pageSize int) ([]*entity.Order, error)
	ListAll(ctx context.Context, page, pageSize int) ([]*entity.Order, error)
	Cancel(ctx context.Context, userID int, isAdmin bool, orderID int) (*entity.Order, error)
	UpdateStatus(ctx context.Context, orderID int, to entity.OrderStatus) (*entity.Order, error)
}

type OrderHandler struct {
	orders OrderService
}

func NewOrderHandler(orders OrderService) *OrderHandler {
	return &OrderHandler{orders: orders}
}

func page(c echo.Context) (int, int) {
	p, _ := strconv.Atoi(c.QueryParam("page"))
	size, _ := strconv.Atoi(c.QueryParam("pageSize"))
	return p, size
}

func orderList(orders []*entity.Order) []*entity.Order {
	if orders == nil {
		return []*entity.Order{}
	}
	return orders
}

// ListOrders --> GET /orders
func (h *OrderHandler) ListOrders(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}

	p, size := page(c)
	orders, err := h.orders.List(c.Request().Context(), user.ID, p, size)
	if err != nil {
		return err
	}
	return ok(c, orderList(orders))
}

// GetOrder --> GET /orders/:id
func (h *OrderHandler) GetOrder(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := intParam(c, "id")
	if err != nil {
		return err
	}

	order, err := h.orders.Get(c.Request().Context(), user.ID, user.IsAdmin(), id)
	if err != nil {
		return err
	}
	return ok(c, order)
}

// CancelOrder --> POST /orders/:id/cancel
func (h *OrderHandler) CancelOrder(c echo.Context) error {
	user, err := currentUser(c)
	if err != nil {
		return err
	}
	id, err := intParam(c, "id")
	if err != nil {
		return err
	}

	order, err := h.orders.Cancel(c.Request().Context(), user.ID, user.IsAdmin(), id)
	if err != nil {
		return err
	}
	return okMessage(c, order, "Order cancelled successfully")
}

// AdminListOrders --> GET /admin/orders
func (h *OrderHandler) AdminListOrders(c echo.Context) error {
	p, size := page(c)
	orders, err := h.orders.ListAll(c.Request().Context(), p, size)
	if err != nil {
		return err
	}
	return ok(c, orderList(orders))
}

type statusRequest struct {
	Status entity.OrderStatus `json:"status"`
}

// UpdateOrderStatus --> PUT /admin/orders/:id/status
func (h *OrderHandler) UpdateOrderStatus(c echo.Context) error {
	id, err := intParam(c, "id")
	if err != nil {
		return err
	}
	req := statusRequest{}
	if err := bind(c, &req); err != nil {
		return err
	}

	order, err := h.orders.UpdateStatus(c.Request().Context(), id, req.Status)
	if err != nil {
		return err
	}
	return okMessage(c, order, "Order status updated")
}
