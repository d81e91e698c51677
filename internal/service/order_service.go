package service

import (
	"context"
	"errors"
	"time"

	"checkout-service/internal/apperror"
	"checkout-service/internal/entity"
	"checkout-service/internal/events"
	"checkout-service/internal/repository"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type OrderService struct {
	orders    OrderStore
	publisher EventPublisher
	clock     func() time.Time
}

func NewOrderService(orders OrderStore, publisher EventPublisher) *OrderService {
	return &OrderService{orders: orders, publisher: publisher, clock: time.Now}
}

// Get returns the order if userID owns it. Admins may read any order.
func (s *OrderService) Get(ctx context.Context, userID int, isAdmin bool, orderID int) (*entity.Order, error) {
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

func pageBounds(page, pageSize int) (limit, offset int) {
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	if page <= 0 {
		page = 1
	}
	return pageSize, (page - 1) * pageSize
}

// List returns one page of the user's orders, newest first.
func (s *OrderService) List(ctx context.Context, userID, page, pageSize int) ([]*entity.Order, error) {
	limit, offset := pageBounds(page, pageSize)
	orders, err := s.orders.ListOrders(ctx, userID, limit, offset)
	if err != nil {
		logger.Error().Err(err).Msgf("Error listing orders for user %d", userID)
		return nil, err
	}
	return orders, nil
}

// ListAll returns one page of every user's orders.
func (s *OrderService) ListAll(ctx context.Context, page, pageSize int) ([]*entity.Order, error) {
	return s.List(ctx, 0, page, pageSize)
}

// Cancel cancels a Pending order and restocks its items.
func (s *OrderService) Cancel(ctx context.Context, userID int, isAdmin bool, orderID int) (*entity.Order, error) {
	order, err := s.Get(ctx, userID, isAdmin, orderID)
	if err != nil {
		return nil, err
	}
	return s.cancel(ctx, order)
}

func (s *OrderService) cancel(ctx context.Context, order *entity.Order) (*entity.Order, error) {
	if order.Status != entity.OrderStatusPending {
		return nil, apperror.InvalidState("Cannot cancel order that is already processing")
	}

	err := s.orders.CancelOrder(ctx, order.ID, s.clock())
	switch {
	case errors.Is(err, repository.ErrStatusConflict):
		return nil, apperror.InvalidState("Cannot cancel order that is already processing")
	case errors.Is(err, repository.ErrNotFound):
		return nil, apperror.NotFound("Order not found")
	case err != nil:
		logger.Error().Err(err).Msgf("Error cancelling order %d", order.ID)
		return nil, err
	}

	order.Status = entity.OrderStatusCancelled
	logger.Info().Msgf("Order %s cancelled", order.OrderNumber)
	publish(ctx, s.publisher, order, events.OrderCancelled)
	return order, nil
}

// UpdateStatus moves an order along its lifecycle. Cancelling goes through
// the same restocking path as a customer cancel.
func (s *OrderService) UpdateStatus(ctx context.Context, orderID int, to entity.OrderStatus) (*entity.Order, error) {
	if !to.Valid() {
		return nil, apperror.Validation("Invalid order status %q", to)
	}

	order, err := s.Get(ctx, 0, true, orderID)
	if err != nil {
		return nil, err
	}
	if to == entity.OrderStatusCancelled {
		return s.cancel(ctx, order)
	}
	if !order.Status.CanTransition(to) {
		return nil, apperror.InvalidState("Cannot change order status from %s to %s", order.Status, to)
	}

	err = s.orders.UpdateOrderStatus(ctx, orderID, order.Status, to, s.clock())
	if errors.Is(err, repository.ErrStatusConflict) {
		return nil, apperror.InvalidState("Order status changed, please retry")
	}
	if err != nil {
		logger.Error().Err(err).Msgf("Error updating status of order %d", orderID)
		return nil, err
	}

	order.Status = to
	publish(ctx, s.publisher, order, events.OrderStatus)
	return order, nil
}
