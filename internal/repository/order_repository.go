package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"checkout-service/internal/entity"
)

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db}
}

// CouponRedemption is the coupon usage to record with a new order.
type CouponRedemption struct {
	Usage          entity.CouponUsage
	MaxPerCustomer *int
}

// PlaceOrderParams describes everything that must change atomically when an
// order is created.
type PlaceOrderParams struct {
	Order     *entity.Order
	CartID    int // cart to empty, 0 for none
	Coupon    *CouponRedemption
	PaymentID int // pending payment to link, 0 for none
	Now       time.Time
}

// PlaceOrder assigns the order number, decrements stock, inserts the order
// and its items, redeems the coupon, links the payment and clears the cart
// in a single transaction.
func (r *OrderRepository) PlaceOrder(ctx context.Context, p PlaceOrderParams) (*entity.Order, error) {
	order := p.Order
	now := p.Now.UTC()

	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		number, err := nextOrderNumber(ctx, tx, now)
		if err != nil {
			return err
		}

		for _, item := range order.Items {
			res, err := tx.ExecContext(ctx, `UPDATE products SET stock = stock - ? WHERE id = ? AND stock >= ?`, item.Quantity, item.ProductID, item.Quantity)
			if err != nil {
				return err
			}
			if ok, err := rowsAffectedOne(res); err != nil {
				return err
			} else if !ok {
				return fmt.Errorf("product %d: %w", item.ProductID, ErrInsufficientStock)
			}
		}

		orderQuery := `
			INSERT INTO orders (order_number, user_id, shipping_address_id, subtotal, shipping_cost, tax, discount_amount, total,
			                    coupon_id, status, payment_status, payment_method, payment_transaction_id, notes, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
		res, err := tx.ExecContext(ctx, orderQuery,
			number, order.UserID, order.ShippingAddressID, order.Subtotal, order.ShippingCost, order.Tax, order.DiscountAmount, order.Total,
			nullableInt(order.CouponID), order.Status, order.PaymentStatus, order.PaymentMethod, order.PaymentTransactionID, order.Notes, now, now)
		if err != nil {
			return err
		}

		orderID, err := res.LastInsertId()
		if err != nil {
			return err
		}
		order.ID = int(orderID)
		order.OrderNumber = number
		order.CreatedAt = now
		order.UpdatedAt = now

		if len(order.Items) > 0 {
			// Insert order items with batch
			itemQuery := `INSERT INTO order_items (order_id, product_id, product_name, product_sku, quantity, unit_price, subtotal) VALUES `
			var values []interface{}
			for i := range order.Items {
				order.Items[i].OrderID = order.ID
				item := order.Items[i]
				itemQuery += "(?, ?, ?, ?, ?, ?, ?),"
				values = append(values, order.ID, item.ProductID, item.ProductName, item.ProductSKU, item.Quantity, item.UnitPrice, item.Subtotal)
			}
			// Remove the trailing comma
			itemQuery = itemQuery[:len(itemQuery)-1]

			if _, err := tx.ExecContext(ctx, itemQuery, values...); err != nil {
				return err
			}
		}

		if p.Coupon != nil {
			usage := p.Coupon.Usage
			usage.OrderID = order.ID
			usage.UsedAt = now
			if err := redeemCoupon(ctx, tx, usage, p.Coupon.MaxPerCustomer); err != nil {
				return err
			}
		}

		if p.PaymentID != 0 {
			res, err := tx.ExecContext(ctx, `UPDATE payments SET order_id = ?, updated_at = ? WHERE id = ? AND order_id IS NULL`, order.ID, now, p.PaymentID)
			if err != nil {
				return err
			}
			if ok, err := rowsAffectedOne(res); err != nil {
				return err
			} else if !ok {
				return ErrPaymentLinked
			}
		}

		if p.CartID != 0 {
			if _, err := tx.ExecContext(ctx, `DELETE FROM cart_items WHERE cart_id = ?`, p.CartID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return order, nil
}

// nextOrderNumber allocates yyyyMMdd followed by a four digit per-day
// sequence. The upsert locks the day's row until the transaction ends.
func nextOrderNumber(ctx context.Context, tx *sql.Tx, now time.Time) (string, error) {
	day := now.Format("20060102")
	_, err := tx.ExecContext(ctx, `INSERT INTO order_sequences (day, last_value) VALUES (?, 1) ON DUPLICATE KEY UPDATE last_value = last_value + 1`, day)
	if err != nil {
		return "", err
	}

	var seq int
	if err := tx.QueryRowContext(ctx, `SELECT last_value FROM order_sequences WHERE day = ?`, day).Scan(&seq); err != nil {
		return "", err
	}
	return FormatOrderNumber(now, seq), nil
}

// FormatOrderNumber renders the order number for the given UTC day and sequence.
func FormatOrderNumber(day time.Time, seq int) string {
	return fmt.Sprintf("%s%04d", day.UTC().Format("20060102"), seq)
}

const orderColumns = `id, order_number, user_id, shipping_address_id, subtotal, shipping_cost, tax, discount_amount, total,
	coupon_id, status, payment_status, payment_method, payment_transaction_id, COALESCE(notes, ''), created_at, updated_at`

func scanOrder(row interface{ Scan(...any) error }) (*entity.Order, error) {
	o := &entity.Order{}
	var couponID sql.NullInt64
	err := row.Scan(&o.ID, &o.OrderNumber, &o.UserID, &o.ShippingAddressID, &o.Subtotal, &o.ShippingCost, &o.Tax, &o.DiscountAmount, &o.Total,
		&couponID, &o.Status, &o.PaymentStatus, &o.PaymentMethod, &o.PaymentTransactionID, &o.Notes, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	o.CouponID = intPtr(couponID)
	return o, nil
}

func (r *OrderRepository) GetOrderByID(ctx context.Context, id int) (*entity.Order, error) {
	order, err := scanOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}

	order.Items, err = r.getOrderItems(ctx, r.db, id)
	if err != nil {
		return nil, err
	}
	return order, nil
}

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (r *OrderRepository) getOrderItems(ctx context.Context, q queryer, orderID int) ([]entity.OrderItem, error) {
	query := `SELECT id, order_id, product_id, product_name, product_sku, quantity, unit_price, subtotal FROM order_items WHERE order_id = ? ORDER BY id`
	rows, err := q.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []entity.OrderItem
	for rows.Next() {
		item := entity.OrderItem{}
		err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.ProductName, &item.ProductSKU, &item.Quantity, &item.UnitPrice, &item.Subtotal)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// ListOrders returns orders newest first. A userID of 0 lists every user's orders.
func (r *OrderRepository) ListOrders(ctx context.Context, userID, limit, offset int) ([]*entity.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders`
	var args []interface{}
	if userID != 0 {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*entity.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}

// CancelOrder moves a Pending order to Cancelled and puts every item's
// quantity back into stock.
func (r *OrderRepository) CancelOrder(ctx context.Context, id int, now time.Time) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		var status entity.OrderStatus
		if err := tx.QueryRowContext(ctx, `SELECT status FROM orders WHERE id = ? FOR UPDATE`, id).Scan(&status); err != nil {
			return notFound(err)
		}
		if status != entity.OrderStatusPending {
			return ErrStatusConflict
		}

		items, err := r.getOrderItems(ctx, tx, id)
		if err != nil {
			return err
		}
		for _, item := range items {
			if _, err := tx.ExecContext(ctx, `UPDATE products SET stock = stock + ? WHERE id = ?`, item.Quantity, item.ProductID); err != nil {
				return err
			}
		}

		_, err = tx.ExecContext(ctx, `UPDATE orders SET status = ?, updated_at = ? WHERE id = ?`, entity.OrderStatusCancelled, now.UTC(), id)
		return err
	})
}

// UpdateOrderStatus changes status only if the order is still in from.
func (r *OrderRepository) UpdateOrderStatus(ctx context.Context, id int, from, to entity.OrderStatus, now time.Time) error {
	res, err := r.db.ExecContext(ctx, `UPDATE orders SET status = ?, updated_at = ? WHERE id = ? AND status = ?`, to, now.UTC(), id, from)
	if err != nil {
		return err
	}
	if ok, err := rowsAffectedOne(res); err != nil {
		return err
	} else if !ok {
		return ErrStatusConflict
	}
	return nil
}

// OrderPaymentUpdate is the payment-derived state written onto an order.
// Empty fields are left unchanged.
type OrderPaymentUpdate struct {
	PaymentStatus entity.PaymentStatus
	Status        entity.OrderStatus
	Method        string
	TransactionID string
}

func (r *OrderRepository) UpdatePaymentState(ctx context.Context, id int, u OrderPaymentUpdate, now time.Time) error {
	query := `
		UPDATE orders SET
			payment_status = ?,
			status = COALESCE(NULLIF(?, ''), status),
			payment_method = COALESCE(NULLIF(?, ''), payment_method),
			payment_transaction_id = COALESCE(NULLIF(?, ''), payment_transaction_id),
			updated_at = ?
		WHERE id = ?`
	res, err := r.db.ExecContext(ctx, query, u.PaymentStatus, string(u.Status), u.Method, u.TransactionID, now.UTC(), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		// MySQL reports 0 for a matched row whose values did not change,
		// so confirm the order exists before reporting it missing.
		var exists int
		if err := r.db.QueryRowContext(ctx, `SELECT id FROM orders WHERE id = ?`, id).Scan(&exists); err != nil {
			return notFound(err)
		}
	}
	return nil
}
