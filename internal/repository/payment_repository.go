package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/shopspring/decimal"

	"checkout-service/internal/entity"
)

type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db}
}

func (r *PaymentRepository) CreatePayment(ctx context.Context, p *entity.Payment) (*entity.Payment, error) {
	query := `
		INSERT INTO payments (order_id, user_id, gateway, transaction_id, amount, currency, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, nullableInt(p.OrderID), p.UserID, p.Gateway, p.TransactionID, p.Amount, p.Currency, p.Status, p.CreatedAt.UTC(), p.CreatedAt.UTC())
	if err != nil {
		return nil, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	p.ID = int(id)
	p.UpdatedAt = p.CreatedAt
	return p, nil
}

const paymentColumns = `id, order_id, user_id, gateway, transaction_id, amount, currency, status, is_refunded, refunded_amount,
	refund_id, refunded_at, refund_reason, failure_reason, failure_code, created_at, updated_at`

func scanPayment(row interface{ Scan(...any) error }) (*entity.Payment, error) {
	p := &entity.Payment{}
	var orderID sql.NullInt64
	var refunded decimal.NullDecimal
	var refundedAt sql.NullTime
	err := row.Scan(&p.ID, &orderID, &p.UserID, &p.Gateway, &p.TransactionID, &p.Amount, &p.Currency, &p.Status, &p.IsRefunded, &refunded,
		&p.RefundID, &refundedAt, &p.RefundReason, &p.FailureReason, &p.FailureCode, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	p.OrderID = intPtr(orderID)
	p.RefundedAmount = decimalPtr(refunded)
	if refundedAt.Valid {
		p.RefundedAt = &refundedAt.Time
	}
	return p, nil
}

func (r *PaymentRepository) GetPaymentByTransactionID(ctx context.Context, gateway, transactionID string) (*entity.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE gateway = ? AND transaction_id = ?`
	return scanPayment(r.db.QueryRowContext(ctx, query, gateway, transactionID))
}

// GetLatestPaymentForOrder returns the most recent attempt recorded for the order.
func (r *PaymentRepository) GetLatestPaymentForOrder(ctx context.Context, orderID int) (*entity.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE order_id = ? ORDER BY id DESC LIMIT 1`
	return scanPayment(r.db.QueryRowContext(ctx, query, orderID))
}

func (r *PaymentRepository) ListPaymentsByOrder(ctx context.Context, orderID int) ([]*entity.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE order_id = ? ORDER BY id`
	rows, err := r.db.QueryContext(ctx, query, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []*entity.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

// UpdatePaymentStatus records a gateway status. Failure fields are only
// overwritten when non-empty.
func (r *PaymentRepository) UpdatePaymentStatus(ctx context.Context, id int, status, failureReason, failureCode string, now time.Time) error {
	query := `
		UPDATE payments SET
			status = ?,
			failure_reason = COALESCE(NULLIF(?, ''), failure_reason),
			failure_code = COALESCE(NULLIF(?, ''), failure_code),
			updated_at = ?
		WHERE id = ?`
	_, err := r.db.ExecContext(ctx, query, status, failureReason, failureCode, now.UTC(), id)
	return err
}

// RefundRecord is what a successful gateway refund writes back.
type RefundRecord struct {
	OrderID   int
	PaymentID int // 0 when the order has no local payment row
	RefundID  string
	Amount    decimal.Decimal
	Reason    string
	At        time.Time
}

// RecordRefund marks the payment refunded and the order Refunded/Cancelled together.
func (r *PaymentRepository) RecordRefund(ctx context.Context, rec RefundRecord) error {
	at := rec.At.UTC()
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if rec.PaymentID != 0 {
			query := `
				UPDATE payments SET status = ?, is_refunded = TRUE, refunded_amount = ?, refund_id = ?, refunded_at = ?, refund_reason = ?, updated_at = ?
				WHERE id = ?`
			if _, err := tx.ExecContext(ctx, query, entity.PaymentRowRefunded, rec.Amount, rec.RefundID, at, rec.Reason, at, rec.PaymentID); err != nil {
				return err
			}
		}

		_, err := tx.ExecContext(ctx, `UPDATE orders SET payment_status = ?, status = ?, updated_at = ? WHERE id = ?`,
			entity.PaymentStatusRefunded, entity.OrderStatusCancelled, at, rec.OrderID)
		return err
	})
}
