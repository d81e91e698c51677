package repository

import (
	"context"
	"database/sql"
	"errors"

	"checkout-service/internal/entity"
)

// CartRepository reads carts owned by the cart service.
type CartRepository struct {
	db *sql.DB
}

func NewCartRepository(db *sql.DB) *CartRepository {
	return &CartRepository{db}
}

// GetCart returns the user's cart with product name and SKU joined in.
// A user without a cart gets an empty one with ID 0.
func (r *CartRepository) GetCart(ctx context.Context, userID int) (*entity.Cart, error) {
	cart := &entity.Cart{UserID: userID}
	err := r.db.QueryRowContext(ctx, `SELECT id FROM carts WHERE user_id = ?`, userID).Scan(&cart.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return cart, nil
	}
	if err != nil {
		return nil, err
	}

	query := `
		SELECT ci.id, ci.product_id, p.name, p.sku, ci.quantity, ci.price, ci.added_at
		FROM cart_items ci
		JOIN products p ON p.id = ci.product_id
		WHERE ci.cart_id = ?
		ORDER BY ci.id`
	rows, err := r.db.QueryContext(ctx, query, cart.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		line := entity.CartLine{}
		err := rows.Scan(&line.ID, &line.ProductID, &line.ProductName, &line.ProductSKU, &line.Quantity, &line.Price, &line.AddedAt)
		if err != nil {
			return nil, err
		}
		cart.Lines = append(cart.Lines, line)
	}

	return cart, rows.Err()
}
