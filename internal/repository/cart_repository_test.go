package repository

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetCartWithoutCart(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCartRepository(db)

	mock.ExpectQuery(q("SELECT id FROM carts WHERE user_id = ?")).WithArgs(1).WillReturnError(sql.ErrNoRows)

	cart, err := repo.GetCart(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 0, cart.ID)
	assert.True(t, cart.IsEmpty())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCart(t *testing.T) {
	db, mock := newMock(t)
	repo := NewCartRepository(db)

	mock.ExpectQuery(q("SELECT id FROM carts WHERE user_id = ?")).WithArgs(1).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(4))
	mock.ExpectQuery(q("FROM cart_items ci")).WithArgs(4).
		WillReturnRows(sqlmock.NewRows([]string{"id", "product_id", "name", "sku", "quantity", "price", "added_at"}).
			AddRow(1, 10, "Mug", "MUG-1", 2, "19.99", testNow).
			AddRow(2, 11, "Tee", "TEE-1", 1, "15.00", testNow))

	cart, err := repo.GetCart(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 4, cart.ID)
	require.Len(t, cart.Lines, 2)
	assert.Equal(t, "MUG-1", cart.Lines[0].ProductSKU)
	assert.True(t, cart.Subtotal().Equal(decimal.RequireFromString("54.98")))
	assert.NoError(t, mock.ExpectationsWereMet())
}
