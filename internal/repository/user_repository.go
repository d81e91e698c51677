package repository

import (
	"context"
	"database/sql"

	"checkout-service/internal/entity"
)

// UserRepository reads accounts and addresses owned by the account service.
// CreateAddress is the one write, used when a redirect payment arrives for a
// user who never saved an address.
type UserRepository struct {
	db *sql.DB
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db}
}

func (r *UserRepository) GetUserByID(ctx context.Context, id int) (*entity.User, error) {
	user := &entity.User{}
	query := `SELECT id, email, first_name, last_name, phone, is_active FROM users WHERE id = ?`
	err := r.db.QueryRowContext(ctx, query, id).Scan(&user.ID, &user.Email, &user.FirstName, &user.LastName, &user.Phone, &user.IsActive)
	if err != nil {
		return nil, notFound(err)
	}
	return user, nil
}

const addressColumns = `id, user_id, street, city, state, postal_code, country, is_default, created_at`

func scanAddress(row interface{ Scan(...any) error }) (*entity.Address, error) {
	a := &entity.Address{}
	err := row.Scan(&a.ID, &a.UserID, &a.Street, &a.City, &a.State, &a.PostalCode, &a.Country, &a.IsDefault, &a.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return a, nil
}

func (r *UserRepository) GetAddressByID(ctx context.Context, id int) (*entity.Address, error) {
	query := `SELECT ` + addressColumns + ` FROM addresses WHERE id = ?`
	return scanAddress(r.db.QueryRowContext(ctx, query, id))
}

// GetPreferredAddress returns the user's default address, or their oldest
// one when none is flagged default.
func (r *UserRepository) GetPreferredAddress(ctx context.Context, userID int) (*entity.Address, error) {
	query := `SELECT ` + addressColumns + ` FROM addresses WHERE user_id = ? ORDER BY is_default DESC, id ASC LIMIT 1`
	return scanAddress(r.db.QueryRowContext(ctx, query, userID))
}

func (r *UserRepository) CreateAddress(ctx context.Context, address *entity.Address) (*entity.Address, error) {
	query := `INSERT INTO addresses (user_id, street, city, state, postal_code, country, is_default, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	res, err := r.db.ExecContext(ctx, query, address.UserID, address.Street, address.City, address.State, address.PostalCode, address.Country, address.IsDefault, address.CreatedAt)
	if err != nil {
		return nil, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	address.ID = int(id)
	return address, nil
}
