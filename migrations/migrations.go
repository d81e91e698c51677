package migrations

import (
	"database/sql"
	"fmt"
	"time"
)

// Tables owned by the catalog, cart and account services. They are created
// here only so a fresh database can boot; this service never alters them.
var collaboratorTables = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id INT AUTO_INCREMENT PRIMARY KEY,
		email VARCHAR(255) NOT NULL UNIQUE,
		first_name VARCHAR(100) NOT NULL DEFAULT '',
		last_name VARCHAR(100) NOT NULL DEFAULT '',
		phone VARCHAR(32) NOT NULL DEFAULT '',
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE TABLE IF NOT EXISTS products (
		id INT AUTO_INCREMENT PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		sku VARCHAR(64) NOT NULL UNIQUE,
		price DECIMAL(18,2) NOT NULL,
		stock INT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS addresses (
		id INT AUTO_INCREMENT PRIMARY KEY,
		user_id INT NOT NULL,
		street VARCHAR(255) NOT NULL,
		city VARCHAR(100) NOT NULL,
		state VARCHAR(100) NOT NULL DEFAULT '',
		postal_code VARCHAR(20) NOT NULL DEFAULT '',
		country VARCHAR(100) NOT NULL,
		is_default BOOLEAN NOT NULL DEFAULT FALSE,
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		INDEX idx_addresses_user (user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS carts (
		id INT AUTO_INCREMENT PRIMARY KEY,
		user_id INT NOT NULL UNIQUE
	)`,
	`CREATE TABLE IF NOT EXISTS cart_items (
		id INT AUTO_INCREMENT PRIMARY KEY,
		cart_id INT NOT NULL,
		product_id INT NOT NULL,
		quantity INT NOT NULL,
		price DECIMAL(18,2) NOT NULL,
		added_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		FOREIGN KEY (cart_id) REFERENCES carts(id) ON DELETE CASCADE
	)`,
}

var checkoutTables = []string{
	`CREATE TABLE IF NOT EXISTS tax_rates (
		id INT AUTO_INCREMENT PRIMARY KEY,
		region_code VARCHAR(16) NOT NULL UNIQUE,
		rate DECIMAL(7,4) NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE TABLE IF NOT EXISTS shipping_methods (
		id INT AUTO_INCREMENT PRIMARY KEY,
		name VARCHAR(100) NOT NULL UNIQUE,
		description VARCHAR(255) NOT NULL DEFAULT '',
		base_cost DECIMAL(18,2) NOT NULL,
		cost_per_weight DECIMAL(18,2) NULL,
		min_delivery_days INT NOT NULL,
		max_delivery_days INT NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE TABLE IF NOT EXISTS coupons (
		id INT AUTO_INCREMENT PRIMARY KEY,
		code VARCHAR(64) NOT NULL UNIQUE,
		description VARCHAR(255) NOT NULL DEFAULT '',
		discount_type VARCHAR(16) NOT NULL,
		discount_percentage DECIMAL(7,4) NOT NULL DEFAULT 0,
		fixed_discount_amount DECIMAL(18,2) NOT NULL DEFAULT 0,
		max_discount_amount DECIMAL(18,2) NULL,
		minimum_order_amount DECIMAL(18,2) NOT NULL DEFAULT 0,
		max_usage_count INT NULL,
		max_usage_per_customer INT NULL,
		usage_count INT NOT NULL DEFAULT 0,
		start_date DATETIME NOT NULL,
		expiry_date DATETIME NOT NULL,
		is_active BOOLEAN NOT NULL DEFAULT TRUE
	)`,
	`CREATE TABLE IF NOT EXISTS order_sequences (
		day CHAR(8) PRIMARY KEY,
		last_value INT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id INT AUTO_INCREMENT PRIMARY KEY,
		order_number VARCHAR(32) NOT NULL UNIQUE,
		user_id INT NOT NULL,
		shipping_address_id INT NOT NULL,
		subtotal DECIMAL(18,2) NOT NULL,
		shipping_cost DECIMAL(18,2) NOT NULL,
		tax DECIMAL(18,2) NOT NULL,
		discount_amount DECIMAL(18,2) NOT NULL DEFAULT 0,
		total DECIMAL(18,2) NOT NULL,
		coupon_id INT NULL,
		status VARCHAR(20) NOT NULL,
		payment_status VARCHAR(20) NOT NULL,
		payment_method VARCHAR(32) NOT NULL DEFAULT '',
		payment_transaction_id VARCHAR(255) NOT NULL DEFAULT '',
		notes TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		INDEX idx_orders_user (user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		id INT AUTO_INCREMENT PRIMARY KEY,
		order_id INT NOT NULL,
		product_id INT NOT NULL,
		product_name VARCHAR(255) NOT NULL,
		product_sku VARCHAR(64) NOT NULL,
		quantity INT NOT NULL,
		unit_price DECIMAL(18,2) NOT NULL,
		subtotal DECIMAL(18,2) NOT NULL,
		FOREIGN KEY (order_id) REFERENCES orders(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS coupon_usages (
		id INT AUTO_INCREMENT PRIMARY KEY,
		coupon_id INT NOT NULL,
		user_id INT NOT NULL,
		order_id INT NOT NULL,
		discount_amount DECIMAL(18,2) NOT NULL,
		used_at DATETIME NOT NULL,
		INDEX idx_coupon_usages_user (coupon_id, user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS payments (
		id INT AUTO_INCREMENT PRIMARY KEY,
		order_id INT NULL,
		user_id INT NOT NULL,
		gateway VARCHAR(20) NOT NULL,
		transaction_id VARCHAR(255) NOT NULL,
		amount DECIMAL(18,2) NOT NULL,
		currency VARCHAR(8) NOT NULL,
		status VARCHAR(32) NOT NULL,
		is_refunded BOOLEAN NOT NULL DEFAULT FALSE,
		refunded_amount DECIMAL(18,2) NULL,
		refund_id VARCHAR(255) NOT NULL DEFAULT '',
		refunded_at DATETIME NULL,
		refund_reason VARCHAR(255) NOT NULL DEFAULT '',
		failure_reason VARCHAR(255) NOT NULL DEFAULT '',
		failure_code VARCHAR(64) NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		UNIQUE KEY uq_payments_gateway_txn (gateway, transaction_id),
		INDEX idx_payments_order (order_id)
	)`,
}

// AutoMigrate creates every table the service reads or writes if it does not exist.
func AutoMigrate(db *sql.DB, retries int) error {
	for _, query := range append(collaboratorTables, checkoutTables...) {
		if err := execWithRetry(db, query, retries); err != nil {
			return err
		}
	}
	return nil
}

func execWithRetry(db *sql.DB, query string, retries int) error {
	_, err := db.Exec(query)
	for i := 0; err != nil && i < retries; i++ {
		time.Sleep(1 * time.Second)
		_, err = db.Exec(query)
	}
	if err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}
