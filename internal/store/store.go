// Package store persists orders, line items and delivery packages in
// Postgres.
package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/billmalea/devshop-checkout/pkg/models"
)

type Store struct {
	db     *sql.DB
	logger *logrus.Logger
}

func New(db *sql.DB, logger *logrus.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger,
	}
}

func (s *Store) CreateTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			id VARCHAR(255) PRIMARY KEY,
			user_id VARCHAR(255) NOT NULL,
			total_amount DECIMAL(12,2) NOT NULL,
			status VARCHAR(50) NOT NULL,
			phone_number VARCHAR(20) NOT NULL,
			payment_method VARCHAR(20) NOT NULL,
			shipping_method VARCHAR(30) NOT NULL,
			shipping_address TEXT,
			mpesa_transaction_id VARCHAR(100),
			correlation_id VARCHAR(64) NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS order_items (
			id SERIAL PRIMARY KEY,
			order_id VARCHAR(255) NOT NULL REFERENCES orders(id),
			product_id VARCHAR(255) NOT NULL,
			quantity INTEGER NOT NULL,
			unit_price DECIMAL(12,2) NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS delivery_packages (
			id VARCHAR(255) PRIMARY KEY,
			order_id VARCHAR(255) NOT NULL REFERENCES orders(id),
			external_id VARCHAR(255) NOT NULL,
			tracking_code VARCHAR(100),
			status VARCHAR(100) NOT NULL,
			delivery_fee DECIMAL(12,2) NOT NULL DEFAULT 0,
			payment_mode VARCHAR(20) NOT NULL,
			transaction_ref VARCHAR(100),
			last_event JSONB,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS products (
			id VARCHAR(255) PRIMARY KEY,
			name VARCHAR(255) NOT NULL,
			price DECIMAL(12,2) NOT NULL,
			stock INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS users (
			id VARCHAR(255) PRIMARY KEY,
			phone_number VARCHAR(20)
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key VARCHAR(100) PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_phone_status ON orders(phone_number, status)`,
		`CREATE INDEX IF NOT EXISTS idx_order_items_order_id ON order_items(order_id)`,
		`CREATE INDEX IF NOT EXISTS idx_delivery_packages_external_id ON delivery_packages(external_id)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return err
		}
	}

	return nil
}

// SaveOrder inserts the order and its line items in one transaction. Stock
// decrements are deliberately outside it; see DecrementStock.
func (s *Store) SaveOrder(order *models.Order, items []models.OrderItem) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO orders (id, user_id, total_amount, status, phone_number,
			payment_method, shipping_method, shipping_address, correlation_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = tx.Exec(query, order.ID, order.UserID, order.TotalAmount, order.Status,
		order.PhoneNumber, order.PaymentMethod, order.ShippingMethod,
		order.ShippingAddress, order.CorrelationID, order.CreatedAt)
	if err != nil {
		return err
	}

	for _, item := range items {
		itemQuery := `
			INSERT INTO order_items (order_id, product_id, quantity, unit_price)
			VALUES ($1, $2, $3, $4)
		`
		if _, err := tx.Exec(itemQuery, order.ID, item.ProductID, item.Quantity, item.UnitPrice); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) GetOrder(orderID string) (*models.Order, error) {
	order := &models.Order{}
	query := `
		SELECT id, user_id, total_amount, status, phone_number, payment_method,
			shipping_method, shipping_address, COALESCE(mpesa_transaction_id, ''),
			correlation_id, created_at
		FROM orders WHERE id = $1
	`
	err := s.db.QueryRow(query, orderID).Scan(
		&order.ID, &order.UserID, &order.TotalAmount, &order.Status,
		&order.PhoneNumber, &order.PaymentMethod, &order.ShippingMethod,
		&order.ShippingAddress, &order.MpesaTransactionID,
		&order.CorrelationID, &order.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	itemsQuery := `
		SELECT product_id, quantity, unit_price
		FROM order_items WHERE order_id = $1
	`
	rows, err := s.db.Query(itemsQuery, orderID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var item models.OrderItem
		if err := rows.Scan(&item.ProductID, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, err
		}
		item.OrderID = order.ID
		order.Items = append(order.Items, item)
	}

	return order, rows.Err()
}

func (s *Store) UpdateOrderStatus(orderID, status string) error {
	result, err := s.db.Exec(`UPDATE orders SET status = $2 WHERE id = $1`, orderID, status)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// MarkOrderPaid records the provider's receipt and moves the order to
// processing in one statement.
func (s *Store) MarkOrderPaid(orderID, transactionRef string) error {
	result, err := s.db.Exec(`
		UPDATE orders SET status = $2, mpesa_transaction_id = $3 WHERE id = $1
	`, orderID, models.OrderStatusProcessing, transactionRef)
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// FindLatestPendingOrderByPhone is the callback-matching heuristic inherited
// from the storefront: most recent pending order for the paying phone
// number. Concurrent checkouts from one phone are ambiguous under it, which
// is why the correlation id also travels with the payment reference.
func (s *Store) FindLatestPendingOrderByPhone(phoneNumber string) (*models.Order, error) {
	order := &models.Order{}
	query := `
		SELECT id, user_id, total_amount, status, phone_number, payment_method,
			shipping_method, shipping_address, COALESCE(mpesa_transaction_id, ''),
			correlation_id, created_at
		FROM orders
		WHERE phone_number = $1 AND status = $2
		ORDER BY created_at DESC
		LIMIT 1
	`
	err := s.db.QueryRow(query, phoneNumber, models.OrderStatusPending).Scan(
		&order.ID, &order.UserID, &order.TotalAmount, &order.Status,
		&order.PhoneNumber, &order.PaymentMethod, &order.ShippingMethod,
		&order.ShippingAddress, &order.MpesaTransactionID,
		&order.CorrelationID, &order.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return order, nil
}

// DecrementStock atomically reserves stock for one line item. The orchestrator
// logs and swallows a failure here rather than rolling the order back.
func (s *Store) DecrementStock(productID string, quantity int) error {
	result, err := s.db.Exec(`
		UPDATE products SET stock = stock - $2 WHERE id = $1 AND stock >= $2
	`, productID, quantity)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("insufficient stock for product %s", productID)
	}
	return nil
}

func (s *Store) SaveDeliveryPackage(pkg *models.DeliveryPackage) error {
	if pkg.UpdatedAt.IsZero() {
		pkg.UpdatedAt = time.Now()
	}
	query := `
		INSERT INTO delivery_packages (id, order_id, external_id, tracking_code,
			status, delivery_fee, payment_mode, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.Exec(query, pkg.ID, pkg.OrderID, pkg.ExternalID,
		pkg.TrackingCode, pkg.Status, pkg.DeliveryFee, pkg.PaymentMode, pkg.UpdatedAt)
	return err
}

// UpdatePackageStatusByExternalID applies a webhook status change and returns
// the linked order id so the caller can propagate the coarse order status.
func (s *Store) UpdatePackageStatusByExternalID(externalID, status string, rawEvent []byte) (string, error) {
	var orderID string
	err := s.db.QueryRow(`
		UPDATE delivery_packages
		SET status = $2, last_event = $3, updated_at = $4
		WHERE external_id = $1
		RETURNING order_id
	`, externalID, status, rawEvent, time.Now()).Scan(&orderID)
	if err != nil {
		return "", err
	}
	return orderID, nil
}

// FindLatestPackageWithoutRef returns the most recent delivery package that
// has not yet been matched to a payment.
func (s *Store) FindLatestPackageWithoutRef() (*models.DeliveryPackage, error) {
	pkg := &models.DeliveryPackage{}
	query := `
		SELECT id, order_id, external_id, COALESCE(tracking_code, ''), status,
			delivery_fee, payment_mode, updated_at
		FROM delivery_packages
		WHERE transaction_ref IS NULL
		ORDER BY updated_at DESC
		LIMIT 1
	`
	err := s.db.QueryRow(query).Scan(
		&pkg.ID, &pkg.OrderID, &pkg.ExternalID, &pkg.TrackingCode,
		&pkg.Status, &pkg.DeliveryFee, &pkg.PaymentMode, &pkg.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return pkg, nil
}

func (s *Store) MarkPackagePaid(packageID, transactionRef string, rawEvent []byte) error {
	result, err := s.db.Exec(`
		UPDATE delivery_packages
		SET status = 'paid', transaction_ref = $2, last_event = $3, updated_at = $4
		WHERE id = $1
	`, packageID, transactionRef, rawEvent, time.Now())
	if err != nil {
		return err
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Store) GetUserPhone(userID string) (string, error) {
	var phone sql.NullString
	err := s.db.QueryRow(`SELECT phone_number FROM users WHERE id = $1`, userID).Scan(&phone)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return phone.String, nil
}

func (s *Store) SetUserPhone(userID, phoneNumber string) error {
	_, err := s.db.Exec(`
		INSERT INTO users (id, phone_number) VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE SET phone_number = EXCLUDED.phone_number
	`, userID, phoneNumber)
	return err
}

func (s *Store) GetSetting(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = $1`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return value, nil
}

func (s *Store) SetSetting(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`, key, value)
	return err
}
