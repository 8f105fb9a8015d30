package store

import (
	"io"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/billmalea/devshop-checkout/pkg/models"
)

func newTestStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return New(db, logger), mock
}

func TestSaveOrderTransaction(t *testing.T) {
	store, mock := newTestStore(t)

	order := &models.Order{
		ID:             "order-1",
		UserID:         "user-1",
		TotalAmount:    decimal.NewFromInt(1650),
		Status:         models.OrderStatusPending,
		PhoneNumber:    "254712345678",
		PaymentMethod:  models.PaymentMethodMpesa,
		ShippingMethod: models.ShippingMethodPickupAgent,
		CorrelationID:  "corr-1",
		CreatedAt:      time.Now(),
	}
	items := []models.OrderItem{
		{ProductID: "p1", Quantity: 2, UnitPrice: decimal.NewFromInt(500)},
		{ProductID: "p2", Quantity: 1, UnitPrice: decimal.NewFromInt(500)},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO orders").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO order_items").
		WithArgs("order-1", "p1", 2, decimal.NewFromInt(500)).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO order_items").
		WithArgs("order-1", "p2", 1, decimal.NewFromInt(500)).
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	if err := store.SaveOrder(order, items); err != nil {
		t.Fatalf("SaveOrder: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestSaveOrderRollsBackOnItemFailure(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO orders").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO order_items").
		WillReturnError(sqlmock.ErrCancelled)
	mock.ExpectRollback()

	order := &models.Order{ID: "order-2", CreatedAt: time.Now()}
	items := []models.OrderItem{{ProductID: "p1", Quantity: 1, UnitPrice: decimal.NewFromInt(10)}}

	if err := store.SaveOrder(order, items); err == nil {
		t.Fatal("expected error when item insert fails")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestDecrementStockInsufficient(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectExec("UPDATE products SET stock = stock -").
		WithArgs("p1", 5).
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := store.DecrementStock("p1", 5); err == nil {
		t.Fatal("expected error when no rows match")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestFindLatestPendingOrderByPhone(t *testing.T) {
	store, mock := newTestStore(t)

	rows := sqlmock.NewRows([]string{
		"id", "user_id", "total_amount", "status", "phone_number",
		"payment_method", "shipping_method", "shipping_address",
		"mpesa_transaction_id", "correlation_id", "created_at",
	}).AddRow("order-1", "user-1", "1650", models.OrderStatusPending,
		"254712345678", "mpesa", "pickup_agent", "", "", "corr-1", time.Now())

	mock.ExpectQuery("SELECT (.+) FROM orders").
		WithArgs("254712345678", models.OrderStatusPending).
		WillReturnRows(rows)

	order, err := store.FindLatestPendingOrderByPhone("254712345678")
	if err != nil {
		t.Fatalf("FindLatestPendingOrderByPhone: %v", err)
	}
	if order.ID != "order-1" {
		t.Errorf("order id = %q, want order-1", order.ID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestUpdatePackageStatusByExternalIDReturnsOrderID(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("UPDATE delivery_packages").
		WillReturnRows(sqlmock.NewRows([]string{"order_id"}).AddRow("order-9"))

	orderID, err := store.UpdatePackageStatusByExternalID("ext-1", "in transit", []byte(`{}`))
	if err != nil {
		t.Fatalf("UpdatePackageStatusByExternalID: %v", err)
	}
	if orderID != "order-9" {
		t.Errorf("order id = %q, want order-9", orderID)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("expectations: %v", err)
	}
}

func TestGetUserPhoneMissingUser(t *testing.T) {
	store, mock := newTestStore(t)

	mock.ExpectQuery("SELECT phone_number FROM users").
		WithArgs("ghost").
		WillReturnRows(sqlmock.NewRows([]string{"phone_number"}))

	phone, err := store.GetUserPhone("ghost")
	if err != nil {
		t.Fatalf("GetUserPhone: %v", err)
	}
	if phone != "" {
		t.Errorf("phone = %q, want empty for missing user", phone)
	}
}
