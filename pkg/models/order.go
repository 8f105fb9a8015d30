package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	OrderStatusPending    = "pending"
	OrderStatusProcessing = "processing"
	OrderStatusShipped    = "shipped"
	OrderStatusDelivered  = "delivered"
	OrderStatusCancelled  = "cancelled"
)

const (
	PaymentMethodMpesa = "mpesa"
	PaymentMethodCOD   = "cod"
)

const (
	ShippingMethodPickupAgent      = "pickup_agent"
	ShippingMethodDoorstepDelivery = "doorstep_delivery"
)

type Order struct {
	ID                 string          `json:"id"`
	UserID             string          `json:"user_id"`
	TotalAmount        decimal.Decimal `json:"total_amount"`
	Status             string          `json:"status"`
	PhoneNumber        string          `json:"phone_number"`
	PaymentMethod      string          `json:"payment_method"`
	ShippingMethod     string          `json:"shipping_method"`
	ShippingAddress    string          `json:"shipping_address"`
	MpesaTransactionID string          `json:"mpesa_transaction_id,omitempty"`
	// CorrelationID is generated at order creation and threaded through to
	// the payment provider's reference field so callbacks can be matched
	// back without phone-number heuristics.
	CorrelationID string      `json:"correlation_id"`
	Items         []OrderItem `json:"items,omitempty"`
	CreatedAt     time.Time   `json:"created_at"`
}

type OrderItem struct {
	OrderID   string          `json:"order_id,omitempty"`
	ProductID string          `json:"product_id"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

type CartItem struct {
	ProductID string          `json:"product_id"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"price"`
	Quantity  int             `json:"quantity"`
}

type CheckoutRequest struct {
	UserID          string          `json:"user_id"`
	Items           []CartItem      `json:"items"`
	ShippingMethod  string          `json:"shipping_method"`
	DestinationID   string          `json:"destination_id"`
	ShippingAddress string          `json:"shipping_address"`
	PaymentMethod   string          `json:"payment_method"`
	PhoneNumber     string          `json:"phone_number"`
	DeliveryFee     decimal.Decimal `json:"delivery_fee"`
}

// StepReport is the serialized equivalent of the per-step toasts the
// storefront shows: each workflow step reports its own outcome and the
// checkout as a whole still completes.
type StepReport struct {
	Step    string `json:"step"`
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

type CheckoutResponse struct {
	Success bool         `json:"success"`
	Message string       `json:"message,omitempty"`
	OrderID string       `json:"order_id,omitempty"`
	Status  string       `json:"status,omitempty"`
	Steps   []StepReport `json:"steps,omitempty"`
}
