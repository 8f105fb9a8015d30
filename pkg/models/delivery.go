package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	PaymentModeCOD     = "COD"
	PaymentModePrepaid = "PREPAID"
)

// DeliveryPackage mirrors a package created with the logistics network.
// Status is free text from the provider, lower-cased on webhook ingestion.
type DeliveryPackage struct {
	ID             string          `json:"id"`
	OrderID        string          `json:"order_id"`
	ExternalID     string          `json:"external_id"`
	TrackingCode   string          `json:"tracking_code"`
	Status         string          `json:"status"`
	DeliveryFee    decimal.Decimal `json:"delivery_fee"`
	PaymentMode    string          `json:"payment_mode"`
	TransactionRef string          `json:"transaction_ref,omitempty"`
	// LastEvent keeps the raw provider payload for audit and debugging.
	LastEvent json.RawMessage `json:"last_event,omitempty"`
	UpdatedAt time.Time       `json:"updated_at"`
}
