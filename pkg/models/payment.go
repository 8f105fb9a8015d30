package models

import "github.com/shopspring/decimal"

// Uniform status vocabulary exposed by the payment facade regardless of
// the backing provider.
const (
	PaymentStatusPending = "pending"
	PaymentStatusSuccess = "success"
	PaymentStatusFailed  = "failed"
	PaymentStatusUnknown = "unknown"
)

type InitiateResult struct {
	Success           bool   `json:"success"`
	RequestID         string `json:"requestId,omitempty"`
	CheckoutRequestID string `json:"checkoutRequestId,omitempty"`
	Message           string `json:"message,omitempty"`
}

type StatusResult struct {
	Success        bool            `json:"success"`
	Status         string          `json:"status"`
	TransactionRef string          `json:"transactionRef,omitempty"`
	Amount         decimal.Decimal `json:"amount"`
	Message        string          `json:"message,omitempty"`
}
