package webhooks

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/billmalea/devshop-checkout/internal/metrics"
	"github.com/billmalea/devshop-checkout/pkg/models"
)

type mpesaCallback struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []struct {
					Name  string          `json:"Name"`
					Value json.RawMessage `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// MpesaCallback handles the Daraja STK result. The acknowledgement envelope
// is returned unconditionally; Daraja treats anything else as a delivery
// failure and retries.
func (h *Handler) MpesaCallback(w http.ResponseWriter, r *http.Request) {
	ack := func() {
		h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
			"ResultCode": 0,
			"ResultDesc": "Accepted",
		})
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WithError(err).Error("Failed to read M-Pesa callback body")
		metrics.RecordWebhookProcessed("mpesa", false)
		ack()
		return
	}

	var callback mpesaCallback
	if err := json.Unmarshal(raw, &callback); err != nil {
		h.logger.WithError(err).Error("Failed to decode M-Pesa callback")
		metrics.RecordWebhookProcessed("mpesa", false)
		ack()
		return
	}

	stk := callback.Body.StkCallback
	receipt, phoneNumber := "", ""
	var amount decimal.Decimal
	for _, item := range stk.CallbackMetadata.Item {
		switch item.Name {
		case "MpesaReceiptNumber":
			if err := json.Unmarshal(item.Value, &receipt); err != nil {
				h.logger.WithError(err).Warn("Malformed receipt in M-Pesa callback")
			}
		case "Amount":
			if err := json.Unmarshal(item.Value, &amount); err != nil {
				h.logger.WithError(err).Warn("Malformed amount in M-Pesa callback")
			}
		case "PhoneNumber":
			// Daraja sends the phone as a JSON number.
			var n json.Number
			if err := json.Unmarshal(item.Value, &n); err == nil {
				phoneNumber = n.String()
			}
		}
	}

	h.logger.WithFields(logrus.Fields{
		"result_code": stk.ResultCode,
		"receipt":     receipt,
		"amount":      amount.String(),
		"phone":       phoneNumber,
	}).Info("Processing M-Pesa callback")

	ok := h.reconcilePayment(stk.ResultCode == 0, phoneNumber, receipt, raw, "mpesa")
	metrics.RecordWebhookProcessed("mpesa", ok)
	ack()
}

// reconcilePayment applies a payment outcome to the most recent matching
// pending order, and on success to the most recent unpaid delivery package.
func (h *Handler) reconcilePayment(success bool, phoneNumber, receipt string, raw []byte, source string) bool {
	order, err := h.store.FindLatestPendingOrderByPhone(phoneNumber)
	if err != nil {
		h.logger.WithError(err).WithField("phone", phoneNumber).
			Warn("No pending order matched payment callback")
		return false
	}

	if !success {
		if err := h.store.UpdateOrderStatus(order.ID, models.OrderStatusCancelled); err != nil {
			h.logger.WithError(err).WithField("order_id", order.ID).
				Error("Failed to cancel order after failed payment")
			return false
		}
		h.notify(order.ID, models.OrderStatusCancelled, source, "")
		return true
	}

	if err := h.store.MarkOrderPaid(order.ID, receipt); err != nil {
		h.logger.WithError(err).WithField("order_id", order.ID).
			Error("Failed to mark order paid")
		return false
	}
	h.notify(order.ID, models.OrderStatusProcessing, source, receipt)

	pkg, err := h.store.FindLatestPackageWithoutRef()
	if err != nil {
		h.logger.WithError(err).Info("No unpaid delivery package to reconcile")
		return true
	}
	if err := h.store.MarkPackagePaid(pkg.ID, receipt, raw); err != nil {
		h.logger.WithError(err).WithField("package_id", pkg.ID).
			Error("Failed to mark delivery package paid")
		return false
	}

	return true
}
