package webhooks

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/billmalea/devshop-checkout/internal/metrics"
)

type tinyPesaCallback struct {
	Status         string `json:"status"`
	Msisdn         string `json:"msisdn"`
	MpesaReference string `json:"mpesa_reference"`
	AccountNo      string `json:"account_no"`
}

// TinyPesaCallback reconciles a TinyPesa payment result. Structurally the
// same as the M-Pesa path, keyed on a status string instead of a numeric
// result code.
func (h *Handler) TinyPesaCallback(w http.ResponseWriter, r *http.Request) {
	ack := func() {
		h.respondWithJSON(w, http.StatusOK, map[string]interface{}{"success": true})
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WithError(err).Error("Failed to read TinyPesa callback body")
		metrics.RecordWebhookProcessed("tinypesa", false)
		ack()
		return
	}

	var callback tinyPesaCallback
	if err := json.Unmarshal(raw, &callback); err != nil {
		h.logger.WithError(err).Error("Failed to decode TinyPesa callback")
		metrics.RecordWebhookProcessed("tinypesa", false)
		ack()
		return
	}

	h.logger.WithFields(logrus.Fields{
		"status":    callback.Status,
		"msisdn":    callback.Msisdn,
		"reference": callback.MpesaReference,
	}).Info("Processing TinyPesa callback")

	ok := h.reconcilePayment(callback.Status == "success", callback.Msisdn,
		callback.MpesaReference, raw, "tinypesa")
	metrics.RecordWebhookProcessed("tinypesa", ok)
	ack()
}
