package webhooks

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/billmalea/devshop-checkout/internal/metrics"
	"github.com/billmalea/devshop-checkout/pkg/models"
)

type deliveryWebhook struct {
	Event string `json:"event"`
	Data  struct {
		PackageID    string `json:"package_id"`
		Status       string `json:"status"`
		TrackingCode string `json:"tracking_code"`
	} `json:"data"`
}

// DeliveryWebhook ingests package status events from the logistics network
// and propagates a coarse order status to the linked order.
func (h *Handler) DeliveryWebhook(w http.ResponseWriter, r *http.Request) {
	ack := func() {
		h.respondWithJSON(w, http.StatusOK, map[string]interface{}{"success": true})
	}

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WithError(err).Error("Failed to read delivery webhook body")
		metrics.RecordWebhookProcessed("pickup-mtaani", false)
		ack()
		return
	}

	var webhook deliveryWebhook
	if err := json.Unmarshal(raw, &webhook); err != nil {
		h.logger.WithError(err).Error("Failed to decode delivery webhook")
		metrics.RecordWebhookProcessed("pickup-mtaani", false)
		ack()
		return
	}

	h.logger.WithFields(logrus.Fields{
		"event":      webhook.Event,
		"package_id": webhook.Data.PackageID,
		"status":     webhook.Data.Status,
	}).Info("Processing delivery webhook")

	var ok bool
	switch webhook.Event {
	case "package.status_changed":
		status := strings.ToLower(webhook.Data.Status)
		ok = h.applyPackageStatus(webhook.Data.PackageID, status, deriveOrderStatus(status), raw)
	case "package.delivered":
		ok = h.applyPackageStatus(webhook.Data.PackageID, "delivered", models.OrderStatusDelivered, raw)
	case "package.failed":
		ok = h.applyPackageStatus(webhook.Data.PackageID, "failed", models.OrderStatusCancelled, raw)
	default:
		h.logger.WithField("event", webhook.Event).Warn("Unknown delivery webhook event")
		ok = true
	}

	metrics.RecordWebhookProcessed("pickup-mtaani", ok)
	ack()
}

// DeliveryWebhookLiveness answers the provider's GET probe.
func (h *Handler) DeliveryWebhookLiveness(w http.ResponseWriter, r *http.Request) {
	h.respondWithJSON(w, http.StatusOK, map[string]string{
		"message": "pickup mtaani webhook endpoint is live",
	})
}

func (h *Handler) applyPackageStatus(externalID, packageStatus, orderStatus string, raw []byte) bool {
	orderID, err := h.store.UpdatePackageStatusByExternalID(externalID, packageStatus, raw)
	if err != nil {
		h.logger.WithError(err).WithField("package_id", externalID).
			Error("Failed to update delivery package from webhook")
		return false
	}

	if err := h.store.UpdateOrderStatus(orderID, orderStatus); err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"order_id":   orderID,
			"package_id": externalID,
		}).Error("Failed to propagate order status from delivery webhook")
		return false
	}

	h.notify(orderID, orderStatus, "pickup-mtaani", "")
	return true
}

// deriveOrderStatus folds free-text package status into the order lifecycle
// by substring match.
func deriveOrderStatus(packageStatus string) string {
	switch {
	case strings.Contains(packageStatus, "delivered"):
		return models.OrderStatusDelivered
	case strings.Contains(packageStatus, "transit"), strings.Contains(packageStatus, "picked"):
		return models.OrderStatusShipped
	case strings.Contains(packageStatus, "cancel"), strings.Contains(packageStatus, "fail"):
		return models.OrderStatusCancelled
	default:
		return models.OrderStatusProcessing
	}
}
