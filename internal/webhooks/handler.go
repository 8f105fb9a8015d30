// Package webhooks receives the asynchronous provider callbacks that
// reconcile payment and delivery outcomes onto order records. Every handler
// acknowledges the provider even when internal processing fails, so
// provider-side retry logic never mistakes a reconciliation bug for a dead
// endpoint.
package webhooks

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/billmalea/devshop-checkout/internal/events"
	"github.com/billmalea/devshop-checkout/pkg/models"
)

type Store interface {
	FindLatestPendingOrderByPhone(phoneNumber string) (*models.Order, error)
	MarkOrderPaid(orderID, transactionRef string) error
	UpdateOrderStatus(orderID, status string) error
	FindLatestPackageWithoutRef() (*models.DeliveryPackage, error)
	MarkPackagePaid(packageID, transactionRef string, rawEvent []byte) error
	UpdatePackageStatusByExternalID(externalID, status string, rawEvent []byte) (string, error)
}

type EventPublisher interface {
	PublishOrderStatusChanged(event events.OrderStatusChangedEvent) error
}

type Broadcaster interface {
	BroadcastOrderStatus(orderID, status, source, transactionRef string)
}

type Handler struct {
	store    Store
	producer EventPublisher
	hub      Broadcaster
	logger   *logrus.Logger
}

func NewHandler(store Store, producer EventPublisher, hub Broadcaster, logger *logrus.Logger) *Handler {
	return &Handler{
		store:    store,
		producer: producer,
		hub:      hub,
		logger:   logger,
	}
}

// notify publishes and broadcasts a status change, best-effort.
func (h *Handler) notify(orderID, status, source, transactionRef string) {
	if h.producer != nil {
		event := events.OrderStatusChangedEvent{
			OrderID:        orderID,
			Status:         status,
			Source:         source,
			TransactionRef: transactionRef,
		}
		if err := h.producer.PublishOrderStatusChanged(event); err != nil {
			h.logger.WithError(err).Error("Failed to publish order status changed event")
		}
	}
	if h.hub != nil {
		h.hub.BroadcastOrderStatus(orderID, status, source, transactionRef)
	}
}

func (h *Handler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
