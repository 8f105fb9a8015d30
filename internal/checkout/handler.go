package checkout

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/billmalea/devshop-checkout/pkg/models"
)

type Handler struct {
	orchestrator *Orchestrator
	logger       *logrus.Logger
}

func NewHandler(orchestrator *Orchestrator, logger *logrus.Logger) *Handler {
	return &Handler{
		orchestrator: orchestrator,
		logger:       logger,
	}
}

func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	var req models.CheckoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WithError(err).Error("Failed to decode checkout request")
		h.respondWithJSON(w, http.StatusBadRequest, models.CheckoutResponse{
			Success: false,
			Message: "Invalid request body",
		})
		return
	}

	resp := h.orchestrator.Checkout(r.Context(), &req)
	if !resp.Success {
		h.respondWithJSON(w, http.StatusBadRequest, resp)
		return
	}

	h.logger.WithFields(logrus.Fields{
		"order_id":        resp.OrderID,
		"payment_method":  req.PaymentMethod,
		"shipping_method": req.ShippingMethod,
	}).Info("Checkout completed")

	h.respondWithJSON(w, http.StatusOK, resp)
}

func (h *Handler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
