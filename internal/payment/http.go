package payment

import (
	"encoding/json"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/billmalea/devshop-checkout/internal/metrics"
)

// Handler serves the storefront-facing payment API.
type Handler struct {
	service *Service
	logger  *logrus.Logger
}

func NewHandler(service *Service, logger *logrus.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

type stkRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	PhoneNumber string          `json:"phoneNumber"`
	Reference   string          `json:"reference"`
	Description string          `json:"description"`
}

func (h *Handler) InitiateSTK(w http.ResponseWriter, r *http.Request) {
	var req stkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.WithError(err).Error("Failed to decode STK request")
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.Amount.Sign() <= 0 {
		h.respondWithError(w, http.StatusBadRequest, "Amount must be greater than zero")
		return
	}
	if req.PhoneNumber == "" || req.Reference == "" {
		h.respondWithError(w, http.StatusBadRequest, "phoneNumber and reference are required")
		return
	}

	result := h.service.InitiatePayment(InitiateParams{
		Amount:      req.Amount,
		PhoneNumber: req.PhoneNumber,
		Reference:   req.Reference,
		Description: req.Description,
	})
	metrics.RecordPaymentInitiated(h.service.ProviderName(), result.Success)

	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success":           result.Success,
		"requestId":         result.RequestID,
		"checkoutRequestId": result.CheckoutRequestID,
		"message":           result.Message,
		"provider":          h.service.ProviderName(),
	})
}

func (h *Handler) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	requestID := r.URL.Query().Get("requestId")
	if requestID == "" {
		h.respondWithError(w, http.StatusBadRequest, "requestId is required")
		return
	}

	result := h.service.CheckPaymentStatus(requestID)

	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success":        result.Success,
		"status":         result.Status,
		"transactionRef": result.TransactionRef,
		"amount":         result.Amount,
		"message":        result.Message,
		"provider":       h.service.ProviderName(),
	})
}

func (h *Handler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func (h *Handler) respondWithError(w http.ResponseWriter, code int, message string) {
	h.respondWithJSON(w, code, map[string]interface{}{
		"success": false,
		"message": message,
	})
}
