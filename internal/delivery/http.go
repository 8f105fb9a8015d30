package delivery

import (
	"encoding/json"
	"net/http"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Handler proxies the location and charge lookups the storefront's
// destination pickers need. Every client error surfaces as a 500 with the
// provider's message, matching how call sites treat the client as fallible.
type Handler struct {
	client *Client
	logger *logrus.Logger
}

func NewHandler(client *Client, logger *logrus.Logger) *Handler {
	return &Handler{
		client: client,
		logger: logger,
	}
}

func (h *Handler) ListZones(w http.ResponseWriter, r *http.Request) {
	zones, err := h.client.ListZones(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respond(w, zones)
}

func (h *Handler) ListAreas(w http.ResponseWriter, r *http.Request) {
	areas, err := h.client.ListAreas(r.Context())
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respond(w, areas)
}

func (h *Handler) ListAgentLocations(w http.ResponseWriter, r *http.Request) {
	locations, err := h.client.ListAgentLocations(r.Context(), r.URL.Query().Get("areaId"))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respond(w, locations)
}

func (h *Handler) ListAgents(w http.ResponseWriter, r *http.Request) {
	locationID := r.URL.Query().Get("locationId")
	if locationID == "" {
		h.respondWithError(w, http.StatusBadRequest, "locationId is required")
		return
	}

	agents, err := h.client.ListAgents(r.Context(), locationID)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respond(w, agents)
}

func (h *Handler) ListDoorstepDestinations(w http.ResponseWriter, r *http.Request) {
	areaID := r.URL.Query().Get("areaId")
	if areaID == "" {
		h.respondWithError(w, http.StatusBadRequest, "areaId is required")
		return
	}

	destinations, err := h.client.ListDoorstepDestinations(r.Context(), areaID, r.URL.Query().Get("search"))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respond(w, destinations)
}

func (h *Handler) DeliveryCharge(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	originID := query.Get("origin")
	destinationID := query.Get("destination")
	if originID == "" || destinationID == "" {
		h.respondWithError(w, http.StatusBadRequest, "origin and destination are required")
		return
	}

	weight := decimal.Zero
	if raw := query.Get("weight"); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil {
			h.respondWithError(w, http.StatusBadRequest, "invalid weight")
			return
		}
		weight = parsed
	}

	var charge *Charge
	var err error
	if query.Get("type") == "doorstep" {
		charge, err = h.client.DoorstepDeliveryCharge(r.Context(), originID, destinationID, weight)
	} else {
		charge, err = h.client.AgentDeliveryCharge(r.Context(), originID, destinationID, weight)
	}
	if err != nil {
		h.fail(w, err)
		return
	}
	h.respond(w, charge)
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	h.logger.WithError(err).Error("Delivery network request failed")
	h.respondWithError(w, http.StatusInternalServerError, err.Error())
}

func (h *Handler) respond(w http.ResponseWriter, payload interface{}) {
	h.respondWithJSON(w, http.StatusOK, payload)
}

func (h *Handler) respondWithError(w http.ResponseWriter, code int, message string) {
	h.respondWithJSON(w, code, map[string]interface{}{
		"success": false,
		"message": message,
	})
}

func (h *Handler) respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}
