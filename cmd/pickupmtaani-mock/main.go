package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/billmalea/devshop-checkout/internal/delivery"
)

// pickupmtaani-mock is a stand-in for the logistics API used in local
// development. It serves fixture zones, areas, agents and charges, accepts
// packages into memory, and can replay package status transitions to a
// registered webhook URL via POST /admin/packages/{id}/status.

type mockStore struct {
	mutex      sync.RWMutex
	packages   map[string]*mockPackage
	webhookURL string
	seq        int
}

type mockPackage struct {
	delivery.Package
	RecipientName  string
	RecipientPhone string
	DestinationID  string
	PaymentMode    string
	Paid           bool
}

var (
	zones = []delivery.Zone{
		{ID: "zn-cbd", Name: "Nairobi CBD"},
		{ID: "zn-west", Name: "Westlands"},
		{ID: "zn-east", Name: "Eastlands"},
	}
	areas = []delivery.Area{
		{ID: "ar-cbd", Name: "CBD", ZoneID: "zn-cbd"},
		{ID: "ar-west", Name: "Westlands", ZoneID: "zn-west"},
		{ID: "ar-emb", Name: "Embakasi", ZoneID: "zn-east"},
	}
	locations = []delivery.Location{
		{ID: "loc-arch", Name: "Archives", AreaID: "ar-cbd"},
		{ID: "loc-sarit", Name: "Sarit Centre", AreaID: "ar-west"},
		{ID: "loc-emb", Name: "Embakasi Stage", AreaID: "ar-emb"},
	}
	agents = []delivery.Agent{
		{ID: "ag-1", Name: "Archives Shop A", LocationID: "loc-arch", Phone: "254700000001"},
		{ID: "ag-2", Name: "Sarit Kiosk", LocationID: "loc-sarit", Phone: "254700000002"},
		{ID: "ag-3", Name: "Embakasi Duka", LocationID: "loc-emb", Phone: "254700000003"},
	}
	destinations = []delivery.Destination{
		{ID: "ds-kile", Name: "Kileleshwa"},
		{ID: "ds-lavi", Name: "Lavington"},
	}
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	apiKey := getEnv("MOCK_API_KEY", "test-key")
	port := getEnv("MOCK_PORT", "8084")

	store := &mockStore{packages: make(map[string]*mockPackage)}

	router := mux.NewRouter()
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusOK, map[string]string{"status": "healthy", "service": "pickupmtaani-mock"})
	}).Methods("GET")

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(authMiddleware(apiKey, logger))

	api.HandleFunc("/locations/zones", listZones).Methods("GET")
	api.HandleFunc("/locations/areas", listAreas).Methods("GET")
	api.HandleFunc("/locations", listLocations).Methods("GET")
	api.HandleFunc("/locations/agents", listAgents).Methods("GET")
	api.HandleFunc("/locations/doorstep-destinations", listDestinations).Methods("GET")

	api.HandleFunc("/delivery-charge/agent-package", charge(decimal.NewFromInt(120))).Methods("GET")
	api.HandleFunc("/delivery-charge/doorstep-package", charge(decimal.NewFromInt(250))).Methods("GET")

	api.HandleFunc("/packages/agent-agent", store.createPackage(logger)).Methods("POST")
	api.HandleFunc("/packages/agent-agent", store.getPackage).Methods("GET")
	api.HandleFunc("/packages/agent-agent/mine", store.listPackages).Methods("GET")
	api.HandleFunc("/packages/agent-update", store.updatePackage).Methods("PUT")
	api.HandleFunc("/packages/agent-package", store.deletePackage).Methods("DELETE")

	api.HandleFunc("/payment/pay-delivery-stk", store.payDeliverySTK(logger)).Methods("PUT")
	api.HandleFunc("/payment/verify-payment", store.verifyPayment).Methods("PUT")

	api.HandleFunc("/business/profile", businessProfile(store)).Methods("GET")
	api.HandleFunc("/business/profile", func(w http.ResponseWriter, r *http.Request) {
		respond(w, http.StatusOK, map[string]bool{"success": true})
	}).Methods("PUT")
	api.HandleFunc("/business/webhook", store.registerWebhook(logger)).Methods("POST")

	// Test hook: advance a package through its lifecycle and notify the
	// registered webhook, the way the live provider does.
	router.HandleFunc("/admin/packages/{id}/status", store.setStatus(logger)).Methods("POST")

	logger.WithField("port", port).Info("Starting Pickup Mtaani mock")
	if err := http.ListenAndServe(":"+port, router); err != nil {
		logger.WithError(err).Fatal("Mock server failed")
	}
}

func authMiddleware(apiKey string, logger *logrus.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer "+apiKey {
				logger.WithField("path", r.URL.Path).Warn("Rejected request with bad API key")
				respond(w, http.StatusUnauthorized, map[string]string{"message": "invalid api key"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func listZones(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, zones)
}

func listAreas(w http.ResponseWriter, r *http.Request) {
	respond(w, http.StatusOK, areas)
}

func listLocations(w http.ResponseWriter, r *http.Request) {
	areaID := r.URL.Query().Get("areaId")
	result := []delivery.Location{}
	for _, loc := range locations {
		if areaID == "" || loc.AreaID == areaID {
			result = append(result, loc)
		}
	}
	respond(w, http.StatusOK, result)
}

func listAgents(w http.ResponseWriter, r *http.Request) {
	locationID := r.URL.Query().Get("locationId")
	result := []delivery.Agent{}
	for _, agent := range agents {
		if locationID == "" || agent.LocationID == locationID {
			result = append(result, agent)
		}
	}
	respond(w, http.StatusOK, result)
}

func listDestinations(w http.ResponseWriter, r *http.Request) {
	search := strings.ToLower(r.URL.Query().Get("search"))
	result := []delivery.Destination{}
	for _, dest := range destinations {
		if search == "" || strings.Contains(strings.ToLower(dest.Name), search) {
			result = append(result, dest)
		}
	}
	respond(w, http.StatusOK, result)
}

func charge(base decimal.Decimal) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("origin") == "" || r.URL.Query().Get("destination") == "" {
			respond(w, http.StatusBadRequest, map[string]string{"message": "origin and destination are required"})
			return
		}

		amount := base
		if weight := r.URL.Query().Get("weight"); weight != "" {
			if kg, err := decimal.NewFromString(weight); err == nil && kg.GreaterThan(decimal.NewFromInt(3)) {
				amount = amount.Add(decimal.NewFromInt(50))
			}
		}
		respond(w, http.StatusOK, delivery.Charge{Amount: amount, Currency: "KES"})
	}
}

func (s *mockStore) createPackage(logger *logrus.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var params delivery.CreatePackageParams
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			respond(w, http.StatusBadRequest, map[string]string{"message": "invalid request body"})
			return
		}
		if params.OriginID == "" || params.DestinationID == "" || params.RecipientPhone == "" {
			respond(w, http.StatusBadRequest, map[string]string{"message": "origin_id, destination_id and recipient_phone are required"})
			return
		}

		s.mutex.Lock()
		s.seq++
		pkg := &mockPackage{
			Package: delivery.Package{
				ID:           fmt.Sprintf("pkg-%04d", s.seq),
				TrackingCode: fmt.Sprintf("PMT-%06d", rand.Intn(1000000)),
				Status:       "pending",
				DeliveryFee:  decimal.NewFromInt(120),
			},
			RecipientName:  params.RecipientName,
			RecipientPhone: params.RecipientPhone,
			DestinationID:  params.DestinationID,
			PaymentMode:    params.PaymentMode,
		}
		s.packages[pkg.ID] = pkg
		s.mutex.Unlock()

		logger.WithFields(logrus.Fields{
			"package_id":    pkg.ID,
			"tracking_code": pkg.TrackingCode,
			"payment_mode":  pkg.PaymentMode,
		}).Info("Package accepted")

		respond(w, http.StatusCreated, pkg.Package)
	}
}

func (s *mockStore) getPackage(w http.ResponseWriter, r *http.Request) {
	s.mutex.RLock()
	pkg, ok := s.packages[r.URL.Query().Get("id")]
	s.mutex.RUnlock()
	if !ok {
		respond(w, http.StatusNotFound, map[string]string{"message": "package not found"})
		return
	}
	respond(w, http.StatusOK, pkg.Package)
}

func (s *mockStore) listPackages(w http.ResponseWriter, r *http.Request) {
	s.mutex.RLock()
	result := make([]delivery.Package, 0, len(s.packages))
	for _, pkg := range s.packages {
		result = append(result, pkg.Package)
	}
	s.mutex.RUnlock()
	respond(w, http.StatusOK, result)
}

func (s *mockStore) updatePackage(w http.ResponseWriter, r *http.Request) {
	var params delivery.UpdatePackageParams
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		respond(w, http.StatusBadRequest, map[string]string{"message": "invalid request body"})
		return
	}

	s.mutex.Lock()
	pkg, ok := s.packages[params.ID]
	if ok {
		if params.RecipientName != "" {
			pkg.RecipientName = params.RecipientName
		}
		if params.RecipientPhone != "" {
			pkg.RecipientPhone = params.RecipientPhone
		}
		if params.DestinationID != "" {
			pkg.DestinationID = params.DestinationID
		}
	}
	s.mutex.Unlock()

	if !ok {
		respond(w, http.StatusNotFound, map[string]string{"message": "package not found"})
		return
	}
	respond(w, http.StatusOK, pkg.Package)
}

func (s *mockStore) deletePackage(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")

	s.mutex.Lock()
	pkg, ok := s.packages[id]
	if ok && pkg.Status == "pending" {
		delete(s.packages, id)
	}
	s.mutex.Unlock()

	if !ok {
		respond(w, http.StatusNotFound, map[string]string{"message": "package not found"})
		return
	}
	if pkg.Status != "pending" {
		respond(w, http.StatusConflict, map[string]string{"message": "package already dispatched"})
		return
	}
	respond(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *mockStore) payDeliverySTK(logger *logrus.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			PackageID string `json:"package_id"`
			Phone     string `json:"phone"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			respond(w, http.StatusBadRequest, map[string]string{"message": "invalid request body"})
			return
		}

		s.mutex.Lock()
		pkg, ok := s.packages[body.PackageID]
		if ok {
			pkg.Paid = true
		}
		s.mutex.Unlock()

		if !ok {
			respond(w, http.StatusNotFound, map[string]string{"message": "package not found"})
			return
		}

		logger.WithFields(logrus.Fields{
			"package_id": body.PackageID,
			"phone":      body.Phone,
		}).Info("Delivery STK push simulated")
		respond(w, http.StatusOK, map[string]bool{"success": true})
	}
}

func (s *mockStore) verifyPayment(w http.ResponseWriter, r *http.Request) {
	var body struct {
		PackageID string `json:"package_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		respond(w, http.StatusBadRequest, map[string]string{"message": "invalid request body"})
		return
	}

	s.mutex.RLock()
	pkg, ok := s.packages[body.PackageID]
	s.mutex.RUnlock()
	if !ok {
		respond(w, http.StatusNotFound, map[string]string{"message": "package not found"})
		return
	}
	respond(w, http.StatusOK, map[string]interface{}{"package_id": pkg.ID, "paid": pkg.Paid})
}

func businessProfile(s *mockStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mutex.RLock()
		webhookURL := s.webhookURL
		s.mutex.RUnlock()
		respond(w, http.StatusOK, delivery.BusinessProfile{
			ID:         "biz-1",
			Name:       "DevShop Store",
			Phone:      "254700000000",
			WebhookURL: webhookURL,
		})
	}
}

func (s *mockStore) registerWebhook(logger *logrus.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			URL string `json:"url"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.URL == "" {
			respond(w, http.StatusBadRequest, map[string]string{"message": "url is required"})
			return
		}

		s.mutex.Lock()
		s.webhookURL = body.URL
		s.mutex.Unlock()

		logger.WithField("url", body.URL).Info("Webhook URL registered")
		respond(w, http.StatusOK, map[string]bool{"success": true})
	}
}

func (s *mockStore) setStatus(logger *logrus.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		var body struct {
			Status string `json:"status"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Status == "" {
			respond(w, http.StatusBadRequest, map[string]string{"message": "status is required"})
			return
		}

		s.mutex.Lock()
		pkg, ok := s.packages[id]
		var webhookURL string
		if ok {
			pkg.Status = body.Status
			webhookURL = s.webhookURL
		}
		s.mutex.Unlock()

		if !ok {
			respond(w, http.StatusNotFound, map[string]string{"message": "package not found"})
			return
		}

		if webhookURL != "" {
			go notifyWebhook(logger, webhookURL, pkg.Package)
		}
		respond(w, http.StatusOK, pkg.Package)
	}
}

func notifyWebhook(logger *logrus.Logger, webhookURL string, pkg delivery.Package) {
	event := map[string]interface{}{
		"event": "package.status_changed",
		"data": map[string]string{
			"package_id":    pkg.ID,
			"status":        pkg.Status,
			"tracking_code": pkg.TrackingCode,
		},
	}
	switch pkg.Status {
	case "delivered":
		event["event"] = "package.delivered"
	case "failed":
		event["event"] = "package.failed"
	}

	payload, _ := json.Marshal(event)
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Post(webhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		logger.WithError(err).Error("Failed to deliver webhook")
		return
	}
	defer resp.Body.Close()

	logger.WithFields(logrus.Fields{
		"package_id": pkg.ID,
		"status":     pkg.Status,
		"http_code":  resp.StatusCode,
	}).Info("Webhook delivered")
}

func respond(w http.ResponseWriter, code int, payload interface{}) {
	response, _ := json.Marshal(payload)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(response)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
