package delivery

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/billmalea/devshop-checkout/internal/circuitbreaker"
	"github.com/billmalea/devshop-checkout/pkg/models"
)

func discardLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	logger := discardLogger()
	breaker := circuitbreaker.New(circuitbreaker.Config{
		Name:         "test",
		MaxFailures:  100,
		ResetTimeout: time.Minute,
	}, logger)
	client, err := NewClient(baseURL, "test-key", breaker, nil, logger)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestNewClientRequiresAPIKey(t *testing.T) {
	if _, err := NewClient("http://example.com", "", nil, nil, discardLogger()); err == nil {
		t.Error("expected error for missing API key")
	}
}

func TestCreatePackage(t *testing.T) {
	var gotAuth string
	var gotParams CreatePackageParams
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != "POST" || r.URL.Path != "/packages/agent-agent" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotParams)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(Package{
			ID:           "pkg-1",
			TrackingCode: "PMT-001",
			Status:       "pending",
			DeliveryFee:  decimal.NewFromInt(150),
		})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	pkg, err := client.CreatePackage(context.Background(), CreatePackageParams{
		OriginID:       "origin-1",
		DestinationID:  "agent-x",
		RecipientName:  "Jane",
		RecipientPhone: "254712345678",
		Description:    "2 items",
		PaymentMode:    models.PaymentModePrepaid,
	})
	if err != nil {
		t.Fatalf("CreatePackage: %v", err)
	}

	if gotAuth != "Bearer test-key" {
		t.Errorf("Authorization = %q, want Bearer test-key", gotAuth)
	}
	if gotParams.PaymentMode != models.PaymentModePrepaid {
		t.Errorf("payment mode sent = %q, want PREPAID", gotParams.PaymentMode)
	}
	if pkg.ID != "pkg-1" || pkg.TrackingCode != "PMT-001" {
		t.Errorf("package = %+v, want pkg-1/PMT-001", pkg)
	}
	if !pkg.DeliveryFee.Equal(decimal.NewFromInt(150)) {
		t.Errorf("delivery fee = %s, want 150", pkg.DeliveryFee)
	}
}

func TestErrorCarriesProviderMessage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		json.NewEncoder(w).Encode(map[string]string{"message": "destination agent is offline"})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	_, err := client.CreatePackage(context.Background(), CreatePackageParams{})
	if err == nil {
		t.Fatal("expected error for non-2xx response")
	}
	if !strings.Contains(err.Error(), "destination agent is offline") {
		t.Errorf("error %q does not carry provider message", err)
	}
}

func TestAgentDeliveryCharge(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/delivery-charge/agent-package" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		query := r.URL.Query()
		if query.Get("origin") != "o1" || query.Get("destination") != "d1" {
			t.Errorf("unexpected query %s", r.URL.RawQuery)
		}
		json.NewEncoder(w).Encode(Charge{Amount: decimal.NewFromInt(150), Currency: "KES"})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	charge, err := client.AgentDeliveryCharge(context.Background(), "o1", "d1", decimal.Zero)
	if err != nil {
		t.Fatalf("AgentDeliveryCharge: %v", err)
	}
	if !charge.Amount.Equal(decimal.NewFromInt(150)) || charge.Currency != "KES" {
		t.Errorf("charge = %+v, want 150 KES", charge)
	}
}

func TestListAgentsFilter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("locationId"); got != "loc-7" {
			t.Errorf("locationId = %q, want loc-7", got)
		}
		json.NewEncoder(w).Encode([]Agent{{ID: "a1", Name: "Duka Agent", LocationID: "loc-7"}})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	agents, err := client.ListAgents(context.Background(), "loc-7")
	if err != nil {
		t.Fatalf("ListAgents: %v", err)
	}
	if len(agents) != 1 || agents[0].ID != "a1" {
		t.Errorf("agents = %+v, want one agent a1", agents)
	}
}
