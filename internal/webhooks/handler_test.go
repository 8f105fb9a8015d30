package webhooks

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/billmalea/devshop-checkout/pkg/models"
)

type fakeStore struct {
	pendingOrder  *models.Order
	unpaidPackage *models.DeliveryPackage

	orderStatuses map[string]string
	orderRefs     map[string]string
	packageRefs   map[string]string
	// packages indexed by external id, values are applied statuses
	packageStatuses map[string]string
	packageOrderID  string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		orderStatuses:   make(map[string]string),
		orderRefs:       make(map[string]string),
		packageRefs:     make(map[string]string),
		packageStatuses: make(map[string]string),
		packageOrderID:  "O1",
	}
}

func (f *fakeStore) FindLatestPendingOrderByPhone(phoneNumber string) (*models.Order, error) {
	if f.pendingOrder == nil || f.pendingOrder.PhoneNumber != phoneNumber {
		return nil, sql.ErrNoRows
	}
	return f.pendingOrder, nil
}

func (f *fakeStore) MarkOrderPaid(orderID, transactionRef string) error {
	f.orderStatuses[orderID] = models.OrderStatusProcessing
	f.orderRefs[orderID] = transactionRef
	return nil
}

func (f *fakeStore) UpdateOrderStatus(orderID, status string) error {
	f.orderStatuses[orderID] = status
	return nil
}

func (f *fakeStore) FindLatestPackageWithoutRef() (*models.DeliveryPackage, error) {
	if f.unpaidPackage == nil {
		return nil, sql.ErrNoRows
	}
	return f.unpaidPackage, nil
}

func (f *fakeStore) MarkPackagePaid(packageID, transactionRef string, rawEvent []byte) error {
	f.packageRefs[packageID] = transactionRef
	f.packageStatuses[packageID] = "paid"
	return nil
}

func (f *fakeStore) UpdatePackageStatusByExternalID(externalID, status string, rawEvent []byte) (string, error) {
	if f.packageOrderID == "" {
		return "", sql.ErrNoRows
	}
	f.packageStatuses[externalID] = status
	return f.packageOrderID, nil
}

func newTestHandler(store *fakeStore) *Handler {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewHandler(store, nil, nil, logger)
}

func postJSON(t *testing.T, handler http.HandlerFunc, payload interface{}) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	w := httptest.NewRecorder()
	handler(w, req)
	return w
}

func mpesaPayload(resultCode int, phone int64, receipt string) map[string]interface{} {
	items := []map[string]interface{}{
		{"Name": "Amount", "Value": 1650},
		{"Name": "MpesaReceiptNumber", "Value": receipt},
		{"Name": "PhoneNumber", "Value": phone},
	}
	return map[string]interface{}{
		"Body": map[string]interface{}{
			"stkCallback": map[string]interface{}{
				"MerchantRequestID": "mr-1",
				"CheckoutRequestID": "ws_CO_1",
				"ResultCode":        resultCode,
				"ResultDesc":        "desc",
				"CallbackMetadata":  map[string]interface{}{"Item": items},
			},
		},
	}
}

func TestMpesaCallbackSuccess(t *testing.T) {
	store := newFakeStore()
	store.pendingOrder = &models.Order{ID: "order-1", PhoneNumber: "254712345678", Status: models.OrderStatusPending}
	store.unpaidPackage = &models.DeliveryPackage{ID: "pkg-1", OrderID: "order-1"}
	handler := newTestHandler(store)

	w := postJSON(t, handler.MpesaCallback, mpesaPayload(0, 254712345678, "QFT123"))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	var ack map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &ack)
	if ack["ResultCode"] != float64(0) {
		t.Errorf("ack = %v, want ResultCode 0", ack)
	}

	if store.orderStatuses["order-1"] != models.OrderStatusProcessing {
		t.Errorf("order status = %q, want processing", store.orderStatuses["order-1"])
	}
	if store.orderRefs["order-1"] != "QFT123" {
		t.Errorf("order transaction ref = %q, want QFT123", store.orderRefs["order-1"])
	}
	if store.packageRefs["pkg-1"] != "QFT123" {
		t.Errorf("package transaction ref = %q, want QFT123", store.packageRefs["pkg-1"])
	}
	if store.packageStatuses["pkg-1"] != "paid" {
		t.Errorf("package status = %q, want paid", store.packageStatuses["pkg-1"])
	}
}

func TestMpesaCallbackExtractsAmount(t *testing.T) {
	store := newFakeStore()
	store.pendingOrder = &models.Order{ID: "order-1", PhoneNumber: "254712345678", Status: models.OrderStatusPending}

	var logs bytes.Buffer
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(&logs)
	handler := NewHandler(store, nil, nil, logger)

	postJSON(t, handler.MpesaCallback, mpesaPayload(0, 254712345678, "QFT123"))

	if !strings.Contains(logs.String(), `"amount":"1650"`) {
		t.Errorf("callback log missing transaction amount, got: %s", logs.String())
	}
}

func TestMpesaCallbackMalformedMetadataStillAcks(t *testing.T) {
	store := newFakeStore()
	handler := newTestHandler(store)

	payload := mpesaPayload(0, 254712345678, "")
	body := payload["Body"].(map[string]interface{})
	stk := body["stkCallback"].(map[string]interface{})
	stk["CallbackMetadata"] = map[string]interface{}{
		"Item": []map[string]interface{}{
			{"Name": "MpesaReceiptNumber", "Value": map[string]string{"bad": "shape"}},
			{"Name": "Amount", "Value": "not-a-number"},
		},
	}

	w := postJSON(t, handler.MpesaCallback, payload)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	var ack map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &ack)
	if ack["ResultCode"] != float64(0) {
		t.Errorf("ack = %v, want success envelope despite malformed metadata", ack)
	}
}

func TestMpesaCallbackFailureCancelsOrder(t *testing.T) {
	store := newFakeStore()
	store.pendingOrder = &models.Order{ID: "order-1", PhoneNumber: "254712345678", Status: models.OrderStatusPending}
	handler := newTestHandler(store)

	postJSON(t, handler.MpesaCallback, mpesaPayload(1032, 254712345678, ""))

	if store.orderStatuses["order-1"] != models.OrderStatusCancelled {
		t.Errorf("order status = %q, want cancelled", store.orderStatuses["order-1"])
	}
}

func TestMpesaCallbackAcksWhenNoOrderMatches(t *testing.T) {
	store := newFakeStore()
	handler := newTestHandler(store)

	w := postJSON(t, handler.MpesaCallback, mpesaPayload(0, 254700000000, "QQQ"))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 even when nothing matched", w.Code)
	}
	var ack map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &ack)
	if ack["ResultCode"] != float64(0) {
		t.Errorf("ack = %v, want success envelope despite processing failure", ack)
	}
}

func TestTinyPesaCallbackSuccess(t *testing.T) {
	store := newFakeStore()
	store.pendingOrder = &models.Order{ID: "order-2", PhoneNumber: "254712345678", Status: models.OrderStatusPending}
	handler := newTestHandler(store)

	w := postJSON(t, handler.TinyPesaCallback, map[string]interface{}{
		"status":          "success",
		"msisdn":          "254712345678",
		"mpesa_reference": "TP777",
	})

	var ack map[string]interface{}
	json.Unmarshal(w.Body.Bytes(), &ack)
	if ack["success"] != true {
		t.Errorf("ack = %v, want success true", ack)
	}
	if store.orderRefs["order-2"] != "TP777" {
		t.Errorf("order transaction ref = %q, want TP777", store.orderRefs["order-2"])
	}
}

func TestTinyPesaCallbackFailed(t *testing.T) {
	store := newFakeStore()
	store.pendingOrder = &models.Order{ID: "order-3", PhoneNumber: "254712345678", Status: models.OrderStatusPending}
	handler := newTestHandler(store)

	postJSON(t, handler.TinyPesaCallback, map[string]interface{}{
		"status": "failed",
		"msisdn": "254712345678",
	})

	if store.orderStatuses["order-3"] != models.OrderStatusCancelled {
		t.Errorf("order status = %q, want cancelled", store.orderStatuses["order-3"])
	}
}

func deliveryPayload(event, packageID, status string) map[string]interface{} {
	return map[string]interface{}{
		"event": event,
		"data": map[string]interface{}{
			"package_id":    packageID,
			"status":        status,
			"tracking_code": "PMT-001",
		},
	}
}

func TestDeliveryWebhookStatusChanged(t *testing.T) {
	tests := []struct {
		providerStatus  string
		wantOrderStatus string
	}{
		{"Delivered To Agent", models.OrderStatusDelivered},
		{"In Transit", models.OrderStatusShipped},
		{"Picked Up", models.OrderStatusShipped},
		{"Cancelled by sender", models.OrderStatusCancelled},
		{"sorting", models.OrderStatusProcessing},
	}

	for _, tt := range tests {
		t.Run(tt.providerStatus, func(t *testing.T) {
			store := newFakeStore()
			handler := newTestHandler(store)

			postJSON(t, handler.DeliveryWebhook,
				deliveryPayload("package.status_changed", "P1", tt.providerStatus))

			if store.orderStatuses["O1"] != tt.wantOrderStatus {
				t.Errorf("order status = %q, want %q", store.orderStatuses["O1"], tt.wantOrderStatus)
			}
			// Status text is lower-cased on ingestion.
			if got := store.packageStatuses["P1"]; got != strings.ToLower(tt.providerStatus) {
				t.Errorf("package status = %q, want lower-cased provider text", got)
			}
		})
	}
}

func TestDeliveryWebhookFailedEvent(t *testing.T) {
	store := newFakeStore()
	handler := newTestHandler(store)

	postJSON(t, handler.DeliveryWebhook, deliveryPayload("package.failed", "P1", ""))

	if store.packageStatuses["P1"] != "failed" {
		t.Errorf("package status = %q, want failed", store.packageStatuses["P1"])
	}
	if store.orderStatuses["O1"] != models.OrderStatusCancelled {
		t.Errorf("order status = %q, want cancelled", store.orderStatuses["O1"])
	}
}

func TestDeliveryWebhookDeliveredReplayIsIdempotent(t *testing.T) {
	store := newFakeStore()
	handler := newTestHandler(store)

	payload := deliveryPayload("package.delivered", "P1", "")
	postJSON(t, handler.DeliveryWebhook, payload)
	postJSON(t, handler.DeliveryWebhook, payload)

	if store.packageStatuses["P1"] != "delivered" {
		t.Errorf("package status = %q, want delivered", store.packageStatuses["P1"])
	}
	if store.orderStatuses["O1"] != models.OrderStatusDelivered {
		t.Errorf("order status = %q, want delivered after replay", store.orderStatuses["O1"])
	}
}

func TestDeliveryWebhookUnknownEventIsNoOp(t *testing.T) {
	store := newFakeStore()
	handler := newTestHandler(store)

	w := postJSON(t, handler.DeliveryWebhook, deliveryPayload("package.relabeled", "P1", ""))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if len(store.packageStatuses) != 0 {
		t.Errorf("package statuses = %v, want untouched", store.packageStatuses)
	}
}
