package ws

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
)

func discardLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func waitForClientCount(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.ClientCount() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("client count = %d, want %d", hub.ClientCount(), want)
}

func TestHubRegisterUnregister(t *testing.T) {
	hub := NewHub(discardLogger())
	go hub.Run()

	c := &client{send: make(chan OrderStatusUpdate, 1), hub: hub, logger: hub.logger}
	hub.register <- c
	waitForClientCount(t, hub, 1)

	hub.unregister <- c
	waitForClientCount(t, hub, 0)

	if _, ok := <-c.send; ok {
		t.Error("expected send channel to be closed after unregister")
	}
}

func TestHubBroadcastDeliversUpdate(t *testing.T) {
	hub := NewHub(discardLogger())
	go hub.Run()

	c := &client{send: make(chan OrderStatusUpdate, 16), hub: hub, logger: hub.logger}
	hub.register <- c
	waitForClientCount(t, hub, 1)

	hub.BroadcastOrderStatus("order-1", "processing", "mpesa", "QFT123")

	select {
	case update := <-c.send:
		if update.OrderID != "order-1" || update.Status != "processing" {
			t.Errorf("unexpected update: %+v", update)
		}
		if update.TransactionRef != "QFT123" {
			t.Errorf("transaction ref = %q, want QFT123", update.TransactionRef)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for broadcast")
	}
}

func TestHubBroadcastDropsStalledClient(t *testing.T) {
	hub := NewHub(discardLogger())
	go hub.Run()

	// A zero-capacity send channel with no reader simulates a stalled
	// dashboard connection.
	stalled := &client{send: make(chan OrderStatusUpdate), hub: hub, logger: hub.logger}
	healthy := &client{send: make(chan OrderStatusUpdate, 16), hub: hub, logger: hub.logger}
	hub.register <- stalled
	hub.register <- healthy
	waitForClientCount(t, hub, 2)

	done := make(chan struct{})
	go func() {
		// Concurrent ClientCount reads while the broadcast loop prunes the
		// stalled client.
		for i := 0; i < 100; i++ {
			hub.ClientCount()
		}
		close(done)
	}()

	hub.BroadcastOrderStatus("order-2", "shipped", "pickup-mtaani", "")
	<-done
	waitForClientCount(t, hub, 1)

	if _, ok := <-stalled.send; ok {
		t.Error("expected stalled client send channel to be closed")
	}

	select {
	case update := <-healthy.send:
		if update.OrderID != "order-2" {
			t.Errorf("order id = %q, want order-2", update.OrderID)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("healthy client never received the update")
	}
}
