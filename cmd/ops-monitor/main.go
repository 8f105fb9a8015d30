package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/billmalea/devshop-checkout/internal/events"
)

// ops-monitor tails the order event topics and logs a running view of
// checkout activity for operators: orders created, status transitions,
// and which source (payment webhook, delivery webhook) drove each one.
func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	kafkaBrokers := getEnv("KAFKA_BROKERS", "localhost:9092")
	groupID := getEnv("OPS_MONITOR_GROUP", "ops-monitor-group")

	handler := &opsHandler{
		logger:   logger,
		byStatus: make(map[string]int),
	}

	consumer, err := events.NewKafkaConsumer(kafkaBrokers, groupID, handler, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to create Kafka consumer")
	}
	defer consumer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := consumer.Start(ctx); err != nil {
			logger.WithError(err).Error("Consumer stopped")
		}
	}()

	logger.Info("Ops monitor started - tailing order event topics")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down ops monitor...")
	handler.logSummary()
}

type opsHandler struct {
	logger *logrus.Logger

	mu       sync.Mutex
	created  int
	byStatus map[string]int
}

func (h *opsHandler) HandleOrderCreated(event events.OrderCreatedEvent) error {
	h.mu.Lock()
	h.created++
	h.mu.Unlock()

	h.logger.WithFields(logrus.Fields{
		"order_id":       event.OrderID,
		"user_id":        event.UserID,
		"total_amount":   event.TotalAmount.String(),
		"payment_method": event.PaymentMethod,
	}).Info("Order created")
	return nil
}

func (h *opsHandler) HandleOrderStatusChanged(event events.OrderStatusChangedEvent) error {
	h.mu.Lock()
	h.byStatus[event.Status]++
	h.mu.Unlock()

	entry := h.logger.WithFields(logrus.Fields{
		"order_id": event.OrderID,
		"status":   event.Status,
		"source":   event.Source,
	})
	if event.TransactionRef != "" {
		entry = entry.WithField("transaction_ref", event.TransactionRef)
	}

	switch event.Status {
	case "cancelled":
		entry.Warn("Order cancelled")
	default:
		entry.Info("Order status changed")
	}
	return nil
}

func (h *opsHandler) logSummary() {
	h.mu.Lock()
	defer h.mu.Unlock()

	fields := logrus.Fields{"orders_created": h.created}
	for status, count := range h.byStatus {
		fields["status_"+status] = count
	}
	h.logger.WithFields(fields).Info("Session summary")
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
