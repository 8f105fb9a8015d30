package events

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/IBM/sarama"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	OrderCreatedTopic       = "order.created"
	OrderStatusChangedTopic = "order.status_changed"
)

type OrderCreatedEvent struct {
	OrderID       string          `json:"order_id"`
	UserID        string          `json:"user_id"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	PaymentMethod string          `json:"payment_method"`
	CreatedAt     time.Time       `json:"created_at"`
	EventTime     time.Time       `json:"event_time"`
}

// OrderStatusChangedEvent is published by the webhook reconcilers and the
// orchestrator whenever an order moves through its lifecycle. Source names
// the trigger: checkout, mpesa, tinypesa or pickup-mtaani.
type OrderStatusChangedEvent struct {
	OrderID        string    `json:"order_id"`
	Status         string    `json:"status"`
	Source         string    `json:"source"`
	TransactionRef string    `json:"transaction_ref,omitempty"`
	EventTime      time.Time `json:"event_time"`
}

type KafkaProducer struct {
	producer sarama.SyncProducer
	logger   *logrus.Logger
}

func NewKafkaProducer(brokers string, logger *logrus.Logger) (*KafkaProducer, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Version = sarama.V2_6_0_0

	producer, err := sarama.NewSyncProducer(strings.Split(brokers, ","), config)
	if err != nil {
		return nil, err
	}

	return &KafkaProducer{
		producer: producer,
		logger:   logger,
	}, nil
}

func (p *KafkaProducer) PublishOrderCreated(event OrderCreatedEvent) error {
	event.EventTime = time.Now()
	return p.publish(OrderCreatedTopic, event.OrderID, event)
}

func (p *KafkaProducer) PublishOrderStatusChanged(event OrderStatusChangedEvent) error {
	event.EventTime = time.Now()
	return p.publish(OrderStatusChangedTopic, event.OrderID, event)
}

func (p *KafkaProducer) publish(topic, key string, event interface{}) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(data),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.WithError(err).WithField("topic", topic).Error("Failed to send message to Kafka")
		return err
	}

	p.logger.WithFields(logrus.Fields{
		"topic":     topic,
		"partition": partition,
		"offset":    offset,
		"order_id":  key,
	}).Info("Event published to Kafka")

	return nil
}

func (p *KafkaProducer) Close() error {
	return p.producer.Close()
}
