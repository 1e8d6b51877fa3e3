// Package events publishes order lifecycle events to Kafka for the external
// dashboard and stats tooling. Publishing is fire-and-forget from the
// ordering engine's point of view: a broker outage never blocks an order.
package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"
	"github.com/brewtap/brewtap/internal/models"
)

// DefaultTopic is the Kafka topic order events are published to.
const DefaultTopic = "brewtap.orders"

// Event kinds.
const (
	EventOrderCreated   = "order_created"
	EventOrderCancelled = "order_cancelled"
	EventOrderDeferred  = "order_deferred"
)

// OrderEvent is the wire payload for an order lifecycle event.
type OrderEvent struct {
	Kind        string             `json:"kind"`
	OrderNumber string             `json:"order_number"`
	Phone       string             `json:"phone"`
	StationID   int                `json:"station_id"`
	Status      models.OrderStatus `json:"status"`
	Priority    int                `json:"priority"`
	Deferred    bool               `json:"deferred,omitempty"`
	Timestamp   time.Time          `json:"timestamp"`
}

// Publisher emits order lifecycle events.
type Publisher interface {
	PublishOrderEvent(evt OrderEvent) error
	Close() error
}

// KafkaPublisher publishes order events through a sarama sync producer.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
}

// NewKafkaPublisher connects a sync producer to the given brokers.
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if topic == "" {
		topic = DefaultTopic
	}
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.Timeout = 5 * time.Second
	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}
	slog.Info("Kafka order event publisher connected", "brokers", brokers, "topic", topic)
	return &KafkaPublisher{producer: producer, topic: topic}, nil
}

func (p *KafkaPublisher) PublishOrderEvent(evt OrderEvent) error {
	payload, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal order event: %w", err)
	}
	msg := &sarama.ProducerMessage{
		Topic: p.topic,
		Key:   sarama.StringEncoder(evt.OrderNumber),
		Value: sarama.ByteEncoder(payload),
	}
	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		slog.Error("Kafka publish failed", "error", err, "kind", evt.Kind, "order_number", evt.OrderNumber)
		return fmt.Errorf("failed to publish %s event: %w", evt.Kind, err)
	}
	slog.Debug("Kafka order event published", "kind", evt.Kind, "order_number", evt.OrderNumber, "partition", partition, "offset", offset)
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// NopPublisher discards events. Wired when no Kafka brokers are configured.
type NopPublisher struct{}

func (NopPublisher) PublishOrderEvent(evt OrderEvent) error { return nil }
func (NopPublisher) Close() error                           { return nil }

// RecordingPublisher captures events in memory for tests.
type RecordingPublisher struct {
	Events []OrderEvent
}

func (r *RecordingPublisher) PublishOrderEvent(evt OrderEvent) error {
	r.Events = append(r.Events, evt)
	return nil
}

func (r *RecordingPublisher) Close() error { return nil }
