package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/ambulance-dispatch/internal/models"
)

// Publisher is the sink the location publisher and trip service write to.
type Publisher interface {
	PublishLocation(ctx context.Context, ev models.LocationEvent) error
	PublishTripEvent(ctx context.Context, ev models.TripEvent) error
}

// MessageWriter is the part of *kafka.Writer the producer uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer keys location events by plate and trip events by trip id so
// each stream stays ordered per partition.
type KafkaProducer struct {
	writer        MessageWriter
	locationTopic string
	tripTopic     string
	timeout       time.Duration
}

func NewKafkaProducer(brokers []string, locationTopic, tripTopic string) *KafkaProducer {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
	}
	return NewKafkaProducerWithWriter(w, locationTopic, tripTopic)
}

func NewKafkaProducerWithWriter(w MessageWriter, locationTopic, tripTopic string) *KafkaProducer {
	return &KafkaProducer{writer: w, locationTopic: locationTopic, tripTopic: tripTopic, timeout: 2 * time.Second}
}

func (k *KafkaProducer) PublishLocation(ctx context.Context, ev models.LocationEvent) error {
	return k.write(ctx, k.locationTopic, ev.Plate, ev)
}

func (k *KafkaProducer) PublishTripEvent(ctx context.Context, ev models.TripEvent) error {
	return k.write(ctx, k.tripTopic, ev.TripID, ev)
}

func (k *KafkaProducer) write(ctx context.Context, topic, key string, v interface{}) error {
	if topic == "" {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()
	return k.writer.WriteMessages(ctx, kafka.Message{Topic: topic, Key: []byte(key), Value: b})
}

func (k *KafkaProducer) Close() error {
	if k.writer == nil {
		return nil
	}
	return k.writer.Close()
}

// Discard drops every event.
type Discard struct{}

func (Discard) PublishLocation(context.Context, models.LocationEvent) error { return nil }
func (Discard) PublishTripEvent(context.Context, models.TripEvent) error    { return nil }
