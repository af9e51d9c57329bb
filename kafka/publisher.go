package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/craftmarket/payment-engine/pkg/logger"
)

// Publisher wraps Kafka producer
type Publisher struct {
	producer sarama.SyncProducer
	brokers  []string
}

// NewPublisher creates a new Kafka publisher
func NewPublisher(brokers []string) (*Publisher, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.Retry.Max = 3
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.MaxMessageBytes = 1000000

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	logger.Logger.Info().
		Strs("brokers", brokers).
		Msg("Kafka publisher initialized")

	return &Publisher{
		producer: producer,
		brokers:  brokers,
	}, nil
}

// PublishPaymentEvent publishes a payment lifecycle event with tracing
func (p *Publisher) PublishPaymentEvent(ctx context.Context, event PaymentEvent) error {
	tracer := otel.Tracer("kafka-publisher")
	ctx, span := tracer.Start(ctx, "kafka.publish.payment_event",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", TopicPaymentEvents),
			attribute.String("messaging.destination_kind", "topic"),
			attribute.String("event.type", event.EventType),
			attribute.String("payment.intent_id", event.IntentID),
			attribute.String("payment.order_id", event.OrderID),
			attribute.Int64("payment.amount_minor", event.AmountMinor),
		),
	)
	defer span.End()

	// Set event metadata
	if event.EventID == "" {
		event.EventID = fmt.Sprintf("evt_%s", uuid.NewString())
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	span.SetAttributes(attribute.String("event.id", event.EventID))

	eventBytes, err := json.Marshal(event)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to marshal event")
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	// Inject trace context into Kafka headers
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)

	headers := []sarama.RecordHeader{
		{
			Key:   []byte("event_type"),
			Value: []byte(event.EventType),
		},
		{
			Key:   []byte("event_id"),
			Value: []byte(event.EventID),
		},
	}

	for key, value := range carrier {
		headers = append(headers, sarama.RecordHeader{
			Key:   []byte(key),
			Value: []byte(value),
		})
	}

	// Keyed by order so consumers see one order's events in sequence
	msg := &sarama.ProducerMessage{
		Topic:   TopicPaymentEvents,
		Key:     sarama.StringEncoder("order_" + event.OrderID),
		Value:   sarama.ByteEncoder(eventBytes),
		Headers: headers,
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Failed to send message")
		logger.Logger.Error().
			Err(err).
			Str("topic", TopicPaymentEvents).
			Str("intent_id", event.IntentID).
			Str("trace_id", span.SpanContext().TraceID().String()).
			Msg("Failed to publish payment event")
		return fmt.Errorf("failed to send message to Kafka: %w", err)
	}

	span.SetAttributes(
		attribute.Int("messaging.kafka.partition", int(partition)),
		attribute.Int64("messaging.kafka.offset", offset),
	)
	span.SetStatus(codes.Ok, "Event published successfully")

	logger.Logger.Info().
		Str("event_id", event.EventID).
		Str("event_type", event.EventType).
		Str("topic", TopicPaymentEvents).
		Int32("partition", partition).
		Int64("offset", offset).
		Str("intent_id", event.IntentID).
		Str("order_id", event.OrderID).
		Msg("Payment event published")

	return nil
}

// Close closes the Kafka producer
func (p *Publisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}
