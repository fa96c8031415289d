package changefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"outreach_crm_backend/internal/events"
	"outreach_crm_backend/internal/observability"
	"outreach_crm_backend/platform/logger"

	"github.com/segmentio/kafka-go"
)

const (
	headerEventType = "event_type"
	headerTenantID  = "tenant_id"
	headerOrigin    = "origin"
)

// Writer is the subset of *kafka.Writer the publisher needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter creates a synchronous writer for topic.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Compression:  kafka.Snappy,
		Async:        false,
	}
}

// KafkaPublisher forwards pipeline changes to a Kafka topic, keyed by
// contact so one contact's changes stay ordered within a partition.
type KafkaPublisher struct {
	writer Writer
	origin string
	log    *logger.Logger
	mu     sync.Mutex
	closed bool
}

func NewKafkaPublisher(writer Writer, origin string, log *logger.Logger) *KafkaPublisher {
	return &KafkaPublisher{writer: writer, origin: origin, log: log}
}

// Handle implements events.Handler.
func (p *KafkaPublisher) Handle(ctx context.Context, event events.Event) error {
	change, ok := event.(events.ContactPipelineChanged)
	if !ok {
		return nil
	}

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return errors.New("kafka publisher closed")
	}

	msg, err := encodeChange(change, p.origin)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		observability.RecordChangeFeedFailure("kafka")
		return fmt.Errorf("publish pipeline change: %w", err)
	}
	return nil
}

// Close releases the writer.
func (p *KafkaPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.writer.Close()
}

func encodeChange(change events.ContactPipelineChanged, origin string) (kafka.Message, error) {
	payload, err := json.Marshal(change)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("encode pipeline change: %w", err)
	}
	return kafka.Message{
		Key:   []byte(change.ContactID.String()),
		Value: payload,
		Time:  change.OccurredAt(),
		Headers: []kafka.Header{
			{Key: headerEventType, Value: []byte(change.EventName())},
			{Key: headerTenantID, Value: []byte(change.OrganizationID.String())},
			{Key: headerOrigin, Value: []byte(origin)},
		},
	}, nil
}

func decodeChange(msg kafka.Message) (events.ContactPipelineChanged, error) {
	eventType, ok := headerValue(msg, headerEventType)
	if !ok {
		return events.ContactPipelineChanged{}, errors.New("missing event_type header")
	}
	if string(eventType) != events.ContactPipelineChangedName {
		return events.ContactPipelineChanged{}, fmt.Errorf("unexpected event type %q", eventType)
	}

	var change events.ContactPipelineChanged
	if err := json.Unmarshal(msg.Value, &change); err != nil {
		return events.ContactPipelineChanged{}, fmt.Errorf("decode pipeline change: %w", err)
	}
	return change, nil
}

func headerValue(msg kafka.Message, key string) ([]byte, bool) {
	for _, header := range msg.Headers {
		if header.Key == key {
			return header.Value, true
		}
	}
	return nil, false
}

// Reader exposes the minimal kafka.Reader interface needed by the consumer.
type Reader interface {
	FetchMessage(context.Context) (kafka.Message, error)
	CommitMessages(context.Context, ...kafka.Message) error
	Close() error
}

// NewKafkaReader creates a consumer-group reader for topic.
func NewKafkaReader(brokers []string, topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		GroupID:  groupID,
		Topic:    topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
}

// Consumer merges changes published by other instances into a View.
// Sinks receive each applied change with the merged view state, so clients
// connected to this instance see changes made on other instances.
type Consumer struct {
	reader Reader
	view   *View
	origin string
	sinks  []events.Handler
	log    *logger.Logger
}

func NewConsumer(reader Reader, view *View, origin string, log *logger.Logger, sinks ...events.Handler) *Consumer {
	return &Consumer{reader: reader, view: view, origin: origin, sinks: sinks, log: log}
}

// Run blocks until ctx is cancelled. Malformed messages are committed and
// skipped.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return err
			}
			c.log.Error("changefeed fetch failed", "error", err)
			continue
		}

		if origin, _ := headerValue(msg, headerOrigin); string(origin) != c.origin {
			change, decodeErr := decodeChange(msg)
			if decodeErr != nil {
				c.log.Warn("changefeed decode failed",
					"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "error", decodeErr)
			} else if c.view.Merge(change) {
				c.deliver(ctx, change)
			}
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.log.Error("changefeed commit failed", "error", err)
		}
	}
}

func (c *Consumer) deliver(ctx context.Context, change events.ContactPipelineChanged) {
	if state, ok := c.view.Get(change.OrganizationID, change.ContactID); ok {
		change.State = state
	}
	for _, sink := range c.sinks {
		if sink == nil {
			continue
		}
		if err := sink.Handle(ctx, change); err != nil {
			c.log.Warn("changefeed sink failed", "contact_id", change.ContactID, "error", err)
		}
	}
}
