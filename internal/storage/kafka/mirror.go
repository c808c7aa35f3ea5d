// Package kafka mirrors scan results onto a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/ChuLiYu/kw-sourcing/internal/sink"
	"github.com/ChuLiYu/kw-sourcing/pkg/types"
)

// DefaultTopic receives both record kinds.
const DefaultTopic = "kw.evidence-books"

// DefaultProduceTimeout bounds delivery of a single record.
const DefaultProduceTimeout = 10 * time.Second

// Record kinds carried in Message.Kind.
const (
	KindFailure  = "failure"
	KindMetadata = "metadata"
)

// Message is the JSON value of every produced record. The record key is the
// book id so all events of one book land on one partition.
type Message struct {
	EventID            string              `json:"event_id"`
	Kind               string              `json:"kind"`
	BookID             string              `json:"book_id"`
	Reason             types.FailureReason `json:"reason,omitempty"`
	Fields             map[string]string   `json:"fields,omitempty"`
	InjectionTimestamp time.Time           `json:"injection_timestamp"`
}

// Mirror is a sink.Appender publishing to Kafka. It is meant to sit behind a
// sink.Fanout next to a durable primary store.
type Mirror struct {
	client  *kgo.Client
	topic   string
	logger  *slog.Logger
	clock   func() time.Time
	timeout time.Duration
}

var _ sink.Appender = (*Mirror)(nil)

// Option configures a Mirror.
type Option func(*Mirror)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Mirror) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithClock sets the timestamp source.
func WithClock(clock func() time.Time) Option {
	return func(m *Mirror) {
		if clock != nil {
			m.clock = clock
		}
	}
}

// WithProduceTimeout bounds each produce call and the client's record delivery.
func WithProduceTimeout(d time.Duration) Option {
	return func(m *Mirror) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// New creates a producer for topic on brokers.
func New(brokers []string, topic string, opts ...Option) (*Mirror, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka: no brokers")
	}
	if topic == "" {
		topic = DefaultTopic
	}
	m := &Mirror{topic: topic, logger: slog.Default(), clock: time.Now, timeout: DefaultProduceTimeout}
	for _, opt := range opts {
		opt(m)
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(0),
		kgo.RecordDeliveryTimeout(m.timeout),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka: new client: %w", err)
	}
	m.client = client
	return m, nil
}

// EnsureTopic creates the topic if it does not exist.
func (m *Mirror) EnsureTopic(ctx context.Context, partitions int32, replication int16) error {
	adm := kadm.NewClient(m.client)
	resp, err := adm.CreateTopic(ctx, partitions, replication, nil, m.topic)
	if err == nil {
		err = resp.Err
	}
	if err != nil && !errors.Is(err, kerr.TopicAlreadyExists) {
		return fmt.Errorf("kafka: create topic %s: %w", m.topic, err)
	}
	return nil
}

// AppendFailure publishes a failure record.
func (m *Mirror) AppendFailure(ctx context.Context, bookID string, reason types.FailureReason) error {
	return m.produce(ctx, Message{Kind: KindFailure, BookID: bookID, Reason: reason})
}

// AppendMetadata publishes a metadata record.
func (m *Mirror) AppendMetadata(ctx context.Context, record types.MetadataRecord) error {
	return m.produce(ctx, Message{Kind: KindMetadata, BookID: record.ID, Fields: record.Fields})
}

func (m *Mirror) produce(ctx context.Context, msg Message) error {
	msg.EventID = uuid.NewString()
	msg.InjectionTimestamp = m.clock().UTC()
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("kafka: marshal %s: %w", msg.BookID, err)
	}
	rec := &kgo.Record{Topic: m.topic, Key: []byte(msg.BookID), Value: value}
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()
	if err := m.client.ProduceSync(ctx, rec).FirstErr(); err != nil {
		return fmt.Errorf("kafka: produce %s: %w", msg.BookID, err)
	}
	return nil
}

// Close flushes pending records and closes the client.
func (m *Mirror) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.client.Flush(ctx); err != nil {
		m.logger.Warn("kafka flush on close failed", "error", err)
	}
	m.client.Close()
	return nil
}
