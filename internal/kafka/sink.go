// Package kafka provides an append-only audit sink on a Kafka topic.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/sweeney/farm-controller/internal/audit"
)

// Config selects the brokers and topic. An empty broker list disables the sink.
type Config struct {
	Brokers []string `yaml:"brokers"`
	Topic   string   `yaml:"topic"`
}

// Enabled reports whether any broker is configured.
func (c Config) Enabled() bool {
	return len(c.Brokers) > 0
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Sink writes audit entries keyed by actuator, so each actuator's history
// stays ordered within one partition.
type Sink struct {
	topic    string
	deviceID string
	writer   messageWriter
}

// NewSink creates a Sink writing to cfg.Topic.
func NewSink(cfg Config, deviceID string) (*Sink, error) {
	if !cfg.Enabled() {
		return nil, errors.New("kafka: no brokers configured")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, errors.New("kafka: topic must not be empty")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 50 * time.Millisecond,
		WriteTimeout: 5 * time.Second,
	}
	return newSinkWithWriter(cfg.Topic, deviceID, w), nil
}

// newSinkWithWriter wires the provided writer into the sink. It is used in tests.
func newSinkWithWriter(topic, deviceID string, w messageWriter) *Sink {
	return &Sink{topic: topic, deviceID: deviceID, writer: w}
}

// Name identifies the sink in logs.
func (s *Sink) Name() string { return "kafka" }

// Write sends entries as one batch.
func (s *Sink) Write(ctx context.Context, entries []audit.Entry) error {
	msgs := make([]kafka.Message, 0, len(entries))
	for _, e := range entries {
		value, err := audit.MarshalEntry(e)
		if err != nil {
			return fmt.Errorf("kafka: encode %s: %w", e.ID, err)
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(s.deviceID + "/" + string(e.Actuator)),
			Value: value,
			Time:  e.Timestamp,
			Headers: []kafka.Header{
				{Key: "log", Value: []byte(e.Log())},
				{Key: "device", Value: []byte(s.deviceID)},
			},
		})
	}
	if err := s.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("kafka: write %d entries to %s: %w", len(msgs), s.topic, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (s *Sink) Close() error {
	return s.writer.Close()
}
