// Package kafka publishes analysis tasks to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"

	"github.com/JakeFAU/insfound/internal/inspiration"
)

// Config controls the Kafka writer.
type Config struct {
	Brokers      []string
	Topic        string
	WriteTimeout time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher writes tasks keyed by canonical URL so every task for a URL
// lands on the same partition.
type Publisher struct {
	writer messageWriter
}

// New builds a Publisher backed by a kafka.Writer.
func New(cfg Config) (*Publisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka.brokers is required")
	}
	if strings.TrimSpace(cfg.Topic) == "" {
		return nil, fmt.Errorf("kafka.topic is required")
	}
	timeout := cfg.WriteTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		AllowAutoTopicCreation: true,
		Balancer:               &kafka.Hash{},
		Compression:            kafka.Snappy,
		RequiredAcks:           kafka.RequireAll,
		WriteTimeout:           timeout,
	}
	return &Publisher{writer: writer}, nil
}

// NewWithWriter wraps an existing writer (primarily for testing).
func NewWithWriter(writer messageWriter) *Publisher {
	return &Publisher{writer: writer}
}

// Enqueue writes the task as a JSON message.
func (p *Publisher) Enqueue(ctx context.Context, task inspiration.Task) error {
	value, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	carrier := &headerCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	msg := kafka.Message{
		Key:     []byte(task.CanonicalURL),
		Value:   value,
		Headers: append([]kafka.Header{{Key: "job_id", Value: []byte(task.JobID)}}, carrier.headers...),
		Time:    task.SubmittedAt,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write task %s: %w", task.JobID, err)
	}
	return nil
}

// Close flushes and closes the writer.
func (p *Publisher) Close() error {
	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("close kafka writer: %w", err)
	}
	return nil
}

// headerCarrier implements propagation.TextMapCarrier for Kafka headers.
type headerCarrier struct {
	headers []kafka.Header
}

func (c *headerCarrier) Get(key string) string {
	for _, h := range c.headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}

func (c *headerCarrier) Set(key, value string) {
	for i, h := range c.headers {
		if h.Key == key {
			c.headers[i].Value = []byte(value)
			return
		}
	}
	c.headers = append(c.headers, kafka.Header{Key: key, Value: []byte(value)})
}

func (c *headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c.headers))
	for _, h := range c.headers {
		keys = append(keys, h.Key)
	}
	return keys
}
