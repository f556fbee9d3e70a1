// Package events forwards repository write events to a Kafka topic so other
// services can follow punishment changes without polling storage.
//
// Delivery is best effort. Events are buffered in memory and the oldest are
// dropped when the buffer is full; a failed batch is counted and logged but
// not retried, since storage remains the source of truth.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"warden/internal/platform/metrics"
	"warden/internal/storage/repository"
	"warden/pkg/platform/ringbuffer"
)

//go:generate mockgen -source=publisher.go -destination=mocks/mocks.go -package=mocks Producer

// Producer is the part of *kgo.Client the publisher needs.
type Producer interface {
	ProduceSync(ctx context.Context, rs ...*kgo.Record) kgo.ProduceResults
	Flush(ctx context.Context) error
	Close()
}

// Message is the JSON value written for each storage event.
type Message struct {
	Kind       string         `json:"kind"`
	Repository string         `json:"repository"`
	Backend    string         `json:"backend"`
	IDs        []string       `json:"ids"`
	Document   map[string]any `json:"document,omitempty"`
	At         int64          `json:"at"`
}

const (
	defaultCapacity = 4096
	defaultBatch    = 128
	defaultInterval = time.Second
	shutdownTimeout = 5 * time.Second
)

// Publisher implements repository.Observer on top of a Producer.
type Publisher struct {
	producer Producer
	topic    string
	buf      *ringbuffer.Buffer[repository.Event]
	batch    int
	interval time.Duration
	wake     chan struct{}
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

type Option func(*Publisher)

func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Publisher) { p.metrics = m }
}

// WithBuffer sets how many events may wait for delivery.
func WithBuffer(capacity int) Option {
	return func(p *Publisher) {
		if capacity > 0 {
			p.buf = ringbuffer.New[repository.Event](capacity)
		}
	}
}

func WithBatch(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.batch = n
		}
	}
}

func WithInterval(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.interval = d
		}
	}
}

func New(producer Producer, topic string, opts ...Option) (*Publisher, error) {
	if producer == nil {
		return nil, errors.New("producer is required")
	}
	if topic == "" {
		return nil, errors.New("topic is required")
	}
	p := &Publisher{
		producer: producer,
		topic:    topic,
		buf:      ringbuffer.New[repository.Event](defaultCapacity),
		batch:    defaultBatch,
		interval: defaultInterval,
		wake:     make(chan struct{}, 1),
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// NewClient builds a franz-go client producing to topic.
func NewClient(brokers []string, topic string, extra ...kgo.Opt) (*kgo.Client, error) {
	opts := append([]kgo.Opt{
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
		kgo.AllowAutoTopicCreation(),
		kgo.ProducerLinger(50 * time.Millisecond),
	}, extra...)
	client, err := kgo.NewClient(opts...)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	return client, nil
}

// OnStorageEvent buffers e and never blocks the writer.
func (p *Publisher) OnStorageEvent(ctx context.Context, e repository.Event) {
	if dropped, ok := p.buf.Enqueue(e); ok {
		p.logger.WarnContext(ctx, "storage event dropped: buffer full",
			"repository", dropped.Repository,
			"kind", dropped.Kind,
		)
		if p.metrics != nil {
			p.metrics.IncEventsFailed()
		}
	}
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Pending is the number of buffered events.
func (p *Publisher) Pending() int { return p.buf.Len() }

// Flush sends one batch and returns how many events were delivered.
func (p *Publisher) Flush(ctx context.Context) int {
	batch := p.buf.DequeueBatch(p.batch)
	if len(batch) == 0 {
		return 0
	}

	records := make([]*kgo.Record, 0, len(batch))
	for _, e := range batch {
		rec, err := p.record(e)
		if err != nil {
			p.logger.ErrorContext(ctx, "storage event not encodable",
				"repository", e.Repository,
				"error", err,
			)
			p.failed(1)
			continue
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return 0
	}

	delivered := 0
	for _, res := range p.producer.ProduceSync(ctx, records...) {
		if res.Err != nil {
			p.logger.ErrorContext(ctx, "storage event not delivered",
				"topic", p.topic,
				"key", string(res.Record.Key),
				"error", res.Err,
			)
			p.failed(1)
			continue
		}
		delivered++
	}
	if p.metrics != nil {
		for range delivered {
			p.metrics.IncEventsPublished()
		}
	}
	return delivered
}

func (p *Publisher) failed(n int) {
	if p.metrics == nil {
		return
	}
	for range n {
		p.metrics.IncEventsFailed()
	}
}

func (p *Publisher) record(e repository.Event) (*kgo.Record, error) {
	value, err := json.Marshal(Message{
		Kind:       string(e.Kind),
		Repository: e.Repository,
		Backend:    e.Backend,
		IDs:        e.IDs,
		Document:   e.Document,
		At:         e.At.UnixMilli(),
	})
	if err != nil {
		return nil, err
	}
	// single-id events are keyed by id so one record's history stays ordered
	var key []byte
	if len(e.IDs) == 1 {
		key = []byte(e.IDs[0])
	}
	return &kgo.Record{
		Topic: p.topic,
		Key:   key,
		Value: value,
		Headers: []kgo.RecordHeader{
			{Key: "repository", Value: []byte(e.Repository)},
			{Key: "kind", Value: []byte(e.Kind)},
		},
	}, nil
}

// Run delivers buffered events until ctx ends, then drains what is left
// within a short grace period.
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			drainCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			for p.Flush(drainCtx) > 0 {
			}
			cancel()
			return
		case <-ticker.C:
		case <-p.wake:
		}
		for p.Pending() > 0 && p.Flush(ctx) > 0 {
		}
	}
}

// Close flushes the producer and releases it.
func (p *Publisher) Close(ctx context.Context) error {
	defer p.producer.Close()
	if err := p.producer.Flush(ctx); err != nil {
		return fmt.Errorf("flush producer: %w", err)
	}
	return nil
}
