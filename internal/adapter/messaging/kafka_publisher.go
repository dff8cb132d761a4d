package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/rl1809/pawfect-shop/internal/core/domain"
)

const writeTimeout = 5 * time.Second

var (
	ErrPublisherBusy   = errors.New("event publisher buffer full")
	ErrPublisherClosed = errors.New("event publisher closed")
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher hands events to a background writer through a bounded inbox,
// so a slow broker never holds up order placement.
type KafkaPublisher struct {
	w        messageWriter
	producer string
	logger   *zap.Logger
	now      func() time.Time

	mu     sync.RWMutex
	closed bool
	inbox  chan kafka.Message
	done   chan struct{}
}

func NewKafkaPublisher(brokers []string, topic, producer string, buf int, logger *zap.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
	}
	return newKafkaPublisher(w, producer, buf, logger)
}

func newKafkaPublisher(w messageWriter, producer string, buf int, logger *zap.Logger) *KafkaPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if buf <= 0 {
		buf = 1
	}
	p := &KafkaPublisher{
		w:        w,
		producer: producer,
		logger:   logger,
		now:      time.Now,
		inbox:    make(chan kafka.Message, buf),
		done:     make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *KafkaPublisher) run() {
	defer close(p.done)
	for msg := range p.inbox {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := p.w.WriteMessages(ctx, msg); err != nil {
			p.logger.Warn("event_write_failed", zap.ByteString("key", msg.Key), zap.Error(err))
		}
		cancel()
	}
}

func (p *KafkaPublisher) PublishOrderPlaced(ctx context.Context, order domain.Order) error {
	payload, err := json.Marshal(orderPlacedPayload(order))
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}

	env := Envelope{
		EventID:      uuid.NewString(),
		EventType:    EventOrderPlaced,
		EventVersion: orderPlacedVersion,
		OccurredAt:   p.now().UTC(),
		Producer:     p.producer,
		Payload:      payload,
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		env.TraceID = sc.TraceID().String()
	}

	value, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	return p.enqueue(kafka.Message{
		Key:   PartitionKey(order.ID),
		Value: value,
		Time:  env.OccurredAt,
		Headers: []kafka.Header{
			{Key: "x-event-type", Value: []byte(EventOrderPlaced)},
			{Key: "x-event-version", Value: []byte(strconv.Itoa(orderPlacedVersion))},
		},
	})
}

func (p *KafkaPublisher) enqueue(msg kafka.Message) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPublisherClosed
	}
	select {
	case p.inbox <- msg:
		return nil
	default:
		return ErrPublisherBusy
	}
}

// Close stops accepting events, flushes the ones already queued and closes the
// writer. It blocks until the flush ends or ctx is done.
func (p *KafkaPublisher) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.inbox)
	}
	p.mu.Unlock()

	select {
	case <-p.done:
	case <-ctx.Done():
		return fmt.Errorf("flush events: %w", ctx.Err())
	}
	return p.w.Close()
}

// NopPublisher drops every event. Used when no brokers are configured.
type NopPublisher struct{}

func (NopPublisher) PublishOrderPlaced(context.Context, domain.Order) error { return nil }

func (NopPublisher) Close(context.Context) error { return nil }
