package kafka

import (
	"context"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-flashsale-checkout/internal/orders"
)

const envelopeVersion = 1

// Emitter wraps domain payloads in an orders.Envelope and hands them to the
// producer for the topic. It implements orders.Publisher.
type Emitter struct {
	Producers map[string]*Producer
	Service   string
	Log       *zap.Logger
}

func NewEmitter(service string, log *zap.Logger, producers map[string]*Producer) *Emitter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Emitter{Producers: producers, Service: service, Log: log}
}

func (e *Emitter) Emit(ctx context.Context, topic, eventType, key string, payload any) {
	p, ok := e.Producers[topic]
	if !ok {
		e.Log.Warn("no producer for topic", zap.String("topic", topic), zap.String("event_type", eventType))
		return
	}
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  envelopeVersion,
		OccurredAt:    time.Now().UTC(),
		Producer:      e.Service,
		TraceID:       middleware.GetReqID(ctx),
		CorrelationID: key,
		Payload:       MustMarshal(payload),
	}
	p.Publish(orders.PartitionKey(key), MustMarshal(ev),
		kafka.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafka.Header{Key: "x-event-version", Value: []byte(strconv.Itoa(envelopeVersion))},
	)
}

// Start starts every producer.
func (e *Emitter) Start(ctx context.Context) {
	for _, p := range e.Producers {
		p.Start(ctx)
	}
}

// Close flushes and closes every producer and waits for them.
func (e *Emitter) Close() {
	for _, p := range e.Producers {
		p.Close()
	}
	for _, p := range e.Producers {
		p.WaitClosed()
	}
}
