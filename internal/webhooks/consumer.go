package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	kafkax "github.com/ariefcatur/go-flashsale-checkout/internal/kafka"
	"github.com/ariefcatur/go-flashsale-checkout/internal/orders"
)

const messageTimeout = 10 * time.Second

// HandleMessage is the consumer handler for the provider events topic. Messages that
// can never succeed are logged and committed; storage errors are returned so the
// offset is not committed.
func (in *Ingestor) HandleMessage(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		in.Log.Warn("dropping undecodable payment event", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}
	if env.EventType != orders.EventPaymentProvider {
		return nil
	}
	p, err := kafkax.UnwrapPayload[orders.PaymentEventPayload](env.Payload)
	if err != nil {
		in.Log.Warn("dropping payment event with bad payload", zap.String("event_id", env.EventID), zap.Error(err))
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, messageTimeout)
	defer cancel()

	raw := p.Raw
	if len(raw) == 0 {
		raw = env.Payload
	}
	res, err := in.HandlePaymentEvent(ctx, Event{
		Provider: p.Provider,
		EventID:  p.EventID,
		Type:     p.Type,
		Data:     EventData{PaymentIntentID: p.PaymentIntentID, OrderID: p.OrderID},
		Raw:      raw,
	})
	if errors.Is(err, orders.ErrNotFound) || errors.Is(err, orders.ErrInvalidArgument) {
		in.Log.Warn("rejected payment event",
			zap.String("provider", p.Provider),
			zap.String("event_id", p.EventID),
			zap.Error(err))
		return nil
	}
	if err != nil {
		return err
	}
	if res.Deduped {
		in.Log.Debug("duplicate payment event", zap.String("provider", p.Provider), zap.String("event_id", p.EventID))
	}
	return nil
}
