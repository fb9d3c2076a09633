package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-flashsale-checkout/internal/ledger"
	"github.com/ariefcatur/go-flashsale-checkout/internal/orders"
	"github.com/ariefcatur/go-flashsale-checkout/internal/payments"
	"github.com/ariefcatur/go-flashsale-checkout/internal/postgres"
)

const (
	TypeSucceeded  = "payment_intent.succeeded"
	TypeFailed     = "payment_intent.failed"
	TypeProcessing = "payment_intent.processing"

	constraintProviderEvent = "webhook_events_provider_event_id_key"
)

var errDuplicate = errors.New("duplicate webhook event")

type EventData struct {
	PaymentIntentID string `json:"paymentIntentId"`
	OrderID         string `json:"orderId"`
}

type Event struct {
	Provider string
	EventID  string
	Type     string
	Data     EventData
	Raw      json.RawMessage
}

type Result struct {
	OK                  bool                       `json:"ok"`
	Deduped             bool                       `json:"deduped"`
	PaymentIntentStatus orders.PaymentIntentStatus `json:"paymentIntentStatus,omitempty"`
	OrderStatusApplied  bool                       `json:"orderStatusApplied"`
}

// Deduper is an advisory seen-set in front of the webhook_events table.
type Deduper interface {
	Seen(ctx context.Context, id string) bool
	Mark(ctx context.Context, id string)
}

type nopDeduper struct{}

func (nopDeduper) Seen(context.Context, string) bool { return false }
func (nopDeduper) Mark(context.Context, string)      {}

// Ingestor applies provider payment events to intents and orders exactly once
// per (provider, eventId).
type Ingestor struct {
	DB     postgres.Pool
	Dedup  Deduper
	Cache  orders.StatusCache
	Events orders.Publisher
	Log    *zap.Logger
}

func NewIngestor(db postgres.Pool, dedup Deduper, cache orders.StatusCache, events orders.Publisher, log *zap.Logger) *Ingestor {
	if dedup == nil {
		dedup = nopDeduper{}
	}
	if cache == nil {
		cache = orders.NopStatusCache{}
	}
	if events == nil {
		events = orders.NopPublisher{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Ingestor{DB: db, Dedup: dedup, Cache: cache, Events: events, Log: log}
}

// targets maps an event type to the intent status and, when the event settles the
// payment, the order status.
func targets(eventType string) (orders.PaymentIntentStatus, orders.Status, bool) {
	switch eventType {
	case TypeSucceeded:
		return orders.IntentSucceeded, orders.StatusPaid, true
	case TypeFailed:
		return orders.IntentFailed, orders.StatusCanceled, true
	case TypeProcessing:
		return orders.IntentProcessing, "", true
	default:
		return "", "", false
	}
}

func dedupID(provider, eventID string) string { return provider + ":" + eventID }

func (in *Ingestor) HandlePaymentEvent(ctx context.Context, ev Event) (Result, error) {
	if ev.Provider == "" || ev.EventID == "" {
		return Result{}, fmt.Errorf("%w: provider and eventId are required", orders.ErrInvalidArgument)
	}
	if ev.Data.PaymentIntentID == "" || ev.Data.OrderID == "" {
		return Result{}, fmt.Errorf("%w: data.paymentIntentId and data.orderId are required", orders.ErrInvalidArgument)
	}
	intentTarget, orderTarget, ok := targets(ev.Type)
	if !ok {
		return Result{}, fmt.Errorf("%w: unsupported event type %q", orders.ErrInvalidArgument, ev.Type)
	}

	did := dedupID(ev.Provider, ev.EventID)
	if in.Dedup.Seen(ctx, did) {
		return Result{OK: true, Deduped: true}, nil
	}
	var seen bool
	if err := in.DB.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM webhook_events WHERE provider = $1 AND event_id = $2)`,
		ev.Provider, ev.EventID).Scan(&seen); err != nil {
		return Result{}, fmt.Errorf("check webhook event: %w", err)
	}
	if seen {
		in.Dedup.Mark(ctx, did)
		return Result{OK: true, Deduped: true}, nil
	}

	raw := ev.Raw
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}

	var (
		res     = Result{OK: true}
		orderID string
	)
	err := postgres.WithTx(ctx, in.DB, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO webhook_events(id, provider, event_id, type, payload)
			VALUES ($1, $2, $3, $4, $5)`,
			uuid.NewString(), ev.Provider, ev.EventID, ev.Type, []byte(raw))
		if postgres.IsUniqueViolation(err, constraintProviderEvent) {
			return errDuplicate
		}
		if err != nil {
			return fmt.Errorf("insert webhook event: %w", err)
		}

		pi, err := payments.GetIntent(ctx, tx, ev.Data.PaymentIntentID)
		if err != nil {
			return err
		}
		if ev.Data.OrderID != pi.OrderID {
			return fmt.Errorf("%w: payment intent %s does not belong to order %s", orders.ErrNotFound, pi.ID, ev.Data.OrderID)
		}
		orderID = pi.OrderID

		cur, applied, err := payments.SetPaymentIntentStatus(ctx, tx, pi.ID, intentTarget)
		if err != nil {
			return err
		}
		if !applied && cur.Terminal() && cur != intentTarget {
			in.Log.Warn("payment event conflicts with settled intent",
				zap.String("payment_intent_id", pi.ID),
				zap.String("current", string(cur)),
				zap.String("event_type", ev.Type))
		}
		res.PaymentIntentStatus = cur

		if orderTarget == "" {
			return nil
		}
		tag, err := tx.Exec(ctx, `
			UPDATE orders SET status = $2, updated_at = now()
			WHERE id = $1 AND status = ANY($3)`, pi.OrderID, string(orderTarget), orders.OrderSourcesFor(orderTarget))
		if err != nil {
			return fmt.Errorf("update order status: %w", err)
		}
		res.OrderStatusApplied = tag.RowsAffected() == 1
		if res.OrderStatusApplied && orderTarget == orders.StatusCanceled {
			return returnStock(ctx, tx, pi.OrderID)
		}
		return nil
	})
	if errors.Is(err, errDuplicate) {
		in.Dedup.Mark(ctx, did)
		return Result{OK: true, Deduped: true}, nil
	}
	if err != nil {
		return Result{}, err
	}

	in.Dedup.Mark(ctx, did)
	in.Log.Info("payment event applied",
		zap.String("provider", ev.Provider),
		zap.String("event_id", ev.EventID),
		zap.String("type", ev.Type),
		zap.String("order_id", orderID),
		zap.String("intent_status", string(res.PaymentIntentStatus)),
		zap.Bool("order_status_applied", res.OrderStatusApplied))

	if res.OrderStatusApplied {
		in.Cache.SetStatus(ctx, orderID, orderTarget)
		eventType := orders.EventPaymentSucceeded
		if orderTarget == orders.StatusCanceled {
			eventType = orders.EventPaymentFailed
		}
		in.Events.Emit(ctx, orders.TopicPayments, eventType, orderID, orders.PaymentResultPayload{
			OrderID:             orderID,
			PaymentIntentID:     ev.Data.PaymentIntentID,
			PaymentIntentStatus: string(res.PaymentIntentStatus),
			OrderStatusApplied:  true,
		})
	}
	return res, nil
}

// returnStock puts a canceled order's held quantity back on sale. It only runs in
// the transaction that moved the order out of PENDING, so it happens once.
func returnStock(ctx context.Context, tx pgx.Tx, orderID string) error {
	var itemID string
	var qty int
	err := tx.QueryRow(ctx, `
		SELECT r.flash_sale_item_id, r.qty
		FROM orders o JOIN reservations r ON r.id = o.reservation_id
		WHERE o.id = $1`, orderID).Scan(&itemID, &qty)
	if err != nil {
		return fmt.Errorf("load reservation for order %s: %w", orderID, err)
	}
	if err := ledger.ReleaseFlashSale(ctx, tx, itemID, qty); err != nil {
		return err
	}
	return ledger.UnmarkSold(ctx, tx, itemID, qty)
}
