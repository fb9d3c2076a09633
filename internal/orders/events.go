package orders

import (
	"context"
	"encoding/json"
	"time"
)

const (
	EventReservationCreated   = "ReservationCreated"
	EventReservationsExpired  = "ReservationsExpired"
	EventOrderCreated         = "OrderCreated"
	EventPaymentIntentCreated = "PaymentIntentCreated"
	EventPaymentSucceeded     = "PaymentSucceeded"
	EventPaymentFailed        = "PaymentFailed"
	EventPaymentProvider      = "PaymentProviderEvent"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // reservation or order id
	Payload       json.RawMessage `json:"payload"`
}

// Publisher emits domain events after a transaction commits. Delivery is best effort;
// the database stays the source of truth.
type Publisher interface {
	Emit(ctx context.Context, topic, eventType, key string, payload any)
}

type NopPublisher struct{}

func (NopPublisher) Emit(context.Context, string, string, string, any) {}

// ---- payloads ----

type ReservationCreatedPayload struct {
	ReservationID   string    `json:"reservation_id"`
	FlashSaleItemID string    `json:"flash_sale_item_id"`
	ProductID       string    `json:"product_id"`
	Qty             int       `json:"qty"`
	ExpiresAt       time.Time `json:"expires_at"`
}

type ExpiredItem struct {
	FlashSaleItemID string `json:"flash_sale_item_id"`
	Qty             int    `json:"qty"`
}

type ReservationsExpiredPayload struct {
	ReservationIDs []string      `json:"reservation_ids"`
	Released       []ExpiredItem `json:"released"`
}

type OrderCreatedPayload struct {
	OrderID       string `json:"order_id"`
	ReservationID string `json:"reservation_id"`
	ProductID     string `json:"product_id"`
	Qty           int    `json:"qty"`
	TotalCents    int64  `json:"total_cents"`
	Currency      string `json:"currency"`
}

type PaymentIntentCreatedPayload struct {
	PaymentIntentID string `json:"payment_intent_id"`
	OrderID         string `json:"order_id"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
}

type PaymentResultPayload struct {
	OrderID             string `json:"order_id"`
	PaymentIntentID     string `json:"payment_intent_id"`
	PaymentIntentStatus string `json:"payment_intent_status"`
	OrderStatusApplied  bool   `json:"order_status_applied"`
}

// PaymentEventPayload is what a provider bridge puts on the provider events topic.
type PaymentEventPayload struct {
	Provider        string          `json:"provider"`
	EventID         string          `json:"event_id"`
	Type            string          `json:"type"`
	PaymentIntentID string          `json:"payment_intent_id"`
	OrderID         string          `json:"order_id"`
	Raw             json.RawMessage `json:"raw,omitempty"`
}
