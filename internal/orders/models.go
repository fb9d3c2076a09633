package orders

import (
	"encoding/json"
	"time"
)

type Product struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	PriceCents int64     `json:"priceCents"`
	Currency   string    `json:"currency"`
	CreatedAt  time.Time `json:"createdAt"`
}

// InventoryRecord is general on-hand stock, separate from flash-sale stock.
type InventoryRecord struct {
	ProductID string    `json:"productId"`
	OnHand    int       `json:"onHand"`
	Reserved  int       `json:"reserved"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type FlashSaleItem struct {
	ID        string     `json:"id"`
	ProductID string     `json:"productId"`
	Stock     int        `json:"stock"`
	Reserved  int        `json:"reserved"`
	Sold      int        `json:"sold"`
	StartsAt  *time.Time `json:"startsAt,omitempty"`
	EndsAt    *time.Time `json:"endsAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// Available is what can still be reserved.
func (i FlashSaleItem) Available() int { return i.Stock - i.Reserved }

type Reservation struct {
	ID              string            `json:"id"`
	FlashSaleItemID string            `json:"flashSaleItemId"`
	Qty             int               `json:"qty"`
	Status          ReservationStatus `json:"status"`
	ExpiresAt       time.Time         `json:"expiresAt"`
	RequestID       string            `json:"requestId,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
}

// Expired reports whether the hold has lapsed at now. The boundary instant counts as expired.
func (r Reservation) Expired(now time.Time) bool { return !now.Before(r.ExpiresAt) }

type Order struct {
	ID             string      `json:"id"`
	Status         Status      `json:"status"`
	ReservationID  string      `json:"reservationId"`
	IdempotencyKey string      `json:"idempotencyKey,omitempty"`
	Currency       string      `json:"currency"`
	SubtotalCents  int64       `json:"subtotalCents"`
	TotalCents     int64       `json:"totalCents"`
	Items          []OrderItem `json:"items,omitempty"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

type OrderItem struct {
	ID             string `json:"id"`
	OrderID        string `json:"orderId"`
	ProductID      string `json:"productId"`
	Qty            int    `json:"qty"`
	UnitPriceCents int64  `json:"unitPriceCents"`
	LineTotalCents int64  `json:"lineTotalCents"`
}

type PaymentIntent struct {
	ID           string              `json:"id"`
	OrderID      string              `json:"orderId"`
	Amount       int64               `json:"amount"`
	Currency     string              `json:"currency"`
	Status       PaymentIntentStatus `json:"status"`
	ClientSecret string              `json:"clientSecret"`
	CreatedAt    time.Time           `json:"createdAt"`
	UpdatedAt    time.Time           `json:"updatedAt"`
}

type WebhookEvent struct {
	ID         string          `json:"id"`
	Provider   string          `json:"provider"`
	EventID    string          `json:"eventId"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	ReceivedAt time.Time       `json:"receivedAt"`
}

type IdempotencyRecord struct {
	Scope       string          `json:"scope"`
	Key         string          `json:"key"`
	RequestHash string          `json:"requestHash"`
	Response    json.RawMessage `json:"response"`
	CreatedAt   time.Time       `json:"createdAt"`
}
