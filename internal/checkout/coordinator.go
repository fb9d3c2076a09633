package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-flashsale-checkout/internal/ledger"
	"github.com/ariefcatur/go-flashsale-checkout/internal/orders"
	"github.com/ariefcatur/go-flashsale-checkout/internal/postgres"
)

const (
	constraintOrderReservation = "orders_reservation_id_key"
	constraintOrderIdemKey     = "orders_idempotency_key_key"
)

// errKeyRace means a concurrent request with the same idempotency key committed first.
var errKeyRace = errors.New("idempotency key taken concurrently")

type Result struct {
	OrderID string        `json:"orderId"`
	Status  orders.Status `json:"status"`
}

// Coordinator turns an ACTIVE reservation into a PENDING order.
type Coordinator struct {
	DB     postgres.Pool
	Orders *orders.Repo
	Events orders.Publisher
	Cache  orders.StatusCache
	Log    *zap.Logger
	Now    func() time.Time
}

func NewCoordinator(db postgres.Pool, events orders.Publisher, cache orders.StatusCache, log *zap.Logger) *Coordinator {
	if events == nil {
		events = orders.NopPublisher{}
	}
	if cache == nil {
		cache = orders.NopStatusCache{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{DB: db, Orders: &orders.Repo{DB: db}, Events: events, Cache: cache, Log: log, Now: time.Now}
}

func (c *Coordinator) now() time.Time {
	if c.Now != nil {
		return c.Now().UTC()
	}
	return time.Now().UTC()
}

// StartCheckout creates at most one order per reservation. With a key, repeated calls
// return the order the first call created.
func (c *Coordinator) StartCheckout(ctx context.Context, reservationID, idempotencyKey string) (Result, error) {
	if reservationID == "" {
		return Result{}, fmt.Errorf("%w: reservationId is required", orders.ErrInvalidArgument)
	}

	if idempotencyKey != "" {
		if res, ok, err := c.replay(ctx, reservationID, idempotencyKey); err != nil || ok {
			return res, err
		}
	}

	now := c.now()
	var (
		order    orders.Order
		replayed bool
	)
	err := postgres.WithTx(ctx, c.DB, func(tx pgx.Tx) error {
		var (
			itemID, productID, status string
			qty                       int
			expiresAt                 time.Time
		)
		err := tx.QueryRow(ctx, `
			SELECT r.flash_sale_item_id, f.product_id, r.qty, r.status, r.expires_at
			FROM reservations r
			JOIN flash_sale_items f ON f.id = r.flash_sale_item_id
			WHERE r.id = $1
			FOR UPDATE OF r`, reservationID,
		).Scan(&itemID, &productID, &qty, &status, &expiresAt)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: reservation %s", orders.ErrNotFound, reservationID)
		}
		if err != nil {
			return fmt.Errorf("lock reservation: %w", err)
		}

		// An existing order wins over the lifecycle check: the reservation is
		// CONFIRMED by then and the caller should learn it was already checked out.
		existing, err := c.Orders.FindByReservation(ctx, tx, reservationID)
		switch {
		case err == nil:
			if idempotencyKey != "" && existing.IdempotencyKey == idempotencyKey {
				order, replayed = existing, true
				return nil
			}
			return fmt.Errorf("%w: reservation %s already has order %s", orders.ErrConflict, reservationID, existing.ID)
		case !errors.Is(err, orders.ErrNotFound):
			return err
		}

		r := orders.Reservation{Status: orders.ReservationStatus(status), ExpiresAt: expiresAt}
		if r.Status != orders.ReservationActive {
			return fmt.Errorf("%w: reservation %s is %s", orders.ErrInvalidState, reservationID, status)
		}
		if r.Expired(now) {
			return fmt.Errorf("%w: reservation %s expired", orders.ErrInvalidState, reservationID)
		}
		if qty <= 0 {
			return fmt.Errorf("%w: reservation %s has no quantity", orders.ErrInvalidState, reservationID)
		}

		var price int64
		var currency string
		err = tx.QueryRow(ctx, `
			SELECT price_cents, COALESCE(NULLIF(currency, ''), 'USD')
			FROM products WHERE id = $1`, productID).Scan(&price, &currency)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: product %s", orders.ErrNotFound, productID)
		}
		if err != nil {
			return fmt.Errorf("load product: %w", err)
		}

		subtotal := price * int64(qty)
		order = orders.Order{
			ID:             uuid.NewString(),
			Status:         orders.StatusPending,
			ReservationID:  reservationID,
			IdempotencyKey: idempotencyKey,
			Currency:       currency,
			SubtotalCents:  subtotal,
			TotalCents:     subtotal,
			CreatedAt:      now,
			UpdatedAt:      now,
			Items: []orders.OrderItem{{
				ID:             uuid.NewString(),
				ProductID:      productID,
				Qty:            qty,
				UnitPriceCents: price,
				LineTotalCents: subtotal,
			}},
		}
		order.Items[0].OrderID = order.ID

		_, err = tx.Exec(ctx, `
			INSERT INTO orders(id, status, reservation_id, idempotency_key, currency, subtotal_cents, total_cents, created_at, updated_at)
			VALUES ($1, 'PENDING', $2, NULLIF($3, ''), $4, $5, $6, $7, $7)`,
			order.ID, reservationID, idempotencyKey, currency, subtotal, subtotal, now)
		switch {
		case postgres.IsUniqueViolation(err, constraintOrderReservation):
			return fmt.Errorf("%w: reservation %s already has an order", orders.ErrConflict, reservationID)
		case postgres.IsUniqueViolation(err, constraintOrderIdemKey):
			return errKeyRace
		case err != nil:
			return fmt.Errorf("insert order: %w", err)
		}

		it := order.Items[0]
		if _, err := tx.Exec(ctx, `
			INSERT INTO order_items(id, order_id, product_id, qty, unit_price_cents, line_total_cents)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			it.ID, order.ID, it.ProductID, it.Qty, it.UnitPriceCents, it.LineTotalCents); err != nil {
			return fmt.Errorf("insert order item: %w", err)
		}

		tag, err := tx.Exec(ctx, `
			UPDATE reservations SET status = $2
			WHERE id = $1 AND status = ANY($3)`,
			reservationID, string(orders.ReservationConfirmed), orders.ReservationSourcesFor(orders.ReservationConfirmed))
		if err != nil {
			return fmt.Errorf("confirm reservation: %w", err)
		}
		if tag.RowsAffected() != 1 {
			return fmt.Errorf("%w: reservation %s is no longer active", orders.ErrInvalidState, reservationID)
		}
		return ledger.MarkSold(ctx, tx, itemID, qty)
	})
	if errors.Is(err, errKeyRace) {
		res, ok, rerr := c.replay(ctx, reservationID, idempotencyKey)
		if rerr == nil && !ok {
			rerr = fmt.Errorf("%w: idempotency key %s", orders.ErrConflict, idempotencyKey)
		}
		return res, rerr
	}
	if err != nil {
		return Result{}, err
	}
	if replayed {
		return Result{OrderID: order.ID, Status: order.Status}, nil
	}

	c.Log.Info("order created",
		zap.String("order_id", order.ID),
		zap.String("reservation_id", reservationID),
		zap.Int64("total_cents", order.TotalCents))
	c.Cache.SetStatus(ctx, order.ID, order.Status)
	c.Events.Emit(ctx, orders.TopicOrders, orders.EventOrderCreated, order.ID, orders.OrderCreatedPayload{
		OrderID:       order.ID,
		ReservationID: reservationID,
		ProductID:     order.Items[0].ProductID,
		Qty:           order.Items[0].Qty,
		TotalCents:    order.TotalCents,
		Currency:      order.Currency,
	})
	return Result{OrderID: order.ID, Status: order.Status}, nil
}

// replay looks up an order by idempotency key. A key already bound to a different
// reservation is a conflicting retry.
func (c *Coordinator) replay(ctx context.Context, reservationID, key string) (Result, bool, error) {
	o, err := c.Orders.FindByIdempotencyKey(ctx, c.DB, key)
	if errors.Is(err, orders.ErrNotFound) {
		return Result{}, false, nil
	}
	if err != nil {
		return Result{}, false, err
	}
	if o.ReservationID != reservationID {
		return Result{}, false, fmt.Errorf("%w: key %s belongs to another reservation", orders.ErrConflictingRetry, key)
	}
	return Result{OrderID: o.ID, Status: o.Status}, true, nil
}
