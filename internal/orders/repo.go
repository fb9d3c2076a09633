package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ariefcatur/go-flashsale-checkout/internal/postgres"
)

// Repo reads orders. Writes belong to checkout and webhook ingestion.
type Repo struct{ DB postgres.DBTX }

const orderCols = `id, status, reservation_id, COALESCE(idempotency_key, ''), currency, subtotal_cents, total_cents, created_at, updated_at`

// GetOrder loads an order with its items.
func (r *Repo) GetOrder(ctx context.Context, orderID string) (Order, error) {
	o, err := r.getOrderBy(ctx, r.DB, "id", orderID)
	if err != nil {
		return Order{}, err
	}
	rows, err := r.DB.Query(ctx, `
		SELECT id, order_id, product_id, qty, unit_price_cents, line_total_cents
		FROM order_items WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return Order{}, fmt.Errorf("load order items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.Qty, &it.UnitPriceCents, &it.LineTotalCents); err != nil {
			return Order{}, err
		}
		o.Items = append(o.Items, it)
	}
	return o, rows.Err()
}

func (r *Repo) GetOrderStatus(ctx context.Context, orderID string) (Status, error) {
	var s string
	err := r.DB.QueryRow(ctx, `SELECT status FROM orders WHERE id = $1`, orderID).Scan(&s)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: order %s", ErrNotFound, orderID)
	}
	if err != nil {
		return "", fmt.Errorf("get order status: %w", err)
	}
	return Status(s), nil
}

// FindByIdempotencyKey returns ErrNotFound when no order carries the key.
func (r *Repo) FindByIdempotencyKey(ctx context.Context, db postgres.DBTX, key string) (Order, error) {
	return r.getOrderBy(ctx, db, "idempotency_key", key)
}

// FindByReservation returns ErrNotFound when the reservation has no order yet.
func (r *Repo) FindByReservation(ctx context.Context, db postgres.DBTX, reservationID string) (Order, error) {
	return r.getOrderBy(ctx, db, "reservation_id", reservationID)
}

func (r *Repo) getOrderBy(ctx context.Context, db postgres.DBTX, col, val string) (Order, error) {
	if db == nil {
		db = r.DB
	}
	var (
		o      Order
		status string
	)
	err := db.QueryRow(ctx, `SELECT `+orderCols+` FROM orders WHERE `+col+` = $1`, val).
		Scan(&o.ID, &status, &o.ReservationID, &o.IdempotencyKey, &o.Currency, &o.SubtotalCents, &o.TotalCents, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, fmt.Errorf("%w: order with %s %s", ErrNotFound, col, val)
	}
	if err != nil {
		return Order{}, fmt.Errorf("get order: %w", err)
	}
	o.Status = Status(status)
	return o, nil
}
