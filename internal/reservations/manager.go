package reservations

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
	DefaultTTL = 10 * time.Minute
	listLimit  = 50
)

// errRequestReplay aborts the reserve transaction when another caller already
// inserted a reservation with the same request id.
var errRequestReplay = errors.New("request id already used")

// Manager places time-limited holds on flash-sale stock.
type Manager struct {
	DB     postgres.Pool
	Events orders.Publisher
	Log    *zap.Logger
	TTL    time.Duration
	Now    func() time.Time
}

func NewManager(db postgres.Pool, events orders.Publisher, log *zap.Logger, ttl time.Duration) *Manager {
	if events == nil {
		events = orders.NopPublisher{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{DB: db, Events: events, Log: log, TTL: ttl, Now: time.Now}
}

func (m *Manager) now() time.Time {
	if m.Now != nil {
		return m.Now().UTC()
	}
	return time.Now().UTC()
}

func (m *Manager) ttl() time.Duration {
	if m.TTL <= 0 {
		return DefaultTTL
	}
	return m.TTL
}

// Reserve holds qty units of the product's flash-sale stock. A repeated requestID
// returns the reservation created by the first call without touching stock again.
func (m *Manager) Reserve(ctx context.Context, productID string, qty int, requestID string) (orders.Reservation, error) {
	if productID == "" {
		return orders.Reservation{}, fmt.Errorf("%w: productId is required", orders.ErrInvalidArgument)
	}
	if qty <= 0 {
		return orders.Reservation{}, fmt.Errorf("%w: qty must be positive", orders.ErrInvalidArgument)
	}

	if requestID != "" {
		r, err := m.getByRequestID(ctx, m.DB, requestID)
		if err == nil {
			return r, nil
		}
		if !errors.Is(err, orders.ErrNotFound) {
			return orders.Reservation{}, err
		}
	}

	now := m.now()
	res := orders.Reservation{
		ID:        uuid.NewString(),
		Qty:       qty,
		Status:    orders.ReservationActive,
		ExpiresAt: now.Add(m.ttl()),
		RequestID: requestID,
		CreatedAt: now,
	}

	err := postgres.WithTx(ctx, m.DB, func(tx pgx.Tx) error {
		var open bool
		err := tx.QueryRow(ctx, `
			SELECT id, (starts_at IS NULL OR starts_at <= $2) AND (ends_at IS NULL OR ends_at > $2)
			FROM flash_sale_items WHERE product_id = $1`, productID, now,
		).Scan(&res.FlashSaleItemID, &open)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: flash sale item for product %s", orders.ErrNotFound, productID)
		}
		if err != nil {
			return fmt.Errorf("load flash sale item: %w", err)
		}
		if !open {
			return fmt.Errorf("%w: flash sale for product %s is not active", orders.ErrInvalidState, productID)
		}

		if _, err := ledger.ReserveFlashSale(ctx, tx, res.FlashSaleItemID, qty); err != nil {
			return err
		}

		var id string
		err = tx.QueryRow(ctx, `
			INSERT INTO reservations(id, flash_sale_item_id, qty, status, expires_at, request_id, created_at)
			VALUES ($1, $2, $3, 'ACTIVE', $4, NULLIF($5, ''), $6)
			ON CONFLICT (request_id) DO NOTHING
			RETURNING id`,
			res.ID, res.FlashSaleItemID, qty, res.ExpiresAt, requestID, now,
		).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			return errRequestReplay
		}
		if err != nil {
			return fmt.Errorf("insert reservation: %w", err)
		}
		return nil
	})
	if errors.Is(err, errRequestReplay) {
		return m.getByRequestID(ctx, m.DB, requestID)
	}
	if err != nil {
		return orders.Reservation{}, err
	}

	m.Log.Info("reservation created",
		zap.String("reservation_id", res.ID),
		zap.String("product_id", productID),
		zap.Int("qty", qty),
		zap.Time("expires_at", res.ExpiresAt))
	m.Events.Emit(ctx, orders.TopicReservations, orders.EventReservationCreated, res.ID, orders.ReservationCreatedPayload{
		ReservationID:   res.ID,
		FlashSaleItemID: res.FlashSaleItemID,
		ProductID:       productID,
		Qty:             qty,
		ExpiresAt:       res.ExpiresAt,
	})
	return res, nil
}

// GetItem returns the flash-sale item for a product.
func (m *Manager) GetItem(ctx context.Context, productID string) (orders.FlashSaleItem, error) {
	it, err := scanItem(m.DB.QueryRow(ctx, `
		SELECT id, product_id, stock, reserved, sold, starts_at, ends_at, created_at
		FROM flash_sale_items WHERE product_id = $1`, productID))
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.FlashSaleItem{}, fmt.Errorf("%w: flash sale item for product %s", orders.ErrNotFound, productID)
	}
	if err != nil {
		return orders.FlashSaleItem{}, fmt.Errorf("get flash sale item: %w", err)
	}
	return it, nil
}

// ListItems returns the most recently created flash-sale items.
func (m *Manager) ListItems(ctx context.Context) ([]orders.FlashSaleItem, error) {
	rows, err := m.DB.Query(ctx, `
		SELECT id, product_id, stock, reserved, sold, starts_at, ends_at, created_at
		FROM flash_sale_items ORDER BY created_at DESC LIMIT $1`, listLimit)
	if err != nil {
		return nil, fmt.Errorf("list flash sale items: %w", err)
	}
	defer rows.Close()

	out := make([]orders.FlashSaleItem, 0)
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

// ListReservations lists the newest reservations for a product's item. ACTIVE mode
// hides holds that are past expiry even if the sweeper has not reached them yet.
func (m *Manager) ListReservations(ctx context.Context, productID string, mode orders.ListMode) ([]orders.Reservation, error) {
	it, err := m.GetItem(ctx, productID)
	if err != nil {
		return nil, err
	}

	var rows pgx.Rows
	switch mode {
	case orders.ListAll:
		rows, err = m.DB.Query(ctx, `
			SELECT `+reservationCols+` FROM reservations
			WHERE flash_sale_item_id = $1
			ORDER BY created_at DESC LIMIT $2`, it.ID, listLimit)
	case orders.ListActive, "":
		rows, err = m.DB.Query(ctx, `
			SELECT `+reservationCols+` FROM reservations
			WHERE flash_sale_item_id = $1 AND status = 'ACTIVE' AND expires_at > $2
			ORDER BY created_at DESC LIMIT $3`, it.ID, m.now(), listLimit)
	default:
		return nil, fmt.Errorf("%w: unknown list mode %q", orders.ErrInvalidArgument, mode)
	}
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	defer rows.Close()

	out := make([]orders.Reservation, 0)
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetReservation reads a reservation by id.
func (m *Manager) GetReservation(ctx context.Context, id string) (orders.Reservation, error) {
	r, err := scanReservation(m.DB.QueryRow(ctx, `SELECT `+reservationCols+` FROM reservations WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Reservation{}, fmt.Errorf("%w: reservation %s", orders.ErrNotFound, id)
	}
	if err != nil {
		return orders.Reservation{}, fmt.Errorf("get reservation: %w", err)
	}
	return r, nil
}

func (m *Manager) getByRequestID(ctx context.Context, db postgres.DBTX, requestID string) (orders.Reservation, error) {
	r, err := scanReservation(db.QueryRow(ctx, `SELECT `+reservationCols+` FROM reservations WHERE request_id = $1`, requestID))
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Reservation{}, fmt.Errorf("%w: reservation for request %s", orders.ErrNotFound, requestID)
	}
	if err != nil {
		return orders.Reservation{}, fmt.Errorf("get reservation by request id: %w", err)
	}
	return r, nil
}

const reservationCols = `id, flash_sale_item_id, qty, status, expires_at, COALESCE(request_id, ''), created_at`

func scanReservation(row pgx.Row) (orders.Reservation, error) {
	var (
		r      orders.Reservation
		status string
	)
	if err := row.Scan(&r.ID, &r.FlashSaleItemID, &r.Qty, &status, &r.ExpiresAt, &r.RequestID, &r.CreatedAt); err != nil {
		return orders.Reservation{}, err
	}
	r.Status = orders.ReservationStatus(status)
	return r, nil
}

func scanItem(row pgx.Row) (orders.FlashSaleItem, error) {
	var it orders.FlashSaleItem
	err := row.Scan(&it.ID, &it.ProductID, &it.Stock, &it.Reserved, &it.Sold, &it.StartsAt, &it.EndsAt, &it.CreatedAt)
	return it, err
}
