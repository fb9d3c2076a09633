package reservations

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-flashsale-checkout/internal/ledger"
	"github.com/ariefcatur/go-flashsale-checkout/internal/orders"
	"github.com/ariefcatur/go-flashsale-checkout/internal/postgres"
)

const (
	DefaultSweepInterval = 10 * time.Second
	DefaultSweepBatch    = 500
)

// Sweeper returns the stock of lapsed ACTIVE reservations and marks them EXPIRED.
type Sweeper struct {
	DB        postgres.Pool
	Events    orders.Publisher
	Log       *zap.Logger
	Interval  time.Duration
	BatchSize int
	Now       func() time.Time
}

type SweepResult struct {
	Expired  int
	Released map[string]int // flash sale item id -> qty
}

func NewSweeper(db postgres.Pool, events orders.Publisher, log *zap.Logger, interval time.Duration, batch int) *Sweeper {
	if events == nil {
		events = orders.NopPublisher{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if batch <= 0 {
		batch = DefaultSweepBatch
	}
	return &Sweeper{DB: db, Events: events, Log: log, Interval: interval, BatchSize: batch, Now: time.Now}
}

// Run sweeps on every tick until ctx is done. A failed run is logged and left
// for the next tick.
func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.Interval)
	defer t.Stop()
	s.Log.Info("expiry sweeper started", zap.Duration("interval", s.Interval), zap.Int("batch", s.BatchSize))
	for {
		select {
		case <-t.C:
			if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				s.Log.Error("expiry sweep failed", zap.Error(err))
			}
		case <-ctx.Done():
			s.Log.Info("expiry sweeper stopped")
			return
		}
	}
}

// RunOnce expires one bounded batch in a single transaction: one floored release
// per item, then one bulk status update. Rows locked by a concurrent checkout are skipped.
func (s *Sweeper) RunOnce(ctx context.Context) (SweepResult, error) {
	now := time.Now().UTC()
	if s.Now != nil {
		now = s.Now().UTC()
	}
	batch := s.BatchSize
	if batch <= 0 {
		batch = DefaultSweepBatch
	}

	res := SweepResult{Released: map[string]int{}}
	var ids []string

	err := postgres.WithTx(ctx, s.DB, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `
			SELECT id, flash_sale_item_id, qty
			FROM reservations
			WHERE status = 'ACTIVE' AND expires_at <= $1
			ORDER BY expires_at
			LIMIT $2
			FOR UPDATE SKIP LOCKED`, now, batch)
		if err != nil {
			return fmt.Errorf("select expired reservations: %w", err)
		}
		for rows.Next() {
			var id, itemID string
			var qty int
			if err := rows.Scan(&id, &itemID, &qty); err != nil {
				rows.Close()
				return err
			}
			ids = append(ids, id)
			res.Released[itemID] += qty
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		items := make([]string, 0, len(res.Released))
		for itemID := range res.Released {
			items = append(items, itemID)
		}
		sort.Strings(items)
		for _, itemID := range items {
			if err := ledger.ReleaseFlashSale(ctx, tx, itemID, res.Released[itemID]); err != nil {
				return err
			}
		}

		tag, err := tx.Exec(ctx, `
			UPDATE reservations SET status = $2
			WHERE id = ANY($1) AND status = ANY($3)`,
			ids, string(orders.ReservationExpired), orders.ReservationSourcesFor(orders.ReservationExpired))
		if err != nil {
			return fmt.Errorf("expire reservations: %w", err)
		}
		res.Expired = int(tag.RowsAffected())
		return nil
	})
	if err != nil {
		return SweepResult{Released: map[string]int{}}, err
	}
	if res.Expired == 0 {
		return res, nil
	}

	s.Log.Info("reservations expired", zap.Int("count", res.Expired), zap.Int("items", len(res.Released)))
	released := make([]orders.ExpiredItem, 0, len(res.Released))
	for itemID, qty := range res.Released {
		released = append(released, orders.ExpiredItem{FlashSaleItemID: itemID, Qty: qty})
	}
	s.Events.Emit(ctx, orders.TopicReservations, orders.EventReservationsExpired, ids[0], orders.ReservationsExpiredPayload{
		ReservationIDs: ids,
		Released:       released,
	})
	return res, nil
}
