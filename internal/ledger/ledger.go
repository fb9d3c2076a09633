// Package ledger holds the stock counters. Every change is a single conditional
// statement so concurrent callers can never push a counter past its bound.
// All functions run on whatever executor the caller passes, pool or transaction.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/ariefcatur/go-flashsale-checkout/internal/orders"
	"github.com/ariefcatur/go-flashsale-checkout/internal/postgres"
)

// ReserveFlashSale moves qty from available into reserved.
func ReserveFlashSale(ctx context.Context, db postgres.DBTX, itemID string, qty int) (orders.FlashSaleItem, error) {
	if qty <= 0 {
		return orders.FlashSaleItem{}, fmt.Errorf("%w: qty must be positive", orders.ErrInvalidArgument)
	}
	var it orders.FlashSaleItem
	err := db.QueryRow(ctx, `
		UPDATE flash_sale_items
		SET reserved = reserved + $2
		WHERE id = $1 AND stock - reserved >= $2
		RETURNING id, product_id, stock, reserved, sold`, itemID, qty,
	).Scan(&it.ID, &it.ProductID, &it.Stock, &it.Reserved, &it.Sold)
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.FlashSaleItem{}, fmt.Errorf("%w: item %s cannot hold %d more", orders.ErrInsufficientStock, itemID, qty)
	}
	if err != nil {
		return orders.FlashSaleItem{}, fmt.Errorf("reserve flash sale item: %w", err)
	}
	return it, nil
}

// ReleaseFlashSale gives qty back. reserved is floored at zero.
func ReleaseFlashSale(ctx context.Context, db postgres.DBTX, itemID string, qty int) error {
	if qty <= 0 {
		return nil
	}
	_, err := db.Exec(ctx, `
		UPDATE flash_sale_items
		SET reserved = GREATEST(reserved - $2, 0)
		WHERE id = $1`, itemID, qty)
	if err != nil {
		return fmt.Errorf("release flash sale item: %w", err)
	}
	return nil
}

// MarkSold counts qty as sold. reserved is untouched: a confirmed hold keeps its stock.
func MarkSold(ctx context.Context, db postgres.DBTX, itemID string, qty int) error {
	_, err := db.Exec(ctx, `UPDATE flash_sale_items SET sold = sold + $2 WHERE id = $1`, itemID, qty)
	if err != nil {
		return fmt.Errorf("mark sold: %w", err)
	}
	return nil
}

// UnmarkSold reverses MarkSold, floored at zero.
func UnmarkSold(ctx context.Context, db postgres.DBTX, itemID string, qty int) error {
	_, err := db.Exec(ctx, `UPDATE flash_sale_items SET sold = GREATEST(sold - $2, 0) WHERE id = $1`, itemID, qty)
	if err != nil {
		return fmt.Errorf("unmark sold: %w", err)
	}
	return nil
}

// DecrementOnHand takes qty from general on-hand stock.
func DecrementOnHand(ctx context.Context, db postgres.DBTX, productID string, qty int) (orders.InventoryRecord, error) {
	if qty <= 0 {
		return orders.InventoryRecord{}, fmt.Errorf("%w: qty must be positive", orders.ErrInvalidArgument)
	}
	rec, err := scanInventory(db.QueryRow(ctx, `
		UPDATE inventory
		SET on_hand = on_hand - $2, version = version + 1, updated_at = now()
		WHERE product_id = $1 AND on_hand >= $2
		RETURNING product_id, on_hand, reserved, version, updated_at`, productID, qty))
	if errors.Is(err, pgx.ErrNoRows) {
		exists, xerr := inventoryExists(ctx, db, productID)
		if xerr != nil {
			return orders.InventoryRecord{}, xerr
		}
		if !exists {
			return orders.InventoryRecord{}, fmt.Errorf("%w: inventory for product %s", orders.ErrNotFound, productID)
		}
		return orders.InventoryRecord{}, fmt.Errorf("%w: product %s", orders.ErrOutOfStock, productID)
	}
	if err != nil {
		return orders.InventoryRecord{}, fmt.Errorf("decrement on hand: %w", err)
	}
	return rec, nil
}

// IncrementOnHand adds qty to general on-hand stock.
func IncrementOnHand(ctx context.Context, db postgres.DBTX, productID string, qty int) (orders.InventoryRecord, error) {
	if qty <= 0 {
		return orders.InventoryRecord{}, fmt.Errorf("%w: qty must be positive", orders.ErrInvalidArgument)
	}
	rec, err := scanInventory(db.QueryRow(ctx, `
		UPDATE inventory
		SET on_hand = on_hand + $2, version = version + 1, updated_at = now()
		WHERE product_id = $1
		RETURNING product_id, on_hand, reserved, version, updated_at`, productID, qty))
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.InventoryRecord{}, fmt.Errorf("%w: inventory for product %s", orders.ErrNotFound, productID)
	}
	if err != nil {
		return orders.InventoryRecord{}, fmt.Errorf("increment on hand: %w", err)
	}
	return rec, nil
}

// GetInventory reads the on-hand record for a product.
func GetInventory(ctx context.Context, db postgres.DBTX, productID string) (orders.InventoryRecord, error) {
	rec, err := scanInventory(db.QueryRow(ctx, `
		SELECT product_id, on_hand, reserved, version, updated_at
		FROM inventory WHERE product_id = $1`, productID))
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.InventoryRecord{}, fmt.Errorf("%w: inventory for product %s", orders.ErrNotFound, productID)
	}
	if err != nil {
		return orders.InventoryRecord{}, fmt.Errorf("get inventory: %w", err)
	}
	return rec, nil
}

func scanInventory(row pgx.Row) (orders.InventoryRecord, error) {
	var rec orders.InventoryRecord
	err := row.Scan(&rec.ProductID, &rec.OnHand, &rec.Reserved, &rec.Version, &rec.UpdatedAt)
	return rec, err
}

func inventoryExists(ctx context.Context, db postgres.DBTX, productID string) (bool, error) {
	var ok bool
	err := db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM inventory WHERE product_id = $1)`, productID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check inventory: %w", err)
	}
	return ok, nil
}
