package inventory

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-flashsale-checkout/internal/ledger"
	"github.com/ariefcatur/go-flashsale-checkout/internal/orders"
	"github.com/ariefcatur/go-flashsale-checkout/internal/postgres"
)

// Service manages general on-hand stock, outside of any flash sale.
type Service struct {
	DB  postgres.DBTX
	Log *zap.Logger
}

func NewService(db postgres.DBTX, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{DB: db, Log: log}
}

type StockCheck struct {
	ProductID string `json:"productId"`
	OnHand    int    `json:"onHand"`
	Reserved  int    `json:"reserved"`
	Requested int    `json:"requested"`
	OK        bool   `json:"ok"`
}

func (s *Service) Get(ctx context.Context, productID string) (orders.InventoryRecord, error) {
	if productID == "" {
		return orders.InventoryRecord{}, fmt.Errorf("%w: productId is required", orders.ErrInvalidArgument)
	}
	return ledger.GetInventory(ctx, s.DB, productID)
}

// CheckStock reports whether DecrementOnHand could take qty right now. It does not
// hold anything.
func (s *Service) CheckStock(ctx context.Context, productID string, qty int) (StockCheck, error) {
	if qty <= 0 {
		return StockCheck{}, fmt.Errorf("%w: qty must be positive", orders.ErrInvalidArgument)
	}
	rec, err := s.Get(ctx, productID)
	if err != nil {
		return StockCheck{}, err
	}
	return StockCheck{
		ProductID: productID,
		OnHand:    rec.OnHand,
		Reserved:  rec.Reserved,
		Requested: qty,
		OK:        rec.OnHand >= qty,
	}, nil
}

func (s *Service) DecrementOnHand(ctx context.Context, productID string, qty int) (orders.InventoryRecord, error) {
	rec, err := ledger.DecrementOnHand(ctx, s.DB, productID, qty)
	if err != nil {
		return orders.InventoryRecord{}, err
	}
	s.Log.Info("on hand decremented", zap.String("product_id", productID), zap.Int("qty", qty), zap.Int("on_hand", rec.OnHand))
	return rec, nil
}

func (s *Service) IncrementOnHand(ctx context.Context, productID string, qty int) (orders.InventoryRecord, error) {
	rec, err := ledger.IncrementOnHand(ctx, s.DB, productID, qty)
	if err != nil {
		return orders.InventoryRecord{}, err
	}
	s.Log.Info("on hand incremented", zap.String("product_id", productID), zap.Int("qty", qty), zap.Int("on_hand", rec.OnHand))
	return rec, nil
}
