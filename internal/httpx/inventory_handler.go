package httpx

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-flashsale-checkout/internal/inventory"
	"github.com/ariefcatur/go-flashsale-checkout/internal/orders"
)

type Inventory interface {
	Get(ctx context.Context, productID string) (orders.InventoryRecord, error)
	CheckStock(ctx context.Context, productID string, qty int) (inventory.StockCheck, error)
	DecrementOnHand(ctx context.Context, productID string, qty int) (orders.InventoryRecord, error)
	IncrementOnHand(ctx context.Context, productID string, qty int) (orders.InventoryRecord, error)
}

type InventoryHandler struct {
	Inventory Inventory
	Log       *zap.Logger
}

type stockReq struct {
	ProductID string `json:"productId"`
	Qty       int    `json:"qty"`
}

func (h *InventoryHandler) Register(r chi.Router) {
	r.Get("/inventory/{productId}", h.get)
	r.Post("/inventory/check", h.check)
	r.Post("/inventory/decrement", h.adjust(h.Inventory.DecrementOnHand))
	r.Post("/inventory/increment", h.adjust(h.Inventory.IncrementOnHand))
}

func (h *InventoryHandler) get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.Inventory.Get(r.Context(), chi.URLParam(r, "productId"))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *InventoryHandler) decodeStock(r *http.Request) (stockReq, error) {
	var req stockReq
	if _, err := decodeJSON(r, &req); err != nil {
		return req, err
	}
	req.ProductID = strings.TrimSpace(req.ProductID)
	if req.ProductID == "" {
		return req, badRequest("productId is required")
	}
	if req.Qty <= 0 {
		return req, badRequest("qty must be a positive integer")
	}
	return req, nil
}

func (h *InventoryHandler) check(w http.ResponseWriter, r *http.Request) {
	req, err := h.decodeStock(r)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	res, err := h.Inventory.CheckStock(r.Context(), req.ProductID, req.Qty)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *InventoryHandler) adjust(fn func(context.Context, string, int) (orders.InventoryRecord, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := h.decodeStock(r)
		if err != nil {
			writeError(w, r, h.Log, err)
			return
		}
		rec, err := fn(r.Context(), req.ProductID, req.Qty)
		if err != nil {
			writeError(w, r, h.Log, err)
			return
		}
		writeJSON(w, http.StatusOK, rec)
	}
}
