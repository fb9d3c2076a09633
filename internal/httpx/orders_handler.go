package httpx

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-flashsale-checkout/internal/orders"
)

type OrderReader interface {
	GetOrder(ctx context.Context, orderID string) (orders.Order, error)
	GetOrderStatus(ctx context.Context, orderID string) (orders.Status, error)
}

type StatusCache interface {
	GetStatus(ctx context.Context, orderID string) (orders.Status, bool)
	SetStatus(ctx context.Context, orderID string, status orders.Status)
}

type OrdersHandler struct {
	Orders OrderReader
	Cache  StatusCache
	Log    *zap.Logger
}

type orderStatusResp struct {
	OrderID string        `json:"orderId"`
	Status  orders.Status `json:"status"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/detail", h.getOrderDetail)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	ctx := r.Context()

	// 1) cache
	if h.Cache != nil {
		if s, ok := h.Cache.GetStatus(ctx, orderID); ok {
			writeJSON(w, http.StatusOK, orderStatusResp{OrderID: orderID, Status: s})
			return
		}
	}

	// 2) fallback DB
	s, err := h.Orders.GetOrderStatus(ctx, orderID)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	if h.Cache != nil {
		h.Cache.SetStatus(ctx, orderID, s)
	}
	writeJSON(w, http.StatusOK, orderStatusResp{OrderID: orderID, Status: s})
}

func (h *OrdersHandler) getOrderDetail(w http.ResponseWriter, r *http.Request) {
	o, err := h.Orders.GetOrder(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}
