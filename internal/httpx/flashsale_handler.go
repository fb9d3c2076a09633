package httpx

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-flashsale-checkout/internal/orders"
)

type Reserver interface {
	Reserve(ctx context.Context, productID string, qty int, requestID string) (orders.Reservation, error)
	GetItem(ctx context.Context, productID string) (orders.FlashSaleItem, error)
	ListItems(ctx context.Context) ([]orders.FlashSaleItem, error)
	ListReservations(ctx context.Context, productID string, mode orders.ListMode) ([]orders.Reservation, error)
	GetReservation(ctx context.Context, id string) (orders.Reservation, error)
}

type FlashSaleHandler struct {
	Reservations Reserver
	Log          *zap.Logger
}

type reserveReq struct {
	Qty       int    `json:"qty"`
	RequestID string `json:"requestId,omitempty"`
}

type itemResp struct {
	orders.FlashSaleItem
	Available int `json:"available"`
}

func (h *FlashSaleHandler) Register(r chi.Router) {
	r.Get("/flashsale/_debug/items", h.listItems)
	r.Get("/flashsale/{productId}", h.getItem)
	r.Get("/flashsale/{productId}/reservations", h.listReservations)
	r.Post("/flashsale/{productId}/reserve", h.reserve)
	r.Get("/reservations/{id}", h.getReservation)
}

func (h *FlashSaleHandler) reserve(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productId")
	var req reserveReq
	if _, err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	if req.Qty <= 0 {
		writeError(w, r, h.Log, badRequest("qty must be a positive integer"))
		return
	}
	res, err := h.Reservations.Reserve(r.Context(), productID, req.Qty, strings.TrimSpace(req.RequestID))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *FlashSaleHandler) getItem(w http.ResponseWriter, r *http.Request) {
	it, err := h.Reservations.GetItem(r.Context(), chi.URLParam(r, "productId"))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, itemResp{FlashSaleItem: it, Available: it.Available()})
}

func (h *FlashSaleHandler) listItems(w http.ResponseWriter, r *http.Request) {
	items, err := h.Reservations.ListItems(r.Context())
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	out := make([]itemResp, 0, len(items))
	for _, it := range items {
		out = append(out, itemResp{FlashSaleItem: it, Available: it.Available()})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *FlashSaleHandler) listReservations(w http.ResponseWriter, r *http.Request) {
	mode := orders.ListActive
	switch s := strings.ToUpper(r.URL.Query().Get("status")); s {
	case "", string(orders.ListActive):
	case string(orders.ListAll):
		mode = orders.ListAll
	default:
		writeError(w, r, h.Log, badRequest("status must be ACTIVE or ALL"))
		return
	}
	rs, err := h.Reservations.ListReservations(r.Context(), chi.URLParam(r, "productId"), mode)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	if rs == nil {
		rs = []orders.Reservation{}
	}
	writeJSON(w, http.StatusOK, rs)
}

func (h *FlashSaleHandler) getReservation(w http.ResponseWriter, r *http.Request) {
	res, err := h.Reservations.GetReservation(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
