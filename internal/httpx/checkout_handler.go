package httpx

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-flashsale-checkout/internal/checkout"
	"github.com/ariefcatur/go-flashsale-checkout/internal/payments"
)

const ScopeCheckoutPay = "checkout.pay"

type CheckoutStarter interface {
	StartCheckout(ctx context.Context, reservationID, idempotencyKey string) (checkout.Result, error)
}

type IntentCreator interface {
	CreatePaymentIntentForOrder(ctx context.Context, orderID string) (payments.IntentResult, error)
}

// PayIdempotency replays a stored pay result for (scope, key) or runs op once.
type PayIdempotency interface {
	Do(ctx context.Context, scope, key string, payload any, op func(context.Context) (payments.IntentResult, error)) (payments.IntentResult, error)
}

type CheckoutHandler struct {
	Checkout CheckoutStarter
	Payments IntentCreator
	Idem     PayIdempotency
	Log      *zap.Logger
}

type startReq struct {
	ReservationID  string `json:"reservationId"`
	IdempotencyKey string `json:"idempotencyKey,omitempty"`
}

type payReq struct {
	IdempotencyKey string `json:"idempotencyKey"`
	PaymentMethod  string `json:"paymentMethod,omitempty"`
}

type payFingerprint struct {
	OrderID string `json:"orderId"`
	Body    payReq `json:"body"`
}

func (h *CheckoutHandler) Register(r chi.Router) {
	r.Post("/checkout/start", h.start)
	r.Post("/checkout/{orderId}/pay", h.pay)
}

func (h *CheckoutHandler) start(w http.ResponseWriter, r *http.Request) {
	var req startReq
	if _, err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	req.ReservationID = strings.TrimSpace(req.ReservationID)
	if req.ReservationID == "" {
		writeError(w, r, h.Log, badRequest("reservationId is required"))
		return
	}
	if err := requireKey(req.IdempotencyKey, false); err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	res, err := h.Checkout.StartCheckout(r.Context(), req.ReservationID, req.IdempotencyKey)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (h *CheckoutHandler) pay(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	var req payReq
	if _, err := decodeJSON(r, &req); err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	if err := requireKey(req.IdempotencyKey, true); err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	fp := payFingerprint{OrderID: orderID, Body: req}
	res, err := h.Idem.Do(r.Context(), ScopeCheckoutPay, req.IdempotencyKey, fp,
		func(ctx context.Context) (payments.IntentResult, error) {
			return h.Payments.CreatePaymentIntentForOrder(ctx, orderID)
		})
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
