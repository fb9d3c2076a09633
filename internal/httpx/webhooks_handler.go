package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-flashsale-checkout/internal/webhooks"
)

type PaymentEventHandler interface {
	HandlePaymentEvent(ctx context.Context, ev webhooks.Event) (webhooks.Result, error)
}

type WebhooksHandler struct {
	Ingestor PaymentEventHandler
	Log      *zap.Logger
}

type webhookReq struct {
	Provider string             `json:"provider"`
	EventID  string             `json:"eventId"`
	Type     string             `json:"type"`
	Data     webhooks.EventData `json:"data"`
}

func (h *WebhooksHandler) Register(r chi.Router) {
	r.Post("/webhooks/payment", h.payment)
}

func (h *WebhooksHandler) payment(w http.ResponseWriter, r *http.Request) {
	var req webhookReq
	raw, err := decodeJSON(r, &req)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	data := webhooks.EventData{
		PaymentIntentID: strings.TrimSpace(req.Data.PaymentIntentID),
		OrderID:         strings.TrimSpace(req.Data.OrderID),
	}
	ev := webhooks.Event{
		Provider: strings.TrimSpace(req.Provider),
		EventID:  strings.TrimSpace(req.EventID),
		Type:     req.Type,
		Data:     data,
		Raw:      json.RawMessage(raw),
	}
	switch {
	case ev.Provider == "" || ev.EventID == "":
		err = badRequest("provider and eventId are required")
	case ev.Data.PaymentIntentID == "":
		err = badRequest("data.paymentIntentId is required")
	case ev.Data.OrderID == "":
		err = badRequest("data.orderId is required")
	case ev.Type != webhooks.TypeSucceeded && ev.Type != webhooks.TypeFailed && ev.Type != webhooks.TypeProcessing:
		err = badRequest("unsupported event type %q", ev.Type)
	}
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	res, err := h.Ingestor.HandlePaymentEvent(r.Context(), ev)
	if err != nil {
		writeError(w, r, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
