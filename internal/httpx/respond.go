package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ariefcatur/go-flashsale-checkout/internal/orders"
)

const maxBody = 1 << 20

type errorBody struct {
	OK         bool   `json:"ok"`
	StatusCode int    `json:"statusCode"`
	Message    string `json:"message"`
	Path       string `json:"path"`
	Method     string `json:"method"`
	Timestamp  string `json:"timestamp"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// statusOf maps the domain error taxonomy onto HTTP codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, orders.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, orders.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, orders.ErrConflictingRetry):
		return http.StatusUnprocessableEntity
	case errors.Is(err, orders.ErrInvalidState),
		errors.Is(err, orders.ErrInsufficientStock),
		errors.Is(err, orders.ErrOutOfStock),
		errors.Is(err, orders.ErrConflict):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	code := statusOf(err)
	msg := err.Error()
	if code >= http.StatusInternalServerError && log != nil {
		log.Error("request failed", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
	}
	if code >= http.StatusInternalServerError {
		msg = http.StatusText(code)
	}
	writeJSON(w, code, errorBody{
		OK:         false,
		StatusCode: code,
		Message:    msg,
		Path:       r.URL.Path,
		Method:     r.Method,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	})
}

func badRequest(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{orders.ErrInvalidArgument}, args...)...)
}

// decodeJSON reads at most maxBody bytes into v and returns the raw body.
func decodeJSON(r *http.Request, v any) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r.Body, maxBody))
	if err != nil {
		return nil, badRequest("read body: %v", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return nil, badRequest("invalid json: %v", err)
	}
	return b, nil
}

func requireKey(key string, required bool) error {
	if key == "" {
		if required {
			return badRequest("idempotencyKey is required")
		}
		return nil
	}
	if len(key) < 8 {
		return badRequest("idempotencyKey must be at least 8 characters")
	}
	return nil
}
