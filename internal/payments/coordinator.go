package payments

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-flashsale-checkout/internal/orders"
	"github.com/ariefcatur/go-flashsale-checkout/internal/postgres"
)

type IntentResult struct {
	OrderID         string                     `json:"orderId"`
	PaymentIntentID string                     `json:"paymentIntentId"`
	ClientSecret    string                     `json:"clientSecret"`
	Status          orders.PaymentIntentStatus `json:"status"`
	Amount          int64                      `json:"amount"`
	Currency        string                     `json:"currency"`
}

func resultOf(pi orders.PaymentIntent) IntentResult {
	return IntentResult{
		OrderID:         pi.OrderID,
		PaymentIntentID: pi.ID,
		ClientSecret:    pi.ClientSecret,
		Status:          pi.Status,
		Amount:          pi.Amount,
		Currency:        pi.Currency,
	}
}

// Coordinator creates mock payment intents for pending orders.
type Coordinator struct {
	DB     postgres.Pool
	Events orders.Publisher
	Log    *zap.Logger
	Secret func() (string, error)
}

func NewCoordinator(db postgres.Pool, events orders.Publisher, log *zap.Logger) *Coordinator {
	if events == nil {
		events = orders.NopPublisher{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{DB: db, Events: events, Log: log, Secret: NewClientSecret}
}

// NewClientSecret returns pi_secret_ followed by 48 random hex characters.
func NewClientSecret() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("client secret: %w", err)
	}
	return "pi_secret_" + hex.EncodeToString(b), nil
}

// CreatePaymentIntentForOrder returns the order's single payment intent, creating it
// on first call. The amount always comes from the stored order total.
func (c *Coordinator) CreatePaymentIntentForOrder(ctx context.Context, orderID string) (IntentResult, error) {
	if orderID == "" {
		return IntentResult{}, fmt.Errorf("%w: orderId is required", orders.ErrInvalidArgument)
	}

	var (
		pi      orders.PaymentIntent
		created bool
	)
	err := postgres.WithTx(ctx, c.DB, func(tx pgx.Tx) error {
		var status, currency string
		var total int64
		err := tx.QueryRow(ctx, `
			SELECT status, total_cents, currency FROM orders
			WHERE id = $1 FOR UPDATE`, orderID).Scan(&status, &total, &currency)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: order %s", orders.ErrNotFound, orderID)
		}
		if err != nil {
			return fmt.Errorf("lock order: %w", err)
		}
		if orders.Status(status) != orders.StatusPending {
			return fmt.Errorf("%w: order %s is %s", orders.ErrInvalidState, orderID, status)
		}
		if total <= 0 {
			return fmt.Errorf("%w: order %s has no payable amount", orders.ErrInvalidState, orderID)
		}

		pi, err = intentByOrder(ctx, tx, orderID)
		if err == nil {
			return nil
		}
		if !errors.Is(err, orders.ErrNotFound) {
			return err
		}

		secret, err := c.Secret()
		if err != nil {
			return err
		}
		pi = orders.PaymentIntent{
			ID:           uuid.NewString(),
			OrderID:      orderID,
			Amount:       total,
			Currency:     currency,
			Status:       orders.IntentRequiresPaymentMethod,
			ClientSecret: secret,
		}
		var id string
		err = tx.QueryRow(ctx, `
			INSERT INTO payment_intents(id, order_id, amount, currency, status, client_secret)
			VALUES ($1, $2, $3, $4, 'REQUIRES_PAYMENT_METHOD', $5)
			ON CONFLICT (order_id) DO NOTHING
			RETURNING id`, pi.ID, orderID, total, currency, secret).Scan(&id)
		if errors.Is(err, pgx.ErrNoRows) {
			pi, err = intentByOrder(ctx, tx, orderID)
			return err
		}
		if err != nil {
			return fmt.Errorf("insert payment intent: %w", err)
		}
		created = true
		return nil
	})
	if err != nil {
		return IntentResult{}, err
	}

	if created {
		c.Log.Info("payment intent created",
			zap.String("payment_intent_id", pi.ID),
			zap.String("order_id", orderID),
			zap.Int64("amount", pi.Amount))
		c.Events.Emit(ctx, orders.TopicPayments, orders.EventPaymentIntentCreated, orderID, orders.PaymentIntentCreatedPayload{
			PaymentIntentID: pi.ID,
			OrderID:         orderID,
			Amount:          pi.Amount,
			Currency:        pi.Currency,
		})
	}
	return resultOf(pi), nil
}

// SetPaymentIntentStatus moves an intent to `to` if that is a forward step from its
// current status. Otherwise nothing changes and the current status is returned with
// applied=false. Re-applying a terminal status is harmless.
func SetPaymentIntentStatus(ctx context.Context, db postgres.DBTX, intentID string, to orders.PaymentIntentStatus) (orders.PaymentIntentStatus, bool, error) {
	sources := orders.IntentSourcesFor(to)
	if len(sources) > 0 {
		tag, err := db.Exec(ctx, `
			UPDATE payment_intents SET status = $2, updated_at = now()
			WHERE id = $1 AND status = ANY($3)`, intentID, string(to), sources)
		if err != nil {
			return "", false, fmt.Errorf("update payment intent: %w", err)
		}
		if tag.RowsAffected() == 1 {
			return to, true, nil
		}
	}

	var cur string
	err := db.QueryRow(ctx, `SELECT status FROM payment_intents WHERE id = $1`, intentID).Scan(&cur)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, fmt.Errorf("%w: payment intent %s", orders.ErrNotFound, intentID)
	}
	if err != nil {
		return "", false, fmt.Errorf("read payment intent: %w", err)
	}
	return orders.PaymentIntentStatus(cur), false, nil
}

// GetIntent reads a payment intent by id.
func GetIntent(ctx context.Context, db postgres.DBTX, intentID string) (orders.PaymentIntent, error) {
	pi, err := scanIntent(db.QueryRow(ctx, `SELECT `+intentCols+` FROM payment_intents WHERE id = $1`, intentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.PaymentIntent{}, fmt.Errorf("%w: payment intent %s", orders.ErrNotFound, intentID)
	}
	if err != nil {
		return orders.PaymentIntent{}, fmt.Errorf("get payment intent: %w", err)
	}
	return pi, nil
}

func intentByOrder(ctx context.Context, db postgres.DBTX, orderID string) (orders.PaymentIntent, error) {
	pi, err := scanIntent(db.QueryRow(ctx, `SELECT `+intentCols+` FROM payment_intents WHERE order_id = $1`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.PaymentIntent{}, fmt.Errorf("%w: payment intent for order %s", orders.ErrNotFound, orderID)
	}
	if err != nil {
		return orders.PaymentIntent{}, fmt.Errorf("get payment intent by order: %w", err)
	}
	return pi, nil
}

const intentCols = `id, order_id, amount, currency, status, client_secret, created_at, updated_at`

func scanIntent(row pgx.Row) (orders.PaymentIntent, error) {
	var (
		pi     orders.PaymentIntent
		status string
	)
	if err := row.Scan(&pi.ID, &pi.OrderID, &pi.Amount, &pi.Currency, &status, &pi.ClientSecret, &pi.CreatedAt, &pi.UpdatedAt); err != nil {
		return orders.PaymentIntent{}, err
	}
	pi.Status = orders.PaymentIntentStatus(status)
	return pi, nil
}
