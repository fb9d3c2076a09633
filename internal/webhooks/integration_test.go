package webhooks

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-flashsale-checkout/internal/checkout"
	"github.com/ariefcatur/go-flashsale-checkout/internal/orders"
	"github.com/ariefcatur/go-flashsale-checkout/internal/payments"
	"github.com/ariefcatur/go-flashsale-checkout/internal/postgres/pgtest"
	"github.com/ariefcatur/go-flashsale-checkout/internal/reservations"
)

type flow struct {
	repo    *orders.Repo
	orderID string
	intent  payments.IntentResult
}

// checkoutToIntent reserves qty, checks out and opens a payment intent.
func checkoutToIntent(t *testing.T, f flowDeps, productID string, qty int) flow {
	t.Helper()
	ctx := context.Background()
	res, err := f.resv.Reserve(ctx, productID, qty, "")
	require.NoError(t, err)
	co, err := f.co.StartCheckout(ctx, res.ID, "")
	require.NoError(t, err)
	pi, err := f.pay.CreatePaymentIntentForOrder(ctx, co.OrderID)
	require.NoError(t, err)
	return flow{repo: f.repo, orderID: co.OrderID, intent: pi}
}

type flowDeps struct {
	resv *reservations.Manager
	co   *checkout.Coordinator
	pay  *payments.Coordinator
	repo *orders.Repo
}

func TestIntegration_PaymentSucceededOnce(t *testing.T) {
	pool := pgtest.Start(t)
	itemID := pgtest.Seed(t, pool, "p-pay", 1500, 10)
	log := zap.NewNop()
	deps := flowDeps{
		resv: reservations.NewManager(pool, nil, log, time.Minute),
		co:   checkout.NewCoordinator(pool, nil, nil, log),
		pay:  payments.NewCoordinator(pool, nil, log),
		repo: &orders.Repo{DB: pool},
	}
	f := checkoutToIntent(t, deps, "p-pay", 2)

	o, err := f.repo.GetOrder(context.Background(), f.orderID)
	require.NoError(t, err)
	assert.Equal(t, o.TotalCents, f.intent.Amount)
	assert.Equal(t, int64(3000), f.intent.Amount)
	assert.Equal(t, "USD", f.intent.Currency)

	in := NewIngestor(pool, nil, nil, nil, log)
	ev := Event{Provider: "mock", EventID: "evt-ok", Type: TypeSucceeded,
		Data: EventData{PaymentIntentID: f.intent.PaymentIntentID, OrderID: f.orderID}}

	results := make([]Result, 8)
	var wg sync.WaitGroup
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := in.HandlePaymentEvent(context.Background(), ev)
			assert.NoError(t, err)
			results[i] = r
		}(i)
	}
	wg.Wait()

	applied := 0
	for _, r := range results {
		assert.True(t, r.OK)
		if !r.Deduped {
			applied++
			assert.True(t, r.OrderStatusApplied)
			assert.Equal(t, orders.IntentSucceeded, r.PaymentIntentStatus)
		}
	}
	assert.Equal(t, 1, applied)

	status, err := f.repo.GetOrderStatus(context.Background(), f.orderID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusPaid, status)

	var events int
	require.NoError(t, pool.QueryRow(context.Background(),
		`SELECT count(*) FROM webhook_events WHERE provider = 'mock' AND event_id = 'evt-ok'`).Scan(&events))
	assert.Equal(t, 1, events)

	// a late failure must not move a paid order
	late, err := in.HandlePaymentEvent(context.Background(), Event{Provider: "mock", EventID: "evt-late", Type: TypeFailed,
		Data: EventData{PaymentIntentID: f.intent.PaymentIntentID, OrderID: f.orderID}})
	require.NoError(t, err)
	assert.False(t, late.OrderStatusApplied)
	assert.Equal(t, orders.IntentSucceeded, late.PaymentIntentStatus)

	reserved, sold := pgtest.ItemCounters(t, pool, itemID)
	assert.Equal(t, 2, reserved)
	assert.Equal(t, 2, sold)
}

func TestIntegration_PaymentFailedReturnsStock(t *testing.T) {
	pool := pgtest.Start(t)
	itemID := pgtest.Seed(t, pool, "p-fail", 1500, 3)
	log := zap.NewNop()
	deps := flowDeps{
		resv: reservations.NewManager(pool, nil, log, time.Minute),
		co:   checkout.NewCoordinator(pool, nil, nil, log),
		pay:  payments.NewCoordinator(pool, nil, log),
		repo: &orders.Repo{DB: pool},
	}
	f := checkoutToIntent(t, deps, "p-fail", 3)

	_, err := deps.resv.Reserve(context.Background(), "p-fail", 1, "")
	require.ErrorIs(t, err, orders.ErrInsufficientStock)

	in := NewIngestor(pool, nil, nil, nil, log)
	for i := 0; i < 3; i++ {
		_, err := in.HandlePaymentEvent(context.Background(), Event{Provider: "mock", EventID: fmt.Sprintf("evt-fail-%d", i%2), Type: TypeFailed,
			Data: EventData{PaymentIntentID: f.intent.PaymentIntentID, OrderID: f.orderID}})
		require.NoError(t, err)
	}

	status, err := f.repo.GetOrderStatus(context.Background(), f.orderID)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCanceled, status)

	reserved, sold := pgtest.ItemCounters(t, pool, itemID)
	assert.Equal(t, 0, reserved)
	assert.Equal(t, 0, sold)

	_, err = deps.resv.Reserve(context.Background(), "p-fail", 3, "")
	require.NoError(t, err)
}

func TestIntegration_IntentForNonPendingOrder(t *testing.T) {
	pool := pgtest.Start(t)
	pgtest.Seed(t, pool, "p-np", 1500, 3)
	log := zap.NewNop()
	deps := flowDeps{
		resv: reservations.NewManager(pool, nil, log, time.Minute),
		co:   checkout.NewCoordinator(pool, nil, nil, log),
		pay:  payments.NewCoordinator(pool, nil, log),
		repo: &orders.Repo{DB: pool},
	}
	f := checkoutToIntent(t, deps, "p-np", 1)

	again, err := deps.pay.CreatePaymentIntentForOrder(context.Background(), f.orderID)
	require.NoError(t, err)
	assert.Equal(t, f.intent, again)

	_, err = NewIngestor(pool, nil, nil, nil, log).HandlePaymentEvent(context.Background(), Event{
		Provider: "mock", EventID: "evt-np", Type: TypeSucceeded,
		Data: EventData{PaymentIntentID: f.intent.PaymentIntentID, OrderID: f.orderID}})
	require.NoError(t, err)

	_, err = deps.pay.CreatePaymentIntentForOrder(context.Background(), f.orderID)
	require.ErrorIs(t, err, orders.ErrInvalidState)
}
