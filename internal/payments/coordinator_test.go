package payments

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ariefcatur/go-flashsale-checkout/internal/orders"
)

var (
	orderLockCols = []string{"status", "total_cents", "currency"}
	intentRowCols = []string{"id", "order_id", "amount", "currency", "status", "client_secret", "created_at", "updated_at"}
	now           = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
)

type countingPublisher struct{ n int }

func (p *countingPublisher) Emit(context.Context, string, string, string, any) { p.n++ }

func newCoordinator(t *testing.T) (*Coordinator, pgxmock.PgxPoolIface, *countingPublisher) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	pub := &countingPublisher{}
	c := NewCoordinator(mock, pub, zaptest.NewLogger(t))
	c.Secret = func() (string, error) { return "pi_secret_test", nil }
	return c, mock, pub
}

func TestCreatePaymentIntent_UsesStoredTotal(t *testing.T) {
	c, mock, pub := newCoordinator(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM orders\\s+WHERE id = \\$1 FOR UPDATE").WithArgs("o-1").
		WillReturnRows(pgxmock.NewRows(orderLockCols).AddRow("PENDING", int64(3000), "USD"))
	mock.ExpectQuery("FROM payment_intents WHERE order_id = \\$1").WithArgs("o-1").
		WillReturnRows(pgxmock.NewRows(intentRowCols))
	mock.ExpectQuery("INSERT INTO payment_intents").
		WithArgs(pgxmock.AnyArg(), "o-1", int64(3000), "USD", "pi_secret_test").
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("pi-1"))
	mock.ExpectCommit()

	res, err := c.CreatePaymentIntentForOrder(context.Background(), "o-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3000), res.Amount)
	assert.Equal(t, "USD", res.Currency)
	assert.Equal(t, orders.IntentRequiresPaymentMethod, res.Status)
	assert.Equal(t, "pi_secret_test", res.ClientSecret)
	assert.Equal(t, 1, pub.n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreatePaymentIntent_ReturnsExistingUnchanged(t *testing.T) {
	c, mock, pub := newCoordinator(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE").
		WillReturnRows(pgxmock.NewRows(orderLockCols).AddRow("PENDING", int64(3000), "USD"))
	mock.ExpectQuery("FROM payment_intents WHERE order_id").
		WillReturnRows(pgxmock.NewRows(intentRowCols).
			AddRow("pi-1", "o-1", int64(3000), "USD", "PROCESSING", "pi_secret_first", now, now))
	mock.ExpectCommit()

	res, err := c.CreatePaymentIntentForOrder(context.Background(), "o-1")
	require.NoError(t, err)
	assert.Equal(t, "pi-1", res.PaymentIntentID)
	assert.Equal(t, "pi_secret_first", res.ClientSecret)
	assert.Equal(t, orders.IntentProcessing, res.Status)
	assert.Zero(t, pub.n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreatePaymentIntent_Errors(t *testing.T) {
	t.Run("missing order", func(t *testing.T) {
		c, mock, _ := newCoordinator(t)
		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE").WillReturnRows(pgxmock.NewRows(orderLockCols))
		mock.ExpectRollback()
		_, err := c.CreatePaymentIntentForOrder(context.Background(), "o-x")
		require.ErrorIs(t, err, orders.ErrNotFound)
	})

	t.Run("paid order", func(t *testing.T) {
		c, mock, _ := newCoordinator(t)
		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE").WillReturnRows(pgxmock.NewRows(orderLockCols).AddRow("PAID", int64(3000), "USD"))
		mock.ExpectRollback()
		_, err := c.CreatePaymentIntentForOrder(context.Background(), "o-1")
		require.ErrorIs(t, err, orders.ErrInvalidState)
	})

	t.Run("zero total", func(t *testing.T) {
		c, mock, _ := newCoordinator(t)
		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE").WillReturnRows(pgxmock.NewRows(orderLockCols).AddRow("PENDING", int64(0), "USD"))
		mock.ExpectRollback()
		_, err := c.CreatePaymentIntentForOrder(context.Background(), "o-1")
		require.ErrorIs(t, err, orders.ErrInvalidState)
	})
}

func TestSetPaymentIntentStatus(t *testing.T) {
	t.Run("forward step applies", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()
		mock.ExpectExec("UPDATE payment_intents SET status = \\$2").
			WithArgs("pi-1", "SUCCEEDED", []string{"REQUIRES_PAYMENT_METHOD", "PROCESSING"}).
			WillReturnResult(pgxmock.NewResult("UPDATE", 1))

		st, applied, err := SetPaymentIntentStatus(context.Background(), mock, "pi-1", orders.IntentSucceeded)
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, orders.IntentSucceeded, st)
	})

	t.Run("backward step is ignored", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()
		mock.ExpectExec("UPDATE payment_intents").WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectQuery("SELECT status FROM payment_intents").WithArgs("pi-1").
			WillReturnRows(pgxmock.NewRows([]string{"status"}).AddRow("SUCCEEDED"))

		st, applied, err := SetPaymentIntentStatus(context.Background(), mock, "pi-1", orders.IntentProcessing)
		require.NoError(t, err)
		assert.False(t, applied)
		assert.Equal(t, orders.IntentSucceeded, st)
	})

	t.Run("unknown intent", func(t *testing.T) {
		mock, err := pgxmock.NewPool()
		require.NoError(t, err)
		defer mock.Close()
		mock.ExpectExec("UPDATE payment_intents").WillReturnResult(pgxmock.NewResult("UPDATE", 0))
		mock.ExpectQuery("SELECT status FROM payment_intents").WillReturnRows(pgxmock.NewRows([]string{"status"}))

		_, _, err = SetPaymentIntentStatus(context.Background(), mock, "pi-x", orders.IntentFailed)
		require.ErrorIs(t, err, orders.ErrNotFound)
	})
}

func TestNewClientSecret(t *testing.T) {
	a, err := NewClientSecret()
	require.NoError(t, err)
	b, err := NewClientSecret()
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(a, "pi_secret_"))
	assert.Len(t, a, len("pi_secret_")+48)
	assert.NotEqual(t, a, b)
}
