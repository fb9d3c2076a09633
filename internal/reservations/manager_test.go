package reservations

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ariefcatur/go-flashsale-checkout/internal/orders"
)

type emitted struct {
	topic, eventType, key string
	payload               any
}

type recorder struct {
	mu     sync.Mutex
	events []emitted
}

func (r *recorder) Emit(_ context.Context, topic, eventType, key string, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, emitted{topic, eventType, key, payload})
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.eventType)
	}
	return out
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

var resCols = []string{"id", "flash_sale_item_id", "qty", "status", "expires_at", "request_id", "created_at"}

func newManager(t *testing.T) (*Manager, pgxmock.PgxPoolIface, *recorder) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	rec := &recorder{}
	m := NewManager(mock, rec, zaptest.NewLogger(t), 0)
	m.Now = func() time.Time { return fixedNow }
	return m, mock, rec
}

func TestReserve_CreatesActiveHold(t *testing.T) {
	m, mock, rec := newManager(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM flash_sale_items WHERE product_id = \\$1").
		WithArgs("p-1", fixedNow).
		WillReturnRows(pgxmock.NewRows([]string{"id", "open"}).AddRow("fsi-1", true))
	mock.ExpectQuery("UPDATE flash_sale_items").
		WithArgs("fsi-1", 2).
		WillReturnRows(pgxmock.NewRows([]string{"id", "product_id", "stock", "reserved", "sold"}).AddRow("fsi-1", "p-1", 10, 2, 0))
	mock.ExpectQuery("INSERT INTO reservations").
		WithArgs(pgxmock.AnyArg(), "fsi-1", 2, fixedNow.Add(DefaultTTL), "", fixedNow).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("r-1"))
	mock.ExpectCommit()

	r, err := m.Reserve(context.Background(), "p-1", 2, "")
	require.NoError(t, err)
	assert.Equal(t, orders.ReservationActive, r.Status)
	assert.Equal(t, "fsi-1", r.FlashSaleItemID)
	assert.Equal(t, fixedNow.Add(10*time.Minute), r.ExpiresAt)
	assert.Equal(t, []string{orders.EventReservationCreated}, rec.types())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReserve_RequestIDReplayShortCircuits(t *testing.T) {
	m, mock, rec := newManager(t)

	mock.ExpectQuery("WHERE request_id = \\$1").
		WithArgs("req-1").
		WillReturnRows(pgxmock.NewRows(resCols).
			AddRow("r-1", "fsi-1", 2, "ACTIVE", fixedNow.Add(DefaultTTL), "req-1", fixedNow))

	r, err := m.Reserve(context.Background(), "p-1", 2, "req-1")
	require.NoError(t, err)
	assert.Equal(t, "r-1", r.ID)
	assert.Empty(t, rec.types())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReserve_RequestIDRaceRollsBackAndReturnsWinner(t *testing.T) {
	m, mock, _ := newManager(t)

	mock.ExpectQuery("WHERE request_id = \\$1").WithArgs("req-1").WillReturnRows(pgxmock.NewRows(resCols))
	mock.ExpectBegin()
	mock.ExpectQuery("FROM flash_sale_items WHERE product_id").
		WillReturnRows(pgxmock.NewRows([]string{"id", "open"}).AddRow("fsi-1", true))
	mock.ExpectQuery("UPDATE flash_sale_items").
		WillReturnRows(pgxmock.NewRows([]string{"id", "product_id", "stock", "reserved", "sold"}).AddRow("fsi-1", "p-1", 10, 4, 0))
	mock.ExpectQuery("ON CONFLICT \\(request_id\\) DO NOTHING").
		WillReturnRows(pgxmock.NewRows([]string{"id"}))
	mock.ExpectRollback()
	mock.ExpectQuery("WHERE request_id = \\$1").WithArgs("req-1").
		WillReturnRows(pgxmock.NewRows(resCols).
			AddRow("r-winner", "fsi-1", 2, "ACTIVE", fixedNow.Add(DefaultTTL), "req-1", fixedNow))

	r, err := m.Reserve(context.Background(), "p-1", 2, "req-1")
	require.NoError(t, err)
	assert.Equal(t, "r-winner", r.ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReserve_Errors(t *testing.T) {
	t.Run("unknown product", func(t *testing.T) {
		m, mock, _ := newManager(t)
		mock.ExpectBegin()
		mock.ExpectQuery("FROM flash_sale_items").WillReturnRows(pgxmock.NewRows([]string{"id", "open"}))
		mock.ExpectRollback()

		_, err := m.Reserve(context.Background(), "ghost", 1, "")
		require.ErrorIs(t, err, orders.ErrNotFound)
	})

	t.Run("sale window closed", func(t *testing.T) {
		m, mock, _ := newManager(t)
		mock.ExpectBegin()
		mock.ExpectQuery("FROM flash_sale_items").WillReturnRows(pgxmock.NewRows([]string{"id", "open"}).AddRow("fsi-1", false))
		mock.ExpectRollback()

		_, err := m.Reserve(context.Background(), "p-1", 1, "")
		require.ErrorIs(t, err, orders.ErrInvalidState)
	})

	t.Run("insufficient stock", func(t *testing.T) {
		m, mock, rec := newManager(t)
		mock.ExpectBegin()
		mock.ExpectQuery("FROM flash_sale_items").WillReturnRows(pgxmock.NewRows([]string{"id", "open"}).AddRow("fsi-1", true))
		mock.ExpectQuery("UPDATE flash_sale_items").
			WillReturnRows(pgxmock.NewRows([]string{"id", "product_id", "stock", "reserved", "sold"}))
		mock.ExpectRollback()

		_, err := m.Reserve(context.Background(), "p-1", 11, "")
		require.ErrorIs(t, err, orders.ErrInsufficientStock)
		assert.Empty(t, rec.types())
	})

	t.Run("bad qty never reaches the database", func(t *testing.T) {
		m, mock, _ := newManager(t)
		_, err := m.Reserve(context.Background(), "p-1", 0, "")
		require.ErrorIs(t, err, orders.ErrInvalidArgument)
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("storage failure aborts", func(t *testing.T) {
		m, mock, _ := newManager(t)
		mock.ExpectBegin()
		mock.ExpectQuery("FROM flash_sale_items").WillReturnRows(pgxmock.NewRows([]string{"id", "open"}).AddRow("fsi-1", true))
		mock.ExpectQuery("UPDATE flash_sale_items").
			WillReturnRows(pgxmock.NewRows([]string{"id", "product_id", "stock", "reserved", "sold"}).AddRow("fsi-1", "p-1", 10, 1, 0))
		mock.ExpectQuery("INSERT INTO reservations").WillReturnError(&pgconn.PgError{Code: "53300"})
		mock.ExpectRollback()

		_, err := m.Reserve(context.Background(), "p-1", 1, "")
		require.Error(t, err)
		require.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestListReservations_ActiveFiltersByNow(t *testing.T) {
	m, mock, _ := newManager(t)

	mock.ExpectQuery("FROM flash_sale_items WHERE product_id").
		WithArgs("p-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "product_id", "stock", "reserved", "sold", "starts_at", "ends_at", "created_at"}).
			AddRow("fsi-1", "p-1", 10, 2, 0, nil, nil, fixedNow))
	mock.ExpectQuery("status = 'ACTIVE' AND expires_at > \\$2").
		WithArgs("fsi-1", fixedNow, listLimit).
		WillReturnRows(pgxmock.NewRows(resCols).
			AddRow("r-2", "fsi-1", 1, "ACTIVE", fixedNow.Add(time.Minute), "", fixedNow))

	list, err := m.ListReservations(context.Background(), "p-1", orders.ListActive)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "r-2", list[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListReservations_UnknownMode(t *testing.T) {
	m, mock, _ := newManager(t)
	mock.ExpectQuery("FROM flash_sale_items WHERE product_id").
		WillReturnRows(pgxmock.NewRows([]string{"id", "product_id", "stock", "reserved", "sold", "starts_at", "ends_at", "created_at"}).
			AddRow("fsi-1", "p-1", 10, 2, 0, nil, nil, fixedNow))

	_, err := m.ListReservations(context.Background(), "p-1", orders.ListMode("SOME"))
	require.ErrorIs(t, err, orders.ErrInvalidArgument)
}
