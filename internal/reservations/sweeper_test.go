package reservations

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/ariefcatur/go-flashsale-checkout/internal/orders"
)

func newSweeper(t *testing.T) (*Sweeper, pgxmock.PgxPoolIface, *recorder) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	rec := &recorder{}
	s := NewSweeper(mock, rec, zaptest.NewLogger(t), time.Second, 0)
	s.Now = func() time.Time { return fixedNow }
	return s, mock, rec
}

func TestRunOnce_GroupsReleasesPerItem(t *testing.T) {
	s, mock, rec := newSweeper(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE SKIP LOCKED").
		WithArgs(fixedNow, DefaultSweepBatch).
		WillReturnRows(pgxmock.NewRows([]string{"id", "flash_sale_item_id", "qty"}).
			AddRow("r-1", "fsi-a", 2).
			AddRow("r-2", "fsi-b", 1).
			AddRow("r-3", "fsi-a", 3))
	mock.ExpectExec("GREATEST\\(reserved - \\$2, 0\\)").WithArgs("fsi-a", 5).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("GREATEST\\(reserved - \\$2, 0\\)").WithArgs("fsi-b", 1).WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE reservations SET status = \\$2").
		WithArgs([]string{"r-1", "r-2", "r-3"}, "EXPIRED", []string{"ACTIVE"}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))
	mock.ExpectCommit()

	res, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, res.Expired)
	assert.Equal(t, map[string]int{"fsi-a": 5, "fsi-b": 1}, res.Released)
	assert.Equal(t, []string{orders.EventReservationsExpired}, rec.types())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunOnce_EmptyBatchIsNoop(t *testing.T) {
	s, mock, rec := newSweeper(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE SKIP LOCKED").
		WillReturnRows(pgxmock.NewRows([]string{"id", "flash_sale_item_id", "qty"}))
	mock.ExpectCommit()

	res, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Zero(t, res.Expired)
	assert.Empty(t, rec.types())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRunOnce_ReleaseFailureRollsBack(t *testing.T) {
	s, mock, rec := newSweeper(t)

	mock.ExpectBegin()
	mock.ExpectQuery("FOR UPDATE SKIP LOCKED").
		WillReturnRows(pgxmock.NewRows([]string{"id", "flash_sale_item_id", "qty"}).AddRow("r-1", "fsi-a", 2))
	mock.ExpectExec("GREATEST").WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	_, err := s.RunOnce(context.Background())
	require.Error(t, err)
	assert.Empty(t, rec.types())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_StopsOnCancel(t *testing.T) {
	s, mock, _ := newSweeper(t)
	s.Interval = 10 * time.Millisecond
	for i := 0; i < 100; i++ {
		mock.ExpectBegin()
		mock.ExpectQuery("FOR UPDATE SKIP LOCKED").
			WillReturnRows(pgxmock.NewRows([]string{"id", "flash_sale_item_id", "qty"}))
		mock.ExpectCommit()
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()
	time.Sleep(35 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
