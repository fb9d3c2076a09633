// Package pgtest starts a throwaway Postgres for integration tests.
package pgtest

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-flashsale-checkout/internal/postgres"
)

// Start runs postgres:16-alpine with migrations applied and returns a pool.
// The test is skipped under -short or when no container runtime is available.
func Start(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	c, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("flashsale"),
		tcpostgres.WithUsername("app"),
		tcpostgres.WithPassword("secret"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := c.Terminate(context.Background()); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	})

	dsn, err := c.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, postgres.RunMigrations(dsn, zap.NewNop()))

	pool, err := postgres.Connect(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

// Seed inserts a product priced at priceCents with a flash-sale item of the given
// stock and an inventory row with the same on-hand count. Returns the flash-sale item id.
func Seed(t *testing.T, pool *pgxpool.Pool, productID string, priceCents int64, stock int) string {
	t.Helper()
	ctx := context.Background()
	itemID := "fsi-" + productID

	_, err := pool.Exec(ctx, `INSERT INTO products(id, name, price_cents, currency) VALUES ($1, $1, $2, 'USD')`, productID, priceCents)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO inventory(product_id, on_hand) VALUES ($1, $2)`, productID, stock)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO flash_sale_items(id, product_id, stock) VALUES ($1, $2, $3)`, itemID, productID, stock)
	require.NoError(t, err)
	return itemID
}

// ItemCounters reads reserved and sold for a flash-sale item.
func ItemCounters(t *testing.T, pool *pgxpool.Pool, itemID string) (reserved, sold int) {
	t.Helper()
	err := pool.QueryRow(context.Background(),
		`SELECT reserved, sold FROM flash_sale_items WHERE id = $1`, itemID).Scan(&reserved, &sold)
	require.NoError(t, err)
	return reserved, sold
}
