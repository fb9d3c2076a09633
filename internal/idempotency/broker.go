// Package idempotency stores the first result of an operation under (scope, key)
// and replays it for retries that carry the same payload.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/ariefcatur/go-flashsale-checkout/internal/orders"
	"github.com/ariefcatur/go-flashsale-checkout/internal/postgres"
)

// sharedTimeout bounds work that callers for the same key share. It runs detached
// from any single caller's cancellation.
const sharedTimeout = 30 * time.Second

type Broker struct {
	DB  postgres.DBTX
	Log *zap.Logger

	group singleflight.Group
}

func NewBroker(db postgres.DBTX, log *zap.Logger) *Broker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Broker{DB: db, Log: log}
}

// Fingerprint is the hex SHA-256 of the payload's JSON encoding. Struct fields keep
// declaration order and map keys are sorted, so equal payloads hash equally.
func Fingerprint(payload any) (string, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("fingerprint payload: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// GetOrCreate returns the stored result for (scope, key) or runs op and stores its
// result. A stored record with a different payload hash fails with
// orders.ErrConflictingRetry. Failed operations store nothing. When two processes race
// on a fresh key both may run op, so op itself must be safe to repeat; the first
// insert wins and the loser returns the winner's stored result.
//
// Concurrent callers in this process share one run. A caller that gives up only
// stops waiting; the run continues for the others and still stores its result.
func GetOrCreate[T any](ctx context.Context, b *Broker, scope, key string, payload any, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if scope == "" || key == "" {
		return zero, fmt.Errorf("%w: idempotency scope and key are required", orders.ErrInvalidArgument)
	}
	hash, err := Fingerprint(payload)
	if err != nil {
		return zero, err
	}

	shared := context.WithoutCancel(ctx)
	ch := b.group.DoChan(scope+"|"+key+"|"+hash, func() (any, error) {
		ctx, cancel := context.WithTimeout(shared, sharedTimeout)
		defer cancel()
		return b.getOrCreate(ctx, scope, key, hash, func(ctx context.Context) ([]byte, error) {
			res, err := op(ctx)
			if err != nil {
				return nil, err
			}
			return json.Marshal(res)
		})
	})

	var r singleflight.Result
	select {
	case r = <-ch:
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	if r.Err != nil {
		return zero, r.Err
	}

	var out T
	if err := json.Unmarshal(r.Val.([]byte), &out); err != nil {
		return zero, fmt.Errorf("decode stored response: %w", err)
	}
	return out, nil
}

func (b *Broker) getOrCreate(ctx context.Context, scope, key, hash string, op func(context.Context) ([]byte, error)) ([]byte, error) {
	rec, err := b.Lookup(ctx, scope, key)
	if err == nil {
		return replay(rec, hash)
	}
	if !errors.Is(err, orders.ErrNotFound) {
		return nil, err
	}

	resp, err := op(ctx)
	if err != nil {
		return nil, err
	}

	_, err = b.DB.Exec(ctx, `
		INSERT INTO idempotency_keys(scope, key, request_hash, response)
		VALUES ($1, $2, $3, $4)`, scope, key, hash, resp)
	if postgres.IsUniqueViolation(err) {
		b.Log.Info("idempotency insert lost race", zap.String("scope", scope), zap.String("key", key))
		rec, err := b.Lookup(ctx, scope, key)
		if err != nil {
			return nil, err
		}
		return replay(rec, hash)
	}
	if err != nil {
		return nil, fmt.Errorf("store idempotency record: %w", err)
	}
	return resp, nil
}

func replay(rec orders.IdempotencyRecord, hash string) ([]byte, error) {
	if rec.RequestHash != hash {
		return nil, fmt.Errorf("%w: scope %s key %s", orders.ErrConflictingRetry, rec.Scope, rec.Key)
	}
	return rec.Response, nil
}

// Lookup reads a stored record.
func (b *Broker) Lookup(ctx context.Context, scope, key string) (orders.IdempotencyRecord, error) {
	rec := orders.IdempotencyRecord{Scope: scope, Key: key}
	var resp []byte
	err := b.DB.QueryRow(ctx, `
		SELECT request_hash, response, created_at
		FROM idempotency_keys WHERE scope = $1 AND key = $2`, scope, key).
		Scan(&rec.RequestHash, &resp, &rec.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.IdempotencyRecord{}, fmt.Errorf("%w: idempotency record %s/%s", orders.ErrNotFound, scope, key)
	}
	if err != nil {
		return orders.IdempotencyRecord{}, fmt.Errorf("lookup idempotency record: %w", err)
	}
	rec.Response = resp
	return rec, nil
}

// Runner binds GetOrCreate to one result type so it can sit behind an interface.
type Runner[T any] struct{ Broker *Broker }

func (r Runner[T]) Do(ctx context.Context, scope, key string, payload any, op func(context.Context) (T, error)) (T, error) {
	return GetOrCreate(ctx, r.Broker, scope, key, payload, op)
}
