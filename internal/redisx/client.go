package redisx

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-flashsale-checkout/internal/orders"
)

func New(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})
}

func Exists(ctx context.Context, rdb *redis.Client, key string) (bool, error) {
	n, err := rdb.Exists(ctx, key).Result()
	return n > 0, err
}

// Dedup is an advisory seen-set for processed events. A miss or a redis error
// means "not seen"; the database unique constraint is what actually dedups.
type Dedup struct {
	RDB   *redis.Client
	Scope string
	Log   *zap.Logger
}

func NewDedup(rdb *redis.Client, scope string, log *zap.Logger) *Dedup {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dedup{RDB: rdb, Scope: scope, Log: log}
}

func (d *Dedup) key(id string) string { return fmt.Sprintf(KeyDedup, d.Scope, id) }

func (d *Dedup) Seen(ctx context.Context, id string) bool {
	if d == nil || d.RDB == nil {
		return false
	}
	ok, err := Exists(ctx, d.RDB, d.key(id))
	if err != nil {
		d.Log.Warn("dedup lookup failed", zap.String("id", id), zap.Error(err))
		return false
	}
	return ok
}

func (d *Dedup) Mark(ctx context.Context, id string) {
	if d == nil || d.RDB == nil {
		return
	}
	if err := d.RDB.Set(ctx, d.key(id), "1", TTLDedup).Err(); err != nil {
		d.Log.Warn("dedup mark failed", zap.String("id", id), zap.Error(err))
	}
}

// StatusCache caches order status for GET /orders/{id}.
type StatusCache struct {
	RDB *redis.Client
	Log *zap.Logger
}

func NewStatusCache(rdb *redis.Client, log *zap.Logger) *StatusCache {
	if log == nil {
		log = zap.NewNop()
	}
	return &StatusCache{RDB: rdb, Log: log}
}

type cachedStatus struct {
	OrderID string        `json:"orderId"`
	Status  orders.Status `json:"status"`
}

func (c *StatusCache) SetStatus(ctx context.Context, orderID string, status orders.Status) {
	if c == nil || c.RDB == nil {
		return
	}
	b, _ := json.Marshal(cachedStatus{OrderID: orderID, Status: status})
	if err := c.RDB.Set(ctx, fmt.Sprintf(KeyOrderStatus, orderID), b, TTLStatusCache).Err(); err != nil {
		c.Log.Warn("order status cache write failed", zap.String("order_id", orderID), zap.Error(err))
	}
}

// GetStatus returns ok=false on a miss or any redis error.
func (c *StatusCache) GetStatus(ctx context.Context, orderID string) (orders.Status, bool) {
	if c == nil || c.RDB == nil {
		return "", false
	}
	s, err := c.RDB.Get(ctx, fmt.Sprintf(KeyOrderStatus, orderID)).Result()
	if err != nil || s == "" {
		return "", false
	}
	var cs cachedStatus
	if err := json.Unmarshal([]byte(s), &cs); err != nil || cs.Status == "" {
		return "", false
	}
	return cs.Status, true
}
