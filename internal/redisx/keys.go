package redisx

import "time"

const (
	// Cache status order: order_status:{order_id} -> {"orderId": "...", "status": "..."}
	KeyOrderStatus = "order_status:%s"

	// Dedup event processing: dedup:{scope}:{id} (webhook: id = provider:event_id)
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
