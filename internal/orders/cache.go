package orders

import "context"

// StatusCache keeps a short-lived copy of order status for fast reads.
// Writes are best effort; readers fall back to the database on a miss.
type StatusCache interface {
	SetStatus(ctx context.Context, orderID string, status Status)
}

type NopStatusCache struct{}

func (NopStatusCache) SetStatus(context.Context, string, Status) {}
