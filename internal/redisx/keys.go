package redisx

import "time"

const (
	// Idempotent create: idem:order:create:{user_id}:{idempotency_key} -> order_id | "pending"
	KeyIdemOrderCreate = "idem:order:create:%d:%s"

	// Cached order status: order_status:{order_id} -> {"status": "...", "total_price": "...", "updated_at": "..."}
	KeyOrderStatus = "order_status:%d"

	// Event dedup: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency = 24 * time.Hour
	TTLInFlight    = 30 * time.Second
	TTLStatusCache = 5 * time.Minute
	TTLDedup       = 48 * time.Hour
)
