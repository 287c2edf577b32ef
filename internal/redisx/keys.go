package redisx

import "time"

const (
	// Cached order row: order:{order_id} -> Order JSON
	KeyOrder = "order:%d"

	// Cached transaction of an order: order_tx:{order_id} -> Transaction JSON
	KeyOrderTx = "order_tx:%d"

	// Bumped on every invalidation of an order's cached entries: order_ver:{order_id}
	KeyOrderVersion = "order_ver:%d"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLOrderCache = 5 * time.Minute
	// outlives any read that could still be refilling the cache
	TTLCacheVersion = time.Hour
	TTLDedup      = 48 * time.Hour
)
