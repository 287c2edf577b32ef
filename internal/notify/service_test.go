package notify

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	kafkax "github.com/ariefcatur/marketplace-orders/internal/kafka"
	"github.com/ariefcatur/marketplace-orders/internal/orders"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func setupService(t *testing.T) (*Service, *miniredis.Miniredis, *observer.ObservedLogs) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	core, logs := observer.New(zapcore.InfoLevel)
	return &Service{Redis: rdb, Log: zap.New(core), ServiceName: "order-notifier"}, mr, logs
}

func message(t *testing.T, eventID, eventType string, payload any) kafkago.Message {
	t.Helper()
	env := orders.Envelope{
		EventID:      eventID,
		EventType:    eventType,
		EventVersion: 1,
		OccurredAt:   time.Now().UTC(),
		Producer:     "order-api",
		TraceID:      "req-1",
		Payload:      kafkax.MustMarshal(payload),
	}
	return kafkago.Message{
		Topic:   orders.TopicOrderPlaced,
		Value:   kafkax.MustMarshal(env),
		Headers: kafkax.EventHeaders(eventType, 1),
	}
}

func TestHandleOrderEvent_OrderPlaced(t *testing.T) {
	svc, mr, logs := setupService(t)

	m := message(t, "ev-1", orders.EventOrderPlaced, orders.OrderPlacedPayload{
		OrderID: 7, CustomerID: 100000, ProductID: 11, SellerID: 3, Qty: 2,
		Amount: decimal.RequireFromString("199.98"),
	})
	require.NoError(t, svc.HandleOrderEvent(context.Background(), m))

	entries := logs.FilterMessage("notification").All()
	require.Len(t, entries, 2)
	customer := entries[0].ContextMap()
	assert.Equal(t, "customer", customer["recipient"])
	assert.Equal(t, int64(100000), customer["recipient_id"])
	assert.Equal(t, "Order 7 placed. Payment of 199.98 completed.", customer["message"])
	assert.Equal(t, "req-1", customer["trace_id"])
	seller := entries[1].ContextMap()
	assert.Equal(t, "seller", seller["recipient"])
	assert.Equal(t, int64(3), seller["recipient_id"])

	assert.True(t, mr.Exists("dedup:order-notifier:ev-1"))
	ttl := mr.TTL("dedup:order-notifier:ev-1")
	assert.Equal(t, 48*time.Hour, ttl)
}

func TestHandleOrderEvent_Duplicate(t *testing.T) {
	svc, _, logs := setupService(t)

	m := message(t, "ev-2", orders.EventOrderCancelled, orders.OrderCancelledPayload{
		OrderID: 8, CustomerID: 100000, ProductID: 11, SellerID: 3, Restocked: 2,
	})
	require.NoError(t, svc.HandleOrderEvent(context.Background(), m))
	require.NoError(t, svc.HandleOrderEvent(context.Background(), m))

	entries := logs.FilterMessage("notification").All()
	require.Len(t, entries, 2)
	assert.Equal(t, "Order 8 cancelled. Refund initiated.", entries[0].ContextMap()["message"])
}

func TestHandleOrderEvent_StatusAndTransaction(t *testing.T) {
	svc, _, logs := setupService(t)
	ctx := context.Background()

	require.NoError(t, svc.HandleOrderEvent(ctx, message(t, "ev-3", orders.EventOrderStatusUpdated,
		orders.OrderStatusUpdatedPayload{OrderID: 9, CustomerID: 5, From: orders.StatusOnTheWay, To: orders.StatusDelivered, TransactionCompleted: true})))
	require.NoError(t, svc.HandleOrderEvent(ctx, message(t, "ev-4", orders.EventTransactionRecorded,
		orders.TransactionRecordedPayload{OrderID: 9, TransactionID: 1, CustomerID: 5, Amount: decimal.NewFromInt(20), Status: orders.TxRefunded})))
	require.NoError(t, svc.HandleOrderEvent(ctx, message(t, "ev-8", orders.EventOrderStatusUpdated,
		orders.OrderStatusUpdatedPayload{OrderID: 10, CustomerID: 5, From: orders.StatusPending, To: orders.StatusCancelled, TransactionRefunded: true, Restocked: 1})))

	entries := logs.FilterMessage("notification").All()
	require.Len(t, entries, 3)
	assert.Equal(t, "Order 9 is now Delivered. Payment completed.", entries[0].ContextMap()["message"])
	assert.Equal(t, int64(5), entries[0].ContextMap()["recipient_id"])
	assert.Equal(t, "Transaction for order 9 is Refunded (20.00).", entries[1].ContextMap()["message"])
	assert.Equal(t, "Order 10 is now Cancelled. Refund initiated.", entries[2].ContextMap()["message"])
}

func TestHandleOrderEvent_UnknownTypeSkipped(t *testing.T) {
	svc, mr, logs := setupService(t)

	m := message(t, "ev-5", "StockReserved", map[string]any{"order_id": 1})
	require.NoError(t, svc.HandleOrderEvent(context.Background(), m))
	assert.Zero(t, logs.FilterMessage("notification").Len())
	assert.False(t, mr.Exists("dedup:order-notifier:ev-5"))
}

func TestHandleOrderEvent_DecodeErrors(t *testing.T) {
	svc, mr, _ := setupService(t)

	err := svc.HandleOrderEvent(context.Background(), kafkago.Message{Value: []byte("{not json")})
	assert.Error(t, err)

	m := message(t, "ev-6", orders.EventOrderPlaced, "not an object")
	assert.Error(t, svc.HandleOrderEvent(context.Background(), m))
	// a failed event stays eligible for redelivery
	assert.False(t, mr.Exists("dedup:order-notifier:ev-6"))
}

func TestHandleOrderEvent_RedisDown(t *testing.T) {
	svc, mr, logs := setupService(t)
	mr.Close()
	svc.Redis = redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = svc.Redis.Close() })

	m := message(t, "ev-7", orders.EventOrderCancelled, orders.OrderCancelledPayload{OrderID: 1, CustomerID: 2, SellerID: 3})
	require.NoError(t, svc.HandleOrderEvent(context.Background(), m))
	assert.Equal(t, 2, logs.FilterMessage("notification").Len())
	assert.Equal(t, 1, logs.FilterMessage("dedup unavailable").Len())
}
