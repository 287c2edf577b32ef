package orders

import (
	"context"
	"fmt"
	"math"
	"time"

	kafkax "github.com/ariefcatur/marketplace-orders/internal/kafka"
	"github.com/ariefcatur/marketplace-orders/internal/redisx"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Store is the transactional persistence behind the workflow. Every *Tx method
// commits all of its writes or none of them.
type Store interface {
	PlaceOrderTx(ctx context.Context, customerID, productID int64, qty int) (Placement, error)
	UpdateStatusTx(ctx context.Context, orderID int64, to Status) (StatusChange, error)
	CancelOrderTx(ctx context.Context, orderID int64) (Order, error)
	UpsertTransactionTx(ctx context.Context, orderID int64, amount decimal.Decimal, status TxStatus) (Transaction, error)

	GetOrder(ctx context.Context, orderID int64) (Order, error)
	OrdersByCustomer(ctx context.Context, customerID int64) ([]Order, error)
	OrdersBySeller(ctx context.Context, sellerID int64) ([]Order, error)
	TransactionByOrder(ctx context.Context, orderID int64) (Transaction, error)
	TransactionsByCustomer(ctx context.Context, customerID int64) ([]Transaction, error)
}

// MaxQty is the largest quantity the orders.qty INTEGER column holds.
const MaxQty = math.MaxInt32

// amounts are stored as NUMERIC(12,2)
var maxAmount = decimal.New(1, 10)

func checkAmount(amount decimal.Decimal) error {
	switch {
	case amount.IsNegative():
		return fmt.Errorf("%w: %s is negative", ErrInvalidAmount, amount)
	case !amount.Equal(amount.Truncate(2)):
		return fmt.Errorf("%w: %s has more than 2 decimal places", ErrInvalidAmount, amount)
	case amount.GreaterThanOrEqual(maxAmount):
		return fmt.Errorf("%w: %s exceeds 9999999999.99", ErrInvalidAmount, amount)
	}
	return nil
}

type Publisher interface {
	Publish(topic string, key, value []byte, headers ...kafka.Header)
}

// Service runs the order workflow. Redis and Events are optional; after a
// commit they are best effort and never fail the operation.
type Service struct {
	Repo        Store
	Redis       *redis.Client
	Events      Publisher
	Log         *zap.Logger
	ServiceName string
}

type traceKey struct{}

// WithTraceID attaches the id copied into published event envelopes.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

func traceID(ctx context.Context) string {
	id, _ := ctx.Value(traceKey{}).(string)
	return id
}

func (s *Service) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

func (s *Service) PlaceOrder(ctx context.Context, customerID, productID int64, qty int) (Placement, error) {
	if qty <= 0 || qty > MaxQty {
		return Placement{}, fmt.Errorf("%w: got %d", ErrInvalidQuantity, qty)
	}

	p, err := s.Repo.PlaceOrderTx(ctx, customerID, productID, qty)
	if err != nil {
		return Placement{}, err
	}

	s.logger().Info("order placed",
		zap.Int64("order_id", p.Order.ID),
		zap.Int64("customer_id", customerID),
		zap.Int64("product_id", productID),
		zap.Int("qty", qty),
		zap.Stringer("amount", p.Transaction.Amount))

	s.publish(ctx, TopicOrderPlaced, EventOrderPlaced, p.Order.ID, OrderPlacedPayload{
		OrderID:    p.Order.ID,
		CustomerID: p.Order.CustomerID,
		ProductID:  p.Order.ProductID,
		SellerID:   p.Order.SellerID,
		Qty:        p.Order.Qty,
		Amount:     p.Transaction.Amount,
	})
	return p, nil
}

// UpdateStatus rejects unknown status strings before touching the store.
func (s *Service) UpdateStatus(ctx context.Context, orderID int64, newStatus string) (StatusChange, error) {
	to, err := ParseStatus(newStatus)
	if err != nil {
		return StatusChange{}, err
	}

	ch, err := s.Repo.UpdateStatusTx(ctx, orderID, to)
	if err != nil {
		return StatusChange{}, err
	}

	s.invalidate(ctx, orderID)
	s.logger().Info("order status updated",
		zap.Int64("order_id", orderID),
		zap.String("from", string(ch.From)),
		zap.String("to", string(ch.To)),
		zap.Bool("transaction_completed", ch.TransactionCompleted),
		zap.Bool("transaction_refunded", ch.TransactionRefunded),
		zap.Int("restocked", ch.Restocked))

	s.publish(ctx, TopicOrderStatusUpdated, EventOrderStatusUpdated, orderID, OrderStatusUpdatedPayload{
		OrderID:              orderID,
		CustomerID:           ch.CustomerID,
		From:                 ch.From,
		To:                   ch.To,
		TransactionCompleted: ch.TransactionCompleted,
		TransactionRefunded:  ch.TransactionRefunded,
		Restocked:            ch.Restocked,
	})
	return ch, nil
}

func (s *Service) CancelOrder(ctx context.Context, orderID int64) (Order, error) {
	o, err := s.Repo.CancelOrderTx(ctx, orderID)
	if err != nil {
		return Order{}, err
	}

	s.invalidate(ctx, orderID)
	s.logger().Info("order cancelled",
		zap.Int64("order_id", orderID),
		zap.Int64("product_id", o.ProductID),
		zap.Int("restocked", o.Qty))

	s.publish(ctx, TopicOrderCancelled, EventOrderCancelled, orderID, OrderCancelledPayload{
		OrderID:    o.ID,
		CustomerID: o.CustomerID,
		ProductID:  o.ProductID,
		SellerID:   o.SellerID,
		Restocked:  o.Qty,
	})
	return o, nil
}

// RecordTransaction is the manual override for an order's transaction. An
// empty status means Completed.
func (s *Service) RecordTransaction(ctx context.Context, orderID int64, amount decimal.Decimal, status string) (Transaction, error) {
	if err := checkAmount(amount); err != nil {
		return Transaction{}, err
	}
	st, err := ParseTxStatus(status)
	if err != nil {
		return Transaction{}, err
	}

	t, err := s.Repo.UpsertTransactionTx(ctx, orderID, amount, st)
	if err != nil {
		return Transaction{}, err
	}

	s.invalidate(ctx, orderID)
	s.logger().Info("transaction recorded",
		zap.Int64("order_id", orderID),
		zap.Int64("transaction_id", t.ID),
		zap.Stringer("amount", t.Amount),
		zap.String("status", string(t.Status)))

	s.publish(ctx, TopicTransactionRecorded, EventTransactionRecorded, orderID, TransactionRecordedPayload{
		OrderID:       orderID,
		TransactionID: t.ID,
		CustomerID:    t.CustomerID,
		Amount:        t.Amount,
		Status:        t.Status,
	})
	return t, nil
}

func (s *Service) GetOrder(ctx context.Context, orderID int64) (Order, error) {
	key := fmt.Sprintf(redisx.KeyOrder, orderID)
	var o Order
	if s.cached(ctx, key, &o) {
		return o, nil
	}
	ver, ok := s.cacheVersion(ctx, orderID)
	o, err := s.Repo.GetOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if ok {
		s.remember(ctx, orderID, ver, key, o)
	}
	return o, nil
}

func (s *Service) OrdersByCustomer(ctx context.Context, customerID int64) ([]Order, error) {
	out, err := s.Repo.OrdersByCustomer(ctx, customerID)
	if out == nil && err == nil {
		out = []Order{}
	}
	return out, err
}

func (s *Service) OrdersBySeller(ctx context.Context, sellerID int64) ([]Order, error) {
	out, err := s.Repo.OrdersBySeller(ctx, sellerID)
	if out == nil && err == nil {
		out = []Order{}
	}
	return out, err
}

func (s *Service) TransactionForOrder(ctx context.Context, orderID int64) (Transaction, error) {
	key := fmt.Sprintf(redisx.KeyOrderTx, orderID)
	var t Transaction
	if s.cached(ctx, key, &t) {
		return t, nil
	}
	ver, ok := s.cacheVersion(ctx, orderID)
	t, err := s.Repo.TransactionByOrder(ctx, orderID)
	if err != nil {
		return Transaction{}, err
	}
	if ok {
		s.remember(ctx, orderID, ver, key, t)
	}
	return t, nil
}

func (s *Service) TransactionsByCustomer(ctx context.Context, customerID int64) ([]Transaction, error) {
	out, err := s.Repo.TransactionsByCustomer(ctx, customerID)
	if out == nil && err == nil {
		out = []Transaction{}
	}
	return out, err
}

func (s *Service) cached(ctx context.Context, key string, out any) bool {
	if s.Redis == nil {
		return false
	}
	found, err := redisx.GetJSON(ctx, s.Redis, key, out)
	if err != nil {
		s.logger().Debug("cache read failed", zap.String("key", key), zap.Error(err))
		return false
	}
	return found
}

// cacheVersion must be read before the store so a commit landing in between
// invalidates the refill.
func (s *Service) cacheVersion(ctx context.Context, orderID int64) (int64, bool) {
	if s.Redis == nil {
		return 0, false
	}
	ver, err := redisx.Version(ctx, s.Redis, fmt.Sprintf(redisx.KeyOrderVersion, orderID))
	if err != nil {
		s.logger().Debug("cache version read failed", zap.Int64("order_id", orderID), zap.Error(err))
		return 0, false
	}
	return ver, true
}

func (s *Service) remember(ctx context.Context, orderID, ver int64, key string, v any) {
	verKey := fmt.Sprintf(redisx.KeyOrderVersion, orderID)
	stored, err := redisx.SetJSONIfVersion(ctx, s.Redis, verKey, ver, key, v, redisx.TTLOrderCache)
	if err != nil {
		s.logger().Debug("cache write failed", zap.String("key", key), zap.Error(err))
	} else if !stored {
		s.logger().Debug("stale cache refill skipped", zap.String("key", key))
	}
}

func (s *Service) invalidate(ctx context.Context, orderID int64) {
	if s.Redis == nil {
		return
	}
	verKey := fmt.Sprintf(redisx.KeyOrderVersion, orderID)
	keys := []string{fmt.Sprintf(redisx.KeyOrder, orderID), fmt.Sprintf(redisx.KeyOrderTx, orderID)}
	if err := redisx.Invalidate(ctx, s.Redis, verKey, keys...); err != nil {
		s.logger().Warn("cache invalidation failed", zap.Int64("order_id", orderID), zap.Error(err))
	}
}

func (s *Service) publish(ctx context.Context, topic, eventType string, orderID int64, payload any) {
	if s.Events == nil {
		return
	}
	ev := Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.ServiceName,
		TraceID:       traceID(ctx),
		CorrelationID: fmt.Sprint(orderID),
		Payload:       kafkax.MustMarshal(payload),
	}
	s.Events.Publish(topic, PartitionKey(orderID), kafkax.MustMarshal(ev), kafkax.EventHeaders(eventType, ev.EventVersion)...)
}
