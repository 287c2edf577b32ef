// Package notify turns order events into customer and seller notifications.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	kafkax "github.com/ariefcatur/marketplace-orders/internal/kafka"
	"github.com/ariefcatur/marketplace-orders/internal/orders"
	"github.com/ariefcatur/marketplace-orders/internal/redisx"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Service struct {
	Redis       *redis.Client
	Log         *zap.Logger
	ServiceName string
}

// HandleOrderEvent is installed as the consumer handler. Redelivered events
// are skipped by event id; a Redis failure lets the event through rather than
// dropping it.
func (s *Service) HandleOrderEvent(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}

	switch env.EventType {
	case orders.EventOrderPlaced, orders.EventOrderStatusUpdated,
		orders.EventOrderCancelled, orders.EventTransactionRecorded:
	default:
		s.Log.Debug("skipping event", zap.String("event_type", env.EventType), zap.String("topic", m.Topic))
		return nil
	}

	notes, err := notifications(env)
	if err != nil {
		return err
	}

	if s.Redis != nil {
		dkey := fmt.Sprintf(redisx.KeyDedup, s.ServiceName, env.EventID)
		first, err := redisx.MarkOnce(ctx, s.Redis, dkey, redisx.TTLDedup)
		if err != nil {
			s.Log.Warn("dedup unavailable", zap.String("event_id", env.EventID), zap.Error(err))
		} else if !first {
			s.Log.Debug("duplicate event", zap.String("event_id", env.EventID))
			return nil
		}
	}

	for _, n := range notes {
		s.Log.Info("notification",
			zap.String("recipient", n.Recipient),
			zap.Int64("recipient_id", n.RecipientID),
			zap.Int64("order_id", n.OrderID),
			zap.String("message", n.Message),
			zap.String("event_id", env.EventID),
			zap.String("trace_id", env.TraceID))
	}
	return nil
}

type Notification struct {
	Recipient   string // "customer" or "seller"
	RecipientID int64
	OrderID     int64
	Message     string
}

func notifications(env orders.Envelope) ([]Notification, error) {
	switch env.EventType {
	case orders.EventOrderPlaced:
		p, err := kafkax.UnwrapPayload[orders.OrderPlacedPayload](env.Payload)
		if err != nil {
			return nil, err
		}
		return []Notification{
			{"customer", p.CustomerID, p.OrderID,
				fmt.Sprintf("Order %d placed. Payment of %s completed.", p.OrderID, p.Amount.StringFixed(2))},
			{"seller", p.SellerID, p.OrderID,
				fmt.Sprintf("New order %d for product %d (qty %d).", p.OrderID, p.ProductID, p.Qty)},
		}, nil

	case orders.EventOrderStatusUpdated:
		p, err := kafkax.UnwrapPayload[orders.OrderStatusUpdatedPayload](env.Payload)
		if err != nil {
			return nil, err
		}
		msg := fmt.Sprintf("Order %d is now %s.", p.OrderID, p.To)
		if p.TransactionCompleted {
			msg += " Payment completed."
		}
		if p.TransactionRefunded {
			msg += " Refund initiated."
		}
		return []Notification{{"customer", p.CustomerID, p.OrderID, msg}}, nil

	case orders.EventOrderCancelled:
		p, err := kafkax.UnwrapPayload[orders.OrderCancelledPayload](env.Payload)
		if err != nil {
			return nil, err
		}
		return []Notification{
			{"customer", p.CustomerID, p.OrderID,
				fmt.Sprintf("Order %d cancelled. Refund initiated.", p.OrderID)},
			{"seller", p.SellerID, p.OrderID,
				fmt.Sprintf("Order %d cancelled; %d unit(s) of product %d restocked.", p.OrderID, p.Restocked, p.ProductID)},
		}, nil

	case orders.EventTransactionRecorded:
		p, err := kafkax.UnwrapPayload[orders.TransactionRecordedPayload](env.Payload)
		if err != nil {
			return nil, err
		}
		return []Notification{
			{"customer", p.CustomerID, p.OrderID,
				fmt.Sprintf("Transaction for order %d is %s (%s).", p.OrderID, p.Status, p.Amount.StringFixed(2))},
		}, nil
	}
	return nil, nil
}
