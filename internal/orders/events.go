package orders

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventOrderPlaced         = "OrderPlaced"
	EventOrderStatusUpdated  = "OrderStatusUpdated"
	EventOrderCancelled      = "OrderCancelled"
	EventTransactionRecorded = "TransactionRecorded"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // one of the consts above
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"` // e.g., "order-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

// ---- payloads ----

type OrderPlacedPayload struct {
	OrderID    int64           `json:"order_id"`
	CustomerID int64           `json:"customer_id"`
	ProductID  int64           `json:"product_id"`
	SellerID   int64           `json:"seller_id"`
	Qty        int             `json:"qty"`
	Amount     decimal.Decimal `json:"amount"`
}

type OrderStatusUpdatedPayload struct {
	OrderID              int64  `json:"order_id"`
	CustomerID           int64  `json:"customer_id"`
	From                 Status `json:"from"`
	To                   Status `json:"to"`
	TransactionCompleted bool   `json:"transaction_completed,omitempty"`
	TransactionRefunded  bool   `json:"transaction_refunded,omitempty"`
	Restocked            int    `json:"restocked,omitempty"`
}

type OrderCancelledPayload struct {
	OrderID    int64 `json:"order_id"`
	CustomerID int64 `json:"customer_id"`
	ProductID  int64 `json:"product_id"`
	SellerID   int64 `json:"seller_id"`
	Restocked  int   `json:"restocked"`
}

type TransactionRecordedPayload struct {
	OrderID       int64           `json:"order_id"`
	TransactionID int64           `json:"transaction_id"`
	CustomerID    int64           `json:"customer_id"`
	Amount        decimal.Decimal `json:"amount"`
	Status        TxStatus        `json:"status"`
}
