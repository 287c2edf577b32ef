package orders

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID          int64           `json:"productid"`
	SellerID    int64           `json:"sellerid"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
}

type Order struct {
	ID         int64  `json:"orderid"`
	CustomerID int64  `json:"customerid"`
	ProductID  int64  `json:"productid"`
	SellerID   int64  `json:"sellerid"` // copied from product at placement
	Qty        int    `json:"qty"`
	Status     Status `json:"status"`
}

type Transaction struct {
	ID         int64           `json:"transid"`
	OrderID    int64           `json:"orderid"`
	CustomerID int64           `json:"customerid"`
	Amount     decimal.Decimal `json:"amount"`
	Status     TxStatus        `json:"status"`
	Date       time.Time       `json:"transDate"`
}

// Placement is the result of a successful PlaceOrder.
type Placement struct {
	Order       Order
	Transaction Transaction
}

type StatusChange struct {
	OrderID    int64
	CustomerID int64
	From       Status
	To         Status
	// TransactionCompleted is set when the change forced the transaction to Completed.
	TransactionCompleted bool
	// TransactionRefunded and Restocked are set when the change cancelled the order.
	TransactionRefunded bool
	Restocked           int
}
