package orders

import "fmt"

type Status string

const (
	StatusPending    Status = "Pending"
	StatusDispatched Status = "Dispatched"
	StatusOnTheWay   Status = "On The Way"
	StatusDelivered  Status = "Delivered"
	StatusCancelled  Status = "Cancelled"
)

// Statuses lists every order status in lifecycle order.
var Statuses = []Status{StatusPending, StatusDispatched, StatusOnTheWay, StatusDelivered, StatusCancelled}

// Cancelled can only be entered from Pending; entering it restocks and refunds.
var validNext = map[Status]map[Status]bool{
	StatusPending:    {StatusPending: true, StatusDispatched: true, StatusOnTheWay: true, StatusDelivered: true, StatusCancelled: true},
	StatusDispatched: {StatusDispatched: true, StatusOnTheWay: true, StatusDelivered: true},
	StatusOnTheWay:   {StatusOnTheWay: true, StatusDelivered: true},
	StatusDelivered:  {StatusDelivered: true},
	StatusCancelled:  {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func CanCancel(s Status) bool {
	return s == StatusPending
}

// ParseStatus accepts only the exact status spelling.
func ParseStatus(s string) (Status, error) {
	for _, st := range Statuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: %q (valid: %v)", ErrInvalidStatus, s, Statuses)
}

type TxStatus string

const (
	TxPending   TxStatus = "Pending"
	TxCompleted TxStatus = "Completed"
	TxFailed    TxStatus = "Failed"
	TxRefunded  TxStatus = "Refunded"
)

var TxStatuses = []TxStatus{TxPending, TxCompleted, TxFailed, TxRefunded}

// ParseTxStatus defaults an empty value to Completed.
func ParseTxStatus(s string) (TxStatus, error) {
	if s == "" {
		return TxCompleted, nil
	}
	for _, st := range TxStatuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("%w: transaction status %q (valid: %v)", ErrInvalidStatus, s, TxStatuses)
}
