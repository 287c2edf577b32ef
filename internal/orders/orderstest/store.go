// Package orderstest provides an in-memory orders.Store for tests. It follows
// the same atomicity and state machine rules as the PostgreSQL repository.
package orderstest

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/marketplace-orders/internal/orders"
	"github.com/shopspring/decimal"
)

type Store struct {
	mu           sync.Mutex
	customers    map[int64]bool
	products     map[int64]orders.Product
	orders       map[int64]orders.Order
	transactions map[int64]orders.Transaction // by order id
	nextOrder    int64
	nextTx       int64

	// Err, when set, is returned by the next call instead of doing any work.
	Err error
	// Calls counts store method invocations by name.
	Calls map[string]int
}

var _ orders.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		customers:    map[int64]bool{},
		products:     map[int64]orders.Product{},
		orders:       map[int64]orders.Order{},
		transactions: map[int64]orders.Transaction{},
		Calls:        map[string]int{},
	}
}

func (s *Store) AddCustomer(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers[id] = true
}

func (s *Store) AddProduct(p orders.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

func (s *Store) Product(id int64) orders.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.products[id]
}

func (s *Store) OrderCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.orders)
}

func (s *Store) TransactionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.transactions)
}

// SetStatus forces an order status, bypassing the state machine.
func (s *Store) SetStatus(orderID int64, st orders.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o := s.orders[orderID]
	o.Status = st
	s.orders[orderID] = o
}

// SetTxStatus forces a transaction status.
func (s *Store) SetTxStatus(orderID int64, st orders.TxStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.transactions[orderID]
	t.Status = st
	s.transactions[orderID] = t
}

// DeleteTransaction drops the transaction of an order.
func (s *Store) DeleteTransaction(orderID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.transactions, orderID)
}

func (s *Store) enter(name string) error {
	s.mu.Lock()
	s.Calls[name]++
	if err := s.Err; err != nil {
		s.Err = nil
		s.mu.Unlock()
		return err
	}
	return nil
}

func notFound(entity string, id int64) error {
	return fmt.Errorf("%s %d: %w", entity, id, orders.ErrNotFound)
}

func (s *Store) PlaceOrderTx(_ context.Context, customerID, productID int64, qty int) (orders.Placement, error) {
	if err := s.enter("PlaceOrderTx"); err != nil {
		return orders.Placement{}, err
	}
	defer s.mu.Unlock()

	if !s.customers[customerID] {
		return orders.Placement{}, notFound("customer", customerID)
	}
	p, ok := s.products[productID]
	if !ok {
		return orders.Placement{}, notFound("product", productID)
	}
	if p.Stock < qty {
		return orders.Placement{}, &orders.InsufficientStockError{
			ProductID: productID, Description: p.Description, Requested: qty, Available: p.Stock,
		}
	}

	p.Stock -= qty
	s.products[productID] = p

	s.nextOrder++
	o := orders.Order{
		ID:         s.nextOrder,
		CustomerID: customerID,
		ProductID:  productID,
		SellerID:   p.SellerID,
		Qty:        qty,
		Status:     orders.StatusPending,
	}
	s.orders[o.ID] = o

	s.nextTx++
	t := orders.Transaction{
		ID:         s.nextTx,
		OrderID:    o.ID,
		CustomerID: customerID,
		Amount:     p.Price.Mul(decimal.NewFromInt(int64(qty))),
		Status:     orders.TxCompleted,
		Date:       time.Now().UTC(),
	}
	s.transactions[o.ID] = t
	return orders.Placement{Order: o, Transaction: t}, nil
}

func (s *Store) UpdateStatusTx(_ context.Context, orderID int64, to orders.Status) (orders.StatusChange, error) {
	if err := s.enter("UpdateStatusTx"); err != nil {
		return orders.StatusChange{}, err
	}
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return orders.StatusChange{}, notFound("order", orderID)
	}
	if !orders.CanTransition(o.Status, to) {
		return orders.StatusChange{}, fmt.Errorf("%w: order %d from %q to %q", orders.ErrIllegalTransition, orderID, o.Status, to)
	}

	ch := orders.StatusChange{OrderID: orderID, CustomerID: o.CustomerID, From: o.Status, To: to}
	o.Status = to
	s.orders[orderID] = o
	switch to {
	case orders.StatusDelivered:
		if t, ok := s.transactions[orderID]; ok {
			t.Status = orders.TxCompleted
			s.transactions[orderID] = t
			ch.TransactionCompleted = true
		}
	case orders.StatusCancelled:
		ch.Restocked = o.Qty
		ch.TransactionRefunded = s.restockAndRefund(o)
	}
	return ch, nil
}

func (s *Store) CancelOrderTx(_ context.Context, orderID int64) (orders.Order, error) {
	if err := s.enter("CancelOrderTx"); err != nil {
		return orders.Order{}, err
	}
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return orders.Order{}, notFound("order", orderID)
	}
	if !orders.CanCancel(o.Status) {
		return orders.Order{}, fmt.Errorf("%w: order %d is %q and cannot be cancelled", orders.ErrIllegalTransition, orderID, o.Status)
	}

	o.Status = orders.StatusCancelled
	s.orders[orderID] = o
	s.restockAndRefund(o)
	return o, nil
}

func (s *Store) restockAndRefund(o orders.Order) bool {
	p := s.products[o.ProductID]
	p.Stock += o.Qty
	s.products[o.ProductID] = p
	t, ok := s.transactions[o.ID]
	if ok {
		t.Status = orders.TxRefunded
		s.transactions[o.ID] = t
	}
	return ok
}

func (s *Store) UpsertTransactionTx(_ context.Context, orderID int64, amount decimal.Decimal, status orders.TxStatus) (orders.Transaction, error) {
	if err := s.enter("UpsertTransactionTx"); err != nil {
		return orders.Transaction{}, err
	}
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return orders.Transaction{}, notFound("order", orderID)
	}
	t, ok := s.transactions[orderID]
	if !ok {
		s.nextTx++
		t = orders.Transaction{ID: s.nextTx, OrderID: orderID, CustomerID: o.CustomerID}
	}
	t.Amount = amount
	t.Status = status
	t.Date = time.Now().UTC()
	s.transactions[orderID] = t
	return t, nil
}

func (s *Store) GetOrder(_ context.Context, orderID int64) (orders.Order, error) {
	if err := s.enter("GetOrder"); err != nil {
		return orders.Order{}, err
	}
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok {
		return orders.Order{}, notFound("order", orderID)
	}
	return o, nil
}

func (s *Store) OrdersByCustomer(_ context.Context, customerID int64) ([]orders.Order, error) {
	if err := s.enter("OrdersByCustomer"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	return s.filterOrders(func(o orders.Order) bool { return o.CustomerID == customerID }), nil
}

func (s *Store) OrdersBySeller(_ context.Context, sellerID int64) ([]orders.Order, error) {
	if err := s.enter("OrdersBySeller"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()
	return s.filterOrders(func(o orders.Order) bool { return o.SellerID == sellerID }), nil
}

func (s *Store) filterOrders(keep func(orders.Order) bool) []orders.Order {
	var out []orders.Order
	for _, o := range s.orders {
		if keep(o) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) TransactionByOrder(_ context.Context, orderID int64) (orders.Transaction, error) {
	if err := s.enter("TransactionByOrder"); err != nil {
		return orders.Transaction{}, err
	}
	defer s.mu.Unlock()

	t, ok := s.transactions[orderID]
	if !ok {
		return orders.Transaction{}, notFound("transaction for order", orderID)
	}
	return t, nil
}

func (s *Store) TransactionsByCustomer(_ context.Context, customerID int64) ([]orders.Transaction, error) {
	if err := s.enter("TransactionsByCustomer"); err != nil {
		return nil, err
	}
	defer s.mu.Unlock()

	var out []orders.Transaction
	for _, t := range s.transactions {
		if t.CustomerID == customerID {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
