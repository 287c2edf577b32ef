package orders

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

const (
	orderColumns = `orderid, customerid, productid, sellerid, qty, status`
	txColumns    = `transid, orderid, customerid, amount, status, transdate`
)

type Repo struct{ DB *pgxpool.Pool }

var _ Store = (*Repo)(nil)

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.CustomerID, &o.ProductID, &o.SellerID, &o.Qty, &o.Status)
	return o, err
}

func scanTransaction(row pgx.Row) (Transaction, error) {
	var t Transaction
	err := row.Scan(&t.ID, &t.OrderID, &t.CustomerID, &t.Amount, &t.Status, &t.Date)
	return t, err
}

// PlaceOrderTx decrements stock and writes the order and its transaction in one
// database transaction. The stock check and the decrement are a single
// conditional UPDATE, so concurrent placements cannot oversell.
func (r *Repo) PlaceOrderTx(ctx context.Context, customerID, productID int64, qty int) (Placement, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Placement{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var one int
	err = tx.QueryRow(ctx, `SELECT 1 FROM customers WHERE customerid=$1`, customerID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return Placement{}, notFound("customer", customerID)
	} else if err != nil {
		return Placement{}, fmt.Errorf("lookup customer: %w", err)
	}

	var (
		sellerID int64
		price    decimal.Decimal
	)
	err = tx.QueryRow(ctx, `
		UPDATE products SET stock = stock - $2
		WHERE productid=$1 AND stock >= $2
		RETURNING sellerid, price`, productID, qty).Scan(&sellerID, &price)
	if errors.Is(err, pgx.ErrNoRows) {
		return Placement{}, r.rejectPlacement(ctx, tx, productID, qty)
	} else if err != nil {
		return Placement{}, fmt.Errorf("decrement stock: %w", err)
	}

	p := Placement{
		Order: Order{
			CustomerID: customerID,
			ProductID:  productID,
			SellerID:   sellerID,
			Qty:        qty,
			Status:     StatusPending,
		},
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO orders(customerid, productid, sellerid, qty, status)
		VALUES ($1,$2,$3,$4,$5)
		RETURNING orderid`, customerID, productID, sellerID, qty, StatusPending).Scan(&p.Order.ID)
	if err != nil {
		return Placement{}, fmt.Errorf("insert order: %w", err)
	}

	// payment is simulated and always succeeds
	amount := price.Mul(decimal.NewFromInt(int64(qty)))
	p.Transaction, err = scanTransaction(tx.QueryRow(ctx, `
		INSERT INTO transactions(orderid, customerid, amount, status, transdate)
		VALUES ($1,$2,$3,$4,now())
		RETURNING `+txColumns, p.Order.ID, customerID, amount, TxCompleted))
	if err != nil {
		return Placement{}, fmt.Errorf("insert transaction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Placement{}, err
	}
	return p, nil
}

// rejectPlacement explains why the conditional stock update matched no row.
func (r *Repo) rejectPlacement(ctx context.Context, tx pgx.Tx, productID int64, qty int) error {
	var (
		stock int
		desc  string
	)
	err := tx.QueryRow(ctx, `SELECT stock, COALESCE(description, '') FROM products WHERE productid=$1`, productID).Scan(&stock, &desc)
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound("product", productID)
	} else if err != nil {
		return fmt.Errorf("lookup product: %w", err)
	}
	return &InsufficientStockError{ProductID: productID, Description: desc, Requested: qty, Available: stock}
}

func lockOrder(ctx context.Context, tx pgx.Tx, orderID int64) (Order, error) {
	o, err := scanOrder(tx.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE orderid=$1 FOR UPDATE`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, notFound("order", orderID)
	}
	return o, err
}

func (r *Repo) UpdateStatusTx(ctx context.Context, orderID int64, to Status) (StatusChange, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return StatusChange{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o, err := lockOrder(ctx, tx, orderID)
	if err != nil {
		return StatusChange{}, err
	}
	if !CanTransition(o.Status, to) {
		return StatusChange{}, fmt.Errorf("%w: order %d from %q to %q", ErrIllegalTransition, orderID, o.Status, to)
	}

	if _, err := tx.Exec(ctx, `UPDATE orders SET status=$2 WHERE orderid=$1`, orderID, to); err != nil {
		return StatusChange{}, fmt.Errorf("update order status: %w", err)
	}

	ch := StatusChange{OrderID: orderID, CustomerID: o.CustomerID, From: o.Status, To: to}
	switch to {
	case StatusDelivered:
		ct, err := tx.Exec(ctx, `UPDATE transactions SET status=$2 WHERE orderid=$1`, orderID, TxCompleted)
		if err != nil {
			return StatusChange{}, fmt.Errorf("complete transaction: %w", err)
		}
		ch.TransactionCompleted = ct.RowsAffected() > 0
	case StatusCancelled:
		refunded, err := restockAndRefund(ctx, tx, o)
		if err != nil {
			return StatusChange{}, err
		}
		ch.Restocked = o.Qty
		ch.TransactionRefunded = refunded
	}

	if err := tx.Commit(ctx); err != nil {
		return StatusChange{}, err
	}
	return ch, nil
}

// CancelOrderTx cancels a Pending order, restocks its product and refunds its
// transaction. A second cancel fails with ErrIllegalTransition.
func (r *Repo) CancelOrderTx(ctx context.Context, orderID int64) (Order, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Order{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o, err := lockOrder(ctx, tx, orderID)
	if err != nil {
		return Order{}, err
	}
	if !CanCancel(o.Status) {
		return Order{}, fmt.Errorf("%w: order %d is %q and cannot be cancelled", ErrIllegalTransition, orderID, o.Status)
	}

	if _, err := tx.Exec(ctx, `UPDATE orders SET status=$2 WHERE orderid=$1`, orderID, StatusCancelled); err != nil {
		return Order{}, fmt.Errorf("cancel order: %w", err)
	}
	if _, err := restockAndRefund(ctx, tx, o); err != nil {
		return Order{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Order{}, err
	}
	o.Status = StatusCancelled
	return o, nil
}

// restockAndRefund are the compensating writes of a cancellation. It reports
// whether a transaction row was refunded.
func restockAndRefund(ctx context.Context, tx pgx.Tx, o Order) (bool, error) {
	if _, err := tx.Exec(ctx, `UPDATE products SET stock = stock + $2 WHERE productid=$1`, o.ProductID, o.Qty); err != nil {
		return false, fmt.Errorf("restock product: %w", err)
	}
	ct, err := tx.Exec(ctx, `UPDATE transactions SET status=$2 WHERE orderid=$1`, o.ID, TxRefunded)
	if err != nil {
		return false, fmt.Errorf("refund transaction: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// UpsertTransactionTx overwrites the order's transaction or creates one bound
// to the order's customer.
func (r *Repo) UpsertTransactionTx(ctx context.Context, orderID int64, amount decimal.Decimal, status TxStatus) (Transaction, error) {
	tx, err := r.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Transaction{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var customerID int64
	err = tx.QueryRow(ctx, `SELECT customerid FROM orders WHERE orderid=$1 FOR SHARE`, orderID).Scan(&customerID)
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, notFound("order", orderID)
	} else if err != nil {
		return Transaction{}, fmt.Errorf("lookup order: %w", err)
	}

	t, err := scanTransaction(tx.QueryRow(ctx, `
		INSERT INTO transactions(orderid, customerid, amount, status, transdate)
		VALUES ($1,$2,$3,$4,now())
		ON CONFLICT (orderid) DO UPDATE
		SET amount=EXCLUDED.amount, status=EXCLUDED.status, transdate=EXCLUDED.transdate
		RETURNING `+txColumns, orderID, customerID, amount, status))
	if err != nil {
		return Transaction{}, fmt.Errorf("upsert transaction: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Transaction{}, err
	}
	return t, nil
}

func (r *Repo) GetOrder(ctx context.Context, orderID int64) (Order, error) {
	o, err := scanOrder(r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE orderid=$1`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, notFound("order", orderID)
	}
	return o, err
}

func (r *Repo) OrdersByCustomer(ctx context.Context, customerID int64) ([]Order, error) {
	return r.listOrders(ctx, `SELECT `+orderColumns+` FROM orders WHERE customerid=$1 ORDER BY orderid`, customerID)
}

func (r *Repo) OrdersBySeller(ctx context.Context, sellerID int64) ([]Order, error) {
	return r.listOrders(ctx, `SELECT `+orderColumns+` FROM orders WHERE sellerid=$1 ORDER BY orderid`, sellerID)
}

func (r *Repo) listOrders(ctx context.Context, query string, arg int64) ([]Order, error) {
	rows, err := r.DB.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Order, error) {
		return scanOrder(row)
	})
}

func (r *Repo) TransactionByOrder(ctx context.Context, orderID int64) (Transaction, error) {
	t, err := scanTransaction(r.DB.QueryRow(ctx, `SELECT `+txColumns+` FROM transactions WHERE orderid=$1`, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, notFound("transaction for order", orderID)
	}
	return t, err
}

func (r *Repo) TransactionsByCustomer(ctx context.Context, customerID int64) ([]Transaction, error) {
	rows, err := r.DB.Query(ctx, `SELECT `+txColumns+` FROM transactions WHERE customerid=$1 ORDER BY transid`, customerID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Transaction, error) {
		return scanTransaction(row)
	})
}
