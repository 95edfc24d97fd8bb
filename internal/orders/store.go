package orders

import (
	"context"
	"github.com/shopspring/decimal"
	"time"
)

// Store is the persistence boundary of the engine. Everything that changes
// stock or order rows happens inside InTx; a non-nil error from fn rolls the
// whole unit back.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	GetOrder(ctx context.Context, id int64) (Order, error)
	// ListOrders lists newest first; userID 0 lists every user.
	ListOrders(ctx context.Context, userID int64, limit, offset int) ([]Order, error)
}

// Tx is the set of row operations available inside a transaction.
type Tx interface {
	// LockActiveProducts locks the active rows among ids in ascending id
	// order. Missing or inactive ids are simply absent from the result.
	LockActiveProducts(ctx context.Context, ids []int64) (map[int64]Product, error)
	DecrementStock(ctx context.Context, productID int64, qty int) error
	IncrementStock(ctx context.Context, productID int64, qty int) error

	InsertOrder(ctx context.Context, userID int64) (Order, error)
	InsertItems(ctx context.Context, orderID int64, rs []Reservation) ([]OrderItem, error)
	// LockOrder re-reads the order and its items, locking the order row.
	LockOrder(ctx context.Context, orderID int64) (Order, error)
	UpdateItemQuantity(ctx context.Context, orderID, productID int64, qty int) error
	DeleteItem(ctx context.Context, orderID, productID int64) error
	SetStatus(ctx context.Context, orderID int64, s Status) (time.Time, error)
	SetTotal(ctx context.Context, orderID int64, total decimal.Decimal) (time.Time, error)
}
