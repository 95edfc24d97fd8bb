package orders

import (
	"github.com/shopspring/decimal"
	"time"
)

// Product is the slice of a catalog row the engine locks and decrements.
type Product struct {
	ID       int64
	Name     string
	Price    decimal.Decimal
	Stock    int
	IsActive bool
}

type Order struct {
	ID         int64           `json:"id"`
	UserID     int64           `json:"user_id"`
	Status     Status          `json:"status"`
	TotalPrice decimal.Decimal `json:"total_price"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	Items      []OrderItem     `json:"items"`
}

type OrderItem struct {
	ID              int64           `json:"id"`
	OrderID         int64           `json:"-"`
	ProductID       int64           `json:"product_id"`
	ProductName     string          `json:"product_name"`
	Quantity        int             `json:"quantity"`
	PriceAtPurchase decimal.Decimal `json:"price_at_purchase"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Item returns the line for productID, if the order has one.
func (o *Order) Item(productID int64) (OrderItem, bool) {
	for _, it := range o.Items {
		if it.ProductID == productID {
			return it, true
		}
	}
	return OrderItem{}, false
}

// Reservation is one reserved line: stock already decremented, price captured.
type Reservation struct {
	ProductID int64
	Name      string
	Quantity  int
	Price     decimal.Decimal
}

type ItemInput struct {
	ProductID int64 `json:"product_id"`
	Quantity  int   `json:"quantity"`
}

// Actor is the authenticated caller as resolved by the HTTP layer.
type Actor struct {
	UserID int64
	Admin  bool
}

func (a Actor) owns(o Order) bool {
	return a.Admin || a.UserID == o.UserID
}
