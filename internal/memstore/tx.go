package memstore

import (
	"context"
	"fmt"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/shopspring/decimal"
	"time"
)

type memTx struct {
	st  *state
	now func() time.Time
}

func (t *memTx) LockActiveProducts(_ context.Context, ids []int64) (map[int64]orders.Product, error) {
	out := make(map[int64]orders.Product, len(ids))
	for _, id := range ids {
		p, ok := t.st.products[id]
		if !ok || !p.IsActive {
			continue
		}
		out[id] = orders.Product{ID: p.ID, Name: p.Name, Price: p.Price, Stock: p.Stock, IsActive: p.IsActive}
	}
	return out, nil
}

func (t *memTx) DecrementStock(_ context.Context, productID int64, qty int) error {
	p, ok := t.st.products[productID]
	if !ok || p.Stock < qty {
		return orders.ErrStockConflict
	}
	p.Stock -= qty
	p.UpdatedAt = t.now()
	t.st.products[productID] = p
	return nil
}

func (t *memTx) IncrementStock(_ context.Context, productID int64, qty int) error {
	p, ok := t.st.products[productID]
	if !ok {
		return fmt.Errorf("return stock: product %d not found", productID)
	}
	p.Stock += qty
	p.UpdatedAt = t.now()
	t.st.products[productID] = p
	return nil
}

func (t *memTx) InsertOrder(_ context.Context, userID int64) (orders.Order, error) {
	t.st.nextOrder++
	now := t.now()
	o := orders.Order{
		ID:         t.st.nextOrder,
		UserID:     userID,
		Status:     orders.StatusPending,
		TotalPrice: decimal.Zero,
		CreatedAt:  now,
		UpdatedAt:  now,
		Items:      []orders.OrderItem{},
	}
	t.st.orders[o.ID] = o
	return copyOrder(o), nil
}

func (t *memTx) InsertItems(_ context.Context, orderID int64, rs []orders.Reservation) ([]orders.OrderItem, error) {
	o, ok := t.st.orders[orderID]
	if !ok {
		return nil, orders.ErrNotFound
	}
	out := make([]orders.OrderItem, 0, len(rs))
	for _, r := range rs {
		if _, dup := o.Item(r.ProductID); dup {
			return nil, fmt.Errorf("order %d already has a line for product %d", orderID, r.ProductID)
		}
		t.st.nextItem++
		it := orders.OrderItem{
			ID:              t.st.nextItem,
			OrderID:         orderID,
			ProductID:       r.ProductID,
			ProductName:     r.Name,
			Quantity:        r.Quantity,
			PriceAtPurchase: r.Price,
			CreatedAt:       t.now(),
		}
		o.Items = append(o.Items, it)
		out = append(out, it)
	}
	t.st.orders[orderID] = o
	return out, nil
}

func (t *memTx) LockOrder(_ context.Context, orderID int64) (orders.Order, error) {
	o, ok := t.st.orders[orderID]
	if !ok {
		return orders.Order{}, orders.ErrNotFound
	}
	o = copyOrder(o)
	for i := range o.Items {
		o.Items[i].ProductName = t.st.products[o.Items[i].ProductID].Name
	}
	return o, nil
}

func (t *memTx) UpdateItemQuantity(_ context.Context, orderID, productID int64, qty int) error {
	o, ok := t.st.orders[orderID]
	if !ok {
		return orders.ErrNotFound
	}
	for i := range o.Items {
		if o.Items[i].ProductID == productID {
			o.Items[i].Quantity = qty
			t.st.orders[orderID] = o
			return nil
		}
	}
	return orders.ErrItemNotFound
}

func (t *memTx) DeleteItem(_ context.Context, orderID, productID int64) error {
	o, ok := t.st.orders[orderID]
	if !ok {
		return orders.ErrNotFound
	}
	for i := range o.Items {
		if o.Items[i].ProductID == productID {
			o.Items = append(o.Items[:i], o.Items[i+1:]...)
			t.st.orders[orderID] = o
			return nil
		}
	}
	return orders.ErrItemNotFound
}

func (t *memTx) SetStatus(_ context.Context, orderID int64, s orders.Status) (time.Time, error) {
	o, ok := t.st.orders[orderID]
	if !ok {
		return time.Time{}, orders.ErrNotFound
	}
	o.Status = s
	o.UpdatedAt = t.now()
	t.st.orders[orderID] = o
	return o.UpdatedAt, nil
}

func (t *memTx) SetTotal(_ context.Context, orderID int64, total decimal.Decimal) (time.Time, error) {
	if total.IsNegative() {
		return time.Time{}, fmt.Errorf("negative total %s", total)
	}
	o, ok := t.st.orders[orderID]
	if !ok {
		return time.Time{}, orders.ErrNotFound
	}
	o.TotalPrice = total
	o.UpdatedAt = t.now()
	t.st.orders[orderID] = o
	return o.UpdatedAt, nil
}
