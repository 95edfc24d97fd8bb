package orders

import (
	"context"
	"fmt"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"time"
)

type pgTx struct {
	tx     pgx.Tx
	nowait bool
}

func (t *pgTx) lockClause() string {
	if t.nowait {
		return "FOR UPDATE NOWAIT"
	}
	return "FOR UPDATE"
}

// LockActiveProducts: ORDER BY id makes Postgres take the row locks in id order.
func (t *pgTx) LockActiveProducts(ctx context.Context, ids []int64) (map[int64]Product, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, name, price, stock, is_active
		FROM products
		WHERE id = ANY($1) AND is_active
		ORDER BY id `+t.lockClause(), ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]Product, len(ids))
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Price, &p.Stock, &p.IsActive); err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

func (t *pgTx) DecrementStock(ctx context.Context, productID int64, qty int) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE products SET stock = stock - $2, updated_at = now()
		WHERE id = $1 AND stock >= $2`, productID, qty)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return ErrStockConflict
	}
	return nil
}

func (t *pgTx) IncrementStock(ctx context.Context, productID int64, qty int) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE products SET stock = stock + $2, updated_at = now()
		WHERE id = $1`, productID, qty)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("return stock: product %d not found", productID)
	}
	return nil
}

func (t *pgTx) InsertOrder(ctx context.Context, userID int64) (Order, error) {
	o := Order{UserID: userID}
	err := t.tx.QueryRow(ctx, `
		INSERT INTO orders(user_id, status, total_price)
		VALUES ($1, $2, 0)
		RETURNING id, status, total_price, created_at, updated_at`, userID, StatusPending).
		Scan(&o.ID, &o.Status, &o.TotalPrice, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

func (t *pgTx) InsertItems(ctx context.Context, orderID int64, rs []Reservation) ([]OrderItem, error) {
	out := make([]OrderItem, 0, len(rs))
	for _, r := range rs {
		it := OrderItem{OrderID: orderID, ProductID: r.ProductID, ProductName: r.Name, Quantity: r.Quantity, PriceAtPurchase: r.Price}
		if err := t.tx.QueryRow(ctx, `
			INSERT INTO order_items(order_id, product_id, quantity, price_at_purchase)
			VALUES ($1, $2, $3, $4)
			RETURNING id, created_at`, orderID, r.ProductID, r.Quantity, r.Price).
			Scan(&it.ID, &it.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, it)
	}
	return out, nil
}

func (t *pgTx) LockOrder(ctx context.Context, orderID int64) (Order, error) {
	o, err := scanOrder(t.tx.QueryRow(ctx, `
		SELECT id, user_id, status, total_price, created_at, updated_at
		FROM orders WHERE id=$1 `+t.lockClause(), orderID))
	if err != nil {
		return Order{}, err
	}
	if err := loadItems(ctx, t.tx, []*Order{&o}); err != nil {
		return Order{}, err
	}
	return o, nil
}

func (t *pgTx) UpdateItemQuantity(ctx context.Context, orderID, productID int64, qty int) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE order_items SET quantity=$3
		WHERE order_id=$1 AND product_id=$2`, orderID, productID, qty)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return ErrItemNotFound
	}
	return nil
}

func (t *pgTx) DeleteItem(ctx context.Context, orderID, productID int64) error {
	ct, err := t.tx.Exec(ctx, `DELETE FROM order_items WHERE order_id=$1 AND product_id=$2`, orderID, productID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return ErrItemNotFound
	}
	return nil
}

func (t *pgTx) SetStatus(ctx context.Context, orderID int64, s Status) (time.Time, error) {
	var at time.Time
	err := t.tx.QueryRow(ctx, `
		UPDATE orders SET status=$2, updated_at=clock_timestamp()
		WHERE id=$1 RETURNING updated_at`, orderID, s).Scan(&at)
	return at, err
}

func (t *pgTx) SetTotal(ctx context.Context, orderID int64, total decimal.Decimal) (time.Time, error) {
	var at time.Time
	err := t.tx.QueryRow(ctx, `
		UPDATE orders SET total_price=$2, updated_at=clock_timestamp()
		WHERE id=$1 RETURNING updated_at`, orderID, total).Scan(&at)
	return at, err
}
