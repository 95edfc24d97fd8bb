package orders

import (
	"context"
	"errors"
	"fmt"
)

// ErrStockConflict means a conditional decrement matched no row even though
// the row was locked and checked. Treated as transient.
var ErrStockConflict = errors.New("stock changed during reservation")

// reserve locks every requested product, validates availability for all of
// them and only then decrements. It must run inside tx; on error nothing it
// did survives the rollback.
func reserve(ctx context.Context, tx Tx, want map[int64]int) ([]Reservation, error) {
	ids := SortedIDs(want)
	locked, err := tx.LockActiveProducts(ctx, ids)
	if err != nil {
		return nil, err
	}

	var missing []int64
	for _, id := range ids {
		if _, ok := locked[id]; !ok {
			missing = append(missing, id)
		}
	}
	if len(missing) > 0 {
		return nil, &ValidationError{Kind: KindProductsUnavailable, MissingIDs: missing}
	}

	var short []StockShortage
	for _, id := range ids {
		p := locked[id]
		if p.Stock < want[id] {
			short = append(short, StockShortage{ProductID: id, Available: p.Stock, Requested: want[id]})
		}
	}
	if len(short) > 0 {
		return nil, &ValidationError{Kind: KindInsufficientStock, Details: short}
	}

	out := make([]Reservation, 0, len(ids))
	for _, id := range ids {
		p := locked[id]
		if err := tx.DecrementStock(ctx, id, want[id]); err != nil {
			if errors.Is(err, ErrStockConflict) {
				return nil, Transient(fmt.Errorf("product %d: %w", id, err))
			}
			return nil, err
		}
		out = append(out, Reservation{ProductID: id, Name: p.Name, Quantity: want[id], Price: p.Price})
	}
	return out, nil
}
