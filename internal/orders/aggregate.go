package orders

import (
	"fmt"
	"math"
	"sort"
)

// MaxQuantity bounds one line; stock and quantity are INTEGER columns.
const MaxQuantity = math.MaxInt32

// Aggregate merges duplicate product lines into one quantity per product.
func Aggregate(items []ItemInput) (map[int64]int, error) {
	if len(items) == 0 {
		return nil, &ValidationError{Kind: KindEmptyItems}
	}
	out := make(map[int64]int, len(items))
	for _, it := range items {
		if it.ProductID < 1 {
			return nil, &ValidationError{Kind: KindInvalidItem, Message: fmt.Sprintf("invalid product_id %d", it.ProductID)}
		}
		if it.Quantity < 1 {
			return nil, &ValidationError{Kind: KindInvalidItem, Message: fmt.Sprintf("invalid quantity %d for product %d", it.Quantity, it.ProductID)}
		}
		if it.Quantity > MaxQuantity-out[it.ProductID] {
			return nil, &ValidationError{Kind: KindInvalidItem, Message: fmt.Sprintf("quantity for product %d exceeds %d", it.ProductID, MaxQuantity)}
		}
		out[it.ProductID] += it.Quantity
	}
	return out, nil
}

// SortedIDs returns the product ids ascending. Row locks are always taken in
// this order so overlapping orders cannot deadlock each other.
func SortedIDs(want map[int64]int) []int64 {
	ids := make([]int64, 0, len(want))
	for id := range want {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
