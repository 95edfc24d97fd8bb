package orders

import (
	"errors"
	"fmt"
	"strings"
)

type Kind string

const (
	KindEmptyItems          Kind = "EMPTY_ITEMS"
	KindInvalidItem         Kind = "INVALID_ITEM"
	KindProductsUnavailable Kind = "PRODUCTS_UNAVAILABLE"
	KindInsufficientStock   Kind = "INSUFFICIENT_STOCK"
	KindInvalidTransition   Kind = "INVALID_TRANSITION"
	KindInvalidStatus       Kind = "INVALID_STATUS"
	KindOrderLocked         Kind = "ORDER_LOCKED"
)

var (
	ErrNotFound  = errors.New("order not found")
	ErrForbidden = errors.New("operation not allowed for this user")

	// ErrTransient marks failures worth retrying later: lock timeouts,
	// deadlocks and serialization conflicts.
	ErrTransient = errors.New("transient failure, retry later")
)

type StockShortage struct {
	ProductID int64 `json:"product_id"`
	Available int   `json:"available"`
	Requested int   `json:"requested"`
}

// ValidationError is returned for every request the engine refuses.
// Only the fields relevant to Kind are populated.
type ValidationError struct {
	Kind       Kind
	MissingIDs []int64
	Details    []StockShortage
	From       Status
	To         Status
	Message    string
}

func (e *ValidationError) Error() string {
	switch e.Kind {
	case KindEmptyItems:
		return "order must contain at least one item"
	case KindProductsUnavailable:
		return fmt.Sprintf("products not found or inactive: %v", e.MissingIDs)
	case KindInsufficientStock:
		parts := make([]string, 0, len(e.Details))
		for _, d := range e.Details {
			parts = append(parts, fmt.Sprintf("product %d: available %d, requested %d", d.ProductID, d.Available, d.Requested))
		}
		return "insufficient stock: " + strings.Join(parts, "; ")
	case KindInvalidTransition:
		return fmt.Sprintf("cannot change status %s -> %s", e.From, e.To)
	case KindOrderLocked:
		return fmt.Sprintf("order items cannot be changed in status %s", e.From)
	}
	if e.Message != "" {
		return e.Message
	}
	return strings.ToLower(string(e.Kind))
}

func IsKind(err error, k Kind) bool {
	var ve *ValidationError
	return errors.As(err, &ve) && ve.Kind == k
}

type transientError struct{ cause error }

func (e *transientError) Error() string { return "transient: " + e.cause.Error() }
func (e *transientError) Unwrap() []error {
	return []error{ErrTransient, e.cause}
}

// Transient wraps err so errors.Is(err, ErrTransient) holds while keeping the cause.
func Transient(err error) error {
	if err == nil || errors.Is(err, ErrTransient) {
		return err
	}
	return &transientError{cause: err}
}
