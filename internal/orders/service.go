package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

var ErrItemNotFound = errors.New("order has no line for this product")

// errNoChange lets an item mutation finish without writing or publishing.
var errNoChange = errors.New("items unchanged")

// Recorder receives domain counters. metrics.Metrics implements it.
type Recorder interface {
	OrderPlaced()
	OrderRejected(kind string)
	StatusChanged(from, to string)
}

type Service struct {
	Store     Store
	Publisher Publisher // optional
	Metrics   Recorder  // optional
	Logger    *slog.Logger
	Name      string // producer name stamped on events
}

type traceKey struct{}

// WithTraceID attaches the request id that ends up in event envelopes.
func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceKey{}, id)
}

func traceID(ctx context.Context) string {
	s, _ := ctx.Value(traceKey{}).(string)
	return s
}

// PlaceOrder aggregates items, reserves stock, creates the order with its
// lines and total, all in one transaction.
func (s *Service) PlaceOrder(ctx context.Context, userID int64, items []ItemInput) (Order, error) {
	start := time.Now()
	want, err := Aggregate(items)
	if err != nil {
		s.rejected(err)
		return Order{}, err
	}

	var order Order
	err = s.Store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		rs, err := reserve(ctx, tx, want)
		if err != nil {
			return err
		}
		o, err := tx.InsertOrder(ctx, userID)
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		lines, err := tx.InsertItems(ctx, o.ID, rs)
		if err != nil {
			return fmt.Errorf("insert items: %w", err)
		}
		o.Items = lines
		o.TotalPrice = CalculateTotal(lines)
		if o.UpdatedAt, err = tx.SetTotal(ctx, o.ID, o.TotalPrice); err != nil {
			return fmt.Errorf("set total: %w", err)
		}
		order = o
		return nil
	})
	if err != nil {
		s.rejected(err)
		s.logger().Warn("place order failed", "user_id", userID, "step", "place_order", "error", err)
		return Order{}, err
	}

	if s.Metrics != nil {
		s.Metrics.OrderPlaced()
	}
	s.logger().Info("order placed",
		"order_id", order.ID, "user_id", userID, "step", "place_order", "status", order.Status,
		"total_price", order.TotalPrice.String(), "duration_ms", time.Since(start).Milliseconds())
	s.publish(ctx, TopicOrderPlaced, EventOrderPlaced, order.ID, OrderPlacedPayload{
		OrderSnapshot: snapshotOf(order),
		Items:         linesOf(order),
	})
	return order, nil
}

// UpdateOrderStatus moves the order through the state machine, validating
// against the status re-read under the order row lock.
func (s *Service) UpdateOrderStatus(ctx context.Context, actor Actor, orderID int64, requested Status) (Order, error) {
	if !requested.Valid() {
		return Order{}, &ValidationError{Kind: KindInvalidStatus, Message: "unknown status " + string(requested)}
	}
	if !actor.Admin && requested != StatusCancelled {
		return Order{}, ErrForbidden
	}

	var (
		order Order
		from  Status
	)
	err := s.Store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if !actor.owns(o) {
			return ErrNotFound
		}
		if err := ValidateTransition(o.Status, requested); err != nil {
			return err
		}
		from = o.Status
		if o.UpdatedAt, err = tx.SetStatus(ctx, orderID, requested); err != nil {
			return fmt.Errorf("set status: %w", err)
		}
		o.Status = requested
		order = o
		return nil
	})
	if err != nil {
		s.rejected(err)
		return Order{}, err
	}

	if s.Metrics != nil {
		s.Metrics.StatusChanged(string(from), string(requested))
	}
	s.logger().Info("order status changed", "order_id", orderID, "step", "update_status", "from", from, "status", requested)
	s.publish(ctx, TopicOrderStatusChanged, EventOrderStatusChanged, orderID, OrderStatusChangedPayload{
		OrderSnapshot: snapshotOf(order),
		From:          from,
	})
	return order, nil
}

// AddItem adds quantity of a product to a mutable order. An existing line
// keeps its original price snapshot and only grows.
func (s *Service) AddItem(ctx context.Context, actor Actor, orderID int64, in ItemInput) (Order, error) {
	want, err := Aggregate([]ItemInput{in})
	if err != nil {
		return Order{}, err
	}
	return s.mutateItems(ctx, actor, orderID, func(ctx context.Context, tx Tx, o Order) error {
		cur, exists := o.Item(in.ProductID)
		if exists && in.Quantity > MaxQuantity-cur.Quantity {
			return &ValidationError{Kind: KindInvalidItem, Message: fmt.Sprintf("quantity for product %d exceeds %d", in.ProductID, MaxQuantity)}
		}
		rs, err := reserve(ctx, tx, want)
		if err != nil {
			return err
		}
		if exists {
			return tx.UpdateItemQuantity(ctx, orderID, in.ProductID, cur.Quantity+in.Quantity)
		}
		_, err = tx.InsertItems(ctx, orderID, rs)
		return err
	})
}

// SetItemQuantity reserves or returns the stock difference.
func (s *Service) SetItemQuantity(ctx context.Context, actor Actor, orderID, productID int64, qty int) (Order, error) {
	if qty < 1 || qty > MaxQuantity {
		return Order{}, &ValidationError{Kind: KindInvalidItem, Message: fmt.Sprintf("invalid quantity %d for product %d", qty, productID)}
	}
	return s.mutateItems(ctx, actor, orderID, func(ctx context.Context, tx Tx, o Order) error {
		cur, ok := o.Item(productID)
		if !ok {
			return ErrItemNotFound
		}
		switch delta := qty - cur.Quantity; {
		case delta > 0:
			if _, err := reserve(ctx, tx, map[int64]int{productID: delta}); err != nil {
				return err
			}
		case delta < 0:
			if err := tx.IncrementStock(ctx, productID, -delta); err != nil {
				return err
			}
		default:
			return errNoChange
		}
		return tx.UpdateItemQuantity(ctx, orderID, productID, qty)
	})
}

// RemoveItem drops a line and returns its stock. The last line cannot be
// removed; cancel the order instead.
func (s *Service) RemoveItem(ctx context.Context, actor Actor, orderID, productID int64) (Order, error) {
	return s.mutateItems(ctx, actor, orderID, func(ctx context.Context, tx Tx, o Order) error {
		cur, ok := o.Item(productID)
		if !ok {
			return ErrItemNotFound
		}
		if len(o.Items) == 1 {
			return &ValidationError{Kind: KindEmptyItems}
		}
		if err := tx.DeleteItem(ctx, orderID, productID); err != nil {
			return err
		}
		return tx.IncrementStock(ctx, productID, cur.Quantity)
	})
}

func (s *Service) mutateItems(ctx context.Context, actor Actor, orderID int64, fn func(context.Context, Tx, Order) error) (Order, error) {
	var (
		order     Order
		unchanged bool
	)
	err := s.Store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if !actor.owns(o) {
			return ErrNotFound
		}
		if err := checkMutable(o.Status); err != nil {
			return err
		}
		switch err := fn(ctx, tx, o); {
		case errors.Is(err, errNoChange):
			order, unchanged = o, true
			return nil
		case err != nil:
			return err
		}
		order, err = refreshTotal(ctx, tx, orderID)
		return err
	})
	if err != nil {
		s.rejected(err)
		return Order{}, err
	}
	if unchanged {
		return order, nil
	}
	s.logger().Info("order items changed", "order_id", orderID, "step", "mutate_items", "total_price", order.TotalPrice.String())
	s.publish(ctx, TopicOrderItemsChanged, EventOrderItemsChanged, orderID, OrderItemsChangedPayload{
		OrderSnapshot: snapshotOf(order),
		Items:         linesOf(order),
	})
	return order, nil
}

// refreshTotal re-reads the item set and persists the recomputed total.
func refreshTotal(ctx context.Context, tx Tx, orderID int64) (Order, error) {
	o, err := tx.LockOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	o.TotalPrice = CalculateTotal(o.Items)
	if o.UpdatedAt, err = tx.SetTotal(ctx, orderID, o.TotalPrice); err != nil {
		return Order{}, fmt.Errorf("set total: %w", err)
	}
	return o, nil
}

func (s *Service) GetOrder(ctx context.Context, actor Actor, orderID int64) (Order, error) {
	o, err := s.Store.GetOrder(ctx, orderID)
	if err != nil {
		return Order{}, err
	}
	if !actor.owns(o) {
		return Order{}, ErrNotFound
	}
	return o, nil
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

func (s *Service) ListOrders(ctx context.Context, actor Actor, limit, offset int) ([]Order, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	userID := actor.UserID
	if actor.Admin {
		userID = 0
	}
	return s.Store.ListOrders(ctx, userID, limit, offset)
}

func (s *Service) rejected(err error) {
	if s.Metrics == nil {
		return
	}
	var ve *ValidationError
	switch {
	case errors.As(err, &ve):
		s.Metrics.OrderRejected(string(ve.Kind))
	case errors.Is(err, ErrTransient):
		s.Metrics.OrderRejected("TRANSIENT")
	}
}

func (s *Service) publish(ctx context.Context, topic, eventType string, orderID int64, payload any) {
	if s.Publisher == nil {
		return
	}
	env, err := newEnvelope(s.Name, eventType, traceID(ctx), orderID, payload)
	if err != nil {
		s.logger().Error("build event", "order_id", orderID, "event_type", eventType, "error", err)
		return
	}
	b, err := json.Marshal(env)
	if err != nil {
		s.logger().Error("marshal event", "order_id", orderID, "event_type", eventType, "error", err)
		return
	}
	if err := s.Publisher.PublishEvent(ctx, topic, OrderKey(orderID), eventType, b); err != nil {
		s.logger().Warn("publish event", "order_id", orderID, "event_type", eventType, "error", err)
	}
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}
