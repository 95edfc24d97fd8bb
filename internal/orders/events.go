package orders

import (
	"context"
	"encoding/json"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"time"
)

const (
	EventOrderPlaced        = "OrderPlaced"
	EventOrderStatusChanged = "OrderStatusChanged"
	EventOrderItemsChanged  = "OrderItemsChanged"
)

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order id
	Payload       json.RawMessage `json:"payload"`
}

// Publisher ships committed order events. Implementations must not block on
// the broker; delivery is at-least-once and best effort.
type Publisher interface {
	PublishEvent(ctx context.Context, topic, key, eventType string, value []byte) error
}

type ItemLine struct {
	ProductID       int64           `json:"product_id"`
	Quantity        int             `json:"quantity"`
	PriceAtPurchase decimal.Decimal `json:"price_at_purchase"`
}

// OrderSnapshot is the common part of every order payload; the projector
// only needs this much.
type OrderSnapshot struct {
	OrderID    int64           `json:"order_id"`
	UserID     int64           `json:"user_id"`
	Status     Status          `json:"status"`
	TotalPrice decimal.Decimal `json:"total_price"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

type OrderPlacedPayload struct {
	OrderSnapshot
	Items []ItemLine `json:"items"`
}

type OrderStatusChangedPayload struct {
	OrderSnapshot
	From Status `json:"from"`
}

type OrderItemsChangedPayload struct {
	OrderSnapshot
	Items []ItemLine `json:"items"`
}

func snapshotOf(o Order) OrderSnapshot {
	return OrderSnapshot{OrderID: o.ID, UserID: o.UserID, Status: o.Status, TotalPrice: o.TotalPrice, UpdatedAt: o.UpdatedAt}
}

func linesOf(o Order) []ItemLine {
	out := make([]ItemLine, 0, len(o.Items))
	for _, it := range o.Items {
		out = append(out, ItemLine{ProductID: it.ProductID, Quantity: it.Quantity, PriceAtPurchase: it.PriceAtPurchase})
	}
	return out
}

func newEnvelope(producer, eventType, traceID string, orderID int64, payload any) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		TraceID:       traceID,
		CorrelationID: OrderKey(orderID),
		Payload:       b,
	}, nil
}
