package projector

import (
	"context"
	"encoding/json"
	kafkax "github.com/ariefcatur/go-storefront-orders/internal/kafka"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/ariefcatur/go-storefront-orders/internal/redisx"
	kafkago "github.com/segmentio/kafka-go"
	"log/slog"
)

type StatusStore interface {
	Get(ctx context.Context, orderID int64) (redisx.StatusEntry, bool, error)
	Set(ctx context.Context, e redisx.StatusEntry) error
}

type Deduper interface {
	FirstSeen(ctx context.Context, id string) (bool, error)
	Forget(ctx context.Context, id string) error
}

// Service keeps order_status:{id} in Redis in step with the order topics.
type Service struct {
	Cache StatusStore
	Dedup Deduper
	Log   *slog.Logger
}

// HandleOrderEvent is installed as the consumer handler.
func (s *Service) HandleOrderEvent(ctx context.Context, m kafkago.Message) error {
	if t := kafkax.Header(m, kafkax.HeaderEventType); t != "" && !isOrderEvent(t) {
		return nil
	}
	var env orders.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		s.Log.Warn("drop undecodable event", "topic", m.Topic, "offset", m.Offset, "error", err)
		return nil // poison message, committing it is the only way forward
	}
	if !isOrderEvent(env.EventType) {
		return nil
	}

	first, err := s.Dedup.FirstSeen(ctx, env.EventID)
	if err != nil {
		return err
	}
	if !first {
		return nil
	}

	if err := s.apply(ctx, env); err != nil {
		_ = s.Dedup.Forget(ctx, env.EventID)
		return err
	}
	return nil
}

func (s *Service) apply(ctx context.Context, env orders.Envelope) error {
	snap, err := kafkax.UnwrapPayload[orders.OrderSnapshot](env.Payload)
	if err != nil {
		return err
	}
	cur, ok, err := s.Cache.Get(ctx, snap.OrderID)
	if err != nil {
		return err
	}
	if ok && cur.UpdatedAt.After(snap.UpdatedAt) {
		s.Log.Debug("skip stale event", "order_id", snap.OrderID, "event_id", env.EventID)
		return nil
	}
	if err := s.Cache.Set(ctx, redisx.StatusEntry{
		OrderID:    snap.OrderID,
		UserID:     snap.UserID,
		Status:     string(snap.Status),
		TotalPrice: snap.TotalPrice.String(),
		UpdatedAt:  snap.UpdatedAt,
	}); err != nil {
		return err
	}
	s.Log.Info("status projected", "order_id", snap.OrderID, "event_id", env.EventID, "step", env.EventType, "status", snap.Status)
	return nil
}

func isOrderEvent(t string) bool {
	switch t {
	case orders.EventOrderPlaced, orders.EventOrderStatusChanged, orders.EventOrderItemsChanged:
		return true
	}
	return false
}
