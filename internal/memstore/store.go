// Package memstore is an in-process implementation of orders.Store and
// catalog.Reader. Transactions are serialized by a single writer slot and
// work on a private copy that is swapped in on commit, so readers never see
// a half-applied transaction.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"github.com/ariefcatur/go-storefront-orders/internal/catalog"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"sort"
	"sync"
	"time"
)

var errBusy = errors.New("memstore: writer slot busy")

type state struct {
	categories map[int64]catalog.Category
	products   map[int64]catalog.Product
	orders     map[int64]orders.Order
	nextCat    int64
	nextProd   int64
	nextOrder  int64
	nextItem   int64
}

func (s *state) clone() *state {
	c := &state{
		categories: make(map[int64]catalog.Category, len(s.categories)),
		products:   make(map[int64]catalog.Product, len(s.products)),
		orders:     make(map[int64]orders.Order, len(s.orders)),
		nextCat:    s.nextCat,
		nextProd:   s.nextProd,
		nextOrder:  s.nextOrder,
		nextItem:   s.nextItem,
	}
	for k, v := range s.categories {
		c.categories[k] = v
	}
	for k, v := range s.products {
		c.products[k] = v
	}
	for k, v := range s.orders {
		c.orders[k] = copyOrder(v)
	}
	return c
}

func copyOrder(o orders.Order) orders.Order {
	o.Items = append([]orders.OrderItem(nil), o.Items...)
	return o
}

type Store struct {
	LockPolicy  orders.LockPolicy
	LockTimeout time.Duration

	writer chan struct{}
	mu     sync.RWMutex
	st     *state
	now    func() time.Time
}

func New() *Store {
	return &Store{
		LockPolicy: orders.LockWait,
		writer:     make(chan struct{}, 1),
		st: &state{
			categories: map[int64]catalog.Category{},
			products:   map[int64]catalog.Product{},
			orders:     map[int64]orders.Order{},
		},
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) acquire(ctx context.Context) error {
	if s.LockPolicy == orders.LockNoWait {
		select {
		case s.writer <- struct{}{}:
			return nil
		default:
			return orders.Transient(errBusy)
		}
	}
	if s.LockTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.LockTimeout)
		defer cancel()
	}
	select {
	case s.writer <- struct{}{}:
		return nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return orders.Transient(fmt.Errorf("memstore: waiting for lock: %w", ctx.Err()))
		}
		return ctx.Err()
	}
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx orders.Tx) error) error {
	if err := s.acquire(ctx); err != nil {
		return err
	}
	defer func() { <-s.writer }()

	s.mu.RLock()
	work := s.st.clone()
	s.mu.RUnlock()

	if err := fn(ctx, &memTx{st: work, now: s.now}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.st = work
	s.mu.Unlock()
	return nil
}

// lockWrite takes the writer slot and the data lock for direct edits
// outside InTx, such as seeding the catalog.
func (s *Store) lockWrite() {
	s.writer <- struct{}{}
	s.mu.Lock()
}

func (s *Store) unlockWrite() {
	s.mu.Unlock()
	<-s.writer
}

func (s *Store) GetOrder(_ context.Context, id int64) (orders.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.st.orders[id]
	if !ok {
		return orders.Order{}, orders.ErrNotFound
	}
	return s.withNames(copyOrder(o)), nil
}

func (s *Store) ListOrders(_ context.Context, userID int64, limit, offset int) ([]orders.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []orders.Order{}
	for _, o := range s.st.orders {
		if userID == 0 || o.UserID == userID {
			out = append(out, s.withNames(copyOrder(o)))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if offset >= len(out) {
		return []orders.Order{}, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// withNames fills product names the way the SQL join does. Caller holds mu.
func (s *Store) withNames(o orders.Order) orders.Order {
	for i := range o.Items {
		o.Items[i].ProductName = s.st.products[o.Items[i].ProductID].Name
	}
	return o
}
