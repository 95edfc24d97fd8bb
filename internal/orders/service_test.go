package orders_test

import (
	"context"
	"encoding/json"
	"errors"
	"github.com/ariefcatur/go-storefront-orders/internal/catalog"
	"github.com/ariefcatur/go-storefront-orders/internal/memstore"
	"github.com/ariefcatur/go-storefront-orders/internal/orders"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"math"
	"sync"
	"testing"
	"time"
)

type sentEvent struct {
	Topic, Key, Type string
	Env              orders.Envelope
}

type fakePublisher struct {
	mu   sync.Mutex
	sent []sentEvent
}

func (p *fakePublisher) PublishEvent(_ context.Context, topic, key, eventType string, value []byte) error {
	var env orders.Envelope
	if err := json.Unmarshal(value, &env); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent = append(p.sent, sentEvent{Topic: topic, Key: key, Type: eventType, Env: env})
	return nil
}

func (p *fakePublisher) events() []sentEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]sentEvent(nil), p.sent...)
}

type fakeRecorder struct {
	mu          sync.Mutex
	placed      int
	rejected    map[string]int
	transitions []string
}

func (r *fakeRecorder) OrderPlaced() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.placed++
}

func (r *fakeRecorder) OrderRejected(kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rejected == nil {
		r.rejected = map[string]int{}
	}
	r.rejected[kind]++
}

func (r *fakeRecorder) StatusChanged(from, to string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, from+"->"+to)
}

type fixture struct {
	store *memstore.Store
	svc   *orders.Service
	pub   *fakePublisher
	rec   *fakeRecorder
	a, b  catalog.Product
}

var (
	alice = orders.Actor{UserID: 1}
	bob   = orders.Actor{UserID: 2}
	admin = orders.Actor{UserID: 99, Admin: true}
)

// newFixture seeds product A (500.00, stock 10) and B (20.00, stock 50).
func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memstore.New()
	cat, err := st.AddCategory("Electronics")
	require.NoError(t, err)
	a, err := st.AddProduct(catalog.Product{CategoryID: cat.ID, Name: "A", Price: decimal.RequireFromString("500.00"), Stock: 10, IsActive: true})
	require.NoError(t, err)
	b, err := st.AddProduct(catalog.Product{CategoryID: cat.ID, Name: "B", Price: decimal.RequireFromString("20.00"), Stock: 50, IsActive: true})
	require.NoError(t, err)

	f := &fixture{store: st, pub: &fakePublisher{}, rec: &fakeRecorder{}, a: a, b: b}
	f.svc = &orders.Service{Store: st, Publisher: f.pub, Metrics: f.rec, Name: "order-api-test"}
	return f
}

func (f *fixture) stock(t *testing.T, id int64) int {
	t.Helper()
	p, ok := f.store.Product(id)
	require.True(t, ok)
	return p.Stock
}

func (f *fixture) place(t *testing.T, user int64, items ...orders.ItemInput) orders.Order {
	t.Helper()
	o, err := f.svc.PlaceOrder(context.Background(), user, items)
	require.NoError(t, err)
	return o
}

func TestPlaceOrder_MergesLinesAndSnapshotsPrices(t *testing.T) {
	f := newFixture(t)

	o := f.place(t, alice.UserID,
		orders.ItemInput{ProductID: f.a.ID, Quantity: 2},
		orders.ItemInput{ProductID: f.b.ID, Quantity: 1},
		orders.ItemInput{ProductID: f.a.ID, Quantity: 1},
	)

	assert.Equal(t, orders.StatusPending, o.Status)
	assert.Equal(t, alice.UserID, o.UserID)
	assert.True(t, o.TotalPrice.Equal(decimal.NewFromInt(1520)), "total %s", o.TotalPrice)
	require.Len(t, o.Items, 2)

	lineA, ok := o.Item(f.a.ID)
	require.True(t, ok)
	assert.Equal(t, 3, lineA.Quantity)
	assert.True(t, lineA.PriceAtPurchase.Equal(decimal.NewFromInt(500)))
	lineB, _ := o.Item(f.b.ID)
	assert.Equal(t, 1, lineB.Quantity)

	assert.Equal(t, 7, f.stock(t, f.a.ID))
	assert.Equal(t, 49, f.stock(t, f.b.ID))

	stored, err := f.svc.GetOrder(context.Background(), alice, o.ID)
	require.NoError(t, err)
	assert.True(t, stored.TotalPrice.Equal(orders.CalculateTotal(stored.Items)))

	evs := f.pub.events()
	require.Len(t, evs, 1)
	assert.Equal(t, orders.TopicOrderPlaced, evs[0].Topic)
	assert.Equal(t, orders.OrderKey(o.ID), evs[0].Key)
	assert.Equal(t, orders.EventOrderPlaced, evs[0].Env.EventType)
	assert.NotEmpty(t, evs[0].Env.EventID)

	var payload orders.OrderPlacedPayload
	require.NoError(t, json.Unmarshal(evs[0].Env.Payload, &payload))
	assert.Equal(t, o.ID, payload.OrderID)
	assert.Len(t, payload.Items, 2)
	assert.Equal(t, 1, f.rec.placed)
}

func TestPlaceOrder_EmptyItems(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.PlaceOrder(context.Background(), alice.UserID, nil)
	assert.True(t, orders.IsKind(err, orders.KindEmptyItems))
	assert.Empty(t, f.pub.events())
}

func TestPlaceOrder_InsufficientStockLeavesNothingBehind(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.UpdateProduct(catalog.Product{ID: f.a.ID, Price: f.a.Price, Stock: 5, IsActive: true}))

	_, err := f.svc.PlaceOrder(context.Background(), alice.UserID, []orders.ItemInput{
		{ProductID: f.b.ID, Quantity: 1},
		{ProductID: f.a.ID, Quantity: 6},
	})

	var ve *orders.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, orders.KindInsufficientStock, ve.Kind)
	assert.Equal(t, []orders.StockShortage{{ProductID: f.a.ID, Available: 5, Requested: 6}}, ve.Details)

	assert.Equal(t, 5, f.stock(t, f.a.ID))
	assert.Equal(t, 50, f.stock(t, f.b.ID))
	list, err := f.svc.ListOrders(context.Background(), admin, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Equal(t, 1, f.rec.rejected[string(orders.KindInsufficientStock)])
}

func TestPlaceOrder_UnavailableProductsAllReported(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.UpdateProduct(catalog.Product{ID: f.b.ID, Price: f.b.Price, Stock: 50, IsActive: false}))

	_, err := f.svc.PlaceOrder(context.Background(), alice.UserID, []orders.ItemInput{
		{ProductID: 404, Quantity: 1},
		{ProductID: f.b.ID, Quantity: 1},
		{ProductID: f.a.ID, Quantity: 1},
	})

	var ve *orders.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, orders.KindProductsUnavailable, ve.Kind)
	assert.Equal(t, []int64{f.b.ID, 404}, ve.MissingIDs)
	assert.Equal(t, 10, f.stock(t, f.a.ID))
}

func TestPlaceOrder_HugeQuantitiesRejectedWithoutTouchingStock(t *testing.T) {
	f := newFixture(t)
	free, err := f.store.AddProduct(catalog.Product{Name: "Sticker", Price: decimal.Zero, Stock: 10, IsActive: true})
	require.NoError(t, err)

	for _, id := range []int64{free.ID, f.a.ID} {
		_, err := f.svc.PlaceOrder(context.Background(), alice.UserID, []orders.ItemInput{
			{ProductID: id, Quantity: math.MaxInt64},
			{ProductID: id, Quantity: 1},
		})
		assert.True(t, orders.IsKind(err, orders.KindInvalidItem), "product %d: %v", id, err)
	}

	assert.Equal(t, 10, f.stock(t, free.ID))
	assert.Equal(t, 10, f.stock(t, f.a.ID))
	list, err := f.svc.ListOrders(context.Background(), admin, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestPlaceOrder_ConcurrentBuyersNeverOversell(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t)
	require.NoError(t, f.store.UpdateProduct(catalog.Product{ID: f.a.ID, Price: f.a.Price, Stock: 5, IsActive: true}))

	const buyers = 20
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		ok, shrt int
	)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func(user int64) {
			defer wg.Done()
			_, err := f.svc.PlaceOrder(context.Background(), user, []orders.ItemInput{{ProductID: f.a.ID, Quantity: 1}})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case orders.IsKind(err, orders.KindInsufficientStock):
				shrt++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(int64(i + 1))
	}
	wg.Wait()

	assert.Equal(t, 5, ok)
	assert.Equal(t, buyers-5, shrt)
	assert.Equal(t, 0, f.stock(t, f.a.ID))
}

func TestPlaceOrder_LastUnitGoesToExactlyOneBuyer(t *testing.T) {
	defer goleak.VerifyNone(t)
	f := newFixture(t)
	require.NoError(t, f.store.UpdateProduct(catalog.Product{ID: f.a.ID, Price: f.a.Price, Stock: 1, IsActive: true}))

	errs := make(chan error, 2)
	for _, u := range []int64{1, 2} {
		go func(u int64) {
			_, err := f.svc.PlaceOrder(context.Background(), u, []orders.ItemInput{{ProductID: f.a.ID, Quantity: 1}})
			errs <- err
		}(u)
	}
	e1, e2 := <-errs, <-errs

	assert.True(t, (e1 == nil) != (e2 == nil), "exactly one must win: %v / %v", e1, e2)
	assert.Equal(t, 0, f.stock(t, f.a.ID))
}

func TestPlaceOrder_LockTimeoutIsTransient(t *testing.T) {
	for _, tc := range []struct {
		name   string
		policy orders.LockPolicy
	}{
		{"wait with timeout", orders.LockWait},
		{"nowait", orders.LockNoWait},
	} {
		t.Run(tc.name, func(t *testing.T) {
			defer goleak.VerifyNone(t)
			f := newFixture(t)
			f.store.LockPolicy = tc.policy
			f.store.LockTimeout = 20 * time.Millisecond

			held, release := make(chan struct{}), make(chan struct{})
			done := make(chan error, 1)
			go func() {
				done <- f.store.InTx(context.Background(), func(context.Context, orders.Tx) error {
					close(held)
					<-release
					return nil
				})
			}()
			<-held

			_, err := f.svc.PlaceOrder(context.Background(), alice.UserID, []orders.ItemInput{{ProductID: f.a.ID, Quantity: 1}})
			assert.ErrorIs(t, err, orders.ErrTransient)
			assert.Equal(t, 10, f.stock(t, f.a.ID))

			close(release)
			require.NoError(t, <-done)
			assert.Equal(t, 1, f.rec.rejected["TRANSIENT"])
		})
	}
}

func TestUpdateOrderStatus_Lifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.place(t, alice.UserID, orders.ItemInput{ProductID: f.a.ID, Quantity: 1})

	_, err := f.svc.UpdateOrderStatus(ctx, admin, o.ID, orders.StatusShipped)
	var ve *orders.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, orders.KindInvalidTransition, ve.Kind)
	assert.Equal(t, orders.StatusPending, ve.From)
	assert.Equal(t, orders.StatusShipped, ve.To)

	for _, next := range []orders.Status{orders.StatusProcessing, orders.StatusShipped, orders.StatusDelivered} {
		got, err := f.svc.UpdateOrderStatus(ctx, admin, o.ID, next)
		require.NoError(t, err, "-> %s", next)
		assert.Equal(t, next, got.Status)
	}

	_, err = f.svc.UpdateOrderStatus(ctx, admin, o.ID, orders.StatusCancelled)
	assert.True(t, orders.IsKind(err, orders.KindInvalidTransition))

	_, err = f.svc.AddItem(ctx, alice, o.ID, orders.ItemInput{ProductID: f.b.ID, Quantity: 1})
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, orders.KindOrderLocked, ve.Kind)
	assert.Equal(t, orders.StatusDelivered, ve.From)

	assert.Equal(t, []string{"pending->processing", "processing->shipped", "shipped->delivered"}, f.rec.transitions)

	var statusEvents int
	for _, ev := range f.pub.events() {
		if ev.Type == orders.EventOrderStatusChanged {
			statusEvents++
		}
	}
	assert.Equal(t, 3, statusEvents)
}

func TestUpdateOrderStatus_CustomerMayOnlyCancelOwnOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.place(t, alice.UserID, orders.ItemInput{ProductID: f.a.ID, Quantity: 2})

	_, err := f.svc.UpdateOrderStatus(ctx, alice, o.ID, orders.StatusProcessing)
	assert.ErrorIs(t, err, orders.ErrForbidden)

	_, err = f.svc.UpdateOrderStatus(ctx, bob, o.ID, orders.StatusCancelled)
	assert.ErrorIs(t, err, orders.ErrNotFound)

	got, err := f.svc.UpdateOrderStatus(ctx, alice, o.ID, orders.StatusCancelled)
	require.NoError(t, err)
	assert.Equal(t, orders.StatusCancelled, got.Status)
	// cancellation does not restock
	assert.Equal(t, 8, f.stock(t, f.a.ID))

	_, err = f.svc.UpdateOrderStatus(ctx, admin, o.ID, orders.Status("lost"))
	assert.True(t, orders.IsKind(err, orders.KindInvalidStatus))
}

func TestUpdateOrderStatus_UnknownOrder(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.UpdateOrderStatus(context.Background(), admin, 12345, orders.StatusProcessing)
	assert.ErrorIs(t, err, orders.ErrNotFound)
}

func TestAddItem_GrowsLineAndKeepsOriginalPrice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.place(t, alice.UserID, orders.ItemInput{ProductID: f.a.ID, Quantity: 1})

	require.NoError(t, f.store.UpdateProduct(catalog.Product{ID: f.a.ID, Price: decimal.RequireFromString("650.00"), Stock: 9, IsActive: true}))

	got, err := f.svc.AddItem(ctx, alice, o.ID, orders.ItemInput{ProductID: f.a.ID, Quantity: 2})
	require.NoError(t, err)
	line, _ := got.Item(f.a.ID)
	assert.Equal(t, 3, line.Quantity)
	assert.True(t, line.PriceAtPurchase.Equal(decimal.NewFromInt(500)), "price snapshot kept, got %s", line.PriceAtPurchase)
	assert.True(t, got.TotalPrice.Equal(decimal.NewFromInt(1500)))
	assert.Equal(t, 7, f.stock(t, f.a.ID))

	got, err = f.svc.AddItem(ctx, alice, o.ID, orders.ItemInput{ProductID: f.b.ID, Quantity: 2})
	require.NoError(t, err)
	assert.Len(t, got.Items, 2)
	assert.True(t, got.TotalPrice.Equal(decimal.NewFromInt(1540)))
	assert.Equal(t, 48, f.stock(t, f.b.ID))

	_, err = f.svc.AddItem(ctx, alice, o.ID, orders.ItemInput{ProductID: f.b.ID, Quantity: 100})
	assert.True(t, orders.IsKind(err, orders.KindInsufficientStock))
	assert.Equal(t, 48, f.stock(t, f.b.ID))

	_, err = f.svc.AddItem(ctx, bob, o.ID, orders.ItemInput{ProductID: f.b.ID, Quantity: 1})
	assert.ErrorIs(t, err, orders.ErrNotFound)

	_, err = f.svc.AddItem(ctx, alice, o.ID, orders.ItemInput{ProductID: f.a.ID, Quantity: orders.MaxQuantity})
	assert.True(t, orders.IsKind(err, orders.KindInvalidItem), "line would exceed the column range: %v", err)
	assert.Equal(t, 7, f.stock(t, f.a.ID))
}

func TestSetItemQuantity_ReservesAndReturnsDelta(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.place(t, alice.UserID, orders.ItemInput{ProductID: f.a.ID, Quantity: 2}, orders.ItemInput{ProductID: f.b.ID, Quantity: 1})
	require.Equal(t, 8, f.stock(t, f.a.ID))

	got, err := f.svc.SetItemQuantity(ctx, alice, o.ID, f.a.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, 5, f.stock(t, f.a.ID))
	assert.True(t, got.TotalPrice.Equal(decimal.NewFromInt(2520)))

	got, err = f.svc.SetItemQuantity(ctx, alice, o.ID, f.a.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, 9, f.stock(t, f.a.ID))
	assert.True(t, got.TotalPrice.Equal(decimal.NewFromInt(520)))

	_, err = f.svc.SetItemQuantity(ctx, alice, o.ID, f.a.ID, 0)
	assert.True(t, orders.IsKind(err, orders.KindInvalidItem))

	_, err = f.svc.SetItemQuantity(ctx, alice, o.ID, 404, 1)
	assert.ErrorIs(t, err, orders.ErrItemNotFound)

	_, err = f.svc.SetItemQuantity(ctx, alice, o.ID, f.a.ID, 50)
	assert.True(t, orders.IsKind(err, orders.KindInsufficientStock))
	assert.Equal(t, 9, f.stock(t, f.a.ID))

	_, err = f.svc.SetItemQuantity(ctx, alice, o.ID, f.a.ID, math.MaxInt64)
	assert.True(t, orders.IsKind(err, orders.KindInvalidItem))
	assert.Equal(t, 9, f.stock(t, f.a.ID))
}

func TestSetItemQuantity_SameQuantityWritesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.place(t, alice.UserID, orders.ItemInput{ProductID: f.a.ID, Quantity: 2})
	before, err := f.svc.GetOrder(ctx, alice, o.ID)
	require.NoError(t, err)
	events := len(f.pub.events())

	got, err := f.svc.SetItemQuantity(ctx, alice, o.ID, f.a.ID, 2)
	require.NoError(t, err)
	assert.True(t, got.TotalPrice.Equal(decimal.NewFromInt(1000)))

	after, err := f.svc.GetOrder(ctx, alice, o.ID)
	require.NoError(t, err)
	assert.True(t, before.UpdatedAt.Equal(after.UpdatedAt), "updated_at must not move")
	assert.Len(t, f.pub.events(), events, "no OrderItemsChanged for a no-op")
	assert.Equal(t, 8, f.stock(t, f.a.ID))
}

func TestRemoveItem(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.place(t, alice.UserID, orders.ItemInput{ProductID: f.a.ID, Quantity: 2}, orders.ItemInput{ProductID: f.b.ID, Quantity: 3})

	got, err := f.svc.RemoveItem(ctx, alice, o.ID, f.b.ID)
	require.NoError(t, err)
	assert.Len(t, got.Items, 1)
	assert.True(t, got.TotalPrice.Equal(decimal.NewFromInt(1000)))
	assert.Equal(t, 50, f.stock(t, f.b.ID))

	_, err = f.svc.RemoveItem(ctx, alice, o.ID, f.a.ID)
	assert.True(t, orders.IsKind(err, orders.KindEmptyItems))
	assert.Equal(t, 8, f.stock(t, f.a.ID))

	_, err = f.svc.RemoveItem(ctx, alice, o.ID, f.b.ID)
	assert.ErrorIs(t, err, orders.ErrItemNotFound)
}

func TestItemMutations_ProcessingAllowedShippedLocked(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.place(t, alice.UserID, orders.ItemInput{ProductID: f.a.ID, Quantity: 1})

	_, err := f.svc.UpdateOrderStatus(ctx, admin, o.ID, orders.StatusProcessing)
	require.NoError(t, err)
	_, err = f.svc.AddItem(ctx, alice, o.ID, orders.ItemInput{ProductID: f.b.ID, Quantity: 1})
	require.NoError(t, err)

	_, err = f.svc.UpdateOrderStatus(ctx, admin, o.ID, orders.StatusShipped)
	require.NoError(t, err)
	_, err = f.svc.SetItemQuantity(ctx, alice, o.ID, f.b.ID, 2)
	assert.True(t, orders.IsKind(err, orders.KindOrderLocked))
	_, err = f.svc.RemoveItem(ctx, alice, o.ID, f.b.ID)
	assert.True(t, orders.IsKind(err, orders.KindOrderLocked))
	assert.Equal(t, 49, f.stock(t, f.b.ID))
}

func TestGetAndListOrders_Ownership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	oa := f.place(t, alice.UserID, orders.ItemInput{ProductID: f.a.ID, Quantity: 1})
	ob := f.place(t, bob.UserID, orders.ItemInput{ProductID: f.b.ID, Quantity: 1})

	_, err := f.svc.GetOrder(ctx, bob, oa.ID)
	assert.ErrorIs(t, err, orders.ErrNotFound)

	got, err := f.svc.GetOrder(ctx, admin, oa.ID)
	require.NoError(t, err)
	assert.Equal(t, "A", got.Items[0].ProductName)

	mine, err := f.svc.ListOrders(ctx, bob, 0, 0)
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, ob.ID, mine[0].ID)

	all, err := f.svc.ListOrders(ctx, admin, 1000, -3)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}
