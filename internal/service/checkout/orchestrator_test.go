package checkout_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/checkout"
	"github.com/vladislavdragonenkov/storefront/internal/storage/memory"
)

type fixture struct {
	store    *memory.Store
	timeline domain.TimelineRepository
	orch     *checkout.Orchestrator
	cache    *countingInvalidator
}

type countingInvalidator struct {
	mu    sync.Mutex
	users []string
}

func (c *countingInvalidator) Invalidate(_ context.Context, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users = append(c.users, userID)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memory.NewStore()
	store.Seed(
		[]domain.User{{ID: "u-1"}, {ID: "u-2"}},
		[]domain.Product{
			{ID: "p", Name: "Kettle", PriceMinor: 100, Stock: 10},
			{ID: "q", Name: "Lamp", PriceMinor: 250, Stock: 3},
			{ID: "last", Name: "Poster", PriceMinor: 900, Stock: 1},
		},
	)
	timeline := memory.NewTimelineRepository()
	cache := &countingInvalidator{}
	orch := checkout.NewOrchestrator(checkout.Dependencies{
		Catalog:   store.Catalog(),
		Users:     store.Users(),
		Carts:     store.Carts(),
		Store:     store.Checkout(),
		Timeline:  timeline,
		CartCache: cache,
	})
	return &fixture{store: store, timeline: timeline, orch: orch, cache: cache}
}

func (f *fixture) stock(t *testing.T, id string) int32 {
	t.Helper()
	p, err := f.store.Catalog().FindOne(context.Background(), id)
	require.NoError(t, err)
	return p.Stock
}

func TestCreateOrder_SnapshotsPricesAndDecrementsStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, err := f.orch.CreateOrder(ctx, "u-1", []domain.ItemRequest{{ProductID: "p", Quantity: 2}})
	require.NoError(t, err)

	require.Equal(t, domain.OrderStatusPending, order.Status)
	require.Len(t, order.Items, 1)
	require.Equal(t, "p", order.Items[0].ProductID)
	require.Equal(t, int32(2), order.Items[0].Quantity)
	require.Equal(t, int64(100), order.Items[0].UnitPriceMinor)
	require.Equal(t, int64(200), order.TotalMinor)
	require.False(t, order.CreatedAt.IsZero())
	require.Equal(t, int32(8), f.stock(t, "p"))

	events, err := f.timeline.List(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.Equal(t, domain.TimelineOrderCreated, events[0].Type)

	pending := f.store.Outbox().AllPending()
	require.Len(t, pending, 1)
	require.Equal(t, domain.EventOrderCreated, pending[0].EventType)
	require.Equal(t, order.ID, pending[0].AggregateID)
}

func TestCreateOrder_TotalSurvivesPriceChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	order, err := f.orch.CreateOrder(ctx, "u-1", []domain.ItemRequest{{ProductID: "p", Quantity: 3}, {ProductID: "q", Quantity: 1}})
	require.NoError(t, err)
	require.Equal(t, int64(3*100+250), order.TotalMinor)

	f.store.PutProduct(domain.Product{ID: "p", PriceMinor: 999, Stock: 7})

	stored, err := f.store.Orders().Get(ctx, order.ID)
	require.NoError(t, err)
	require.Equal(t, int64(550), stored.TotalMinor)
	total, err := domain.SumItems(stored.Items)
	require.NoError(t, err)
	require.Equal(t, total, stored.TotalMinor)
}

func TestCreateOrder_InsufficientStockLeavesNoTrace(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.orch.CreateOrder(ctx, "u-1", []domain.ItemRequest{{ProductID: "p", Quantity: 2}})
	require.NoError(t, err)
	outboxBefore := len(f.store.Outbox().AllPending())

	_, err = f.orch.CreateOrder(ctx, "u-1", []domain.ItemRequest{{ProductID: "p", Quantity: 20}})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	require.Equal(t, int32(8), f.stock(t, "p"))

	_, err = f.orch.CreateOrder(ctx, "u-1", []domain.ItemRequest{{ProductID: "p", Quantity: 1}, {ProductID: "q", Quantity: 4}})
	require.ErrorIs(t, err, domain.ErrInsufficientStock)
	require.Equal(t, int32(8), f.stock(t, "p"))
	require.Equal(t, int32(3), f.stock(t, "q"))

	orders, err := f.store.Orders().ListByUser(ctx, "u-1", "", 0)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	require.Len(t, f.store.Outbox().AllPending(), outboxBefore)
}

func TestCreateOrder_RejectsOverflowingTotal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.store.PutProduct(domain.Product{ID: "gold", Name: "Gold bar", PriceMinor: math.MaxInt64/2 + 1, Stock: 5})

	_, err := f.orch.CreateOrder(ctx, "u-1", []domain.ItemRequest{{ProductID: "gold", Quantity: 2}})
	require.ErrorIs(t, err, domain.ErrOrderTotalOverflow)
	require.Equal(t, domain.KindInvalidInput, domain.KindOf(err))
	require.Equal(t, int32(5), f.stock(t, "gold"))
	require.Empty(t, f.store.Outbox().AllPending())
}

func TestCreateOrder_RejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		userID string
		items  []domain.ItemRequest
		want   error
	}{
		{name: "empty items", userID: "u-1", items: nil, want: domain.ErrEmptyCart},
		{name: "zero quantity", userID: "u-1", items: []domain.ItemRequest{{ProductID: "p", Quantity: 0}}, want: domain.ErrInvalidQuantity},
		{name: "missing product id", userID: "u-1", items: []domain.ItemRequest{{Quantity: 1}}, want: domain.ErrProductIDRequired},
		{name: "unknown product", userID: "u-1", items: []domain.ItemRequest{{ProductID: "p", Quantity: 1}, {ProductID: "ghost", Quantity: 1}}, want: domain.ErrProductNotFound},
		{name: "unknown user", userID: "nobody", items: []domain.ItemRequest{{ProductID: "p", Quantity: 1}}, want: domain.ErrUserNotFound},
		{name: "blank user", userID: " ", items: []domain.ItemRequest{{ProductID: "p", Quantity: 1}}, want: domain.ErrUserIDRequired},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.orch.CreateOrder(ctx, tc.userID, tc.items)
			require.ErrorIs(t, err, tc.want)
		})
	}
	require.Equal(t, int32(10), f.stock(t, "p"))
}

func TestCreateOrder_MergesDuplicateProducts(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.CreateOrder(context.Background(), "u-1", []domain.ItemRequest{{ProductID: "q", Quantity: 2}, {ProductID: "q", Quantity: 2}})
	require.ErrorIs(t, err, domain.ErrInsufficientStock, "merged quantity 4 exceeds stock 3")

	order, err := f.orch.CreateOrder(context.Background(), "u-1", []domain.ItemRequest{{ProductID: "q", Quantity: 1}, {ProductID: "q", Quantity: 2}})
	require.NoError(t, err)
	require.Len(t, order.Items, 1)
	require.Equal(t, int32(3), order.Items[0].Quantity)
	require.Equal(t, int32(0), f.stock(t, "q"))
}

func TestCreateOrder_ConcurrentRaceForLastUnit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []error
	)
	for _, user := range []string{"u-1", "u-2"} {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			_, err := f.orch.CreateOrder(ctx, user, []domain.ItemRequest{{ProductID: "last", Quantity: 1}})
			mu.Lock()
			results = append(results, err)
			mu.Unlock()
		}(user)
	}
	wg.Wait()

	var ok, rejected int
	for _, err := range results {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrInsufficientStock):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, 1, ok)
	require.Equal(t, 1, rejected)
	require.Equal(t, int32(0), f.stock(t, "last"))
}

func TestCreateOrder_StockNeverNegativeUnderLoad(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 40; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := "u-1"
			if i%2 == 0 {
				user = "u-2"
			}
			_, _ = f.orch.CreateOrder(ctx, user, []domain.ItemRequest{{ProductID: "q", Quantity: 1}, {ProductID: "p", Quantity: 1}})
		}(i)
	}
	wg.Wait()

	require.Equal(t, int32(0), f.stock(t, "q"))
	require.Equal(t, int32(7), f.stock(t, "p"))
}

func TestCheckoutCart_RetiresCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	carts := f.store.Carts()

	_, err := carts.AddItem(ctx, "u-1", "p", 2)
	require.NoError(t, err)
	_, err = carts.AddItem(ctx, "u-1", "q", 1)
	require.NoError(t, err)

	order, err := f.orch.CheckoutCart(ctx, "u-1")
	require.NoError(t, err)
	require.Len(t, order.Items, 2)
	require.Equal(t, int64(450), order.TotalMinor)
	require.Equal(t, int32(8), f.stock(t, "p"))
	require.Equal(t, int32(2), f.stock(t, "q"))
	require.Equal(t, []string{"u-1"}, f.cache.users)

	_, err = carts.GetOpen(ctx, "u-1")
	require.ErrorIs(t, err, domain.ErrCartNotFound)

	_, err = f.orch.CheckoutCart(ctx, "u-1")
	require.ErrorIs(t, err, domain.ErrEmptyCart)
}

func TestCheckoutCart_EmptyCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.orch.CheckoutCart(ctx, "u-1")
	require.ErrorIs(t, err, domain.ErrEmptyCart)

	_, err = f.store.Carts().AddItem(ctx, "u-1", "p", 1)
	require.NoError(t, err)
	_, err = f.store.Carts().RemoveItem(ctx, "u-1", "p")
	require.NoError(t, err)

	_, err = f.orch.CheckoutCart(ctx, "u-1")
	require.ErrorIs(t, err, domain.ErrEmptyCart)
}

func TestCheckoutCart_FailureKeepsCartOpen(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.Carts().AddItem(ctx, "u-1", "q", 3)
	require.NoError(t, err)
	_, err = f.orch.CreateOrder(ctx, "u-2", []domain.ItemRequest{{ProductID: "q", Quantity: 1}})
	require.NoError(t, err)

	_, err = f.orch.CheckoutCart(ctx, "u-1")
	require.ErrorIs(t, err, domain.ErrInsufficientStock)

	cart, err := f.store.Carts().GetOpen(ctx, "u-1")
	require.NoError(t, err)
	require.False(t, cart.CheckedOut)
	require.Empty(t, f.cache.users)
}

// racingCarts возвращает корзину, а затем меняет её, имитируя вторую вкладку браузера.
type racingCarts struct {
	domain.CartRepository
	mutate func()
}

func (r racingCarts) GetOpen(ctx context.Context, userID string) (domain.Cart, error) {
	cart, err := r.CartRepository.GetOpen(ctx, userID)
	r.mutate()
	return cart, err
}

func TestCheckoutCart_ConcurrentCartMutation(t *testing.T) {
	store := memory.NewStore()
	store.Seed([]domain.User{{ID: "u-1"}}, []domain.Product{{ID: "p", PriceMinor: 100, Stock: 10}})
	ctx := context.Background()

	_, err := store.Carts().AddItem(ctx, "u-1", "p", 1)
	require.NoError(t, err)

	orch := checkout.NewOrchestrator(checkout.Dependencies{
		Catalog: store.Catalog(),
		Users:   store.Users(),
		Carts: racingCarts{CartRepository: store.Carts(), mutate: func() {
			_, _ = store.Carts().AddItem(ctx, "u-1", "p", 5)
		}},
		Store: store.Checkout(),
	})

	_, err = orch.CheckoutCart(ctx, "u-1")
	require.ErrorIs(t, err, domain.ErrCartVersionConflict)

	p, err := store.Catalog().FindOne(ctx, "p")
	require.NoError(t, err)
	require.Equal(t, int32(10), p.Stock)
}

type failingStore struct{}

func (failingStore) PlaceOrder(context.Context, domain.PlaceOrderRequest) (domain.Order, error) {
	return domain.Order{}, errors.New("connection reset by peer")
}

func TestCreateOrder_StorageFailureIsInternal(t *testing.T) {
	store := memory.NewStore()
	store.Seed([]domain.User{{ID: "u-1"}}, []domain.Product{{ID: "p", PriceMinor: 100, Stock: 10}})

	orch := checkout.NewOrchestrator(checkout.Dependencies{
		Catalog: store.Catalog(),
		Users:   store.Users(),
		Carts:   store.Carts(),
		Store:   failingStore{},
	})

	_, err := orch.CreateOrder(context.Background(), "u-1", []domain.ItemRequest{{ProductID: "p", Quantity: 1}})
	require.ErrorIs(t, err, domain.ErrInternal)
	require.Equal(t, domain.KindInternal, domain.KindOf(err))
}
