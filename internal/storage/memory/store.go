package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Store - in-memory хранилище каталога, пользователей, корзин, заказов и outbox.
// Все сущности под одним mutex: оформление заказа меняет их согласованно.
type Store struct {
	mu sync.RWMutex

	users    map[string]domain.User
	products map[string]domain.Product
	// carts индексирует все корзины по ID, openCarts - открытую корзину пользователя.
	carts     map[string]*domain.Cart
	openCarts map[string]string
	orders    map[string]domain.Order
	outbox    map[string]*outboxRecord

	now func() time.Time
}

// NewStore создаёт пустое хранилище.
func NewStore() *Store {
	return &Store{
		users:     make(map[string]domain.User),
		products:  make(map[string]domain.Product),
		carts:     make(map[string]*domain.Cart),
		openCarts: make(map[string]string),
		orders:    make(map[string]domain.Order),
		outbox:    make(map[string]*outboxRecord),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// PutUser добавляет или заменяет пользователя.
func (s *Store) PutUser(u domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// PutProduct добавляет или заменяет товар (используется сидером и тестами для смены цены).
func (s *Store) PutProduct(p domain.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.ID] = p
}

// Catalog возвращает ProductCatalog поверх хранилища.
func (s *Store) Catalog() domain.ProductCatalog { return catalogView{s} }

// Users возвращает UserDirectory поверх хранилища.
func (s *Store) Users() domain.UserDirectory { return userView{s} }

// Carts возвращает CartRepository поверх хранилища.
func (s *Store) Carts() domain.CartRepository { return cartView{s} }

// Orders возвращает OrderRepository поверх хранилища.
func (s *Store) Orders() domain.OrderRepository { return orderView{s} }

// Checkout возвращает CheckoutStore поверх хранилища.
func (s *Store) Checkout() domain.CheckoutStore { return checkoutView{s} }

// Outbox возвращает OutboxRepository поверх хранилища.
func (s *Store) Outbox() *OutboxRepository { return &OutboxRepository{s: s} }

type catalogView struct{ s *Store }

func (v catalogView) FindOne(_ context.Context, id string) (domain.Product, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()

	p, ok := v.s.products[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	return p, nil
}

func (v catalogView) FindMany(_ context.Context, ids []string) (map[string]domain.Product, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()

	result := make(map[string]domain.Product, len(ids))
	for _, id := range ids {
		if p, ok := v.s.products[id]; ok {
			result[id] = p
		}
	}
	return result, nil
}

func (v catalogView) DecrementStock(_ context.Context, id string, qty int32) (domain.Product, error) {
	if err := domain.ValidateQuantity(qty); err != nil {
		return domain.Product{}, err
	}

	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	p, ok := v.s.products[id]
	if !ok {
		return domain.Product{}, domain.ErrProductNotFound
	}
	if p.Stock < qty {
		return domain.Product{}, domain.ErrInsufficientStock
	}
	p.Stock -= qty
	v.s.products[id] = p
	return p, nil
}

type userView struct{ s *Store }

func (v userView) FindOne(_ context.Context, id string) (domain.User, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()

	u, ok := v.s.users[id]
	if !ok {
		return domain.User{}, domain.ErrUserNotFound
	}
	return u, nil
}

type cartView struct{ s *Store }

func (v cartView) GetOpen(_ context.Context, userID string) (domain.Cart, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()

	cart, ok := v.s.openCartLocked(userID)
	if !ok {
		return domain.Cart{}, domain.ErrCartNotFound
	}
	return cart.Clone(), nil
}

// AddItem прибавляет qty к позиции под блокировкой хранилища, поэтому параллельные
// добавления одного товара не теряют обновлений.
func (v cartView) AddItem(_ context.Context, userID, productID string, qty int32) (domain.Cart, error) {
	if err := domain.ValidateQuantity(qty); err != nil {
		return domain.Cart{}, err
	}

	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	now := v.s.now()
	cart, ok := v.s.openCartLocked(userID)
	if !ok {
		cart = &domain.Cart{
			ID:        uuid.NewString(),
			UserID:    userID,
			CreatedAt: now,
		}
		v.s.carts[cart.ID] = cart
		v.s.openCarts[userID] = cart.ID
	}

	merged := false
	for i := range cart.Items {
		if cart.Items[i].ProductID != productID {
			continue
		}
		next := cart.Items[i].Quantity + qty
		if err := domain.ValidateQuantity(next); err != nil {
			return domain.Cart{}, err
		}
		cart.Items[i].Quantity = next
		merged = true
		break
	}
	if !merged {
		cart.Items = append(cart.Items, domain.LineItem{ProductID: productID, Quantity: qty, AddedAt: now})
	}
	cart.Version++
	cart.UpdatedAt = now

	return cart.Clone(), nil
}

func (v cartView) RemoveItem(_ context.Context, userID, productID string) (domain.Cart, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	cart, ok := v.s.openCartLocked(userID)
	if !ok {
		return domain.Cart{}, domain.ErrCartNotFound
	}

	idx := -1
	for i, item := range cart.Items {
		if item.ProductID == productID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return domain.Cart{}, domain.ErrProductNotInCart
	}

	cart.Items = append(cart.Items[:idx], cart.Items[idx+1:]...)
	cart.Version++
	cart.UpdatedAt = v.s.now()

	return cart.Clone(), nil
}

func (s *Store) openCartLocked(userID string) (*domain.Cart, bool) {
	id, ok := s.openCarts[userID]
	if !ok {
		return nil, false
	}
	cart, ok := s.carts[id]
	return cart, ok
}

type orderView struct{ s *Store }

func (v orderView) Get(_ context.Context, id string) (domain.Order, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()

	order, ok := v.s.orders[id]
	if !ok {
		return domain.Order{}, domain.ErrOrderNotFound
	}
	return order.Clone(), nil
}

func (v orderView) ListByUser(_ context.Context, userID string, status domain.OrderStatus, limit int) ([]domain.Order, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()

	result := make([]domain.Order, 0)
	for _, order := range v.s.orders {
		if order.UserID != userID {
			continue
		}
		if status != "" && order.Status != status {
			continue
		}
		result = append(result, order.Clone())
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// Save перезаписывает заказ, проверяя версию (optimistic locking).
// UpdatedAt сохраняется как передан; часы хранилища только для нулевого значения.
func (v orderView) Save(_ context.Context, order domain.Order, events ...domain.OutboxMessage) error {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	current, ok := v.s.orders[order.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if current.Version != order.Version {
		return domain.ErrOrderVersionConflict
	}

	order = order.Clone()
	order.Version++
	if order.UpdatedAt.IsZero() {
		order.UpdatedAt = v.s.now()
	}
	v.s.orders[order.ID] = order
	v.s.enqueueLocked(events)
	return nil
}

type checkoutView struct{ s *Store }

// PlaceOrder сначала проверяет всё (версия корзины, наличие и остаток каждого товара),
// и только потом применяет изменения: частичного результата не бывает.
func (v checkoutView) PlaceOrder(_ context.Context, req domain.PlaceOrderRequest) (domain.Order, error) {
	v.s.mu.Lock()
	defer v.s.mu.Unlock()

	order := req.Order.Clone()
	if _, exists := v.s.orders[order.ID]; exists {
		return domain.Order{}, domain.ErrOrderVersionConflict
	}

	var cart *domain.Cart
	if req.CartID != "" {
		c, ok := v.s.carts[req.CartID]
		if !ok || c.CheckedOut {
			return domain.Order{}, domain.ErrCartNotFound
		}
		if c.Version != req.CartVersion {
			return domain.Order{}, domain.ErrCartVersionConflict
		}
		cart = c
	}

	need := make(map[string]int32, len(order.Items))
	for _, item := range order.Items {
		need[item.ProductID] += item.Quantity
	}
	for id, qty := range need {
		p, ok := v.s.products[id]
		if !ok {
			return domain.Order{}, domain.ErrProductNotFound
		}
		if p.Stock < qty {
			return domain.Order{}, domain.ErrInsufficientStock
		}
	}

	for id, qty := range need {
		p := v.s.products[id]
		p.Stock -= qty
		v.s.products[id] = p
	}

	now := v.s.now()
	if cart != nil {
		cart.CheckedOut = true
		cart.Version++
		cart.UpdatedAt = now
		delete(v.s.openCarts, cart.UserID)
	}

	v.s.orders[order.ID] = order
	v.s.enqueueLocked(req.Events)
	return order.Clone(), nil
}

var (
	_ domain.ProductCatalog  = catalogView{}
	_ domain.UserDirectory   = userView{}
	_ domain.CartRepository  = cartView{}
	_ domain.OrderRepository = orderView{}
	_ domain.CheckoutStore   = checkoutView{}
)
