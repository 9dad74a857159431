// Package cart управляет единственной открытой корзиной пользователя.
package cart

import (
	"context"
	"errors"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/metrics"
	"github.com/vladislavdragonenkov/storefront/internal/service/resolve"
)

const cacheOpTimeout = 500 * time.Millisecond

var (
	// ErrCacheMiss возвращается Cache, если корзины нет в кэше.
	ErrCacheMiss = errors.New("cart cache miss")
	// ErrCacheStale возвращается Set, если после Fence корзину успели инвалидировать.
	ErrCacheStale = errors.New("cart cache fill is stale")
)

// Cache - кэш сырых корзин (без данных каталога). Ошибки кэша не ломают запросы.
//
// Заполнение идёт в три шага: Fence, чтение из репозитория, Set с полученным fence.
// Delete сдвигает поколение, и Set по старому fence не записывается.
type Cache interface {
	Get(ctx context.Context, userID string) (domain.Cart, error)
	Fence(ctx context.Context, userID string) (int64, error)
	Set(ctx context.Context, cart domain.Cart, fence int64) error
	Delete(ctx context.Context, userID string) error
}

// Line - позиция корзины для отображения.
type Line struct {
	Product  domain.ProductRef
	Quantity int32
	AddedAt  time.Time
}

// View - корзина с позициями, разрешёнными по текущему каталогу.
type View struct {
	ID         string
	UserID     string
	Items      []Line
	CheckedOut bool
	Version    int64
	UpdatedAt  time.Time
}

// Option настраивает Service.
type Option func(*Service)

// WithCache подключает кэш корзин.
func WithCache(cache Cache) Option {
	return func(s *Service) { s.cache = cache }
}

// WithLogger задаёт logger сервиса.
func WithLogger(logger *log.Entry) Option {
	return func(s *Service) { s.logger = logger }
}

// WithMetrics подключает метрики.
func WithMetrics(m *metrics.StoreMetrics) Option {
	return func(s *Service) { s.metrics = m }
}

// Service реализует операции корзины поверх CartRepository.
type Service struct {
	carts    domain.CartRepository
	catalog  domain.ProductCatalog
	users    domain.UserDirectory
	resolver *resolve.Resolver
	cache    Cache
	logger   *log.Entry
	metrics  *metrics.StoreMetrics

	// loads схлопывает параллельные промахи кэша по одному пользователю.
	loads singleflight.Group
}

// NewService создаёт сервис корзины.
func NewService(carts domain.CartRepository, catalog domain.ProductCatalog, users domain.UserDirectory, opts ...Option) *Service {
	s := &Service{
		carts:    carts,
		catalog:  catalog,
		users:    users,
		resolver: resolve.New(catalog),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = log.WithField("component", "cart-service")
	}
	return s
}

// AddItem добавляет товар в открытую корзину, создавая её при необходимости.
// Повторное добавление увеличивает количество на quantity.
func (s *Service) AddItem(ctx context.Context, userID, productID string, quantity int32) (View, error) {
	userID, productID = strings.TrimSpace(userID), strings.TrimSpace(productID)
	if err := (domain.ItemRequest{ProductID: productID, Quantity: quantity}).Validate(); err != nil {
		return View{}, err
	}
	if err := s.ensureUser(ctx, userID); err != nil {
		return View{}, err
	}
	if _, err := s.catalog.FindOne(ctx, productID); err != nil {
		return View{}, domain.Internal("find product", err)
	}

	cart, err := s.carts.AddItem(ctx, userID, productID, quantity)
	s.metrics.RecordCartMutation("add", err)
	if err != nil {
		s.logger.WithError(err).WithFields(log.Fields{"user_id": userID, "product_id": productID}).Warn("add item failed")
		return View{}, domain.Internal("add cart item", err)
	}
	s.Invalidate(ctx, userID)

	return s.view(ctx, cart)
}

// RemoveItem удаляет позицию. Пустая корзина после удаления допустима.
func (s *Service) RemoveItem(ctx context.Context, userID, productID string) (View, error) {
	userID, productID = strings.TrimSpace(userID), strings.TrimSpace(productID)
	if productID == "" {
		return View{}, domain.ErrProductIDRequired
	}
	if err := s.ensureUser(ctx, userID); err != nil {
		return View{}, err
	}

	cart, err := s.carts.RemoveItem(ctx, userID, productID)
	s.metrics.RecordCartMutation("remove", err)
	if err != nil {
		return View{}, domain.Internal("remove cart item", err)
	}
	s.Invalidate(ctx, userID)

	return s.view(ctx, cart)
}

// GetOpenCart возвращает открытую непустую корзину; пустая считается отсутствующей.
func (s *Service) GetOpenCart(ctx context.Context, userID string) (View, error) {
	userID = strings.TrimSpace(userID)
	if err := s.ensureUser(ctx, userID); err != nil {
		return View{}, err
	}

	cart, err := s.loadOpen(ctx, userID)
	if err != nil {
		return View{}, err
	}
	if cart.IsEmpty() {
		return View{}, domain.ErrCartNotFound
	}
	return s.view(ctx, cart)
}

// Invalidate сбрасывает кэш корзины пользователя.
func (s *Service) Invalidate(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheOpTimeout)
	defer cancel()

	if err := s.cache.Delete(ctx, userID); err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Warn("cart cache invalidate failed")
	}
}

func (s *Service) ensureUser(ctx context.Context, userID string) error {
	if err := domain.ValidateUserID(userID); err != nil {
		return err
	}
	if _, err := s.users.FindOne(ctx, userID); err != nil {
		return domain.Internal("find user", err)
	}
	return nil
}

func (s *Service) loadOpen(ctx context.Context, userID string) (domain.Cart, error) {
	v, err, _ := s.loads.Do(userID, func() (any, error) {
		if s.cache != nil {
			cached, err := s.cacheGet(ctx, userID)
			if err == nil {
				s.metrics.RecordCartCache("hit")
				return cached, nil
			}
			if errors.Is(err, ErrCacheMiss) {
				s.metrics.RecordCartCache("miss")
			} else {
				s.metrics.RecordCartCache("error")
				s.logger.WithError(err).WithField("user_id", userID).Warn("cart cache get failed")
			}
		}

		// Поколение читается до репозитория: мутация, закоммиченная после этой точки,
		// сдвинет его, и заполнение ниже будет отброшено.
		fence, fenced := s.fence(ctx, userID)

		cart, err := s.carts.GetOpen(ctx, userID)
		if err != nil {
			return nil, domain.Internal("get open cart", err)
		}

		if fenced {
			s.fill(ctx, cart, fence)
		}
		return cart, nil
	})
	if err != nil {
		return domain.Cart{}, err
	}
	return v.(domain.Cart).Clone(), nil
}

// fence возвращает поколение кэша; false - заполнять кэш нельзя.
func (s *Service) fence(ctx context.Context, userID string) (int64, bool) {
	if s.cache == nil {
		return 0, false
	}
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()

	fence, err := s.cache.Fence(ctx, userID)
	if err != nil {
		s.logger.WithError(err).WithField("user_id", userID).Warn("cart cache fence failed")
		return 0, false
	}
	return fence, true
}

func (s *Service) fill(ctx context.Context, cart domain.Cart, fence int64) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cacheOpTimeout)
	defer cancel()

	err := s.cache.Set(ctx, cart, fence)
	switch {
	case err == nil:
	case errors.Is(err, ErrCacheStale):
		s.metrics.RecordCartCache("stale")
	default:
		s.logger.WithError(err).WithField("user_id", cart.UserID).Warn("cart cache set failed")
	}
}

func (s *Service) cacheGet(ctx context.Context, userID string) (domain.Cart, error) {
	ctx, cancel := context.WithTimeout(ctx, cacheOpTimeout)
	defer cancel()
	return s.cache.Get(ctx, userID)
}

func (s *Service) view(ctx context.Context, cart domain.Cart) (View, error) {
	ids := make([]string, 0, len(cart.Items))
	for _, item := range cart.Items {
		ids = append(ids, item.ProductID)
	}
	refs, err := s.resolver.Refs(ctx, ids)
	if err != nil {
		return View{}, err
	}

	view := View{
		ID:         cart.ID,
		UserID:     cart.UserID,
		Items:      make([]Line, 0, len(cart.Items)),
		CheckedOut: cart.CheckedOut,
		Version:    cart.Version,
		UpdatedAt:  cart.UpdatedAt,
	}
	for _, item := range cart.Items {
		view.Items = append(view.Items, Line{
			Product:  refs[item.ProductID],
			Quantity: item.Quantity,
			AddedAt:  item.AddedAt,
		})
	}
	return view, nil
}
