// Package httpapi отдаёт операции корзины и заказов по HTTP/JSON.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/cart"
	"github.com/vladislavdragonenkov/storefront/internal/service/idempotency"
	"github.com/vladislavdragonenkov/storefront/internal/service/ledger"
)

const (
	defaultRequestTimeout = 10 * time.Second
	defaultRevocationTTL  = 24 * time.Hour
	maxBodyBytes          = 1 << 20
)

// CartService - операции корзины, нужные HTTP-слою.
type CartService interface {
	AddItem(ctx context.Context, userID, productID string, quantity int32) (cart.View, error)
	RemoveItem(ctx context.Context, userID, productID string) (cart.View, error)
	GetOpenCart(ctx context.Context, userID string) (cart.View, error)
}

// CheckoutService - оформление заказа.
type CheckoutService interface {
	CheckoutCart(ctx context.Context, userID string) (domain.Order, error)
	CreateOrder(ctx context.Context, userID string, items []domain.ItemRequest) (domain.Order, error)
}

// LedgerService - история и смена статуса заказов.
type LedgerService interface {
	History(ctx context.Context, userID string) ([]ledger.OrderView, error)
	Get(ctx context.Context, orderID string) (ledger.OrderView, []domain.TimelineEvent, error)
	Complete(ctx context.Context, orderID string) (domain.Order, error)
}

// Deps - зависимости роутера. Idempotency и Revocations опциональны.
type Deps struct {
	Carts       CartService
	Checkout    CheckoutService
	Ledger      LedgerService
	Idempotency *idempotency.Guard
	Revocations domain.TokenRevocations
	Logger      *log.Entry

	RequestTimeout time.Duration
	// RevocationTTL - сколько хранится отзыв токена при logout.
	RevocationTTL time.Duration
}

type api struct {
	carts       CartService
	checkout    CheckoutService
	ledger      LedgerService
	guard       *idempotency.Guard
	revocations domain.TokenRevocations
	logger      *log.Entry
	revokeTTL   time.Duration
}

// NewRouter собирает chi-роутер с middleware и оборачивает его в otelhttp.
func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = log.WithField("component", "http-api")
	}
	timeout := deps.RequestTimeout
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}
	revokeTTL := deps.RevocationTTL
	if revokeTTL <= 0 {
		revokeTTL = defaultRevocationTTL
	}

	a := &api{
		carts:       deps.Carts,
		checkout:    deps.Checkout,
		ledger:      deps.Ledger,
		guard:       deps.Idempotency,
		revocations: deps.Revocations,
		logger:      logger,
		revokeTTL:   revokeTTL,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(a.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(timeout))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(a.rejectRevokedTokens)
		r.Use(a.requireUser)

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", a.getCart)
			r.Post("/items", a.addCartItem)
			r.Delete("/items/{productID}", a.removeCartItem)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", a.createOrder)
			r.Get("/history", a.orderHistory)
			r.Get("/{orderID}", a.getOrder)
			r.Post("/{orderID}/complete", a.completeOrder)
		})

		r.Post("/auth/logout", a.logout)
	})

	return otelhttp.NewHandler(r, "storefront-http")
}
