package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
	"github.com/vladislavdragonenkov/storefront/internal/service/cart"
)

const (
	// DefaultCartTTL - базовое время жизни корзины в кэше.
	DefaultCartTTL = 5 * time.Minute
	maxTTLJitter   = time.Minute
	// generationTTL заведомо больше времени жизни корзины: поколение нужно только
	// на время между Fence и Set.
	generationTTL = 24 * time.Hour
)

// setIfGeneration записывает корзину, только если с момента Fence не было Delete.
var setIfGeneration = redis.NewScript(`
local gen = redis.call('GET', KEYS[2]) or '0'
if gen ~= ARGV[1] then
	return 0
end
redis.call('SET', KEYS[1], ARGV[2], 'PX', ARGV[3])
return 1
`)

// CartCache хранит сырые корзины в JSON под ключом cart:<userID>.
// К TTL добавляется случайный jitter, чтобы ключи не истекали пачкой.
// Каждый Delete увеличивает поколение cart-gen:<userID>; Set с устаревшим
// поколением отбрасывается, поэтому чтение, начатое до мутации, не вернёт старую корзину в кэш.
type CartCache struct {
	client  *redis.Client
	baseTTL time.Duration
}

// NewCartCache создаёт кэш; baseTTL <= 0 заменяется на DefaultCartTTL.
func NewCartCache(client *redis.Client, baseTTL time.Duration) *CartCache {
	if baseTTL <= 0 {
		baseTTL = DefaultCartTTL
	}
	return &CartCache{client: client, baseTTL: baseTTL}
}

type cachedItem struct {
	ProductID string    `json:"product_id"`
	Quantity  int32     `json:"quantity"`
	AddedAt   time.Time `json:"added_at"`
}

type cachedCart struct {
	ID         string       `json:"id"`
	UserID     string       `json:"user_id"`
	Items      []cachedItem `json:"items"`
	CheckedOut bool         `json:"checked_out"`
	Version    int64        `json:"version"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

func (c *CartCache) Get(ctx context.Context, userID string) (domain.Cart, error) {
	data, err := c.client.Get(ctx, cartKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Cart{}, cart.ErrCacheMiss
	}
	if err != nil {
		return domain.Cart{}, fmt.Errorf("redis get cart: %w", err)
	}

	var cached cachedCart
	if err := json.Unmarshal(data, &cached); err != nil {
		return domain.Cart{}, fmt.Errorf("unmarshal cached cart: %w", err)
	}

	out := domain.Cart{
		ID:         cached.ID,
		UserID:     cached.UserID,
		Items:      make([]domain.LineItem, 0, len(cached.Items)),
		CheckedOut: cached.CheckedOut,
		Version:    cached.Version,
		CreatedAt:  cached.CreatedAt,
		UpdatedAt:  cached.UpdatedAt,
	}
	for _, item := range cached.Items {
		out.Items = append(out.Items, domain.LineItem(item))
	}
	return out, nil
}

// Fence возвращает текущее поколение инвалидаций пользователя.
func (c *CartCache) Fence(ctx context.Context, userID string) (int64, error) {
	gen, err := c.client.Get(ctx, generationKey(userID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get cart generation: %w", err)
	}
	return gen, nil
}

// Set кладёт корзину в кэш, если поколение всё ещё равно fence. Иначе cart.ErrCacheStale.
func (c *CartCache) Set(ctx context.Context, src domain.Cart, fence int64) error {
	cached := cachedCart{
		ID:         src.ID,
		UserID:     src.UserID,
		Items:      make([]cachedItem, 0, len(src.Items)),
		CheckedOut: src.CheckedOut,
		Version:    src.Version,
		CreatedAt:  src.CreatedAt,
		UpdatedAt:  src.UpdatedAt,
	}
	for _, item := range src.Items {
		cached.Items = append(cached.Items, cachedItem(item))
	}

	data, err := json.Marshal(cached)
	if err != nil {
		return fmt.Errorf("marshal cart: %w", err)
	}

	ttl := c.baseTTL + rand.N(maxTTLJitter)
	keys := []string{cartKey(src.UserID), generationKey(src.UserID)}
	stored, err := setIfGeneration.Run(ctx, c.client, keys, strconv.FormatInt(fence, 10), data, ttl.Milliseconds()).Int()
	if err != nil {
		return fmt.Errorf("redis set cart: %w", err)
	}
	if stored == 0 {
		return cart.ErrCacheStale
	}
	return nil
}

// Delete удаляет корзину и сдвигает поколение одной транзакцией.
func (c *CartCache) Delete(ctx context.Context, userID string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, cartKey(userID))
		pipe.Incr(ctx, generationKey(userID))
		pipe.Expire(ctx, generationKey(userID), generationTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis delete cart: %w", err)
	}
	return nil
}

func cartKey(userID string) string {
	return "cart:" + userID
}

func generationKey(userID string) string {
	return "cart-gen:" + userID
}

var _ cart.Cache = (*CartCache)(nil)
