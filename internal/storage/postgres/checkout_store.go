package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type checkoutStore struct {
	s *Store
}

// NewCheckoutStore создаёт PostgreSQL-реализацию CheckoutStore.
func NewCheckoutStore(store *Store) domain.CheckoutStore {
	return &checkoutStore{s: store}
}

// PlaceOrder применяет оформление одной транзакцией: закрытие корзины по версии,
// условное списание остатков, запись заказа и outbox. Строки товаров блокируются
// в порядке ID, поэтому встречные оформления не упираются в deadlock.
func (c *checkoutStore) PlaceOrder(ctx context.Context, req domain.PlaceOrderRequest) (domain.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	order := req.Order.Clone()
	err := c.s.inTx(ctx, "place order", func(tx *sql.Tx) error {
		now := c.s.now()

		if req.CartID != "" {
			if err := retireCart(ctx, tx, req.CartID, req.CartVersion, now); err != nil {
				return err
			}
		}

		need := make(map[string]int32, len(order.Items))
		for _, item := range order.Items {
			need[item.ProductID] += item.Quantity
		}
		ids := make([]string, 0, len(need))
		for id := range need {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		for _, id := range ids {
			if _, err := decrementStock(ctx, tx, id, need[id], now); err != nil {
				return err
			}
		}

		if err := insertOrder(ctx, tx, order); err != nil {
			return err
		}
		return insertOutbox(ctx, tx, now, req.Events)
	})
	if err != nil {
		return domain.Order{}, err
	}
	return order, nil
}

func retireCart(ctx context.Context, tx *sql.Tx, cartID string, version int64, now time.Time) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE carts
		SET checked_out = TRUE, version = version + 1, updated_at = $3
		WHERE id = $1 AND version = $2 AND NOT checked_out
	`, cartID, version, now)
	if err != nil {
		return fmt.Errorf("retire cart: %w", err)
	}
	n, err := affectedRows(res, "retire cart")
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}

	var checkedOut bool
	err = tx.QueryRowContext(ctx, `SELECT checked_out FROM carts WHERE id = $1`, cartID).Scan(&checkedOut)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return domain.ErrCartNotFound
	case err != nil:
		return fmt.Errorf("inspect cart: %w", err)
	case checkedOut:
		return domain.ErrCartNotFound
	default:
		return domain.ErrCartVersionConflict
	}
}

var _ domain.CheckoutStore = (*checkoutStore)(nil)
