package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type cartRepository struct {
	s *Store
}

// NewCartRepository создаёт PostgreSQL-реализацию CartRepository.
// Единственность открытой корзины держит частичный уникальный индекс carts_one_open_per_user.
func NewCartRepository(store *Store) domain.CartRepository {
	return &cartRepository{s: store}
}

func (r *cartRepository) GetOpen(ctx context.Context, userID string) (domain.Cart, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	cart, err := selectOpenCart(ctx, r.s.db, userID, false)
	if err != nil {
		return domain.Cart{}, err
	}
	if cart.Items, err = loadCartItems(ctx, r.s.db, cart.ID); err != nil {
		return domain.Cart{}, err
	}
	return cart, nil
}

// AddItem создаёт корзину при необходимости и прибавляет qty к позиции одним
// INSERT ... ON CONFLICT DO UPDATE, под блокировкой строки корзины.
func (r *cartRepository) AddItem(ctx context.Context, userID, productID string, qty int32) (domain.Cart, error) {
	if err := domain.ValidateQuantity(qty); err != nil {
		return domain.Cart{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var cart domain.Cart
	err := r.s.inTx(ctx, "add cart item", func(tx *sql.Tx) error {
		now := r.s.now()
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO carts (id, user_id, checked_out, version, created_at, updated_at)
			VALUES ($1, $2, FALSE, 0, $3, $3)
			ON CONFLICT (user_id) WHERE NOT checked_out DO NOTHING
		`, uuid.NewString(), userID, now); err != nil {
			if isForeignKeyViolation(err) {
				return domain.ErrUserNotFound
			}
			return fmt.Errorf("ensure open cart: %w", err)
		}

		var err error
		if cart, err = selectOpenCart(ctx, tx, userID, true); err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO cart_items (cart_id, product_id, quantity, added_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (cart_id, product_id)
			DO UPDATE SET quantity = cart_items.quantity + EXCLUDED.quantity
		`, cart.ID, productID, qty, now); err != nil {
			if isCheckViolation(err) {
				return domain.ErrInvalidQuantity
			}
			return fmt.Errorf("upsert cart item: %w", err)
		}

		return r.bumpAndLoad(ctx, tx, &cart, now)
	})
	if err != nil {
		return domain.Cart{}, err
	}
	return cart, nil
}

func (r *cartRepository) RemoveItem(ctx context.Context, userID, productID string) (domain.Cart, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var cart domain.Cart
	err := r.s.inTx(ctx, "remove cart item", func(tx *sql.Tx) error {
		var err error
		if cart, err = selectOpenCart(ctx, tx, userID, true); err != nil {
			return err
		}

		res, err := tx.ExecContext(ctx,
			`DELETE FROM cart_items WHERE cart_id = $1 AND product_id = $2`, cart.ID, productID)
		if err != nil {
			return fmt.Errorf("delete cart item: %w", err)
		}
		n, err := affectedRows(res, "delete cart item")
		if err != nil {
			return err
		}
		if n == 0 {
			return domain.ErrProductNotInCart
		}

		return r.bumpAndLoad(ctx, tx, &cart, r.s.now())
	})
	if err != nil {
		return domain.Cart{}, err
	}
	return cart, nil
}

func (r *cartRepository) bumpAndLoad(ctx context.Context, tx *sql.Tx, cart *domain.Cart, now time.Time) error {
	if err := tx.QueryRowContext(ctx, `
		UPDATE carts SET version = version + 1, updated_at = $2
		WHERE id = $1
		RETURNING version, updated_at
	`, cart.ID, now).Scan(&cart.Version, &cart.UpdatedAt); err != nil {
		return fmt.Errorf("bump cart version: %w", err)
	}

	items, err := loadCartItems(ctx, tx, cart.ID)
	if err != nil {
		return err
	}
	cart.Items = items
	return nil
}

func selectOpenCart(ctx context.Context, q queryer, userID string, forUpdate bool) (domain.Cart, error) {
	query := `
		SELECT id, user_id, checked_out, version, created_at, updated_at
		FROM carts
		WHERE user_id = $1 AND NOT checked_out`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var cart domain.Cart
	err := q.QueryRowContext(ctx, query, userID).Scan(
		&cart.ID, &cart.UserID, &cart.CheckedOut, &cart.Version, &cart.CreatedAt, &cart.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Cart{}, domain.ErrCartNotFound
		}
		return domain.Cart{}, fmt.Errorf("select open cart: %w", err)
	}
	return cart, nil
}

func loadCartItems(ctx context.Context, q queryer, cartID string) ([]domain.LineItem, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT product_id, quantity, added_at
		FROM cart_items
		WHERE cart_id = $1
		ORDER BY added_at ASC, product_id ASC
	`, cartID)
	if err != nil {
		return nil, fmt.Errorf("load cart items: %w", err)
	}
	defer rows.Close()

	items := make([]domain.LineItem, 0)
	for rows.Next() {
		var item domain.LineItem
		if err := rows.Scan(&item.ProductID, &item.Quantity, &item.AddedAt); err != nil {
			return nil, fmt.Errorf("scan cart item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cart items: %w", err)
	}
	return items, nil
}

var _ domain.CartRepository = (*cartRepository)(nil)
