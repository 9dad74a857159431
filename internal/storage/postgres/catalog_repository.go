package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

const productColumns = `id, name, category, description, price_minor, stock`

type catalogRepository struct {
	s *Store
}

// NewCatalog создаёт PostgreSQL-реализацию ProductCatalog.
func NewCatalog(store *Store) domain.ProductCatalog {
	return &catalogRepository{s: store}
}

func (r *catalogRepository) FindOne(ctx context.Context, id string) (domain.Product, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	p, err := scanProduct(r.s.db.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Product{}, domain.ErrProductNotFound
		}
		return domain.Product{}, fmt.Errorf("select product: %w", err)
	}
	return p, nil
}

func (r *catalogRepository) FindMany(ctx context.Context, ids []string) (map[string]domain.Product, error) {
	result := make(map[string]domain.Product, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	placeholders := make([]string, len(ids))
	args := make([]any, len(ids))
	for i, id := range ids {
		placeholders[i] = "$" + strconv.Itoa(i+1)
		args[i] = id
	}

	rows, err := r.s.db.QueryContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE id IN (`+strings.Join(placeholders, ",")+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("select products: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		result[p.ID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate products: %w", err)
	}
	return result, nil
}

// DecrementStock списывает qty одним условным UPDATE, поэтому остаток не уходит в минус
// даже при параллельных вызовах.
func (r *catalogRepository) DecrementStock(ctx context.Context, id string, qty int32) (domain.Product, error) {
	if err := domain.ValidateQuantity(qty); err != nil {
		return domain.Product{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	return decrementStock(ctx, r.s.db, id, qty, r.s.now())
}

// decrementStock - общий условный UPDATE для DecrementStock и транзакции оформления.
func decrementStock(ctx context.Context, q queryer, id string, qty int32, now time.Time) (domain.Product, error) {
	p, err := scanProduct(q.QueryRowContext(ctx, `
		UPDATE products
		SET stock = stock - $1, updated_at = $3
		WHERE id = $2 AND stock >= $1
		RETURNING `+productColumns,
		qty, id, now))
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Product{}, fmt.Errorf("decrement stock for %s: %w", id, err)
	}
	return domain.Product{}, stockShortage(ctx, q, id)
}

// stockShortage различает отсутствие товара и нехватку остатка после неудачного UPDATE.
func stockShortage(ctx context.Context, q queryer, id string) error {
	var exists bool
	if err := q.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, id).Scan(&exists); err != nil {
		return fmt.Errorf("check product exists: %w", err)
	}
	if !exists {
		return domain.ErrProductNotFound
	}
	return domain.ErrInsufficientStock
}

// UpsertProduct добавляет или обновляет товар (сидирование и тесты).
func (s *Store) UpsertProduct(ctx context.Context, p domain.Product) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, category, description, price_minor, stock, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
		    category = EXCLUDED.category,
		    description = EXCLUDED.description,
		    price_minor = EXCLUDED.price_minor,
		    stock = EXCLUDED.stock,
		    updated_at = EXCLUDED.updated_at
	`, p.ID, p.Name, p.Category, p.Description, p.PriceMinor, p.Stock, s.now()); err != nil {
		return fmt.Errorf("upsert product %s: %w", p.ID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProduct(row rowScanner) (domain.Product, error) {
	var p domain.Product
	err := row.Scan(&p.ID, &p.Name, &p.Category, &p.Description, &p.PriceMinor, &p.Stock)
	return p, err
}

var _ domain.ProductCatalog = (*catalogRepository)(nil)
