// Package resolve подтягивает данные каталога для отображения позиций корзины и заказа.
package resolve

import (
	"context"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Resolver превращает ID товаров в ProductRef. Товары, которых уже нет в каталоге,
// остаются Reference: позиция заказа при этом не теряется.
type Resolver struct {
	catalog domain.ProductCatalog
}

// New создаёт Resolver поверх каталога.
func New(catalog domain.ProductCatalog) *Resolver {
	return &Resolver{catalog: catalog}
}

// Refs возвращает ссылку для каждого ID из ids.
func (r *Resolver) Refs(ctx context.Context, ids []string) (map[string]domain.ProductRef, error) {
	refs := make(map[string]domain.ProductRef, len(ids))
	if len(ids) == 0 {
		return refs, nil
	}

	products, err := r.catalog.FindMany(ctx, uniq(ids))
	if err != nil {
		return nil, domain.Internal("resolve products", err)
	}

	for _, id := range ids {
		if p, ok := products[id]; ok {
			refs[id] = domain.Resolved(p)
			continue
		}
		refs[id] = domain.Reference(id)
	}
	return refs, nil
}

func uniq(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
