package postgres

import (
	"context"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

// Seed заливает пользователей и товары идемпотентно (upsert), для dev-окружений.
func (s *Store) Seed(ctx context.Context, users []domain.User, products []domain.Product) error {
	for _, u := range users {
		if err := s.UpsertUser(ctx, u); err != nil {
			return err
		}
	}
	for _, p := range products {
		if err := s.UpsertProduct(ctx, p); err != nil {
			return err
		}
	}
	return nil
}
