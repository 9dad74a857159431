package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

type userDirectory struct {
	s *Store
}

// NewUserDirectory создаёт PostgreSQL-реализацию UserDirectory.
func NewUserDirectory(store *Store) domain.UserDirectory {
	return &userDirectory{s: store}
}

func (r *userDirectory) FindOne(ctx context.Context, id string) (domain.User, error) {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	var u domain.User
	err := r.s.db.QueryRowContext(ctx,
		`SELECT id, email, name FROM users WHERE id = $1`, id).Scan(&u.ID, &u.Email, &u.Name)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.User{}, domain.ErrUserNotFound
		}
		return domain.User{}, fmt.Errorf("select user: %w", err)
	}
	return u, nil
}

// UpsertUser добавляет или обновляет пользователя (сидирование и тесты).
func (s *Store) UpsertUser(ctx context.Context, u domain.User) error {
	ctx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, name, created_at)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, name = EXCLUDED.name
	`, u.ID, u.Email, u.Name, s.now()); err != nil {
		return fmt.Errorf("upsert user %s: %w", u.ID, err)
	}
	return nil
}

var _ domain.UserDirectory = (*userDirectory)(nil)
