package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

var cartItemCols = []string{"product_id", "quantity", "added_at"}

func TestCartRepository_AddItemIncrementsInOneTransaction(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO carts .* ON CONFLICT \(user_id\) WHERE NOT checked_out DO NOTHING`).
		WithArgs(sqlmock.AnyArg(), "user-alice", fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`FROM carts\s+WHERE user_id = \$1 AND NOT checked_out FOR UPDATE`).
		WithArgs("user-alice").
		WillReturnRows(sqlmock.NewRows(cartCols).AddRow("cart-1", "user-alice", false, int64(3), fixedNow, fixedNow))
	mock.ExpectExec(`INSERT INTO cart_items .* quantity = cart_items.quantity \+ EXCLUDED.quantity`).
		WithArgs("cart-1", "prod-mug", int32(2), fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`UPDATE carts SET version = version \+ 1`).
		WithArgs("cart-1", fixedNow).
		WillReturnRows(sqlmock.NewRows([]string{"version", "updated_at"}).AddRow(int64(4), fixedNow))
	mock.ExpectQuery(`FROM cart_items`).
		WithArgs("cart-1").
		WillReturnRows(sqlmock.NewRows(cartItemCols).AddRow("prod-mug", int64(5), fixedNow))
	mock.ExpectCommit()

	cart, err := NewCartRepository(store).AddItem(context.Background(), "user-alice", "prod-mug", 2)
	if err != nil {
		t.Fatalf("AddItem: %v", err)
	}
	if cart.ID != "cart-1" || cart.Version != 4 {
		t.Fatalf("unexpected cart: %+v", cart)
	}
	if item, ok := cart.Item("prod-mug"); !ok || item.Quantity != 5 {
		t.Fatalf("expected merged quantity 5, got %+v", cart.Items)
	}
	expectationsMet(t, mock)
}

func TestCartRepository_AddItemOverflowRollsBack(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO carts`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`FROM carts`).
		WillReturnRows(sqlmock.NewRows(cartCols).AddRow("cart-1", "user-alice", false, int64(0), fixedNow, fixedNow))
	mock.ExpectExec(`INSERT INTO cart_items`).
		WillReturnError(&pgconn.PgError{Code: "23514"})
	mock.ExpectRollback()

	_, err := NewCartRepository(store).AddItem(context.Background(), "user-alice", "prod-mug", domain.MaxItemQuantity)
	if !errors.Is(err, domain.ErrInvalidQuantity) {
		t.Fatalf("expected ErrInvalidQuantity, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestCartRepository_AddItemUnknownUser(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO carts`).WillReturnError(&pgconn.PgError{Code: "23503"})
	mock.ExpectRollback()

	_, err := NewCartRepository(store).AddItem(context.Background(), "ghost", "prod-mug", 1)
	if !errors.Is(err, domain.ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestCartRepository_RemoveItem(t *testing.T) {
	t.Parallel()

	t.Run("not in cart", func(t *testing.T) {
		t.Parallel()

		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`FOR UPDATE`).
			WillReturnRows(sqlmock.NewRows(cartCols).AddRow("cart-1", "user-alice", false, int64(1), fixedNow, fixedNow))
		mock.ExpectExec(`DELETE FROM cart_items`).
			WithArgs("cart-1", "prod-lamp").
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		_, err := NewCartRepository(store).RemoveItem(context.Background(), "user-alice", "prod-lamp")
		if !errors.Is(err, domain.ErrProductNotInCart) {
			t.Fatalf("expected ErrProductNotInCart, got %v", err)
		}
		expectationsMet(t, mock)
	})

	t.Run("no open cart", func(t *testing.T) {
		t.Parallel()

		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`FOR UPDATE`).WillReturnRows(sqlmock.NewRows(cartCols))
		mock.ExpectRollback()

		_, err := NewCartRepository(store).RemoveItem(context.Background(), "user-alice", "prod-lamp")
		if !errors.Is(err, domain.ErrCartNotFound) {
			t.Fatalf("expected ErrCartNotFound, got %v", err)
		}
		expectationsMet(t, mock)
	})

	t.Run("removed", func(t *testing.T) {
		t.Parallel()

		store, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery(`FOR UPDATE`).
			WillReturnRows(sqlmock.NewRows(cartCols).AddRow("cart-1", "user-alice", false, int64(1), fixedNow, fixedNow))
		mock.ExpectExec(`DELETE FROM cart_items`).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(`UPDATE carts SET version`).
			WillReturnRows(sqlmock.NewRows([]string{"version", "updated_at"}).AddRow(int64(2), fixedNow))
		mock.ExpectQuery(`FROM cart_items`).WillReturnRows(sqlmock.NewRows(cartItemCols))
		mock.ExpectCommit()

		cart, err := NewCartRepository(store).RemoveItem(context.Background(), "user-alice", "prod-lamp")
		if err != nil {
			t.Fatalf("RemoveItem: %v", err)
		}
		if !cart.IsEmpty() || cart.Version != 2 {
			t.Fatalf("unexpected cart: %+v", cart)
		}
		expectationsMet(t, mock)
	})
}

func TestCartRepository_GetOpenNotFound(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(`FROM carts`).WithArgs("user-bob").WillReturnRows(sqlmock.NewRows(cartCols))

	if _, err := NewCartRepository(store).GetOpen(context.Background(), "user-bob"); !errors.Is(err, domain.ErrCartNotFound) {
		t.Fatalf("expected ErrCartNotFound, got %v", err)
	}
	expectationsMet(t, mock)
}
