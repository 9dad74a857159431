package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vladislavdragonenkov/storefront/internal/domain"
)

func checkoutRequest() domain.PlaceOrderRequest {
	order := domain.Order{
		ID:     "order-1",
		UserID: "user-alice",
		Items: []domain.OrderItem{
			{ID: "item-1", ProductID: "prod-mug", Quantity: 2, UnitPriceMinor: 1299},
			{ID: "item-2", ProductID: "prod-kettle", Quantity: 1, UnitPriceMinor: 4599},
		},
		Status:    domain.OrderStatusPending,
		CreatedAt: fixedNow,
		UpdatedAt: fixedNow,
	}
	total, err := domain.SumItems(order.Items)
	if err != nil {
		panic(err)
	}
	order.TotalMinor = total

	return domain.PlaceOrderRequest{
		Order:       order,
		CartID:      "cart-1",
		CartVersion: 7,
		Events: []domain.OutboxMessage{{
			ID:            "evt-1",
			AggregateType: domain.AggregateOrder,
			AggregateID:   "order-1",
			EventType:     domain.EventOrderCreated,
			Payload:       []byte(`{}`),
		}},
	}
}

func TestCheckoutStore_PlaceOrderCommitsEverything(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	req := checkoutRequest()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE carts\s+SET checked_out = TRUE`).
		WithArgs("cart-1", int64(7), fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	// Товары списываются в порядке ID: prod-kettle раньше prod-mug.
	mock.ExpectQuery(`UPDATE products`).
		WithArgs(int32(1), "prod-kettle", fixedNow).
		WillReturnRows(stockRow("prod-kettle", 3))
	mock.ExpectQuery(`UPDATE products`).
		WithArgs(int32(2), "prod-mug", fixedNow).
		WillReturnRows(stockRow("prod-mug", 8))
	mock.ExpectExec(`INSERT INTO orders`).
		WithArgs("order-1", "user-alice", int64(7197), "pending", int64(0), fixedNow, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO order_items`).
		WithArgs("item-1", "order-1", 0, "prod-mug", int32(2), int64(1299)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO order_items`).
		WithArgs("item-2", "order-1", 1, "prod-kettle", int32(1), int64(4599)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO outbox_messages`).
		WithArgs("evt-1", domain.AggregateOrder, "order-1", domain.EventOrderCreated, []byte(`{}`), fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	order, err := NewCheckoutStore(store).PlaceOrder(context.Background(), req)
	if err != nil {
		t.Fatalf("PlaceOrder: %v", err)
	}
	if order.ID != "order-1" || order.TotalMinor != 7197 {
		t.Fatalf("unexpected order: %+v", order)
	}
	expectationsMet(t, mock)
}

func TestCheckoutStore_PlaceOrderRollsBackOnShortage(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE carts`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`UPDATE products`).WithArgs(int32(1), "prod-kettle", fixedNow).
		WillReturnRows(stockRow("prod-kettle", 0))
	mock.ExpectQuery(`UPDATE products`).WithArgs(int32(2), "prod-mug", fixedNow).
		WillReturnRows(sqlmock.NewRows(productCols))
	mock.ExpectQuery(`SELECT EXISTS`).WithArgs("prod-mug").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectRollback()

	_, err := NewCheckoutStore(store).PlaceOrder(context.Background(), checkoutRequest())
	if !errors.Is(err, domain.ErrInsufficientStock) {
		t.Fatalf("expected ErrInsufficientStock, got %v", err)
	}
	expectationsMet(t, mock)
}

func TestCheckoutStore_PlaceOrderCartGuards(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		rows    *sqlmock.Rows
		wantErr error
	}{
		{name: "version moved", rows: sqlmock.NewRows([]string{"checked_out"}).AddRow(false), wantErr: domain.ErrCartVersionConflict},
		{name: "already checked out", rows: sqlmock.NewRows([]string{"checked_out"}).AddRow(true), wantErr: domain.ErrCartNotFound},
		{name: "missing", rows: sqlmock.NewRows([]string{"checked_out"}), wantErr: domain.ErrCartNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			store, mock := newMockStore(t)
			mock.ExpectBegin()
			mock.ExpectExec(`UPDATE carts`).WillReturnResult(sqlmock.NewResult(0, 0))
			mock.ExpectQuery(`SELECT checked_out FROM carts`).WithArgs("cart-1").WillReturnRows(tt.rows)
			mock.ExpectRollback()

			_, err := NewCheckoutStore(store).PlaceOrder(context.Background(), checkoutRequest())
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			expectationsMet(t, mock)
		})
	}
}

func TestCheckoutStore_PlaceOrderWithoutCartSkipsRetire(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	req := checkoutRequest()
	req.CartID = ""
	req.Events = nil

	mock.ExpectBegin()
	mock.ExpectQuery(`UPDATE products`).WillReturnRows(stockRow("prod-kettle", 1))
	mock.ExpectQuery(`UPDATE products`).WillReturnRows(stockRow("prod-mug", 1))
	mock.ExpectExec(`INSERT INTO orders`).WillReturnError(&pgconn.PgError{Code: "23505"})
	mock.ExpectRollback()

	_, err := NewCheckoutStore(store).PlaceOrder(context.Background(), req)
	if !errors.Is(err, domain.ErrOrderVersionConflict) {
		t.Fatalf("expected duplicate order to map to ErrOrderVersionConflict, got %v", err)
	}
	expectationsMet(t, mock)
}

// stockRow - строка products после успешного списания.
func stockRow(id string, stock int64) *sqlmock.Rows {
	return sqlmock.NewRows(productCols).AddRow(id, id, "", "", int64(100), stock)
}
