package domain

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{name: "nil", err: nil, want: ""},
		{name: "invalid quantity", err: ErrInvalidQuantity, want: KindInvalidInput},
		{name: "product not found", err: ErrProductNotFound, want: KindNotFound},
		{name: "wrapped cart not found", err: fmt.Errorf("load cart: %w", ErrCartNotFound), want: KindNotFound},
		{name: "insufficient stock", err: ErrInsufficientStock, want: KindConflict},
		{name: "product not in cart", err: ErrProductNotInCart, want: KindConflict},
		{name: "empty cart", err: ErrEmptyCart, want: KindEmpty},
		{name: "no history", err: ErrNoOrderHistory, want: KindEmpty},
		{name: "storage failure", err: Internal("orders.get", errors.New("connection reset")), want: KindInternal},
		{name: "unknown error", err: errors.New("boom"), want: KindInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestInternalKeepsDomainErrors(t *testing.T) {
	wrapped := fmt.Errorf("decrement: %w", ErrInsufficientStock)
	if got := Internal("checkout", wrapped); got != wrapped {
		t.Fatalf("expected domain error to pass through, got %v", got)
	}
	if Internal("noop", nil) != nil {
		t.Fatal("expected nil for nil error")
	}

	cause := errors.New("dial tcp: refused")
	err := Internal("carts.add", cause)
	if !errors.Is(err, ErrInternal) {
		t.Fatalf("expected ErrInternal in chain, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected cause in chain, got %v", err)
	}
}

func TestIsVersionConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "order version conflict", err: ErrOrderVersionConflict, want: true},
		{name: "cart version conflict", err: ErrCartVersionConflict, want: true},
		{name: "joined", err: errors.Join(ErrOrderVersionConflict, errors.New("additional context")), want: true},
		{name: "other error", err: ErrOrderNotFound, want: false},
		{name: "nil error", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsVersionConflict(tt.err); got != tt.want {
				t.Errorf("IsVersionConflict() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsIdempotencyConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "already exists", err: ErrIdempotencyKeyAlreadyExists, want: true},
		{name: "hash mismatch", err: ErrIdempotencyHashMismatch, want: true},
		{name: "wrapped", err: errors.Join(ErrIdempotencyHashMismatch, errors.New("extra context")), want: true},
		{name: "non idempotency error", err: ErrOrderVersionConflict, want: false},
		{name: "nil error", err: nil, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsIdempotencyConflict(tt.err); got != tt.want {
				t.Errorf("IsIdempotencyConflict() = %v, want %v", got, tt.want)
			}
		})
	}
}
