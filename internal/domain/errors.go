package domain

import (
	"errors"
	"fmt"
)

// ErrorKind классифицирует доменные ошибки для транспортного слоя.
type ErrorKind string

const (
	KindInvalidInput ErrorKind = "invalid_input"
	KindNotFound     ErrorKind = "not_found"
	KindConflict     ErrorKind = "conflict"
	// KindEmpty - запрос корректен, но действовать не над чем (пустая корзина, нет истории).
	KindEmpty    ErrorKind = "empty"
	KindInternal ErrorKind = "internal"
)

// kindError связывает сентинел с его категорией.
type kindError struct {
	kind ErrorKind
	msg  string
}

func (e *kindError) Error() string { return e.msg }

func newError(kind ErrorKind, msg string) error {
	return &kindError{kind: kind, msg: msg}
}

var (
	// Ошибка отсутствующего идентификатора пользователя.
	ErrUserIDRequired = newError(KindInvalidInput, "user_id is required")
	// Ошибка отсутствующего идентификатора товара.
	ErrProductIDRequired = newError(KindInvalidInput, "product_id is required")
	// Ошибка отсутствующего идентификатора заказа.
	ErrOrderIDRequired = newError(KindInvalidInput, "order_id is required")
	// Ошибка некорректного количества товара (<= 0 или больше лимита).
	ErrInvalidQuantity = newError(KindInvalidInput, "quantity must be a positive integer within limit")
	// ErrOrderTotalOverflow - стоимость позиции или сумма заказа не помещается в int64.
	ErrOrderTotalOverflow = newError(KindInvalidInput, "order total exceeds supported range")

	ErrUserNotFound    = newError(KindNotFound, "user not found")
	ErrProductNotFound = newError(KindNotFound, "product not found")
	// ErrCartNotFound - у пользователя нет открытой корзины (или она пуста).
	ErrCartNotFound = newError(KindNotFound, "cart not found")
	// ErrOrderNotFound возвращается, если заказ не найден в репозитории.
	ErrOrderNotFound = newError(KindNotFound, "order not found")

	// ErrInsufficientStock - остатка товара не хватает на запрошенное количество.
	ErrInsufficientStock = newError(KindConflict, "insufficient stock")
	ErrProductNotInCart  = newError(KindConflict, "product not in cart")
	// ErrCartVersionConflict - корзина изменилась между чтением и оформлением.
	ErrCartVersionConflict = newError(KindConflict, "cart changed during checkout")
	// ErrOrderVersionConflict сигнализирует о конфликте версий при сохранении.
	ErrOrderVersionConflict = newError(KindConflict, "order version conflict")
	// ErrInvalidTransition - переход статуса заказа не поддерживается.
	ErrInvalidTransition = newError(KindConflict, "order status transition not allowed")

	ErrEmptyCart      = newError(KindEmpty, "cart is empty")
	ErrNoOrderHistory = newError(KindEmpty, "no completed orders")

	// ErrInternal - сбой хранилища или инфраструктуры, детали наружу не отдаются.
	ErrInternal = newError(KindInternal, "internal error")
	// ErrOutboxPublish - ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")
)

// OpError оборачивает инфраструктурную ошибку, сохраняя причину для логов.
type OpError struct {
	Op  string
	Err error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap позволяет errors.Is находить и ErrInternal, и исходную причину.
func (e *OpError) Unwrap() []error {
	return []error{ErrInternal, e.Err}
}

// Internal оборачивает err как KindInternal. Доменные ошибки возвращаются без изменений.
func Internal(op string, err error) error {
	if err == nil {
		return nil
	}
	var ke *kindError
	if errors.As(err, &ke) {
		return err
	}
	return &OpError{Op: op, Err: err}
}

// KindOf возвращает категорию ошибки; неизвестные ошибки считаются внутренними.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var oe *OpError
	if errors.As(err, &oe) {
		return KindInternal
	}
	var ke *kindError
	if errors.As(err, &ke) {
		return ke.kind
	}
	return KindInternal
}

// IsVersionConflict проверяет, является ли ошибка конфликтом версий.
func IsVersionConflict(err error) bool {
	return errors.Is(err, ErrOrderVersionConflict) || errors.Is(err, ErrCartVersionConflict)
}
