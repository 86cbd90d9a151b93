package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation: некорректный ввод; никогда не повторяется.
	ErrValidation = errors.New("validation failed")
	// Ошибка отсутствующего идентификатора заказа.
	ErrOrderIDRequired = errors.New("order_id is required")
	// Ошибка отсутствующего идентификатора товара.
	ErrProductIDRequired = errors.New("product_id is required")
	// Ошибка при некорректном количестве (<= 0).
	ErrQuantityInvalid = errors.New("ordered_quantity must be greater than zero")
	// ErrValueOutOfRange: число не помещается в INTEGER-колонку хранилища.
	ErrValueOutOfRange = errors.New("value exceeds 2147483647")

	// ErrOrderNotFound: заказ не найден или order-service недоступен при записи.
	ErrOrderNotFound = errors.New("order not found")
	// ErrProductNotFound: товар не найден или product-service недоступен при записи.
	ErrProductNotFound = errors.New("product not found")
	// ErrInvalidOrderState: заказ существует, но его статус не ORDERED/IN_PAYMENT.
	ErrInvalidOrderState = errors.New("order is not in ORDERED or IN_PAYMENT state")
	// ErrInsufficientStock: запрошено больше, чем есть на складе.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrDuplicateItem: позиция с такой парой (order_id, product_id) уже существует.
	ErrDuplicateItem = errors.New("order item already exists")
	// ErrOrderItemNotFound: позиция отсутствует или деактивирована.
	ErrOrderItemNotFound = errors.New("order item not found")

	// ErrRemoteNotFound: внешний сервис ответил "не найдено".
	ErrRemoteNotFound = errors.New("remote aggregate not found")
	// ErrRemoteUnavailable: таймаут, сетевая ошибка, 5xx или открытый circuit breaker.
	ErrRemoteUnavailable = errors.New("remote aggregate unavailable")

	// ErrOutboxPublish: ошибка при публикации сообщения из outbox.
	ErrOutboxPublish = errors.New("outbox publish failed")

	ErrIdempotencyKeyRequired         = errors.New("idempotency key is required")
	ErrIdempotencyRequestHashRequired = errors.New("idempotency request hash is required")
	ErrIdempotencyKeyAlreadyExists    = errors.New("idempotency key already exists")
	ErrIdempotencyHashMismatch        = errors.New("idempotency key reused with different request")
	ErrIdempotencyKeyNotFound         = errors.New("idempotency key not found")
)

// InsufficientStockError несёт доступный остаток для ответа клиенту.
type InsufficientStockError struct {
	ProductID int
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("you cannot order more units than there is available, available units: %d", e.Available)
}

// Is позволяет сравнивать через errors.Is(err, ErrInsufficientStock).
func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrInsufficientStock
}

// NewValidationError оборачивает список замечаний в ErrValidation.
func NewValidationError(errs ...error) error {
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrValidation, errors.Join(errs...))
}

// IsIdempotencyConflict проверяет, что ключ идемпотентности уже занят.
func IsIdempotencyConflict(err error) bool {
	return errors.Is(err, ErrIdempotencyKeyAlreadyExists) || errors.Is(err, ErrIdempotencyHashMismatch)
}
