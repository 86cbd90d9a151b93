package domain

import (
	"context"
	"time"
)

// AggregateClient: доступ к сервисам-владельцам заказов и товаров.
// Отсутствие агрегата сообщается как ErrRemoteNotFound, сбой транспорта
// как ErrRemoteUnavailable.
type AggregateClient interface {
	FetchOrder(ctx context.Context, orderID int) (OrderSnapshot, error)
	FetchProduct(ctx context.Context, productID int) (ProductSnapshot, error)
	// TriggerOrderStatusRecompute просит order-service пересчитать статус заказа.
	TriggerOrderStatusRecompute(ctx context.Context, orderID int) error
}

// OutboxRepository: очередь событий позиций. PullPending выдаёт события
// в порядке постановки; Mark* переводят только pending-строки.
type OutboxRepository interface {
	Enqueue(msg OutboxMessage) (OutboxMessage, error)
	PullPending(limit int) ([]OutboxMessage, error)
	Stats() (OutboxStats, error)
	MarkSent(id string) error
	MarkFailed(id string) error
}

// OutboxPublisher доставляет событие брокеру. Повторная доставка допустима.
type OutboxPublisher interface {
	Publish(event OutboxMessage) error
}

// IdempotencyRepository: ключи Idempotency-Key и сохранённые ответы.
// CreateProcessing занимает ключ; занятый ключ отдаёт запись вместе с
// ErrIdempotencyKeyAlreadyExists или ErrIdempotencyHashMismatch.
type IdempotencyRepository interface {
	CreateProcessing(key, requestHash string, ttlAt time.Time) (IdempotencyRecord, error)
	Get(key string) (IdempotencyRecord, error)
	MarkDone(key string, responseBody []byte, httpStatus int) error
	MarkFailed(key string, responseBody []byte, httpStatus int) error
	// Release снимает незавершённый ключ без сохранения ответа.
	Release(key string) error
	DeleteExpired(before time.Time, limit int) (int, error)
}

type singleAttemptKey struct{}

// WithSingleAttempt помечает ctx: вызовы AggregateClient в нём не повторяются.
// Проверки при записи выполняются ровно одной попыткой.
func WithSingleAttempt(ctx context.Context) context.Context {
	return context.WithValue(ctx, singleAttemptKey{}, true)
}

// SingleAttempt сообщает, запрещены ли повторы для ctx.
func SingleAttempt(ctx context.Context) bool {
	single, _ := ctx.Value(singleAttemptKey{}).(bool)
	return single
}
