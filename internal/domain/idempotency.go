package domain

import "time"

// IdempotencyStatus: этап обработки запроса с Idempotency-Key.
type IdempotencyStatus string

const (
	IdempotencyStatusProcessing IdempotencyStatus = "processing"
	// IdempotencyStatusDone: сохранён ответ 1xx-3xx.
	IdempotencyStatusDone IdempotencyStatus = "done"
	// IdempotencyStatusFailed: сохранён ответ 4xx или 5xx.
	IdempotencyStatusFailed IdempotencyStatus = "failed"
)

// StatusForResponse выбирает итоговый статус записи по HTTP-коду ответа.
func StatusForResponse(httpStatus int) IdempotencyStatus {
	if httpStatus >= 400 {
		return IdempotencyStatusFailed
	}
	return IdempotencyStatusDone
}

func (s IdempotencyStatus) Valid() bool {
	switch s {
	case IdempotencyStatusProcessing, IdempotencyStatusDone, IdempotencyStatusFailed:
		return true
	}
	return false
}

// IdempotencyRecord: занятый ключ и, после завершения, ответ для повтора.
type IdempotencyRecord struct {
	Key          string
	RequestHash  string
	Status       IdempotencyStatus
	HTTPStatus   int
	ResponseBody []byte
	TTLAt        time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Completed: обработка закончилась, успешно или с ошибкой.
func (r IdempotencyRecord) Completed() bool {
	return r.Status == IdempotencyStatusDone || r.Status == IdempotencyStatusFailed
}

// Replayable: запись завершена и содержит ответ, который можно отдать повторно.
func (r IdempotencyRecord) Replayable() bool {
	return r.Completed() && r.HTTPStatus != 0 && len(r.ResponseBody) > 0
}

// Expired: TTL задан и наступил. Запись без TTL не истекает.
func (r IdempotencyRecord) Expired(now time.Time) bool {
	if r.TTLAt.IsZero() {
		return false
	}
	return !now.Before(r.TTLAt)
}
