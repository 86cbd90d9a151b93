package memory

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/vladislavdragonenkov/shipping/internal/domain"
)

const defaultIdempotencyTTL = 24 * time.Hour

// IdempotencyRepository хранит ключи Idempotency-Key для POST /api/shippings
// в памяти процесса. Подходит для одного инстанса и тестов.
type IdempotencyRepository struct {
	mu      sync.RWMutex
	records map[string]domain.IdempotencyRecord
	now     func() time.Time
}

// NewIdempotencyRepository создаёт пустое хранилище ключей.
func NewIdempotencyRepository() *IdempotencyRepository {
	return &IdempotencyRepository{
		records: make(map[string]domain.IdempotencyRecord),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CreateProcessing занимает ключ. Занятый ключ возвращается вместе с ошибкой,
// чтобы HTTP-слой мог воспроизвести сохранённый ответ.
func (r *IdempotencyRepository) CreateProcessing(key, requestHash string, ttlAt time.Time) (domain.IdempotencyRecord, error) {
	key, err := normalizeKey(key)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}
	requestHash = strings.TrimSpace(requestHash)
	if requestHash == "" {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyRequestHashRequired
	}

	now := r.now()
	if ttlAt.IsZero() {
		ttlAt = now.Add(defaultIdempotencyTTL)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// Просроченную запись, которую ещё не убрал cleanup worker, перезаписываем.
	if held, ok := r.records[key]; ok && !held.Expired(now) {
		if held.RequestHash != requestHash {
			return copyRecord(held), domain.ErrIdempotencyHashMismatch
		}
		return copyRecord(held), domain.ErrIdempotencyKeyAlreadyExists
	}

	record := domain.IdempotencyRecord{
		Key:         key,
		RequestHash: requestHash,
		Status:      domain.IdempotencyStatusProcessing,
		TTLAt:       ttlAt.UTC(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	r.records[key] = record
	return copyRecord(record), nil
}

// Get возвращает живую запись по ключу.
func (r *IdempotencyRepository) Get(key string) (domain.IdempotencyRecord, error) {
	key, err := normalizeKey(key)
	if err != nil {
		return domain.IdempotencyRecord{}, err
	}

	r.mu.RLock()
	record, ok := r.records[key]
	r.mu.RUnlock()

	if !ok || record.Expired(r.now()) {
		return domain.IdempotencyRecord{}, domain.ErrIdempotencyKeyNotFound
	}
	return copyRecord(record), nil
}

// MarkDone сохраняет успешный ответ.
func (r *IdempotencyRepository) MarkDone(key string, responseBody []byte, httpStatus int) error {
	return r.complete(key, domain.IdempotencyStatusDone, responseBody, httpStatus)
}

// MarkFailed сохраняет ответ с ошибкой (4xx и 5xx).
func (r *IdempotencyRepository) MarkFailed(key string, responseBody []byte, httpStatus int) error {
	return r.complete(key, domain.IdempotencyStatusFailed, responseBody, httpStatus)
}

// Release удаляет запись в статусе processing. Завершённые записи не трогает.
func (r *IdempotencyRepository) Release(key string) error {
	key, err := normalizeKey(key)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[key]
	if !ok || record.Status != domain.IdempotencyStatusProcessing {
		return domain.ErrIdempotencyKeyNotFound
	}
	delete(r.records, key)
	return nil
}

// DeleteExpired удаляет до limit записей, просроченных к моменту before,
// начиная с самых старых. limit<=0 снимает ограничение.
func (r *IdempotencyRepository) DeleteExpired(before time.Time, limit int) (int, error) {
	if before.IsZero() {
		before = r.now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	expired := make([]domain.IdempotencyRecord, 0)
	for _, record := range r.records {
		if record.Expired(before) {
			expired = append(expired, record)
		}
	}
	slices.SortFunc(expired, func(a, b domain.IdempotencyRecord) int {
		return a.TTLAt.Compare(b.TTLAt)
	})
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}

	for _, record := range expired {
		delete(r.records, record.Key)
	}
	return len(expired), nil
}

func (r *IdempotencyRepository) complete(key string, status domain.IdempotencyStatus, responseBody []byte, httpStatus int) error {
	key, err := normalizeKey(key)
	if err != nil {
		return err
	}
	if httpStatus < 100 || httpStatus > 599 {
		return fmt.Errorf("store idempotent response for %q: invalid http status %d", key, httpStatus)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	record, ok := r.records[key]
	if !ok || record.Expired(r.now()) {
		return domain.ErrIdempotencyKeyNotFound
	}

	record.Status = status
	record.ResponseBody = slices.Clone(responseBody)
	record.HTTPStatus = httpStatus
	record.UpdatedAt = r.now()
	r.records[key] = record
	return nil
}

func normalizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", domain.ErrIdempotencyKeyRequired
	}
	return key, nil
}

func copyRecord(record domain.IdempotencyRecord) domain.IdempotencyRecord {
	record.ResponseBody = slices.Clone(record.ResponseBody)
	return record
}

var _ domain.IdempotencyRepository = (*IdempotencyRepository)(nil)
